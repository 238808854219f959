package devalang

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolver_ImportGraph(t *testing.T) {
	fsys := fstest.MapFS{
		"index.deva": &fstest.MapFile{Data: []byte(
			"@import { beat } from \"./lib/drums.deva\"\nbpm 120\nbank x.y as k\ncall beat\n")},
		"lib/drums.deva": &fstest.MapFile{Data: []byte(
			"@export { beat }\ngroup beat:\n  sleep 1/4\n")},
	}
	prog, err := ResolveModule("index.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.True(t, prog.OK(), "diags: %v", prog.Diags)
	require.Len(t, prog.Order, 2)
	assert.Equal(t, "lib/drums.deva", prog.Order[0].Path, "dependencies resolve first")
	assert.Equal(t, prog.Entry, prog.Order[1])

	es, err := Schedule(prog, RenderOptions{})
	require.NoError(t, err)
	assert.InDelta(t, 0.25, es.TotalBeats(), 1e-9)
}

func TestResolver_ImportCycleFails(t *testing.T) {
	fsys := fstest.MapFS{
		"a.deva": &fstest.MapFile{Data: []byte("@import { x } from \"./b.deva\"\n@export { x }\nlet x = 1\n")},
		"b.deva": &fstest.MapFile{Data: []byte("@import { y } from \"./a.deva\"\n@export { y }\nlet y = 1\n")},
	}
	prog, err := ResolveModule("a.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.False(t, prog.OK())
	found := false
	for _, d := range prog.Diags {
		if containsStr(d.Message, "import cycle") {
			found = true
			assert.Contains(t, d.Message, "a.deva")
			assert.Contains(t, d.Message, "b.deva")
		}
	}
	assert.True(t, found, "expected a cycle diagnostic, got %v", prog.Diags)
}

func TestResolver_UnexportedSymbolFails(t *testing.T) {
	fsys := fstest.MapFS{
		"main.deva": &fstest.MapFile{Data: []byte("@import { secret } from \"./lib.deva\"\n")},
		"lib.deva":  &fstest.MapFile{Data: []byte("@export { public }\nlet public = 1\nlet secret = 2\n")},
	}
	prog, err := ResolveModule("main.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.False(t, prog.OK())
	assert.Contains(t, prog.Diags[0].Message, "does not export")
}

func TestResolver_MissingModuleFails(t *testing.T) {
	fsys := fstest.MapFS{
		"main.deva": &fstest.MapFile{Data: []byte("@import { x } from \"./ghost.deva\"\n")},
	}
	prog, err := ResolveModule("main.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.False(t, prog.OK())
	assert.Contains(t, prog.Diags[0].Message, "module not found")
}

func TestResolver_ExportedButUndefinedIsDiagnosed(t *testing.T) {
	prog, err := ResolveSource("@export { ghost }\n", ResolveOptions{})
	require.NoError(t, err)
	require.False(t, prog.OK())
	assert.Contains(t, prog.Diags[0].Message, "not defined")
}

func TestResolver_BankRegistration(t *testing.T) {
	reg := NewBankRegistry()
	reg.Register("devaloop.808", map[string]string{
		"kick": "devalang://bank/devaloop.808/samples/kick_01.wav",
	})
	prog, err := ResolveSource("bank devaloop.808 as drums\n", ResolveOptions{Registry: reg})
	require.NoError(t, err)
	require.True(t, prog.OK())
	bank := prog.Banks["drums"]
	require.NotNil(t, bank)
	assert.Equal(t, "devaloop.808", bank.Fullname)
	// Registered triggers resolve to their registered URI; unknown triggers
	// derive the conventional bank URI.
	assert.Equal(t, "devalang://bank/devaloop.808/samples/kick_01.wav", bank.TriggerURI("kick"))
	assert.Equal(t, "devalang://bank/devaloop.808/snare.wav", bank.TriggerURI("snare"))
}

func TestResolver_BankWithoutAliasUsesLastPart(t *testing.T) {
	prog, err := ResolveSource("bank devaloop.acid\n", ResolveOptions{})
	require.NoError(t, err)
	require.NotNil(t, prog.Banks["acid"])
}

func TestResolver_PluginUse(t *testing.T) {
	plugins := NewPluginRegistry()
	plugins.Register("devaloop.supersaw", map[string]Value{
		"detune": NumVal(0.2),
	})
	prog, err := ResolveSource("@use devaloop.supersaw as ss\n", ResolveOptions{PluginRegistry: plugins})
	require.NoError(t, err)
	require.True(t, prog.OK())
	require.Contains(t, prog.Plugins, "ss")

	// The plugin surface is visible in scope during scheduling.
	prog2, err := ResolveSource("@use devaloop.supersaw as ss\nprint ss.detune\n", ResolveOptions{PluginRegistry: plugins})
	require.NoError(t, err)
	es, err := Schedule(prog2, RenderOptions{})
	require.NoError(t, err)
	require.Len(t, es.Events, 1)
	assert.Equal(t, "0.2", es.Events[0].Payload.(Marker).Label)
}

func TestResolver_UnknownPluginFails(t *testing.T) {
	prog, err := ResolveSource("@use nobody.nothing\n", ResolveOptions{PluginRegistry: NewPluginRegistry()})
	require.NoError(t, err)
	require.False(t, prog.OK())
	assert.Contains(t, prog.Diags[0].Message, "not installed")
}

func TestResolver_LoadBindsFileURI(t *testing.T) {
	fsys := fstest.MapFS{
		"songs/main.deva": &fstest.MapFile{Data: []byte("@load \"./loops/amen.wav\" as amen\n")},
	}
	prog, err := ResolveModule("songs/main.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.True(t, prog.OK())
	assert.Equal(t, "file://songs/loops/amen.wav", prog.Samples["amen"])
}

func TestResolver_ParseErrorsCarryFile(t *testing.T) {
	fsys := fstest.MapFS{
		"bad.deva": &fstest.MapFile{Data: []byte("let = 1\n")},
	}
	prog, err := ResolveModule("bad.deva", fsys, ResolveOptions{})
	require.NoError(t, err)
	require.False(t, prog.OK())
	assert.Equal(t, "bad.deva", prog.Diags[0].File)
}
