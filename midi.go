// midi.go — EventStream → Standard MIDI File (format 1, 480 PPQ).
//
// The file carries one conductor track (tempo map) plus one track per
// distinct synth reference, in first-appearance order. NoteOn/NoteOff ticks
// are round(beats * 480); velocities map the stream's [0,1] gain onto
// 1..127.
package devalang

import (
	"encoding/binary"
	"io"
	"math"
	"sort"
)

// TicksPerQuarter is the SMF division used by the writer.
const TicksPerQuarter = 480

// WriteMIDI renders the stream's note events as an SMF.
func WriteMIDI(w io.Writer, es *EventStream, opts RenderOptions) error {
	opts = opts.withDefaults()

	// Group note events per synth reference, preserving first-appearance
	// order so track layout is deterministic.
	type trackNotes struct {
		name   string
		events []Event
	}
	var tracks []*trackNotes
	index := map[string]*trackNotes{}
	for _, ev := range es.Events {
		n, ok := ev.Payload.(NoteOn)
		if !ok {
			continue
		}
		t, exists := index[n.SynthRef]
		if !exists {
			t = &trackNotes{name: n.SynthRef}
			index[n.SynthRef] = t
			tracks = append(tracks, t)
		}
		t.events = append(t.events, ev)
	}

	// Header: format 1, conductor + note tracks.
	nTracks := 1 + len(tracks)
	header := make([]byte, 14)
	copy(header[0:], "MThd")
	binary.BigEndian.PutUint32(header[4:], 6)
	binary.BigEndian.PutUint16(header[8:], 1)
	binary.BigEndian.PutUint16(header[10:], uint16(nTracks))
	binary.BigEndian.PutUint16(header[12:], TicksPerQuarter)
	if _, err := w.Write(header); err != nil {
		return err
	}

	if err := writeTrack(w, conductorTrack(es)); err != nil {
		return err
	}
	for ch, t := range tracks {
		channel := ch % 16
		if err := writeTrack(w, noteTrack(t.events, channel)); err != nil {
			return err
		}
	}
	return nil
}

// midiEvent is one timed track message before delta encoding.
type midiEvent struct {
	tick int
	seq  int
	data []byte
}

// conductorTrack emits the tempo map as Set Tempo metas.
func conductorTrack(es *EventStream) []midiEvent {
	var out []midiEvent
	lastBPM := 0.0
	for i, tc := range es.Tempo {
		if tc.BPM == lastBPM {
			continue
		}
		lastBPM = tc.BPM
		usPerQuarter := int(math.Round(60e6 / tc.BPM))
		out = append(out, midiEvent{
			tick: beatTicks(tc.Beat),
			seq:  i,
			data: []byte{
				0xFF, 0x51, 0x03,
				byte(usPerQuarter >> 16), byte(usPerQuarter >> 8), byte(usPerQuarter),
			},
		})
	}
	return out
}

// noteTrack emits NoteOn/NoteOff pairs for one synth reference.
func noteTrack(events []Event, channel int) []midiEvent {
	var out []midiEvent
	seq := 0
	for _, ev := range events {
		n := ev.Payload.(NoteOn)
		vel := midiVelocity(n.Velocity)
		on := beatTicks(ev.Start)
		off := beatTicks(ev.Start + ev.Dur)
		if off <= on {
			off = on + 1
		}
		out = append(out, midiEvent{
			tick: on, seq: seq,
			data: []byte{byte(0x90 | channel), byte(n.MidiNote), byte(vel)},
		})
		seq++
		out = append(out, midiEvent{
			tick: off, seq: seq,
			data: []byte{byte(0x80 | channel), byte(n.MidiNote), 0},
		})
		seq++
	}
	return out
}

func beatTicks(beats float64) int {
	return int(math.Round(beats * TicksPerQuarter))
}

// midiVelocity maps linear gain [0,1] onto MIDI 1..127 (0 is reserved for
// silence-as-NoteOff semantics).
func midiVelocity(v float64) int {
	n := int(math.Round(clampFloat(v, 0, 1) * 127))
	if n < 1 {
		n = 1
	}
	if n > 127 {
		n = 127
	}
	return n
}

// writeTrack sorts, delta-encodes, and frames one MTrk chunk, closing it
// with End-of-Track.
func writeTrack(w io.Writer, events []midiEvent) error {
	sort.SliceStable(events, func(i, j int) bool {
		if events[i].tick != events[j].tick {
			return events[i].tick < events[j].tick
		}
		return events[i].seq < events[j].seq
	})

	var body []byte
	lastTick := 0
	for _, ev := range events {
		delta := ev.tick - lastTick
		if delta < 0 {
			delta = 0
		}
		lastTick = ev.tick
		body = append(body, encodeVLQ(delta)...)
		body = append(body, ev.data...)
	}
	// End of Track.
	body = append(body, encodeVLQ(0)...)
	body = append(body, 0xFF, 0x2F, 0x00)

	head := make([]byte, 8)
	copy(head[0:], "MTrk")
	binary.BigEndian.PutUint32(head[4:], uint32(len(body)))
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err := w.Write(body)
	return err
}

// encodeVLQ encodes a MIDI variable-length quantity.
func encodeVLQ(v int) []byte {
	if v == 0 {
		return []byte{0}
	}
	var stack []byte
	for v > 0 {
		stack = append(stack, byte(v&0x7F))
		v >>= 7
	}
	out := make([]byte, 0, len(stack))
	for i := len(stack) - 1; i >= 0; i-- {
		b := stack[i]
		if i > 0 {
			b |= 0x80
		}
		out = append(out, b)
	}
	return out
}
