// wav.go — RIFF/WAVE encoding (16/24/32-bit) and the PCM decoder backing
// FSProvider.
//
// 16-bit writes int16 clipped at ±32767, 24-bit writes packed little-endian
// ints, 32-bit writes IEEE float32 (format code 3). The decoder accepts
// 8/16/24/32-bit int and 32-bit float sources.
package devalang

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// WriteWAV streams an interleaved float32 buffer as a RIFF/WAVE file with
// the bit depth requested in opts.
func WriteWAV(w io.Writer, pcm []float32, opts RenderOptions) error {
	opts = opts.withDefaults()
	bytesPerSample := opts.BitDepth / 8
	dataSize := len(pcm) * bytesPerSample
	byteRate := opts.SampleRate * opts.Channels * bytesPerSample
	blockAlign := opts.Channels * bytesPerSample

	format := uint16(1) // PCM int
	if opts.BitDepth == 32 {
		format = 3 // IEEE float
	}

	header := make([]byte, 44)
	copy(header[0:], "RIFF")
	binary.LittleEndian.PutUint32(header[4:], uint32(36+dataSize))
	copy(header[8:], "WAVE")
	copy(header[12:], "fmt ")
	binary.LittleEndian.PutUint32(header[16:], 16)
	binary.LittleEndian.PutUint16(header[20:], format)
	binary.LittleEndian.PutUint16(header[22:], uint16(opts.Channels))
	binary.LittleEndian.PutUint32(header[24:], uint32(opts.SampleRate))
	binary.LittleEndian.PutUint32(header[28:], uint32(byteRate))
	binary.LittleEndian.PutUint16(header[32:], uint16(blockAlign))
	binary.LittleEndian.PutUint16(header[34:], uint16(opts.BitDepth))
	copy(header[36:], "data")
	binary.LittleEndian.PutUint32(header[40:], uint32(dataSize))
	if _, err := w.Write(header); err != nil {
		return err
	}

	buf := make([]byte, 0, len(pcm)*bytesPerSample)
	for _, s := range pcm {
		switch opts.BitDepth {
		case 16:
			v := int16(clampFloat(float64(s), -1, 1) * 32767)
			buf = append(buf, byte(v), byte(uint16(v)>>8))
		case 24:
			v := int32(clampFloat(float64(s), -1, 1) * 8388607)
			buf = append(buf, byte(v), byte(uint32(v)>>8), byte(uint32(v)>>16))
		case 32:
			bits := math.Float32bits(s)
			buf = append(buf, byte(bits), byte(bits>>8), byte(bits>>16), byte(bits>>24))
		}
	}
	_, err := w.Write(buf)
	return err
}

// DecodeWAV parses a RIFF/WAVE byte slice into float32 PCM. Chunks other
// than fmt/data are skipped.
func DecodeWAV(raw []byte) (SampleData, error) {
	if len(raw) < 12 || string(raw[0:4]) != "RIFF" || string(raw[8:12]) != "WAVE" {
		return SampleData{}, fmt.Errorf("not a RIFF/WAVE file")
	}
	var (
		format     uint16
		channels   int
		sampleRate int
		bitDepth   int
		data       []byte
	)
	pos := 12
	for pos+8 <= len(raw) {
		id := string(raw[pos : pos+4])
		size := int(binary.LittleEndian.Uint32(raw[pos+4 : pos+8]))
		body := pos + 8
		if body+size > len(raw) {
			size = len(raw) - body
		}
		switch id {
		case "fmt ":
			if size < 16 {
				return SampleData{}, fmt.Errorf("truncated fmt chunk")
			}
			format = binary.LittleEndian.Uint16(raw[body:])
			channels = int(binary.LittleEndian.Uint16(raw[body+2:]))
			sampleRate = int(binary.LittleEndian.Uint32(raw[body+4:]))
			bitDepth = int(binary.LittleEndian.Uint16(raw[body+14:]))
		case "data":
			data = raw[body : body+size]
		}
		pos = body + size
		if size%2 == 1 {
			pos++ // chunks are word-aligned
		}
	}
	if channels == 0 || sampleRate == 0 || data == nil {
		return SampleData{}, fmt.Errorf("missing fmt or data chunk")
	}

	var pcm []float32
	switch {
	case format == 3 && bitDepth == 32:
		n := len(data) / 4
		pcm = make([]float32, n)
		for i := 0; i < n; i++ {
			pcm[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
		}
	case format == 1 && bitDepth == 16:
		n := len(data) / 2
		pcm = make([]float32, n)
		for i := 0; i < n; i++ {
			v := int16(binary.LittleEndian.Uint16(data[i*2:]))
			pcm[i] = float32(v) / 32768
		}
	case format == 1 && bitDepth == 24:
		n := len(data) / 3
		pcm = make([]float32, n)
		for i := 0; i < n; i++ {
			b := data[i*3 : i*3+3]
			v := int32(b[0]) | int32(b[1])<<8 | int32(b[2])<<16
			if v&0x800000 != 0 {
				v |= ^0xFFFFFF // sign-extend
			}
			pcm[i] = float32(v) / 8388608
		}
	case format == 1 && bitDepth == 32:
		n := len(data) / 4
		pcm = make([]float32, n)
		for i := 0; i < n; i++ {
			v := int32(binary.LittleEndian.Uint32(data[i*4:]))
			pcm[i] = float32(v) / 2147483648
		}
	case format == 1 && bitDepth == 8:
		pcm = make([]float32, len(data))
		for i, b := range data {
			pcm[i] = (float32(b) - 128) / 128
		}
	default:
		return SampleData{}, fmt.Errorf("unsupported WAV encoding (format %d, %d-bit)", format, bitDepth)
	}
	return SampleData{SampleRate: sampleRate, Channels: channels, PCM: pcm}, nil
}
