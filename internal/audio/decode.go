package audio

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"github.com/cwbudde/wav"
)

// Output format the synthesis pipeline always produces: the mimi_decoder
// graph emits 24 kHz mono f32 PCM, encoded to 16-bit for WAV output.
const (
	ExpectedSampleRate = 24000
	ExpectedChannels   = 1
	ExpectedBitDepth   = 16
)

// ErrFormatMismatch is returned when a decoded WAV carries a bit depth
// DecodeWAVMono does not know how to convert.
var ErrFormatMismatch = errors.New("WAV format mismatch")

// DecodeWAV decodes WAV bytes produced by this engine's own pipeline and
// validates that the format is exactly 24000 Hz, mono, 16-bit PCM — the
// fixed format the mimi_decoder graph always emits.
func DecodeWAV(data []byte) ([]float32, error) {
	if len(data) == 0 {
		return nil, errors.New("empty WAV input")
	}

	r := bytes.NewReader(data)
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, errors.New("invalid WAV file")
	}

	if dec.SampleRate != ExpectedSampleRate {
		return nil, fmt.Errorf("%w: sample rate %d, want %d", ErrFormatMismatch, dec.SampleRate, ExpectedSampleRate)
	}
	if dec.NumChans != ExpectedChannels {
		return nil, fmt.Errorf("%w: channels %d, want %d", ErrFormatMismatch, dec.NumChans, ExpectedChannels)
	}
	if dec.BitDepth != ExpectedBitDepth {
		return nil, fmt.Errorf("%w: bit depth %d, want %d", ErrFormatMismatch, dec.BitDepth, ExpectedBitDepth)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("reading PCM data: %w", err)
	}

	return buf.Data, nil
}

// DecodeWAVMono decodes WAV bytes into a plain f32 sequence in [-1, 1),
// taking channel 0 only when the file has more than one channel. Accepts
// any channel count and 8/16/32-bit PCM, generalizing the teacher's
// DecodeWAV (which hard-validated 24 kHz/mono/16-bit) per this engine's
// wider contract: reference-audio voices may arrive at any rate or depth.
func DecodeWAVMono(data []byte) (samples []float32, sampleRate int, err error) {
	if len(data) == 0 {
		return nil, 0, errors.New("empty WAV input")
	}

	r := bytes.NewReader(data)
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, 0, errors.New("invalid WAV file")
	}

	switch dec.BitDepth {
	case 16:
		buf, err := dec.FullPCMBuffer()
		if err != nil {
			return nil, 0, fmt.Errorf("reading PCM data: %w", err)
		}
		return monoize(buf.Data, int(dec.NumChans)), int(dec.SampleRate), nil

	case 8, 32:
		return decodeRawPCMMono(data, int(dec.NumChans), int(dec.SampleRate), int(dec.BitDepth))

	default:
		return nil, 0, fmt.Errorf("%w: bit depth %d is unsupported", ErrFormatMismatch, dec.BitDepth)
	}
}

// monoize takes channel 0 out of an interleaved f32 PCM buffer, leaving
// already-mono buffers untouched.
func monoize(data []float32, channels int) []float32 {
	if channels < 2 {
		return data
	}
	n := len(data) / channels
	out := make([]float32, n)
	for i := 0; i < n; i++ {
		out[i] = data[i*channels]
	}
	return out
}

// decodeRawPCMMono parses the fmt/data chunks directly for bit depths the
// wav decoder doesn't expose a raw accessor for (8-bit unsigned PCM,
// 32-bit float), following the WAV/RIFF chunk-walking already present in
// this package's hand-rolled encoder.
func decodeRawPCMMono(data []byte, channels, sampleRate, bitDepth int) ([]float32, int, error) {
	if len(data) < 12 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, 0, errors.New("invalid RIFF/WAVE header")
	}
	if channels < 1 {
		channels = 1
	}

	offset := 12
	var payload []byte
	for offset+8 <= len(data) {
		chunkID := string(data[offset : offset+4])
		chunkSize := binary.LittleEndian.Uint32(data[offset+4 : offset+8])
		body := offset + 8

		if chunkID == "data" {
			end := body + int(chunkSize)
			if end > len(data) {
				end = len(data)
			}
			payload = data[body:end]
			break
		}

		offset = body + int(chunkSize)
		if chunkSize%2 == 1 {
			offset++ // chunks are word-aligned
		}
	}
	if payload == nil {
		return nil, 0, errors.New("missing data chunk")
	}

	bytesPerSample := bitDepth / 8
	frameBytes := bytesPerSample * channels
	if frameBytes == 0 {
		return nil, 0, fmt.Errorf("invalid frame size for channels=%d bitDepth=%d", channels, bitDepth)
	}
	frames := len(payload) / frameBytes

	out := make([]float32, frames)
	for i := 0; i < frames; i++ {
		frameStart := i * frameBytes
		switch bitDepth {
		case 8:
			b := payload[frameStart]
			out[i] = (float32(b) - 128) / 128.0
		case 32:
			bits := binary.LittleEndian.Uint32(payload[frameStart : frameStart+4])
			out[i] = math.Float32frombits(bits)
		}
	}

	return out, sampleRate, nil
}
