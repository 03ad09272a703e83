package audio

import "testing"

func TestDecodeWAVMono_SixteenBitStereo(t *testing.T) {
	raw := makeWAV(16000, 2, 16, 4) // 4 interleaved stereo samples, all zero
	samples, rate, err := DecodeWAVMono(raw)
	if err != nil {
		t.Fatalf("DecodeWAVMono: %v", err)
	}
	if rate != 16000 {
		t.Errorf("rate = %d, want 16000", rate)
	}
	if len(samples) != 2 {
		t.Errorf("len(samples) = %d, want 2 (left channel only, 4 stereo samples)", len(samples))
	}
}

func TestDecodeWAVMono_EightBitMono(t *testing.T) {
	raw := makeRawPCMWAV(8000, 1, 8, []byte{128, 255, 0, 64})
	samples, rate, err := DecodeWAVMono(raw)
	if err != nil {
		t.Fatalf("DecodeWAVMono: %v", err)
	}
	if rate != 8000 {
		t.Errorf("rate = %d, want 8000", rate)
	}
	want := []float32{0, 127.0 / 128.0, -1, -64.0 / 128.0}
	if len(samples) != len(want) {
		t.Fatalf("len(samples) = %d, want %d", len(samples), len(want))
	}
	for i := range want {
		if diff := samples[i] - want[i]; diff > 1e-6 || diff < -1e-6 {
			t.Errorf("samples[%d] = %v, want %v", i, samples[i], want[i])
		}
	}
}

func TestDecodeWAVMono_EmptyInput(t *testing.T) {
	if _, _, err := DecodeWAVMono(nil); err == nil {
		t.Fatal("expected error for empty input")
	}
}

func TestDecodeWAVMono_InvalidInput(t *testing.T) {
	if _, _, err := DecodeWAVMono([]byte("garbage")); err == nil {
		t.Fatal("expected error for invalid WAV")
	}
}

// makeRawPCMWAV builds a minimal WAV file around arbitrary raw PCM bytes,
// bypassing the 16-bit-only makeWAV helper for the bit depths DecodeWAVMono
// reads by hand (8/32-bit).
func makeRawPCMWAV(sampleRate uint32, numChannels, bitDepth uint16, data []byte) []byte {
	blockAlign := numChannels * bitDepth / 8
	byteRate := sampleRate * uint32(blockAlign)
	dataSize := uint32(len(data))
	riffSize := 4 + (8 + 16) + (8 + dataSize)

	buf := make([]byte, 0, 44+len(data))
	buf = append(buf, []byte("RIFF")...)
	buf = appendU32(buf, riffSize)
	buf = append(buf, []byte("WAVE")...)
	buf = append(buf, []byte("fmt ")...)
	buf = appendU32(buf, 16)
	buf = appendU16(buf, 1)
	buf = appendU16(buf, numChannels)
	buf = appendU32(buf, sampleRate)
	buf = appendU32(buf, byteRate)
	buf = appendU16(buf, blockAlign)
	buf = appendU16(buf, bitDepth)
	buf = append(buf, []byte("data")...)
	buf = appendU32(buf, dataSize)
	buf = append(buf, data...)

	return buf
}

func appendU32(buf []byte, v uint32) []byte {
	return append(buf, byte(v), byte(v>>8), byte(v>>16), byte(v>>24))
}

func appendU16(buf []byte, v uint16) []byte {
	return append(buf, byte(v), byte(v>>8))
}
