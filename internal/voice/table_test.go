package voice

import (
	"encoding/binary"
	"math"
	"testing"
)

func appendName(buf []byte, name string) []byte {
	field := make([]byte, nameFieldBytes)
	copy(field, name)
	return append(buf, field...)
}

func appendU32(buf []byte, v uint32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, v)
	return append(buf, b...)
}

func appendF32(buf []byte, v float32) []byte {
	b := make([]byte, 4)
	binary.LittleEndian.PutUint32(b, math.Float32bits(v))
	return append(buf, b...)
}

func buildVoicesBin(records map[string][]float32, embDim int) []byte {
	names := make([]string, 0, len(records))
	for name := range records {
		names = append(names, name)
	}

	buf := appendU32(nil, uint32(len(names)))
	for _, name := range names {
		values := records[name]
		numFrames := len(values) / embDim
		buf = appendName(buf, name)
		buf = appendU32(buf, uint32(numFrames))
		buf = appendU32(buf, uint32(embDim))
		for _, v := range values {
			buf = appendF32(buf, v)
		}
	}
	return buf
}

func TestParseTable_RoundTrip(t *testing.T) {
	data := buildVoicesBin(map[string][]float32{
		"cosette": {0.1, 0.2, 0.3, 0.4},
	}, 2)

	table, err := ParseTable(data)
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}

	emb, ok := table.Lookup("cosette")
	if !ok {
		t.Fatal("expected to find voice \"cosette\"")
	}
	if emb.NumFrames != 2 || emb.EmbDim != 2 {
		t.Errorf("got NumFrames=%d EmbDim=%d, want 2,2", emb.NumFrames, emb.EmbDim)
	}
	if len(emb.Data) != 4 {
		t.Errorf("got %d data values, want 4", len(emb.Data))
	}
}

func TestParseTable_TruncatedHeader(t *testing.T) {
	if _, err := ParseTable([]byte{1, 0, 0, 0}); err == nil {
		t.Fatal("expected error for truncated record header")
	}
}

func TestParseTable_EmptyTable(t *testing.T) {
	data := appendU32(nil, 0)
	table, err := ParseTable(data)
	if err != nil {
		t.Fatalf("ParseTable: %v", err)
	}
	if len(table.Names()) != 0 {
		t.Errorf("expected no names, got %v", table.Names())
	}
	if _, _, ok := table.First(); ok {
		t.Error("expected First() to report no entries")
	}
}

func TestParseTable_DuplicateNameRejected(t *testing.T) {
	buf := appendU32(nil, 2)
	buf = appendName(buf, "a")
	buf = appendU32(buf, 1)
	buf = appendU32(buf, 1)
	buf = appendF32(buf, 1.0)
	buf = appendName(buf, "a")
	buf = appendU32(buf, 1)
	buf = appendU32(buf, 1)
	buf = appendF32(buf, 2.0)

	if _, err := ParseTable(buf); err == nil {
		t.Fatal("expected error for duplicate voice id")
	}
}
