package voice

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"
)

const nameFieldBytes = 32

// Table is the in-memory form of a parsed voices.bin: an ordered set of
// named speaker embeddings, keyed by voice id.
type Table struct {
	order []string
	byID  map[string]*Embedding
}

// LoadTable parses a voices.bin file at path per the layout spec §3
// defines: LE u32 record count, then per record a 32-byte NUL-padded
// ASCII name, LE u32 num_frames, LE u32 emb_dim, and num_frames*emb_dim
// LE f32 values.
func LoadTable(path string) (*Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read voices table: %w", err)
	}
	return ParseTable(data)
}

// ParseTable decodes an in-memory voices.bin buffer.
func ParseTable(data []byte) (*Table, error) {
	if len(data) < 4 {
		return nil, fmt.Errorf("voices table: too short for record count")
	}

	count := binary.LittleEndian.Uint32(data[0:4])
	offset := 4

	t := &Table{
		order: make([]string, 0, count),
		byID:  make(map[string]*Embedding, count),
	}

	for i := uint32(0); i < count; i++ {
		if offset+nameFieldBytes+8 > len(data) {
			return nil, fmt.Errorf("voices table: truncated record header at index %d", i)
		}

		nameBytes := data[offset : offset+nameFieldBytes]
		name := strings.TrimRight(string(nameBytes), "\x00")
		offset += nameFieldBytes

		numFrames := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4
		embDim := int(binary.LittleEndian.Uint32(data[offset : offset+4]))
		offset += 4

		payloadFloats := numFrames * embDim
		payloadBytes := payloadFloats * 4
		if offset+payloadBytes > len(data) {
			return nil, fmt.Errorf("voices table: truncated payload for voice %q", name)
		}

		values := make([]float32, payloadFloats)
		for j := 0; j < payloadFloats; j++ {
			bits := binary.LittleEndian.Uint32(data[offset+j*4 : offset+j*4+4])
			values[j] = math.Float32frombits(bits)
		}
		offset += payloadBytes

		emb, err := NewEmbedding(values, numFrames, embDim)
		if err != nil {
			return nil, fmt.Errorf("voices table: voice %q: %w", name, err)
		}

		if name == "" {
			return nil, fmt.Errorf("voices table: record %d has empty name", i)
		}
		if _, exists := t.byID[name]; exists {
			return nil, fmt.Errorf("voices table: duplicate voice id %q", name)
		}

		t.byID[name] = emb
		t.order = append(t.order, name)
	}

	return t, nil
}

// Lookup returns the embedding for voiceID, if present.
func (t *Table) Lookup(voiceID string) (*Embedding, bool) {
	if t == nil {
		return nil, false
	}
	e, ok := t.byID[voiceID]
	return e, ok
}

// Names returns voice ids in table order.
func (t *Table) Names() []string {
	if t == nil {
		return nil
	}
	return append([]string(nil), t.order...)
}

// First returns the table's first entry, if any, for use as a default
// voice when no configured default is present.
func (t *Table) First() (string, *Embedding, bool) {
	if t == nil || len(t.order) == 0 {
		return "", nil, false
	}
	id := t.order[0]
	return id, t.byID[id], true
}
