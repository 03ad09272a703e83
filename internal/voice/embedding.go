package voice

import "fmt"

// Embedding is a speaker conditioning tensor: f32 data in row-major
// [1, NumFrames, EmbDim] order, produced either by the voice encoder or
// parsed from a voices.bin table.
type Embedding struct {
	Data      []float32
	NumFrames int
	EmbDim    int
}

// NewEmbedding validates the invariants spec §3 requires before handing
// back an Embedding: at least one frame, a positive embedding width, and
// a data length matching NumFrames*EmbDim.
func NewEmbedding(data []float32, numFrames, embDim int) (*Embedding, error) {
	if numFrames < 1 {
		return nil, fmt.Errorf("voice embedding: num_frames must be >= 1, got %d", numFrames)
	}
	if embDim < 1 {
		return nil, fmt.Errorf("voice embedding: emb_dim must be > 0, got %d", embDim)
	}
	if len(data) != numFrames*embDim {
		return nil, fmt.Errorf("voice embedding: data length %d does not match num_frames*emb_dim=%d", len(data), numFrames*embDim)
	}

	return &Embedding{Data: data, NumFrames: numFrames, EmbDim: embDim}, nil
}

// Shape returns the tensor dims [1, NumFrames, EmbDim] the backbone's
// text-conditioner input expects.
func (e *Embedding) Shape() []int64 {
	return []int64{1, int64(e.NumFrames), int64(e.EmbDim)}
}
