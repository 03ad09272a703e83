package voice

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/example/pockettts-engine/internal/audio"
	"github.com/example/pockettts-engine/internal/onnx"
)

// referenceExtensions lists the reference-audio extensions scanned in
// voice_dirs, in the preference order spec §4.4 requires (.wav first).
var referenceExtensions = []string{".wav", ".mp3", ".ogg", ".flac", ".m4a"}

// DefaultCacheSize is the LRU's default bounded entry count.
const DefaultCacheSize = 16

// Encoder runs the voice_encoder graph, satisfied by *onnx.Host's handle
// for GraphVoiceEncoder.
type Encoder interface {
	Run(ctx context.Context, inputs map[string]*onnx.Tensor) (map[string]*onnx.Tensor, error)
	OutputNames() []string
}

// Resolver implements the Voice Embedding Cache (C4): get_embedding
// resolution order backed by a voices.bin table, a directory scan for
// reference audio, and an LRU of already-encoded embeddings.
type Resolver struct {
	table        *Table
	voiceDirs    []string
	defaultVoice string
	encoder      Encoder
	cache        *lru.Cache[string, *Embedding]
}

// Option configures a Resolver at construction.
type Option func(*Resolver)

// WithTable attaches a parsed voices.bin table.
func WithTable(t *Table) Option {
	return func(r *Resolver) { r.table = t }
}

// WithDefaultVoice sets the configured fallback voice id (spec §4.4 step
// 3) used when resolution otherwise fails but the table has any entry.
func WithDefaultVoice(name string) Option {
	return func(r *Resolver) { r.defaultVoice = name }
}

// WithCacheSize overrides the LRU's bounded entry count.
func WithCacheSize(n int) Option {
	return func(r *Resolver) {
		if n > 0 {
			c, err := lru.New[string, *Embedding](n)
			if err == nil {
				r.cache = c
			}
		}
	}
}

// NewResolver builds a Resolver scanning voiceDirs in order and running
// encode through encoder when falling back to reference audio.
func NewResolver(voiceDirs []string, encoder Encoder, opts ...Option) *Resolver {
	cache, _ := lru.New[string, *Embedding](DefaultCacheSize)

	r := &Resolver{
		voiceDirs: append([]string(nil), voiceDirs...),
		encoder:   encoder,
		cache:     cache,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// GetEmbedding resolves voiceID per spec §4.4's four-step order: table
// lookup, voice_dirs scan with encode-and-cache, configured/table default,
// then NotFound.
func (r *Resolver) GetEmbedding(ctx context.Context, voiceID string) (*Embedding, error) {
	if emb, ok := r.table.Lookup(voiceID); ok {
		return emb, nil
	}

	if path, ok := r.scanVoiceDirs(voiceID); ok {
		return r.encodeCached(ctx, path)
	}

	if r.defaultVoice != "" {
		if emb, ok := r.table.Lookup(r.defaultVoice); ok {
			return emb, nil
		}
	}
	if id, emb, ok := r.table.First(); ok {
		_ = id
		return emb, nil
	}

	return nil, &Error{Kind: NotFound, VoiceID: voiceID}
}

// TableNames returns every voice id the resolver's table declares, in
// table order, for list_voices.
func (r *Resolver) TableNames() []string {
	if r.table == nil {
		return nil
	}
	return r.table.Names()
}

// ListVoices returns the union of table voice ids and reference-audio
// basenames found by scanning voiceDirs plus extraDirs, per spec's
// list_voices(extra_dirs). Order: table entries first, then directory
// entries in scan order; duplicates are dropped.
func (r *Resolver) ListVoices(extraDirs []string) []string {
	seen := make(map[string]bool)
	var out []string

	for _, name := range r.TableNames() {
		if !seen[name] {
			seen[name] = true
			out = append(out, name)
		}
	}

	dirs := append(append([]string(nil), r.voiceDirs...), extraDirs...)
	for _, dir := range dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			ext := filepath.Ext(entry.Name())
			if !hasReferenceExtension(ext) {
				continue
			}
			name := strings.TrimSuffix(entry.Name(), ext)
			if !seen[name] {
				seen[name] = true
				out = append(out, name)
			}
		}
	}

	return out
}

func hasReferenceExtension(ext string) bool {
	for _, e := range referenceExtensions {
		if strings.EqualFold(ext, e) {
			return true
		}
	}
	return false
}

// scanVoiceDirs looks for voiceID.{wav,mp3,ogg,flac,m4a} across voiceDirs
// in order, preferring .wav within each directory.
func (r *Resolver) scanVoiceDirs(voiceID string) (string, bool) {
	for _, dir := range r.voiceDirs {
		for _, ext := range referenceExtensions {
			candidate := filepath.Join(dir, voiceID+ext)
			if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
				abs, err := filepath.Abs(candidate)
				if err != nil {
					abs = candidate
				}
				return abs, true
			}
		}
	}
	return "", false
}

func (r *Resolver) encodeCached(ctx context.Context, absPath string) (*Embedding, error) {
	if r.cache != nil {
		if emb, ok := r.cache.Get(absPath); ok {
			return emb, nil
		}
	}

	emb, err := r.encodeReferenceAudio(ctx, absPath)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		r.cache.Add(absPath, emb)
	}
	return emb, nil
}

// encodeReferenceAudio implements spec §4.4's encoding path: decode,
// resample to 24 kHz, shape [1, 1, N], run voice_encoder, take the first
// output tensor as the embedding. The teacher's safetensors
// speaker-projection step is dropped — this graph's output is already
// the final embedding.
func (r *Resolver) encodeReferenceAudio(ctx context.Context, path string) (*Embedding, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, &Error{Kind: DecodeFailed, VoiceID: path, Cause: err}
	}

	samples, sampleRate, err := audio.DecodeWAVMono(raw)
	if err != nil {
		return nil, &Error{Kind: DecodeFailed, VoiceID: path, Cause: err}
	}

	resampled := audio.Resample(samples, sampleRate, audio.ExpectedSampleRate)

	audioTensor, err := onnx.NewTensor(resampled, []int64{1, 1, int64(len(resampled))})
	if err != nil {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: err}
	}

	outputs, err := r.encoder.Run(ctx, map[string]*onnx.Tensor{"audio": audioTensor})
	if err != nil {
		return nil, &Error{Kind: DecodeFailed, VoiceID: path, Cause: err}
	}

	names := r.encoder.OutputNames()
	if len(names) == 0 {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: fmt.Errorf("voice_encoder declares no outputs")}
	}

	out, ok := outputs[names[0]]
	if !ok {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: fmt.Errorf("missing output %q", names[0])}
	}

	shape := out.Shape()
	if len(shape) != 3 || shape[0] != 1 {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: fmt.Errorf("expected [1, T, D] embedding, got %v", shape)}
	}

	data, err := onnx.ExtractFloat32(out)
	if err != nil {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: err}
	}

	emb, err := NewEmbedding(data, int(shape[1]), int(shape[2]))
	if err != nil {
		return nil, &Error{Kind: ShapeMismatch, VoiceID: path, Cause: err}
	}
	return emb, nil
}
