package tts

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"

	"github.com/example/pockettts-engine/internal/config"
	"github.com/example/pockettts-engine/internal/model"
	"github.com/example/pockettts-engine/internal/onnx"
	"github.com/example/pockettts-engine/internal/tokenizer"
	"github.com/example/pockettts-engine/internal/voice"
)

// State is the Engine Facade's load lifecycle: Unloaded -> Loading ->
// Ready | Failed. From Failed, the next caller retries (back to Loading)
// rather than the teacher's sync.Once, which caches the first error
// forever.
type State int

const (
	Unloaded State = iota
	Loading
	Ready
	Failed
)

func (s State) String() string {
	switch s {
	case Unloaded:
		return "Unloaded"
	case Loading:
		return "Loading"
	case Ready:
		return "Ready"
	case Failed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Status reports the Engine Facade's current load state.
type Status struct {
	State     State
	LastError error
	ModelsDir string
}

// Engine is the facade spec §4.9 describes: it owns the open ONNX
// sessions, the tokenizer, the voice resolver, and the flow schedule, and
// exposes synthesis only once loaded. One Engine is not safe to use for
// two concurrent synthesize calls (the sessions it wraps are not
// reentrant); building more than one Engine for concurrent use is the
// caller's responsibility, matching spec §5's one-engine-per-thread
// model.
type Engine struct {
	cfg  config.Config
	repo string

	mu       sync.Mutex
	state    State
	lastErr  error
	loadDone chan struct{}

	host      *onnx.Host
	resolver  *voice.Resolver
	tokenizer tokenizer.Tokenizer
	schedule  *onnx.FlowSchedule
}

// NewEngine builds an unloaded Engine over cfg. repo overrides the
// default model repository Load resolves assets against; pass "" for the
// built-in default.
func NewEngine(cfg config.Config, repo string) *Engine {
	return &Engine{cfg: cfg, repo: repo, state: Unloaded}
}

// Status reports the current lifecycle state without blocking on Load.
func (e *Engine) Status() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Status{State: e.state, LastError: e.lastErr, ModelsDir: e.cfg.Paths.ModelsDir}
}

// Load ensures model assets, opens the five ONNX sessions, parses the
// voices table, and precomputes the flow schedule, transitioning to
// Ready on success. Concurrent callers arriving during Loading share the
// pending outcome instead of repeating the load.
func (e *Engine) Load(ctx context.Context) error {
	e.mu.Lock()
	switch e.state {
	case Ready:
		e.mu.Unlock()
		return nil
	case Loading:
		done := e.loadDone
		e.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return wrapCancelled(ctx.Err())
		}
		e.mu.Lock()
		err, st := e.lastErr, e.state
		e.mu.Unlock()
		if st == Ready {
			return nil
		}
		return err
	}

	e.state = Loading
	done := make(chan struct{})
	e.loadDone = done
	e.mu.Unlock()

	err := normalizeCancellation(e.load(ctx))

	e.mu.Lock()
	if err != nil {
		e.state, e.lastErr = Failed, err
	} else {
		e.state, e.lastErr = Ready, nil
	}
	close(done)
	e.mu.Unlock()

	return err
}

func (e *Engine) load(ctx context.Context) error {
	modelsDir := e.cfg.Paths.ModelsDir

	assets := model.DefaultAssetSet(modelsDir, e.repo)
	ensureCfg := model.EnsureConfig{
		Retries:     e.cfg.TTS.DownloadRetries,
		BackoffBase: e.cfg.TTS.DownloadBackoffBase,
	}
	if err := model.Ensure(ctx, modelsDir, assets, ensureCfg); err != nil {
		return &ModelLoadError{Stage: "asset download", Cause: err}
	}

	host, err := onnx.OpenHost(filepath.Join(modelsDir, "manifest.json"), onnx.RunnerConfig{
		LibraryPath: e.cfg.Runtime.ORTLibraryPath,
	})
	if err != nil {
		return &ModelLoadError{Stage: "open onnx sessions", Cause: err}
	}

	tok, err := tokenizer.NewSentencePieceTokenizer(filepath.Join(modelsDir, "tokenizer.model"))
	if err != nil {
		host.Close()
		return &ModelLoadError{Stage: "load tokenizer", Cause: err}
	}

	table, err := voice.LoadTable(filepath.Join(modelsDir, "voices.bin"))
	if err != nil {
		host.Close()
		return &ModelLoadError{Stage: "load voices table", Cause: err}
	}

	encoder, err := host.Handle(onnx.GraphVoiceEncoder)
	if err != nil {
		host.Close()
		return &ModelLoadError{Stage: "voice encoder handle", Cause: err}
	}

	resolver := voice.NewResolver(e.cfg.Paths.VoiceDirs, encoder,
		voice.WithTable(table),
		voice.WithDefaultVoice(e.cfg.TTS.DefaultVoice),
	)

	schedule, err := onnx.BuildFlowSchedule()
	if err != nil {
		host.Close()
		return &ModelLoadError{Stage: "build flow schedule", Cause: err}
	}

	e.mu.Lock()
	e.host, e.resolver, e.tokenizer, e.schedule = host, resolver, tok, schedule
	e.mu.Unlock()

	return nil
}

// ListVoices returns every voice id the voices table declares plus every
// reference-audio basename found scanning voice_dirs and extraDirs.
func (e *Engine) ListVoices(extraDirs []string) ([]string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return nil, fmt.Errorf("engine not ready (state=%s)", e.state)
	}
	return e.resolver.ListVoices(extraDirs), nil
}

// Close releases every open session. Safe to call on an unloaded Engine.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.host != nil {
		e.host.Close()
		e.host = nil
	}
	e.state = Unloaded
}

func (e *Engine) snapshot() (*onnx.Host, *voice.Resolver, tokenizer.Tokenizer, *onnx.FlowSchedule, config.TTSConfig, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != Ready {
		return nil, nil, nil, nil, config.TTSConfig{}, fmt.Errorf("engine not ready (state=%s)", e.state)
	}
	return e.host, e.resolver, e.tokenizer, e.schedule, e.cfg.TTS, nil
}
