package onnx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

type NodeInfo struct {
	Name  string `json:"name"`
	DType string `json:"dtype"`
	Shape []any  `json:"shape"`
}

type Session struct {
	Name string
	Path string

	Inputs  []NodeInfo
	Outputs []NodeInfo
}

type SessionManager struct {
	mu       sync.RWMutex
	sessions map[string]Session
	order    []string
}

// SessionHandle is the typed run interface exposed per graph session: the
// declared input/output names plus the dtype and shape of any input,
// honoring session-reported metadata rather than hard-coded assumptions.
// *Runner implements this directly.
type SessionHandle interface {
	Name() string
	InputNames() []string
	OutputNames() []string
	InputDType(name string) (TensorDType, error)
	InputDims(name string) ([]int64, error)
	Run(ctx context.Context, inputs map[string]*Tensor) (map[string]*Tensor, error)
	Close()
}

type onnxManifest struct {
	Graphs []onnxGraph `json:"graphs"`
}

type onnxGraph struct {
	Name     string     `json:"name"`
	Filename string     `json:"filename"`
	Inputs   []NodeInfo `json:"inputs"`
	Outputs  []NodeInfo `json:"outputs"`
}

func NewSessionManager(manifestPath string) (*SessionManager, error) {
	if manifestPath == "" {
		return nil, errors.New("manifest path is required")
	}

	data, err := os.ReadFile(manifestPath)
	if err != nil {
		return nil, fmt.Errorf("read ONNX manifest: %w", err)
	}

	var manifest onnxManifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode ONNX manifest: %w", err)
	}

	if len(manifest.Graphs) == 0 {
		return nil, errors.New("ONNX manifest has no graphs")
	}

	baseDir := filepath.Dir(manifestPath)
	sm := &SessionManager{
		sessions: make(map[string]Session, len(manifest.Graphs)),
		order:    make([]string, 0, len(manifest.Graphs)),
	}

	for _, g := range manifest.Graphs {
		if g.Name == "" {
			return nil, errors.New("manifest graph has empty name")
		}

		if g.Filename == "" {
			return nil, fmt.Errorf("manifest graph %q has empty filename", g.Name)
		}

		if _, exists := sm.sessions[g.Name]; exists {
			return nil, fmt.Errorf("duplicate session name %q in manifest", g.Name)
		}

		sessionPath := g.Filename
		if !filepath.IsAbs(sessionPath) {
			sessionPath = filepath.Join(baseDir, g.Filename)
		}

		sessionPath = filepath.Clean(sessionPath)
		if _, err := os.Stat(sessionPath); err != nil {
			return nil, fmt.Errorf("session file for %q: %w", g.Name, err)
		}

		session := Session{
			Name:    g.Name,
			Path:    sessionPath,
			Inputs:  append([]NodeInfo(nil), g.Inputs...),
			Outputs: append([]NodeInfo(nil), g.Outputs...),
		}
		sm.sessions[g.Name] = session
		sm.order = append(sm.order, g.Name)

		slog.Info(
			"loaded ONNX session",
			"name", g.Name,
			"path", sessionPath,
			"inputs", nodeNames(g.Inputs),
			"outputs", nodeNames(g.Outputs),
		)
	}

	return sm, nil
}

func (m *SessionManager) Session(name string) (Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[name]

	return s, ok
}

func (m *SessionManager) Sessions() []Session {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]Session, 0, len(m.order))
	for _, name := range m.order {
		s := m.sessions[name]
		s.Inputs = append([]NodeInfo(nil), s.Inputs...)
		s.Outputs = append([]NodeInfo(nil), s.Outputs...)
		out = append(out, s)
	}

	return out
}

func nodeNames(nodes []NodeInfo) string {
	if len(nodes) == 0 {
		return ""
	}

	names := make([]string, 0, len(nodes))
	for _, n := range nodes {
		names = append(names, n.Name)
	}

	return strings.Join(names, ",")
}

// Graph names the manifest is expected to declare. The AR Driver and Voice
// Embedding Cache address sessions by these names.
const (
	GraphVoiceEncoder    = "voice_encoder"
	GraphTextConditioner = "text_conditioner"
	GraphFlowLMMain      = "flow_lm_main"
	GraphFlowLMFlow      = "flow_lm_flow"
	GraphMimiDecoder     = "mimi_decoder"
)

// Host owns one open Runner per graph in a manifest, for the lifetime of a
// single engine instance. Unlike the package-global LoadSessionsOnce this
// replaces, each engine instance gets its own Host so multiple engines can
// load and hold distinct (or identical) model sets concurrently.
type Host struct {
	manager *SessionManager
	runners map[string]*Runner
}

// OpenHost loads the manifest and opens a Runner for every declared graph.
// On any failure, already-opened runners are closed before returning.
func OpenHost(manifestPath string, cfg RunnerConfig) (*Host, error) {
	manager, err := NewSessionManager(manifestPath)
	if err != nil {
		return nil, err
	}

	runners := make(map[string]*Runner, len(manager.order))
	for _, sess := range manager.Sessions() {
		runner, err := NewRunner(sess, cfg)
		if err != nil {
			for _, r := range runners {
				r.Close()
			}
			return nil, fmt.Errorf("open session %q: %w", sess.Name, err)
		}
		runners[sess.Name] = runner
	}

	return &Host{manager: manager, runners: runners}, nil
}

// Handle returns the named graph's SessionHandle.
func (h *Host) Handle(name string) (SessionHandle, error) {
	r, ok := h.runners[name]
	if !ok {
		return nil, fmt.Errorf("onnx host: no session named %q", name)
	}
	return r, nil
}

// Close releases every open runner. Safe to call multiple times.
func (h *Host) Close() {
	for name, r := range h.runners {
		r.Close()
		delete(h.runners, name)
	}
}
