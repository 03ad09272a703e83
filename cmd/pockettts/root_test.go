package main

import (
	"bytes"
	"log/slog"
	"testing"

	"github.com/example/pockettts-engine/internal/config"
	"github.com/spf13/cobra"
)

func TestNewRootCmd_RegistersSubcommands(t *testing.T) {
	cmd := NewRootCmd()

	names := map[string]bool{}
	for _, c := range cmd.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"synth", "model"} {
		if !names[want] {
			t.Errorf("expected %q subcommand to be registered, got %v", want, names)
		}
	}
}

func TestNewRootCmd_RegistersPersistentFlags(t *testing.T) {
	cmd := NewRootCmd()

	for _, name := range []string{"config", "log-level"} {
		if cmd.PersistentFlags().Lookup(name) == nil {
			t.Errorf("expected persistent flag --%s", name)
		}
	}
}

func TestRequireConfig_FailsBeforeLoad(t *testing.T) {
	cfgLoaded = false
	if _, err := requireConfig(); err == nil {
		t.Fatal("expected an error when config has not been loaded yet")
	}
}

func TestRequireConfig_ReturnsLoadedConfig(t *testing.T) {
	activeCfg = config.DefaultConfig()
	activeCfg.Paths.ModelsDir = "/tmp/models-for-test"
	cfgLoaded = true
	defer func() { cfgLoaded = false }()

	got, err := requireConfig()
	if err != nil {
		t.Fatalf("requireConfig: %v", err)
	}
	if got.Paths.ModelsDir != "/tmp/models-for-test" {
		t.Fatalf("got %q", got.Paths.ModelsDir)
	}
}

func TestParseLogLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"DEBUG":   slog.LevelDebug,
		"warn":    slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"info":    slog.LevelInfo,
		"":        slog.LevelInfo,
		"bogus":   slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLogLevel(in); got != want {
			t.Errorf("parseLogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}

func TestSetupLogger_DoesNotPanic(t *testing.T) {
	setupLogger("debug")
	slog.Default().Info("sanity check")
}

func TestNewRootCmd_PersistentPreRunELoadsConfig(t *testing.T) {
	cfgLoaded = false
	defer func() { cfgLoaded = false }()

	cmd := NewRootCmd()
	// "model" has no Run of its own, and cobra prints help for such a
	// command without running pre-run hooks, so execute a runnable no-op.
	cmd.AddCommand(&cobra.Command{Use: "noop", RunE: func(*cobra.Command, []string) error { return nil }})
	cmd.SetArgs([]string{"noop"})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})

	if err := cmd.Execute(); err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if !cfgLoaded {
		t.Fatal("expected PersistentPreRunE to mark config as loaded")
	}
}
