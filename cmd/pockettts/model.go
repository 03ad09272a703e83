package main

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/example/pockettts-engine/internal/model"
	"github.com/spf13/cobra"
)

func newModelCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "model",
		Short: "Model asset management",
	}

	cmd.AddCommand(newModelEnsureCmd())
	cmd.AddCommand(newModelVerifyCmd())
	return cmd
}

func newModelEnsureCmd() *cobra.Command {
	var repo string

	cmd := &cobra.Command{
		Use:   "ensure",
		Short: "Download any missing or corrupt model assets",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			assets := model.DefaultAssetSet(cfg.Paths.ModelsDir, repo)
			ensureCfg := model.EnsureConfig{
				Retries:     cfg.TTS.DownloadRetries,
				BackoffBase: cfg.TTS.DownloadBackoffBase,
				Stdout:      cmd.OutOrStdout(),
			}

			if err := model.Ensure(context.Background(), cfg.Paths.ModelsDir, assets, ensureCfg); err != nil {
				return fmt.Errorf("model ensure: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "model assets ready in %s\n", cfg.Paths.ModelsDir)
			return nil
		},
	}

	cmd.Flags().StringVar(&repo, "repo", "", "Model repository override (defaults to the built-in pockettts ONNX repo)")
	return cmd
}

func newModelVerifyCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Smoke-test every ONNX graph in the manifest against ONNX Runtime",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			opts := model.VerifyOptions{
				ManifestPath: filepath.Join(cfg.Paths.ModelsDir, "manifest.json"),
				ORTLibrary:   cfg.Runtime.ORTLibraryPath,
				Stdout:       cmd.OutOrStdout(),
				Stderr:       cmd.ErrOrStderr(),
			}

			if err := model.VerifyONNX(opts); err != nil {
				return fmt.Errorf("model verify: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "all sessions verified")
			return nil
		},
	}

	return cmd
}
