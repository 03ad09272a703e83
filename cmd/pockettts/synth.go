package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/example/pockettts-engine/internal/audio"
	"github.com/example/pockettts-engine/internal/tts"
	"github.com/spf13/cobra"
)

func newSynthCmd() *cobra.Command {
	var text string
	var out string
	var voice string
	var stream bool
	var normalize bool
	var dcBlock bool
	var fadeInMS float64
	var fadeOutMS float64

	cmd := &cobra.Command{
		Use:   "synth",
		Short: "Synthesize text to WAV",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := requireConfig()
			if err != nil {
				return err
			}

			input, err := readSynthText(text, cmd.InOrStdin())
			if err != nil {
				return err
			}
			voiceID := cfg.TTS.DefaultVoice
			if voice != "" {
				voiceID = voice
			}

			engine := tts.NewEngine(cfg, "")
			defer engine.Close()

			ctx := cmd.Context()

			if stream {
				return streamSynthToFile(ctx, engine, input, voiceID, out, cmd.OutOrStdout())
			}

			result, err := engine.Synthesize(ctx, input, voiceID)
			if err != nil {
				return fmt.Errorf("synth failed: %w", err)
			}

			if normalize || dcBlock || fadeInMS > 0 || fadeOutMS > 0 {
				result, err = applyDSP(result, normalize, dcBlock, fadeInMS, fadeOutMS)
				if err != nil {
					return err
				}
			}

			return writeSynthOutput(out, result, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&text, "text", "", "Text to synthesize (if empty, read from stdin)")
	cmd.Flags().StringVar(&out, "out", "out.wav", "Output WAV path ('-' for stdout)")
	cmd.Flags().StringVar(&voice, "voice", "", "Voice id (overrides tts.default_voice)")
	cmd.Flags().BoolVar(&stream, "stream", false, "Write each decoded chunk's WAV payload as it arrives instead of buffering")
	cmd.Flags().BoolVar(&normalize, "normalize", false, "Peak-normalize output audio (buffered mode only)")
	cmd.Flags().BoolVar(&dcBlock, "dc-block", false, "Apply DC-block high-pass filter (buffered mode only)")
	cmd.Flags().Float64Var(&fadeInMS, "fade-in-ms", 0, "Linear fade-in duration in milliseconds (buffered mode only)")
	cmd.Flags().Float64Var(&fadeOutMS, "fade-out-ms", 0, "Linear fade-out duration in milliseconds (buffered mode only)")

	return cmd
}

// streamSynthToFile drains SynthesizeStream, writing every complete WAV
// chunk it receives back-to-back. Concatenated raw WAV files are not
// themselves a single valid WAV; this mode is for callers (like a
// player reading a named pipe) that consume one WAV per chunk, not for
// producing a normal playable file.
func streamSynthToFile(ctx context.Context, engine *tts.Engine, input, voiceID, out string, stdout io.Writer) error {
	s, err := engine.SynthesizeStream(ctx, input, voiceID)
	if err != nil {
		return fmt.Errorf("synth failed: %w", err)
	}
	defer s.Close()

	w, closeFn, err := openSynthOutput(out, stdout)
	if err != nil {
		return err
	}
	defer closeFn()

	bw := bufio.NewWriter(w)
	for {
		chunk, err := s.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("synth stream failed: %w", err)
		}
		if _, err := bw.Write(chunk); err != nil {
			return fmt.Errorf("write chunk: %w", err)
		}
	}
	return bw.Flush()
}

func openSynthOutput(out string, stdout io.Writer) (io.Writer, func() error, error) {
	if out == "-" {
		return stdout, func() error { return nil }, nil
	}
	f, err := os.Create(out)
	if err != nil {
		return nil, nil, fmt.Errorf("create %s: %w", out, err)
	}
	return f, f.Close, nil
}

func applyDSP(wavData []byte, normalize, dcBlock bool, fadeInMS, fadeOutMS float64) ([]byte, error) {
	samples, err := audio.DecodeWAV(wavData)
	if err != nil {
		return nil, fmt.Errorf("decode WAV for DSP: %w", err)
	}

	if normalize {
		samples = audio.PeakNormalize(samples)
	}
	if dcBlock {
		samples = audio.DCBlock(samples, audio.ExpectedSampleRate)
	}
	if fadeInMS > 0 {
		samples = audio.FadeIn(samples, audio.ExpectedSampleRate, fadeInMS)
	}
	if fadeOutMS > 0 {
		samples = audio.FadeOut(samples, audio.ExpectedSampleRate, fadeOutMS)
	}

	out, err := audio.EncodeWAVPCM16(samples, audio.ExpectedSampleRate)
	if err != nil {
		return nil, fmt.Errorf("encode WAV after DSP: %w", err)
	}
	return out, nil
}

func writeSynthOutput(outPath string, wavData []byte, stdout io.Writer) error {
	if outPath == "-" {
		_, err := stdout.Write(wavData)
		return err
	}
	return os.WriteFile(outPath, wavData, 0o644)
}

func readSynthText(text string, stdin io.Reader) (string, error) {
	if strings.TrimSpace(text) != "" {
		return text, nil
	}

	b, err := io.ReadAll(stdin)
	if err != nil {
		return "", fmt.Errorf("read stdin: %w", err)
	}
	input := strings.TrimSpace(string(b))
	if input == "" {
		return "", fmt.Errorf("either provide --text or pipe text on stdin")
	}
	return input, nil
}
