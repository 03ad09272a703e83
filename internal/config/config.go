package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config holds every tunable of the engine, decoded by viper from flags,
// environment (POCKETTTS_ prefix), and an optional config file, mirroring
// the teacher's config.Load/RegisterFlags layering.
type Config struct {
	Paths   PathsConfig   `mapstructure:"paths"`
	Runtime RuntimeConfig `mapstructure:"runtime"`
	TTS     TTSConfig     `mapstructure:"tts"`
}

// PathsConfig names where assets and reference-audio voices live.
type PathsConfig struct {
	ModelsDir string   `mapstructure:"models_dir"`
	VoiceDirs []string `mapstructure:"voice_dirs"`
}

// RuntimeConfig configures the ONNX Runtime backend.
type RuntimeConfig struct {
	Threads        int    `mapstructure:"threads"`
	InterOpThreads int    `mapstructure:"inter_op_threads"`
	ORTLibraryPath string `mapstructure:"ort_library_path"`
	ORTVersion     string `mapstructure:"ort_version"`
}

// TTSConfig holds the generation tunables spec §6 enumerates.
type TTSConfig struct {
	DefaultVoice        string        `mapstructure:"default_voice"`
	DecodeBatch         int           `mapstructure:"decode_batch"`
	MaxFrames           int           `mapstructure:"max_frames"`
	FlowSteps           int           `mapstructure:"flow_steps"`
	EOSThreshold        float64       `mapstructure:"eos_threshold"`
	Temperature         float64       `mapstructure:"temperature"`
	DownloadRetries     int           `mapstructure:"download_retries"`
	DownloadBackoffBase time.Duration `mapstructure:"download_backoff_base"`
}

type LoadOptions struct {
	Cmd        flagBinder
	ConfigFile string
	Defaults   Config
}

type flagBinder interface {
	Flags() *pflag.FlagSet
}

func DefaultConfig() Config {
	return Config{
		Paths: PathsConfig{
			ModelsDir: "models",
			VoiceDirs: nil,
		},
		Runtime: RuntimeConfig{
			Threads:        4,
			InterOpThreads: 1,
			ORTLibraryPath: "",
			ORTVersion:     "",
		},
		TTS: TTSConfig{
			DefaultVoice:        "cosette",
			DecodeBatch:         12,
			MaxFrames:           500,
			FlowSteps:           10,
			EOSThreshold:        -4.0,
			Temperature:         0.7,
			DownloadRetries:     3,
			DownloadBackoffBase: 1 * time.Second,
		},
	}
}

func RegisterFlags(fs *pflag.FlagSet, defaults Config) {
	fs.String("paths-models-dir", defaults.Paths.ModelsDir, "Directory where downloaded ONNX model assets are cached")
	fs.StringSlice("paths-voice-dirs", defaults.Paths.VoiceDirs, "Directories scanned (in order) for reference-audio voices")
	fs.Int("runtime-threads", defaults.Runtime.Threads, "ONNX Runtime intra-op thread count")
	fs.Int("runtime-inter-op-threads", defaults.Runtime.InterOpThreads, "ONNX Runtime inter-op thread count")
	fs.String("runtime-ort-library-path", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library")
	fs.String("ort-lib", defaults.Runtime.ORTLibraryPath, "Path to ONNX Runtime shared library (alias for --runtime-ort-library-path)")
	fs.String("runtime-ort-version", defaults.Runtime.ORTVersion, "Expected ONNX Runtime version")
	fs.String("tts-default-voice", defaults.TTS.DefaultVoice, "Voice id used when resolution falls through to the table default")
	fs.Int("tts-decode-batch", defaults.TTS.DecodeBatch, "Latent frames accumulated before a streaming decode")
	fs.Int("tts-max-frames", defaults.TTS.MaxFrames, "Hard cap on autoregressive frames per utterance")
	fs.Int("tts-flow-steps", defaults.TTS.FlowSteps, "Euler steps used by the flow-matching refiner")
	fs.Float64("tts-eos-threshold", defaults.TTS.EOSThreshold, "EOS logit threshold above which generation stops")
	fs.Float64("tts-temperature", defaults.TTS.Temperature, "Sampling temperature fed to the flow-matching refiner")
	fs.Int("tts-download-retries", defaults.TTS.DownloadRetries, "Max download attempts per model asset")
	fs.Duration("tts-download-backoff-base", defaults.TTS.DownloadBackoffBase, "Base backoff between download retries (doubles per attempt)")
}

func Load(opts LoadOptions) (Config, error) {
	v := viper.New()

	setDefaults(v, opts.Defaults)
	if opts.Cmd != nil {
		if err := v.BindPFlags(opts.Cmd.Flags()); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}
	registerAliases(v)

	v.SetEnvPrefix("POCKETTTS")
	replacer := strings.NewReplacer("-", "_", ".", "_", "__", "_")
	v.SetEnvKeyReplacer(replacer)
	if err := v.BindEnv("runtime.ort_library_path", "POCKETTTS_ORT_LIB", "ORT_LIBRARY_PATH"); err != nil {
		return Config{}, fmt.Errorf("bind ort env vars: %w", err)
	}
	v.AutomaticEnv()

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config file: %w", err)
		}
	} else {
		v.SetConfigName("pockettts")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config file: %w", err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config: %w", err)
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper, c Config) {
	v.SetDefault("paths.models_dir", c.Paths.ModelsDir)
	v.SetDefault("paths.voice_dirs", c.Paths.VoiceDirs)
	v.SetDefault("runtime.threads", c.Runtime.Threads)
	v.SetDefault("runtime.inter_op_threads", c.Runtime.InterOpThreads)
	v.SetDefault("runtime.ort_library_path", c.Runtime.ORTLibraryPath)
	v.SetDefault("runtime.ort_version", c.Runtime.ORTVersion)
	v.SetDefault("tts.default_voice", c.TTS.DefaultVoice)
	v.SetDefault("tts.decode_batch", c.TTS.DecodeBatch)
	v.SetDefault("tts.max_frames", c.TTS.MaxFrames)
	v.SetDefault("tts.flow_steps", c.TTS.FlowSteps)
	v.SetDefault("tts.eos_threshold", c.TTS.EOSThreshold)
	v.SetDefault("tts.temperature", c.TTS.Temperature)
	v.SetDefault("tts.download_retries", c.TTS.DownloadRetries)
	v.SetDefault("tts.download_backoff_base", c.TTS.DownloadBackoffBase)
}

func registerAliases(v *viper.Viper) {
	v.RegisterAlias("paths.models_dir", "paths-models-dir")
	v.RegisterAlias("paths.voice_dirs", "paths-voice-dirs")
	v.RegisterAlias("runtime.threads", "runtime-threads")
	v.RegisterAlias("runtime.inter_op_threads", "runtime-inter-op-threads")
	v.RegisterAlias("runtime.ort_library_path", "runtime-ort-library-path")
	v.RegisterAlias("runtime.ort_library_path", "ort-lib")
	v.RegisterAlias("runtime.ort_version", "runtime-ort-version")
	v.RegisterAlias("tts.default_voice", "tts-default-voice")
	v.RegisterAlias("tts.decode_batch", "tts-decode-batch")
	v.RegisterAlias("tts.max_frames", "tts-max-frames")
	v.RegisterAlias("tts.flow_steps", "tts-flow-steps")
	v.RegisterAlias("tts.eos_threshold", "tts-eos-threshold")
	v.RegisterAlias("tts.temperature", "tts-temperature")
	v.RegisterAlias("tts.download_retries", "tts-download-retries")
	v.RegisterAlias("tts.download_backoff_base", "tts-download-backoff-base")
}
