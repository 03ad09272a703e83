package model

import (
	"fmt"
	"path/filepath"
)

// DefaultRepo names the model repository the default asset set resolves
// against, mirroring the teacher's hardcoded kyutai/pocket-tts pin.
const DefaultRepo = "pockettts/pocket-tts-onnx"

// assetSpec is a filename plus the minimum byte count its integrity
// predicate requires, independent of any particular models_dir or repo.
type assetSpec struct {
	name    string
	minimum int64
}

// defaultAssetSpecs lists every on-disk model file spec §6 names, plus the
// session manifest describing their ONNX graph I/O (not itself one of the
// spec's named model files, but required to open sessions against them).
var defaultAssetSpecs = []assetSpec{
	{"manifest.json", 64},
	{"mimi_encoder.onnx", 1 << 16},
	{"text_conditioner.onnx", 1 << 16},
	{"flow_lm_main_int8.onnx", 1 << 16},
	{"flow_lm_flow_int8.onnx", 1 << 16},
	{"mimi_decoder_int8.onnx", 1 << 16},
	{"tokenizer.model", 1 << 10},
	{"voices.bin", 4},
}

// DefaultAssetSet builds the Asset list for every model file the engine
// needs, rooted at modelsDir and resolved against repo via the same
// HF-style resolve URL the teacher's download.go used.
func DefaultAssetSet(modelsDir, repo string) []Asset {
	if repo == "" {
		repo = DefaultRepo
	}

	assets := make([]Asset, 0, len(defaultAssetSpecs))
	for _, spec := range defaultAssetSpecs {
		assets = append(assets, Asset{
			LogicalName:          spec.name,
			Path:                 filepath.Join(modelsDir, spec.name),
			SourceURL:            fmt.Sprintf("https://huggingface.co/%s/resolve/main/%s", repo, spec.name),
			ExpectedMinimumBytes: spec.minimum,
		})
	}
	return assets
}
