package onnx

import (
	"context"
	"fmt"
	"log/slog"
	"math"
)

// AudioChunk is 24 kHz mono f32 PCM, length determined by the decoder's
// output for whatever batch of latents was just decoded.
type AudioChunk []float32

// ARConfig holds the AR Driver's tunable limits.
type ARConfig struct {
	MaxFrames    int
	DecodeBatch  int
	EOSThreshold float64
	FlowSteps    int
	Temperature  float64
}

// textEmbeddingDim is the width of the text-conditioner's output and of
// the empty text_embeddings tensor fed during the autoregressive loop.
const textEmbeddingDim = 1024

// ARDriver generalizes the teacher's generateAudioStateful/
// generateAudioStateless split into the single three-phase driver spec
// §4.7 describes: there is exactly one code path here because this spec's
// backbone contract is always stateful via state_i/out_state_i, so the
// branch the teacher needed (prefill graph present or not) doesn't apply.
type ARDriver struct {
	backbone        SessionHandle
	textConditioner SessionHandle
	refiner         SessionHandle
	decoder         SessionHandle
	schedule        *FlowSchedule
	sampler         FlowSampler
}

// NewARDriver builds a driver over the five-session host's backbone,
// text-conditioner, flow refiner, and audio decoder handles.
func NewARDriver(backbone, textConditioner, refiner, decoder SessionHandle, schedule *FlowSchedule, sampler FlowSampler) *ARDriver {
	return &ARDriver{
		backbone:        backbone,
		textConditioner: textConditioner,
		refiner:         refiner,
		decoder:         decoder,
		schedule:        schedule,
		sampler:         sampler,
	}
}

// Generate runs voice conditioning, text conditioning, and the
// autoregressive loop, invoking emit for every decoded audio chunk in
// order. Cancellation is observed only between Phase C iterations; no
// partial chunk is ever emitted.
func (d *ARDriver) Generate(ctx context.Context, tokens []int64, speakerEmbedding *Tensor, cfg ARConfig, emit func(AudioChunk) error) error {
	bundle, err := NewBundle(d.backbone)
	if err != nil {
		return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("new state bundle: %w", err)}
	}

	if err := d.conditionOnVoice(ctx, bundle, speakerEmbedding); err != nil {
		return err
	}

	if err := d.conditionOnText(ctx, bundle, tokens); err != nil {
		return err
	}

	return d.autoregress(ctx, bundle, cfg, emit)
}

// conditionOnVoice is Phase A: the backbone runs once with an empty
// sequence and the speaker embedding as text_embeddings, priming the state
// bundle with the voice before any text is seen.
func (d *ARDriver) conditionOnVoice(ctx context.Context, bundle *Bundle, speakerEmbedding *Tensor) error {
	emptySequence, err := emptyTensor(1, 0, LatentDim)
	if err != nil {
		return err
	}

	outputs, err := d.runBackbone(ctx, bundle, emptySequence, speakerEmbedding)
	if err != nil {
		return fmt.Errorf("voice conditioning: %w", err)
	}

	if err := bundle.Propagate(outputs); err != nil {
		return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("voice conditioning: %w", err)}
	}

	return nil
}

// conditionOnText is Phase B: the text-conditioner embeds the token ids,
// then the backbone runs once more with that embedding as
// text_embeddings.
func (d *ARDriver) conditionOnText(ctx context.Context, bundle *Bundle, tokens []int64) error {
	tokenTensor, err := NewTensor(tokens, []int64{1, int64(len(tokens))})
	if err != nil {
		return fmt.Errorf("text conditioning: token tensor: %w", err)
	}

	tcOutputs, err := d.textConditioner.Run(ctx, map[string]*Tensor{"tokens": tokenTensor})
	if err != nil {
		return &SessionError{Session: "text_conditioner", Cause: err}
	}

	outputNames := d.textConditioner.OutputNames()
	if len(outputNames) == 0 {
		return &SessionError{Session: "text_conditioner", Cause: fmt.Errorf("no declared outputs")}
	}

	textEmbeddings, ok := tcOutputs[outputNames[0]]
	if !ok {
		return &SessionError{Session: "text_conditioner", Cause: fmt.Errorf("missing output %q", outputNames[0])}
	}

	if shape := textEmbeddings.Shape(); len(shape) == 2 {
		data, err := ExtractFloat32(textEmbeddings)
		if err != nil {
			return fmt.Errorf("text conditioning: reshape output: %w", err)
		}
		textEmbeddings, err = NewTensor(data, []int64{1, shape[0], shape[1]})
		if err != nil {
			return fmt.Errorf("text conditioning: reshape output: %w", err)
		}
	}

	emptySequence, err := emptyTensor(1, 0, LatentDim)
	if err != nil {
		return err
	}

	outputs, err := d.runBackbone(ctx, bundle, emptySequence, textEmbeddings)
	if err != nil {
		return fmt.Errorf("text conditioning: %w", err)
	}

	if err := bundle.Propagate(outputs); err != nil {
		return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("text conditioning: %w", err)}
	}

	return nil
}

// autoregress is Phase C: generate latent frames one at a time, refining
// each with the flow-matching session, decoding to audio every
// DecodeBatch frames or sooner on EOS.
func (d *ARDriver) autoregress(ctx context.Context, bundle *Bundle, cfg ARConfig, emit func(AudioChunk) error) error {
	current, err := nanFrame()
	if err != nil {
		return err
	}

	emptyTextEmbeddings, err := emptyTensor(1, 0, textEmbeddingDim)
	if err != nil {
		return err
	}

	var latents [][]float32

	for step := 0; step < cfg.MaxFrames; step++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		outputs, err := d.runBackbone(ctx, bundle, current, emptyTextEmbeddings)
		if err != nil {
			return fmt.Errorf("autoregressive step %d: %w", step, err)
		}

		if err := bundle.Propagate(outputs); err != nil {
			return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("autoregressive step %d: %w", step, err)}
		}

		conditioning, ok := outputs["conditioning"]
		if !ok {
			return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("step %d: missing 'conditioning' output", step)}
		}

		eosLogit, ok := outputs["eos_logit"]
		if !ok {
			return &SessionError{Session: "flow_lm_main", Cause: fmt.Errorf("step %d: missing 'eos_logit' output", step)}
		}

		x, err := Refine(ctx, d.refiner, d.schedule, d.sampler, conditioning, cfg.FlowSteps, cfg.Temperature)
		if err != nil {
			return fmt.Errorf("autoregressive step %d: flow refine: %w", step, err)
		}

		latents = append(latents, append([]float32(nil), x...))

		current, err = NewTensor(append([]float32(nil), x...), []int64{1, 1, LatentDim})
		if err != nil {
			return fmt.Errorf("autoregressive step %d: next frame: %w", step, err)
		}

		eos := eosAboveThreshold(eosLogit, cfg.EOSThreshold)

		if len(latents) >= cfg.DecodeBatch || eos {
			if err := d.decodeAndEmit(ctx, latents, emit); err != nil {
				return err
			}
			latents = nil
		}

		if eos {
			slog.Debug("eos detected", "step", step)
			return nil
		}
	}

	return d.flushRemainder(ctx, latents, emit)
}

// flushRemainder decodes and emits whatever frames accumulated since the
// last DecodeBatch/EOS flush when MaxFrames is exhausted without EOS.
// Cancellation never reaches here: the loop returns ctx.Err() directly
// without decoding the in-progress batch, since spec §4.7/§5 forbid
// emitting a partial chunk at the cancellation point.
func (d *ARDriver) flushRemainder(ctx context.Context, latents [][]float32, emit func(AudioChunk) error) error {
	if len(latents) > 0 {
		if err := d.decodeAndEmit(ctx, latents, emit); err != nil {
			return err
		}
	}
	return nil
}

// runBackbone merges the current state bundle's inputs with sequence and
// text_embeddings and runs the backbone session. The caller is
// responsible for propagating the returned state outputs.
func (d *ARDriver) runBackbone(ctx context.Context, bundle *Bundle, sequence, textEmbeddings *Tensor) (map[string]*Tensor, error) {
	inputs := bundle.Inputs()
	inputs["sequence"] = sequence
	inputs["text_embeddings"] = textEmbeddings

	outputs, err := d.backbone.Run(ctx, inputs)
	if err != nil {
		return nil, &SessionError{Session: "flow_lm_main", Cause: err}
	}
	return outputs, nil
}

// decodeAndEmit concatenates the accumulated latents into [1, len, 32],
// runs the audio decoder, and hands the flat f32 buffer to emit.
func (d *ARDriver) decodeAndEmit(ctx context.Context, latents [][]float32, emit func(AudioChunk) error) error {
	flat := make([]float32, 0, len(latents)*LatentDim)
	for _, l := range latents {
		flat = append(flat, l...)
	}

	stacked, err := NewTensor(flat, []int64{1, int64(len(latents)), LatentDim})
	if err != nil {
		return fmt.Errorf("decode: stack latents: %w", err)
	}

	outputs, err := d.decoder.Run(ctx, map[string]*Tensor{"latents": stacked})
	if err != nil {
		return &SessionError{Session: "mimi_decoder", Cause: err}
	}

	outputNames := d.decoder.OutputNames()
	if len(outputNames) == 0 {
		return &SessionError{Session: "mimi_decoder", Cause: fmt.Errorf("no declared outputs")}
	}

	audio, ok := outputs[outputNames[0]]
	if !ok {
		return &SessionError{Session: "mimi_decoder", Cause: fmt.Errorf("missing output %q", outputNames[0])}
	}

	data, err := ExtractFloat32(audio)
	if err != nil {
		return fmt.Errorf("decode: extract audio: %w", err)
	}

	return emit(AudioChunk(data))
}

func eosAboveThreshold(eosLogit *Tensor, threshold float64) bool {
	data, err := ExtractFloat32(eosLogit)
	if err != nil || len(data) == 0 {
		return false
	}
	return float64(data[0]) > threshold
}

func emptyTensor(dims ...int64) (*Tensor, error) {
	return ZeroTensorOfShape(DTypeFloat32, dims)
}

// nanFrame builds the [1, 1, 32] NaN sentinel the backbone expects for
// "no prior frame" on the first autoregressive step.
func nanFrame() (*Tensor, error) {
	data := make([]float32, LatentDim)
	for i := range data {
		data[i] = float32(math.NaN())
	}
	return NewTensor(data, []int64{1, 1, LatentDim})
}
