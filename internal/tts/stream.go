package tts

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/example/pockettts-engine/internal/audio"
	"github.com/example/pockettts-engine/internal/onnx"
	"github.com/example/pockettts-engine/internal/text"
	"github.com/example/pockettts-engine/internal/tokenizer"
)

// Stream is the Streaming Orchestrator (C9): an async iterator of audio
// bytes driven by a producer goroutine running the AR Driver once per
// sentence. Each Next call returns one decoded chunk re-framed as a
// complete, independently playable WAV payload, until Next returns
// io.EOF.
type Stream struct {
	chunks chan []byte
	cancel context.CancelFunc

	mu  sync.Mutex
	err error
}

// Next blocks until the next chunk is ready, ctx is done, or the stream
// is exhausted. On exhaustion Next returns (nil, io.EOF).
func (s *Stream) Next(ctx context.Context) ([]byte, error) {
	select {
	case b, ok := <-s.chunks:
		if !ok {
			s.mu.Lock()
			err := s.err
			s.mu.Unlock()
			if err != nil {
				return nil, err
			}
			return nil, io.EOF
		}
		return b, nil
	case <-ctx.Done():
		return nil, wrapCancelled(ctx.Err())
	}
}

// Close cancels the producer and releases its resources. Safe to call
// more than once, and safe to call without draining Next to io.EOF.
func (s *Stream) Close() {
	s.cancel()
}

func (s *Stream) finish(err error) {
	s.mu.Lock()
	s.err = err
	s.mu.Unlock()
	close(s.chunks)
}

// SynthesizeStream resolves voiceID, splits text into sentences, and
// starts a producer goroutine driving one AR Driver Generate call per
// sentence, emitting a complete WAV payload per decoded chunk. The
// engine is loaded first if it isn't already.
func (e *Engine) SynthesizeStream(ctx context.Context, input, voiceID string) (*Stream, error) {
	if strings.TrimSpace(input) == "" {
		return nil, &InputError{Field: "text", Cause: fmt.Errorf("must not be empty")}
	}

	if err := e.Load(ctx); err != nil {
		return nil, err
	}

	host, resolver, tok, schedule, ttsCfg, err := e.snapshot()
	if err != nil {
		return nil, err
	}

	embedding, err := resolver.GetEmbedding(ctx, voiceID)
	if err != nil {
		return nil, normalizeCancellation(fmt.Errorf("resolve voice %q: %w", voiceID, err))
	}
	speakerEmbedding, err := onnx.NewTensor(embedding.Data, embedding.Shape())
	if err != nil {
		return nil, fmt.Errorf("speaker embedding tensor: %w", err)
	}

	backbone, err := host.Handle(onnx.GraphFlowLMMain)
	if err != nil {
		return nil, err
	}
	textConditioner, err := host.Handle(onnx.GraphTextConditioner)
	if err != nil {
		return nil, err
	}
	refiner, err := host.Handle(onnx.GraphFlowLMFlow)
	if err != nil {
		return nil, err
	}
	decoder, err := host.Handle(onnx.GraphMimiDecoder)
	if err != nil {
		return nil, err
	}

	driver := onnx.NewARDriver(backbone, textConditioner, refiner, decoder, schedule, onnx.DefaultFlowSampler)
	arCfg := onnx.ARConfig{
		MaxFrames:    ttsCfg.MaxFrames,
		DecodeBatch:  ttsCfg.DecodeBatch,
		EOSThreshold: ttsCfg.EOSThreshold,
		FlowSteps:    ttsCfg.FlowSteps,
		Temperature:  ttsCfg.Temperature,
	}

	sentences := text.Split(input)

	streamCtx, cancel := context.WithCancel(ctx)
	s := &Stream{
		chunks: make(chan []byte, 4),
		cancel: cancel,
	}

	go s.produce(streamCtx, driver, tok, arCfg, speakerEmbedding, sentences)

	return s, nil
}

func (s *Stream) produce(ctx context.Context, driver *onnx.ARDriver, tok tokenizer.Tokenizer, arCfg onnx.ARConfig, speakerEmbedding *onnx.Tensor, sentences text.SentenceBatch) {
	emit := func(chunk onnx.AudioChunk) error {
		wav, err := audio.EncodeWAVPCM16(chunk, audio.ExpectedSampleRate)
		if err != nil {
			return fmt.Errorf("encode chunk wav: %w", err)
		}
		select {
		case s.chunks <- wav:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	for _, sentence := range sentences {
		prepared := text.Prepare(sentence)
		tokens, err := tok.Encode(prepared)
		if err != nil {
			s.finish(fmt.Errorf("tokenize sentence: %w", err))
			return
		}
		if err := driver.Generate(ctx, tokens, speakerEmbedding, arCfg, emit); err != nil {
			s.finish(normalizeCancellation(err))
			return
		}
	}

	s.finish(nil)
}

// Synthesize buffers an entire SynthesizeStream call into one WAV
// payload: every chunk's PCM16 data is decoded and concatenated (each
// chunk's own RIFF/fmt/data header is discarded) and re-framed once via
// audio.EncodeWAV, since naively concatenating several complete WAV
// files would produce an invalid multi-header file.
func (e *Engine) Synthesize(ctx context.Context, input, voiceID string) ([]byte, error) {
	stream, err := e.SynthesizeStream(ctx, input, voiceID)
	if err != nil {
		return nil, err
	}
	defer stream.Close()

	var samples []float32
	for {
		chunk, err := stream.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		chunkSamples, err := audio.DecodeWAV(chunk)
		if err != nil {
			return nil, fmt.Errorf("decode stream chunk: %w", err)
		}
		samples = append(samples, chunkSamples...)
	}

	return audio.EncodeWAV(samples)
}
