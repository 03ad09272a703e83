package onnx

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
)

// LatentDim is the flow-matching latent width the backbone operates on.
const LatentDim = 32

// FlowPair is one Euler step's (s, t) scalars, precomputed for a given
// step count L.
type FlowPair struct {
	S, T *Tensor
}

// FlowSchedule holds the precomputed (s, t) pair tables for every step
// count in [1, LMax], built once at load rather than recomputed inline on
// every Refine call as the teacher's FlowLMFlow did.
type FlowSchedule struct {
	byL map[int][]FlowPair
}

// LMax is the largest step count a FlowSchedule precomputes.
const LMax = 10

// BuildFlowSchedule precomputes (s, t) pairs for every L in [1, LMax]:
// s_j = j/L, t_j = s_j + 1/L for j in [0, L).
func BuildFlowSchedule() (*FlowSchedule, error) {
	sched := &FlowSchedule{byL: make(map[int][]FlowPair, LMax)}

	for l := 1; l <= LMax; l++ {
		pairs := make([]FlowPair, l)
		for j := 0; j < l; j++ {
			s := float32(j) / float32(l)
			t := s + 1.0/float32(l)

			sTensor, err := NewTensor([]float32{s}, []int64{1, 1})
			if err != nil {
				return nil, fmt.Errorf("flow schedule L=%d step=%d: s tensor: %w", l, j, err)
			}
			tTensor, err := NewTensor([]float32{t}, []int64{1, 1})
			if err != nil {
				return nil, fmt.Errorf("flow schedule L=%d step=%d: t tensor: %w", l, j, err)
			}
			pairs[j] = FlowPair{S: sTensor, T: tTensor}
		}
		sched.byL[l] = pairs
	}

	return sched, nil
}

// Pairs returns the precomputed (s, t) pairs for L Euler steps. L must be
// in [1, LMax].
func (f *FlowSchedule) Pairs(l int) ([]FlowPair, error) {
	pairs, ok := f.byL[l]
	if !ok {
		return nil, fmt.Errorf("flow schedule: L=%d out of precomputed range [1, %d]", l, LMax)
	}
	return pairs, nil
}

// FlowSampler draws uniform(0,1) values for the Box-Muller sample in
// Refine. Promoted to an injectable interface (rather than the teacher's
// package-level `var randNormal` function) so concurrent engine instances
// don't share mutable package state, and so tests can seed determinism.
type FlowSampler interface {
	Float64() float64
}

// defaultSampler wraps math/rand/v2's global source.
type defaultSampler struct{}

func (defaultSampler) Float64() float64 { return rand.Float64() }

// DefaultFlowSampler is the non-deterministic sampler used when no
// FlowSampler is supplied.
var DefaultFlowSampler FlowSampler = defaultSampler{}

// Refine runs the flow-matching Euler integration: sample an initial
// Gaussian latent, then apply L learned-velocity-field updates using the
// refiner session and the precomputed (s, t) schedule for L.
//
// Returns the refined latent as a length-LatentDim f32 buffer.
func Refine(ctx context.Context, refiner SessionHandle, schedule *FlowSchedule, sampler FlowSampler, conditioning *Tensor, l int, temperature float64) ([]float32, error) {
	if sampler == nil {
		sampler = DefaultFlowSampler
	}

	pairs, err := schedule.Pairs(l)
	if err != nil {
		return nil, err
	}

	x := sampleGaussian(sampler, LatentDim, temperature)

	for j, pair := range pairs {
		xTensor, err := NewTensor(append([]float32(nil), x...), []int64{1, LatentDim})
		if err != nil {
			return nil, fmt.Errorf("refine step %d: x tensor: %w", j, err)
		}

		outputs, err := refiner.Run(ctx, map[string]*Tensor{
			"conditioning": conditioning,
			"s":            pair.S,
			"t":            pair.T,
			"x":            xTensor,
		})
		if err != nil {
			return nil, fmt.Errorf("refine step %d: run: %w", j, err)
		}

		v, ok := outputs["flow_dir"]
		if !ok {
			return nil, fmt.Errorf("refine step %d: missing 'flow_dir' in output", j)
		}

		velocity, err := ExtractFloat32(v)
		if err != nil {
			return nil, fmt.Errorf("refine step %d: extract flow_dir: %w", j, err)
		}
		if len(velocity) != LatentDim {
			return nil, fmt.Errorf("refine step %d: flow_dir has %d elements, want %d", j, len(velocity), LatentDim)
		}

		invL := float32(1) / float32(l)
		for i := range x {
			x[i] += velocity[i] * invL
		}
	}

	return x, nil
}

// sampleGaussian draws LatentDim samples from N(0, temperature) via
// Box-Muller: x = sqrt(-2 ln u) * cos(2*pi*v) * sqrt(temperature), guarding
// against u=0 (which would make ln(u) diverge).
func sampleGaussian(sampler FlowSampler, n int, temperature float64) []float32 {
	out := make([]float32, n)
	stddev := math.Sqrt(temperature)

	for i := 0; i < n; i++ {
		u := sampler.Float64()
		for u == 0 {
			u = sampler.Float64()
		}
		v := sampler.Float64()

		x := math.Sqrt(-2*math.Log(u)) * math.Cos(2*math.Pi*v) * stddev
		out[i] = float32(x)
	}

	return out
}
