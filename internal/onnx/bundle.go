package onnx

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Slot is one declared state_i input of the backbone: its dtype and the
// dims it currently carries. Dims change across AR steps (the backbone's
// out_state_i output is not assumed to keep a static shape).
type Slot struct {
	Name  string
	DType TensorDType
	Dims  []int64
}

// Bundle is the StateBundle from the data model: a mapping from state_i to
// Tensor, with the dtype/dims invariants of the slot table. Zero value is
// not usable; construct with NewBundle.
type Bundle struct {
	order []string
	slots map[string]*Tensor
}

// fallback dims used when the backbone session does not report dims for a
// state input. Per the data model: rank-5 dtype-f32 inputs are transformer
// KV caches ("tall" slots); everything else dtype-i64 is a scalar marker
// (step counters and the like). The 1000 here is the model's discovered
// max-context length, not an invented budget — ship it as-is rather than
// guessing a smaller number.
var (
	fallbackTallDims   = []int64{2, 1, 1000, 16, 64}
	fallbackScalarDims = []int64{1}
)

// NewBundle discovers every state_i input on handle and zero-initializes
// a Tensor for it, honoring session-reported dtype/dims when handle
// provides them and falling back to the table above otherwise.
func NewBundle(handle SessionHandle) (*Bundle, error) {
	b := &Bundle{slots: make(map[string]*Tensor)}

	for _, name := range handle.InputNames() {
		if !strings.HasPrefix(name, "state_") {
			continue
		}

		dtype, err := handle.InputDType(name)
		if err != nil {
			return nil, fmt.Errorf("state slot %q: dtype: %w", name, err)
		}

		dims, err := handle.InputDims(name)
		if err != nil || len(dims) == 0 {
			dims = fallbackDims(dtype)
		}

		tensor, err := ZeroTensorOfShape(dtype, dims)
		if err != nil {
			return nil, fmt.Errorf("state slot %q: zero init: %w", name, err)
		}

		b.order = append(b.order, name)
		b.slots[name] = tensor
	}

	sort.Strings(b.order)

	return b, nil
}

func fallbackDims(dtype TensorDType) []int64 {
	if dtype == DTypeInt64 {
		return append([]int64(nil), fallbackScalarDims...)
	}
	return append([]int64(nil), fallbackTallDims...)
}

// Names returns the bundle's slot names in a stable order.
func (b *Bundle) Names() []string {
	return append([]string(nil), b.order...)
}

// Len returns the number of slots in the bundle.
func (b *Bundle) Len() int {
	return len(b.order)
}

// Get returns the current tensor for a slot.
func (b *Bundle) Get(name string) (*Tensor, error) {
	t, ok := b.slots[name]
	if !ok {
		return nil, fmt.Errorf("state bundle: no such slot %q", name)
	}
	return t, nil
}

// Inputs builds the input map a backbone run expects: every declared
// state_i mapped to its current tensor. The map includes every slot
// exactly once, as the Session Host invariant requires.
func (b *Bundle) Inputs() map[string]*Tensor {
	out := make(map[string]*Tensor, len(b.slots))
	for name, t := range b.slots {
		out[name] = t
	}
	return out
}

// Propagate replaces every state_i with the corresponding out_state_i
// output, coercing dtype when the declared input dtype and the output's
// dtype disagree. outputs must contain an out_state_i entry for every
// slot in the bundle; a missing entry is a programmer error.
func (b *Bundle) Propagate(outputs map[string]*Tensor) error {
	for _, name := range b.order {
		outName := "out_" + name
		out, ok := outputs[outName]
		if !ok {
			return fmt.Errorf("state bundle: missing %q in backbone outputs", outName)
		}

		current := b.slots[name]
		coerced, err := Coerce(current.DType(), out)
		if err != nil {
			return fmt.Errorf("state slot %q: %w", name, err)
		}

		b.slots[name] = coerced
	}
	return nil
}

// Coerce converts out to dstDType if it isn't already that dtype:
//   - f32 -> i64: round to nearest, then widen
//   - i64 -> f32: widen
//
// out is returned unchanged if its dtype already matches dstDType.
func Coerce(dstDType TensorDType, out *Tensor) (*Tensor, error) {
	if out.DType() == dstDType {
		return out, nil
	}

	switch dstDType {
	case DTypeInt64:
		data, err := ExtractFloat32(out)
		if err != nil {
			return nil, fmt.Errorf("coerce f32->i64: %w", err)
		}
		widened := make([]int64, len(data))
		for i, v := range data {
			widened[i] = int64(math.Round(float64(v)))
		}
		return NewTensor(widened, out.Shape())

	case DTypeFloat32:
		data, err := ExtractInt64(out)
		if err != nil {
			return nil, fmt.Errorf("coerce i64->f32: %w", err)
		}
		widened := make([]float32, len(data))
		for i, v := range data {
			widened[i] = float32(v)
		}
		return NewTensor(widened, out.Shape())

	default:
		return nil, fmt.Errorf("coerce: unsupported destination dtype %q", dstDType)
	}
}
