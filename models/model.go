// Package models holds the trainable EEG-to-embedding regressors. Models are
// opaque to the trainer beyond the Model interface: a batch goes in, a batch
// of embeddings comes out, and gradients land on named parameters.
package models

import (
	"fmt"
	"math/rand"

	"gonum.org/v1/gonum/mat"
)

// Parameter is one trainable tensor and its accumulated gradient
type Parameter struct {
	Name  string
	Value *mat.Dense
	Grad  *mat.Dense
}

func newParameter(name string, rows, cols int) *Parameter {
	return &Parameter{
		Name:  name,
		Value: mat.NewDense(rows, cols, nil),
		Grad:  mat.NewDense(rows, cols, nil),
	}
}

func (p *Parameter) randomize(rng *rand.Rand, scale float64) {
	raw := p.Value.RawMatrix()
	for i := range raw.Data {
		raw.Data[i] = rng.NormFloat64() * scale
	}
}

// ParamGroup is a set of parameters sharing an optimizer setting. LRScale
// multiplies the base learning rate.
type ParamGroup struct {
	Name    string
	Params  []*Parameter
	LRScale float64
}

// Model maps a batch of flattened inputs (rows) to a batch of embeddings
type Model interface {
	Name() string

	// Forward computes the output for x and remembers what Backward needs
	Forward(x *mat.Dense) *mat.Dense

	// Backward adds the gradients of the loss with respect to every
	// parameter, given the loss gradient with respect to the output of the
	// last Forward call
	Backward(gradOut *mat.Dense)

	Parameters() []*Parameter
	ParameterGroups() []ParamGroup
}

// ZeroGrad clears the accumulated gradients of m
func ZeroGrad(m Model) {
	for _, p := range m.Parameters() {
		p.Grad.Zero()
	}
}

// LoadParameters copies values into the parameters of m by name. Every
// parameter must be present with a matching shape.
func LoadParameters(m Model, values map[string]*mat.Dense) error {
	for _, p := range m.Parameters() {
		v, ok := values[p.Name]
		if !ok {
			return fmt.Errorf("missing parameter %s", p.Name)
		}
		pr, pc := p.Value.Dims()
		vr, vc := v.Dims()
		if pr != vr || pc != vc {
			return fmt.Errorf("parameter %s has shape %dx%d, want %dx%d", p.Name, vr, vc, pr, pc)
		}
		p.Value.Copy(v)
	}
	return nil
}

// affine computes x*w + b with b broadcast over rows
func affine(x, w, b *mat.Dense) *mat.Dense {
	rows, _ := x.Dims()
	_, cols := w.Dims()
	out := mat.NewDense(rows, cols, nil)
	out.Mul(x, w)

	bias := b.RawRowView(0)
	for i := range rows {
		row := out.RawRowView(i)
		for j := range row {
			row[j] += bias[j]
		}
	}
	return out
}

// accumulateAffine adds the weight and bias gradients of affine given the
// output gradient
func accumulateAffine(x, gradOut *mat.Dense, w, b *Parameter) {
	var gw mat.Dense
	gw.Mul(x.T(), gradOut)
	w.Grad.Add(w.Grad, &gw)

	rows, _ := gradOut.Dims()
	gb := b.Grad.RawRowView(0)
	for i := range rows {
		for j, v := range gradOut.RawRowView(i) {
			gb[j] += v
		}
	}
}
