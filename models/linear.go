package models

import (
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/config"
)

// Linear is a single affine projection from the flattened spectrogram stack
// to the embedding space
type Linear struct {
	weight *Parameter
	bias   *Parameter
	input  *mat.Dense
}

// NewLinear creates a linear model with normally distributed weights
func NewLinear(cfg config.ModelConfig) (Model, error) {
	if err := validate(cfg, false); err != nil {
		return nil, err
	}

	m := &Linear{
		weight: newParameter("weight", cfg.InputDim(), cfg.OutputDim),
		bias:   newParameter("bias", 1, cfg.OutputDim),
	}
	m.weight.randomize(rand.New(rand.NewSource(cfg.Seed)), cfg.InitScale)
	return m, nil
}

func (m *Linear) Name() string { return "linear" }

func (m *Linear) Forward(x *mat.Dense) *mat.Dense {
	m.input = x
	return affine(x, m.weight.Value, m.bias.Value)
}

func (m *Linear) Backward(gradOut *mat.Dense) {
	accumulateAffine(m.input, gradOut, m.weight, m.bias)
}

func (m *Linear) Parameters() []*Parameter {
	return []*Parameter{m.weight, m.bias}
}

// ParameterGroups puts every parameter in one group at the base rate
func (m *Linear) ParameterGroups() []ParamGroup {
	return []ParamGroup{{Name: "all", Params: m.Parameters(), LRScale: 1}}
}
