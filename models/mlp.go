package models

import (
	"math"
	"math/rand"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/config"
)

// MLP is a two-layer perceptron with a ReLU hidden layer
type MLP struct {
	w1, b1 *Parameter
	w2, b2 *Parameter

	biasLRScale float64

	// saved by Forward for Backward
	input  *mat.Dense
	hidden *mat.Dense
}

// NewMLP creates an MLP. The first layer is scaled for ReLU fan-in, the
// second by the configured init scale.
func NewMLP(cfg config.ModelConfig) (Model, error) {
	if err := validate(cfg, true); err != nil {
		return nil, err
	}

	m := &MLP{
		w1:          newParameter("fc1.weight", cfg.InputDim(), cfg.HiddenDim),
		b1:          newParameter("fc1.bias", 1, cfg.HiddenDim),
		w2:          newParameter("fc2.weight", cfg.HiddenDim, cfg.OutputDim),
		b2:          newParameter("fc2.bias", 1, cfg.OutputDim),
		biasLRScale: cfg.BiasLRScale,
	}

	rng := rand.New(rand.NewSource(cfg.Seed))
	m.w1.randomize(rng, math.Sqrt(2/float64(cfg.InputDim())))
	m.w2.randomize(rng, cfg.InitScale)
	return m, nil
}

func (m *MLP) Name() string { return "mlp" }

func (m *MLP) Forward(x *mat.Dense) *mat.Dense {
	m.input = x
	m.hidden = affine(x, m.w1.Value, m.b1.Value)
	m.hidden.Apply(func(_, _ int, v float64) float64 {
		return math.Max(v, 0)
	}, m.hidden)
	return affine(m.hidden, m.w2.Value, m.b2.Value)
}

func (m *MLP) Backward(gradOut *mat.Dense) {
	accumulateAffine(m.hidden, gradOut, m.w2, m.b2)

	var gradHidden mat.Dense
	gradHidden.Mul(gradOut, m.w2.Value.T())
	gradHidden.Apply(func(i, j int, g float64) float64 {
		if m.hidden.At(i, j) <= 0 {
			return 0
		}
		return g
	}, &gradHidden)

	accumulateAffine(m.input, &gradHidden, m.w1, m.b1)
}

func (m *MLP) Parameters() []*Parameter {
	return []*Parameter{m.w1, m.b1, m.w2, m.b2}
}

// ParameterGroups separates weights from biases so biases can run at their
// own learning rate
func (m *MLP) ParameterGroups() []ParamGroup {
	return []ParamGroup{
		{Name: "weights", Params: []*Parameter{m.w1, m.w2}, LRScale: 1},
		{Name: "biases", Params: []*Parameter{m.b1, m.b2}, LRScale: m.biasLRScale},
	}
}
