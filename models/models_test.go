package models

import (
	"errors"
	"math"
	"math/rand"
	"strings"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/RyanBlaney/braincoder/config"
)

func smallConfig() config.ModelConfig {
	cfg := config.DefaultModelConfig()
	cfg.InputChannels = 2
	cfg.InputHeight = 2
	cfg.InputWidth = 2
	cfg.OutputDim = 3
	cfg.HiddenDim = 5
	cfg.InitScale = 0.5
	return cfg
}

func randomDense(rng *rand.Rand, r, c int) *mat.Dense {
	data := make([]float64, r*c)
	for i := range data {
		data[i] = rng.NormFloat64()
	}
	return mat.NewDense(r, c, data)
}

// weightedSum is sum(forward(x) * w), whose gradient with respect to the
// output is w
func weightedSum(m Model, x, w *mat.Dense) float64 {
	out := m.Forward(x)
	var prod mat.Dense
	prod.MulElem(out, w)
	return mat.Sum(&prod)
}

func TestGradientsMatchFiniteDifferences(t *testing.T) {
	for _, name := range Names() {
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig()
			m, err := New(name, cfg)
			if err != nil {
				t.Fatal(err)
			}

			rng := rand.New(rand.NewSource(7))
			x := randomDense(rng, 4, cfg.InputDim())
			w := randomDense(rng, 4, cfg.OutputDim)

			ZeroGrad(m)
			m.Forward(x)
			m.Backward(w)

			const eps = 1e-6
			for _, p := range m.Parameters() {
				raw := p.Value.RawMatrix()
				grad := p.Grad.RawMatrix()
				for i := range raw.Data {
					orig := raw.Data[i]
					raw.Data[i] = orig + eps
					up := weightedSum(m, x, w)
					raw.Data[i] = orig - eps
					down := weightedSum(m, x, w)
					raw.Data[i] = orig

					numeric := (up - down) / (2 * eps)
					if math.Abs(numeric-grad.Data[i]) > 1e-4*math.Max(1, math.Abs(numeric)) {
						t.Fatalf("%s[%d]: analytic %v, numeric %v", p.Name, i, grad.Data[i], numeric)
					}
				}
			}
		})
	}
}

func TestBackwardAccumulatesUntilZeroGrad(t *testing.T) {
	cfg := smallConfig()
	m, err := NewLinear(cfg)
	if err != nil {
		t.Fatal(err)
	}
	rng := rand.New(rand.NewSource(1))
	x := randomDense(rng, 2, cfg.InputDim())
	g := randomDense(rng, 2, cfg.OutputDim)

	m.Forward(x)
	m.Backward(g)
	once := mat.DenseCopyOf(m.Parameters()[0].Grad)
	m.Backward(g)

	var twice mat.Dense
	twice.Scale(2, once)
	if !mat.EqualApprox(&twice, m.Parameters()[0].Grad, 1e-12) {
		t.Error("second Backward did not accumulate")
	}

	ZeroGrad(m)
	if mat.Sum(m.Parameters()[0].Grad) != 0 {
		t.Error("ZeroGrad left gradients behind")
	}
}

func TestRegistry(t *testing.T) {
	if got := strings.Join(Names(), ","); got != "linear,mlp" {
		t.Errorf("Names = %s", got)
	}

	_, err := New("coatnet", smallConfig())
	if !errors.Is(err, ErrUnknownModel) {
		t.Fatalf("err = %v, want ErrUnknownModel", err)
	}
	if !strings.Contains(err.Error(), "linear, mlp") {
		t.Errorf("error does not list valid names: %v", err)
	}

	cfg := smallConfig()
	cfg.HiddenDim = 0
	if _, err := New("mlp", cfg); err == nil {
		t.Error("expected hidden_dim error")
	}
	if _, err := New("linear", cfg); err != nil {
		t.Errorf("linear ignores hidden_dim: %v", err)
	}
}

func TestParameterGroupsCoverAllParameters(t *testing.T) {
	cfg := smallConfig()
	cfg.BiasLRScale = 0.5

	for _, name := range Names() {
		m, err := New(name, cfg)
		if err != nil {
			t.Fatal(err)
		}
		seen := make(map[*Parameter]int)
		for _, g := range m.ParameterGroups() {
			for _, p := range g.Params {
				seen[p]++
			}
			if name == "mlp" && g.Name == "biases" && g.LRScale != 0.5 {
				t.Errorf("mlp bias group scale = %v", g.LRScale)
			}
		}
		for _, p := range m.Parameters() {
			if seen[p] != 1 {
				t.Errorf("%s: parameter %s appears in %d groups", name, p.Name, seen[p])
			}
		}
	}
}

func TestLoadParameters(t *testing.T) {
	cfg := smallConfig()
	src, _ := NewMLP(cfg)
	cfg.Seed = 99
	dst, _ := NewMLP(cfg)

	values := make(map[string]*mat.Dense)
	for _, p := range src.Parameters() {
		values[p.Name] = p.Value
	}
	if err := LoadParameters(dst, values); err != nil {
		t.Fatal(err)
	}
	for i, p := range dst.Parameters() {
		if !mat.Equal(p.Value, src.Parameters()[i].Value) {
			t.Errorf("parameter %s not copied", p.Name)
		}
	}

	values["fc1.bias"] = mat.NewDense(1, 2, nil)
	if err := LoadParameters(dst, values); err == nil {
		t.Error("expected shape mismatch error")
	}
	delete(values, "fc1.bias")
	if err := LoadParameters(dst, values); err == nil {
		t.Error("expected missing parameter error")
	}
}
