package models

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/RyanBlaney/braincoder/config"
)

// ErrUnknownModel reports a model name missing from the registry
var ErrUnknownModel = errors.New("unknown model")

// Constructor builds a model from its configuration block
type Constructor func(cfg config.ModelConfig) (Model, error)

var registry = map[string]Constructor{
	"linear": NewLinear,
	"mlp":    NewMLP,
}

// Names lists the registered model names in order
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// New constructs the model registered under name
func New(name string, cfg config.ModelConfig) (Model, error) {
	ctor, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w %q (valid: %s)", ErrUnknownModel, name, strings.Join(Names(), ", "))
	}
	m, err := ctor(cfg)
	if err != nil {
		return nil, fmt.Errorf("model %s: %w", name, err)
	}
	return m, nil
}

func validate(cfg config.ModelConfig, hidden bool) error {
	if cfg.InputDim() <= 0 {
		return fmt.Errorf("input shape %dx%dx%d must be positive", cfg.InputChannels, cfg.InputHeight, cfg.InputWidth)
	}
	if cfg.OutputDim <= 0 {
		return fmt.Errorf("output_dim must be positive, got %d", cfg.OutputDim)
	}
	if hidden && cfg.HiddenDim <= 0 {
		return fmt.Errorf("hidden_dim must be positive, got %d", cfg.HiddenDim)
	}
	return nil
}
