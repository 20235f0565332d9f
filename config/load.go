package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

var (
	// ErrMissingKey reports required keys absent from the configuration file
	ErrMissingKey = errors.New("missing required config key")

	// ErrInvalid reports a value outside its allowed range
	ErrInvalid = errors.New("invalid config value")
)

// RequiredExperimentKeys must be present in the "exp" block
var RequiredExperimentKeys = []string{
	"learning_rate", "batch_size", "epochs", "betas", "alpha",
	"cache_dir", "checkpoint_dir", "image_dir", "num_to_samples",
}

// Load reads a configuration file. Files ending in .json are decoded as JSON,
// anything else as YAML. Unknown fields are rejected, missing required keys
// are reported together, and the result is validated.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := parse(raw, isJSONPath(path), true)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// LoadForBuild reads a configuration file for the dataset builder. The
// training blocks may be absent; only dataset and logging settings are
// validated.
func LoadForBuild(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	cfg, err := parse(raw, isJSONPath(path), false)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func isJSONPath(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".json")
}

func parse(raw []byte, isJSON bool, training bool) (*Config, error) {
	var generic map[string]any
	if isJSON {
		err := json.Unmarshal(raw, &generic)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		err := yaml.Unmarshal(raw, &generic)
		if err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if training {
		if err := checkRequired(generic); err != nil {
			return nil, err
		}
	}

	cfg := Default()
	if isJSON {
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	} else {
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("decode config: %w", err)
		}
	}

	if !training {
		if err := cfg.Dataset.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrInvalid, err)
		}
		return &cfg, nil
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func checkRequired(generic map[string]any) error {
	var missing []string

	exp, ok := generic["exp"].(map[string]any)
	if !ok {
		missing = append(missing, "exp")
	} else {
		for _, key := range RequiredExperimentKeys {
			if _, ok := exp[key]; !ok {
				missing = append(missing, "exp."+key)
			}
		}
	}

	if _, ok := generic["model"].(map[string]any); !ok {
		missing = append(missing, "model")
	}

	if len(missing) > 0 {
		sort.Strings(missing)
		return fmt.Errorf("%w: %s", ErrMissingKey, strings.Join(missing, ", "))
	}
	return nil
}

// Validate checks value ranges. It does not check key presence.
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...any) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	e := c.Exp
	if e.LearningRate <= 0 {
		add("exp.learning_rate must be positive")
	}
	if e.BatchSize <= 0 {
		add("exp.batch_size must be positive")
	}
	if e.Epochs <= 0 {
		add("exp.epochs must be positive")
	}
	if len(e.Betas) != 2 {
		add("exp.betas must hold two values, got %d", len(e.Betas))
	} else {
		for i, b := range e.Betas {
			if b < 0 || b >= 1 {
				add("exp.betas[%d] must be in [0, 1)", i)
			}
		}
	}
	if e.Alpha < 0 || e.Alpha > 1 {
		add("exp.alpha must be in [0, 1]")
	}
	if e.NumToSamples < 0 {
		add("exp.num_to_samples must not be negative")
	}
	if e.ValidTerm <= 0 {
		add("exp.valid_term must be positive")
	}
	if e.ValidRatio < 0 || e.ValidRatio >= 1 {
		add("exp.valid_ratio must be in [0, 1)")
	}
	for name, dir := range map[string]string{"cache_dir": e.CacheDir, "checkpoint_dir": e.CheckpointDir, "image_dir": e.ImageDir} {
		if strings.TrimSpace(dir) == "" {
			add("exp.%s must not be empty", name)
		}
	}

	m := c.Model
	if m.InputChannels <= 0 || m.InputHeight <= 0 || m.InputWidth <= 0 {
		add("model input shape must be positive")
	}
	if m.OutputDim <= 0 {
		add("model.output_dim must be positive")
	}

	if err := c.Dataset.Validate(); err != nil {
		add("%s", err.Error())
	}

	if len(problems) > 0 {
		sort.Strings(problems)
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(problems, "; "))
	}
	return nil
}

// Validate checks the dataset builder settings
func (d DatasetConfig) Validate() error {
	var problems []string
	switch d.WriteMode {
	case WriteOverwrite, WriteMerge:
	default:
		problems = append(problems, fmt.Sprintf("dataset.write_mode %q must be %q or %q", d.WriteMode, WriteOverwrite, WriteMerge))
	}
	s := d.Spectrogram
	if s.WindowSize <= 0 || s.HopSize <= 0 {
		problems = append(problems, "dataset.spectrogram window_size and hop_size must be positive")
	}
	if s.Width <= 0 || s.Height <= 0 {
		problems = append(problems, "dataset.spectrogram width and height must be positive")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}
