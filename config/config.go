// Package config holds the experiment, model, dataset and logging settings
// shared by the dataset builder and the trainer.
package config

// Config is the top-level configuration file layout
type Config struct {
	Exp     ExperimentConfig `json:"exp" yaml:"exp"`
	Model   ModelConfig      `json:"model" yaml:"model"`
	Dataset DatasetConfig    `json:"dataset" yaml:"dataset"`
	Logging LoggingConfig    `json:"logging" yaml:"logging"`
}

// ExperimentConfig drives the training loop
type ExperimentConfig struct {
	LearningRate float64   `json:"learning_rate" yaml:"learning_rate"`
	BatchSize    int       `json:"batch_size" yaml:"batch_size"`
	Epochs       int       `json:"epochs" yaml:"epochs"`
	Betas        []float64 `json:"betas" yaml:"betas"` // Adam (beta1, beta2)
	Alpha        float64   `json:"alpha" yaml:"alpha"` // weight of MSE against KL

	CacheDir      string `json:"cache_dir" yaml:"cache_dir"`           // target embeddings, {id}.json
	CheckpointDir string `json:"checkpoint_dir" yaml:"checkpoint_dir"` // {epoch}.ckpt
	ImageDir      string `json:"image_dir" yaml:"image_dir"`           // per-epoch sample predictions
	NumToSamples  int    `json:"num_to_samples" yaml:"num_to_samples"`

	DatasetPath string  `json:"dataset_path" yaml:"dataset_path"`
	ValidTerm   int     `json:"valid_term" yaml:"valid_term"` // validate every N epochs
	ValidRatio  float64 `json:"valid_ratio" yaml:"valid_ratio"`
	Seed        int64   `json:"seed" yaml:"seed"`
	NumWorkers  int     `json:"num_workers" yaml:"num_workers"`
	Progress    bool    `json:"progress" yaml:"progress"`
}

// ModelConfig is the nested model-specific block. Models ignore the fields
// they do not use.
type ModelConfig struct {
	InputChannels int     `json:"input_channels" yaml:"input_channels"`
	InputHeight   int     `json:"input_height" yaml:"input_height"`
	InputWidth    int     `json:"input_width" yaml:"input_width"`
	OutputDim     int     `json:"output_dim" yaml:"output_dim"`
	HiddenDim     int     `json:"hidden_dim" yaml:"hidden_dim"`
	InitScale     float64 `json:"init_scale" yaml:"init_scale"`
	BiasLRScale   float64 `json:"bias_lr_scale" yaml:"bias_lr_scale"`
	Seed          int64   `json:"seed" yaml:"seed"`
}

// InputDim is the flattened model input length
func (m ModelConfig) InputDim() int {
	return m.InputChannels * m.InputHeight * m.InputWidth
}

// Manifest write policies
const (
	WriteOverwrite = "overwrite"
	WriteMerge     = "merge"
)

// DatasetConfig configures the dataset builder
type DatasetConfig struct {
	RawDir         string            `json:"raw_dir" yaml:"raw_dir"`
	SessionList    string            `json:"session_list" yaml:"session_list"` // relative to RawDir
	Manifest       string            `json:"manifest" yaml:"manifest"`
	SpectrogramDir string            `json:"spectrogram_dir" yaml:"spectrogram_dir"`
	Exclude        []string          `json:"exclude" yaml:"exclude"`
	WriteMode      string            `json:"write_mode" yaml:"write_mode"`
	Progress       bool              `json:"progress" yaml:"progress"`
	Spectrogram    SpectrogramConfig `json:"spectrogram" yaml:"spectrogram"`
}

// SpectrogramConfig controls STFT parameters and raster rendering
type SpectrogramConfig struct {
	Window         string  `json:"window" yaml:"window"`
	WindowSize     int     `json:"window_size" yaml:"window_size"`
	HopSize        int     `json:"hop_size" yaml:"hop_size"`
	DynamicRangeDB float64 `json:"dynamic_range_db" yaml:"dynamic_range_db"`
	Colormap       string  `json:"colormap" yaml:"colormap"`
	Width          int     `json:"width" yaml:"width"`
	Height         int     `json:"height" yaml:"height"`

	// HighpassHz enables a DC blocking filter with this cutoff; 0 disables it
	HighpassHz float64 `json:"highpass_hz" yaml:"highpass_hz"`
}

// LoggingConfig selects the log backend
type LoggingConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"` // color, plain, text, json
}

// Default returns a configuration with every optional field set. The
// required experiment keys are left zero and must come from the file.
func Default() Config {
	return Config{
		Exp:     DefaultExperimentConfig(),
		Model:   DefaultModelConfig(),
		Dataset: DefaultDatasetConfig(),
		Logging: LoggingConfig{Level: "info", Format: "color"},
	}
}

// DefaultExperimentConfig returns the optional experiment defaults
func DefaultExperimentConfig() ExperimentConfig {
	return ExperimentConfig{
		DatasetPath: "dataset.json",
		ValidTerm:   1,
		ValidRatio:  0.1,
		Seed:        42,
		NumWorkers:  4,
		Progress:    true,
	}
}

// DefaultModelConfig matches 14 channels of 16x16 spectrogram thumbnails
// mapped onto a 768-dimensional text embedding
func DefaultModelConfig() ModelConfig {
	return ModelConfig{
		InputChannels: 14,
		InputHeight:   16,
		InputWidth:    16,
		OutputDim:     768,
		HiddenDim:     256,
		InitScale:     0.01,
		BiasLRScale:   1.0,
		Seed:          1,
	}
}

// DefaultDatasetConfig mirrors the raw/ and dataset/ layout of a recording campaign
func DefaultDatasetConfig() DatasetConfig {
	return DatasetConfig{
		RawDir:         "./raw",
		SessionList:    "list.json",
		Manifest:       "dataset.json",
		SpectrogramDir: "./dataset",
		WriteMode:      WriteOverwrite,
		Progress:       true,
		Spectrogram:    DefaultSpectrogramConfig(),
	}
}

// DefaultSpectrogramConfig uses one second Hann frames with 7/8 overlap at 128 Hz
func DefaultSpectrogramConfig() SpectrogramConfig {
	return SpectrogramConfig{
		Window:         "hann",
		WindowSize:     128,
		HopSize:        16,
		DynamicRangeDB: 80,
		Colormap:       "kindlmann",
		Width:          224,
		Height:         224,
	}
}
