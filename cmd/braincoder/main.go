package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/RyanBlaney/braincoder/config"
	"github.com/RyanBlaney/braincoder/dataset"
	"github.com/RyanBlaney/braincoder/eeg"
	"github.com/RyanBlaney/braincoder/logging"
	"github.com/RyanBlaney/braincoder/models"
	"github.com/RyanBlaney/braincoder/spectrogram"
	"github.com/RyanBlaney/braincoder/train"
)

const defaultConfigPath = "./config/exp_config.yaml"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "braincoder: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "braincoder",
		Short:         "Build EEG spectrogram datasets and train EEG-to-embedding models",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(newBuildCmd())
	root.AddCommand(newTrainCmd())
	return root
}

func newBuildCmd() *cobra.Command {
	var (
		cfgPath   string
		exclude   []string
		writeMode string
		rawDir    string
		noProg    bool
	)

	cmd := &cobra.Command{
		Use:   "build",
		Short: "Render per-channel spectrograms for every stimulus and write the dataset manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadForBuild(cfgPath)
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("exclude") {
				cfg.Dataset.Exclude = exclude
			}
			if writeMode != "" {
				cfg.Dataset.WriteMode = writeMode
			}
			if rawDir != "" {
				cfg.Dataset.RawDir = rawDir
			}
			if noProg {
				cfg.Dataset.Progress = false
			}
			if err := cfg.Dataset.Validate(); err != nil {
				return fmt.Errorf("%w: %w", config.ErrInvalid, err)
			}

			if err := setupLogging(cfg.Logging); err != nil {
				return err
			}

			renderer, err := spectrogram.NewRenderer(cfg.Dataset.Spectrogram, eeg.SampleRate)
			if err != nil {
				return err
			}

			builder := dataset.NewBuilder(cfg.Dataset, eeg.NewEDFReader(), renderer)
			report, err := builder.Build(cmd.Context())
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "sessions: %d built, %d failed\nrecords:  %s written (%s skipped)\nmanifest: %s (%s records)\n",
				report.Built, report.Failed(),
				humanize.Comma(int64(report.Emitted)),
				humanize.Comma(int64(report.Short+report.Empty+report.Invalid)),
				report.Manifest, humanize.Comma(int64(report.ManifestTotal)))
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "cfg", defaultConfigPath, "Configuration file (YAML, or JSON by extension)")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "Session folders to skip (comma separated)")
	cmd.Flags().StringVar(&writeMode, "write_mode", "", "Manifest write policy: overwrite or merge")
	cmd.Flags().StringVar(&rawDir, "raw_dir", "", "Override dataset.raw_dir")
	cmd.Flags().BoolVar(&noProg, "no-progress", false, "Disable the progress bar")

	return cmd
}

func newTrainCmd() *cobra.Command {
	var (
		cfgPath   string
		modelName string
		noProg    bool
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a model on the spectrogram dataset, checkpointing every epoch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return err
			}
			if noProg {
				cfg.Exp.Progress = false
			}

			if err := setupLogging(cfg.Logging); err != nil {
				return err
			}

			session, err := train.NewSession(cfg, modelName)
			if err != nil {
				return err
			}

			results, err := session.Run(cmd.Context())
			if err != nil {
				return err
			}

			if n := len(results); n > 0 {
				last := results[n-1]
				fmt.Fprintf(cmd.OutOrStdout(), "run %s: %d epochs, final train loss %.6f, last checkpoint %s\n",
					session.RunID(), n, last.Train.Total, last.Checkpoint)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cfgPath, "cfg", defaultConfigPath, "Experiment configuration file")
	cmd.Flags().StringVar(&modelName, "model_name", "linear", fmt.Sprintf("Model to train (%v)", models.Names()))
	cmd.Flags().BoolVar(&noProg, "no-progress", false, "Disable progress bars")

	return cmd
}

func setupLogging(cfg config.LoggingConfig) error {
	level, err := logging.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	logger, err := logging.New(cfg.Format, level)
	if err != nil {
		return err
	}
	logging.SetGlobalLogger(logger)
	return nil
}
