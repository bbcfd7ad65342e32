package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/cropbox"
	"github.com/menta2k/cropbox/internal/config"
	"github.com/menta2k/cropbox/internal/logging"
	"github.com/menta2k/cropbox/pkg/detection"
	"github.com/menta2k/cropbox/pkg/llamacpp"
	"github.com/menta2k/cropbox/pkg/ollama"
	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/session"
	"github.com/menta2k/cropbox/pkg/vision"
)

// app carries what every command needs once flags are parsed
type app struct {
	configPath string
	envPath    string
	logLevel   string

	cfg     *config.Config
	log     *slog.Logger
	cleanup func()
}

func newRootCmd() *cobra.Command {
	a := &app{cleanup: func() {}}

	rootCmd := &cobra.Command{
		Use:   "cropbox",
		Short: "Interactive image cropping to fixed output sizes",
		Long: `Cropbox positions an image inside a fixed viewport by dragging and zooming
and captures crops of exactly the configured sizes, one per crop specification.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			a.cleanup()
		},
	}

	rootCmd.PersistentFlags().StringVar(&a.configPath, "config", config.GetConfigPath(), "configuration file")
	rootCmd.PersistentFlags().StringVar(&a.envPath, "env", ".env", "env file with CROPBOX_* overrides")
	rootCmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn, error")

	rootCmd.AddCommand(newServeCmd(a))
	rootCmd.AddCommand(newCropCmd(a))
	rootCmd.AddCommand(newConfigCmd(a))
	rootCmd.AddCommand(newVisionCmd(a))
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func (a *app) init(cmd *cobra.Command) error {
	if err := config.LoadEnv(a.envPath); err != nil {
		return err
	}
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return fmt.Errorf("invalid environment: %w", err)
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}

	log, cleanup, err := logging.New(cfg.Logging, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg, a.log, a.cleanup = cfg, log, cleanup
	return nil
}

// newBox builds a crop session from the configuration
func (a *app) newBox() (*cropbox.Cropbox, error) {
	if err := a.cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	format, err := processing.ParseFormat(a.cfg.Render.Format)
	if err != nil {
		return nil, err
	}
	framer, err := a.newFramer()
	if err != nil {
		return nil, err
	}

	procCfg := processing.DefaultConfig()
	procCfg.JPEGQuality = a.cfg.Render.JPEGQuality

	return cropbox.New(cropbox.Options{
		Session:       a.cfg.Session,
		Format:        format,
		Interpolation: a.cfg.Render.Interpolation,
		Framer:        framer,
		Processor:     processing.NewProcessorWithConfig(procCfg),
		Logger:        a.log,
	})
}

// newFramer selects the auto-framing backend
func (a *app) newFramer() (session.Framer, error) {
	switch a.cfg.Vision.Backend {
	case "", "none":
		return nil, nil
	case "saliency":
		return vision.New(), nil
	}
	d, err := a.newModelDetector()
	if err != nil {
		return nil, err
	}
	return d, nil
}

// newModelDetector builds the vision-model detector of the ollama and
// llamacpp backends
func (a *app) newModelDetector() (*detection.Detector, error) {
	vc := a.cfg.Vision
	opts := detection.DefaultOptions(vc.Model)
	opts.SendFormat = vc.SendFormat
	opts.SendSize = vc.SendSize
	opts.SendQuality = vc.SendQuality

	switch vc.Backend {
	case "ollama":
		client, err := ollama.NewClient(vc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create Ollama client: %w", err)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := client.Heartbeat(ctx); err != nil {
			a.log.Warn("auto-framing backend not reachable", "url", vc.URL, "error", err)
		}
		return detection.NewDetector(client, opts), nil
	case "llamacpp":
		client, err := llamacpp.NewClient(vc.URL)
		if err != nil {
			return nil, fmt.Errorf("failed to create llama.cpp client: %w", err)
		}
		return detection.NewDetector(client, opts), nil
	}
	return nil, fmt.Errorf("vision backend %q does not use a vision model", vc.Backend)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return nil
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Println("cropbox v" + cropbox.Version)
		},
	}
}
