package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/menta2k/cropbox/internal/config"
	"github.com/menta2k/cropbox/internal/server"
	"github.com/menta2k/cropbox/internal/utils"
	"github.com/menta2k/cropbox/pkg/processing"
	"github.com/menta2k/cropbox/pkg/session"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		image string
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the crop session over HTTP and WebSocket",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			box, err := a.newBox()
			if err != nil {
				return err
			}
			defer box.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			if image != "" {
				if err := box.LoadImage(ctx, image); err != nil {
					return fmt.Errorf("failed to load %s: %w", image, err)
				}
			}

			a.log.Info("starting server",
				"addr", a.cfg.Server.Addr,
				"viewport", fmt.Sprintf("%dx%d", a.cfg.Session.ViewportSize.Width, a.cfg.Session.ViewportSize.Height),
				"specifications", len(a.cfg.Session.CropSpecifications),
				"vision", a.cfg.Vision.Backend,
			)
			return server.NewServer(a.cfg.Server.Addr, box, a.log).Start(ctx)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides config)")
	cmd.Flags().StringVar(&image, "image", "", "image to preload (path, URL or data URL)")
	return cmd
}

func newCropCmd(a *app) *cobra.Command {
	var (
		image       string
		script      string
		scriptFile  string
		outDir      string
		resultsFile string
		timeout     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "crop",
		Short: "Replay a scripted crop session and write the rasters",
		Long: `Crop loads an image, replays a script of zoom, drag, autoframe and capture
steps and writes one raster per capture plus the serialized crop results.

Example:
  cropbox crop --image photo.jpg --script "zoom-in; drag:-40,10; capture; autoframe; capture"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if image == "" {
				return fmt.Errorf("--image is required")
			}
			if isLocalPath(image) && !utils.IsImageFile(image) {
				return fmt.Errorf("%s does not look like an image file", image)
			}
			if scriptFile != "" {
				data, err := os.ReadFile(scriptFile)
				if err != nil {
					return fmt.Errorf("failed to read script: %w", err)
				}
				script = string(data)
			}
			actions, err := ParseScript(script)
			if err != nil {
				return err
			}
			if len(actions) == 0 {
				return fmt.Errorf("script has no steps")
			}

			if outDir == "" {
				outDir = a.cfg.Render.OutputDir
			}
			if err := utils.EnsureDir(outDir); err != nil {
				return fmt.Errorf("failed to create output directory: %w", err)
			}

			box, err := a.newBox()
			if err != nil {
				return err
			}
			defer box.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			start := time.Now()
			if err := box.LoadImage(ctx, image); err != nil {
				return fmt.Errorf("failed to load %s: %w", image, err)
			}
			if err := box.WaitReady(ctx); err != nil {
				return fmt.Errorf("failed to decode %s: %w", image, err)
			}

			baseName := image
			if processing.IsDataURL([]byte(image)) {
				baseName = "crop"
			}

			var written []string
			err = runScript(ctx, box, actions, func(c *session.Capture) error {
				name := utils.CropFilename(baseName, outDir, c.Index, c.Artifact.Width, c.Artifact.Height, c.Artifact.Format.Extension())
				if err := os.WriteFile(name, c.Artifact.Data, 0644); err != nil {
					return fmt.Errorf("failed to write %s: %w", name, err)
				}
				a.log.Info("raster written",
					"file", name,
					"size", utils.FormatFileSize(int64(len(c.Artifact.Data))),
					"x", c.Result.X,
					"y", c.Result.Y,
					"ratio", c.Result.Ratio,
				)
				written = append(written, name)
				return nil
			})
			if err != nil {
				return err
			}

			field := box.ResultField()
			if resultsFile != "" {
				if err := os.WriteFile(resultsFile, []byte(field+"\n"), 0644); err != nil {
					return fmt.Errorf("failed to write results: %w", err)
				}
			}
			if next := box.ActiveIndex(); next != 0 {
				a.log.Warn("script ended before every crop was captured", "next_index", next)
			}

			a.log.Info("crop session finished", "rasters", len(written), "elapsed", time.Since(start).Round(time.Millisecond))
			fmt.Fprintln(cmd.OutOrStdout(), field)
			return nil
		},
	}

	cmd.Flags().StringVar(&image, "image", "", "image to crop (path, URL or data URL)")
	cmd.Flags().StringVar(&script, "script", "capture", "steps separated by ';' e.g. \"zoom-in; drag:10,-5; capture\"")
	cmd.Flags().StringVar(&scriptFile, "script-file", "", "read steps from a file, one or more per line")
	cmd.Flags().StringVar(&outDir, "out", "", "output directory (overrides config)")
	cmd.Flags().StringVar(&resultsFile, "results", "", "also write the serialized results to this file")
	cmd.Flags().DurationVar(&timeout, "timeout", 10*time.Minute, "overall time limit")
	return cmd
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a configuration file with default values",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := a.configPath
			if path == "" {
				path = config.GetConfigPath()
			}
			if utils.FileExists(path) && !force {
				return fmt.Errorf("%s already exists (use --force to overwrite)", path)
			}
			if err := config.Default().SaveToFile(path); err != nil {
				return err
			}
			cmd.Println("wrote " + path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	showCmd := &cobra.Command{
		Use:   "show",
		Short: "Show the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := json.MarshalIndent(a.cfg, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(data))
			return nil
		},
	}

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Validate the effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := a.cfg.Validate(); err != nil {
				return err
			}
			specs := make([]string, 0, len(a.cfg.Session.CropSpecifications))
			for _, s := range a.cfg.Session.CropSpecifications {
				specs = append(specs, fmt.Sprintf("%dx%d", s.Width, s.Height))
			}
			cmd.Printf("configuration valid: %d specifications (%s)\n", len(specs), strings.Join(specs, ", "))
			return nil
		},
	}

	cmd.AddCommand(initCmd, showCmd, validateCmd)
	return cmd
}

func newVisionCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "vision",
		Short: "Inspect the auto-framing backend",
	}

	var (
		image   string
		timeout time.Duration
	)
	testCmd := &cobra.Command{
		Use:   "test",
		Short: "Ask the vision model to describe an image",
		Long: `Test sends an image to the configured ollama or llamacpp backend with a
plain description prompt. A sensible answer shows the model receives images.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if image == "" {
				return fmt.Errorf("--image is required")
			}
			detector, err := a.newModelDetector()
			if err != nil {
				return err
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			proc := processing.NewProcessor()
			data, err := proc.ReadSource(ctx, image)
			if err != nil {
				return err
			}
			img, err := proc.Decode(data)
			if err != nil {
				return fmt.Errorf("failed to decode %s: %w", image, err)
			}

			start := time.Now()
			answer, err := detector.Describe(ctx, img)
			if err != nil {
				return err
			}
			a.log.Info("vision model answered",
				"backend", a.cfg.Vision.Backend,
				"model", a.cfg.Vision.Model,
				"elapsed", time.Since(start).Round(time.Millisecond),
			)
			fmt.Fprintln(cmd.OutOrStdout(), answer)
			return nil
		},
	}
	testCmd.Flags().StringVar(&image, "image", "", "image to describe (path or URL)")
	testCmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "time limit for the model answer")

	cmd.AddCommand(testCmd)
	return cmd
}

// isLocalPath reports whether source names a file rather than a URL
func isLocalPath(source string) bool {
	if processing.IsDataURL([]byte(source)) {
		return false
	}
	return !strings.HasPrefix(source, "http://") && !strings.HasPrefix(source, "https://")
}
