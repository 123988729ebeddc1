package main

import (
	"encoding/json"
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"vinscan-service/internal/capture"
	"vinscan-service/internal/config"
	"vinscan-service/internal/domain/vin"
	"vinscan-service/internal/recognize"
	"vinscan-service/internal/registry"
	"vinscan-service/internal/scan"
	"vinscan-service/internal/settings"
)

// newScanCmd runs a single scan session against a camera stream from
// the terminal, without the API server or database.
func newScanCmd() *cobra.Command {
	var streamURL string
	var mode string
	var preset string
	var presetsPath string
	var timeout time.Duration
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Scan a camera stream for a VIN and print the result",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := newLogger(cmd)
			cfgPath, _ := cmd.Flags().GetString("config")
			cfg, err := config.Load(cfgPath)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}

			if streamURL == "" {
				streamURL = cfg.Camera.StreamURL
			}
			if streamURL == "" {
				return fmt.Errorf("no stream URL given (use --stream or camera.stream_url)")
			}
			if mode == "" {
				mode = cfg.Scan.DefaultMode
			}
			scanMode := vin.ScanMode(mode)
			if !scanMode.Valid() {
				return fmt.Errorf("mode must be text or barcode, got %q", mode)
			}
			if preset == "" {
				preset = cfg.Scan.DefaultPreset
			}

			presets, err := settings.Load(presetsPath)
			if err != nil {
				return fmt.Errorf("loading presets: %w", err)
			}
			procSettings, ok := presets.Get(preset)
			if !ok {
				return fmt.Errorf("unknown preset %q", preset)
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			session := scan.NewSession(scan.Config{
				Mode:   scanMode,
				Source: capture.NewMJPEGSource(streamURL, log),
				NewEngine: func(m vin.ScanMode) (recognize.Engine, error) {
					return recognize.NewEngine(m, log)
				},
				Registry: registry.NewClient(cfg.Registry.BaseURL, log),
				Settings: procSettings,
				Log:      log,
			})
			if err := session.Start(ctx); err != nil {
				return fmt.Errorf("starting session: %w", err)
			}
			defer session.Cancel()

			log.Info().
				Str("stream", streamURL).
				Str("mode", mode).
				Str("preset", preset).
				Msg("scanning")

			deadline := time.Now().Add(timeout)
			ticker := time.NewTicker(200 * time.Millisecond)
			defer ticker.Stop()
			for session.State() != scan.StateConfirming {
				if session.State().Terminal() {
					return fmt.Errorf("session ended in state %s", session.State())
				}
				select {
				case <-ctx.Done():
					return fmt.Errorf("scan interrupted")
				case <-ticker.C:
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("no VIN found within %s", timeout)
				}
			}

			result, err := session.Confirm(ctx)
			if err != nil {
				return fmt.Errorf("confirming result: %w", err)
			}

			out, err := json.MarshalIndent(result, "", "  ")
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), string(out))
			return nil
		},
	}
	cmd.Flags().StringVar(&streamURL, "stream", "", "MJPEG stream URL")
	cmd.Flags().StringVar(&mode, "mode", "", "scan mode (text or barcode)")
	cmd.Flags().StringVar(&preset, "preset", "", "preprocessing preset name")
	cmd.Flags().StringVar(&presetsPath, "presets", "", "path to a presets YAML file")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}
