package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"ppe-safety-worker/internal/config"
	"ppe-safety-worker/internal/logging"
	"ppe-safety-worker/internal/models"
)

type flags struct {
	port       int
	camera     string
	piIP       string
	piPort     string
	piPath     string
	piProtocol string
	logLevel   string
	autostart  bool
}

var opts flags

// version is overridden at build time with -ldflags "-X main.version=..."
var version = "1.0.0"

var rootCmd = &cobra.Command{
	Use:          "ppe-worker",
	Short:        "Helmet and safety jacket compliance worker",
	Long:         "Reads a camera, checks every person for a helmet and a safety jacket, streams annotated video and raises alerts.",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := config.Load()
		applyFlags(cmd, cfg)

		extra, _, err := logging.StartLogdy(cfg)
		if err != nil {
			// the viewer is optional, keep console logging
			logging.Setup(cfg.LogLevel, nil)
			log.Warn().Err(err).Msg("Logdy disabled")
		} else {
			logging.Setup(cfg.LogLevel, extra)
		}

		if err := cfg.Validate(); err != nil {
			return err
		}

		return run(cmd.Context(), cfg, opts.autostart)
	},
}

func init() {
	f := rootCmd.Flags()
	f.IntVarP(&opts.port, "port", "p", 5000, "HTTP port")
	f.StringVarP(&opts.camera, "camera", "c", "0", "Camera device index, stream URL or video file")
	f.StringVar(&opts.piIP, "pi-ip", "", "Raspberry Pi camera address, overrides --camera")
	f.StringVar(&opts.piPort, "pi-port", "8554", "Raspberry Pi stream port")
	f.StringVar(&opts.piPath, "pi-path", "cam", "Raspberry Pi stream path")
	f.StringVar(&opts.piProtocol, "pi-protocol", "rtsp", "Raspberry Pi stream protocol (rtsp, http, tcp, udp)")
	f.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	f.BoolVar(&opts.autostart, "autostart", false, "Start detection immediately instead of waiting for POST /start")
}

// applyFlags lets explicitly set flags win over the environment
func applyFlags(cmd *cobra.Command, cfg *config.Config) {
	f := cmd.Flags()
	if f.Changed("port") {
		cfg.Port = opts.port
	}
	if f.Changed("camera") {
		cfg.Camera.Device = opts.camera
	}
	if f.Changed("pi-ip") {
		cfg.Camera.PiIP = opts.piIP
	}
	if f.Changed("pi-port") {
		cfg.Camera.PiPort = opts.piPort
	}
	if f.Changed("pi-path") {
		cfg.Camera.PiPath = opts.piPath
	}
	if f.Changed("pi-protocol") {
		cfg.Camera.Protocol = models.StreamProtocol(opts.piProtocol)
	}
	if f.Changed("log-level") {
		cfg.LogLevel = opts.logLevel
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(`{{printf "%s\n" .Version}}`)

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
