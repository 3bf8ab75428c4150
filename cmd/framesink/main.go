// framesink - receives frames from framecast devices.
// Saves each frame as received_image_<n>.bmp and serves a dashboard with
// live previews, device telemetry and card labeling.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/teslashibe/go-wificam/internal/config"
	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/cloud"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/receiver"
	"github.com/teslashibe/go-wificam/pkg/web"
)

func main() {
	cfg, err := parseFlags()
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Configuration error: %v\n", err)
		os.Exit(2)
	}

	log.Init(cfg.LogLevel)
	logger := log.L()

	if err := cfg.Validate(); err != nil {
		logger.Error("invalid configuration", "error", err)
		os.Exit(2)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("framesink stopped", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.ReceiverConfig, logger *slog.Logger) error {
	rx, err := receiver.New(cfg.ReceiverSettings(), logger)
	if err != nil {
		return err
	}

	var opts []web.Option
	if cfg.LabelsPath != "" {
		opts = append(opts, web.WithLabels(receiver.NewLabels(cfg.LabelsPath)))
	}
	if cfg.Devices {
		devices := cloud.NewHub(logger)
		devices.OnLink(func(id string, link *protocol.LinkData) {
			logger.Info("device link", "device_id", id, "from", link.From, "to", link.To, "ip", link.IP, "gave_up", link.GaveUp)
		})
		opts = append(opts, web.WithDevices(devices))
	}
	srv := web.NewServer(cfg.Web, rx, logger, opts...)

	rcfg := rx.Config()
	logger.Info("framesink starting",
		"listen", rcfg.Listen,
		"dashboard", cfg.Web.Listen,
		"frame", fmt.Sprintf("%dx%d %s", rcfg.Width, rcfg.Height, rcfg.Format),
		"framing", rcfg.Framing,
		"out_dir", rcfg.OutDir,
	)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return rx.ListenAndServe(ctx) })
	g.Go(func() error { return srv.Start(ctx) })
	return g.Wait()
}

// parseFlags loads the config file named by -config, then applies flags.
func parseFlags() (config.ReceiverConfig, error) {
	path := flag.String("config", os.Getenv("FRAMESINK_CONFIG"), "YAML config file")
	listen := flag.String("listen", "", "Frame listen address (default 0.0.0.0:42)")
	webListen := flag.String("web", "", "Dashboard listen address (default :8080)")
	width := flag.Int("width", 0, "Raw frame width")
	height := flag.Int("height", 0, "Raw frame height")
	format := flag.String("format", "", "Raw frame format: grayscale, rgb565, yuv422, jpeg")
	framing := flag.String("framing", "", "Wire framing: raw or header")
	outDir := flag.String("out", "", "Directory for received_image_<n>.bmp files")
	labels := flag.String("labels", "", "Label file for card labeling")
	static := flag.String("static", "", "Serve dashboard assets from this directory")
	noDevices := flag.Bool("no-devices", false, "Disable device telemetry ingest")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.LoadReceiver(*path)
	if err != nil {
		return cfg, err
	}

	if *listen != "" {
		cfg.Receiver.Listen = *listen
	}
	if *webListen != "" {
		cfg.Web.Listen = *webListen
	}
	if *width > 0 {
		cfg.Receiver.Width = *width
	}
	if *height > 0 {
		cfg.Receiver.Height = *height
	}
	if *format != "" {
		cfg.Receiver.Format = *format
	}
	if *framing != "" {
		cfg.Receiver.Framing = *framing
	}
	if *outDir != "" {
		cfg.Receiver.OutDir = *outDir
	}
	if *labels != "" {
		cfg.LabelsPath = *labels
	}
	if *static != "" {
		cfg.Web.StaticDir = *static
	}
	if *noDevices {
		cfg.Devices = false
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
