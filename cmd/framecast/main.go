// framecast - streams camera frames over Wi-Fi to a fixed receiver.
// Brings up storage, Wi-Fi and the camera, then captures and sends one frame
// per TCP connection on a fixed cadence.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-wificam/internal/config"
	"github.com/teslashibe/go-wificam/internal/log"
	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/nvs"
	"github.com/teslashibe/go-wificam/pkg/protocol"
	"github.com/teslashibe/go-wificam/pkg/streamer"
	"github.com/teslashibe/go-wificam/pkg/telemetry"
	"github.com/teslashibe/go-wificam/pkg/transmit"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

var version = "dev"

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

	// Runtime faults are logged by the streamer and never end the process.
	// Only bring-up failures and bad wiring do.
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("framecast stopped", "error", err)
		var fatal *streamer.FatalInitError
		if errors.As(err, &fatal) {
			os.Exit(1)
		}
		os.Exit(2)
	}
}

func run(ctx context.Context, cfg config.DeviceConfig, logger *slog.Logger) error {
	stCfg, err := cfg.StreamerSettings()
	if err != nil {
		return err
	}

	store := nvs.Open(cfg.StorageDir, logger)

	station, err := wifi.NewStation(cfg.Station.Backend, cfg.Station.Interface, cfg.Station.SimIP)
	if err != nil {
		return err
	}
	network := wifi.NewManager(station, cfg.Reconnect, logger)

	tx, err := transmit.New(cfg.TransmitSettings(), logger)
	if err != nil {
		return err
	}

	deps := streamer.Deps{
		Storage: store,
		Network: network,
		Camera:  camera.NewAcquirer(logger),
		Sender:  tx,
	}

	if cfg.Telemetry.Enabled() {
		tcfg := cfg.Telemetry
		if tcfg.DeviceID == "" {
			tcfg.DeviceID = deviceID(store, logger)
		}
		client, err := telemetry.New(tcfg, protocol.HelloData{
			Board:    stCfg.Camera.Board,
			Version:  version,
			Endpoint: cfg.Transmit.Endpoint,
			Framing:  string(cfg.Transmit.Framing),
		}, logger)
		if err != nil {
			return err
		}
		go client.Run(ctx)
		deps.Reporter = client
	}

	app, err := streamer.New(stCfg, deps, logger)
	if err != nil {
		return err
	}
	defer app.Shutdown()

	logger.Info("framecast starting",
		"version", version,
		"endpoint", cfg.Transmit.Endpoint,
		"chunk_size", cfg.Transmit.ChunkSize.String(),
		"framing", cfg.Transmit.Framing,
		"wifi", cfg.WiFi.String(),
		"station", cfg.Station.Backend,
	)

	if err := app.Init(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}
	return app.Run(ctx)
}

// deviceID returns the ID persisted in storage, generating one on first
// boot. It returns "" if storage is unusable; the streamer reports that.
// The streamer's own Init gets the same result, erase included.
func deviceID(store *nvs.Store, logger *slog.Logger) string {
	if _, err := store.Init(); err != nil {
		return ""
	}
	if id, ok := store.Get(nvs.KeyDeviceID); ok && id != "" {
		return id
	}
	id := uuid.NewString()
	if err := store.Set(nvs.KeyDeviceID, id); err != nil {
		logger.Warn("could not persist device id", "error", err)
	}
	return id
}

// parseFlags loads the config file named by -config, then applies flags.
func parseFlags() (config.DeviceConfig, error) {
	path := flag.String("config", os.Getenv("FRAMECAST_CONFIG"), "YAML config file")
	ssid := flag.String("ssid", "", "Wi-Fi SSID (overrides WIFI_SSID)")
	password := flag.String("password", "", "Wi-Fi passphrase (overrides WIFI_PASSWORD)")
	dest := flag.String("dest", "", "Receiver address ip:port (overrides FRAMECAST_DEST)")
	chunk := flag.String("chunk-size", "", "Write chunk size, e.g. 1024 or 1KiB")
	framing := flag.String("framing", "", "Wire framing: raw or header")
	preset := flag.String("camera", "", "Camera preset: esp-eye, ai-thinker, webcam")
	frameSize := flag.String("frame-size", "", "Frame size: qqvga, qvga, vga, ...")
	backend := flag.String("camera-backend", "", "Camera backend: auto, mock, gocv")
	station := flag.String("station", "", "Wi-Fi station backend: sim or host")
	iface := flag.String("iface", "", "Host interface for the host station")
	iterations := flag.Int("iterations", 0, "Loop budget; N runs N-1 cycles, negative runs forever")
	delay := flag.Duration("delay", 0, "Pause between cycles")
	waitLink := flag.Bool("wait-for-link", false, "Wait for Wi-Fi instead of a fixed settle delay")
	telemetryURL := flag.String("telemetry", "", "Telemetry websocket URL, e.g. ws://host:8080/ws/device")
	debug := flag.Bool("debug", false, "Enable verbose debug logging")
	flag.Parse()

	cfg, err := config.LoadDevice(*path)
	if err != nil {
		return cfg, err
	}

	set := map[string]bool{}
	flag.Visit(func(f *flag.Flag) { set[f.Name] = true })

	if *ssid != "" {
		cfg.WiFi.SSID = *ssid
	}
	if *password != "" {
		cfg.WiFi.Password = *password
	}
	if *dest != "" {
		cfg.Transmit.Endpoint = *dest
	}
	if *chunk != "" {
		n, err := config.ParseByteSize(*chunk)
		if err != nil {
			return cfg, fmt.Errorf("-chunk-size: %w", err)
		}
		cfg.Transmit.ChunkSize = n
	}
	if *framing != "" {
		cfg.Transmit.Framing = transmit.Framing(*framing)
	}
	if *preset != "" {
		cfg.Camera.Preset = *preset
	}
	if *frameSize != "" {
		cfg.Camera.FrameSize = camera.FrameSize(*frameSize)
	}
	if *backend != "" {
		cfg.Camera.Backend = camera.Backend(*backend)
	}
	if *station != "" {
		cfg.Station.Backend = *station
	}
	if *iface != "" {
		cfg.Station.Interface = *iface
	}
	if set["iterations"] {
		cfg.Loop.Iterations = *iterations
	}
	if set["delay"] {
		cfg.Loop.Delay = *delay
	}
	if set["wait-for-link"] {
		cfg.WaitForLink = *waitLink
		if cfg.WaitForLink && cfg.NetworkSettle == 0 {
			cfg.NetworkSettle = 30 * time.Second
		}
	}
	if *telemetryURL != "" {
		cfg.Telemetry.URL = *telemetryURL
	}
	if *debug {
		cfg.LogLevel = "debug"
	}
	return cfg, nil
}
