package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/teslashibe/go-wificam/pkg/camera"
	"github.com/teslashibe/go-wificam/pkg/streamer"
	"github.com/teslashibe/go-wificam/pkg/telemetry"
	"github.com/teslashibe/go-wificam/pkg/transmit"
	"github.com/teslashibe/go-wificam/pkg/wifi"
)

// StationConfig selects the Wi-Fi driver.
type StationConfig struct {
	// Backend is "sim" or "host".
	Backend string `yaml:"backend" json:"backend"`

	// Interface is the host interface to watch for an address.
	Interface string `yaml:"interface" json:"interface"`

	// SimIP is the address the simulated station reports.
	SimIP string `yaml:"sim_ip" json:"sim_ip"`
}

// TransmitConfig is transmit.Config with a human-readable chunk size.
type TransmitConfig struct {
	Endpoint       string           `yaml:"endpoint" json:"endpoint"`
	ChunkSize      ByteSize         `yaml:"chunk_size" json:"chunk_size"`
	ConnectTimeout time.Duration    `yaml:"connect_timeout" json:"connect_timeout"`
	WriteTimeout   time.Duration    `yaml:"write_timeout" json:"write_timeout"`
	Framing        transmit.Framing `yaml:"framing" json:"framing"`
}

// CameraConfig picks a board preset and overrides a few of its fields.
// Zero values keep the preset's setting.
type CameraConfig struct {
	Preset      string             `yaml:"preset" json:"preset"`
	FrameSize   camera.FrameSize   `yaml:"frame_size" json:"frame_size"`
	PixelFormat camera.PixelFormat `yaml:"pixel_format" json:"pixel_format"`
	JPEGQuality int                `yaml:"jpeg_quality" json:"jpeg_quality"`
	Backend     camera.Backend     `yaml:"backend" json:"backend"`
	Device      int                `yaml:"device" json:"device"`
}

// DeviceConfig configures framecast.
type DeviceConfig struct {
	WiFi      wifi.Credentials     `yaml:"wifi" json:"wifi"`
	Reconnect wifi.ReconnectConfig `yaml:"reconnect" json:"reconnect"`
	Station   StationConfig        `yaml:"station" json:"station"`
	Transmit  TransmitConfig       `yaml:"transmit" json:"transmit"`
	Camera    CameraConfig         `yaml:"camera" json:"camera"`
	Loop      streamer.LoopConfig  `yaml:"loop" json:"loop"`

	NetworkSettle time.Duration `yaml:"network_settle" json:"network_settle"`
	CameraSettle  time.Duration `yaml:"camera_settle" json:"camera_settle"`
	WaitForLink   bool          `yaml:"wait_for_link" json:"wait_for_link"`
	StatsInterval time.Duration `yaml:"stats_interval" json:"stats_interval"`

	// StorageDir holds the persistent key/value store.
	StorageDir string `yaml:"storage_dir" json:"storage_dir"`

	Telemetry telemetry.Config `yaml:"telemetry" json:"telemetry"`

	LogLevel string `yaml:"log_level" json:"log_level"`
}

// DefaultDevice returns the stock device: ESP-EYE grayscale VGA, simulated
// station, frames to 192.168.0.24:42 in 1 KiB chunks.
func DefaultDevice() DeviceConfig {
	st := streamer.DefaultConfig()
	tx := transmit.DefaultConfig()
	return DeviceConfig{
		WiFi:      wifi.DefaultCredentials(),
		Reconnect: wifi.DefaultReconnectConfig(),
		Station: StationConfig{
			Backend: "sim",
			SimIP:   "192.168.0.50",
		},
		Transmit: TransmitConfig{
			Endpoint:  tx.Endpoint,
			ChunkSize: ByteSize(tx.ChunkSize),
			Framing:   tx.Framing,
		},
		Camera:        CameraConfig{Preset: camera.PresetESPEye},
		Loop:          st.Loop,
		NetworkSettle: st.NetworkSettle,
		CameraSettle:  st.CameraSettle,
		StorageDir:    "nvs",
		Telemetry:     telemetry.DefaultConfig(),
		LogLevel:      "info",
	}
}

// LoadDevice returns defaults overlaid with the YAML file at path (if it
// exists) and then the environment.
func LoadDevice(path string) (DeviceConfig, error) {
	cfg := DefaultDevice()
	if err := load(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cfg.ApplyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ApplyEnv overrides fields from WIFI_SSID, WIFI_PASSWORD, FRAMECAST_DEST,
// FRAMECAST_CHUNK_SIZE, FRAMECAST_FRAMING, FRAMECAST_STATION,
// FRAMECAST_STORAGE_DIR, FRAMECAST_TELEMETRY_URL and FRAMECAST_LOG_LEVEL.
func (c *DeviceConfig) ApplyEnv() error {
	envString("WIFI_SSID", &c.WiFi.SSID)
	envString("WIFI_PASSWORD", &c.WiFi.Password)
	envString("FRAMECAST_DEST", &c.Transmit.Endpoint)
	envString("FRAMECAST_STATION", &c.Station.Backend)
	envString("FRAMECAST_STORAGE_DIR", &c.StorageDir)
	envString("FRAMECAST_TELEMETRY_URL", &c.Telemetry.URL)
	envString("FRAMECAST_LOG_LEVEL", &c.LogLevel)

	var framing string
	envString("FRAMECAST_FRAMING", &framing)
	if framing != "" {
		c.Transmit.Framing = transmit.Framing(framing)
	}

	if v, ok := os.LookupEnv("FRAMECAST_CHUNK_SIZE"); ok && v != "" {
		n, err := ParseByteSize(v)
		if err != nil {
			return fieldError("FRAMECAST_CHUNK_SIZE", err)
		}
		c.Transmit.ChunkSize = n
	}
	return nil
}

// CameraSettings resolves the preset and applies the overrides.
func (c *DeviceConfig) CameraSettings() (camera.Config, error) {
	name := c.Camera.Preset
	if name == "" {
		name = camera.PresetESPEye
	}
	preset := camera.GetPreset(name)
	if preset == nil {
		return camera.Config{}, fmt.Errorf("unknown preset %q, want one of %s",
			name, strings.Join(camera.PresetNames(), ", "))
	}
	cfg := *preset
	if c.Camera.FrameSize != "" {
		cfg.FrameSize = c.Camera.FrameSize
	}
	if c.Camera.PixelFormat != "" {
		cfg.PixelFormat = c.Camera.PixelFormat
	}
	if c.Camera.JPEGQuality != 0 {
		cfg.JPEGQuality = c.Camera.JPEGQuality
	}
	if c.Camera.Backend != "" {
		cfg.Backend = c.Camera.Backend
	}
	if c.Camera.Device != 0 {
		cfg.Device = c.Camera.Device
	}
	return cfg, nil
}

// TransmitSettings converts to the transmitter's config.
func (c *DeviceConfig) TransmitSettings() transmit.Config {
	return transmit.Config{
		Endpoint:       c.Transmit.Endpoint,
		ChunkSize:      int(c.Transmit.ChunkSize),
		ConnectTimeout: c.Transmit.ConnectTimeout,
		WriteTimeout:   c.Transmit.WriteTimeout,
		Framing:        c.Transmit.Framing,
	}
}

// StreamerSettings builds the orchestrator config.
func (c *DeviceConfig) StreamerSettings() (streamer.Config, error) {
	cam, err := c.CameraSettings()
	if err != nil {
		return streamer.Config{}, err
	}
	return streamer.Config{
		Credentials:   c.WiFi,
		Camera:        cam,
		Loop:          c.Loop,
		NetworkSettle: c.NetworkSettle,
		CameraSettle:  c.CameraSettle,
		WaitForLink:   c.WaitForLink,
		StatsInterval: c.StatsInterval,
	}, nil
}

// Validate checks every section and returns the first problem as a
// *ConfigError.
func (c *DeviceConfig) Validate() error {
	if err := c.WiFi.Validate(); err != nil {
		return fieldError("wifi", err)
	}
	if err := c.Reconnect.Validate(); err != nil {
		return fieldError("reconnect", err)
	}
	switch c.Station.Backend {
	case "sim", "host":
	default:
		return &ConfigError{Field: "station.backend", Message: fmt.Sprintf("must be sim or host, got %q", c.Station.Backend)}
	}

	tx := c.TransmitSettings()
	if err := tx.Validate(); err != nil {
		return fieldError("transmit", err)
	}

	cam, err := c.CameraSettings()
	if err != nil {
		return fieldError("camera.preset", err)
	}
	if problems := cam.Validate(); len(problems) > 0 {
		return &ConfigError{Field: "camera", Message: strings.Join(problems, "; ")}
	}

	st, _ := c.StreamerSettings()
	if err := st.Validate(); err != nil {
		var ce *streamer.ConfigError
		if errors.As(err, &ce) {
			return &ConfigError{Field: ce.Field, Message: ce.Message}
		}
		return fieldError("streamer", err)
	}

	if c.StorageDir == "" {
		return &ConfigError{Field: "storage_dir", Message: "is required"}
	}
	if err := c.Telemetry.Validate(); err != nil {
		return fieldError("telemetry", err)
	}
	return nil
}
