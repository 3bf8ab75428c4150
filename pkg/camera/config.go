// Package camera owns the image sensor and its frame-buffer pool.
//
// An Acquirer hands out one frame per Capture and takes it back on Release.
// Exactly one frame may be outstanding at a time; the driver-level pool
// (FBCount) only exists for double buffering inside the driver.
package camera

import "fmt"

// PixelFormat is the sensor output format.
type PixelFormat string

const (
	PixelGrayscale PixelFormat = "grayscale"
	PixelRGB565    PixelFormat = "rgb565"
	PixelYUV422    PixelFormat = "yuv422"
	PixelJPEG      PixelFormat = "jpeg"
)

// BytesPerPixel returns the raw size of one pixel, or 0 for compressed
// formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case PixelGrayscale:
		return 1
	case PixelRGB565, PixelYUV422:
		return 2
	default:
		return 0
	}
}

// FrameSize is a named sensor resolution.
type FrameSize string

const (
	FrameQQVGA FrameSize = "qqvga" // 160x120
	FrameQVGA  FrameSize = "qvga"  // 320x240
	FrameCIF   FrameSize = "cif"   // 400x296
	FrameVGA   FrameSize = "vga"   // 640x480
	FrameSVGA  FrameSize = "svga"  // 800x600
	FrameXGA   FrameSize = "xga"   // 1024x768
	FrameSXGA  FrameSize = "sxga"  // 1280x1024
	FrameUXGA  FrameSize = "uxga"  // 1600x1200
)

var frameSizes = map[FrameSize][2]int{
	FrameQQVGA: {160, 120},
	FrameQVGA:  {320, 240},
	FrameCIF:   {400, 296},
	FrameVGA:   {640, 480},
	FrameSVGA:  {800, 600},
	FrameXGA:   {1024, 768},
	FrameSXGA:  {1280, 1024},
	FrameUXGA:  {1600, 1200},
}

// Dimensions returns width and height in pixels.
func (f FrameSize) Dimensions() (width, height int, ok bool) {
	d, ok := frameSizes[f]
	return d[0], d[1], ok
}

// FBLocation is where the driver allocates frame buffers.
type FBLocation string

const (
	FBInPSRAM FBLocation = "psram"
	FBInDRAM  FBLocation = "dram"
)

// GrabMode controls when the driver refills buffers.
type GrabMode string

const (
	// GrabWhenEmpty fills buffers only when the pool has a free one.
	GrabWhenEmpty GrabMode = "when_empty"
	// GrabLatest always overwrites with the newest frame.
	GrabLatest GrabMode = "latest"
)

// Backend selects the camera driver.
type Backend string

const (
	BackendAuto Backend = "auto"
	BackendMock Backend = "mock"
	BackendGoCV Backend = "gocv"
)

// Pins is the parallel DVP wiring of the sensor. -1 marks an unused pin.
type Pins struct {
	D0    int `yaml:"d0" json:"d0"`
	D1    int `yaml:"d1" json:"d1"`
	D2    int `yaml:"d2" json:"d2"`
	D3    int `yaml:"d3" json:"d3"`
	D4    int `yaml:"d4" json:"d4"`
	D5    int `yaml:"d5" json:"d5"`
	D6    int `yaml:"d6" json:"d6"`
	D7    int `yaml:"d7" json:"d7"`
	XCLK  int `yaml:"xclk" json:"xclk"`
	PCLK  int `yaml:"pclk" json:"pclk"`
	VSYNC int `yaml:"vsync" json:"vsync"`
	HREF  int `yaml:"href" json:"href"`
	SDA   int `yaml:"sda" json:"sda"`
	SCL   int `yaml:"scl" json:"scl"`
	PWDN  int `yaml:"pwdn" json:"pwdn"`
	Reset int `yaml:"reset" json:"reset"`
}

// Config holds the one-shot driver configuration.
type Config struct {
	// Board names the preset the pins came from. Informational.
	Board string `yaml:"board" json:"board"`

	Pins Pins `yaml:"pins" json:"pins"`

	// PullupPins are GPIOs the board needs configured as pulled-up inputs
	// before the driver starts (JTAG pins shared with the sensor).
	PullupPins []int `yaml:"pullup_pins" json:"pullup_pins"`

	XCLKFreqHz  int         `yaml:"xclk_freq_hz" json:"xclk_freq_hz"`
	PixelFormat PixelFormat `yaml:"pixel_format" json:"pixel_format"`
	FrameSize   FrameSize   `yaml:"frame_size" json:"frame_size"`
	JPEGQuality int         `yaml:"jpeg_quality" json:"jpeg_quality"` // 0-63, lower is better
	FBCount     int         `yaml:"fb_count" json:"fb_count"`
	FBLocation  FBLocation  `yaml:"fb_location" json:"fb_location"`
	GrabMode    GrabMode    `yaml:"grab_mode" json:"grab_mode"`

	Backend Backend `yaml:"backend" json:"backend"`

	// Device is the OpenCV capture index for the gocv backend.
	Device int `yaml:"device" json:"device"`
}

// Sensor limits.
const (
	MinXCLKFreqHz = 1_000_000
	MaxXCLKFreqHz = 20_000_000
	MaxFBCount    = 8
	MaxPin        = 48
)

// DefaultConfig returns the ESP-EYE configuration: grayscale VGA, 10 MHz
// XCLK, two buffers in PSRAM.
func DefaultConfig() Config {
	return ESPEyeConfig()
}

// Width returns the configured frame width.
func (c *Config) Width() int {
	w, _, _ := c.FrameSize.Dimensions()
	return w
}

// Height returns the configured frame height.
func (c *Config) Height() int {
	_, h, _ := c.FrameSize.Dimensions()
	return h
}

// FrameBytes returns the exact raw frame size, or 0 for JPEG.
func (c *Config) FrameBytes() int {
	return c.Width() * c.Height() * c.PixelFormat.BytesPerPixel()
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	if c.XCLKFreqHz < MinXCLKFreqHz || c.XCLKFreqHz > MaxXCLKFreqHz {
		errors = append(errors, fmt.Sprintf("xclk_freq_hz must be between %d and %d", MinXCLKFreqHz, MaxXCLKFreqHz))
	}

	switch c.PixelFormat {
	case PixelGrayscale, PixelRGB565, PixelYUV422, PixelJPEG:
	default:
		errors = append(errors, "pixel_format must be grayscale, rgb565, yuv422, or jpeg")
	}

	if _, _, ok := c.FrameSize.Dimensions(); !ok {
		errors = append(errors, fmt.Sprintf("unknown frame_size %q", c.FrameSize))
	}

	if c.JPEGQuality < 0 || c.JPEGQuality > 63 {
		errors = append(errors, "jpeg_quality must be between 0 and 63")
	}

	if c.FBCount < 1 || c.FBCount > MaxFBCount {
		errors = append(errors, fmt.Sprintf("fb_count must be between 1 and %d", MaxFBCount))
	}

	switch c.FBLocation {
	case FBInPSRAM, FBInDRAM:
	default:
		errors = append(errors, "fb_location must be psram or dram")
	}

	switch c.GrabMode {
	case GrabWhenEmpty, GrabLatest:
	default:
		errors = append(errors, "grab_mode must be when_empty or latest")
	}

	switch c.Backend {
	case BackendAuto, BackendMock, BackendGoCV:
	default:
		errors = append(errors, "backend must be auto, mock, or gocv")
	}

	if c.Backend == BackendGoCV && c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}

	// Data and clock pins are mandatory; pwdn and reset may be -1.
	required := map[string]int{
		"d0": c.Pins.D0, "d1": c.Pins.D1, "d2": c.Pins.D2, "d3": c.Pins.D3,
		"d4": c.Pins.D4, "d5": c.Pins.D5, "d6": c.Pins.D6, "d7": c.Pins.D7,
		"xclk": c.Pins.XCLK, "pclk": c.Pins.PCLK, "vsync": c.Pins.VSYNC,
		"href": c.Pins.HREF, "sda": c.Pins.SDA, "scl": c.Pins.SCL,
	}
	for _, name := range []string{"d0", "d1", "d2", "d3", "d4", "d5", "d6", "d7", "xclk", "pclk", "vsync", "href", "sda", "scl"} {
		if pin := required[name]; pin < 0 || pin > MaxPin {
			errors = append(errors, fmt.Sprintf("pin %s must be between 0 and %d", name, MaxPin))
		}
	}
	for name, pin := range map[string]int{"pwdn": c.Pins.PWDN, "reset": c.Pins.Reset} {
		if pin < -1 || pin > MaxPin {
			errors = append(errors, fmt.Sprintf("pin %s must be -1 or between 0 and %d", name, MaxPin))
		}
	}
	for _, pin := range c.PullupPins {
		if pin < 0 || pin > MaxPin {
			errors = append(errors, fmt.Sprintf("pullup pin %d out of range", pin))
		}
	}

	return errors
}

// Capabilities describes what the package supports.
func Capabilities() map[string]interface{} {
	sizes := make([]string, 0, len(frameSizes))
	for _, s := range []FrameSize{FrameQQVGA, FrameQVGA, FrameCIF, FrameVGA, FrameSVGA, FrameXGA, FrameSXGA, FrameUXGA} {
		sizes = append(sizes, string(s))
	}
	return map[string]interface{}{
		"pixel_formats": []string{"grayscale", "rgb565", "yuv422", "jpeg"},
		"frame_sizes":   sizes,
		"max_fb_count":  MaxFBCount,
		"backends":      AvailableBackends(),
		"boards":        PresetNames(),
	}
}
