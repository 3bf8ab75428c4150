package camera

// Preset names for supported boards
const (
	PresetESPEye    = "esp-eye"
	PresetAIThinker = "ai-thinker"
	PresetWebcam    = "webcam"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetESPEye:    ESPEyeConfig(),
		PresetAIThinker: AIThinkerConfig(),
		PresetWebcam:    WebcamConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetESPEye,
		PresetAIThinker,
		PresetWebcam,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	presets := Presets()
	if cfg, ok := presets[name]; ok {
		return &cfg
	}
	return nil
}

// ESPEyeConfig returns the ESP-EYE wiring.
// IO13 and IO14 double as JTAG and must be pulled up first.
func ESPEyeConfig() Config {
	return Config{
		Board: PresetESPEye,
		Pins: Pins{
			D0: 34, D1: 13, D2: 14, D3: 35,
			D4: 39, D5: 38, D6: 37, D7: 36,
			XCLK: 4, PCLK: 25, VSYNC: 5, HREF: 27,
			SDA: 18, SCL: 23,
			PWDN: -1, Reset: -1,
		},
		PullupPins:  []int{13, 14},
		XCLKFreqHz:  10_000_000,
		PixelFormat: PixelGrayscale,
		FrameSize:   FrameVGA,
		JPEGQuality: 12,
		FBCount:     2,
		FBLocation:  FBInPSRAM,
		GrabMode:    GrabWhenEmpty,
		Backend:     BackendAuto,
	}
}

// AIThinkerConfig returns the ESP32-CAM (AI-Thinker) wiring.
func AIThinkerConfig() Config {
	cfg := ESPEyeConfig()
	cfg.Board = PresetAIThinker
	cfg.Pins = Pins{
		D0: 5, D1: 18, D2: 19, D3: 21,
		D4: 36, D5: 39, D6: 34, D7: 35,
		XCLK: 0, PCLK: 22, VSYNC: 25, HREF: 23,
		SDA: 26, SCL: 27,
		PWDN: 32, Reset: -1,
	}
	cfg.PullupPins = nil
	cfg.XCLKFreqHz = 20_000_000
	return cfg
}

// WebcamConfig targets a host webcam through OpenCV.
// Pins are kept from the ESP-EYE so the config still validates.
func WebcamConfig() Config {
	cfg := ESPEyeConfig()
	cfg.Board = PresetWebcam
	cfg.PullupPins = nil
	cfg.FBLocation = FBInDRAM
	cfg.Backend = BackendGoCV
	return cfg
}
