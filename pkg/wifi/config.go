// Package wifi manages the station-mode Wi-Fi lifecycle of the device.
//
// The Manager owns the connection state machine:
//
//	Idle -> Associating -> Connected
//	any  -> Disconnected        (link loss, for any reason)
//	Disconnected -> Associating (reconnect attempt)
//	Disconnected -> Failed      (bounded retry policy gave up)
//
// Link events are produced asynchronously by a Station driver on its own
// dispatch goroutine. The manager stores the current state atomically and
// publishes every transition on subscription channels, so readers never see a
// torn value and ordering is well-defined.
package wifi

import (
	"fmt"
	"strings"
	"time"
)

// ScanMethod selects how the radio scans for the configured SSID.
type ScanMethod string

const (
	// ScanFast stops at the first AP matching the SSID and thresholds.
	ScanFast ScanMethod = "fast"
	// ScanAllChannel scans every channel and picks the best AP.
	ScanAllChannel ScanMethod = "all_channel"
)

// SortMethod orders candidate APs found by an all-channel scan.
type SortMethod string

const (
	SortBySignal   SortMethod = "signal"
	SortBySecurity SortMethod = "security"
)

// AuthMode is the weakest authentication mode the station will accept.
// Modes are ordered: WPA2 > WPA > WEP > Open.
type AuthMode string

const (
	AuthOpen AuthMode = "open"
	AuthWEP  AuthMode = "wep"
	AuthWPA  AuthMode = "wpa"
	AuthWPA2 AuthMode = "wpa2"
)

// Rank returns the strength order of the mode (higher is stronger), or -1
// for unknown modes.
func (a AuthMode) Rank() int {
	switch a {
	case AuthOpen:
		return 0
	case AuthWEP:
		return 1
	case AuthWPA:
		return 2
	case AuthWPA2:
		return 3
	default:
		return -1
	}
}

// RSSI bounds accepted by the radio.
const (
	MinRSSI = -127
	MaxRSSI = 0
)

// Credentials is the station configuration, read once at startup.
type Credentials struct {
	SSID       string     `yaml:"ssid" json:"ssid"`
	Password   string     `yaml:"password" json:"-"`
	ScanMethod ScanMethod `yaml:"scan_method" json:"scan_method"`
	SortMethod SortMethod `yaml:"sort_method" json:"sort_method"`

	// MinRSSI filters out APs weaker than this threshold (dBm).
	MinRSSI int `yaml:"min_rssi" json:"min_rssi"`

	// MinAuthMode filters out APs with weaker security.
	MinAuthMode AuthMode `yaml:"min_auth_mode" json:"min_auth_mode"`
}

// DefaultCredentials returns credentials with the default scan policy and no
// thresholds. SSID and password still need to be filled in.
func DefaultCredentials() Credentials {
	return Credentials{
		ScanMethod:  ScanFast,
		SortMethod:  SortBySignal,
		MinRSSI:     MinRSSI,
		MinAuthMode: AuthOpen,
	}
}

// Validate checks the credentials against the limits of an 802.11 station.
func (c *Credentials) Validate() error {
	if c.SSID == "" {
		return fmt.Errorf("wifi: ssid is required")
	}
	if len(c.SSID) > 32 {
		return fmt.Errorf("wifi: ssid must be at most 32 bytes, got %d", len(c.SSID))
	}
	if len(c.Password) > 64 {
		return fmt.Errorf("wifi: password must be at most 64 bytes, got %d", len(c.Password))
	}
	switch c.ScanMethod {
	case ScanFast, ScanAllChannel:
	default:
		return fmt.Errorf("wifi: scan_method must be fast or all_channel, got %q", c.ScanMethod)
	}
	switch c.SortMethod {
	case SortBySignal, SortBySecurity:
	default:
		return fmt.Errorf("wifi: sort_method must be signal or security, got %q", c.SortMethod)
	}
	if c.MinRSSI < MinRSSI || c.MinRSSI > MaxRSSI {
		return fmt.Errorf("wifi: min_rssi must be between %d and %d, got %d", MinRSSI, MaxRSSI, c.MinRSSI)
	}
	if c.MinAuthMode.Rank() < 0 {
		return fmt.Errorf("wifi: min_auth_mode must be one of open, wep, wpa, wpa2, got %q", c.MinAuthMode)
	}
	return nil
}

// String hides the password.
func (c Credentials) String() string {
	return fmt.Sprintf("ssid=%s scan=%s sort=%s min_rssi=%d min_auth=%s password=%s",
		c.SSID, c.ScanMethod, c.SortMethod, c.MinRSSI, c.MinAuthMode,
		strings.Repeat("*", min(len(c.Password), 8)))
}

// ReconnectConfig controls how the manager re-associates after link loss.
type ReconnectConfig struct {
	// RetryDelay is the delay before the first retry. Zero retries
	// immediately from the event handler.
	RetryDelay time.Duration `yaml:"retry_delay" json:"retry_delay"`

	// MaxRetryDelay caps the exponential backoff.
	MaxRetryDelay time.Duration `yaml:"max_retry_delay" json:"max_retry_delay"`

	// MaxRetries is the number of consecutive failed attempts tolerated
	// before the manager gives up. 0 means unlimited.
	MaxRetries int `yaml:"max_retries" json:"max_retries"`
}

// DefaultReconnectConfig returns bounded exponential backoff (1s doubling to
// 30s) with unlimited retries.
func DefaultReconnectConfig() ReconnectConfig {
	return ReconnectConfig{
		RetryDelay:    1 * time.Second,
		MaxRetryDelay: 30 * time.Second,
		MaxRetries:    0,
	}
}

// Validate checks the reconnect policy.
func (c *ReconnectConfig) Validate() error {
	if c.RetryDelay < 0 {
		return fmt.Errorf("wifi: retry_delay must not be negative, got %v", c.RetryDelay)
	}
	if c.MaxRetryDelay < c.RetryDelay {
		return fmt.Errorf("wifi: max_retry_delay (%v) must be >= retry_delay (%v)", c.MaxRetryDelay, c.RetryDelay)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("wifi: max_retries must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Backoff returns the delay before the given retry attempt (1-based):
// RetryDelay * 2^(attempt-1), capped at MaxRetryDelay.
func (c ReconnectConfig) Backoff(attempt int) time.Duration {
	if attempt < 1 || c.RetryDelay <= 0 {
		return 0
	}
	// Past 2^30 the cap always applies; avoid overflowing the shift.
	if attempt > 31 {
		return c.MaxRetryDelay
	}
	delay := c.RetryDelay * time.Duration(1<<uint(attempt-1))
	if delay > c.MaxRetryDelay || delay <= 0 {
		delay = c.MaxRetryDelay
	}
	return delay
}
