// Package uvchost is a host-side USB Video Class webcam driver core:
// format negotiation, isochronous/bulk streaming, payload deframing,
// YUY2/MJPEG decode to BGRA, automatic resolution fallback, and a
// parallel USB-audio microphone pump.
package uvchost

import (
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// DebugLevel mirrors the DEBUG_LEVEL environment setting.
type DebugLevel int

const (
	DebugNone DebugLevel = iota
	DebugError
	DebugWarn
	DebugInfo
	DebugVerbose
	DebugTrace
)

// ParseDebugLevel accepts the symbolic names or digits 0..5; anything
// unrecognized falls back to info.
func ParseDebugLevel(s string) DebugLevel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "none", "0":
		return DebugNone
	case "error", "1":
		return DebugError
	case "warn", "warning", "2":
		return DebugWarn
	case "info", "3", "":
		return DebugInfo
	case "verbose", "4":
		return DebugVerbose
	case "trace", "5":
		return DebugTrace
	}
	return DebugInfo
}

func (l DebugLevel) zerologLevel() zerolog.Level {
	switch l {
	case DebugNone:
		return zerolog.Disabled
	case DebugError:
		return zerolog.ErrorLevel
	case DebugWarn:
		return zerolog.WarnLevel
	case DebugInfo:
		return zerolog.InfoLevel
	case DebugVerbose:
		return zerolog.DebugLevel
	default:
		return zerolog.TraceLevel
	}
}

// Config carries the environment-tunable behaviour switches.
type Config struct {
	DebugLevel           DebugLevel
	SafeMode             bool // start at the lowest resolution
	DisableHighBandwidth bool
	ForceHighBandwidth   bool
	FrameRepeat          bool // substitute last good frame on validation failure
}

func envBool(name string) bool {
	v := strings.ToLower(strings.TrimSpace(os.Getenv(name)))
	return v == "1" || v == "yes" || v == "true"
}

// LoadConfig reads the recognized environment overrides once.
func LoadConfig() Config {
	return Config{
		DebugLevel:           ParseDebugLevel(os.Getenv("DEBUG_LEVEL")),
		SafeMode:             envBool("SAFE_MODE"),
		DisableHighBandwidth: envBool("DISABLE_HIGH_BANDWIDTH"),
		ForceHighBandwidth:   envBool("FORCE_HIGH_BANDWIDTH"),
		FrameRepeat:          envBool("FRAME_REPEAT"),
	}
}

// Logger builds a console logger honoring the configured level.
func (c Config) Logger() zerolog.Logger {
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		Level(c.DebugLevel.zerologLevel()).
		With().Timestamp().Logger()
}
