// Package filter maps auscultation modes to pre-filter configurations and
// builds the matching filter stage.
package filter

import "strings"

// Mode is the user-selected auscultation band.
type Mode int

const (
	None Mode = iota
	HeartBand
	LungBand
)

func (m Mode) String() string {
	switch m {
	case HeartBand:
		return "heart"
	case LungBand:
		return "lungs"
	default:
		return "none"
	}
}

// Kind is the filter stage type.
type Kind int

const (
	PassThrough Kind = iota
	Bandpass
)

func (k Kind) String() string {
	if k == Bandpass {
		return "bandpass"
	}
	return "passthrough"
}

// Config is the immutable filter configuration for one session.
type Config struct {
	Mode              Mode    `json:"-"`
	Kind              Kind    `json:"-"`
	CenterFrequencyHz float64 `json:"center_hz,omitempty"`
	ResonanceQ        float64 `json:"q,omitempty"`
}

// ParseMode resolves a UI selection. Anything unrecognized, including the
// empty string, resolves to None.
func ParseMode(s string) Mode {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "heart":
		return HeartBand
	case "lungs", "lung":
		return LungBand
	default:
		return None
	}
}

// Select returns the deterministic configuration for mode.
func Select(mode Mode) Config {
	switch mode {
	case HeartBand:
		return Config{Mode: HeartBand, Kind: Bandpass, CenterFrequencyHz: 135, ResonanceQ: 1.2}
	case LungBand:
		return Config{Mode: LungBand, Kind: Bandpass, CenterFrequencyHz: 400, ResonanceQ: 1.5}
	default:
		return Config{Mode: None, Kind: PassThrough}
	}
}

// SelectString is Select(ParseMode(s)).
func SelectString(s string) Config {
	return Select(ParseMode(s))
}
