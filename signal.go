package gocapture

import (
	"github.com/pkg/errors"
)

// VideoSignalParameters are the analog adjustments a capture card applies
// to an incoming signal. One instance is the live setting; others are kept
// per resolution by a ModeStore.
type VideoSignalParameters struct {
	VerticalPosition   int
	HorizontalPosition int
	HorizontalScale    int
	Phase              int
	BlackLevel         int

	Brightness int
	Contrast   int

	RedBrightness   int
	RedContrast     int
	GreenBrightness int
	GreenContrast   int
	BlueBrightness  int
	BlueContrast    int
}

// DefaultVideoSignalParameters returns the device-independent defaults
// applied to resolutions no one has tuned yet.
func DefaultVideoSignalParameters() VideoSignalParameters {
	return VideoSignalParameters{
		VerticalPosition:   36,
		HorizontalPosition: 112,
		HorizontalScale:    900,
		Phase:              0,
		BlackLevel:         8,
		Brightness:         32,
		Contrast:           128,
		RedBrightness:      128,
		RedContrast:        256,
		GreenBrightness:    128,
		GreenContrast:      256,
		BlueBrightness:     128,
		BlueContrast:       256,
	}
}

// MinVideoSignalParameters returns the lower bound for every adjustable
// parameter.
func MinVideoSignalParameters() VideoSignalParameters {
	return VideoSignalParameters{
		VerticalPosition:   1,
		HorizontalPosition: 1,
		HorizontalScale:    100,
		Phase:              0,
		BlackLevel:         1,
		Brightness:         0,
		Contrast:           0,
		RedBrightness:      0,
		RedContrast:        0,
		GreenBrightness:    0,
		GreenContrast:      0,
		BlueBrightness:     0,
		BlueContrast:       0,
	}
}

// MaxVideoSignalParameters returns the upper bound for every adjustable
// parameter.
func MaxVideoSignalParameters() VideoSignalParameters {
	return VideoSignalParameters{
		VerticalPosition:   63,
		HorizontalPosition: 1200,
		HorizontalScale:    4095,
		Phase:              31,
		BlackLevel:         255,
		Brightness:         63,
		Contrast:           255,
		RedBrightness:      255,
		RedContrast:        511,
		GreenBrightness:    255,
		GreenContrast:      511,
		BlueBrightness:     255,
		BlueContrast:       511,
	}
}

type signalField struct {
	name string
	get  func(*VideoSignalParameters) *int
}

// Order matches the struct for readable validation errors.
var signalFields = []signalField{
	{"vertical position", func(p *VideoSignalParameters) *int { return &p.VerticalPosition }},
	{"horizontal position", func(p *VideoSignalParameters) *int { return &p.HorizontalPosition }},
	{"horizontal scale", func(p *VideoSignalParameters) *int { return &p.HorizontalScale }},
	{"phase", func(p *VideoSignalParameters) *int { return &p.Phase }},
	{"black level", func(p *VideoSignalParameters) *int { return &p.BlackLevel }},
	{"brightness", func(p *VideoSignalParameters) *int { return &p.Brightness }},
	{"contrast", func(p *VideoSignalParameters) *int { return &p.Contrast }},
	{"red brightness", func(p *VideoSignalParameters) *int { return &p.RedBrightness }},
	{"red contrast", func(p *VideoSignalParameters) *int { return &p.RedContrast }},
	{"green brightness", func(p *VideoSignalParameters) *int { return &p.GreenBrightness }},
	{"green contrast", func(p *VideoSignalParameters) *int { return &p.GreenContrast }},
	{"blue brightness", func(p *VideoSignalParameters) *int { return &p.BlueBrightness }},
	{"blue contrast", func(p *VideoSignalParameters) *int { return &p.BlueContrast }},
}

// Validate reports the first parameter that falls outside [min, max].
func (p VideoSignalParameters) Validate(min, max VideoSignalParameters) error {
	for _, f := range signalFields {
		v, lo, hi := *f.get(&p), *f.get(&min), *f.get(&max)
		if v < lo || v > hi {
			return errors.Errorf("%s %d out of range [%d, %d]", f.name, v, lo, hi)
		}
	}
	return nil
}

// Clamp returns a copy of p with every parameter clamped into [min, max].
func (p VideoSignalParameters) Clamp(min, max VideoSignalParameters) VideoSignalParameters {
	clamped := p
	for _, f := range signalFields {
		v := f.get(&clamped)
		if lo := *f.get(&min); *v < lo {
			*v = lo
		}
		if hi := *f.get(&max); *v > hi {
			*v = hi
		}
	}
	return clamped
}
