package gocapture

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// A Resolution identifies a video mode by its pixel dimensions and,
// optionally, its color depth in bits per pixel. Two resolutions are the
// same mode exactly when all of their components are equal.
type Resolution struct {
	Width        uint32
	Height       uint32
	BitsPerPixel uint32
}

// IsZero reports whether the resolution has not been set.
func (r Resolution) IsZero() bool {
	return r == Resolution{}
}

func (r Resolution) String() string {
	if r.BitsPerPixel == 0 {
		return fmt.Sprintf("%dx%d", r.Width, r.Height)
	}
	return fmt.Sprintf("%dx%dx%d", r.Width, r.Height, r.BitsPerPixel)
}

// ParseResolution parses a resolution of the form "WxH" or "WxHxBPP",
// e.g. "640x480" or "1920x1080x32".
func ParseResolution(s string) (Resolution, error) {
	parts := strings.Split(strings.ToLower(strings.TrimSpace(s)), "x")
	if len(parts) != 2 && len(parts) != 3 {
		return Resolution{}, errors.Errorf("invalid resolution %q", s)
	}
	components := make([]uint32, len(parts))
	for i, part := range parts {
		v, err := strconv.ParseUint(part, 10, 32)
		if err != nil || v == 0 {
			return Resolution{}, errors.Errorf("invalid resolution %q", s)
		}
		components[i] = uint32(v)
	}
	res := Resolution{Width: components[0], Height: components[1]}
	if len(components) == 3 {
		res.BitsPerPixel = components[2]
	}
	return res, nil
}
