package domain

import (
	"math"
	"strconv"
	"strings"
)

// PageSize names a supported paper format.
type PageSize string

const (
	PageSizeA4     PageSize = "A4"
	PageSizeLetter PageSize = "Letter"
)

// Orientation names a page orientation.
type Orientation string

const (
	OrientationPortrait  Orientation = "portrait"
	OrientationLandscape Orientation = "landscape"
)

const (
	// DefaultMarginPx is applied to all four margins when none is given.
	DefaultMarginPx = 20
	// MaxMarginPx bounds accepted margins; larger values fall back to the default.
	MaxMarginPx = 400
)

// ConversionOptions controls page layout. The zero value is not valid; use
// DefaultOptions or ParseOptions.
type ConversionOptions struct {
	PageSize    PageSize
	Orientation Orientation
	MarginPx    int
}

// DefaultOptions returns A4, portrait, 20px margins.
func DefaultOptions() ConversionOptions {
	return ConversionOptions{
		PageSize:    PageSizeA4,
		Orientation: OrientationPortrait,
		MarginPx:    DefaultMarginPx,
	}
}

// Landscape reports whether the page should be rotated.
func (o ConversionOptions) Landscape() bool {
	return o.Orientation == OrientationLandscape
}

// ParseOptions builds options from a loosely typed JSON object. Unknown keys
// are ignored and malformed values fall back to their defaults; it never fails.
func ParseOptions(raw map[string]any) ConversionOptions {
	opts := DefaultOptions()
	if raw == nil {
		return opts
	}

	if s, ok := raw["pageSize"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "a4":
			opts.PageSize = PageSizeA4
		case "letter":
			opts.PageSize = PageSizeLetter
		}
	}

	if s, ok := raw["orientation"].(string); ok {
		switch strings.ToLower(strings.TrimSpace(s)) {
		case "portrait":
			opts.Orientation = OrientationPortrait
		case "landscape":
			opts.Orientation = OrientationLandscape
		}
	}

	if m, ok := parseMargin(raw["margin"]); ok {
		opts.MarginPx = m
	}

	return opts
}

// parseMargin accepts JSON numbers and numeric strings with an optional "px" suffix.
func parseMargin(v any) (int, bool) {
	var f float64
	switch m := v.(type) {
	case float64:
		f = m
	case int:
		f = float64(m)
	case string:
		s := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(m)), "px")
		parsed, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, false
		}
		f = parsed
	default:
		return 0, false
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f > MaxMarginPx {
		return 0, false
	}
	return int(math.Round(f)), true
}
