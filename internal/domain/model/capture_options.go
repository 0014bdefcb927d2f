package model

import (
	"errors"
	"fmt"
	"strings"
)

// DeviceType selects a fixed viewport preset.
type DeviceType string

// ImageFormat is the encoded output format of a capture.
type ImageFormat string

const (
	DeviceDesktop DeviceType = "desktop"
	DeviceTablet  DeviceType = "tablet"
	DeviceMobile  DeviceType = "mobile"

	FormatPNG  ImageFormat = "png"
	FormatJPEG ImageFormat = "jpeg"
)

// Capture option bounds.
const (
	MaxCaptureDelaySeconds = 10
	MinJPEGQuality         = 10
	MaxJPEGQuality         = 100
	DefaultJPEGQuality     = 80
)

// Viewport is a width x height in CSS pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

var viewports = map[DeviceType]Viewport{
	DeviceDesktop: {Width: 1920, Height: 1080},
	DeviceTablet:  {Width: 768, Height: 1024},
	DeviceMobile:  {Width: 375, Height: 667},
}

// Valid returns true for a known device type.
func (d DeviceType) Valid() bool {
	_, ok := viewports[d]
	return ok
}

// Viewport returns the preset for d, falling back to desktop.
func (d DeviceType) Viewport() Viewport {
	if v, ok := viewports[d]; ok {
		return v
	}
	return viewports[DeviceDesktop]
}

// CaptureOptions is passed through verbatim to the render pipeline.
type CaptureOptions struct {
	FullPage   bool        `json:"fullPage"`
	ScrollPage bool        `json:"scrollPage"`
	Fresh      bool        `json:"fresh"`
	NoAds      bool        `json:"noAds"`
	NoCookies  bool        `json:"noCookies"`
	DeviceType DeviceType  `json:"deviceType"`
	Delay      int         `json:"delay"`
	Format     ImageFormat `json:"format"`
	Quality    *int        `json:"quality,omitempty"`
}

// WithDefaults fills unset device type, format and jpeg quality.
func (o CaptureOptions) WithDefaults() CaptureOptions {
	out := o.Clone()
	if out.DeviceType == "" {
		out.DeviceType = DeviceDesktop
	}
	out.DeviceType = DeviceType(strings.ToLower(string(out.DeviceType)))
	if out.Format == "" {
		out.Format = FormatPNG
	}
	out.Format = ImageFormat(strings.ToLower(string(out.Format)))
	if out.Format == "jpg" {
		out.Format = FormatJPEG
	}
	if out.Format == FormatJPEG && out.Quality == nil {
		q := DefaultJPEGQuality
		out.Quality = &q
	}
	return out
}

// Validate checks ranges and enum values. Call WithDefaults first to accept empty enums.
func (o CaptureOptions) Validate() error {
	if !o.DeviceType.Valid() {
		return fmt.Errorf("deviceType must be one of desktop, tablet, mobile (got %q)", o.DeviceType)
	}
	if o.Delay < 0 || o.Delay > MaxCaptureDelaySeconds {
		return fmt.Errorf("delay must be between 0 and %d seconds", MaxCaptureDelaySeconds)
	}
	switch o.Format {
	case FormatPNG:
		if o.Quality != nil {
			return errors.New("quality is only supported for jpeg")
		}
	case FormatJPEG:
		if o.Quality != nil && (*o.Quality < MinJPEGQuality || *o.Quality > MaxJPEGQuality) {
			return fmt.Errorf("quality must be between %d and %d", MinJPEGQuality, MaxJPEGQuality)
		}
	default:
		return fmt.Errorf("format must be png or jpeg (got %q)", o.Format)
	}
	return nil
}

// Clone returns a deep copy so dispatched jobs never share the quality pointer.
func (o CaptureOptions) Clone() CaptureOptions {
	out := o
	if o.Quality != nil {
		q := *o.Quality
		out.Quality = &q
	}
	return out
}

// Viewport returns the viewport preset for the selected device type.
func (o CaptureOptions) Viewport() Viewport {
	return o.DeviceType.Viewport()
}

// RemoveCookieBanners reports whether the renderer should strip consent banners.
// Either flag is sufficient on its own.
func (o CaptureOptions) RemoveCookieBanners() bool {
	return o.NoCookies || o.NoAds
}

// ContentType returns the MIME type of the encoded capture.
func (o CaptureOptions) ContentType() string {
	if o.Format == FormatJPEG {
		return "image/jpeg"
	}
	return "image/png"
}
