// Package cropbox implements a fixed aspect ratio crop rectangle that is
// moved and resized by pointer drags inside a preview container, and maps
// the result back onto the source image.
package cropbox

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ErrInvalidConfig is returned by Config.Validate.
var ErrInvalidConfig = errors.New("invalid crop config")

// Rect is a rectangle in preview-space pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Rect) String() string {
	return fmt.Sprintf("rect(x=%.1f,y=%.1f,w=%.1f,h=%.1f)", r.X, r.Y, r.Width, r.Height)
}

// Right is the x coordinate of the right edge.
func (r Rect) Right() float64 { return r.X + r.Width }

// Bottom is the y coordinate of the bottom edge.
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Size is a width/height pair: container bounds, a rendered preview, or
// the natural dimensions of an image.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Point is a pointer position.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Sub returns p - q.
func (p Point) Sub(q Point) (dx, dy float64) {
	return p.X - q.X, p.Y - q.Y
}

// Config fixes the aspect ratio (width / height) and the minimum width of a
// crop rectangle.
type Config struct {
	AspectRatio float64 `json:"aspect_ratio" yaml:"aspect_ratio"`
	MinSize     float64 `json:"min_size" yaml:"min_size"`
}

func (c Config) Validate() error {
	if !(c.AspectRatio > 0) || math.IsInf(c.AspectRatio, 0) {
		return fmt.Errorf("%w: aspect ratio must be positive, got %v", ErrInvalidConfig, c.AspectRatio)
	}
	if !(c.MinSize > 0) || math.IsInf(c.MinSize, 0) {
		return fmt.Errorf("%w: min size must be positive, got %v", ErrInvalidConfig, c.MinSize)
	}
	return nil
}

// minHeight is the height of a rectangle at the minimum width.
func (c Config) minHeight() float64 {
	return c.MinSize / c.AspectRatio
}

// Mode selects which transform pointer deltas drive.
type Mode int

const (
	None Mode = iota
	Move
	ResizeNW
	ResizeNE
	ResizeSW
	ResizeSE
)

var modeNames = [...]string{
	None:     "none",
	Move:     "move",
	ResizeNW: "nw",
	ResizeNE: "ne",
	ResizeSW: "sw",
	ResizeSE: "se",
}

func (m Mode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return fmt.Sprintf("mode(%d)", int(m))
	}
	return modeNames[m]
}

// IsResize reports whether m drags one of the four corner handles.
func (m Mode) IsResize() bool {
	return m >= ResizeNW && m <= ResizeSE
}

// ParseMode accepts the names produced by Mode.String.
func ParseMode(s string) (Mode, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range modeNames {
		if name == s {
			return Mode(i), nil
		}
	}
	return None, fmt.Errorf("unknown drag mode %q", s)
}

func (m Mode) MarshalText() ([]byte, error) {
	return []byte(m.String()), nil
}

func (m *Mode) UnmarshalText(text []byte) error {
	parsed, err := ParseMode(string(text))
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(v, hi))
}

// Centered returns the default rectangle for a new session: as large as 80%
// of the preview allows at the configured aspect ratio, centred.
func Centered(preview Size, cfg Config) Rect {
	width := preview.Width * 0.8
	height := width / cfg.AspectRatio
	if height > preview.Height*0.8 {
		height = preview.Height * 0.8
		width = height * cfg.AspectRatio
	}
	return Rect{
		X:      (preview.Width - width) / 2,
		Y:      (preview.Height - height) / 2,
		Width:  width,
		Height: height,
	}
}

// ApplyMove translates snapshot by (dx, dy) without letting it leave bounds.
func ApplyMove(snapshot Rect, dx, dy float64, bounds Size) Rect {
	return Rect{
		X:      clamp(snapshot.X+dx, 0, bounds.Width-snapshot.Width),
		Y:      clamp(snapshot.Y+dy, 0, bounds.Height-snapshot.Height),
		Width:  snapshot.Width,
		Height: snapshot.Height,
	}
}

// ApplyResize drags the corner handle selected by mode by (dx, dy). Width
// drives the resize and height follows the aspect ratio; the corner opposite
// the handle stays put unless the container edge gets in the way.
//
// Overflow on the right is corrected before overflow on the bottom, so a
// rectangle pinned against both edges may be shrunk twice.
func ApplyResize(snapshot Rect, mode Mode, dx, dy float64, bounds Size, cfg Config) Rect {
	if !mode.IsResize() {
		return snapshot
	}

	width := snapshot.Width
	switch mode {
	case ResizeNW, ResizeSW:
		width -= dx
	case ResizeNE, ResizeSE:
		width += dx
	}
	// dy never reaches the result: height is derived from width.
	width = math.Max(cfg.MinSize, width)
	height := width / cfg.AspectRatio

	x, y := snapshot.X, snapshot.Y
	switch mode {
	case ResizeNW:
		x = snapshot.X + (snapshot.Width - width)
		y = snapshot.Y + (snapshot.Height - height)
	case ResizeNE:
		y = snapshot.Y + (snapshot.Height - height)
	case ResizeSW:
		x = snapshot.X + (snapshot.Width - width)
	}

	x = math.Max(0, x)
	y = math.Max(0, y)

	if x+width > bounds.Width {
		width = math.Max(cfg.MinSize, bounds.Width-x)
		height = width / cfg.AspectRatio
	}
	if y+height > bounds.Height {
		height = math.Max(cfg.minHeight(), bounds.Height-y)
		width = height * cfg.AspectRatio
	}

	return Rect{X: x, Y: y, Width: width, Height: height}
}
