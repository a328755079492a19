package cropbox

import "fmt"

// NominalPreview stands in for a preview dimension that has not been
// rendered (zero or negative) when computing the commit scale.
var NominalPreview = Size{Width: 200, Height: 300}

// Region is a crop area in source image pixels.
type Region struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

func (r Region) String() string {
	return fmt.Sprintf("region(x=%.1f,y=%.1f,w=%.1f,h=%.1f)", r.X, r.Y, r.Width, r.Height)
}

// Scale returns the preview-to-source factors for each axis.
func Scale(preview, natural Size) (sx, sy float64) {
	pw, ph := preview.Width, preview.Height
	if !(pw > 0) {
		pw = NominalPreview.Width
	}
	if !(ph > 0) {
		ph = NominalPreview.Height
	}
	return natural.Width / pw, natural.Height / ph
}

// MapToSource converts r from the preview rendered at preview onto an image
// whose natural dimensions are natural.
func MapToSource(r Rect, preview, natural Size) Region {
	sx, sy := Scale(preview, natural)
	return Region{
		X:      r.X * sx,
		Y:      r.Y * sy,
		Width:  r.Width * sx,
		Height: r.Height * sy,
	}
}
