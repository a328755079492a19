package cropbox

import (
	"fmt"
	"sort"
)

// Preset is a named crop configuration together with the dossier slot its
// committed image is stored in.
type Preset struct {
	Name   string `json:"name" yaml:"name"`
	Config `yaml:",inline"`
	Slot   string `json:"slot,omitempty" yaml:"slot,omitempty"`
}

var (
	Avatar     = Preset{Name: "avatar", Config: Config{AspectRatio: 9.0 / 16.0, MinSize: 40}, Slot: "avatar"}
	Background = Preset{Name: "background", Config: Config{AspectRatio: 3.0 / 4.0, MinSize: 40}, Slot: "backgroundImage"}
)

// DefaultPreview is the preview size used for a session when the host does
// not report one.
var DefaultPreview = Size{Width: 400, Height: 600}

// Presets is a set of presets keyed by name.
type Presets map[string]Preset

// DefaultPresets returns the avatar and background presets.
func DefaultPresets() Presets {
	return Presets{
		Avatar.Name:     Avatar,
		Background.Name: Background,
	}
}

func (p Presets) Lookup(name string) (Preset, error) {
	preset, ok := p[name]
	if !ok {
		return Preset{}, fmt.Errorf("unknown crop preset %q", name)
	}
	return preset, nil
}

// Sorted returns the presets ordered by name.
func (p Presets) Sorted() []Preset {
	out := make([]Preset, 0, len(p))
	for _, preset := range p {
		out = append(out, preset)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}
