package main

import (
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"lukechampine.com/blake3"

	"cropdesk/pkg/cropbox"
	"cropdesk/pkg/dossier"
	"cropdesk/pkg/raster"
)

// Committed describes a stored crop.
type Committed struct {
	ID      string         `json:"id"`
	Source  string         `json:"source"`
	Preset  string         `json:"preset"`
	Region  cropbox.Region `json:"region"`
	Width   int            `json:"width"`
	Height  int            `json:"height"`
	DataURL string         `json:"data_url,omitempty"`
	File    string         `json:"file,omitempty"`
	Slot    string         `json:"slot,omitempty"`
}

// cropID names a crop after its source and region, so committing the same
// region twice yields the same output file.
func cropID(source string, region cropbox.Region) string {
	sum := blake3.Sum256([]byte(source + "|" + region.String()))
	return hex.EncodeToString(sum[:8])
}

// Committer encodes committed crops and hands them to their destinations:
// the dossier image slot named by the preset, and an output directory.
type Committer struct {
	Format      raster.Format
	Quality     int
	OutputDir   string
	DossierPath string

	// InlineData keeps the data URL in the returned Committed.
	InlineData bool

	mu sync.Mutex // serialises dossier read-modify-write
}

func (c *Committer) Store(ctx context.Context, source string, preset cropbox.Preset, res *raster.Result) (Committed, error) {
	b := res.Image.Bounds()
	out := Committed{
		ID:     cropID(source, res.Region),
		Source: source,
		Preset: preset.Name,
		Region: res.Region,
		Width:  b.Dx(),
		Height: b.Dy(),
	}

	dataURL, err := raster.DataURL(res.Image, c.Format, c.Quality)
	if err != nil {
		return Committed{}, err
	}
	if c.InlineData {
		out.DataURL = dataURL
	}

	if c.OutputDir != "" {
		path, err := c.writeFile(out, res)
		if err != nil {
			return Committed{}, err
		}
		out.File = path
	}

	if c.DossierPath != "" && preset.Slot != "" {
		if err := c.storeInDossier(preset.Slot, dataURL); err != nil {
			return Committed{}, err
		}
		out.Slot = preset.Slot
	}

	log.Ctx(ctx).Info().
		Str("source", source).
		Str("preset", preset.Name).
		Stringer("region", res.Region).
		Str("file", out.File).
		Str("slot", out.Slot).
		Msg("crop committed")
	return out, nil
}

func (c *Committer) writeFile(out Committed, res *raster.Result) (string, error) {
	if err := os.MkdirAll(c.OutputDir, 0755); err != nil {
		return "", fmt.Errorf("failed to create output directory %s: %w", c.OutputDir, err)
	}

	base := strings.TrimSuffix(filepath.Base(out.Source), filepath.Ext(out.Source))
	format := c.Format
	if format == "" {
		format = raster.PNG
	}
	name := fmt.Sprintf("%s-%s-%s%s", base, out.Preset, out.ID, format.Ext())
	path := filepath.Join(c.OutputDir, name)

	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("failed to create cropped file %s: %w", name, err)
	}
	defer f.Close()
	if err := raster.Encode(f, res.Image, format, c.Quality); err != nil {
		return "", fmt.Errorf("failed to write cropped data to file %s: %w", name, err)
	}
	return path, nil
}

func (c *Committer) storeInDossier(slot, dataURL string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, err := dossier.Load(c.DossierPath)
	if err != nil {
		return err
	}
	if err := agent.SetImage(slot, dataURL); err != nil {
		return err
	}
	return agent.Save(c.DossierPath)
}
