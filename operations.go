package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"runtime"

	"github.com/rs/zerolog/log"
	"github.com/sourcegraph/conc/pool"

	"cropdesk/pkg/cropbox"
	"cropdesk/pkg/raster"
)

type Operations = []Operation

// Operation is one offline commit. Crop commits a rectangle as given; Drag
// replays recorded pointer gestures against the default rectangle first.
type Operation struct {
	Crop *CropOperation
	Drag *DragOperation
}

func (o *Operation) UnmarshalJSON(data []byte) error {
	var op struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &op); err != nil {
		return fmt.Errorf("failed to unmarshal operation: %w", err)
	}

	switch op.Type {
	case "crop":
		var crop CropOperation
		if err := json.Unmarshal(data, &crop); err != nil {
			return fmt.Errorf("failed to unmarshal crop operation: %w", err)
		}
		o.Crop = &crop
	case "drag":
		var drag DragOperation
		if err := json.Unmarshal(data, &drag); err != nil {
			return fmt.Errorf("failed to unmarshal drag operation: %w", err)
		}
		o.Drag = &drag
	default:
		return fmt.Errorf("unknown operation %q", op.Type)
	}
	return nil
}

func (o Operation) MarshalJSON() ([]byte, error) {
	switch {
	case o.Crop != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*CropOperation
		}{"crop", o.Crop})
	case o.Drag != nil:
		return json.Marshal(struct {
			Type string `json:"type"`
			*DragOperation
		}{"drag", o.Drag})
	}
	return []byte("null"), nil
}

// Target names the image and preset an operation commits against.
type Target struct {
	Filename string `json:"filename"`
	Preset   string `json:"preset"`
	// Preview is the rendered preview size the rectangle refers to.
	Preview cropbox.Size `json:"preview"`
}

func (t Target) preview() cropbox.Size {
	if t.Preview.Width > 0 && t.Preview.Height > 0 {
		return t.Preview
	}
	return cropbox.DefaultPreview
}

type CropOperation struct {
	Target
	Rect cropbox.Rect `json:"rect"`
}

// Gesture is a single drag from one pointer position to another.
type Gesture struct {
	Mode cropbox.Mode  `json:"mode"`
	From cropbox.Point `json:"from"`
	To   cropbox.Point `json:"to"`
}

type DragOperation struct {
	Target
	Gestures []Gesture `json:"gestures"`
}

// Replay runs the gestures through a controller starting from the centred
// default rectangle and returns the final rectangle.
func (d DragOperation) Replay(cfg cropbox.Config) cropbox.Rect {
	ctrl := cropbox.NewController(cfg, d.preview())
	for _, g := range d.Gestures {
		if !ctrl.Begin(g.Mode, g.From) {
			continue
		}
		ctrl.Move(g.To)
		ctrl.End()
	}
	return ctrl.Rect()
}

func (o Operation) target() Target {
	if o.Crop != nil {
		return o.Crop.Target
	}
	if o.Drag != nil {
		return o.Drag.Target
	}
	return Target{}
}

// rect resolves the rectangle the operation commits.
func (o Operation) rect(cfg cropbox.Config) (cropbox.Rect, error) {
	switch {
	case o.Crop != nil:
		return o.Crop.Rect, nil
	case o.Drag != nil:
		return o.Drag.Replay(cfg), nil
	}
	return cropbox.Rect{}, errors.New("empty operation")
}

// Plan is the outcome of an operation without touching any pixels.
type Plan struct {
	Filename string         `json:"filename"`
	Preset   string         `json:"preset"`
	Rect     cropbox.Rect   `json:"rect"`
	Region   cropbox.Region `json:"region"`
}

type OperationExecutor struct {
	BaseDir   string
	Presets   cropbox.Presets
	Committer *Committer
}

func (r OperationExecutor) resolve(op Operation) (Target, cropbox.Preset, cropbox.Rect, error) {
	t := op.target()
	preset, err := r.Presets.Lookup(t.Preset)
	if err != nil {
		return Target{}, cropbox.Preset{}, cropbox.Rect{}, err
	}
	rect, err := op.rect(preset.Config)
	if err != nil {
		return Target{}, cropbox.Preset{}, cropbox.Rect{}, err
	}
	return t, preset, rect, nil
}

// DryRun maps every operation onto its source image, reading only the image
// headers.
func (r OperationExecutor) DryRun(ops []Operation) ([]Plan, error) {
	plans := make([]Plan, 0, len(ops))
	for _, op := range ops {
		t, preset, rect, err := r.resolve(op)
		if err != nil {
			return nil, err
		}
		w, h, _, err := raster.ProbeSize(filepath.Join(r.BaseDir, t.Filename))
		if err != nil {
			return nil, fmt.Errorf("%s: %w", t.Filename, err)
		}
		natural := cropbox.Size{Width: float64(w), Height: float64(h)}
		plans = append(plans, Plan{
			Filename: t.Filename,
			Preset:   preset.Name,
			Rect:     rect,
			Region:   cropbox.MapToSource(rect, t.preview(), natural),
		})
	}
	return plans, nil
}

func (r OperationExecutor) Exec(ctx context.Context, ops []Operation) ([]Committed, error) {
	if len(ops) == 0 {
		log.Ctx(ctx).Warn().Msg("no operations to execute")
		return nil, nil
	}

	pooler := pool.NewWithResults[Committed]().WithErrors().WithContext(ctx).WithMaxGoroutines(runtime.NumCPU())

	for _, op := range ops {
		pooler.Go(func(ctx context.Context) (Committed, error) {
			out, err := r.executeOperation(ctx, op)
			if err != nil {
				log.Ctx(ctx).Error().Err(err).
					Interface("op", op).
					Msg("failed to execute operation")
				return Committed{}, err
			}
			return out, nil
		})
	}

	results, err := pooler.Wait()
	if err != nil {
		log.Ctx(ctx).Error().
			Err(err).
			Msg("finished with errors")
		return results, err
	}

	return results, nil
}

func (r OperationExecutor) executeOperation(ctx context.Context, op Operation) (Committed, error) {
	t, preset, rect, err := r.resolve(op)
	if err != nil {
		return Committed{}, err
	}
	log.Ctx(ctx).Info().Str("filename", t.Filename).Str("preset", preset.Name).Stringer("rect", rect).Msg("cropping")

	src, err := raster.Open(filepath.Join(r.BaseDir, t.Filename))
	if err != nil {
		return Committed{}, err
	}
	res, err := raster.Commit(src, rect, t.preview())
	if err != nil {
		return Committed{}, fmt.Errorf("%s: %w", t.Filename, err)
	}
	return r.Committer.Store(ctx, t.Filename, preset, res)
}

// readOperations accepts either a JSON array of operations or one
// operation per line.
func readOperations(r io.Reader) (Operations, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err == io.EOF {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if first == '[' {
		var ops Operations
		if err := json.NewDecoder(br).Decode(&ops); err != nil {
			return nil, fmt.Errorf("failed to decode operations: %w", err)
		}
		return ops, nil
	}

	var ops Operations
	dec := json.NewDecoder(br)
	for {
		var op Operation
		err := dec.Decode(&op)
		if err == io.EOF {
			return ops, nil
		}
		if err != nil {
			return nil, fmt.Errorf("failed to decode operation %d: %w", len(ops)+1, err)
		}
		ops = append(ops, op)
	}
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		switch b {
		case ' ', '\t', '\r', '\n':
			continue
		}
		return b, br.UnreadByte()
	}
}
