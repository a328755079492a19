package cropbox

// Controller owns the live crop rectangle of one crop session.
//
// A drag starts with Begin, which snapshots the rectangle and the pointer
// position. Every Move recomputes the rectangle from that snapshot and the
// net pointer delta, so coalesced or dropped pointer events cannot drift the
// result. End returns to idle and may be called any number of times.
//
// A Controller is not safe for concurrent use.
type Controller struct {
	cfg    Config
	bounds Size
	rect   Rect

	mode     Mode
	snapshot Rect
	origin   Point

	// OnChange, when set, is called with every rectangle the controller
	// publishes.
	OnChange func(Rect)
}

// NewController returns an idle controller whose rectangle is centred in
// bounds.
func NewController(cfg Config, bounds Size) *Controller {
	return &Controller{
		cfg:    cfg,
		bounds: bounds,
		rect:   Centered(bounds, cfg),
	}
}

func (c *Controller) Config() Config { return c.cfg }

func (c *Controller) Bounds() Size { return c.bounds }

// Rect returns the current rectangle.
func (c *Controller) Rect() Rect { return c.rect }

// Mode returns the active drag mode, None while idle.
func (c *Controller) Mode() Mode { return c.mode }

func (c *Controller) Dragging() bool { return c.mode != None }

// SetBounds updates the container size used by subsequent moves. An active
// drag keeps its snapshot.
func (c *Controller) SetBounds(bounds Size) {
	c.bounds = bounds
}

// Begin starts a drag. It reports false, and changes nothing, if a drag is
// already active or mode is None.
func (c *Controller) Begin(mode Mode, p Point) bool {
	if c.mode != None || (mode != Move && !mode.IsResize()) {
		return false
	}
	c.mode = mode
	c.snapshot = c.rect
	c.origin = p
	return true
}

// Move applies the pointer position p to the active drag and returns the
// new rectangle. While idle the event is ignored and ok is false.
func (c *Controller) Move(p Point) (r Rect, ok bool) {
	if c.mode == None {
		return c.rect, false
	}
	dx, dy := p.Sub(c.origin)
	if c.mode == Move {
		r = ApplyMove(c.snapshot, dx, dy, c.bounds)
	} else {
		r = ApplyResize(c.snapshot, c.mode, dx, dy, c.bounds, c.cfg)
	}
	c.publish(r)
	return r, true
}

// End finishes the active drag, keeping the last rectangle.
func (c *Controller) End() {
	c.mode = None
	c.snapshot = Rect{}
	c.origin = Point{}
}

// Reset abandons any drag and replaces the rectangle.
func (c *Controller) Reset(r Rect) {
	c.End()
	c.publish(r)
}

func (c *Controller) publish(r Rect) {
	c.rect = r
	if c.OnChange != nil {
		c.OnChange(r)
	}
}
