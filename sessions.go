package main

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"

	"cropdesk/pkg/cropbox"
	"cropdesk/pkg/raster"
)

var errSessionNotFound = errors.New("crop session not found")

// Session is one open crop: a source image, its preview size and the
// controller holding the crop rectangle. Pointer events for a session are
// applied one at a time.
type Session struct {
	ID      string
	Preset  cropbox.Preset
	File    string
	Created time.Time

	mu      sync.Mutex
	ctrl    *cropbox.Controller
	source  *raster.Source
	preview cropbox.Size
}

type SessionState struct {
	ID       string         `json:"id"`
	Preset   string         `json:"preset"`
	File     string         `json:"file"`
	Rect     cropbox.Rect   `json:"rect"`
	Mode     cropbox.Mode   `json:"mode"`
	Dragging bool           `json:"dragging"`
	Preview  cropbox.Size   `json:"preview"`
	Natural  cropbox.Size   `json:"natural"`
	Config   cropbox.Config `json:"config"`
}

func newSession(preset cropbox.Preset, file string, source *raster.Source, preview cropbox.Size) *Session {
	if !(preview.Width > 0) || !(preview.Height > 0) {
		preview = cropbox.DefaultPreview
	}
	return &Session{
		ID:      uuid.NewString(),
		Preset:  preset,
		File:    file,
		Created: time.Now(),
		ctrl:    cropbox.NewController(preset.Config, preview),
		source:  source,
		preview: preview,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked()
}

func (s *Session) stateLocked() SessionState {
	return SessionState{
		ID:       s.ID,
		Preset:   s.Preset.Name,
		File:     s.File,
		Rect:     s.ctrl.Rect(),
		Mode:     s.ctrl.Mode(),
		Dragging: s.ctrl.Dragging(),
		Preview:  s.preview,
		Natural:  s.source.NaturalSize(),
		Config:   s.ctrl.Config(),
	}
}

// Begin starts a drag; ok is false if one is already active.
func (s *Session) Begin(mode cropbox.Mode, p cropbox.Point) (state SessionState, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	ok = s.ctrl.Begin(mode, p)
	return s.stateLocked(), ok
}

// Move applies a pointer position; ok is false while no drag is active.
func (s *Session) Move(p cropbox.Point) (state SessionState, ok bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok = s.ctrl.Move(p)
	return s.stateLocked(), ok
}

func (s *Session) End() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.End()
	return s.stateLocked()
}

// Recenter replaces the rectangle with the default for the current preview.
func (s *Session) Recenter() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ctrl.Reset(cropbox.Centered(s.preview, s.ctrl.Config()))
	return s.stateLocked()
}

// SetPreview records a new rendered preview size, which is also the
// container the rectangle is kept inside. A rectangle that no longer fits
// is re-centred.
func (s *Session) SetPreview(size cropbox.Size) SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.preview = size
	s.ctrl.SetBounds(size)
	if r := s.ctrl.Rect(); r.Right() > size.Width || r.Bottom() > size.Height {
		s.ctrl.Reset(cropbox.Centered(size, s.ctrl.Config()))
	}
	return s.stateLocked()
}

// Commit cuts the current rectangle out of the source image.
func (s *Session) Commit() (*raster.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return raster.Commit(s.source, s.ctrl.Rect(), s.preview)
}

// SessionStore keeps the most recently used sessions. A session evicted to
// make room is discarded as if cancelled.
type SessionStore struct {
	cache *lru.Cache[string, *Session]
}

func NewSessionStore(size int) (*SessionStore, error) {
	cache, err := lru.NewWithEvict(size, func(id string, s *Session) {
		log.Debug().Str("session", id).Str("file", s.File).Msg("crop session discarded")
	})
	if err != nil {
		return nil, err
	}
	return &SessionStore{cache: cache}, nil
}

func (st *SessionStore) Open(preset cropbox.Preset, file string, source *raster.Source, preview cropbox.Size) *Session {
	s := newSession(preset, file, source, preview)
	st.cache.Add(s.ID, s)
	return s
}

func (st *SessionStore) Get(id string) (*Session, error) {
	s, ok := st.cache.Get(id)
	if !ok {
		return nil, errSessionNotFound
	}
	return s, nil
}

// Close discards the session, reporting whether it existed.
func (st *SessionStore) Close(id string) bool {
	return st.cache.Remove(id)
}

func (st *SessionStore) Len() int {
	return st.cache.Len()
}
