package main

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/color"
	"image/png"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"

	"cropdesk/pkg/cropbox"
	"cropdesk/pkg/dossier"
	"cropdesk/pkg/raster"
)

func writeTestPNG(t *testing.T, path string, width, height int) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			img.Set(x, y, color.NRGBA{R: uint8(x), G: uint8(y), B: 200, A: 255})
		}
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatal(err)
	}
}

type testApp struct {
	root      string
	dossier   string
	app       *fiber.App
	sessions  *SessionStore
	committed []Committed
}

func newTestApp(t *testing.T) *testApp {
	t.Helper()
	root := t.TempDir()
	writeTestPNG(t, filepath.Join(root, "agent.png"), 200, 300)

	sessions, err := NewSessionStore(8)
	if err != nil {
		t.Fatal(err)
	}
	ta := &testApp{
		root:     root,
		dossier:  filepath.Join(root, "dossier.json"),
		sessions: sessions,
	}
	web := NewWebApp(Config{
		RootDir:  root,
		Presets:  cropbox.DefaultPresets(),
		Sessions: sessions,
		Committer: &Committer{
			Format:      raster.PNG,
			OutputDir:   filepath.Join(root, "output"),
			DossierPath: ta.dossier,
			InlineData:  true,
		},
		OnCommit: func(c Committed) { ta.committed = append(ta.committed, c) },
	})
	ta.app = web.routes(context.Background())
	return ta
}

func (ta *testApp) do(t *testing.T, method, path string, body any) *http.Response {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		r = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	return resp
}

func decodeBody[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	if err := json.NewDecoder(resp.Body).Decode(&v); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	return v
}

func (ta *testApp) open(t *testing.T, preset string) SessionState {
	t.Helper()
	resp := ta.do(t, http.MethodPost, "/api/sessions", openRequest{
		File:    "agent.png",
		Preset:  preset,
		Preview: cropbox.Size{Width: 400, Height: 600},
	})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("open session: status %d", resp.StatusCode)
	}
	return decodeBody[SessionState](t, resp)
}

func sameRect(a, b cropbox.Rect) bool {
	const eps = 1e-3
	return math.Abs(a.X-b.X) < eps && math.Abs(a.Y-b.Y) < eps &&
		math.Abs(a.Width-b.Width) < eps && math.Abs(a.Height-b.Height) < eps
}

func TestOpenSession(t *testing.T) {
	ta := newTestApp(t)
	state := ta.open(t, "avatar")

	if state.ID == "" {
		t.Fatal("session without an id")
	}
	want := cropbox.Rect{X: 65, Y: 60, Width: 270, Height: 480}
	if !sameRect(state.Rect, want) {
		t.Errorf("initial rect = %v, want %v", state.Rect, want)
	}
	if state.Natural != (cropbox.Size{Width: 200, Height: 300}) {
		t.Errorf("natural size = %v", state.Natural)
	}
	if state.Dragging || state.Mode != cropbox.None {
		t.Errorf("new session should be idle, got mode %v", state.Mode)
	}
}

func TestOpenSessionErrors(t *testing.T) {
	ta := newTestApp(t)

	tests := []struct {
		name string
		req  openRequest
		code int
	}{
		{"unknown preset", openRequest{File: "agent.png", Preset: "banner"}, http.StatusBadRequest},
		{"missing file", openRequest{File: "missing.png", Preset: "avatar"}, http.StatusNotFound},
		{"not an image", openRequest{File: "notes.txt", Preset: "avatar"}, http.StatusBadRequest},
		{"no file", openRequest{Preset: "avatar"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := ta.do(t, http.MethodPost, "/api/sessions", tt.req)
			if resp.StatusCode != tt.code {
				t.Errorf("status = %d, want %d", resp.StatusCode, tt.code)
			}
		})
	}
	if ta.sessions.Len() != 0 {
		t.Errorf("failed opens left %d sessions", ta.sessions.Len())
	}
}

func TestOpenSessionUpload(t *testing.T) {
	ta := newTestApp(t)
	data, err := os.ReadFile(filepath.Join(ta.root, "agent.png"))
	if err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("preset", "background")
	_ = mw.WriteField("width", "200")
	_ = mw.WriteField("height", "300")
	fw, err := mw.CreateFormFile("image", "upload.png")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := fw.Write(data); err != nil {
		t.Fatal(err)
	}
	if err := mw.Close(); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/sessions", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := ta.app.Test(req, -1)
	if err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("status = %d", resp.StatusCode)
	}
	state := decodeBody[SessionState](t, resp)
	if state.File != "upload.png" || state.Preset != "background" {
		t.Errorf("state = %+v", state)
	}
	// 80% of 200 at 3:4 is 160x213.33, which fits inside 80% of 300.
	want := cropbox.Rect{X: 20, Y: 43.333, Width: 160, Height: 213.333}
	if !sameRect(state.Rect, want) {
		t.Errorf("rect = %v, want %v", state.Rect, want)
	}
}

func TestDragAndCommit(t *testing.T) {
	ta := newTestApp(t)
	state := ta.open(t, "avatar")
	base := "/api/sessions/" + state.ID

	begin := decodeBody[pointerResponse](t, ta.do(t, http.MethodPost, base+"/begin", pointerRequest{Mode: cropbox.Move, X: 100, Y: 100}))
	if !begin.Applied || !begin.Dragging || begin.Mode != cropbox.Move {
		t.Fatalf("begin = %+v", begin)
	}

	// A second begin while dragging is ignored.
	again := decodeBody[pointerResponse](t, ta.do(t, http.MethodPost, base+"/begin", pointerRequest{Mode: cropbox.ResizeSE}))
	if again.Applied || again.Mode != cropbox.Move {
		t.Errorf("begin during drag = %+v", again)
	}

	moved := decodeBody[pointerResponse](t, ta.do(t, http.MethodPost, base+"/move", pointerRequest{X: 110, Y: 120}))
	want := cropbox.Rect{X: 75, Y: 80, Width: 270, Height: 480}
	if !moved.Applied || !sameRect(moved.Rect, want) {
		t.Fatalf("move = %+v, want rect %v", moved, want)
	}

	ended := decodeBody[SessionState](t, ta.do(t, http.MethodPost, base+"/end", nil))
	if ended.Dragging {
		t.Error("still dragging after end")
	}

	idle := decodeBody[pointerResponse](t, ta.do(t, http.MethodPost, base+"/move", pointerRequest{X: 0, Y: 0}))
	if idle.Applied || !sameRect(idle.Rect, want) {
		t.Errorf("move while idle changed the rect: %+v", idle)
	}

	resp := ta.do(t, http.MethodPost, base+"/commit", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("commit status = %d", resp.StatusCode)
	}
	out := decodeBody[Committed](t, resp)

	if out.Region != (cropbox.Region{X: 37.5, Y: 40, Width: 135, Height: 240}) {
		t.Errorf("region = %v", out.Region)
	}
	if out.Width != 135 || out.Height != 240 {
		t.Errorf("output size = %dx%d, want 135x240", out.Width, out.Height)
	}
	if !strings.HasPrefix(out.DataURL, "data:image/png;base64,") {
		t.Errorf("data url = %.40q", out.DataURL)
	}
	if out.Slot != dossier.SlotAvatar {
		t.Errorf("slot = %q", out.Slot)
	}
	if _, err := os.Stat(out.File); err != nil {
		t.Errorf("output file: %v", err)
	}
	if len(ta.committed) != 1 {
		t.Errorf("OnCommit called %d times", len(ta.committed))
	}

	agent, err := dossier.Load(ta.dossier)
	if err != nil {
		t.Fatal(err)
	}
	avatar, err := agent.Image(dossier.SlotAvatar)
	if err != nil {
		t.Fatal(err)
	}
	if avatar != out.DataURL {
		t.Error("dossier avatar does not hold the committed image")
	}
	src, err := raster.ParseDataURL(avatar)
	if err != nil {
		t.Fatal(err)
	}
	if got := src.NaturalSize(); got != (cropbox.Size{Width: 135, Height: 240}) {
		t.Errorf("stored image is %v", got)
	}

	if resp := ta.do(t, http.MethodGet, base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("committed session still reachable: %d", resp.StatusCode)
	}
}

func TestResizeStaysInPreview(t *testing.T) {
	ta := newTestApp(t)
	state := ta.open(t, "avatar")
	base := "/api/sessions/" + state.ID

	ta.do(t, http.MethodPost, base+"/begin", pointerRequest{Mode: cropbox.ResizeSE, X: 335, Y: 540})
	moved := decodeBody[pointerResponse](t, ta.do(t, http.MethodPost, base+"/move", pointerRequest{X: 535, Y: 540}))
	r := moved.Rect
	if r.X < 0 || r.Y < 0 || r.Right() > 400+1e-9 || r.Bottom() > 600+1e-9 {
		t.Errorf("rect %v leaves the preview", r)
	}
	if math.Abs(r.Width/r.Height-9.0/16.0) > 1e-9 {
		t.Errorf("aspect ratio = %v", r.Width/r.Height)
	}
}

func TestResetAndPreview(t *testing.T) {
	ta := newTestApp(t)
	state := ta.open(t, "avatar")
	base := "/api/sessions/" + state.ID

	ta.do(t, http.MethodPost, base+"/begin", pointerRequest{Mode: cropbox.Move, X: 0, Y: 0})
	ta.do(t, http.MethodPost, base+"/move", pointerRequest{X: -100, Y: -100})
	ta.do(t, http.MethodPost, base+"/end", nil)

	reset := decodeBody[SessionState](t, ta.do(t, http.MethodPost, base+"/reset", nil))
	if !sameRect(reset.Rect, state.Rect) {
		t.Errorf("reset rect = %v, want %v", reset.Rect, state.Rect)
	}

	resp := ta.do(t, http.MethodPut, base+"/preview", cropbox.Size{Width: 200, Height: 300})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("preview status = %d", resp.StatusCode)
	}
	resized := decodeBody[SessionState](t, resp)
	if resized.Preview != (cropbox.Size{Width: 200, Height: 300}) {
		t.Errorf("preview = %v", resized.Preview)
	}

	if resp := ta.do(t, http.MethodPut, base+"/preview", cropbox.Size{}); resp.StatusCode != http.StatusBadRequest {
		t.Errorf("empty preview accepted: %d", resp.StatusCode)
	}
}

func TestCancelSession(t *testing.T) {
	ta := newTestApp(t)
	state := ta.open(t, "background")
	base := "/api/sessions/" + state.ID

	if resp := ta.do(t, http.MethodDelete, base, nil); resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	if resp := ta.do(t, http.MethodDelete, base, nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("second delete status = %d", resp.StatusCode)
	}
	if resp := ta.do(t, http.MethodPost, base+"/commit", nil); resp.StatusCode != http.StatusNotFound {
		t.Errorf("commit after cancel status = %d", resp.StatusCode)
	}
	if len(ta.committed) != 0 {
		t.Error("cancelled session was committed")
	}
	if _, err := os.Stat(ta.dossier); !os.IsNotExist(err) {
		t.Errorf("dossier written after cancel: %v", err)
	}
}

func TestListAndPresets(t *testing.T) {
	ta := newTestApp(t)
	writeTestPNG(t, filepath.Join(ta.root, "output", "old.png"), 4, 4)
	writeTestPNG(t, filepath.Join(ta.root, "nested", "b.png"), 10, 20)
	if err := os.WriteFile(filepath.Join(ta.root, "notes.txt"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}

	dir := decodeBody[Directory](t, ta.do(t, http.MethodGet, "/api/ls", nil))
	var names []string
	for _, f := range dir.Files {
		names = append(names, f.Name)
	}
	if strings.Join(names, ",") != "agent.png,nested/b.png" {
		t.Errorf("files = %v", names)
	}
	if dir.Files[1].Image != (ImageInfo{Width: 10, Height: 20, Format: "png"}) {
		t.Errorf("image info = %+v", dir.Files[1].Image)
	}

	presets := decodeBody[[]cropbox.Preset](t, ta.do(t, http.MethodGet, "/api/presets", nil))
	if len(presets) != 2 || presets[0].Name != "avatar" || presets[1].Name != "background" {
		t.Errorf("presets = %+v", presets)
	}
	if presets[1].AspectRatio != 0.75 || presets[1].MinSize != 40 {
		t.Errorf("background config = %+v", presets[1].Config)
	}
}
