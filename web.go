package main

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/filesystem"
	"github.com/rs/zerolog/log"

	"cropdesk/pkg/cropbox"
	"cropdesk/pkg/raster"
)

//go:embed static
var staticFS embed.FS
var isDebug = os.Getenv("DEBUG") == "1"

// maxUploadBytes bounds image uploads.
const maxUploadBytes = 32 << 20

type Config struct {
	RootDir          string
	Addr             string
	Presets          cropbox.Presets
	Sessions         *SessionStore
	Committer        *Committer
	OnBeforeShutdown func()
	OnReady          func(addr string)
	OnCommit         func(c Committed)
}

type WebApp struct {
	config       Config
	shutdownCh   chan struct{}
	shutdownOnce sync.Once
}

func NewWebApp(config Config) *WebApp {
	if config.Addr == "" {
		config.Addr = "localhost:0"
	}
	return &WebApp{
		config:     config,
		shutdownCh: make(chan struct{}),
	}
}

func (a *WebApp) Shutdown() {
	a.shutdownOnce.Do(func() {
		close(a.shutdownCh)
	})
}

type openRequest struct {
	File    string       `json:"file"`
	Preset  string       `json:"preset"`
	Preview cropbox.Size `json:"preview"`
}

type pointerRequest struct {
	Mode cropbox.Mode `json:"mode"`
	X    float64      `json:"x"`
	Y    float64      `json:"y"`
}

func (p pointerRequest) point() cropbox.Point {
	return cropbox.Point{X: p.X, Y: p.Y}
}

type pointerResponse struct {
	SessionState
	Applied bool `json:"applied"`
}

func parseFloat(s string) float64 {
	v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return 0
	}
	return v
}

func (a *WebApp) session(c *fiber.Ctx) (*Session, error) {
	s, err := a.config.Sessions.Get(c.Params("id"))
	if errors.Is(err, errSessionNotFound) {
		return nil, fiber.NewError(http.StatusNotFound, err.Error())
	}
	return s, err
}

// openSession handles both a JSON body naming an image under the root
// directory and a multipart upload carrying the image itself.
func (a *WebApp) openSession(c *fiber.Ctx) error {
	var (
		req  openRequest
		src  *raster.Source
		name string
	)

	if strings.HasPrefix(c.Get(fiber.HeaderContentType), fiber.MIMEMultipartForm) {
		req.Preset = c.FormValue("preset")
		req.Preview.Width = parseFloat(c.FormValue("width"))
		req.Preview.Height = parseFloat(c.FormValue("height"))

		fh, err := c.FormFile("image")
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, "missing image upload")
		}
		f, err := fh.Open()
		if err != nil {
			return fmt.Errorf("failed to open upload: %w", err)
		}
		defer f.Close()
		name = fh.Filename
		src, err = raster.Decode(f)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
	} else {
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		path, err := resolveImage(a.config.RootDir, req.File)
		if err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		name = req.File
		src, err = raster.Open(path)
		if err != nil {
			return fiber.NewError(http.StatusNotFound, err.Error())
		}
	}

	preset, err := a.config.Presets.Lookup(req.Preset)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}

	s := a.config.Sessions.Open(preset, name, src, req.Preview)
	log.Ctx(c.UserContext()).Info().
		Str("session", s.ID).
		Str("file", name).
		Str("preset", preset.Name).
		Msg("crop session opened")
	return c.Status(http.StatusCreated).JSON(s.State())
}

func (a *WebApp) commitSession(c *fiber.Ctx) error {
	s, err := a.session(c)
	if err != nil {
		return err
	}
	res, err := s.Commit()
	if errors.Is(err, raster.ErrNotLoaded) {
		// Nothing to produce; the session stays open.
		return c.SendStatus(http.StatusNoContent)
	}
	if err != nil {
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	}

	out, err := a.config.Committer.Store(c.UserContext(), s.File, s.Preset, res)
	if err != nil {
		return err
	}
	a.config.Sessions.Close(s.ID)
	if fn := a.config.OnCommit; fn != nil {
		fn(out)
	}
	return c.JSON(out)
}

func (a *WebApp) routes(ctx context.Context) *fiber.App {
	webapp := fiber.New(fiber.Config{
		Immutable:             true,
		DisableStartupMessage: true,
		BodyLimit:             maxUploadBytes,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			log.Ctx(c.UserContext()).Error().
				Err(err).
				Str("path", c.Path()).
				Str("method", c.Method()).
				Msg("Request failed")
			var fiberErr *fiber.Error
			if errors.As(err, &fiberErr) {
				if fiberErr.Code == http.StatusNotFound && c.Path() == "/favicon.ico" {
					return nil
				}
				return c.Status(fiberErr.Code).JSON(fiber.Map{"error": fiberErr.Message})
			}
			return c.Status(http.StatusInternalServerError).JSON(fiber.Map{"error": "Internal Server Error"})
		},
	})

	webapp.Use(func(c *fiber.Ctx) error {
		c.SetUserContext(log.Ctx(ctx).WithContext(c.UserContext()))
		return c.Next()
	})

	filesRoot := http.Dir(a.config.RootDir)
	webapp.Get("/api/view", func(c *fiber.Ctx) error {
		filePath := c.Query("file")
		return filesystem.SendFile(c, filesRoot, filePath)
	})

	webapp.Get("/api/ls", func(c *fiber.Ctx) error {
		dir, err := walkImages(c.UserContext(), a.config.RootDir, a.config.Committer.OutputDir)
		if err != nil {
			return fmt.Errorf("failed to walk dir: %w", err)
		}

		for i := range dir.Files {
			dir.Files[i].URL = "/api/view?file=" + url.QueryEscape(dir.Files[i].Name)
		}
		return c.JSON(dir)
	})

	webapp.Get("/api/presets", func(c *fiber.Ctx) error {
		return c.JSON(a.config.Presets.Sorted())
	})

	sessions := webapp.Group("/api/sessions")
	sessions.Post("/", a.openSession)

	sessions.Get("/:id", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		return c.JSON(s.State())
	})

	sessions.Post("/:id/begin", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		var req pointerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		state, ok := s.Begin(req.Mode, req.point())
		return c.JSON(pointerResponse{SessionState: state, Applied: ok})
	})

	sessions.Post("/:id/move", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		var req pointerRequest
		if err := c.BodyParser(&req); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		state, ok := s.Move(req.point())
		return c.JSON(pointerResponse{SessionState: state, Applied: ok})
	})

	sessions.Post("/:id/end", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		return c.JSON(s.End())
	})

	sessions.Post("/:id/reset", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		return c.JSON(s.Recenter())
	})

	sessions.Put("/:id/preview", func(c *fiber.Ctx) error {
		s, err := a.session(c)
		if err != nil {
			return err
		}
		var size cropbox.Size
		if err := c.BodyParser(&size); err != nil {
			return fiber.NewError(http.StatusBadRequest, err.Error())
		}
		if !(size.Width > 0) || !(size.Height > 0) {
			return fiber.NewError(http.StatusBadRequest, "preview size must be positive")
		}
		return c.JSON(s.SetPreview(size))
	})

	sessions.Post("/:id/commit", a.commitSession)

	sessions.Delete("/:id", func(c *fiber.Ctx) error {
		if !a.config.Sessions.Close(c.Params("id")) {
			return fiber.NewError(http.StatusNotFound, errSessionNotFound.Error())
		}
		return c.SendStatus(http.StatusNoContent)
	})

	webapp.Post("/api/shutdown", func(c *fiber.Ctx) error {
		a.Shutdown()
		return nil
	})

	if isDebug {
		log.Debug().Msg("Debug mode enabled, serving static files from './static' directory")
		webapp.Static("/", "static")
	} else {
		log.Debug().Msg("Serving static files from embedded filesystem")
		webapp.Use("/", filesystem.New(filesystem.Config{
			Root:       http.FS(staticFS),
			PathPrefix: "/static",
		}))
	}

	return webapp
}

func (a *WebApp) Run(ctx context.Context) error {
	webapp := a.routes(ctx)

	webapp.Hooks().OnListen(func(listen fiber.ListenData) error {
		if fn := a.config.OnReady; fn != nil {
			fn(fmt.Sprintf("http://%s:%s", listen.Host, listen.Port))
		}
		return nil
	})

	go func() {
		select {
		case <-ctx.Done():
		case <-a.shutdownCh:
		}
		if fn := a.config.OnBeforeShutdown; fn != nil {
			fn()
		}
		if err := webapp.ShutdownWithTimeout(5 * time.Second); err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("Failed to shutdown web application")
		}
	}()

	listener, err := net.Listen("tcp", a.config.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	if err := webapp.Listener(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}
