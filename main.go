package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"

	"github.com/alecthomas/kong"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"

	"cropdesk/pkg/raster"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Send()
	}
}

func run() error {
	// .env is optional; variables already set in the environment win.
	_ = godotenv.Load()

	var args cliArgs
	cliCtx := kong.Parse(
		&args,
		kong.Name("cropdesk"),
		kong.Description("Crop avatar and background images for agent dossiers."),
		kong.UsageOnError(),
	)
	cleanup := args.Globals.setupLogging()
	defer cleanup()

	if err := cliCtx.Run(&args.Globals); err != nil {
		return err
	}

	return nil
}

type cliArgs struct {
	Globals

	Serve   serveCmd   `cmd:"" default:"withargs" help:"Serve the interactive cropper for a directory of images"`
	Crop    cropCmd    `cmd:"" help:"Commit crop operations read as JSON or JSON lines"`
	Presets presetsCmd `cmd:"" help:"Print the configured crop presets"`
}

type OutputFlags struct {
	OutputDir string `help:"Directory committed crops are written to (default: ROOT/output)" type:"path" env:"CROPDESK_OUTPUT_DIR"`
	Dossier   string `help:"Dossier JSON file whose image slots receive committed crops" type:"path" env:"CROPDESK_DOSSIER"`
	Format    string `help:"Encoding of committed crops" default:"png" enum:"png,jpeg,webp" env:"CROPDESK_FORMAT"`
	Quality   int    `help:"JPEG/WebP quality (1-100)" default:"90"`
}

func (f OutputFlags) committer(rootDir string, inline bool) (*Committer, error) {
	format, err := raster.ParseFormat(f.Format)
	if err != nil {
		return nil, err
	}
	outputDir := f.OutputDir
	if outputDir == "" {
		outputDir = filepath.Join(rootDir, "output")
	}
	return &Committer{
		Format:      format,
		Quality:     f.Quality,
		OutputDir:   outputDir,
		DossierPath: f.Dossier,
		InlineData:  inline,
	}, nil
}

type serveCmd struct {
	RootDir string `arg:"" help:"Root directory to serve images from" type:"existingdir"`
	Addr    string `help:"Listen address; port 0 picks a free port" default:"localhost:0" env:"CROPDESK_ADDR"`
	Open    bool   `help:"Open the browser automatically when the server starts" default:"true" negatable:""`
	Once    bool   `help:"Exit after the first committed crop" default:"false"`

	MaxSessions int `help:"Open crop sessions kept before the least recently used is discarded" default:"32"`

	OutputFlags `embed:""`
}

func (cmd *serveCmd) Run(g *Globals) error {
	presets, err := LoadPresets(g.PresetsFile)
	if err != nil {
		return err
	}
	committer, err := cmd.committer(cmd.RootDir, true)
	if err != nil {
		return err
	}
	sessions, err := NewSessionStore(cmd.MaxSessions)
	if err != nil {
		return fmt.Errorf("failed to create session store: %w", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()

	ctx = log.Logger.WithContext(ctx)

	app := NewWebApp(Config{
		RootDir:   cmd.RootDir,
		Addr:      cmd.Addr,
		Presets:   presets,
		Sessions:  sessions,
		Committer: committer,
		OnBeforeShutdown: func() {
			log.Ctx(ctx).Info().Msg("Shutting down web application...")
		},
		OnReady: func(addr string) {
			log.Ctx(ctx).Info().Msgf("Server started at %s", addr)
			if cmd.Open {
				if err := openBrowser(addr); err != nil {
					log.Error().Err(err).Msg("Failed to open browser")
				}
			}
		},
		OnCommit: func(c Committed) {
			if cmd.Once {
				cancel()
			}
		},
	})

	if err := app.Run(ctx); err != nil {
		return err
	}

	return nil
}

type cropCmd struct {
	Input   string `arg:"" optional:"" help:"File with operations; stdin when omitted or '-'"`
	BaseDir string `help:"Directory operation file names are relative to" default:"." type:"existingdir"`
	JSON    bool   `help:"Print the mapped source regions as JSON lines without cropping"`

	OutputFlags `embed:""`
}

func (cmd *cropCmd) Run(g *Globals) error {
	presets, err := LoadPresets(g.PresetsFile)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if cmd.Input != "" && cmd.Input != "-" {
		f, err := os.Open(cmd.Input)
		if err != nil {
			return fmt.Errorf("failed to open operations: %w", err)
		}
		defer f.Close()
		in = f
	}
	ops, err := readOperations(in)
	if err != nil {
		return err
	}

	committer, err := cmd.committer(cmd.BaseDir, false)
	if err != nil {
		return err
	}
	executor := OperationExecutor{
		BaseDir:   cmd.BaseDir,
		Presets:   presets,
		Committer: committer,
	}

	if cmd.JSON {
		plans, err := executor.DryRun(ops)
		if err != nil {
			return err
		}
		printJSONL(plans)
		return nil
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt)
	defer cancel()
	ctx = log.Logger.WithContext(ctx)

	results, err := executor.Exec(ctx, ops)
	printJSONL(results)
	return err
}

type presetsCmd struct{}

func (cmd *presetsCmd) Run(g *Globals) error {
	presets, err := LoadPresets(g.PresetsFile)
	if err != nil {
		return err
	}
	printJSONL(presets.Sorted())
	return nil
}

func printJSONL[T any](data []T) {
	enc := json.NewEncoder(os.Stdout)
	for _, item := range data {
		if err := enc.Encode(item); err != nil {
			log.Error().Err(err).Msg("Failed to encode item to JSON")
			continue
		}
	}
}
