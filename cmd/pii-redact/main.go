package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	piiredactor "github.com/menta2k/pii-redactor"
	"github.com/menta2k/pii-redactor/internal/config"
	"github.com/menta2k/pii-redactor/internal/fileutil"
	"github.com/menta2k/pii-redactor/internal/logging"
	"github.com/menta2k/pii-redactor/pkg/client"
	"github.com/menta2k/pii-redactor/pkg/compositor"
	"github.com/menta2k/pii-redactor/pkg/detection"
	"github.com/menta2k/pii-redactor/pkg/gemini"
	"github.com/menta2k/pii-redactor/pkg/ollama"
	"github.com/menta2k/pii-redactor/pkg/processing"
	"github.com/menta2k/pii-redactor/pkg/resilience"
	"github.com/menta2k/pii-redactor/pkg/session"
	"github.com/menta2k/pii-redactor/pkg/types"
)

// multiFlag collects a repeatable string flag.
type multiFlag []string

func (m *multiFlag) String() string { return strings.Join(*m, ",") }

func (m *multiFlag) Set(v string) error {
	*m = append(*m, v)
	return nil
}

func main() {
	var inputs multiFlag
	var outDir, backend, model, url, colorHex, skip, format, configPath string
	var opacity, buffer float64

	flag.Var(&inputs, "in", "input image path or URL (repeatable)")
	flag.StringVar(&outDir, "out", "", "output directory")
	flag.StringVar(&backend, "backend", "", "detection backend: gemini or ollama")
	flag.StringVar(&model, "model", "", "model name (default depends on backend)")
	flag.StringVar(&url, "url", "", "backend server URL (ollama default: http://localhost:11434)")
	flag.StringVar(&colorHex, "color", "", "redaction fill color as #RRGGBB")
	flag.Float64Var(&opacity, "opacity", -1, "redaction fill opacity (0.0-1.0)")
	flag.Float64Var(&buffer, "buffer", -1, "safety buffer as a fraction of box size per side")
	flag.StringVar(&skip, "skip", "", "comma-separated category labels to leave unredacted")
	flag.StringVar(&format, "format", "", "export format: png|webp")
	flag.StringVar(&configPath, "config", "", "config file path (default ~/.config/pii-redactor/config.json)")

	flag.Parse()
	if len(inputs) == 0 {
		log.Fatalf("usage: %s -in input.jpg|URL [-in more.png ...] [-backend gemini|ollama] [-out outdir] [-skip face,signature] [-color #000000] [-format png|webp]", filepath.Base(os.Args[0]))
	}

	cfg := loadConfig(configPath)
	applyFlagOverrides(cfg, backend, model, url, outDir, colorHex, format, skip, opacity, buffer)
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}

	logger := logging.NewJSONLogger("pii-redact", cfg.LogLevel)

	// Create appropriate client based on backend
	var visionClient client.VisionClient
	var err error

	switch cfg.Detection.Backend {
	case "gemini":
		visionClient, err = gemini.NewClient(cfg.APIKey(), cfg.Detection.Model, cfg.Detection.ServerURL)
	case "ollama":
		serverURL := cfg.Detection.ServerURL
		if serverURL == "" {
			serverURL = "http://localhost:11434"
		}
		visionClient, err = ollama.NewClient(serverURL, cfg.Detection.Model)
	}
	if err != nil {
		logger.Error("backend setup failed", "backend", cfg.Detection.Backend, "error", err)
		fmt.Fprintln(os.Stderr, types.UserMessage(err))
		os.Exit(1)
	}

	execCfg := resilience.DefaultConfig()
	execCfg.MaxAttempts = cfg.Detection.MaxAttempts
	execCfg.BreakerEnabled = cfg.Detection.BreakerEnabled

	processor := processing.NewProcessorWithConfig(processing.Config{
		MaxDimension: cfg.Prep.MaxDimension,
		JPEGQuality:  cfg.Prep.JPEGQuality,
	})
	detector := detection.NewDetector(visionClient,
		detection.WithExecutor(resilience.NewExecutor(execCfg)),
		detection.WithBufferFraction(cfg.Redaction.BufferFraction),
		detection.WithLogger(logger),
	)

	r := piiredactor.New(visionClient,
		piiredactor.WithProcessor(processor),
		piiredactor.WithDetector(detector),
		piiredactor.WithWorkspace(session.NewWorkspace(cfg.Workspace.MaxBatch)),
		piiredactor.WithLogger(logger),
	)

	// Stage inputs
	staged := 0
	for _, in := range inputs {
		if _, err := r.Add(in); err != nil {
			logger.Error("staging failed", "input", in, "error", err)
			fmt.Fprintf(os.Stderr, "%s: %s\n", in, types.UserMessage(err))
			continue
		}
		staged++
	}
	if staged == 0 {
		log.Fatal("no inputs could be staged")
	}

	// Detect concurrently; a failed session keeps its error and the rest
	// continue.
	if err := r.AnalyzeAll(context.Background()); err != nil {
		logger.Warn("one or more analyses failed", "error", err)
	}

	deselectSkipped(r.Workspace(), cfg.Redaction.SkipCategories())

	fill, err := compositor.ParseHexColor(cfg.Redaction.Color)
	if err != nil {
		log.Fatalf("invalid -color: %v", err)
	}
	style := compositor.Style{Color: fill, Opacity: cfg.Redaction.Opacity}

	if err := fileutil.EnsureDir(cfg.Output.OutputDir); err != nil {
		log.Fatalf("cannot create output directory: %v", err)
	}

	exported, failed := 0, 0
	for _, view := range r.Workspace().Sessions() {
		if view.Status == session.StatusError {
			failed++
			fmt.Fprintf(os.Stderr, "%s: %s\n", view.FileName, view.LastError)
			continue
		}

		name := fileutil.BaseNameFromURL(view.FileName)
		outPath := filepath.Join(cfg.Output.OutputDir, fileutil.ExportFileName(cfg.Output.Prefix, name, cfg.Output.Format))

		if err := r.ExportFile(view.ID, outPath, style, cfg.Output.Format); err != nil {
			failed++
			logger.Error("export failed", "session", view.ID, "path", outPath, "error", err)
			fmt.Fprintf(os.Stderr, "%s: %s\n", view.FileName, types.UserMessage(err))
			continue
		}

		selected := 0
		for _, d := range view.Detections {
			if d.Selected {
				selected++
			}
		}
		log.Printf("wrote %s (%d of %d regions redacted)", outPath, selected, len(view.Detections))
		exported++
	}

	logger.Info("run complete", "staged", staged, "exported", exported, "failed", failed)
	if exported == 0 {
		os.Exit(1)
	}
}

func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadFromFile(path)
		if err != nil {
			log.Fatalf("cannot load config: %v", err)
		}
		return cfg
	}
	if def := config.GetConfigPath(); fileutil.FileExists(def) {
		if cfg, err := config.LoadFromFile(def); err == nil {
			return cfg
		}
	}
	return config.Default()
}

func applyFlagOverrides(cfg *config.Config, backend, model, url, outDir, colorHex, format, skip string, opacity, buffer float64) {
	if backend != "" {
		cfg.Detection.Backend = backend
	}
	if model != "" {
		cfg.Detection.Model = model
	}
	if url != "" {
		cfg.Detection.ServerURL = url
	}
	if outDir != "" {
		cfg.Output.OutputDir = outDir
	}
	if colorHex != "" {
		cfg.Redaction.Color = colorHex
	}
	if format != "" {
		cfg.Output.Format = format
	}
	if skip != "" {
		cfg.Redaction.Skip = skip
	}
	if opacity >= 0 {
		cfg.Redaction.Opacity = opacity
	}
	if buffer >= 0 {
		cfg.Redaction.BufferFraction = buffer
	}
}

// deselectSkipped clears the selected flag for the named categories in every
// session.
func deselectSkipped(w *session.Workspace, labels []string) {
	if len(labels) == 0 {
		return
	}
	original := w.ActiveID()
	for _, view := range w.Sessions() {
		if err := w.SetActive(view.ID); err != nil {
			continue
		}
		for _, label := range labels {
			w.ToggleCategory(label, false)
		}
	}
	if original != "" {
		_ = w.SetActive(original)
	}
}
