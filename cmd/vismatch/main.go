// Package main is the vismatch CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/taipei-doit/vismatch-svc/internal/cli"
	"github.com/taipei-doit/vismatch-svc/internal/config"
	"github.com/taipei-doit/vismatch-svc/internal/engine"
	"github.com/taipei-doit/vismatch-svc/internal/fingerprint"
	"github.com/taipei-doit/vismatch-svc/internal/imaging"
	"github.com/taipei-doit/vismatch-svc/internal/index"
	"github.com/taipei-doit/vismatch-svc/internal/library"
	"github.com/taipei-doit/vismatch-svc/internal/models"
	"github.com/taipei-doit/vismatch-svc/internal/registry"
	"github.com/taipei-doit/vismatch-svc/internal/server"
	"github.com/taipei-doit/vismatch-svc/internal/storage"
	"github.com/taipei-doit/vismatch-svc/internal/watcher"
	"github.com/taipei-doit/vismatch-svc/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/vismatch/config.yaml"

// loadConfig loads config from path. When path is the default, it first looks
// for config.yaml in the current directory (for development); if that exists
// it is used. Returns the config and the path that was actually loaded.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, cwdErr := os.Getwd(); cwdErr == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, statErr := os.Stat(fallback); statErr == nil {
				cfg, loadErr := config.Load(fallback)
				if loadErr != nil {
					return nil, "", loadErr
				}
				return cfg, fallback, nil
			}
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := os.Args[1]
	switch command {
	case "server":
		runServer()
	case "query":
		runQuery()
	case "ingest":
		runIngest()
	case "remove":
		runRemove()
	case "projects":
		runProjects()
	case "evict":
		runEvict()
	case "status":
		runStatus()
	case "version", "--version", "-v":
		fmt.Printf("vismatch version %s\n", version)
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Printf("Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func runServer() {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging (file events, index loads, etc.)")
	_ = fs.Parse(os.Args[2:])

	cfg, resolvedConfigPath, err := loadConfig(*configPath)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		fmt.Printf("Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("config loaded",
		zap.String("config_path", resolvedConfigPath),
		zap.Bool("debug", debugMode),
	)

	components, err := initializeComponents(cfg, logger, debugMode)
	if err != nil {
		logger.Fatal("Failed to initialize components", zap.Error(err))
	}
	defer components.Close()

	eng := components.Engine

	// Warm every project already on disk so first queries don't pay the load.
	warmCtx, warmCancel := context.WithTimeout(context.Background(), 5*time.Minute)
	warmProjects(warmCtx, components, logger)
	warmCancel()

	watchCtx, watchCancel := context.WithCancel(context.Background())
	defer watchCancel()
	if cfg.Watch.EnabledOrDefault() {
		watchOpts := []watcher.Option{}
		if debugMode {
			watchOpts = append(watchOpts, watcher.WithLogger(logger))
		}
		watchSvc := watcher.New(
			components.Library,
			func(project, identifier string) {
				if err := eng.IngestFile(context.Background(), project, identifier); err != nil {
					logger.Warn("watch index image failed",
						zap.String("project", project),
						zap.String("identifier", identifier),
						zap.Error(err))
				}
			},
			func(project, identifier string) {
				if err := eng.RemoveFile(context.Background(), project, identifier); err != nil {
					logger.Warn("watch remove image failed",
						zap.String("project", project),
						zap.String("identifier", identifier),
						zap.Error(err))
				}
			},
			watchOpts...,
		)
		if err := watchSvc.Start(watchCtx); err != nil {
			logger.Fatal("Failed to start watcher", zap.Error(err))
		}
		defer watchSvc.Stop()
	}

	if cfg.Registry.IdleTTLMinutes > 0 {
		go runIdleSweeper(watchCtx, components.Registry, cfg, logger)
	}

	srv := server.NewServer(eng, components.Store, cfg, logger)
	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Server failed", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	logger.Info("Shutting down...")
	watchCancel()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = srv.Stop(ctx)
}

// warmProjects loads every on-disk project into memory at startup.
func warmProjects(ctx context.Context, components *Components, logger *zap.Logger) {
	projects, err := components.Library.Projects()
	if err != nil {
		logger.Warn("failed to enumerate projects", zap.Error(err))
		return
	}
	for _, project := range projects {
		h, err := components.Registry.Acquire(ctx, project, false)
		if err != nil {
			logger.Warn("failed to warm project", zap.String("project", project), zap.Error(err))
			continue
		}
		h.Release()
	}
	logger.Info("projects warmed", zap.Int("count", len(projects)))
}

// runIdleSweeper periodically evicts project indexes untouched longer than
// the configured TTL.
func runIdleSweeper(ctx context.Context, reg *registry.Registry, cfg *config.Config, logger *zap.Logger) {
	ttl := time.Duration(cfg.Registry.IdleTTLMinutes) * time.Minute
	interval := time.Duration(cfg.Registry.SweepIntervalMinutes) * time.Minute
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if evicted := reg.EvictIdle(ttl); len(evicted) > 0 {
				logger.Info("idle projects evicted", zap.Strings("projects", evicted))
			}
		}
	}
}

func runQuery() {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = direct storage access)")
	k := fs.Int("k", 0, "number of matches (0 = server default)")
	withImage := fs.Bool("with-image", false, "include matched image data in results")
	outputFormat := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: vismatch query [flags] <project> <image-file>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	project := fs.Arg(0)
	data, err := os.ReadFile(fs.Arg(1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}

	format := cli.OutputText
	switch *outputFormat {
	case "json":
		format = cli.OutputJSON
	case "text":
	default:
		fmt.Printf("Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}

	query := &models.MatchQuery{
		Data:      imaging.ToBase64(data),
		K:         *k,
		WithImage: *withImage,
	}

	var response *models.MatchResponse
	if *serverURL != "" {
		response, err = queryViaHTTP(*serverURL, project, query)
	} else {
		var components *Components
		components, err = directComponents(*configPath)
		if err == nil {
			defer components.Close()
			response, err = components.Engine.Query(context.Background(), project, query)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Query failed: %v\n", err)
		os.Exit(1)
	}
	if err := cli.WriteMatchResults(os.Stdout, response, format); err != nil {
		fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
		os.Exit(1)
	}
}

func queryViaHTTP(serverURL, project string, query *models.MatchQuery) (*models.MatchResponse, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(
		serverURL+"/api/v1/projects/"+url.PathEscape(project)+"/query",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.MatchResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runIngest() {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path (for direct mode)")
	serverURL := fs.String("server", "http://localhost:8080", "server URL (empty = direct storage access)")
	identifier := fs.String("identifier", "", "identifier for the stored image (default: file basename)")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: vismatch ingest [flags] <project> <image-file>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fs.Usage()
		os.Exit(1)
	}
	project := fs.Arg(0)
	path := fs.Arg(1)
	data, err := os.ReadFile(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to read image: %v\n", err)
		os.Exit(1)
	}
	id := *identifier
	if id == "" {
		id = filepath.Base(path)
	}

	req := &models.IngestRequest{Identifier: id, Data: imaging.ToBase64(data)}

	var response *models.IngestResponse
	if *serverURL != "" {
		response, err = ingestViaHTTP(*serverURL, project, req)
	} else {
		var components *Components
		components, err = directComponents(*configPath)
		if err == nil {
			defer components.Close()
			response, err = components.Engine.Ingest(context.Background(), project, req)
		}
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ingest failed: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Ingested %s/%s (%d images in project)\n", response.Project, response.Identifier, response.Records)
}

func ingestViaHTTP(serverURL, project string, req *models.IngestRequest) (*models.IngestResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(
		serverURL+"/api/v1/projects/"+url.PathEscape(project)+"/images",
		"application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, string(b))
	}
	var response models.IngestResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &response, nil
}

func runRemove() {
	fs := flag.NewFlagSet("remove", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 2 {
		fmt.Println("Usage: vismatch remove [flags] <project> <identifier>")
		os.Exit(1)
	}
	project := fs.Arg(0)
	identifier := fs.Arg(1)

	req, _ := http.NewRequest(http.MethodDelete,
		*serverURL+"/api/v1/projects/"+url.PathEscape(project)+"/images/"+url.PathEscape(identifier), nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Remove failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Removed: %s/%s\n", project, identifier)
}

func runProjects() {
	fs := flag.NewFlagSet("projects", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/projects")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "List failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var out struct {
		Projects []models.ProjectInfo `json:"projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}
	for _, p := range out.Projects {
		state := "loaded"
		if !p.Loaded {
			state = "on disk"
		}
		fmt.Printf("%-30s %6d images  (%s)\n", p.Name, p.Records, state)
	}
}

func runEvict() {
	fs := flag.NewFlagSet("evict", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	_ = fs.Parse(os.Args[2:])

	if fs.NArg() < 1 {
		fmt.Println("Usage: vismatch evict [flags] <project>")
		os.Exit(1)
	}
	project := fs.Arg(0)

	resp, err := http.Post(*serverURL+"/api/v1/projects/"+url.PathEscape(project)+"/evict", "application/json", nil)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Request failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Evict failed (%d): %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	fmt.Printf("Evicted: %s\n", project)
}

func runStatus() {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	serverURL := fs.String("server", "http://localhost:8080", "server URL")
	outputFormat := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(os.Args[2:])

	resp, err := http.Get(*serverURL + "/api/v1/status")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Status failed: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		fmt.Fprintf(os.Stderr, "Server returned %d: %s\n", resp.StatusCode, string(b))
		os.Exit(1)
	}
	var status map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		fmt.Fprintf(os.Stderr, "Parse failed: %v\n", err)
		os.Exit(1)
	}

	switch *outputFormat {
	case "json":
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(status); err != nil {
			fmt.Fprintf(os.Stderr, "Output failed: %v\n", err)
			os.Exit(1)
		}
	case "text":
		for _, key := range []string{"projects", "loaded_projects", "indexed_records", "cached_fingerprints", "uptime_seconds"} {
			if v, ok := status[key]; ok {
				fmt.Printf("%-20s %v\n", key+":", v)
			}
		}
		if cfg, ok := status["config"].(map[string]interface{}); ok {
			fmt.Println()
			fmt.Println("# configuration")
			for _, key := range []string{"fingerprint_type", "hash_size", "metric", "image_root", "database_path"} {
				if v, ok := cfg[key]; ok {
					fmt.Printf("%-20s %v\n", key+":", v)
				}
			}
		}
	default:
		fmt.Fprintf(os.Stderr, "Unknown output format %q; use text or json\n", *outputFormat)
		os.Exit(1)
	}
}

// Components holds initialized services.
type Components struct {
	Store    storage.Store
	Library  *library.Library
	Loader   *library.Loader
	Registry *registry.Registry
	Engine   *engine.Engine
}

func (c *Components) Close() {
	if c.Registry != nil {
		c.Registry.Close()
	}
	if c.Store != nil {
		_ = c.Store.Close()
	}
}

// directComponents builds components for CLI direct mode (no server running).
func directComponents(configPath string) (*Components, error) {
	cfg, _, err := loadConfig(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug)
	if err != nil {
		return nil, err
	}
	return initializeComponents(cfg, logger, cfg.Debug)
}

func initializeComponents(cfg *config.Config, logger *zap.Logger, debug bool) (*Components, error) {
	lib, err := library.New(cfg.Storage.ImageRoot, cfg.Watch.Extensions)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize image library: %w", err)
	}
	store, err := storage.NewSQLiteStore(cfg.Storage.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize fingerprint cache: %w", err)
	}

	extractor, err := fingerprint.NewExtractor(&cfg.Fingerprint)
	if err != nil {
		// The ONNX extractor needs CGO and a model file; fall back to the
		// default hash extractor rather than refusing to start.
		if cfg.Fingerprint.Type == "onnx" {
			logger.Warn("failed to create onnx extractor, falling back to difference hash", zap.Error(err))
			fallback := cfg.Fingerprint
			fallback.Type = "difference"
			extractor, err = fingerprint.NewExtractor(&fallback)
		}
		if err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("failed to initialize extractor: %w", err)
		}
	}
	logger.Info("extractor initialized",
		zap.String("type", extractor.Name()),
		zap.Int("dimensions", extractor.Dimensions()))

	metric, err := index.ParseMetric(cfg.Search.Metric)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	var loaderLogger *zap.Logger
	if debug {
		loaderLogger = logger
	}
	loader := library.NewLoader(lib, store, extractor, loaderLogger)

	regOpts := []registry.Option{
		registry.WithExists(lib.HasProject),
		registry.WithPopulate(loader.Populate),
	}
	if debug {
		regOpts = append(regOpts, registry.WithLogger(logger))
	}
	reg := registry.New(extractor.Dimensions(), metric, regOpts...)

	eng := engine.New(reg, lib, loader, store, extractor, engine.Options{
		DefaultK:      cfg.Search.DefaultK,
		MaxK:          cfg.Search.MaxK,
		RequireUnique: cfg.Ingest.RequireUnique,
	}, logger)

	return &Components{
		Store:    store,
		Library:  lib,
		Loader:   loader,
		Registry: reg,
		Engine:   eng,
	}, nil
}

func printUsage() {
	fmt.Println(`vismatch - Per-project visual similarity matching service

Usage:
  vismatch server [flags]                     Start the HTTP server
  vismatch query [flags] <project> <image>    Match an image against a project
  vismatch ingest [flags] <project> <image>   Upload an image into a project
  vismatch remove [flags] <project> <id>      Remove an image from a project
  vismatch projects [flags]                   List projects
  vismatch evict [flags] <project>            Drop a project's in-memory index
  vismatch status [flags]                     Show service status
  vismatch version                            Show version
  vismatch help                               Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/vismatch/config.yaml)
  --debug            Enable debug logging (file events, index loads, etc.)

Query Flags:
  --server string    Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage access.
  --config string    Config file path (for direct mode)
  --k int            Number of matches to return (default: server default)
  --with-image       Include matched image data in results
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --server string      Server URL (default: http://localhost:8080). Use empty (--server "") for direct storage access.
  --config string      Config file path (for direct mode)
  --identifier string  Identifier for the stored image (default: file basename)

Examples:
  vismatch server
  vismatch query animals ./cat.jpg
  vismatch query --k 5 --output json animals ./cat.jpg
  vismatch ingest animals ./dog.jpg
  vismatch ingest --identifier dog-2.jpg animals ./dog.jpg
  vismatch remove animals dog.jpg
  vismatch evict animals
  vismatch status --output json`)
}
