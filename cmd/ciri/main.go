// ABOUTME: Entry point for ciri, a Matrix gallery bot
// ABOUTME: Wires config, the dedupe cache, its background saver, the bot and the Matrix sync loop

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"golang.org/x/sync/errgroup"

	"github.com/2389/ciri/internal/bot"
	"github.com/2389/ciri/internal/config"
	"github.com/2389/ciri/internal/dedupe"
	"github.com/2389/ciri/internal/gallery"
	"github.com/2389/ciri/internal/matrix"
	"github.com/2389/ciri/internal/metrics"
	"github.com/2389/ciri/internal/saver"
	"github.com/2389/ciri/internal/store"
)

const banner = `
       _      _
  ___ (_)_ __(_)
 / __|| | '__| |
| (__ | | |  | |
 \___||_|_|  |_|
`

// getConfigPath returns the path to the config file.
// Priority: CIRI_CONFIG env var > XDG_CONFIG_HOME/ciri/ciri.toml > ~/.config/ciri/ciri.toml
func getConfigPath() string {
	if envPath := os.Getenv("CIRI_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "ciri.toml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}

	return filepath.Join(configDir, "ciri", "ciri.toml")
}

// getDataPath returns the directory for the cache and the crypto store.
// Priority: XDG_DATA_HOME/ciri > ~/.local/share/ciri
func getDataPath() string {
	dataDir := os.Getenv("XDG_DATA_HOME")
	if dataDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "data"
		}
		dataDir = filepath.Join(homeDir, ".local", "share")
	}

	return filepath.Join(dataDir, "ciri")
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init" {
		if err := runInit(os.Stdin); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		return
	}

	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cyan := color.New(color.FgCyan)
	cyan.Print(banner)

	configPath := getConfigPath()
	dataPath := getDataPath()

	if err := os.MkdirAll(dataPath, 0700); err != nil {
		return fmt.Errorf("creating data directory: %w", err)
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)
	slog.SetDefault(logger)

	cachePath := cfg.CachePath(dataPath)
	printSummary(configPath, cachePath, cfg)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	st, err := store.Open(cfg.Cache.Backend, cachePath)
	if err != nil {
		return fmt.Errorf("opening cache store: %w", err)
	}
	defer st.Close()

	cache := loadCache(ctx, st, cfg.Cache.Capacity, logger)

	var (
		m            *metrics.Metrics
		saveObserver metrics.SaveObserver    = metrics.NoopObserver{}
		cmdObserver  metrics.CommandObserver = metrics.NoopObserver{}
	)
	if cfg.Metrics.Enabled {
		m = metrics.New()
		saveObserver, cmdObserver = m, m
	}

	sv := saver.New(cache, st,
		saver.WithDebounce(cfg.Cache.SaveDebounce),
		saver.WithShutdownTimeout(cfg.Cache.ShutdownTimeout),
		saver.WithLogger(logger),
		saver.WithObserver(saveObserver),
	)
	cache.OnChange(sv.Notify)

	bridge, err := matrix.NewBridge(cfg, logger)
	if err != nil {
		return fmt.Errorf("creating bridge: %w", err)
	}
	if err := bridge.Login(ctx); err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}

	if cfg.Matrix.RecoveryKey != "" {
		crypto, err := matrix.EnableCrypto(ctx, bridge.Client(), cfg.Matrix.RecoveryKey, dataPath, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	} else {
		logger.Info("encryption disabled (no recovery key)")
	}

	gal := gallery.NewClient(gallery.Options{
		BaseURL:   cfg.Gallery.BaseURL,
		ImageHost: cfg.Gallery.ImageHost,
		VideoHost: cfg.Gallery.VideoHost,
		Flags:     cfg.Gallery.Flags,
		Promoted:  cfg.Gallery.Promoted,
		Timeout:   cfg.Gallery.Timeout,
	})

	b := bot.New(cache, gal, bridge.Messenger(), bot.Options{
		Prefix:     cfg.Bot.CommandPrefix,
		Aliases:    cfg.Bot.Aliases,
		CheckAlive: cfg.Gallery.CheckAlive,
		Logger:     logger,
		Observer:   cmdObserver,
	})
	logger.Info("bot ready", "commands", strings.Join(b.Commands(), ","))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return sv.Run(gctx) })
	g.Go(func() error { return bridge.Run(gctx, b) })
	if m != nil {
		serveMetrics(gctx, g, cfg.Metrics.Addr, m, logger)
	}

	err = g.Wait()
	logger.Info("shutdown complete", "saves", sv.Saves())
	return err
}

// loadCache restores the saved cache. A missing or unreadable snapshot is not
// fatal: the bot starts with an empty cache.
func loadCache(ctx context.Context, st store.Store, capacity int, logger *slog.Logger) *dedupe.Cache {
	cache, err := store.LoadCache(ctx, st, capacity)
	switch {
	case err == nil:
		logger.Info("loaded dedupe cache", "scopes", cache.Scopes(), "entries", cache.TotalEntries())
		return cache
	case errors.Is(err, fs.ErrNotExist):
		logger.Info("no saved dedupe cache, starting empty")
	default:
		logger.Warn("could not load dedupe cache, starting empty", "error", err)
	}
	return dedupe.New(capacity)
}

// serveMetrics runs the metrics endpoint until ctx is done.
func serveMetrics(ctx context.Context, g *errgroup.Group, addr string, m *metrics.Metrics, logger *slog.Logger) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           m.Mux(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		logger.Info("serving metrics", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("metrics server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
}

func printSummary(configPath, cachePath string, cfg *config.Config) {
	green := color.New(color.FgGreen)
	line := func(label, value string) {
		green.Print("    ▶ ")
		fmt.Printf("%-11s %s\n", label+":", value)
	}

	line("Config", configPath)
	line("Homeserver", cfg.Matrix.Homeserver)
	if cfg.Matrix.Username != "" {
		line("Username", cfg.Matrix.Username)
	} else {
		line("User ID", cfg.Matrix.UserID)
	}
	line("Gallery", cfg.Gallery.BaseURL)
	line("Cache", fmt.Sprintf("%s (%s, %d per room)", cachePath, cfg.Cache.Backend, cfg.Cache.Capacity))
	if cfg.Matrix.RecoveryKey != "" {
		line("Encryption", "enabled")
	}
	if cfg.Metrics.Enabled {
		line("Metrics", "http://"+cfg.Metrics.Addr+"/metrics")
	}
	fmt.Println()
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "info":
		logLevel = slog.LevelInfo
	case "warn", "warning":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{
		Level: logLevel,
	}

	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
