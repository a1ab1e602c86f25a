package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"runtime"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/marmos91/objectfs/internal/logger"
	"github.com/marmos91/objectfs/pkg/config"
	"github.com/marmos91/objectfs/pkg/server"
	"github.com/marmos91/objectfs/pkg/vfs"
)

// processStats is exported with reflection: the fields become plain files,
// the methods become call directories. Fields are set once before the
// export, so observation never races with a writer.
type processStats struct {
	Hostname  string
	PID       int
	GoVersion string
	StartedAt time.Time
}

func (p *processStats) Uptime() string {
	return time.Since(p.StartedAt).Round(time.Second).String()
}

func (p *processStats) Goroutines() int {
	return runtime.NumGoroutine()
}

// jobBoard is the mutating part of the demonstration tree. It implements
// vfs.Record, so observation and the ticker goroutine meet on the board's
// own lock and a client never reads mid-write state.
type jobBoard struct {
	mu   sync.Mutex
	next int
	jobs map[string]int // progress per job: -1 queued, 0..99 running, 100 done
}

func newJobBoard() *jobBoard {
	return &jobBoard{
		next: 3,
		jobs: map[string]int{
			"job-1": 100,
			"job-2": 35,
			"job-3": -1,
		},
	}
}

func (b *jobBoard) MemberNames() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	names := make([]string, 0, len(b.jobs))
	for name := range b.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (b *jobBoard) Member(name string) (any, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	progress, ok := b.jobs[name]
	if !ok {
		return nil, false
	}
	return renderProgress(progress), true
}

func (b *jobBoard) SetMember(name string, value any) bool {
	text, ok := value.(string)
	if !ok {
		return false
	}
	progress, err := parseProgress(text)
	if err != nil {
		return false
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.jobs[name] = progress
	return true
}

// advance moves running jobs forward and recycles finished ones, so a
// mounted client sees the directory change on its own.
func (b *jobBoard) advance() {
	b.mu.Lock()
	defer b.mu.Unlock()

	var finished []string
	for name, progress := range b.jobs {
		switch {
		case progress < 0:
			b.jobs[name] = 10
		case progress < 100:
			progress += 30
			if progress > 100 {
				progress = 100
			}
			b.jobs[name] = progress
		default:
			finished = append(finished, name)
		}
	}

	for _, name := range finished {
		delete(b.jobs, name)
		b.next++
		b.jobs[fmt.Sprintf("job-%d", b.next)] = -1
	}
}

func renderProgress(progress int) string {
	switch {
	case progress < 0:
		return "queued"
	case progress >= 100:
		return "done"
	default:
		return fmt.Sprintf("running %d%%", progress)
	}
}

func parseProgress(text string) (int, error) {
	text = strings.TrimSpace(text)
	switch text {
	case "queued":
		return -1, nil
	case "done":
		return 100, nil
	}

	text = strings.TrimSuffix(strings.TrimPrefix(text, "running "), "%")
	progress, err := strconv.Atoi(text)
	if err != nil {
		return 0, err
	}
	if progress < 0 || progress > 100 {
		return 0, fmt.Errorf("progress %d out of range", progress)
	}
	return progress, nil
}

// setLogLevel is exported as a standalone call directory, so the log level
// can be changed at runtime by writing to the tree:
//
//	echo DEBUG > control/set_log_level/call
func setLogLevel(level string) (string, error) {
	level = strings.ToUpper(strings.TrimSpace(level))
	switch level {
	case "DEBUG", "INFO", "WARN", "ERROR":
		logger.SetLevel(level)
		return "log level set to " + level, nil
	default:
		return "", fmt.Errorf("unknown level %q", level)
	}
}

// demoOptions resolves attach options for a named export, preferring the
// configuration file entry when one exists.
func demoOptions(cfg *config.Config, name string, fallback vfs.ExportConfig) (vfs.ExportConfig, bool, error) {
	entry, ok := config.ExportNamed(cfg, name)
	if !ok {
		return fallback, false, nil
	}
	opts, err := config.BuildExportConfig(entry)
	if err != nil {
		return vfs.ExportConfig{}, false, err
	}
	return opts, entry.Weak, nil
}

// createDemoExports seeds the tree with a little live state: process
// information, a mutating job board, a runtime control, and the server's
// own log.
func createDemoExports(cfg *config.Config, storage *vfs.Storage) (*jobBoard, error) {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	stats := &processStats{
		Hostname:  hostname,
		PID:       os.Getpid(),
		GoVersion: runtime.Version(),
		StartedAt: time.Now(),
	}

	opts, weak, err := demoOptions(cfg, "process", vfs.ExportConfig{Reflect: true, ExportCalls: true})
	if err != nil {
		return nil, err
	}
	handle := vfs.Strong(stats)
	if weak {
		handle = vfs.Weak(stats)
	}
	if _, err := storage.Export("process", handle, opts); err != nil {
		return nil, fmt.Errorf("failed to export process stats: %w", err)
	}
	logger.Info("Export added: /process")

	board := newJobBoard()
	opts, weak, err = demoOptions(cfg, "jobs", vfs.ExportConfig{})
	if err != nil {
		return nil, err
	}
	handle = vfs.Strong(board)
	if weak {
		handle = vfs.Weak(board)
	}
	if _, err := storage.Export("jobs", handle, opts); err != nil {
		return nil, fmt.Errorf("failed to export job board: %w", err)
	}
	logger.Info("Export added: /jobs")

	if _, err := storage.ExportFunc("set_log_level", setLogLevel, vfs.ExportConfig{Base: "control"}); err != nil {
		return nil, fmt.Errorf("failed to export log level control: %w", err)
	}
	logger.Info("Export added: /control/set_log_level")

	ring := vfs.NewRingLog(512)
	logger.Tee(ring)
	if _, err := storage.AttachLog(storage.RootID(), "log", ring); err != nil {
		return nil, fmt.Errorf("failed to attach log file: %w", err)
	}
	logger.Info("Export added: /log")

	return board, nil
}

// runDemo mutates the job board until shutdown, so a mounted client can
// watch /jobs change without touching anything.
func runDemo(ctx context.Context, board *jobBoard) {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			board.advance()
		}
	}
}

func main() {
	configPath := flag.String("config", "", "Path to configuration file (default: search standard locations)")
	logLevel := flag.String("log-level", "", "Override configured log level (DEBUG, INFO, WARN, ERROR)")
	initConfig := flag.Bool("init-config", false, "Write a sample configuration file and exit")
	force := flag.Bool("force", false, "Overwrite an existing file with --init-config")
	flag.Parse()

	if *initConfig {
		path, err := config.InitConfig(*force)
		if err != nil {
			log.Fatalf("Failed to write config: %v", err)
		}
		fmt.Printf("Sample configuration written to %s\n", path)
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	if *logLevel != "" {
		cfg.Logging.Level = strings.ToUpper(*logLevel)
	}

	logger.SetLevel(cfg.Logging.Level)
	logger.SetFormat(cfg.Logging.Format)
	if err := logger.SetDestination(cfg.Logging.Output); err != nil {
		log.Fatalf("Failed to configure logging: %v", err)
	}

	fmt.Println("ObjectFS - Live Object Filesystem")
	logger.Info("Log level set to: %s", cfg.Logging.Level)

	// Create cancellable context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	metricsResult := config.InitializeMetrics(cfg)
	if metricsResult.Server != nil {
		go func() {
			if err := metricsResult.Server.Start(ctx); err != nil {
				logger.Error("Metrics server error: %v", err)
			}
		}()
	}

	storage := vfs.NewStorage()

	board, err := createDemoExports(cfg, storage)
	if err != nil {
		log.Fatalf("Failed to create demo exports: %v", err)
	}
	go runDemo(ctx, board)

	srv := server.New(storage)
	srv.EnableTreeMetrics(metricsResult.TreeMetrics, cfg.Server.TreeSampleInterval)
	srv.SetShutdownTimeout(cfg.Server.ShutdownTimeout)

	adapters, err := config.CreateAdapters(cfg, metricsResult.NinePMetrics, metricsResult.FUSEMetrics)
	if err != nil {
		log.Fatalf("Failed to create adapters: %v", err)
	}
	for _, a := range adapters {
		if err := srv.AddAdapter(a); err != nil {
			log.Fatalf("Failed to register %s adapter: %v", a.Protocol(), err)
		}
	}

	// Log server configuration
	logger.Info("Server configuration:")
	if cfg.Adapters.NineP.Enabled {
		logger.Info("  9P port: %d", cfg.Adapters.NineP.Port)
	}
	if cfg.Adapters.FUSE.Enabled {
		logger.Info("  FUSE mountpoint: %s", cfg.Adapters.FUSE.Mountpoint)
	}
	if cfg.Metrics.Enabled {
		logger.Info("  Metrics port: %d", cfg.Metrics.Port)
	}
	logger.Info("  Shutdown timeout: %v", cfg.Server.ShutdownTimeout)
	logger.Info("  Tree sample interval: %v", cfg.Server.TreeSampleInterval)

	// Start server in background
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- srv.Serve(ctx)
	}()

	// Wait for interrupt signal or server error
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Server is running. Press Ctrl+C to stop.")

	select {
	case <-sigChan:
		logger.Info("Shutdown signal received, initiating graceful shutdown...")
		cancel()

		if err := <-serverDone; err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server shutdown error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped gracefully")

	case err := <-serverDone:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("Server error: %v", err)
			os.Exit(1)
		}
		logger.Info("Server stopped")
	}
}
