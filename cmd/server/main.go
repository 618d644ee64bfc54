package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/yourusername/gameinstall-go/api"
	"github.com/yourusername/gameinstall-go/api/handlers"
	"github.com/yourusername/gameinstall-go/internal/app"
	"github.com/yourusername/gameinstall-go/internal/domain"
	"github.com/yourusername/gameinstall-go/internal/infrastructure"
	"github.com/yourusername/gameinstall-go/pkg/logger"
)

var (
	serverMode = flag.Bool("server-mode", false, "Internal flag: run in server mode (called by daemon)")
	foreground = flag.Bool("foreground", false, "Run in the foreground instead of detaching")
	configPath = flag.String("config", "", "Path to config file")
)

func main() {
	flag.Parse()

	if !*serverMode && !*foreground {
		startAsDaemon()
		return
	}

	runServer()
}

// startAsDaemon re-executes the binary detached from the terminal
func startAsDaemon() {
	execPath, err := os.Executable()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to get executable path: %v\n", err)
		os.Exit(1)
	}

	cwd, err := os.Getwd()
	if err != nil {
		cwd = "/"
	}

	args := []string{"-server-mode"}
	if *configPath != "" {
		args = append(args, "-config", *configPath)
	}
	cmd := exec.Command(execPath, args...)
	cmd.Dir = cwd
	cmd.Env = os.Environ()
	detach(cmd)

	devNull, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to open %s: %v\n", os.DevNull, err)
		os.Exit(1)
	}
	cmd.Stdin = devNull
	cmd.Stdout = devNull
	cmd.Stderr = devNull

	if err := cmd.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to start daemon: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Server started as daemon (PID: %d)\n", cmd.Process.Pid)
	os.Exit(0)
}

func runServer() {
	config, err := app.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Initialize multi-logger (3 categories: install, queue, error)
	multiLog, err := logger.NewMultiLogger(logger.MultiLoggerConfig{
		Level:   config.Logging.Level,
		LogsDir: config.Logging.LogsDir,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer multiLog.Close()

	mainLog, err := logger.New(logger.Config{
		Level:      config.Logging.Level,
		Format:     config.Logging.Format,
		OutputPath: config.Logging.OutputPath,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	logAdapter := logger.NewLoggerAdapter(multiLog, mainLog)
	defer logAdapter.Sync()
	log := logAdapter.Main()

	log.Info("Starting game install server",
		zap.String("version", handlers.Version),
		zap.String("host", config.Server.Host),
		zap.Int("port", config.Server.Port),
		zap.Int("titles", len(config.Titles)),
		zap.Int("workers", config.Install.Workers),
		zap.Int64("rate_limit", config.RateLimit.BytesPerSecond))

	if err := os.MkdirAll(config.History.StateDir(), 0755); err != nil {
		log.Fatal("Failed to create state directory", zap.Error(err))
	}

	repo, err := infrastructure.NewSQLiteInstallRecordRepository(config.History.DatabasePath)
	if err != nil {
		log.Fatal("Failed to initialize repository", zap.Error(err))
	}
	defer repo.Close()

	// engines do not survive a restart
	if n, err := repo.MarkInterrupted(); err != nil {
		log.Warn("Failed to mark interrupted installs", zap.Error(err))
	} else if n > 0 {
		log.Info("Marked interrupted installs", zap.Int64("count", n))
	}

	registry := newRegistry(config, repo, logAdapter)

	router := api.SetupRouter(registry, logAdapter, config.Logging.LogsDir, config.Progress.Interval)

	addr := fmt.Sprintf("%s:%d", config.Server.Host, config.Server.Port)
	server := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server listening", zap.String("addr", addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Server forced to shutdown", zap.Error(err))
	}

	// partial files stay on disk for the next run
	if err := registry.Shutdown(shutdownCtx); err != nil {
		log.Error("Installs did not stop in time", zap.Error(err))
	}

	log.Info("Server exited")
}

// newRegistry wires the manifest, transfer and filesystem services into the
// install registry
func newRegistry(config *domain.Config, repo domain.InstallRecordRepository, logAdapter *logger.LoggerAdapter) *app.Registry {
	log := logAdapter.Main()

	cdn := infrastructure.NewCDNClient(&config.HTTP, log)
	manifests := infrastructure.NewManifestClient(cdn, log)
	files := infrastructure.NewGameFiles()
	volumes := infrastructure.NewLocalVolumes()

	lang, ok := domain.ParseAudioLanguage(config.Install.DefaultAudioLanguage)
	if !ok {
		lang = domain.AudioEnglish
	}
	resolver := app.NewResolver(manifests, files, lang, log)
	planner := app.NewPlanner(resolver, volumes, log)

	deps := app.EngineDeps{
		Downloader: cdn,
		Extractor:  infrastructure.ArchiveExtractor{},
		Diff:       infrastructure.NewDiffApplier(config.Install.HPatchBinary, logAdapter.Install()),
		Volumes:    volumes,
		Files:      files,
	}
	if config.Install.LockInstallRoot {
		deps.Lock = func(root string) (func() error, error) {
			lock, err := volumes.Lock(root)
			if err != nil {
				return nil, err
			}
			return lock.Unlock, nil
		}
	}

	notifier := infrastructure.NewNotificationService(&config.Notification, log)

	return app.NewRegistry(config, planner, resolver, deps, repo, notifier, log, logAdapter.GetMultiLogger())
}
