package daemonrun

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"nixupload/internal/config"
	"nixupload/internal/daemon"
	"nixupload/internal/history"
	"nixupload/internal/ipc"
	"nixupload/internal/logging"
	"nixupload/internal/nix"
	"nixupload/internal/preflight"
)

// ErrAlreadyRunning reports that another daemon holds the state directory.
var ErrAlreadyRunning = errors.New("another nix-upload-daemon is already running")

// Options configures daemon process runtime behavior.
type Options struct {
	LogLevel    string
	Development bool
	// Logger replaces the configured daemon logger when set.
	Logger *slog.Logger
	// Runner replaces the exec runner used for nix commands when set.
	Runner nix.Runner
	// OnListening is called with the bound address once the listener is up.
	OnListening func(ipc.Binding)
}

// Run starts the upload daemon and blocks until it has drained after
// SIGINT, SIGTERM, or cancellation of cmdCtx.
func Run(cmdCtx context.Context, cfg *config.Config, opts Options) error {
	if cfg == nil {
		return fmt.Errorf("config is required")
	}
	if err := cfg.RequireCopyDestination(); err != nil {
		return err
	}
	if level := strings.TrimSpace(opts.LogLevel); level != "" {
		copied := *cfg
		copied.Logging.Level = level
		cfg = &copied
	}

	signalCtx, cancel := signal.NotifyContext(cmdCtx, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := cfg.EnsureDirectories(); err != nil {
		return fmt.Errorf("ensure directories: %w", err)
	}

	logger := opts.Logger
	if logger == nil {
		var err error
		if opts.Development {
			logger, err = logging.New(logging.Options{
				Level:       cfg.Logging.Level,
				Format:      cfg.Logging.Format,
				FilePath:    cfg.DaemonLogPath(),
				Development: true,
			})
		} else {
			logger, err = logging.NewDaemonFromConfig(cfg)
		}
		if err != nil {
			return fmt.Errorf("init logger: %w", err)
		}
	}
	runID := uuid.NewString()
	signalCtx = logging.WithRunID(signalCtx, runID)
	logger = logging.WithContext(signalCtx, logger)

	results := preflight.RunAll(cfg, preflight.RoleServe)
	logPreflight(logger, results)
	if failed := preflight.Failed(results); len(failed) > 0 {
		names := make([]string, 0, len(failed))
		for _, r := range failed {
			names = append(names, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
		return fmt.Errorf("preflight failed: %s", strings.Join(names, "; "))
	}

	pidPath := cfg.PIDPath()
	instanceLock := flock.New(pidPath + ".lock")
	locked, err := instanceLock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire daemon lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("%w (state dir %s)", ErrAlreadyRunning, cfg.Paths.StateDir)
	}
	defer instanceLock.Unlock()

	if err := writePIDFile(pidPath); err != nil {
		return fmt.Errorf("write pid file: %w", err)
	}
	defer removeOwnPIDFile(pidPath)

	var recorder daemon.Recorder
	if store := openHistory(signalCtx, cfg, logger); store != nil {
		defer store.Close()
		recorder = daemon.NewHistoryRecorder(store, runID, cfg.Daemon.CopyDestination, logger)
	}

	copier, err := nix.NewCopier(cfg, opts.Runner)
	if err != nil {
		return fmt.Errorf("configure nix copy: %w", err)
	}

	server, err := daemon.New(daemon.Options{
		Workers:      cfg.Daemon.Workers,
		Uploader:     copier,
		Recorder:     recorder,
		Logger:       logger,
		DrainTimeout: cfg.DrainTimeout(),
	})
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	listener, err := ipc.Listen(signalCtx, cfg.Daemon.Binding)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	defer listener.Close()

	logger.Info("nix-upload-daemon listening",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("binding", listener.Binding().String()),
		logging.Int("workers", cfg.Daemon.Workers),
		logging.String("copy_destination", cfg.Daemon.CopyDestination),
		logging.String("nix_binary", copier.Binary),
	)
	if opts.OnListening != nil {
		opts.OnListening(listener.Binding())
	}

	started := time.Now()
	serveErr := server.Serve(signalCtx, listener)
	stats := server.Stats()
	logger.Info("nix-upload-daemon stopped",
		logging.String(logging.FieldEventType, "daemon_stopped"),
		logging.Duration("uptime", time.Since(started)),
		logging.Int64("connections", stats.Connections),
		logging.Int64("accepted", stats.Accepted),
		logging.Int64("dropped", stats.Dropped),
		logging.Int64("uploaded", stats.Pool.Uploaded),
		logging.Int64("failed", stats.Pool.Failed),
	)
	return serveErr
}

// openHistory returns nil when history is disabled or unavailable; the
// daemon serves without a ledger in that case.
func openHistory(ctx context.Context, cfg *config.Config, logger *slog.Logger) *history.Store {
	if !cfg.History.Enabled {
		return nil
	}
	store, err := history.OpenWriter(cfg.HistoryPath())
	if err != nil {
		hint := "check permissions on the state directory"
		if errors.Is(err, history.ErrLocked) {
			hint = "another nix-upload-daemon is using this state directory"
		}
		logging.WarnWithContext(logger, "history disabled", "history_unavailable",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, hint),
			logging.String(logging.FieldImpact, "upload outcomes will not be recorded"),
		)
		return nil
	}

	if retention := cfg.HistoryRetention(); retention > 0 {
		removed, err := store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			logging.WarnWithContext(logger, "history prune failed", "history_prune_failed", logging.Error(err))
		} else if removed > 0 {
			logger.Info("pruned upload history", logging.Int64("removed", removed))
		}
	}
	return store
}

func logPreflight(logger *slog.Logger, results []preflight.Result) {
	for _, r := range results {
		if r.Passed {
			logger.Debug("preflight check passed", logging.String("check", r.Name), logging.String("detail", r.Detail))
			continue
		}
		logging.WarnWithContext(logger, "preflight check failed", "preflight_failed",
			logging.String("check", r.Name),
			logging.String("detail", r.Detail),
			logging.String(logging.FieldImpact, "daemon will not start"),
		)
	}
}

func writePIDFile(path string) error {
	if path == "" {
		return nil
	}
	value := strconv.Itoa(os.Getpid()) + "\n"
	return os.WriteFile(path, []byte(value), 0o644)
}

// removeOwnPIDFile leaves the file alone if it no longer names this process.
func removeOwnPIDFile(path string) {
	if path == "" {
		return
	}
	data, err := os.ReadFile(path)
	if err != nil || strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		return
	}
	_ = os.Remove(path)
}
