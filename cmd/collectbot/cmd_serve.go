package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/user/collectbot/internal/access"
	"github.com/user/collectbot/internal/api"
	"github.com/user/collectbot/internal/collector"
	"github.com/user/collectbot/internal/config"
	"github.com/user/collectbot/internal/delivery"
	"github.com/user/collectbot/internal/gateway"
	"github.com/user/collectbot/internal/ingest"
	"github.com/user/collectbot/internal/notify"
	"github.com/user/collectbot/internal/scheduler"
	"github.com/user/collectbot/internal/session"
	"github.com/user/collectbot/internal/store"
	"github.com/user/collectbot/internal/telegram"
	"github.com/user/collectbot/internal/types"
	"github.com/user/collectbot/internal/verify"
)

const drainTimeout = 10 * time.Second

func init() {
	rootCmd.AddCommand(serveCmd)
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the collectbot daemon",
	Args:  cobra.NoArgs,
	RunE:  runServe,
}

func writePIDFile(dataDir string) (string, error) {
	pidPath := filepath.Join(dataDir, pidFileName)
	pid := os.Getpid()
	if err := os.WriteFile(pidPath, []byte(strconv.Itoa(pid)+"\n"), 0644); err != nil {
		return "", fmt.Errorf("write PID file: %w", err)
	}
	return pidPath, nil
}

func retryPolicy(cfg *config.Config) *delivery.RetryPolicy {
	policy := delivery.DefaultRetryPolicy()
	if cfg.Delivery.MaxAttempts > 0 {
		policy.MaxAttempts = cfg.Delivery.MaxAttempts
	}
	if cfg.Delivery.RetrySlackMS >= 0 {
		policy.Slack = config.Millis(cfg.Delivery.RetrySlackMS)
	}
	return policy
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	closeLog, err := setupLogging(cfg)
	if err != nil {
		return err
	}
	defer closeLog()

	if err := config.Validate(cfg); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Telegram.Token == "" {
		return errors.New("telegram token not configured (set telegram.token or TELEGRAM_BOT_TOKEN)")
	}
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}

	pidPath, err := writePIDFile(cfg.DataDir)
	if err != nil {
		return err
	}
	defer os.Remove(pidPath)

	st, err := store.Open(filepath.Join(cfg.DataDir, dbFileName))
	if err != nil {
		return err
	}
	defer st.Close()

	bot, err := telegram.Connect(cfg.Telegram.Token)
	if err != nil {
		return err
	}
	transport := telegram.NewTransport(bot)

	// Delivery pipeline
	policy := retryPolicy(cfg)
	sender := delivery.NewSender(transport, policy)
	sender.TextDelay = config.Millis(cfg.Delivery.TextDelayMS)
	sender.ChunkDelay = config.Millis(cfg.Delivery.ChunkDelayMS)

	notes := notify.NewQueue(transport, policy)
	notes.ArchiveDelay = config.Millis(cfg.Notify.ArchiveDelayMS)
	notes.ActivityDelay = config.Millis(cfg.Notify.ActivityDelayMS)

	// Per-user state
	sessions := session.NewStore()
	codes := verify.NewStore(sessions, time.Duration(cfg.Verify.TTLSeconds)*time.Second)
	admins := make([]types.UserID, 0, len(cfg.AdminIDs))
	for _, id := range cfg.AdminIDs {
		admins = append(admins, types.UserID(id))
	}

	svc := collector.New(collector.Deps{
		Store:           st,
		Sessions:        sessions,
		Access:          access.New(st, sessions, admins),
		Codes:           codes,
		Sender:          sender,
		Status:          ingest.New(transport, sessions, ingest.RealClock{}),
		Notes:           notes,
		Transport:       transport,
		ActivityChannel: types.ChatID(cfg.Notify.ActivityChannel),
	})

	gw := gateway.New(int64(cfg.MaxConcurrent))
	adapter := telegram.New(bot, transport, gw, svc)

	idle := time.Duration(cfg.Sessions.IdleMinutes) * time.Minute
	sched := scheduler.New(scheduler.Maintenance(codes, sessions, idle)...)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The notification worker and the job queue outlive ctx so shutdown
	// can drain them after updates stop arriving.
	notes.Start(context.Background())
	gw.Start(context.Background())
	sched.Start()

	slog.Info("collectbot started",
		"bot", bot.Self.UserName,
		"data_dir", cfg.DataDir,
		"log_level", cfg.LogLevel,
		"max_concurrent", cfg.MaxConcurrent,
		"admins", len(admins),
		"activity_channel", cfg.Notify.ActivityChannel,
		"pid_file", pidPath,
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return adapter.Start(gctx)
	})
	if cfg.HTTP.Enabled {
		g.Go(func() error {
			return serveHTTP(gctx, cfg.HTTP.Listen, api.NewServer(api.Deps{
				Store:         st,
				Jobs:          gw.Queue,
				Notifications: notes,
				Sessions:      sessions,
			}))
		})
	}
	g.Go(func() error {
		waitForSignal(gctx, cfg.DataDir, pidPath)
		cancel()
		return nil
	})

	err = g.Wait()

	slog.Info("shutting down")
	sched.Stop()
	if !gw.Queue.WaitIdle(drainTimeout) {
		stats := gw.Queue.Stats()
		slog.Warn("jobs dropped at shutdown", "pending", stats.Pending, "active", stats.Active)
	}
	gw.Stop()
	drainCtx, cancelDrain := context.WithTimeout(context.Background(), drainTimeout)
	defer cancelDrain()
	if derr := notes.Stop(drainCtx); derr != nil {
		slog.Warn("notifications dropped at shutdown", "pending", notes.Pending(), "error", derr)
	}
	return err
}

func serveHTTP(ctx context.Context, listen string, handler http.Handler) error {
	srv := &http.Server{
		Addr:              listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		<-ctx.Done()
		srv.Close()
	}()
	slog.Info("http server started", "listen", listen)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("http server: %w", err)
	}
	return nil
}

// waitForSignal blocks until SIGINT or SIGTERM, or ctx ends. SIGHUP
// re-executes the binary in place.
func waitForSignal(ctx context.Context, dataDir, pidPath string) {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	defer signal.Stop(sigChan)

	for {
		select {
		case <-ctx.Done():
			return
		case sig := <-sigChan:
			if sig != syscall.SIGHUP {
				slog.Info("received signal", "signal", sig)
				return
			}
			slog.Info("received SIGHUP, restarting")
			execPath, err := os.Executable()
			if err != nil {
				slog.Error("failed to get executable path", "error", err)
				continue
			}
			// Clean up PID file before re-exec
			os.Remove(pidPath)
			if err := syscall.Exec(execPath, os.Args, os.Environ()); err != nil {
				slog.Error("failed to re-exec", "error", err)
				if _, writeErr := writePIDFile(dataDir); writeErr != nil {
					slog.Error("failed to re-write PID file", "error", writeErr)
				}
			}
		}
	}
}
