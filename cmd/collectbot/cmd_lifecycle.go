package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/user/collectbot/internal/api"
	"github.com/user/collectbot/internal/config"
)

var stopTimeout time.Duration

func init() {
	stopCmd.Flags().DurationVar(&stopTimeout, "timeout", 30*time.Second,
		"how long to wait for queued jobs and notifications to drain (0 to return immediately)")
	rootCmd.AddCommand(stopCmd, restartCmd)
}

var errNotRunning = errors.New("no running daemon")

// readPID returns the daemon PID from the data dir pid file once signal 0
// confirms the process is alive.
func readPID() (int, error) {
	cfg := loadConfig()
	data, err := os.ReadFile(filepath.Join(cfg.DataDir, pidFileName))
	if os.IsNotExist(err) {
		return 0, fmt.Errorf("%w (no %s in %s)", errNotRunning, pidFileName, cfg.DataDir)
	}
	if err != nil {
		return 0, fmt.Errorf("read PID file: %w", err)
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, fmt.Errorf("invalid PID file content: %w", err)
	}
	if !alive(pid) {
		return 0, fmt.Errorf("%w (process %d is gone)", errNotRunning, pid)
	}
	return pid, nil
}

func alive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func sendSignal(pid int, sig syscall.Signal) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process %d: %w", pid, err)
	}
	if err := proc.Signal(sig); err != nil {
		return fmt.Errorf("send %v to %d: %w", sig, pid, err)
	}
	return nil
}

// waitExit polls until pid exits or timeout passes.
func waitExit(pid int, timeout time.Duration) bool {
	deadline := time.Now().Add(timeout)
	for alive(pid) {
		if time.Now().After(deadline) {
			return false
		}
		time.Sleep(200 * time.Millisecond)
	}
	return true
}

// queueStatus asks the daemon's HTTP surface how much work is still queued.
// It returns nil when the HTTP server is disabled or unreachable.
func queueStatus(cfg *config.Config) *api.QueueStatus {
	if !cfg.HTTP.Enabled {
		return nil
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://"+cfg.HTTP.Listen+"/api/queue", nil)
	if err != nil {
		return nil
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil
	}
	var st api.QueueStatus
	if err := json.NewDecoder(resp.Body).Decode(&st); err != nil {
		return nil
	}
	return &st
}

// describeQueue summarizes outstanding work for the stop message.
func describeQueue(st *api.QueueStatus) string {
	if st == nil {
		return ""
	}
	jobs := 0
	if st.Jobs != nil {
		jobs = st.Jobs.Pending + int(st.Jobs.Active)
	}
	if jobs == 0 && st.NotificationsPending == 0 {
		return "Nothing queued."
	}
	return fmt.Sprintf("Draining %d job(s) and %d pending notification(s).", jobs, st.NotificationsPending)
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the running daemon after it drains queued work",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPID()
		if err != nil {
			return err
		}
		summary := describeQueue(queueStatus(loadConfig()))
		if err := sendSignal(pid, syscall.SIGTERM); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGTERM to daemon (PID %d).\n", pid)
		if summary != "" {
			fmt.Fprintln(os.Stdout, summary)
		}
		if stopTimeout <= 0 {
			return nil
		}
		if !waitExit(pid, stopTimeout) {
			return fmt.Errorf("daemon (PID %d) still running after %s", pid, stopTimeout)
		}
		fmt.Fprintln(os.Stdout, "Daemon stopped.")
		return nil
	},
}

var restartCmd = &cobra.Command{
	Use:   "restart",
	Short: "Restart the running daemon in place",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		pid, err := readPID()
		if err != nil {
			return err
		}
		if err := sendSignal(pid, syscall.SIGHUP); err != nil {
			return err
		}
		fmt.Fprintf(os.Stdout, "Sent SIGHUP to daemon (PID %d); it re-execs with the current config.\n", pid)
		return nil
	},
}
