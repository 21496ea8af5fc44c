// Package browser starts a Chromium with remote debugging pointed at the
// brokerage site when one is not already listening.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/exec"
	"runtime"
	"syscall"
	"time"

	"github.com/mhtsoni/robinhood-stock-analyser-scripts/internal/config"
)

const defaultStartURL = "https://robinhood.com"

type Config struct {
	CDPAddress string
	CDPPort    int
	StartURL   string
	ProfileDir string
	WindowSize string
	// ReadyTimeout bounds the wait for /json/version after launch.
	ReadyTimeout time.Duration
}

// ConfigFrom derives launch settings from the exporter configuration.
func ConfigFrom(cfg *config.Config) Config {
	return Config{
		CDPAddress: cfg.CDPAddress,
		CDPPort:    cfg.CDPPort,
		StartURL:   cfg.Origin,
		ProfileDir: cfg.BrowserProfileDir,
	}
}

// Launcher manages the lifecycle of a browser process.
type Launcher struct {
	cfg     Config
	cmd     *exec.Cmd
	running bool

	lookPath func(string) (string, error)
}

func NewLauncher(cfg Config) *Launcher {
	if cfg.WindowSize == "" {
		cfg.WindowSize = "1440,960"
	}
	if cfg.StartURL == "" {
		cfg.StartURL = defaultStartURL
	}
	if cfg.ProfileDir == "" {
		cfg.ProfileDir = "./browser_profile"
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = 15 * time.Second
	}
	return &Launcher{cfg: cfg, lookPath: exec.LookPath}
}

func (l *Launcher) detectBrowser() (string, error) {
	for _, name := range []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"} {
		if path, err := l.lookPath(name); err == nil {
			return path, nil
		}
	}
	if runtime.GOOS == "darwin" {
		macPath := "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"
		if _, err := os.Stat(macPath); err == nil {
			return macPath, nil
		}
	}
	return "", fmt.Errorf("no supported browser found (tried chromium-browser, chromium, google-chrome)")
}

func (l *Launcher) addr() string {
	return net.JoinHostPort(l.cfg.CDPAddress, fmt.Sprint(l.cfg.CDPPort))
}

// listening checks whether something already accepts connections on the CDP port.
func (l *Launcher) listening() bool {
	conn, err := net.DialTimeout("tcp", l.addr(), time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (l *Launcher) args() []string {
	return []string{
		fmt.Sprintf("--remote-debugging-port=%d", l.cfg.CDPPort),
		fmt.Sprintf("--remote-debugging-address=%s", l.cfg.CDPAddress),
		fmt.Sprintf("--user-data-dir=%s", l.cfg.ProfileDir),
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-dev-shm-usage",
		fmt.Sprintf("--window-size=%s", l.cfg.WindowSize),
		l.cfg.StartURL,
	}
}

// Launch starts the browser unless the CDP port is already taken, then waits
// for the debugging endpoint to answer.
func (l *Launcher) Launch(ctx context.Context) error {
	if l.listening() {
		slog.Info("browser already running, skipping launch", "addr", l.addr())
		return nil
	}

	browserPath, err := l.detectBrowser()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(l.cfg.ProfileDir, 0o755); err != nil {
		return fmt.Errorf("create profile dir: %w", err)
	}

	l.cmd = exec.Command(browserPath, l.args()...)
	l.cmd.Stdout = os.Stdout
	l.cmd.Stderr = os.Stderr
	if err := l.cmd.Start(); err != nil {
		return fmt.Errorf("start browser: %w", err)
	}
	l.running = true
	slog.Info("browser process started", "path", browserPath, "pid", l.cmd.Process.Pid, "start_url", l.cfg.StartURL)

	if err := l.waitForCDP(ctx); err != nil {
		l.Stop()
		return fmt.Errorf("waiting for CDP: %w", err)
	}
	slog.Info("CDP endpoint ready", "addr", l.addr())
	return nil
}

func (l *Launcher) waitForCDP(ctx context.Context) error {
	url := "http://" + l.addr() + "/json/version"
	deadline := time.After(l.cfg.ReadyTimeout)
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	client := &http.Client{Timeout: time.Second}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-deadline:
			return fmt.Errorf("CDP did not become ready within %s at %s", l.cfg.ReadyTimeout, url)
		case <-ticker.C:
			resp, err := client.Get(url)
			if err != nil {
				continue
			}
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return nil
			}
		}
	}
}

// Running reports whether this launcher spawned a browser process.
func (l *Launcher) Running() bool {
	return l.running
}

// Stop terminates a spawned browser with SIGTERM, falling back to SIGKILL.
func (l *Launcher) Stop() {
	if l.cmd == nil || l.cmd.Process == nil {
		return
	}
	slog.Info("stopping browser", "pid", l.cmd.Process.Pid)
	_ = l.cmd.Process.Signal(syscall.SIGTERM)

	done := make(chan struct{})
	go func() {
		_ = l.cmd.Wait()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("browser stopped gracefully")
	case <-time.After(5 * time.Second):
		slog.Warn("browser did not exit, sending SIGKILL")
		_ = l.cmd.Process.Kill()
		<-done
	}
	l.running = false
}
