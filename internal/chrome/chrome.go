// Package chrome finds the DevTools browser endpoint to drive: either the one
// configured by the user or a local Chrome started for the lifetime of the
// process.
package chrome

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"runtime"
	"strings"
	"sync"
	"syscall"
	"time"
)

const devToolsPrefix = "DevTools listening on "

// ErrNotFound is returned when no Chrome binary could be located.
var ErrNotFound = errors.New("chrome binary not found")

type Options struct {
	Binary      string
	Headless    bool
	ExtraFlags  string
	UserDataDir string
	// StartTimeout bounds how long to wait for the DevTools endpoint.
	StartTimeout time.Duration
	Log          *slog.Logger
}

// Process is a Chrome started by Launch.
type Process struct {
	cmd     *exec.Cmd
	wsURL   string
	log     *slog.Logger
	tempDir string

	exited  chan struct{}
	waitErr error

	stopOnce sync.Once
}

func defaultFlags(headless bool) []string {
	flags := []string{
		"--remote-debugging-port=0",
		"--no-first-run",
		"--no-default-browser-check",
		"--disable-background-networking",
		"--disable-background-timer-throttling",
		"--disable-renderer-backgrounding",
		"--disable-extensions",
		"--disable-dev-shm-usage",
		"--disable-blink-features=AutomationControlled",
		"--hide-scrollbars",
		"--mute-audio",
	}
	if headless {
		flags = append(flags, "--headless=new", "--disable-gpu")
	}
	return flags
}

var candidates = map[string][]string{
	"darwin": {
		"/Applications/Google Chrome.app/Contents/MacOS/Google Chrome",
		"/Applications/Chromium.app/Contents/MacOS/Chromium",
	},
	"windows": {
		`C:\Program Files\Google\Chrome\Application\chrome.exe`,
		`C:\Program Files (x86)\Google\Chrome\Application\chrome.exe`,
	},
}

var pathNames = []string{"google-chrome", "google-chrome-stable", "chromium", "chromium-browser", "chrome", "headless-shell"}

// FindBinary returns the first Chrome-like executable on this machine.
func FindBinary() (string, error) {
	for _, p := range candidates[runtime.GOOS] {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	for _, name := range pathNames {
		if p, err := exec.LookPath(name); err == nil {
			return p, nil
		}
	}
	return "", ErrNotFound
}

// Launch starts Chrome and waits until it reports its browser endpoint.
func Launch(ctx context.Context, opts Options) (*Process, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	bin := opts.Binary
	if bin == "" {
		var err error
		if bin, err = FindBinary(); err != nil {
			return nil, err
		}
	}
	if opts.StartTimeout <= 0 {
		opts.StartTimeout = 20 * time.Second
	}

	p := &Process{log: log, exited: make(chan struct{})}
	dataDir := opts.UserDataDir
	if dataDir == "" {
		dir, err := os.MkdirTemp("", "pinchpdf-chrome-")
		if err != nil {
			return nil, fmt.Errorf("create profile dir: %w", err)
		}
		dataDir, p.tempDir = dir, dir
	}

	args := append(defaultFlags(opts.Headless), "--user-data-dir="+dataDir)
	args = append(args, strings.Fields(opts.ExtraFlags)...)
	args = append(args, "about:blank")

	cmd := exec.Command(bin, args...)
	stderr, err := cmd.StderrPipe()
	if err != nil {
		p.cleanup()
		return nil, err
	}
	log.Info("starting chrome", "binary", bin, "headless", opts.Headless)
	if err := cmd.Start(); err != nil {
		p.cleanup()
		return nil, fmt.Errorf("start chrome: %w", err)
	}
	p.cmd = cmd

	found := make(chan string, 1)
	go func() {
		scanDevTools(stderr, found, log)
		p.waitErr = cmd.Wait()
		close(p.exited)
	}()

	timer := time.NewTimer(opts.StartTimeout)
	defer timer.Stop()
	select {
	case u, ok := <-found:
		if ok {
			p.wsURL = u
			log.Info("chrome started", "pid", cmd.Process.Pid, "endpoint", u)
			return p, nil
		}
		<-p.exited
		p.cleanup()
		return nil, fmt.Errorf("chrome exited before reporting its endpoint: %v", p.waitErr)
	case <-timer.C:
		p.abort()
		return nil, fmt.Errorf("chrome did not report its endpoint within %v", opts.StartTimeout)
	case <-ctx.Done():
		p.abort()
		return nil, ctx.Err()
	}
}

// scanDevTools sends the endpoint announced on stderr to found (closing it
// if stderr ends first), then keeps draining stderr so Chrome never blocks
// on a full pipe.
func scanDevTools(r io.Reader, found chan<- string, log *slog.Logger) {
	sc := bufio.NewScanner(r)
	sent := false
	for sc.Scan() {
		line := sc.Text()
		if !sent {
			if u, ok := ParseDevToolsLine(line); ok {
				found <- u
				sent = true
				continue
			}
		}
		log.Debug("chrome", "stderr", line)
	}
	if !sent {
		close(found)
	}
}

// ParseDevToolsLine extracts the websocket URL from Chrome's
// "DevTools listening on ws://..." line.
func ParseDevToolsLine(line string) (string, bool) {
	i := strings.Index(line, devToolsPrefix)
	if i < 0 {
		return "", false
	}
	u := strings.TrimSpace(line[i+len(devToolsPrefix):])
	if !strings.HasPrefix(u, "ws://") && !strings.HasPrefix(u, "wss://") {
		return "", false
	}
	return u, true
}

// WebSocketURL is the browser endpoint, e.g.
// ws://127.0.0.1:41235/devtools/browser/<id>.
func (p *Process) WebSocketURL() string { return p.wsURL }

// Exited is closed once the process has terminated.
func (p *Process) Exited() <-chan struct{} { return p.exited }

// Stop terminates Chrome, escalating to a kill when ctx ends first, and
// removes a temporary profile. Safe to call more than once.
func (p *Process) Stop(ctx context.Context) error {
	var err error
	p.stopOnce.Do(func() {
		defer p.cleanup()
		if p.cmd == nil || p.cmd.Process == nil {
			return
		}
		select {
		case <-p.exited:
			return
		default:
		}
		if runtime.GOOS == "windows" {
			_ = p.cmd.Process.Kill()
		} else {
			_ = p.cmd.Process.Signal(syscall.SIGTERM)
		}
		select {
		case <-p.exited:
		case <-ctx.Done():
			_ = p.cmd.Process.Kill()
			<-p.exited
			err = ctx.Err()
		}
		p.log.Info("chrome stopped")
	})
	return err
}

func (p *Process) abort() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = p.Stop(ctx)
}

func (p *Process) cleanup() {
	if p.tempDir != "" {
		_ = os.RemoveAll(p.tempDir)
	}
}
