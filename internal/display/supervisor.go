// Package display supervises the virtual X display and its VNC bridge.
package display

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// State is the supervisor lifecycle state.
type State string

const (
	StateStopped  State = "stopped"
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateFailed   State = "failed"
)

// Status is a point-in-time snapshot of the supervised display.
type Status struct {
	State   State  `json:"state"`
	Display string `json:"display,omitempty"`
	VNCAddr string `json:"vnc_addr,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Config holds display supervisor settings.
type Config struct {
	DisplayNum   int
	Width        int
	Height       int
	VNCPort      int
	StartTimeout time.Duration
}

// DefaultConfig returns the standard virtual display geometry.
func DefaultConfig() Config {
	return Config{
		DisplayNum:   1,
		Width:        1024,
		Height:       768,
		VNCPort:      5900,
		StartTimeout: 10 * time.Second,
	}
}

// proc is a child process whose exit is observed exactly once.
type proc struct {
	cmd  *exec.Cmd
	done chan struct{}
}

func startProc(name string, env []string, args ...string) (*proc, error) {
	cmd := exec.Command(name, args...)
	if env != nil {
		cmd.Env = append(os.Environ(), env...)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", name, err)
	}
	p := &proc{cmd: cmd, done: make(chan struct{})}
	go func() {
		cmd.Wait()
		close(p.done)
	}()
	return p, nil
}

func (p *proc) alive() bool {
	select {
	case <-p.done:
		return false
	default:
		return true
	}
}

// stop sends SIGTERM, escalating to SIGKILL after a grace period.
func (p *proc) stop() {
	if p == nil || !p.alive() {
		return
	}
	p.cmd.Process.Signal(syscall.SIGTERM)
	select {
	case <-p.done:
	case <-time.After(2 * time.Second):
		p.cmd.Process.Kill()
		<-p.done
	}
}

// Supervisor owns the Xvfb display and the x11vnc bridge. A watcher
// goroutine detects child exit while running and attempts exactly one
// automatic restart; a second crash sticks at failed until the caller
// stops or restarts the display explicitly.
type Supervisor struct {
	cfg Config
	log *slog.Logger

	// startMu serializes start attempts and is held across process spawn
	// and readiness polling. mu guards the state fields and is only ever
	// held briefly, so Status and Ready stay responsive while a start or
	// an automatic restart is in flight.
	startMu sync.Mutex

	mu            sync.Mutex
	state         State
	lastErr       string
	xvfb          *proc
	x11vnc        *proc
	gen           int
	autoRestarted bool

	// test seams
	checkDisplay func(ctx context.Context, display string) error
	checkPort    func(ctx context.Context, addr string) error
	xvfbBin      string
	x11vncBin    string
}

// NewSupervisor creates a stopped display supervisor.
func NewSupervisor(cfg Config, logger *slog.Logger) *Supervisor {
	if cfg.StartTimeout <= 0 {
		cfg.StartTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		cfg:          cfg,
		log:          logger.With("component", "display"),
		state:        StateStopped,
		checkDisplay: probeDisplay,
		checkPort:    probePort,
		xvfbBin:      "Xvfb",
		x11vncBin:    "x11vnc",
	}
}

// DisplayName returns the X display string, e.g. ":1".
func (s *Supervisor) DisplayName() string {
	return fmt.Sprintf(":%d", s.cfg.DisplayNum)
}

// VNCAddr returns the address VNC clients connect to.
func (s *Supervisor) VNCAddr() string {
	return fmt.Sprintf("127.0.0.1:%d", s.cfg.VNCPort)
}

// Ready reports whether the display is running.
func (s *Supervisor) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == StateRunning
}

// Status returns the current supervisor status.
func (s *Supervisor) Status() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := Status{State: s.state}
	if s.state == StateRunning {
		st.Display = s.DisplayName()
		st.VNCAddr = s.VNCAddr()
	}
	if s.state == StateFailed {
		st.Error = s.lastErr
	}
	return st
}

// EnsureRunning starts the display if it is not already up. It is
// idempotent; concurrent callers serialize. A failed display is retried
// from scratch.
func (s *Supervisor) EnsureRunning(ctx context.Context) (Status, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.state == StateRunning {
		s.mu.Unlock()
		return Status{State: StateRunning, Display: s.DisplayName(), VNCAddr: s.VNCAddr()}, nil
	}
	s.gen++
	gen := s.gen
	s.state = StateStarting
	s.autoRestarted = false
	s.mu.Unlock()

	if err := s.start(ctx, gen); err != nil {
		s.mu.Lock()
		if s.gen == gen {
			s.state = StateFailed
			s.lastErr = err.Error()
		}
		s.mu.Unlock()
		return Status{State: StateFailed, Error: err.Error()}, err
	}
	return Status{State: StateRunning, Display: s.DisplayName(), VNCAddr: s.VNCAddr()}, nil
}

// Stop tears the display down and returns to stopped.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	s.gen++ // invalidate the watcher and any in-flight start
	xvfb, x11vnc := s.detachLocked()
	s.state = StateStopped
	s.lastErr = ""
	s.mu.Unlock()

	x11vnc.stop()
	xvfb.stop()
}

// start spawns Xvfb then x11vnc, polling each for readiness within the
// start deadline. It runs without holding mu; on success the processes
// and the running state are committed under mu, guarded by the
// generation so a concurrent Stop wins and the fresh processes are torn
// down instead. Partial progress on failure is torn down too.
func (s *Supervisor) start(ctx context.Context, gen int) error {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.StartTimeout)
	defer cancel()

	display := s.DisplayName()

	xvfb, err := startProc(s.xvfbBin, nil, display,
		"-screen", "0", fmt.Sprintf("%dx%dx24", s.cfg.Width, s.cfg.Height),
		"-ac", "-nolisten", "tcp")
	if err != nil {
		return err
	}
	s.log.Info("xvfb started", "display", display, "pid", xvfb.cmd.Process.Pid)

	if err := s.poll(ctx, xvfb, func(ctx context.Context) error {
		return s.checkDisplay(ctx, display)
	}); err != nil {
		xvfb.stop()
		return fmt.Errorf("xvfb on %s not ready: %w", display, err)
	}

	x11vnc, err := startProc(s.x11vncBin, []string{"DISPLAY=" + display},
		"-display", display, "-forever", "-shared", "-nopw",
		"-rfbport", fmt.Sprintf("%d", s.cfg.VNCPort), "-quiet")
	if err != nil {
		xvfb.stop()
		return err
	}
	s.log.Info("x11vnc started", "addr", s.VNCAddr(), "pid", x11vnc.cmd.Process.Pid)

	if err := s.poll(ctx, x11vnc, func(ctx context.Context) error {
		return s.checkPort(ctx, s.VNCAddr())
	}); err != nil {
		x11vnc.stop()
		xvfb.stop()
		return fmt.Errorf("x11vnc on %s not ready: %w", s.VNCAddr(), err)
	}

	s.mu.Lock()
	stale := s.gen != gen
	if !stale {
		s.xvfb = xvfb
		s.x11vnc = x11vnc
		s.state = StateRunning
		s.lastErr = ""
	}
	s.mu.Unlock()
	if stale {
		x11vnc.stop()
		xvfb.stop()
		return fmt.Errorf("display stopped during startup")
	}
	go s.watch(gen, xvfb, x11vnc)
	return nil
}

// poll retries check every 250ms until it passes, the deadline expires,
// or the process being probed dies.
func (s *Supervisor) poll(ctx context.Context, p *proc, check func(ctx context.Context) error) error {
	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()
	var lastErr error
	for {
		if err := check(ctx); err == nil {
			return nil
		} else {
			lastErr = err
		}
		select {
		case <-ctx.Done():
			if lastErr != nil {
				return fmt.Errorf("%w (last probe: %v)", ctx.Err(), lastErr)
			}
			return ctx.Err()
		case <-p.done:
			return fmt.Errorf("process exited during startup")
		case <-ticker.C:
		}
	}
}

// watch waits for either child to exit while running and restarts once.
func (s *Supervisor) watch(gen int, xvfb, x11vnc *proc) {
	select {
	case <-xvfb.done:
	case <-x11vnc.done:
	}

	s.startMu.Lock()
	defer s.startMu.Unlock()

	s.mu.Lock()
	if s.gen != gen || s.state != StateRunning {
		s.mu.Unlock()
		return
	}
	oldXvfb, oldVNC := s.detachLocked()
	if s.autoRestarted {
		s.state = StateFailed
		s.lastErr = "display crashed twice; manual restart required"
		s.mu.Unlock()
		oldVNC.stop()
		oldXvfb.stop()
		s.log.Error("display crashed again, giving up", "display", s.DisplayName())
		return
	}
	s.autoRestarted = true
	s.state = StateStarting
	s.gen++
	restartGen := s.gen
	s.mu.Unlock()

	s.log.Warn("display process exited unexpectedly", "display", s.DisplayName())
	oldVNC.stop()
	oldXvfb.stop()

	if err := s.start(context.Background(), restartGen); err != nil {
		s.mu.Lock()
		if s.gen == restartGen {
			s.state = StateFailed
			s.lastErr = err.Error()
		}
		s.mu.Unlock()
		s.log.Error("display restart failed", "error", err)
		return
	}
	s.log.Info("display restarted", "display", s.DisplayName())
}

// detachLocked clears the supervised processes and hands them back for
// the caller to stop outside the lock. proc.stop tolerates nil.
func (s *Supervisor) detachLocked() (xvfb, x11vnc *proc) {
	xvfb, x11vnc = s.xvfb, s.x11vnc
	s.xvfb, s.x11vnc = nil, nil
	return xvfb, x11vnc
}

// probeDisplay asks the X server for its info; success means Xvfb accepts
// connections.
func probeDisplay(ctx context.Context, display string) error {
	cmd := exec.CommandContext(ctx, "xdpyinfo", "-display", display)
	cmd.Env = append(os.Environ(), "DISPLAY="+display)
	return cmd.Run()
}

// probePort checks that the VNC port accepts TCP connections.
func probePort(ctx context.Context, addr string) error {
	d := net.Dialer{Timeout: 500 * time.Millisecond}
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	conn.Close()
	return nil
}
