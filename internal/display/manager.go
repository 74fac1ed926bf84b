// Package display implements the Display Manager (C1): allocating,
// tracking, and tearing down per-task virtual displays, and caching one
// connection per display string.
//
// Slot allocation (starting at 100) and the settle-then-verify spawn
// sequence follow a worker lifecycle shape (Spawn/Retire/Close) and
// process-group handling (isProcessAlive) carried over from this repo's
// reference material; see DESIGN.md for the full grounding.
package display

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	lru "github.com/hashicorp/golang-lru"
	"golang.org/x/sys/unix"

	"github.com/alxdofficial/openclaw-memoriesai/internal/capture"
	"github.com/alxdofficial/openclaw-memoriesai/internal/config"
	"github.com/alxdofficial/openclaw-memoriesai/internal/log"
)

// ErrStartFailed is returned by Allocate when the virtual display subprocess
// did not survive its settling period.
var ErrStartFailed = errors.New("display: virtual display failed to start")

// Info is one task's allocated virtual display.
type Info struct {
	TaskID        string
	Slot          int
	DisplayString string
	Width         int
	Height        int
	displayProc   *os.Process
	wmProc        *os.Process
	CreatedAt     time.Time
}

// Manager allocates, tracks, and tears down per-task virtual displays. One
// Manager is process-wide, constructed once by internal/daemon and torn
// down once via CleanupAll.
type Manager struct {
	cfg config.DisplayConfig

	mu    sync.Mutex
	byTask map[string]*Info
	slots  map[int]struct{}

	conns *lru.Cache // displayString -> *capture.Conn
}

// New returns a Manager configured by cfg.
func New(cfg config.DisplayConfig) (*Manager, error) {
	conns, err := lru.NewWithEvict(cfg.ConnectionCacheSize, evictConn)
	if err != nil {
		return nil, fmt.Errorf("creating connection cache: %w", err)
	}
	return &Manager{
		cfg:    cfg,
		byTask: make(map[string]*Info),
		slots:  make(map[int]struct{}),
		conns:  conns,
	}, nil
}

func evictConn(_, value interface{}) {
	if c, ok := value.(*capture.Conn); ok {
		c.Close()
	}
}

// Allocate is idempotent by taskId: a second call for the same task returns
// the same Info. It picks the lowest free slot >= cfg.MinSlot, spawns the
// virtual display subprocess (and optionally a window manager), sleeps the
// configured settle delay, and verifies the subprocess survived.
func (m *Manager) Allocate(ctx context.Context, taskID string, width, height int) (*Info, error) {
	m.mu.Lock()
	if existing, ok := m.byTask[taskID]; ok {
		m.mu.Unlock()
		return existing, nil
	}
	slot := m.nextFreeSlotLocked()
	m.slots[slot] = struct{}{}
	m.mu.Unlock()

	if width <= 0 {
		width = m.cfg.DefaultWidth
	}
	if height <= 0 {
		height = m.cfg.DefaultHeight
	}
	displayString := fmt.Sprintf(":%d", slot)

	displayProc, err := m.spawnDisplay(displayString, width, height)
	if err != nil {
		m.releaseSlot(slot)
		return nil, fmt.Errorf("%w: %v", ErrStartFailed, err)
	}

	var wmProc *os.Process
	if m.cfg.StartWindowManager {
		wmProc, err = m.spawnWindowManager(displayString)
		if err != nil {
			log.Warn(log.CatDisplay, "window manager failed to start", "display", displayString, "error", err)
		}
	}

	time.Sleep(m.cfg.SettleDelay)

	// A child that already exited stays a zombie until reaped and still
	// answers signal 0, so reap it non-blockingly before probing liveness.
	var ws syscall.WaitStatus
	if reaped, _ := syscall.Wait4(displayProc.Pid, &ws, syscall.WNOHANG, nil); reaped == displayProc.Pid || !isProcessAlive(displayProc.Pid) {
		m.releaseSlot(slot)
		return nil, ErrStartFailed
	}

	info := &Info{
		TaskID:        taskID,
		Slot:          slot,
		DisplayString: displayString,
		Width:         width,
		Height:        height,
		displayProc:   displayProc,
		wmProc:        wmProc,
		CreatedAt:     time.Now(),
	}

	m.mu.Lock()
	m.byTask[taskID] = info
	m.mu.Unlock()

	log.Info(log.CatDisplay, "display allocated", "taskId", taskID, "display", displayString)
	return info, nil
}

func (m *Manager) nextFreeSlotLocked() int {
	for slot := m.cfg.MinSlot; ; slot++ {
		if _, taken := m.slots[slot]; taken {
			continue
		}
		if fileExists(fmt.Sprintf("/tmp/.X%d-lock", slot)) {
			continue
		}
		return slot
	}
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (m *Manager) releaseSlot(slot int) {
	m.mu.Lock()
	delete(m.slots, slot)
	m.mu.Unlock()
}

func (m *Manager) spawnDisplay(displayString string, width, height int) (*os.Process, error) {
	args := []string{displayString, "-screen", "0",
		fmt.Sprintf("%dx%dx%d", width, height, m.cfg.ColorDepth)}
	cmd := exec.Command(m.cfg.DisplayCommand, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}

func (m *Manager) spawnWindowManager(displayString string) (*os.Process, error) {
	cmd := exec.Command(m.cfg.WindowManagerCommand)
	cmd.Env = append(os.Environ(), "DISPLAY="+displayString)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := cmd.Start(); err != nil {
		return nil, err
	}
	return cmd.Process, nil
}

// Release removes the DisplayInfo for taskID, closes its cached
// connection, and tears down the window manager then the display
// subprocess: SIGTERM, a bounded wait, then SIGKILL. Safe to call on
// unknown task ids.
func (m *Manager) Release(taskID string) {
	m.mu.Lock()
	info, ok := m.byTask[taskID]
	if !ok {
		m.mu.Unlock()
		return
	}
	delete(m.byTask, taskID)
	delete(m.slots, info.Slot)
	m.mu.Unlock()

	m.conns.Remove(info.DisplayString)

	if info.wmProc != nil {
		terminateProcessGroup(info.wmProc, m.cfg.TeardownGrace)
	}
	if info.displayProc != nil {
		terminateProcessGroup(info.displayProc, m.cfg.TeardownGrace)
	}

	log.Info(log.CatDisplay, "display released", "taskId", taskID, "display", info.DisplayString)
}

// GetDisplayString returns the recorded display string for taskID, or the
// configured default if taskID has no allocated display.
func (m *Manager) GetDisplayString(taskID string) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if info, ok := m.byTask[taskID]; ok {
		return info.DisplayString
	}
	return m.cfg.DefaultDisplay
}

// GetConnection returns a cached connection for displayString, opening and
// retrying (via backoff) one if absent.
func (m *Manager) GetConnection(ctx context.Context, displayString string) (*capture.Conn, error) {
	if v, ok := m.conns.Get(displayString); ok {
		return v.(*capture.Conn), nil
	}

	conn, err := backoff.Retry(ctx, func() (*capture.Conn, error) {
		c, err := capture.Dial(displayString)
		if err != nil {
			return nil, err
		}
		return c, nil
	}, backoff.WithMaxTries(3))
	if err != nil {
		return nil, fmt.Errorf("connecting to display %s: %w", displayString, err)
	}

	m.conns.Add(displayString, conn)
	return conn, nil
}

// CleanupAll releases every display and closes every connection; called on
// daemon shutdown.
func (m *Manager) CleanupAll() {
	m.mu.Lock()
	taskIDs := make([]string, 0, len(m.byTask))
	for id := range m.byTask {
		taskIDs = append(taskIDs, id)
	}
	m.mu.Unlock()

	for _, id := range taskIDs {
		m.Release(id)
	}
	m.conns.Purge()
}

func terminateProcessGroup(proc *os.Process, grace time.Duration) {
	pgid, err := unix.Getpgid(proc.Pid)
	if err != nil {
		pgid = proc.Pid
	}

	_ = unix.Kill(-pgid, unix.SIGTERM)

	done := make(chan struct{})
	go func() {
		_, _ = proc.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(grace):
		_ = unix.Kill(-pgid, unix.SIGKILL)
		<-done
	}
}

func isProcessAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPERM
	}
	return false
}
