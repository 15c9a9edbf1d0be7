package hotplug

import (
	"context"
	"errors"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/pccr10001/modemd/internal/metrics"
	"github.com/pccr10001/modemd/internal/registry"
	"github.com/pccr10001/modemd/pkg/logger"
)

// DefaultRescanDelay gives the kernel time to populate attribute files
// after announcing a device.
const DefaultRescanDelay = 3 * time.Second

type Phase int32

const (
	Idle Phase = iota
	WaitingForEvent
	Dispatching
)

func (p Phase) String() string {
	switch p {
	case Idle:
		return "idle"
	case WaitingForEvent:
		return "waiting"
	case Dispatching:
		return "dispatching"
	}
	return "unknown"
}

// Status is what the monitor publishes after every change.
type Status struct {
	registry.Snapshot
	Phase         string `json:"phase"`
	RescanPending bool   `json:"rescan_pending"`
	Hotplug       bool   `json:"hotplug"`
}

type Options struct {
	SysRoot     string
	RescanDelay time.Duration
}

type rescanRequest struct {
	reply chan error
}

// Monitor owns the registry. Every registry call happens on the goroutine
// running Run; other goroutines read the published Status or ask for a
// rescan through Rescan.
type Monitor struct {
	reg     *registry.Registry
	source  Source
	sysRoot string
	delay   time.Duration

	requests chan rescanRequest
	running  atomic.Bool

	// at most one pending rescan
	timerC    <-chan time.Time
	stopTimer func() bool
	after     func(d time.Duration) (<-chan time.Time, func() bool)

	phase  atomic.Int32
	status atomic.Pointer[Status]
}

// NewMonitor builds a monitor over reg. source may be nil when no hotplug
// channel could be opened; the monitor then only serves the startup scan
// and explicit rescans.
func NewMonitor(reg *registry.Registry, source Source, opts Options) *Monitor {
	if opts.RescanDelay <= 0 {
		opts.RescanDelay = DefaultRescanDelay
	}
	if opts.SysRoot == "" {
		opts.SysRoot = "/sys"
	}
	m := &Monitor{
		reg:      reg,
		source:   source,
		sysRoot:  opts.SysRoot,
		delay:    opts.RescanDelay,
		requests: make(chan rescanRequest),
		after: func(d time.Duration) (<-chan time.Time, func() bool) {
			t := time.NewTimer(d)
			return t.C, t.Stop
		},
	}
	m.publish()
	return m
}

// Run performs the startup scan and then dispatches events until ctx is
// cancelled. On return any pending rescan is cancelled and the tracked
// modem is torn down.
func (m *Monitor) Run(ctx context.Context) error {
	m.running.Store(true)
	defer m.running.Store(false)
	defer m.shutdown()

	m.discover(ctx, "startup")

	var events <-chan Event
	if m.source != nil {
		events = m.source.Events()
	}

	for {
		m.setPhase(WaitingForEvent)
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-events:
			if !ok {
				logger.Log.Warnf("hotplug: event source closed, hotplug tracking disabled")
				events = nil
				m.source = nil
				m.publish()
				continue
			}
			m.setPhase(Dispatching)
			m.handleEvent(ctx, ev)
		case <-m.timerC:
			m.setPhase(Dispatching)
			m.fireRescan(ctx)
		case req := <-m.requests:
			m.setPhase(Dispatching)
			req.reply <- m.rescan(ctx)
		}
		m.setPhase(Idle)
	}
}

func (m *Monitor) shutdown() {
	m.cancelTimer()
	if m.reg.Teardown() {
		logger.Log.Infof("hotplug: modem released on shutdown")
	}
	if m.source != nil {
		if err := m.source.Close(); err != nil {
			logger.Log.Warnf("hotplug: close event source: %v", err)
		}
	}
	m.setPhase(Idle)
}

func (m *Monitor) handleEvent(ctx context.Context, ev Event) {
	metrics.UEvent(ev.Action)
	switch ev.Action {
	case ActionAdd:
		switch {
		case m.tracks(ev):
			logger.Log.Debugf("hotplug: add for tracked %s", m.eventPath(ev))
		case m.reg.State() != registry.Absent:
			logger.Log.Debugf("hotplug: add for %s ignored, a modem is already tracked", m.eventPath(ev))
		case m.timerC != nil:
			logger.Log.Debugf("hotplug: add for %s, rescan already pending", m.eventPath(ev))
		default:
			logger.Log.Debugf("hotplug: add for %s, rescan in %s", m.eventPath(ev), m.delay)
			m.timerC, m.stopTimer = m.after(m.delay)
			m.publish()
		}
	case ActionRemove:
		if !m.tracks(ev) {
			return
		}
		logger.Log.Infof("hotplug: tracked device %s removed", m.eventPath(ev))
		m.reg.Teardown()
		m.publish()
	}
}

// fireRescan runs the delayed scan. It is one-shot: a scan that finds
// nothing waits for the next add event.
func (m *Monitor) fireRescan(ctx context.Context) {
	m.timerC, m.stopTimer = nil, nil
	m.discover(ctx, "hotplug")
}

func (m *Monitor) rescan(ctx context.Context) error {
	if m.reg.State() != registry.Absent {
		return registry.ErrBusy
	}
	m.cancelTimer()
	return m.discover(ctx, "request")
}

func (m *Monitor) discover(ctx context.Context, reason string) error {
	err := m.reg.Discover(ctx)
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNoModem):
		logger.Log.Debugf("hotplug: %s scan found no supported modem", reason)
	case errors.Is(err, registry.ErrBusy):
		logger.Log.Debugf("hotplug: %s scan skipped, a modem is already tracked", reason)
	default:
		logger.Log.Warnf("hotplug: %s scan failed: %v", reason, err)
	}
	m.publish()
	return err
}

func (m *Monitor) cancelTimer() {
	if m.stopTimer != nil {
		m.stopTimer()
	}
	m.timerC, m.stopTimer = nil, nil
}

func (m *Monitor) tracks(ev Event) bool {
	if ev.Subpath != "" && m.reg.Tracks(filepath.Join(m.sysRoot, ev.Subpath)) {
		return true
	}
	return ev.Node != "" && m.reg.Tracks(ev.Node)
}

func (m *Monitor) eventPath(ev Event) string {
	if ev.Subpath != "" {
		return ev.Subpath
	}
	return ev.Node
}

// Pending reports whether a delayed rescan is scheduled. Only meaningful on
// the Run goroutine or when Run is not active.
func (m *Monitor) Pending() bool {
	return m.timerC != nil
}

// Rescan asks the running loop for an immediate discovery attempt.
func (m *Monitor) Rescan(ctx context.Context) error {
	if !m.running.Load() {
		return errors.New("monitor not running")
	}
	req := rescanRequest{reply: make(chan error, 1)}
	select {
	case m.requests <- req:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-req.reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Monitor) setPhase(p Phase) {
	m.phase.Store(int32(p))
}

func (m *Monitor) Phase() Phase {
	return Phase(m.phase.Load())
}

func (m *Monitor) publish() {
	s := &Status{
		Snapshot:      m.reg.Snapshot(),
		Phase:         m.Phase().String(),
		RescanPending: m.timerC != nil,
		Hotplug:       m.source != nil,
	}
	m.status.Store(s)
}

// Status returns the last published state.
func (m *Monitor) Status() Status {
	if s := m.status.Load(); s != nil {
		return *s
	}
	return Status{}
}
