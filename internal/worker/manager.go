package worker

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pccr10001/modemd/internal/config"
	"github.com/pccr10001/modemd/internal/logic"
	"github.com/pccr10001/modemd/internal/model"
	"github.com/pccr10001/modemd/internal/repository"
	"github.com/pccr10001/modemd/pkg/logger"
	"gorm.io/gorm"
)

var (
	ErrUnknownHandle = errors.New("unknown modem handle")
	ErrRegistered    = errors.New("modem already registered")
	ErrNoWorker      = errors.New("modem has no AT port worker")
)

// stopWait bounds how long Remove waits for a port to be released.
const stopWait = 2 * time.Second

// Notifier receives attach and detach events.
type Notifier interface {
	Dispatch(ev logic.Event)
}

// ModemStatus is a copy of a modem object for callers outside the manager.
type ModemStatus struct {
	Handle     string            `json:"handle"`
	Driver     string            `json:"driver"`
	Properties map[string]string `json:"properties"`
	Registered bool              `json:"registered"`
	Port       string            `json:"port,omitempty"`
	GPSPort    string            `json:"gps_port,omitempty"`
	Info       Info              `json:"info"`
	Position   *model.Position   `json:"position,omitempty"`
}

type modemObject struct {
	ModemStatus
	worker     *ModemWorker
	gps        *GPSReader
	attachment *model.Attachment
}

// Manager is the modem driver side: it receives one object per detected
// modem, keyed by an opaque handle, and brings up its AT and GPS ports once
// the object is registered.
type Manager struct {
	mu     sync.RWMutex
	modems map[string]*modemObject

	attachments *repository.AttachmentRepository
	positions   *repository.PositionRepository
	notifier    Notifier

	serial config.SerialConfig
	gps    config.GPSConfig
	open   Opener
	settle time.Duration
	now    func() time.Time
}

type ManagerOption func(*Manager)

// WithOpener replaces serial.Open for the AT and GPS ports.
func WithOpener(open Opener) ManagerOption {
	return func(m *Manager) { m.open = open }
}

// WithSettle sets the pause between opening an AT port and probing it.
func WithSettle(d time.Duration) ManagerOption {
	return func(m *Manager) { m.settle = d }
}

// NewManager builds the manager. db and notifier may be nil.
func NewManager(db *gorm.DB, notifier Notifier, serialCfg config.SerialConfig, gpsCfg config.GPSConfig, opts ...ManagerOption) *Manager {
	m := &Manager{
		modems:   make(map[string]*modemObject),
		notifier: notifier,
		serial:   serialCfg,
		gps:      gpsCfg,
		settle:   2 * time.Second,
		now:      time.Now,
	}
	if db != nil {
		m.attachments = repository.NewAttachmentRepository(db)
		m.positions = repository.NewPositionRepository(db)
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Manager) Create(driver string) (string, error) {
	if driver == "" {
		return "", errors.New("driver name required")
	}
	handle := uuid.NewString()
	m.mu.Lock()
	m.modems[handle] = &modemObject{ModemStatus: ModemStatus{
		Handle:     handle,
		Driver:     driver,
		Properties: make(map[string]string),
	}}
	m.mu.Unlock()
	logger.Log.Debugf("Created %s modem object %s", driver, handle)
	return handle, nil
}

func (m *Manager) SetProperty(handle, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	obj, ok := m.modems[handle]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if obj.Registered {
		return ErrRegistered
	}
	obj.Properties[name] = value
	return nil
}

// Register activates the modem object: the attachment is recorded, the AT
// worker is started on the Modem port and the GPS reader on the GPS port.
func (m *Manager) Register(handle string) error {
	m.mu.Lock()
	obj, ok := m.modems[handle]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if obj.Registered {
		m.mu.Unlock()
		return ErrRegistered
	}
	now := m.now()
	obj.Registered = true
	obj.Port = pickPort(obj.Properties, "Modem", "ModemDevice")
	if m.gps.Enabled {
		obj.GPSPort = pickPort(obj.Properties, "GPS", "GPSDevice")
	}
	obj.attachment = &model.Attachment{
		Handle:     handle,
		Family:     obj.Driver,
		Port:       obj.Port,
		Roles:      copyMap(obj.Properties),
		Status:     "attached",
		AttachedAt: now,
		LastSeen:   now,
	}
	att := *obj.attachment

	if obj.Port != "" {
		obj.worker = NewModemWorker(obj.Port, m.open, WorkerOptions{
			BaudRate:     m.serial.BaudRate,
			InitCommands: m.serial.InitATCommands,
			ProbeTimeout: m.serial.ProbeTimeoutDuration(),
			PollInterval: m.serial.PollIntervalDuration(),
			Settle:       m.settle,
			QSS:          telitFamily(obj.Driver),
		}, func(info Info) { m.update(handle, info) })
	}
	if obj.GPSPort != "" {
		obj.gps = NewGPSReader(obj.GPSPort, m.gps.BaudRate, m.open, func(p model.Position) { m.fix(handle, p) })
	}
	w, g := obj.worker, obj.gps
	m.mu.Unlock()

	if m.attachments != nil {
		if err := m.attachments.Create(&att); err != nil {
			logger.Log.Errorf("Failed to record attachment %s: %v", handle, err)
		} else {
			m.mu.Lock()
			if cur, ok := m.modems[handle]; ok && cur.attachment != nil {
				cur.attachment.ID = att.ID
			}
			m.mu.Unlock()
		}
	}

	if w != nil {
		w.Start()
	} else {
		logger.Log.Infof("Modem %s (%s) has no AT port", handle, obj.Driver)
	}
	if g != nil {
		g.Start()
	}

	logger.Log.Infof("Modem %s registered as %s, AT port %q", handle, att.Family, att.Port)
	m.notify(logic.EventAttached, att, Info{})
	return nil
}

// Remove stops the modem's ports and forgets the handle. Unknown handles are
// ignored.
func (m *Manager) Remove(handle string) {
	m.mu.Lock()
	obj, ok := m.modems[handle]
	if ok {
		delete(m.modems, handle)
	}
	m.mu.Unlock()
	if !ok {
		return
	}

	var info Info
	if obj.worker != nil {
		obj.worker.Stop()
		waitDone(obj.worker.Done(), obj.Port)
		info = obj.worker.Info()
	}
	if obj.gps != nil {
		obj.gps.Stop()
		waitDone(obj.gps.Done(), obj.GPSPort)
	}

	if !obj.Registered {
		logger.Log.Debugf("Discarded unregistered modem object %s", handle)
		return
	}

	now := m.now()
	if m.attachments != nil {
		if err := m.attachments.MarkDetached(handle, now); err != nil {
			logger.Log.Errorf("Failed to close attachment %s: %v", handle, err)
		}
	}
	logger.Log.Infof("Modem %s (%s) removed", handle, obj.Driver)
	if obj.attachment != nil {
		att := *obj.attachment
		m.notify(logic.EventDetached, att, info)
	}
}

func waitDone(done <-chan struct{}, port string) {
	select {
	case <-done:
	case <-time.After(stopWait):
		logger.Log.Warnf("Port %s still busy after stop", port)
	}
}

// update is called by the worker whenever it learns something.
func (m *Manager) update(handle string, info Info) {
	m.mu.Lock()
	obj, ok := m.modems[handle]
	if !ok || obj.attachment == nil {
		m.mu.Unlock()
		return
	}
	obj.Info = info
	a := obj.attachment
	a.IMEI = info.IMEI
	a.Revision = info.Revision
	a.Operator = info.Operator
	a.SignalStrength = info.Signal
	a.SIMPresent = info.SIMPresent
	a.LastSeen = m.now()
	if info.Ready {
		a.Status = "ready"
	}
	att := *a
	m.mu.Unlock()

	if m.attachments != nil && att.ID != 0 {
		if err := m.attachments.Save(&att); err != nil {
			logger.Log.Errorf("Failed to update attachment %s: %v", handle, err)
		}
	}
}

func (m *Manager) fix(handle string, p model.Position) {
	p.Handle = handle
	m.mu.Lock()
	obj, ok := m.modems[handle]
	if ok {
		pos := p
		obj.Position = &pos
	}
	m.mu.Unlock()
	if !ok {
		return
	}
	if m.positions != nil {
		if err := m.positions.Create(&p); err != nil {
			logger.Log.Errorf("Failed to store position for %s: %v", handle, err)
		}
	}
}

func (m *Manager) notify(event string, att model.Attachment, info Info) {
	if m.notifier == nil {
		return
	}
	m.notifier.Dispatch(logic.Event{
		Event:      event,
		Handle:     att.Handle,
		Family:     att.Family,
		Port:       att.Port,
		Roles:      att.Roles,
		IMEI:       info.IMEI,
		Operator:   info.Operator,
		SIMPresent: info.SIMPresent,
		Time:       m.now(),
	})
}

// Get returns a copy of one modem object.
func (m *Manager) Get(handle string) (ModemStatus, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	obj, ok := m.modems[handle]
	if !ok {
		return ModemStatus{}, false
	}
	return obj.status(), true
}

// Modems returns copies of all modem objects ordered by handle.
func (m *Manager) Modems() []ModemStatus {
	m.mu.RLock()
	list := make([]ModemStatus, 0, len(m.modems))
	for _, obj := range m.modems {
		list = append(list, obj.status())
	}
	m.mu.RUnlock()
	sort.Slice(list, func(i, j int) bool { return list[i].Handle < list[j].Handle })
	return list
}

func (o *modemObject) status() ModemStatus {
	s := o.ModemStatus
	s.Properties = copyMap(o.Properties)
	if o.worker != nil {
		s.Info = o.worker.Info()
	}
	if o.Position != nil {
		p := *o.Position
		s.Position = &p
	}
	return s
}

// ExecuteAT runs a manual command on the modem's AT port. The periodic
// poll is held off while it runs.
func (m *Manager) ExecuteAT(handle, cmd string, timeout time.Duration) (string, error) {
	m.mu.RLock()
	obj, ok := m.modems[handle]
	var w *ModemWorker
	if ok {
		w = obj.worker
	}
	m.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrUnknownHandle, handle)
	}
	if w == nil {
		return "", ErrNoWorker
	}
	if w.IsBusy() {
		return "", ErrBusy
	}
	w.SetBusy(true)
	defer w.SetBusy(false)
	return w.ExecuteAT(cmd, timeout)
}

// Stop removes every modem object.
func (m *Manager) Stop() {
	m.mu.RLock()
	handles := make([]string, 0, len(m.modems))
	for h := range m.modems {
		handles = append(handles, h)
	}
	m.mu.RUnlock()
	for _, h := range handles {
		m.Remove(h)
	}
}

func pickPort(props map[string]string, names ...string) string {
	for _, n := range names {
		if v := props[n]; strings.HasPrefix(v, "/") {
			return v
		}
	}
	return ""
}

func telitFamily(driver string) bool {
	switch driver {
	case "telit", "he910", "ge910":
		return true
	}
	return false
}

func copyMap(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
