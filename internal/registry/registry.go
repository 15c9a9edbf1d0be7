// Package registry owns the one modem record the detector tracks and walks
// it through identification, classification and registration.
package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pccr10001/modemd/internal/classify"
	"github.com/pccr10001/modemd/internal/metrics"
	"github.com/pccr10001/modemd/internal/sysfs"
	"github.com/pccr10001/modemd/pkg/logger"
)

var (
	ErrNoModem    = errors.New("no supported modem present")
	ErrBusy       = errors.New("a modem is already tracked")
	ErrIncomplete = errors.New("classification incomplete")
	ErrStaleNode  = errors.New("device node missing")
	ErrNoRule     = errors.New("no classification rule")
	ErrProvision  = errors.New("provisioning failed")
)

type State int

const (
	Absent State = iota
	Identified
	Classified
	Registered
)

func (s State) String() string {
	switch s {
	case Absent:
		return "absent"
	case Identified:
		return "identified"
	case Classified:
		return "classified"
	case Registered:
		return "registered"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Source finds and enumerates modems. *sysfs.Scanner implements it.
type Source interface {
	Identify() (sysfs.Identity, error)
	Enumerate(id sysfs.Identity) (*classify.Set, error)
}

// Provisioner is the modem driver the resolved role map is handed to.
type Provisioner interface {
	Create(driver string) (string, error)
	SetProperty(handle, name, value string) error
	Register(handle string) error
	Remove(handle string)
}

// Record is the live modem.
type Record struct {
	sysfs.Identity
	Interfaces *classify.Set
	Roles      classify.RoleMap
	Properties map[string]string
	Handle     string
	Since      time.Time
}

// Snapshot is a copy of the registry state safe to hand to other goroutines.
type Snapshot struct {
	State      string               `json:"state"`
	Modem      *sysfs.Identity      `json:"modem,omitempty"`
	Interfaces []classify.Interface `json:"interfaces,omitempty"`
	Roles      classify.RoleMap     `json:"roles,omitempty"`
	Properties map[string]string    `json:"properties,omitempty"`
	Handle     string               `json:"handle,omitempty"`
	Since      *time.Time           `json:"since,omitempty"`
}

// Registry is not safe for concurrent use; the hotplug loop owns it.
type Registry struct {
	source Source
	rules  *classify.Dispatcher
	prov   Provisioner

	// exists reports whether a device node is present.
	exists func(path string) bool
	now    func() time.Time

	state State
	rec   *Record
}

type Option func(*Registry)

// WithExists replaces the filesystem existence check.
func WithExists(fn func(path string) bool) Option {
	return func(r *Registry) { r.exists = fn }
}

func WithDispatcher(d *classify.Dispatcher) Option {
	return func(r *Registry) { r.rules = d }
}

func New(source Source, prov Provisioner, opts ...Option) *Registry {
	r := &Registry{
		source: source,
		prov:   prov,
		rules:  classify.Default(),
		exists: pathExists,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func pathExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

func (r *Registry) State() State {
	return r.state
}

func (r *Registry) Record() *Record {
	return r.rec
}

// Discover runs one identify/classify/register attempt. A failure after
// identification discards the record; nothing is retried.
func (r *Registry) Discover(ctx context.Context) error {
	if r.state != Absent {
		return ErrBusy
	}

	id, err := r.source.Identify()
	if err != nil {
		metrics.Scan("not_found")
		if errors.Is(err, sysfs.ErrNotFound) {
			return ErrNoModem
		}
		return fmt.Errorf("identify: %w", err)
	}
	r.rec = &Record{Identity: id}
	r.setState(Identified)
	logger.Log.Infof("Identified %s modem %s:%s (%s) at %s", id.Family, id.Vendor, id.Product, id.Name, id.Root)

	if err := r.classify(); err != nil {
		r.discard()
		metrics.Scan("rejected")
		return err
	}
	r.setState(Classified)

	if err := ctx.Err(); err != nil {
		r.discard()
		return err
	}

	if err := r.register(); err != nil {
		r.discard()
		metrics.Scan("provision_failed")
		return err
	}
	r.rec.Since = r.now()
	r.setState(Registered)
	metrics.Scan("registered")
	metrics.Registered(r.rec.Family)
	logger.Log.Infof("Registered %s modem %s with %d roles", r.rec.Family, r.rec.Handle, len(r.rec.Roles))
	return nil
}

func (r *Registry) classify() error {
	rec := r.rec
	set, err := r.source.Enumerate(rec.Identity)
	if err != nil {
		return fmt.Errorf("enumerate %s: %w", rec.Root, err)
	}
	rec.Interfaces = set

	res, err := r.rules.Classify(rec.Family, rec.Product, set)
	if err != nil {
		if errors.Is(err, classify.ErrNoRule) {
			return fmt.Errorf("%w: %v", ErrNoRule, err)
		}
		logger.Log.Warnf("Classification of %s modem at %s failed: %v", rec.Family, rec.Root, err)
		return fmt.Errorf("%w: %v", ErrIncomplete, err)
	}

	for role, node := range res.Roles {
		path := node
		if it, ok := set.Find(node); ok {
			path = it.NodePath()
		}
		if !r.exists(path) {
			logger.Log.Warnf("Role %s of %s modem points at missing node %s", role, rec.Family, path)
			return fmt.Errorf("%w: %s %s", ErrStaleNode, role, path)
		}
	}

	if res.Family != "" && res.Family != rec.Family {
		logger.Log.Infof("Modem at %s redirected from %s to %s", rec.Root, rec.Family, res.Family)
		rec.Family = res.Family
	}
	rec.Roles = res.Roles
	rec.Properties = res.Properties
	return nil
}

func (r *Registry) register() error {
	rec := r.rec
	handle, err := r.prov.Create(rec.Family)
	if err != nil {
		return fmt.Errorf("%w: create %s: %v", ErrProvision, rec.Family, err)
	}

	for _, role := range rec.Roles.Sorted() {
		if err := r.prov.SetProperty(handle, string(role), rec.Roles[role]); err != nil {
			r.prov.Remove(handle)
			return fmt.Errorf("%w: set %s: %v", ErrProvision, role, err)
		}
	}
	for name, value := range rec.Properties {
		if err := r.prov.SetProperty(handle, name, value); err != nil {
			r.prov.Remove(handle)
			return fmt.Errorf("%w: set %s: %v", ErrProvision, name, err)
		}
	}

	if err := r.prov.Register(handle); err != nil {
		r.prov.Remove(handle)
		return fmt.Errorf("%w: register: %v", ErrProvision, err)
	}
	rec.Handle = handle
	return nil
}

// Teardown drops the tracked record, removing it from the provisioner when
// it was registered. It reports whether there was anything to drop.
func (r *Registry) Teardown() bool {
	if r.state == Absent {
		return false
	}
	rec := r.rec
	if r.state == Registered && rec.Handle != "" {
		r.prov.Remove(rec.Handle)
	}
	logger.Log.Infof("Modem %s at %s removed", rec.Family, rec.Root)
	r.discard()
	metrics.TornDown()
	return true
}

func (r *Registry) discard() {
	r.rec = nil
	r.setState(Absent)
}

func (r *Registry) setState(s State) {
	r.state = s
	metrics.SetState(int(s))
}

// Tracks reports whether a device path belongs to the tracked modem: the
// device directory, anything below it, or one of its device nodes.
func (r *Registry) Tracks(path string) bool {
	if r.rec == nil || path == "" {
		return false
	}
	root := filepath.Clean(r.rec.Root)
	path = filepath.Clean(path)
	if path == root || strings.HasPrefix(path, root+string(filepath.Separator)) {
		return true
	}
	_, ok := r.rec.Interfaces.Find(path)
	return ok
}

func (r *Registry) Snapshot() Snapshot {
	s := Snapshot{State: r.state.String()}
	if r.rec == nil {
		return s
	}
	id := r.rec.Identity
	s.Modem = &id
	s.Interfaces = r.rec.Interfaces.All()
	s.Handle = r.rec.Handle
	if len(r.rec.Roles) > 0 {
		s.Roles = make(classify.RoleMap, len(r.rec.Roles))
		for k, v := range r.rec.Roles {
			s.Roles[k] = v
		}
	}
	if len(r.rec.Properties) > 0 {
		s.Properties = make(map[string]string, len(r.rec.Properties))
		for k, v := range r.rec.Properties {
			s.Properties[k] = v
		}
	}
	if !r.rec.Since.IsZero() {
		since := r.rec.Since
		s.Since = &since
	}
	return s
}
