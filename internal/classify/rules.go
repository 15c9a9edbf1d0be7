// Package classify maps the interfaces of a multi-port modem onto named
// roles, one heuristic per chipset family.
package classify

import (
	"errors"
	"fmt"
	"sort"
)

// Role is the property name under which a device node is handed to the
// modem driver. The names are the ones the drivers read back.
type Role string

const (
	RoleModem       Role = "Modem"            // primary command channel
	RoleModemDevice Role = "ModemDevice"
	RoleAux         Role = "Aux"              // auxiliary command channel
	RoleDiag        Role = "Diag"             // diagnostic port
	RoleGPS         Role = "GPS"              // NMEA port
	RoleNetwork     Role = "NetworkInterface" // packet data interface
	RoleDevice      Role = "Device"           // QMI control node
	RolePcui        Role = "Pcui"
	RoleControl     Role = "Control"
	RoleApplication Role = "Application"
	RoleApp         Role = "App"
	RoleData        Role = "Data"
	RoleDataDevice  Role = "DataDevice"
	RoleGPSDevice   Role = "GPSDevice"
	RoleControlPort Role = "ControlPort"
	RoleInterface   Role = "Interface"
)

// RoleMap assigns device nodes to roles. Only resolved roles are present.
type RoleMap map[Role]string

// Sorted returns the roles in name order.
func (m RoleMap) Sorted() []Role {
	out := make([]Role, 0, len(m))
	for r := range m {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Result is a complete classification. Family is non-empty when the rule
// redirected the modem to another family's driver.
type Result struct {
	Family     string            `json:"family,omitempty"`
	Roles      RoleMap           `json:"roles"`
	Properties map[string]string `json:"properties,omitempty"`
}

// Input is what a classifier sees: the product id for model-conditional
// rules and the ordered interfaces.
type Input struct {
	Model      string
	Interfaces []Interface
}

var (
	ErrIncomplete = errors.New("required roles not resolved")
	ErrNoRule     = errors.New("no classification rule for family")
	ErrRejected   = errors.New("precondition attribute absent")
)

type Classifier interface {
	Classify(in Input) (Result, error)
}

type ClassifierFunc func(in Input) (Result, error)

func (f ClassifierFunc) Classify(in Input) (Result, error) {
	return f(in)
}

// Rule binds a family to its classifier. When Sysattr is set, at least one
// interface must carry that attribute or the rule is rejected without
// running.
type Rule struct {
	Family     string
	Sysattr    string
	Classifier Classifier
}

// Dispatcher selects the rule for a family.
type Dispatcher struct {
	rules map[string]Rule
	order []string
}

func NewDispatcher(rules []Rule) *Dispatcher {
	d := &Dispatcher{rules: make(map[string]Rule, len(rules))}
	for _, r := range rules {
		if _, dup := d.rules[r.Family]; !dup {
			d.order = append(d.order, r.Family)
		}
		d.rules[r.Family] = r
	}
	return d
}

// Default dispatches over every supported family.
func Default() *Dispatcher {
	return NewDispatcher(Rules)
}

func (d *Dispatcher) Rule(family string) (Rule, bool) {
	r, ok := d.rules[family]
	return r, ok
}

func (d *Dispatcher) Families() []string {
	return append([]string(nil), d.order...)
}

// Classify runs the family's rule over the set. On error no result is
// returned; a partially resolved map never escapes.
func (d *Dispatcher) Classify(family, model string, set *Set) (Result, error) {
	rule, ok := d.rules[family]
	if !ok {
		return Result{}, fmt.Errorf("%w: %s", ErrNoRule, family)
	}

	in := Input{Model: model, Interfaces: set.All()}
	if rule.Sysattr != "" && !anyHasAttr(in.Interfaces, rule.Sysattr) {
		return Result{}, fmt.Errorf("%s: %w: %s", family, ErrRejected, rule.Sysattr)
	}

	res, err := rule.Classifier.Classify(in)
	if err != nil {
		return Result{}, fmt.Errorf("%s: %w", family, err)
	}
	return res, nil
}

func anyHasAttr(ifaces []Interface, key string) bool {
	for _, it := range ifaces {
		if it.Attr(key) != "" {
			return true
		}
	}
	return false
}
