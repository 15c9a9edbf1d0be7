package classify

import (
	"fmt"
	"strings"
)

// Class triples seen on supported modems.
const (
	classVendor   = "255/255/255"
	classACM      = "2/2/1"
	classACMNoAT  = "2/2/0"
	classECM      = "2/6/0"
	classCDCData  = "10/0/0"
	classPhonet   = "2/254/0"
	classSamsungN = "255/0/0"
)

// Rules holds one rule per supported family.
var Rules = []Rule{
	{Family: "isiusb", Sysattr: AttrType, Classifier: ClassifierFunc(classifyISI)},
	{Family: "mbm", Sysattr: AttrInterface, Classifier: ClassifierFunc(classifyMBM)},
	{Family: "hso", Sysattr: AttrHSOType, Classifier: ClassifierFunc(classifyHSO)},
	{Family: "gobi", Classifier: ClassifierFunc(classifyGobi)},
	{Family: "sierra", Classifier: portTable{
		ports: map[string]map[string]Role{
			classVendor: {"01": RoleDiag, "03": RoleModem, "04": RoleApp, "07": RoleNetwork},
		},
		required: []Role{RoleModem, RoleNetwork},
		emit:     []Role{RoleModem, RoleApp, RoleDiag, RoleNetwork},
	}},
	{Family: "option", Classifier: portTable{
		ports: map[string]map[string]Role{
			classVendor: {"00": RoleModem, "01": RoleDiag, "02": RoleAux},
		},
		required: auxModem,
		emit:     []Role{RoleAux, RoleModem, RoleDiag},
	}},
	{Family: "huawei", Classifier: ClassifierFunc(classifyHuawei)},
	{Family: "speedupcdma", Classifier: labelsOnly()},
	{Family: "speedup", Classifier: labelsOnly()},
	{Family: "linktop", Classifier: portTable{
		ports: map[string]map[string]Role{
			classACM: {"01": RoleAux, "03": RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}},
	{Family: "alcatel", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classVendor: {"03": RoleAux, "05": RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}},
	{Family: "novatel", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classVendor: {"00": RoleAux, "01": RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}},
	{Family: "icera", Classifier: portTable{
		ports: map[string]map[string]Role{
			classACM: {"00": RoleAux, "01": RoleAux, "02": RoleModem, "03": RoleModem},
			classECM: {"05": RoleNetwork, "06": RoleNetwork, "07": RoleNetwork},
		},
		required: auxModem,
		emit:     []Role{RoleAux, RoleModem, RoleNetwork},
	}},
	{Family: "nokia", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classCDCData: {"02": RoleModem, "04": RoleAux},
		},
		required: auxModem,
		emit:     auxModem,
	}},
	{Family: "telit", Sysattr: AttrInterface, Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classVendor:  {"00": RoleModem, "01": RoleDiag, "02": RoleGPS, "03": RoleAux},
			classACMNoAT: {"00": RoleModem, "04": RoleDiag, "02": RoleAux},
		},
		required: auxModem,
		emit:     []Role{RoleModem, RoleAux, RoleGPS},
	}},
	{Family: "ge910", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classACMNoAT: {"00": RoleModem, "04": RoleDiag, "02": RoleAux},
		},
		required: auxModem,
		emit:     []Role{RoleModem, RoleAux, RoleGPS},
	}},
	{Family: "he910", Classifier: portTable{
		ports: map[string]map[string]Role{
			classACM: {"00": RoleModem, "06": RoleAux, "0a": RoleGPS},
		},
		required: auxModem,
		emit:     []Role{RoleModem, RoleAux, RoleGPS},
	}},
	{Family: "simcom", Classifier: portTable{
		labels: map[string]Role{"aux": RoleData, "modem": RoleModem},
		ports: map[string]map[string]Role{
			classVendor: {"00": RoleDiag, "01": RoleGPS, "02": RoleData, "03": RoleModem},
		},
		required: []Role{RoleData, RoleModem},
		emit:     []Role{RoleModem, RoleData, RoleGPS},
	}},
	{Family: "zte", Classifier: ClassifierFunc(classifyZTE)},
	{Family: "samsung", Classifier: ClassifierFunc(classifySamsung)},
	{Family: "quectel", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classVendor: {"02": RoleAux, "03": RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}},
	{Family: "ublox", Classifier: portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classACM: {"02": RoleAux, "00": RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}},
}

var (
	auxModem      = []Role{RoleAux, RoleModem}
	defaultLabels = map[string]Role{"aux": RoleAux, "modem": RoleModem}
)

// portTable is the common shape of a rule: an interface is assigned a role
// by its upstream label or by its (class, number) signature. A labelled
// interface is never matched by signature. Once every label role is
// resolved the remaining interfaces are not examined.
type portTable struct {
	labels   map[string]Role
	ports    map[string]map[string]Role
	required []Role
	emit     []Role
}

func labelsOnly() portTable {
	return portTable{labels: defaultLabels, required: auxModem, emit: auxModem}
}

func (p portTable) Classify(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		if role, ok := p.labels[it.Label]; ok {
			found[role] = it.DevNode
			if p.labelsResolved(found) {
				break
			}
			continue
		}
		if role, ok := p.ports[it.Class][it.Number]; ok {
			found[role] = it.DevNode
		}
	}
	return finish(found, p.required, p.emit)
}

func (p portTable) labelsResolved(found map[Role]string) bool {
	for _, role := range p.labels {
		if found[role] == "" {
			return false
		}
	}
	return true
}

// finish checks the required roles and copies the emitted ones that were
// resolved into a fresh role map.
func finish(found map[Role]string, required, emit []Role) (Result, error) {
	var missing []string
	for _, r := range required {
		if found[r] == "" {
			missing = append(missing, string(r))
		}
	}
	if len(missing) > 0 {
		return Result{}, fmt.Errorf("%w: %s", ErrIncomplete, strings.Join(missing, ","))
	}

	roles := make(RoleMap, len(emit))
	for _, r := range emit {
		if v := found[r]; v != "" {
			roles[r] = v
		}
	}
	return Result{Roles: roles}, nil
}

// classifyISI picks the phonet interface. The pipe address depends on
// whether the phonet function sits on its own CDC interface.
func classifyISI(in Input) (Result, error) {
	for _, it := range in.Interfaces {
		if it.Attr(AttrType) != "820" {
			continue
		}
		addr := "0"
		if it.Class == classPhonet {
			addr = "16"
		}
		return Result{
			Roles:      RoleMap{RoleInterface: it.DevNode},
			Properties: map[string]string{"Address": addr},
		}, nil
	}
	return Result{}, fmt.Errorf("%w: %s", ErrIncomplete, RoleInterface)
}

// classifyMBM matches on the interface description string. The first
// "Modem" port carries commands, the second is the data channel.
func classifyMBM(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		desc := it.Attr(AttrInterface)
		switch {
		case strings.HasSuffix(desc, "Modem"), strings.HasSuffix(desc, "Modem 2"):
			if found[RoleModemDevice] == "" {
				found[RoleModemDevice] = it.DevNode
			} else {
				found[RoleDataDevice] = it.DevNode
			}
		case strings.HasSuffix(desc, "GPS Port"), strings.HasSuffix(desc, "Module NMEA"):
			found[RoleGPSDevice] = it.DevNode
		case strings.HasSuffix(desc, "Network Adapter"), strings.HasSuffix(desc, "NetworkAdapter"):
			found[RoleNetwork] = it.DevNode
		}
	}
	return finish(found,
		[]Role{RoleModemDevice, RoleDataDevice},
		[]Role{RoleModemDevice, RoleDataDevice, RoleGPSDevice, RoleNetwork})
}

func classifyHSO(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		if !it.HasAttr(AttrHSOType) {
			if strings.HasPrefix(it.Name, "hso") {
				found[RoleNetwork] = it.DevNode
			}
			continue
		}
		switch strings.TrimSpace(it.Attr(AttrHSOType)) {
		case "Control":
			found[RoleControl] = it.DevNode
		case "Application":
			found[RoleApplication] = it.DevNode
		case "Modem":
			found[RoleModem] = it.DevNode
		}
	}
	return finish(found,
		[]Role{RoleControl, RoleApplication},
		[]Role{RoleControl, RoleApplication, RoleModem, RoleNetwork})
}

// classifyGobi handles Qualcomm QMI modems: the QMI control node and the
// network interface come from qmi_wwan, the serial ports from qcserial.
func classifyGobi(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		if it.Class != classVendor {
			continue
		}
		switch it.Subsystem {
		case SubsystemUSBMisc:
			found[RoleDevice] = it.DevNode
		case SubsystemNet:
			found[RoleNetwork] = it.DevNode
		case SubsystemTTY:
			switch it.Number {
			case "01":
				found[RoleDiag] = it.DevNode
			case "02":
				found[RoleModem] = it.DevNode
			case "03":
				found[RoleGPS] = it.DevNode
			}
		}
	}
	return finish(found,
		[]Role{RoleDevice, RoleModem, RoleNetwork},
		[]Role{RoleDevice, RoleModem, RoleDiag, RoleNetwork})
}

var (
	huaweiModem = []string{"255/1/1", "255/2/1", "255/1/49"}
	huaweiPcui  = []string{"255/1/2", "255/2/2", "255/1/50"}
	huaweiDiag  = []string{"255/1/3", "255/2/3", "255/1/51"}
	huaweiNet   = []string{"255/1/8", "255/1/56"}
	huaweiQMI   = []string{"255/1/9", "255/1/57"}
)

// classifyHuawei recognises both the older option-driver layouts and the
// newer ones that expose a QMI function. A modem with both a QMI node and
// a network interface is driven as a gobi modem.
func classifyHuawei(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		switch {
		case it.Label == "modem" || inList(huaweiModem, it.Class):
			found[RoleModem] = it.DevNode
		case it.Label == "pcui" || inList(huaweiPcui, it.Class):
			found[RolePcui] = it.DevNode
		case it.Label == "diag" || inList(huaweiDiag, it.Class):
			found[RoleDiag] = it.DevNode
		case inList(huaweiNet, it.Class):
			found[RoleNetwork] = it.DevNode
		case inList(huaweiQMI, it.Class):
			found[RoleDevice] = it.DevNode
		case it.Class == classVendor:
			switch it.Number {
			case "00":
				found[RoleModem] = it.DevNode
			case "01", "02", "03", "04":
				found[RolePcui] = it.DevNode
			}
		}
	}

	emit := []Role{RoleDevice, RoleModem, RolePcui, RoleDiag, RoleNetwork}
	if found[RoleDevice] != "" && found[RoleNetwork] != "" {
		res, err := finish(found, nil, emit)
		res.Family = "gobi"
		return res, err
	}
	return finish(found, []Role{RoleModem, RolePcui}, emit)
}

// classifyZTE places the modem port on interface 02 for a few early
// models and on 03 for everything else.
func classifyZTE(in Input) (Result, error) {
	modem := "03"
	switch in.Model {
	case "0016", "0017", "0117":
		modem = "02"
	}
	return portTable{
		labels: defaultLabels,
		ports: map[string]map[string]Role{
			classVendor: {"00": RoleDiag, "01": RoleAux, modem: RoleModem},
		},
		required: auxModem,
		emit:     auxModem,
	}.Classify(in)
}

func classifySamsung(in Input) (Result, error) {
	found := make(map[Role]string)
	for _, it := range in.Interfaces {
		switch it.Class {
		case classCDCData:
			found[RoleControlPort] = it.DevNode
		case classSamsungN:
			found[RoleNetwork] = it.DevNode
		}
	}
	if found[RoleControlPort] == "" && found[RoleNetwork] == "" {
		return Result{}, fmt.Errorf("%w: %s|%s", ErrIncomplete, RoleControlPort, RoleNetwork)
	}
	return finish(found, nil, []Role{RoleControlPort, RoleNetwork})
}

func inList(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
