package mccmnc

import (
	"encoding/json"
	"os"
	"sync"
)

// NetworkOperator represents an entry in mcc_mnc.json
type NetworkOperator struct {
	MCC         string `json:"mcc"`
	MNC         string `json:"mnc"`
	ISO         string `json:"iso"`
	Country     string `json:"country"`
	CountryCode string `json:"country_code"`
	Name        string `json:"name"`
}

var (
	mu        sync.RWMutex
	operators map[string]NetworkOperator
)

// LoadOperators loads the mcc_mnc.json file, replacing any table loaded
// before.
func LoadOperators(path string) error {
	file, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var list []NetworkOperator
	if err := json.Unmarshal(file, &list); err != nil {
		return err
	}
	SetOperators(list)
	return nil
}

func SetOperators(list []NetworkOperator) {
	m := make(map[string]NetworkOperator, len(list))
	for _, op := range list {
		m[op.MCC+op.MNC] = op
	}
	mu.Lock()
	operators = m
	mu.Unlock()
}

// GetOperatorName finds the operator name for a given MCC and MNC
func GetOperatorName(mcc, mnc string) string {
	mu.RLock()
	defer mu.RUnlock()
	return operators[mcc+mnc].Name
}

// Resolve turns a numeric PLMN ("46692") into the operator name when it is
// known and returns anything else unchanged.
func Resolve(op string) string {
	if len(op) != 5 && len(op) != 6 {
		return op
	}
	for _, c := range op {
		if c < '0' || c > '9' {
			return op
		}
	}
	if name := GetOperatorName(op[:3], op[3:]); name != "" {
		return name
	}
	return op
}
