package models

import "strings"

// ServiceContract is one category's slice of a contract template row.
type ServiceContract struct {
	Endpoints     []string `json:"endpoints,omitempty"`
	ContractValue *float64 `json:"contractValue,omitempty"`
}

// Dispatchable reports whether the category has at least one endpoint and a contract value.
func (s ServiceContract) Dispatchable() bool {
	return len(s.Endpoints) > 0 && s.ContractValue != nil
}

// ContractRecord is the contract template resolved for a stack id.
type ContractRecord struct {
	StackID  string                       `json:"stackId"`
	Services map[Category]ServiceContract `json:"services"`
}

// Service returns the contract for c; the zero value when the row does not mention it.
func (r *ContractRecord) Service(c Category) ServiceContract {
	if r == nil || r.Services == nil {
		return ServiceContract{}
	}
	return r.Services[c]
}

// IsEmpty is true when every category lacks both an endpoint list and a contract value.
func (r *ContractRecord) IsEmpty() bool {
	for _, c := range Categories {
		svc := r.Service(c)
		if len(svc.Endpoints) > 0 || svc.ContractValue != nil {
			return false
		}
	}
	return true
}

// ParseEndpoints splits a comma-separated endpoint list, trimming entries and dropping blanks.
func ParseEndpoints(csv string) []string {
	if strings.TrimSpace(csv) == "" {
		return nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
