package history

import (
	"fmt"

	"rcie/domain/core"
)

// AnalysisType is the kind of analysis a history entry records.
type AnalysisType string

const (
	TypeCounterfactual AnalysisType = "counterfactual"
	TypeSimulation     AnalysisType = "simulation"
)

// ParseAnalysisType accepts only the persisted analysis kinds.
func ParseAnalysisType(s string) (AnalysisType, error) {
	switch AnalysisType(s) {
	case TypeCounterfactual, TypeSimulation:
		return AnalysisType(s), nil
	}
	return "", core.NewValidationError("type", fmt.Sprintf("unsupported history type %q", s))
}

// Entry is one persisted analysis with snapshots of what was asked and answered.
type Entry struct {
	ID        core.EntryID           `json:"id" db:"id"`
	Type      AnalysisType           `json:"type" db:"type"`
	Timestamp core.Timestamp         `json:"timestamp" db:"-"`
	Inputs    map[string]interface{} `json:"inputs" db:"-"`
	Results   map[string]interface{} `json:"results" db:"-"`
}

// Draft is an entry before the store assigns it an ID and timestamp.
type Draft struct {
	Type    AnalysisType
	Inputs  map[string]interface{}
	Results map[string]interface{}
}
