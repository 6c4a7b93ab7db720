package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// TargetKind names one variant of TargetSpec
type TargetKind string

const (
	TargetByStatus        TargetKind = "by_status"
	TargetAllApplicants   TargetKind = "all_applicants"
	TargetManualSelected  TargetKind = "manual_selected"
	TargetManualRemaining TargetKind = "manual_remaining"
)

// IsValid reports whether k is a known variant
func (k TargetKind) IsValid() bool {
	switch k {
	case TargetByStatus, TargetAllApplicants, TargetManualSelected, TargetManualRemaining:
		return true
	}
	return false
}

// TargetSpec describes which applicants of a drive a block is sent to.
// Values are built with ByStatus, AllApplicants, ManualSelected or
// ManualRemaining; the zero value is invalid.
type TargetSpec struct {
	kind   TargetKind
	status string
	ids    []int
}

// ByStatus targets applicants whose application status equals status
func ByStatus(status string) TargetSpec {
	return TargetSpec{kind: TargetByStatus, status: strings.TrimSpace(status)}
}

// AllApplicants targets every applicant of the drive
func AllApplicants() TargetSpec {
	return TargetSpec{kind: TargetAllApplicants}
}

// ManualSelected targets exactly the given applicant IDs
func ManualSelected(ids []int) TargetSpec {
	return TargetSpec{kind: TargetManualSelected, ids: copyIDs(ids)}
}

// ManualRemaining targets every applicant except the given IDs
func ManualRemaining(ids []int) TargetSpec {
	return TargetSpec{kind: TargetManualRemaining, ids: copyIDs(ids)}
}

// NewTargetSpec builds a spec from its stored columns
func NewTargetSpec(kind TargetKind, status string, ids []int) (TargetSpec, error) {
	switch kind {
	case TargetByStatus:
		return ByStatus(status), nil
	case TargetAllApplicants:
		return AllApplicants(), nil
	case TargetManualSelected:
		return ManualSelected(ids), nil
	case TargetManualRemaining:
		return ManualRemaining(ids), nil
	}
	return TargetSpec{}, &TargetSpecError{Type: string(kind)}
}

func copyIDs(ids []int) []int {
	if len(ids) == 0 {
		return nil
	}
	out := make([]int, len(ids))
	copy(out, ids)
	return out
}

// Kind returns the variant
func (t TargetSpec) Kind() TargetKind { return t.kind }

// Status returns the application status for ByStatus specs
func (t TargetSpec) Status() string { return t.status }

// IDs returns a copy of the applicant IDs for the manual variants
func (t TargetSpec) IDs() []int { return copyIDs(t.ids) }

// Validate checks the variant's own constraints
func (t TargetSpec) Validate() error {
	switch t.kind {
	case TargetByStatus:
		if t.status == "" {
			return fmt.Errorf("status is required for %s", t.kind)
		}
	case TargetManualSelected:
		if len(t.ids) == 0 {
			return fmt.Errorf("at least one applicant id is required for %s", t.kind)
		}
	case TargetAllApplicants, TargetManualRemaining:
	default:
		return &TargetSpecError{Type: string(t.kind)}
	}
	return nil
}

func (t TargetSpec) String() string {
	switch t.kind {
	case TargetByStatus:
		return fmt.Sprintf("%s(%s)", t.kind, t.status)
	case TargetManualSelected, TargetManualRemaining:
		return fmt.Sprintf("%s(%d ids)", t.kind, len(t.ids))
	}
	return string(t.kind)
}

type targetJSON struct {
	Type   TargetKind `json:"type"`
	Status string     `json:"status,omitempty"`
	IDs    []int      `json:"ids,omitempty"`
}

// MarshalJSON encodes the spec as {"type": ..., ...}
func (t TargetSpec) MarshalJSON() ([]byte, error) {
	return json.Marshal(targetJSON{Type: t.kind, Status: t.status, IDs: t.ids})
}

// UnmarshalJSON decodes a spec and rejects unknown variants
func (t *TargetSpec) UnmarshalJSON(data []byte) error {
	var raw targetJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	spec, err := NewTargetSpec(raw.Type, raw.Status, raw.IDs)
	if err != nil {
		return err
	}
	*t = spec
	return nil
}

// TargetSpecError reports an unknown target variant
type TargetSpecError struct {
	Type string
}

func (e *TargetSpecError) Error() string {
	if e.Type == "" {
		return "target type is required"
	}
	return fmt.Sprintf("unknown target type %q", e.Type)
}
