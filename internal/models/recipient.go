package models

import (
	"strings"
	"time"
)

// Drive represents a placement drive in the applicant directory
type Drive struct {
	ID          int       `json:"id" db:"id"`
	CompanyName string    `json:"company_name" db:"company_name"`
	RoleName    string    `json:"role_name" db:"role_name"`
	RoundName   *string   `json:"round_name,omitempty" db:"round_name"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// DisplayName returns "Company - Role", or whichever part is set
func (d *Drive) DisplayName() string {
	switch {
	case d.CompanyName != "" && d.RoleName != "":
		return d.CompanyName + " - " + d.RoleName
	case d.CompanyName != "":
		return d.CompanyName
	}
	return d.RoleName
}

// Applicant is a student's application to a drive
type Applicant struct {
	ID     int     `json:"id" db:"student_id"`
	Email  string  `json:"email" db:"email"`
	Name   *string `json:"name,omitempty" db:"full_name"`
	Status string  `json:"status" db:"status"`
	Branch *string `json:"branch,omitempty" db:"branch"`
}

// DisplayName returns the applicant's name with a neutral fallback
func (a *Applicant) DisplayName() string {
	if a.Name != nil {
		if name := strings.TrimSpace(*a.Name); name != "" {
			return name
		}
	}
	return "Student"
}

// Recipient is the point-in-time snapshot of an applicant used for delivery
type Recipient struct {
	ID       int               `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Recipient metadata keys
const (
	MetaApplicationStatus = "application_status"
	MetaBranch            = "branch"
)

// Snapshot captures the fields of the applicant needed at send time
func (a *Applicant) Snapshot() Recipient {
	meta := map[string]string{MetaApplicationStatus: a.Status}
	if a.Branch != nil {
		meta[MetaBranch] = *a.Branch
	}
	return Recipient{
		ID:       a.ID,
		Email:    strings.TrimSpace(a.Email),
		Name:     a.DisplayName(),
		Metadata: meta,
	}
}
