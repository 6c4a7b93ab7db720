package service

import (
	"html"
	"strings"
	"time"

	"placementmail/internal/models"
)

// Template variables available to every block
const (
	VarStudentName       = "student_name"
	VarFirstName         = "first_name"
	VarEmail             = "email"
	VarBranch            = "branch"
	VarApplicationStatus = "application_status"
	VarCompanyName       = "company_name"
	VarRoleName          = "role_name"
	VarDriveName         = "drive_name"
	VarRoundName         = "round_name"
	VarDate              = "date"
)

// DateLayout is how {{date}} is rendered
const DateLayout = "02 Jan 2006"

// TemplateService renders {{name}} placeholders. Unknown placeholders are
// left in place; an unterminated "{{" is an error.
type TemplateService struct{}

// NewTemplateService creates a new template service
func NewTemplateService() *TemplateService {
	return &TemplateService{}
}

// Render substitutes vars into template
func (s *TemplateService) Render(template string, vars map[string]string) (string, error) {
	return render(template, vars, func(v string) string { return v })
}

// RenderHTML is Render with substituted values HTML-escaped. The template
// text itself is trusted.
func (s *TemplateService) RenderHTML(template string, vars map[string]string) (string, error) {
	return render(template, vars, html.EscapeString)
}

// ValidateTemplate reports a RenderError for malformed templates
func (s *TemplateService) ValidateTemplate(template string) error {
	_, err := s.Render(template, nil)
	return err
}

// GetPlaceholders returns the distinct placeholder names in order of first use
func (s *TemplateService) GetPlaceholders(template string) []string {
	seen := map[string]bool{}
	names := []string{}
	walkPlaceholders(template, func(_, _ int, name string) {
		if isIdentifier(name) && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	})
	return names
}

// UnknownPlaceholders returns placeholder names in template with no value in vars
func (s *TemplateService) UnknownPlaceholders(template string, vars map[string]string) []string {
	unknown := []string{}
	for _, name := range s.GetPlaceholders(template) {
		if _, ok := vars[name]; !ok {
			unknown = append(unknown, name)
		}
	}
	return unknown
}

func render(template string, vars map[string]string, escape func(string) string) (string, error) {
	var b strings.Builder
	b.Grow(len(template))

	last := 0
	err := walkPlaceholders(template, func(start, end int, name string) {
		b.WriteString(template[last:start])
		if value, ok := vars[name]; ok && isIdentifier(name) {
			b.WriteString(escape(value))
		} else {
			b.WriteString(template[start:end])
		}
		last = end
	})
	if err != nil {
		return "", err
	}

	b.WriteString(template[last:])
	return b.String(), nil
}

// walkPlaceholders calls fn for every {{...}} span with its byte range and
// trimmed inner text.
func walkPlaceholders(template string, fn func(start, end int, name string)) error {
	i := 0
	for {
		open := strings.Index(template[i:], "{{")
		if open < 0 {
			return nil
		}
		open += i

		closing := strings.Index(template[open+2:], "}}")
		if closing < 0 {
			return &RenderError{Offset: open, Reason: "unterminated placeholder"}
		}
		end := open + 2 + closing + 2

		fn(open, end, strings.TrimSpace(template[open+2:end-2]))
		i = end
	}
}

func isIdentifier(name string) bool {
	if name == "" {
		return false
	}
	for i, r := range name {
		switch {
		case r == '_', r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case i > 0 && r >= '0' && r <= '9':
		default:
			return false
		}
	}
	return true
}

// BuildVariables snapshots the variables of one recipient of a drive
func BuildVariables(recipient models.Recipient, drive *models.Drive) map[string]string {
	vars := map[string]string{
		VarStudentName: recipient.Name,
		VarFirstName:   firstName(recipient.Name),
		VarEmail:       recipient.Email,
	}
	for _, key := range []string{models.MetaBranch, models.MetaApplicationStatus} {
		if v, ok := recipient.Metadata[key]; ok {
			vars[key] = v
		}
	}

	if drive != nil {
		vars[VarCompanyName] = drive.CompanyName
		vars[VarRoleName] = drive.RoleName
		vars[VarDriveName] = drive.DisplayName()
		if drive.RoundName != nil {
			vars[VarRoundName] = *drive.RoundName
		}
	}

	return vars
}

// WithDate returns a copy of vars with {{date}} set to now
func WithDate(vars map[string]string, now time.Time) map[string]string {
	out := make(map[string]string, len(vars)+1)
	for k, v := range vars {
		out[k] = v
	}
	out[VarDate] = now.Format(DateLayout)
	return out
}

func firstName(name string) string {
	if fields := strings.Fields(name); len(fields) > 0 {
		return fields[0]
	}
	return name
}
