package domain

import (
	"encoding/json"
	"strconv"
	"strings"
)

// Project is a single GSS project record as exported from the ArcGIS
// projects table. Attribute names follow the source table.
type Project map[string]any

// Attribute names used by the portal.
const (
	FieldID            = "Project_ID"
	FieldName          = "Project_Name"
	FieldNumber        = "Project_Number"
	FieldStatus        = "Project_Status"
	FieldTeamLead      = "Project_Team_Lead"
	FieldTeamMember    = "Team_Member"
	FieldTeamMembers   = "Team_Members"
	FieldClientName    = "Client_Name"
	FieldClientEmail   = "Client_Email"
	FieldMinistry      = "Ministry"
	FieldPriority      = "Priority_Level"
	FieldDescription   = "Description"
	FieldDateRequired  = "Date_Required"
	FieldRequiredDate  = "Required_Date"
	FieldDateRequested = "Date_Requested"
)

// ID returns the project identifier. Numeric identifiers are rendered
// without a fractional part.
func (p Project) ID() string { return p.String(FieldID) }

// Name returns the project name.
func (p Project) Name() string { return p.String(FieldName) }

// Number returns the GSS project number.
func (p Project) Number() string { return p.String(FieldNumber) }

// Status returns the status recorded in the source data.
func (p Project) Status() string { return p.String(FieldStatus) }

// Lead returns the project lead, falling back to the single team member field.
func (p Project) Lead() string {
	if lead := p.String(FieldTeamLead); lead != "" && lead != "N/A" {
		return lead
	}
	if lead := p.String(FieldTeamMember); lead != "N/A" {
		return lead
	}
	return ""
}

func (p Project) ClientName() string  { return p.String(FieldClientName) }
func (p Project) ClientEmail() string { return p.String(FieldClientEmail) }
func (p Project) Ministry() string    { return p.String(FieldMinistry) }
func (p Project) Description() string { return p.String(FieldDescription) }

// Priority returns the priority level, "Normal" when unset.
func (p Project) Priority() string {
	if v := p.String(FieldPriority); v != "" {
		return v
	}
	return "Normal"
}

// DueValue returns the raw due date attribute.
func (p Project) DueValue() any {
	if v, ok := p[FieldDateRequired]; ok && !isEmpty(v) {
		return v
	}
	return p[FieldRequiredDate]
}

// RequestedValue returns the raw request date attribute.
func (p Project) RequestedValue() any { return p[FieldDateRequested] }

// String returns the attribute as a trimmed string. Missing and null
// attributes yield "".
func (p Project) String(key string) string {
	return stringify(p[key])
}

// DisplayName renders "<number>: <name>" as used in lists.
func (p Project) DisplayName() string {
	number := p.Number()
	if number == "" {
		number = "N/A"
	}
	name := p.Name()
	if name == "" {
		name = "Unnamed Project"
	}
	return number + ": " + name
}

// TeamMember is one assigned resource on a project.
type TeamMember struct {
	Name       string `json:"Resource_Name"`
	Email      string `json:"Resource_Contact_Email,omitempty"`
	Team       string `json:"Resource_Team,omitempty"`
	Leadership string `json:"Resource_Leadership,omitempty"`
}

// TeamMembers decodes the Team_Members attribute. It accepts a list of
// resource objects, a list of names, or a comma separated string.
func (p Project) TeamMembers() []TeamMember {
	var members []TeamMember
	switch v := p[FieldTeamMembers].(type) {
	case []any:
		for _, item := range v {
			switch m := item.(type) {
			case string:
				if name := strings.TrimSpace(m); name != "" {
					members = append(members, TeamMember{Name: name})
				}
			case map[string]any:
				name := stringify(m["Resource_Name"])
				if name == "" {
					continue
				}
				members = append(members, TeamMember{
					Name:       name,
					Email:      stringify(m["Resource_Contact_Email"]),
					Team:       stringify(m["Resource_Team"]),
					Leadership: stringify(m["Resource_Leadership"]),
				})
			}
		}
	case []TeamMember:
		members = append(members, v...)
	case string:
		for _, name := range strings.Split(v, ",") {
			if name = strings.TrimSpace(name); name != "" {
				members = append(members, TeamMember{Name: name})
			}
		}
	}
	return members
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case json.Number:
		return t.String()
	case bool:
		return strconv.FormatBool(t)
	default:
		return ""
	}
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		s := strings.TrimSpace(t)
		return s == "" || s == "None"
	case float64:
		return t == 0
	}
	return false
}
