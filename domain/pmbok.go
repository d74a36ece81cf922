package domain

import (
	"math"
	"strings"
	"time"
)

// PMBOK process groups.
const (
	PhaseInitiating = "initiating"
	PhasePlanning   = "planning"
	PhaseExecuting  = "executing"
	PhaseMonitoring = "monitoring"
	PhaseClosing    = "closing"
)

// ProcessGroup pairs a phase key with its display name.
type ProcessGroup struct {
	Key     string `json:"key"`
	Name    string `json:"name"`
	Tooltip string `json:"tooltip"`
}

// ProcessGroups lists the PMBOK process groups in lifecycle order.
var ProcessGroups = []ProcessGroup{
	{PhaseInitiating, "Initiating", "Projects in the early startup phase, defining project scope, objectives, and stakeholders"},
	{PhasePlanning, "Planning", "Projects developing detailed project management plans, schedules, budgets, and resource allocation"},
	{PhaseExecuting, "Executing", "Projects actively performing the work defined in the project management plan"},
	{PhaseMonitoring, "Monitoring & Controlling", "Projects tracking progress, managing changes, and ensuring deliverables meet quality standards"},
	{PhaseClosing, "Closing", "Projects completing final deliverables, obtaining stakeholder approval, and formal project closure"},
}

// PhaseName returns the display name for a process group key.
func PhaseName(key string) string {
	for _, g := range ProcessGroups {
		if g.Key == key {
			return g.Name
		}
	}
	return key
}

// KnowledgeAreas are the ten PMBOK knowledge areas shown on analysis pages.
var KnowledgeAreas = []struct {
	Key  string
	Name string
}{
	{"integration", "Project Integration Management"},
	{"scope", "Project Scope Management"},
	{"schedule", "Project Schedule Management"},
	{"cost", "Project Cost Management"},
	{"quality", "Project Quality Management"},
	{"resource", "Project Resource Management"},
	{"communications", "Project Communications Management"},
	{"risk", "Project Risk Management"},
	{"procurement", "Project Procurement Management"},
	{"stakeholder", "Project Stakeholder Management"},
}

// Phase infers the process group from a status and the request date.
// Recently assigned work (two weeks) is still initiating.
func Phase(p Project, status string, now time.Time) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case "assigned":
		requested, ok := ParseDate(p.RequestedValue(), now.Location())
		if !ok {
			return PhasePlanning
		}
		if wholeDays(now.Sub(requested)) <= 14 {
			return PhaseInitiating
		}
		return PhaseExecuting
	case "in progress":
		return PhaseExecuting
	case "completed":
		return PhaseClosing
	case "on hold":
		return PhaseMonitoring
	default:
		return PhaseInitiating
	}
}

// Schedule health values.
const (
	HealthGreen  = "green"
	HealthYellow = "yellow"
	HealthRed    = "red"
	HealthGray   = "gray"
)

// SchedulePerformance summarises a project's position against its dates.
type SchedulePerformance struct {
	Status        string  `json:"status"`
	Health        string  `json:"health"`
	Known         bool    `json:"known"`
	SPI           float64 `json:"spi"`
	VarianceDays  int     `json:"variance_days"`
	TotalDays     int     `json:"total_duration"`
	ElapsedDays   int     `json:"elapsed_duration"`
	RemainingDays int     `json:"remaining_duration"`
}

// Schedule computes the schedule performance index and health. Progress is
// assumed linear, so SPI only drops below 1 once the plan is exceeded.
func Schedule(p Project, now time.Time) SchedulePerformance {
	start, okStart := ParseDate(p.RequestedValue(), now.Location())
	end, okEnd := ParseDate(p.DueValue(), now.Location())
	if !okStart || !okEnd {
		return SchedulePerformance{Status: "Unknown", Health: HealthGray}
	}

	total := wholeDays(end.Sub(start))
	elapsed := wholeDays(now.Sub(start))
	remaining := wholeDays(end.Sub(now))

	spi := 1.0
	if total > 0 {
		planned := float64(elapsed) / float64(total)
		if planned > 0 {
			spi = math.Min(planned, 1.0) / planned
		}
	}
	spi = math.Round(spi*100) / 100

	sp := SchedulePerformance{
		Known:         true,
		SPI:           spi,
		VarianceDays:  remaining,
		TotalDays:     total,
		ElapsedDays:   elapsed,
		RemainingDays: remaining,
	}
	switch {
	case remaining < 0:
		sp.Status, sp.Health = "Overdue", HealthRed
	case remaining <= 7:
		sp.Status, sp.Health = "At Risk", HealthYellow
	case spi < 0.9:
		sp.Status, sp.Health = "Behind Schedule", HealthYellow
	default:
		sp.Status, sp.Health = "On Track", HealthGreen
	}
	return sp
}

// Risk levels.
const (
	RiskLow    = "Low"
	RiskMedium = "Medium"
	RiskHigh   = "High"
)

// RiskAssessment is the scored risk level of a project.
type RiskAssessment struct {
	Level string `json:"level"`
	Color string `json:"color"`
	Score int    `json:"score"`
}

// Risk scores schedule health, priority and team size.
func Risk(p Project, now time.Time) RiskAssessment {
	score := 0
	switch Schedule(p, now).Health {
	case HealthRed:
		score += 3
	case HealthYellow:
		score += 2
	}
	switch strings.ToLower(p.Priority()) {
	case "urgent":
		score += 2
	case "high":
		score++
	}
	// the coordinator counts towards team size
	team := len(p.TeamMembers()) + 1
	if team == 1 || team > 4 {
		score++
	}
	switch {
	case score >= 5:
		return RiskAssessment{RiskHigh, "red", score}
	case score >= 3:
		return RiskAssessment{RiskMedium, "yellow", score}
	default:
		return RiskAssessment{RiskLow, "green", score}
	}
}

// Stakeholder is one party in the stakeholder register.
type Stakeholder struct {
	Name      string `json:"name"`
	Role      string `json:"role"`
	Influence string `json:"influence"`
	Interest  string `json:"interest"`
}

// Stakeholders is the stakeholder register of a project.
type Stakeholders struct {
	Primary   []Stakeholder `json:"primary"`
	Secondary []Stakeholder `json:"secondary"`
	Internal  []Stakeholder `json:"internal"`
	External  []Stakeholder `json:"external"`
}

// AnalyzeStakeholders builds the register. Everyone is internal when the
// client is a government address.
func AnalyzeStakeholders(p Project, coordinator string) Stakeholders {
	var s Stakeholders
	if client := p.ClientName(); client != "" {
		s.Primary = append(s.Primary, Stakeholder{client, "Project Sponsor/Client", "High", "High"})
	}
	s.Primary = append(s.Primary, Stakeholder{coordinator, "Project Manager/Coordinator", "High", "High"})
	for _, m := range p.TeamMembers() {
		s.Primary = append(s.Primary, Stakeholder{m.Name, "Team Member", "Medium", "High"})
	}
	if ministry := p.Ministry(); ministry != "" {
		s.Secondary = append(s.Secondary, Stakeholder{ministry, "Ministry/Department", "Medium", "Medium"})
	}
	gov := strings.Contains(p.ClientEmail(), "gov.bc.ca")
	for _, group := range [][]Stakeholder{s.Primary, s.Secondary} {
		for _, st := range group {
			if gov || strings.Contains(st.Role, "Ministry") {
				s.Internal = append(s.Internal, st)
			} else {
				s.External = append(s.External, st)
			}
		}
	}
	return s
}

// TeamList returns display names with the lead first, de-duplicated. A
// project without a lead is led by the coordinator.
func TeamList(p Project, coordinator string) []string {
	lead := p.Lead()
	if lead == "" {
		lead = coordinator
	}
	var names []string
	if lead != "" {
		names = append(names, lead+" (Lead)")
	}
	for _, m := range p.TeamMembers() {
		names = append(names, m.Name)
	}
	seen := make(map[string]struct{}, len(names))
	out := names[:0]
	for _, n := range names {
		if _, ok := seen[n]; ok {
			continue
		}
		seen[n] = struct{}{}
		out = append(out, n)
	}
	if len(out) == 0 {
		return []string{coordinator + " (Lead)"}
	}
	return out
}
