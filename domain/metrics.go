package domain

import "time"

// PortfolioMetrics aggregates process group, risk and schedule counts.
type PortfolioMetrics struct {
	Total          int            `json:"total_projects"`
	ProcessGroups  map[string]int `json:"process_groups"`
	RiskLevels     map[string]int `json:"risk_levels"`
	ScheduleHealth map[string]int `json:"schedule_health"`
	Overdue        int            `json:"overdue_projects"`
	AtRisk         int            `json:"at_risk_projects"`
	Unscheduled    int            `json:"unscheduled_projects"`
	OnTrack        int            `json:"on_track_projects"`
}

// Metrics computes portfolio metrics. status returns the effective status
// used for phase inference.
func Metrics(projects []Project, status func(Project) string, now time.Time) PortfolioMetrics {
	m := PortfolioMetrics{
		Total:          len(projects),
		ProcessGroups:  make(map[string]int, len(ProcessGroups)),
		RiskLevels:     map[string]int{RiskLow: 0, RiskMedium: 0, RiskHigh: 0},
		ScheduleHealth: map[string]int{HealthGreen: 0, HealthYellow: 0, HealthRed: 0, HealthGray: 0},
	}
	for _, g := range ProcessGroups {
		m.ProcessGroups[g.Key] = 0
	}
	for _, p := range projects {
		m.ProcessGroups[Phase(p, status(p), now)]++
		m.RiskLevels[Risk(p, now).Level]++

		sp := Schedule(p, now)
		m.ScheduleHealth[sp.Health]++
		switch {
		case !sp.Known:
			m.Unscheduled++
		case sp.RemainingDays < 0:
			m.Overdue++
		case sp.RemainingDays <= 7:
			m.AtRisk++
		}
	}
	m.OnTrack = m.Total - m.Overdue - m.AtRisk - m.Unscheduled
	return m
}
