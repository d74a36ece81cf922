package domain

import (
	"errors"
	"strings"
)

// ErrUnknownCategory is returned for status category keys outside the catalog.
var ErrUnknownCategory = errors.New("unknown status category")

// Category keys.
const (
	CategoryNotAssigned       = "not_assigned"
	CategoryNotStarted        = "not_started"
	CategoryInProgress        = "in_progress"
	CategoryAwaitingClient    = "awaiting_client"
	CategoryAwaitingResources = "awaiting_resources"
	CategoryOnHold            = "on_hold"
	CategoryQualityReview     = "quality_review"
	CategoryCompleted         = "completed"
	CategoryCancelled         = "cancelled"
)

// StatusCategory groups project statuses into a lifecycle stage.
type StatusCategory struct {
	Key         string   `json:"key"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Color       string   `json:"color"`
	Icon        string   `json:"icon"`
	Statuses    []string `json:"statuses"`
}

// Catalog is an ordered set of status categories. Order matters: the first
// category listing a status wins.
type Catalog []StatusCategory

// DefaultCatalog returns the built-in lifecycle categories.
func DefaultCatalog() Catalog {
	return Catalog{
		{CategoryNotAssigned, "Not Assigned", "Projects without assigned team members or lead", "red", "person_off",
			[]string{"Not Assigned", "Unassigned", "Pending Assignment"}},
		{CategoryNotStarted, "Not Started", "Projects assigned but work not yet begun", "gray", "schedule",
			[]string{"Assigned", "New", "Queued"}},
		{CategoryInProgress, "In Progress", "Active project work underway", "blue", "play_arrow",
			[]string{"In Progress", "Active", "Working"}},
		{CategoryAwaitingClient, "Awaiting Client Feedback", "Waiting for client input or approval", "yellow", "feedback",
			[]string{"Awaiting Client Feedback", "Client Review", "Pending Client"}},
		{CategoryAwaitingResources, "Awaiting Resources", "Blocked waiting for team members or tools", "orange", "people",
			[]string{"Awaiting Resources", "Resource Blocked", "Team Unavailable"}},
		{CategoryOnHold, "On Hold", "Temporarily paused projects", "red", "pause",
			[]string{"On Hold", "Paused", "Suspended"}},
		{CategoryQualityReview, "Quality Review", "Under quality assurance or technical review", "purple", "fact_check",
			[]string{"Quality Review", "QA Review", "Technical Review"}},
		{CategoryCompleted, "Completed", "Successfully completed projects", "green", "check_circle",
			[]string{"Completed", "Done", "Finished", "Delivered"}},
		{CategoryCancelled, "Cancelled", "Cancelled or terminated projects", "gray", "cancel",
			[]string{"Cancelled", "Terminated", "Discontinued"}},
	}
}

// Merge replaces categories in c by key with the non-empty fields of
// overrides. Overrides with unknown keys are appended.
func (c Catalog) Merge(overrides []StatusCategory) Catalog {
	out := make(Catalog, len(c))
	copy(out, c)
	for _, o := range overrides {
		idx := -1
		for i := range out {
			if out[i].Key == o.Key {
				idx = i
				break
			}
		}
		if idx < 0 {
			out = append(out, o)
			continue
		}
		cur := out[idx]
		if o.Name != "" {
			cur.Name = o.Name
		}
		if o.Description != "" {
			cur.Description = o.Description
		}
		if o.Color != "" {
			cur.Color = o.Color
		}
		if o.Icon != "" {
			cur.Icon = o.Icon
		}
		if len(o.Statuses) > 0 {
			cur.Statuses = append([]string(nil), o.Statuses...)
		}
		out[idx] = cur
	}
	return out
}

// Lookup returns the category with the given key.
func (c Catalog) Lookup(key string) (StatusCategory, error) {
	for _, cat := range c {
		if cat.Key == key {
			return cat, nil
		}
	}
	return StatusCategory{}, ErrUnknownCategory
}

var categoryKeywords = []struct {
	key   string
	words []string
}{
	{CategoryInProgress, []string{"progress", "active", "working"}},
	{CategoryAwaitingClient, []string{"client", "feedback", "review"}},
	{CategoryOnHold, []string{"hold", "pause", "suspend"}},
	{CategoryCompleted, []string{"complete", "done", "finish"}},
	{CategoryCancelled, []string{"cancel", "terminate"}},
}

// Classify maps a status to a category key. Exact aliases win over keyword
// inference; anything unrecognised is not_started.
func (c Catalog) Classify(status string) string {
	status = strings.TrimSpace(status)
	if status == "" {
		return CategoryNotStarted
	}
	for _, cat := range c {
		for _, s := range cat.Statuses {
			if s == status {
				return cat.Key
			}
		}
	}
	lower := strings.ToLower(status)
	for _, kw := range categoryKeywords {
		for _, w := range kw.words {
			if strings.Contains(lower, w) {
				return kw.key
			}
		}
	}
	return CategoryNotStarted
}

// StatusOptions lists every alias in catalog order, for edit forms.
func (c Catalog) StatusOptions() []string {
	var opts []string
	seen := make(map[string]struct{})
	for _, cat := range c {
		for _, s := range cat.Statuses {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			opts = append(opts, s)
		}
	}
	return opts
}

var colorClasses = map[string]string{
	"slate":  "bg-slate-500",
	"gray":   "bg-gray-500",
	"blue":   "bg-blue-500",
	"yellow": "bg-yellow-500",
	"orange": "bg-orange-500",
	"red":    "bg-red-500",
	"purple": "bg-purple-500",
	"green":  "bg-green-500",
}

// ColorClass returns the badge class for a status.
func (c Catalog) ColorClass(status string) string {
	cat, err := c.Lookup(c.Classify(status))
	if err != nil {
		return "bg-gray-500"
	}
	if cls, ok := colorClasses[cat.Color]; ok {
		return cls
	}
	return "bg-gray-500"
}
