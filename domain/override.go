package domain

import (
	"encoding/json"
	"time"
)

// StatusOverride holds the portal-side edits for one project: a status that
// supersedes the source status, free-form notes and coordinator actions.
type StatusOverride struct {
	Status         string `json:"status,omitempty"`
	UpdatedBy      string `json:"updated_by,omitempty"`
	UpdatedAt      string `json:"updated_at,omitempty"`
	OriginalStatus string `json:"original_status,omitempty"`

	Notes          string `json:"notes,omitempty"`
	NotesUpdatedBy string `json:"notes_updated_by,omitempty"`
	NotesUpdatedAt string `json:"notes_updated_at,omitempty"`

	CoordinatorActions          string `json:"coordinator_actions,omitempty"`
	CoordinatorActionsUpdatedBy string `json:"coordinator_actions_updated_by,omitempty"`
	CoordinatorActionsUpdatedAt string `json:"coordinator_actions_updated_at,omitempty"`

	// Extra keeps attributes written by other tools.
	Extra map[string]json.RawMessage `json:"-"`
}

var overrideKeys = map[string]struct{}{
	"status": {}, "updated_by": {}, "updated_at": {}, "original_status": {},
	"notes": {}, "notes_updated_by": {}, "notes_updated_at": {},
	"coordinator_actions": {}, "coordinator_actions_updated_by": {}, "coordinator_actions_updated_at": {},
}

type overrideAlias StatusOverride

// UnmarshalJSON decodes the known fields and retains the rest in Extra.
func (o *StatusOverride) UnmarshalJSON(data []byte) error {
	var known overrideAlias
	if err := json.Unmarshal(data, &known); err != nil {
		return err
	}
	var all map[string]json.RawMessage
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	*o = StatusOverride(known)
	for k, v := range all {
		if _, ok := overrideKeys[k]; ok {
			continue
		}
		if o.Extra == nil {
			o.Extra = make(map[string]json.RawMessage)
		}
		o.Extra[k] = v
	}
	return nil
}

// MarshalJSON writes the known fields merged with Extra.
func (o StatusOverride) MarshalJSON() ([]byte, error) {
	known, err := json.Marshal(overrideAlias(o))
	if err != nil {
		return nil, err
	}
	if len(o.Extra) == 0 {
		return known, nil
	}
	merged := make(map[string]json.RawMessage, len(o.Extra)+10)
	for k, v := range o.Extra {
		merged[k] = v
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(known, &fields); err != nil {
		return nil, err
	}
	for k, v := range fields {
		merged[k] = v
	}
	return json.Marshal(merged)
}

// IsEmpty reports whether the override carries no portal data.
func (o StatusOverride) IsEmpty() bool {
	return o.Status == "" && o.Notes == "" && o.CoordinatorActions == "" && len(o.Extra) == 0
}

// SetStatus records a status change made by editor at now.
func (o *StatusOverride) SetStatus(status, editor, original string, now time.Time) {
	o.Status = status
	o.UpdatedBy = editor
	o.UpdatedAt = now.Format(time.RFC3339)
	o.OriginalStatus = original
}

// ClearStatus drops the status override and its audit fields.
func (o *StatusOverride) ClearStatus() {
	o.Status = ""
	o.UpdatedBy = ""
	o.UpdatedAt = ""
	o.OriginalStatus = ""
}

// SetNotes records new notes.
func (o *StatusOverride) SetNotes(notes, editor string, now time.Time) {
	o.Notes = notes
	o.NotesUpdatedBy = editor
	o.NotesUpdatedAt = now.Format(time.RFC3339)
}

// SetActions records new coordinator actions.
func (o *StatusOverride) SetActions(actions, editor string, now time.Time) {
	o.CoordinatorActions = actions
	o.CoordinatorActionsUpdatedBy = editor
	o.CoordinatorActionsUpdatedAt = now.Format(time.RFC3339)
}

// Overrides maps project IDs to their overrides.
type Overrides map[string]StatusOverride

// Clone returns a copy safe to mutate.
func (o Overrides) Clone() Overrides {
	out := make(Overrides, len(o))
	for k, v := range o {
		if v.Extra != nil {
			extra := make(map[string]json.RawMessage, len(v.Extra))
			for ek, ev := range v.Extra {
				extra[ek] = ev
			}
			v.Extra = extra
		}
		out[k] = v
	}
	return out
}

// EffectiveStatus returns the override status when set, the source status
// otherwise, and "Unknown" when neither exists.
func EffectiveStatus(p Project, o Overrides) string {
	if ov, ok := o[p.ID()]; ok && ov.Status != "" {
		return ov.Status
	}
	if s := p.Status(); s != "" {
		return s
	}
	return "Unknown"
}
