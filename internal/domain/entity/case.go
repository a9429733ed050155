package entity

import "time"

// Case is one work item moving through a workflow (a credentialing request,
// a budget alteration, a portaria, a leave record...).
type Case struct {
	ID           string         `json:"id"`
	WorkflowType string         `json:"workflow_type"`
	Status       string         `json:"status"`
	Fields       map[string]any `json:"fields"`
	AssignedTo   string         `json:"assigned_to,omitempty"`
	Note         string         `json:"note,omitempty"`
	Version      int64          `json:"version"`
	CreatedAt    time.Time      `json:"created_at"`
	UpdatedAt    time.Time      `json:"updated_at"`
}

// Clone returns a copy whose field map can be mutated without touching c.
func (c *Case) Clone() *Case {
	if c == nil {
		return nil
	}
	out := *c
	out.Fields = make(map[string]any, len(c.Fields))
	for k, v := range c.Fields {
		out.Fields[k] = v
	}
	return &out
}

// Field returns a domain field value.
func (c *Case) Field(key string) (any, bool) {
	if c == nil || c.Fields == nil {
		return nil, false
	}
	v, ok := c.Fields[key]
	return v, ok
}

// FieldString returns a string domain field, or "" when absent or not a string.
func (c *Case) FieldString(key string) string {
	v, ok := c.Field(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// MergeFields copies updates into the case field map.
func (c *Case) MergeFields(updates map[string]any) {
	if len(updates) == 0 {
		return
	}
	if c.Fields == nil {
		c.Fields = make(map[string]any, len(updates))
	}
	for k, v := range updates {
		c.Fields[k] = v
	}
}

// IsAssigned reports whether some actor currently owns the case.
func (c *Case) IsAssigned() bool {
	return c.AssignedTo != ""
}
