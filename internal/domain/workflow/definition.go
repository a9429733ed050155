package workflow

import (
	"fmt"
	"sort"

	"github.com/portal-idjuv/casework/internal/domain/entity"
)

// Rule is one (status, action) entry of a transition table together with
// the inputs, authorization and derived effects the action declares.
type Rule struct {
	From         Status
	Action       Action
	To           Status
	Required     []string
	RequireNote  bool
	Roles        []string
	AssigneeOnly bool
	Claim        bool
	Derive       []Derivation
}

// Restricted reports whether the rule declares any actor restriction.
func (r Rule) Restricted() bool {
	return len(r.Roles) > 0 || r.AssigneeOnly
}

// Definition is the static configuration of one workflow type. It is
// immutable once built.
type Definition struct {
	workflowType string
	statuses     []Status
	valid        statusSet
	initial      Status
	terminal     statusSet
	singleClaim  bool
	rules        map[Status]map[Action]Rule
}

// Type returns the workflow-type tag.
func (d *Definition) Type() string {
	return d.workflowType
}

// Statuses returns the ordered status set.
func (d *Definition) Statuses() []Status {
	return append([]Status(nil), d.statuses...)
}

// Initial returns the status new cases start in.
func (d *Definition) Initial() Status {
	return d.initial
}

// IsValid reports whether s belongs to the workflow's status set.
func (d *Definition) IsValid(s Status) bool {
	return d.valid.has(s)
}

// IsTerminal reports whether s is a terminal status.
func (d *Definition) IsTerminal(s Status) bool {
	return d.terminal.has(s)
}

// Terminal returns the terminal statuses in declaration order.
func (d *Definition) Terminal() []Status {
	var out []Status
	for _, s := range d.statuses {
		if d.terminal.has(s) {
			out = append(out, s)
		}
	}
	return out
}

// SingleClaim reports whether only one actor may hold a case at a time.
func (d *Definition) SingleClaim() bool {
	return d.singleClaim
}

// Lookup returns the rule for (from, action).
func (d *Definition) Lookup(from Status, action Action) (Rule, bool) {
	actions, ok := d.rules[from]
	if !ok {
		return Rule{}, false
	}
	rule, ok := actions[action]
	return rule, ok
}

// Actions returns the actions permitted from a status, sorted by name.
func (d *Definition) Actions(from Status) []Action {
	actions := make([]Action, 0, len(d.rules[from]))
	for action := range d.rules[from] {
		actions = append(actions, action)
	}
	sort.Slice(actions, func(i, j int) bool { return actions[i] < actions[j] })
	return actions
}

// Rules returns every rule ordered by source status then action name.
func (d *Definition) Rules() []Rule {
	var out []Rule
	for _, s := range d.statuses {
		for _, action := range d.Actions(s) {
			out = append(out, d.rules[s][action])
		}
	}
	return out
}

// Replay folds an audit trail from the initial status and returns the status
// it reconstructs. Every entry must chain from the previous one and, apart
// from the reserved creation and assignment entries, match the table.
func (d *Definition) Replay(records []*entity.TransitionRecord) (Status, error) {
	if len(records) == 0 {
		return "", fmt.Errorf("replay %s: empty history", d.workflowType)
	}

	first := records[0]
	if !first.IsCreation() || Status(first.NewStatus) != d.initial {
		return "", fmt.Errorf("replay %s: history does not start with creation in %s", d.workflowType, d.initial)
	}

	current := d.initial
	for i, rec := range records[1:] {
		if Status(rec.PreviousStatus) != current {
			return "", fmt.Errorf("replay %s: entry %d starts from %s, expected %s", d.workflowType, i+1, rec.PreviousStatus, current)
		}
		if Action(rec.Action) == ActionAssign {
			if rec.NewStatus != rec.PreviousStatus {
				return "", fmt.Errorf("replay %s: assignment entry %d changed status", d.workflowType, i+1)
			}
			continue
		}
		rule, ok := d.Lookup(current, Action(rec.Action))
		if !ok || Status(rec.NewStatus) != rule.To {
			return "", fmt.Errorf("replay %s: entry %d (%s -> %s via %s) not in table", d.workflowType, i+1, rec.PreviousStatus, rec.NewStatus, rec.Action)
		}
		current = rule.To
	}
	return current, nil
}
