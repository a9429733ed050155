package workflow

import (
	"errors"
	"fmt"
)

// RuleOption decorates a permitted transition.
type RuleOption func(*Rule)

// Requires declares input fields the action needs.
func Requires(fields ...string) RuleOption {
	return func(r *Rule) { r.Required = append(r.Required, fields...) }
}

// RequiresNote makes the free-text note mandatory for the action.
func RequiresNote() RuleOption {
	return func(r *Rule) { r.RequireNote = true }
}

// RestrictTo limits the action to actors holding one of roles.
func RestrictTo(roles ...string) RuleOption {
	return func(r *Rule) { r.Roles = append(r.Roles, roles...) }
}

// AssigneeOnly limits the action to the case's current assignee.
func AssigneeOnly() RuleOption {
	return func(r *Rule) { r.AssigneeOnly = true }
}

// Claims assigns the case to the acting actor as part of the transition.
func Claims() RuleOption {
	return func(r *Rule) { r.Claim = true }
}

// Derives attaches derived-field computations to the action.
func Derives(derivations ...Derivation) RuleOption {
	return func(r *Rule) { r.Derive = append(r.Derive, derivations...) }
}

// Builder accumulates a workflow definition. Problems are collected and
// reported together by Build instead of panicking.
type Builder struct {
	workflowType string
	statuses     []Status
	initial      Status
	terminal     []Status
	singleClaim  bool
	configs      map[Status]*StateConfiguration
	order        []Status
	errs         []error
}

// StateConfiguration configures the transitions leaving one status.
type StateConfiguration struct {
	builder   *Builder
	fromState Status
	rules     map[Action]Rule
}

// NewBuilder starts a definition for workflowType.
func NewBuilder(workflowType string) *Builder {
	return &Builder{
		workflowType: workflowType,
		configs:      make(map[Status]*StateConfiguration),
	}
}

// Statuses declares the ordered status set.
func (b *Builder) Statuses(statuses ...Status) *Builder {
	b.statuses = append(b.statuses, statuses...)
	return b
}

// Initial sets the status new cases start in.
func (b *Builder) Initial(s Status) *Builder {
	b.initial = s
	return b
}

// Terminal marks statuses that permit no further action.
func (b *Builder) Terminal(statuses ...Status) *Builder {
	b.terminal = append(b.terminal, statuses...)
	return b
}

// SingleClaim enables the one-holder-at-a-time policy.
func (b *Builder) SingleClaim() *Builder {
	b.singleClaim = true
	return b
}

// Configure returns the configuration for transitions leaving state.
func (b *Builder) Configure(state Status) *StateConfiguration {
	config, exists := b.configs[state]
	if !exists {
		config = &StateConfiguration{
			builder:   b,
			fromState: state,
			rules:     make(map[Action]Rule),
		}
		b.configs[state] = config
		b.order = append(b.order, state)
	}
	return config
}

// Permit allows action to move the case from the configured status to toState.
func (c *StateConfiguration) Permit(action Action, toState Status, opts ...RuleOption) *StateConfiguration {
	if _, dup := c.rules[action]; dup {
		c.builder.errs = append(c.builder.errs, fmt.Errorf("duplicate action %s from %s", action, c.fromState))
		return c
	}

	rule := Rule{From: c.fromState, Action: action, To: toState}
	for _, opt := range opts {
		opt(&rule)
	}
	c.rules[action] = rule
	return c
}

// Configure switches to another status, allowing fluent chains.
func (c *StateConfiguration) Configure(state Status) *StateConfiguration {
	return c.builder.Configure(state)
}

// Build validates the accumulated table and returns an immutable definition.
func (b *Builder) Build() (*Definition, error) {
	errs := append([]error(nil), b.errs...)

	if b.workflowType == "" {
		errs = append(errs, errors.New("workflow type is empty"))
	}
	if len(b.statuses) == 0 {
		errs = append(errs, errors.New("no statuses declared"))
	}

	valid := make(statusSet, len(b.statuses))
	for _, s := range b.statuses {
		if s == "" {
			errs = append(errs, errors.New("empty status name"))
			continue
		}
		if valid.has(s) {
			errs = append(errs, fmt.Errorf("status %s declared twice", s))
		}
		valid[s] = struct{}{}
	}

	if !valid.has(b.initial) {
		errs = append(errs, fmt.Errorf("initial status %q is not declared", b.initial))
	}

	terminal := newStatusSet(b.terminal...)
	for _, s := range b.terminal {
		if !valid.has(s) {
			errs = append(errs, fmt.Errorf("terminal status %s is not declared", s))
		}
	}

	rules := make(map[Status]map[Action]Rule, len(b.configs))
	for _, from := range b.order {
		config := b.configs[from]
		if !valid.has(from) {
			errs = append(errs, fmt.Errorf("transitions configured from undeclared status %s", from))
			continue
		}
		if terminal.has(from) && len(config.rules) > 0 {
			errs = append(errs, fmt.Errorf("terminal status %s permits actions", from))
			continue
		}
		table := make(map[Action]Rule, len(config.rules))
		for action, rule := range config.rules {
			if action == "" {
				errs = append(errs, fmt.Errorf("empty action from %s", from))
				continue
			}
			if action.IsReserved() {
				errs = append(errs, fmt.Errorf("action %s is reserved", action))
				continue
			}
			if !valid.has(rule.To) {
				errs = append(errs, fmt.Errorf("action %s from %s targets undeclared status %s", action, from, rule.To))
				continue
			}
			table[action] = copyRule(rule)
		}
		if len(table) > 0 {
			rules[from] = table
		}
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("%w %s: %w", ErrInvalidDefinition, b.workflowType, errors.Join(errs...))
	}

	return &Definition{
		workflowType: b.workflowType,
		statuses:     append([]Status(nil), b.statuses...),
		valid:        valid,
		initial:      b.initial,
		terminal:     terminal,
		singleClaim:  b.singleClaim,
		rules:        rules,
	}, nil
}

// MustBuild is Build for tables compiled into the binary.
func (b *Builder) MustBuild() *Definition {
	def, err := b.Build()
	if err != nil {
		panic(err)
	}
	return def
}

func copyRule(r Rule) Rule {
	r.Required = append([]string(nil), r.Required...)
	r.Roles = append([]string(nil), r.Roles...)
	r.Derive = append([]Derivation(nil), r.Derive...)
	return r
}
