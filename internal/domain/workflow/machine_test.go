package workflow

import (
	"context"
	"errors"
	"reflect"
	"testing"
)

func reviewDefinition(t *testing.T) *Definition {
	t.Helper()

	def, err := NewBuilder("review").
		Statuses("novo", "em_analise", "aprovado", "rejeitado").
		Initial("novo").
		Terminal("aprovado", "rejeitado").
		Configure("novo").
		Permit("assumir", "em_analise", Claims()).
		Permit("rejeitar", "rejeitado", RequiresNote()).
		Configure("em_analise").
		Permit("aprovar", "aprovado", AssigneeOnly(), Requires("parecer")).
		Permit("rejeitar", "rejeitado", RequiresNote()).
		Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}
	return def
}

func TestStatus_String(t *testing.T) {
	if got := Status("aguardando").String(); got != "aguardando" {
		t.Errorf("Status.String() = %v, want %v", got, "aguardando")
	}
}

func TestAction_IsReserved(t *testing.T) {
	tests := []struct {
		action   Action
		expected bool
	}{
		{ActionCreated, true},
		{ActionAssign, true},
		{Action("assumir"), false},
		{Action(""), false},
	}

	for _, tt := range tests {
		t.Run(string(tt.action), func(t *testing.T) {
			if got := tt.action.IsReserved(); got != tt.expected {
				t.Errorf("Action.IsReserved() = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestBuilder_Configure(t *testing.T) {
	builder := NewBuilder("review")

	config := builder.Configure("novo")
	if config == nil {
		t.Fatal("Configure() returned nil")
	}

	if config2 := builder.Configure("novo"); config != config2 {
		t.Error("Configure() should return same config for same state")
	}
}

func TestBuilder_BuildRejectsInconsistentTables(t *testing.T) {
	tests := []struct {
		name    string
		builder *Builder
	}{
		{
			name:    "no statuses",
			builder: NewBuilder("x").Initial("a"),
		},
		{
			name:    "undeclared initial",
			builder: NewBuilder("x").Statuses("a", "b").Initial("c"),
		},
		{
			name:    "undeclared target",
			builder: NewBuilder("x").Statuses("a").Initial("a").Configure("a").Permit("go", "z").builder,
		},
		{
			name:    "undeclared source",
			builder: NewBuilder("x").Statuses("a").Initial("a").Configure("q").Permit("go", "a").builder,
		},
		{
			name:    "terminal with outgoing action",
			builder: NewBuilder("x").Statuses("a", "b").Initial("a").Terminal("b").Configure("b").Permit("reopen", "a").builder,
		},
		{
			name:    "reserved action",
			builder: NewBuilder("x").Statuses("a", "b").Initial("a").Configure("a").Permit(ActionAssign, "b").builder,
		},
		{
			name:    "duplicate action",
			builder: NewBuilder("x").Statuses("a", "b").Initial("a").Configure("a").Permit("go", "b").Permit("go", "a").builder,
		},
		{
			name:    "duplicate status",
			builder: NewBuilder("x").Statuses("a", "a").Initial("a"),
		},
		{
			name:    "empty type",
			builder: NewBuilder("").Statuses("a").Initial("a"),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			def, err := tt.builder.Build()
			if err == nil {
				t.Fatal("Build() should fail")
			}
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("Build() error = %v, want %v", err, ErrInvalidDefinition)
			}
			if def != nil {
				t.Error("Build() should not return a definition on error")
			}
		})
	}
}

func TestBuilder_BuildIsolatesDefinitionFromBuilder(t *testing.T) {
	builder := NewBuilder("x").Statuses("a", "b").Initial("a")
	builder.Configure("a").Permit("go", "b", Requires("f"))

	def, err := builder.Build()
	if err != nil {
		t.Fatalf("Build() failed: %v", err)
	}

	rule, _ := def.Lookup("a", "go")
	rule.Required[0] = "mutated"

	again, _ := def.Lookup("a", "go")
	if again.Required[0] != "f" {
		t.Errorf("definition rule mutated through lookup copy: %v", again.Required)
	}
}

func TestMachine_Fire(t *testing.T) {
	def := reviewDefinition(t)
	machine := NewMachine(def, "novo")

	if !machine.CanFire("assumir") {
		t.Error("CanFire() should return true for permitted action")
	}

	rule, err := machine.Fire(context.Background(), "assumir")
	if err != nil {
		t.Fatalf("Fire() failed: %v", err)
	}
	if !rule.Claim {
		t.Error("assumir rule should claim the case")
	}
	if machine.State() != "em_analise" {
		t.Errorf("State after Fire() = %v, want %v", machine.State(), "em_analise")
	}
}

func TestMachine_FireIllegal(t *testing.T) {
	def := reviewDefinition(t)
	machine := NewMachine(def, "novo")

	_, err := machine.Fire(context.Background(), "aprovar")
	if !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrIllegalTransition)
	}
	if machine.State() != "novo" {
		t.Errorf("State should remain novo after failed Fire(), got %v", machine.State())
	}
}

func TestMachine_FireFromTerminal(t *testing.T) {
	def := reviewDefinition(t)
	machine := NewMachine(def, "aprovado")

	if len(machine.PermittedActions()) != 0 {
		t.Errorf("terminal status should permit nothing, got %v", machine.PermittedActions())
	}
	if _, err := machine.Fire(context.Background(), "rejeitar"); !errors.Is(err, ErrIllegalTransition) {
		t.Errorf("Fire() error = %v, want %v", err, ErrIllegalTransition)
	}
}

func TestMachine_FireCancelledContext(t *testing.T) {
	def := reviewDefinition(t)
	machine := NewMachine(def, "novo")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := machine.Fire(ctx, "assumir"); !errors.Is(err, context.Canceled) {
		t.Errorf("Fire() error = %v, want %v", err, context.Canceled)
	}
}

func TestMachine_PermittedActionsSorted(t *testing.T) {
	def := reviewDefinition(t)
	machine := NewMachine(def, "novo")

	want := []Action{"assumir", "rejeitar"}
	if got := machine.PermittedActions(); !reflect.DeepEqual(got, want) {
		t.Errorf("PermittedActions() = %v, want %v", got, want)
	}
}

func TestDefinition_Accessors(t *testing.T) {
	def := reviewDefinition(t)

	if def.Type() != "review" {
		t.Errorf("Type() = %v", def.Type())
	}
	if def.Initial() != "novo" {
		t.Errorf("Initial() = %v", def.Initial())
	}
	if !def.IsValid("em_analise") || def.IsValid("bogus") {
		t.Error("IsValid() mismatch")
	}
	if !def.IsTerminal("aprovado") || def.IsTerminal("novo") {
		t.Error("IsTerminal() mismatch")
	}
	if got := def.Terminal(); !reflect.DeepEqual(got, []Status{"aprovado", "rejeitado"}) {
		t.Errorf("Terminal() = %v", got)
	}
	if got := len(def.Rules()); got != 4 {
		t.Errorf("Rules() returned %d rules, want 4", got)
	}
}
