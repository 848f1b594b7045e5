// Package sop loads, resolves, and policy-checks Standard Operating
// Procedures: declarative, versioned records describing which events a
// procedure applies to, what steps it prescribes, and how much of those
// steps may run unattended.
package sop

// AutomationLevel classifies how much of a step's work may proceed without
// a human.
type AutomationLevel string

const (
	AutomationFull     AutomationLevel = "full"
	AutomationAssisted AutomationLevel = "assisted"
	AutomationManual   AutomationLevel = "manual"
)

// Metadata is the human-facing description of a procedure.
type Metadata struct {
	Name        string `yaml:"name" validate:"required"`
	Description string `yaml:"description,omitempty"`
	Owner       string `yaml:"owner,omitempty"`
}

// Preconditions gate whether a procedure applies to a given event.
// Zero-valued fields are not applied as filters, matching the event
// store's Filter convention in pkg/store.
type Preconditions struct {
	EventTypes  []string          `yaml:"event_types,omitempty"`
	EntityTypes []string          `yaml:"entity_types,omitempty"`
	Tiers       []string          `yaml:"tiers,omitempty"`
	ServiceType []string          `yaml:"service_types,omitempty"`
	BudgetMin   *float64          `yaml:"budget_min,omitempty"`
	BudgetMax   *float64          `yaml:"budget_max,omitempty"`
	Predicates  map[string]string `yaml:"predicates,omitempty"`
}

// TimeRestriction narrows automation_policy to a window of the week.
type TimeRestriction struct {
	Days      []string `yaml:"days,omitempty"`
	StartHour int      `yaml:"start_hour,omitempty" validate:"gte=0,lte=23"`
	EndHour   int      `yaml:"end_hour,omitempty" validate:"gte=0,lte=23"`
}

// AutomationPolicy bounds what a procedure's steps may do unattended.
type AutomationPolicy struct {
	AllowedActions      []string         `yaml:"allowed_actions,omitempty"`
	ForbiddenActions    []string         `yaml:"forbidden_actions,omitempty"`
	ConfidenceThreshold float64          `yaml:"confidence_threshold" validate:"gte=0,lte=1"`
	FinancialLimit      float64          `yaml:"financial_limit,omitempty" validate:"gte=0"`
	DualApproval        bool             `yaml:"dual_approval,omitempty"`
	TimeRestrictions    *TimeRestriction `yaml:"time_restrictions,omitempty"`
}

// Step is one unit of prescribed work within a procedure.
type Step struct {
	ID               string          `yaml:"id" validate:"required"`
	AutomationLevel  AutomationLevel `yaml:"automation_level" validate:"required,oneof=full assisted manual"`
	ResponsibleAgent string          `yaml:"responsible_agent,omitempty"`
	RequiresHuman    bool            `yaml:"requires_human,omitempty"`
	TimeoutHours     float64         `yaml:"timeout_hours,omitempty" validate:"gte=0"`
	Actions          []string        `yaml:"actions,omitempty"`
	FailureHandling  string          `yaml:"failure_handling,omitempty"`
}

// EscalationRule names the reaction when trigger fires during execution of
// a procedure (e.g. a step timeout, a repeated failure).
type EscalationRule struct {
	Trigger     string `yaml:"trigger" validate:"required"`
	RequestType string `yaml:"request_type,omitempty"`
	Reason      string `yaml:"reason,omitempty"`
}

// Metrics names the targets a procedure is measured against; purely
// descriptive, not enforced by the registry itself.
type Metrics struct {
	Targets map[string]float64 `yaml:"targets,omitempty"`
}

// Definition is one version of a procedure. ID is stable across versions;
// Version increments with each Propose. Only one version per ID is Active
// at a time, but superseded versions are kept, never destroyed: a new
// version supersedes the prior one without destroying it.
type Definition struct {
	ID               string           `yaml:"id" validate:"required"`
	Version          int              `yaml:"version" validate:"required,min=1"`
	Metadata         Metadata         `yaml:"metadata"`
	Preconditions    Preconditions    `yaml:"preconditions"`
	Steps            []Step           `yaml:"steps" validate:"required,min=1,dive"`
	AutomationPolicy AutomationPolicy `yaml:"automation_policy"`
	EscalationRules  []EscalationRule `yaml:"escalation_rules,omitempty"`
	Metrics          Metrics          `yaml:"metrics,omitempty"`

	// Active is runtime-assigned by the registry, never loaded from YAML:
	// NewRegistry activates every definition it is built from, while a
	// version added later by Propose stays inactive until Activate
	// promotes it.
	Active bool `yaml:"-"`
}

// StepByID returns the step with the given id, if present.
func (d *Definition) StepByID(stepID string) (Step, bool) {
	for _, s := range d.Steps {
		if s.ID == stepID {
			return s, true
		}
	}
	return Step{}, false
}

// EscalationRuleFor returns the first escalation rule matching trigger.
func (d *Definition) EscalationRuleFor(trigger string) (EscalationRule, bool) {
	for _, r := range d.EscalationRules {
		if r.Trigger == trigger {
			return r, true
		}
	}
	return EscalationRule{}, false
}
