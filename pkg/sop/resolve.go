package sop

import "github.com/autonomic-systems/engine/pkg/eventing"

// MatchContext supplies the fields Preconditions can filter on beyond the
// envelope's own event_type, since entity tier/budget/service_type live in
// the caller's domain context rather than the envelope itself.
type MatchContext struct {
	EntityType  string
	Tier        string
	ServiceType string
	Budget      float64
	Predicates  map[string]string
}

// Resolve returns the first active procedure whose preconditions match env
// and ctx, iterating in stable (sorted-by-id) order so that two
// overlapping procedures always resolve to the same one.
func (r *Registry) Resolve(env eventing.Envelope, ctx MatchContext) (Definition, bool) {
	r.mu.RLock()
	order := append([]string(nil), r.order...)
	r.mu.RUnlock()

	for _, id := range order {
		r.mu.RLock()
		d, ok := r.active[id]
		r.mu.RUnlock()
		if !ok {
			continue
		}
		if matches(*d, env, ctx) {
			return *d, true
		}
	}
	return Definition{}, false
}

func matches(d Definition, env eventing.Envelope, ctx MatchContext) bool {
	pre := d.Preconditions
	if len(pre.EventTypes) > 0 && !contains(pre.EventTypes, env.EventType) {
		return false
	}
	if len(pre.EntityTypes) > 0 && !contains(pre.EntityTypes, ctx.EntityType) {
		return false
	}
	if len(pre.Tiers) > 0 && !contains(pre.Tiers, ctx.Tier) {
		return false
	}
	if len(pre.ServiceType) > 0 && !contains(pre.ServiceType, ctx.ServiceType) {
		return false
	}
	if pre.BudgetMin != nil && ctx.Budget < *pre.BudgetMin {
		return false
	}
	if pre.BudgetMax != nil && ctx.Budget > *pre.BudgetMax {
		return false
	}
	for k, want := range pre.Predicates {
		if got, ok := ctx.Predicates[k]; !ok || got != want {
			return false
		}
	}
	return true
}

func contains(haystack []string, needle string) bool {
	for _, v := range haystack {
		if v == needle {
			return true
		}
	}
	return false
}

// CanAutomate reports whether stepID within sop may run without a human:
// its automation_level isn't manual, it doesn't itself require a human,
// and confidence clears the procedure's automation_policy threshold.
// Strict less-than on the threshold is intentionally NOT used here —
// confidence exactly at the threshold automates, matching the engine-wide
// "confidence < threshold forces requires_human" rule (only strictly below
// escalates; at-or-above automates).
func CanAutomate(d Definition, stepID string, confidence float64) bool {
	step, ok := d.StepByID(stepID)
	if !ok {
		return false
	}
	if step.AutomationLevel == AutomationManual {
		return false
	}
	if step.RequiresHuman {
		return false
	}
	return confidence >= d.AutomationPolicy.ConfidenceThreshold
}
