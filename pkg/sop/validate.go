package sop

import (
	"fmt"
	"sync"

	"github.com/go-playground/validator/v10"
)

var (
	once sync.Once
	v    *validator.Validate
)

func instance() *validator.Validate {
	once.Do(func() { v = validator.New() })
	return v
}

// validate checks a definition's struct tags and the cross-field rules the
// tags can't express: BudgetMin <= BudgetMax when both are set, and
// StartHour < EndHour for a time restriction.
func validate(def Definition) error {
	if err := instance().Struct(def); err != nil {
		return fmt.Errorf("%w: %v", ErrValidationFailed, err)
	}
	pre := def.Preconditions
	if pre.BudgetMin != nil && pre.BudgetMax != nil && *pre.BudgetMin > *pre.BudgetMax {
		return fmt.Errorf("%w: %s: budget_min > budget_max", ErrValidationFailed, def.ID)
	}
	if tr := def.AutomationPolicy.TimeRestrictions; tr != nil && tr.StartHour >= tr.EndHour {
		return fmt.Errorf("%w: %s: time_restrictions start_hour >= end_hour", ErrValidationFailed, def.ID)
	}
	return nil
}
