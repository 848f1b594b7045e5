package config

// Defaults is the shape of the optional YAML defaults file. Every field is
// a pointer so a file that sets only one value leaves the rest for the
// built-in defaults and environment overlay to supply.
type Defaults struct {
	Port                  *int     `yaml:"port,omitempty" validate:"omitempty,min=1,max=65535"`
	FinancialLimit        *float64 `yaml:"financial_limit,omitempty" validate:"omitempty,gte=0"`
	ConfidenceThreshold   *float64 `yaml:"confidence_threshold,omitempty" validate:"omitempty,gte=0,lte=1"`
	AutoApprovalEnabled   *bool    `yaml:"auto_approval_enabled,omitempty"`
	SOPDir                *string  `yaml:"sop_dir,omitempty"`
	ApprovalTimeoutHours  *float64 `yaml:"approval_timeout_hours,omitempty" validate:"omitempty,gte=0"`
	DistributedBusEnabled *bool    `yaml:"distributed_bus_enabled,omitempty"`
}

// builtinDefaults are the values used when neither a defaults file nor an
// environment variable supplies one.
func builtinDefaults() Defaults {
	port := 3000
	financialLimit := 10000.0
	confidenceThreshold := 0.75
	autoApproval := false
	sopDir := "./sops"
	approvalTimeoutHours := 24.0
	distributedBus := true

	return Defaults{
		Port:                  &port,
		FinancialLimit:        &financialLimit,
		ConfidenceThreshold:   &confidenceThreshold,
		AutoApprovalEnabled:   &autoApproval,
		SOPDir:                &sopDir,
		ApprovalTimeoutHours:  &approvalTimeoutHours,
		DistributedBusEnabled: &distributedBus,
	}
}
