// Package config loads the engine's runtime configuration: the
// environment variables the engine names explicitly
// (FINANCIAL_LIMIT, CONFIDENCE_THRESHOLD, AUTO_APPROVAL_ENABLED, PORT)
// plus the ambient settings every deployment needs — database connection,
// procedure directory, approval timeout, distributed bus toggle. An optional YAML defaults
// file can supply the same fields for environments that prefer a checked-in
// file over exported variables; environment variables always win.
package config

import "time"

// Config is the engine's fully-resolved runtime configuration, ready to
// hand to cmd/engine's wiring.
type Config struct {
	// Port is the HTTP listen port. Env: PORT, default 3000.
	Port int `validate:"min=1,max=65535"`

	// DatabaseURL is the Postgres connection string pkg/store and the
	// distributed bus plane dial. Env: DATABASE_URL, required.
	DatabaseURL string `validate:"required"`

	// FinancialLimit is the amount above which a financial event
	// (QUOTE_GENERATED, INVOICE_ISSUED, PAYMENT_RECEIVED) is escalated by
	// the oversight agent. Env: FINANCIAL_LIMIT, default 10000.
	FinancialLimit float64 `validate:"gte=0"`

	// ConfidenceThreshold is the default confidence floor below which
	// requires_human is forced, shared by agent mandates and the
	// oversight agent. Env: CONFIDENCE_THRESHOLD, default 0.75.
	ConfidenceThreshold float64 `validate:"gte=0,lte=1"`

	// AutoApprovalEnabled gates whether the oversight agent's
	// high-confidence default-approve path is allowed to run
	// unsupervised. When false the engine still evaluates and logs every
	// decision but every non-escalated event is routed through approval
	// anyway. Env: AUTO_APPROVAL_ENABLED, default false.
	AutoApprovalEnabled bool

	// SOPDir is the directory pkg/sop.LoadRegistry reads procedure
	// definitions from. Env: SOP_DIR, default "./sops".
	SOPDir string `validate:"required"`

	// ApprovalTimeout is the deadline given to an approval raised without
	// an explicit one of its own. Env: APPROVAL_TIMEOUT_HOURS (parsed as
	// hours), default 24h.
	ApprovalTimeout time.Duration `validate:"min=0"`

	// DistributedBusEnabled toggles the Postgres LISTEN/NOTIFY
	// cross-instance bridge. Env: DISTRIBUTED_BUS_ENABLED, default true.
	DistributedBusEnabled bool
}
