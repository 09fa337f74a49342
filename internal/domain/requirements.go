package domain

import "fmt"

// Requirements is the placement policy the device registers with the
// Cognit Frontend. Field names carry the wire spelling expected by the
// app_requirements API; unset fields are omitted from the payload.
type Requirements struct {
	Flavour                  string  `json:"FLAVOUR,omitempty" yaml:"flavour"`
	Geolocation              string  `json:"GEOLOCATION,omitempty" yaml:"geolocation"`
	MaxLatencyMS             int     `json:"MAX_LATENCY,omitempty" yaml:"max_latency_ms"`
	MaxFunctionExecutionTime float64 `json:"MAX_FUNCTION_EXECUTION_TIME,omitempty" yaml:"max_function_execution_time"`
	MinEnergyRenewableUsage  int     `json:"MIN_ENERGY_RENEWABLE_USAGE,omitempty" yaml:"min_energy_renewable_usage"`
}

// Validate checks the documented consistency rules. GEOLOCATION becomes
// compulsory as soon as a latency budget is declared, because latency-aware
// placement is meaningless without a reference location.
func (r *Requirements) Validate() error {
	if r == nil {
		return fmt.Errorf("%w: requirements not provided", ErrValidation)
	}
	if r.MaxLatencyMS < 0 {
		return fmt.Errorf("%w: MAX_LATENCY must be non-negative", ErrValidation)
	}
	if r.MaxLatencyMS > 0 && r.Geolocation == "" {
		return fmt.Errorf("%w: GEOLOCATION is compulsory when MAX_LATENCY is set", ErrValidation)
	}
	if r.MinEnergyRenewableUsage < 0 || r.MinEnergyRenewableUsage > 100 {
		return fmt.Errorf("%w: MIN_ENERGY_RENEWABLE_USAGE must be within [0,100]", ErrValidation)
	}
	return nil
}

// Equal reports whether two requirement sets match on every field.
// Value semantics: the supervisor uses this to reject no-op updates.
func (r *Requirements) Equal(o *Requirements) bool {
	if r == nil || o == nil {
		return r == o
	}
	return *r == *o
}

// Clone returns an independent copy so the facade and the supervisor never
// share a mutable record.
func (r *Requirements) Clone() *Requirements {
	if r == nil {
		return nil
	}
	cp := *r
	return &cp
}

// LatencyAware reports whether cluster selection must honour a latency budget.
func (r *Requirements) LatencyAware() bool {
	return r != nil && r.MaxLatencyMS > 0
}
