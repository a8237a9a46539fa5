package ports

import "github.com/ilegault/TDS-T8/internal/domain"

// SupplyCapability is the device-declared setpoint envelope. Ramp profiles are
// validated against it before a run starts.
type SupplyCapability struct {
	MinSetpoint float64
	MaxSetpoint float64
}

// PowerSupply drives the programmable supply. SetOutput(false) is the
// canonical safe-state command and must be idempotent.
type PowerSupply interface {
	SetSetpoint(value float64) error
	SetOutput(enabled bool) error
	ReadMeasured() (domain.Measured, error)
	Capability() SupplyCapability
}
