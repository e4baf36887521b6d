// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

// Monitor wraps a SessionCredit used for volume monitoring toward the
// controller. Monitors have no final-unit semantics; running out of quota
// never disables service.
type Monitor struct {
	Credit *SessionCredit
	Level  MonitoringLevel

	// Disabled is set once the controller signals DISABLE. The monitor is
	// then drained: it is deleted as soon as its remaining quota is zero.
	Disabled bool
}

func NewMonitor(level MonitoringLevel) *Monitor {
	return &Monitor{
		Credit: NewSessionCredit(CreditFinite),
		Level:  level,
	}
}

func newMonitorFromStored(stored StoredMonitor) *Monitor {
	return &Monitor{
		Credit:   newSessionCreditFromStored(stored.Credit),
		Level:    stored.Level,
		Disabled: stored.Disabled,
	}
}

func (m *Monitor) marshal() StoredMonitor {
	return StoredMonitor{
		Credit:   m.Credit.marshal(),
		Level:    m.Level,
		Disabled: m.Disabled,
	}
}

// ShouldDelete reports whether the monitor has been disabled by the
// controller and has nothing left to account.
func (m *Monitor) ShouldDelete() bool {
	return m.Disabled && m.Credit.IsQuotaExhausted(1)
}
