// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"time"

	"github.com/omec-project/sessiond/logger"
)

// FinalActionInfo is the controller-mandated behavior once a final grant is
// fully consumed.
type FinalActionInfo struct {
	FinalAction    FinalUnitAction `json:"final_action"`
	RedirectServer RedirectServer  `json:"redirect_server"`
	RestrictRules  []string        `json:"restrict_rules"`
}

// ChargingCredit is the charging payload of a controller response.
type ChargingCredit struct {
	GrantedUnits   GrantedUnits
	IsFinal        bool
	FinalAction    FinalUnitAction
	RedirectServer RedirectServer
	RestrictRules  []string
	// ValidityTime is in seconds; zero means the grant never expires.
	ValidityTime uint32
	LimitType    CreditLimitType
}

// ChargingGrant wraps a SessionCredit with the final-unit action, expiry and
// the per-credit reauth/service sub-states.
type ChargingGrant struct {
	Credit *SessionCredit

	IsFinal         bool
	FinalActionInfo FinalActionInfo
	// ExpiryTime is epoch seconds; zero means no validity timer.
	ExpiryTime   int64
	ReAuthState  ReAuthState
	ServiceState ServiceState
}

func NewChargingGrant(limitType CreditLimitType) *ChargingGrant {
	return &ChargingGrant{
		Credit:       NewSessionCredit(limitType),
		ReAuthState:  ReAuthNotNeeded,
		ServiceState: ServiceEnabled,
	}
}

func newChargingGrantFromStored(stored StoredChargingGrant) *ChargingGrant {
	return &ChargingGrant{
		Credit:          newSessionCreditFromStored(stored.Credit),
		IsFinal:         stored.IsFinal,
		FinalActionInfo: stored.FinalActionInfo,
		ExpiryTime:      stored.ExpiryTime,
		ReAuthState:     stored.ReAuthState,
		ServiceState:    stored.ServiceState,
	}
}

func (g *ChargingGrant) marshal() StoredChargingGrant {
	return StoredChargingGrant{
		Credit:          g.Credit.marshal(),
		IsFinal:         g.IsFinal,
		FinalActionInfo: g.FinalActionInfo,
		ExpiryTime:      g.ExpiryTime,
		ReAuthState:     g.ReAuthState,
		ServiceState:    g.ServiceState,
	}
}

// ReceiveChargingGrant folds a fresh controller grant into the wrapped
// credit and refreshes final-unit info and expiry.
func (g *ChargingGrant) ReceiveChargingGrant(credit ChargingCredit, uc *CreditUpdateCriteria) {
	g.Credit.ReceiveCredit(credit.GrantedUnits, uc)

	g.IsFinal = credit.IsFinal
	if g.IsFinal {
		g.FinalActionInfo.FinalAction = credit.FinalAction

		switch credit.FinalAction {
		case FinalActionRedirect:
			g.FinalActionInfo.RedirectServer = credit.RedirectServer
		case FinalActionRestrictAccess:
			g.FinalActionInfo.RestrictRules = append([]string{}, credit.RestrictRules...)
		}

		logger.SessLog.With("final_action", credit.FinalAction.String()).Infoln("received a final grant")
	}

	if credit.ValidityTime == 0 {
		g.ExpiryTime = 0
	} else {
		g.ExpiryTime = time.Now().Unix() + int64(credit.ValidityTime)
	}

	if uc != nil {
		uc.IsFinal = g.IsFinal
		uc.FinalActionInfo = g.FinalActionInfo
		uc.ExpiryTime = g.ExpiryTime
	}
}

// GetUpdateType decides whether this grant needs an upstream update and of
// which kind. The checks run in a fixed order: an open reporting cycle
// suppresses everything, reauth wins over exhaustion, and a fully consumed
// final grant never asks for more quota.
func (g *ChargingGrant) GetUpdateType(thresholdRatio float64) (CreditUsageType, bool) {
	if g.Credit.IsReporting() {
		return 0, false
	}

	if g.ReAuthState == ReAuthRequired {
		return ReAuthRequiredUsage, true
	}

	if g.IsFinal && g.Credit.IsQuotaExhausted(1) {
		return 0, false
	}

	if g.Credit.IsQuotaExhausted(thresholdRatio) {
		return QuotaExhausted, true
	}

	if g.ExpiryTime != 0 && time.Now().Unix() >= g.ExpiryTime {
		return ValidityTimerExpired, true
	}

	return 0, false
}

// GetCreditUsage packages the grant's usage for an upstream message. Final
// grants and terminations flush all unreported usage.
func (g *ChargingGrant) GetCreditUsage(updateType CreditUsageType, uc *CreditUpdateCriteria, isTerminate bool) CreditUsage {
	var usage Usage

	if g.IsFinal || isTerminate {
		usage = g.Credit.GetAllUnreportedUsageForReporting(uc)
	} else {
		usage = g.Credit.GetUsageForReporting(uc)
	}

	return CreditUsage{
		BytesTx: usage.BytesTx,
		BytesRx: usage.BytesRx,
		Type:    updateType,
	}
}

// ShouldDeactivateService is true once a final grant is fully consumed; the
// enforcer then marks the grant for deactivation.
func (g *ChargingGrant) ShouldDeactivateService(terminateOnExhaust bool) bool {
	if g.FinalActionInfo.FinalAction == FinalActionTerminate && !terminateOnExhaust {
		return false
	}

	if g.ServiceState != ServiceEnabled {
		return false
	}

	if g.IsFinal && g.Credit.IsQuotaExhausted(1) {
		logger.SessLog.With("final_action", g.FinalActionInfo.FinalAction.String()).
			Infoln("deactivating service, the final grant is exhausted")
		return true
	}

	return false
}

// GetAction resolves the pending service-state transition into the action
// the enforcer must execute, consuming NEEDS_* markers.
func (g *ChargingGrant) GetAction(uc *CreditUpdateCriteria) ServiceActionType {
	switch g.ServiceState {
	case ServiceNeedsDeactivation:
		g.SetServiceState(ServiceDisabled, uc)

		if !g.IsFinal {
			return TerminateService
		}

		return finalActionToAction(g.FinalActionInfo.FinalAction)
	case ServiceNeedsActivation:
		g.SetServiceState(ServiceEnabled, uc)
		return ActivateService
	default:
		return ContinueService
	}
}

func finalActionToAction(action FinalUnitAction) ServiceActionType {
	switch action {
	case FinalActionRedirect:
		return RedirectService
	case FinalActionRestrictAccess:
		return RestrictAccess
	default:
		return TerminateService
	}
}

// SetReAuthState updates the reauth sub-state and journals it.
func (g *ChargingGrant) SetReAuthState(state ReAuthState, uc *CreditUpdateCriteria) {
	if g.ReAuthState != state {
		logger.SessLog.With("from", g.ReAuthState.String(), "to", state.String()).Debugln("reauth state change")
	}

	g.ReAuthState = state

	if uc != nil {
		uc.ReAuthState = state
	}
}

// SetServiceState updates the service sub-state and journals it.
func (g *ChargingGrant) SetServiceState(state ServiceState, uc *CreditUpdateCriteria) {
	if g.ServiceState != state {
		logger.SessLog.With("from", g.ServiceState.String(), "to", state.String()).Debugln("service state change")
	}

	g.ServiceState = state

	if uc != nil {
		uc.ServiceState = state
	}
}
