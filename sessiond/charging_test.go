// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestChargingGrantUpdateTypeOrdering(t *testing.T) {
	tests := []struct {
		name     string
		setup    func(g *ChargingGrant)
		wantType CreditUsageType
		wantNeed bool
	}{
		{
			name: "open reporting cycle suppresses everything",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(100)}, nil)
				g.Credit.AddUsed(100, 0, nil)
				g.Credit.GetUsageForReporting(nil)
				g.SetReAuthState(ReAuthRequired, nil)
			},
			wantNeed: false,
		},
		{
			name: "reauth wins over exhaustion",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(100)}, nil)
				g.Credit.AddUsed(100, 0, nil)
				g.SetReAuthState(ReAuthRequired, nil)
			},
			wantType: ReAuthRequiredUsage,
			wantNeed: true,
		},
		{
			name: "exhausted final grant asks for nothing",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(100), IsFinal: true}, nil)
				g.Credit.AddUsed(100, 0, nil)
			},
			wantNeed: false,
		},
		{
			name: "threshold exhaustion",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(1000)}, nil)
				g.Credit.AddUsed(800, 0, nil)
			},
			wantType: QuotaExhausted,
			wantNeed: true,
		},
		{
			name: "validity timer expiry",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(1000)}, nil)
				g.ExpiryTime = time.Now().Unix() - 1
			},
			wantType: ValidityTimerExpired,
			wantNeed: true,
		},
		{
			name: "nothing to report",
			setup: func(g *ChargingGrant) {
				g.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(1000)}, nil)
				g.Credit.AddUsed(100, 0, nil)
			},
			wantNeed: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := NewChargingGrant(CreditFinite)
			tt.setup(grant)

			updateType, needed := grant.GetUpdateType(0.8)
			require.Equal(t, tt.wantNeed, needed)

			if tt.wantNeed {
				require.Equal(t, tt.wantType, updateType)
			}
		})
	}
}

func TestChargingGrantActions(t *testing.T) {
	tests := []struct {
		name         string
		serviceState ServiceState
		isFinal      bool
		finalAction  FinalUnitAction
		want         ServiceActionType
		wantState    ServiceState
	}{
		{
			name:         "enabled continues",
			serviceState: ServiceEnabled,
			want:         ContinueService,
			wantState:    ServiceEnabled,
		},
		{
			name:         "needs deactivation without final grant terminates",
			serviceState: ServiceNeedsDeactivation,
			want:         TerminateService,
			wantState:    ServiceDisabled,
		},
		{
			name:         "final terminate",
			serviceState: ServiceNeedsDeactivation,
			isFinal:      true,
			finalAction:  FinalActionTerminate,
			want:         TerminateService,
			wantState:    ServiceDisabled,
		},
		{
			name:         "final redirect",
			serviceState: ServiceNeedsDeactivation,
			isFinal:      true,
			finalAction:  FinalActionRedirect,
			want:         RedirectService,
			wantState:    ServiceDisabled,
		},
		{
			name:         "final restrict",
			serviceState: ServiceNeedsDeactivation,
			isFinal:      true,
			finalAction:  FinalActionRestrictAccess,
			want:         RestrictAccess,
			wantState:    ServiceDisabled,
		},
		{
			name:         "needs activation",
			serviceState: ServiceNeedsActivation,
			want:         ActivateService,
			wantState:    ServiceEnabled,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := NewChargingGrant(CreditFinite)
			grant.ServiceState = tt.serviceState
			grant.IsFinal = tt.isFinal
			grant.FinalActionInfo.FinalAction = tt.finalAction

			require.Equal(t, tt.want, grant.GetAction(nil))
			require.Equal(t, tt.wantState, grant.ServiceState)
		})
	}
}

func TestChargingGrantShouldDeactivateService(t *testing.T) {
	tests := []struct {
		name               string
		isFinal            bool
		finalAction        FinalUnitAction
		used               uint64
		serviceState       ServiceState
		terminateOnExhaust bool
		want               bool
	}{
		{
			name: "exhausted final grant", isFinal: true, used: 100,
			serviceState: ServiceEnabled, terminateOnExhaust: true, want: true,
		},
		{
			name: "final grant with quota left", isFinal: true, used: 50,
			serviceState: ServiceEnabled, terminateOnExhaust: true, want: false,
		},
		{
			name: "non-final grant never deactivates", isFinal: false, used: 100,
			serviceState: ServiceEnabled, terminateOnExhaust: true, want: false,
		},
		{
			name: "terminate disabled by config", isFinal: true, used: 100,
			finalAction: FinalActionTerminate, serviceState: ServiceEnabled, want: false,
		},
		{
			name: "redirect unaffected by terminate config", isFinal: true, used: 100,
			finalAction: FinalActionRedirect, serviceState: ServiceEnabled, want: true,
		},
		{
			name: "already disabled", isFinal: true, used: 100,
			serviceState: ServiceDisabled, terminateOnExhaust: true, want: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			grant := NewChargingGrant(CreditFinite)
			grant.ReceiveChargingGrant(ChargingCredit{
				GrantedUnits: totalGrant(100),
				IsFinal:      tt.isFinal,
				FinalAction:  tt.finalAction,
			}, nil)
			grant.Credit.AddUsed(tt.used, 0, nil)
			grant.ServiceState = tt.serviceState

			require.Equal(t, tt.want, grant.ShouldDeactivateService(tt.terminateOnExhaust))
		})
	}
}

func TestChargingGrantFinalUsageFlushesEverything(t *testing.T) {
	grant := NewChargingGrant(CreditFinite)
	grant.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(500), IsFinal: true}, nil)
	grant.Credit.AddUsed(300, 200, nil)

	// Open a partial cycle, then terminate: the terminate bundle must carry
	// the rest, not double-count the in-flight bytes.
	grant.Credit.GetUsageForReporting(nil)
	grant.Credit.AddUsed(50, 0, nil)

	usage := grant.GetCreditUsage(Terminated, nil, true)
	require.Equal(t, uint64(50), usage.BytesTx)
	require.Equal(t, uint64(0), usage.BytesRx)
	require.Equal(t, Terminated, usage.Type)
}

func TestChargingGrantValidityTime(t *testing.T) {
	grant := NewChargingGrant(CreditFinite)

	grant.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(100), ValidityTime: 3600}, nil)
	require.Greater(t, grant.ExpiryTime, time.Now().Unix())

	// A refresh without validity clears the timer.
	grant.ReceiveChargingGrant(ChargingCredit{GrantedUnits: totalGrant(100)}, nil)
	require.Equal(t, int64(0), grant.ExpiryTime)
}
