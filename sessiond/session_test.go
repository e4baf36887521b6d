// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

const (
	testImsi      = "001010123456789"
	testSessionID = "001010123456789-1234"
)

func newTestRuleStore() *RuleStore {
	store := NewRuleStore()

	store.Insert(PolicyRule{
		ID:           "static_rule_1",
		Priority:     10,
		RatingGroup:  1,
		TrackingType: TrackingOnlyOCS,
	})
	store.Insert(PolicyRule{
		ID:            "static_rule_2",
		Priority:      20,
		RatingGroup:   2,
		MonitoringKey: "mkey1",
		TrackingType:  TrackingOCSAndPCRF,
	})
	store.Insert(PolicyRule{
		ID:           "untracked_rule",
		Priority:     30,
		TrackingType: NoTracking,
	})

	return store
}

func defaultTestBehavior() CreditBehavior {
	return CreditBehavior{UsageReportingThreshold: 0.8, TerminateOnExhaust: true}
}

func newTestSession(t *testing.T) *SessionState {
	t.Helper()

	config := SessionConfig{
		SubscriberID: testImsi,
		Apn:          "internet",
		UeIPv4:       "192.168.128.12",
		RatType:      RatLte,
		LTE: &LTEContext{
			BearerID:   5,
			DefaultQos: &QosInfo{Qci: 9},
		},
	}

	return NewSessionState(testImsi, testSessionID, config, newTestRuleStore(),
		TgppContext{GxDestHost: "pcrf.example.org", GyDestHost: "ocs.example.org"},
		time.Now().Unix(), defaultTestBehavior())
}

func TestSessionFsmTerminalState(t *testing.T) {
	session := newTestSession(t)
	require.True(t, session.IsActive())

	require.NoError(t, session.SetFsmState(SessionReleased, nil))
	require.True(t, session.IsTerminating())

	require.NoError(t, session.SetFsmState(SessionTerminated, nil))

	// TERMINATED is terminal.
	err := session.SetFsmState(SessionActive, nil)
	require.Error(t, err)
	require.Equal(t, SessionTerminated, session.FsmState())

	// Re-entering TERMINATED stays a no-op.
	require.NoError(t, session.SetFsmState(SessionTerminated, nil))
}

func TestSubscriberQuotaStateString(t *testing.T) {
	require.Equal(t, "QUOTA_VALID", QuotaValid.String())
	require.Equal(t, "QUOTA_NONE", QuotaNone.String())
	require.Equal(t, "QUOTA_TERMINATE", QuotaTerminate.String())
	require.Equal(t, "UNKNOWN", SubscriberQuotaState(99).String())
}

func TestSessionRequestNumberMonotonic(t *testing.T) {
	session := newTestSession(t)
	require.Equal(t, uint32(1), session.RequestNumber())

	uc := NewSessionUpdateCriteria()
	require.Equal(t, uint32(2), session.IncrementRequestNumber(uc))
	require.Equal(t, uint32(3), session.IncrementRequestNumber(uc))
	require.Equal(t, uint32(2), uc.RequestNumberIncrement)
}

func TestSessionStaticRuleLifecycle(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	require.True(t, session.IsStaticRuleInstalled("static_rule_1"))

	// Double install and unknown rules are refused.
	require.Error(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	require.Error(t, session.ActivateStaticRule("no_such_rule", RuleLifetime{}, nil))

	require.NoError(t, session.DeactivateStaticRule("static_rule_1", nil))
	require.False(t, session.IsStaticRuleInstalled("static_rule_1"))
	require.Error(t, session.DeactivateStaticRule("static_rule_1", nil))
}

func TestSessionDynamicRuleLifecycle(t *testing.T) {
	session := newTestSession(t)
	rule := PolicyRule{ID: "dyn1", RatingGroup: 7, TrackingType: TrackingOnlyOCS}

	require.NoError(t, session.InsertDynamicRule(rule, RuleLifetime{}, nil))
	require.True(t, session.IsDynamicRuleInstalled("dyn1"))
	require.Error(t, session.InsertDynamicRule(rule, RuleLifetime{}, nil))

	key, ok := session.ChargingKeyForRule("dyn1")
	require.True(t, ok)
	require.Equal(t, CreditKey{RatingGroup: 7}, key)

	removed, ok := session.RemoveDynamicRule("dyn1", nil)
	require.True(t, ok)
	require.Equal(t, rule, removed)

	_, ok = session.RemoveDynamicRule("dyn1", nil)
	require.False(t, ok)
}

func TestSessionSyncRulesToTime(t *testing.T) {
	session := newTestSession(t)
	now := time.Now().Unix()

	// Scheduled in the past: becomes active. Deactivation in the future keeps
	// it active; deactivation in the past drops it.
	require.NoError(t, session.ScheduleStaticRule("static_rule_1",
		RuleLifetime{ActivationTime: now - 1, DeactivationTime: now + 60}, nil))
	require.NoError(t, session.ScheduleStaticRule("static_rule_2",
		RuleLifetime{ActivationTime: now - 10, DeactivationTime: now - 1}, nil))

	dyn := PolicyRule{ID: "dyn_future", TrackingType: NoTracking}
	require.NoError(t, session.ScheduleDynamicRule(dyn,
		RuleLifetime{ActivationTime: now + 60}, nil))

	session.SyncRulesToTime(now, nil)

	require.True(t, session.IsStaticRuleInstalled("static_rule_1"))
	require.False(t, session.IsStaticRuleInstalled("static_rule_2"))
	require.False(t, session.IsStaticRuleScheduled("static_rule_2"))
	require.False(t, session.IsDynamicRuleInstalled("dyn_future"))

	// An active rule past its deactivation time is dropped on the next sync.
	session.SyncRulesToTime(now+61, nil)
	require.False(t, session.IsStaticRuleInstalled("static_rule_1"))
	require.True(t, session.IsDynamicRuleInstalled("dyn_future"))
}

func TestSessionApplySessionRuleSet(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	dynB := PolicyRule{ID: "dynB", TrackingType: NoTracking}
	require.NoError(t, session.InsertDynamicRule(dynB, RuleLifetime{}, nil))

	// Desired set keeps dynB, drops static_rule_1, adds static_rule_2 and dynC.
	dynC := PolicyRule{ID: "dynC", TrackingType: NoTracking}
	toActivate, toDeactivate := session.ApplySessionRuleSet(RuleSet{
		StaticRuleIDs: []string{"static_rule_2"},
		DynamicRules:  []PolicyRule{dynB, dynC},
	}, nil)

	require.Equal(t, []string{"static_rule_2"}, toActivate.StaticRuleIDs)
	require.Equal(t, []PolicyRule{dynC}, toActivate.DynamicRules)
	require.Equal(t, []string{"static_rule_1"}, toDeactivate.StaticRuleIDs)
	require.Empty(t, toDeactivate.DynamicRules)

	require.True(t, session.IsStaticRuleInstalled("static_rule_2"))
	require.False(t, session.IsStaticRuleInstalled("static_rule_1"))
	require.True(t, session.IsDynamicRuleInstalled("dynB"))
	require.True(t, session.IsDynamicRuleInstalled("dynC"))
}

func TestSessionRuleLifetimeWindow(t *testing.T) {
	now := time.Now().Unix()

	tests := []struct {
		name     string
		lifetime RuleLifetime
		want     bool
	}{
		{name: "always", lifetime: RuleLifetime{}, want: true},
		{name: "activation in the future", lifetime: RuleLifetime{ActivationTime: now + 1}, want: false},
		{name: "activation just passed", lifetime: RuleLifetime{ActivationTime: now - 1}, want: true},
		{name: "deactivation pending", lifetime: RuleLifetime{DeactivationTime: now + 1}, want: true},
		{name: "deactivation passed", lifetime: RuleLifetime{DeactivationTime: now - 1}, want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, tt.lifetime.IsActiveAt(now))
		})
	}
}

func TestSessionBearerBinding(t *testing.T) {
	session := newTestSession(t)

	session.BindPolicyToBearer(PolicyBearerBindingRequest{
		Imsi: testImsi, LinkedBearerID: 5, PolicyRuleID: "static_rule_1", BearerID: 6,
	}, nil)

	id, ok := session.BearerIDForPolicy(PolicyID{Type: StaticPolicy, RuleID: "static_rule_1"})
	require.True(t, ok)
	require.Equal(t, uint32(6), id)

	// Bearer id zero means the access network refused; the mapping is dropped.
	session.BindPolicyToBearer(PolicyBearerBindingRequest{
		Imsi: testImsi, LinkedBearerID: 5, PolicyRuleID: "static_rule_1", BearerID: 0,
	}, nil)

	_, ok = session.BearerIDForPolicy(PolicyID{Type: StaticPolicy, RuleID: "static_rule_1"})
	require.False(t, ok)
}

func TestSessionDedicatedBearerUpdates(t *testing.T) {
	session := newTestSession(t)

	// Same QCI as the default bearer: no dedicated bearer needed.
	sameQci := PolicyRule{ID: "same_qci", TrackingType: NoTracking, Qos: &QosInfo{Qci: 9}}
	// Different QCI: dedicated bearer requested.
	gbr := PolicyRule{ID: "gbr_rule", TrackingType: NoTracking, Qos: &QosInfo{Qci: 1}}

	update := session.GetDedicatedBearerUpdates(RulesToProcess{
		DynamicRules: []PolicyRule{sameQci, gbr},
	}, RulesToProcess{}, nil)

	require.True(t, update.NeedsCreation)
	require.False(t, update.NeedsDeletion)
	require.Equal(t, testImsi, update.Create.Imsi)
	require.Equal(t, uint32(5), update.Create.LinkedBearerID)
	require.Equal(t, []PolicyRule{gbr}, update.Create.Rules)

	// Bind the bearer, then deactivate the rule: deletion is requested and
	// the mapping cleaned up.
	require.NoError(t, session.InsertDynamicRule(gbr, RuleLifetime{}, nil))
	session.BindPolicyToBearer(PolicyBearerBindingRequest{
		Imsi: testImsi, LinkedBearerID: 5, PolicyRuleID: "gbr_rule", BearerID: 6,
	}, nil)

	update = session.GetDedicatedBearerUpdates(RulesToProcess{}, RulesToProcess{
		DynamicRules: []PolicyRule{gbr},
	}, nil)

	require.True(t, update.NeedsDeletion)
	require.Equal(t, []uint32{6}, update.Delete.EpsBearerIDs)

	_, ok := session.BearerIDForPolicy(PolicyID{Type: DynamicPolicy, RuleID: "gbr_rule"})
	require.False(t, ok)
}

func TestSessionEventTriggers(t *testing.T) {
	session := newTestSession(t)

	session.AddEventTrigger(RevalidationTimeout, nil)
	state, ok := session.EventTriggerState(RevalidationTimeout)
	require.True(t, ok)
	require.Equal(t, TriggerPending, state)

	session.MarkEventTriggerReady(RevalidationTimeout, nil)
	state, _ = session.EventTriggerState(RevalidationTimeout)
	require.Equal(t, TriggerReady, state)

	// A ready trigger is reported once and then cleared.
	req := &UpdateSessionRequest{}
	var actions []*ServiceAction
	session.GetUpdates(req, &actions, nil)

	require.Len(t, req.UsageMonitors, 1)
	require.Equal(t, RevalidationTimeout, req.UsageMonitors[0].EventTrigger)

	state, _ = session.EventTriggerState(RevalidationTimeout)
	require.Equal(t, TriggerCleared, state)

	req = &UpdateSessionRequest{}
	session.GetUpdates(req, &actions, nil)
	require.Empty(t, req.UsageMonitors)
}

func TestSessionMonitoredRulesCount(t *testing.T) {
	session := newTestSession(t)
	require.Zero(t, session.TotalMonitoredRulesCount())

	require.NoError(t, session.ActivateStaticRule("static_rule_2", RuleLifetime{}, nil))
	require.Equal(t, 1, session.TotalMonitoredRulesCount())

	monitored := PolicyRule{ID: "dyn_mon", MonitoringKey: "mkey2", TrackingType: TrackingOnlyPCRF}
	require.NoError(t, session.InsertDynamicRule(monitored, RuleLifetime{}, nil))
	require.Equal(t, 2, session.TotalMonitoredRulesCount())
}
