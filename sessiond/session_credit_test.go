// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func grantResponse(key CreditKey, volume uint64) CreditUpdateResponse {
	return CreditUpdateResponse{
		Success:     true,
		Imsi:        testImsi,
		SessionID:   testSessionID,
		ChargingKey: key,
		Credit:      ChargingCredit{GrantedUnits: totalGrant(volume)},
	}
}

func monitorResponse(mkey string, level MonitoringLevel, volume uint64) UsageMonitoringUpdateResponse {
	return UsageMonitoringUpdateResponse{
		Success:   true,
		Imsi:      testImsi,
		SessionID: testSessionID,
		Credit: &UsageMonitoringCredit{
			Action:        MonitorContinue,
			MonitoringKey: mkey,
			Level:         level,
			GrantedUnits:  totalGrant(volume),
		},
	}
}

func TestSessionChargingUpdateFlow(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))

	session.AddRuleUsage("static_rule_1", 500, 300, nil)

	req := &UpdateSessionRequest{}
	var actions []*ServiceAction
	session.GetUpdates(req, &actions, nil)

	require.Empty(t, actions)
	require.Len(t, req.Updates, 1)

	update := req.Updates[0]
	require.Equal(t, testSessionID, update.SessionID)
	require.Equal(t, uint32(2), update.RequestNumber)
	require.Equal(t, QuotaExhausted, update.Usage.Type)
	require.Equal(t, key, update.Usage.ChargingKey)
	require.Equal(t, uint64(500), update.Usage.BytesTx)
	require.Equal(t, uint64(300), update.Usage.BytesRx)

	// Mid-report the grant stays quiet.
	req = &UpdateSessionRequest{}
	session.GetUpdates(req, &actions, nil)
	require.Empty(t, req.Updates)

	// The ack extends the quota and closes the cycle.
	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))

	grant, ok := session.ChargingGrantFor(key)
	require.True(t, ok)
	require.Equal(t, uint64(2000), grant.Credit.GetCredit(AllowedTotal))
	require.False(t, grant.Credit.IsReporting())
	require.Equal(t, uint64(500), grant.Credit.GetCredit(ReportedTx))
}

func TestSessionChargingFailureRollsBackReporting(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_1", 800, 0, nil)

	req := &UpdateSessionRequest{}
	var actions []*ServiceAction
	session.GetUpdates(req, &actions, nil)
	require.Len(t, req.Updates, 1)

	session.ResetReportingGrants(req, nil)

	// The same usage is retried on the next pass.
	retry := &UpdateSessionRequest{}
	session.GetUpdates(retry, &actions, nil)
	require.Len(t, retry.Updates, 1)
	require.Equal(t, uint64(800), retry.Updates[0].Usage.BytesTx)
}

func TestSessionFinalGrantRedirectActionOnce(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	resp := grantResponse(key, 1000)
	resp.Credit.IsFinal = true
	resp.Credit.FinalAction = FinalActionRedirect
	resp.Credit.RedirectServer = RedirectServer{
		AddressType:   RedirectURL,
		ServerAddress: "http://portal.example.org",
	}
	require.NoError(t, session.ReceiveChargingCredit(resp, nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))

	// Consuming the final grant marks the credit for deactivation.
	session.AddRuleUsage("static_rule_1", 1000, 0, nil)

	req := &UpdateSessionRequest{}
	var actions []*ServiceAction
	session.GetUpdates(req, &actions, nil)

	require.Empty(t, req.Updates)
	require.Len(t, actions, 1)

	action := actions[0]
	require.Equal(t, RedirectService, action.Type)
	require.Equal(t, testImsi, action.Imsi)
	require.Equal(t, testSessionID, action.SessionID)
	require.Equal(t, "192.168.128.12", action.IP)
	require.Equal(t, key, action.CreditKey)
	require.Equal(t, []string{"static_rule_1"}, action.RuleIDs)
	require.Equal(t, "http://portal.example.org", action.RedirectServer.ServerAddress)

	// The redirected state is sticky: no duplicate action, no quota request.
	actions = nil
	req = &UpdateSessionRequest{}
	session.GetUpdates(req, &actions, nil)
	require.Empty(t, actions)
	require.Empty(t, req.Updates)
}

func TestSessionMonitorLifecycle(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ReceiveMonitor(monitorResponse("mkey1", PCCRuleLevel, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_2", RuleLifetime{}, nil))

	session.AddRuleUsage("static_rule_2", 500, 0, nil)

	// DISABLE with quota left: the monitor drains instead of vanishing.
	disable := monitorResponse("mkey1", PCCRuleLevel, 0)
	disable.Credit.Action = MonitorDisable
	require.NoError(t, session.ReceiveMonitor(disable, nil))

	monitor, ok := session.MonitorFor("mkey1")
	require.True(t, ok)
	require.True(t, monitor.Disabled)

	// Draining the remaining quota deletes it.
	session.AddRuleUsage("static_rule_2", 500, 0, nil)
	_, ok = session.MonitorFor("mkey1")
	require.False(t, ok)
}

func TestSessionLevelMonitorAccumulatesDistinctly(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ReceiveMonitor(monitorResponse("mkey1", PCCRuleLevel, 10000), nil))
	require.NoError(t, session.ReceiveMonitor(monitorResponse("skey", SessionLevel, 10000), nil))
	require.Equal(t, "skey", session.SessionLevelKey())

	require.NoError(t, session.ActivateStaticRule("static_rule_2", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_2", 100, 50, nil)

	ruleMonitor, _ := session.MonitorFor("mkey1")
	sessionMonitor, _ := session.MonitorFor("skey")
	require.Equal(t, uint64(100), ruleMonitor.Credit.GetCredit(UsedTx))
	require.Equal(t, uint64(100), sessionMonitor.Credit.GetCredit(UsedTx))

	// Untracked traffic still counts against the session-level monitor.
	require.NoError(t, session.ActivateStaticRule("untracked_rule", RuleLifetime{}, nil))
	session.AddRuleUsage("untracked_rule", 30, 0, nil)
	require.Equal(t, uint64(100), ruleMonitor.Credit.GetCredit(UsedTx))
	require.Equal(t, uint64(130), sessionMonitor.Credit.GetCredit(UsedTx))
}

func TestSessionMonitorDeleteClearsSessionLevelKey(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ReceiveMonitor(monitorResponse("skey", SessionLevel, 100), nil))
	require.Equal(t, "skey", session.SessionLevelKey())

	disable := monitorResponse("skey", SessionLevel, 0)
	disable.Credit.Action = MonitorDisable
	require.NoError(t, session.ReceiveMonitor(disable, nil))

	require.NoError(t, session.ActivateStaticRule("static_rule_2", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_2", 100, 0, nil)

	_, ok := session.MonitorFor("skey")
	require.False(t, ok)
	require.Empty(t, session.SessionLevelKey())
}

func TestSessionReauth(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_1", 800, 0, nil)

	// Open a reporting cycle; reauth must wait for the ack.
	req := &UpdateSessionRequest{}
	var actions []*ServiceAction
	session.GetUpdates(req, &actions, nil)
	require.Len(t, req.Updates, 1)

	require.Equal(t, UpdateNotNeeded, session.ReauthKey(key, nil))

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))
	require.Equal(t, UpdateInitiated, session.ReauthKey(key, nil))

	// The next pass reports it as REAUTH_REQUIRED.
	req = &UpdateSessionRequest{}
	session.GetUpdates(req, &actions, nil)
	require.Len(t, req.Updates, 1)
	require.Equal(t, ReAuthRequiredUsage, req.Updates[0].Usage.Type)

	// An unknown key gets a placeholder so the controller is asked about it.
	unknown := CreditKey{RatingGroup: 99}
	require.Equal(t, UpdateInitiated, session.ReauthKey(unknown, nil))

	grant, ok := session.ChargingGrantFor(unknown)
	require.True(t, ok)
	require.Equal(t, ServiceDisabled, grant.ServiceState)
}

func TestSessionReauthAll(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(CreditKey{RatingGroup: 1}, 1000), nil))
	require.NoError(t, session.ReceiveChargingCredit(grantResponse(CreditKey{RatingGroup: 2}, 1000), nil))

	require.Equal(t, UpdateInitiated, session.ReauthAll(nil))

	// Everything is already flagged.
	require.Equal(t, UpdateNotNeeded, session.ReauthAll(nil))
}

func TestSessionCompleteTermination(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(key, 1000), nil))
	require.NoError(t, session.ReceiveMonitor(monitorResponse("mkey1", PCCRuleLevel, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_1", 400, 100, nil)

	// Refused while the session is still active.
	_, _, err := session.CompleteTermination(nil)
	require.Error(t, err)

	require.NoError(t, session.SetFsmState(SessionReleased, nil))

	req, done, err := session.CompleteTermination(nil)
	require.NoError(t, err)
	require.True(t, done)
	require.Equal(t, SessionTerminated, session.FsmState())

	require.Len(t, req.CreditUsages, 1)
	require.Equal(t, Terminated, req.CreditUsages[0].Type)
	require.Equal(t, uint64(400), req.CreditUsages[0].BytesTx)
	require.Equal(t, uint64(100), req.CreditUsages[0].BytesRx)
	require.Len(t, req.MonitorUsages, 1)

	// Idempotent: a second completion reports nothing to send.
	_, done, err = session.CompleteTermination(nil)
	require.NoError(t, err)
	require.False(t, done)
}

func TestSessionTotalChargingUsage(t *testing.T) {
	session := newTestSession(t)

	require.NoError(t, session.ReceiveChargingCredit(grantResponse(CreditKey{RatingGroup: 1}, 1000), nil))
	require.NoError(t, session.ReceiveChargingCredit(grantResponse(CreditKey{RatingGroup: 2}, 1000), nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_2", RuleLifetime{}, nil))

	session.AddRuleUsage("static_rule_1", 100, 10, nil)
	session.AddRuleUsage("static_rule_2", 200, 20, nil)

	require.Equal(t, Usage{BytesTx: 300, BytesRx: 30}, session.TotalChargingUsage())
}

func TestSessionPermanentChargingFailureMarksCredit(t *testing.T) {
	session := newTestSession(t)
	key := CreditKey{RatingGroup: 1}

	resp := grantResponse(key, 1000)
	resp.Credit.IsFinal = true
	require.NoError(t, session.ReceiveChargingCredit(resp, nil))
	require.NoError(t, session.ActivateStaticRule("static_rule_1", RuleLifetime{}, nil))
	session.AddRuleUsage("static_rule_1", 1000, 0, nil)

	// The exhausted final grant reports a failed refresh: the in-flight usage
	// rolls back and the credit flips toward deactivation.
	grant, _ := session.ChargingGrantFor(key)
	grant.Credit.GetUsageForReporting(nil)

	failure := CreditUpdateResponse{
		Imsi:        testImsi,
		SessionID:   testSessionID,
		ChargingKey: key,
		ResultCode:  5003,
	}
	require.NoError(t, session.ReceiveChargingCredit(failure, nil))

	require.False(t, grant.Credit.IsReporting())
	require.Equal(t, ServiceNeedsDeactivation, grant.ServiceState)
}
