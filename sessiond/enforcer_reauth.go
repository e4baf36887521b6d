// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"time"

	"github.com/omec-project/sessiond/logger"
)

// HandleChargingReAuth flags one charging key, or every key of the session,
// for reauthorization. The next update collection then asks the controller.
func (e *LocalEnforcer) HandleChargingReAuth(req ChargingReAuthRequest) (ReAuthResult, error) {
	session, ok := e.loadSession(req.Imsi, req.SessionID)
	if !ok {
		return SessionNotFound, ErrSessionNotFound(req.Imsi, req.SessionID)
	}

	if !session.IsActive() {
		return SessionNotFound, ErrInvalidOperation("charging reauth on a terminating session")
	}

	update := NewSessionUpdate()
	uc := update.CriteriaFor(req.Imsi, req.SessionID)

	var result ReAuthResult

	switch req.Type {
	case ReAuthSingleService:
		result = session.ReauthKey(req.ChargingKey, uc)
	case ReAuthEntireSession:
		result = session.ReauthAll(uc)
	default:
		return ReAuthOtherFailure, ErrInvalidArgument("reauth type", req.Type)
	}

	if !e.store.UpdateSessions(update) {
		return ReAuthOtherFailure, ErrOperationFailedWithReason("charging reauth", "commit refused")
	}

	logger.EnfLog.With("session_id", req.SessionID, "result", result.String()).
		Debugln("charging reauth handled")

	return result, nil
}

// HandlePolicyReAuth applies a controller-pushed policy change: monitor
// credits, rule removals and installs, bearer updates and event triggers.
// An empty session id targets every session of the subscriber.
func (e *LocalEnforcer) HandlePolicyReAuth(req PolicyReAuthRequest) (PolicyReAuthAnswer, error) {
	sessions, err := e.store.ReadSessions([]string{req.Imsi})
	if err != nil {
		return PolicyReAuthAnswer{Result: ReAuthOtherFailure}, err
	}

	targets := make([]*SessionState, 0, len(sessions[req.Imsi]))

	for _, session := range sessions[req.Imsi] {
		if req.SessionID != "" && session.SessionID() != req.SessionID {
			continue
		}

		if session.IsActive() {
			targets = append(targets, session)
		}
	}

	if len(targets) == 0 {
		return PolicyReAuthAnswer{SessionID: req.SessionID, Result: SessionNotFound},
			ErrSessionNotFound(req.Imsi, req.SessionID)
	}

	answer := PolicyReAuthAnswer{SessionID: req.SessionID, Result: UpdateInitiated}
	update := NewSessionUpdate()

	for _, session := range targets {
		failed := e.applyPolicyReAuth(session, req, update.CriteriaFor(req.Imsi, session.SessionID()))
		answer.FailedRules = append(answer.FailedRules, failed...)
	}

	if !e.store.UpdateSessions(update) {
		return PolicyReAuthAnswer{SessionID: req.SessionID, Result: ReAuthOtherFailure},
			ErrOperationFailedWithReason("policy reauth", "commit refused")
	}

	if len(answer.FailedRules) > 0 {
		answer.Result = ReAuthOtherFailure
	}

	return answer, nil
}

// applyPolicyReAuth folds one policy reauth into one session and returns the
// rule ids that could not be applied.
func (e *LocalEnforcer) applyPolicyReAuth(session *SessionState, req PolicyReAuthRequest,
	uc *SessionUpdateCriteria) []string {
	for _, credit := range req.UsageMonitoringCredits {
		c := credit

		resp := UsageMonitoringUpdateResponse{
			Success:   true,
			Imsi:      req.Imsi,
			SessionID: session.SessionID(),
			Credit:    &c,
		}

		if err := session.ReceiveMonitor(resp, uc); err != nil {
			logger.EnfLog.With("session_id", session.SessionID()).
				Warnln("monitor credit from policy reauth dropped:", err)
		}
	}

	now := time.Now().Unix()

	var failed []string

	toDeactivate := RulesToProcess{}

	for _, ruleID := range req.RulesToRemove {
		switch {
		case session.IsStaticRuleInstalled(ruleID):
			if err := session.DeactivateStaticRule(ruleID, uc); err != nil {
				failed = append(failed, ruleID)
				continue
			}

			toDeactivate.StaticRuleIDs = append(toDeactivate.StaticRuleIDs, ruleID)
		default:
			rule, ok := session.RemoveDynamicRule(ruleID, uc)
			if !ok {
				failed = append(failed, ruleID)
				continue
			}

			toDeactivate.DynamicRules = append(toDeactivate.DynamicRules, rule)
		}
	}

	toActivate := RulesToProcess{}

	for _, install := range req.RulesToInstall {
		lifetime := RuleLifetime{ActivationTime: install.ActivationTime, DeactivationTime: install.DeactivationTime}

		if install.ActivationTime > now {
			if err := session.ScheduleStaticRule(install.RuleID, lifetime, uc); err != nil {
				failed = append(failed, install.RuleID)
				continue
			}
		} else {
			if err := session.ActivateStaticRule(install.RuleID, lifetime, uc); err != nil {
				failed = append(failed, install.RuleID)
				continue
			}

			toActivate.StaticRuleIDs = append(toActivate.StaticRuleIDs, install.RuleID)
		}

		e.scheduleRuleLifetime(session.Imsi(), session.SessionID(), lifetime, now)
	}

	for _, install := range req.DynamicRulesToInstall {
		lifetime := RuleLifetime{ActivationTime: install.ActivationTime, DeactivationTime: install.DeactivationTime}

		if install.ActivationTime > now {
			if err := session.ScheduleDynamicRule(install.Policy, lifetime, uc); err != nil {
				failed = append(failed, install.Policy.ID)
				continue
			}
		} else {
			if err := session.InsertDynamicRule(install.Policy, lifetime, uc); err != nil {
				failed = append(failed, install.Policy.ID)
				continue
			}

			toActivate.DynamicRules = append(toActivate.DynamicRules, install.Policy)
		}

		e.scheduleRuleLifetime(session.Imsi(), session.SessionID(), lifetime, now)
	}

	e.programRuleChanges(session, toActivate, toDeactivate)
	e.applyBearerUpdates(session.GetDedicatedBearerUpdates(toActivate, toDeactivate, uc))
	e.receiveEventTriggers(session, req.EventTriggers, req.RevalidationTime, uc)

	return failed
}
