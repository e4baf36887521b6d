// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"sort"

	"github.com/omec-project/sessiond/logger"
)

// creditUc returns the journal entry for a charging grant, creating it on
// first touch.
func (s *SessionState) creditUc(key CreditKey, grant *ChargingGrant, uc *SessionUpdateCriteria) *CreditUpdateCriteria {
	if uc == nil {
		return nil
	}

	creditUc, ok := uc.ChargingCreditMap[key]
	if !ok {
		creditUc = newCreditUpdateCriteria(grant)
		uc.ChargingCreditMap[key] = creditUc
	}

	return creditUc
}

// monitorUc returns the journal entry for a monitor, creating it on first
// touch.
func (s *SessionState) monitorUc(mkey string, monitor *Monitor, uc *SessionUpdateCriteria) *CreditUpdateCriteria {
	if uc == nil {
		return nil
	}

	creditUc, ok := uc.MonitorCreditMap[mkey]
	if !ok {
		creditUc = newMonitorUpdateCriteria(monitor)
		uc.MonitorCreditMap[mkey] = creditUc
	}

	return creditUc
}

// ChargingGrantFor returns the grant tracked under the key.
func (s *SessionState) ChargingGrantFor(key CreditKey) (*ChargingGrant, bool) {
	grant, ok := s.creditMap[key]
	return grant, ok
}

// MonitorFor returns the monitor tracked under the key.
func (s *SessionState) MonitorFor(mkey string) (*Monitor, bool) {
	monitor, ok := s.monitorMap[mkey]
	return monitor, ok
}

// ReceiveChargingCredit creates or refreshes a charging grant from a
// controller response. Failed responses mark the credit and may flip the
// service toward deactivation.
func (s *SessionState) ReceiveChargingCredit(resp CreditUpdateResponse, uc *SessionUpdateCriteria) error {
	grant, exists := s.creditMap[resp.ChargingKey]

	if !resp.Success {
		if !exists {
			return ErrNotFoundWithParam("charging grant", "key", resp.ChargingKey)
		}

		creditUc := s.creditUc(resp.ChargingKey, grant, uc)
		grant.Credit.MarkFailure(resp.ResultCode, creditUc)

		if grant.ShouldDeactivateService(s.creditBehavior.TerminateOnExhaust) {
			grant.SetServiceState(ServiceNeedsDeactivation, creditUc)
		}

		return nil
	}

	if !exists {
		grant = NewChargingGrant(resp.LimitType)
		grant.ReceiveChargingGrant(resp.Credit, nil)

		if grant.ShouldDeactivateService(s.creditBehavior.TerminateOnExhaust) {
			grant.SetServiceState(ServiceNeedsDeactivation, nil)
		}

		s.creditMap[resp.ChargingKey] = grant

		if uc != nil {
			uc.ChargingCreditToInstall[resp.ChargingKey] = grant.marshal()
		}

		return nil
	}

	creditUc := s.creditUc(resp.ChargingKey, grant, uc)
	grant.ReceiveChargingGrant(resp.Credit, creditUc)

	if grant.ReAuthState == ReAuthProcessing {
		grant.SetReAuthState(ReAuthNotNeeded, creditUc)
	}

	if grant.ShouldDeactivateService(s.creditBehavior.TerminateOnExhaust) {
		grant.SetServiceState(ServiceNeedsDeactivation, creditUc)
	}

	return nil
}

// ReceiveMonitor creates or refreshes a usage monitor from a controller
// response. Responses without a credit payload carry only event-trigger
// information and are ignored here.
func (s *SessionState) ReceiveMonitor(resp UsageMonitoringUpdateResponse, uc *SessionUpdateCriteria) error {
	if resp.Credit == nil {
		return nil
	}

	mkey := resp.Credit.MonitoringKey

	if uc != nil {
		if pending, ok := uc.MonitorCreditMap[mkey]; ok && pending.Deleted {
			return ErrInvalidArgumentWithReason("monitoring_key", mkey, "monitor already marked deleted")
		}
	}

	monitor, exists := s.monitorMap[mkey]

	if !resp.Success {
		if exists {
			creditUc := s.monitorUc(mkey, monitor, uc)
			monitor.Credit.MarkFailure(resp.ResultCode, creditUc)
		}

		return nil
	}

	if !exists {
		if resp.Credit.Action == MonitorDisable {
			return nil
		}

		monitor = NewMonitor(resp.Credit.Level)
		monitor.Credit.ReceiveCredit(resp.Credit.GrantedUnits, nil)
		s.monitorMap[mkey] = monitor

		if resp.Credit.Level == SessionLevel {
			s.setSessionLevelKey(mkey, uc)
		}

		if uc != nil {
			uc.MonitorCreditToInstall[mkey] = monitor.marshal()
		}

		return nil
	}

	if resp.Credit.Action == MonitorDisable {
		monitor.Disabled = true

		if monitor.ShouldDelete() {
			s.deleteMonitor(mkey, uc)
			return nil
		}

		// Persist the disabled flag; the monitor drains and is deleted on
		// the next usage accumulation that empties it.
		if uc != nil {
			uc.MonitorCreditToInstall[mkey] = monitor.marshal()
		}

		return nil
	}

	creditUc := s.monitorUc(mkey, monitor, uc)
	monitor.Credit.ReceiveCredit(resp.Credit.GrantedUnits, creditUc)

	return nil
}

func (s *SessionState) setSessionLevelKey(mkey string, uc *SessionUpdateCriteria) {
	s.sessionLevelKey = mkey

	if uc != nil {
		uc.IsSessionLevelKeyUpdated = true
		uc.UpdatedSessionLevelKey = mkey
	}
}

func (s *SessionState) deleteMonitor(mkey string, uc *SessionUpdateCriteria) {
	monitor, ok := s.monitorMap[mkey]
	if !ok {
		return
	}

	creditUc := s.monitorUc(mkey, monitor, uc)
	if creditUc != nil {
		creditUc.Deleted = true
	}

	delete(s.monitorMap, mkey)

	if s.sessionLevelKey == mkey {
		s.setSessionLevelKey("", uc)
	}

	logger.SessLog.With("session_id", s.sessionID, "monitoring_key", mkey).Infoln("usage monitor deleted")
}

// AddRuleUsage accumulates pipeline-reported traffic for one rule into the
// matching charging grant and monitors. The session-level monitor also
// accumulates when it is distinct from the rule's own monitor.
func (s *SessionState) AddRuleUsage(ruleID string, bytesTx, bytesRx uint64, uc *SessionUpdateCriteria) {
	if key, ok := s.ChargingKeyForRule(ruleID); ok {
		if grant, exists := s.creditMap[key]; exists {
			creditUc := s.creditUc(key, grant, uc)
			grant.Credit.AddUsed(bytesTx, bytesRx, creditUc)

			if grant.ShouldDeactivateService(s.creditBehavior.TerminateOnExhaust) {
				grant.SetServiceState(ServiceNeedsDeactivation, creditUc)
			}
		}
	}

	ruleMkey := ""
	if mkey, ok := s.MonitoringKeyForRule(ruleID); ok {
		ruleMkey = mkey
		s.addToMonitor(mkey, bytesTx, bytesRx, uc)
	}

	if s.sessionLevelKey != "" && s.sessionLevelKey != ruleMkey {
		s.addToMonitor(s.sessionLevelKey, bytesTx, bytesRx, uc)
	}
}

func (s *SessionState) addToMonitor(mkey string, bytesTx, bytesRx uint64, uc *SessionUpdateCriteria) {
	monitor, ok := s.monitorMap[mkey]
	if !ok {
		return
	}

	creditUc := s.monitorUc(mkey, monitor, uc)
	monitor.Credit.AddUsed(bytesTx, bytesRx, creditUc)

	if monitor.ShouldDelete() {
		s.deleteMonitor(mkey, uc)
	}
}

// GetUpdates collects everything the session owes the controller: charging
// usage updates and service actions, monitor updates, and event-trigger
// reports. Only ACTIVE sessions produce updates.
func (s *SessionState) GetUpdates(req *UpdateSessionRequest, actions *[]*ServiceAction, uc *SessionUpdateCriteria) {
	if s.fsmState != SessionActive {
		return
	}

	s.getChargingUpdates(req, actions, uc)
	s.getMonitorUpdates(req, uc)
	s.getEventTriggerUpdates(req, uc)
}

func (s *SessionState) sortedCreditKeys() []CreditKey {
	keys := make([]CreditKey, 0, len(s.creditMap))
	for key := range s.creditMap {
		keys = append(keys, key)
	}

	sort.Slice(keys, func(i, j int) bool {
		if keys[i].RatingGroup != keys[j].RatingGroup {
			return keys[i].RatingGroup < keys[j].RatingGroup
		}
		return keys[i].ServiceIdentifier < keys[j].ServiceIdentifier
	})

	return keys
}

func (s *SessionState) sortedMonitorKeys() []string {
	keys := make([]string, 0, len(s.monitorMap))
	for mkey := range s.monitorMap {
		keys = append(keys, mkey)
	}

	sort.Strings(keys)

	return keys
}

func (s *SessionState) getChargingUpdates(req *UpdateSessionRequest, actions *[]*ServiceAction, uc *SessionUpdateCriteria) {
	for _, key := range s.sortedCreditKeys() {
		grant := s.creditMap[key]
		creditUc := s.creditUc(key, grant, uc)

		action := grant.GetAction(creditUc)

		if action == ContinueService {
			updateType, needed := grant.GetUpdateType(s.creditBehavior.UsageReportingThreshold)
			if !needed {
				continue
			}

			if updateType == ReAuthRequiredUsage {
				grant.SetReAuthState(ReAuthProcessing, creditUc)
			}

			usage := grant.GetCreditUsage(updateType, creditUc, false)
			usage.ChargingKey = key

			req.Updates = append(req.Updates, CreditUsageUpdate{
				SessionID:     s.sessionID,
				RequestNumber: s.IncrementRequestNumber(uc),
				Imsi:          s.imsi,
				Msisdn:        s.config.Msisdn,
				Apn:           s.config.Apn,
				UeIPv4:        s.config.UeIPv4,
				RatType:       s.config.RatType,
				TgppCtx:       s.tgppContext,
				Usage:         usage,
			})

			continue
		}

		serviceAction := &ServiceAction{Type: action}

		switch action {
		case RedirectService:
			if grant.ServiceState == ServiceRedirected {
				continue
			}

			grant.SetServiceState(ServiceRedirected, creditUc)
			serviceAction.RedirectServer = grant.FinalActionInfo.RedirectServer
		case RestrictAccess:
			if grant.ServiceState == ServiceRestricted {
				continue
			}

			grant.SetServiceState(ServiceRestricted, creditUc)
			serviceAction.RestrictRuleIDs = append([]string{}, grant.FinalActionInfo.RestrictRules...)
		}

		// Every non-CONTINUE action carries enough context for the enforcer
		// to act without reloading the session.
		serviceAction.CreditKey = key
		serviceAction.Imsi = s.imsi
		serviceAction.SessionID = s.sessionID
		serviceAction.IP = s.config.UeIPv4
		serviceAction.RuleIDs, serviceAction.RuleDefinitions = s.RulesForChargingKey(key)

		*actions = append(*actions, serviceAction)

		logger.SessLog.With("session_id", s.sessionID, "action", action.String(),
			"rating_group", key.RatingGroup).Infoln("service action collected")
	}
}

func (s *SessionState) getMonitorUpdates(req *UpdateSessionRequest, uc *SessionUpdateCriteria) {
	for _, mkey := range s.sortedMonitorKeys() {
		monitor := s.monitorMap[mkey]
		credit := monitor.Credit

		if credit.IsReporting() {
			continue
		}

		// A zero-volume grant defers reporting until the counter is truly
		// drained, otherwise the engine loops sending empty reports.
		if credit.CurrentGrantContainsZero() && !credit.IsQuotaExhausted(1) {
			continue
		}

		if !credit.IsQuotaExhausted(s.creditBehavior.UsageReportingThreshold) {
			continue
		}

		creditUc := s.monitorUc(mkey, monitor, uc)
		usage := credit.GetUsageForReporting(creditUc)

		req.UsageMonitors = append(req.UsageMonitors, UsageMonitorUpdate{
			SessionID:     s.sessionID,
			RequestNumber: s.IncrementRequestNumber(uc),
			Imsi:          s.imsi,
			UeIPv4:        s.config.UeIPv4,
			MonitoringKey: mkey,
			Level:         monitor.Level,
			BytesTx:       usage.BytesTx,
			BytesRx:       usage.BytesRx,
		})
	}
}

func (s *SessionState) getEventTriggerUpdates(req *UpdateSessionRequest, uc *SessionUpdateCriteria) {
	state, ok := s.pendingEventTriggers[RevalidationTimeout]
	if !ok || state != TriggerReady {
		return
	}

	req.UsageMonitors = append(req.UsageMonitors, UsageMonitorUpdate{
		SessionID:     s.sessionID,
		RequestNumber: s.IncrementRequestNumber(uc),
		Imsi:          s.imsi,
		UeIPv4:        s.config.UeIPv4,
		EventTrigger:  RevalidationTimeout,
	})

	s.setEventTriggerState(RevalidationTimeout, TriggerCleared, uc)
}

// ReauthKey flags one charging grant for reauthorization. A grant that is
// mid-report is left alone; an unknown key gets a disabled placeholder
// grant so the next update asks the controller about it.
func (s *SessionState) ReauthKey(key CreditKey, uc *SessionUpdateCriteria) ReAuthResult {
	grant, ok := s.creditMap[key]
	if ok {
		if grant.Credit.IsReporting() || grant.ReAuthState == ReAuthRequired {
			return UpdateNotNeeded
		}

		creditUc := s.creditUc(key, grant, uc)
		grant.SetReAuthState(ReAuthRequired, creditUc)

		return UpdateInitiated
	}

	grant = NewChargingGrant(CreditFinite)
	grant.ServiceState = ServiceDisabled
	grant.ReAuthState = ReAuthRequired
	s.creditMap[key] = grant

	if uc != nil {
		uc.ChargingCreditToInstall[key] = grant.marshal()
	}

	return UpdateInitiated
}

// ReauthAll flags every idle charging grant for reauthorization.
func (s *SessionState) ReauthAll(uc *SessionUpdateCriteria) ReAuthResult {
	initiated := false

	for _, key := range s.sortedCreditKeys() {
		grant := s.creditMap[key]

		if grant.Credit.IsReporting() || grant.ReAuthState == ReAuthRequired {
			continue
		}

		creditUc := s.creditUc(key, grant, uc)
		grant.SetReAuthState(ReAuthRequired, creditUc)
		initiated = true
	}

	if initiated {
		return UpdateInitiated
	}

	return UpdateNotNeeded
}

// CompleteTermination finalizes the session: the FSM lands on TERMINATED and
// every remaining byte of charging and monitoring usage is bundled into a
// terminate request for the reporter. Calling it on a TERMINATED session is
// a no-op; calling it on an ACTIVE session is refused.
func (s *SessionState) CompleteTermination(uc *SessionUpdateCriteria) (SessionTerminateRequest, bool, error) {
	switch s.fsmState {
	case SessionTerminated:
		return SessionTerminateRequest{}, false, nil
	case SessionActive:
		return SessionTerminateRequest{}, false,
			ErrInvalidOperation("complete_termination on an active session")
	}

	if err := s.SetFsmState(SessionTerminated, uc); err != nil {
		return SessionTerminateRequest{}, false, err
	}

	if uc != nil {
		uc.IsSessionEnded = true
	}

	req := SessionTerminateRequest{
		SessionID:     s.sessionID,
		RequestNumber: s.IncrementRequestNumber(uc),
		Imsi:          s.imsi,
		Apn:           s.config.Apn,
		Msisdn:        s.config.Msisdn,
		UeIPv4:        s.config.UeIPv4,
		TgppCtx:       s.tgppContext,
	}

	for _, key := range s.sortedCreditKeys() {
		grant := s.creditMap[key]
		creditUc := s.creditUc(key, grant, uc)

		usage := grant.GetCreditUsage(Terminated, creditUc, true)
		usage.ChargingKey = key
		req.CreditUsages = append(req.CreditUsages, usage)
	}

	for _, mkey := range s.sortedMonitorKeys() {
		monitor := s.monitorMap[mkey]
		creditUc := s.monitorUc(mkey, monitor, uc)

		usage := monitor.Credit.GetAllUnreportedUsageForReporting(creditUc)

		req.MonitorUsages = append(req.MonitorUsages, UsageMonitorUpdate{
			SessionID:     s.sessionID,
			RequestNumber: req.RequestNumber,
			Imsi:          s.imsi,
			UeIPv4:        s.config.UeIPv4,
			MonitoringKey: mkey,
			Level:         monitor.Level,
			BytesTx:       usage.BytesTx,
			BytesRx:       usage.BytesRx,
		})
	}

	logger.SessLog.With("session_id", s.sessionID).Infoln("session termination completed")

	return req, true, nil
}

// ResetReportingGrants rolls back the in-flight reporting cycles named in a
// failed update request so the usage is retried on the next pass.
func (s *SessionState) ResetReportingGrants(req *UpdateSessionRequest, uc *SessionUpdateCriteria) {
	for _, update := range req.Updates {
		if update.SessionID != s.sessionID {
			continue
		}

		if grant, ok := s.creditMap[update.Usage.ChargingKey]; ok {
			grant.Credit.ResetReporting(s.creditUc(update.Usage.ChargingKey, grant, uc))
		}
	}

	for _, update := range req.UsageMonitors {
		if update.SessionID != s.sessionID || update.MonitoringKey == "" {
			continue
		}

		if monitor, ok := s.monitorMap[update.MonitoringKey]; ok {
			monitor.Credit.ResetReporting(s.monitorUc(update.MonitoringKey, monitor, uc))
		}
	}
}

// TotalChargingUsage sums the used counters across every charging grant.
func (s *SessionState) TotalChargingUsage() Usage {
	var total Usage

	for _, grant := range s.creditMap {
		total.BytesTx += grant.Credit.GetCredit(UsedTx)
		total.BytesRx += grant.Credit.GetCredit(UsedRx)
	}

	return total
}
