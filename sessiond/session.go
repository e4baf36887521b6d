// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"fmt"

	"github.com/omec-project/sessiond/logger"
)

// CreditBehavior carries the engine-wide credit policy knobs a session needs
// for its update decisions.
type CreditBehavior struct {
	// UsageReportingThreshold is the consumed fraction of a grant that
	// triggers a partial usage report.
	UsageReportingThreshold float64
	// TerminateOnExhaust enables service deactivation when a final grant
	// with a TERMINATE action runs out.
	TerminateOnExhaust bool
}

// SessionState is the per-session aggregate: FSM, config, rule collections,
// credit and monitor maps, event triggers and the bearer mapping. All
// mutations run on the enforcer's loop; the type itself is not synchronized.
type SessionState struct {
	imsi          string
	sessionID     string
	fsmState      SessionFsmState
	config        SessionConfig
	requestNumber uint32
	pdpStartTime  int64
	pdpEndTime    int64
	tgppContext   TgppContext

	subscriberQuotaState SubscriberQuotaState

	activeStaticRules     []string
	scheduledStaticRules  map[string]struct{}
	dynamicRules          *RuleCollection
	scheduledDynamicRules *RuleCollection
	gyDynamicRules        *RuleCollection
	activeRestrictRules   []string
	ruleLifetimes         map[string]RuleLifetime

	creditMap       map[CreditKey]*ChargingGrant
	monitorMap      map[string]*Monitor
	sessionLevelKey string

	bearerIDByPolicy     map[PolicyID]uint32
	pendingEventTriggers map[EventTrigger]EventTriggerState
	revalidationTime     int64

	ruleStore      *RuleStore
	creditBehavior CreditBehavior
}

func NewSessionState(imsi, sessionID string, config SessionConfig, ruleStore *RuleStore,
	tgppCtx TgppContext, pdpStartTime int64, behavior CreditBehavior) *SessionState {
	return &SessionState{
		imsi:                  imsi,
		sessionID:             sessionID,
		fsmState:              SessionActive,
		config:                config,
		requestNumber:         1,
		pdpStartTime:          pdpStartTime,
		tgppContext:           tgppCtx,
		scheduledStaticRules:  make(map[string]struct{}),
		dynamicRules:          NewRuleCollection(),
		scheduledDynamicRules: NewRuleCollection(),
		gyDynamicRules:        NewRuleCollection(),
		ruleLifetimes:         make(map[string]RuleLifetime),
		creditMap:             make(map[CreditKey]*ChargingGrant),
		monitorMap:            make(map[string]*Monitor),
		bearerIDByPolicy:      make(map[PolicyID]uint32),
		pendingEventTriggers:  make(map[EventTrigger]EventTriggerState),
		ruleStore:             ruleStore,
		creditBehavior:        behavior,
	}
}

// NewSessionStateFromStored rebuilds a live session from its persisted
// layout.
func NewSessionStateFromStored(stored StoredSessionState, ruleStore *RuleStore, behavior CreditBehavior) *SessionState {
	s := NewSessionState(stored.Imsi, stored.SessionID, stored.Config, ruleStore,
		stored.TgppCtx, stored.PdpStartTime, behavior)

	s.fsmState = stored.FsmState
	s.requestNumber = stored.RequestNumber
	s.pdpEndTime = stored.PdpEndTime
	s.subscriberQuotaState = stored.SubscriberQuotaState
	s.revalidationTime = stored.RevalidationTime
	s.sessionLevelKey = stored.SessionLevelKey
	s.activeStaticRules = append([]string{}, stored.StaticRuleIDs...)
	s.activeRestrictRules = append([]string{}, stored.ActiveRestrictRules...)

	for _, id := range stored.ScheduledStaticRules {
		s.scheduledStaticRules[id] = struct{}{}
	}

	for _, rule := range stored.DynamicRules {
		s.dynamicRules.InsertRule(rule)
	}

	for _, rule := range stored.ScheduledDynamicRules {
		s.scheduledDynamicRules.InsertRule(rule)
	}

	for _, rule := range stored.GyDynamicRules {
		s.gyDynamicRules.InsertRule(rule)
	}

	for id, lifetime := range stored.RuleLifetimes {
		s.ruleLifetimes[id] = lifetime
	}

	for _, entry := range stored.CreditMap {
		s.creditMap[entry.Key] = newChargingGrantFromStored(entry.Grant)
	}

	for mkey, monitor := range stored.MonitorMap {
		s.monitorMap[mkey] = newMonitorFromStored(monitor)
	}

	for trigger, state := range stored.PendingEventTriggers {
		s.pendingEventTriggers[trigger] = state
	}

	for _, binding := range stored.BearerIDByPolicy {
		s.bearerIDByPolicy[binding.Policy] = binding.BearerID
	}

	return s
}

func (s *SessionState) Imsi() string      { return s.imsi }
func (s *SessionState) SessionID() string { return s.sessionID }

func (s *SessionState) Config() SessionConfig { return s.config }

// SetConfig replaces the session config and journals the change.
func (s *SessionState) SetConfig(config SessionConfig, uc *SessionUpdateCriteria) {
	s.config = config

	if uc != nil {
		uc.IsConfigUpdated = true
		uc.UpdatedConfig = config
	}
}

func (s *SessionState) FsmState() SessionFsmState { return s.fsmState }

// SetFsmState transitions the session lifecycle and journals the change.
// TERMINATED is terminal; attempts to leave it are refused.
func (s *SessionState) SetFsmState(state SessionFsmState, uc *SessionUpdateCriteria) error {
	if s.fsmState == SessionTerminated && state != SessionTerminated {
		return ErrInvalidOperation(fmt.Sprintf("fsm transition %s -> %s", s.fsmState, state))
	}

	if s.fsmState != state {
		logger.SessLog.With("session_id", s.sessionID, "from", s.fsmState.String(), "to", state.String()).
			Infoln("session state transition")
	}

	s.fsmState = state

	if uc != nil {
		uc.IsFsmUpdated = true
		uc.UpdatedFsmState = state
	}

	return nil
}

// IsActive reports whether the session may produce upstream updates and
// downstream programming.
func (s *SessionState) IsActive() bool {
	return s.fsmState == SessionActive
}

// IsTerminating reports whether termination has been entered.
func (s *SessionState) IsTerminating() bool {
	return s.fsmState == SessionReleased || s.fsmState == SessionTerminated
}

func (s *SessionState) RequestNumber() uint32 { return s.requestNumber }

// IncrementRequestNumber advances the outbound sequence number and returns
// the value the next message must carry.
func (s *SessionState) IncrementRequestNumber(uc *SessionUpdateCriteria) uint32 {
	s.requestNumber++

	if uc != nil {
		uc.RequestNumberIncrement++
	}

	return s.requestNumber
}

func (s *SessionState) PdpStartTime() int64 { return s.pdpStartTime }
func (s *SessionState) PdpEndTime() int64   { return s.pdpEndTime }

// SetPdpEndTime stamps the session's end and journals it.
func (s *SessionState) SetPdpEndTime(endTime int64, uc *SessionUpdateCriteria) {
	s.pdpEndTime = endTime

	if uc != nil {
		uc.UpdatedPdpEndTime = endTime
	}
}

func (s *SessionState) TgppContext() TgppContext { return s.tgppContext }

// SetTgppContext refreshes the controller destination hosts.
func (s *SessionState) SetTgppContext(ctx TgppContext, uc *SessionUpdateCriteria) {
	s.tgppContext = ctx

	if uc != nil {
		uc.IsTgppContextUpdated = true
		uc.UpdatedTgppContext = ctx
	}
}

func (s *SessionState) SubscriberQuotaState() SubscriberQuotaState {
	return s.subscriberQuotaState
}

// SetSubscriberQuotaState records the carrier-wifi wallet state.
func (s *SessionState) SetSubscriberQuotaState(state SubscriberQuotaState, uc *SessionUpdateCriteria) {
	s.subscriberQuotaState = state

	if uc != nil {
		uc.IsQuotaStateUpdated = true
		uc.UpdatedSubscriberQuotaState = state
	}
}

func (s *SessionState) SessionLevelKey() string { return s.sessionLevelKey }

func (s *SessionState) RevalidationTime() int64 { return s.revalidationTime }

// SetRevalidationTime arms the revalidation deadline and journals it.
func (s *SessionState) SetRevalidationTime(revalidation int64, uc *SessionUpdateCriteria) {
	s.revalidationTime = revalidation

	if uc != nil {
		uc.IsRevalidationTimeUpdated = true
		uc.RevalidationTime = revalidation
	}
}

// AddEventTrigger arms a trigger in PENDING state.
func (s *SessionState) AddEventTrigger(trigger EventTrigger, uc *SessionUpdateCriteria) {
	s.setEventTriggerState(trigger, TriggerPending, uc)
}

// MarkEventTriggerReady flips an armed trigger to READY so the next update
// collection reports it.
func (s *SessionState) MarkEventTriggerReady(trigger EventTrigger, uc *SessionUpdateCriteria) {
	if _, ok := s.pendingEventTriggers[trigger]; !ok {
		return
	}

	s.setEventTriggerState(trigger, TriggerReady, uc)
}

func (s *SessionState) setEventTriggerState(trigger EventTrigger, state EventTriggerState, uc *SessionUpdateCriteria) {
	s.pendingEventTriggers[trigger] = state

	if uc != nil {
		uc.PendingEventTriggers[trigger] = state
	}
}

// EventTriggerState returns the state of an armed trigger.
func (s *SessionState) EventTriggerState(trigger EventTrigger) (EventTriggerState, bool) {
	state, ok := s.pendingEventTriggers[trigger]
	return state, ok
}

// BearerIDForPolicy returns the dedicated bearer bound to a policy.
func (s *SessionState) BearerIDForPolicy(policy PolicyID) (uint32, bool) {
	id, ok := s.bearerIDByPolicy[policy]
	return id, ok
}

// BindPolicyToBearer records the access network's answer to a dedicated
// bearer request. A bearer id of zero means the creation failed and the
// mapping is dropped.
func (s *SessionState) BindPolicyToBearer(req PolicyBearerBindingRequest, uc *SessionUpdateCriteria) {
	policy := PolicyID{Type: s.policyTypeForRule(req.PolicyRuleID), RuleID: req.PolicyRuleID}

	if req.BearerID == 0 {
		delete(s.bearerIDByPolicy, policy)
	} else {
		s.bearerIDByPolicy[policy] = req.BearerID
	}

	if uc != nil {
		uc.IsBearerMappingUpdated = true
		uc.UpdatedBearerIDByPolicy = make(map[PolicyID]uint32, len(s.bearerIDByPolicy))

		for p, id := range s.bearerIDByPolicy {
			uc.UpdatedBearerIDByPolicy[p] = id
		}
	}
}

func (s *SessionState) policyTypeForRule(ruleID string) PolicyType {
	if _, ok := s.dynamicRules.Get(ruleID); ok {
		return DynamicPolicy
	}

	return StaticPolicy
}

// DefaultBearerQci returns the QCI of the session's default bearer, if LTE.
func (s *SessionState) DefaultBearerQci() (uint32, bool) {
	if s.config.LTE == nil || s.config.LTE.DefaultQos == nil {
		return 0, false
	}

	return s.config.LTE.DefaultQos.Qci, true
}
