// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"encoding/json"
	"sort"
)

// StoredSessionCredit is the persisted layout of a SessionCredit.
type StoredSessionCredit struct {
	Reporting            bool              `json:"reporting"`
	CreditLimitType      CreditLimitType   `json:"credit_limit_type"`
	Buckets              map[Bucket]uint64 `json:"buckets"`
	GrantTrackingType    GrantTrackingType `json:"grant_tracking_type"`
	ReceivedGrantedUnits GrantedUnits      `json:"received_granted_units"`
}

// StoredChargingGrant is the persisted layout of a ChargingGrant.
type StoredChargingGrant struct {
	Credit          StoredSessionCredit `json:"credit"`
	IsFinal         bool                `json:"is_final"`
	FinalActionInfo FinalActionInfo     `json:"final_action_info"`
	ExpiryTime      int64               `json:"expiry_time"`
	ReAuthState     ReAuthState         `json:"reauth_state"`
	ServiceState    ServiceState        `json:"service_state"`
}

// StoredMonitor is the persisted layout of a Monitor.
type StoredMonitor struct {
	Credit   StoredSessionCredit `json:"credit"`
	Level    MonitoringLevel     `json:"level"`
	Disabled bool                `json:"disabled"`
}

// StoredChargingGrantEntry pairs a credit key with its grant; the credit map
// is persisted as a sorted slice because struct keys do not survive JSON.
type StoredChargingGrantEntry struct {
	Key   CreditKey           `json:"key"`
	Grant StoredChargingGrant `json:"grant"`
}

// StoredBearerBinding is one entry of the bearer mapping.
type StoredBearerBinding struct {
	Policy   PolicyID `json:"policy"`
	BearerID uint32   `json:"bearer_id"`
}

// StoredSessionState is the persisted layout of a full session.
type StoredSessionState struct {
	Imsi                  string                             `json:"imsi"`
	SessionID             string                             `json:"session_id"`
	FsmState              SessionFsmState                    `json:"fsm_state"`
	Config                SessionConfig                      `json:"config"`
	SubscriberQuotaState  SubscriberQuotaState               `json:"subscriber_quota_state"`
	TgppCtx               TgppContext                        `json:"tgpp_context"`
	RequestNumber         uint32                             `json:"request_number"`
	PdpStartTime          int64                              `json:"pdp_start_time"`
	PdpEndTime            int64                              `json:"pdp_end_time"`
	PendingEventTriggers  map[EventTrigger]EventTriggerState `json:"pending_event_triggers"`
	RevalidationTime      int64                              `json:"revalidation_time"`
	BearerIDByPolicy      []StoredBearerBinding              `json:"bearer_id_by_policy"`
	MonitorMap            map[string]StoredMonitor           `json:"monitor_map"`
	SessionLevelKey       string                             `json:"session_level_key"`
	CreditMap             []StoredChargingGrantEntry         `json:"credit_map"`
	StaticRuleIDs         []string                           `json:"static_rule_ids"`
	DynamicRules          []PolicyRule                       `json:"dynamic_rules"`
	GyDynamicRules        []PolicyRule                       `json:"gy_dynamic_rules"`
	ScheduledStaticRules  []string                           `json:"scheduled_static_rules"`
	ScheduledDynamicRules []PolicyRule                       `json:"scheduled_dynamic_rules"`
	ActiveRestrictRules   []string                           `json:"active_restrict_rules"`
	RuleLifetimes         map[string]RuleLifetime            `json:"rule_lifetimes"`
}

// Marshal serializes the session to its persisted layout. Map-backed state
// is emitted in a deterministic order so marshaled forms are comparable.
func (s *SessionState) Marshal() StoredSessionState {
	stored := StoredSessionState{
		Imsi:                  s.imsi,
		SessionID:             s.sessionID,
		FsmState:              s.fsmState,
		Config:                s.config,
		SubscriberQuotaState:  s.subscriberQuotaState,
		TgppCtx:               s.tgppContext,
		RequestNumber:         s.requestNumber,
		PdpStartTime:          s.pdpStartTime,
		PdpEndTime:            s.pdpEndTime,
		RevalidationTime:      s.revalidationTime,
		SessionLevelKey:       s.sessionLevelKey,
		StaticRuleIDs:         append([]string{}, s.activeStaticRules...),
		DynamicRules:          s.dynamicRules.GetRules(),
		GyDynamicRules:        s.gyDynamicRules.GetRules(),
		ScheduledDynamicRules: s.scheduledDynamicRules.GetRules(),
		ActiveRestrictRules:   append([]string{}, s.activeRestrictRules...),
		PendingEventTriggers:  make(map[EventTrigger]EventTriggerState),
		MonitorMap:            make(map[string]StoredMonitor),
		RuleLifetimes:         make(map[string]RuleLifetime),
	}

	for trigger, state := range s.pendingEventTriggers {
		stored.PendingEventTriggers[trigger] = state
	}

	for id, lifetime := range s.ruleLifetimes {
		stored.RuleLifetimes[id] = lifetime
	}

	for mkey, monitor := range s.monitorMap {
		stored.MonitorMap[mkey] = monitor.marshal()
	}

	for key, grant := range s.creditMap {
		stored.CreditMap = append(stored.CreditMap, StoredChargingGrantEntry{Key: key, Grant: grant.marshal()})
	}

	sort.Slice(stored.CreditMap, func(i, j int) bool {
		a, b := stored.CreditMap[i].Key, stored.CreditMap[j].Key
		if a.RatingGroup != b.RatingGroup {
			return a.RatingGroup < b.RatingGroup
		}
		return a.ServiceIdentifier < b.ServiceIdentifier
	})

	for id := range s.scheduledStaticRules {
		stored.ScheduledStaticRules = append(stored.ScheduledStaticRules, id)
	}

	sort.Strings(stored.ScheduledStaticRules)

	for policy, bearerID := range s.bearerIDByPolicy {
		stored.BearerIDByPolicy = append(stored.BearerIDByPolicy, StoredBearerBinding{Policy: policy, BearerID: bearerID})
	}

	sort.Slice(stored.BearerIDByPolicy, func(i, j int) bool {
		a, b := stored.BearerIDByPolicy[i].Policy, stored.BearerIDByPolicy[j].Policy
		if a.Type != b.Type {
			return a.Type < b.Type
		}
		return a.RuleID < b.RuleID
	})

	return stored
}

// SerializeStoredSession encodes a stored session for the key/value store.
func SerializeStoredSession(stored StoredSessionState) ([]byte, error) {
	return json.Marshal(stored)
}

// DeserializeStoredSession decodes a stored session from the key/value
// store.
func DeserializeStoredSession(data []byte) (StoredSessionState, error) {
	var stored StoredSessionState

	err := json.Unmarshal(data, &stored)
	if err != nil {
		return StoredSessionState{}, err
	}

	return stored, nil
}
