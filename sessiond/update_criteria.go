// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

// PolicyID keys the bearer mapping by rule origin and id.
type PolicyID struct {
	Type   PolicyType `json:"type"`
	RuleID string     `json:"rule_id"`
}

// CreditUpdateCriteria is the per-credit sub-journal of a session
// transaction. Bucket changes are additive deltas so the merge can replay
// them on top of the stored counters.
type CreditUpdateCriteria struct {
	Deleted              bool
	GrantTrackingType    GrantTrackingType
	ReceivedGrantedUnits GrantedUnits
	BucketDeltas         map[Bucket]uint64
	Reporting            bool

	IsFinal         bool
	FinalActionInfo FinalActionInfo
	ExpiryTime      int64
	ReAuthState     ReAuthState
	ServiceState    ServiceState
}

func newCreditUpdateCriteria(grant *ChargingGrant) *CreditUpdateCriteria {
	return &CreditUpdateCriteria{
		GrantTrackingType:    grant.Credit.grantTrackingType,
		ReceivedGrantedUnits: grant.Credit.receivedGrantedUnits,
		BucketDeltas:         make(map[Bucket]uint64),
		Reporting:            grant.Credit.reporting,
		IsFinal:              grant.IsFinal,
		FinalActionInfo:      grant.FinalActionInfo,
		ExpiryTime:           grant.ExpiryTime,
		ReAuthState:          grant.ReAuthState,
		ServiceState:         grant.ServiceState,
	}
}

func newMonitorUpdateCriteria(monitor *Monitor) *CreditUpdateCriteria {
	return &CreditUpdateCriteria{
		GrantTrackingType:    monitor.Credit.grantTrackingType,
		ReceivedGrantedUnits: monitor.Credit.receivedGrantedUnits,
		BucketDeltas:         make(map[Bucket]uint64),
		Reporting:            monitor.Credit.reporting,
	}
}

// SessionUpdateCriteria journals every delta a sequence of session calls
// produced. The enforcer commits it to the store on success or discards it;
// ApplyUpdateCriteria merges it back into a stored session.
type SessionUpdateCriteria struct {
	IsSessionEnded bool

	IsFsmUpdated    bool
	UpdatedFsmState SessionFsmState

	IsConfigUpdated bool
	UpdatedConfig   SessionConfig

	RequestNumberIncrement uint32
	UpdatedPdpEndTime      int64

	StaticRulesToInstall      []string
	StaticRulesToUninstall    []string
	NewScheduledStaticRules   []string
	DynamicRulesToInstall     []PolicyRule
	DynamicRulesToUninstall   []string
	NewScheduledDynamicRules  []PolicyRule
	GyDynamicRulesToInstall   []PolicyRule
	GyDynamicRulesToUninstall []string
	RestrictRulesToInstall    []string
	RestrictRulesToUninstall  []string
	NewRuleLifetimes          map[string]RuleLifetime

	ChargingCreditToInstall map[CreditKey]StoredChargingGrant
	ChargingCreditMap       map[CreditKey]*CreditUpdateCriteria

	MonitorCreditToInstall map[string]StoredMonitor
	MonitorCreditMap       map[string]*CreditUpdateCriteria

	IsSessionLevelKeyUpdated bool
	UpdatedSessionLevelKey   string

	IsBearerMappingUpdated  bool
	UpdatedBearerIDByPolicy map[PolicyID]uint32

	PendingEventTriggers map[EventTrigger]EventTriggerState

	IsRevalidationTimeUpdated bool
	RevalidationTime          int64

	IsQuotaStateUpdated         bool
	UpdatedSubscriberQuotaState SubscriberQuotaState

	IsTgppContextUpdated bool
	UpdatedTgppContext   TgppContext
}

func NewSessionUpdateCriteria() *SessionUpdateCriteria {
	return &SessionUpdateCriteria{
		NewRuleLifetimes:        make(map[string]RuleLifetime),
		ChargingCreditToInstall: make(map[CreditKey]StoredChargingGrant),
		ChargingCreditMap:       make(map[CreditKey]*CreditUpdateCriteria),
		MonitorCreditToInstall:  make(map[string]StoredMonitor),
		MonitorCreditMap:        make(map[string]*CreditUpdateCriteria),
		UpdatedBearerIDByPolicy: make(map[PolicyID]uint32),
		PendingEventTriggers:    make(map[EventTrigger]EventTriggerState),
	}
}

// SessionUpdate collects the criteria of one enforcer pass, keyed by imsi
// and session id.
type SessionUpdate map[string]map[string]*SessionUpdateCriteria

func NewSessionUpdate() SessionUpdate {
	return make(SessionUpdate)
}

// CriteriaFor returns the journal for a session, creating it on first use.
func (u SessionUpdate) CriteriaFor(imsi, sessionID string) *SessionUpdateCriteria {
	bySession, ok := u[imsi]
	if !ok {
		bySession = make(map[string]*SessionUpdateCriteria)
		u[imsi] = bySession
	}

	uc, ok := bySession[sessionID]
	if !ok {
		uc = NewSessionUpdateCriteria()
		bySession[sessionID] = uc
	}

	return uc
}
