// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

// LTEContext is the per-RAT context of an LTE session.
type LTEContext struct {
	BearerID   uint32   `json:"bearer_id"`
	SpgwIPv4   string   `json:"spgw_ipv4"`
	DefaultQos *QosInfo `json:"default_qos,omitempty"`
}

// WLANContext is the per-RAT context of a carrier-wifi session.
type WLANContext struct {
	MacAddr         string `json:"mac_addr"`
	RadiusSessionID string `json:"radius_session_id"`
}

// SessionConfig is the immutable-ish identity and access context of a
// session, set at create time and occasionally refreshed by the controller.
type SessionConfig struct {
	SubscriberID string       `json:"subscriber_id"`
	Msisdn       string       `json:"msisdn"`
	Apn          string       `json:"apn"`
	ImeiSV       string       `json:"imeisv"`
	UeIPv4       string       `json:"ue_ipv4"`
	RatType      RatType      `json:"rat_type"`
	LTE          *LTEContext  `json:"lte,omitempty"`
	WLAN         *WLANContext `json:"wlan,omitempty"`
}

// TgppContext carries the charging/policy destination hosts assigned by the
// controller at session create.
type TgppContext struct {
	GxDestHost string `json:"gx_dest_host"`
	GyDestHost string `json:"gy_dest_host"`
}

// StaticRuleInstall references a catalog rule with an optional lifetime.
type StaticRuleInstall struct {
	RuleID           string
	ActivationTime   int64
	DeactivationTime int64
}

// DynamicRuleInstall carries a rule definition with an optional lifetime.
type DynamicRuleInstall struct {
	Policy           PolicyRule
	ActivationTime   int64
	DeactivationTime int64
}

// CreateSessionRequest is sent upstream when a subscriber attaches.
type CreateSessionRequest struct {
	Imsi      string
	SessionID string
	Config    SessionConfig
}

// CreditUpdateResponse is the controller's answer for one charging key.
type CreditUpdateResponse struct {
	Success     bool
	Imsi        string
	SessionID   string
	ChargingKey CreditKey
	Credit      ChargingCredit
	ResultCode  uint32
	LimitType   CreditLimitType
}

// UsageMonitoringCredit is the monitoring payload of a controller response.
type UsageMonitoringCredit struct {
	Action        MonitoringAction
	MonitoringKey string
	Level         MonitoringLevel
	GrantedUnits  GrantedUnits
}

// UsageMonitoringUpdateResponse is the controller's answer for one monitor.
// Credit is nil when the response only carries event-trigger information.
type UsageMonitoringUpdateResponse struct {
	Success          bool
	Imsi             string
	SessionID        string
	Credit           *UsageMonitoringCredit
	EventTriggers    []EventTrigger
	RevalidationTime int64
	ResultCode       uint32
}

// CreateSessionResponse bundles everything the controller hands back at
// session create.
type CreateSessionResponse struct {
	Credits          []CreditUpdateResponse
	UsageMonitors    []UsageMonitoringUpdateResponse
	StaticRules      []StaticRuleInstall
	DynamicRules     []DynamicRuleInstall
	RulesToRemove    []string
	EventTriggers    []EventTrigger
	RevalidationTime int64
	TgppCtx          TgppContext
}

// CreditUsage is one usage record of an upstream report.
type CreditUsage struct {
	ChargingKey CreditKey
	BytesTx     uint64
	BytesRx     uint64
	Type        CreditUsageType
}

// CreditUsageUpdate is a full upstream charging report for one credit.
type CreditUsageUpdate struct {
	SessionID     string
	RequestNumber uint32
	Imsi          string
	Msisdn        string
	Apn           string
	UeIPv4        string
	RatType       RatType
	TgppCtx       TgppContext
	Usage         CreditUsage
}

// UsageMonitorUpdate is a full upstream monitoring report for one monitor.
// EventTrigger is set when the report is trigger-driven rather than
// volume-driven.
type UsageMonitorUpdate struct {
	SessionID     string
	RequestNumber uint32
	Imsi          string
	UeIPv4        string
	MonitoringKey string
	Level         MonitoringLevel
	BytesTx       uint64
	BytesRx       uint64
	EventTrigger  EventTrigger
}

// UpdateSessionRequest is the batched upstream report of one enforcer pass.
type UpdateSessionRequest struct {
	Updates       []CreditUsageUpdate
	UsageMonitors []UsageMonitorUpdate
}

// UpdateSessionResponse is the controller's batched answer.
type UpdateSessionResponse struct {
	Responses             []CreditUpdateResponse
	UsageMonitorResponses []UsageMonitoringUpdateResponse
}

// SessionTerminateRequest carries all remaining usage at termination.
type SessionTerminateRequest struct {
	SessionID     string
	RequestNumber uint32
	Imsi          string
	Apn           string
	Msisdn        string
	UeIPv4        string
	TgppCtx       TgppContext
	CreditUsages  []CreditUsage
	MonitorUsages []UsageMonitorUpdate
}

// RuleRecord is the pipeline's usage report for one (subscriber, rule) pair.
type RuleRecord struct {
	Imsi    string
	RuleID  string
	UeIPv4  string
	BytesTx uint64
	BytesRx uint64
}

// RuleRecordTable is a periodic snapshot of per-rule counters from the
// pipeline.
type RuleRecordTable struct {
	Records []RuleRecord
	Epoch   uint64
}

// ChargingReAuthRequest asks the engine to refresh one charging key or the
// whole session.
type ChargingReAuthRequest struct {
	Imsi        string
	SessionID   string
	Type        ChargingReAuthType
	ChargingKey CreditKey
}

// PolicyReAuthRequest pushes rule and monitor changes from the controller.
// An empty SessionID targets every session of the subscriber.
type PolicyReAuthRequest struct {
	Imsi                   string
	SessionID              string
	RulesToRemove          []string
	RulesToInstall         []StaticRuleInstall
	DynamicRulesToInstall  []DynamicRuleInstall
	EventTriggers          []EventTrigger
	RevalidationTime       int64
	UsageMonitoringCredits []UsageMonitoringCredit
}

// PolicyReAuthAnswer is the engine's reply to a policy reauth.
type PolicyReAuthAnswer struct {
	SessionID   string
	Result      ReAuthResult
	FailedRules []string
}

// RuleSet is the declarative desired rule set of a session.
type RuleSet struct {
	StaticRuleIDs []string
	DynamicRules  []PolicyRule
}

// RulesToProcess pairs the rule ids and definitions of one pipeline call.
type RulesToProcess struct {
	StaticRuleIDs []string
	DynamicRules  []PolicyRule
}

// Empty reports whether there is nothing to program.
func (r RulesToProcess) Empty() bool {
	return len(r.StaticRuleIDs) == 0 && len(r.DynamicRules) == 0
}

// CreateBearerRequest asks the access network for a dedicated bearer.
type CreateBearerRequest struct {
	Imsi           string
	LinkedBearerID uint32
	Rules          []PolicyRule
}

// DeleteBearerRequest tears down dedicated bearers.
type DeleteBearerRequest struct {
	Imsi           string
	LinkedBearerID uint32
	EpsBearerIDs   []uint32
}

// PolicyBearerBindingRequest confirms (or denies, with BearerID zero) a
// dedicated bearer creation.
type PolicyBearerBindingRequest struct {
	Imsi           string
	LinkedBearerID uint32
	PolicyRuleID   string
	BearerID       uint32
}

// ServiceAction is one downstream action the enforcer must execute for a
// subscriber's traffic after collecting updates.
type ServiceAction struct {
	Type            ServiceActionType
	Imsi            string
	SessionID       string
	IP              string
	CreditKey       CreditKey
	RuleIDs         []string
	RuleDefinitions []PolicyRule
	RedirectServer  RedirectServer
	RestrictRuleIDs []string
}
