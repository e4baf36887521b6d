// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

// SessionFsmState tracks the lifecycle of a subscriber session.
// The numeric values are part of the persisted layout and must not change.
type SessionFsmState int

const (
	SessionActive               SessionFsmState = 0
	SessionTerminated           SessionFsmState = 4
	SessionTerminationScheduled SessionFsmState = 5
	SessionReleased             SessionFsmState = 6
)

func (s SessionFsmState) String() string {
	switch s {
	case SessionActive:
		return "SESSION_ACTIVE"
	case SessionTerminated:
		return "SESSION_TERMINATED"
	case SessionTerminationScheduled:
		return "SESSION_TERMINATION_SCHEDULED"
	case SessionReleased:
		return "SESSION_RELEASED"
	default:
		return "UNKNOWN"
	}
}

// Bucket indexes the counter vector of a SessionCredit.
type Bucket int

const (
	UsedTx Bucket = iota
	UsedRx
	AllowedTotal
	AllowedTx
	AllowedRx
	ReportingTx
	ReportingRx
	ReportedTx
	ReportedRx
	// The floor buckets snapshot the ALLOWED counters right before the most
	// recent grant was applied, so the size of the current grant is always
	// ALLOWED - ALLOWED_FLOOR.
	AllowedFloorTotal
	AllowedFloorTx
	AllowedFloorRx
	maxBuckets
)

// GrantTrackingType determines which counters participate in quota
// exhaustion checks for a credit.
type GrantTrackingType int

const (
	TrackingTotalOnly GrantTrackingType = iota
	TrackingTxOnly
	TrackingRxOnly
	TrackingTxAndRx
	TrackingAllTotalTxRx
	TrackingUnset
)

func (t GrantTrackingType) String() string {
	switch t {
	case TrackingTotalOnly:
		return "TOTAL_ONLY"
	case TrackingTxOnly:
		return "TX_ONLY"
	case TrackingRxOnly:
		return "RX_ONLY"
	case TrackingTxAndRx:
		return "TX_AND_RX"
	case TrackingAllTotalTxRx:
		return "ALL_TOTAL_TX_RX"
	case TrackingUnset:
		return "TRACKING_UNSET"
	default:
		return "UNKNOWN"
	}
}

// CreditLimitType distinguishes metered finite grants from unlimited ones.
type CreditLimitType int

const (
	CreditFinite CreditLimitType = iota
	CreditInfiniteUnmetered
	CreditInfiniteMetered
)

// ReAuthState tracks an in-flight reauthorization for a charging grant.
type ReAuthState int

const (
	ReAuthNotNeeded ReAuthState = iota
	ReAuthRequired
	ReAuthProcessing
)

func (s ReAuthState) String() string {
	switch s {
	case ReAuthNotNeeded:
		return "REAUTH_NOT_NEEDED"
	case ReAuthRequired:
		return "REAUTH_REQUIRED"
	case ReAuthProcessing:
		return "REAUTH_PROCESSING"
	default:
		return "UNKNOWN"
	}
}

// ServiceState tracks whether traffic covered by a charging grant is
// currently allowed to flow, and which transition is pending.
type ServiceState int

const (
	ServiceEnabled ServiceState = iota
	ServiceNeedsDeactivation
	ServiceDisabled
	ServiceNeedsActivation
	ServiceRedirected
	ServiceRestricted
)

func (s ServiceState) String() string {
	switch s {
	case ServiceEnabled:
		return "SERVICE_ENABLED"
	case ServiceNeedsDeactivation:
		return "SERVICE_NEEDS_DEACTIVATION"
	case ServiceDisabled:
		return "SERVICE_DISABLED"
	case ServiceNeedsActivation:
		return "SERVICE_NEEDS_ACTIVATION"
	case ServiceRedirected:
		return "SERVICE_REDIRECTED"
	case ServiceRestricted:
		return "SERVICE_RESTRICTED"
	default:
		return "UNKNOWN"
	}
}

// ServiceActionType is what the enforcer must do for a subscriber's traffic
// after collecting updates.
type ServiceActionType int

const (
	ContinueService ServiceActionType = iota
	TerminateService
	ActivateService
	RedirectService
	RestrictAccess
)

func (a ServiceActionType) String() string {
	switch a {
	case ContinueService:
		return "CONTINUE_SERVICE"
	case TerminateService:
		return "TERMINATE_SERVICE"
	case ActivateService:
		return "ACTIVATE_SERVICE"
	case RedirectService:
		return "REDIRECT"
	case RestrictAccess:
		return "RESTRICT_ACCESS"
	default:
		return "UNKNOWN"
	}
}

// FinalUnitAction is the controller-mandated action once a final grant is
// fully consumed.
type FinalUnitAction int

const (
	FinalActionTerminate FinalUnitAction = iota
	FinalActionRedirect
	FinalActionRestrictAccess
)

func (a FinalUnitAction) String() string {
	switch a {
	case FinalActionTerminate:
		return "TERMINATE"
	case FinalActionRedirect:
		return "REDIRECT"
	case FinalActionRestrictAccess:
		return "RESTRICT_ACCESS"
	default:
		return "UNKNOWN"
	}
}

// CreditUsageType labels an outbound usage report toward the controller.
type CreditUsageType int

const (
	QuotaExhausted CreditUsageType = iota
	Terminated
	ValidityTimerExpired
	ReAuthRequiredUsage
)

func (t CreditUsageType) String() string {
	switch t {
	case QuotaExhausted:
		return "QUOTA_EXHAUSTED"
	case Terminated:
		return "TERMINATED"
	case ValidityTimerExpired:
		return "VALIDITY_TIMER_EXPIRED"
	case ReAuthRequiredUsage:
		return "REAUTH_REQUIRED"
	default:
		return "UNKNOWN"
	}
}

// ReAuthResult is the engine's answer to a controller-initiated reauth.
type ReAuthResult int

const (
	UpdateInitiated ReAuthResult = iota
	UpdateNotNeeded
	SessionNotFound
	ReAuthOtherFailure
)

func (r ReAuthResult) String() string {
	switch r {
	case UpdateInitiated:
		return "UPDATE_INITIATED"
	case UpdateNotNeeded:
		return "UPDATE_NOT_NEEDED"
	case SessionNotFound:
		return "SESSION_NOT_FOUND"
	case ReAuthOtherFailure:
		return "OTHER_FAILURE"
	default:
		return "UNKNOWN"
	}
}

// MonitoringLevel scopes a usage monitor to the whole session or a rule.
type MonitoringLevel int

const (
	SessionLevel MonitoringLevel = iota
	PCCRuleLevel
	ADCRuleLevel
)

// MonitoringAction is carried by a usage-monitoring credit from the
// controller.
type MonitoringAction int

const (
	MonitorContinue MonitoringAction = iota
	MonitorDisable
)

// PolicyType distinguishes catalog rules referenced by id from rules carried
// by value on the session.
type PolicyType int

const (
	StaticPolicy PolicyType = iota
	DynamicPolicy
)

// RuleTrackingType declares which authorities meter a policy rule.
type RuleTrackingType int

const (
	TrackingOnlyOCS RuleTrackingType = iota
	TrackingOnlyPCRF
	TrackingOCSAndPCRF
	NoTracking
)

// EventTrigger identifies a controller-armed event on the session.
// The value matches the 3GPP Gx event trigger code.
type EventTrigger int

const (
	RevalidationTimeout EventTrigger = 17
)

// EventTriggerState tracks an armed event trigger through its lifecycle.
type EventTriggerState int

const (
	TriggerPending EventTriggerState = iota
	TriggerReady
	TriggerCleared
)

// ChargingReAuthType selects one rating group or the whole session.
type ChargingReAuthType int

const (
	ReAuthSingleService ChargingReAuthType = iota
	ReAuthEntireSession
)

// SubscriberQuotaState is pushed to the pipeline for carrier-wifi sessions.
type SubscriberQuotaState int

const (
	QuotaValid SubscriberQuotaState = iota
	QuotaNone
	QuotaTerminate
)

func (s SubscriberQuotaState) String() string {
	switch s {
	case QuotaValid:
		return "QUOTA_VALID"
	case QuotaNone:
		return "QUOTA_NONE"
	case QuotaTerminate:
		return "QUOTA_TERMINATE"
	default:
		return "UNKNOWN"
	}
}

// RatType is the radio access technology of the session.
type RatType int

const (
	RatLte RatType = iota
	RatWlan
)

func (r RatType) String() string {
	switch r {
	case RatLte:
		return "LTE"
	case RatWlan:
		return "WLAN"
	default:
		return "UNKNOWN"
	}
}

// RedirectAddressType qualifies the redirect server address format.
type RedirectAddressType int

const (
	RedirectIPv4 RedirectAddressType = iota
	RedirectIPv6
	RedirectURL
	RedirectSIPURI
)
