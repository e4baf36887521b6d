// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"encoding/json"
	"os"
	"time"

	"go.uber.org/zap/zapcore"
)

const (
	// Default values
	usageReportingThresholdDefault = 0.8
	forceTerminationTimeoutDefault = 5 * time.Second
	quotaExhaustTerminationDefault = 30 * time.Second
	updateRetryTimeoutDefault      = 10 * time.Second
	httpPortDefault                = "8080"

	// possible session stores
	StoreLocal   = "local"
	StoreMongoDB = "mongodb"
)

// StoreInfo : session store settings.
type StoreInfo struct {
	Type       string `json:"type"`
	MongoDBURI string `json:"mongodb_uri"`
}

// Conf : Json conf struct.
type Conf struct {
	LogLevel zapcore.Level `json:"log_level"`

	HTTPPort string `json:"http_port"`

	// UsageReportingThreshold is the consumed fraction of a grant that
	// triggers a usage report toward the controller.
	UsageReportingThreshold float64 `json:"usage_reporting_threshold"`

	// TerminateServiceWhenQuotaExhausted enables deactivating traffic when a
	// final grant with a TERMINATE action runs out. Defaults to true.
	TerminateServiceWhenQuotaExhausted *bool `json:"terminate_service_when_quota_exhausted"`

	// SessionForceTerminationTimeoutMs bounds how long a released session may
	// wait for its last usage report before termination is forced.
	SessionForceTerminationTimeoutMs uint32 `json:"session_force_termination_timeout_ms"`

	// QuotaExhaustTerminationMs is the grace period granted to carrier-wifi
	// sessions that come up without any usage quota.
	QuotaExhaustTerminationMs uint32 `json:"quota_exhaustion_termination_on_init_ms"`

	// UpdateRetryTimeoutMs is the backoff before a failed update batch is
	// rebuilt and retried.
	UpdateRetryTimeoutMs uint32 `json:"retry_timeout_ms"`

	Store StoreInfo `json:"store"`

	// StaticRules is the shared rule catalog sessions reference by id.
	StaticRules []PolicyRule `json:"static_rules"`
}

// CreditBehavior derives the per-session credit policy from the conf.
func (c Conf) CreditBehavior() CreditBehavior {
	terminate := true
	if c.TerminateServiceWhenQuotaExhausted != nil {
		terminate = *c.TerminateServiceWhenQuotaExhausted
	}

	return CreditBehavior{
		UsageReportingThreshold: c.UsageReportingThreshold,
		TerminateOnExhaust:      terminate,
	}
}

func (c Conf) ForceTerminationTimeout() time.Duration {
	return time.Duration(c.SessionForceTerminationTimeoutMs) * time.Millisecond
}

func (c Conf) QuotaExhaustTermination() time.Duration {
	return time.Duration(c.QuotaExhaustTerminationMs) * time.Millisecond
}

func (c Conf) UpdateRetryTimeout() time.Duration {
	return time.Duration(c.UpdateRetryTimeoutMs) * time.Millisecond
}

// validateConf checks that the given config reaches a baseline of correctness.
func validateConf(conf Conf) error {
	if conf.UsageReportingThreshold <= 0 || conf.UsageReportingThreshold > 1 {
		return ErrInvalidArgumentWithReason("conf.UsageReportingThreshold",
			conf.UsageReportingThreshold, "must be in (0, 1]")
	}

	switch conf.Store.Type {
	case StoreLocal:
	case StoreMongoDB:
		if conf.Store.MongoDBURI == "" {
			return ErrInvalidArgumentWithReason("conf.Store.MongoDBURI",
				conf.Store.MongoDBURI, "required for the mongodb store")
		}
	default:
		return ErrInvalidArgumentWithReason("conf.Store.Type", conf.Store.Type, "invalid store type")
	}

	seen := make(map[string]struct{}, len(conf.StaticRules))

	for _, rule := range conf.StaticRules {
		if rule.ID == "" {
			return ErrInvalidArgumentWithReason("conf.StaticRules", rule.ID, "rule without an id")
		}

		if _, ok := seen[rule.ID]; ok {
			return ErrInvalidArgumentWithReason("conf.StaticRules", rule.ID, "duplicate rule id")
		}

		seen[rule.ID] = struct{}{}
	}

	return nil
}

// LoadConfigFile : parse json file and populate corresponding struct.
func LoadConfigFile(filepath string) (Conf, error) {
	byteValue, err := os.ReadFile(filepath)
	if err != nil {
		return Conf{}, err
	}

	var conf Conf

	err = json.Unmarshal(byteValue, &conf)
	if err != nil {
		return Conf{}, err
	}

	// Set defaults, when missing.
	if conf.UsageReportingThreshold == 0 {
		conf.UsageReportingThreshold = usageReportingThresholdDefault
	}

	if conf.SessionForceTerminationTimeoutMs == 0 {
		conf.SessionForceTerminationTimeoutMs = uint32(forceTerminationTimeoutDefault.Milliseconds())
	}

	if conf.QuotaExhaustTerminationMs == 0 {
		conf.QuotaExhaustTerminationMs = uint32(quotaExhaustTerminationDefault.Milliseconds())
	}

	if conf.UpdateRetryTimeoutMs == 0 {
		conf.UpdateRetryTimeoutMs = uint32(updateRetryTimeoutDefault.Milliseconds())
	}

	if conf.HTTPPort == "" {
		conf.HTTPPort = httpPortDefault
	}

	if conf.Store.Type == "" {
		conf.Store.Type = StoreLocal
	}

	// Perform basic validation.
	err = validateConf(conf)
	if err != nil {
		return Conf{}, err
	}

	return conf, nil
}

// NewRuleStoreFromConf seeds the shared rule catalog with the configured
// static rules.
func NewRuleStoreFromConf(conf Conf) *RuleStore {
	store := NewRuleStore()

	for _, rule := range conf.StaticRules {
		store.Insert(rule)
	}

	return store
}
