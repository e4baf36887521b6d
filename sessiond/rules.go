// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"sync"

	"github.com/omec-project/sessiond/logger"
)

// REDIRECT_FLOW_PRIORITY is the priority of the synthetic rule installed when
// a final-unit REDIRECT action fires. It must beat every catalog rule.
const RedirectFlowPriority uint32 = 2000

// CreditKey identifies a charging grant toward the controller.
// ServiceIdentifier of zero means "not present".
type CreditKey struct {
	RatingGroup       uint32 `json:"rating_group"`
	ServiceIdentifier uint32 `json:"service_identifier"`
}

// QosInfo is the QoS descriptor optionally attached to a policy rule or a
// default bearer.
type QosInfo struct {
	Qci                         uint32 `json:"qci"`
	MaxReqBandwidthUl           uint64 `json:"max_req_bw_ul"`
	MaxReqBandwidthDl           uint64 `json:"max_req_bw_dl"`
	GuaranteedBitrateUl         uint64 `json:"gbr_ul"`
	GuaranteedBitrateDl         uint64 `json:"gbr_dl"`
	AllocationRetentionPriority uint32 `json:"arp"`
}

// FlowDescription is a single match entry of a rule's flow list.
type FlowDescription struct {
	Match  string `json:"match"`
	Action string `json:"action"`
}

// RedirectServer is where traffic goes once a REDIRECT final action fires.
type RedirectServer struct {
	AddressType   RedirectAddressType `json:"address_type"`
	ServerAddress string              `json:"server_address"`
}

// PolicyRule is a policy-and-charging-control rule. Static rules live in the
// RuleStore catalog and are referenced by id; dynamic rules are carried by
// value on the session.
type PolicyRule struct {
	ID                string            `json:"id"`
	Priority          uint32            `json:"priority"`
	RatingGroup       uint32            `json:"rating_group"`
	ServiceIdentifier uint32            `json:"service_identifier"`
	MonitoringKey     string            `json:"monitoring_key"`
	TrackingType      RuleTrackingType  `json:"tracking_type"`
	Qos               *QosInfo          `json:"qos,omitempty"`
	Redirect          *RedirectServer   `json:"redirect,omitempty"`
	FlowList          []FlowDescription `json:"flow_list"`
}

// ChargingKey returns the rule's credit key and whether charging applies.
func (r *PolicyRule) ChargingKey() (CreditKey, bool) {
	if r.TrackingType != TrackingOnlyOCS && r.TrackingType != TrackingOCSAndPCRF {
		return CreditKey{}, false
	}

	return CreditKey{RatingGroup: r.RatingGroup, ServiceIdentifier: r.ServiceIdentifier}, true
}

// MonitoringKeyIfTracked returns the rule's monitoring key and whether
// monitoring applies.
func (r *PolicyRule) MonitoringKeyIfTracked() (string, bool) {
	if r.TrackingType != TrackingOnlyPCRF && r.TrackingType != TrackingOCSAndPCRF {
		return "", false
	}

	if r.MonitoringKey == "" {
		return "", false
	}

	return r.MonitoringKey, true
}

// RuleLifetime bounds when an installed rule is active.
// Zero activation means immediate; zero deactivation means never.
type RuleLifetime struct {
	ActivationTime   int64 `json:"activation_time"`
	DeactivationTime int64 `json:"deactivation_time"`
}

// IsActiveAt reports whether the lifetime covers the given wall-clock time.
func (l RuleLifetime) IsActiveAt(now int64) bool {
	if l.ActivationTime > now {
		return false
	}

	if l.DeactivationTime != 0 && l.DeactivationTime <= now {
		return false
	}

	return true
}

// RuleStore is the process-wide catalog of static rules. Insertions happen at
// startup; afterwards the store is read-mostly.
type RuleStore struct {
	mu sync.RWMutex

	rulesByID          map[string]*PolicyRule
	idsByChargingKey   map[CreditKey][]string
	idsByMonitoringKey map[string][]string
}

func NewRuleStore() *RuleStore {
	return &RuleStore{
		rulesByID:          make(map[string]*PolicyRule),
		idsByChargingKey:   make(map[CreditKey][]string),
		idsByMonitoringKey: make(map[string][]string),
	}
}

// Insert adds or replaces a catalog rule and keeps the inverse indexes in
// sync.
func (s *RuleStore) Insert(rule PolicyRule) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.rulesByID[rule.ID]; ok {
		s.dropFromIndexes(old)
	}

	r := rule
	s.rulesByID[rule.ID] = &r

	if key, ok := r.ChargingKey(); ok {
		s.idsByChargingKey[key] = append(s.idsByChargingKey[key], r.ID)
	}

	if mkey, ok := r.MonitoringKeyIfTracked(); ok {
		s.idsByMonitoringKey[mkey] = append(s.idsByMonitoringKey[mkey], r.ID)
	}

	logger.RuleLog.With("rule_id", rule.ID).Debugln("static rule inserted into catalog")
}

func (s *RuleStore) dropFromIndexes(rule *PolicyRule) {
	if key, ok := rule.ChargingKey(); ok {
		s.idsByChargingKey[key] = removeString(s.idsByChargingKey[key], rule.ID)
	}

	if mkey, ok := rule.MonitoringKeyIfTracked(); ok {
		s.idsByMonitoringKey[mkey] = removeString(s.idsByMonitoringKey[mkey], rule.ID)
	}
}

// Get returns the catalog rule with the given id.
func (s *RuleStore) Get(ruleID string) (PolicyRule, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rulesByID[ruleID]
	if !ok {
		return PolicyRule{}, false
	}

	return *rule, true
}

// ChargingKeyForRule resolves a catalog rule id to its credit key.
func (s *RuleStore) ChargingKeyForRule(ruleID string) (CreditKey, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rulesByID[ruleID]
	if !ok {
		return CreditKey{}, false
	}

	return rule.ChargingKey()
}

// MonitoringKeyForRule resolves a catalog rule id to its monitoring key.
func (s *RuleStore) MonitoringKeyForRule(ruleID string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rule, ok := s.rulesByID[ruleID]
	if !ok {
		return "", false
	}

	return rule.MonitoringKeyIfTracked()
}

// RuleIDsForChargingKey returns every catalog rule charged against the key.
func (s *RuleStore) RuleIDsForChargingKey(key CreditKey) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, len(s.idsByChargingKey[key]))
	copy(ids, s.idsByChargingKey[key])

	return ids
}

// RuleCollection is an in-session ordered set of dynamic rules with the same
// secondary indexes as the catalog. It is not safe for concurrent use; the
// owning session serializes access.
type RuleCollection struct {
	rulesByID          map[string]*PolicyRule
	order              []string
	idsByChargingKey   map[CreditKey][]string
	idsByMonitoringKey map[string][]string
}

func NewRuleCollection() *RuleCollection {
	return &RuleCollection{
		rulesByID:          make(map[string]*PolicyRule),
		idsByChargingKey:   make(map[CreditKey][]string),
		idsByMonitoringKey: make(map[string][]string),
	}
}

// InsertRule adds or replaces a rule, preserving insertion order for new ids.
func (c *RuleCollection) InsertRule(rule PolicyRule) {
	if old, ok := c.rulesByID[rule.ID]; ok {
		c.dropFromIndexes(old)
	} else {
		c.order = append(c.order, rule.ID)
	}

	r := rule
	c.rulesByID[rule.ID] = &r

	if key, ok := r.ChargingKey(); ok {
		c.idsByChargingKey[key] = append(c.idsByChargingKey[key], r.ID)
	}

	if mkey, ok := r.MonitoringKeyIfTracked(); ok {
		c.idsByMonitoringKey[mkey] = append(c.idsByMonitoringKey[mkey], r.ID)
	}
}

func (c *RuleCollection) dropFromIndexes(rule *PolicyRule) {
	if key, ok := rule.ChargingKey(); ok {
		c.idsByChargingKey[key] = removeString(c.idsByChargingKey[key], rule.ID)
	}

	if mkey, ok := rule.MonitoringKeyIfTracked(); ok {
		c.idsByMonitoringKey[mkey] = removeString(c.idsByMonitoringKey[mkey], rule.ID)
	}
}

// RemoveRule deletes a rule by id and returns the removed definition.
func (c *RuleCollection) RemoveRule(ruleID string) (PolicyRule, bool) {
	rule, ok := c.rulesByID[ruleID]
	if !ok {
		return PolicyRule{}, false
	}

	c.dropFromIndexes(rule)
	delete(c.rulesByID, ruleID)
	c.order = removeString(c.order, ruleID)

	return *rule, true
}

// Get returns the rule with the given id.
func (c *RuleCollection) Get(ruleID string) (PolicyRule, bool) {
	rule, ok := c.rulesByID[ruleID]
	if !ok {
		return PolicyRule{}, false
	}

	return *rule, true
}

// GetRuleIDs returns the rule ids in insertion order.
func (c *RuleCollection) GetRuleIDs() []string {
	ids := make([]string, len(c.order))
	copy(ids, c.order)

	return ids
}

// GetRules returns the rule definitions in insertion order.
func (c *RuleCollection) GetRules() []PolicyRule {
	rules := make([]PolicyRule, 0, len(c.order))
	for _, id := range c.order {
		rules = append(rules, *c.rulesByID[id])
	}

	return rules
}

// ChargingKeyForRule resolves a rule id to its credit key.
func (c *RuleCollection) ChargingKeyForRule(ruleID string) (CreditKey, bool) {
	rule, ok := c.rulesByID[ruleID]
	if !ok {
		return CreditKey{}, false
	}

	return rule.ChargingKey()
}

// MonitoringKeyForRule resolves a rule id to its monitoring key.
func (c *RuleCollection) MonitoringKeyForRule(ruleID string) (string, bool) {
	rule, ok := c.rulesByID[ruleID]
	if !ok {
		return "", false
	}

	return rule.MonitoringKeyIfTracked()
}

// RuleIDsForChargingKey returns the collection's rule ids charged against
// the key.
func (c *RuleCollection) RuleIDsForChargingKey(key CreditKey) []string {
	ids := make([]string, len(c.idsByChargingKey[key]))
	copy(ids, c.idsByChargingKey[key])

	return ids
}

// MonitoredRulesCount returns how many rules carry a monitoring key.
func (c *RuleCollection) MonitoredRulesCount() int {
	count := 0

	for _, ids := range c.idsByMonitoringKey {
		count += len(ids)
	}

	return count
}

// Count returns the number of rules in the collection.
func (c *RuleCollection) Count() int {
	return len(c.order)
}

func removeString(list []string, s string) []string {
	for i, v := range list {
		if v == s {
			return append(list[:i], list[i+1:]...)
		}
	}

	return list
}
