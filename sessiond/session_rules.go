// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"github.com/omec-project/sessiond/logger"
)

// IsStaticRuleInstalled reports whether the rule id is active on the session.
func (s *SessionState) IsStaticRuleInstalled(ruleID string) bool {
	for _, id := range s.activeStaticRules {
		if id == ruleID {
			return true
		}
	}

	return false
}

// IsStaticRuleScheduled reports whether the rule id awaits activation.
func (s *SessionState) IsStaticRuleScheduled(ruleID string) bool {
	_, ok := s.scheduledStaticRules[ruleID]
	return ok
}

// IsDynamicRuleInstalled reports whether a dynamic rule is active.
func (s *SessionState) IsDynamicRuleInstalled(ruleID string) bool {
	_, ok := s.dynamicRules.Get(ruleID)
	return ok
}

// ActiveStaticRules returns the active catalog rule ids in install order.
func (s *SessionState) ActiveStaticRules() []string {
	return append([]string{}, s.activeStaticRules...)
}

// ActiveRestrictRules returns the restrict rules installed by a final-unit
// RESTRICT_ACCESS action.
func (s *SessionState) ActiveRestrictRules() []string {
	return append([]string{}, s.activeRestrictRules...)
}

// DynamicRules returns the active dynamic rule definitions.
func (s *SessionState) DynamicRules() []PolicyRule {
	return s.dynamicRules.GetRules()
}

// GyDynamicRules returns the active gy dynamic rule definitions.
func (s *SessionState) GyDynamicRules() []PolicyRule {
	return s.gyDynamicRules.GetRules()
}

// RuleLifetime returns the lifetime recorded for an installed rule.
func (s *SessionState) RuleLifetime(ruleID string) (RuleLifetime, bool) {
	lifetime, ok := s.ruleLifetimes[ruleID]
	return lifetime, ok
}

func (s *SessionState) setRuleLifetime(ruleID string, lifetime RuleLifetime, uc *SessionUpdateCriteria) {
	s.ruleLifetimes[ruleID] = lifetime

	if uc != nil {
		uc.NewRuleLifetimes[ruleID] = lifetime
	}
}

// ActivateStaticRule installs a catalog rule on the session.
func (s *SessionState) ActivateStaticRule(ruleID string, lifetime RuleLifetime, uc *SessionUpdateCriteria) error {
	if _, ok := s.ruleStore.Get(ruleID); !ok {
		return ErrNotFoundWithParam("static rule", "rule_id", ruleID)
	}

	if s.IsStaticRuleInstalled(ruleID) {
		return ErrInvalidArgumentWithReason("rule_id", ruleID, "already installed")
	}

	s.activeStaticRules = append(s.activeStaticRules, ruleID)
	s.setRuleLifetime(ruleID, lifetime, uc)

	if uc != nil {
		uc.StaticRulesToInstall = append(uc.StaticRulesToInstall, ruleID)
	}

	return nil
}

// DeactivateStaticRule removes an active catalog rule from the session.
func (s *SessionState) DeactivateStaticRule(ruleID string, uc *SessionUpdateCriteria) error {
	if !s.IsStaticRuleInstalled(ruleID) {
		return ErrNotFoundWithParam("active static rule", "rule_id", ruleID)
	}

	s.activeStaticRules = removeString(s.activeStaticRules, ruleID)

	if uc != nil {
		uc.StaticRulesToUninstall = append(uc.StaticRulesToUninstall, ruleID)
	}

	return nil
}

// ScheduleStaticRule records a catalog rule for future activation.
func (s *SessionState) ScheduleStaticRule(ruleID string, lifetime RuleLifetime, uc *SessionUpdateCriteria) error {
	if _, ok := s.ruleStore.Get(ruleID); !ok {
		return ErrNotFoundWithParam("static rule", "rule_id", ruleID)
	}

	if s.IsStaticRuleInstalled(ruleID) || s.IsStaticRuleScheduled(ruleID) {
		return ErrInvalidArgumentWithReason("rule_id", ruleID, "already installed or scheduled")
	}

	s.scheduledStaticRules[ruleID] = struct{}{}
	s.setRuleLifetime(ruleID, lifetime, uc)

	if uc != nil {
		uc.NewScheduledStaticRules = append(uc.NewScheduledStaticRules, ruleID)
	}

	return nil
}

// InstallScheduledStaticRule promotes a scheduled catalog rule to active.
func (s *SessionState) InstallScheduledStaticRule(ruleID string, uc *SessionUpdateCriteria) error {
	if !s.IsStaticRuleScheduled(ruleID) {
		return ErrNotFoundWithParam("scheduled static rule", "rule_id", ruleID)
	}

	delete(s.scheduledStaticRules, ruleID)
	s.activeStaticRules = append(s.activeStaticRules, ruleID)

	if uc != nil {
		uc.StaticRulesToInstall = append(uc.StaticRulesToInstall, ruleID)
	}

	return nil
}

// InsertDynamicRule installs a dynamic rule carried by value.
func (s *SessionState) InsertDynamicRule(rule PolicyRule, lifetime RuleLifetime, uc *SessionUpdateCriteria) error {
	if s.IsDynamicRuleInstalled(rule.ID) {
		return ErrInvalidArgumentWithReason("rule_id", rule.ID, "already installed")
	}

	s.dynamicRules.InsertRule(rule)
	s.setRuleLifetime(rule.ID, lifetime, uc)

	if uc != nil {
		uc.DynamicRulesToInstall = append(uc.DynamicRulesToInstall, rule)
	}

	return nil
}

// RemoveDynamicRule uninstalls a dynamic rule and returns its definition.
func (s *SessionState) RemoveDynamicRule(ruleID string, uc *SessionUpdateCriteria) (PolicyRule, bool) {
	rule, ok := s.dynamicRules.RemoveRule(ruleID)
	if !ok {
		return PolicyRule{}, false
	}

	if uc != nil {
		uc.DynamicRulesToUninstall = append(uc.DynamicRulesToUninstall, ruleID)
	}

	return rule, true
}

// ScheduleDynamicRule records a dynamic rule for future activation.
func (s *SessionState) ScheduleDynamicRule(rule PolicyRule, lifetime RuleLifetime, uc *SessionUpdateCriteria) error {
	if _, ok := s.scheduledDynamicRules.Get(rule.ID); ok {
		return ErrInvalidArgumentWithReason("rule_id", rule.ID, "already scheduled")
	}

	s.scheduledDynamicRules.InsertRule(rule)
	s.setRuleLifetime(rule.ID, lifetime, uc)

	if uc != nil {
		uc.NewScheduledDynamicRules = append(uc.NewScheduledDynamicRules, rule)
	}

	return nil
}

// InstallScheduledDynamicRule promotes a scheduled dynamic rule to active.
func (s *SessionState) InstallScheduledDynamicRule(ruleID string, uc *SessionUpdateCriteria) error {
	rule, ok := s.scheduledDynamicRules.RemoveRule(ruleID)
	if !ok {
		return ErrNotFoundWithParam("scheduled dynamic rule", "rule_id", ruleID)
	}

	s.dynamicRules.InsertRule(rule)

	if uc != nil {
		uc.DynamicRulesToInstall = append(uc.DynamicRulesToInstall, rule)
	}

	return nil
}

// InsertGyDynamicRule installs a gy dynamic rule, e.g. the synthetic
// redirect rule of a final-unit action.
func (s *SessionState) InsertGyDynamicRule(rule PolicyRule, lifetime RuleLifetime, uc *SessionUpdateCriteria) error {
	if _, ok := s.gyDynamicRules.Get(rule.ID); ok {
		return ErrInvalidArgumentWithReason("rule_id", rule.ID, "already installed")
	}

	s.gyDynamicRules.InsertRule(rule)
	s.setRuleLifetime(rule.ID, lifetime, uc)

	if uc != nil {
		uc.GyDynamicRulesToInstall = append(uc.GyDynamicRulesToInstall, rule)
	}

	return nil
}

// RemoveGyDynamicRule uninstalls a gy dynamic rule.
func (s *SessionState) RemoveGyDynamicRule(ruleID string, uc *SessionUpdateCriteria) (PolicyRule, bool) {
	rule, ok := s.gyDynamicRules.RemoveRule(ruleID)
	if !ok {
		return PolicyRule{}, false
	}

	if uc != nil {
		uc.GyDynamicRulesToUninstall = append(uc.GyDynamicRulesToUninstall, ruleID)
	}

	return rule, true
}

// InstallRestrictRules records the restrict rules of a final-unit action.
func (s *SessionState) InstallRestrictRules(ruleIDs []string, uc *SessionUpdateCriteria) {
	for _, id := range ruleIDs {
		s.activeRestrictRules = append(s.activeRestrictRules, id)

		if uc != nil {
			uc.RestrictRulesToInstall = append(uc.RestrictRulesToInstall, id)
		}
	}
}

// UninstallRestrictRules drops previously installed restrict rules.
func (s *SessionState) UninstallRestrictRules(ruleIDs []string, uc *SessionUpdateCriteria) {
	for _, id := range ruleIDs {
		s.activeRestrictRules = removeString(s.activeRestrictRules, id)

		if uc != nil {
			uc.RestrictRulesToUninstall = append(uc.RestrictRulesToUninstall, id)
		}
	}
}

// GetRuleDefinition resolves a rule id against the session's dynamic
// collections and the static catalog, in that order.
func (s *SessionState) GetRuleDefinition(ruleID string) (PolicyRule, bool) {
	if rule, ok := s.dynamicRules.Get(ruleID); ok {
		return rule, true
	}

	if rule, ok := s.gyDynamicRules.Get(ruleID); ok {
		return rule, true
	}

	return s.ruleStore.Get(ruleID)
}

// ChargingKeyForRule resolves a rule id to its credit key, dynamic
// collections first.
func (s *SessionState) ChargingKeyForRule(ruleID string) (CreditKey, bool) {
	if key, ok := s.dynamicRules.ChargingKeyForRule(ruleID); ok {
		return key, true
	}

	if key, ok := s.gyDynamicRules.ChargingKeyForRule(ruleID); ok {
		return key, true
	}

	return s.ruleStore.ChargingKeyForRule(ruleID)
}

// MonitoringKeyForRule resolves a rule id to its monitoring key.
func (s *SessionState) MonitoringKeyForRule(ruleID string) (string, bool) {
	if mkey, ok := s.dynamicRules.MonitoringKeyForRule(ruleID); ok {
		return mkey, true
	}

	return s.ruleStore.MonitoringKeyForRule(ruleID)
}

// RulesForChargingKey collects the session's active rule ids and dynamic
// definitions charged against the key, for packing into a service action.
func (s *SessionState) RulesForChargingKey(key CreditKey) ([]string, []PolicyRule) {
	ids := []string{}

	for _, id := range s.ruleStore.RuleIDsForChargingKey(key) {
		if s.IsStaticRuleInstalled(id) {
			ids = append(ids, id)
		}
	}

	definitions := []PolicyRule{}

	for _, id := range s.dynamicRules.RuleIDsForChargingKey(key) {
		if rule, ok := s.dynamicRules.Get(id); ok {
			definitions = append(definitions, rule)
		}
	}

	for _, id := range s.gyDynamicRules.RuleIDsForChargingKey(key) {
		if rule, ok := s.gyDynamicRules.Get(id); ok {
			definitions = append(definitions, rule)
		}
	}

	return ids, definitions
}

// TotalMonitoredRulesCount counts the active rules that carry a monitoring
// key.
func (s *SessionState) TotalMonitoredRulesCount() int {
	count := s.dynamicRules.MonitoredRulesCount()

	for _, id := range s.activeStaticRules {
		if _, ok := s.ruleStore.MonitoringKeyForRule(id); ok {
			count++
		}
	}

	return count
}

// SyncRulesToTime reconciles the active and scheduled rule sets against the
// recorded lifetimes at wall-clock now. Scheduled rules past their
// activation become active; anything past its deactivation is dropped.
func (s *SessionState) SyncRulesToTime(now int64, uc *SessionUpdateCriteria) {
	for ruleID := range s.scheduledStaticRules {
		lifetime := s.ruleLifetimes[ruleID]

		if lifetime.ActivationTime > now {
			continue
		}

		if !lifetime.IsActiveAt(now) {
			// Already expired before it ever activated.
			delete(s.scheduledStaticRules, ruleID)

			if uc != nil {
				uc.StaticRulesToUninstall = append(uc.StaticRulesToUninstall, ruleID)
			}

			continue
		}

		if err := s.InstallScheduledStaticRule(ruleID, uc); err != nil {
			logger.SessLog.With("rule_id", ruleID).Warnln("could not install scheduled static rule:", err)
		}
	}

	for _, ruleID := range s.ActiveStaticRules() {
		lifetime := s.ruleLifetimes[ruleID]

		if !lifetime.IsActiveAt(now) {
			if err := s.DeactivateStaticRule(ruleID, uc); err != nil {
				logger.SessLog.With("rule_id", ruleID).Warnln("could not deactivate expired static rule:", err)
			}
		}
	}

	for _, ruleID := range s.scheduledDynamicRules.GetRuleIDs() {
		lifetime := s.ruleLifetimes[ruleID]

		if lifetime.ActivationTime > now {
			continue
		}

		if !lifetime.IsActiveAt(now) {
			s.scheduledDynamicRules.RemoveRule(ruleID)

			if uc != nil {
				uc.DynamicRulesToUninstall = append(uc.DynamicRulesToUninstall, ruleID)
			}

			continue
		}

		if err := s.InstallScheduledDynamicRule(ruleID, uc); err != nil {
			logger.SessLog.With("rule_id", ruleID).Warnln("could not install scheduled dynamic rule:", err)
		}
	}

	for _, ruleID := range s.dynamicRules.GetRuleIDs() {
		lifetime := s.ruleLifetimes[ruleID]

		if !lifetime.IsActiveAt(now) {
			s.RemoveDynamicRule(ruleID, uc)
		}
	}
}

// ApplySessionRuleSet diffs the desired rule set against the session's
// current rules and produces the installs and uninstalls to converge.
// Lifetimes of newly installed rules default to "always".
func (s *SessionState) ApplySessionRuleSet(set RuleSet, uc *SessionUpdateCriteria) (RulesToProcess, RulesToProcess) {
	var toActivate, toDeactivate RulesToProcess

	desiredStatic := make(map[string]struct{}, len(set.StaticRuleIDs))
	for _, id := range set.StaticRuleIDs {
		desiredStatic[id] = struct{}{}
	}

	for _, id := range s.ActiveStaticRules() {
		if _, ok := desiredStatic[id]; ok {
			continue
		}

		if err := s.DeactivateStaticRule(id, uc); err == nil {
			toDeactivate.StaticRuleIDs = append(toDeactivate.StaticRuleIDs, id)
		}
	}

	for _, id := range set.StaticRuleIDs {
		if s.IsStaticRuleInstalled(id) {
			continue
		}

		if err := s.ActivateStaticRule(id, RuleLifetime{}, uc); err != nil {
			logger.SessLog.With("rule_id", id).Warnln("could not activate static rule from rule set:", err)
			continue
		}

		toActivate.StaticRuleIDs = append(toActivate.StaticRuleIDs, id)
	}

	desiredDynamic := make(map[string]struct{}, len(set.DynamicRules))
	for _, rule := range set.DynamicRules {
		desiredDynamic[rule.ID] = struct{}{}
	}

	for _, id := range s.dynamicRules.GetRuleIDs() {
		if _, ok := desiredDynamic[id]; ok {
			continue
		}

		if rule, ok := s.RemoveDynamicRule(id, uc); ok {
			toDeactivate.DynamicRules = append(toDeactivate.DynamicRules, rule)
		}
	}

	for _, rule := range set.DynamicRules {
		if s.IsDynamicRuleInstalled(rule.ID) {
			continue
		}

		if err := s.InsertDynamicRule(rule, RuleLifetime{}, uc); err != nil {
			continue
		}

		toActivate.DynamicRules = append(toActivate.DynamicRules, rule)
	}

	return toActivate, toDeactivate
}

// BearerUpdate is the access-network work produced by a rule change.
type BearerUpdate struct {
	NeedsCreation bool
	Create        CreateBearerRequest
	NeedsDeletion bool
	Delete        DeleteBearerRequest
}

// GetDedicatedBearerUpdates inspects activated and deactivated rules and
// produces dedicated-bearer requests for LTE sessions. A bearer is only
// requested for rules whose QCI differs from the default bearer's.
func (s *SessionState) GetDedicatedBearerUpdates(toActivate, toDeactivate RulesToProcess, uc *SessionUpdateCriteria) BearerUpdate {
	update := BearerUpdate{}

	if s.config.RatType != RatLte || s.config.LTE == nil {
		return update
	}

	linkedBearer := s.config.LTE.BearerID
	defaultQci, hasDefaultQci := s.DefaultBearerQci()

	considerForCreation := func(rule PolicyRule, policyType PolicyType) {
		if rule.Qos == nil {
			return
		}

		if hasDefaultQci && rule.Qos.Qci == defaultQci {
			return
		}

		if _, bound := s.bearerIDByPolicy[PolicyID{Type: policyType, RuleID: rule.ID}]; bound {
			return
		}

		update.NeedsCreation = true
		update.Create.Imsi = s.imsi
		update.Create.LinkedBearerID = linkedBearer
		update.Create.Rules = append(update.Create.Rules, rule)
	}

	for _, id := range toActivate.StaticRuleIDs {
		if rule, ok := s.ruleStore.Get(id); ok {
			considerForCreation(rule, StaticPolicy)
		}
	}

	for _, rule := range toActivate.DynamicRules {
		considerForCreation(rule, DynamicPolicy)
	}

	considerForDeletion := func(ruleID string, policyType PolicyType) {
		policy := PolicyID{Type: policyType, RuleID: ruleID}

		bearerID, bound := s.bearerIDByPolicy[policy]
		if !bound {
			return
		}

		update.NeedsDeletion = true
		update.Delete.Imsi = s.imsi
		update.Delete.LinkedBearerID = linkedBearer
		update.Delete.EpsBearerIDs = append(update.Delete.EpsBearerIDs, bearerID)

		delete(s.bearerIDByPolicy, policy)

		if uc != nil {
			uc.IsBearerMappingUpdated = true
			uc.UpdatedBearerIDByPolicy = make(map[PolicyID]uint32, len(s.bearerIDByPolicy))

			for p, id := range s.bearerIDByPolicy {
				uc.UpdatedBearerIDByPolicy[p] = id
			}
		}
	}

	for _, id := range toDeactivate.StaticRuleIDs {
		considerForDeletion(id, StaticPolicy)
	}

	for _, rule := range toDeactivate.DynamicRules {
		considerForDeletion(rule.ID, DynamicPolicy)
	}

	return update
}

// ApplyUpdateCriteria merges a journal into the session by re-running the
// higher-level mutations that produced it. Any precondition violation is
// surfaced as a merge conflict so the caller can discard and reload.
func (s *SessionState) ApplyUpdateCriteria(uc *SessionUpdateCriteria) error {
	if uc == nil {
		return nil
	}

	if uc.IsFsmUpdated {
		if err := s.SetFsmState(uc.UpdatedFsmState, nil); err != nil {
			return ErrMergeConflict("fsm update", "state", uc.UpdatedFsmState)
		}
	}

	if uc.IsConfigUpdated {
		s.config = uc.UpdatedConfig
	}

	if uc.IsTgppContextUpdated {
		s.tgppContext = uc.UpdatedTgppContext
	}

	if uc.IsQuotaStateUpdated {
		s.subscriberQuotaState = uc.UpdatedSubscriberQuotaState
	}

	s.requestNumber += uc.RequestNumberIncrement

	if uc.UpdatedPdpEndTime > 0 {
		s.pdpEndTime = uc.UpdatedPdpEndTime
	}

	if uc.IsRevalidationTimeUpdated {
		s.revalidationTime = uc.RevalidationTime
	}

	for trigger, state := range uc.PendingEventTriggers {
		s.pendingEventTriggers[trigger] = state
	}

	// Uninstalls run before installs so a rule moved within one transaction
	// replays cleanly.
	for _, ruleID := range uc.StaticRulesToUninstall {
		switch {
		case s.IsStaticRuleInstalled(ruleID):
			if err := s.DeactivateStaticRule(ruleID, nil); err != nil {
				return ErrMergeConflict("static rule uninstall", "rule_id", ruleID)
			}
		case s.IsStaticRuleScheduled(ruleID):
			// Was scheduled and dropped before ever becoming active.
			delete(s.scheduledStaticRules, ruleID)
		default:
			return ErrMergeConflict("static rule uninstall", "rule_id", ruleID)
		}
	}

	for _, ruleID := range uc.NewScheduledStaticRules {
		lifetime, ok := uc.NewRuleLifetimes[ruleID]
		if !ok {
			return ErrMergeConflict("static rule schedule without lifetime", "rule_id", ruleID)
		}

		if err := s.ScheduleStaticRule(ruleID, lifetime, nil); err != nil {
			return ErrMergeConflict("static rule schedule", "rule_id", ruleID)
		}
	}

	for _, ruleID := range uc.StaticRulesToInstall {
		if s.IsStaticRuleScheduled(ruleID) {
			if err := s.InstallScheduledStaticRule(ruleID, nil); err != nil {
				return ErrMergeConflict("scheduled static rule install", "rule_id", ruleID)
			}

			continue
		}

		lifetime, ok := uc.NewRuleLifetimes[ruleID]
		if !ok {
			return ErrMergeConflict("static rule install without lifetime", "rule_id", ruleID)
		}

		if err := s.ActivateStaticRule(ruleID, lifetime, nil); err != nil {
			return ErrMergeConflict("static rule install", "rule_id", ruleID)
		}
	}

	for _, ruleID := range uc.DynamicRulesToUninstall {
		if _, ok := s.RemoveDynamicRule(ruleID, nil); ok {
			continue
		}

		if _, ok := s.scheduledDynamicRules.RemoveRule(ruleID); ok {
			continue
		}

		return ErrMergeConflict("dynamic rule uninstall", "rule_id", ruleID)
	}

	for _, rule := range uc.NewScheduledDynamicRules {
		lifetime, ok := uc.NewRuleLifetimes[rule.ID]
		if !ok {
			return ErrMergeConflict("dynamic rule schedule without lifetime", "rule_id", rule.ID)
		}

		if err := s.ScheduleDynamicRule(rule, lifetime, nil); err != nil {
			return ErrMergeConflict("dynamic rule schedule", "rule_id", rule.ID)
		}
	}

	for _, rule := range uc.DynamicRulesToInstall {
		if s.IsDynamicRuleInstalled(rule.ID) {
			return ErrMergeConflict("dynamic rule install", "rule_id", rule.ID)
		}

		if _, ok := s.scheduledDynamicRules.Get(rule.ID); ok {
			if err := s.InstallScheduledDynamicRule(rule.ID, nil); err != nil {
				return ErrMergeConflict("scheduled dynamic rule install", "rule_id", rule.ID)
			}

			continue
		}

		lifetime, ok := uc.NewRuleLifetimes[rule.ID]
		if !ok {
			return ErrMergeConflict("dynamic rule install without lifetime", "rule_id", rule.ID)
		}

		if err := s.InsertDynamicRule(rule, lifetime, nil); err != nil {
			return ErrMergeConflict("dynamic rule install", "rule_id", rule.ID)
		}
	}

	for _, ruleID := range uc.GyDynamicRulesToUninstall {
		if _, ok := s.RemoveGyDynamicRule(ruleID, nil); !ok {
			return ErrMergeConflict("gy dynamic rule uninstall", "rule_id", ruleID)
		}
	}

	for _, rule := range uc.GyDynamicRulesToInstall {
		lifetime, ok := uc.NewRuleLifetimes[rule.ID]
		if !ok {
			return ErrMergeConflict("gy dynamic rule install without lifetime", "rule_id", rule.ID)
		}

		if err := s.InsertGyDynamicRule(rule, lifetime, nil); err != nil {
			return ErrMergeConflict("gy dynamic rule install", "rule_id", rule.ID)
		}
	}

	s.UninstallRestrictRules(uc.RestrictRulesToUninstall, nil)
	s.InstallRestrictRules(uc.RestrictRulesToInstall, nil)

	for key, stored := range uc.ChargingCreditToInstall {
		s.creditMap[key] = newChargingGrantFromStored(stored)
	}

	for key, creditUc := range uc.ChargingCreditMap {
		if creditUc.Deleted {
			delete(s.creditMap, key)
			continue
		}

		grant, ok := s.creditMap[key]
		if !ok {
			return ErrMergeConflict("charging credit update", "key", key)
		}

		grant.applyCreditUpdateCriteria(creditUc)
	}

	for mkey, stored := range uc.MonitorCreditToInstall {
		s.monitorMap[mkey] = newMonitorFromStored(stored)
	}

	for mkey, creditUc := range uc.MonitorCreditMap {
		if creditUc.Deleted {
			delete(s.monitorMap, mkey)
			continue
		}

		monitor, ok := s.monitorMap[mkey]
		if !ok {
			return ErrMergeConflict("monitor credit update", "monitoring_key", mkey)
		}

		monitor.Credit.applyCreditUpdateCriteria(creditUc)
	}

	if uc.IsSessionLevelKeyUpdated {
		s.sessionLevelKey = uc.UpdatedSessionLevelKey
	}

	if uc.IsBearerMappingUpdated {
		s.bearerIDByPolicy = make(map[PolicyID]uint32, len(uc.UpdatedBearerIDByPolicy))

		for policy, bearerID := range uc.UpdatedBearerIDByPolicy {
			s.bearerIDByPolicy[policy] = bearerID
		}
	}

	return nil
}

// applyCreditUpdateCriteria replays a per-credit sub-journal onto a grant.
func (g *ChargingGrant) applyCreditUpdateCriteria(uc *CreditUpdateCriteria) {
	g.Credit.applyCreditUpdateCriteria(uc)
	g.IsFinal = uc.IsFinal
	g.FinalActionInfo = uc.FinalActionInfo
	g.ExpiryTime = uc.ExpiryTime
	g.ReAuthState = uc.ReAuthState
	g.ServiceState = uc.ServiceState
}

func (c *SessionCredit) applyCreditUpdateCriteria(uc *CreditUpdateCriteria) {
	c.grantTrackingType = uc.GrantTrackingType
	c.receivedGrantedUnits = uc.ReceivedGrantedUnits
	c.reporting = uc.Reporting

	for bucket, delta := range uc.BucketDeltas {
		if bucket >= 0 && bucket < maxBuckets {
			c.buckets[bucket] += delta
		}
	}
}
