// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"context"
	"fmt"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/omec-project/sessiond/logger"
	"github.com/omec-project/sessiond/sessiond/metrics"
)

const collaboratorTimeout = 10 * time.Second

// LocalEnforcer drives every session through its lifecycle: it ingests
// pipeline usage reports, collects and reports updates upstream, executes
// service actions downstream and orchestrates termination. All of its
// mutating entry points must run on the reactor loop.
type LocalEnforcer struct {
	conf      Conf
	store     SessionStore
	ruleStore *RuleStore
	behavior  CreditBehavior

	pipeline  PipelineClient
	reporter  SessionReporter
	directory DirectoryClient
	spgw      SpgwClient
	aaa       AAAClient

	loop  *Reactor
	insts metrics.InstrumentSessions
}

func NewLocalEnforcer(conf Conf, store SessionStore, ruleStore *RuleStore,
	pipeline PipelineClient, reporter SessionReporter, directory DirectoryClient,
	spgw SpgwClient, aaa AAAClient, insts metrics.InstrumentSessions) *LocalEnforcer {
	return &LocalEnforcer{
		conf:      conf,
		store:     store,
		ruleStore: ruleStore,
		behavior:  conf.CreditBehavior(),
		pipeline:  pipeline,
		reporter:  reporter,
		directory: directory,
		spgw:      spgw,
		aaa:       aaa,
		loop:      NewReactor(),
		insts:     insts,
	}
}

// Loop exposes the enforcer's reactor so callers can post work onto it.
func (e *LocalEnforcer) Loop() *Reactor { return e.loop }

// Start runs the reactor. It blocks until Stop is called.
func (e *LocalEnforcer) Start() { e.loop.Run() }

func (e *LocalEnforcer) Stop() { e.loop.Stop() }

func (e *LocalEnforcer) rpcContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), collaboratorTimeout)
}

// InitSession creates a session end to end: it asks the controller, builds
// the session from the response, persists it and only then programs the
// pipeline. Nothing is persisted when the controller refuses.
func (e *LocalEnforcer) InitSession(req CreateSessionRequest) error {
	msg := metrics.NewMessage("create_session", "tx")

	ctx, cancel := e.rpcContext()
	defer cancel()

	resp, err := e.reporter.ReportCreateSession(ctx, req)
	if err != nil {
		msg.Finish("failure")
		e.insts.SaveMessages(msg)

		return ErrOperationFailedWithReason("create session", err.Error())
	}

	msg.Finish("success")
	e.insts.SaveMessages(msg)

	now := time.Now().Unix()
	session := NewSessionState(req.Imsi, req.SessionID, req.Config, e.ruleStore,
		resp.TgppCtx, now, e.behavior)

	for _, credit := range resp.Credits {
		if err := session.ReceiveChargingCredit(credit, nil); err != nil {
			logger.EnfLog.With("session_id", req.SessionID).
				Warnln("dropping credit from create response:", err)
		}
	}

	for _, monitor := range resp.UsageMonitors {
		if err := session.ReceiveMonitor(monitor, nil); err != nil {
			logger.EnfLog.With("session_id", req.SessionID).
				Warnln("dropping monitor from create response:", err)
		}
	}

	e.installRulesFromResponse(session, resp.StaticRules, resp.DynamicRules, resp.RulesToRemove, now, nil)
	e.receiveEventTriggers(session, resp.EventTriggers, resp.RevalidationTime, nil)

	if req.Config.RatType == RatWlan {
		if session.TotalMonitoredRulesCount() == 0 {
			session.SetSubscriberQuotaState(QuotaNone, nil)
			// Persisted before the grace timer is armed, so a restart can
			// re-arm it instead of leaving the session stranded.
			if err := session.SetFsmState(SessionTerminationScheduled, nil); err != nil {
				return err
			}
		} else {
			session.SetSubscriberQuotaState(QuotaValid, nil)
		}
	}

	if err := e.store.CreateSession(session); err != nil {
		return err
	}

	e.insts.SaveSessions(metrics.NewSession(req.Imsi))

	e.programSessionFlows(session)
	e.scheduleSessionTimers(session)

	logger.EnfLog.With("imsi", req.Imsi, "session_id", req.SessionID).Infoln("session initialized")

	return nil
}

// programSessionFlows pushes the session's active rules and flow-export
// record to the pipeline, plus the wallet state for carrier-wifi sessions.
func (e *LocalEnforcer) programSessionFlows(session *SessionState) {
	ctx, cancel := e.rpcContext()
	defer cancel()

	config := session.Config()

	err := e.pipeline.ActivateFlows(ctx, session.Imsi(), config.UeIPv4,
		session.ActiveStaticRules(), session.DynamicRules())
	if err != nil {
		logger.EnfLog.With("session_id", session.SessionID()).
			Warnln("pipeline activate failed, waiting for setup re-push:", err)
	}

	if err := e.pipeline.UpdateIPFIXFlow(ctx, session.Imsi(), config, session.PdpStartTime()); err != nil {
		logger.EnfLog.With("session_id", session.SessionID()).
			Warnln("ipfix flow update failed:", err)
	}

	if config.RatType != RatWlan || config.WLAN == nil {
		return
	}

	quotaState := session.SubscriberQuotaState()

	err = e.pipeline.UpdateSubscriberQuotaState(ctx, session.Imsi(), config.WLAN.MacAddr, quotaState)
	if err != nil {
		logger.EnfLog.With("session_id", session.SessionID()).
			Warnln("subscriber quota state update failed:", err)
	}

	if quotaState == QuotaNone {
		imsi, sessionID := session.Imsi(), session.SessionID()

		e.loop.RunAfterDelay(e.conf.QuotaExhaustTermination(), func() {
			e.terminateQuotaExhaustedSession(imsi, sessionID)
		})
	}
}

func (e *LocalEnforcer) terminateQuotaExhaustedSession(imsi, sessionID string) {
	session, ok := e.loadSession(imsi, sessionID)
	if !ok || session.IsTerminating() {
		return
	}

	logger.EnfLog.With("session_id", sessionID).
		Infoln("terminating carrier-wifi session without usage quota")

	if err := e.startSessionTermination(session, true); err != nil {
		logger.EnfLog.With("session_id", sessionID).Warnln("quota exhaust termination failed:", err)
		return
	}

	// No traffic is expected from a quota-less session, so finish right away
	// instead of waiting for an empty usage report.
	e.forceTermination(imsi, sessionID)
}

// installRulesFromResponse applies the controller's rule installs and
// removals to the session. Rules with a future activation are scheduled.
func (e *LocalEnforcer) installRulesFromResponse(session *SessionState,
	static []StaticRuleInstall, dynamic []DynamicRuleInstall, toRemove []string,
	now int64, uc *SessionUpdateCriteria) {
	for _, ruleID := range toRemove {
		if session.IsStaticRuleInstalled(ruleID) {
			if err := session.DeactivateStaticRule(ruleID, uc); err != nil {
				logger.EnfLog.With("rule_id", ruleID).Warnln("static rule removal failed:", err)
			}

			continue
		}

		if _, ok := session.RemoveDynamicRule(ruleID, uc); !ok {
			logger.EnfLog.With("rule_id", ruleID).Debugln("rule to remove is not installed")
		}
	}

	for _, install := range static {
		lifetime := RuleLifetime{ActivationTime: install.ActivationTime, DeactivationTime: install.DeactivationTime}

		var err error
		if install.ActivationTime > now {
			err = session.ScheduleStaticRule(install.RuleID, lifetime, uc)
		} else {
			err = session.ActivateStaticRule(install.RuleID, lifetime, uc)
		}

		if err != nil {
			logger.EnfLog.With("rule_id", install.RuleID).Warnln("static rule install failed:", err)
			continue
		}

		e.scheduleRuleLifetime(session.Imsi(), session.SessionID(), lifetime, now)
	}

	for _, install := range dynamic {
		lifetime := RuleLifetime{ActivationTime: install.ActivationTime, DeactivationTime: install.DeactivationTime}

		var err error
		if install.ActivationTime > now {
			err = session.ScheduleDynamicRule(install.Policy, lifetime, uc)
		} else {
			err = session.InsertDynamicRule(install.Policy, lifetime, uc)
		}

		if err != nil {
			logger.EnfLog.With("rule_id", install.Policy.ID).Warnln("dynamic rule install failed:", err)
			continue
		}

		e.scheduleRuleLifetime(session.Imsi(), session.SessionID(), lifetime, now)
	}
}

func (e *LocalEnforcer) scheduleRuleLifetime(imsi, sessionID string, lifetime RuleLifetime, now int64) {
	sync := func(at int64) {
		e.loop.RunAfterDelay(time.Duration(at-now)*time.Second, func() {
			e.syncSessionRules(imsi, sessionID)
		})
	}

	if lifetime.ActivationTime > now {
		sync(lifetime.ActivationTime)
	}

	if lifetime.DeactivationTime > now {
		sync(lifetime.DeactivationTime)
	}
}

// syncSessionRules reconciles a session's rules against their lifetimes and
// programs the resulting installs and uninstalls.
func (e *LocalEnforcer) syncSessionRules(imsi, sessionID string) {
	session, ok := e.loadSession(imsi, sessionID)
	if !ok || !session.IsActive() {
		return
	}

	update := NewSessionUpdate()
	uc := update.CriteriaFor(imsi, sessionID)

	session.SyncRulesToTime(time.Now().Unix(), uc)

	toActivate := RulesToProcess{StaticRuleIDs: uc.StaticRulesToInstall, DynamicRules: uc.DynamicRulesToInstall}
	toDeactivate := RulesToProcess{StaticRuleIDs: uc.StaticRulesToUninstall}

	for _, ruleID := range uc.DynamicRulesToUninstall {
		toDeactivate.DynamicRules = append(toDeactivate.DynamicRules, PolicyRule{ID: ruleID})
	}

	e.programRuleChanges(session, toActivate, toDeactivate)

	if !e.store.UpdateSessions(update) {
		logger.EnfLog.With("session_id", sessionID).Warnln("rule sync commit refused")
	}
}

func (e *LocalEnforcer) programRuleChanges(session *SessionState, toActivate, toDeactivate RulesToProcess) {
	ctx, cancel := e.rpcContext()
	defer cancel()

	if !toDeactivate.Empty() {
		dynamicIDs := make([]string, 0, len(toDeactivate.DynamicRules))
		for _, rule := range toDeactivate.DynamicRules {
			dynamicIDs = append(dynamicIDs, rule.ID)
		}

		err := e.pipeline.DeactivateFlows(ctx, session.Imsi(), toDeactivate.StaticRuleIDs, dynamicIDs)
		if err != nil {
			logger.EnfLog.With("session_id", session.SessionID()).Warnln("pipeline deactivate failed:", err)
		}
	}

	if !toActivate.Empty() {
		err := e.pipeline.ActivateFlows(ctx, session.Imsi(), session.Config().UeIPv4,
			toActivate.StaticRuleIDs, toActivate.DynamicRules)
		if err != nil {
			logger.EnfLog.With("session_id", session.SessionID()).Warnln("pipeline activate failed:", err)
		}
	}
}

// HandleRuleRecords is the periodic tick of the engine: it aggregates a
// pipeline usage snapshot into the sessions, finishes terminations whose
// rules are gone from the report, collects one batched upstream request,
// executes the resulting service actions and commits every touched session.
func (e *LocalEnforcer) HandleRuleRecords(table RuleRecordTable) {
	sessions, err := e.store.ReadAllSessions()
	if err != nil {
		logger.EnfLog.Warnln("could not read sessions for usage report:", err)
		return
	}

	update := NewSessionUpdate()

	sessionsWithTraffic := e.aggregateRecords(sessions, table, update)
	e.completeTerminationsWithoutTraffic(sessions, sessionsWithTraffic, update)

	e.collectAndReportUpdates(sessions, update)

	if !e.store.UpdateSessions(update) {
		logger.EnfLog.Warnln("usage report commit refused, sessions reload on next tick")
	}
}

// collectAndReportUpdates runs one collection pass: it gathers the batched
// upstream request and service actions from every session, executes the
// actions and reports the request when it is non-empty.
func (e *LocalEnforcer) collectAndReportUpdates(sessions SessionMap, update SessionUpdate) {
	req := &UpdateSessionRequest{}

	var actions []*ServiceAction

	for _, imsi := range sortedImsis(sessions) {
		for _, session := range sessions[imsi] {
			uc := update.CriteriaFor(imsi, session.SessionID())
			session.GetUpdates(req, &actions, uc)
		}
	}

	e.executeActions(sessions, actions, update)

	if len(req.Updates) > 0 || len(req.UsageMonitors) > 0 {
		e.reportUpdates(sessions, req, update)
	}
}

// resendPendingUpdates rebuilds and resends the owed updates after a failed
// report. It deliberately skips the usage aggregation and the no-traffic
// termination sweep: a retry carries no pipeline snapshot, so the absence of
// records says nothing about a released session's traffic.
func (e *LocalEnforcer) resendPendingUpdates() {
	sessions, err := e.store.ReadAllSessions()
	if err != nil {
		logger.EnfLog.Warnln("could not read sessions for update retry:", err)
		return
	}

	update := NewSessionUpdate()

	e.collectAndReportUpdates(sessions, update)

	if !e.store.UpdateSessions(update) {
		logger.EnfLog.Warnln("update retry commit refused, sessions reload on next tick")
	}
}

// aggregateRecords feeds each usage record into the owning session and
// returns the set of session ids the report touched.
func (e *LocalEnforcer) aggregateRecords(sessions SessionMap, table RuleRecordTable,
	update SessionUpdate) mapset.Set {
	withTraffic := mapset.NewSet()

	for _, record := range table.Records {
		session, ok := findSessionByIP(sessions, record.Imsi, record.UeIPv4)
		if !ok {
			logger.EnfLog.With("imsi", record.Imsi, "rule_id", record.RuleID).
				Debugln("usage record for unknown session dropped")
			continue
		}

		uc := update.CriteriaFor(session.Imsi(), session.SessionID())
		session.AddRuleUsage(record.RuleID, record.BytesTx, record.BytesRx, uc)
		withTraffic.Add(session.SessionID())

		e.insts.SaveUsage(&metrics.UsageSample{Direction: "tx", Bytes: record.BytesTx})
		e.insts.SaveUsage(&metrics.UsageSample{Direction: "rx", Bytes: record.BytesRx})
	}

	return withTraffic
}

// executeActions dispatches the non-CONTINUE service actions the collection
// pass produced.
func (e *LocalEnforcer) executeActions(sessions SessionMap, actions []*ServiceAction, update SessionUpdate) {
	for _, action := range actions {
		session, ok := findSession(sessions, action.Imsi, action.SessionID)
		if !ok {
			continue
		}

		switch action.Type {
		case ContinueService:

		case ActivateService:
			e.programRuleChanges(session, RulesToProcess{
				StaticRuleIDs: action.RuleIDs,
				DynamicRules:  action.RuleDefinitions,
			}, RulesToProcess{})

		case TerminateService:
			if err := e.startSessionTermination(session, true); err != nil {
				logger.EnfLog.With("session_id", action.SessionID).
					Warnln("termination action failed:", err)
			}

		case RedirectService:
			e.installRedirect(session, action, update.CriteriaFor(action.Imsi, action.SessionID))

		case RestrictAccess:
			e.installRestrict(session, action, update.CriteriaFor(action.Imsi, action.SessionID))
		}
	}
}

// installRedirect installs the synthetic redirect rule of a final-unit
// REDIRECT action. The UE IP comes from the action or, failing that, the
// directory; without a resolvable IP the install is cancelled.
func (e *LocalEnforcer) installRedirect(session *SessionState, action *ServiceAction, uc *SessionUpdateCriteria) {
	ip := action.IP

	if ip == "" {
		ctx, cancel := e.rpcContext()
		defer cancel()

		resolved, err := e.directory.GetIPFromSubscriberID(ctx, action.Imsi)
		if err != nil {
			logger.EnfLog.With("session_id", action.SessionID).
				Warnln("redirect cancelled, no resolvable UE IP:", err)
			return
		}

		ip = resolved
	}

	rule := redirectRule(action)

	if err := session.InsertGyDynamicRule(rule, RuleLifetime{}, uc); err != nil {
		logger.EnfLog.With("session_id", action.SessionID).Warnln("redirect rule install refused:", err)
		return
	}

	ctx, cancel := e.rpcContext()
	defer cancel()

	err := e.pipeline.ActivateFlows(ctx, action.Imsi, ip, nil, []PolicyRule{rule})
	if err != nil {
		logger.EnfLog.With("session_id", action.SessionID).Warnln("redirect flow activation failed:", err)
	}
}

func redirectRule(action *ServiceAction) PolicyRule {
	return PolicyRule{
		ID:                fmt.Sprintf("redirect_%s_%d", action.SessionID, action.CreditKey.RatingGroup),
		Priority:          RedirectFlowPriority,
		RatingGroup:       action.CreditKey.RatingGroup,
		ServiceIdentifier: action.CreditKey.ServiceIdentifier,
		TrackingType:      TrackingOnlyOCS,
		Redirect:          &action.RedirectServer,
		FlowList: []FlowDescription{
			{Match: "ip any", Action: "redirect"},
		},
	}
}

// installRestrict activates the configured restrict rules of a final-unit
// RESTRICT_ACCESS action and records them on the session.
func (e *LocalEnforcer) installRestrict(session *SessionState, action *ServiceAction, uc *SessionUpdateCriteria) {
	if len(action.RestrictRuleIDs) == 0 {
		logger.EnfLog.With("session_id", action.SessionID).Warnln("restrict action without restrict rules")
		return
	}

	session.InstallRestrictRules(action.RestrictRuleIDs, uc)

	ctx, cancel := e.rpcContext()
	defer cancel()

	err := e.pipeline.ActivateFlows(ctx, action.Imsi, action.IP, action.RestrictRuleIDs, nil)
	if err != nil {
		logger.EnfLog.With("session_id", action.SessionID).Warnln("restrict flow activation failed:", err)
	}
}

// reportUpdates sends the batched update request and folds the controller's
// answers back into the sessions. On transport failure every in-flight
// reporting cycle rolls back so the usage retries on the next tick.
func (e *LocalEnforcer) reportUpdates(sessions SessionMap, req *UpdateSessionRequest, update SessionUpdate) {
	msg := metrics.NewMessage("update_session", "tx")

	ctx, cancel := e.rpcContext()
	defer cancel()

	resp, err := e.reporter.ReportUpdateSession(ctx, *req)
	if err != nil {
		msg.Finish("failure")
		e.insts.SaveMessages(msg)

		logger.EnfLog.With("code", status.Code(err).String()).
			Warnln("update session report failed, rolling back reporting state:", err)

		for imsi, list := range sessions {
			for _, session := range list {
				session.ResetReportingGrants(req, update.CriteriaFor(imsi, session.SessionID()))
			}
		}

		switch status.Code(err) {
		case codes.Unavailable, codes.DeadlineExceeded, codes.ResourceExhausted:
			// Transient transport failure. Rebuild and resend after a backoff
			// instead of waiting a full tick.
			e.loop.RunAfterDelay(e.conf.UpdateRetryTimeout(), e.resendPendingUpdates)
		}

		return
	}

	msg.Finish("success")
	e.insts.SaveMessages(msg)

	for _, credit := range resp.Responses {
		session, ok := findSession(sessions, credit.Imsi, credit.SessionID)
		if !ok {
			continue
		}

		uc := update.CriteriaFor(credit.Imsi, credit.SessionID)

		if err := session.ReceiveChargingCredit(credit, uc); err != nil {
			logger.EnfLog.With("session_id", credit.SessionID).Warnln("charging response dropped:", err)
			continue
		}

		// Permanent controller failures leave no way to keep charging the
		// subscriber.
		if !credit.Success && credit.ResultCode >= 5000 {
			logger.EnfLog.With("session_id", credit.SessionID, "result_code", credit.ResultCode).
				Warnln("permanent charging failure, terminating session")

			if err := e.startSessionTermination(session, true); err != nil {
				logger.EnfLog.With("session_id", credit.SessionID).Warnln("termination failed:", err)
			}
		}
	}

	for _, monitor := range resp.UsageMonitorResponses {
		session, ok := findSession(sessions, monitor.Imsi, monitor.SessionID)
		if !ok {
			continue
		}

		uc := update.CriteriaFor(monitor.Imsi, monitor.SessionID)

		if err := session.ReceiveMonitor(monitor, uc); err != nil {
			logger.EnfLog.With("session_id", monitor.SessionID).Warnln("monitor response dropped:", err)
		}

		e.receiveEventTriggers(session, monitor.EventTriggers, monitor.RevalidationTime, uc)
	}
}

// receiveEventTriggers arms controller-requested event triggers on the
// session. REVALIDATION_TIMEOUT also schedules the revalidation timer.
func (e *LocalEnforcer) receiveEventTriggers(session *SessionState, triggers []EventTrigger,
	revalidationTime int64, uc *SessionUpdateCriteria) {
	for _, trigger := range triggers {
		session.AddEventTrigger(trigger, uc)

		if trigger == RevalidationTimeout {
			session.SetRevalidationTime(revalidationTime, uc)
			e.scheduleRevalidation(session.Imsi(), session.SessionID(), revalidationTime)
		}
	}
}

func (e *LocalEnforcer) scheduleRevalidation(imsi, sessionID string, revalidationTime int64) {
	delay := time.Until(time.Unix(revalidationTime, 0))
	if delay < 0 {
		delay = 0
	}

	e.loop.RunAfterDelay(delay, func() {
		session, ok := e.loadSession(imsi, sessionID)
		if !ok || !session.IsActive() {
			return
		}

		update := NewSessionUpdate()
		session.MarkEventTriggerReady(RevalidationTimeout, update.CriteriaFor(imsi, sessionID))

		if !e.store.UpdateSessions(update) {
			logger.EnfLog.With("session_id", sessionID).Warnln("revalidation commit refused")
		}
	})
}

// HandleSetSessionRules converges every session of a subscriber onto the
// given declarative rule set and produces the pipeline and bearer work the
// diff requires.
func (e *LocalEnforcer) HandleSetSessionRules(imsi string, set RuleSet) error {
	sessions, err := e.store.ReadSessions([]string{imsi})
	if err != nil {
		return err
	}

	if len(sessions[imsi]) == 0 {
		return ErrSessionNotFound(imsi, "")
	}

	update := NewSessionUpdate()

	for _, session := range sessions[imsi] {
		if !session.IsActive() {
			continue
		}

		uc := update.CriteriaFor(imsi, session.SessionID())

		toActivate, toDeactivate := session.ApplySessionRuleSet(set, uc)

		e.programRuleChanges(session, toActivate, toDeactivate)
		e.applyBearerUpdates(session.GetDedicatedBearerUpdates(toActivate, toDeactivate, uc))
	}

	if !e.store.UpdateSessions(update) {
		return ErrOperationFailedWithReason("set session rules", "commit refused")
	}

	return nil
}

func (e *LocalEnforcer) applyBearerUpdates(bearer BearerUpdate) {
	ctx, cancel := e.rpcContext()
	defer cancel()

	if bearer.NeedsCreation {
		if err := e.spgw.CreateDedicatedBearer(ctx, bearer.Create); err != nil {
			logger.EnfLog.With("imsi", bearer.Create.Imsi).Warnln("dedicated bearer creation failed:", err)
		}
	}

	if bearer.NeedsDeletion {
		if err := e.spgw.DeleteDedicatedBearer(ctx, bearer.Delete); err != nil {
			logger.EnfLog.With("imsi", bearer.Delete.Imsi).Warnln("dedicated bearer deletion failed:", err)
		}
	}
}

// HandleBearerBinding records the access network's answer to a dedicated
// bearer request. A bearer id of zero means creation failed; the policy rule
// is then removed from the session and the pipeline.
func (e *LocalEnforcer) HandleBearerBinding(req PolicyBearerBindingRequest) error {
	sessions, err := e.store.ReadSessions([]string{req.Imsi})
	if err != nil {
		return err
	}

	session, ok := findSessionByBearer(sessions, req.Imsi, req.LinkedBearerID)
	if !ok {
		return ErrSessionNotFound(req.Imsi, "")
	}

	update := NewSessionUpdate()
	uc := update.CriteriaFor(req.Imsi, session.SessionID())

	session.BindPolicyToBearer(req, uc)

	if req.BearerID == 0 {
		toDeactivate := RulesToProcess{}

		if session.IsStaticRuleInstalled(req.PolicyRuleID) {
			if err := session.DeactivateStaticRule(req.PolicyRuleID, uc); err == nil {
				toDeactivate.StaticRuleIDs = append(toDeactivate.StaticRuleIDs, req.PolicyRuleID)
			}
		} else if rule, removed := session.RemoveDynamicRule(req.PolicyRuleID, uc); removed {
			toDeactivate.DynamicRules = append(toDeactivate.DynamicRules, rule)
		}

		e.programRuleChanges(session, RulesToProcess{}, toDeactivate)
	}

	if !e.store.UpdateSessions(update) {
		return ErrOperationFailedWithReason("bearer binding", "commit refused")
	}

	return nil
}

// HandlePipelineRestart re-pushes every session after the pipeline comes
// back with a new epoch.
func (e *LocalEnforcer) HandlePipelineRestart(epoch uint64) error {
	sessions, err := e.store.ReadAllSessions()
	if err != nil {
		return err
	}

	ctx, cancel := e.rpcContext()
	defer cancel()

	return e.pipeline.Setup(ctx, sessions, epoch)
}

func (e *LocalEnforcer) loadSession(imsi, sessionID string) (*SessionState, bool) {
	sessions, err := e.store.ReadSessions([]string{imsi})
	if err != nil {
		logger.EnfLog.With("imsi", imsi).Warnln("session load failed:", err)
		return nil, false
	}

	return findSession(sessions, imsi, sessionID)
}

func findSession(sessions SessionMap, imsi, sessionID string) (*SessionState, bool) {
	for _, session := range sessions[imsi] {
		if session.SessionID() == sessionID {
			return session, true
		}
	}

	return nil, false
}

// findSessionByIP picks the subscriber session owning the record's UE IP.
// Records without an IP fall back to the subscriber's only session.
func findSessionByIP(sessions SessionMap, imsi, ipv4 string) (*SessionState, bool) {
	list := sessions[imsi]

	if ipv4 != "" {
		for _, session := range list {
			if session.Config().UeIPv4 == ipv4 {
				return session, true
			}
		}
	}

	if len(list) == 1 {
		return list[0], true
	}

	return nil, false
}

func findSessionByBearer(sessions SessionMap, imsi string, linkedBearerID uint32) (*SessionState, bool) {
	for _, session := range sessions[imsi] {
		lte := session.Config().LTE
		if lte != nil && lte.BearerID == linkedBearerID {
			return session, true
		}
	}

	return nil, false
}

func sortedImsis(sessions SessionMap) []string {
	imsis := make([]string, 0, len(sessions))
	for imsi := range sessions {
		imsis = append(imsis, imsi)
	}

	sort.Strings(imsis)

	return imsis
}

func (e *LocalEnforcer) scheduleSessionTimers(session *SessionState) {
	if session.RevalidationTime() != 0 {
		if _, armed := session.EventTriggerState(RevalidationTimeout); armed {
			e.scheduleRevalidation(session.Imsi(), session.SessionID(), session.RevalidationTime())
		}
	}
}

// RestoreSessionTimers re-arms the per-session timers after a restart:
// revalidation timers and the grace timer of every session persisted as
// scheduled for termination.
func (e *LocalEnforcer) RestoreSessionTimers() error {
	sessions, err := e.store.ReadAllSessions()
	if err != nil {
		return err
	}

	for _, imsi := range sortedImsis(sessions) {
		for _, session := range sessions[imsi] {
			e.scheduleSessionTimers(session)

			if session.FsmState() != SessionTerminationScheduled {
				continue
			}

			subscriber, sessionID := session.Imsi(), session.SessionID()

			e.loop.RunAfterDelay(e.conf.QuotaExhaustTermination(), func() {
				e.terminateQuotaExhaustedSession(subscriber, sessionID)
			})
		}
	}

	return nil
}
