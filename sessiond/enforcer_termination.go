// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"context"
	"time"

	mapset "github.com/deckarep/golang-set"

	"github.com/omec-project/sessiond/logger"
	"github.com/omec-project/sessiond/sessiond/metrics"
)

// HandleSessionTermination begins the termination protocol for one session
// of the subscriber, notifying the access network.
func (e *LocalEnforcer) HandleSessionTermination(imsi, sessionID string) error {
	session, ok := e.loadSession(imsi, sessionID)
	if !ok {
		return ErrSessionNotFound(imsi, sessionID)
	}

	return e.startSessionTermination(session, true)
}

// startSessionTermination moves the session to RELEASED, persists that
// before any downstream side effect, strips every rule from the pipeline,
// notifies the access network and arms the force-termination timer. The
// session finishes either when a usage report no longer references its
// rules or when the timer fires, whichever comes first.
func (e *LocalEnforcer) startSessionTermination(session *SessionState, notifyAccess bool) error {
	if session.IsTerminating() {
		return nil
	}

	imsi, sessionID := session.Imsi(), session.SessionID()

	staticIDs := session.ActiveStaticRules()
	staticIDs = append(staticIDs, session.ActiveRestrictRules()...)

	dynamicIDs := []string{}
	for _, rule := range session.DynamicRules() {
		dynamicIDs = append(dynamicIDs, rule.ID)
	}

	for _, rule := range session.GyDynamicRules() {
		dynamicIDs = append(dynamicIDs, rule.ID)
	}

	update := NewSessionUpdate()
	uc := update.CriteriaFor(imsi, sessionID)

	if err := session.SetFsmState(SessionReleased, uc); err != nil {
		return err
	}

	session.SetPdpEndTime(time.Now().Unix(), uc)

	// The released state must be durable before flows disappear, otherwise a
	// restart would resurrect a session whose traffic is already gone.
	if !e.store.UpdateSessions(update) {
		return ErrOperationFailedWithReason("session termination", "commit refused")
	}

	ctx, cancel := e.rpcContext()
	defer cancel()

	if err := e.pipeline.DeactivateFlows(ctx, imsi, staticIDs, dynamicIDs); err != nil {
		logger.EnfLog.With("session_id", sessionID).
			Warnln("pipeline deactivate failed, forced termination will finish the job:", err)
	}

	config := session.Config()

	if config.RatType == RatWlan && config.WLAN != nil {
		err := e.pipeline.UpdateSubscriberQuotaState(ctx, imsi, config.WLAN.MacAddr, QuotaTerminate)
		if err != nil {
			logger.EnfLog.With("session_id", sessionID).Warnln("quota state propagation failed:", err)
		}
	}

	if notifyAccess {
		e.notifyAccessOfTermination(ctx, session)
	}

	e.loop.RunAfterDelay(e.conf.ForceTerminationTimeout(), func() {
		e.forceTermination(imsi, sessionID)
	})

	logger.EnfLog.With("imsi", imsi, "session_id", sessionID).Infoln("session termination started")

	return nil
}

func (e *LocalEnforcer) notifyAccessOfTermination(ctx context.Context, session *SessionState) {
	config := session.Config()

	switch config.RatType {
	case RatLte:
		if config.LTE == nil {
			return
		}

		err := e.spgw.DeleteDefaultBearer(ctx, session.Imsi(), config.LTE.BearerID)
		if err != nil {
			logger.EnfLog.With("session_id", session.SessionID()).
				Warnln("default bearer deletion failed:", err)
		}

	case RatWlan:
		if config.WLAN == nil {
			return
		}

		err := e.aaa.TerminateSession(ctx, config.WLAN.RadiusSessionID, session.Imsi())
		if err != nil {
			logger.EnfLog.With("session_id", session.SessionID()).
				Warnln("radius session termination failed:", err)
		}
	}
}

// completeTerminationsWithoutTraffic finishes every released session the
// usage report no longer references: its rules are gone from the pipeline,
// so the final usage is settled.
func (e *LocalEnforcer) completeTerminationsWithoutTraffic(sessions SessionMap,
	withTraffic mapset.Set, update SessionUpdate) {
	for _, imsi := range sortedImsis(sessions) {
		for _, session := range sessions[imsi] {
			if session.FsmState() != SessionReleased {
				continue
			}

			if withTraffic.Contains(session.SessionID()) {
				continue
			}

			uc := update.CriteriaFor(imsi, session.SessionID())
			e.completeSessionTermination(session, uc)
		}
	}
}

// forceTermination is the timer path: the pipeline never confirmed rule
// removal in time, so termination completes with whatever usage accumulated.
func (e *LocalEnforcer) forceTermination(imsi, sessionID string) {
	session, ok := e.loadSession(imsi, sessionID)
	if !ok || session.FsmState() == SessionTerminated {
		return
	}

	if session.FsmState() == SessionActive {
		// Session was re-established since termination started.
		return
	}

	logger.EnfLog.With("session_id", sessionID).Infoln("forced termination timeout fired")

	update := NewSessionUpdate()
	e.completeSessionTermination(session, update.CriteriaFor(imsi, sessionID))

	if !e.store.UpdateSessions(update) {
		logger.EnfLog.With("session_id", sessionID).Warnln("forced termination commit refused")
	}
}

// completeSessionTermination finalizes the FSM, reports the terminal usage
// bundle upstream and samples the session's lifetime.
func (e *LocalEnforcer) completeSessionTermination(session *SessionState, uc *SessionUpdateCriteria) {
	req, done, err := session.CompleteTermination(uc)
	if err != nil {
		logger.EnfLog.With("session_id", session.SessionID()).Warnln("termination completion refused:", err)
		return
	}

	if !done {
		return
	}

	msg := metrics.NewMessage("terminate_session", "tx")

	ctx, cancel := e.rpcContext()
	defer cancel()

	if err := e.reporter.ReportTerminateSession(ctx, req); err != nil {
		msg.Finish("failure")
		logger.EnfLog.With("session_id", session.SessionID()).
			Warnln("terminate report failed, usage is lost upstream:", err)
	} else {
		msg.Finish("success")
	}

	e.insts.SaveMessages(msg)

	sample := &metrics.Session{
		Imsi:      session.Imsi(),
		CreatedAt: time.Unix(session.PdpStartTime(), 0),
	}
	sample.Delete()
	e.insts.SaveSessions(sample)
}
