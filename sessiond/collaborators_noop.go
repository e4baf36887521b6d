// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"context"

	"github.com/omec-project/sessiond/logger"
)

// NewLoggingCollaborators returns collaborators that only log. Useful for
// dry runs of the engine before the real transports are attached.
func NewLoggingCollaborators() Collaborators {
	return Collaborators{
		Pipeline:  loggingPipeline{},
		Reporter:  loggingReporter{},
		Directory: loggingDirectory{},
		Spgw:      loggingSpgw{},
		AAA:       loggingAAA{},
	}
}

type loggingPipeline struct{}

func (loggingPipeline) ActivateFlows(_ context.Context, imsi, ipv4 string, staticRuleIDs []string, dynamicRules []PolicyRule) error {
	logger.EnfLog.With("imsi", imsi, "ipv4", ipv4, "static", staticRuleIDs,
		"dynamic", len(dynamicRules)).Debugln("activate flows")
	return nil
}

func (loggingPipeline) DeactivateFlows(_ context.Context, imsi string, ruleIDs, dynamicRuleIDs []string) error {
	logger.EnfLog.With("imsi", imsi, "static", ruleIDs, "dynamic", dynamicRuleIDs).
		Debugln("deactivate flows")
	return nil
}

func (loggingPipeline) UpdateIPFIXFlow(_ context.Context, imsi string, _ SessionConfig, _ int64) error {
	logger.EnfLog.With("imsi", imsi).Debugln("update ipfix flow")
	return nil
}

func (loggingPipeline) UpdateSubscriberQuotaState(_ context.Context, imsi, _ string, state SubscriberQuotaState) error {
	logger.EnfLog.With("imsi", imsi, "state", state.String()).Debugln("update subscriber quota state")
	return nil
}

func (loggingPipeline) Setup(_ context.Context, sessions SessionMap, epoch uint64) error {
	logger.EnfLog.With("subscribers", len(sessions), "epoch", epoch).Debugln("pipeline setup")
	return nil
}

type loggingReporter struct{}

func (loggingReporter) ReportCreateSession(_ context.Context, req CreateSessionRequest) (CreateSessionResponse, error) {
	logger.EnfLog.With("session_id", req.SessionID).Debugln("report create session")
	return CreateSessionResponse{}, nil
}

func (loggingReporter) ReportUpdateSession(_ context.Context, req UpdateSessionRequest) (UpdateSessionResponse, error) {
	logger.EnfLog.With("updates", len(req.Updates), "monitors", len(req.UsageMonitors)).
		Debugln("report update session")
	return UpdateSessionResponse{}, nil
}

func (loggingReporter) ReportTerminateSession(_ context.Context, req SessionTerminateRequest) error {
	logger.EnfLog.With("session_id", req.SessionID).Debugln("report terminate session")
	return nil
}

type loggingDirectory struct{}

func (loggingDirectory) GetIPFromSubscriberID(_ context.Context, imsi string) (string, error) {
	return "", ErrNotFoundWithParam("subscriber ip", "imsi", imsi)
}

func (loggingDirectory) GetSubscriberIDFromIP(_ context.Context, ipv4 string) (string, error) {
	return "", ErrNotFoundWithParam("subscriber", "ipv4", ipv4)
}

type loggingSpgw struct{}

func (loggingSpgw) CreateDedicatedBearer(_ context.Context, req CreateBearerRequest) error {
	logger.EnfLog.With("imsi", req.Imsi).Debugln("create dedicated bearer")
	return nil
}

func (loggingSpgw) DeleteDedicatedBearer(_ context.Context, req DeleteBearerRequest) error {
	logger.EnfLog.With("imsi", req.Imsi).Debugln("delete dedicated bearer")
	return nil
}

func (loggingSpgw) DeleteDefaultBearer(_ context.Context, imsi string, bearerID uint32) error {
	logger.EnfLog.With("imsi", imsi, "bearer_id", bearerID).Debugln("delete default bearer")
	return nil
}

type loggingAAA struct{}

func (loggingAAA) TerminateSession(_ context.Context, radiusSessionID, imsi string) error {
	logger.EnfLog.With("imsi", imsi, "radius_session_id", radiusSessionID).
		Debugln("terminate radius session")
	return nil
}
