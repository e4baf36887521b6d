// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import "context"

// PipelineClient programs the user-plane packet pipeline.
type PipelineClient interface {
	// ActivateFlows installs rules for a subscriber's traffic.
	ActivateFlows(ctx context.Context, imsi, ipv4 string, staticRuleIDs []string, dynamicRules []PolicyRule) error
	// DeactivateFlows removes previously installed rules.
	DeactivateFlows(ctx context.Context, imsi string, ruleIDs []string, dynamicRuleIDs []string) error
	// UpdateIPFIXFlow refreshes the subscriber's flow-export record.
	UpdateIPFIXFlow(ctx context.Context, imsi string, config SessionConfig, pdpStartTime int64) error
	// UpdateSubscriberQuotaState pushes the carrier-wifi wallet state.
	UpdateSubscriberQuotaState(ctx context.Context, imsi, macAddr string, state SubscriberQuotaState) error
	// Setup re-pushes every session after a pipeline restart. Idempotent.
	Setup(ctx context.Context, sessions SessionMap, epoch uint64) error
}

// SessionReporter is the upstream RPC surface toward the policy/charging
// controller.
type SessionReporter interface {
	ReportCreateSession(ctx context.Context, req CreateSessionRequest) (CreateSessionResponse, error)
	ReportUpdateSession(ctx context.Context, req UpdateSessionRequest) (UpdateSessionResponse, error)
	ReportTerminateSession(ctx context.Context, req SessionTerminateRequest) error
}

// DirectoryClient locates subscribers and their current endpoints.
type DirectoryClient interface {
	GetIPFromSubscriberID(ctx context.Context, imsi string) (string, error)
	GetSubscriberIDFromIP(ctx context.Context, ipv4 string) (string, error)
}

// SpgwClient is the LTE access-network surface for dedicated bearers.
type SpgwClient interface {
	CreateDedicatedBearer(ctx context.Context, req CreateBearerRequest) error
	DeleteDedicatedBearer(ctx context.Context, req DeleteBearerRequest) error
	DeleteDefaultBearer(ctx context.Context, imsi string, bearerID uint32) error
}

// AAAClient is the WLAN access-network surface for radius sessions.
type AAAClient interface {
	TerminateSession(ctx context.Context, radiusSessionID, imsi string) error
}
