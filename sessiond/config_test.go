// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func writeConfFile(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "sessiond.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoadConfigFileDefaults(t *testing.T) {
	conf, err := LoadConfigFile(writeConfFile(t, `{}`))
	require.NoError(t, err)

	require.Equal(t, 0.8, conf.UsageReportingThreshold)
	require.Equal(t, "8080", conf.HTTPPort)
	require.Equal(t, StoreLocal, conf.Store.Type)
	require.Equal(t, 5*time.Second, conf.ForceTerminationTimeout())
	require.Equal(t, 30*time.Second, conf.QuotaExhaustTermination())
	require.Equal(t, 10*time.Second, conf.UpdateRetryTimeout())

	behavior := conf.CreditBehavior()
	require.Equal(t, 0.8, behavior.UsageReportingThreshold)
	require.True(t, behavior.TerminateOnExhaust)
}

func TestLoadConfigFileOverrides(t *testing.T) {
	conf, err := LoadConfigFile(writeConfFile(t, `{
		"usage_reporting_threshold": 0.5,
		"terminate_service_when_quota_exhausted": false,
		"session_force_termination_timeout_ms": 2000,
		"quota_exhaustion_termination_on_init_ms": 1500,
		"retry_timeout_ms": 700,
		"http_port": "9090",
		"store": {"type": "mongodb", "mongodb_uri": "mongodb://localhost:27017"},
		"static_rules": [{"id": "rule1", "rating_group": 1, "tracking_type": 0}]
	}`))
	require.NoError(t, err)

	require.Equal(t, 0.5, conf.UsageReportingThreshold)
	require.Equal(t, "9090", conf.HTTPPort)
	require.Equal(t, 2*time.Second, conf.ForceTerminationTimeout())
	require.Equal(t, 1500*time.Millisecond, conf.QuotaExhaustTermination())
	require.Equal(t, 700*time.Millisecond, conf.UpdateRetryTimeout())
	require.Equal(t, StoreMongoDB, conf.Store.Type)
	require.False(t, conf.CreditBehavior().TerminateOnExhaust)

	ruleStore := NewRuleStoreFromConf(conf)
	rule, ok := ruleStore.Get("rule1")
	require.True(t, ok)
	require.Equal(t, uint32(1), rule.RatingGroup)
}

func TestLoadConfigFileRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "threshold above one",
			content: `{"usage_reporting_threshold": 1.5}`,
		},
		{
			name:    "unknown store type",
			content: `{"store": {"type": "redis"}}`,
		},
		{
			name:    "mongodb without uri",
			content: `{"store": {"type": "mongodb"}}`,
		},
		{
			name:    "static rule without id",
			content: `{"static_rules": [{"id": ""}]}`,
		},
		{
			name:    "duplicate static rule id",
			content: `{"static_rules": [{"id": "r1"}, {"id": "r1"}]}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfigFile(writeConfFile(t, tt.content))
			require.Error(t, err)
		})
	}
}

func TestLoadConfigFileMissingFile(t *testing.T) {
	_, err := LoadConfigFile(filepath.Join(t.TempDir(), "nope.json"))
	require.Error(t, err)
}
