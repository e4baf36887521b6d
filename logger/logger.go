// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	log *zap.Logger

	// AppLog is used for process lifecycle events.
	AppLog *zap.SugaredLogger
	// SessLog is used by session state and credit accounting.
	SessLog *zap.SugaredLogger
	// EnfLog is used by the local enforcer.
	EnfLog *zap.SugaredLogger
	// StoreLog is used by the session store implementations.
	StoreLog *zap.SugaredLogger
	// RuleLog is used by the policy rule store.
	RuleLog *zap.SugaredLogger

	atomicLevel zap.AtomicLevel
)

func init() {
	atomicLevel = zap.NewAtomicLevelAt(zap.InfoLevel)

	config := zap.Config{
		Level:            atomicLevel,
		Development:      false,
		Encoding:         "console",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	config.EncoderConfig.LevelKey = "level"
	config.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	config.EncoderConfig.CallerKey = "caller"
	config.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder

	var err error

	log, err = config.Build()
	if err != nil {
		panic(err)
	}

	AppLog = log.Sugar().With("component", "sessiond", "category", "App")
	SessLog = log.Sugar().With("component", "sessiond", "category", "Session")
	EnfLog = log.Sugar().With("component", "sessiond", "category", "Enforcer")
	StoreLog = log.Sugar().With("component", "sessiond", "category", "Store")
	RuleLog = log.Sugar().With("component", "sessiond", "category", "Rules")
}

// SetLogLevel adjusts the verbosity of every named logger at runtime.
func SetLogLevel(level zapcore.Level) {
	atomicLevel.SetLevel(level)
}
