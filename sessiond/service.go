// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/omec-project/sessiond/logger"
	"github.com/omec-project/sessiond/sessiond/metrics"
)

// Collaborators bundles the external clients the engine talks to.
type Collaborators struct {
	Pipeline  PipelineClient
	Reporter  SessionReporter
	Directory DirectoryClient
	Spgw      SpgwClient
	AAA       AAAClient
}

// Service wires the configured store, rule catalog, metrics and enforcer
// together and runs them until a shutdown signal arrives.
type Service struct {
	conf Conf

	store      SessionStore
	ruleStore  *RuleStore
	enforcer   *LocalEnforcer
	metricsSvc *metrics.Service
}

func NewService(conf Conf, clients Collaborators) (*Service, error) {
	ruleStore := NewRuleStoreFromConf(conf)

	var (
		store SessionStore
		err   error
	)

	switch conf.Store.Type {
	case StoreMongoDB:
		store, err = NewMongoDBStore(conf.Store.MongoDBURI, ruleStore, conf.CreditBehavior())
		if err != nil {
			return nil, err
		}
	default:
		store = NewInMemoryStore(ruleStore, conf.CreditBehavior())
	}

	metricsSvc, err := metrics.NewPrometheusService()
	if err != nil {
		return nil, err
	}

	enforcer := NewLocalEnforcer(conf, store, ruleStore,
		clients.Pipeline, clients.Reporter, clients.Directory, clients.Spgw, clients.AAA,
		metricsSvc)

	return &Service{
		conf:       conf,
		store:      store,
		ruleStore:  ruleStore,
		enforcer:   enforcer,
		metricsSvc: metricsSvc,
	}, nil
}

// Enforcer exposes the enforcement engine for callers feeding it work.
func (s *Service) Enforcer() *LocalEnforcer { return s.enforcer }

// Run blocks until an interrupt or termination signal arrives.
func (s *Service) Run() {
	mux := http.NewServeMux()
	setupTelemetry(mux, s.metricsSvc)

	httpSrv := &http.Server{Addr: ":" + s.conf.HTTPPort, Handler: mux}

	go func() {
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.AppLog.Fatalln("http server failed:", err)
		}

		logger.AppLog.Infoln("http server closed")
	}()

	if err := s.enforcer.RestoreSessionTimers(); err != nil {
		logger.AppLog.Warnln("could not restore session timers:", err)
	}

	go s.enforcer.Start()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt)
	signal.Notify(sig, syscall.SIGTERM)
	<-sig

	s.enforcer.Stop()

	if err := httpSrv.Shutdown(context.Background()); err != nil {
		logger.AppLog.Errorln("failed to shutdown http:", err)
	}

	if err := s.metricsSvc.Stop(); err != nil {
		logger.AppLog.Errorln("failed to stop metrics:", err)
	}
}
