// SPDX-License-Identifier: Apache-2.0
// Copyright 2023-present Open Networking Foundation

package sessiond

import (
	"net/http"

	"github.com/omec-project/sessiond/sessiond/metrics"
)

func setupTelemetry(mux *http.ServeMux, svc *metrics.Service) {
	mux.Handle("/metrics", svc.Handler())
}
