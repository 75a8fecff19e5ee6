//  Copyright (c) 2017-2018 Uber Technologies, Inc.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package api

import (
	"io"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/streamql/streamql/utils"
)

// HealthCheckHandler http handler for health check.
type HealthCheckHandler struct {
	sync.RWMutex
	// This flag controls whether returns 200 health or 503 service unavailable in health check handler.
	// Useful to drain a node before taking it out of the cluster.
	disable bool
}

// NewHealthCheckHandler return a new http handler for health check.
func NewHealthCheckHandler() *HealthCheckHandler {
	return &HealthCheckHandler{}
}

// Register registers http handlers.
func (handler *HealthCheckHandler) Register(router *mux.Router) {
	router.HandleFunc("/healthz", utils.ApplyHTTPWrappers(handler.HealthCheck)).Methods(http.MethodGet, http.MethodPost)
	router.HandleFunc("/version", utils.ApplyHTTPWrappers(handler.Version)).Methods(http.MethodGet)
}

// SetDisabled turns the health check off or back on.
func (handler *HealthCheckHandler) SetDisabled(disabled bool) {
	handler.Lock()
	handler.disable = disabled
	handler.Unlock()
}

// HealthCheck is the HealthCheck endpoint.
func (handler *HealthCheckHandler) HealthCheck(w *utils.ResponseWriter, r *http.Request) {
	handler.RLock()
	disabled := handler.disable
	handler.RUnlock()
	if disabled {
		w.WriteBytesWithCode(http.StatusServiceUnavailable, []byte("Health check disabled"))
	} else {
		io.WriteString(w, "OK")
	}
}

// Version is the Version check endpoint.
func (handler *HealthCheckHandler) Version(w *utils.ResponseWriter, r *http.Request) {
	io.WriteString(w, utils.GetConfig().Version)
}
