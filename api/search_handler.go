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
	"context"
	"net/http"

	"github.com/gorilla/mux"

	apiCom "github.com/streamql/streamql/api/common"
	"github.com/streamql/streamql/broker"
	metaCom "github.com/streamql/streamql/metastore/common"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

// SearchService runs and cancels searches.
type SearchService interface {
	Search(ctx context.Context, req *queryCom.Request) (*queryCom.Response, error)
	Cancel(traceID string) bool
	Running(org string) []broker.TaskInfo
}

// SearchHandler serves the search api of an organization.
type SearchHandler struct {
	service SearchService
}

// NewSearchHandler creates a SearchHandler.
func NewSearchHandler(service SearchService) *SearchHandler {
	return &SearchHandler{service: service}
}

// Register registers http handlers.
func (handler *SearchHandler) Register(router *mux.Router, wrappers ...utils.HTTPHandlerWrapper) {
	router.HandleFunc("/api/{org}/_search", utils.ApplyHTTPWrappers(handler.Search, wrappers...)).Methods(http.MethodPost)
	router.HandleFunc("/api/{org}/query_manager/status", utils.ApplyHTTPWrappers(handler.Status, wrappers...)).Methods(http.MethodGet)
	router.HandleFunc("/api/{org}/query_manager/{trace_id}", utils.ApplyHTTPWrappers(handler.Cancel, wrappers...)).Methods(http.MethodDelete)
}

// SearchRequest is the request of POST /api/{org}/_search.
type SearchRequest struct {
	OrgID      string           `path:"org" json:"org"`
	StreamType string           `query:"type,optional" json:"type,omitempty"`
	SearchType string           `query:"search_type,optional" json:"search_type,omitempty"`
	Body       queryCom.Request `body:""`
}

// CancelRequest is the request of DELETE /api/{org}/query_manager/{trace_id}.
type CancelRequest struct {
	OrgID   string `path:"org" json:"org"`
	TraceID string `path:"trace_id" json:"trace_id"`
}

// CancelResponse tells whether a search was canceled.
type CancelResponse struct {
	TraceID   string `json:"trace_id"`
	IsSuccess bool   `json:"is_success"`
}

// StatusRequest is the request of GET /api/{org}/query_manager/status.
type StatusRequest struct {
	OrgID string `path:"org" json:"org"`
}

// Search runs a search and responds with its hits.
func (handler *SearchHandler) Search(w *utils.ResponseWriter, r *http.Request) {
	var searchRequest SearchRequest
	if err := apiCom.ReadRequest(r, &searchRequest, w); err != nil {
		w.WriteError(err)
		return
	}

	req := searchRequest.Body
	req.OrgID = searchRequest.OrgID
	if searchRequest.StreamType != "" {
		streamType, ok := metaCom.ParseStreamType(searchRequest.StreamType)
		if !ok {
			w.WriteError(apiCom.ErrMissingParameter)
			return
		}
		req.StreamType = streamType
	}
	if searchRequest.SearchType != "" {
		req.SearchType = queryCom.SearchEventType(searchRequest.SearchType)
	}

	resp, err := handler.service.Search(r.Context(), &req)
	if err != nil {
		w.WriteError(apiCom.SearchError(err))
		return
	}
	w.WriteObject(resp)
}

// Cancel aborts a running search.
func (handler *SearchHandler) Cancel(w *utils.ResponseWriter, r *http.Request) {
	var cancelRequest CancelRequest
	if err := apiCom.ReadRequest(r, &cancelRequest, w); err != nil {
		w.WriteError(err)
		return
	}
	if !handler.service.Cancel(cancelRequest.TraceID) {
		w.WriteError(apiCom.ErrSearchDoesNotExist)
		return
	}
	w.WriteObject(CancelResponse{TraceID: cancelRequest.TraceID, IsSuccess: true})
}

// Status lists the running searches of the organization.
func (handler *SearchHandler) Status(w *utils.ResponseWriter, r *http.Request) {
	var statusRequest StatusRequest
	if err := apiCom.ReadRequest(r, &statusRequest, w); err != nil {
		w.WriteError(err)
		return
	}
	w.WriteObject(handler.service.Running(statusRequest.OrgID))
}
