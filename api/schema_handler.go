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
	"github.com/pkg/errors"

	apiCom "github.com/streamql/streamql/api/common"
	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/utils"
)

// SchemaStore reads and writes stream schemas.
type SchemaStore interface {
	GetSchema(ctx context.Context, ref metaCom.StreamRef) (*metaCom.Schema, error)
	PutSchema(schema *metaCom.Schema) error
}

// SchemaHandler handles schema http requests.
type SchemaHandler struct {
	store SchemaStore
}

// NewSchemaHandler will create a new SchemaHandler writing into store.
func NewSchemaHandler(store SchemaStore) *SchemaHandler {
	return &SchemaHandler{store: store}
}

// Register registers http handlers.
func (handler *SchemaHandler) Register(router *mux.Router, wrappers ...utils.HTTPHandlerWrapper) {
	router.HandleFunc("/api/{org}/streams/{stream}/schema", utils.ApplyHTTPWrappers(handler.GetSchema, wrappers...)).Methods(http.MethodGet)
	router.HandleFunc("/api/{org}/streams/{stream}/schema", utils.ApplyHTTPWrappers(handler.PutSchema, wrappers...)).Methods(http.MethodPut)
}

// GetSchemaRequest is the request of GET /api/{org}/streams/{stream}/schema.
type GetSchemaRequest struct {
	OrgID      string `path:"org" json:"org"`
	Stream     string `path:"stream" json:"stream"`
	StreamType string `query:"type,optional" json:"type,omitempty"`
}

// PutSchemaRequest is the request of PUT /api/{org}/streams/{stream}/schema.
type PutSchemaRequest struct {
	GetSchemaRequest
	Body metaCom.Schema `body:""`
}

func (r GetSchemaRequest) ref() (metaCom.StreamRef, error) {
	ref := metaCom.StreamRef{Org: r.OrgID, Type: metaCom.StreamTypeLogs, Name: r.Stream}
	if r.StreamType != "" {
		t, ok := metaCom.ParseStreamType(r.StreamType)
		if !ok {
			return ref, apiCom.ErrMissingParameter
		}
		ref.Type = t
	}
	return ref, nil
}

// GetSchema responds with the latest schema of a stream.
func (handler *SchemaHandler) GetSchema(w *utils.ResponseWriter, r *http.Request) {
	var getSchemaRequest GetSchemaRequest
	if err := apiCom.ReadRequest(r, &getSchemaRequest, w); err != nil {
		w.WriteError(err)
		return
	}
	ref, err := getSchemaRequest.ref()
	if err != nil {
		w.WriteError(err)
		return
	}

	schema, err := handler.store.GetSchema(r.Context(), ref)
	if err != nil {
		if errors.Is(err, metastore.ErrStreamDoesNotExist) {
			w.WriteError(apiCom.ErrStreamDoesNotExist)
			return
		}
		w.WriteError(err)
		return
	}
	w.WriteObject(schema)
}

// PutSchema stores a new schema version of a stream.
func (handler *SchemaHandler) PutSchema(w *utils.ResponseWriter, r *http.Request) {
	var putSchemaRequest PutSchemaRequest
	if err := apiCom.ReadRequest(r, &putSchemaRequest, w); err != nil {
		w.WriteError(err)
		return
	}
	ref, err := putSchemaRequest.ref()
	if err != nil {
		w.WriteError(err)
		return
	}

	schema := putSchemaRequest.Body
	schema.Stream = ref
	if schema.StartDt == 0 {
		schema.StartDt = utils.NowMicros()
	}
	if err := handler.store.PutSchema(&schema); err != nil {
		w.WriteError(utils.APIError{Code: http.StatusBadRequest, Message: err.Error()})
		return
	}
	w.WriteObject(&schema)
}
