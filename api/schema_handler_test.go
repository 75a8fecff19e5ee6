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
	"bytes"
	"context"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/http/httptest"

	"github.com/gorilla/mux"
	"github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/mock"

	"github.com/streamql/streamql/metastore"
	metaCom "github.com/streamql/streamql/metastore/common"
	"github.com/streamql/streamql/utils"
)

type mockSchemaStore struct {
	mock.Mock
}

func (m *mockSchemaStore) GetSchema(ctx context.Context, ref metaCom.StreamRef) (*metaCom.Schema, error) {
	args := m.Called(ctx, ref)
	schema, _ := args.Get(0).(*metaCom.Schema)
	return schema, args.Error(1)
}

func (m *mockSchemaStore) PutSchema(schema *metaCom.Schema) error {
	return m.Called(schema).Error(0)
}

var _ = ginkgo.Describe("SchemaHandler", func() {
	var testServer *httptest.Server
	var hostPort string
	var store *mockSchemaStore

	testSchema := &metaCom.Schema{
		Stream: metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "t"},
		Fields: []metaCom.Field{
			{Name: metaCom.TimestampColumn, Type: metaCom.Int64},
			{Name: "name", Type: metaCom.Utf8},
		},
		StartDt: 1,
	}

	ginkgo.BeforeEach(func() {
		store = &mockSchemaStore{}
		testRouter := mux.NewRouter()
		NewSchemaHandler(store).Register(testRouter, utils.WithMetrics, utils.WithLogging)
		testServer = httptest.NewUnstartedServer(WithPanicHandling(testRouter))
		testServer.Start()
		hostPort = testServer.Listener.Addr().String()
	})

	ginkgo.AfterEach(func() {
		testServer.Close()
	})

	ginkgo.It("GetSchema should work", func() {
		store.On("GetSchema", mock.Anything, testSchema.Stream).Return(testSchema, nil)
		resp, err := http.Get(fmt.Sprintf("http://%s/api/default/streams/t/schema?type=logs", hostPort))
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		b, err := ioutil.ReadAll(resp.Body)
		Ω(err).Should(BeNil())
		var schema metaCom.Schema
		Ω(json.Unmarshal(b, &schema)).Should(Succeed())
		Ω(schema).Should(Equal(*testSchema))
	})

	ginkgo.It("GetSchema should fail for unknown streams", func() {
		ref := metaCom.StreamRef{Org: "default", Type: metaCom.StreamTypeLogs, Name: "unknown"}
		store.On("GetSchema", mock.Anything, ref).Return(nil, errors.Wrapf(metastore.ErrStreamDoesNotExist, "stream %s", ref))
		resp, err := http.Get(fmt.Sprintf("http://%s/api/default/streams/unknown/schema", hostPort))
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusNotFound))

		resp, err = http.Get(fmt.Sprintf("http://%s/api/default/streams/t/schema?type=bogus", hostPort))
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusBadRequest))
	})

	ginkgo.It("PutSchema should work", func() {
		store.On("PutSchema", mock.MatchedBy(func(s *metaCom.Schema) bool {
			return s.Stream == testSchema.Stream && len(s.Fields) == 2 && s.StartDt == 1
		})).Return(nil).Once()
		body, err := json.Marshal(metaCom.Schema{Fields: testSchema.Fields, StartDt: 1})
		Ω(err).Should(BeNil())
		req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/api/default/streams/t/schema", hostPort), bytes.NewReader(body))
		Ω(err).Should(BeNil())
		resp, err := http.DefaultClient.Do(req)
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusOK))
		store.AssertExpectations(ginkgo.GinkgoT())
	})

	ginkgo.It("PutSchema should reject invalid schemas", func() {
		store.On("PutSchema", mock.Anything).Return(metastore.ErrMissingTimestamp)
		req, err := http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/api/default/streams/t/schema", hostPort),
			bytes.NewBufferString(`{"fields":[{"name":"name","type":"Utf8"}]}`))
		Ω(err).Should(BeNil())
		resp, err := http.DefaultClient.Do(req)
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusBadRequest))

		req, err = http.NewRequest(http.MethodPut, fmt.Sprintf("http://%s/api/default/streams/t/schema", hostPort),
			bytes.NewBufferString("{"))
		Ω(err).Should(BeNil())
		resp, err = http.DefaultClient.Do(req)
		Ω(err).Should(BeNil())
		Ω(resp.StatusCode).Should(Equal(http.StatusBadRequest))
	})
})
