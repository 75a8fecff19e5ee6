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

package utils

import (
	"compress/gzip"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/streamql/streamql/common"
	"golang.org/x/net/netutil"
)

const (
	HTTPContentTypeHeaderKey     = "Content-Type"
	HTTPAcceptEncodingHeaderKey  = "Accept-Encoding"
	HTTPContentEncodingHeaderKey = "Content-Encoding"

	HTTPContentTypeApplicationJson = "application/json"
	HTTPContentEncodingGzip        = "gzip"

	// CompressionThreshold is the min number of bytes beyond which we will compress json payload
	CompressionThreshold = 1 << 10
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// GetOrigin returns the caller of the request.
func GetOrigin(r *http.Request) string {
	origin := r.Header.Get("RPC-Caller")
	if origin == "" {
		origin = r.Header.Get("X-Origin")
	}
	if origin == "" {
		origin = "UNKNOWN"
	}
	return origin
}

// LimitServeAsync starts a http server on port serving handler with at most
// httpCfg.MaxConnections concurrent connections. Serve errors are delivered on the channel.
func LimitServeAsync(port int, handler http.Handler, httpCfg common.HTTPConfig) (chan error, *http.Server, error) {
	listener, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, nil, err
	}
	if httpCfg.MaxConnections > 0 {
		listener = netutil.LimitListener(listener, httpCfg.MaxConnections)
	}
	server := &http.Server{
		ReadTimeout:  time.Duration(httpCfg.ReadTimeOutInSeconds) * time.Second,
		WriteTimeout: time.Duration(httpCfg.WriteTimeOutInSeconds) * time.Second,
		Handler:      handler,
	}
	errChan := make(chan error, 1)
	go func() {
		defer listener.Close()
		errChan <- server.Serve(listener)
	}()
	return errChan, server, nil
}

// HandlerFunc defines http handler function
type HandlerFunc func(rw *ResponseWriter, r *http.Request)

// HTTPHandlerWrapper wraps http handler function
type HTTPHandlerWrapper func(handler HandlerFunc) HandlerFunc

// ApplyHTTPWrappers apply wrappers according to the order
func ApplyHTTPWrappers(handler HandlerFunc, wrappers ...HTTPHandlerWrapper) http.HandlerFunc {
	h := handler
	for _, wrapper := range wrappers {
		h = wrapper(h)
	}

	return func(writer http.ResponseWriter, request *http.Request) {
		rw := NewResponseWriter(writer)
		h(rw, request)
	}
}

// WithMetrics reports call count and latency of the wrapped handler to the root reporter.
func WithMetrics(next HandlerFunc) HandlerFunc {
	funcName := GetFuncName(next)
	return func(rw *ResponseWriter, r *http.Request) {
		scope := GetRootReporter().GetRootScope()
		origin := GetOrigin(r)
		stopWatch := scope.Tagged(map[string]string{
			metricsTagComponent: metricsComponentAPI,
			metricsTagHandler:   funcName,
			metricsTagOrigin:    origin,
		}).Timer(scopeNameHTTPHandlerLatency).Start()
		next(rw, r)
		stopWatch.Stop()
		scope.Tagged(map[string]string{
			metricsTagComponent:  metricsComponentAPI,
			metricsTagHandler:    funcName,
			metricsTagOrigin:     origin,
			metricsTagStatusCode: strconv.Itoa(rw.statusCode),
		}).Counter(scopeNameHTTPHandlerCall).Inc(1)
	}
}

// WithLogging logs failed requests at error level and successful ones at debug level.
func WithLogging(next HandlerFunc) HandlerFunc {
	return func(rw *ResponseWriter, r *http.Request) {
		next(rw, r)
		if rw.err != nil {
			GetLogger().With(
				"request", rw.req,
				"status", rw.statusCode,
				"error", rw.err,
				"method", r.Method,
				"name", r.URL.Path,
			).Errorf("request failed")
		} else {
			GetLogger().With(
				"request", rw.req,
				"name", r.URL.Path,
			).Debug("request succeeded")
		}
	}
}

func setCommonHeaders(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}

// ResponseWriter decorates http.ResponseWriter
type ResponseWriter struct {
	http.ResponseWriter
	statusCode int
	req        interface{}
	err        error
}

// NewResponseWriter returns response writer with status code 200
func NewResponseWriter(rw http.ResponseWriter) *ResponseWriter {
	return &ResponseWriter{
		statusCode:     http.StatusOK,
		ResponseWriter: rw,
	}
}

// SetRequest set unmarshalled request body to response writer for logging purpose
func (s *ResponseWriter) SetRequest(req interface{}) {
	s.req = req
}

// StatusCode returns the status code written so far.
func (s *ResponseWriter) StatusCode() int {
	return s.statusCode
}

// WriteHeader implements http.ResponseWriter WriteHeader for write status code
func (s *ResponseWriter) WriteHeader(code int) {
	if code > 0 {
		s.statusCode = code
		s.ResponseWriter.WriteHeader(code)
	}
}

// WriteBytesWithCode writes bytes with code
func (s *ResponseWriter) WriteBytesWithCode(code int, bts []byte) {
	setCommonHeaders(s)
	s.WriteHeader(code)
	if bts != nil {
		s.Write(bts)
	}
}

// WriteJSONBytesWithCode write json bytes and marshal error to response
func (s *ResponseWriter) WriteJSONBytesWithCode(code int, jsonBytes []byte, marshalErr error) {
	s.Header().Set(HTTPContentTypeHeaderKey, HTTPContentTypeApplicationJson)

	if marshalErr != nil {
		code = http.StatusInternalServerError
		jsonBytes, _ = json.Marshal(APIError{Code: code, Message: "failed to marshal object: " + marshalErr.Error()})
	}

	if jsonBytes == nil {
		return
	}

	// best effort gzip compression
	if len(jsonBytes) > CompressionThreshold {
		gw, err := gzip.NewWriterLevel(s, gzip.BestSpeed)
		if err == nil {
			defer gw.Close()
			s.Header().Set(HTTPContentEncodingHeaderKey, HTTPContentEncodingGzip)
			setCommonHeaders(s)
			s.WriteHeader(code)
			_, _ = gw.Write(jsonBytes)
			return
		}
	}

	s.WriteBytesWithCode(code, jsonBytes)
}

// WriteObject write json object to response
func (s *ResponseWriter) WriteObject(obj interface{}) {
	s.WriteObjectWithCode(http.StatusOK, obj)
}

// WriteObjectWithCode serialize object and write code
func (s *ResponseWriter) WriteObjectWithCode(code int, obj interface{}) {
	if obj == nil {
		s.WriteBytesWithCode(code, nil)
		return
	}
	jsonBytes, err := json.Marshal(obj)
	s.WriteJSONBytesWithCode(code, jsonBytes, err)
}

// WriteErrorWithCode writes error with specific code
func (s *ResponseWriter) WriteErrorWithCode(code int, err error) {
	s.err = err
	body := APIError{Code: code, Message: err.Error()}
	if e, ok := err.(APIError); ok {
		body.Message = e.Error()
	}
	s.WriteObjectWithCode(code, body)
}

// WriteError write error to response
func (s *ResponseWriter) WriteError(err error) {
	if e, ok := err.(APIError); ok {
		s.WriteErrorWithCode(e.Code, err)
		return
	}
	s.WriteErrorWithCode(http.StatusInternalServerError, err)
}
