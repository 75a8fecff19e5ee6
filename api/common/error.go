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

package common

import (
	"net/http"

	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

var (
	// ErrMsgFailedToUnmarshalRequest represents error message for unmarshal error.
	ErrMsgFailedToUnmarshalRequest = "Bad request: failed to unmarshal request body"
	// ErrMsgMissingParameter represents error message for missing params error.
	ErrMsgMissingParameter = "Bad request: missing/invalid parameter"
	// ErrMsgFailedToReadRequestBody represents error message for unable to read request body error.
	ErrMsgFailedToReadRequestBody = "Bad request: failed to read request body"
	// ErrMsgNonExistentStream represents error message for stream does not exist
	ErrMsgNonExistentStream = "Bad request: stream does not exist"
	// ErrMissingParameter represents api error for missing parameter
	ErrMissingParameter = utils.APIError{
		Code:    http.StatusBadRequest,
		Message: ErrMsgMissingParameter,
	}
	// ErrStreamDoesNotExist represents api error for stream does not exist.
	ErrStreamDoesNotExist = utils.APIError{
		Code:    http.StatusNotFound,
		Message: ErrMsgNonExistentStream,
	}
	// ErrSearchDoesNotExist represents api error for canceling a search that is not running.
	ErrSearchDoesNotExist = utils.APIError{
		Code:    http.StatusNotFound,
		Message: "Search is not running",
	}
)

// SearchError converts a search error into an api error carrying the status
// code of its kind.
func SearchError(err error) utils.APIError {
	if e, ok := err.(utils.APIError); ok {
		return e
	}
	code := queryCom.KindOf(err).HTTPStatus()
	return utils.APIError{Code: code, Message: err.Error()}
}
