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

package metastore

import (
	"github.com/pkg/errors"
)

var (
	// ErrStreamDoesNotExist indicates the stream has no schema.
	ErrStreamDoesNotExist = errors.New("stream does not exist")
	// ErrInvalidKey indicates a metadata key could not be parsed.
	ErrInvalidKey = errors.New("invalid metadata key")
	// ErrAllFieldsInvalid indicates a schema without any field.
	ErrAllFieldsInvalid = errors.New("schema has no valid field")
	// ErrDuplicatedField indicates two fields share a name.
	ErrDuplicatedField = errors.New("duplicated field name")
	// ErrInvalidDataType indicates an unsupported field type.
	ErrInvalidDataType = errors.New("invalid data type")
	// ErrMissingTimestamp indicates a time partitioned stream without timestamp field.
	ErrMissingTimestamp = errors.New("stream schema has no _timestamp field")
	// ErrSettingFieldNonExist indicates a setting referencing an unknown field.
	ErrSettingFieldNonExist = errors.New("stream setting references an unknown field")
)
