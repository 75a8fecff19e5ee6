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
	"github.com/apache/arrow-go/v18/arrow"
)

// DataType is the string representation of a column type.
type DataType string

// string representations of data types
const (
	Bool    DataType = "Bool"
	Int64   DataType = "Int64"
	Float64 DataType = "Float64"
	Utf8    DataType = "Utf8"
)

// IsValid tells whether the data type is supported.
func (t DataType) IsValid() bool {
	switch t {
	case Bool, Int64, Float64, Utf8:
		return true
	}
	return false
}

// ArrowType maps the data type to its arrow type. Unknown types map to utf8.
func (t DataType) ArrowType() arrow.DataType {
	switch t {
	case Bool:
		return arrow.FixedWidthTypes.Boolean
	case Int64:
		return arrow.PrimitiveTypes.Int64
	case Float64:
		return arrow.PrimitiveTypes.Float64
	default:
		return arrow.BinaryTypes.String
	}
}

// FromArrowType maps an arrow type back to the data type.
func FromArrowType(t arrow.DataType) DataType {
	switch t.ID() {
	case arrow.BOOL:
		return Bool
	case arrow.INT8, arrow.INT16, arrow.INT32, arrow.INT64,
		arrow.UINT8, arrow.UINT16, arrow.UINT32, arrow.UINT64, arrow.TIMESTAMP:
		return Int64
	case arrow.FLOAT16, arrow.FLOAT32, arrow.FLOAT64:
		return Float64
	default:
		return Utf8
	}
}
