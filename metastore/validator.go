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
	metaCom "github.com/streamql/streamql/metastore/common"
)

// ValidateSchema checks a stream schema:
//
//	at least one field
//	unique field names with valid types
//	_timestamp present for non enrichment streams
//	settings reference existing fields
func ValidateSchema(schema *metaCom.Schema) error {
	if len(schema.Fields) == 0 {
		return ErrAllFieldsInvalid
	}
	seen := make(map[string]struct{}, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Name == "" {
			return ErrAllFieldsInvalid
		}
		if _, ok := seen[f.Name]; ok {
			return errors.Wrap(ErrDuplicatedField, f.Name)
		}
		seen[f.Name] = struct{}{}
		if !f.Type.IsValid() {
			return errors.Wrapf(ErrInvalidDataType, "field %s type %s", f.Name, f.Type)
		}
	}
	if schema.Stream.Type != metaCom.StreamTypeEnrichmentTables {
		if _, ok := seen[metaCom.TimestampColumn]; !ok {
			return ErrMissingTimestamp
		}
	}
	for _, list := range [][]string{schema.Settings.IndexFields, schema.Settings.FullTextSearchKeys} {
		for _, name := range list {
			if _, ok := seen[name]; !ok {
				return errors.Wrap(ErrSettingFieldNonExist, name)
			}
		}
	}
	return nil
}
