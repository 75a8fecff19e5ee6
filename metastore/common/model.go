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
	"fmt"
	"strings"

	"github.com/apache/arrow-go/v18/arrow"
)

// Reserved column names.
const (
	// TimestampColumn holds the ingestion time in microseconds.
	TimestampColumn = "_timestamp"
	// RowIDColumn is the synthetic row id used to fetch original data.
	RowIDColumn = "_o2_id"
	// OriginalColumn holds the original ingested payload.
	OriginalColumn = "_original"
	// HashColumn identifies a metrics series.
	HashColumn = "__hash__"
	// ValueColumn is the sample value of a metrics series.
	ValueColumn = "value"
)

// StreamType is the kind of a stream.
type StreamType string

// Stream types.
const (
	StreamTypeLogs             StreamType = "logs"
	StreamTypeMetrics          StreamType = "metrics"
	StreamTypeTraces           StreamType = "traces"
	StreamTypeEnrichmentTables StreamType = "enrichment_tables"
	StreamTypeIndex            StreamType = "index"
	StreamTypeMetadata         StreamType = "metadata"
)

// ParseStreamType parses s, returning false for unknown types.
func ParseStreamType(s string) (StreamType, bool) {
	switch t := StreamType(strings.ToLower(s)); t {
	case StreamTypeLogs, StreamTypeMetrics, StreamTypeTraces, StreamTypeEnrichmentTables,
		StreamTypeIndex, StreamTypeMetadata:
		return t, true
	case "enrich", "enrichment", "enrichment_table":
		return StreamTypeEnrichmentTables, true
	}
	return "", false
}

// StreamRef is an organization qualified stream name and type.
type StreamRef struct {
	Org  string     `json:"org"`
	Type StreamType `json:"type"`
	Name string     `json:"name"`
}

func (r StreamRef) String() string {
	return fmt.Sprintf("%s/%s/%s", r.Org, r.Type, r.Name)
}

// Field is a named typed column.
type Field struct {
	Name string   `json:"name"`
	Type DataType `json:"type"`
}

// StreamSettings are the per stream settings relevant to query planning.
type StreamSettings struct {
	// fields searched by match_all.
	FullTextSearchKeys []string `json:"full_text_search_keys,omitempty"`
	// fields covered by the inverted index.
	IndexFields []string `json:"index_fields,omitempty"`
	// keep the original payload in the _original column.
	StoreOriginalData bool `json:"store_original_data,omitempty"`
	// index the original payload, rows are fetched back by _o2_id.
	IndexOriginalData bool `json:"index_original_data,omitempty"`
}

// Schema is the ordered set of uniquely named columns of a stream plus its settings.
type Schema struct {
	Stream   StreamRef      `json:"stream"`
	Fields   []Field        `json:"fields"`
	Settings StreamSettings `json:"settings"`
	// StartDt is the time in microseconds this schema version starts at.
	StartDt int64 `json:"start_dt"`
}

// FieldIndex returns the position of the named field or -1.
func (s *Schema) FieldIndex(name string) int {
	for i, f := range s.Fields {
		if f.Name == name {
			return i
		}
	}
	return -1
}

// HasField tells whether the named field exists.
func (s *Schema) HasField(name string) bool {
	return s.FieldIndex(name) >= 0
}

// Field returns the named field.
func (s *Schema) Field(name string) (Field, bool) {
	if i := s.FieldIndex(name); i >= 0 {
		return s.Fields[i], true
	}
	return Field{}, false
}

// FieldNames returns the field names in schema order.
func (s *Schema) FieldNames() []string {
	names := make([]string, len(s.Fields))
	for i, f := range s.Fields {
		names[i] = f.Name
	}
	return names
}

// IsIndexed tells whether the field is covered by the inverted index.
func (s *Schema) IsIndexed(name string) bool {
	for _, f := range s.Settings.IndexFields {
		if f == name {
			return true
		}
	}
	return false
}

// IndexedFields returns the set of indexed fields present in the schema.
func (s *Schema) IndexedFields() map[string]struct{} {
	set := make(map[string]struct{}, len(s.Settings.IndexFields))
	for _, f := range s.Settings.IndexFields {
		if s.HasField(f) {
			set[f] = struct{}{}
		}
	}
	return set
}

// FullTextFields returns the full text fields of the stream: defaults present in the
// schema followed by the configured ones, without duplicates.
func (s *Schema) FullTextFields(defaults []string) []string {
	seen := map[string]struct{}{}
	var fields []string
	add := func(name string) {
		if _, ok := seen[name]; ok || !s.HasField(name) {
			return
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	for _, f := range defaults {
		add(f)
	}
	for _, f := range s.Settings.FullTextSearchKeys {
		add(f)
	}
	return fields
}

// Project returns a copy keeping only the named fields, in schema order. Unknown
// names are ignored.
func (s *Schema) Project(names []string) *Schema {
	keep := make(map[string]struct{}, len(names))
	for _, n := range names {
		keep[n] = struct{}{}
	}
	out := &Schema{Stream: s.Stream, Settings: s.Settings, StartDt: s.StartDt}
	for _, f := range s.Fields {
		if _, ok := keep[f.Name]; ok {
			out.Fields = append(out.Fields, f)
		}
	}
	return out
}

// ArrowSchema converts the schema into an arrow schema. All fields are nullable.
func (s *Schema) ArrowSchema() *arrow.Schema {
	fields := make([]arrow.Field, len(s.Fields))
	for i, f := range s.Fields {
		fields[i] = arrow.Field{Name: f.Name, Type: f.Type.ArrowType(), Nullable: true}
	}
	return arrow.NewSchema(fields, nil)
}

// FileMeta describes a data file.
type FileMeta struct {
	MinTs          int64 `json:"min_ts"`
	MaxTs          int64 `json:"max_ts"`
	Records        int64 `json:"records"`
	OriginalSize   int64 `json:"original_size"`
	CompressedSize int64 `json:"compressed_size"`
}

// Overlaps tells whether the file may hold rows in [start, end). A zero range matches all.
func (m FileMeta) Overlaps(start, end int64) bool {
	if start == 0 && end == 0 {
		return true
	}
	if end > 0 && m.MinTs >= end {
		return false
	}
	return m.MaxTs >= start
}

// FileKey identifies a data file of a stream.
type FileKey struct {
	Key     string   `json:"key"`
	Meta    FileMeta `json:"meta"`
	Deleted bool     `json:"deleted,omitempty"`
}
