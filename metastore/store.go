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
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/pkg/errors"
	metaCom "github.com/streamql/streamql/metastore/common"
)

const schemaModule = "schema"

// SchemaReader resolves a stream reference to its current schema.
type SchemaReader interface {
	GetSchema(ctx context.Context, ref metaCom.StreamRef) (*metaCom.Schema, error)
}

// FileLister lists the data files of a stream overlapping a time range.
type FileLister interface {
	ListFiles(ctx context.Context, ref metaCom.StreamRef, start, end int64) ([]metaCom.FileKey, error)
}

// MemStore is an in memory SchemaReader and FileLister. Schema versions are kept under
// BuildKey("schema", org, type/name, startDt) and the latest version wins.
type MemStore struct {
	sync.RWMutex
	schemas map[string]*metaCom.Schema
	files   map[metaCom.StreamRef][]metaCom.FileKey
}

// NewMemStore creates an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		schemas: map[string]*metaCom.Schema{},
		files:   map[metaCom.StreamRef][]metaCom.FileKey{},
	}
}

func streamKey2(ref metaCom.StreamRef) string {
	return string(ref.Type) + ":" + ref.Name
}

// PutSchema validates and stores a schema version.
func (m *MemStore) PutSchema(schema *metaCom.Schema) error {
	if err := ValidateSchema(schema); err != nil {
		return errors.Wrapf(err, "stream %s", schema.Stream)
	}
	m.Lock()
	defer m.Unlock()
	m.schemas[BuildKey(schemaModule, schema.Stream.Org, streamKey2(schema.Stream), schema.StartDt)] = schema
	return nil
}

// GetSchema implements SchemaReader.
func (m *MemStore) GetSchema(ctx context.Context, ref metaCom.StreamRef) (*metaCom.Schema, error) {
	m.RLock()
	defer m.RUnlock()
	prefix := "/" + schemaModule + "/" + ref.Org + "/" + streamKey2(ref) + "/"
	var latest *metaCom.Schema
	for key, schema := range m.schemas {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if _, _, _, _, err := ParseKey(key); err != nil {
			continue
		}
		if latest == nil || schema.StartDt > latest.StartDt {
			latest = schema
		}
	}
	if latest == nil {
		return nil, errors.Wrapf(ErrStreamDoesNotExist, "stream %s", ref)
	}
	return latest, nil
}

// AddFiles registers data files of a stream.
func (m *MemStore) AddFiles(ref metaCom.StreamRef, files ...metaCom.FileKey) {
	m.Lock()
	defer m.Unlock()
	m.files[ref] = append(m.files[ref], files...)
}

// ListFiles implements FileLister. Files are returned sorted by key.
func (m *MemStore) ListFiles(ctx context.Context, ref metaCom.StreamRef, start, end int64) ([]metaCom.FileKey, error) {
	m.RLock()
	defer m.RUnlock()
	var out []metaCom.FileKey
	for _, f := range m.files[ref] {
		if f.Deleted || !f.Meta.Overlaps(start, end) {
			continue
		}
		out = append(out, f)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}
