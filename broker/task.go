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

package broker

import (
	"context"
	"sort"
	"sync"

	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

// TaskInfo describes a running search.
type TaskInfo struct {
	TraceID    string                   `json:"trace_id"`
	OrgID      string                   `json:"org_id"`
	SQL        string                   `json:"sql"`
	SearchType queryCom.SearchEventType `json:"search_type,omitempty"`
	StartedAt  int64                    `json:"started_at"`
}

type task struct {
	info     TaskInfo
	cancel   context.CancelFunc
	canceled chan struct{}
	once     sync.Once
}

func (t *task) abort() {
	t.once.Do(func() {
		close(t.canceled)
		t.cancel()
	})
}

func (t *task) isCanceled() bool {
	select {
	case <-t.canceled:
		return true
	default:
		return false
	}
}

// TaskRegistry tracks running searches by trace id.
type TaskRegistry struct {
	sync.RWMutex
	tasks map[string]*task
}

// NewTaskRegistry creates an empty registry.
func NewTaskRegistry() *TaskRegistry {
	return &TaskRegistry{tasks: map[string]*task{}}
}

// register adds a search. The returned context is canceled by Cancel.
func (r *TaskRegistry) register(ctx context.Context, req *queryCom.Request) (context.Context, *task, error) {
	r.Lock()
	defer r.Unlock()
	if _, ok := r.tasks[req.TraceID]; ok {
		return nil, nil, queryCom.ErrSQLNotValid("search %s is already running", req.TraceID)
	}
	ctx, cancel := context.WithCancel(ctx)
	t := &task{
		info: TaskInfo{
			TraceID:    req.TraceID,
			OrgID:      req.OrgID,
			SQL:        req.Query.SQL,
			SearchType: req.SearchType,
			StartedAt:  utils.NowMicros(),
		},
		cancel:   cancel,
		canceled: make(chan struct{}),
	}
	r.tasks[req.TraceID] = t
	return ctx, t, nil
}

func (r *TaskRegistry) remove(t *task) {
	r.Lock()
	defer r.Unlock()
	if r.tasks[t.info.TraceID] == t {
		delete(r.tasks, t.info.TraceID)
	}
	t.cancel()
}

// Cancel aborts the search of traceID. It returns false when no such search runs.
func (r *TaskRegistry) Cancel(traceID string) bool {
	r.RLock()
	t, ok := r.tasks[traceID]
	r.RUnlock()
	if !ok {
		return false
	}
	t.abort()
	return true
}

// List returns the running searches of org, every org when org is empty,
// oldest first.
func (r *TaskRegistry) List(org string) []TaskInfo {
	r.RLock()
	defer r.RUnlock()
	out := make([]TaskInfo, 0, len(r.tasks))
	for _, t := range r.tasks {
		if org == "" || t.info.OrgID == org {
			out = append(out, t.info)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt != out[j].StartedAt {
			return out[i].StartedAt < out[j].StartedAt
		}
		return out[i].TraceID < out[j].TraceID
	})
	return out
}
