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

package exec

import (
	"context"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/pkg/errors"
)

// Pipeline reads the record batches of one partition of an operator.
type Pipeline interface {
	// Read returns the next batch, or EOF once the partition is exhausted.
	Read(ctx context.Context) (arrow.Record, error)
	// Close releases the pipeline and all of its inputs.
	Close()
}

// EOF is returned by Read when a pipeline has no more batches.
var EOF = errors.New("pipeline exhausted")

type state struct {
	batch arrow.Record
	err   error
}

type readFunc func(ctx context.Context, inputs []Pipeline) (arrow.Record, error)

// GenericPipeline runs a read function over its inputs.
type GenericPipeline struct {
	inputs []Pipeline
	read   readFunc
}

func newGenericPipeline(read readFunc, inputs ...Pipeline) *GenericPipeline {
	return &GenericPipeline{read: read, inputs: inputs}
}

var _ Pipeline = (*GenericPipeline)(nil)

// Read implements Pipeline.
func (p *GenericPipeline) Read(ctx context.Context) (arrow.Record, error) {
	if p.read == nil {
		return nil, EOF
	}
	return p.read(ctx, p.inputs)
}

// Close implements Pipeline.
func (p *GenericPipeline) Close() {
	for _, in := range p.inputs {
		in.Close()
	}
}

func errorPipeline(err error) Pipeline {
	return newGenericPipeline(func(context.Context, []Pipeline) (arrow.Record, error) {
		return nil, errors.Wrap(err, "failed to execute pipeline")
	})
}

func emptyPipeline() Pipeline {
	return newGenericPipeline(func(context.Context, []Pipeline) (arrow.Record, error) {
		return nil, EOF
	})
}

// batchesPipeline replays batches computed ahead of time.
func batchesPipeline(batches ...arrow.Record) Pipeline {
	return newGenericPipeline(func(context.Context, []Pipeline) (arrow.Record, error) {
		if len(batches) == 0 {
			return nil, EOF
		}
		b := batches[0]
		batches = batches[1:]
		return b, nil
	})
}

// lazyPipeline builds its batches on the first Read.
type lazyPipeline struct {
	build  func(ctx context.Context) ([]arrow.Record, error)
	once   sync.Once
	inner  Pipeline
	inputs []Pipeline
}

func newLazyPipeline(build func(ctx context.Context) ([]arrow.Record, error), inputs ...Pipeline) *lazyPipeline {
	return &lazyPipeline{build: build, inputs: inputs}
}

// Read implements Pipeline.
func (p *lazyPipeline) Read(ctx context.Context) (arrow.Record, error) {
	p.once.Do(func() {
		batches, err := p.build(ctx)
		if err != nil {
			p.inner = newGenericPipeline(func(context.Context, []Pipeline) (arrow.Record, error) {
				return nil, err
			})
			return
		}
		p.inner = batchesPipeline(batches...)
	})
	return p.inner.Read(ctx)
}

// Close implements Pipeline.
func (p *lazyPipeline) Close() {
	for _, in := range p.inputs {
		in.Close()
	}
}

// prefetchPipeline reads its input on a separate goroutine, keeping up to
// size batches ahead of the consumer.
type prefetchPipeline struct {
	Pipeline

	size        int
	initialized bool
	ch          chan state
	cancel      context.CancelFunc
	done        chan struct{}
}

func newPrefetchPipeline(p Pipeline, size int) *prefetchPipeline {
	if size < 0 {
		size = 0
	}
	return &prefetchPipeline{Pipeline: p, size: size}
}

// Read implements Pipeline.
func (p *prefetchPipeline) Read(ctx context.Context) (arrow.Record, error) {
	if !p.initialized {
		p.initialized = true
		p.ch = make(chan state, p.size)
		p.done = make(chan struct{})
		var fetchCtx context.Context
		fetchCtx, p.cancel = context.WithCancel(ctx)
		go p.prefetch(fetchCtx)
	}
	select {
	case s, ok := <-p.ch:
		if !ok {
			return nil, context.Canceled
		}
		return s.batch, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (p *prefetchPipeline) prefetch(ctx context.Context) {
	defer close(p.done)
	defer close(p.ch)
	for {
		var s state
		s.batch, s.err = p.Pipeline.Read(ctx)
		select {
		case <-ctx.Done():
			return
		case p.ch <- s:
		}
		if s.err != nil {
			return
		}
	}
}

// Close implements Pipeline.
func (p *prefetchPipeline) Close() {
	if p.cancel != nil {
		p.cancel()
		<-p.done
	}
	p.Pipeline.Close()
}

// drain reads every batch of p.
func drain(ctx context.Context, p Pipeline) ([]arrow.Record, error) {
	var out []arrow.Record
	for {
		b, err := p.Read(ctx)
		if errors.Is(err, EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		if b.NumRows() > 0 {
			out = append(out, b)
		}
	}
}
