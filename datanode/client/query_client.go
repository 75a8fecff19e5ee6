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

package client

import (
	"context"
	"io"
	"sync"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/flight"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"

	"github.com/streamql/streamql/cluster"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const maxMessageSize = 256 << 20

// ErrFailedToConnect is returned when a data node cannot be dialed.
var ErrFailedToConnect = errors.New("Datanode flight client failed to connect")

// FlightTransport talks to data nodes over arrow flight. Clients are dialed
// once per address and shared by all queries.
type FlightTransport struct {
	sync.Mutex
	clients map[string]flight.Client
	opts    []grpc.DialOption
}

// NewFlightTransport creates a transport dialing nodes with opts on top of
// plain text credentials.
func NewFlightTransport(opts ...grpc.DialOption) *FlightTransport {
	return &FlightTransport{
		clients: map[string]flight.Client{},
		opts: append([]grpc.DialOption{
			grpc.WithTransportCredentials(insecure.NewCredentials()),
			grpc.WithDefaultCallOptions(grpc.MaxCallRecvMsgSize(maxMessageSize)),
		}, opts...),
	}
}

func (t *FlightTransport) client(node cluster.Node) (flight.Client, error) {
	t.Lock()
	defer t.Unlock()
	if c, ok := t.clients[node.GRPCAddr]; ok {
		return c, nil
	}
	c, err := flight.NewClientWithMiddleware(node.GRPCAddr, nil, nil, t.opts...)
	if err != nil {
		utils.GetLogger().With("node", node.ID, "addr", node.GRPCAddr, "error", err).Error("error connecting to datanode")
		return nil, ErrFailedToConnect
	}
	t.clients[node.GRPCAddr] = c
	return c, nil
}

// Close closes every pooled client.
func (t *FlightTransport) Close() {
	t.Lock()
	defer t.Unlock()
	for addr, c := range t.clients {
		if err := c.Close(); err != nil {
			utils.GetLogger().With("addr", addr, "error", err).Warn("failed to close flight client")
		}
	}
	t.clients = map[string]flight.Client{}
}

// Search opens the scan stream of one partition.
func (t *FlightTransport) Search(ctx context.Context, node cluster.Node, req *FlightSearchRequest) (RecordStream, error) {
	c, err := t.client(node)
	if err != nil {
		return nil, err
	}
	ticket, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode flight ticket")
	}
	stream, err := c.DoGet(ctx, &flight.Ticket{Ticket: ticket})
	if err != nil {
		return nil, err
	}
	reader, err := flight.NewRecordReader(stream)
	if err != nil {
		return nil, err
	}
	return &flightStream{reader: reader}, nil
}

// DeletePartition deletes the files of a partition on node.
func (t *FlightTransport) DeletePartition(ctx context.Context, node cluster.Node,
	req *DeletePartitionRequest) (*DeletePartitionResponse, error) {
	var resp DeletePartitionResponse
	if err := t.doAction(ctx, node, ActionDeletePartition, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// SearchOnce runs a whole search on node and returns its response.
func (t *FlightTransport) SearchOnce(ctx context.Context, node cluster.Node, req *queryCom.Request) (*queryCom.Response, error) {
	var resp queryCom.Response
	if err := t.doAction(ctx, node, ActionSearch, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Merge compacts the files of a stream on node.
func (t *FlightTransport) Merge(ctx context.Context, node cluster.Node, req *MergeRequest) (*MergeResponse, error) {
	var resp MergeResponse
	if err := t.doAction(ctx, node, ActionMerge, req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (t *FlightTransport) doAction(ctx context.Context, node cluster.Node, typ string, req, resp interface{}) error {
	c, err := t.client(node)
	if err != nil {
		return err
	}
	body, err := json.Marshal(req)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s action", typ)
	}
	stream, err := c.DoAction(ctx, &flight.Action{Type: typ, Body: body})
	if err != nil {
		return err
	}
	result, err := stream.Recv()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result.Body, resp); err != nil {
		return errors.Wrapf(err, "invalid %s response from datanode %s", typ, node.ID)
	}
	return nil
}

// flightStream reads the batches of a DoGet call, keeping the trailer apart.
type flightStream struct {
	reader  *flight.Reader
	trailer *Trailer
}

func (s *flightStream) Next(ctx context.Context) (arrow.Record, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !s.reader.Next() {
			if err := s.reader.Err(); err != nil && err != io.EOF {
				return nil, err
			}
			return nil, io.EOF
		}
		rec := s.reader.Record()
		if md := s.reader.LatestAppMetadata(); len(md) > 0 && rec.NumRows() == 0 {
			var trailer Trailer
			if err := json.Unmarshal(md, &trailer); err != nil {
				return nil, errors.Wrap(err, "invalid scan trailer")
			}
			s.trailer = &trailer
			continue
		}
		rec.Retain()
		return rec, nil
	}
}

func (s *flightStream) Trailer() *Trailer {
	return s.trailer
}

func (s *flightStream) Close() {
	s.reader.Release()
}

// IsDeadlineOrCanceled tells whether err ends a partition for lack of time
// rather than a fault.
func IsDeadlineOrCanceled(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return true
	}
	switch status.Code(errors.Cause(err)) {
	case codes.DeadlineExceeded, codes.Canceled:
		return true
	}
	return false
}

var _ Transport = (*FlightTransport)(nil)
