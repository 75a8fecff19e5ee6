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

package datanode

import (
	"context"
	"io"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/flight"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/streamql/streamql/datanode/client"
	queryCom "github.com/streamql/streamql/query/common"
	"github.com/streamql/streamql/utils"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var actionTypes = []*flight.ActionType{
	{Type: client.ActionDeletePartition, Description: "delete the files of a partition path"},
	{Type: client.ActionSearch, Description: "run a whole search and return its response"},
	{Type: client.ActionMerge, Description: "merge and downsample the files of a stream"},
}

// flightServer serves the scans and actions of a data node over arrow flight.
type flightServer struct {
	flight.BaseFlightServer

	service *Service
}

// DoGet executes one partition of a distributed query and streams its
// batches. The last batch is empty and carries the trailer as app metadata.
func (s *flightServer) DoGet(tkt *flight.Ticket, stream flight.FlightService_DoGetServer) error {
	var req client.FlightSearchRequest
	if err := json.Unmarshal(tkt.GetTicket(), &req); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid flight ticket: %v", err)
	}
	reporter := utils.GetReporter(req.OrgID, string(req.Stream.Type))
	reporter.GetCounter(utils.FollowerRequests).Inc(1)

	ctx := stream.Context()
	part, err := s.service.Open(ctx, &req)
	if err != nil {
		reporter.GetCounter(utils.FollowerFailures).Inc(1)
		return toStatus(err)
	}
	defer part.Close()

	opts := []ipc.Option{ipc.WithSchema(part.Schema()), ipc.WithAllocator(s.service.mem)}
	if s.service.cfg.Query.FlightCompression {
		opts = append(opts, ipc.WithZstd())
	}
	w := flight.NewRecordWriter(stream, opts...)
	defer w.Close()

	var rows int64
	for {
		rec, err := part.Next(ctx)
		if err == io.EOF {
			break
		}
		if err != nil {
			s.service.logger.With("trace_id", req.TraceID, "partition", req.Partition, "error", err).
				Warn("partition failed")
			return toStatus(err)
		}
		rows += rec.NumRows()
		if err := w.Write(rec); err != nil {
			return toStatus(err)
		}
	}

	md, err := json.Marshal(part.Trailer())
	if err != nil {
		return toStatus(err)
	}
	b := array.NewRecordBuilder(s.service.mem, part.Schema())
	defer b.Release()
	empty := b.NewRecord()
	defer empty.Release()
	s.service.logger.With("trace_id", req.TraceID, "partition", req.Partition).
		Debugf("Partition sent %d rows", rows)
	return w.WriteWithAppMetadata(empty, md)
}

// DoAction runs partition deletions, merges and whole searches.
func (s *flightServer) DoAction(action *flight.Action, stream flight.FlightService_DoActionServer) error {
	ctx := stream.Context()
	var resp interface{}
	switch action.GetType() {
	case client.ActionDeletePartition:
		var req client.DeletePartitionRequest
		if err := json.Unmarshal(action.GetBody(), &req); err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid delete partition request: %v", err)
		}
		out, err := s.service.DeletePartition(ctx, &req)
		if err != nil {
			return toStatus(err)
		}
		resp = out
	case client.ActionSearch:
		var req queryCom.Request
		if err := json.Unmarshal(action.GetBody(), &req); err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid search request: %v", err)
		}
		out, err := s.service.Search(ctx, &req)
		if err != nil {
			return toStatus(err)
		}
		resp = out
	case client.ActionMerge:
		var req client.MergeRequest
		if err := json.Unmarshal(action.GetBody(), &req); err != nil {
			return status.Errorf(codes.InvalidArgument, "invalid merge request: %v", err)
		}
		out, err := s.service.Merge(ctx, &req)
		if err != nil {
			return toStatus(err)
		}
		resp = out
	default:
		return status.Errorf(codes.Unimplemented, "unknown action %s", action.GetType())
	}
	body, err := json.Marshal(resp)
	if err != nil {
		return toStatus(err)
	}
	return stream.Send(&flight.Result{Body: body})
}

// ListActions lists the actions of DoAction.
func (s *flightServer) ListActions(_ *flight.Empty, stream flight.FlightService_ListActionsServer) error {
	for _, a := range actionTypes {
		if err := stream.Send(a); err != nil {
			return err
		}
	}
	return nil
}

// toStatus maps an error to the status a flight client sees.
func toStatus(err error) error {
	if _, ok := status.FromError(err); ok {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return status.FromContextError(err).Err()
	}
	switch queryCom.KindOf(err) {
	case queryCom.SQLNotValid:
		return status.Error(codes.InvalidArgument, err.Error())
	case queryCom.NotImplemented:
		return status.Error(codes.Unimplemented, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}
