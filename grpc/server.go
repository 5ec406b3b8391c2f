// Package beacongrpc records gRPC calls into a beacon session.
package beacongrpc

import (
	"context"
	"fmt"
	"runtime/debug"
	"strings"
	"time"

	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beaconkit/beacon"
)

// Server is a beacon.Component providing server interceptors.
type Server struct {
	beacon.Forwarder
	opts ServerOptions
}

func NewServer(opts ServerOptions) *Server {
	opts.SetDefaults()
	return &Server{opts: opts}
}

func (s *Server) recordCall(method string, start time.Time) {
	s.Record(beacon.PerformanceState{
		EntryType: s.opts.OperationName,
		Name:      method,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

func (s *Server) recordError(err error, method string) {
	state := beacon.ErrorState{Message: err.Error(), Source: method}

	if statusErr, ok := status.FromError(err); ok {
		state.Message = fmt.Sprintf("%s: %s", statusErr.Code(), statusErr.Message())
		for _, detail := range statusErr.Details() {
			debugInfo, ok := detail.(*errdetails.DebugInfo)
			if !ok {
				continue
			}
			state.Stack = strings.Join(debugInfo.StackEntries, "\n")
			break
		}
	}
	s.Record(state)
}

// handlePanic records a recovered panic. It re-panics if configured to.
func (s *Server) handlePanic(r any, method string, start time.Time) {
	s.Record(beacon.ErrorState{
		Message: fmt.Sprint(r),
		Source:  method,
		Stack:   string(debug.Stack()),
	})
	s.recordCall(method, start)

	if s.opts.WaitForDelivery {
		s.Flush()
	}

	if s.opts.Repanic {
		panic(r)
	}
}

func (s *Server) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		if !s.Active() {
			return handler(ctx, req)
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				s.handlePanic(r, info.FullMethod, start)
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
		}()

		resp, err = handler(ctx, req)
		if err != nil && s.opts.ReportOn(err) {
			s.recordError(err, info.FullMethod)
		}
		s.recordCall(info.FullMethod, start)

		return resp, err
	}
}

func (s *Server) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		if !s.Active() {
			return handler(srv, ss)
		}

		start := time.Now()
		defer func() {
			if r := recover(); r != nil {
				s.handlePanic(r, info.FullMethod, start)
				err = status.Errorf(codes.Internal, "panic: %v", r)
			}
		}()

		err = handler(srv, ss)
		if err != nil && s.opts.ReportOn(err) {
			s.recordError(err, info.FullMethod)
		}
		s.recordCall(info.FullMethod, start)

		return err
	}
}
