package beacongrpc_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/genproto/googleapis/rpc/errdetails"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beaconkit/beacon"
	beacongrpc "github.com/beaconkit/beacon/grpc"
)

func newSession(t *testing.T, components ...beacon.Component) (*beacon.Session, *beacon.MockTransport) {
	t.Helper()
	transport := &beacon.MockTransport{}
	s, err := beacon.NewSession(beacon.SessionOptions{
		Endpoint:    "https://collect.example.com/",
		Transport:   transport,
		Compression: "none",
		FlushDelay:  time.Hour,
		Components:  components,
		Context:     t.Name(),
	})
	require.NoError(t, err)
	t.Cleanup(s.Teardown)
	return s, transport
}

func sentStates(t *testing.T, s *beacon.Session, transport *beacon.MockTransport) []beacon.State {
	t.Helper()
	s.Flush()
	var states []beacon.State
	for _, send := range transport.Sends() {
		batch, _, err := beacon.DecodePayload(send.Payload, "none")
		require.NoError(t, err)
		for _, event := range batch.Events {
			record, err := beacon.DecodeRecord(event)
			require.NoError(t, err)
			if record.Type != beacon.KindInstrumentation {
				states = append(states, record.State)
			}
		}
	}
	return states
}

const method = "/orders.v1.Orders/Get"

func TestServerOptions_SetDefaults(t *testing.T) {
	tests := map[string]struct {
		options    beacongrpc.ServerOptions
		assertions func(t *testing.T, options beacongrpc.ServerOptions)
	}{
		"Defaults are set when fields are empty": {
			options: beacongrpc.ServerOptions{},
			assertions: func(t *testing.T, options beacongrpc.ServerOptions) {
				assert.NotNil(t, options.ReportOn)
				assert.Equal(t, "grpc.server", options.OperationName)
			},
		},
		"Custom ReportOn is preserved": {
			options: beacongrpc.ServerOptions{
				ReportOn: beacongrpc.ReportOnCodes(codes.Internal),
			},
			assertions: func(t *testing.T, options beacongrpc.ServerOptions) {
				assert.False(t, options.ReportOn(status.Error(codes.NotFound, "missing")))
				assert.True(t, options.ReportOn(status.Error(codes.Internal, "broken")))
			},
		},
		"Custom OperationName is preserved": {
			options: beacongrpc.ServerOptions{OperationName: "rpc"},
			assertions: func(t *testing.T, options beacongrpc.ServerOptions) {
				assert.Equal(t, "rpc", options.OperationName)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			test.options.SetDefaults()

			test.assertions(t, test.options)
		})
	}
}

func TestUnaryServerInterceptor(t *testing.T) {
	tests := map[string]struct {
		options    beacongrpc.ServerOptions
		handler    grpc.UnaryHandler
		wantCode   codes.Code
		wantStates func(t *testing.T, states []beacon.State)
	}{
		"Records successful call": {
			handler: func(context.Context, any) (any, error) {
				return "ok", nil
			},
			wantCode: codes.OK,
			wantStates: func(t *testing.T, states []beacon.State) {
				require.Len(t, states, 1)
				perf := states[0].(beacon.PerformanceState)
				assert.Equal(t, "grpc.server", perf.EntryType)
				assert.Equal(t, method, perf.Name)
			},
		},
		"Records status error with debug info": {
			handler: func(context.Context, any) (any, error) {
				st, err := status.New(codes.Unavailable, "db down").WithDetails(&errdetails.DebugInfo{
					StackEntries: []string{"main.go:10", "db.go:42"},
				})
				if err != nil {
					return nil, err
				}
				return nil, st.Err()
			},
			wantCode: codes.Unavailable,
			wantStates: func(t *testing.T, states []beacon.State) {
				require.Len(t, states, 2)
				assert.Equal(t, beacon.ErrorState{
					Message: "Unavailable: db down",
					Source:  method,
					Stack:   "main.go:10\ndb.go:42",
				}, states[0])
				assert.IsType(t, beacon.PerformanceState{}, states[1])
			},
		},
		"Records plain error": {
			handler: func(context.Context, any) (any, error) {
				return nil, errors.New("plain")
			},
			wantCode: codes.Unknown,
			wantStates: func(t *testing.T, states []beacon.State) {
				require.Len(t, states, 2)
				assert.Equal(t, "plain", states[0].(beacon.ErrorState).Message)
			},
		},
		"Skips errors ReportOn rejects": {
			options: beacongrpc.ServerOptions{ReportOn: beacongrpc.ReportOnCodes(codes.Internal)},
			handler: func(context.Context, any) (any, error) {
				return nil, status.Error(codes.NotFound, "missing")
			},
			wantCode: codes.NotFound,
			wantStates: func(t *testing.T, states []beacon.State) {
				require.Len(t, states, 1)
				assert.IsType(t, beacon.PerformanceState{}, states[0])
			},
		},
		"Recovers panic": {
			handler: func(context.Context, any) (any, error) {
				panic("test panic")
			},
			wantCode: codes.Internal,
			wantStates: func(t *testing.T, states []beacon.State) {
				require.Len(t, states, 2)
				errState := states[0].(beacon.ErrorState)
				assert.Equal(t, "test panic", errState.Message)
				assert.NotEmpty(t, errState.Stack)
			},
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			server := beacongrpc.NewServer(test.options)
			s, transport := newSession(t, server)
			require.True(t, s.Activate())

			interceptor := server.UnaryServerInterceptor()
			_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, test.handler)
			assert.Equal(t, test.wantCode, status.Code(err))

			test.wantStates(t, sentStates(t, s, transport))
		})
	}
}

func TestUnaryServerInterceptorRepanic(t *testing.T) {
	server := beacongrpc.NewServer(beacongrpc.ServerOptions{Repanic: true, WaitForDelivery: true})
	s, transport := newSession(t, server)
	require.True(t, s.Activate())

	interceptor := server.UnaryServerInterceptor()
	assert.PanicsWithValue(t, "test panic", func() {
		_, _ = interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: method}, func(context.Context, any) (any, error) {
			panic("test panic")
		})
	})
	assert.NotEmpty(t, transport.Sends())
	assert.Len(t, sentStates(t, s, transport), 2)
}

func TestUnaryServerInterceptorInactive(t *testing.T) {
	server := beacongrpc.NewServer(beacongrpc.ServerOptions{})

	resp, err := server.UnaryServerInterceptor()(context.Background(), "req", &grpc.UnaryServerInfo{FullMethod: method},
		func(_ context.Context, req any) (any, error) { return req, nil })
	require.NoError(t, err)
	assert.Equal(t, "req", resp)
}

type testServerStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (s *testServerStream) Context() context.Context {
	return s.ctx
}

func TestStreamServerInterceptor(t *testing.T) {
	server := beacongrpc.NewServer(beacongrpc.ServerOptions{})
	s, transport := newSession(t, server)
	require.True(t, s.Activate())

	interceptor := server.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/orders.v1.Orders/Watch", IsServerStream: true}
	stream := &testServerStream{ctx: context.Background()}

	err := interceptor(nil, stream, info, func(any, grpc.ServerStream) error {
		return status.Error(codes.Aborted, "client went away")
	})
	assert.Equal(t, codes.Aborted, status.Code(err))

	err = interceptor(nil, stream, info, func(any, grpc.ServerStream) error {
		panic("stream panic")
	})
	assert.Equal(t, codes.Internal, status.Code(err))

	states := sentStates(t, s, transport)
	require.Len(t, states, 4)
	assert.Equal(t, "Aborted: client went away", states[0].(beacon.ErrorState).Message)
	assert.Equal(t, "/orders.v1.Orders/Watch", states[1].(beacon.PerformanceState).Name)
	assert.Equal(t, "stream panic", states[2].(beacon.ErrorState).Message)
}
