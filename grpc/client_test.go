package beacongrpc_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/beaconkit/beacon"
	beacongrpc "github.com/beaconkit/beacon/grpc"
)

func TestUnaryClientInterceptor(t *testing.T) {
	client := beacongrpc.NewClient()
	s, transport := newSession(t, client)
	require.True(t, s.Activate())

	interceptor := client.UnaryClientInterceptor()
	invoked := false
	err := interceptor(context.Background(), method, nil, nil, nil,
		func(_ context.Context, m string, _, _ any, _ *grpc.ClientConn, _ ...grpc.CallOption) error {
			invoked = true
			assert.Equal(t, method, m)
			return status.Error(codes.DeadlineExceeded, "slow")
		})
	assert.True(t, invoked)
	assert.Equal(t, codes.DeadlineExceeded, status.Code(err))

	states := sentStates(t, s, transport)
	require.Len(t, states, 1)
	perf := states[0].(beacon.PerformanceState)
	assert.Equal(t, "grpc.client", perf.EntryType)
	assert.Equal(t, method, perf.Name)
}

func TestStreamClientInterceptor(t *testing.T) {
	client := beacongrpc.NewClient()
	s, transport := newSession(t, client)
	require.True(t, s.Activate())

	interceptor := client.StreamClientInterceptor()
	_, err := interceptor(context.Background(), &grpc.StreamDesc{ServerStreams: true}, nil, "/orders.v1.Orders/Watch",
		func(context.Context, *grpc.StreamDesc, *grpc.ClientConn, string, ...grpc.CallOption) (grpc.ClientStream, error) {
			return nil, nil
		})
	require.NoError(t, err)

	states := sentStates(t, s, transport)
	require.Len(t, states, 1)
	assert.Equal(t, "/orders.v1.Orders/Watch", states[0].(beacon.PerformanceState).Name)
}

func TestClientInterceptorInactive(t *testing.T) {
	client := beacongrpc.NewClient()
	calls := 0
	err := client.UnaryClientInterceptor()(context.Background(), method, nil, nil, nil,
		func(context.Context, string, any, any, *grpc.ClientConn, ...grpc.CallOption) error {
			calls++
			return nil
		})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}
