package beacongrpc

import (
	"context"
	"time"

	"google.golang.org/grpc"

	"github.com/beaconkit/beacon"
)

// Client is a beacon.Component providing client interceptors. Every call is
// recorded with the grpc.client entry type.
type Client struct {
	beacon.Forwarder
}

func NewClient() *Client {
	return &Client{}
}

func (c *Client) record(method string, start time.Time) {
	c.Record(beacon.PerformanceState{
		EntryType: defaultClientOperationName,
		Name:      method,
		StartTime: float64(start.UnixNano()) / 1e6,
		Duration:  float64(time.Since(start).Nanoseconds()) / 1e6,
	})
}

func (c *Client) UnaryClientInterceptor() grpc.UnaryClientInterceptor {
	return func(ctx context.Context,
		method string,
		req, reply any,
		cc *grpc.ClientConn,
		invoker grpc.UnaryInvoker,
		callOpts ...grpc.CallOption) error {
		if !c.Active() {
			return invoker(ctx, method, req, reply, cc, callOpts...)
		}

		start := time.Now()
		defer c.record(method, start)

		return invoker(ctx, method, req, reply, cc, callOpts...)
	}
}

// StreamClientInterceptor records the time until the stream is established.
func (c *Client) StreamClientInterceptor() grpc.StreamClientInterceptor {
	return func(ctx context.Context,
		desc *grpc.StreamDesc,
		cc *grpc.ClientConn,
		method string,
		streamer grpc.Streamer,
		callOpts ...grpc.CallOption) (grpc.ClientStream, error) {
		if !c.Active() {
			return streamer(ctx, desc, cc, method, callOpts...)
		}

		start := time.Now()
		defer c.record(method, start)

		return streamer(ctx, desc, cc, method, callOpts...)
	}
}
