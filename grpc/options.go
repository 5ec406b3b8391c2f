package beacongrpc

import (
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

const (
	defaultServerOperationName = "grpc.server"
	defaultClientOperationName = "grpc.client"
)

type ServerOptions struct {
	// Repanic determines whether the application should re-panic after recovery.
	Repanic bool

	// WaitForDelivery ships the session buffer before a recovered panic
	// continues.
	WaitForDelivery bool

	// ReportOn decides which handler errors produce an Error record.
	ReportOn ReportOn

	// OperationName overrides the entry type of recorded calls (grpc.server).
	OperationName string
}

func (o *ServerOptions) SetDefaults() {
	if o.ReportOn == nil {
		o.ReportOn = ReportAlways
	}

	if o.OperationName == "" {
		o.OperationName = defaultServerOperationName
	}
}

// ReportOn decides whether err should be recorded.
type ReportOn func(error) bool

// ReportAlways returns true if err is non-nil.
func ReportAlways(err error) bool {
	return err != nil
}

// ReportOnCodes returns true if the error code matches one of the given codes.
func ReportOnCodes(cc ...codes.Code) ReportOn {
	return func(err error) bool {
		c := status.Code(err)
		for i := range cc {
			if c == cc[i] {
				return true
			}
		}

		return false
	}
}
