package outcome

// Reason describes what happened to a batch.
type Reason string

const (
	// ReasonDelivered is a batch accepted by the collector on its first attempt.
	ReasonDelivered Reason = "delivered"

	// ReasonRetryDelivered is a previously dropped batch accepted on a retry.
	ReasonRetryDelivered Reason = "retry_delivered"

	// ReasonSendError is a collector response outside the success band.
	ReasonSendError Reason = "send_error"

	// ReasonNetworkError is a request that never produced a response (status 0).
	ReasonNetworkError Reason = "network_error"

	// ReasonAbandoned is a dropped batch released when the session unloaded.
	ReasonAbandoned Reason = "abandoned"

	// ReasonCompressionError is a batch discarded because it could not be encoded.
	ReasonCompressionError Reason = "compression_error"

	// ReasonNoEndpoint is a batch discarded because no endpoint is configured.
	ReasonNoEndpoint Reason = "no_endpoint"
)

// Category is the unit an outcome is counted in.
type Category string

const (
	CategoryBatch Category = "batch"
	CategoryByte  Category = "byte"
)

// Key uniquely identifies an outcome bucket for aggregation.
type Key struct {
	Reason   Reason
	Category Category
}

// Outcome is one aggregated bucket in a Report.
type Outcome struct {
	Reason   Reason   `json:"reason"`
	Category Category `json:"category"`
	Quantity int64    `json:"quantity"`
}
