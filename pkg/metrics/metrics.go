// Package metrics records payment verification events and latencies.
package metrics

import "time"

// Label names understood by every Recorder.
const (
	LabelScheme = "scheme"
)

// Event names passed to Recorder.IncCounter.
const (
	EventVerified        = "verified"
	EventRejected        = "rejected"
	EventRPCError        = "rpc_error"
	EventCacheHit        = "cache_hit"
	EventCacheMiss       = "cache_miss"
	EventPaymentRequired = "payment_required"
)

// Operation names passed to Recorder.ObserveLatency.
const (
	OperationVerify = "verify"
)

type Recorder interface {
	IncCounter(name string, labels map[string]string)
	ObserveLatency(name string, duration time.Duration, labels map[string]string)
}
