package observability

import "log/slog"

// Attribute keys used consistently across payment logs.
const (
	KeyScheme    = "scheme"
	KeyChannel   = "channel"
	KeyRequestID = "request_id"
)

func Scheme[S ~string](scheme S) slog.Attr {
	return slog.String(KeyScheme, string(scheme))
}

// Channel identifies a payment channel by its decimal id.
func Channel(id string) slog.Attr {
	return slog.String(KeyChannel, id)
}

func RequestID(id string) slog.Attr {
	return slog.String(KeyRequestID, id)
}
