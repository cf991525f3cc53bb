package store

import "errors"

// ErrChannelNotFound is returned when a channel id has not been added to
// the Store.  Channels must be registered, usually from the
// ChannelCreated event of the transaction that opened them, before they
// can be used to pay.
var ErrChannelNotFound = errors.New("channel not found")
