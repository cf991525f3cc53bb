// Package gate provides a library of code that allows the standard
// library's http.Client to pay for HTTP content and services using
// x402-style micropayments.
//
// Three payment schemes are supported natively, and can be combined in
// priority order:
//
//   - channel: each request signs the next state of an on-chain payment
//     channel.  The server echoes the state to sign next, which the
//     client stores.
//   - one-time: each request proves ownership of a mined token transfer.
//   - stream: each request proves control of an open token stream.
//
// Standard x402 v1 "exact" payments (ERC-3009 authorizations) are made
// when no other scheme is configured.
//
// When allowing automated payments on your behalf, care should be taken
// to limit your financial exposure.
//
// Defaults
//
//   - If the WithClient option is not specified, a client using the
//     http.DefaultTransport is created.
//   - If the WithLogger Option is not specified, a No-Op logger is used.
//   - If the WithStore Option is not specified, each transport owns a
//     private channel store.
//   - Preemptive payment is enabled, see WithPreemptivePayment.
package gate
