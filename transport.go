package gate

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/payer"
	"github.com/selesy/x402-gate/pkg/store"
)

var _ http.RoundTripper = (*Transport)(nil)

// Transport is an http.RoundTripper that pays for requests.
//
// Before a request is sent, the highest priority payer may attach its
// direct payment headers.  If the server still answers 402 Payment
// Required, the transport picks one of the server's requirements by
// priority, signs a payment for it and retries the request exactly once.
type Transport struct {
	config

	next     http.RoundTripper
	signer   api.Signer
	payers   []api.Payer
	priority []api.Scheme
}

// NewTransport wraps next.  Payment schemes are tried in the order their
// Options are given.  When no scheme is configured, x402 v1 "exact"
// payments are made.
func NewTransport(next http.RoundTripper, signer api.Signer, opts ...Option) (*Transport, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	if next == nil {
		next = http.DefaultTransport
	}

	for _, state := range cfg.channels {
		cfg.store.Add(state.ID(), state)
	}

	factories := cfg.payers
	if len(factories) == 0 {
		factories = []payerFactory{newExactPayer}
	}

	var (
		errs     error
		payers   []api.Payer
		priority []api.Scheme
	)

	for _, factory := range factories {
		p, err := factory(signer, cfg.store, cfg.payerOptions()...)
		if err != nil {
			errs = errors.Join(errs, err)

			continue
		}

		payers = append(payers, p)
		priority = append(priority, p.Scheme())
	}

	if errs != nil {
		return nil, errs
	}

	return &Transport{
		config:   *cfg,
		next:     next,
		signer:   signer,
		payers:   payers,
		priority: priority,
	}, nil
}

// Store returns the channel state store the transport signs from.
func (t *Transport) Store() *store.Store {
	return t.store
}

type state int

const (
	stateInitial state = iota
	stateAwaitingResponse
	stateSuccess
	statePaymentRequired
	stateFailed
)

func (s state) String() string {
	switch s {
	case stateInitial:
		return "INITIAL"
	case stateAwaitingResponse:
		return "AWAITING_RESPONSE"
	case stateSuccess:
		return "SUCCESS"
	case statePaymentRequired:
		return "PAYMENT_REQUIRED"
	case stateFailed:
		return "FAILED"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// attempt is the per-request state of one RoundTrip call.  Nothing in it
// is shared between requests.
type attempt struct {
	orig    *http.Request
	body    []byte
	state   state
	retried bool
	payment *api.Payment
}

func (a *attempt) request() *http.Request {
	req := a.orig.Clone(a.orig.Context())

	if a.orig.Body != nil && a.orig.Body != http.NoBody {
		req.Body = io.NopCloser(bytes.NewReader(a.body))
		req.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(a.body)), nil
		}
		req.ContentLength = int64(len(a.body))
	}

	return req
}

func (t *Transport) transition(a *attempt, to state) {
	t.log.Debug("Payment state",
		slog.String("from", a.state.String()),
		slog.String("to", to.String()),
		slog.Bool("retried", a.retried),
	)

	a.state = to
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	// Body can only be read one time ... since we may make two round-trips
	// and the signed digest covers the body, we read the bytes once and
	// create new readers for each call.
	var body []byte

	if req.Body != nil && req.Body != http.NoBody {
		var err error

		body, err = io.ReadAll(req.Body)
		if cerr := req.Body.Close(); err == nil {
			err = cerr
		}

		if err != nil {
			return nil, err
		}
	}

	a := &attempt{
		orig:  req,
		body:  body,
		state: stateInitial,
	}

	out := a.request()

	if t.preemptive {
		payment, err := t.payers[0].Pay(req.Context(), nil, body)

		switch {
		case errors.Is(err, payer.ErrNoPreemptivePayment):
		case err != nil:
			t.transition(a, stateFailed)

			return nil, err
		default:
			a.payment = payment

			for k, vs := range payment.Headers {
				for _, v := range vs {
					out.Header.Add(k, v)
				}
			}
		}
	}

	t.transition(a, stateAwaitingResponse)

	resp, err := t.next.RoundTrip(out)
	if err != nil {
		t.revert(a.payment)
		t.transition(a, stateFailed)

		return nil, err
	}

	if resp.StatusCode != http.StatusPaymentRequired {
		t.reconcile(a.payment, resp)
		t.transition(a, stateSuccess)

		return resp, nil
	}

	t.revert(a.payment)
	t.transition(a, statePaymentRequired)

	return t.handlePaymentRequired(a, resp)
}

func (t *Transport) handlePaymentRequired(a *attempt, resp *http.Response) (*http.Response, error) {
	required, err := readPaymentRequired(resp)
	if err != nil {
		t.transition(a, stateFailed)

		return nil, err
	}

	if a.retried {
		t.transition(a, stateFailed)

		return nil, &PaymentRequiredError{StatusCode: resp.StatusCode, Required: *required}
	}

	requirement, ok := required.Select(t.priority)
	if !ok {
		t.transition(a, stateFailed)

		return nil, fmt.Errorf("%w: accepts is empty", ErrNoAcceptablePayment)
	}

	t.log.Debug("Selected payment requirement",
		observability.Scheme(requirement.Scheme),
		slog.String("network", requirement.Network),
		slog.String("resource", requirement.Resource),
	)

	p := t.payerFor(requirement.Scheme)
	if p == nil {
		t.transition(a, stateFailed)

		return nil, fmt.Errorf("%w: %s", ErrNoAcceptablePayment, requirement.Scheme)
	}

	payment, err := p.Pay(a.orig.Context(), requirement, a.body)
	if err != nil {
		t.transition(a, stateFailed)

		return nil, err
	}

	version := required.X402Version
	if version == 0 {
		version = api.X402Version
	}

	header, err := api.PaymentHeader{
		X402Version: version,
		Network:     requirement.Network,
		Scheme:      requirement.Scheme,
		Payload:     payment.Payload,
	}.Encode()
	if err != nil {
		t.revert(payment)
		t.transition(a, stateFailed)

		return nil, err
	}

	t.log.Debug("Payment header", slog.String("value", header))

	retry := a.request()
	retry.Header.Set(api.HeaderPayment, header)
	retry.Header.Set(api.HeaderExposeHeaders, strings.ToUpper(api.HeaderPaymentResponse))

	a.retried = true
	a.payment = payment
	t.transition(a, stateAwaitingResponse)

	resp, err = t.next.RoundTrip(retry)
	if err != nil {
		t.revert(payment)
		t.transition(a, stateFailed)

		return nil, err
	}

	if resp.StatusCode == http.StatusPaymentRequired {
		t.revert(payment)
		t.transition(a, statePaymentRequired)

		return t.handlePaymentRequired(a, resp)
	}

	t.reconcile(payment, resp)
	t.transition(a, stateSuccess)

	return resp, nil
}

func (t *Transport) payerFor(s api.Scheme) api.Payer {
	for _, p := range t.payers {
		if p.Scheme() == s {
			return p
		}
	}

	return nil
}

// reconcile applies the server's echoed channel state.  A failed response
// without a usable echo means the payment wasn't accepted, so the
// optimistic advance is undone.
func (t *Transport) reconcile(payment *api.Payment, resp *http.Response) {
	if v := headerValue(resp.Header, api.HeaderPaymentResponse); v != "" {
		t.log.Debug("Payment response", slog.String("value", v))
	}

	if payment == nil || payment.Channel == nil {
		return
	}

	failed := resp.StatusCode >= http.StatusBadRequest

	v := headerValue(resp.Header, api.HeaderPayment)
	if v == "" {
		if failed {
			t.revert(payment)
		}

		return
	}

	var echo api.ChannelState

	if err := json.Unmarshal([]byte(v), &echo); err != nil {
		t.log.Warn("Ignoring malformed channel state", slog.String("value", v), slog.String("error", err.Error()))

		if failed {
			t.revert(payment)
		}

		return
	}

	if echo.ID() != payment.Channel.ID() || echo.Nonce <= payment.Channel.Nonce {
		t.log.Debug("Ignoring stale channel state",
			observability.Channel(echo.ID()),
			slog.Uint64("nonce", echo.Nonce),
			slog.Uint64("signed", payment.Channel.Nonce),
		)

		if failed {
			t.revert(payment)
		}

		return
	}

	if t.store.Reconcile(echo) {
		t.log.Debug("Channel state reconciled",
			observability.Channel(echo.ID()),
			slog.Uint64("nonce", echo.Nonce),
			slog.String("balance", echo.Balance.String()),
		)
	}
}

func (t *Transport) revert(payment *api.Payment) {
	if payment == nil || payment.Channel == nil || payment.Advanced == nil {
		return
	}

	if t.store.Revert(payment.Channel.ID(), *payment.Channel, *payment.Advanced) {
		t.log.Debug("Channel advance reverted",
			observability.Channel(payment.Channel.ID()),
			slog.Uint64("nonce", payment.Channel.Nonce),
		)
	}
}

func readPaymentRequired(resp *http.Response) (*api.PaymentRequired, error) {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	var required api.PaymentRequired
	if err := json.Unmarshal(body, &required); err != nil {
		return nil, fmt.Errorf("failed to unmarshal payment request: %w", err)
	}

	return &required, nil
}

// headerValue looks name up case-insensitively, including in header maps
// that were built without canonical keys.
func headerValue(h http.Header, name string) string {
	if v := h.Get(name); v != "" {
		return v
	}

	for k, vs := range h {
		if strings.EqualFold(k, name) && len(vs) > 0 {
			return vs[0]
		}
	}

	return ""
}
