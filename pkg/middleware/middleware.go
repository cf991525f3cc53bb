// Package middleware gates net/http handlers behind x402 payments.
//
// A request either carries its payment directly in scheme headers
// (X-Signature with X-Message, X-Timestamp and X-Payment for channels,
// X-Transaction for one-time payments or X-Sender for streams), or in a
// PaymentHeader sent in X-Payment after a 402.  Requests without a
// payment are answered with 402 Payment Required and the configured
// requirements.
package middleware

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// Verifier checks payment proofs.  *verifier.Verifier implements it.
type Verifier interface {
	Schemes() []api.Scheme
	Now() time.Time
	VerifyChannel(ctx context.Context, req verifier.ChannelRequest) (*verifier.ChannelResult, error)
	VerifyOneTime(ctx context.Context, req verifier.OneTimeRequest) (*verifier.OneTimeResult, error)
	VerifyStream(ctx context.Context, req verifier.StreamRequest) (*verifier.StreamResult, error)
}

var _ Verifier = (*verifier.Verifier)(nil)

type middleware struct {
	config

	v Verifier
}

// New returns middleware that admits a request to the wrapped handler
// only once v accepts its payment.  Every requirement must name a scheme
// v verifies.
func New(v Verifier, opts ...Option) (func(http.Handler) http.Handler, error) {
	cfg, err := newConfig(opts...)
	if err != nil {
		return nil, err
	}

	if v == nil {
		return nil, fmt.Errorf("%w: nil verifier", ErrInvalidOption)
	}

	if len(cfg.requirements) == 0 {
		return nil, fmt.Errorf("%w: no payment requirements", ErrInvalidOption)
	}

	schemes := v.Schemes()

	var errs error

	for _, req := range cfg.requirements {
		if !slices.Contains(schemes, req.Scheme) {
			errs = errors.Join(errs, fmt.Errorf("%w: scheme %q is not verified", ErrInvalidOption, req.Scheme))
		}
	}

	if errs != nil {
		return nil, errs
	}

	m := &middleware{
		config: *cfg,
		v:      v,
	}

	return m.wrap, nil
}

func (m *middleware) wrap(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}

		w.Header().Set(HeaderRequestID, id)

		log := m.log.With(observability.RequestID(id))

		body, err := m.readBody(w, r)
		if err != nil {
			var tooLarge *http.MaxBytesError
			if errors.As(err, &tooLarge) {
				writeError(w, http.StatusRequestEntityTooLarge, "body_too_large", err)

				return
			}

			writeError(w, http.StatusBadRequest, "invalid_body", err)

			return
		}

		p, err := parseProof(r.Header, body, r.URL.Path)
		if err != nil {
			m.reject(w, r, log, err)

			return
		}

		if p == nil {
			log.Debug("Payment required", slog.String("path", r.URL.Path))
			m.paymentRequired(w, r, "payment required")

			return
		}

		log.Debug("Payment received",
			observability.Scheme(p.scheme),
			slog.Bool("retry", p.retry),
		)

		payment, err := m.verify(r.Context(), p)
		if err != nil {
			m.reject(w, r, log, err)

			return
		}

		payment.RequestID = id

		if err := m.writePaymentHeaders(w, p, payment); err != nil {
			log.Warn("Failed to write payment headers", slog.String("error", err.Error()))
		}

		next.ServeHTTP(w, r.WithContext(NewContext(r.Context(), payment)))
	})
}

// readBody reads the body once and restores it for the next handler.
func (m *middleware) readBody(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	if r.Body == nil || r.Body == http.NoBody {
		return nil, nil
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, m.maxBodySize))
	if cerr := r.Body.Close(); err == nil {
		err = cerr
	}

	if err != nil {
		return nil, err
	}

	r.Body = io.NopCloser(bytes.NewReader(body))

	return body, nil
}

func (m *middleware) verify(ctx context.Context, p *proof) (*Payment, error) {
	payment := &Payment{
		Scheme:  p.scheme,
		Network: p.network,
	}

	switch {
	case p.channel != nil:
		res, err := m.v.VerifyChannel(ctx, *p.channel)
		if err != nil {
			return nil, err
		}

		payment.Sender, payment.Channel = res.Sender, res
	case p.oneTime != nil:
		res, err := m.v.VerifyOneTime(ctx, *p.oneTime)
		if err != nil {
			return nil, err
		}

		payment.Sender, payment.OneTime = res.Sender, res
	case p.stream != nil:
		res, err := m.v.VerifyStream(ctx, *p.stream)
		if err != nil {
			return nil, err
		}

		payment.Sender, payment.Stream = res.Sender, res
	default:
		return nil, fmt.Errorf("%w: %s", verifier.ErrSchemeDisabled, p.scheme)
	}

	return payment, nil
}
