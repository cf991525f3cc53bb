package middleware

import (
	"encoding/base64"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/metrics"
	"github.com/selesy/x402-gate/pkg/verifier"
)

// exposedHeaders are readable by browser clients.
var exposedHeaders = strings.Join([]string{
	api.HeaderPayment,
	api.HeaderTimestamp,
	strings.ToUpper(api.HeaderPaymentResponse),
	HeaderRequestID,
}, ", ")

// Settlement is the decoded value of the X-Payment-Response header.
type Settlement struct {
	Success     bool              `json:"success"`
	Scheme      api.Scheme        `json:"scheme"`
	Network     string            `json:"network,omitempty"`
	Payer       string            `json:"payer"`
	Transaction string            `json:"transaction,omitempty"`
	Channel     *api.ChannelState `json:"payment_channel,omitempty"`
}

type errorBody struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func (m *middleware) writePaymentHeaders(w http.ResponseWriter, p *proof, payment *Payment) error {
	h := w.Header()

	h.Set(api.HeaderTimestamp, strconv.FormatInt(m.v.Now().Unix(), 10))
	h.Set(api.HeaderExposeHeaders, exposedHeaders)

	var next *api.ChannelState

	if payment.Channel != nil {
		state := payment.Channel.Next

		data, err := json.Marshal(state)
		if err != nil {
			return err
		}

		h.Set(api.HeaderPayment, string(data))

		next = &state
	}

	if !p.retry {
		return nil
	}

	settlement := Settlement{
		Success: true,
		Scheme:  payment.Scheme,
		Network: payment.Network,
		Payer:   payment.Sender.Hex(),
		Channel: next,
	}

	if payment.OneTime != nil {
		settlement.Transaction = payment.OneTime.TxHash.Hex()
	}

	data, err := json.Marshal(settlement)
	if err != nil {
		return err
	}

	h.Set(api.HeaderPaymentResponse, base64.StdEncoding.EncodeToString(data))

	return nil
}

func (m *middleware) reject(w http.ResponseWriter, r *http.Request, log *slog.Logger, err error) {
	status := verifier.StatusCode(err)

	log.Debug("Payment rejected",
		slog.Int("status", status),
		slog.String("code", verifier.Code(err)),
		slog.String("error", err.Error()),
	)

	if status == http.StatusPaymentRequired {
		m.paymentRequired(w, r, err.Error())

		return
	}

	if verifier.Retryable(err) {
		w.Header().Set("Retry-After", "1")
	}

	writeError(w, status, verifier.Code(err), err)
}

func (m *middleware) paymentRequired(w http.ResponseWriter, r *http.Request, reason string) {
	m.recorder.IncCounter(metrics.EventPaymentRequired, nil)

	accepts := make([]api.PaymentRequirement, len(m.requirements))
	copy(accepts, m.requirements)

	for i := range accepts {
		if accepts[i].Resource == "" {
			accepts[i].Resource = r.URL.Path
		}
	}

	writeJSON(w, http.StatusPaymentRequired, api.PaymentRequired{
		X402Version: m.version,
		Accepts:     accepts,
		Err:         reason,
	})
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	writeJSON(w, status, errorBody{Error: err.Error(), Code: code})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
