// Command decred redeems a mined token transfer as a one-time payment,
// signing with a key parsed by the Decred secp256k1 package.
package main

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"os"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/tint"

	gate "github.com/selesy/x402-gate"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/third-party/decred"
)

const (
	privateKeyEnvVar = "X402_GATE_PRIVATE_KEY" //nolint:gosec
	txEnvVar         = "X402_GATE_TX"
	urlEnvVar        = "X402_GATE_URL"
	defaultURL       = "http://localhost:8402/weather"
)

func main() {
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))

	tx, ok := os.LookupEnv(txEnvVar)
	if !ok {
		log.Error("failed to look up payment transaction environment variable", slog.String("name", txEnvVar))
		os.Exit(1)
	}

	url := defaultURL
	if u, ok := os.LookupEnv(urlEnvVar); ok {
		url = u
	}

	client, err := decred.ClientForPrivateKeyHexFromEnv(privateKeyEnvVar,
		gate.WithLogger(log),
		gate.WithOneTimeTransaction(common.HexToHash(tx)),
		gate.WithPreemptivePayment(false),
	)
	if err != nil {
		log.Error("failed to create client", tint.Err(err))
		os.Exit(1)
	}

	resp, err := client.Get(url)
	if err != nil {
		log.Error("failed to make HTTP request", tint.Err(err))
		os.Exit(1)
	}

	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.Error("failed to close response body", tint.Err(err))
		}
	}()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Error("failed to read response body", tint.Err(err))
		os.Exit(1)
	}

	level := slog.LevelInfo
	if resp.StatusCode != http.StatusOK {
		level = slog.LevelWarn
	}

	log.Log(context.Background(), level, "HTTP response",
		slog.String("body", string(body)),
		slog.Int("code", resp.StatusCode),
		slog.String("settlement", resp.Header.Get(api.HeaderPaymentResponse)),
	)
}
