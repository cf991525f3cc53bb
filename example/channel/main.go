// Command channel opens a payment channel and pays for a series of
// requests by signing successive channel states.
package main

import (
	"context"
	"flag"
	"io"
	"log/slog"
	"math/big"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/lmittmann/tint"

	gate "github.com/selesy/x402-gate"
	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/gateway"
)

const privateKeyEnvVar = "X402_PRIVATE_KEY" //nolint:gosec

func main() {
	var (
		rpcURL    = flag.String("rpc", "https://sepolia.base.org", "JSON-RPC endpoint")
		factory   = flag.String("factory", "", "channel factory address")
		recipient = flag.String("recipient", "", "channel recipient address")
		token     = flag.String("token", "0x036CbD53842c5426634e7929541eC2318f3dCF7e", "token address")
		amount    = flag.Int64("amount", 1_000_000, "deposit in token base units")
		duration  = flag.Duration("duration", 24*time.Hour, "channel lifetime")
		url       = flag.String("url", "http://localhost:8402/weather", "paid URL")
		requests  = flag.Int("requests", 3, "number of paid requests")
	)

	flag.Parse()

	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level: slog.LevelDebug,
	}))

	ctx := context.Background()

	s, err := signer.NewECDSASignerFromEnv(privateKeyEnvVar)
	if err != nil {
		log.Error("failed to create signer", tint.Err(err))
		os.Exit(1)
	}

	gw, err := gateway.Dial(ctx, *rpcURL,
		gateway.WithSigner(s),
		gateway.WithFactory(common.HexToAddress(*factory)),
		gateway.WithLogger(log),
	)
	if err != nil {
		log.Error("failed to connect to chain", tint.Err(err))
		os.Exit(1)
	}
	defer gw.Close()

	created, err := gw.CreateChannel(ctx, gateway.CreateChannelParams{
		Recipient: common.HexToAddress(*recipient),
		Duration:  *duration,
		Token:     common.HexToAddress(*token),
		Amount:    big.NewInt(*amount),
	})
	if err != nil {
		log.Error("failed to create channel", tint.Err(err))
		os.Exit(1)
	}

	log.Info("Channel created",
		slog.String("channel", created.ChannelID.String()),
		slog.String("address", created.ChannelAddress.Hex()),
		slog.String("price", created.Price.String()),
	)

	client, err := gate.ClientForSigner(s,
		gate.WithLogger(log),
		gate.WithChannel(*created),
	)
	if err != nil {
		log.Error("failed to create client", tint.Err(err))
		os.Exit(1)
	}

	for i := range *requests {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, *url, strings.NewReader(`{"query":"weather"}`))
		if err != nil {
			log.Error("failed to create request", tint.Err(err))
			os.Exit(1)
		}

		req.Header.Set("Content-Type", "application/json")

		resp, err := client.Do(req)
		if err != nil {
			log.Error("failed to make HTTP request", slog.Int("request", i), tint.Err(err))
			os.Exit(1)
		}

		body, err := io.ReadAll(resp.Body)
		_ = resp.Body.Close()

		if err != nil {
			log.Error("failed to read response body", tint.Err(err))
			os.Exit(1)
		}

		log.Info("HTTP response",
			slog.Int("request", i),
			slog.Int("code", resp.StatusCode),
			slog.String("body", string(body)),
		)
	}
}
