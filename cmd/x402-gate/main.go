// Command x402-gate is a reverse proxy that charges for requests to an
// upstream HTTP service with x402 payments.
//
// The configuration file is named by the -config flag or the
// X402_GATE_CONFIG environment variable.  Prometheus metrics are served
// on the configured metrics path.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/selesy/x402-gate/internal/observability"
	"github.com/selesy/x402-gate/pkg/config"
	"github.com/selesy/x402-gate/pkg/gateway"
	"github.com/selesy/x402-gate/pkg/metrics"
	"github.com/selesy/x402-gate/pkg/middleware"
	"github.com/selesy/x402-gate/pkg/verifier"
)

const shutdownTimeout = 10 * time.Second

func main() {
	path := flag.String("config", "", "configuration file (default $"+config.EnvConfig+")")
	flag.Parse()

	level := new(slog.LevelVar)
	log := slog.New(tint.NewHandler(os.Stderr, &tint.Options{
		Level:      level,
		TimeFormat: time.RFC3339,
	}))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, *path, log, level); err != nil {
		log.Error("x402-gate failed", tint.Err(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, path string, log *slog.Logger, level *slog.LevelVar) error {
	cfg, err := config.Load(path)
	if err != nil {
		return err
	}

	level.Set(cfg.Level())

	gw, err := gateway.Dial(ctx, cfg.RPCURL, append(cfg.GatewayOptions(), gateway.WithLogger(log))...)
	if err != nil {
		return err
	}
	defer gw.Close()

	chainID, err := gw.ChainID(ctx)
	if err != nil {
		return err
	}

	log.Info("Connected to chain", slog.String("network", cfg.Network), slog.String("chain_id", chainID.String()))

	rec, err := metrics.NewPrometheusRecorder(prometheus.DefaultRegisterer)
	if err != nil {
		return err
	}

	vopts, err := cfg.VerifierOptions()
	if err != nil {
		return err
	}

	v, err := verifier.New(gw, append(vopts, verifier.WithLogger(log), verifier.WithRecorder(rec))...)
	if err != nil {
		return err
	}

	reqs, err := cfg.Requirements()
	if err != nil {
		return err
	}

	mw, err := middleware.New(v,
		middleware.WithRequirements(reqs...),
		middleware.WithLogger(log),
		middleware.WithRecorder(rec),
		middleware.WithX402Version(cfg.X402Version),
	)
	if err != nil {
		return err
	}

	upstream, err := url.Parse(cfg.Upstream)
	if err != nil {
		return fmt.Errorf("%w: upstream: %w", config.ErrInvalidConfig, err)
	}

	mux := http.NewServeMux()
	mux.Handle(cfg.MetricsPath, promhttp.Handler())
	mux.Handle("/", mw(httputil.NewSingleHostReverseProxy(upstream)))

	srv := &http.Server{
		Addr:              cfg.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("Listening",
			slog.String("addr", cfg.Listen),
			slog.String("upstream", upstream.String()),
			slog.Any("schemes", v.Schemes()),
		)

		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return err
		}

		return nil
	})

	g.Go(func() error {
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
		defer cancel()

		return srv.Shutdown(shutdownCtx)
	})

	if cfg.Stream != nil && cfg.Stream.CFA != "" {
		g.Go(func() error {
			if err := v.WatchStreams(ctx, gw); err != nil {
				log.Warn("Stream watcher stopped", tint.Err(err))
			}

			return nil
		})
	}

	err = g.Wait()

	logClaims(log, v, cfg.Token.Decimals)

	return err
}

// logClaims reports the claims the recipient can close channels with.
func logClaims(log *slog.Logger, v *verifier.Verifier, decimals uint8) {
	for _, claim := range v.Claims() {
		log.Info("Latest channel claim",
			observability.Channel(claim.State.ID()),
			slog.String("address", claim.State.Address.Hex()),
			slog.Uint64("nonce", claim.State.Nonce),
			slog.String("balance", decimal.NewFromBigInt(claim.State.Balance, -int32(decimals)).String()),
			slog.String("signature", hexutil.Encode(claim.Signature)),
		)
	}
}
