package verifier

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/selesy/x402-gate/internal/codec"
	"github.com/selesy/x402-gate/internal/signer"
	"github.com/selesy/x402-gate/pkg/api"
	"github.com/selesy/x402-gate/pkg/gateway"
)

// OneTimeRequest is a signed proof of ownership of a payment
// transaction.
type OneTimeRequest struct {
	TxHash    common.Hash
	Signature []byte
}

// OneTimeResult describes an accepted one-time payment.
type OneTimeResult struct {
	Sender      common.Address
	TxHash      common.Hash
	PaidAt      time.Time
	Redemptions int
}

type redemption struct {
	sender        common.Address
	paidAt        time.Time
	firstRedeemed time.Time
	count         int
}

// VerifyOneTime checks that the signer sent a transfer paying the
// configured amount to the recipient, and redeems it.  A payment may be
// redeemed MaxRedemptions times within SessionTTL of its first
// redemption.
func (v *Verifier) VerifyOneTime(ctx context.Context, req OneTimeRequest) (res *OneTimeResult, err error) {
	start := time.Now()

	defer func() {
		v.observe(api.SchemeOneTime, start, err)
	}()

	cfg := v.oneTime
	if cfg == nil {
		return nil, fmt.Errorf("%w: %s", ErrSchemeDisabled, api.SchemeOneTime)
	}

	if len(req.Signature) == 0 || req.TxHash == (common.Hash{}) {
		return nil, fmt.Errorf("%w: transaction and signature are required", ErrMissingHeaders)
	}

	sender, err := signer.Recover(codec.OneTime(req.TxHash), req.Signature)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	v.log.Debug("Recovered one-time signer",
		slog.String("tx", req.TxHash.Hex()),
		slog.String("address", sender.Hex()),
	)

	v.redeemMu.Lock()
	rec, ok := v.redemptions.Get(req.TxHash)
	v.redeemMu.Unlock()

	if !ok {
		tx, err := v.transaction(ctx, req.TxHash)
		if err != nil {
			return nil, err
		}

		if err := v.checkTransaction(cfg, tx, sender); err != nil {
			return nil, err
		}

		rec = &redemption{
			sender: sender,
			paidAt: tx.BlockTime,
		}
	}

	v.redeemMu.Lock()
	defer v.redeemMu.Unlock()

	// Another request may have redeemed the payment while the
	// transaction was being looked up.
	if cur, ok := v.redemptions.Get(req.TxHash); ok {
		rec = cur
	}

	if rec.sender != sender {
		return nil, fmt.Errorf("%w: %s did not send %s", ErrInvalidSignature, sender, req.TxHash)
	}

	now := v.nowFunc()

	switch {
	case rec.count >= cfg.MaxRedemptions:
		return nil, fmt.Errorf("%w: redeemed %d times", ErrTransactionAlreadyConsumed, rec.count)
	case now.After(rec.paidAt.Add(cfg.Window)):
		return nil, fmt.Errorf("%w: paid at %s, outside the %s window", ErrInvalidTransaction, rec.paidAt, cfg.Window)
	case rec.count > 0 && now.After(rec.firstRedeemed.Add(cfg.SessionTTL)):
		return nil, fmt.Errorf("%w: session started %s has ended", ErrTransactionAlreadyConsumed, rec.firstRedeemed)
	}

	if rec.count == 0 {
		rec.firstRedeemed = now
	}

	rec.count++
	v.redemptions.Add(req.TxHash, rec)

	v.log.Info("x402 one-time payment verified",
		slog.String("tx", req.TxHash.Hex()),
		slog.String("sender", sender.Hex()),
		slog.Int("redemptions", rec.count),
	)

	return &OneTimeResult{
		Sender:      sender,
		TxHash:      req.TxHash,
		PaidAt:      rec.paidAt,
		Redemptions: rec.count,
	}, nil
}

func (v *Verifier) transaction(ctx context.Context, hash common.Hash) (*gateway.Transaction, error) {
	ctx, cancel := context.WithTimeout(ctx, v.rpcTimeout)
	defer cancel()

	tx, err := v.chain.GetTransaction(ctx, hash)
	if err != nil {
		return nil, v.chainError(err, ErrTransactionNotFound)
	}

	return tx, nil
}

func (v *Verifier) checkTransaction(cfg *OneTimeConfig, tx *gateway.Transaction, sender common.Address) error {
	switch {
	case tx.Status != types.ReceiptStatusSuccessful:
		return fmt.Errorf("%w: %s failed", ErrInvalidTransaction, tx.Hash)
	case tx.From != sender:
		return fmt.Errorf("%w: sent by %s, signed by %s", ErrInvalidTransaction, tx.From, sender)
	case tx.To == nil || *tx.To != cfg.Token:
		return fmt.Errorf("%w: not a call to token %s", ErrInvalidTransaction, cfg.Token)
	}

	for _, t := range tx.Transfers {
		if t.Token == cfg.Token && t.From == sender && t.To == cfg.Recipient && t.Value.Cmp(cfg.Amount) >= 0 {
			return nil
		}
	}

	return fmt.Errorf("%w: no transfer of at least %s to %s", ErrInvalidTransaction, cfg.Amount, cfg.Recipient)
}
