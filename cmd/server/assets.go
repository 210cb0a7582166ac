package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"

	"custody/internal/platform/config"
	"custody/internal/token"
)

// assetLedgers are the in-process token ledgers. The directory resolves the
// issued token and every configured asset. The native currency is kept apart
// because asset calls treat the zero address as "no asset".
type assetLedgers struct {
	issued    *token.Ledger
	native    *token.Ledger
	directory *token.Directory
}

func newAssetLedgers(ctx context.Context, cfg config.Custody, hook token.Hook, log *slog.Logger) (*assetLedgers, error) {
	a := &assetLedgers{
		issued:    token.NewLedger(cfg.IssuedToken, token.WithHook(hook)),
		native:    token.NewLedger(common.Address{}),
		directory: token.NewDirectory(),
	}
	a.directory.Register(a.issued.Address(), a.issued)

	mintable := map[common.Address]*token.Ledger{{}: a.native}
	for _, asset := range cfg.Assets {
		l := token.NewLedger(asset)
		a.directory.Register(asset, l)
		mintable[asset] = l
	}
	for _, alloc := range cfg.Allocations {
		l, ok := mintable[alloc.Asset]
		if !ok {
			return nil, fmt.Errorf("allocation for unconfigured asset %s", alloc.Asset.Hex())
		}
		if err := l.Mint(ctx, alloc.Holder, alloc.Amount); err != nil {
			return nil, fmt.Errorf("allocating %s of %s to %s: %w",
				alloc.Amount, alloc.Asset.Hex(), alloc.Holder.Hex(), err)
		}
	}
	log.InfoContext(ctx, "asset ledgers ready",
		"issued", a.issued.Address().Hex(),
		"assets", len(cfg.Assets),
		"allocations", len(cfg.Allocations),
	)
	return a, nil
}
