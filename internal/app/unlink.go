package app

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ethereum/go-ethereum/common"
)

// Unlink removes a wallet's chat binding.
func (a *App) Unlink(ctx context.Context, wallet string) error {
	if !common.IsHexAddress(wallet) {
		return errors.New("wallet must be a 0x-prefixed 40-hex-digit address")
	}

	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot unlink")
	}
	defer closeStore()

	removed, err := store.DeleteSubscriber(ctx, wallet)
	if err != nil {
		return err
	}

	if removed {
		fmt.Fprintf(os.Stdout, "unlinked %s\n", wallet)
	} else {
		fmt.Fprintf(os.Stdout, "%s was not linked\n", wallet)
	}
	return nil
}
