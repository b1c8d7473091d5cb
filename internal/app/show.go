package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/vector-10/compound-safe/internal/alerting"
)

// Show prints the most recently dispatched alerts.
func (a *App) Show(ctx context.Context, opts ShowOptions) error {
	store, closeStore, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	if store == nil {
		return errors.New("database not configured; cannot show alerts")
	}
	defer closeStore()

	entries, err := store.ListRecentAlerts(ctx, opts.Limit)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Fprintln(os.Stdout, "no alerts found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "Sent (UTC)\tWallet\tTier\tHealth%\tChat")

	for _, entry := range entries {
		fmt.Fprintf(
			writer,
			"%s\t%s\t%s\t%s\t%s\n",
			entry.SentAt.UTC().Format(time.RFC3339),
			alerting.ShortAddress(entry.WalletAddress),
			entry.Tier.Label(),
			formatDecimal(entry.HealthPct, 2),
			entry.ChatID,
		)
	}

	writer.Flush()
	return nil
}
