package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vector-10/compound-safe/internal/alerting"
)

var (
	// ErrNotConfigured indicates the storage pool was not initialised.
	ErrNotConfigured = errors.New("storage: pool not configured")
	// ErrUnknownTier indicates a tier with no backing column.
	ErrUnknownTier = errors.New("storage: unknown alert tier")
)

const (
	upsertSubscriberSQL = `INSERT INTO subscribers (
        wallet_address,
        chat_id,
        linked_at,
        last_alert_50,
        last_alert_20,
        last_alert_5
    ) VALUES (
        $1,$2,$3,$4,$5,$6
    )
    ON CONFLICT (wallet_address) DO UPDATE
    SET
        chat_id       = EXCLUDED.chat_id,
        linked_at     = EXCLUDED.linked_at,
        last_alert_50 = EXCLUDED.last_alert_50,
        last_alert_20 = EXCLUDED.last_alert_20,
        last_alert_5  = EXCLUDED.last_alert_5;`

	getSubscriberSQL = `SELECT
        wallet_address, chat_id, linked_at, last_alert_50, last_alert_20, last_alert_5
    FROM subscribers
    WHERE wallet_address = $1;`

	listSubscribersSQL = `SELECT
        wallet_address, chat_id, linked_at, last_alert_50, last_alert_20, last_alert_5
    FROM subscribers
    ORDER BY linked_at;`

	deleteSubscriberSQL = `DELETE FROM subscribers WHERE wallet_address = $1;`

	insertAlertSQL = `INSERT INTO alert_log (
        wallet_address, tier, health_pct, chat_id, sent_at
    ) VALUES ($1,$2,$3,$4,$5);`

	listRecentAlertsSQL = `SELECT
        id, wallet_address, tier, health_pct, chat_id, sent_at
    FROM alert_log
    ORDER BY sent_at DESC
    LIMIT $1;`

	insertHealthSampleSQL = `INSERT INTO health_samples (
        wallet_address, sampled_at, health_pct, collateral_usd, debt_usd, price_usd
    ) VALUES ($1,$2,$3,$4,$5,$6);`

	listHealthSamplesSQL = `SELECT
        wallet_address, sampled_at, health_pct, collateral_usd, debt_usd, price_usd
    FROM health_samples
    WHERE wallet_address = $1
      AND sampled_at >= $2
      AND sampled_at < $3
    ORDER BY sampled_at;`

	// IS NOT DISTINCT FROM matches NULL against NULL, so an unset clock can be
	// claimed exactly once even when two evaluators race.
	casAlertTimeSQLFmt = `UPDATE subscribers
    SET %s = $2
    WHERE wallet_address = $1
      AND %s IS NOT DISTINCT FROM $3;`
)

// SubscriberStore defines operations for the wallet -> channel bindings.
type SubscriberStore interface {
	GetSubscriber(ctx context.Context, wallet string) (Subscriber, bool, error)
	UpsertSubscriber(ctx context.Context, sub Subscriber) error
	DeleteSubscriber(ctx context.Context, wallet string) (bool, error)
	ListSubscribers(ctx context.Context) ([]Subscriber, error)
	CompareAndSetAlertTime(ctx context.Context, wallet string, tier alerting.Tier, expected *time.Time, next time.Time) (bool, error)
}

// AlertLogStore defines operations for alert auditing.
type AlertLogStore interface {
	InsertAlert(ctx context.Context, entry AlertEntry) error
	ListRecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error)
}

// HealthSampleStore defines operations for evaluation history.
type HealthSampleStore interface {
	InsertHealthSample(ctx context.Context, sample HealthSample) error
	ListHealthSamplesBetween(ctx context.Context, wallet string, from, to time.Time) ([]HealthSample, error)
}

// Store aggregates subscriber, audit, and sample persistence on one pool.
type Store struct {
	pool *pgxpool.Pool
}

// NewStore wires a pgx pool into a Store.
func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

func (s *Store) getPool() (*pgxpool.Pool, error) {
	if s == nil || s.pool == nil {
		return nil, ErrNotConfigured
	}
	return s.pool, nil
}

// GetSubscriber fetches one binding; the bool reports existence.
func (s *Store) GetSubscriber(ctx context.Context, wallet string) (Subscriber, bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return Subscriber{}, false, err
	}

	row := pool.QueryRow(ctx, getSubscriberSQL, wallet)
	sub, scanErr := scanSubscriber(row)
	if scanErr != nil {
		if errors.Is(scanErr, pgx.ErrNoRows) {
			return Subscriber{}, false, nil
		}
		return Subscriber{}, false, fmt.Errorf("get subscriber: %w", scanErr)
	}
	return sub, true, nil
}

// UpsertSubscriber creates or wholesale-replaces a binding.
func (s *Store) UpsertSubscriber(ctx context.Context, sub Subscriber) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, upsertSubscriberSQL,
		sub.WalletAddress,
		sub.ChatID,
		sub.LinkedAt,
		sub.LastAlert50,
		sub.LastAlert20,
		sub.LastAlert5,
	)
	if execErr != nil {
		return fmt.Errorf("upsert subscriber: %w", execErr)
	}
	return nil
}

// DeleteSubscriber removes a binding; the bool reports whether one existed.
func (s *Store) DeleteSubscriber(ctx context.Context, wallet string) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	tag, execErr := pool.Exec(ctx, deleteSubscriberSQL, wallet)
	if execErr != nil {
		return false, fmt.Errorf("delete subscriber: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// ListSubscribers returns all bindings ordered by link time.
func (s *Store) ListSubscribers(ctx context.Context) ([]Subscriber, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listSubscribersSQL)
	if queryErr != nil {
		return nil, fmt.Errorf("list subscribers: %w", queryErr)
	}
	defer rows.Close()

	subs := make([]Subscriber, 0)
	for rows.Next() {
		sub, scanErr := scanSubscriber(rows)
		if scanErr != nil {
			return nil, scanErr
		}
		subs = append(subs, sub)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return subs, nil
}

// CompareAndSetAlertTime atomically advances one tier's alert clock. It
// reports false without error when the stored value no longer matches
// expected, e.g. because a re-link reset the record mid-cycle.
func (s *Store) CompareAndSetAlertTime(ctx context.Context, wallet string, tier alerting.Tier, expected *time.Time, next time.Time) (bool, error) {
	pool, err := s.getPool()
	if err != nil {
		return false, err
	}

	column, err := tierColumn(tier)
	if err != nil {
		return false, err
	}

	query := fmt.Sprintf(casAlertTimeSQLFmt, column, column)
	tag, execErr := pool.Exec(ctx, query, wallet, next, expected)
	if execErr != nil {
		return false, fmt.Errorf("compare-and-set alert time: %w", execErr)
	}
	return tag.RowsAffected() > 0, nil
}

// InsertAlert persists a dispatched notification.
func (s *Store) InsertAlert(ctx context.Context, entry AlertEntry) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertAlertSQL,
		entry.WalletAddress,
		int(entry.Tier),
		entry.HealthPct.String(),
		entry.ChatID,
		entry.SentAt,
	)
	if execErr != nil {
		return fmt.Errorf("insert alert: %w", execErr)
	}
	return nil
}

// ListRecentAlerts lists the most recent dispatched notifications.
func (s *Store) ListRecentAlerts(ctx context.Context, limit int) ([]AlertEntry, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listRecentAlertsSQL, limit)
	if queryErr != nil {
		return nil, fmt.Errorf("list recent alerts: %w", queryErr)
	}
	defer rows.Close()

	entries := make([]AlertEntry, 0, limit)
	for rows.Next() {
		var (
			entry     AlertEntry
			tier      int
			healthStr string
		)
		if err := rows.Scan(&entry.ID, &entry.WalletAddress, &tier, &healthStr, &entry.ChatID, &entry.SentAt); err != nil {
			return nil, err
		}

		entry.Tier = alerting.Tier(tier)
		var convErr error
		entry.HealthPct, convErr = decimal.NewFromString(healthStr)
		if convErr != nil {
			return nil, fmt.Errorf("parse health pct: %w", convErr)
		}

		entries = append(entries, entry)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return entries, nil
}

// InsertHealthSample persists one evaluation snapshot.
func (s *Store) InsertHealthSample(ctx context.Context, sample HealthSample) error {
	pool, err := s.getPool()
	if err != nil {
		return err
	}

	_, execErr := pool.Exec(ctx, insertHealthSampleSQL,
		sample.WalletAddress,
		sample.SampledAt,
		sample.HealthPct.String(),
		sample.CollateralUSD.String(),
		sample.DebtUSD.String(),
		sample.PriceUSD.String(),
	)
	if execErr != nil {
		return fmt.Errorf("insert health sample: %w", execErr)
	}
	return nil
}

// ListHealthSamplesBetween lists one wallet's samples within a time window.
func (s *Store) ListHealthSamplesBetween(ctx context.Context, wallet string, from, to time.Time) ([]HealthSample, error) {
	pool, err := s.getPool()
	if err != nil {
		return nil, err
	}

	rows, queryErr := pool.Query(ctx, listHealthSamplesSQL, wallet, from, to)
	if queryErr != nil {
		return nil, fmt.Errorf("list health samples: %w", queryErr)
	}
	defer rows.Close()

	samples := make([]HealthSample, 0)
	for rows.Next() {
		var (
			sample        HealthSample
			healthStr     string
			collateralStr string
			debtStr       string
			priceStr      string
		)
		if err := rows.Scan(&sample.WalletAddress, &sample.SampledAt, &healthStr, &collateralStr, &debtStr, &priceStr); err != nil {
			return nil, err
		}

		var convErr error
		if sample.HealthPct, convErr = decimal.NewFromString(healthStr); convErr != nil {
			return nil, fmt.Errorf("parse health pct: %w", convErr)
		}
		if sample.CollateralUSD, convErr = decimal.NewFromString(collateralStr); convErr != nil {
			return nil, fmt.Errorf("parse collateral usd: %w", convErr)
		}
		if sample.DebtUSD, convErr = decimal.NewFromString(debtStr); convErr != nil {
			return nil, fmt.Errorf("parse debt usd: %w", convErr)
		}
		if sample.PriceUSD, convErr = decimal.NewFromString(priceStr); convErr != nil {
			return nil, fmt.Errorf("parse price usd: %w", convErr)
		}

		samples = append(samples, sample)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return samples, nil
}

func tierColumn(tier alerting.Tier) (string, error) {
	switch tier {
	case alerting.TierWarning:
		return "last_alert_50", nil
	case alerting.TierCritical:
		return "last_alert_20", nil
	case alerting.TierEmergency:
		return "last_alert_5", nil
	default:
		return "", ErrUnknownTier
	}
}

func scanSubscriber(row pgx.Row) (Subscriber, error) {
	var sub Subscriber
	if err := row.Scan(
		&sub.WalletAddress,
		&sub.ChatID,
		&sub.LinkedAt,
		&sub.LastAlert50,
		&sub.LastAlert20,
		&sub.LastAlert5,
	); err != nil {
		return Subscriber{}, err
	}
	return sub, nil
}

var (
	_ SubscriberStore   = (*Store)(nil)
	_ AlertLogStore     = (*Store)(nil)
	_ HealthSampleStore = (*Store)(nil)
)
