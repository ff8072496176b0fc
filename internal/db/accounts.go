package db

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/jackc/pgx/v5"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/notify"
)

// Balance returns the user's balance, creating the account on first use.
func (db *DB) Balance(ctx context.Context, userID string) (amount.Amount, error) {
	var bal int64
	err := db.pool.QueryRow(ctx,
		`INSERT INTO accounts (user_id) VALUES ($1)
		 ON CONFLICT (user_id) DO UPDATE SET user_id = EXCLUDED.user_id
		 RETURNING balance`,
		userID,
	).Scan(&bal)
	if err != nil {
		return 0, fmt.Errorf("load balance: %w", err)
	}
	return amount.Amount(bal), nil
}

// Available returns the balance and the part of it committed to the user's
// open (pending or settling) reactdrops.
func (db *DB) Available(ctx context.Context, userID string) (balance, committed amount.Amount, err error) {
	bal, err := db.Balance(ctx, userID)
	if err != nil {
		return 0, 0, err
	}
	var c int64
	if err := db.pool.QueryRow(ctx, committedSQL, userID, int64(0)).Scan(&c); err != nil {
		return 0, 0, fmt.Errorf("load committed amount: %w", err)
	}
	return bal, amount.Amount(c), nil
}

// committedSQL sums the open reactdrops of $1, leaving out reactdrop $2.
// A reactdrop being settled stays reserved until its payout lands.
const committedSQL = `SELECT COALESCE(SUM(amount), 0)::BIGINT FROM reactdrops
	WHERE initiator_id = $1 AND status IN ('pending', 'settling') AND id <> $2`

// ApplyTransfer debits the source, credits every destination, writes the
// ledger rows and, for a reactdrop payout, marks the reactdrop settled, all in
// one transaction. Account rows are locked in user_id order so concurrent
// transfers over overlapping accounts cannot deadlock.
func (db *DB) ApplyTransfer(ctx context.Context, t ledger.Transfer) error {
	ids := involved(t)

	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transfer: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureAccounts(ctx, tx, ids); err != nil {
		return err
	}

	rows, err := tx.Query(ctx,
		`SELECT user_id, balance FROM accounts
		 WHERE user_id = ANY($1) ORDER BY user_id FOR UPDATE`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}
	balances := make(map[string]int64, len(ids))
	for rows.Next() {
		var id string
		var bal int64
		if err := rows.Scan(&id, &bal); err != nil {
			rows.Close()
			return fmt.Errorf("scan account: %w", err)
		}
		balances[id] = bal
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("lock accounts: %w", err)
	}

	var committed int64
	if err := tx.QueryRow(ctx, committedSQL, t.Source, t.SettlesReactdrop).Scan(&committed); err != nil {
		return fmt.Errorf("load committed amount: %w", err)
	}
	if balances[t.Source]-committed < t.Moved.Sats() {
		return ledger.ErrInsufficientFunds
	}

	if _, err := tx.Exec(ctx,
		`UPDATE accounts SET balance = balance - $2 WHERE user_id = $1`,
		t.Source, t.Moved.Sats(),
	); err != nil {
		return fmt.Errorf("debit source: %w", err)
	}

	dests := make([]string, 0, len(t.Entries))
	credits := make([]int64, 0, len(t.Entries))
	for _, e := range t.Entries {
		dests = append(dests, e.Destination)
		credits = append(credits, e.Amount.Sats())
	}
	if _, err := tx.Exec(ctx,
		`UPDATE accounts AS a SET balance = a.balance + c.amount
		 FROM unnest($1::text[], $2::bigint[]) AS c(user_id, amount)
		 WHERE a.user_id = c.user_id`,
		dests, credits,
	); err != nil {
		return fmt.Errorf("credit destinations: %w", err)
	}

	if t.SettlesReactdrop != 0 {
		ct, err := tx.Exec(ctx,
			`UPDATE reactdrops SET status = 'settled', event_id = $2, updated_at = CURRENT_TIMESTAMP
			 WHERE id = $1 AND status = 'settling'`,
			t.SettlesReactdrop, t.EventID,
		)
		if err != nil {
			return fmt.Errorf("mark reactdrop settled: %w", err)
		}
		if ct.RowsAffected() == 0 {
			return ledger.ErrAlreadySettled
		}
	}

	entryRows := make([][]any, 0, len(t.Entries))
	for _, e := range t.Entries {
		entryRows = append(entryRows, []any{e.EventID, e.Source, e.Destination, e.Amount.Sats(), string(e.Kind), e.CreatedAt})
	}
	if _, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ledger_entries"},
		[]string{"event_id", "source_id", "dest_id", "amount", "kind", "created_at"},
		pgx.CopyFromRows(entryRows),
	); err != nil {
		return fmt.Errorf("insert ledger entries: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit transfer: %w", err)
	}
	return nil
}

func ensureAccounts(ctx context.Context, tx pgx.Tx, ids []string) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO accounts (user_id) SELECT unnest($1::text[])
		 ON CONFLICT (user_id) DO NOTHING`,
		ids,
	)
	if err != nil {
		return fmt.Errorf("ensure accounts: %w", err)
	}
	return nil
}

// involved returns the sorted, de-duplicated account ids a transfer touches.
func involved(t ledger.Transfer) []string {
	seen := map[string]struct{}{t.Source: {}}
	ids := []string{t.Source}
	for _, e := range t.Entries {
		if _, ok := seen[e.Destination]; ok {
			continue
		}
		seen[e.Destination] = struct{}{}
		ids = append(ids, e.Destination)
	}
	sort.Strings(ids)
	return ids
}

// Entries returns the newest ledger rows the user sent or received.
func (db *DB) Entries(ctx context.Context, userID string, limit int) ([]ledger.Entry, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	rows, err := db.pool.Query(ctx,
		`SELECT id, event_id, source_id, dest_id, amount, kind, created_at
		 FROM ledger_entries
		 WHERE source_id = $1 OR dest_id = $1
		 ORDER BY id DESC LIMIT $2`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	defer rows.Close()

	var entries []ledger.Entry
	for rows.Next() {
		var (
			e    ledger.Entry
			amt  int64
			kind string
		)
		if err := rows.Scan(&e.ID, &e.EventID, &e.Source, &e.Destination, &amt, &kind, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		e.Amount = amount.Amount(amt)
		e.Kind = ledger.Kind(kind)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// Credit adds funds to an account outside of any transfer. It backs
// deposits credited by the operator and is not recorded as a ledger entry.
func (db *DB) Credit(ctx context.Context, userID string, a amount.Amount) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, balance) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET balance = accounts.balance + EXCLUDED.balance`,
		userID, a.Sats(),
	)
	if err != nil {
		return fmt.Errorf("credit account: %w", err)
	}
	return nil
}

func (db *DB) SetNotificationPreference(ctx context.Context, userID string, p notify.Preference) error {
	var value *string
	if p != notify.PreferenceUnset {
		s := string(p)
		value = &s
	}
	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, notification) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET notification = EXCLUDED.notification`,
		userID, value,
	)
	if err != nil {
		return fmt.Errorf("set notification preference: %w", err)
	}
	return nil
}

func (db *DB) NotificationPreference(ctx context.Context, userID string) (notify.Preference, error) {
	var value *string
	err := db.pool.QueryRow(ctx,
		`SELECT notification FROM accounts WHERE user_id = $1`, userID,
	).Scan(&value)
	if errors.Is(err, pgx.ErrNoRows) {
		return notify.PreferenceUnset, nil
	}
	if err != nil {
		return notify.PreferenceUnset, fmt.Errorf("load notification preference: %w", err)
	}
	if value == nil {
		return notify.PreferenceUnset, nil
	}
	return notify.ParsePreference(*value)
}

// NotificationPreferences loads the stored preference of every given user in
// one query. Users without one are left out.
func (db *DB) NotificationPreferences(ctx context.Context, userIDs []string) (map[string]notify.Preference, error) {
	rows, err := db.pool.Query(ctx,
		`SELECT user_id, notification FROM accounts
		 WHERE user_id = ANY($1) AND notification IS NOT NULL`,
		userIDs,
	)
	if err != nil {
		return nil, fmt.Errorf("query notification preferences: %w", err)
	}
	defer rows.Close()

	prefs := make(map[string]notify.Preference, len(userIDs))
	for rows.Next() {
		var id, raw string
		if err := rows.Scan(&id, &raw); err != nil {
			return nil, fmt.Errorf("scan notification preference: %w", err)
		}
		p, err := notify.ParsePreference(raw)
		if err != nil {
			continue
		}
		prefs[id] = p
	}
	return prefs, rows.Err()
}

func (db *DB) IsBlacklisted(ctx context.Context, userID string) (bool, error) {
	var blacklisted bool
	err := db.pool.QueryRow(ctx,
		`SELECT blacklisted FROM accounts WHERE user_id = $1`, userID,
	).Scan(&blacklisted)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load blacklist flag: %w", err)
	}
	return blacklisted, nil
}

func (db *DB) SetBlacklisted(ctx context.Context, userID string, blacklisted bool) error {
	_, err := db.pool.Exec(ctx,
		`INSERT INTO accounts (user_id, blacklisted) VALUES ($1, $2)
		 ON CONFLICT (user_id) DO UPDATE SET blacklisted = EXCLUDED.blacklisted`,
		userID, blacklisted,
	)
	if err != nil {
		return fmt.Errorf("set blacklist flag: %w", err)
	}
	return nil
}
