package db

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/susu3304/tipbot/internal/amount"
	"github.com/susu3304/tipbot/internal/ledger"
	"github.com/susu3304/tipbot/internal/reactdrop"
)

const reactdropColumns = `id, initiator_id, trigger_emoji, amount, guild_id, channel_id, message_id,
	deadline, status, event_id, failure, created_at, updated_at`

// CreateReactdrop checks the initiator's uncommitted balance and inserts the
// reactdrop in one transaction, holding the account row lock so two creations
// cannot commit the same funds twice.
func (db *DB) CreateReactdrop(ctx context.Context, req reactdrop.Request) (*reactdrop.Reactdrop, error) {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin create reactdrop: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := ensureAccounts(ctx, tx, []string{req.InitiatorID}); err != nil {
		return nil, err
	}

	var balance, committed int64
	if err := tx.QueryRow(ctx,
		`SELECT balance FROM accounts WHERE user_id = $1 FOR UPDATE`, req.InitiatorID,
	).Scan(&balance); err != nil {
		return nil, fmt.Errorf("lock initiator: %w", err)
	}
	if err := tx.QueryRow(ctx, committedSQL, req.InitiatorID, int64(0)).Scan(&committed); err != nil {
		return nil, fmt.Errorf("load committed amount: %w", err)
	}
	if balance-committed < req.Amount.Sats() {
		return nil, ledger.ErrInsufficientFunds
	}

	r, err := scanReactdrop(tx.QueryRow(ctx,
		`INSERT INTO reactdrops (initiator_id, trigger_emoji, amount, guild_id, channel_id, message_id, deadline)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+reactdropColumns,
		req.InitiatorID, req.Trigger, req.Amount.Sats(), req.GuildID, req.ChannelID, req.MessageID, req.Deadline,
	))
	if err != nil {
		return nil, fmt.Errorf("insert reactdrop: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit create reactdrop: %w", err)
	}
	return r, nil
}

func (db *DB) GetReactdrop(ctx context.Context, id int64) (*reactdrop.Reactdrop, error) {
	return scanReactdrop(db.pool.QueryRow(ctx,
		`SELECT `+reactdropColumns+` FROM reactdrops WHERE id = $1`, id))
}

// DueReactdrops returns pending reactdrops whose deadline has passed, oldest
// deadline first.
func (db *DB) DueReactdrops(ctx context.Context, now time.Time, limit int) ([]*reactdrop.Reactdrop, error) {
	return db.queryReactdrops(ctx,
		`SELECT `+reactdropColumns+` FROM reactdrops
		 WHERE status = 'pending' AND deadline <= $1
		 ORDER BY deadline, id LIMIT $2`,
		now, limit,
	)
}

func (db *DB) StuckReactdrops(ctx context.Context, settlingBefore time.Time) ([]*reactdrop.Reactdrop, error) {
	return db.queryReactdrops(ctx,
		`SELECT `+reactdropColumns+` FROM reactdrops
		 WHERE status = 'settling' AND updated_at < $1
		 ORDER BY updated_at`,
		settlingBefore,
	)
}

func (db *DB) ReactdropsByInitiator(ctx context.Context, userID string, limit int) ([]*reactdrop.Reactdrop, error) {
	if limit <= 0 || limit > 100 {
		limit = 100
	}
	return db.queryReactdrops(ctx,
		`SELECT `+reactdropColumns+` FROM reactdrops
		 WHERE initiator_id = $1
		 ORDER BY created_at DESC, id DESC LIMIT $2`,
		userID, limit,
	)
}

func (db *DB) ClaimReactdrop(ctx context.Context, id int64) (bool, error) {
	return db.transitionReactdrop(ctx, id, reactdrop.StatusPending, reactdrop.StatusSettling, "")
}

func (db *DB) ExpireReactdrop(ctx context.Context, id int64) (bool, error) {
	return db.transitionReactdrop(ctx, id, reactdrop.StatusPending, reactdrop.StatusExpired, "")
}

func (db *DB) FailReactdrop(ctx context.Context, id int64, reason string) error {
	_, err := db.transitionReactdrop(ctx, id, reactdrop.StatusSettling, reactdrop.StatusFailed, reason)
	return err
}

// transitionReactdrop applies from -> to only if the row is still in from,
// and reports whether it did.
func (db *DB) transitionReactdrop(ctx context.Context, id int64, from, to reactdrop.Status, failure string) (bool, error) {
	if !from.CanTransitionTo(to) {
		return false, fmt.Errorf("%w: %s -> %s", reactdrop.ErrStatusInvalid, from, to)
	}
	ct, err := db.pool.Exec(ctx,
		`UPDATE reactdrops SET status = $3, failure = $4, updated_at = CURRENT_TIMESTAMP
		 WHERE id = $1 AND status = $2`,
		id, string(from), string(to), failure,
	)
	if err != nil {
		return false, fmt.Errorf("update reactdrop %d to %s: %w", id, to, err)
	}
	return ct.RowsAffected() == 1, nil
}

func (db *DB) queryReactdrops(ctx context.Context, sql string, args ...any) ([]*reactdrop.Reactdrop, error) {
	rows, err := db.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("query reactdrops: %w", err)
	}
	defer rows.Close()

	var drops []*reactdrop.Reactdrop
	for rows.Next() {
		r, err := scanReactdrop(rows)
		if err != nil {
			return nil, err
		}
		drops = append(drops, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return drops, nil
}

func scanReactdrop(row pgx.Row) (*reactdrop.Reactdrop, error) {
	var (
		r       reactdrop.Reactdrop
		amt     int64
		status  string
		eventID *uuid.UUID
	)
	err := row.Scan(&r.ID, &r.InitiatorID, &r.Trigger, &amt, &r.GuildID, &r.ChannelID, &r.MessageID,
		&r.Deadline, &status, &eventID, &r.Failure, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("scan reactdrop: %w", err)
	}
	r.Amount = amount.Amount(amt)
	r.EventID = eventID
	if r.Status, err = reactdrop.ParseStatus(status); err != nil {
		return nil, err
	}
	return &r, nil
}
