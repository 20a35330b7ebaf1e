// Package sqlite implements storage.Core against the six-table schema
// from spec §6, using database/sql with mattn/go-sqlite3 (cgo). Grounded
// on the SQL storage adapter retrieved in other_examples/ (the only
// pack-wide example of a real SQL driver dependency; no _examples/ repo
// itself ships one) for the prepared-statement-per-method, row-to-struct
// scan shape, and on the reference node's storage package for the
// sentinel-error wrapping convention on NotFound/Conflict.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"

	storageiface "github.com/Chigala/bitcoin-pay/pkg/interfaces/storage"
	"github.com/Chigala/bitcoin-pay/pkg/types"
)

var _ storageiface.Core = (*Store)(nil)
var _ storageiface.CustomerStore = (*Store)(nil)

// Store implements storage.Core over a *sql.DB opened against a sqlite3
// file (or ":memory:" for tests).
type Store struct {
	db *sql.DB
}

// Open opens dsn and applies the schema. A single *sql.DB is safe for
// concurrent use; sqlite3's own file lock serializes writers.
func Open(dsn string) (*Store, error) {
	db, err := sql.Open("sqlite3", dsn+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("sqlite: open: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite: applying schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func unixOrNil(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return t.Unix()
}

func nullableTime(ns sql.NullInt64) *time.Time {
	if !ns.Valid {
		return nil
	}
	t := time.Unix(ns.Int64, 0).UTC()
	return &t
}

// --- Intents ---

func (s *Store) CreateIntent(ctx context.Context, intent *types.Intent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO payment_intents
			(id, amount_sats, status, address_id, required_confs, expires_at, confirmed_at, customer_id, email, memo, created_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?)`,
		intent.ID, intent.AmountSats, string(intent.Status), intent.AddressID, intent.RequiredConfs,
		intent.ExpiresAt.Unix(), unixOrNil(intent.ConfirmedAt), intent.CustomerID, intent.Email, intent.Memo,
		intent.CreatedAt.Unix(), intent.UpdatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: intent %s already exists", types.ErrConflict, intent.ID)
	}
	if err != nil {
		return fmt.Errorf("sqlite: create intent: %w", err)
	}
	return nil
}

func (s *Store) scanIntent(row interface {
	Scan(dest ...interface{}) error
}) (*types.Intent, error) {
	var i types.Intent
	var status string
	var confirmedAt sql.NullInt64
	var expiresAt, createdAt, updatedAt int64
	if err := row.Scan(&i.ID, &i.AmountSats, &status, &i.AddressID, &i.RequiredConfs,
		&expiresAt, &confirmedAt, &i.CustomerID, &i.Email, &i.Memo, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	i.Status = types.IntentStatus(status)
	i.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	i.CreatedAt = time.Unix(createdAt, 0).UTC()
	i.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	i.ConfirmedAt = nullableTime(confirmedAt)
	return &i, nil
}

func (s *Store) GetIntent(ctx context.Context, id string) (*types.Intent, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, amount_sats, status, address_id, required_confs, expires_at, confirmed_at, customer_id, email, memo, created_at, updated_at
		FROM payment_intents WHERE id = ?`, id)
	i, err := s.scanIntent(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: intent %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get intent: %w", err)
	}
	return i, nil
}

func (s *Store) UpdateIntent(ctx context.Context, intent *types.Intent) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE payment_intents SET amount_sats=?, status=?, address_id=?, required_confs=?, expires_at=?,
			confirmed_at=?, customer_id=?, email=?, memo=?, updated_at=?
		WHERE id=?`,
		intent.AmountSats, string(intent.Status), intent.AddressID, intent.RequiredConfs, intent.ExpiresAt.Unix(),
		unixOrNil(intent.ConfirmedAt), intent.CustomerID, intent.Email, intent.Memo, intent.UpdatedAt.Unix(), intent.ID,
	)
	if err != nil {
		return fmt.Errorf("sqlite: update intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: intent %s", types.ErrNotFound, intent.ID)
	}
	return nil
}

func (s *Store) ListIntentsByStatus(ctx context.Context, statuses ...types.IntentStatus) ([]*types.Intent, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(statuses))
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		placeholders[i] = "?"
		args[i] = string(st)
	}
	q := fmt.Sprintf(`
		SELECT id, amount_sats, status, address_id, required_confs, expires_at, confirmed_at, customer_id, email, memo, created_at, updated_at
		FROM payment_intents WHERE status IN (%s) ORDER BY id`, strings.Join(placeholders, ","))

	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list intents by status: %w", err)
	}
	defer rows.Close()

	var out []*types.Intent
	for rows.Next() {
		i, err := s.scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning intent: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

func (s *Store) ListExpirable(ctx context.Context, now int64) ([]*types.Intent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, amount_sats, status, address_id, required_confs, expires_at, confirmed_at, customer_id, email, memo, created_at, updated_at
		FROM payment_intents
		WHERE expires_at <= ? AND status NOT IN (?,?,?)
		ORDER BY id`,
		now, string(types.IntentConfirmed), string(types.IntentExpired), string(types.IntentFailed),
	)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list expirable: %w", err)
	}
	defer rows.Close()

	var out []*types.Intent
	for rows.Next() {
		i, err := s.scanIntent(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning intent: %w", err)
		}
		out = append(out, i)
	}
	return out, rows.Err()
}

// --- Addresses ---

func (s *Store) CreateAddress(ctx context.Context, addr *types.DepositAddress) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO deposit_addresses (id, address, derivation_index, script_pubkey_hex, intent_id, assigned_at, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		addr.ID, addr.Address, addr.DerivationIndex, addr.ScriptPubKeyHex, addr.IntentID,
		unixOrNil(addr.AssignedAt), addr.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: address %s already exists", types.ErrConflict, addr.Address)
	}
	if err != nil {
		return fmt.Errorf("sqlite: create address: %w", err)
	}
	return nil
}

func (s *Store) scanAddress(row interface {
	Scan(dest ...interface{}) error
}) (*types.DepositAddress, error) {
	var a types.DepositAddress
	var assignedAt sql.NullInt64
	var createdAt int64
	if err := row.Scan(&a.ID, &a.Address, &a.DerivationIndex, &a.ScriptPubKeyHex, &a.IntentID, &assignedAt, &createdAt); err != nil {
		return nil, err
	}
	a.AssignedAt = nullableTime(assignedAt)
	a.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &a, nil
}

func (s *Store) GetAddressByID(ctx context.Context, id string) (*types.DepositAddress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, derivation_index, script_pubkey_hex, intent_id, assigned_at, created_at
		FROM deposit_addresses WHERE id = ?`, id)
	a, err := s.scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: address %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get address: %w", err)
	}
	return a, nil
}

func (s *Store) GetAddressByValue(ctx context.Context, address string) (*types.DepositAddress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, derivation_index, script_pubkey_hex, intent_id, assigned_at, created_at
		FROM deposit_addresses WHERE address = ?`, address)
	a, err := s.scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: address %s", types.ErrNotFound, address)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get address by value: %w", err)
	}
	return a, nil
}

func (s *Store) NextDerivationIndex(ctx context.Context) (int, error) {
	var max sql.NullInt64
	row := s.db.QueryRowContext(ctx, `SELECT MAX(derivation_index) FROM deposit_addresses`)
	if err := row.Scan(&max); err != nil {
		return 0, fmt.Errorf("sqlite: next derivation index: %w", err)
	}
	if !max.Valid {
		return 0, nil
	}
	return int(max.Int64) + 1, nil
}

func (s *Store) NextUnassignedAddress(ctx context.Context) (*types.DepositAddress, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, address, derivation_index, script_pubkey_hex, intent_id, assigned_at, created_at
		FROM deposit_addresses WHERE intent_id = '' ORDER BY derivation_index ASC LIMIT 1`)
	a, err := s.scanAddress(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no unassigned address", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: next unassigned address: %w", err)
	}
	return a, nil
}

// AssignAddressToIntent links addr -> intent transactionally, satisfying
// §4.C's one required cross-table transaction.
func (s *Store) AssignAddressToIntent(ctx context.Context, addressID, intentID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("sqlite: begin assign tx: %w", err)
	}
	defer tx.Rollback()

	var currentIntentID string
	row := tx.QueryRowContext(ctx, `SELECT intent_id FROM deposit_addresses WHERE id = ?`, addressID)
	if err := row.Scan(&currentIntentID); errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: address %s", types.ErrNotFound, addressID)
	} else if err != nil {
		return fmt.Errorf("sqlite: assign: checking address: %w", err)
	}
	if currentIntentID != "" {
		return fmt.Errorf("%w: address %s already assigned", types.ErrConflict, addressID)
	}

	now := time.Now().UTC().Unix()
	res, err := tx.ExecContext(ctx, `UPDATE deposit_addresses SET intent_id=?, assigned_at=? WHERE id=?`, intentID, now, addressID)
	if err != nil {
		return fmt.Errorf("sqlite: assign: updating address: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: address %s", types.ErrNotFound, addressID)
	}

	res, err = tx.ExecContext(ctx, `UPDATE payment_intents SET address_id=?, updated_at=? WHERE id=?`, addressID, now, intentID)
	if err != nil {
		return fmt.Errorf("sqlite: assign: updating intent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: intent %s", types.ErrNotFound, intentID)
	}

	return tx.Commit()
}

func (s *Store) ListAssignedAddresses(ctx context.Context) ([]*types.DepositAddress, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, address, derivation_index, script_pubkey_hex, intent_id, assigned_at, created_at
		FROM deposit_addresses WHERE intent_id != '' ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list assigned addresses: %w", err)
	}
	defer rows.Close()

	var out []*types.DepositAddress
	for rows.Next() {
		a, err := s.scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning address: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// --- Observations ---

func (s *Store) scanObservation(row interface {
	Scan(dest ...interface{}) error
}) (*types.TxObservation, error) {
	var o types.TxObservation
	var status string
	var seenAt, updatedAt int64
	if err := row.Scan(&o.ID, &o.Txid, &o.Vout, &o.ValueSats, &o.Confirmations, &o.AddressID,
		&o.ScriptPubKeyHex, &status, &seenAt, &updatedAt); err != nil {
		return nil, err
	}
	o.Status = types.ObservationStatus(status)
	o.SeenAt = time.Unix(seenAt, 0).UTC()
	o.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	return &o, nil
}

func (s *Store) GetObservation(ctx context.Context, txid string, vout uint32) (*types.TxObservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, txid, vout, value_sats, confirmations, address_id, script_pubkey_hex, status, seen_at, updated_at
		FROM tx_observations WHERE txid = ? AND vout = ?`, txid, vout)
	o, err := s.scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: observation %s:%d", types.ErrNotFound, txid, vout)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get observation: %w", err)
	}
	return o, nil
}

// UpsertObservation inserts a new (txid,vout) row or updates the mutable
// fields (value_sats/confirmations/status/updated_at) of an existing one, reporting
// whether the row was newly created so the reconciler (§4.F) can route
// the correct state-machine trigger.
func (s *Store) UpsertObservation(ctx context.Context, obs *types.TxObservation) (bool, error) {
	_, err := s.GetObservation(ctx, obs.Txid, obs.Vout)
	existed := err == nil
	if err != nil && !errors.Is(err, types.ErrNotFound) {
		return false, err
	}

	if existed {
		_, err := s.db.ExecContext(ctx, `
			UPDATE tx_observations SET value_sats=?, confirmations=?, status=?, updated_at=?
			WHERE txid=? AND vout=?`,
			obs.ValueSats, obs.Confirmations, string(obs.Status), obs.UpdatedAt.Unix(), obs.Txid, obs.Vout,
		)
		if err != nil {
			return false, fmt.Errorf("sqlite: update observation: %w", err)
		}
		return false, nil
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO tx_observations (id, txid, vout, value_sats, confirmations, address_id, script_pubkey_hex, status, seen_at, updated_at)
		VALUES (?,?,?,?,?,?,?,?,?,?)`,
		obs.ID, obs.Txid, obs.Vout, obs.ValueSats, obs.Confirmations, obs.AddressID, obs.ScriptPubKeyHex,
		string(obs.Status), obs.SeenAt.Unix(), obs.UpdatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return false, fmt.Errorf("%w: observation %s:%d", types.ErrConflict, obs.Txid, obs.Vout)
	}
	if err != nil {
		return false, fmt.Errorf("sqlite: insert observation: %w", err)
	}
	return true, nil
}

func (s *Store) ListObservationsByAddress(ctx context.Context, addressID string) ([]*types.TxObservation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, txid, vout, value_sats, confirmations, address_id, script_pubkey_hex, status, seen_at, updated_at
		FROM tx_observations WHERE address_id = ? ORDER BY seen_at ASC`, addressID)
	if err != nil {
		return nil, fmt.Errorf("sqlite: list observations by address: %w", err)
	}
	defer rows.Close()

	var out []*types.TxObservation
	for rows.Next() {
		o, err := s.scanObservation(rows)
		if err != nil {
			return nil, fmt.Errorf("sqlite: scanning observation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (s *Store) LatestObservationForIntent(ctx context.Context, addressID string) (*types.TxObservation, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, txid, vout, value_sats, confirmations, address_id, script_pubkey_hex, status, seen_at, updated_at
		FROM tx_observations WHERE address_id = ? ORDER BY seen_at DESC LIMIT 1`, addressID)
	o, err := s.scanObservation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: no observation for address %s", types.ErrNotFound, addressID)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: latest observation: %w", err)
	}
	return o, nil
}

// ResetObservationsToMempool demotes every observation of txid back to
// mempool/0-conf — the reorg path in §4.G.
func (s *Store) ResetObservationsToMempool(ctx context.Context, txid string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE tx_observations SET status=?, confirmations=0 WHERE txid=?`,
		string(types.ObservationMempool), txid,
	)
	if err != nil {
		return fmt.Errorf("sqlite: reset observations to mempool: %w", err)
	}
	return nil
}

// --- Tokens ---

func (s *Store) CreateToken(ctx context.Context, token *types.MagicLinkToken) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO magic_link_tokens (id, token, intent_id, consumed, consumed_at, expires_at, created_at)
		VALUES (?,?,?,?,?,?,?)`,
		token.ID, token.Token, token.IntentID, token.Consumed, unixOrNil(token.ConsumedAt),
		token.ExpiresAt.Unix(), token.CreatedAt.Unix(),
	)
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: token already exists", types.ErrConflict)
	}
	if err != nil {
		return fmt.Errorf("sqlite: create token: %w", err)
	}
	return nil
}

func (s *Store) scanToken(row interface {
	Scan(dest ...interface{}) error
}) (*types.MagicLinkToken, error) {
	var t types.MagicLinkToken
	var consumed int
	var consumedAt sql.NullInt64
	var expiresAt, createdAt int64
	if err := row.Scan(&t.ID, &t.Token, &t.IntentID, &consumed, &consumedAt, &expiresAt, &createdAt); err != nil {
		return nil, err
	}
	t.Consumed = consumed != 0
	t.ConsumedAt = nullableTime(consumedAt)
	t.ExpiresAt = time.Unix(expiresAt, 0).UTC()
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &t, nil
}

func (s *Store) GetTokenByValue(ctx context.Context, token string) (*types.MagicLinkToken, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, token, intent_id, consumed, consumed_at, expires_at, created_at
		FROM magic_link_tokens WHERE token = ?`, token)
	t, err := s.scanToken(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: token", types.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get token: %w", err)
	}
	return t, nil
}

func (s *Store) MarkTokenConsumed(ctx context.Context, id string, consumedAt int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE magic_link_tokens SET consumed=1, consumed_at=? WHERE id=?`, consumedAt, id)
	if err != nil {
		return fmt.Errorf("sqlite: mark token consumed: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: token %s", types.ErrNotFound, id)
	}
	return nil
}

// --- Metadata ---

func (s *Store) GetMetadata(ctx context.Context, key string) (string, bool, error) {
	var v string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM system_metadata WHERE key = ?`, key).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("sqlite: get metadata: %w", err)
	}
	return v, true, nil
}

func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO system_metadata (key, value) VALUES (?,?)
		ON CONFLICT(key) DO UPDATE SET value=excluded.value`, key, value)
	if err != nil {
		return fmt.Errorf("sqlite: set metadata: %w", err)
	}
	return nil
}

// --- Optional capability: storage.CustomerStore ---

func (s *Store) UpsertCustomer(ctx context.Context, c *storageiface.CustomerRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO customers (id, email, name) VALUES (?,?,?)
		ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name`, c.ID, c.Email, c.Name)
	if err != nil {
		return fmt.Errorf("sqlite: upsert customer: %w", err)
	}
	return nil
}

func (s *Store) GetCustomer(ctx context.Context, id string) (*storageiface.CustomerRecord, error) {
	var c storageiface.CustomerRecord
	err := s.db.QueryRowContext(ctx, `SELECT id, email, name FROM customers WHERE id = ?`, id).Scan(&c.ID, &c.Email, &c.Name)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: customer %s", types.ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("sqlite: get customer: %w", err)
	}
	return &c, nil
}
