// Package storage is the SQLite-backed ledger store.
package storage

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"duesledger/internal/core"
	"duesledger/internal/ledger"

	_ "modernc.org/sqlite"
)

type SQLiteRepository struct {
	db *sql.DB
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{db: db}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// InTx runs fn inside one SQLite transaction. The store passed to fn writes
// through the transaction; nested InTx calls reuse it.
func (r *SQLiteRepository) InTx(ctx context.Context, fn func(ledger.Store) error) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	if err := fn(txStore{queries{tx}}); err != nil {
		if rbErr := tx.Rollback(); rbErr != nil {
			return errors.Join(err, fmt.Errorf("rollback: %w", rbErr))
		}
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

func (r *SQLiteRepository) InsertObligation(ctx context.Context, o *core.Obligation) error {
	return queries{r.db}.InsertObligation(ctx, o)
}

func (r *SQLiteRepository) GetObligation(ctx context.Context, id string) (core.Obligation, error) {
	return queries{r.db}.GetObligation(ctx, id)
}

func (r *SQLiteRepository) FindObligationByMemberYear(ctx context.Context, memberID string, year int) (core.Obligation, error) {
	return queries{r.db}.FindObligationByMemberYear(ctx, memberID, year)
}

func (r *SQLiteRepository) ListObligationsByMember(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return queries{r.db}.ListObligationsByMember(ctx, memberID)
}

func (r *SQLiteRepository) ListOwedObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return queries{r.db}.ListOwedObligations(ctx, memberID)
}

func (r *SQLiteRepository) ListOverpaidObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return queries{r.db}.ListOverpaidObligations(ctx, memberID)
}

func (r *SQLiteRepository) UpdateObligation(ctx context.Context, o core.Obligation) error {
	return queries{r.db}.UpdateObligation(ctx, o)
}

func (r *SQLiteRepository) InsertPayment(ctx context.Context, p *core.Payment) error {
	return queries{r.db}.InsertPayment(ctx, p)
}

func (r *SQLiteRepository) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	return queries{r.db}.GetPayment(ctx, id)
}

func (r *SQLiteRepository) UpdatePayment(ctx context.Context, p core.Payment) error {
	return queries{r.db}.UpdatePayment(ctx, p)
}

func (r *SQLiteRepository) DeletePayment(ctx context.Context, id string) error {
	return queries{r.db}.DeletePayment(ctx, id)
}

func (r *SQLiteRepository) ListPaymentsByObligation(ctx context.Context, obligationID string) ([]core.Payment, error) {
	return queries{r.db}.ListPaymentsByObligation(ctx, obligationID)
}

func (r *SQLiteRepository) ListObligationsUpdatedBefore(ctx context.Context, cutoff time.Time, limit int) ([]core.Obligation, error) {
	return queries{r.db}.listObligations(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE updated_at < ? ORDER BY updated_at LIMIT ?`, cutoff.UTC(), limit)
}

// txStore adapts queries bound to a transaction to the full TxStore surface.
type txStore struct {
	queries
}

func (t txStore) InTx(ctx context.Context, fn func(ledger.Store) error) error {
	return fn(t)
}

// dbtx is satisfied by both *sql.DB and *sql.Tx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type queries struct {
	db dbtx
}

func newID(prefix string) string {
	var b [8]byte
	rand.Read(b[:])
	return prefix + "_" + hex.EncodeToString(b[:])
}

const obligationColumns = `id, member_id, subscription_year, annual_amount_cents,
	carried_forward_debt_cents, remaining_balance_cents, status, created_at, updated_at`

func (q queries) InsertObligation(ctx context.Context, o *core.Obligation) error {
	if o.ID == "" {
		o.ID = newID("obl")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.ID, o.MemberID, o.SubscriptionYear, o.AnnualAmount.Cents,
		o.CarriedForwardDebt.Cents, o.RemainingBalance.Cents, string(o.Status),
		o.CreatedAt.UTC(), o.UpdatedAt.UTC())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return fmt.Errorf("member %s year %d: %w", o.MemberID, o.SubscriptionYear, core.ErrDuplicateObligation)
		}
		return fmt.Errorf("insert obligation: %w", err)
	}
	return nil
}

func scanObligation(row interface{ Scan(...any) error }) (core.Obligation, error) {
	var o core.Obligation
	var status string
	err := row.Scan(&o.ID, &o.MemberID, &o.SubscriptionYear, &o.AnnualAmount.Cents,
		&o.CarriedForwardDebt.Cents, &o.RemainingBalance.Cents, &status,
		&o.CreatedAt, &o.UpdatedAt)
	if err != nil {
		return core.Obligation{}, err
	}
	o.Status = core.Status(status)
	return o, nil
}

func (q queries) GetObligation(ctx context.Context, id string) (core.Obligation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+obligationColumns+` FROM obligations WHERE id = ?`, id)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Obligation{}, fmt.Errorf("obligation %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Obligation{}, fmt.Errorf("get obligation: %w", err)
	}
	return o, nil
}

func (q queries) FindObligationByMemberYear(ctx context.Context, memberID string, year int) (core.Obligation, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE member_id = ? AND subscription_year = ?`, memberID, year)
	o, err := scanObligation(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Obligation{}, fmt.Errorf("member %s year %d: %w", memberID, year, core.ErrNotFound)
	}
	if err != nil {
		return core.Obligation{}, fmt.Errorf("find obligation: %w", err)
	}
	return o, nil
}

func (q queries) listObligations(ctx context.Context, query string, args ...any) ([]core.Obligation, error) {
	rows, err := q.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	defer rows.Close()

	var out []core.Obligation
	for rows.Next() {
		o, err := scanObligation(rows)
		if err != nil {
			return nil, fmt.Errorf("scan obligation: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (q queries) ListObligationsByMember(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return q.listObligations(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE member_id = ? ORDER BY subscription_year`, memberID)
}

func (q queries) ListOwedObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return q.listObligations(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE member_id = ? AND remaining_balance_cents > 0
		ORDER BY subscription_year`, memberID)
}

func (q queries) ListOverpaidObligations(ctx context.Context, memberID string) ([]core.Obligation, error) {
	return q.listObligations(ctx, `
		SELECT `+obligationColumns+` FROM obligations
		WHERE member_id = ? AND remaining_balance_cents < 0
		ORDER BY subscription_year`, memberID)
}

func (q queries) UpdateObligation(ctx context.Context, o core.Obligation) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE obligations
		SET annual_amount_cents = ?, carried_forward_debt_cents = ?,
			remaining_balance_cents = ?, status = ?, updated_at = ?
		WHERE id = ?`,
		o.AnnualAmount.Cents, o.CarriedForwardDebt.Cents,
		o.RemainingBalance.Cents, string(o.Status), o.UpdatedAt.UTC(), o.ID)
	if err != nil {
		return fmt.Errorf("update obligation: %w", err)
	}
	return requireRow(res, "obligation", o.ID)
}

func (q queries) InsertPayment(ctx context.Context, p *core.Payment) error {
	if p.ID == "" {
		p.ID = newID("pay")
	}
	_, err := q.db.ExecContext(ctx, `
		INSERT INTO payments (id, obligation_id, amount_paid_cents, payment_date, method, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		p.ID, p.ObligationID, p.AmountPaid.Cents, p.PaymentDate.UTC(), string(p.Method), p.Notes)
	if err != nil {
		return fmt.Errorf("insert payment: %w", err)
	}
	return nil
}

func scanPayment(row interface{ Scan(...any) error }) (core.Payment, error) {
	var p core.Payment
	var method string
	err := row.Scan(&p.ID, &p.ObligationID, &p.AmountPaid.Cents, &p.PaymentDate, &method, &p.Notes)
	if err != nil {
		return core.Payment{}, err
	}
	p.Method = core.Method(method)
	return p, nil
}

func (q queries) GetPayment(ctx context.Context, id string) (core.Payment, error) {
	row := q.db.QueryRowContext(ctx, `
		SELECT id, obligation_id, amount_paid_cents, payment_date, method, notes
		FROM payments WHERE id = ?`, id)
	p, err := scanPayment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Payment{}, fmt.Errorf("payment %s: %w", id, core.ErrNotFound)
	}
	if err != nil {
		return core.Payment{}, fmt.Errorf("get payment: %w", err)
	}
	return p, nil
}

func (q queries) UpdatePayment(ctx context.Context, p core.Payment) error {
	res, err := q.db.ExecContext(ctx, `
		UPDATE payments
		SET amount_paid_cents = ?, payment_date = ?, method = ?, notes = ?
		WHERE id = ?`,
		p.AmountPaid.Cents, p.PaymentDate.UTC(), string(p.Method), p.Notes, p.ID)
	if err != nil {
		return fmt.Errorf("update payment: %w", err)
	}
	return requireRow(res, "payment", p.ID)
}

func (q queries) DeletePayment(ctx context.Context, id string) error {
	res, err := q.db.ExecContext(ctx, `DELETE FROM payments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete payment: %w", err)
	}
	return requireRow(res, "payment", id)
}

func (q queries) ListPaymentsByObligation(ctx context.Context, obligationID string) ([]core.Payment, error) {
	rows, err := q.db.QueryContext(ctx, `
		SELECT id, obligation_id, amount_paid_cents, payment_date, method, notes
		FROM payments WHERE obligation_id = ? ORDER BY rowid`, obligationID)
	if err != nil {
		return nil, fmt.Errorf("list payments: %w", err)
	}
	defer rows.Close()

	var out []core.Payment
	for rows.Next() {
		p, err := scanPayment(rows)
		if err != nil {
			return nil, fmt.Errorf("scan payment: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%s %s: %w", kind, id, core.ErrNotFound)
	}
	return nil
}

var (
	_ ledger.TxStore = (*SQLiteRepository)(nil)
	_ ledger.TxStore = txStore{}
)
