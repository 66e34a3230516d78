package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
)

const (
	pgLockNotAvailable = "55P03"
	pgQueryCanceled    = "57014"
	pgUniqueViolation  = "23505"
)

const cardColumns = `id, encrypted_card_number, masked_card_number, owner_id, cardholder_name,
	expiry_date, status, balance, created_at, updated_at`

// Repository provides database operations
type Repository struct {
	db          *sqlx.DB
	lockTimeout time.Duration
}

// NewRepository initializes a new repository
func NewRepository(db *sqlx.DB, lockTimeout time.Duration) *Repository {
	return &Repository{db: db, lockTimeout: lockTimeout}
}

// CreateCard inserts a new card and sets its ID
func (r *Repository) CreateCard(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO bank.cards (encrypted_card_number, masked_card_number, owner_id, cardholder_name,
			expiry_date, status, balance, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		card.EncryptedNumber, card.MaskedNumber, card.OwnerID, card.CardholderName,
		card.ExpiryDate, card.Status, card.Balance, card.CreatedAt, card.UpdatedAt).
		Scan(&card.ID)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// FindCardByID retrieves a card by ID
func (r *Repository) FindCardByID(ctx context.Context, id int64) (models.Card, error) {
	var card models.Card
	err := r.db.GetContext(ctx, &card, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// FindCardByIDAndOwner retrieves a card only if it belongs to ownerID
func (r *Repository) FindCardByIDAndOwner(ctx context.Context, id, ownerID int64) (models.Card, error) {
	var card models.Card
	err := r.db.GetContext(ctx, &card,
		`SELECT `+cardColumns+` FROM bank.cards WHERE id = $1 AND owner_id = $2`, id, ownerID)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Card{}, ErrNotFound
	}
	if err != nil {
		return models.Card{}, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// ListCards retrieves a page of all cards, newest first
func (r *Repository) ListCards(ctx context.Context, filter models.CardFilter) ([]models.Card, error) {
	return r.listCards(ctx, nil, filter)
}

// ListCardsByOwner retrieves a page of the owner's cards, newest first
func (r *Repository) ListCardsByOwner(ctx context.Context, ownerID int64, filter models.CardFilter) ([]models.Card, error) {
	return r.listCards(ctx, &ownerID, filter)
}

func (r *Repository) listCards(ctx context.Context, ownerID *int64, filter models.CardFilter) ([]models.Card, error) {
	var (
		where []string
		args  []any
	)
	if ownerID != nil {
		args = append(args, *ownerID)
		where = append(where, fmt.Sprintf("owner_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		where = append(where, fmt.Sprintf("status = $%d", len(args)))
	}
	query := `SELECT ` + cardColumns + ` FROM bank.cards`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	offset, limit := pageBounds(filter.Page, filter.Size)
	args = append(args, limit, offset)
	query += fmt.Sprintf(` ORDER BY created_at DESC, id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	cards := []models.Card{}
	if err := r.db.SelectContext(ctx, &cards, query, args...); err != nil {
		return nil, fmt.Errorf("failed to list cards: %w", err)
	}
	return cards, nil
}

// ListCardsExpiringBefore retrieves cards that are not yet EXPIRED but whose expiry date has passed
func (r *Repository) ListCardsExpiringBefore(ctx context.Context, date time.Time) ([]models.Card, error) {
	cards := []models.Card{}
	query := `SELECT ` + cardColumns + ` FROM bank.cards
		WHERE status <> $1 AND expiry_date < $2
		ORDER BY id`
	if err := r.db.SelectContext(ctx, &cards, query, models.CardStatusExpired, date); err != nil {
		return nil, fmt.Errorf("failed to list expiring cards: %w", err)
	}
	return cards, nil
}

// CountCardsByOwner counts the cards of an owner
func (r *Repository) CountCardsByOwner(ctx context.Context, ownerID int64) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, `SELECT COUNT(*) FROM bank.cards WHERE owner_id = $1`, ownerID); err != nil {
		return 0, fmt.Errorf("failed to count cards: %w", err)
	}
	return count, nil
}

// ListTransfersByCard retrieves journal rows where the card is either side, newest first
func (r *Repository) ListTransfersByCard(ctx context.Context, cardID int64) ([]models.Transfer, error) {
	transfers := []models.Transfer{}
	query := `
		SELECT id, owner_id, from_card_id, to_card_id, amount, created_at
		FROM bank.transfers
		WHERE from_card_id = $1 OR to_card_id = $1
		ORDER BY created_at DESC, seq DESC`
	if err := r.db.SelectContext(ctx, &transfers, query, cardID); err != nil {
		return nil, fmt.Errorf("failed to list transfers: %w", err)
	}
	return transfers, nil
}

// WithCardsLocked runs fn inside a database transaction holding row locks on ids.
// Rows are locked one by one in ascending id order; lock_timeout bounds each wait.
func (r *Repository) WithCardsLocked(ctx context.Context, ids []int64, fn func(tx CardTx) error) (err error) {
	ids = lockOrder(ids)

	// Once the locks are held the unit of work runs to commit or rollback on its
	// own; only lock acquisition observes the caller's cancellation.
	txCtx := context.WithoutCancel(ctx)
	tx, err := r.db.BeginTxx(txCtx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if r.lockTimeout > 0 {
		// SET does not accept placeholders
		stmt := fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", r.lockTimeout.Milliseconds())
		if _, err = tx.ExecContext(txCtx, stmt); err != nil {
			return fmt.Errorf("failed to set lock timeout: %w", err)
		}
	}

	ptx := &pgCardTx{ctx: txCtx, tx: tx, cards: make(map[int64]*models.Card, len(ids))}
	for _, id := range ids {
		var card models.Card
		err = tx.GetContext(ctx, &card, `SELECT `+cardColumns+` FROM bank.cards WHERE id = $1 FOR UPDATE`, id)
		if errors.Is(err, sql.ErrNoRows) {
			ptx.cards[id] = nil
			err = nil
			continue
		}
		if err != nil {
			return lockError(ctx, ids, err)
		}
		ptx.cards[id] = &card
	}

	if err = fn(ptx); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func lockError(ctx context.Context, ids []int64, err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && (pqErr.Code == pgLockNotAvailable || pqErr.Code == pgQueryCanceled) {
		return &apperrors.ContentionTimeoutError{CardIDs: ids, Err: err}
	}
	if ctx.Err() != nil {
		return &apperrors.ContentionTimeoutError{CardIDs: ids, Err: ctx.Err()}
	}
	return fmt.Errorf("failed to lock cards: %w", err)
}

type pgCardTx struct {
	ctx   context.Context
	tx    *sqlx.Tx
	cards map[int64]*models.Card // nil value: locked id with no row
}

func (t *pgCardTx) Card(id int64) (models.Card, error) {
	card, locked := t.cards[id]
	if !locked {
		return models.Card{}, fmt.Errorf("card %d is not locked in this transaction", id)
	}
	if card == nil {
		return models.Card{}, ErrNotFound
	}
	return *card, nil
}

func (t *pgCardTx) SaveCard(card models.Card) error {
	if _, err := t.Card(card.ID); err != nil {
		return err
	}
	query := `
		UPDATE bank.cards
		SET status = $1, balance = $2, updated_at = $3
		WHERE id = $4`
	if _, err := t.tx.ExecContext(t.ctx, query, card.Status, card.Balance, card.UpdatedAt, card.ID); err != nil {
		return fmt.Errorf("failed to update card: %w", err)
	}
	t.cards[card.ID] = &card
	return nil
}

func (t *pgCardTx) DeleteCard(id int64) error {
	if _, err := t.Card(id); err != nil {
		return err
	}
	if _, err := t.tx.ExecContext(t.ctx, `DELETE FROM bank.cards WHERE id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	t.cards[id] = nil
	return nil
}

func (t *pgCardTx) RecordTransfer(tr models.Transfer) error {
	query := `
		INSERT INTO bank.transfers (id, owner_id, from_card_id, to_card_id, amount, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)`
	if _, err := t.tx.ExecContext(t.ctx, query, tr.ID, tr.OwnerID, tr.FromCardID, tr.ToCardID, tr.Amount, tr.CreatedAt); err != nil {
		return fmt.Errorf("failed to record transfer: %w", err)
	}
	return nil
}

// CreateUser creates a new user in the database
func (r *Repository) CreateUser(ctx context.Context, user *models.User) error {
	query := `
		INSERT INTO bank.users (username, email, password_hash, role, enabled, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`
	err := r.db.QueryRowContext(ctx, query,
		user.Username, user.Email, user.PasswordHash, user.Role, user.Enabled, user.CreatedAt).
		Scan(&user.ID)
	if err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == pgUniqueViolation {
			if strings.Contains(pqErr.Constraint, "email") {
				return &apperrors.ConflictError{Field: "email", Message: "email is already registered"}
			}
			return &apperrors.ConflictError{Field: "username", Message: "username is already taken"}
		}
		return fmt.Errorf("failed to create user: %w", err)
	}
	return nil
}

const userColumns = `id, username, email, password_hash, role, enabled, created_at`

// FindUserByID retrieves a user by ID
func (r *Repository) FindUserByID(ctx context.Context, id int64) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM bank.users WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// FindUserByUsername retrieves a user by username
func (r *Repository) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	var user models.User
	err := r.db.GetContext(ctx, &user, `SELECT `+userColumns+` FROM bank.users WHERE username = $1`, username)
	if errors.Is(err, sql.ErrNoRows) {
		return models.User{}, ErrNotFound
	}
	if err != nil {
		return models.User{}, fmt.Errorf("failed to find user: %w", err)
	}
	return user, nil
}

// ListUsers retrieves a page of users, newest first
func (r *Repository) ListUsers(ctx context.Context, page, size int) ([]models.User, error) {
	offset, limit := pageBounds(page, size)
	users := []models.User{}
	query := `SELECT ` + userColumns + ` FROM bank.users ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2`
	if err := r.db.SelectContext(ctx, &users, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

// SetUserEnabled enables or disables a user
func (r *Repository) SetUserEnabled(ctx context.Context, id int64, enabled bool) error {
	res, err := r.db.ExecContext(ctx, `UPDATE bank.users SET enabled = $1 WHERE id = $2`, enabled, id)
	if err != nil {
		return fmt.Errorf("failed to update user: %w", err)
	}
	return expectOneRow(res)
}

// DeleteUser deletes a user; cards go with it through ON DELETE CASCADE
func (r *Repository) DeleteUser(ctx context.Context, id int64) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM bank.users WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete user: %w", err)
	}
	return expectOneRow(res)
}

// OwnerExists reports whether a user with the given id exists
func (r *Repository) OwnerExists(ctx context.Context, id int64) (bool, error) {
	var exists bool
	if err := r.db.GetContext(ctx, &exists, `SELECT EXISTS (SELECT 1 FROM bank.users WHERE id = $1)`, id); err != nil {
		return false, fmt.Errorf("failed to check user: %w", err)
	}
	return exists, nil
}

// ResolveOwner returns the owner view of a user
func (r *Repository) ResolveOwner(ctx context.Context, id int64) (models.OwnerRef, error) {
	user, err := r.FindUserByID(ctx, id)
	if err != nil {
		return models.OwnerRef{}, err
	}
	return user.Ref(), nil
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
