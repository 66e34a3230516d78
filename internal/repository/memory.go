package repository

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/models"
)

var (
	errLockTimeout     = errors.New("lock wait timeout")
	errOwnerGainedCard = errors.New("owner gained a card during delete")
)

// MemoryStore implements CardStore and UserStore in process memory.
// It is used with STORAGE_DRIVER=memory and by tests.
type MemoryStore struct {
	mu        sync.RWMutex
	cards     map[int64]models.Card
	users     map[int64]models.User
	transfers []models.Transfer
	nextCard  int64
	nextUser  int64

	locks       *lockManager
	lockTimeout time.Duration
}

// NewMemoryStore creates an empty store. lockTimeout bounds the wait for card locks.
func NewMemoryStore(lockTimeout time.Duration) *MemoryStore {
	return &MemoryStore{
		cards:       make(map[int64]models.Card),
		users:       make(map[int64]models.User),
		locks:       newLockManager(),
		lockTimeout: lockTimeout,
	}
}

// CreateCard stores a new card and assigns its ID
func (s *MemoryStore) CreateCard(ctx context.Context, card *models.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[card.OwnerID]; !ok {
		return fmt.Errorf("failed to create card: owner %d does not exist", card.OwnerID)
	}
	s.nextCard++
	card.ID = s.nextCard
	s.cards[card.ID] = *card
	return nil
}

// FindCardByID retrieves a card by ID
func (s *MemoryStore) FindCardByID(ctx context.Context, id int64) (models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	card, ok := s.cards[id]
	if !ok {
		return models.Card{}, ErrNotFound
	}
	return card, nil
}

// FindCardByIDAndOwner retrieves a card only if it belongs to ownerID
func (s *MemoryStore) FindCardByIDAndOwner(ctx context.Context, id, ownerID int64) (models.Card, error) {
	card, err := s.FindCardByID(ctx, id)
	if err != nil {
		return models.Card{}, err
	}
	if card.OwnerID != ownerID {
		return models.Card{}, ErrNotFound
	}
	return card, nil
}

// ListCards retrieves a page of all cards, newest first
func (s *MemoryStore) ListCards(ctx context.Context, filter models.CardFilter) ([]models.Card, error) {
	return s.listCards(func(c models.Card) bool { return true }, filter), nil
}

// ListCardsByOwner retrieves a page of the owner's cards, newest first
func (s *MemoryStore) ListCardsByOwner(ctx context.Context, ownerID int64, filter models.CardFilter) ([]models.Card, error) {
	return s.listCards(func(c models.Card) bool { return c.OwnerID == ownerID }, filter), nil
}

func (s *MemoryStore) listCards(match func(models.Card) bool, filter models.CardFilter) []models.Card {
	s.mu.RLock()
	all := make([]models.Card, 0, len(s.cards))
	for _, c := range s.cards {
		if !match(c) {
			continue
		}
		if filter.Status != nil && c.Status != *filter.Status {
			continue
		}
		all = append(all, c)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})

	offset, limit := pageBounds(filter.Page, filter.Size)
	if offset >= len(all) {
		return []models.Card{}
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end]
}

// ListCardsExpiringBefore returns non-EXPIRED cards whose expiry date is before date
func (s *MemoryStore) ListCardsExpiringBefore(ctx context.Context, date time.Time) ([]models.Card, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Card{}
	for _, c := range s.cards {
		if c.Status != models.CardStatusExpired && models.DateOf(c.ExpiryDate).Before(models.DateOf(date)) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// CountCardsByOwner counts the cards of an owner
func (s *MemoryStore) CountCardsByOwner(ctx context.Context, ownerID int64) (int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var n int64
	for _, c := range s.cards {
		if c.OwnerID == ownerID {
			n++
		}
	}
	return n, nil
}

// ListTransfersByCard retrieves journal rows where the card is either side, newest first
func (s *MemoryStore) ListTransfersByCard(ctx context.Context, cardID int64) ([]models.Transfer, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := []models.Transfer{}
	for i := len(s.transfers) - 1; i >= 0; i-- {
		t := s.transfers[i]
		if t.FromCardID == cardID || t.ToCardID == cardID {
			out = append(out, t)
		}
	}
	// ties on created_at keep reverse insertion order, as seq DESC does in postgres
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

// WithCardsLocked acquires the per-card locks in ascending id order, runs fn
// against a staging transaction and applies its writes in one step.
func (s *MemoryStore) WithCardsLocked(ctx context.Context, ids []int64, fn func(tx CardTx) error) error {
	return s.withCardsLocked(ctx, ids, fn, nil)
}

// withCardsLocked is WithCardsLocked with a precommit hook. precommit runs under
// the store mutex before the staged writes land; an error from it discards them.
func (s *MemoryStore) withCardsLocked(ctx context.Context, ids []int64, fn func(tx CardTx) error,
	precommit func(tx *memoryCardTx) error) error {
	ids = lockOrder(ids)

	release, err := s.locks.acquire(ctx, ids, s.lockTimeout)
	if err != nil {
		return err
	}
	defer release()

	tx := &memoryCardTx{
		store:   s,
		locked:  make(map[int64]struct{}, len(ids)),
		staged:  make(map[int64]models.Card),
		deleted: make(map[int64]struct{}),
	}
	for _, id := range ids {
		tx.locked[id] = struct{}{}
	}

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.commit(precommit); err != nil {
		return err
	}
	for id := range tx.deleted {
		s.locks.forget(id)
	}
	return nil
}

type memoryCardTx struct {
	store     *MemoryStore
	locked    map[int64]struct{}
	staged    map[int64]models.Card
	deleted   map[int64]struct{}
	transfers []models.Transfer
}

func (t *memoryCardTx) Card(id int64) (models.Card, error) {
	if _, ok := t.locked[id]; !ok {
		return models.Card{}, fmt.Errorf("card %d is not locked in this transaction", id)
	}
	if _, ok := t.deleted[id]; ok {
		return models.Card{}, ErrNotFound
	}
	if card, ok := t.staged[id]; ok {
		return card, nil
	}
	return t.store.FindCardByID(context.Background(), id)
}

func (t *memoryCardTx) SaveCard(card models.Card) error {
	if _, err := t.Card(card.ID); err != nil {
		return err
	}
	// mirrors the CHECK (balance >= 0) constraint of the cards table
	if card.Balance.IsNegative() {
		return fmt.Errorf("failed to update card: balance of card %d would be negative", card.ID)
	}
	t.staged[card.ID] = card
	return nil
}

func (t *memoryCardTx) DeleteCard(id int64) error {
	if _, err := t.Card(id); err != nil {
		return err
	}
	delete(t.staged, id)
	t.deleted[id] = struct{}{}
	return nil
}

func (t *memoryCardTx) RecordTransfer(tr models.Transfer) error {
	t.transfers = append(t.transfers, tr)
	return nil
}

func (t *memoryCardTx) commit(precommit func(tx *memoryCardTx) error) error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()

	if precommit != nil {
		if err := precommit(t); err != nil {
			return err
		}
	}
	for id, card := range t.staged {
		s.cards[id] = card
	}
	for id := range t.deleted {
		delete(s.cards, id)
	}
	s.transfers = append(s.transfers, t.transfers...)
	return nil
}

// CreateUser stores a new user and assigns its ID
func (s *MemoryStore) CreateUser(ctx context.Context, user *models.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Username == user.Username {
			return &apperrors.ConflictError{Field: "username", Message: "username is already taken"}
		}
		if strings.EqualFold(u.Email, user.Email) {
			return &apperrors.ConflictError{Field: "email", Message: "email is already registered"}
		}
	}
	s.nextUser++
	user.ID = s.nextUser
	s.users[user.ID] = *user
	return nil
}

// FindUserByID retrieves a user by ID
func (s *MemoryStore) FindUserByID(ctx context.Context, id int64) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	user, ok := s.users[id]
	if !ok {
		return models.User{}, ErrNotFound
	}
	return user, nil
}

// FindUserByUsername retrieves a user by username
func (s *MemoryStore) FindUserByUsername(ctx context.Context, username string) (models.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Username == username {
			return u, nil
		}
	}
	return models.User{}, ErrNotFound
}

// ListUsers retrieves a page of users, newest first
func (s *MemoryStore) ListUsers(ctx context.Context, page, size int) ([]models.User, error) {
	s.mu.RLock()
	all := make([]models.User, 0, len(s.users))
	for _, u := range s.users {
		all = append(all, u)
	}
	s.mu.RUnlock()

	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.After(all[j].CreatedAt)
		}
		return all[i].ID > all[j].ID
	})
	offset, limit := pageBounds(page, size)
	if offset >= len(all) {
		return []models.User{}, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// SetUserEnabled enables or disables a user
func (s *MemoryStore) SetUserEnabled(ctx context.Context, id int64, enabled bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.users[id]
	if !ok {
		return ErrNotFound
	}
	user.Enabled = enabled
	s.users[id] = user
	return nil
}

// DeleteUser removes the user and every card they own
func (s *MemoryStore) DeleteUser(ctx context.Context, id int64) error {
	for {
		s.mu.RLock()
		_, ok := s.users[id]
		var owned []int64
		for cid, c := range s.cards {
			if c.OwnerID == id {
				owned = append(owned, cid)
			}
		}
		s.mu.RUnlock()
		if !ok {
			return ErrNotFound
		}

		// take the card locks so no transfer is mid-flight on a card being removed
		err := s.withCardsLocked(ctx, owned, func(tx CardTx) error {
			for _, cid := range owned {
				if err := tx.DeleteCard(cid); err != nil && !errors.Is(err, ErrNotFound) {
					return err
				}
			}
			return nil
		}, func(tx *memoryCardTx) error {
			if _, ok := s.users[id]; !ok {
				return ErrNotFound
			}
			for cid, c := range s.cards {
				if _, gone := tx.deleted[cid]; c.OwnerID == id && !gone {
					return errOwnerGainedCard
				}
			}
			delete(s.users, id)
			return nil
		})
		if errors.Is(err, errOwnerGainedCard) {
			continue
		}
		return err
	}
}

// OwnerExists reports whether a user with the given id exists
func (s *MemoryStore) OwnerExists(ctx context.Context, id int64) (bool, error) {
	_, err := s.FindUserByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return err == nil, err
}

// ResolveOwner returns the owner view of a user
func (s *MemoryStore) ResolveOwner(ctx context.Context, id int64) (models.OwnerRef, error) {
	user, err := s.FindUserByID(ctx, id)
	if err != nil {
		return models.OwnerRef{}, err
	}
	return user.Ref(), nil
}

// lockManager hands out one exclusive lock per card id
type lockManager struct {
	mu    sync.Mutex
	locks map[int64]chan struct{}
}

func newLockManager() *lockManager {
	return &lockManager{locks: make(map[int64]chan struct{})}
}

func (m *lockManager) lockFor(id int64) chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()

	ch, ok := m.locks[id]
	if !ok {
		ch = make(chan struct{}, 1)
		m.locks[id] = ch
	}
	return ch
}

// forget drops the lock of a deleted card. Card ids are never reused, so a
// late waiter on the old channel can only observe the card as missing.
func (m *lockManager) forget(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.locks, id)
}

// acquire takes the locks for ids in the given order. On failure every lock
// already taken is released before returning.
func (m *lockManager) acquire(ctx context.Context, ids []int64, timeout time.Duration) (func(), error) {
	var deadline <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		deadline = timer.C
	}

	held := make([]chan struct{}, 0, len(ids))
	release := func() {
		for i := len(held) - 1; i >= 0; i-- {
			<-held[i]
		}
	}

	for _, id := range ids {
		ch := m.lockFor(id)
		select {
		case ch <- struct{}{}:
			held = append(held, ch)
		case <-ctx.Done():
			release()
			return nil, &apperrors.ContentionTimeoutError{CardIDs: ids, Err: ctx.Err()}
		case <-deadline:
			release()
			return nil, &apperrors.ContentionTimeoutError{CardIDs: ids, Err: errLockTimeout}
		}
	}
	return release, nil
}
