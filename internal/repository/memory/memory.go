// Package memory holds map-backed repositories. They back the "memory"
// storage driver and the service tests.
package memory

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mailing-api/internal/model"
	"github.com/jwalitptl/mailing-api/internal/repository"
)

// Store is shared by every repository so cross-entity reads stay consistent.
type Store struct {
	mu         sync.RWMutex
	now        func() time.Time
	recipients map[uuid.UUID]model.Recipient
	messages   map[uuid.UUID]model.Message
	mailings   map[uuid.UUID]model.Mailing
	links      map[uuid.UUID][]uuid.UUID
	logs       []model.DeliveryLogEntry
	users      map[uuid.UUID]model.User
	outbox     []*model.OutboxEvent
}

func NewStore() *Store {
	return &Store{
		now:        time.Now,
		recipients: make(map[uuid.UUID]model.Recipient),
		messages:   make(map[uuid.UUID]model.Message),
		mailings:   make(map[uuid.UUID]model.Mailing),
		links:      make(map[uuid.UUID][]uuid.UUID),
		users:      make(map[uuid.UUID]model.User),
	}
}

func (s *Store) Recipients() repository.RecipientRepository     { return &recipientRepository{s} }
func (s *Store) Messages() repository.MessageRepository         { return &messageRepository{s} }
func (s *Store) Mailings() repository.MailingRepository         { return &mailingRepository{s} }
func (s *Store) DeliveryLogs() repository.DeliveryLogRepository { return &deliveryLogRepository{s} }
func (s *Store) Users() repository.UserRepository               { return &userRepository{s} }
func (s *Store) Outbox() repository.OutboxRepository            { return &outboxRepository{s} }

// SetClock replaces the clock used for created_at and attempt_time stamps.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// PutUser inserts or replaces a user row. The auth subsystem owns users, so
// there is no Create on the repository interface.
func (s *Store) PutUser(u model.User) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.users[u.ID] = u
}

type recipientRepository struct{ s *Store }

func (r *recipientRepository) Create(_ context.Context, recipient *model.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, existing := range r.s.recipients {
		if strings.EqualFold(existing.Email, recipient.Email) {
			return repository.ErrDuplicate
		}
	}
	now := r.s.now()
	recipient.ID = uuid.New()
	recipient.CreatedAt = now
	recipient.UpdatedAt = now
	r.s.recipients[recipient.ID] = *recipient
	return nil
}

func (r *recipientRepository) Get(_ context.Context, id uuid.UUID) (*model.Recipient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	rec, ok := r.s.recipients[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &rec, nil
}

func (r *recipientRepository) GetMany(_ context.Context, ids []uuid.UUID) ([]model.Recipient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Recipient, 0, len(ids))
	seen := make(map[uuid.UUID]bool, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		if rec, ok := r.s.recipients[id]; ok {
			out = append(out, rec)
		}
	}
	sortRecipients(out)
	return out, nil
}

func (r *recipientRepository) Update(_ context.Context, recipient *model.Recipient) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.recipients[recipient.ID]
	if !ok {
		return repository.ErrNotFound
	}
	for id, other := range r.s.recipients {
		if id != recipient.ID && strings.EqualFold(other.Email, recipient.Email) {
			return repository.ErrDuplicate
		}
	}
	recipient.CreatedAt = existing.CreatedAt
	recipient.UpdatedAt = r.s.now()
	r.s.recipients[recipient.ID] = *recipient
	return nil
}

func (r *recipientRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.recipients[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.recipients, id)
	for mailingID, ids := range r.s.links {
		r.s.links[mailingID] = without(ids, id)
	}
	return nil
}

func (r *recipientRepository) List(_ context.Context, filter model.OwnerFilter) ([]model.Recipient, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Recipient, 0)
	for _, rec := range r.s.recipients {
		if filter.Matches(rec.OwnerID) {
			out = append(out, rec)
		}
	}
	sortRecipients(out)
	return out, nil
}

func (r *recipientRepository) CountDistinct(_ context.Context) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	return len(r.s.recipients), nil
}

type messageRepository struct{ s *Store }

func (r *messageRepository) Create(_ context.Context, message *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	message.ID = uuid.New()
	message.CreatedAt = now
	message.UpdatedAt = now
	r.s.messages[message.ID] = *message
	return nil
}

func (r *messageRepository) Get(_ context.Context, id uuid.UUID) (*model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	msg, ok := r.s.messages[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &msg, nil
}

func (r *messageRepository) Update(_ context.Context, message *model.Message) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.messages[message.ID]
	if !ok {
		return repository.ErrNotFound
	}
	message.CreatedAt = existing.CreatedAt
	message.UpdatedAt = r.s.now()
	r.s.messages[message.ID] = *message
	return nil
}

// Delete removes the message and, like the foreign key in postgres, every
// mailing that sends it.
func (r *messageRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.messages[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.messages, id)
	for mailingID, m := range r.s.mailings {
		if m.MessageID == id {
			delete(r.s.mailings, mailingID)
			delete(r.s.links, mailingID)
		}
	}
	return nil
}

func (r *messageRepository) List(_ context.Context, filter model.OwnerFilter) ([]model.Message, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Message, 0)
	for _, msg := range r.s.messages {
		if filter.Matches(msg.OwnerID) {
			out = append(out, msg)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Topic < out[j].Topic })
	return out, nil
}

type mailingRepository struct{ s *Store }

func (r *mailingRepository) Create(_ context.Context, mailing *model.Mailing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	mailing.ID = uuid.New()
	mailing.CreatedAt = now
	mailing.UpdatedAt = now
	if mailing.Status == "" {
		mailing.Status = model.MailingStatusCreated
	}
	r.s.links[mailing.ID] = mailing.RecipientIDs()
	r.s.mailings[mailing.ID] = stripped(*mailing)
	return nil
}

func (r *mailingRepository) Get(_ context.Context, id uuid.UUID) (*model.Mailing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	m, ok := r.s.mailings[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	r.s.hydrate(&m)
	return &m, nil
}

// Update rewrites schedule, message and recipients. Status and the manual
// flag have their own write paths.
func (r *mailingRepository) Update(_ context.Context, mailing *model.Mailing) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	existing, ok := r.s.mailings[mailing.ID]
	if !ok {
		return repository.ErrNotFound
	}
	existing.StartTime = mailing.StartTime
	existing.EndTime = mailing.EndTime
	existing.MessageID = mailing.MessageID
	existing.UpdatedAt = r.s.now()
	r.s.mailings[mailing.ID] = existing
	r.s.links[mailing.ID] = mailing.RecipientIDs()

	mailing.CreatedAt = existing.CreatedAt
	mailing.UpdatedAt = existing.UpdatedAt
	mailing.Status = existing.Status
	mailing.ManuallyControlled = existing.ManuallyControlled
	return nil
}

func (r *mailingRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.mailings[id]; !ok {
		return repository.ErrNotFound
	}
	delete(r.s.mailings, id)
	delete(r.s.links, id)
	kept := r.s.logs[:0]
	for _, entry := range r.s.logs {
		if entry.MailingID != id {
			kept = append(kept, entry)
		}
	}
	r.s.logs = kept
	return nil
}

func (r *mailingRepository) List(_ context.Context, filter model.OwnerFilter) ([]model.Mailing, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.Mailing, 0)
	for _, m := range r.s.mailings {
		if filter.Matches(m.OwnerID) {
			r.s.hydrate(&m)
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartTime.Before(out[j].StartTime) })
	return out, nil
}

func (r *mailingRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.MailingStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mailings[id]
	if !ok {
		return repository.ErrNotFound
	}
	if m.ManuallyControlled {
		return nil
	}
	m.Status = status
	r.s.mailings[id] = m
	return nil
}

func (r *mailingRepository) SetManualStatus(_ context.Context, id uuid.UUID, status model.MailingStatus) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	m, ok := r.s.mailings[id]
	if !ok {
		return repository.ErrNotFound
	}
	m.Status = status
	m.ManuallyControlled = true
	m.UpdatedAt = r.s.now()
	r.s.mailings[id] = m
	return nil
}

func (r *mailingRepository) Counts(_ context.Context, filter model.OwnerFilter) (*model.MailingCounts, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var c model.MailingCounts
	for _, m := range r.s.mailings {
		if !filter.Matches(m.OwnerID) {
			continue
		}
		c.Total++
		switch m.Status {
		case model.MailingStatusStarted:
			c.Started++
		case model.MailingStatusFinished:
			c.Finished++
		}
	}
	return &c, nil
}

func (r *mailingRepository) CountActive(_ context.Context, now time.Time) (int, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	n := 0
	for _, m := range r.s.mailings {
		if m.Status == model.MailingStatusStarted && m.InWindow(now) {
			n++
		}
	}
	return n, nil
}

type deliveryLogRepository struct{ s *Store }

func (r *deliveryLogRepository) Create(_ context.Context, entry *model.DeliveryLogEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	if _, ok := r.s.mailings[entry.MailingID]; !ok {
		return repository.ErrNotFound
	}
	entry.ID = uuid.New()
	entry.AttemptTime = r.s.now()
	r.s.logs = append(r.s.logs, *entry)
	return nil
}

func (r *deliveryLogRepository) ListByMailing(_ context.Context, mailingID uuid.UUID) ([]model.DeliveryLogEntry, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.DeliveryLogEntry, 0)
	for _, entry := range r.s.logs {
		if entry.MailingID == mailingID {
			out = append(out, entry)
		}
	}
	return out, nil
}

func (r *deliveryLogRepository) Stats(_ context.Context, ownerID uuid.UUID) (*model.DeliveryStats, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	var st model.DeliveryStats
	for _, entry := range r.s.logs {
		if entry.OwnerID != ownerID {
			continue
		}
		st.Total++
		if entry.Status == model.DeliveryStatusSuccess {
			st.Successful++
		} else {
			st.Failed++
		}
	}
	return &st, nil
}

type userRepository struct{ s *Store }

func (r *userRepository) Get(_ context.Context, id uuid.UUID) (*model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	u, ok := r.s.users[id]
	if !ok {
		return nil, repository.ErrNotFound
	}
	return &u, nil
}

func (r *userRepository) ListNonStaff(_ context.Context) ([]model.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]model.User, 0)
	for _, u := range r.s.users {
		if !u.IsStaff {
			out = append(out, u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DateJoined.After(out[j].DateJoined) })
	return out, nil
}

func (r *userRepository) SetActive(_ context.Context, id uuid.UUID, active bool) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	u, ok := r.s.users[id]
	if !ok {
		return repository.ErrNotFound
	}
	u.IsActive = active
	r.s.users[id] = u
	return nil
}

type outboxRepository struct{ s *Store }

func (r *outboxRepository) Create(_ context.Context, event *model.OutboxEvent) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	now := r.s.now()
	event.ID = uuid.New()
	event.Status = model.OutboxStatusPending
	event.CreatedAt = now
	event.UpdatedAt = now
	cp := *event
	r.s.outbox = append(r.s.outbox, &cp)
	return nil
}

func (r *outboxRepository) GetPendingEventsWithLock(_ context.Context, limit int) ([]*model.OutboxEvent, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()

	out := make([]*model.OutboxEvent, 0, limit)
	for _, e := range r.s.outbox {
		if len(out) == limit {
			break
		}
		if e.Status == model.OutboxStatusPending {
			cp := *e
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *outboxRepository) UpdateStatus(_ context.Context, id uuid.UUID, status model.OutboxStatus, errMsg *string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	for _, e := range r.s.outbox {
		if e.ID != id {
			continue
		}
		now := r.s.now()
		e.Status = status
		e.ErrorMessage = errMsg
		e.UpdatedAt = now
		if status == model.OutboxStatusProcessed {
			e.ProcessedAt = &now
		} else {
			e.RetryCount++
		}
		return nil
	}
	return repository.ErrNotFound
}

func (r *outboxRepository) DeleteProcessedBefore(_ context.Context, before time.Time) (int64, error) {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()

	var n int64
	kept := r.s.outbox[:0]
	for _, e := range r.s.outbox {
		if e.Status == model.OutboxStatusProcessed && e.ProcessedAt != nil && e.ProcessedAt.Before(before) {
			n++
			continue
		}
		kept = append(kept, e)
	}
	r.s.outbox = kept
	return n, nil
}

// hydrate attaches message and recipients. Callers hold at least a read lock.
func (s *Store) hydrate(m *model.Mailing) {
	if msg, ok := s.messages[m.MessageID]; ok {
		m.Message = &msg
	}
	ids := s.links[m.ID]
	recs := make([]model.Recipient, 0, len(ids))
	for _, id := range ids {
		if rec, ok := s.recipients[id]; ok {
			recs = append(recs, rec)
		}
	}
	sortRecipients(recs)
	m.Recipients = recs
}

func stripped(m model.Mailing) model.Mailing {
	m.Message = nil
	m.Recipients = nil
	return m
}

func sortRecipients(recs []model.Recipient) {
	sort.SliceStable(recs, func(i, j int) bool { return recs[i].FullName < recs[j].FullName })
}

func without(ids []uuid.UUID, drop uuid.UUID) []uuid.UUID {
	out := ids[:0]
	for _, id := range ids {
		if id != drop {
			out = append(out, id)
		}
	}
	return out
}
