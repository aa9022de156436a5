package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"
)

// Store keeps everything in process. Each queue has its own lock so work on
// different queues proceeds in parallel.
type Store struct {
	mu          sync.RWMutex
	queues      map[string]models.Queue
	departments map[string]models.Department
	citizens    map[string]models.Citizen
	tickets     map[string]models.Ticket
	codes       map[string]string // codeKey -> ticket id
	locks       *store.KeyedLock
}

func NewStore() *Store {
	return &Store{
		queues:      make(map[string]models.Queue),
		departments: make(map[string]models.Department),
		citizens:    make(map[string]models.Citizen),
		tickets:     make(map[string]models.Ticket),
		codes:       make(map[string]string),
		locks:       store.NewKeyedLock(),
	}
}

func (s *Store) PutQueue(queue models.Queue) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queues[queue.QueueID] = queue
}

func (s *Store) PutDepartment(department models.Department) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.departments[department.DepartmentID] = department
}

func (s *Store) PutCitizen(citizen models.Citizen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.citizens[citizen.CitizenID] = citizen
}

func (s *Store) SaveDepartment(ctx context.Context, department models.Department) error {
	s.PutDepartment(department)
	return nil
}

// SaveQueue keeps the ledger of an existing queue; only its settings change.
func (s *Store) SaveQueue(ctx context.Context, queue models.Queue) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.queues[queue.QueueID]; ok {
		queue.CurrentQueueSize = existing.CurrentQueueSize
		queue.LedgerDay = existing.LedgerDay
	}
	s.queues[queue.QueueID] = queue
	return nil
}

func (s *Store) SaveCitizen(ctx context.Context, citizen models.Citizen) error {
	s.PutCitizen(citizen)
	return nil
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	queue, ok := s.queues[queueID]
	if !ok {
		return models.Queue{}, store.ErrQueueNotFound
	}
	return queue, nil
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	department, ok := s.departments[departmentID]
	if !ok {
		return models.Department{}, store.ErrDepartmentNotFound
	}
	return department, nil
}

func (s *Store) GetCitizen(ctx context.Context, citizenID string) (models.Citizen, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	citizen, ok := s.citizens[citizenID]
	if !ok {
		return models.Citizen{}, store.ErrCitizenNotFound
	}
	return citizen, nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ticket, ok := s.tickets[ticketID]
	if !ok {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, nil
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	s.mu.RLock()
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if matches(ticket, filter) {
			tickets = append(tickets, ticket)
		}
	}
	s.mu.RUnlock()

	sort.Slice(tickets, func(i, j int) bool { return store.DispatchLess(tickets[i], tickets[j]) })
	if filter.Limit > 0 && len(tickets) > filter.Limit {
		tickets = tickets[:filter.Limit]
	}
	return tickets, nil
}

func (s *Store) ListStaleCalled(ctx context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error) {
	s.mu.RLock()
	var tickets []models.Ticket
	for _, ticket := range s.tickets {
		if ticket.Status != models.StatusCalled || ticket.CalledAt == nil {
			continue
		}
		if ticket.CalledAt.After(calledBefore) {
			continue
		}
		tickets = append(tickets, ticket)
	}
	s.mu.RUnlock()

	sort.Slice(tickets, func(i, j int) bool { return tickets[i].CalledAt.Before(*tickets[j].CalledAt) })
	if limit > 0 && len(tickets) > limit {
		tickets = tickets[:limit]
	}
	return tickets, nil
}

func (s *Store) InQueue(ctx context.Context, queueID string, fn func(tx store.QueueTx) error) error {
	release, err := s.locks.Lock(ctx, queueID)
	if err != nil {
		return err
	}
	defer release()

	queue, err := s.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}

	t := &tx{
		store:   s,
		queue:   queue,
		inserts: make(map[string]models.Ticket),
		updates: make(map[string]models.Ticket),
		deletes: make(map[string]bool),
	}
	if err := fn(t); err != nil {
		return err
	}
	if err := s.commit(t); err != nil {
		return err
	}
	for _, hook := range t.hooks {
		hook()
	}
	return nil
}

func (s *Store) commit(t *tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ticket := range t.inserts {
		if owner, ok := s.codes[codeKey(ticket.Code, ticket.ServiceDay)]; ok && owner != ticket.TicketID {
			return store.ErrCodeExists
		}
	}

	for id := range t.deletes {
		if ticket, ok := s.tickets[id]; ok {
			delete(s.codes, codeKey(ticket.Code, ticket.ServiceDay))
			delete(s.tickets, id)
		}
	}
	for id, ticket := range t.updates {
		s.tickets[id] = ticket
	}
	for id, ticket := range t.inserts {
		s.tickets[id] = ticket
		s.codes[codeKey(ticket.Code, ticket.ServiceDay)] = id
	}
	if t.ledgerChanged {
		queue := s.queues[t.queue.QueueID]
		queue.CurrentQueueSize = t.queue.CurrentQueueSize
		queue.LedgerDay = t.queue.LedgerDay
		s.queues[t.queue.QueueID] = queue
	}
	return nil
}

type tx struct {
	store         *Store
	queue         models.Queue
	inserts       map[string]models.Ticket
	updates       map[string]models.Ticket
	deletes       map[string]bool
	ledgerChanged bool
	hooks         []func()
}

func (t *tx) AfterCommit(fn func()) {
	t.hooks = append(t.hooks, fn)
}

func (t *tx) Queue() models.Queue {
	return t.queue
}

func (t *tx) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	for _, ticket := range t.tickets() {
		if ticket.TicketID == ticketID {
			return ticket, nil
		}
	}
	return models.Ticket{}, store.ErrTicketNotFound
}

func (t *tx) SelectTicket(ctx context.Context, status models.Status, window store.DayWindow) (models.Ticket, bool, error) {
	var best models.Ticket
	found := false
	for _, ticket := range t.tickets() {
		if ticket.Status != status || !window.Contains(ticket.CreatedAt) {
			continue
		}
		if !found || store.DispatchLess(ticket, best) {
			best = ticket
			found = true
		}
	}
	return best, found, nil
}

func (t *tx) WaitingTicketForCitizen(ctx context.Context, citizenID string, window store.DayWindow) (models.Ticket, bool, error) {
	for _, ticket := range t.tickets() {
		if ticket.CitizenID == citizenID && ticket.Status == models.StatusWaiting && window.Contains(ticket.CreatedAt) {
			return ticket, true, nil
		}
	}
	return models.Ticket{}, false, nil
}

func (t *tx) CodeExists(ctx context.Context, code, serviceDay string) (bool, error) {
	for _, ticket := range t.inserts {
		if ticket.Code == code && ticket.ServiceDay == serviceDay {
			return true, nil
		}
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	id, ok := t.store.codes[codeKey(code, serviceDay)]
	if ok && t.deletes[id] {
		return false, nil
	}
	return ok, nil
}

func (t *tx) CountIssued(ctx context.Context, window store.DayWindow) (int, error) {
	count := 0
	for _, ticket := range t.tickets() {
		if window.Contains(ticket.CreatedAt) {
			count++
		}
	}
	return count, nil
}

func (t *tx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	exists, err := t.CodeExists(ctx, ticket.Code, ticket.ServiceDay)
	if err != nil {
		return err
	}
	if exists {
		return store.ErrCodeExists
	}
	t.inserts[ticket.TicketID] = ticket
	return nil
}

func (t *tx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	if _, ok := t.inserts[ticket.TicketID]; ok {
		t.inserts[ticket.TicketID] = ticket
		return nil
	}
	if _, err := t.Ticket(ctx, ticket.TicketID); err != nil {
		return err
	}
	t.updates[ticket.TicketID] = ticket
	return nil
}

func (t *tx) DeleteTicket(ctx context.Context, ticketID string) error {
	if _, ok := t.inserts[ticketID]; ok {
		delete(t.inserts, ticketID)
		return nil
	}
	if _, err := t.Ticket(ctx, ticketID); err != nil {
		return err
	}
	delete(t.updates, ticketID)
	t.deletes[ticketID] = true
	return nil
}

func (t *tx) SaveLedger(ctx context.Context, size int, day string) error {
	t.queue.CurrentQueueSize = size
	t.queue.LedgerDay = day
	t.ledgerChanged = true
	return nil
}

// tickets returns the queue's tickets as seen by this unit of work.
func (t *tx) tickets() []models.Ticket {
	t.store.mu.RLock()
	var result []models.Ticket
	for id, ticket := range t.store.tickets {
		if ticket.QueueID != t.queue.QueueID || t.deletes[id] {
			continue
		}
		if updated, ok := t.updates[id]; ok {
			ticket = updated
		}
		result = append(result, ticket)
	}
	t.store.mu.RUnlock()
	for _, ticket := range t.inserts {
		result = append(result, ticket)
	}
	return result
}

func codeKey(code, serviceDay string) string {
	return serviceDay + "/" + code
}

func matches(ticket models.Ticket, filter store.TicketFilter) bool {
	if filter.QueueID != "" && ticket.QueueID != filter.QueueID {
		return false
	}
	if filter.Status != "" && ticket.Status != filter.Status {
		return false
	}
	if filter.Window != nil && !filter.Window.Contains(ticket.CreatedAt) {
		return false
	}
	return true
}
