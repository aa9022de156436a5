package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strconv"
	"time"

	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const ticketColumns = `ticket_id, code, queue_id, citizen_id, service_day, status, priority, issued_at,
	called_at, started_at, completed_at, cancelled_at, no_show_at, created_at, updated_at`

const queueColumns = `queue_id, department_id, name, code, current_queue_size, ledger_day, max_queue_size, status`

// Store runs each unit of work in one transaction holding the queue row
// lock. The in-process lock keeps callers of the same instance from tying
// up pool connections while they wait for that row.
type Store struct {
	pool  *pgxpool.Pool
	locks *store.KeyedLock
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, locks: store.NewKeyedLock()}
}

func (s *Store) InQueue(ctx context.Context, queueID string, fn func(tx store.QueueTx) error) (err error) {
	release, err := s.locks.Lock(ctx, queueID)
	if err != nil {
		return err
	}
	defer release()

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	queue, err := lockQueue(ctx, tx, queueID)
	if err != nil {
		return err
	}
	qtx := &queueTx{tx: tx, queue: queue}
	if err = fn(qtx); err != nil {
		return err
	}
	if err = tx.Commit(ctx); err != nil {
		return err
	}
	for _, hook := range qtx.hooks {
		hook()
	}
	return nil
}

func (s *Store) GetTicket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1`, ticketID)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func (s *Store) ListTickets(ctx context.Context, filter store.TicketFilter) ([]models.Ticket, error) {
	query := `SELECT ` + ticketColumns + ` FROM tickets WHERE queue_id = $1`
	args := []interface{}{filter.QueueID}
	if filter.Status != "" {
		args = append(args, filter.Status)
		query += " AND status = $" + strconv.Itoa(len(args))
	}
	if filter.Window != nil {
		args = append(args, filter.Window.Start, filter.Window.End)
		query += " AND created_at >= $" + strconv.Itoa(len(args)-1) + " AND created_at < $" + strconv.Itoa(len(args))
	}
	query += " ORDER BY priority DESC, created_at ASC, ticket_id ASC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += " LIMIT $" + strconv.Itoa(len(args))
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) ListStaleCalled(ctx context.Context, calledBefore time.Time, limit int) ([]models.Ticket, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE status = 'called' AND called_at <= $1
		ORDER BY called_at ASC
		LIMIT $2
	`, calledBefore, limit)
	if err != nil {
		return nil, err
	}
	return collectTickets(rows)
}

func (s *Store) GetQueue(ctx context.Context, queueID string) (models.Queue, error) {
	return scanQueue(s.pool.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1`, queueID))
}

func (s *Store) GetDepartment(ctx context.Context, departmentID string) (models.Department, error) {
	var department models.Department
	row := s.pool.QueryRow(ctx, `SELECT department_id, name, code FROM departments WHERE department_id = $1`, departmentID)
	if err := row.Scan(&department.DepartmentID, &department.Name, &department.Code); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Department{}, store.ErrDepartmentNotFound
		}
		return models.Department{}, err
	}
	return department, nil
}

func (s *Store) GetCitizen(ctx context.Context, citizenID string) (models.Citizen, error) {
	var citizen models.Citizen
	row := s.pool.QueryRow(ctx, `SELECT citizen_id, name FROM citizens WHERE citizen_id = $1`, citizenID)
	if err := row.Scan(&citizen.CitizenID, &citizen.Name); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Citizen{}, store.ErrCitizenNotFound
		}
		return models.Citizen{}, err
	}
	return citizen, nil
}

func (s *Store) SaveDepartment(ctx context.Context, department models.Department) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO departments (department_id, name, code) VALUES ($1, $2, $3)
		ON CONFLICT (department_id) DO UPDATE SET name = EXCLUDED.name, code = EXCLUDED.code
	`, department.DepartmentID, department.Name, department.Code)
	return err
}

// SaveQueue upserts queue settings. The ledger of an existing queue is left alone.
func (s *Store) SaveQueue(ctx context.Context, queue models.Queue) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO queues (queue_id, department_id, name, code, current_queue_size, ledger_day, max_queue_size, status)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (queue_id) DO UPDATE SET
			department_id = EXCLUDED.department_id,
			name = EXCLUDED.name,
			code = EXCLUDED.code,
			max_queue_size = EXCLUDED.max_queue_size,
			status = EXCLUDED.status
	`, queue.QueueID, queue.DepartmentID, queue.Name, queue.Code, queue.CurrentQueueSize, queue.LedgerDay, queue.MaxQueueSize, queue.Status)
	return err
}

func (s *Store) SaveCitizen(ctx context.Context, citizen models.Citizen) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO citizens (citizen_id, name) VALUES ($1, $2)
		ON CONFLICT (citizen_id) DO UPDATE SET name = EXCLUDED.name
	`, citizen.CitizenID, citizen.Name)
	return err
}

func lockQueue(ctx context.Context, tx pgx.Tx, queueID string) (models.Queue, error) {
	return scanQueue(tx.QueryRow(ctx, `SELECT `+queueColumns+` FROM queues WHERE queue_id = $1 FOR UPDATE`, queueID))
}

func scanQueue(row pgx.Row) (models.Queue, error) {
	var queue models.Queue
	if err := row.Scan(&queue.QueueID, &queue.DepartmentID, &queue.Name, &queue.Code, &queue.CurrentQueueSize,
		&queue.LedgerDay, &queue.MaxQueueSize, &queue.Status); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Queue{}, store.ErrQueueNotFound
		}
		return models.Queue{}, err
	}
	return queue, nil
}

type queueTx struct {
	tx    pgx.Tx
	queue models.Queue
	hooks []func()
}

func (q *queueTx) Queue() models.Queue {
	return q.queue
}

func (q *queueTx) AfterCommit(fn func()) {
	q.hooks = append(q.hooks, fn)
}

func (q *queueTx) Ticket(ctx context.Context, ticketID string) (models.Ticket, error) {
	row := q.tx.QueryRow(ctx, `SELECT `+ticketColumns+` FROM tickets WHERE ticket_id = $1 AND queue_id = $2`, ticketID, q.queue.QueueID)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, store.ErrTicketNotFound
	}
	return ticket, err
}

func (q *queueTx) SelectTicket(ctx context.Context, status models.Status, window store.DayWindow) (models.Ticket, bool, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE queue_id = $1 AND status = $2 AND created_at >= $3 AND created_at < $4
		ORDER BY priority DESC, created_at ASC, ticket_id ASC
		LIMIT 1
	`, q.queue.QueueID, status, window.Start, window.End)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q *queueTx) WaitingTicketForCitizen(ctx context.Context, citizenID string, window store.DayWindow) (models.Ticket, bool, error) {
	row := q.tx.QueryRow(ctx, `
		SELECT `+ticketColumns+`
		FROM tickets
		WHERE queue_id = $1 AND citizen_id = $2 AND status = 'waiting' AND created_at >= $3 AND created_at < $4
		LIMIT 1
	`, q.queue.QueueID, citizenID, window.Start, window.End)
	ticket, err := scanTicket(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return models.Ticket{}, false, nil
	}
	if err != nil {
		return models.Ticket{}, false, err
	}
	return ticket, true, nil
}

func (q *queueTx) CodeExists(ctx context.Context, code, serviceDay string) (bool, error) {
	var exists bool
	err := q.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM tickets WHERE code = $1 AND service_day = $2)`, code, serviceDay).Scan(&exists)
	return exists, err
}

func (q *queueTx) CountIssued(ctx context.Context, window store.DayWindow) (int, error) {
	var count int
	err := q.tx.QueryRow(ctx, `
		SELECT COUNT(*) FROM tickets
		WHERE queue_id = $1 AND created_at >= $2 AND created_at < $3
	`, q.queue.QueueID, window.Start, window.End).Scan(&count)
	return count, err
}

func (q *queueTx) InsertTicket(ctx context.Context, ticket models.Ticket) error {
	var id string
	row := q.tx.QueryRow(ctx, `
		INSERT INTO tickets (`+ticketColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)
		ON CONFLICT (code, service_day) DO NOTHING
		RETURNING ticket_id
	`, ticket.TicketID, ticket.Code, ticket.QueueID, ticket.CitizenID, ticket.ServiceDay, ticket.Status, ticket.Priority, ticket.IssuedAt,
		ticket.CalledAt, ticket.StartedAt, ticket.CompletedAt, ticket.CancelledAt, ticket.NoShowAt, ticket.CreatedAt, ticket.UpdatedAt)
	if err := row.Scan(&id); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.ErrCodeExists
		}
		return err
	}
	return nil
}

func (q *queueTx) UpdateTicket(ctx context.Context, ticket models.Ticket) error {
	tag, err := q.tx.Exec(ctx, `
		UPDATE tickets
		SET status = $3,
			priority = $4,
			called_at = $5,
			started_at = $6,
			completed_at = $7,
			cancelled_at = $8,
			no_show_at = $9,
			updated_at = $10
		WHERE ticket_id = $1 AND queue_id = $2
	`, ticket.TicketID, q.queue.QueueID, ticket.Status, ticket.Priority, ticket.CalledAt, ticket.StartedAt,
		ticket.CompletedAt, ticket.CancelledAt, ticket.NoShowAt, ticket.UpdatedAt)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (q *queueTx) DeleteTicket(ctx context.Context, ticketID string) error {
	tag, err := q.tx.Exec(ctx, `DELETE FROM tickets WHERE ticket_id = $1 AND queue_id = $2`, ticketID, q.queue.QueueID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrTicketNotFound
	}
	return nil
}

func (q *queueTx) SaveLedger(ctx context.Context, size int, day string) error {
	if _, err := q.tx.Exec(ctx, `UPDATE queues SET current_queue_size = $2, ledger_day = $3 WHERE queue_id = $1`,
		q.queue.QueueID, size, day); err != nil {
		return err
	}
	q.queue.CurrentQueueSize = size
	q.queue.LedgerDay = day
	return nil
}

func scanTicket(row pgx.Row) (models.Ticket, error) {
	var ticket models.Ticket
	var calledAtNull, startedAtNull, completedAtNull, cancelledAtNull, noShowAtNull, updatedAtNull sql.NullTime
	if err := row.Scan(&ticket.TicketID, &ticket.Code, &ticket.QueueID, &ticket.CitizenID, &ticket.ServiceDay, &ticket.Status, &ticket.Priority, &ticket.IssuedAt,
		&calledAtNull, &startedAtNull, &completedAtNull, &cancelledAtNull, &noShowAtNull, &ticket.CreatedAt, &updatedAtNull); err != nil {
		return models.Ticket{}, err
	}
	ticket.IssuedAt = ticket.IssuedAt.UTC()
	ticket.CreatedAt = ticket.CreatedAt.UTC()
	ticket.CalledAt = nullTimePtr(calledAtNull)
	ticket.StartedAt = nullTimePtr(startedAtNull)
	ticket.CompletedAt = nullTimePtr(completedAtNull)
	ticket.CancelledAt = nullTimePtr(cancelledAtNull)
	ticket.NoShowAt = nullTimePtr(noShowAtNull)
	ticket.UpdatedAt = nullTimePtr(updatedAtNull)
	return ticket, nil
}

func collectTickets(rows pgx.Rows) ([]models.Ticket, error) {
	defer rows.Close()
	var tickets []models.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return tickets, nil
}

func nullTimePtr(value sql.NullTime) *time.Time {
	if !value.Valid {
		return nil
	}
	t := value.Time.UTC()
	return &t
}
