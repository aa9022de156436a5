package postgres

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"qms/dispatch-service/internal/dispatch"
	"qms/dispatch-service/internal/models"
	"qms/dispatch-service/internal/notify"
	"qms/dispatch-service/internal/store"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type discardNotifier struct{}

func (discardNotifier) Dispatch(notify.Event) {}

func TestConcurrentSelectNextHandsOutDistinctTickets(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queueID := seedQueue(t, ctx, st, 10)
	engine := dispatch.NewEngine(st, st, discardNotifier{}, dispatch.Options{})
	createTickets(t, ctx, st, engine, queueID, 2)

	var wg sync.WaitGroup
	results := make(chan models.Ticket, 3)
	errs := make(chan error, 3)
	for i := 0; i < 3; i++ {
		wg.Add(1)
		go func(user string) {
			defer wg.Done()
			ticket, err := engine.SelectNext(ctx, queueID, user)
			if err != nil {
				errs <- err
				return
			}
			results <- ticket
		}(fmt.Sprintf("staff-%d", i))
	}
	wg.Wait()
	close(results)
	close(errs)

	seen := map[string]bool{}
	for ticket := range results {
		if seen[ticket.TicketID] {
			t.Fatalf("ticket %s handed out twice", ticket.TicketID)
		}
		seen[ticket.TicketID] = true
	}
	if len(seen) != 2 {
		t.Fatalf("expected 2 tickets called, got %d", len(seen))
	}
	for err := range errs {
		if !errors.Is(err, store.ErrNoTicket) {
			t.Fatalf("unexpected error %v", err)
		}
	}
}

func TestConcurrentCreateAcrossStoresRespectsCapacity(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queueID := seedQueue(t, ctx, st, 2)
	// Two stores share the database but not the in-process lock, like two instances.
	engines := []*dispatch.Engine{
		dispatch.NewEngine(st, st, discardNotifier{}, dispatch.Options{}),
		dispatch.NewEngine(NewStore(st.pool), st, discardNotifier{}, dispatch.Options{}),
	}

	var wg sync.WaitGroup
	errs := make(chan error, 6)
	for i := 0; i < 6; i++ {
		citizenID := uuid.NewString()
		if err := st.SaveCitizen(ctx, models.Citizen{CitizenID: citizenID, Name: "citizen"}); err != nil {
			t.Fatalf("save citizen: %v", err)
		}
		wg.Add(1)
		go func(engine *dispatch.Engine, citizenID string) {
			defer wg.Done()
			_, err := engine.Create(ctx, dispatch.CreateInput{QueueID: queueID, CitizenID: citizenID})
			errs <- err
		}(engines[i%2], citizenID)
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, store.ErrQueueFull):
		default:
			t.Fatalf("unexpected error %v", err)
		}
	}
	if created != 2 {
		t.Fatalf("expected 2 tickets created, got %d", created)
	}
	queue, err := st.GetQueue(ctx, queueID)
	if err != nil {
		t.Fatalf("get queue: %v", err)
	}
	if queue.CurrentQueueSize != 2 {
		t.Fatalf("expected ledger 2, got %d", queue.CurrentQueueSize)
	}
}

func TestFailedWorkIsRolledBack(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queueID := seedQueue(t, ctx, st, 10)
	boom := errors.New("boom")
	err := st.InQueue(ctx, queueID, func(tx store.QueueTx) error {
		if err := tx.SaveLedger(ctx, 7, "2024-03-05"); err != nil {
			return err
		}
		tx.AfterCommit(func() { t.Fatalf("hook ran after rollback") })
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected callback error, got %v", err)
	}
	queue, _ := st.GetQueue(ctx, queueID)
	if queue.CurrentQueueSize != 0 {
		t.Fatalf("ledger change survived rollback: %d", queue.CurrentQueueSize)
	}
}

func TestInsertTicketReportsCodeConflict(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queueID := seedQueue(t, ctx, st, 10)
	citizenID := uuid.NewString()
	if err := st.SaveCitizen(ctx, models.Citizen{CitizenID: citizenID}); err != nil {
		t.Fatalf("save citizen: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Microsecond)
	insert := func(id string) error {
		return st.InQueue(ctx, queueID, func(tx store.QueueTx) error {
			return tx.InsertTicket(ctx, models.Ticket{
				TicketID:   id,
				Code:       "DUP-001",
				QueueID:    queueID,
				CitizenID:  citizenID,
				ServiceDay: now.Format(time.DateOnly),
				Status:     models.StatusWaiting,
				IssuedAt:   now,
				CreatedAt:  now,
			})
		})
	}
	if err := insert(uuid.NewString()); err != nil {
		t.Fatalf("first insert: %v", err)
	}
	if err := insert(uuid.NewString()); !errors.Is(err, store.ErrCodeExists) {
		t.Fatalf("expected code exists, got %v", err)
	}
}

func TestTicketRoundTripAndListing(t *testing.T) {
	ctx := context.Background()
	st, cleanup := setupTestStore(t, ctx)
	t.Cleanup(cleanup)

	queueID := seedQueue(t, ctx, st, 10)
	engine := dispatch.NewEngine(st, st, discardNotifier{}, dispatch.Options{})
	tickets := createTickets(t, ctx, st, engine, queueID, 2)

	called, err := engine.Call(ctx, tickets[1].TicketID, "staff-1")
	if err != nil {
		t.Fatalf("call: %v", err)
	}
	loaded, err := st.GetTicket(ctx, called.TicketID)
	if err != nil {
		t.Fatalf("get ticket: %v", err)
	}
	if loaded.Status != models.StatusCalled || loaded.CalledAt == nil || loaded.Code != called.Code {
		t.Fatalf("unexpected ticket %+v", loaded)
	}

	waiting, err := engine.ListTickets(ctx, queueID, models.StatusWaiting, true)
	if err != nil {
		t.Fatalf("list tickets: %v", err)
	}
	if len(waiting) != 1 || waiting[0].TicketID != tickets[0].TicketID {
		t.Fatalf("unexpected waiting tickets %+v", waiting)
	}

	stale, err := st.ListStaleCalled(ctx, time.Now().Add(time.Minute), 10)
	if err != nil {
		t.Fatalf("list stale: %v", err)
	}
	if len(stale) != 1 || stale[0].TicketID != called.TicketID {
		t.Fatalf("unexpected stale tickets %+v", stale)
	}

	if err := engine.Delete(ctx, tickets[0].TicketID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	ledger, _ := engine.Ledger(ctx, queueID)
	if ledger.CurrentSize != 1 {
		t.Fatalf("expected ledger 1 after deleting a waiting ticket, got %d", ledger.CurrentSize)
	}
}

func setupTestStore(t *testing.T, ctx context.Context) (*Store, func()) {
	t.Helper()
	dsn := os.Getenv("TEST_DB_DSN")
	if dsn == "" {
		dsn = os.Getenv("DB_DSN")
	}
	if dsn == "" {
		t.Skip("TEST_DB_DSN or DB_DSN is required for integration tests")
	}

	schema := "test_" + strings.ReplaceAll(uuid.NewString(), "-", "")
	if err := createSchema(ctx, dsn, schema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	pool, err := newPoolWithSchema(ctx, dsn, schema)
	if err != nil {
		t.Fatalf("open pool: %v", err)
	}

	if err := Migrate(pool, nil); err != nil {
		pool.Close()
		t.Fatalf("apply migrations: %v", err)
	}

	cleanup := func() {
		pool.Close()
		_ = dropSchema(context.Background(), dsn, schema)
	}
	return NewStore(pool), cleanup
}

func createSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "CREATE SCHEMA "+schema)
	return err
}

func dropSchema(ctx context.Context, dsn, schema string) error {
	conn, err := pgx.Connect(ctx, dsn)
	if err != nil {
		return err
	}
	defer conn.Close(ctx)
	_, err = conn.Exec(ctx, "DROP SCHEMA "+schema+" CASCADE")
	return err
}

func newPoolWithSchema(ctx context.Context, dsn, schema string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, err
	}
	cfg.ConnConfig.RuntimeParams["search_path"] = schema
	return pgxpool.NewWithConfig(ctx, cfg)
}

func seedQueue(t *testing.T, ctx context.Context, st *Store, maxSize int) string {
	t.Helper()
	departmentID := uuid.NewString()
	queueID := uuid.NewString()
	seed := store.Seed{
		Departments: []models.Department{{DepartmentID: departmentID, Name: "Registry", Code: "R"}},
		Queues: []models.Queue{{
			QueueID:      queueID,
			DepartmentID: departmentID,
			Name:         "Main",
			Code:         strings.ToUpper(queueID[:4]),
			MaxQueueSize: maxSize,
		}},
	}
	if err := seed.Apply(ctx, st); err != nil {
		t.Fatalf("seed: %v", err)
	}
	return queueID
}

func createTickets(t *testing.T, ctx context.Context, st *Store, engine *dispatch.Engine, queueID string, n int) []models.Ticket {
	t.Helper()
	var tickets []models.Ticket
	for i := 0; i < n; i++ {
		citizenID := uuid.NewString()
		if err := st.SaveCitizen(ctx, models.Citizen{CitizenID: citizenID}); err != nil {
			t.Fatalf("save citizen: %v", err)
		}
		ticket, err := engine.Create(ctx, dispatch.CreateInput{QueueID: queueID, CitizenID: citizenID})
		if err != nil {
			t.Fatalf("create ticket: %v", err)
		}
		tickets = append(tickets, ticket)
	}
	return tickets
}
