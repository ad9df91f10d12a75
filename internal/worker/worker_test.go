package worker

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"sunrunner/internal/domain"
)

// memStore is an in-memory TaskStore with the same compare-and-swap locking
// contract as the Postgres repository. It is safe for concurrent use so
// racing loops can share it.
type memStore struct {
	mu          sync.Mutex
	tasks       map[int64]*domain.Task
	transitions []domain.TaskStatus
	listErr     error
	finalizeErr error
}

func newMemStore(tasks ...*domain.Task) *memStore {
	s := &memStore{tasks: make(map[int64]*domain.Task)}
	for _, task := range tasks {
		s.tasks[task.ID] = task
	}
	return s
}

func (s *memStore) ListOnePending(ctx context.Context) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listErr != nil {
		return nil, s.listErr
	}
	var oldest *domain.Task
	for _, task := range s.tasks {
		if task.Status != domain.TaskStatusPending {
			continue
		}
		if oldest == nil || task.ID < oldest.ID {
			oldest = task
		}
	}
	if oldest == nil {
		return nil, nil
	}
	cp := *oldest
	return &cp, nil
}

func (s *memStore) TryLock(ctx context.Context, id int64) (*domain.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if !ok || task.Status != domain.TaskStatusPending {
		return nil, nil
	}
	task.Status = domain.TaskStatusProcessing
	task.ResultLog = ""
	s.transitions = append(s.transitions, domain.TaskStatusProcessing)
	cp := *task
	return &cp, nil
}

func (s *memStore) Finalize(ctx context.Context, id int64, status domain.TaskStatus, resultLog string, data domain.UserData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalizeErr != nil {
		return s.finalizeErr
	}
	task := s.tasks[id]
	task.Status = status
	task.ResultLog = resultLog
	task.UserData = data
	s.transitions = append(s.transitions, status)
	return nil
}

func (s *memStore) SaveUserData(ctx context.Context, id int64, data domain.UserData) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[id].UserData = data
	return nil
}

func (s *memStore) task(id int64) domain.Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.tasks[id]
}

// memLedger is an in-memory CreditLedger tracking call counts.
type memLedger struct {
	mu       sync.Mutex
	balances map[string]int
	consumes int
	refunds  int
}

func newMemLedger(balances map[string]int) *memLedger {
	if balances == nil {
		balances = make(map[string]int)
	}
	return &memLedger{balances: balances}
}

func (l *memLedger) Consume(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.consumes++
	if l.balances[userID] < 1 {
		return domain.ErrInsufficientCredit
	}
	l.balances[userID]--
	return nil
}

func (l *memLedger) Refund(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.refunds++
	l.balances[userID]++
	return nil
}

func (l *memLedger) balance(userID string) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.balances[userID]
}

// scriptedEngine returns the queued outcomes in order.
type scriptedEngine struct {
	mu       sync.Mutex
	outcomes []error
	executed int
}

func (e *scriptedEngine) Execute(ctx context.Context, data domain.UserData) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.executed++
	if len(e.outcomes) == 0 {
		return "submitted 0.80 km, avg speed 4.80 km/h, time 00:10:00", nil
	}
	err := e.outcomes[0]
	e.outcomes = e.outcomes[1:]
	if err != nil {
		return "", err
	}
	return "submitted 0.80 km, avg speed 4.80 km/h, time 00:10:00", nil
}

func upstreamFailure() error {
	return &domain.UpstreamError{Path: "sunrun/getRunBegin", Status: 502, Body: "bad gateway"}
}

func pendingTask(id int64, backfill bool) *domain.Task {
	data := domain.UserData{
		Session: &domain.Session{StuNumber: "20250101", Token: "tok"},
		RunPoint: &domain.RunPoint{
			PointList: []domain.RoutePoint{{Longitude: 121.47, Latitude: 31.23}},
		},
		Mileage: 0.8,
		MinTime: 10,
		MaxTime: 20,
	}
	if backfill {
		data.CustomEndTime = "2026-03-08 18:30:00"
	}
	return &domain.Task{ID: id, Status: domain.TaskStatusPending, UserData: data}
}

func testLoop(store domain.TaskStore, credits domain.CreditLedger, engine Executor) *Loop {
	return New(Options{
		Store:       store,
		Credits:     credits,
		Engine:      engine,
		Logger:      zerolog.Nop(),
		MaxAttempts: 3,
	})
}

// drive runs cycles until the queue drains or the budget runs out.
func drive(t *testing.T, l *Loop, budget int) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < budget; i++ {
		l.cycle(ctx)
	}
}

func TestLifecycleSuccessFirstAttempt(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	engine := &scriptedEngine{}
	loop := testLoop(store, newMemLedger(nil), engine)

	drive(t, loop, 1)

	task := store.task(1)
	if task.Status != domain.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
	if task.UserData.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", task.UserData.RetryCount)
	}
	if !strings.Contains(task.ResultLog, "km") {
		t.Fatalf("resultLog = %q, want success summary", task.ResultLog)
	}
}

func TestLifecycleRetryExhaustion(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	engine := &scriptedEngine{outcomes: []error{upstreamFailure(), upstreamFailure(), upstreamFailure()}}
	loop := testLoop(store, newMemLedger(nil), engine)

	drive(t, loop, 3)

	task := store.task(1)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if task.UserData.RetryCount != 3 {
		t.Fatalf("retryCount = %d, want exactly 3", task.UserData.RetryCount)
	}
	if engine.executed != 3 {
		t.Fatalf("engine executed %d times, want 3", engine.executed)
	}

	want := []domain.TaskStatus{
		domain.TaskStatusProcessing, domain.TaskStatusPending,
		domain.TaskStatusProcessing, domain.TaskStatusPending,
		domain.TaskStatusProcessing, domain.TaskStatusFailed,
	}
	if fmt.Sprint(store.transitions) != fmt.Sprint(want) {
		t.Fatalf("transitions = %v, want %v", store.transitions, want)
	}
	if !strings.HasPrefix(task.ResultLog, "attempt 3 failed:") {
		t.Fatalf("resultLog = %q, want attempt-numbered message", task.ResultLog)
	}
}

func TestLifecycleDoesNotRetryValidationError(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	engine := &scriptedEngine{outcomes: []error{domain.ErrMissingTaskData}}
	loop := testLoop(store, newMemLedger(nil), engine)

	drive(t, loop, 1)

	task := store.task(1)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED without retries", task.Status)
	}
	if task.UserData.RetryCount != 1 {
		t.Fatalf("retryCount = %d, want 1", task.UserData.RetryCount)
	}
}

func TestBackfillConsumesSingleCreditAcrossRetries(t *testing.T) {
	store := newMemStore(pendingTask(1, true))
	ledger := newMemLedger(map[string]int{"20250101": 2})
	engine := &scriptedEngine{outcomes: []error{upstreamFailure(), nil}}
	loop := testLoop(store, ledger, engine)

	drive(t, loop, 2)

	task := store.task(1)
	if task.Status != domain.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
	if ledger.consumes != 1 {
		t.Fatalf("consume called %d times, want 1", ledger.consumes)
	}
	if got := ledger.balance("20250101"); got != 1 {
		t.Fatalf("balance = %d, want 1 (exactly one credit spent)", got)
	}
	if !task.UserData.ReservedCredit {
		t.Fatal("reservedCredit flag not persisted")
	}
}

func TestBackfillRefundsOnExhaustion(t *testing.T) {
	store := newMemStore(pendingTask(1, true))
	ledger := newMemLedger(map[string]int{"20250101": 1})
	engine := &scriptedEngine{outcomes: []error{upstreamFailure(), upstreamFailure(), upstreamFailure()}}
	loop := testLoop(store, ledger, engine)

	drive(t, loop, 3)

	task := store.task(1)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if ledger.consumes != 1 || ledger.refunds != 1 {
		t.Fatalf("consume/refund = %d/%d, want 1/1", ledger.consumes, ledger.refunds)
	}
	if got := ledger.balance("20250101"); got != 1 {
		t.Fatalf("balance = %d, want 1 (consume and refund net to zero)", got)
	}
}

func TestBackfillInsufficientCreditFailsFast(t *testing.T) {
	store := newMemStore(pendingTask(1, true))
	ledger := newMemLedger(nil)
	engine := &scriptedEngine{}
	loop := testLoop(store, ledger, engine)

	drive(t, loop, 1)

	task := store.task(1)
	if task.Status != domain.TaskStatusFailed {
		t.Fatalf("status = %s, want FAILED", task.Status)
	}
	if engine.executed != 0 {
		t.Fatal("engine must not run when the credit check fails")
	}
	if ledger.refunds != 0 {
		t.Fatal("nothing was reserved, nothing to refund")
	}
	if !strings.Contains(task.ResultLog, "insufficient") {
		t.Fatalf("resultLog = %q, want credit shortage message", task.ResultLog)
	}
}

func TestRacingWorkersProcessTaskOnce(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	engine := &scriptedEngine{}
	loopA := testLoop(store, newMemLedger(nil), engine)
	loopB := testLoop(store, newMemLedger(nil), engine)

	var wg sync.WaitGroup
	for _, l := range []*Loop{loopA, loopB} {
		wg.Add(1)
		go func(l *Loop) {
			defer wg.Done()
			l.cycle(context.Background())
		}(l)
	}
	wg.Wait()

	if engine.executed != 1 {
		t.Fatalf("engine executed %d times, want exactly 1", engine.executed)
	}
	if task := store.task(1); task.Status != domain.TaskStatusSuccess {
		t.Fatalf("status = %s, want SUCCESS", task.Status)
	}
}

func TestStoreErrorSkipsCycle(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	store.listErr = errors.Join(domain.ErrStoreUnavailable, errors.New("connection refused"))
	engine := &scriptedEngine{}
	loop := testLoop(store, newMemLedger(nil), engine)

	delay := loop.cycle(context.Background())

	if delay != loop.pollingDelay {
		t.Fatalf("delay = %v, want polling delay on store failure", delay)
	}
	if engine.executed != 0 {
		t.Fatal("no task should run while the store is unavailable")
	}
	if task := store.task(1); task.Status != domain.TaskStatusPending {
		t.Fatalf("status = %s, task must stay claimable", task.Status)
	}
}

func TestIdleCycleSleepsPollingDelay(t *testing.T) {
	loop := testLoop(newMemStore(), newMemLedger(nil), &scriptedEngine{})
	if delay := loop.cycle(context.Background()); delay != loop.pollingDelay {
		t.Fatalf("delay = %v, want polling delay when queue is empty", delay)
	}
}

func TestStatsCountOutcomes(t *testing.T) {
	store := newMemStore(pendingTask(1, false))
	engine := &scriptedEngine{outcomes: []error{upstreamFailure(), nil}}
	loop := testLoop(store, newMemLedger(nil), engine)

	drive(t, loop, 2)

	snap := loop.Stats().Snapshot()
	if snap.Succeeded != 1 || snap.Requeued != 1 || snap.Failed != 0 {
		t.Fatalf("snapshot = %+v, want 1 success and 1 requeue", snap)
	}
}
