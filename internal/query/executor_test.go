package query

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nl2sql-eval/backend/internal/storage/models"
	"github.com/nl2sql-eval/backend/pkg/circuitbreaker"
)

type fakeEngine struct {
	calls atomic.Int32
	delay time.Duration
	run   func(sql, database string) (*Table, error)
}

func (f *fakeEngine) Name() string { return "fake" }

func (f *fakeEngine) Run(ctx context.Context, sql, database string) (*Table, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return f.run(sql, database)
}

func oneCell(v any) *Table {
	return &Table{
		Columns: []Column{{Name: "n", Type: "bigint", Kind: KindNumber}},
		Rows:    [][]any{{v}},
	}
}

type fakeHistory struct {
	mu      sync.Mutex
	records []models.QueryRecord
}

func (h *fakeHistory) InsertQueryRecord(_ context.Context, r *models.QueryRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.records = append(h.records, *r)
	return nil
}

func TestExecute_MemoizesByQueryAndDatabase(t *testing.T) {
	engine := &fakeEngine{run: func(sql, database string) (*Table, error) {
		return oneCell(database + ":" + sql), nil
	}}
	exec := NewExecutor(engine, Options{CacheSize: 8, CacheTTL: time.Hour})
	ctx := context.Background()

	first, err := exec.Execute(ctx, "SELECT 1", "db1")
	require.NoError(t, err)
	second, err := exec.Execute(ctx, "SELECT 1", "db1")
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Equal(t, int32(1), engine.calls.Load())

	other, err := exec.Execute(ctx, "SELECT 1", "db2")
	require.NoError(t, err)
	assert.Equal(t, "db2:SELECT 1", other.Rows[0][0])
	assert.Equal(t, int32(2), engine.calls.Load())

	_, err = exec.Execute(ctx, "SELECT 1 ", "db1")
	require.NoError(t, err)
	assert.Equal(t, int32(3), engine.calls.Load())
}

func TestExecute_FailuresAreNotCached(t *testing.T) {
	fail := true
	engine := &fakeEngine{run: func(string, string) (*Table, error) {
		if fail {
			return nil, errors.New("Access denied")
		}
		return oneCell(int64(1)), nil
	}}
	exec := NewExecutor(engine, Options{})
	ctx := context.Background()

	_, err := exec.Execute(ctx, "SELECT 1", "db")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrQueryFailed)
	var failed *FailedError
	require.ErrorAs(t, err, &failed)
	assert.Equal(t, "db", failed.Database)
	assert.Contains(t, err.Error(), "Access denied")

	fail = false
	table, err := exec.Execute(ctx, "SELECT 1", "db")
	require.NoError(t, err)
	assert.Equal(t, int64(1), table.Rows[0][0])
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestExecute_ConcurrentIdenticalQueriesShareOneCall(t *testing.T) {
	engine := &fakeEngine{
		delay: 50 * time.Millisecond,
		run:   func(string, string) (*Table, error) { return oneCell(int64(42)), nil },
	}
	exec := NewExecutor(engine, Options{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			table, err := exec.Execute(context.Background(), "SELECT 42", "db")
			assert.NoError(t, err)
			assert.Equal(t, int64(42), table.Rows[0][0])
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), engine.calls.Load())
}

func TestExecute_Timeout(t *testing.T) {
	engine := &fakeEngine{
		delay: time.Second,
		run:   func(string, string) (*Table, error) { return oneCell(int64(1)), nil },
	}
	exec := NewExecutor(engine, Options{Timeout: 20 * time.Millisecond})

	_, err := exec.Execute(context.Background(), "SELECT 1", "db")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecute_BreakerIgnoresStatementErrors(t *testing.T) {
	engine := &fakeEngine{run: func(sql, _ string) (*Table, error) {
		if sql == "bad" {
			return nil, &StatementError{Message: "line 1:1: mismatched input"}
		}
		return nil, errors.New("connection reset")
	}}
	breaker := circuitbreaker.New("test", circuitbreaker.Config{
		FailureThreshold: 1,
		Timeout:          time.Hour,
		IsFailure:        func(err error) bool { return !IsStatementError(err) },
	})
	exec := NewExecutor(engine, Options{Breaker: breaker})
	ctx := context.Background()

	_, err := exec.Execute(ctx, "bad", "db")
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateClosed, breaker.State())

	_, err = exec.Execute(ctx, "SELECT 1", "db")
	require.Error(t, err)
	assert.Equal(t, circuitbreaker.StateOpen, breaker.State())

	_, err = exec.Execute(ctx, "SELECT 2", "db")
	assert.ErrorIs(t, err, ErrQueryFailed)
	assert.ErrorIs(t, err, circuitbreaker.ErrCircuitOpen)
	assert.Equal(t, int32(2), engine.calls.Load())
}

func TestExecute_RecordsHistory(t *testing.T) {
	engine := &fakeEngine{run: func(sql, _ string) (*Table, error) {
		if sql == "bad" {
			return nil, errors.New("boom")
		}
		return oneCell(int64(1)), nil
	}}
	history := &fakeHistory{}
	exec := NewExecutor(engine, Options{History: history})

	_, _ = exec.Execute(context.Background(), "SELECT 1", "db")
	_, _ = exec.Execute(context.Background(), "bad", "db")

	require.Len(t, history.records, 2)
	assert.Equal(t, "success", history.records[0].Status)
	assert.Equal(t, 1, history.records[0].RowCount)
	assert.Equal(t, "error", history.records[1].Status)
	assert.Equal(t, "boom", history.records[1].ErrorMessage)
}

type fakeRemote struct {
	mu    sync.Mutex
	items map[string]*Table
}

func (r *fakeRemote) GetResult(_ context.Context, key string) (*Table, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	t, ok := r.items[key]
	return t, ok, nil
}

func (r *fakeRemote) SetResult(_ context.Context, key string, table *Table, _ time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.items[key] = table
	return nil
}

func TestExecute_RemoteCacheIsShared(t *testing.T) {
	remote := &fakeRemote{items: map[string]*Table{}}
	engine := &fakeEngine{run: func(string, string) (*Table, error) { return oneCell(int64(7)), nil }}

	first := NewExecutor(engine, Options{Remote: remote})
	_, err := first.Execute(context.Background(), "SELECT 7", "db")
	require.NoError(t, err)

	second := NewExecutor(engine, Options{Remote: remote})
	table, err := second.Execute(context.Background(), "SELECT 7", "db")
	require.NoError(t, err)
	assert.Equal(t, int64(7), table.Rows[0][0])
	assert.Equal(t, int32(1), engine.calls.Load())
	assert.Equal(t, 1, second.CacheLen())
}

func TestMemo_BoundedAndExpiring(t *testing.T) {
	m := newMemo(2, time.Minute)
	now := time.Unix(0, 0)
	m.now = func() time.Time { return now }

	m.set("a", oneCell(int64(1)))
	m.set("b", oneCell(int64(2)))
	m.set("c", oneCell(int64(3)))
	assert.Equal(t, 2, m.len())
	_, ok := m.get("a")
	assert.False(t, ok)

	_, ok = m.get("c")
	assert.True(t, ok)

	now = now.Add(2 * time.Minute)
	_, ok = m.get("c")
	assert.False(t, ok)
	assert.Equal(t, 1, m.len())
}
