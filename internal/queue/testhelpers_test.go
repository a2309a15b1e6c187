package queue_test

import (
	"cmp"
	"context"
	"database/sql"
	"maps"
	"slices"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	redis "github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-pricing-matrix/internal/queue"
)

const ingestKind = "matrix:ingest"

func newRedis(t *testing.T) *redis.Client {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// runWorker starts w in the background. stop cancels it and waits for in-flight handlers; it is
// safe to call more than once.
func runWorker(t *testing.T, w queue.Worker) (stop func()) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = w.Run(ctx)
	}()
	stop = func() {
		cancel()
		<-done
	}
	t.Cleanup(stop)
	return stop
}

// memoryStore is an in-process DLQ table.
type memoryStore struct {
	mu   sync.Mutex
	rows map[uuid.UUID]queue.DLQEntry
}

func newMemoryStore() *memoryStore {
	return &memoryStore{rows: map[uuid.UUID]queue.DLQEntry{}}
}

func (m *memoryStore) InsertQueueDlq(_ context.Context, entry queue.DLQEntry) (uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry.ID == uuid.Nil {
		entry.ID = uuid.New()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now()
	}
	m.rows[entry.ID] = entry
	return entry.ID, nil
}

func (m *memoryStore) DeleteQueueDlq(_ context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
	return nil
}

func (m *memoryStore) GetQueueDlq(_ context.Context, id uuid.UUID) (queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if entry, ok := m.rows[id]; ok {
		return entry, nil
	}
	return queue.DLQEntry{}, sql.ErrNoRows
}

func (m *memoryStore) matching(kind string) []queue.DLQEntry {
	var out []queue.DLQEntry
	for entry := range maps.Values(m.rows) {
		if kind == "" || entry.Kind == kind {
			out = append(out, entry)
		}
	}
	slices.SortFunc(out, func(a, b queue.DLQEntry) int { return b.CreatedAt.Compare(a.CreatedAt) })
	return out
}

func (m *memoryStore) ListQueueDlq(_ context.Context, kind string, limit, offset int) ([]queue.DLQEntry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.matching(kind)
	if offset >= len(rows) {
		return []queue.DLQEntry{}, nil
	}
	rows = rows[offset:]
	if limit > 0 {
		rows = rows[:min(limit, len(rows))]
	}
	return rows, nil
}

func (m *memoryStore) CountQueueDlq(_ context.Context, kind string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.matching(kind))), nil
}

func (m *memoryStore) QueueDlqSizeByKind(_ context.Context) (map[string]int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := map[string]int64{}
	for entry := range maps.Values(m.rows) {
		out[entry.Kind]++
	}
	return out, nil
}

func (m *memoryStore) snapshot() []queue.DLQEntry {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := m.matching("")
	slices.SortFunc(rows, func(a, b queue.DLQEntry) int { return cmp.Compare(a.IdempotencyKey, b.IdempotencyKey) })
	return rows
}
