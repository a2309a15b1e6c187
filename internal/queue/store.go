package queue

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ErrStoreUnavailable is returned by a Store built without a database.
var ErrStoreUnavailable = errors.New("queue: store unavailable")

// Store persists dead letters: tasks that exhausted their attempts or failed permanently.
type Store interface {
	InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error)
	DeleteQueueDlq(ctx context.Context, id uuid.UUID) error
	GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error)
	ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error)
	CountQueueDlq(ctx context.Context, kind string) (int64, error)
	QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error)
}

// DLQEntry is one dead letter. Payload holds the full queue message, so a replay restores the
// original kind, key and task payload. Field order matches dlqColumns.
type DLQEntry struct {
	ID             uuid.UUID
	Kind           string
	IdempotencyKey string
	Payload        []byte
	Attempts       int
	LastError      *string
	CreatedAt      time.Time
}

// DB is the subset of pgxpool.Pool the DLQ store needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewStore returns a Store over the pricing_queue_dlq table.
func NewStore(pool DB) Store {
	return &pgStore{pool: pool}
}

type pgStore struct {
	pool DB
}

const dlqColumns = `id, kind, idem_key, payload, attempts, last_error, created_at`

// dlqMaxList bounds a single listing regardless of what the caller asks for.
const dlqMaxList = 500

func (s *pgStore) db() (DB, error) {
	if s == nil || s.pool == nil {
		return nil, ErrStoreUnavailable
	}
	return s.pool, nil
}

// InsertQueueDlq stores a dead letter and returns its generated ID.
func (s *pgStore) InsertQueueDlq(ctx context.Context, entry DLQEntry) (uuid.UUID, error) {
	db, err := s.db()
	if err != nil {
		return uuid.Nil, err
	}
	var id uuid.UUID
	err = db.QueryRow(ctx,
		`INSERT INTO pricing_queue_dlq (kind, idem_key, payload, attempts, last_error)
		 VALUES ($1, $2, $3, $4, $5) RETURNING id`,
		entry.Kind, entry.IdempotencyKey, entry.Payload, entry.Attempts, entry.LastError,
	).Scan(&id)
	return id, err
}

// DeleteQueueDlq removes a dead letter. Deleting a missing row is not an error.
func (s *pgStore) DeleteQueueDlq(ctx context.Context, id uuid.UUID) error {
	db, err := s.db()
	if err != nil {
		return err
	}
	_, err = db.Exec(ctx, `DELETE FROM pricing_queue_dlq WHERE id = $1`, id)
	return err
}

// GetQueueDlq loads one dead letter, answering sql.ErrNoRows when it is gone.
func (s *pgStore) GetQueueDlq(ctx context.Context, id uuid.UUID) (DLQEntry, error) {
	db, err := s.db()
	if err != nil {
		return DLQEntry{}, err
	}
	rows, err := db.Query(ctx, `SELECT `+dlqColumns+` FROM pricing_queue_dlq WHERE id = $1`, id)
	if err != nil {
		return DLQEntry{}, err
	}
	entry, err := pgx.CollectExactlyOneRow(rows, pgx.RowToStructByPos[DLQEntry])
	if errors.Is(err, pgx.ErrNoRows) {
		return DLQEntry{}, sql.ErrNoRows
	}
	return entry, err
}

// ListQueueDlq pages through dead letters newest first. An empty kind lists every kind.
func (s *pgStore) ListQueueDlq(ctx context.Context, kind string, limit, offset int) ([]DLQEntry, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	limit = min(max(limit, 1), dlqMaxList)
	rows, err := db.Query(ctx,
		`SELECT `+dlqColumns+` FROM pricing_queue_dlq
		 WHERE $1 = '' OR kind = $1
		 ORDER BY created_at DESC, id
		 LIMIT $2 OFFSET $3`,
		strings.TrimSpace(kind), limit, max(offset, 0),
	)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, pgx.RowToStructByPos[DLQEntry])
}

// CountQueueDlq counts dead letters of one kind, or of all kinds when kind is empty.
func (s *pgStore) CountQueueDlq(ctx context.Context, kind string) (int64, error) {
	db, err := s.db()
	if err != nil {
		return 0, err
	}
	var total int64
	err = db.QueryRow(ctx,
		`SELECT COUNT(*) FROM pricing_queue_dlq WHERE $1 = '' OR kind = $1`,
		strings.TrimSpace(kind),
	).Scan(&total)
	return total, err
}

// QueueDlqSizeByKind returns the dead letter count of every kind that has any.
func (s *pgStore) QueueDlqSizeByKind(ctx context.Context) (map[string]int64, error) {
	db, err := s.db()
	if err != nil {
		return nil, err
	}
	rows, err := db.Query(ctx, `SELECT kind, COUNT(*) FROM pricing_queue_dlq GROUP BY kind`)
	if err != nil {
		return nil, err
	}
	sizes := map[string]int64{}
	var (
		kind  string
		total int64
	)
	_, err = pgx.ForEachRow(rows, []any{&kind, &total}, func() error {
		sizes[kind] = total
		return nil
	})
	return sizes, err
}
