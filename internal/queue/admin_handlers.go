package queue

import (
	"context"
	"encoding/json"
	"errors"
	"maps"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/noah-isme/toko-pricing-matrix/internal/common"
)

const (
	dlqPageSize    = 50
	dlqMaxPageSize = 200
)

// AdminHandler lets operators inspect dead-lettered ingestions and webhook deliveries and put
// them back on their queue once the cause is fixed.
type AdminHandler struct {
	Store  Store
	Queue  Enqueuer
	Logger zerolog.Logger
	// Kinds are reported by Stats when the request names none.
	Kinds             []string
	VisibilityTimeout time.Duration
}

type dlqItem struct {
	ID        uuid.UUID       `json:"id"`
	Kind      string          `json:"kind"`
	Key       string          `json:"idempotencyKey,omitempty"`
	Attempts  int             `json:"attempts"`
	LastError *string         `json:"lastError,omitempty"`
	CreatedAt time.Time       `json:"createdAt"`
	Payload   json.RawMessage `json:"payload"`
}

type kindStats struct {
	Kind        string  `json:"kind"`
	Ready       int64   `json:"ready"`
	Processing  int64   `json:"processing"`
	DeadLetters int64   `json:"deadLetters"`
	OldestLagMs int64   `json:"oldestLagMs"`
	Visibility  float64 `json:"visibilityTimeoutSeconds"`
}

type replayRequest struct {
	IDs   []string `json:"ids"`
	Kind  string   `json:"kind"`
	Limit int      `json:"limit"`
}

type replayResult struct {
	Replayed []uuid.UUID       `json:"replayed"`
	Failed   map[string]string `json:"failed,omitempty"`
}

func (h *AdminHandler) ready() bool {
	return h != nil && h.Store != nil && h.Queue.R != nil
}

func unavailable(w http.ResponseWriter) {
	common.JSONError(w, http.StatusServiceUnavailable, "QUEUE_UNAVAILABLE", "queue dependencies unavailable", nil)
}

// kindParam returns the requested kind, or an error when it contains characters that can never
// name a queue.
func kindParam(raw string) (string, error) {
	kind := strings.TrimSpace(raw)
	if kind != "" && sanitizeKind(kind) == "" {
		return "", common.BadRequest("invalid queue kind", map[string]string{"kind": kind})
	}
	return kind, nil
}

// ListDLQ pages through dead letters, optionally for one kind. Payloads are returned as the
// JSON the producer enqueued, e.g. the scope of a failed ingestion.
func (h *AdminHandler) ListDLQ(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		unavailable(w)
		return
	}
	kind, err := kindParam(r.URL.Query().Get("kind"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	page := common.ParsePage(r, dlqPageSize, dlqMaxPageSize)
	ctx := r.Context()

	entries, err := h.Store.ListQueueDlq(ctx, kind, page.Limit, page.Offset)
	if err != nil {
		h.fail(w, "list", err)
		return
	}
	total, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		h.fail(w, "count", err)
		return
	}

	items := make([]dlqItem, 0, len(entries))
	for _, entry := range entries {
		msg, err := decodeMessage(string(entry.Payload))
		if err != nil {
			h.Logger.Warn().Err(err).Str("id", entry.ID.String()).Msg("queue_dlq_undecodable")
			continue
		}
		items = append(items, dlqItem{
			ID:        entry.ID,
			Kind:      entry.Kind,
			Key:       entry.IdempotencyKey,
			Attempts:  entry.Attempts,
			LastError: entry.LastError,
			CreatedAt: entry.CreatedAt,
			Payload:   payloadJSON(msg.Payload),
		})
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": items, "total": total})
}

// payloadJSON embeds JSON payloads verbatim and anything else as a JSON string.
func payloadJSON(payload []byte) json.RawMessage {
	if json.Valid(payload) {
		return payload
	}
	quoted, _ := json.Marshal(string(payload))
	return quoted
}

// ReplayDLQ re-enqueues dead letters by ID, or the oldest page of one kind. Replayed tasks get a
// fresh attempt budget.
func (h *AdminHandler) ReplayDLQ(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		unavailable(w)
		return
	}
	var req replayRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "invalid payload", nil)
		return
	}
	kind, err := kindParam(req.Kind)
	if err != nil {
		common.WriteError(w, err)
		return
	}
	ids := dedupe(req.IDs)
	if len(ids) == 0 && kind == "" {
		common.JSONError(w, http.StatusBadRequest, "BAD_REQUEST", "ids or kind required", nil)
		return
	}

	ctx := r.Context()
	result := replayResult{Replayed: []uuid.UUID{}, Failed: map[string]string{}}
	var entries []DLQEntry
	if len(ids) > 0 {
		for _, raw := range ids {
			id, err := uuid.Parse(raw)
			if err != nil {
				result.Failed[raw] = "invalid uuid"
				continue
			}
			entry, err := h.Store.GetQueueDlq(ctx, id)
			if err != nil {
				result.Failed[raw] = err.Error()
				continue
			}
			entries = append(entries, entry)
		}
	} else {
		limit := req.Limit
		if limit <= 0 || limit > dlqMaxPageSize {
			limit = dlqPageSize
		}
		entries, err = h.Store.ListQueueDlq(ctx, kind, limit, 0)
		if err != nil {
			h.fail(w, "replay", err)
			return
		}
	}

	touched := map[string]struct{}{}
	for _, entry := range entries {
		if err := h.replay(ctx, entry); err != nil {
			result.Failed[entry.ID.String()] = err.Error()
			continue
		}
		result.Replayed = append(result.Replayed, entry.ID)
		touched[entry.Kind] = struct{}{}
	}
	for k := range touched {
		h.refreshGauges(ctx, k)
	}
	h.Logger.Info().Int("replayed", len(result.Replayed)).Int("failed", len(result.Failed)).Msg("queue_dlq_replayed")
	if len(result.Failed) == 0 {
		result.Failed = nil
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": result})
}

func (h *AdminHandler) replay(ctx context.Context, entry DLQEntry) error {
	msg, err := decodeMessage(string(entry.Payload))
	if err != nil {
		return err
	}
	if msg.Key != "" {
		// a newer task for the same key may hold the slot; the replay must not be swallowed
		_ = h.Queue.R.Del(ctx, keyspace{prefix: h.Queue.Prefix, kind: msg.Kind}.dedup(msg.Key)).Err()
	}
	if err := h.Queue.Enqueue(ctx, Task{
		Kind:           msg.Kind,
		Payload:        msg.Payload,
		IdempotencyKey: msg.Key,
		MaxAttempts:    msg.MaxAttempts,
	}); err != nil {
		return err
	}
	return h.Store.DeleteQueueDlq(ctx, entry.ID)
}

// Stats reports ready, in-flight and dead-lettered counts for one kind or for every configured
// kind.
func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.ready() {
		unavailable(w)
		return
	}
	kind, err := kindParam(r.URL.Query().Get("kind"))
	if err != nil {
		common.WriteError(w, err)
		return
	}
	kinds := h.Kinds
	switch {
	case kind != "":
		kinds = []string{kind}
	case len(kinds) == 0:
		// no configured kinds: report whatever has dead letters
		sizes, err := h.Store.QueueDlqSizeByKind(r.Context())
		if err != nil {
			h.fail(w, "stats", err)
			return
		}
		kinds = slices.Sorted(maps.Keys(sizes))
	}

	out := make([]kindStats, 0, len(kinds))
	for _, k := range kinds {
		stats, err := h.statsFor(r.Context(), k)
		if err != nil {
			h.fail(w, "stats", err)
			return
		}
		out = append(out, stats)
	}
	common.JSON(w, http.StatusOK, map[string]any{"data": out})
}

func (h *AdminHandler) statsFor(ctx context.Context, kind string) (kindStats, error) {
	keys := keyspace{prefix: h.Queue.Prefix, kind: kind}
	var (
		ready      *redis.IntCmd
		processing *redis.IntCmd
		oldest     *redis.ZSliceCmd
	)
	_, err := h.Queue.R.Pipelined(ctx, func(p redis.Pipeliner) error {
		ready = p.ZCard(ctx, keys.ready())
		processing = p.ZCard(ctx, keys.processing())
		oldest = p.ZRangeWithScores(ctx, keys.ready(), 0, 0)
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return kindStats{}, err
	}
	dead, err := h.Store.CountQueueDlq(ctx, kind)
	if err != nil {
		return kindStats{}, err
	}

	visibility := h.VisibilityTimeout
	if visibility <= 0 {
		visibility = 30 * time.Second
	}
	stats := kindStats{
		Kind:        kind,
		Ready:       ready.Val(),
		Processing:  processing.Val(),
		DeadLetters: dead,
		Visibility:  visibility.Seconds(),
	}
	if head := oldest.Val(); len(head) > 0 {
		if since := time.Since(time.Unix(0, int64(head[0].Score))); since > 0 {
			stats.OldestLagMs = since.Milliseconds()
		}
	}
	setDepth(kind, stats.Ready)
	setDLQSize(kind, dead)
	return stats, nil
}

func (h *AdminHandler) refreshGauges(ctx context.Context, kind string) {
	if _, err := h.statsFor(ctx, kind); err != nil {
		h.Logger.Warn().Err(err).Str("kind", kind).Msg("queue_gauge_refresh_failed")
	}
}

func (h *AdminHandler) fail(w http.ResponseWriter, op string, err error) {
	h.Logger.Error().Err(err).Str("op", op).Msg("queue_admin_failed")
	common.WriteError(w, common.Internal(err))
}

func dedupe(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
