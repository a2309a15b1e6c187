package matrix

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Asset is an uploaded matrix file. ModifiedAt is stamped by the SourceStore on write.
type Asset struct {
	Filename    string    `json:"filename"`
	ContentType string    `json:"contentType"`
	Contents    []byte    `json:"-"`
	ModifiedAt  time.Time `json:"modifiedAt"`
}

// Source is a matrix field configured on a product for one site. A nil Asset means nothing is
// uploaded and the scope must hold no records.
type Source struct {
	Scope Scope  `json:"scope"`
	Tier  Tier   `json:"tier"`
	Asset *Asset `json:"asset,omitempty"`
}

// SourceStore persists configured matrix sources.
type SourceStore interface {
	GetSource(ctx context.Context, scope Scope) (*Source, error)
	ListSources(ctx context.Context, productID, siteID int64) ([]Source, error)
	PutSource(ctx context.Context, src Source) error
	// ClearSource drops the asset but keeps the field configured so the next ingestion empties it.
	ClearSource(ctx context.Context, scope Scope) error
}

var _ SourceStore = (*MemorySourceStore)(nil)

// MemorySourceStore keeps sources in process.
type MemorySourceStore struct {
	mu      sync.RWMutex
	sources map[Scope]Source
	// Now stamps Asset.ModifiedAt; defaults to time.Now. Share it with the MemoryStore clock.
	Now func() time.Time
}

// NewMemorySourceStore constructs an empty source store.
func NewMemorySourceStore() *MemorySourceStore {
	return &MemorySourceStore{sources: make(map[Scope]Source)}
}

func (m *MemorySourceStore) GetSource(_ context.Context, scope Scope) (*Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	src, ok := m.sources[scope]
	if !ok {
		return nil, nil
	}
	return &src, nil
}

func (m *MemorySourceStore) ListSources(_ context.Context, productID, siteID int64) ([]Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Source
	for scope, src := range m.sources {
		if scope.ProductID == productID && scope.SiteID == siteID {
			out = append(out, src)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Scope.FieldID < out[j].Scope.FieldID })
	return out, nil
}

func (m *MemorySourceStore) PutSource(_ context.Context, src Source) error {
	if err := src.Scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.sources == nil {
		m.sources = make(map[Scope]Source)
	}
	if src.Asset != nil {
		asset := *src.Asset
		asset.Contents = append([]byte(nil), asset.Contents...)
		asset.ModifiedAt = m.now()
		src.Asset = &asset
	}
	m.sources[src.Scope] = src
	return nil
}

func (m *MemorySourceStore) now() time.Time {
	if m.Now != nil {
		return m.Now().UTC()
	}
	return time.Now().UTC()
}

func (m *MemorySourceStore) ClearSource(_ context.Context, scope Scope) error {
	if err := scope.Validate(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	src, ok := m.sources[scope]
	if !ok {
		src = Source{Scope: scope}
	}
	src.Asset = nil
	m.sources[scope] = src
	return nil
}
