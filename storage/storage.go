package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// Document is a schema-less record stored in a collection. The "id" key is
// assigned by the repository on insert and is immutable afterwards.
type Document map[string]any

// Repository is the abstract persistence contract the entity services run
// against. Absent ids are reported as nil documents (or false for deletes),
// never as errors; errors mean the store itself failed. Each single-id
// operation is atomic; there are no cross-entity transactions.
type Repository interface {
	Insert(ctx context.Context, doc Document) (string, error)
	FindByID(ctx context.Context, id string) (Document, error)
	FindWhere(ctx context.Context, filter map[string]string) ([]Document, error)
	UpdateByID(ctx context.Context, id string, partial Document) (Document, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
}

// Config selects and parameterizes a concrete Repository.
type Config struct {
	Driver     string // "memory", "redis" or "aztables"
	Collection string
	RedisURL   string // redis driver
	TablesConn string // aztables driver
	Table      string // aztables driver
}

// Open builds the Repository described by cfg.
func Open(cfg Config) (Repository, error) {
	switch cfg.Driver {
	case "", "memory":
		return NewMemoryStore(), nil
	case "redis":
		return OpenRedisStore(cfg.RedisURL, cfg.Collection)
	case "aztables":
		return NewTableStore(cfg.TablesConn, cfg.Table, cfg.Collection)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}

// MemoryStore is a process-local Repository backed by a plain map. It is the
// default store and the one the service tests run against.
type MemoryStore struct {
	mu   sync.RWMutex
	docs map[string]Document
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{docs: make(map[string]Document)}
}

func (m *MemoryStore) Insert(_ context.Context, doc Document) (string, error) {
	id := uuid.NewString()
	stored := cloneDoc(doc)
	stored["id"] = id
	m.mu.Lock()
	m.docs[id] = stored
	m.mu.Unlock()
	return id, nil
}

func (m *MemoryStore) FindByID(_ context.Context, id string) (Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	return cloneDoc(doc), nil
}

func (m *MemoryStore) FindWhere(_ context.Context, filter map[string]string) ([]Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []Document{}
	for _, doc := range m.docs {
		if matches(doc, filter) {
			out = append(out, cloneDoc(doc))
		}
	}
	return out, nil
}

func (m *MemoryStore) UpdateByID(_ context.Context, id string, partial Document) (Document, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[id]
	if !ok {
		return nil, nil
	}
	for k, v := range partial {
		if k == "id" {
			continue
		}
		doc[k] = v
	}
	return cloneDoc(doc), nil
}

func (m *MemoryStore) DeleteByID(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return false, nil
	}
	delete(m.docs, id)
	return true, nil
}

// matches applies an equality filter against string-valued fields. A nil or
// empty filter matches everything.
func matches(doc Document, filter map[string]string) bool {
	for k, want := range filter {
		got, ok := doc[k].(string)
		if !ok || got != want {
			return false
		}
	}
	return true
}

func cloneDoc(doc Document) Document {
	out := make(Document, len(doc))
	for k, v := range doc {
		out[k] = v
	}
	return out
}
