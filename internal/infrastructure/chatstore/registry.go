package chatstore

import (
	"sync"

	"gorm.io/gorm"

	"mcp-chat-server/internal/domain/chat"
)

// MemoryRegistry hands out one in-memory store per conversation.
type MemoryRegistry struct {
	mu     sync.Mutex
	stores map[string]*MemoryStore
}

// NewMemoryRegistry builds an empty registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{stores: make(map[string]*MemoryStore)}
}

// Store returns the conversation's store, creating it on first use.
func (r *MemoryRegistry) Store(conversationID string) chat.Store {
	r.mu.Lock()
	defer r.mu.Unlock()

	store, ok := r.stores[conversationID]
	if !ok {
		store = NewMemoryStore()
		r.stores[conversationID] = store
	}
	return store
}

// PostgresRegistry hands out conversation-scoped stores over one shared
// database handle.
type PostgresRegistry struct {
	db *gorm.DB
}

// NewPostgresRegistry builds a registry over the given handle.
func NewPostgresRegistry(db *gorm.DB) *PostgresRegistry {
	return &PostgresRegistry{db: db}
}

// Store returns a store scoped to the conversation.
func (r *PostgresRegistry) Store(conversationID string) chat.Store {
	return NewPostgresStore(r.db, conversationID)
}
