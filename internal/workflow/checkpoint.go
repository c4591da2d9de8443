package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/medsearch-ai/orchestrator/internal/cache"
)

// CheckpointStore persists workflow state after each transition. Load returns
// ErrCheckpointNotFound for unknown IDs.
type CheckpointStore interface {
	Save(ctx context.Context, state *State) error
	Load(ctx context.Context, workflowID string) (*State, error)
}

// ErrCheckpointNotFound reports an unknown workflow ID.
var ErrCheckpointNotFound = fmt.Errorf("checkpoint not found")

// MemoryCheckpointStore keeps checkpoints in process memory. It is the
// default when Redis is disabled.
type MemoryCheckpointStore struct {
	mu     sync.RWMutex
	states map[string][]byte
}

// NewMemoryCheckpointStore creates an empty in-memory store.
func NewMemoryCheckpointStore() *MemoryCheckpointStore {
	return &MemoryCheckpointStore{states: make(map[string][]byte)}
}

func (m *MemoryCheckpointStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	m.mu.Lock()
	m.states[state.WorkflowID] = data
	m.mu.Unlock()
	return nil
}

func (m *MemoryCheckpointStore) Load(ctx context.Context, workflowID string) (*State, error) {
	m.mu.RLock()
	data, ok := m.states[workflowID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &s, nil
}

// RedisCheckpointStore persists checkpoints through the shared cache layer
// so they survive restarts and are visible across replicas.
type RedisCheckpointStore struct {
	store cache.Store
	ttl   time.Duration
}

// NewRedisCheckpointStore wraps a cache store. ttl bounds how long finished
// workflow state is retained.
func NewRedisCheckpointStore(store cache.Store, ttl time.Duration) *RedisCheckpointStore {
	if ttl <= 0 {
		ttl = time.Hour
	}
	return &RedisCheckpointStore{store: store, ttl: ttl}
}

func checkpointKey(workflowID string) string {
	return "wf:" + workflowID
}

func (r *RedisCheckpointStore) Save(ctx context.Context, state *State) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("marshal checkpoint: %w", err)
	}
	r.store.Set(ctx, checkpointKey(state.WorkflowID), data, r.ttl)
	return nil
}

func (r *RedisCheckpointStore) Load(ctx context.Context, workflowID string) (*State, error) {
	data, ok := r.store.Get(ctx, checkpointKey(workflowID))
	if !ok {
		return nil, ErrCheckpointNotFound
	}
	var s State
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, fmt.Errorf("unmarshal checkpoint: %w", err)
	}
	return &s, nil
}
