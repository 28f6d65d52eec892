package history

import (
	"context"
	"errors"
	"sync"

	"evidence-rag/internal/models"
)

var ErrNotFound = errors.New("history entry not found")

// Store is an append-only log of answered questions, oldest first.
type Store interface {
	Append(ctx context.Context, rec models.Record) error
	List(ctx context.Context) ([]models.Record, error)
	Get(ctx context.Context, id string) (models.Record, error)
	Len(ctx context.Context) (int, error)
}

// Memory keeps history in process. With a positive capacity it is a ring
// buffer that forgets the oldest entries; capacity 0 keeps everything.
type Memory struct {
	mu       sync.RWMutex
	capacity int
	records  []models.Record
	start    int // index of the oldest record once the ring is full
}

func NewMemory(capacity int) *Memory {
	if capacity < 0 {
		capacity = 0
	}
	return &Memory{capacity: capacity}
}

func (m *Memory) Append(_ context.Context, rec models.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.capacity == 0 || len(m.records) < m.capacity {
		m.records = append(m.records, rec)
		return nil
	}
	m.records[m.start] = rec
	m.start = (m.start + 1) % m.capacity
	return nil
}

func (m *Memory) List(_ context.Context) ([]models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]models.Record, 0, len(m.records))
	out = append(out, m.records[m.start:]...)
	out = append(out, m.records[:m.start]...)
	return out, nil
}

func (m *Memory) Get(_ context.Context, id string) (models.Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, rec := range m.records {
		if rec.ID == id {
			return rec, nil
		}
	}
	return models.Record{}, ErrNotFound
}

func (m *Memory) Len(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.records), nil
}
