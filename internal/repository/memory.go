package repository

import (
	"context"
	"sort"
	"sync"

	"github.com/jhomra21/canvaschat/internal/domain"
)

// InMemoryMessageLog keeps the persisted log in process memory. It backs
// local development and tests.
type InMemoryMessageLog struct {
	mu      sync.RWMutex
	entries map[string]map[string]*domain.ChatMessage // namespace -> key -> message
}

func NewInMemoryMessageLog() *InMemoryMessageLog {
	return &InMemoryMessageLog{
		entries: make(map[string]map[string]*domain.ChatMessage),
	}
}

func (l *InMemoryMessageLog) Put(ctx context.Context, namespace string, msg *domain.ChatMessage) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	ns, ok := l.entries[namespace]
	if !ok {
		ns = make(map[string]*domain.ChatMessage)
		l.entries[namespace] = ns
	}

	copied := *msg
	ns[EncodeKey(namespace, msg.Timestamp)] = &copied
	return nil
}

func (l *InMemoryMessageLog) Newest(ctx context.Context, namespace string, limit int) ([]*domain.ChatMessage, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	keys := l.sortedKeys(namespace)
	if len(keys) > limit {
		keys = keys[len(keys)-limit:]
	}

	result := make([]*domain.ChatMessage, 0, len(keys))
	for _, key := range keys {
		copied := *l.entries[namespace][key]
		result = append(result, &copied)
	}
	return result, nil
}

func (l *InMemoryMessageLog) Prune(ctx context.Context, namespace string, keep int) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	keys := l.sortedKeys(namespace)
	if len(keys) <= keep {
		return 0, nil
	}

	stale := keys[:len(keys)-keep]
	for _, key := range stale {
		delete(l.entries[namespace], key)
	}
	return len(stale), nil
}

func (l *InMemoryMessageLog) NewestTimestamp(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	var newest int64
	found := false
	for _, ns := range l.entries {
		for _, msg := range ns {
			if !found || msg.Timestamp > newest {
				newest = msg.Timestamp
				found = true
			}
		}
	}
	if !found {
		return 0, ErrNoMessages
	}
	return newest, nil
}

// sortedKeys returns the namespace's keys in lexicographic order, which by
// key construction is chronological order. Callers hold l.mu.
func (l *InMemoryMessageLog) sortedKeys(namespace string) []string {
	ns := l.entries[namespace]
	keys := make([]string, 0, len(ns))
	for key := range ns {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}
