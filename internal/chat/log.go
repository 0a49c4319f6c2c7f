package chat

import (
	"sort"
	"sync"

	"github.com/careloop/medportal/internal/portal"
)

// Log is the ordered, deduplicated view of one conversation. Messages are
// immutable and never removed, so merging is set union keyed by id.
type Log struct {
	mu   sync.RWMutex
	byID map[string]portal.ChatMessage
}

func NewLog() *Log {
	return &Log{byID: make(map[string]portal.ChatMessage)}
}

// Merge folds a fetched batch into the log. A message already present is
// left untouched, so feeding the same batch twice is a no-op. Returns the
// number of new messages.
func (l *Log) Merge(batch []portal.ChatMessage) int {
	l.mu.Lock()
	defer l.mu.Unlock()

	added := 0
	for _, m := range batch {
		if m.ID == "" {
			continue
		}
		if _, seen := l.byID[m.ID]; seen {
			continue
		}
		l.byID[m.ID] = m
		added++
	}
	return added
}

// Messages returns the conversation ordered by (created_at, id) ascending.
func (l *Log) Messages() []portal.ChatMessage {
	l.mu.RLock()
	out := make([]portal.ChatMessage, 0, len(l.byID))
	for _, m := range l.byID {
		out = append(out, m)
	}
	l.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.byID)
}
