package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Memory implements Store with in-process maps. Used by tests and by
// deployments that run the core as a short-lived evaluation (dry runs,
// CI policy checks) where nothing needs to survive the process.
type Memory struct {
	mu   sync.Mutex
	docs map[string]map[string]Doc     // family → key → doc
	logs map[string]map[string][]Entry // family → key → entries (seq order)
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		docs: make(map[string]map[string]Doc),
		logs: make(map[string]map[string][]Entry),
	}
}

func (m *Memory) GetDoc(_ context.Context, family, key string) (Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.docs[family][key]
	if !ok {
		return Doc{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) PutDoc(_ context.Context, family, key string, value []byte, expect uint64) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.docs[family] == nil {
		m.docs[family] = make(map[string]Doc)
	}

	cur, exists := m.docs[family][key]
	if expect == 0 {
		if exists {
			return 0, ErrConflict
		}
	} else if !exists || cur.Seq != expect {
		return 0, ErrConflict
	}

	next := expect + 1
	val := make([]byte, len(value))
	copy(val, value)
	m.docs[family][key] = Doc{
		Family: family, Key: key, Seq: next, Value: val, UpdatedAt: time.Now().UTC(),
	}
	return next, nil
}

func (m *Memory) ListDocs(_ context.Context, family string) ([]Doc, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var docs []Doc
	for _, d := range m.docs[family] {
		docs = append(docs, d)
	}
	sort.Slice(docs, func(i, j int) bool { return docs[i].Key < docs[j].Key })
	return docs, nil
}

func (m *Memory) Append(_ context.Context, family, key string, value []byte) (Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.logs[family] == nil {
		m.logs[family] = make(map[string][]Entry)
	}

	val := make([]byte, len(value))
	copy(val, value)
	e := Entry{
		Family:     family,
		Key:        key,
		Seq:        uint64(len(m.logs[family][key])) + 1,
		Value:      val,
		AppendedAt: time.Now().UTC(),
	}
	m.logs[family][key] = append(m.logs[family][key], e)
	return e, nil
}

func (m *Memory) Last(_ context.Context, family, key string, n int) ([]Entry, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entries := m.logs[family][key]
	if len(entries) == 0 {
		return nil, nil
	}

	out := make([]Entry, 0, n)
	for i := len(entries) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, entries[i])
	}
	return out, nil
}

func (m *Memory) Keys(_ context.Context, family string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var keys []string
	for k := range m.logs[family] {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
