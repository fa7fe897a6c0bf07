package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"sync"
)

// Memory is an in-process Store with the same conditional-write semantics as
// the Postgres implementation. It backs tests and DSN-less local runs.
type Memory struct {
	mu   sync.RWMutex
	data map[Kind]map[Key]json.RawMessage
}

// NewMemory returns an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{data: make(map[Kind]map[Key]json.RawMessage)}
}

func (m *Memory) Get(_ context.Context, kind Kind, key Key) (json.RawMessage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	doc, ok := m.data[kind][key]
	if !ok {
		return nil, ErrNotFound
	}
	return cloneDoc(doc), nil
}

func (m *Memory) Put(_ context.Context, kind Kind, key Key, doc any, ifAbsent bool) error {
	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("gateway: encode document: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	records, ok := m.data[kind]
	if !ok {
		records = make(map[Key]json.RawMessage)
		m.data[kind] = records
	}
	if ifAbsent {
		if _, exists := records[key]; exists {
			return ErrPreconditionFailed
		}
	}
	records[key] = data
	return nil
}

func (m *Memory) Update(_ context.Context, kind Kind, key Key, set map[string]any, pre *Precondition) (json.RawMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	doc, ok := m.data[kind][key]
	if !ok {
		return nil, ErrNotFound
	}

	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil, fmt.Errorf("gateway: decode document: %w", err)
	}
	if pre != nil && stringAttr(fields, pre.Attr) != pre.Equals {
		return nil, ErrPreconditionFailed
	}
	for k, v := range set {
		fields[k] = v
	}

	updated, err := json.Marshal(fields)
	if err != nil {
		return nil, fmt.Errorf("gateway: encode document: %w", err)
	}
	m.data[kind][key] = updated
	return cloneDoc(updated), nil
}

func (m *Memory) QueryPrefix(_ context.Context, kind Kind, pk, skPrefix string) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []Item
	for key, doc := range m.data[kind] {
		if key.PK == pk && strings.HasPrefix(key.SK, skPrefix) {
			items = append(items, Item{Key: key, Doc: cloneDoc(doc)})
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Key.SK < items[j].Key.SK })
	return items, nil
}

func (m *Memory) QueryIndex(_ context.Context, kind Kind, q Query) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	type ordered struct {
		item Item
		sort string
	}
	var matches []ordered
	for key, doc := range m.data[kind] {
		fields := decodeFields(doc)
		if stringAttr(fields, q.Attr) != q.Value {
			continue
		}
		matches = append(matches, ordered{
			item: Item{Key: key, Doc: cloneDoc(doc)},
			sort: orderingKey(fields, key),
		})
	}
	sort.Slice(matches, func(i, j int) bool {
		if q.Descending {
			return matches[i].sort > matches[j].sort
		}
		return matches[i].sort < matches[j].sort
	})

	items := make([]Item, 0, len(matches))
	for _, m := range matches {
		items = append(items, m.item)
	}
	return items, nil
}

func (m *Memory) Scan(_ context.Context, kind Kind, filter *Query) ([]Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var items []Item
	for key, doc := range m.data[kind] {
		if filter != nil && stringAttr(decodeFields(doc), filter.Attr) != filter.Value {
			continue
		}
		items = append(items, Item{Key: key, Doc: cloneDoc(doc)})
	}
	sort.Slice(items, func(i, j int) bool {
		if items[i].Key.PK != items[j].Key.PK {
			return items[i].Key.PK < items[j].Key.PK
		}
		return items[i].Key.SK < items[j].Key.SK
	})
	return items, nil
}

func (m *Memory) Delete(_ context.Context, kind Kind, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.data[kind], key)
	return nil
}

func decodeFields(doc json.RawMessage) map[string]any {
	var fields map[string]any
	if err := json.Unmarshal(doc, &fields); err != nil {
		return nil
	}
	return fields
}

func stringAttr(fields map[string]any, attr string) string {
	v, _ := fields[attr].(string)
	return v
}

// orderingKey mirrors the Postgres creation-time ordering expression.
func orderingKey(fields map[string]any, key Key) string {
	if v := stringAttr(fields, "createdAt"); v != "" {
		return v
	}
	if v := stringAttr(fields, "timestamp"); v != "" {
		return v
	}
	return key.SK
}

func cloneDoc(doc json.RawMessage) json.RawMessage {
	out := make(json.RawMessage, len(doc))
	copy(out, doc)
	return out
}
