package model

import (
	"encoding/json"
	"sort"
)

// ServicesMap maps service keys to snapshots with a deterministic key order. It is replaced
// wholesale on every successful poll and never mutated after construction.
type ServicesMap struct {
	keys    []ServiceKey
	entries map[ServiceKey]ServiceSnapshot
}

func NewServicesMap(entries map[ServiceKey]ServiceSnapshot) ServicesMap {
	m := ServicesMap{
		keys:    make([]ServiceKey, 0, len(entries)),
		entries: make(map[ServiceKey]ServiceSnapshot, len(entries)),
	}
	for key, svc := range entries {
		m.keys = append(m.keys, key)
		m.entries[key] = svc
	}
	sort.Slice(m.keys, func(i, j int) bool { return m.keys[i] < m.keys[j] })
	return m
}

func (m ServicesMap) Len() int {
	return len(m.keys)
}

// Keys returns a copy of the keys in display order.
func (m ServicesMap) Keys() []ServiceKey {
	keys := make([]ServiceKey, len(m.keys))
	copy(keys, m.keys)
	return keys
}

func (m ServicesMap) Get(key ServiceKey) (ServiceSnapshot, bool) {
	svc, ok := m.entries[key]
	return svc, ok
}

// Range calls fn for every service in key order until fn returns false.
func (m ServicesMap) Range(fn func(key ServiceKey, svc ServiceSnapshot) bool) {
	for _, key := range m.keys {
		if !fn(key, m.entries[key]) {
			return
		}
	}
}

func (m *ServicesMap) UnmarshalJSON(data []byte) error {
	entries := make(map[ServiceKey]ServiceSnapshot)
	if err := json.Unmarshal(data, &entries); err != nil {
		return err
	}
	*m = NewServicesMap(entries)
	return nil
}

func (m ServicesMap) MarshalJSON() ([]byte, error) {
	if m.entries == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m.entries)
}
