// Package keystore implements credential stores backing esm.KeyLookup: an
// in-memory store and a Redis hash store.
package keystore

import "sync"

// Memory is an in-memory KeyLookup backed by a sync.Map, for development or
// single-process deployments where a relational store would be overkill.
type Memory struct {
	keys sync.Map // string(server_id) -> []byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// Get implements esm.KeyLookup. A nil key and nil error means no entry was
// found for serverID.
func (m *Memory) Get(serverID []byte) ([]byte, error) {
	v, ok := m.keys.Load(string(serverID))
	if !ok {
		return nil, nil
	}
	key := v.([]byte)
	out := make([]byte, len(key))
	copy(out, key)
	return out, nil
}

// Set associates serverID with key, replacing any existing entry.
func (m *Memory) Set(serverID, key []byte) {
	cp := make([]byte, len(key))
	copy(cp, key)
	m.keys.Store(string(serverID), cp)
}

// Delete removes any entry for serverID.
func (m *Memory) Delete(serverID []byte) {
	m.keys.Delete(string(serverID))
}
