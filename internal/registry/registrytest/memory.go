// Package registrytest provides an in-memory registry.Registry for tests.
package registrytest

import (
	"context"
	"sort"
	"sync"
	"time"

	"go-friendchat/internal/registry"
)

type Memory struct {
	mu      sync.Mutex
	conns   map[string]registry.Connection
	deleted []string
	// ListErr, when set, is returned by ListByUser.
	ListErr error
	// PutErr and DeleteErr, when set, are returned by Put and Delete.
	PutErr    error
	DeleteErr error
}

func NewMemory() *Memory {
	return &Memory{conns: make(map[string]registry.Connection)}
}

func (m *Memory) Put(_ context.Context, connectionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.PutErr != nil {
		return m.PutErr
	}
	now := time.Now().UTC()
	m.conns[connectionID] = registry.Connection{
		ConnectionID: connectionID,
		UserID:       userID,
		ConnectedAt:  now,
		LastPingAt:   now,
	}
	return nil
}

func (m *Memory) Get(_ context.Context, connectionID string) (registry.Connection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok {
		return registry.Connection{}, registry.ErrNotFound
	}
	return c, nil
}

func (m *Memory) Touch(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.conns[connectionID]
	if !ok {
		return registry.ErrNotFound
	}
	c.LastPingAt = time.Now().UTC()
	m.conns[connectionID] = c
	return nil
}

func (m *Memory) Delete(_ context.Context, connectionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.DeleteErr != nil {
		return m.DeleteErr
	}
	delete(m.conns, connectionID)
	m.deleted = append(m.deleted, connectionID)
	return nil
}

func (m *Memory) ListByUser(_ context.Context, userID string) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ListErr != nil {
		return nil, m.ListErr
	}
	var ids []string
	for id, c := range m.conns {
		if c.UserID == userID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids, nil
}

// Deleted returns every connection id passed to Delete, in call order.
func (m *Memory) Deleted() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.deleted...)
}

// Has reports whether a row exists for connectionID.
func (m *Memory) Has(connectionID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.conns[connectionID]
	return ok
}
