// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 RiftGate Contributors

// Package realm tracks the realm servers attached to the identity tier.
// Each realm authenticates with a server-category account whose id doubles
// as its registry slot.
package realm

import (
	"errors"
	"sort"
	"sync"
	"time"
)

// ErrSlotOccupied is returned when a realm tries to claim a slot another
// live realm already holds.
var ErrSlotOccupied = errors.New("realm slot already occupied")

// Realm is one attached realm server as advertised to game clients.
type Realm struct {
	ID          uint8
	Name        string
	Host        string
	Port        uint16
	Population  uint32
	Maintenance uint16
	New         uint16
	ConnectedAt time.Time
}

// Registry is the mutable set of attached realms.
type Registry struct {
	mu     sync.RWMutex
	realms map[uint8]Realm
}

// NewRegistry builds an empty registry.
func NewRegistry() *Registry {
	return &Registry{realms: make(map[uint8]Realm)}
}

// Register claims a slot. A slot held by a live realm is refused; the old
// connection must drop before the slot frees up.
func (r *Registry) Register(realm Realm) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, taken := r.realms[realm.ID]; taken {
		return ErrSlotOccupied
	}
	r.realms[realm.ID] = realm
	return nil
}

// Deregister frees a slot. Unknown slots are ignored.
func (r *Registry) Deregister(id uint8) {
	r.mu.Lock()
	delete(r.realms, id)
	r.mu.Unlock()
}

// Get returns a copy of one realm.
func (r *Registry) Get(id uint8) (Realm, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	realm, ok := r.realms[id]
	return realm, ok
}

// List returns copies of all attached realms, ordered by slot.
func (r *Registry) List() []Realm {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Realm, 0, len(r.realms))
	for _, realm := range r.realms {
		out = append(out, realm)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// SetPopulation updates a realm's advertised player count. Unknown slots
// are ignored.
func (r *Registry) SetPopulation(id uint8, population uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()

	realm, ok := r.realms[id]
	if !ok {
		return
	}
	realm.Population = population
	r.realms[id] = realm
}

// Count returns the number of attached realms.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.realms)
}
