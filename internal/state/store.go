// Package state keeps per-conversation plugin data in memory.
//
// A scope id names a conversation context. Under each scope every plugin owns
// one partition; a lookup returns the caller's own partition and a read-only
// view of the partitions other plugins hold under the same scope.
//
// The store guards its own maps. It does not synchronise the Data maps it
// hands out: handlers that share a scope id and run concurrently (for example
// through the worker pool) must coordinate access themselves.
package state

import (
	"fmt"
	"sort"
	"sync"

	"github.com/mattjoyce/murmur/internal/plugin"
)

// PrivateScope is the scope id of a user across all conversations.
func PrivateScope(userID int64) string {
	return fmt.Sprintf("u%d", userID)
}

// GroupUserScope is the scope id of one user inside one group.
func GroupUserScope(groupID, userID int64) string {
	return fmt.Sprintf("g%d_u%d", groupID, userID)
}

// GroupScope is the scope id of a whole group.
func GroupScope(groupID int64) string {
	return fmt.Sprintf("g%d", groupID)
}

// Meta records who owns a partition.
type Meta struct {
	Owner plugin.Identity
	Info  plugin.Info
}

// Partition is one plugin's data under one scope.
type Partition struct {
	Data map[string]any
	Meta Meta
}

// View is a read-only window onto another plugin's partition.
type View struct {
	p *Partition
}

// Meta returns the owning plugin's metadata.
func (v View) Meta() Meta { return v.p.Meta }

// Get reads one key from the partition.
func (v View) Get(key string) (any, bool) {
	val, ok := v.p.Data[key]
	return val, ok
}

// Keys lists the partition keys in sorted order.
func (v View) Keys() []string {
	keys := make([]string, 0, len(v.p.Data))
	for k := range v.p.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// State is the result of a lookup: the caller's mutable partition plus views
// of every other plugin's partition under the same scope.
type State struct {
	ScopeID string
	Data    map[string]any
	Meta    Meta
	Others  map[plugin.Identity]View
}

// Other returns the view of another plugin's partition.
func (s *State) Other(id plugin.Identity) (View, bool) {
	v, ok := s.Others[id]
	return v, ok
}

// Store maps scope ids to per-plugin partitions.
type Store struct {
	mu     sync.Mutex
	scopes map[string]map[plugin.Identity]*Partition
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{scopes: make(map[string]map[plugin.Identity]*Partition)}
}

// Get returns the partition owned by info under scopeID, creating it (and the
// scope) on first access.
func (s *Store) Get(scopeID string, info plugin.Info) *State {
	owner := info.Identity()

	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.scopes[scopeID]
	if !ok {
		scope = make(map[plugin.Identity]*Partition)
		s.scopes[scopeID] = scope
	}
	own, ok := scope[owner]
	if !ok {
		own = &Partition{
			Data: make(map[string]any),
			Meta: Meta{Owner: owner, Info: info},
		}
		scope[owner] = own
	}

	others := make(map[plugin.Identity]View, len(scope)-1)
	for id, p := range scope {
		if id == owner {
			continue
		}
		others[id] = View{p: p}
	}

	return &State{
		ScopeID: scopeID,
		Data:    own.Data,
		Meta:    own.Meta,
		Others:  others,
	}
}

// Scopes lists the scope ids created so far, sorted.
func (s *Store) Scopes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.scopes))
	for id := range s.scopes {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Len reports the number of partitions across all scopes.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, scope := range s.scopes {
		n += len(scope)
	}
	return n
}
