// Package state is the process-wide container shared by every concurrent
// moderation task.
package state

import (
	"sync"
	"sync/atomic"

	e "nuclight.org/gatekeeper/pkg/entities"
)

type policies map[string]*e.GuildPolicy

type State struct {
	policies atomic.Pointer[policies]
	writeMu  sync.Mutex

	// Pending holds members with a verification in flight.
	Pending *PendingSet

	// Watchers holds members with a running deadline watcher.
	Watchers *PendingSet

	// Completing holds members that passed and are waiting out the role
	// buffer before the verified role is granted.
	Completing *PendingSet
}

func New() *State {
	s := &State{
		Pending:    NewPendingSet(),
		Watchers:   NewPendingSet(),
		Completing: NewPendingSet(),
	}
	empty := policies{}
	s.policies.Store(&empty)
	return s
}

// Policy returns the current snapshot for a guild. Snapshots are never
// mutated, readers may keep them for the duration of a task.
func (s *State) Policy(guildID string) (*e.GuildPolicy, bool) {
	p, ok := (*s.policies.Load())[guildID]
	return p, ok
}

func (s *State) GuildIDs() []string {
	cur := *s.policies.Load()
	ids := make([]string, 0, len(cur))
	for id := range cur {
		ids = append(ids, id)
	}
	return ids
}

// ReplacePolicies swaps the whole policy set at once.
func (s *State) ReplacePolicies(next map[string]*e.GuildPolicy) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	s.store(next)
}

// RebuildPolicies calls build and publishes its result while holding the
// write lock, so an AddBannedPhoto either lands before build reads its
// sources or applies to the new set. On error the current set is kept.
func (s *State) RebuildPolicies(build func() (map[string]*e.GuildPolicy, error)) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	next, err := build()
	if err != nil {
		return err
	}

	s.store(next)
	return nil
}

func (s *State) store(next map[string]*e.GuildPolicy) {
	cp := make(policies, len(next))
	for id, p := range next {
		cp[id] = p
	}
	s.policies.Store(&cp)
}

// AddBannedPhoto publishes a new policy set in which the guild's banned
// photo hashes include hash. It reports false for unknown guilds.
func (s *State) AddBannedPhoto(guildID, hash string) bool {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	cur := *s.policies.Load()
	p, ok := cur[guildID]
	if !ok {
		return false
	}

	next := make(policies, len(cur))
	for id, pol := range cur {
		next[id] = pol
	}
	next[guildID] = p.WithBannedPhoto(hash)
	s.policies.Store(&next)

	return true
}
