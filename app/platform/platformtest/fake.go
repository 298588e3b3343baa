// Package platformtest provides an in-memory platform for tests.
package platformtest

import (
	"context"
	"slices"
	"strconv"
	"sync"

	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
)

type Call struct {
	Method string
	Args   []string
}

type Sent struct {
	ChannelID string
	MessageID string
	Message   platform.Message
}

// Fake records every outbound call. Errors set per method name are returned
// instead of performing the call.
type Fake struct {
	Self string

	// OnSend runs after a message is recorded, outside the lock.
	OnSend func(s Sent)

	mu        sync.Mutex
	members   map[e.MemberKey]e.Member
	roles     map[string]e.Role
	errors    map[string]error
	calls     []Call
	sent      []Sent
	edits     []Sent
	dms       []Sent
	deleted   []string
	reactions map[string][]string
	nextID    int
}

func NewFake(self string) *Fake {
	return &Fake{
		Self:      self,
		members:   make(map[e.MemberKey]e.Member),
		roles:     make(map[string]e.Role),
		errors:    make(map[string]error),
		reactions: make(map[string][]string),
	}
}

func (f *Fake) PutMember(m e.Member) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.members[m.Key()] = m
}

func (f *Fake) PutRole(r e.Role) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles[r.ID] = r
}

func (f *Fake) FailWith(method string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err == nil {
		delete(f.errors, method)
		return
	}
	f.errors[method] = err
}

func (f *Fake) Calls(method string) []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []Call
	for _, c := range f.calls {
		if c.Method == method {
			res = append(res, c)
		}
	}
	return res
}

func (f *Fake) Methods() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	res := make([]string, 0, len(f.calls))
	for _, c := range f.calls {
		res = append(res, c.Method)
	}
	return res
}

func (f *Fake) SentTo(channelID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []Sent
	for _, s := range f.sent {
		if s.ChannelID == channelID {
			res = append(res, s)
		}
	}
	return res
}

func (f *Fake) Edits(messageID string) []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	var res []Sent
	for _, s := range f.edits {
		if s.MessageID == messageID {
			res = append(res, s)
		}
	}
	return res
}

func (f *Fake) DMs() []Sent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.dms)
}

func (f *Fake) Deleted() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.deleted)
}

func (f *Fake) Reactions(messageID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.reactions[messageID])
}

func (f *Fake) record(method string, args ...string) error {
	f.calls = append(f.calls, Call{Method: method, Args: args})
	return f.errors[method]
}

func (f *Fake) SelfID() string {
	return f.Self
}

func (f *Fake) Ban(_ context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Ban", guildID, userID, reason); err != nil {
		return err
	}
	delete(f.members, e.MemberKey{GuildID: guildID, MemberID: userID})
	return nil
}

func (f *Fake) Kick(_ context.Context, guildID, userID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Kick", guildID, userID, reason); err != nil {
		return err
	}
	delete(f.members, e.MemberKey{GuildID: guildID, MemberID: userID})
	return nil
}

func (f *Fake) AddRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddRole", guildID, userID, roleID); err != nil {
		return err
	}
	key := e.MemberKey{GuildID: guildID, MemberID: userID}
	if m, ok := f.members[key]; ok && !m.HasRole(roleID) {
		m.Roles = append(slices.Clone(m.Roles), roleID)
		f.members[key] = m
	}
	return nil
}

func (f *Fake) RemoveRole(_ context.Context, guildID, userID, roleID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("RemoveRole", guildID, userID, roleID); err != nil {
		return err
	}
	key := e.MemberKey{GuildID: guildID, MemberID: userID}
	if m, ok := f.members[key]; ok {
		m.Roles = slices.DeleteFunc(slices.Clone(m.Roles), func(r string) bool { return r == roleID })
		f.members[key] = m
	}
	return nil
}

func (f *Fake) Member(_ context.Context, guildID, userID string) (e.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Member", guildID, userID); err != nil {
		return e.Member{}, err
	}
	m, ok := f.members[e.MemberKey{GuildID: guildID, MemberID: userID}]
	if !ok {
		return e.Member{}, platform.ErrNotFound
	}
	return m, nil
}

func (f *Fake) Members(_ context.Context, guildID string) ([]e.Member, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Members", guildID); err != nil {
		return nil, err
	}
	var res []e.Member
	for k, m := range f.members {
		if k.GuildID == guildID {
			res = append(res, m)
		}
	}
	slices.SortFunc(res, func(a, b e.Member) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	return res, nil
}

func (f *Fake) Role(_ context.Context, guildID, roleID string) (e.Role, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("Role", guildID, roleID); err != nil {
		return e.Role{}, err
	}
	r, ok := f.roles[roleID]
	if !ok {
		return e.Role{}, platform.ErrNotFound
	}
	return r, nil
}

func (f *Fake) SendMessage(_ context.Context, channelID string, msg platform.Message) (string, error) {
	f.mu.Lock()
	if err := f.record("SendMessage", channelID); err != nil {
		f.mu.Unlock()
		return "", err
	}
	f.nextID++
	s := Sent{ChannelID: channelID, MessageID: "m" + strconv.Itoa(f.nextID), Message: msg}
	f.sent = append(f.sent, s)
	hook := f.OnSend
	f.mu.Unlock()

	if hook != nil {
		hook(s)
	}
	return s.MessageID, nil
}

func (f *Fake) SendDM(_ context.Context, userID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("SendDM", userID); err != nil {
		return err
	}
	f.dms = append(f.dms, Sent{ChannelID: userID, Message: msg})
	return nil
}

func (f *Fake) EditMessage(_ context.Context, channelID, messageID string, msg platform.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("EditMessage", channelID, messageID); err != nil {
		return err
	}
	f.edits = append(f.edits, Sent{ChannelID: channelID, MessageID: messageID, Message: msg})
	return nil
}

func (f *Fake) DeleteMessage(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("DeleteMessage", channelID, messageID); err != nil {
		return err
	}
	f.deleted = append(f.deleted, messageID)
	return nil
}

func (f *Fake) AddReaction(_ context.Context, channelID, messageID, emoji string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("AddReaction", channelID, messageID, emoji); err != nil {
		return err
	}
	f.reactions[messageID] = append(f.reactions[messageID], emoji)
	return nil
}

func (f *Fake) RemoveReaction(_ context.Context, channelID, messageID, emoji, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.record("RemoveReaction", channelID, messageID, emoji, userID)
}

func (f *Fake) ClearReactions(_ context.Context, channelID, messageID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.record("ClearReactions", channelID, messageID); err != nil {
		return err
	}
	delete(f.reactions, messageID)
	return nil
}

var _ platform.Actions = (*Fake)(nil)
