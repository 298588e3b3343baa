package entities

// Action is a moderation decision taken against a member.
type Action struct {
	Kind ActionKind
	Note string
}

type ActionKind string

const (
	// ActionKindNoop means the member is admitted and nothing has to be done
	ActionKindNoop ActionKind = "noop"

	// ActionKindKick indicates that a member should be removed but may rejoin
	ActionKindKick ActionKind = "kick"

	// ActionKindBan indicates that a member should be banned
	ActionKindBan ActionKind = "ban"
)

func (a Action) IsNoop() bool {
	return a.Kind == ActionKindNoop || a.Kind == ""
}
