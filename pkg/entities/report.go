package entities

import "time"

type ReportKind string

const (
	ReportKindSpam      ReportKind = "spam"
	ReportKindDuplicate ReportKind = "duplicate"
)

type ReportState string

const (
	ReportOpen                   ReportState = "open"
	ReportResolvedNotSpam        ReportState = "resolved_not_spam"
	ReportResolvedBanned         ReportState = "resolved_banned"
	ReportResolvedAccountDeleted ReportState = "resolved_account_deleted"
	ReportMovedForSpecification  ReportState = "moved_for_specification"
)

// Terminal reports ignore any further reactions.
func (s ReportState) Terminal() bool {
	return s != ReportOpen && s != ""
}

// Report is a moderator-facing card raised either from an image submission
// (spam) or from a join whose display name resembles a staff member (duplicate).
type Report struct {
	Kind  ReportKind
	State ReportState

	GuildID   string
	ChannelID string
	MessageID string

	SourceChannelID string
	SourceMessageID string
	ReporterID      string
	ImageURL        string
	Transcript      string
	ManualReview    bool

	// CandidateID is the preselected member, Candidates the ranked alternatives.
	CandidateID string
	Candidates  []string

	ResolvedBy string
	ResolvedAt time.Time
	CreatedAt  time.Time
}
