package admission

import (
	"context"
	"fmt"
	"time"

	"nuclight.org/gatekeeper/app/metrics"
	"nuclight.org/gatekeeper/app/platform"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/phash"
	"nuclight.org/gatekeeper/pkg/textmatch"
)

const (
	ReasonBannedName  = "User joined with banned name!"
	ReasonBannedPhoto = "User joined with banned photo!"
)

type PhotoHasher interface {
	Hash(ctx context.Context, imageURL string) (string, error)
}

type HashStore interface {
	SavePhotoHash(ctx context.Context, guildID, userID, hash string) error
}

// NewChecks returns the standard name, photo and age checks in that order.
func NewChecks(log logger.Logger, hasher PhotoHasher, hashes HashStore, m *metrics.Metrics) []Check {
	return []Check{
		&NameCheck{},
		&PhotoCheck{Log: log, Hasher: hasher, Hashes: hashes, Metrics: m},
		&AgeCheck{},
	}
}

type NameCheck struct{}

func (c *NameCheck) Name() string { return "name" }

func (c *NameCheck) Inspect(_ context.Context, member e.Member, policy *e.GuildPolicy) (*Detection, error) {
	if !nameBanned(member.Name, policy) {
		return nil, nil
	}

	return &Detection{
		Action: e.Action{Kind: e.ActionKindBan, Note: ReasonBannedName},
		Log:    memberCard(member, "Banned Name Detected", ReasonBannedName, platform.ColorRed),
	}, nil
}

func nameBanned(name string, policy *e.GuildPolicy) bool {
	if _, ok := policy.BannedNames[name]; ok {
		return true
	}

	if textmatch.IsASCII(name) {
		return false
	}

	_, ok := policy.BannedNamesNormalized[textmatch.Transliterate(name)]
	return ok
}

type PhotoCheck struct {
	Log     logger.Logger
	Hasher  PhotoHasher
	Hashes  HashStore
	Metrics *metrics.Metrics
}

func (c *PhotoCheck) Name() string { return "photo" }

func (c *PhotoCheck) Inspect(ctx context.Context, member e.Member, policy *e.GuildPolicy) (*Detection, error) {
	hash, err := c.hash(ctx, member)
	if err != nil {
		return nil, fmt.Errorf("hashing avatar: %w", err)
	}

	if hash == "" {
		return nil, nil
	}

	if c.Hashes != nil {
		if err = c.Hashes.SavePhotoHash(ctx, member.GuildID, member.ID, hash); err != nil {
			c.Log.Warn("saving photo hash", "user_id", member.ID, "error", err)
		}
	}

	matched, ok := phash.Matches(hash, policy.BannedPhotoHashes)
	if !ok {
		return nil, nil
	}

	card := memberCard(member, "Banned Photo Detected", ReasonBannedPhoto, platform.ColorRed)
	card.ThumbnailURL = member.AvatarURL
	card.Fields = append(card.Fields,
		platform.Field{Name: "Hash", Value: hash, Inline: true},
		platform.Field{Name: "Matched", Value: matched, Inline: true},
	)

	return &Detection{
		Action: e.Action{Kind: e.ActionKindBan, Note: ReasonBannedPhoto},
		Log:    card,
	}, nil
}

func (c *PhotoCheck) hash(ctx context.Context, member e.Member) (string, error) {
	if member.HasDefaultAvatar() {
		return phash.DefaultAvatarHash(member.DefaultAvatar), nil
	}

	if c.Hasher == nil {
		return "", nil
	}

	start := time.Now()
	hash, err := c.Hasher.Hash(ctx, member.AvatarURL)
	c.Metrics.ObserveExternal("phash", time.Since(start), err)

	return hash, err
}

type AgeCheck struct {
	Now func() time.Time
}

func (c *AgeCheck) Name() string { return "age" }

func (c *AgeCheck) Inspect(_ context.Context, member e.Member, policy *e.GuildPolicy) (*Detection, error) {
	if policy.MinAccountAge == e.AgeCheckDisabled || member.CreatedAt.IsZero() {
		return nil, nil
	}

	now := time.Now
	if c.Now != nil {
		now = c.Now
	}

	age := now().Sub(member.CreatedAt)
	if age >= policy.MinAccountAge {
		return nil, nil
	}

	age = max(age, 0)
	reason := fmt.Sprintf(
		"Account under minimum creation date! (%ds < %ds minimum)",
		int64(age.Seconds()), int64(policy.MinAccountAge.Seconds()),
	)

	guild := policy.GuildName
	if guild == "" {
		guild = "the server"
	}

	dm := platform.CardMessage(platform.Card{
		Title:       fmt.Sprintf("YOU HAVE BEEN KICKED FROM %s", guild),
		Description: "Your account is too new to join this server. You may rejoin once it meets the minimum age.",
		Color:       platform.ColorOrange,
		Fields: []platform.Field{
			{Name: "Current Account Age", Value: FormatAge(age), Inline: true},
			{Name: "Server Minimum", Value: FormatAge(policy.MinAccountAge), Inline: true},
		},
	})

	log := memberCard(member, "Account Too New", reason, platform.ColorOrange)

	return &Detection{
		Action: e.Action{Kind: e.ActionKindKick, Note: reason},
		Log:    log,
		DM:     &dm,
	}, nil
}

// FormatAge renders a duration as a days/hours/minutes/seconds breakdown.
func FormatAge(d time.Duration) string {
	total := int64(d.Seconds())
	days := total / 86400
	hours := total % 86400 / 3600
	minutes := total % 3600 / 60
	seconds := total % 60

	return fmt.Sprintf("**%d**d, **%d**h, **%d**m, **%d**s", days, hours, minutes, seconds)
}

func memberCard(member e.Member, title, reason string, color int) platform.Card {
	return platform.Card{
		Title:       title,
		Description: fmt.Sprintf("%s (%s)\n%s", member.Mention(), member.Name, reason),
		Color:       color,
		Fields: []platform.Field{
			{Name: "User ID", Value: member.ID, Inline: true},
			{Name: "Account Created", Value: member.CreatedAt.UTC().Format(time.RFC1123), Inline: true},
		},
		Timestamp: time.Now(),
	}
}
