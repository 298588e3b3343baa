// Package config loads guild policies from a YAML file.
package config

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
	"nuclight.org/gatekeeper/app/state"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/textmatch"
)

type File struct {
	Guilds []Guild `yaml:"guilds"`
}

type Guild struct {
	ID   string `yaml:"id"`
	Name string `yaml:"name"`

	BannedNames           []string `yaml:"banned_names"`
	BannedNamesNormalized []string `yaml:"banned_names_normalized"`
	BannedPhotoHashes     []string `yaml:"banned_photo_hashes"`

	// MinAccountAge accepts Go durations, a "d" day suffix, or -1 to disable.
	MinAccountAge string `yaml:"min_account_age"`

	Captcha                bool   `yaml:"captcha"`
	DuplicateNameDetection bool   `yaml:"duplicate_name_detection"`
	EscalationAction       string `yaml:"escalation_action"`

	Roles struct {
		Verified  string `yaml:"verified"`
		Temporary string `yaml:"temporary"`
		MinStaff  string `yaml:"min_staff"`
	} `yaml:"roles"`

	SuperAdmins []string `yaml:"super_admins"`

	Channels struct {
		Log              string   `yaml:"log"`
		Captcha          string   `yaml:"captcha"`
		VerifyLog        string   `yaml:"verify_log"`
		SpamReports      string   `yaml:"spam_reports"`
		DuplicateReports string   `yaml:"duplicate_reports"`
		Support          []string `yaml:"support"`
	} `yaml:"channels"`
}

func NewFileFromReader(r io.Reader) (*File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil {
		if err == io.EOF {
			return &f, nil
		}
		return nil, fmt.Errorf("decoding policy file: %w", err)
	}
	return &f, nil
}

func NewFileFromPath(path string) (*File, error) {
	fh, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening policy file: %w", err)
	}
	defer func() { _ = fh.Close() }()

	return NewFileFromReader(fh)
}

// Policies builds policy snapshots. extraBannedPhotos adds hashes persisted
// outside the file, keyed by guild.
func (f *File) Policies(extraBannedPhotos map[string][]string) (map[string]*e.GuildPolicy, error) {
	res := make(map[string]*e.GuildPolicy, len(f.Guilds))

	for i, g := range f.Guilds {
		if g.ID == "" {
			return nil, fmt.Errorf("guild #%d: missing id", i)
		}
		if _, dup := res[g.ID]; dup {
			return nil, fmt.Errorf("guild %s: declared twice", g.ID)
		}

		p, err := g.policy(extraBannedPhotos[g.ID])
		if err != nil {
			return nil, fmt.Errorf("guild %s: %w", g.ID, err)
		}
		res[g.ID] = p
	}

	return res, nil
}

func (g Guild) policy(extraPhotos []string) (*e.GuildPolicy, error) {
	minAge, err := ParseAge(g.MinAccountAge)
	if err != nil {
		return nil, fmt.Errorf("min_account_age: %w", err)
	}

	escalation := e.EscalationAction(strings.ToLower(g.EscalationAction))
	switch escalation {
	case "":
		escalation = e.EscalationKick
	case e.EscalationKick, e.EscalationBan:
	default:
		return nil, fmt.Errorf("escalation_action: unknown value %q", g.EscalationAction)
	}

	if g.Captcha && (g.Roles.Verified == "" || g.Roles.Temporary == "") {
		return nil, fmt.Errorf("captcha requires verified and temporary roles")
	}

	normalized := g.BannedNamesNormalized
	if len(normalized) == 0 {
		for _, n := range g.BannedNames {
			normalized = append(normalized, textmatch.Transliterate(n))
		}
	}

	return &e.GuildPolicy{
		GuildID:                  g.ID,
		GuildName:                g.Name,
		BannedNames:              toSet(g.BannedNames),
		BannedNamesNormalized:    toSet(normalized),
		BannedPhotoHashes:        toSet(append(append([]string{}, g.BannedPhotoHashes...), extraPhotos...)),
		MinAccountAge:            minAge,
		CaptchaEnabled:           g.Captcha,
		DuplicateNameDetection:   g.DuplicateNameDetection,
		EscalationAction:         escalation,
		VerifiedRoleID:           g.Roles.Verified,
		TemporaryRoleID:          g.Roles.Temporary,
		MinStaffRoleID:           g.Roles.MinStaff,
		SuperAdminIDs:            g.SuperAdmins,
		LogChannelID:             g.Channels.Log,
		CaptchaChannelID:         g.Channels.Captcha,
		VerifyLogChannelID:       g.Channels.VerifyLog,
		SpamReportChannelID:      g.Channels.SpamReports,
		DuplicateReportChannelID: g.Channels.DuplicateReports,
		SupportChannelIDs:        g.Channels.Support,
	}, nil
}

// ParseAge parses a minimum account age. Empty and "-1" disable the check.
func ParseAge(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	switch s {
	case "", "-1", "disabled":
		return e.AgeCheckDisabled, nil
	}

	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid day count %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}

	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative duration %q", s)
	}
	return d, nil
}

func toSet(items []string) map[string]struct{} {
	res := make(map[string]struct{}, len(items))
	for _, it := range items {
		if it = strings.TrimSpace(it); it != "" {
			res[it] = struct{}{}
		}
	}
	return res
}

type BannedPhotoSource interface {
	BannedPhotoHashes(ctx context.Context) (map[string][]string, error)
}

// Loader reads the policy file and publishes it into the shared state.
type Loader struct {
	Log    logger.Logger
	Path   string
	Banned BannedPhotoSource
	State  *state.State
}

// Reload reads the policy file and the persisted banned photos, then
// publishes the result. The database read and the swap happen under the
// state's write lock so concurrent photo bans are not lost.
func (l *Loader) Reload(ctx context.Context) error {
	f, err := NewFileFromPath(l.Path)
	if err != nil {
		return err
	}

	var loaded int
	err = l.State.RebuildPolicies(func() (map[string]*e.GuildPolicy, error) {
		var extra map[string][]string
		if l.Banned != nil {
			var err error
			if extra, err = l.Banned.BannedPhotoHashes(ctx); err != nil {
				return nil, fmt.Errorf("loading banned photo hashes: %w", err)
			}
		}

		policies, err := f.Policies(extra)
		if err != nil {
			return nil, err
		}
		loaded = len(policies)
		return policies, nil
	})
	if err != nil {
		return err
	}

	l.Log.Info("guild policies loaded", "path", l.Path, "guilds", loaded)

	return nil
}
