package storage

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	e "nuclight.org/gatekeeper/pkg/entities"
)

var ErrNotFound = errors.New("not found")

// BatchSize is the number of rows written per transaction by batch upserts.
const BatchSize = 100

type SQLite struct {
	db *sql.DB
}

func NewSQLite(ctx context.Context, filePath string) (*SQLite, error) {
	db, err := sql.Open("sqlite3", filePath+"?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite3 database: %w", err)
	}

	client := &SQLite{
		db: db,
	}

	err = client.init(ctx)
	if err != nil {
		return nil, fmt.Errorf("initializing sqlite3 database: %w", err)
	}

	return client, nil
}

func (c *SQLite) Close() error {
	return c.db.Close()
}

func (c *SQLite) SavePhotoHash(ctx context.Context, guildID, userID, hash string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO members (guild_id, user_id, photo_hash, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, user_id) DO UPDATE
			    SET photo_hash = excluded.photo_hash, updated_at = CURRENT_TIMESTAMP`,
		guildID, userID, hash,
	)
	return err
}

// SavePhotoHashes upserts hashes in transactions of BatchSize rows.
func (c *SQLite) SavePhotoHashes(ctx context.Context, hashes []e.PhotoHash) error {
	for start := 0; start < len(hashes); start += BatchSize {
		end := min(start+BatchSize, len(hashes))
		if err := c.savePhotoHashBatch(ctx, hashes[start:end]); err != nil {
			return fmt.Errorf("saving batch at %d: %w", start, err)
		}
	}
	return nil
}

func (c *SQLite) savePhotoHashBatch(ctx context.Context, batch []e.PhotoHash) error {
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO members (guild_id, user_id, photo_hash, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, user_id) DO UPDATE
			    SET photo_hash = excluded.photo_hash, updated_at = CURRENT_TIMESTAMP`,
	)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for _, h := range batch {
		if _, err = stmt.ExecContext(ctx, h.GuildID, h.UserID, h.Hash); err != nil {
			return fmt.Errorf("upserting %s/%s: %w", h.GuildID, h.UserID, err)
		}
	}

	return tx.Commit()
}

// PhotoHashes lists every stored hash of a guild.
func (c *SQLite) PhotoHashes(ctx context.Context, guildID string) ([]e.PhotoHash, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT user_id, photo_hash FROM members WHERE guild_id = ? AND photo_hash IS NOT NULL`,
		guildID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying photo hashes: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var res []e.PhotoHash
	for rows.Next() {
		h := e.PhotoHash{GuildID: guildID}
		if err = rows.Scan(&h.UserID, &h.Hash); err != nil {
			return nil, fmt.Errorf("scanning photo hash: %w", err)
		}
		res = append(res, h)
	}

	return res, rows.Err()
}

func (c *SQLite) SetBannedPhoto(ctx context.Context, guildID, userID, hash string) error {
	_, err := c.db.ExecContext(
		ctx,
		`INSERT INTO members (guild_id, user_id, photo_hash, banned_photo, updated_at)
			VALUES (?, ?, ?, 1, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, user_id) DO UPDATE
			    SET photo_hash = excluded.photo_hash, banned_photo = 1, updated_at = CURRENT_TIMESTAMP`,
		guildID, userID, hash,
	)
	return err
}

// BannedPhotoHashes returns banned hashes grouped by guild.
func (c *SQLite) BannedPhotoHashes(ctx context.Context) (map[string][]string, error) {
	rows, err := c.db.QueryContext(
		ctx,
		`SELECT guild_id, photo_hash FROM members WHERE banned_photo = 1 AND photo_hash IS NOT NULL`,
	)
	if err != nil {
		return nil, fmt.Errorf("querying banned photos: %w", err)
	}
	defer func() { _ = rows.Close() }()

	res := make(map[string][]string)
	for rows.Next() {
		var guildID, hash string
		if err = rows.Scan(&guildID, &hash); err != nil {
			return nil, fmt.Errorf("scanning banned photo: %w", err)
		}
		res[guildID] = append(res[guildID], hash)
	}

	return res, rows.Err()
}

// AddMessageCounts increments stored message counters in a single transaction.
func (c *SQLite) AddMessageCounts(ctx context.Context, counts map[e.MemberKey]int) error {
	if len(counts) == 0 {
		return nil
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(
		ctx,
		`INSERT INTO members (guild_id, user_id, msg_count, updated_at)
			VALUES (?, ?, ?, CURRENT_TIMESTAMP)
			ON CONFLICT(guild_id, user_id) DO UPDATE
			    SET msg_count = msg_count + excluded.msg_count, updated_at = CURRENT_TIMESTAMP`,
	)
	if err != nil {
		return fmt.Errorf("preparing statement: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for key, n := range counts {
		if _, err = stmt.ExecContext(ctx, key.GuildID, key.MemberID, n); err != nil {
			return fmt.Errorf("incrementing %s: %w", key, err)
		}
	}

	return tx.Commit()
}

func (c *SQLite) MessageCount(ctx context.Context, key e.MemberKey) (int, error) {
	var n int
	err := c.db.QueryRowContext(
		ctx,
		"SELECT msg_count FROM members WHERE guild_id = ? AND user_id = ?",
		key.GuildID, key.MemberID,
	).Scan(&n)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, nil
		}

		return 0, err
	}

	return n, nil
}

func (c *SQLite) SaveReport(ctx context.Context, r e.Report) error {
	candidates, err := json.Marshal(r.Candidates)
	if err != nil {
		return fmt.Errorf("marshaling candidates: %w", err)
	}

	var resolvedAt *time.Time
	if !r.ResolvedAt.IsZero() {
		resolvedAt = &r.ResolvedAt
	}

	createdAt := r.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	_, err = c.db.ExecContext(
		ctx,
		`INSERT INTO reports (
			guild_id, message_id, channel_id, kind, state, source_channel_id, source_message_id,
			reporter_id, image_url, transcript, manual_review, candidate_id, candidates,
			resolved_by, resolved_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(guild_id, message_id) DO UPDATE SET
			state = excluded.state,
			candidate_id = excluded.candidate_id,
			candidates = excluded.candidates,
			resolved_by = excluded.resolved_by,
			resolved_at = excluded.resolved_at`,
		r.GuildID, r.MessageID, r.ChannelID, string(r.Kind), string(r.State),
		r.SourceChannelID, r.SourceMessageID, r.ReporterID, r.ImageURL, r.Transcript,
		r.ManualReview, r.CandidateID, string(candidates), r.ResolvedBy, resolvedAt, createdAt,
	)
	return err
}

func (c *SQLite) GetReport(ctx context.Context, guildID, messageID string) (e.Report, error) {
	var (
		r          e.Report
		kind       string
		state      string
		candidates string
		resolvedAt sql.NullTime
	)

	err := c.db.QueryRowContext(
		ctx,
		`SELECT guild_id, message_id, channel_id, kind, state, source_channel_id, source_message_id,
			reporter_id, image_url, transcript, manual_review, candidate_id, candidates,
			resolved_by, resolved_at, created_at
		FROM reports WHERE guild_id = ? AND message_id = ?`,
		guildID, messageID,
	).Scan(
		&r.GuildID, &r.MessageID, &r.ChannelID, &kind, &state, &r.SourceChannelID, &r.SourceMessageID,
		&r.ReporterID, &r.ImageURL, &r.Transcript, &r.ManualReview, &r.CandidateID, &candidates,
		&r.ResolvedBy, &resolvedAt, &r.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return e.Report{}, ErrNotFound
		}
		return e.Report{}, fmt.Errorf("querying report: %w", err)
	}

	r.Kind = e.ReportKind(kind)
	r.State = e.ReportState(state)
	if resolvedAt.Valid {
		r.ResolvedAt = resolvedAt.Time
	}
	if err = json.Unmarshal([]byte(candidates), &r.Candidates); err != nil {
		return e.Report{}, fmt.Errorf("unmarshaling candidates: %w", err)
	}

	return r, nil
}

//go:embed init.sql
var initQuery string

func (c *SQLite) init(ctx context.Context) error {
	_, err := c.db.ExecContext(ctx, initQuery)
	return err
}
