package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/jessevdk/go-flags"
	"nuclight.org/gatekeeper/app/config"
	"nuclight.org/gatekeeper/app/discord"
	"nuclight.org/gatekeeper/app/storage"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/phash"
)

var opts struct {
	DBPath       string  `long:"db-path" env:"DB_PATH" required:"true" description:"path to the sqlite database file"`
	PolicyPath   string  `long:"policy-path" env:"POLICY_PATH" required:"true" description:"path to the guild policy yaml file"`
	DiscordToken string  `long:"discord-token" env:"DISCORD_TOKEN" required:"true" description:"discord bot token"`
	ImageKitKey  string  `long:"imagekit-key" env:"IMAGEKIT_PRIVATE_KEY" required:"true" description:"imagekit private key"`
	ImageKitRPS  float64 `long:"imagekit-rps" env:"IMAGEKIT_RPS" default:"5" description:"photo hash requests per second"`
	GuildID      string  `long:"guild" env:"GUILD_ID" required:"true" description:"guild to sweep"`
	Workers      int     `long:"workers" env:"SWEEP_WORKERS" default:"5" description:"number of concurrent hash workers"`
	BatchSize    int     `long:"batch" env:"SWEEP_BATCH" default:"100" description:"hashes saved per database batch"`
	LogLevel     string  `long:"log-level" env:"LOG_LEVEL" default:"info" description:"debug, info, warn or error"`
}

var (
	wg      sync.WaitGroup
	hashed  int64
	skipped int64
	failed  int64
)

type match struct {
	member  e.Member
	hash    string
	matched string
}

func main() {
	_, err := flags.Parse(&opts)
	if err != nil {
		os.Exit(1)
	}

	log := logger.NewLogger(opts.LogLevel)
	log.Info("starting photo sweep", "guild_id", opts.GuildID)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	db, err := storage.NewSQLite(ctx, opts.DBPath)
	if err != nil {
		log.Error("creating sqlite3 database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("closing sqlite3 database", "error", err)
		}
	}()

	banned, err := bannedHashes(ctx, db)
	if err != nil {
		log.Error("loading banned photo hashes", "error", err)
		os.Exit(1)
	}

	client, err := discord.NewREST(log, opts.DiscordToken)
	if err != nil {
		log.Error("creating discord client", "error", err)
		os.Exit(1)
	}

	members, err := client.Members(ctx, opts.GuildID)
	if err != nil {
		log.Error("listing guild members", "error", err)
		os.Exit(1)
	}

	log.Info("members loaded", "count", len(members), "banned_hashes", len(banned))

	hasher := phash.NewClient(opts.ImageKitKey, &http.Client{Timeout: 30 * time.Second}, phash.Options{RPS: opts.ImageKitRPS})

	memberChan := make(chan e.Member, len(members))
	for _, m := range members {
		memberChan <- m
	}
	close(memberChan)

	var (
		mu      sync.Mutex
		batch   []e.PhotoHash
		matches []match
	)

	flush := func(force bool) {
		mu.Lock()
		defer mu.Unlock()

		if len(batch) == 0 || (!force && len(batch) < opts.BatchSize) {
			return
		}

		if err := db.SavePhotoHashes(ctx, batch); err != nil {
			log.Error("saving photo hashes", "error", err, "count", len(batch))
		} else {
			log.Debug("photo hashes saved", "count", len(batch))
		}
		batch = nil
	}

	for i := 0; i < opts.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for m := range memberChan {
				select {
				case <-ctx.Done():
					return
				default:
				}

				if m.Bot {
					atomic.AddInt64(&skipped, 1)
					continue
				}

				hash := phash.DefaultAvatarHash(m.DefaultAvatar)
				if !m.HasDefaultAvatar() {
					var err error
					hash, err = hasher.Hash(ctx, m.AvatarURL)
					if err != nil {
						log.Error("hashing avatar", "error", err, "user_id", m.ID)
						atomic.AddInt64(&failed, 1)
						continue
					}
				}

				mu.Lock()
				batch = append(batch, e.PhotoHash{GuildID: m.GuildID, UserID: m.ID, Hash: hash})
				if matched, ok := phash.Matches(hash, banned); ok {
					matches = append(matches, match{member: m, hash: hash, matched: matched})
				}
				mu.Unlock()

				flush(false)

				if n := atomic.AddInt64(&hashed, 1); n%100 == 0 {
					log.Info("progress", "hashed", n, "of", len(members))
				}
			}
		}()
	}

	wg.Wait()
	flush(true)

	for _, m := range matches {
		log.Warn("banned photo match",
			"user_id", m.member.ID,
			"name", m.member.Name,
			"hash", m.hash,
			"matched", m.matched,
			"distance", phash.Distance(m.hash, m.matched),
		)
	}

	log.Info("done",
		"hashed", hashed,
		"skipped", skipped,
		"failed", failed,
		"matches", len(matches),
	)
}

func bannedHashes(ctx context.Context, db *storage.SQLite) (map[string]struct{}, error) {
	f, err := config.NewFileFromPath(opts.PolicyPath)
	if err != nil {
		return nil, err
	}

	extra, err := db.BannedPhotoHashes(ctx)
	if err != nil {
		return nil, err
	}

	policies, err := f.Policies(extra)
	if err != nil {
		return nil, err
	}

	policy, ok := policies[opts.GuildID]
	if !ok {
		return map[string]struct{}{}, nil
	}

	return policy.BannedPhotoHashes, nil
}
