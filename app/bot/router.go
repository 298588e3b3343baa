// Package bot routes platform events to the moderation services.
package bot

import (
	"context"

	"nuclight.org/gatekeeper/app/platform"
	"nuclight.org/gatekeeper/app/tasks"
	e "nuclight.org/gatekeeper/pkg/entities"
	"nuclight.org/gatekeeper/pkg/logger"
	"nuclight.org/gatekeeper/pkg/waiter"
)

type JoinHandler interface {
	HandleJoin(ctx context.Context, member e.Member) error
	HandleMemberUpdate(ctx context.Context, before *e.Member, after e.Member) error
}

type ReportHandler interface {
	HandleMessage(ctx context.Context, msg e.Message) error
	HandleReaction(ctx context.Context, ev platform.ReactionAdded) error
}

type CommandHandler interface {
	HandleMessage(ctx context.Context, msg e.Message) (bool, error)
}

type ActivityRecorder interface {
	Record(key e.MemberKey)
}

// Router fans an event out to the waiter hubs first, so that tasks blocked
// on a reply see it, then runs the matching handler as its own task.
type Router struct {
	Log          logger.Logger
	Verification JoinHandler
	Reports      ReportHandler
	Commands     CommandHandler
	Activity     ActivityRecorder
	Tasks        *tasks.Group

	Messages  *waiter.Hub[platform.MessageCreated]
	Reactions *waiter.Hub[platform.ReactionAdded]
	Buttons   *waiter.Hub[platform.ButtonPressed]
}

func (r *Router) HandleEvent(ctx context.Context, ev platform.Event) {
	switch ev := ev.(type) {
	case platform.MemberJoined:
		r.Tasks.Go("member-joined", func() {
			if err := r.Verification.HandleJoin(ctx, ev.Member); err != nil {
				r.Log.Error("handling join", "guild_id", ev.Member.GuildID, "user_id", ev.Member.ID, "error", err)
			}
		})

	case platform.MemberUpdated:
		r.Tasks.Go("member-updated", func() {
			if err := r.Verification.HandleMemberUpdate(ctx, ev.Before, ev.After); err != nil {
				r.Log.Error("handling member update", "guild_id", ev.After.GuildID, "user_id", ev.After.ID, "error", err)
			}
		})

	case platform.MessageCreated:
		r.Messages.Publish(ev)

		msg := ev.Message
		if !msg.Author.Bot && r.Activity != nil {
			r.Activity.Record(msg.Author.Key())
		}

		r.Tasks.Go("message-created", func() {
			r.handleMessage(ctx, msg)
		})

	case platform.ReactionAdded:
		r.Reactions.Publish(ev)

		r.Tasks.Go("reaction-added", func() {
			if err := r.Reports.HandleReaction(ctx, ev); err != nil {
				r.Log.Error("handling reaction", "guild_id", ev.GuildID, "message_id", ev.MessageID, "error", err)
			}
		})

	case platform.ButtonPressed:
		if n := r.Buttons.Publish(ev); n == 0 {
			r.Log.Debug("button press without waiter", "guild_id", ev.GuildID, "button_id", ev.ButtonID)
		}

	default:
		r.Log.Warn("unknown event", "guild_id", ev.Guild())
	}
}

func (r *Router) handleMessage(ctx context.Context, msg e.Message) {
	log := r.Log.With("guild_id", msg.GuildID, "message_id", msg.ID)

	if r.Commands != nil {
		handled, err := r.Commands.HandleMessage(ctx, msg)
		if err != nil {
			log.Error("handling command", "error", err)
		}
		if handled {
			return
		}
	}

	if err := r.Reports.HandleMessage(ctx, msg); err != nil {
		log.Error("handling message", "error", err)
	}
}

// Wait blocks until every dispatched handler returned.
func (r *Router) Wait() {
	r.Tasks.Wait()
}
