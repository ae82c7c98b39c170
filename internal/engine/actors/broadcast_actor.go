package actors

import (
	stdctx "context"
	"log/slog"

	"gator-forum/internal/models"
	"gator-forum/internal/notify"

	"github.com/asynkron/protoactor-go/actor"
)

// Broadcaster is the delivery side the actors drive.
type Broadcaster interface {
	PushVoteUpdate(update models.VoteUpdate) error
	PushAchievements(unlock models.AchievementUnlock) error
	NotifySpecificUsers(ctx stdctx.Context, communityKey string, usernames []string, requiredPreference, message, relatedID string) (*notify.Delivery, error)
	NotifyOnlineUsersInCommunity(ctx stdctx.Context, communityKey, requiredPreference, message string, exclude []string, relatedID string) (*notify.Delivery, error)
}

// Message types
type (
	// Fire-and-forget, sent after a vote commits.
	PushVoteUpdateMsg struct {
		Update models.VoteUpdate
	}

	// Fire-and-forget, sent for every user who unlocked something.
	PushAchievementsMsg struct {
		Unlock models.AchievementUnlock
	}

	NotifyUsersMsg struct {
		CommunityKey       string
		Usernames          []string
		RequiredPreference string
		Message            string
		RelatedID          string
	}

	NotifyCommunityMsg struct {
		CommunityKey       string
		RequiredPreference string
		Message            string
		Exclude            []string
		RelatedID          string
	}

	GetBroadcastStatsMsg struct{}

	// Sent by the notify child after each fan-out.
	notifiedMsg struct {
		Count int
	}
)

// BroadcastStats counts what the actors have pushed since they started.
type BroadcastStats struct {
	VoteUpdates  int
	Stale        int
	Achievements int
	Notified     int
	Failures     int
}

// BroadcastActor pushes post-commit events so request handlers never wait on
// sockets. Notify requests are forwarded to a child so a large fan-out never
// holds up vote updates queued behind it.
type BroadcastActor struct {
	broadcaster Broadcaster
	logger      *slog.Logger
	stats       BroadcastStats
	notifier    *actor.PID

	// Highest sequence pushed per room.
	lastSeq map[string]int64
}

func NewBroadcastActor(broadcaster Broadcaster, logger *slog.Logger) actor.Actor {
	if logger == nil {
		logger = slog.Default()
	}
	return &BroadcastActor{
		broadcaster: broadcaster,
		logger:      logger.With("component", "broadcast_actor"),
		lastSeq:     make(map[string]int64),
	}
}

func (a *BroadcastActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *actor.Started:
		a.notifier = context.Spawn(actor.PropsFromProducer(func() actor.Actor {
			return newNotifyActor(a.broadcaster, a.logger)
		}))
		a.logger.Debug("broadcast actor started", "pid", context.Self().Id)

	case *PushVoteUpdateMsg:
		a.pushVoteUpdate(msg.Update)

	case *PushAchievementsMsg:
		if err := a.broadcaster.PushAchievements(msg.Unlock); err != nil {
			a.stats.Failures++
			return
		}
		a.stats.Achievements++

	case *NotifyUsersMsg, *NotifyCommunityMsg:
		context.Forward(a.notifier)

	case *notifiedMsg:
		a.stats.Notified += msg.Count

	case *GetBroadcastStatsMsg:
		context.Respond(a.stats)
	}
}

// pushVoteUpdate drops snapshots older than one already sent to the room.
// Commits can reach the mailbox out of order; subscribers must never end on a
// stale count. Unsequenced updates always go out.
func (a *BroadcastActor) pushVoteUpdate(update models.VoteUpdate) {
	room := update.Room()
	if update.Seq > 0 {
		if update.Seq <= a.lastSeq[room] {
			a.stats.Stale++
			a.logger.Debug("stale vote update dropped", "room", room, "seq", update.Seq, "last", a.lastSeq[room])
			return
		}
		a.lastSeq[room] = update.Seq
	}

	if err := a.broadcaster.PushVoteUpdate(update); err != nil {
		a.stats.Failures++
		return
	}
	a.stats.VoteUpdates++
}
