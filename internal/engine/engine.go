package engine

import (
	"context"
	"log/slog"
	"time"

	"gator-forum/internal/engine/actors"
	"gator-forum/internal/models"
	"gator-forum/internal/notify"
	"gator-forum/internal/utils"

	"github.com/asynkron/protoactor-go/actor"
)

// Engine coordinates communication between actors
type Engine struct {
	system         *actor.ActorSystem
	broadcastActor *actor.PID
	timeout        time.Duration
}

// NewEngine spawns the broadcast actor. timeout bounds Stats and any notify
// call whose context carries no deadline.
func NewEngine(system *actor.ActorSystem, broadcaster actors.Broadcaster, timeout time.Duration, logger *slog.Logger) *Engine {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	props := actor.PropsFromProducer(func() actor.Actor {
		return actors.NewBroadcastActor(broadcaster, logger)
	})

	return &Engine{
		system:         system,
		broadcastActor: system.Root.Spawn(props),
		timeout:        timeout,
	}
}

// PublishVoteUpdate hands the update to the actor and returns immediately.
func (e *Engine) PublishVoteUpdate(update models.VoteUpdate) {
	e.system.Root.Send(e.broadcastActor, &actors.PushVoteUpdateMsg{Update: update})
}

// PublishAchievements hands the unlock to the actor and returns immediately.
func (e *Engine) PublishAchievements(unlock models.AchievementUnlock) {
	e.system.Root.Send(e.broadcastActor, &actors.PushAchievementsMsg{Unlock: unlock})
}

func (e *Engine) NotifySpecificUsers(ctx context.Context, communityKey string, usernames []string, requiredPreference, message, relatedID string) (*notify.Delivery, error) {
	return e.requestDelivery(ctx, &actors.NotifyUsersMsg{
		CommunityKey:       communityKey,
		Usernames:          usernames,
		RequiredPreference: requiredPreference,
		Message:            message,
		RelatedID:          relatedID,
	})
}

func (e *Engine) NotifyOnlineUsersInCommunity(ctx context.Context, communityKey, requiredPreference, message string, exclude []string, relatedID string) (*notify.Delivery, error) {
	return e.requestDelivery(ctx, &actors.NotifyCommunityMsg{
		CommunityKey:       communityKey,
		RequiredPreference: requiredPreference,
		Message:            message,
		Exclude:            exclude,
		RelatedID:          relatedID,
	})
}

// requestDelivery waits for the fan-out until ctx ends. Records keep being
// stored after the caller gives up.
func (e *Engine) requestDelivery(ctx context.Context, msg interface{}) (*notify.Delivery, error) {
	if err := ctx.Err(); err != nil {
		return nil, utils.NewPersistenceError("request cancelled", err)
	}
	wait := e.timeout
	if deadline, ok := ctx.Deadline(); ok {
		wait = time.Until(deadline)
	}

	type reply struct {
		result interface{}
		err    error
	}
	future := e.system.Root.RequestFuture(e.broadcastActor, msg, wait)
	done := make(chan reply, 1)
	go func() {
		result, err := future.Result()
		done <- reply{result, err}
	}()

	var r reply
	select {
	case r = <-done:
	case <-ctx.Done():
		return nil, utils.NewPersistenceError("request cancelled", ctx.Err())
	}
	if r.err != nil {
		return nil, utils.NewPersistenceError("notification actor did not reply", r.err)
	}

	switch v := r.result.(type) {
	case *notify.Delivery:
		return v, nil
	case error:
		return nil, v
	default:
		return nil, utils.NewPersistenceError("unexpected notification reply", nil)
	}
}

// Stats asks the broadcast actor for its counters.
func (e *Engine) Stats() (actors.BroadcastStats, error) {
	result, err := e.system.Root.RequestFuture(e.broadcastActor, &actors.GetBroadcastStatsMsg{}, e.timeout).Result()
	if err != nil {
		return actors.BroadcastStats{}, err
	}
	stats, _ := result.(actors.BroadcastStats)
	return stats, nil
}

// Stop drains the broadcast actor's mailbox and stops it with its notify child.
func (e *Engine) Stop() {
	if err := e.system.Root.PoisonFuture(e.broadcastActor).Wait(); err != nil {
		slog.Warn("broadcast actor did not stop cleanly", "error", err)
	}
}
