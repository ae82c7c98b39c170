package actors

import (
	stdctx "context"
	"log/slog"

	"gator-forum/internal/notify"

	"github.com/asynkron/protoactor-go/actor"
)

// notifyActor runs notification fan-outs one at a time, off the vote-push
// mailbox. The Broadcaster bounds each recipient with its own persist timeout;
// the fan-out as a whole has no deadline.
type notifyActor struct {
	broadcaster Broadcaster
	logger      *slog.Logger
}

func newNotifyActor(broadcaster Broadcaster, logger *slog.Logger) actor.Actor {
	return &notifyActor{
		broadcaster: broadcaster,
		logger:      logger.With("component", "notify_actor"),
	}
}

func (a *notifyActor) Receive(context actor.Context) {
	switch msg := context.Message().(type) {
	case *NotifyUsersMsg:
		delivery, err := a.broadcaster.NotifySpecificUsers(stdctx.Background(), msg.CommunityKey, msg.Usernames, msg.RequiredPreference, msg.Message, msg.RelatedID)
		a.respond(context, delivery, err)

	case *NotifyCommunityMsg:
		delivery, err := a.broadcaster.NotifyOnlineUsersInCommunity(stdctx.Background(), msg.CommunityKey, msg.RequiredPreference, msg.Message, msg.Exclude, msg.RelatedID)
		a.respond(context, delivery, err)
	}
}

func (a *notifyActor) respond(context actor.Context, delivery *notify.Delivery, err error) {
	if delivery != nil && len(delivery.Stored) > 0 {
		context.Send(context.Parent(), &notifiedMsg{Count: len(delivery.Stored)})
	}
	if err != nil {
		a.logger.Error("notification delivery failed", "error", err)
		context.Respond(err)
		return
	}
	context.Respond(delivery)
}
