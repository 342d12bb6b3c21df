package services

import (
	"context"
	"sync"
	"time"

	"couple-cook-backend/internal/repository"

	"github.com/rs/zerolog/log"
)

const (
	EventPartnershipJoined = "partnership_joined"
	EventPartnershipLeft   = "partnership_left"
	EventRecipeChanged     = "recipe_changed"
)

// pushTimeout bounds one background push, including the token lookup
const pushTimeout = 10 * time.Second

// Event tells a client that shared state changed and should be refetched
type Event struct {
	Type          string
	ActorID       string
	PartnershipID string
	RecipeID      string
}

// Notifier delivers events to a user
type Notifier interface {
	Notify(ctx context.Context, userID string, event Event)
}

// Dispatcher sends events over the user's WebSocket when connected, and as a
// push notification otherwise. Pushes run in the background so the request
// that caused the event never waits on APNs. Delivery is best effort.
type Dispatcher struct {
	hub    *WSHub
	pusher Pusher
	users  *repository.UserRepository

	pushes sync.WaitGroup
}

// NewDispatcher creates a new dispatcher
func NewDispatcher(hub *WSHub, pusher Pusher, users *repository.UserRepository) *Dispatcher {
	if pusher == nil {
		pusher = NoopPusher{}
	}
	return &Dispatcher{hub: hub, pusher: pusher, users: users}
}

// Notify delivers one event
func (d *Dispatcher) Notify(ctx context.Context, userID string, event Event) {
	if userID == "" {
		return
	}

	if d.hub.IsOnline(userID) {
		err := d.hub.SendToUser(userID, WSMessage{
			Type:          event.Type,
			ActorID:       event.ActorID,
			PartnershipID: event.PartnershipID,
			RecipeID:      event.RecipeID,
		})
		notificationsSent.WithLabelValues("websocket", outcome(err)).Inc()
		if err == nil {
			return
		}
		log.Warn().Err(err).Str("user_id", userID).Msg("Falling back to push notification")
	}

	// The push outlives the request, so it keeps ctx values but not its
	// cancellation.
	pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), pushTimeout)
	d.pushes.Add(1)
	go func() {
		defer d.pushes.Done()
		defer cancel()
		d.push(pushCtx, userID, event)
	}()
}

// Wait blocks until every background push has finished
func (d *Dispatcher) Wait() {
	d.pushes.Wait()
}

func (d *Dispatcher) push(ctx context.Context, userID string, event Event) {
	user, err := d.users.GetByID(ctx, userID, false)
	if err != nil {
		log.Warn().Err(err).Str("user_id", userID).Msg("Failed to load user for push notification")
		return
	}
	if user.PushToken == nil || *user.PushToken == "" {
		return
	}

	err = d.pusher.Push(ctx, *user.PushToken, pushFor(event))
	notificationsSent.WithLabelValues("apns", outcome(err)).Inc()
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Str("event", event.Type).Msg("Failed to push notification")
	}
}

func pushFor(event Event) PushNotification {
	n := PushNotification{Event: event.Type}
	switch event.Type {
	case EventPartnershipJoined:
		n.Title = "You're connected"
		n.Body = "Your partner joined. Start cooking together!"
	case EventPartnershipLeft:
		n.Title = "Partnership ended"
		n.Body = "Your partner disconnected. Shared recipes stay in your journal."
	case EventRecipeChanged:
		n.Title = "Recipe updated"
		n.Body = "Your partner updated a shared recipe."
	}
	return n
}

// nopNotifier discards events
type nopNotifier struct{}

func (nopNotifier) Notify(context.Context, string, Event) {}
