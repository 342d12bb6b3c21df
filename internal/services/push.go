package services

import (
	"context"
	"fmt"

	"github.com/sideshow/apns2"
	"github.com/sideshow/apns2/payload"
	"github.com/sideshow/apns2/token"
)

// PushNotification is an alert delivered to a device that has no live socket
type PushNotification struct {
	Title string
	Body  string
	Event string
}

// Pusher delivers device notifications
type Pusher interface {
	Push(ctx context.Context, deviceToken string, n PushNotification) error
}

// APNsPusher sends notifications through Apple Push Notification service
// using token-based authentication
type APNsPusher struct {
	client *apns2.Client
	topic  string
}

// NewAPNsPusher creates a pusher from a .p8 signing key
func NewAPNsPusher(keyPath, keyID, teamID, topic string, production bool) (*APNsPusher, error) {
	authKey, err := token.AuthKeyFromFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load APNs key: %w", err)
	}

	client := apns2.NewTokenClient(&token.Token{
		AuthKey: authKey,
		KeyID:   keyID,
		TeamID:  teamID,
	})
	if production {
		client = client.Production()
	} else {
		client = client.Development()
	}

	return &APNsPusher{client: client, topic: topic}, nil
}

// Push sends one alert
func (p *APNsPusher) Push(ctx context.Context, deviceToken string, n PushNotification) error {
	notification := &apns2.Notification{
		DeviceToken: deviceToken,
		Topic:       p.topic,
		Payload: payload.NewPayload().
			AlertTitle(n.Title).
			AlertBody(n.Body).
			Sound("default").
			Custom("event", n.Event),
	}

	res, err := p.client.PushWithContext(ctx, notification)
	if err != nil {
		return fmt.Errorf("failed to push notification: %w", err)
	}
	if !res.Sent() {
		return fmt.Errorf("push rejected: %d %s", res.StatusCode, res.Reason)
	}
	return nil
}

// NoopPusher drops every notification. It is used when no APNs key is configured.
type NoopPusher struct{}

func (NoopPusher) Push(context.Context, string, PushNotification) error { return nil }
