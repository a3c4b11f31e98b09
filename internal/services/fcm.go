package services

import (
	"context"
	"encoding/base64"
	"fmt"
	"time"

	firebase "firebase.google.com/go/v4"
	"firebase.google.com/go/v4/messaging"
	log "github.com/sirupsen/logrus"
	"google.golang.org/api/option"

	"fleet-tracker/internal/notify"
)

// fcmSendTimeout bounds one push so a slow FCM call never holds up tracking
const fcmSendTimeout = 10 * time.Second

// messageSender is the part of the FCM client the notifier uses
type messageSender interface {
	Send(ctx context.Context, message *messaging.Message) (string, error)
}

// FCMNotifier pushes user notices to the driver's phone through Firebase
// Cloud Messaging. It implements notify.Notifier.
type FCMNotifier struct {
	client messageSender
	token  string
}

// NewFCMNotifier creates a notifier from a credentials file
func NewFCMNotifier(ctx context.Context, credentialsFile, deviceToken string) (*FCMNotifier, error) {
	return newFCMNotifier(ctx, option.WithCredentialsFile(credentialsFile), deviceToken)
}

// NewFCMNotifierFromBase64 creates a notifier from base64-encoded credentials
// This is useful for deployments where a credentials file can't be mounted
func NewFCMNotifierFromBase64(ctx context.Context, credentialsBase64, deviceToken string) (*FCMNotifier, error) {
	credentialsJSON, err := base64.StdEncoding.DecodeString(credentialsBase64)
	if err != nil {
		return nil, fmt.Errorf("error decoding base64 credentials: %w", err)
	}
	return newFCMNotifier(ctx, option.WithCredentialsJSON(credentialsJSON), deviceToken)
}

func newFCMNotifier(ctx context.Context, opt option.ClientOption, deviceToken string) (*FCMNotifier, error) {
	if deviceToken == "" {
		return nil, fmt.Errorf("FCM device token is required")
	}

	app, err := firebase.NewApp(ctx, nil, opt)
	if err != nil {
		return nil, fmt.Errorf("error initializing Firebase app: %w", err)
	}

	client, err := app.Messaging(ctx)
	if err != nil {
		return nil, fmt.Errorf("error getting messaging client: %w", err)
	}

	return &FCMNotifier{client: client, token: deviceToken}, nil
}

// Notify sends n as a push notification. Failures are logged, never returned.
func (s *FCMNotifier) Notify(ctx context.Context, n notify.Notice) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), fcmSendTimeout)
	defer cancel()

	response, err := s.client.Send(ctx, buildMessage(s.token, n))
	if err != nil {
		log.WithField("kind", n.Kind).Warnf("⚠️  error sending FCM message: %v", err)
		return
	}
	log.WithField("kind", n.Kind).Debugf("✅ FCM notification sent: %s", response)
}

func buildMessage(token string, n notify.Notice) *messaging.Message {
	priority := "normal"
	if n.Level == notify.LevelError {
		priority = "high"
	}

	return &messaging.Message{
		Token: token,
		Notification: &messaging.Notification{
			Title: n.Title,
			Body:  n.Message,
		},
		Data: map[string]string{
			"type":  n.Kind,
			"level": string(n.Level),
		},
		Android: &messaging.AndroidConfig{
			Priority: priority,
		},
		APNS: &messaging.APNSConfig{
			Payload: &messaging.APNSPayload{
				Aps: &messaging.Aps{
					ContentAvailable: true,
					Sound:            "default",
				},
			},
		},
	}
}
