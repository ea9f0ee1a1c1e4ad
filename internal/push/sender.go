package push

import (
	"context"
	"encoding/json"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"github.com/convo/internal/logger"
	"github.com/convo/internal/repository"
)

// Sender delivers Web Push notifications to a user's subscribed browsers.
// Used for direct messages whose recipient has no live connection.
type Sender struct {
	repo  *repository.PushRepository
	vapid *webpush.Options
}

// NewSender builds a Sender. subject identifies the sender to push
// services (mailto: or https: URL per the VAPID spec).
func NewSender(repo *repository.PushRepository, subject, keysFile string) (*Sender, error) {
	keys, err := EnsureVAPIDKeys(keysFile)
	if err != nil {
		return nil, err
	}
	return &Sender{
		repo: repo,
		vapid: &webpush.Options{
			Subscriber:      subject,
			VAPIDPublicKey:  keys.PublicKey,
			VAPIDPrivateKey: keys.PrivateKey,
			TTL:             3600,
		},
	}, nil
}

// PublicKey returns the VAPID public key browsers subscribe with.
func (s *Sender) PublicKey() string {
	return s.vapid.VAPIDPublicKey
}

// Notify sends the notification to every subscription the user has.
// Errors are logged; delivery is best-effort.
func (s *Sender) Notify(ctx context.Context, userID, title, body string, data map[string]string) {
	subs, err := s.repo.ForUser(ctx, userID)
	if err != nil {
		logger.Errorf("push notify user=%s: %v", userID, err)
		return
	}
	if len(subs) == 0 {
		return
	}
	payload, _ := json.Marshal(map[string]any{"title": title, "body": body, "data": data})
	for _, sub := range subs {
		wpSub := &webpush.Subscription{
			Endpoint: sub.Endpoint,
			Keys:     webpush.Keys{P256dh: sub.P256dh, Auth: sub.Auth},
		}
		sendCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
		resp, err := webpush.SendNotificationWithContext(sendCtx, payload, wpSub, s.vapid)
		cancel()
		if err != nil {
			logger.Errorf("push send user=%s: %v", userID, err)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode == 410 || resp.StatusCode == 404 {
			// Endpoint gone: drop the stale subscription.
			if err := s.repo.Delete(ctx, userID, sub.Endpoint); err != nil {
				logger.Errorf("push drop stale sub user=%s: %v", userID, err)
			}
		}
	}
}
