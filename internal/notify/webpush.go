package notify

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	webpush "github.com/SherClockHolmes/webpush-go"

	"planner/internal/model"
)

type WebPushConfig struct {
	Subscriber      string
	VAPIDPublicKey  string
	VAPIDPrivateKey string
	TTL             int
}

// WebPushSender delivers payloads with the Web Push protocol using VAPID.
type WebPushSender struct {
	cfg    WebPushConfig
	client *http.Client
}

func NewWebPushSender(cfg WebPushConfig, client *http.Client) *WebPushSender {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 60
	}
	return &WebPushSender{cfg: cfg, client: client}
}

func (s *WebPushSender) SendPush(ctx context.Context, ep model.PushEndpoint, payload []byte) error {
	sub := &webpush.Subscription{
		Endpoint: ep.Endpoint,
		Keys:     webpush.Keys{P256dh: ep.P256dh, Auth: ep.Auth},
	}
	resp, err := webpush.SendNotificationWithContext(ctx, payload, sub, &webpush.Options{
		HTTPClient:      s.client,
		Subscriber:      s.cfg.Subscriber,
		VAPIDPublicKey:  s.cfg.VAPIDPublicKey,
		VAPIDPrivateKey: s.cfg.VAPIDPrivateKey,
		TTL:             s.cfg.TTL,
	})
	if err != nil {
		return &DeliveryError{Target: ep.Endpoint, Err: err}
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
	return classifyPushStatus(ep.Endpoint, resp.StatusCode)
}

// classifyPushStatus maps a push service response to a delivery outcome.
// 404 and 410 mean the subscription expired or was revoked.
func classifyPushStatus(endpoint string, status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusNotFound || status == http.StatusGone:
		return &DeliveryError{Target: endpoint, StatusCode: status, Permanent: true, Err: fmt.Errorf("subscription expired")}
	default:
		return &DeliveryError{Target: endpoint, StatusCode: status, Err: fmt.Errorf("push service returned %s", http.StatusText(status))}
	}
}
