package service

import (
	"context"
	"net/url"
	"strings"

	"planner/internal/model"
)

// EndpointStore persists push subscriptions.
type EndpointStore interface {
	Upsert(ctx context.Context, ep *model.PushEndpoint) error
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// SubscriptionService registers browser push endpoints.
type SubscriptionService struct {
	repo EndpointStore
}

func NewSubscriptionService(repo EndpointStore) *SubscriptionService {
	return &SubscriptionService{repo: repo}
}

func (s *SubscriptionService) Register(ctx context.Context, endpoint, p256dh, auth string) (*model.PushEndpoint, error) {
	endpoint = strings.TrimSpace(endpoint)
	u, err := url.Parse(endpoint)
	if err != nil || (u.Scheme != "https" && u.Scheme != "http") || u.Host == "" {
		return nil, invalidf("endpoint must be an absolute http(s) URL")
	}
	if strings.TrimSpace(p256dh) == "" || strings.TrimSpace(auth) == "" {
		return nil, invalidf("subscription keys are required")
	}

	ep := &model.PushEndpoint{Endpoint: endpoint, P256dh: strings.TrimSpace(p256dh), Auth: strings.TrimSpace(auth)}
	if err := s.repo.Upsert(ctx, ep); err != nil {
		return nil, err
	}
	return ep, nil
}

func (s *SubscriptionService) Unregister(ctx context.Context, endpoint string) error {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return invalidf("endpoint is required")
	}
	return s.repo.DeleteByEndpoint(ctx, endpoint)
}
