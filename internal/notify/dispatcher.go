// Package notify fans reminder pushes out to endpoints and sends messages
// over the messaging channel.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"planner/internal/model"
)

// PushSender delivers one payload to one push endpoint.
type PushSender interface {
	SendPush(ctx context.Context, ep model.PushEndpoint, payload []byte) error
}

// Messenger delivers a text message to an address.
type Messenger interface {
	SendMessage(ctx context.Context, address, text string) error
}

// EndpointPruner removes endpoints that failed permanently.
type EndpointPruner interface {
	DeleteByEndpoint(ctx context.Context, endpoint string) error
}

// Payload is the JSON document a push endpoint receives.
type Payload struct {
	Title string      `json:"title"`
	Body  string      `json:"body"`
	Data  PayloadData `json:"data"`
}

type PayloadData struct {
	TaskID string `json:"taskId"`
	URL    string `json:"url"`
}

// Result is the outcome of a send to a single endpoint.
type Result struct {
	Endpoint  string
	Delivered bool
	Permanent bool
	Pruned    bool
	Err       error
}

type Config struct {
	RatePerSec int
}

// Dispatcher sends notifications through the configured transports.
type Dispatcher struct {
	push      PushSender
	messenger Messenger
	pruner    EndpointPruner
	limiter   *rate.Limiter
	log       zerolog.Logger
}

func NewDispatcher(cfg Config, push PushSender, messenger Messenger, pruner EndpointPruner, log zerolog.Logger) *Dispatcher {
	rps := cfg.RatePerSec
	if rps <= 0 {
		rps = 10
	}
	return &Dispatcher{
		push:      push,
		messenger: messenger,
		pruner:    pruner,
		limiter:   rate.NewLimiter(rate.Limit(rps), rps),
		log:       log.With().Str("component", "dispatcher").Logger(),
	}
}

// PushEnabled reports whether a push transport is configured.
func (d *Dispatcher) PushEnabled() bool { return d.push != nil }

// MessagingEnabled reports whether a messaging transport is configured.
func (d *Dispatcher) MessagingEnabled() bool { return d.messenger != nil }

// Dispatch sends payload to every endpoint concurrently and waits for all of them.
// Partial failure is reported in the results, never returned as an error.
func (d *Dispatcher) Dispatch(ctx context.Context, payload Payload, endpoints []model.PushEndpoint) []Result {
	results := make([]Result, len(endpoints))
	if len(endpoints) == 0 {
		return results
	}

	body, err := json.Marshal(payload)
	if err != nil {
		// Payload is plain strings; this only fails on programmer error.
		for i, ep := range endpoints {
			results[i] = Result{Endpoint: ep.Endpoint, Err: fmt.Errorf("encode payload: %w", err)}
		}
		return results
	}

	var wg sync.WaitGroup
	wg.Add(len(endpoints))
	for i, ep := range endpoints {
		go func(i int, ep model.PushEndpoint) {
			defer wg.Done()
			results[i] = d.sendOne(ctx, ep, body)
		}(i, ep)
	}
	wg.Wait()
	return results
}

func (d *Dispatcher) sendOne(ctx context.Context, ep model.PushEndpoint, body []byte) Result {
	res := Result{Endpoint: ep.Endpoint}
	if d.push == nil {
		res.Err = ErrNotConfigured
		return res
	}
	if err := d.limiter.Wait(ctx); err != nil {
		res.Err = &DeliveryError{Target: ep.Endpoint, Err: err}
		return res
	}

	start := time.Now()
	err := d.push.SendPush(ctx, ep, body)
	if err == nil {
		res.Delivered = true
		d.log.Debug().Str("endpoint", ep.Endpoint).Dur("took", time.Since(start)).Msg("push delivered")
		return res
	}
	res.Err = err

	if !IsPermanent(err) {
		d.log.Warn().Err(err).Str("endpoint", ep.Endpoint).Msg("push delivery failed")
		return res
	}
	res.Permanent = true
	if d.pruner == nil {
		return res
	}
	if perr := d.pruner.DeleteByEndpoint(ctx, ep.Endpoint); perr != nil {
		d.log.Error().Err(perr).Str("endpoint", ep.Endpoint).Msg("prune endpoint failed")
		return res
	}
	res.Pruned = true
	d.log.Info().Str("endpoint", ep.Endpoint).Msg("removed invalid push endpoint")
	return res
}

// Send delivers text over the messaging channel. Failures are returned, not retried.
func (d *Dispatcher) Send(ctx context.Context, address, text string) error {
	if d.messenger == nil {
		return ErrNotConfigured
	}
	if err := d.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := d.messenger.SendMessage(ctx, address, text); err != nil {
		return err
	}
	return nil
}
