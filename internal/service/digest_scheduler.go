package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"planner/internal/model"
)

const dayLayout = "2006-01-02"

// DigestProfileStore is the profile store view the digest scheduler needs.
type DigestProfileStore interface {
	ListDigestRecipients(ctx context.Context) ([]model.Profile, error)
	FindByID(ctx context.Context, id string) (*model.Profile, error)
	ClaimDigest(ctx context.Context, id, day string) (bool, error)
}

// DigestTaskStore lists open dated tasks up to a horizon.
type DigestTaskStore interface {
	ListOpenDueBefore(ctx context.Context, until time.Time) ([]model.Task, error)
}

// ClassNamer resolves class names for rendering.
type ClassNamer interface {
	NamesByID(ctx context.Context) (map[string]string, error)
}

// MessageSender delivers text over the messaging channel.
type MessageSender interface {
	Send(ctx context.Context, address, text string) error
}

// TriggerResult is returned by manual digest dispatch.
type TriggerResult struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// DigestScheduler sends each eligible profile one digest per local day.
type DigestScheduler struct {
	profiles DigestProfileStore
	tasks    DigestTaskStore
	classes  ClassNamer
	sender   MessageSender
	now      func() time.Time
	log      zerolog.Logger
}

// DigestOption customises a DigestScheduler.
type DigestOption func(*DigestScheduler)

// WithDigestClock replaces time.Now.
func WithDigestClock(now func() time.Time) DigestOption {
	return func(s *DigestScheduler) { s.now = now }
}

func NewDigestScheduler(profiles DigestProfileStore, tasks DigestTaskStore, classes ClassNamer, sender MessageSender, log zerolog.Logger, opts ...DigestOption) *DigestScheduler {
	s := &DigestScheduler{
		profiles: profiles,
		tasks:    tasks,
		classes:  classes,
		sender:   sender,
		now:      time.Now,
		log:      log.With().Str("component", "digest").Logger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Tick sends digests whose scheduled time for today has passed and that were
// not sent yet today. It returns how many digests were handed to the sender.
func (s *DigestScheduler) Tick(ctx context.Context) (int, error) {
	now := s.now()
	profiles, err := s.profiles.ListDigestRecipients(ctx)
	if err != nil {
		return 0, &StoreQueryError{Op: "list digest recipients", Err: err}
	}

	sent := 0
	for i := range profiles {
		p := &profiles[i]
		if !p.DigestEligible() {
			continue
		}
		due, day, err := digestDue(p, now)
		if err != nil {
			s.log.Warn().Err(err).Str("profile", p.ID).Msg("skipping profile with malformed digest time")
			continue
		}
		if !due {
			continue
		}

		local := now.In(p.Location())
		text, err := s.Build(ctx, local)
		if err != nil {
			s.log.Error().Err(err).Str("profile", p.ID).Msg("build digest failed")
			continue
		}

		claimed, err := s.profiles.ClaimDigest(ctx, p.ID, day)
		if err != nil {
			s.log.Error().Err(err).Str("profile", p.ID).Msg("claim digest failed")
			continue
		}
		if !claimed {
			continue
		}

		// Claimed days are not retried; a failed send skips that day.
		if err := s.sender.Send(ctx, p.Address, text); err != nil {
			s.log.Warn().Err(err).Str("profile", p.ID).Str("day", day).Msg("digest delivery failed")
			continue
		}
		sent++
		s.log.Info().Str("profile", p.ID).Str("day", day).Msg("digest sent")
	}
	return sent, nil
}

// TriggerNow sends a digest immediately, bypassing the time-of-day gate.
// An empty profileID targets every digest recipient.
func (s *DigestScheduler) TriggerNow(ctx context.Context, profileID string) TriggerResult {
	var targets []model.Profile
	if profileID == "" {
		profiles, err := s.profiles.ListDigestRecipients(ctx)
		if err != nil {
			return TriggerResult{Message: fmt.Sprintf("Failed to send daily digest: %v", err)}
		}
		targets = profiles
	} else {
		p, err := s.profiles.FindByID(ctx, profileID)
		if err != nil {
			return TriggerResult{Message: fmt.Sprintf("Failed to send daily digest: %v", err)}
		}
		if !p.AddressVerified || p.Address == "" {
			return TriggerResult{Message: "No verified address configured"}
		}
		targets = []model.Profile{*p}
	}
	if len(targets) == 0 {
		return TriggerResult{Message: "No recipients with daily digest enabled"}
	}

	now := s.now()
	var errs []error
	for i := range targets {
		p := &targets[i]
		text, err := s.Build(ctx, now.In(p.Location()))
		if err == nil {
			err = s.sender.Send(ctx, p.Address, text)
		}
		if err != nil {
			s.log.Warn().Err(err).Str("profile", p.ID).Msg("manual digest failed")
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return TriggerResult{Message: fmt.Sprintf("Failed to send daily digest: %v", errors.Join(errs...))}
	}
	return TriggerResult{Success: true, Message: fmt.Sprintf("Daily digest sent to %d recipient(s)", len(targets))}
}

// Build renders the digest as seen at now; now's location sets the day boundaries.
func (s *DigestScheduler) Build(ctx context.Context, now time.Time) (string, error) {
	tasks, err := s.tasks.ListOpenDueBefore(ctx, now.Add(upcomingWindow))
	if err != nil {
		return "", err
	}
	names, err := s.classes.NamesByID(ctx)
	if err != nil {
		return "", err
	}
	return FormatDigest(GroupTasks(tasks, now), names, now), nil
}

// digestDue reports whether p's digest should go out at now and the local day it belongs to.
func digestDue(p *model.Profile, now time.Time) (bool, string, error) {
	hour, minute, err := ParseClock(p.DigestTime)
	if err != nil {
		return false, "", err
	}
	local := now.In(p.Location())
	year, month, day := local.Date()
	scheduled := time.Date(year, month, day, hour, minute, 0, 0, local.Location())
	today := local.Format(dayLayout)
	return !local.Before(scheduled) && p.LastDigestOn != today, today, nil
}
