package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"planner/internal/model"
)

// DefaultProfileID identifies the single implicit planner user.
const DefaultProfileID = "00000000-0000-0000-0000-000000000001"

const testMessage = "✅ Planner test message\n\nYour notifications are working! You'll receive daily summaries at your scheduled time."

// ErrAddressNotVerified is returned when an operation needs a verified address.
var ErrAddressNotVerified = errors.New("no verified address configured")

// SettingsStore persists the notification profile.
type SettingsStore interface {
	GetOrCreate(ctx context.Context, defaults model.Profile) (*model.Profile, error)
	Save(ctx context.Context, profile *model.Profile) error
}

// SettingsUpdate carries the fields a user may change; nil means unchanged.
type SettingsUpdate struct {
	DigestEnabled *bool
	DigestTime    *string
	Timezone      *string
}

// SettingsService manages the notification profile of the single user.
type SettingsService struct {
	repo     SettingsStore
	sender   MessageSender
	defaults model.Profile
}

func NewSettingsService(repo SettingsStore, sender MessageSender, digestTime, timezone string) *SettingsService {
	if digestTime == "" {
		digestTime = "08:00"
	}
	if timezone == "" {
		timezone = "UTC"
	}
	return &SettingsService{
		repo:   repo,
		sender: sender,
		defaults: model.Profile{
			ID:         DefaultProfileID,
			DigestTime: digestTime,
			Timezone:   timezone,
		},
	}
}

func (s *SettingsService) Get(ctx context.Context) (*model.Profile, error) {
	return s.repo.GetOrCreate(ctx, s.defaults)
}

// Location is the user's timezone. Lookup failures fall back to UTC.
func (s *SettingsService) Location(ctx context.Context) *time.Location {
	profile, err := s.Get(ctx)
	if err != nil {
		return time.UTC
	}
	return profile.Location()
}

func (s *SettingsService) Update(ctx context.Context, upd SettingsUpdate) (*model.Profile, error) {
	profile, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}

	if upd.DigestTime != nil {
		hour, minute, err := ParseClock(*upd.DigestTime)
		if err != nil {
			return nil, invalidf("%v", err)
		}
		profile.DigestTime = fmt.Sprintf("%02d:%02d", hour, minute)
	}
	if upd.Timezone != nil {
		tz := strings.TrimSpace(*upd.Timezone)
		if _, err := time.LoadLocation(tz); err != nil || tz == "" {
			return nil, invalidf("unknown timezone %q", tz)
		}
		profile.Timezone = tz
	}
	if upd.DigestEnabled != nil {
		if *upd.DigestEnabled && (!profile.AddressVerified || profile.Address == "") {
			return nil, ErrAddressNotVerified
		}
		profile.DigestEnabled = *upd.DigestEnabled
	}

	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// LinkAddress stores a verified delivery address.
func (s *SettingsService) LinkAddress(ctx context.Context, address string) (*model.Profile, error) {
	address = strings.TrimSpace(address)
	if address == "" {
		return nil, invalidf("address is required")
	}
	profile, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	profile.Address = address
	profile.AddressVerified = true
	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// UnlinkAddress removes the address and disables digests.
func (s *SettingsService) UnlinkAddress(ctx context.Context) (*model.Profile, error) {
	profile, err := s.Get(ctx)
	if err != nil {
		return nil, err
	}
	profile.Address = ""
	profile.AddressVerified = false
	profile.DigestEnabled = false
	if err := s.repo.Save(ctx, profile); err != nil {
		return nil, err
	}
	return profile, nil
}

// SendTest sends a one-off test message to the verified address.
func (s *SettingsService) SendTest(ctx context.Context) error {
	profile, err := s.Get(ctx)
	if err != nil {
		return err
	}
	if !profile.AddressVerified || profile.Address == "" {
		return ErrAddressNotVerified
	}
	return s.sender.Send(ctx, profile.Address, testMessage)
}
