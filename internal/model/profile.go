package model

import (
	"strings"
	"time"
)

// Profile stores notification preferences of the single planner user.
type Profile struct {
	ID              string `gorm:"primaryKey;size:36"`
	Address         string `gorm:"index"`
	AddressVerified bool   `gorm:"default:false"`
	DigestEnabled   bool   `gorm:"default:false"`
	DigestTime      string `gorm:"size:5;default:08:00"`
	Timezone        string `gorm:"default:UTC"`
	// LastDigestOn is the profile-local date (2006-01-02) of the last digest.
	LastDigestOn string `gorm:"size:10"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// DigestEligible reports whether scheduled digests may be sent to this profile.
func (p *Profile) DigestEligible() bool {
	return p.DigestEnabled && p.AddressVerified && strings.TrimSpace(p.Address) != ""
}

// Location resolves the profile timezone, falling back to UTC.
func (p *Profile) Location() *time.Location {
	if p.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(p.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
