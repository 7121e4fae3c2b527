package repository

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"planner/internal/model"
)

// ProfileRepository handles notification profiles.
type ProfileRepository struct {
	db *gorm.DB
}

func NewProfileRepository(db *gorm.DB) *ProfileRepository {
	return &ProfileRepository{db: db}
}

// GetOrCreate returns the profile with defaults.ID, inserting defaults when it does not exist yet.
func (r *ProfileRepository) GetOrCreate(ctx context.Context, defaults model.Profile) (*model.Profile, error) {
	var profile model.Profile
	db := r.db.WithContext(ctx)
	err := db.Where("id = ?", defaults.ID).First(&profile).Error
	switch {
	case err == nil:
		return &profile, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		profile = defaults
		if err := db.Create(&profile).Error; err != nil {
			return nil, fmt.Errorf("create profile: %w", err)
		}
		return &profile, nil
	default:
		return nil, fmt.Errorf("find profile: %w", err)
	}
}

func (r *ProfileRepository) FindByID(ctx context.Context, id string) (*model.Profile, error) {
	var profile model.Profile
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (r *ProfileRepository) FindByAddress(ctx context.Context, address string) (*model.Profile, error) {
	var profile model.Profile
	if err := r.db.WithContext(ctx).Where("address = ?", address).First(&profile).Error; err != nil {
		return nil, notFound(err)
	}
	return &profile, nil
}

func (r *ProfileRepository) Save(ctx context.Context, profile *model.Profile) error {
	if err := r.db.WithContext(ctx).Save(profile).Error; err != nil {
		return fmt.Errorf("save profile: %w", err)
	}
	return nil
}

// ListDigestRecipients returns profiles with digests enabled and a verified address.
func (r *ProfileRepository) ListDigestRecipients(ctx context.Context) ([]model.Profile, error) {
	var profiles []model.Profile
	if err := r.db.WithContext(ctx).
		Where("digest_enabled = ? AND address_verified = ? AND address <> ''", true, true).
		Find(&profiles).Error; err != nil {
		return nil, fmt.Errorf("list digest recipients: %w", err)
	}
	return profiles, nil
}

// ClaimDigest records day as the last digest date unless it already is; it reports whether the claim won.
func (r *ProfileRepository) ClaimDigest(ctx context.Context, id, day string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&model.Profile{}).
		Where("id = ? AND (last_digest_on IS NULL OR last_digest_on <> ?)", id, day).
		Update("last_digest_on", day)
	if res.Error != nil {
		return false, fmt.Errorf("claim digest: %w", res.Error)
	}
	return res.RowsAffected == 1, nil
}
