package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"planner/internal/model"
)

// ErrClassExists is returned when a class name is already taken.
var ErrClassExists = errors.New("class already exists")

// ClassRepository manages task classes.
type ClassRepository struct {
	db *gorm.DB
}

func NewClassRepository(db *gorm.DB) *ClassRepository {
	return &ClassRepository{db: db}
}

func (r *ClassRepository) GetOrCreate(ctx context.Context, name string) (*model.Class, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, nil
	}

	var class model.Class
	db := r.db.WithContext(ctx)
	err := db.Where("name = ?", name).First(&class).Error
	switch {
	case err == nil:
		return &class, nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		class = model.Class{Name: name}
		if err := r.Create(ctx, &class); err != nil {
			if errors.Is(err, ErrClassExists) {
				// Lost a race with another request creating the same name.
				var existing model.Class
				if err := db.Where("name = ?", name).First(&existing).Error; err == nil {
					return &existing, nil
				}
			}
			return nil, err
		}
		return &class, nil
	default:
		return nil, fmt.Errorf("find class: %w", err)
	}
}

// Create inserts class at the end of the sort order.
func (r *ClassRepository) Create(ctx context.Context, class *model.Class) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var next int
		if err := tx.Model(&model.Class{}).Select("COALESCE(MAX(sort_order), -1) + 1").Scan(&next).Error; err != nil {
			return err
		}
		class.SortOrder = next
		return tx.Create(class).Error
	})
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return ErrClassExists
	}
	if err != nil {
		return fmt.Errorf("create class: %w", err)
	}
	return nil
}

func (r *ClassRepository) FindByID(ctx context.Context, id string) (*model.Class, error) {
	var class model.Class
	if err := r.db.WithContext(ctx).Where("id = ?", id).First(&class).Error; err != nil {
		return nil, notFound(err)
	}
	return &class, nil
}

// UpdateDetails writes the name and color of a class.
func (r *ClassRepository) UpdateDetails(ctx context.Context, class *model.Class) error {
	res := r.db.WithContext(ctx).Model(&model.Class{}).Where("id = ?", class.ID).
		Updates(map[string]interface{}{"name": class.Name, "color": class.Color})
	switch {
	case errors.Is(res.Error, gorm.ErrDuplicatedKey):
		return ErrClassExists
	case res.Error != nil:
		return fmt.Errorf("update class: %w", res.Error)
	case res.RowsAffected == 0:
		return ErrNotFound
	}
	return nil
}

// Delete removes a class and detaches its tasks.
func (r *ClassRepository) Delete(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&model.Task{}).Where("class_id = ?", id).Update("class_id", nil).Error; err != nil {
			return fmt.Errorf("detach tasks: %w", err)
		}
		res := tx.Where("id = ?", id).Delete(&model.Class{})
		if res.Error != nil {
			return fmt.Errorf("delete class: %w", res.Error)
		}
		if res.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Reorder assigns sort positions in the order of ids. Either every class is
// moved or none is.
func (r *ClassRepository) Reorder(ctx context.Context, ids []string) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for i, id := range ids {
			res := tx.Model(&model.Class{}).Where("id = ?", id).Update("sort_order", i)
			if res.Error != nil {
				return fmt.Errorf("reorder classes: %w", res.Error)
			}
			if res.RowsAffected == 0 {
				return ErrNotFound
			}
		}
		return nil
	})
}

func (r *ClassRepository) List(ctx context.Context) ([]model.Class, error) {
	var classes []model.Class
	if err := r.db.WithContext(ctx).Order("sort_order ASC, name ASC").Find(&classes).Error; err != nil {
		return nil, fmt.Errorf("list classes: %w", err)
	}
	return classes, nil
}

// NamesByID maps class IDs to names for rendering.
func (r *ClassRepository) NamesByID(ctx context.Context) (map[string]string, error) {
	classes, err := r.List(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[string]string, len(classes))
	for _, c := range classes {
		names[c.ID] = c.Name
	}
	return names, nil
}
