package service

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/rs/zerolog"

	"planner/internal/model"
	"planner/internal/repository"
)

const (
	defaultClassColor  = "#6366f1"
	maxClassNameLength = 100
)

var hexColor = regexp.MustCompile(`^#[0-9a-fA-F]{6}$`)

// ClassCatalog is the class store view the class service needs.
type ClassCatalog interface {
	List(ctx context.Context) ([]model.Class, error)
	FindByID(ctx context.Context, id string) (*model.Class, error)
	Create(ctx context.Context, class *model.Class) error
	UpdateDetails(ctx context.Context, class *model.Class) error
	Delete(ctx context.Context, id string) error
	Reorder(ctx context.Context, ids []string) error
}

// ClassUpdate carries the class fields a user may change; nil means unchanged.
type ClassUpdate struct {
	Name  *string
	Color *string
}

// ClassService manages the classes tasks are grouped by.
type ClassService struct {
	repo ClassCatalog
	log  zerolog.Logger
}

func NewClassService(repo ClassCatalog, log zerolog.Logger) *ClassService {
	return &ClassService{
		repo: repo,
		log:  log.With().Str("component", "classes").Logger(),
	}
}

// List returns classes in display order.
func (s *ClassService) List(ctx context.Context) ([]model.Class, error) {
	return s.repo.List(ctx)
}

func (s *ClassService) Create(ctx context.Context, name, color string) (*model.Class, error) {
	name, err := cleanClassName(name)
	if err != nil {
		return nil, err
	}
	if color, err = cleanColor(color); err != nil {
		return nil, err
	}

	class := &model.Class{Name: name, Color: color}
	if err := s.repo.Create(ctx, class); err != nil {
		return nil, classConflict(err, name)
	}
	s.log.Debug().Str("class", class.ID).Str("name", name).Msg("class created")
	return class, nil
}

func (s *ClassService) Update(ctx context.Context, id string, upd ClassUpdate) (*model.Class, error) {
	class, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if upd.Name != nil {
		if class.Name, err = cleanClassName(*upd.Name); err != nil {
			return nil, err
		}
	}
	if upd.Color != nil {
		if class.Color, err = cleanColor(*upd.Color); err != nil {
			return nil, err
		}
	}
	if err := s.repo.UpdateDetails(ctx, class); err != nil {
		return nil, classConflict(err, class.Name)
	}
	return class, nil
}

// Delete removes a class; its tasks become unclassified.
func (s *ClassService) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return err
	}
	s.log.Info().Str("class", id).Msg("class deleted")
	return nil
}

// Reorder puts the classes in the order of ids.
func (s *ClassService) Reorder(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return invalidf("class order is empty")
	}
	seen := make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			return invalidf("class %q listed twice", id)
		}
		seen[id] = struct{}{}
	}
	return s.repo.Reorder(ctx, ids)
}

func cleanClassName(name string) (string, error) {
	name = strings.TrimSpace(name)
	switch {
	case name == "":
		return "", invalidf("class name is required")
	case len([]rune(name)) > maxClassNameLength:
		return "", invalidf("class name is longer than %d characters", maxClassNameLength)
	}
	return name, nil
}

func cleanColor(color string) (string, error) {
	color = strings.TrimSpace(color)
	if color == "" {
		return defaultClassColor, nil
	}
	if !hexColor.MatchString(color) {
		return "", invalidf("color %q is not #rrggbb", color)
	}
	return strings.ToLower(color), nil
}

func classConflict(err error, name string) error {
	if errors.Is(err, repository.ErrClassExists) {
		return invalidf("class %q already exists", name)
	}
	return err
}
