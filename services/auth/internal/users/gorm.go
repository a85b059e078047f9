package users

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"outsy/services/auth/internal/models"
)

const defaultTimeout = 5 * time.Second

// GormStore persists users through gorm.
type GormStore struct {
	orm *gorm.DB
}

// NewGormStore returns a store backed by orm. The handle should be opened with
// TranslateError so unique violations surface as gorm.ErrDuplicatedKey.
func NewGormStore(orm *gorm.DB) (*GormStore, error) {
	if orm == nil {
		return nil, errors.New("orm is required")
	}
	return &GormStore{orm: orm}, nil
}

func withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, defaultTimeout)
}

// Create inserts a user after checking every unique field.
func (s *GormStore) Create(ctx context.Context, p CreateParams) (User, error) {
	const op = "users.gorm.Create"

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	model := models.User{
		ID:           uuid.New(),
		Email:        NormalizeEmail(p.Email),
		Username:     p.Username,
		PasswordHash: p.PasswordHash,
		FirstName:    p.FirstName,
		LastName:     p.LastName,
		Gender:       p.Gender,
		Birthdate:    p.Birthdate,
		Location:     p.Location,
		Interests:    datatypes.NewJSONSlice(nonNil(p.Interests)),
		Bio:          p.Bio,
		IGURL:        p.IGURL,
		Role:         string(RoleUser),
		Status:       string(StatusActive),
	}

	err := s.orm.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		q := tx.Where("email = ?", model.Email).Or("username = ?", model.Username)
		if model.IGURL != nil {
			q = q.Or("ig_url = ?", *model.IGURL)
		}

		var existing []models.User
		if err := q.Limit(3).Find(&existing).Error; err != nil {
			return err
		}
		if field := conflictingField(existing, model); field != "" {
			return &DuplicateError{Field: field}
		}

		return tx.Create(&model).Error
	})
	if err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return User{}, fmt.Errorf("%s: %w", op, &DuplicateError{})
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}

	return fromModel(model), nil
}

// ByEmail looks a user up by normalized email.
func (s *GormStore) ByEmail(ctx context.Context, email string) (User, error) {
	return s.first(ctx, "users.gorm.ByEmail", "email = ?", NormalizeEmail(email))
}

// ByID looks a user up by primary key.
func (s *GormStore) ByID(ctx context.Context, id uuid.UUID) (User, error) {
	return s.first(ctx, "users.gorm.ByID", "id = ?", id)
}

func (s *GormStore) first(ctx context.Context, op string, query string, args ...any) (User, error) {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model models.User
	if err := s.orm.WithContext(ctx).Where(query, args...).First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
		}
		return User{}, fmt.Errorf("%s: %w", op, err)
	}
	return fromModel(model), nil
}

// SetRole updates the role of a user and returns the updated record.
func (s *GormStore) SetRole(ctx context.Context, id uuid.UUID, role Role) (User, error) {
	const op = "users.gorm.SetRole"

	ctx, cancel := withTimeout(ctx)
	defer cancel()

	var model models.User
	res := s.orm.WithContext(ctx).
		Model(&model).
		Clauses(clause.Returning{}).
		Where("id = ?", id).
		Updates(map[string]any{"role": string(role), "updated_at": time.Now().UTC()})
	if res.Error != nil {
		return User{}, fmt.Errorf("%s: %w", op, res.Error)
	}
	if res.RowsAffected == 0 {
		return User{}, fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fromModel(model), nil
}

// Delete removes a user. Deleting an absent user is not an error.
func (s *GormStore) Delete(ctx context.Context, id uuid.UUID) error {
	ctx, cancel := withTimeout(ctx)
	defer cancel()

	if err := s.orm.WithContext(ctx).Where("id = ?", id).Delete(&models.User{}).Error; err != nil {
		return fmt.Errorf("users.gorm.Delete: %w", err)
	}
	return nil
}

// Ping checks the database connection.
func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.orm.DB()
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(ctx)
	defer cancel()
	return sqlDB.PingContext(ctx)
}

func conflictingField(existing []models.User, candidate models.User) string {
	for _, u := range existing {
		switch {
		case u.Email == candidate.Email:
			return "email"
		case u.Username == candidate.Username:
			return "username"
		case u.IGURL != nil && candidate.IGURL != nil && *u.IGURL == *candidate.IGURL:
			return "igUrl"
		}
	}
	return ""
}

func fromModel(m models.User) User {
	return User{
		ID:           m.ID,
		Email:        m.Email,
		Username:     m.Username,
		PasswordHash: m.PasswordHash,
		FirstName:    m.FirstName,
		LastName:     m.LastName,
		Gender:       m.Gender,
		Birthdate:    m.Birthdate,
		Location:     m.Location,
		Interests:    nonNil([]string(m.Interests)),
		Bio:          m.Bio,
		IGURL:        m.IGURL,
		Role:         Role(m.Role),
		Status:       Status(m.Status),
		CreatedAt:    m.CreatedAt,
		UpdatedAt:    m.UpdatedAt,
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
