package postgres

import (
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/frahmantamala/storefront-payments/internal/auth"
	usermodel "github.com/frahmantamala/storefront-payments/internal/core/datamodel/user"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{
		db: db,
	}
}

func (r *Repository) GetPasswordForEmail(email string) (string, int64, error) {
	var user usermodel.User
	err := r.db.Where("email = ? AND is_active = ?", email, true).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", 0, fmt.Errorf("user not found")
		}
		return "", 0, err
	}
	return user.PasswordHash, user.ID, nil
}

func (r *Repository) GetUserByID(userID int64) (*auth.User, error) {
	var user usermodel.User
	err := r.db.Where("id = ? AND is_active = ?", userID, true).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("user not found")
		}
		return nil, err
	}
	return &auth.User{
		ID:    user.ID,
		Email: user.Email,
		Role:  user.Role,
	}, nil
}
