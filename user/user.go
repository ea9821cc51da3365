package user

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// User is the account behind a signed-in session. It is not a group
// member; members are plain contact entries owned by their group.
type User struct {
	ID           uuid.UUID `json:"id"`
	Email        string    `json:"email"`
	DisplayName  string    `json:"displayName"`
	PhotoURL     string    `json:"photoURL,omitempty"`
	PasswordHash string    `json:"-"`
	CreatedAt    time.Time `json:"createdAt"`
}

type Repository interface {
	Register(ctx context.Context, email, password, displayName string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	VerifyPassword(hashedPassword, password string) error
	UpdateDisplayName(ctx context.Context, userID uuid.UUID, name string) error
	UpdatePhotoURL(ctx context.Context, userID uuid.UUID, url string) error
}
