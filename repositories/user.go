//go:generate go run go.uber.org/mock/mockgen -source=user.go -destination=../mocks/mock_user_repository.go -package=mocks
package repositories

import (
	goerrors "errors"
	"fmt"
	"strings"
	"time"

	"session-chat/errors"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

type IUserRepository interface {
	CreateUser(username, email, displayName, hashedPassword string) (string, error)
	GetUserByUsername(username string) (User, error)
}

type UserRepository struct {
	db *badger.DB
}

func NewUserRepository(db *badger.DB) IUserRepository {
	return &UserRepository{db: db}
}

type User struct {
	ID           string
	Username     string
	Email        string
	DisplayName  string
	PasswordHash string
	CreatedAt    time.Time
}

// Name is what other players see.
func (u User) Name() string {
	if strings.TrimSpace(u.DisplayName) != "" {
		return u.DisplayName
	}
	return u.Username
}

func userKey(username string) []byte {
	return []byte("user:" + strings.ToLower(username))
}

func emailKey(email string) []byte {
	return []byte("email:" + strings.ToLower(email))
}

// CreateUser persists the user and returns its new id. Usernames and
// emails are unique, case-insensitively.
func (u UserRepository) CreateUser(username, email, displayName, hashedPassword string) (string, error) {
	user := User{
		ID:           uuid.NewString(),
		Username:     username,
		Email:        email,
		DisplayName:  displayName,
		PasswordHash: hashedPassword,
		CreatedAt:    time.Now().UTC(),
	}
	err := u.db.Update(func(txn *badger.Txn) error {
		for _, key := range [][]byte{userKey(username), emailKey(email)} {
			if _, err := txn.Get(key); err == nil {
				return errors.ErrUserAlreadyExists
			} else if !goerrors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
		}
		if err := txn.Set(userKey(username), encodeUser(user)); err != nil {
			return err
		}
		return txn.Set(emailKey(email), []byte(strings.ToLower(username)))
	})
	if err != nil {
		return "", err
	}
	return user.ID, nil
}

func (u UserRepository) GetUserByUsername(username string) (User, error) {
	var user User
	err := u.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(userKey(username))
		if goerrors.Is(err, badger.ErrKeyNotFound) {
			return errors.ErrUserNotFound
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			decoded, err := decodeUser(val)
			user = decoded
			return err
		})
	})
	if err != nil {
		return User{}, fmt.Errorf("loading user %q: %w", username, err)
	}
	return user, nil
}
