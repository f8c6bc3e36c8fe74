package repositories

import (
	"testing"

	"session-chat/errors"

	"github.com/stretchr/testify/require"
)

func Test_CreateUser_Then_Get(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openBadger(t))

	id, err := repository.CreateUser("Alice", "alice@example.com", "Alice the Bold", "hash")
	req.NoError(err)
	req.NotEmpty(id)

	// Lookup is case insensitive
	user, err := repository.GetUserByUsername("alice")
	req.NoError(err)
	req.Equal(id, user.ID)
	req.Equal("Alice", user.Username)
	req.Equal("alice@example.com", user.Email)
	req.Equal("hash", user.PasswordHash)
	req.Equal("Alice the Bold", user.Name())
	req.False(user.CreatedAt.IsZero())
}

func Test_CreateUser_Rejects_Duplicates(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openBadger(t))

	_, err := repository.CreateUser("alice", "alice@example.com", "", "hash")
	req.NoError(err)

	_, err = repository.CreateUser("ALICE", "other@example.com", "", "hash")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)

	_, err = repository.CreateUser("bob", "Alice@Example.com", "", "hash")
	req.ErrorIs(err, errors.ErrUserAlreadyExists)
}

func Test_GetUserByUsername_Unknown(t *testing.T) {
	req := require.New(t)
	repository := NewUserRepository(openBadger(t))

	_, err := repository.GetUserByUsername("ghost")

	req.ErrorIs(err, errors.ErrUserNotFound)
}

func Test_User_Name_Falls_Back_To_Username(t *testing.T) {
	req := require.New(t)

	req.Equal("bob", User{Username: "bob"}.Name())
	req.Equal("Bobby", User{Username: "bob", DisplayName: "Bobby"}.Name())
}
