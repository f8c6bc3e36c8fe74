package services

import (
	"testing"
	"time"

	"session-chat/auth"
	"session-chat/errors"
	"session-chat/mocks"
	"session-chat/repositories"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func newTokenIssuer(t *testing.T) *auth.TokenIssuer {
	tokens, err := auth.NewTokenIssuer("a-test-secret", "HS256", 24*time.Hour)
	require.NoError(t, err)
	return tokens
}

func TestAuthService_Register(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockIUserRepository(ctrl)
	svc := NewAuthService(mockRepo, newTokenIssuer(t))

	t.Run("should register successfully when input is valid", func(t *testing.T) {
		req := require.New(t)

		// Expect CreateUser to be called with a hashed password, not the plain one
		mockRepo.EXPECT().
			CreateUser("alice", "alice@example.com", "Alice", gomock.Not("ComplexPass123!")).
			Return("user-uuid", nil).
			Times(1)

		userID, err := svc.Register(auth.SignupRequest{
			Username:    " alice ",
			Email:       "alice@example.com",
			DisplayName: "Alice",
			Password:    "ComplexPass123!",
		})

		req.NoError(err)
		req.Equal("user-uuid", userID)
	})

	t.Run("should fail when password complexity is not met", func(t *testing.T) {
		req := require.New(t)

		// Repository should never be called
		mockRepo.EXPECT().CreateUser(gomock.Any(), gomock.Any(), gomock.Any(), gomock.Any()).Times(0)

		_, err := svc.Register(auth.SignupRequest{Username: "alice", Email: "alice@example.com", Password: "simplepassword"})

		req.ErrorIs(err, errors.ErrInvalidSignup)
		req.ErrorIs(err, errors.ErrInvalidPassword)
	})

	t.Run("should fail when user already exists in repository", func(t *testing.T) {
		req := require.New(t)

		mockRepo.EXPECT().
			CreateUser("bob", "bob@example.com", "", gomock.Any()).
			Return("", errors.ErrUserAlreadyExists).
			Times(1)

		_, err := svc.Register(auth.SignupRequest{Username: "bob", Email: "bob@example.com", Password: "ComplexPass123!"})

		req.ErrorIs(err, errors.ErrUserAlreadyExists)
	})
}

func TestAuthService_Login(t *testing.T) {
	ctrl := gomock.NewController(t)
	mockRepo := mocks.NewMockIUserRepository(ctrl)
	tokens := newTokenIssuer(t)
	svc := NewAuthService(mockRepo, tokens)
	hash, err := auth.HashPassword("ComplexPass123!")
	require.NoError(t, err)

	t.Run("should login successfully with correct credentials", func(t *testing.T) {
		req := require.New(t)

		mockRepo.EXPECT().GetUserByUsername("alice").
			Return(repositories.User{ID: "id-1", Username: "alice", PasswordHash: hash}, nil)

		token, err := svc.Login("alice", "ComplexPass123!")

		req.NoError(err)
		claims, err := tokens.Validate(token.String())
		req.NoError(err)
		req.Equal("alice", claims.Subject)
		req.Equal("id-1", claims.UserID)
	})

	t.Run("should fail with a wrong password", func(t *testing.T) {
		req := require.New(t)

		mockRepo.EXPECT().GetUserByUsername("alice").
			Return(repositories.User{ID: "id-1", Username: "alice", PasswordHash: hash}, nil)

		token, err := svc.Login("alice", "WrongPass123!")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
		req.Empty(token)
	})

	t.Run("should not reveal unknown users", func(t *testing.T) {
		req := require.New(t)

		mockRepo.EXPECT().GetUserByUsername("ghost").Return(repositories.User{}, errors.ErrUserNotFound)

		_, err := svc.Login("ghost", "ComplexPass123!")

		req.ErrorIs(err, errors.ErrInvalidCredentials)
	})
}
