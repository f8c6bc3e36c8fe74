package services

import (
	"fmt"
	"strings"

	"session-chat/auth"
	"session-chat/errors"
	"session-chat/repositories"
)

type IAuthService interface {
	Login(username, password string) (Token, error)
	Register(req auth.SignupRequest) (string, error)
}

type AuthService struct {
	userRepository repositories.IUserRepository
	tokens         *auth.TokenIssuer
}

type Token string

func (t Token) String() string {
	return string(t)
}

func NewAuthService(repo repositories.IUserRepository, tokens *auth.TokenIssuer) IAuthService {
	return &AuthService{userRepository: repo, tokens: tokens}
}

// Register validates the request before hashing anything and returns the
// new user id.
func (s *AuthService) Register(req auth.SignupRequest) (string, error) {
	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.TrimSpace(req.Email)
	req.DisplayName = strings.TrimSpace(req.DisplayName)
	if err := auth.ValidateSignup(req); err != nil {
		return "", fmt.Errorf("%w: %w", errors.ErrInvalidSignup, err)
	}

	hashedPassword, err := auth.HashPassword(req.Password)
	if err != nil {
		return "", fmt.Errorf("hashing failed: %w", err)
	}
	return s.userRepository.CreateUser(req.Username, req.Email, req.DisplayName, hashedPassword)
}

// Login answers ErrInvalidCredentials for an unknown user as well, so
// usernames can't be enumerated.
func (s *AuthService) Login(username, password string) (Token, error) {
	user, err := s.userRepository.GetUserByUsername(strings.TrimSpace(username))
	if err != nil {
		return "", errors.ErrInvalidCredentials
	}
	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", errors.ErrInvalidCredentials
	}
	token, err := s.tokens.Generate(user.ID, user.Username)
	if err != nil {
		return "", err
	}
	return Token(token), nil
}
