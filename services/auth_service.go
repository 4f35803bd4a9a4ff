//go:generate go run go.uber.org/mock/mockgen -source=auth_service.go -destination=../mocks/mock_auth_service.go -package=mocks
package services

import (
	"fmt"
	"time"

	"dm-chat/auth"
	"dm-chat/domain"
	errs "dm-chat/errors"
	"dm-chat/repositories"
)

type IAuthService interface {
	Login(email, password string) (Token, domain.User, error)
	Register(username, email, password string) (Token, domain.User, error)
}

type AuthService struct {
	userRepository    repositories.IUserRepository
	authTokenDuration time.Duration
}

type Token string

func NewAuthService(repo repositories.IUserRepository, authTokenDuration time.Duration) IAuthService {
	return &AuthService{userRepository: repo, authTokenDuration: authTokenDuration}
}

func (s *AuthService) Register(username, email, password string) (Token, domain.User, error) {
	valReq := auth.RegisterRequest{
		Username: username,
		Email:    email,
		Password: password,
	}

	// 1. Validate business rules (email format, password complexity)
	// We check this before any expensive cryptographic operation.
	if err := auth.ValidateRegister(valReq); err != nil {
		return "", domain.User{}, fmt.Errorf("%w: %v", errs.ErrInvalidPassword, err)
	}

	// 2. Hash the password using Argon2id
	// Done in the service layer to keep the repository unaware of plain passwords.
	hashedPassword, err := auth.HashPassword(password)
	if err != nil {
		return "", domain.User{}, fmt.Errorf("hashing failed: %w", err)
	}

	// 3. Persist the user with the generated hash
	userID, err := s.userRepository.CreateUser(username, email, hashedPassword)
	if err != nil {
		return "", domain.User{}, err // Propagates ErrUserAlreadyExists if email is taken
	}

	user, err := s.userRepository.GetUserByID(userID)
	if err != nil {
		return "", domain.User{}, err
	}

	// 4. Generate the initial session token
	token, err := auth.GenerateToken(userID, user.Roles, s.authTokenDuration)
	if err != nil {
		return "", domain.User{}, errs.ErrTokenGeneration
	}

	return Token(token), user.ToDomain(), nil
}

func (s *AuthService) Login(email, password string) (Token, domain.User, error) {
	// 1. Retrieve user by email from storage
	user, err := s.userRepository.GetUserByEmail(email)
	if err != nil {
		// Generic error to prevent user enumeration attacks
		return "", domain.User{}, errs.ErrInvalidCredentials
	}

	// 2. Compare the provided password with the stored hash
	match, err := auth.ComparePassword(password, user.PasswordHash)
	if err != nil || !match {
		return "", domain.User{}, errs.ErrInvalidCredentials
	}

	// 3. Issue the JWT token
	token, err := auth.GenerateToken(user.ID, user.Roles, s.authTokenDuration)
	if err != nil {
		return "", domain.User{}, errs.ErrTokenGeneration
	}

	return Token(token), user.ToDomain(), nil
}
