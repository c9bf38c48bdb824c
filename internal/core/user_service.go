package core

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"strings"

	"gwi.com/recall-chat/internal/auth"
	"gwi.com/recall-chat/internal/logger"
	"gwi.com/recall-chat/internal/store"
)

const minPasswordLength = 8

type UserStore interface {
	CreateUser(ctx context.Context, user *store.User) error
	GetUserByEmail(ctx context.Context, email string) (*store.User, error)
	GetUserByID(ctx context.Context, id string) (*store.User, error)
}

type RegisterRequest struct {
	Email     string
	FirstName string
	LastName  string
	Password  string
}

type UserService struct {
	log     *logger.Logger
	dbStore UserStore
}

func NewUserService(log *logger.Logger, db UserStore) *UserService {
	return &UserService{log: log.With("service", "user"), dbStore: db}
}

func (s *UserService) Register(ctx context.Context, req RegisterRequest) (*store.User, error) {
	email := strings.ToLower(strings.TrimSpace(req.Email))
	if _, err := mail.ParseAddress(email); err != nil {
		return nil, fmt.Errorf("%w: invalid email address", ErrInvalidInput)
	}
	if strings.TrimSpace(req.FirstName) == "" || strings.TrimSpace(req.LastName) == "" {
		return nil, fmt.Errorf("%w: first and last name are required", ErrInvalidInput)
	}
	if len(req.Password) < minPasswordLength {
		return nil, fmt.Errorf("%w: password must be at least %d characters", ErrInvalidInput, minPasswordLength)
	}

	existing, err := s.dbStore.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user: %v", ErrStoreUnavailable, err)
	}
	if existing != nil {
		return nil, fmt.Errorf("%w: email already registered", ErrConflict)
	}

	hash, err := auth.HashPassword(req.Password)
	if err != nil {
		return nil, fmt.Errorf("hash password: %w", err)
	}
	user := &store.User{
		Email:        email,
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		PasswordHash: hash,
	}
	if err := s.dbStore.CreateUser(ctx, user); err != nil {
		return nil, fmt.Errorf("%w: create user: %v", ErrStoreUnavailable, err)
	}
	s.log.Info("User registered", "user_id", user.ID)
	return user, nil
}

// Login checks the credentials and returns the user together with a signed token.
func (s *UserService) Login(ctx context.Context, email string, password string) (*store.User, string, error) {
	email = strings.ToLower(strings.TrimSpace(email))
	if email == "" || password == "" {
		return nil, "", fmt.Errorf("%w: email and password are required", ErrInvalidInput)
	}
	user, err := s.dbStore.GetUserByEmail(ctx, email)
	if err != nil {
		return nil, "", fmt.Errorf("%w: lookup user: %v", ErrStoreUnavailable, err)
	}
	if user == nil || !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, "", fmt.Errorf("%w: invalid credentials", ErrUnauthorized)
	}
	token, err := auth.GenerateJWT(user.ID)
	if err != nil {
		return nil, "", fmt.Errorf("generate token: %w", err)
	}
	return user, token, nil
}

// ResolveToken validates a token and loads the user it was issued to.
func (s *UserService) ResolveToken(ctx context.Context, token string) (*store.User, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: missing token", ErrUnauthorized)
	}
	userID, err := auth.ValidateJWT(token)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	user, err := s.dbStore.GetUserByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("%w: lookup user: %v", ErrStoreUnavailable, err)
	}
	if user == nil {
		return nil, fmt.Errorf("%w: %v", ErrUnauthorized, errors.New("user no longer exists"))
	}
	return user, nil
}
