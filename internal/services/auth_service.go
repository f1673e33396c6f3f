package services

import (
	"context"
	"errors"
	"strings"

	"github.com/golang/glog"
	"golang.org/x/crypto/bcrypt"

	"taskboard/internal/models"
	"taskboard/internal/repositories"
)

// TokenIssuer signs session tokens for a person.
type TokenIssuer interface {
	IssueToken(personID int64) (string, error)
}

type AuthService struct {
	persons repositories.PersonRepository
	tokens  TokenIssuer
}

func NewAuthService(persons repositories.PersonRepository, tokens TokenIssuer) *AuthService {
	return &AuthService{persons: persons, tokens: tokens}
}

// Login checks the credentials and returns a signed token.
func (s *AuthService) Login(ctx context.Context, email, password string) (string, *models.Person, error) {
	email = strings.TrimSpace(email)
	person, err := s.persons.GetByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, repositories.ErrNotFound) {
			glog.Infof("[auth][login] unknown email=%q", email)
			return "", nil, ErrInvalidCredentials
		}
		return "", nil, err
	}

	ph := strings.TrimSpace(person.PasswordHash)
	if ph == "" {
		glog.Warningf("[auth][login] empty password_hash for person %d", person.ID)
		return "", nil, ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(ph), []byte(password)); err != nil {
		glog.Infof("[auth][login] bcrypt mismatch for person %d", person.ID)
		return "", nil, ErrInvalidCredentials
	}

	token, err := s.tokens.IssueToken(person.ID)
	if err != nil {
		return "", nil, err
	}
	return token, person, nil
}

func HashPassword(password string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
