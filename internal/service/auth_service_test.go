package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/Kaizenpbc/cpr-apr12-sub000/internal/models"
	appErrors "github.com/Kaizenpbc/cpr-apr12-sub000/pkg/errors"
)

type mockAuthUserRepo struct {
	byEmail    map[string]*models.User
	lastLogins map[string]time.Time
}

func (m *mockAuthUserRepo) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	if u, ok := m.byEmail[email]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) FindByID(ctx context.Context, id string) (*models.User, error) {
	for _, u := range m.byEmail {
		if u.ID == id {
			cp := *u
			return &cp, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockAuthUserRepo) UpdateLastLogin(ctx context.Context, id string, ts time.Time) error {
	if m.lastLogins == nil {
		m.lastLogins = make(map[string]time.Time)
	}
	m.lastLogins[id] = ts
	return nil
}

func authFixture(t *testing.T) (*AuthService, *mockAuthUserRepo) {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret!"), bcrypt.MinCost)
	require.NoError(t, err)

	orgID := "org-1"
	repo := &mockAuthUserRepo{byEmail: map[string]*models.User{
		"coord@acme.example": {
			ID:             "u-1",
			Email:          "coord@acme.example",
			PasswordHash:   string(hash),
			FullName:       "Acme Coordinator",
			Role:           models.RoleOrganization,
			OrganizationID: &orgID,
			Active:         true,
		},
		"gone@acme.example": {
			ID:           "u-2",
			Email:        "gone@acme.example",
			PasswordHash: string(hash),
			FullName:     "Former Coordinator",
			Role:         models.RoleOrganization,
			Active:       false,
		},
	}}
	svc := NewAuthService(repo, nil, nil, AuthConfig{
		TokenSecret: "test-secret",
		TokenExpiry: time.Hour,
		Issuer:      "cpr-api-test",
	})
	return svc, repo
}

func TestAuthServiceLogin(t *testing.T) {
	svc, repo := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "coord@acme.example",
		Password: "s3cret!",
	})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(3600), resp.ExpiresIn)
	assert.Equal(t, "org-1", resp.User.OrganizationID)
	assert.Contains(t, repo.lastLogins, "u-1")
}

func TestAuthServiceLoginWrongPassword(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "coord@acme.example",
		Password: "wrong",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginUnknownEmail(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "nobody@acme.example",
		Password: "s3cret!",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceLoginInactiveAccount(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "gone@acme.example",
		Password: "s3cret!",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceValidateTokenRoundTrip(t *testing.T) {
	svc, _ := authFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "coord@acme.example",
		Password: "s3cret!",
	})
	require.NoError(t, err)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "u-1", claims.UserID)
	assert.Equal(t, models.RoleOrganization, claims.Role)
	assert.Equal(t, "org-1", claims.OrganizationID)

	actor := claims.Actor()
	assert.Equal(t, "org-1", actor.OrganizationID)
}

func TestAuthServiceValidateTokenRejectsTampered(t *testing.T) {
	svc, _ := authFixture(t)

	other := NewAuthService(&mockAuthUserRepo{}, nil, nil, AuthConfig{
		TokenSecret: "different-secret",
		TokenExpiry: time.Hour,
	})
	resp, err := svc.Login(context.Background(), models.LoginRequest{
		Email:    "coord@acme.example",
		Password: "s3cret!",
	})
	require.NoError(t, err)

	_, err = other.ValidateToken(resp.AccessToken)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}

func TestAuthServiceMeMissingUser(t *testing.T) {
	svc, _ := authFixture(t)

	_, err := svc.Me(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}
