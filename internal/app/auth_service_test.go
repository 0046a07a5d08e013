package app

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"founderos-knowledge/internal/pkg/jwtutil"
	"founderos-knowledge/internal/repository"
)

const testJWTSecret = "test-secret"

func newAuthService(t *testing.T) *AuthService {
	t.Helper()
	db := newTestDB(t)
	return NewAuthService(
		repository.NewUserRepository(db),
		repository.NewWorkspaceRepository(db),
		testJWTSecret,
		time.Hour,
	)
}

func TestRegisterCreatesWorkspace(t *testing.T) {
	svc := newAuthService(t)

	result, err := svc.Register(RegisterInput{
		Email:         "Founder@Example.com",
		DisplayName:   "Founder",
		Password:      "longenough",
		WorkspaceName: "Acme",
	})
	require.NoError(t, err)
	require.NotNil(t, result.Workspace)

	assert.Equal(t, "founder@example.com", result.User.Email)
	assert.Equal(t, "Acme", result.Workspace.Name)
	assert.Len(t, result.Workspace.InviteCode, 12)
	assert.Equal(t, result.Workspace.ID, result.User.WorkspaceID)
	assert.NotEqual(t, "longenough", result.User.PasswordHash)

	claims, err := jwtutil.ParseToken(testJWTSecret, result.Token)
	require.NoError(t, err)
	assert.Equal(t, result.User.ID, claims.UserID)
	assert.Equal(t, result.Workspace.ID, claims.WorkspaceID)
	assert.Equal(t, result.User.Email, claims.Email)
}

func TestRegisterJoinsViaInviteCode(t *testing.T) {
	svc := newAuthService(t)

	first, err := svc.Register(RegisterInput{
		Email:         "owner@example.com",
		Password:      "longenough",
		WorkspaceName: "Acme",
	})
	require.NoError(t, err)

	second, err := svc.Register(RegisterInput{
		Email:      "teammate@example.com",
		Password:   "longenough",
		InviteCode: first.Workspace.InviteCode,
	})
	require.NoError(t, err)
	assert.Equal(t, first.Workspace.ID, second.User.WorkspaceID)
	// Missing display name falls back to the email.
	assert.Equal(t, "teammate@example.com", second.User.DisplayName)
}

func TestRegisterRejectsBadInput(t *testing.T) {
	svc := newAuthService(t)

	cases := []struct {
		name  string
		input RegisterInput
		want  error
	}{
		{"missing email", RegisterInput{Password: "longenough", WorkspaceName: "Acme"}, ErrInvalidInput},
		{"malformed email", RegisterInput{Email: "nobody", Password: "longenough", WorkspaceName: "Acme"}, ErrInvalidInput},
		{"short password", RegisterInput{Email: "a@b.com", Password: "short", WorkspaceName: "Acme"}, ErrInvalidInput},
		{"no workspace or invite", RegisterInput{Email: "a@b.com", Password: "longenough"}, ErrInvalidInput},
		{"unknown invite", RegisterInput{Email: "a@b.com", Password: "longenough", InviteCode: "nope"}, ErrInvalidInvite},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svc.Register(tc.input)
			assert.ErrorIs(t, err, tc.want)
		})
	}
}

func TestRegisterRejectsDuplicateEmail(t *testing.T) {
	svc := newAuthService(t)

	_, err := svc.Register(RegisterInput{
		Email:         "owner@example.com",
		Password:      "longenough",
		WorkspaceName: "Acme",
	})
	require.NoError(t, err)

	_, err = svc.Register(RegisterInput{
		Email:         "OWNER@example.com",
		Password:      "longenough",
		WorkspaceName: "Other",
	})
	assert.ErrorIs(t, err, ErrEmailExists)
}

func TestLogin(t *testing.T) {
	svc := newAuthService(t)

	registered, err := svc.Register(RegisterInput{
		Email:         "owner@example.com",
		Password:      "longenough",
		WorkspaceName: "Acme",
	})
	require.NoError(t, err)

	result, err := svc.Login(LoginInput{Email: "owner@example.com", Password: "longenough"})
	require.NoError(t, err)
	assert.Equal(t, registered.User.ID, result.User.ID)
	assert.NotEmpty(t, result.Token)

	_, err = svc.Login(LoginInput{Email: "owner@example.com", Password: "wrongpassword"})
	assert.ErrorIs(t, err, ErrInvalidCredential)

	_, err = svc.Login(LoginInput{Email: "ghost@example.com", Password: "longenough"})
	assert.ErrorIs(t, err, ErrInvalidCredential)
}
