package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stemsi/exam-engine/internal/config"
	"github.com/stemsi/exam-engine/internal/service"
)

func TestTokenCommand(t *testing.T) {
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--role", "faculty", "--user", "fac-1", "--secret", "test-secret"})

	require.NoError(t, cmd.Execute())

	auth := service.NewAuthService(&config.Config{JWTSecret: "test-secret"})
	claims, err := auth.ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, service.RoleFaculty, claims.Role)
	assert.Equal(t, "fac-1", claims.UserID)
}

func TestTokenCommand_RequiresUser(t *testing.T) {
	cmd := rootCmd()
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"token", "--role", "student"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--user is required")
}

func TestTokenCommand_UserFromEnv(t *testing.T) {
	t.Setenv("EXAMCTL_USER", "stu-9")
	cmd := rootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"token", "--secret", "s"})

	require.NoError(t, cmd.Execute())

	claims, err := service.NewAuthService(&config.Config{JWTSecret: "s"}).ValidateToken(strings.TrimSpace(out.String()))
	require.NoError(t, err)
	assert.Equal(t, "stu-9", claims.UserID)
	assert.Equal(t, service.RoleStudent, claims.Role)
}

func TestParseTime(t *testing.T) {
	ts, err := parseTime("")
	require.NoError(t, err)
	assert.Nil(t, ts)

	ts, err = parseTime("2026-03-10T09:00:00Z")
	require.NoError(t, err)
	require.NotNil(t, ts)
	assert.Equal(t, 9, ts.Hour())

	_, err = parseTime("10/03/2026")
	assert.Error(t, err)
}

func TestReadRoster(t *testing.T) {
	path := filepath.Join(t.TempDir(), "roster.csv")
	require.NoError(t, os.WriteFile(path, []byte("student_id,name\nstu-1,Ada\nstu-2,Alan\n"), 0o600))

	ids, err := readRoster(path)

	require.NoError(t, err)
	assert.Equal(t, []string{"stu-1", "stu-2"}, ids)
}
