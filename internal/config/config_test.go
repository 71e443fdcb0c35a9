package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestHashPasswordRoundTrips(t *testing.T) {
	hash, err := HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("correct horse battery staple")))
	assert.Error(t, bcrypt.CompareHashAndPassword([]byte(hash), []byte("wrong password")))
}

func TestLoadAppliesHTTPAdminEnvOverrides(t *testing.T) {
	t.Setenv("CORPUS_SYNC_HTTP_ADMIN_USER", "ops")
	t.Setenv("CORPUS_SYNC_HTTP_ADMIN_PASSWORD_HASH", "$2a$10$stubhashvalue")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "ops", cfg.HTTPAdminUser)
	assert.Equal(t, "$2a$10$stubhashvalue", cfg.HTTPAdminPasswordHash)
}
