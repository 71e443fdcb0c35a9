package wsremote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEndpointPlainURL(t *testing.T) {
	u, err := parseEndpoint("wss://sync.example.com/changes")
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "sync.example.com", u.Host)
}

func TestParseEndpointMultiaddr(t *testing.T) {
	u, err := parseEndpoint("/dns4/sync.example.com/tcp/9443/wss")
	require.NoError(t, err)
	assert.Equal(t, "wss", u.Scheme)
	assert.Equal(t, "sync.example.com:9443", u.Host)
}

func TestParseEndpointMultiaddrPlainWS(t *testing.T) {
	u, err := parseEndpoint("/ip4/10.0.0.5/tcp/9000/ws")
	require.NoError(t, err)
	assert.Equal(t, "ws", u.Scheme)
	assert.Equal(t, "10.0.0.5:9000", u.Host)
}

func TestParseEndpointMultiaddrMissingTCP(t *testing.T) {
	_, err := parseEndpoint("/dns4/sync.example.com/wss")
	assert.Error(t, err)
}
