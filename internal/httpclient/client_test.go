package httpclient

import (
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewDefaultHTTPClient(t *testing.T) {
	client := NewDefaultHTTPClient(5 * time.Second)
	assert.Equal(t, 5*time.Second, client.Timeout)
}

func TestNewStreamingHTTPClient(t *testing.T) {
	client := NewStreamingHTTPClient(3 * time.Second)
	assert.Zero(t, client.Timeout)

	transport, ok := client.Transport.(*http.Transport)
	require.True(t, ok)
	assert.Equal(t, 3*time.Second, transport.ResponseHeaderTimeout)
	assert.True(t, transport.DisableCompression)
}
