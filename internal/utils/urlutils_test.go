package utils

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLooksLikeURL(t *testing.T) {
	assert.True(t, LooksLikeURL("https://example.com/flag.txt"))
	assert.True(t, LooksLikeURL("http://127.0.0.1:8080"))
	assert.False(t, LooksLikeURL("ftp://example.com/x"))
	assert.False(t, LooksLikeURL("example.com"))
	assert.False(t, LooksLikeURL("see https://example.com"))
	assert.False(t, LooksLikeURL("https://example.com\nmore"))
}

func TestExtractBaseDomain(t *testing.T) {
	tests := map[string]string{
		"https://a.b.example.co.uk/x": "example.co.uk",
		"http://sub.example.com":      "example.com",
		"http://localhost:8000/":      "localhost",
		"http://10.0.0.1/path":        "10.0.0.1",
	}
	for in, want := range tests {
		got, err := ExtractBaseDomain(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}
}

func TestParseProxyInput(t *testing.T) {
	logger := &NoOpLogger{}

	proxies, err := ParseProxyInput("127.0.0.1:8080, socks5://user:pw@proxy.local:1080", logger)
	require.NoError(t, err)
	require.Len(t, proxies, 2)
	assert.Equal(t, "http://127.0.0.1:8080", proxies[0].URL)
	assert.Equal(t, "socks5", proxies[1].Scheme)
	assert.Equal(t, "user", proxies[1].Username)

	_, err = ParseProxyInput("no-port-here", logger)
	assert.Error(t, err)
}
