package networking

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/utils"
)

func testConfig() *config.Config {
	cfg := config.GetDefaultConfig()
	cfg.MinRequestDelayMs = 0
	cfg.RetryDelayMs = 1
	cfg.MaxRetries = 2
	cfg.RequestTimeout = 5 * time.Second
	return cfg
}

func TestFetch(t *testing.T) {
	var agent atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		agent.Store(r.UserAgent())
		_, _ = w.Write([]byte("hidden flag{http}"))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(), &utils.NoOpLogger{})
	body, err := f.Fetch(context.Background(), srv.URL+"/challenge")
	require.NoError(t, err)
	assert.Equal(t, "hidden flag{http}", string(body))
	assert.Contains(t, agent.Load(), "Nightshade")
	assert.Empty(t, f.ActiveDownloads())
}

func TestFetchRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			http.Error(w, "try again", http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte("second time lucky"))
	}))
	defer srv.Close()

	f := NewFetcher(testConfig(), &utils.NoOpLogger{})
	body, err := f.Fetch(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", string(body))
	assert.EqualValues(t, 2, hits.Load())
}

func TestFetchGivesUp(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		http.NotFound(w, r)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 1
	f := NewFetcher(cfg, &utils.NoOpLogger{})
	_, err := f.Fetch(context.Background(), srv.URL+"/missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
	assert.EqualValues(t, 2, hits.Load())

	_, err = f.Fetch(context.Background(), "http://")
	assert.Error(t, err)
}

func TestFetchHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusBadGateway)
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.RetryDelayMs = 10_000
	f := NewFetcher(cfg, &utils.NoOpLogger{})
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := f.Fetch(ctx, srv.URL)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestFetchAll(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/bad" {
			http.Error(w, "nope", http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(r.URL.Path))
	}))
	defer srv.Close()

	cfg := testConfig()
	cfg.MaxRetries = 0
	f := NewFetcher(cfg, &utils.NoOpLogger{})
	results, err := f.FetchAll(context.Background(), []string{srv.URL + "/a", srv.URL + "/bad", srv.URL + "/c"}, 2)
	require.Error(t, err)
	require.Len(t, results, 3)
	assert.Equal(t, "/a", string(results[0]))
	assert.Nil(t, results[1])
	assert.Equal(t, "/c", string(results[2]))
}

func TestProxyRoundRobin(t *testing.T) {
	cfg := testConfig()
	proxies, err := utils.ParseProxyInput("127.0.0.1:8080,127.0.0.1:8081", &utils.NoOpLogger{})
	require.NoError(t, err)
	cfg.ParsedProxies = proxies
	f := NewFetcher(cfg, &utils.NoOpLogger{})

	first := f.getProxyForDomain("example.com")
	second := f.getProxyForDomain("example.com")
	third := f.getProxyForDomain("example.com")
	other := f.getProxyForDomain("other.org")
	require.NotNil(t, first)
	assert.Equal(t, "127.0.0.1:8080", first.Host)
	assert.Equal(t, "127.0.0.1:8081", second.Host)
	assert.Equal(t, first.Host, third.Host)
	assert.Equal(t, "127.0.0.1:8080", other.Host)
}

func TestDomainManagerPacing(t *testing.T) {
	cfg := testConfig()
	cfg.MinRequestDelayMs = 50
	dm := NewDomainManager(cfg, &utils.NoOpLogger{})

	ok, _ := dm.CanRequest("example.com")
	require.True(t, ok)
	ok, wait := dm.CanRequest("example.com")
	assert.False(t, ok)
	assert.Greater(t, wait, time.Duration(0))
	ok, _ = dm.CanRequest("other.org")
	assert.True(t, ok, "domains are paced independently")

	start := time.Now()
	require.NoError(t, dm.Wait(context.Background(), "example.com"))
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
}

func TestDomainManagerStandby(t *testing.T) {
	dm := NewDomainManager(testConfig(), &utils.NoOpLogger{})
	dm.RecordRequestResult("example.com", http.StatusTooManyRequests, nil)

	standby, until := dm.IsStandby("example.com")
	require.True(t, standby)
	assert.WithinDuration(t, time.Now().Add(DefaultInitialStandbyDuration), until, time.Second)

	ok, wait := dm.CanRequest("example.com")
	assert.False(t, ok)
	assert.Greater(t, wait, 20*time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, dm.Wait(ctx, "example.com"), context.DeadlineExceeded)

	standby, _ = dm.IsStandby("other.org")
	assert.False(t, standby)
}
