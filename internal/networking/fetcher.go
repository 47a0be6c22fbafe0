package networking

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/utils"
)

// MaxDownloadSize caps how much of a URL target is read.
const MaxDownloadSize = 64 << 20

// ErrTooLarge is returned when a download exceeds MaxDownloadSize.
var ErrTooLarge = errors.New("download exceeds size limit")

// Download describes one URL transfer. Expected is -1 when the server sent
// no Content-Length.
type Download struct {
	URL       string
	Expected  int64
	Received  int64
	Started   time.Time
	Completed bool
}

// Speed returns the average transfer rate in bytes per second.
func (d Download) Speed() float64 {
	elapsed := time.Since(d.Started).Seconds()
	if elapsed <= 0 {
		return 0
	}
	return float64(d.Received) / elapsed
}

// download is the live, mutable side of a Download.
type download struct {
	url      string
	expected atomic.Int64
	received atomic.Int64
	started  time.Time
	done     atomic.Bool
}

func (d *download) snapshot() Download {
	return Download{
		URL:       d.url,
		Expected:  d.expected.Load(),
		Received:  d.received.Load(),
		Started:   d.started,
		Completed: d.done.Load(),
	}
}

// countingReader feeds the bytes it reads into a download's counter.
type countingReader struct {
	r io.Reader
	d *download
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.d.received.Add(int64(n))
	return n, err
}

// Fetcher downloads URL targets with retries, per-domain pacing and
// optional round-robin proxies.
type Fetcher struct {
	baseClient       *http.Client
	config           *config.Config
	logger           utils.Logger
	domains          *DomainManager
	defaultTransport *http.Transport

	proxyLock        sync.Mutex
	domainProxyIndex map[string]int

	active sync.Map // *download keyed by itself
}

// NewFetcher creates a Fetcher from the networking section of cfg.
func NewFetcher(cfg *config.Config, logger utils.Logger) *Fetcher {
	baseTransport := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		TLSClientConfig: &tls.Config{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
	}
	return &Fetcher{
		baseClient: &http.Client{
			Transport: baseTransport,
			Timeout:   cfg.RequestTimeout,
		},
		config:           cfg,
		logger:           logger,
		domains:          NewDomainManager(cfg, logger),
		defaultTransport: baseTransport,
		domainProxyIndex: make(map[string]int),
	}
}

// getProxyForDomain selects a proxy for a given target domain using round-robin per domain.
func (f *Fetcher) getProxyForDomain(targetDomain string) *url.URL {
	f.proxyLock.Lock()
	defer f.proxyLock.Unlock()

	proxies := f.config.ParsedProxies
	if len(proxies) == 0 {
		return nil
	}

	currentIndex, exists := f.domainProxyIndex[targetDomain]
	if exists {
		currentIndex = (currentIndex + 1) % len(proxies)
	}
	f.domainProxyIndex[targetDomain] = currentIndex

	entry := proxies[currentIndex]
	proxyURL, err := url.Parse(entry.String())
	if err != nil {
		f.logger.Warnf("Failed to parse stored proxy URL '%s': %v. Skipping proxy.", entry.String(), err)
		return nil
	}
	return proxyURL
}

func (f *Fetcher) clientFor(host string) *http.Client {
	proxyURL := f.getProxyForDomain(host)
	if proxyURL == nil {
		return f.baseClient
	}
	proxied := f.defaultTransport.Clone()
	proxied.Proxy = http.ProxyURL(proxyURL)
	f.logger.Debugf("[Fetcher] Using proxy %s for %s", proxyURL.Redacted(), host)
	return &http.Client{Transport: proxied, Timeout: f.config.RequestTimeout}
}

// Fetch downloads rawURL and returns the body.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	normalized, err := utils.NormalizeURL(rawURL)
	if err != nil {
		return nil, err
	}
	if !utils.IsValidURL(normalized) {
		return nil, fmt.Errorf("invalid URL %q", rawURL)
	}
	domain, err := utils.ExtractBaseDomain(normalized)
	if err != nil {
		if domain, err = utils.GetDomainFromURL(normalized); err != nil {
			return nil, err
		}
	}

	var lastErr error
	for attempt := 0; attempt <= f.config.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := time.Duration(f.config.RetryDelayMs) * time.Millisecond
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(delay):
			}
		}
		if err := f.domains.Wait(ctx, domain); err != nil {
			return nil, err
		}

		body, status, err := f.fetchOnce(ctx, normalized)
		f.domains.RecordRequestResult(domain, status, err)
		if err == nil {
			return body, nil
		}
		lastErr = err
		if ctx.Err() != nil || errors.Is(err, ErrTooLarge) {
			break
		}
		f.logger.Debugf("[Fetcher] Attempt %d/%d for %s failed: %v", attempt+1, f.config.MaxRetries+1, normalized, err)
	}
	return nil, lastErr
}

func (f *Fetcher) fetchOnce(ctx context.Context, rawURL string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to build request for %s: %w", rawURL, err)
	}
	if f.config.UserAgent != "" {
		req.Header.Set("User-Agent", f.config.UserAgent)
	}

	resp, err := f.clientFor(req.URL.Hostname()).Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to execute request for %s: %w", rawURL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= http.StatusBadRequest {
		return nil, resp.StatusCode, fmt.Errorf("GET %s: %s", rawURL, resp.Status)
	}

	d := &download{url: rawURL, started: time.Now()}
	d.expected.Store(resp.ContentLength)
	f.active.Store(d, struct{}{})
	defer func() {
		d.done.Store(true)
		f.active.Delete(d)
	}()

	body, err := io.ReadAll(io.LimitReader(&countingReader{r: resp.Body, d: d}, MaxDownloadSize+1))
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body for %s: %w", rawURL, err)
	}
	if len(body) > MaxDownloadSize {
		return nil, resp.StatusCode, fmt.Errorf("%s: %w", rawURL, ErrTooLarge)
	}
	f.logger.Debugf("[Fetcher] Downloaded %s (%d bytes, status %d)", rawURL, len(body), resp.StatusCode)
	return body, resp.StatusCode, nil
}

// ActiveDownloads lists transfers currently in flight, oldest first.
func (f *Fetcher) ActiveDownloads() []Download {
	var out []Download
	f.active.Range(func(key, _ any) bool {
		out = append(out, key.(*download).snapshot())
		return true
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Started.Before(out[j].Started) })
	return out
}

// FetchAll downloads several URLs concurrently. Results are indexed like
// urls; a failed URL leaves a nil entry and its error in the joined error.
func (f *Fetcher) FetchAll(ctx context.Context, urls []string, limit int) ([][]byte, error) {
	results := make([][]byte, len(urls))
	errs := make([]error, len(urls))

	g, gctx := errgroup.WithContext(ctx)
	if limit > 0 {
		g.SetLimit(limit)
	}
	for i, u := range urls {
		g.Go(func() error {
			body, err := f.Fetch(gctx, u)
			if err != nil {
				errs[i] = err
				return nil
			}
			results[i] = body
			return nil
		})
	}
	_ = g.Wait()
	return results, errors.Join(errs...)
}
