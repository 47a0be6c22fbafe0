package networking

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/rafabd1/Nightshade/internal/config"
	"github.com/rafabd1/Nightshade/internal/utils"
)

const (
	DefaultInitialStandbyDuration   = 30 * time.Second
	DefaultMaxStandbyDuration       = 5 * time.Minute
	DefaultStandbyDurationIncrement = 30 * time.Second // added on every repeated 429
)

// domainState stores the pacing state of one base domain.
type domainState struct {
	lastRequestTime        time.Time // Timestamp of the last request *allowed* to this domain
	consecutiveFailures    int
	standbyUntil           time.Time // Forced pause after a 429
	currentStandbyDuration time.Duration
}

// DomainManager paces downloads per base domain so recursive URL targets
// pointing at the same host do not hammer it.
type DomainManager struct {
	minDelay     time.Duration
	logger       utils.Logger
	domainStatus map[string]*domainState
	mu           sync.Mutex // Protects access to domainStatus
}

// NewDomainManager creates a new instance of DomainManager.
func NewDomainManager(cfg *config.Config, logger utils.Logger) *DomainManager {
	return &DomainManager{
		minDelay:     time.Duration(cfg.MinRequestDelayMs) * time.Millisecond,
		logger:       logger,
		domainStatus: make(map[string]*domainState),
	}
}

// getOrCreateDomainState must be called with mu held.
func (dm *DomainManager) getOrCreateDomainState(domain string) *domainState {
	ds, exists := dm.domainStatus[domain]
	if !exists {
		ds = &domainState{currentStandbyDuration: DefaultInitialStandbyDuration}
		dm.domainStatus[domain] = ds
	}
	return ds
}

// CanRequest checks if a request can be made to a domain now. If not, it
// returns how long to wait.
func (dm *DomainManager) CanRequest(domain string) (bool, time.Duration) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ds := dm.getOrCreateDomainState(domain)

	now := time.Now()
	if ds.standbyUntil.After(now) {
		return false, ds.standbyUntil.Sub(now)
	}
	if !ds.lastRequestTime.IsZero() {
		if since := now.Sub(ds.lastRequestTime); since < dm.minDelay {
			return false, dm.minDelay - since
		}
	}
	ds.lastRequestTime = now
	return true, 0
}

// Wait blocks until a request to domain is allowed or ctx is done.
func (dm *DomainManager) Wait(ctx context.Context, domain string) error {
	for {
		ok, wait := dm.CanRequest(domain)
		if ok {
			return nil
		}
		dm.logger.Debugf("[DomainManager] Domain '%s' paced, waiting %s", domain, wait)
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// RecordRequestResult updates the domain state from a finished request.
func (dm *DomainManager) RecordRequestResult(domain string, statusCode int, err error) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ds := dm.getOrCreateDomainState(domain)

	if statusCode == http.StatusTooManyRequests {
		ds.standbyUntil = time.Now().Add(ds.currentStandbyDuration)
		dm.logger.Warnf("[DomainManager] Domain '%s' returned 429, standing by for %s", domain, ds.currentStandbyDuration)
		ds.currentStandbyDuration += DefaultStandbyDurationIncrement
		if ds.currentStandbyDuration > DefaultMaxStandbyDuration {
			ds.currentStandbyDuration = DefaultMaxStandbyDuration
		}
		ds.consecutiveFailures = 0
		return
	}

	if err != nil {
		ds.consecutiveFailures++
		dm.logger.Debugf("[DomainManager] Error for domain %s: %v. Consecutive failures: %d.", domain, err, ds.consecutiveFailures)
		return
	}
	ds.consecutiveFailures = 0
}

// IsStandby reports whether the domain is paused after a 429.
func (dm *DomainManager) IsStandby(domain string) (bool, time.Time) {
	dm.mu.Lock()
	defer dm.mu.Unlock()
	ds, exists := dm.domainStatus[domain]
	if !exists || time.Now().After(ds.standbyUntil) {
		return false, time.Time{}
	}
	return true, ds.standbyUntil
}
