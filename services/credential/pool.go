// Package credential implements the API credential pool: round-robin
// selection across a fixed set of API keys, with a flat cooldown bench for
// any credential that racks up consecutive failures. A credential's health
// lives only in memory -- the pool is meant to run as a single process-wide
// instance -- with only state transitions mirrored to Postgres for audit.
package credential

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/jokbolink/orchestrator/model"
)

// Pool round-robins across a fixed set of credential IDs, skipping any
// currently in cooldown.
type Pool struct {
	mu               sync.Mutex
	health           map[string]*model.CredentialHealth
	order            []string
	next             int
	failureThreshold int
	cooldown         time.Duration
	db               *gorm.DB
}

// Config configures a Pool.
type Config struct {
	CredentialIDs    []string
	FailureThreshold int           // consecutive failures before cooldown
	CooldownDuration time.Duration // flat cooldown once benched
	DB               *gorm.DB      // optional; audit mirror skipped if nil
}

// New builds a Pool over a fixed credential set.
func New(config Config) (*Pool, error) {
	if len(config.CredentialIDs) == 0 {
		return nil, fmt.Errorf("credential pool requires at least one credential ID")
	}

	health := make(map[string]*model.CredentialHealth, len(config.CredentialIDs))
	order := make([]string, 0, len(config.CredentialIDs))
	for _, id := range config.CredentialIDs {
		health[id] = &model.CredentialHealth{ID: id}
		order = append(order, id)
	}

	return &Pool{
		health:           health,
		order:            order,
		failureThreshold: config.FailureThreshold,
		cooldown:         config.CooldownDuration,
		db:               config.DB,
	}, nil
}

// ErrNoCredentialAvailable is returned by Acquire when every credential in
// the pool is currently in cooldown.
var ErrNoCredentialAvailable = fmt.Errorf("no credential available: all in cooldown")

// Acquire returns the next healthy credential ID in round-robin order,
// skipping any still in cooldown. It advances the rotation pointer even
// when returning an error, so repeated calls during an outage don't starve
// the credential that happens to sit first in the list once it recovers.
func (p *Pool) Acquire() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.order); i++ {
		idx := (p.next + i) % len(p.order)
		id := p.order[idx]
		if !p.health[id].InCooldown(now) {
			p.next = (idx + 1) % len(p.order)
			return id, nil
		}
	}
	p.next = (p.next + 1) % len(p.order)
	return "", ErrNoCredentialAvailable
}

// AcquireN returns up to n distinct healthy credentials for a multi-API job,
// in rotation order. It returns fewer than n (never zero, unless every
// credential is in cooldown) when the pool can't supply n healthy keys.
func (p *Pool) AcquireN(n int) []string {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	var out []string
	for i := 0; i < len(p.order) && len(out) < n; i++ {
		idx := (p.next + i) % len(p.order)
		id := p.order[idx]
		if !p.health[id].InCooldown(now) {
			out = append(out, id)
		}
	}
	if len(p.order) > 0 {
		p.next = (p.next + 1) % len(p.order)
	}
	return out
}

// ReportSuccess resets a credential's consecutive-failure count and stamps
// its last-used time.
func (p *Pool) ReportSuccess(credentialID string) {
	p.mu.Lock()
	defer p.mu.Unlock()

	h, ok := p.health[credentialID]
	if !ok {
		return
	}
	h.ConsecutiveFailures = 0
	h.TotalCalls++
	h.LastUsedAt = time.Now()
}

// ReportFailure increments a credential's failure counters and, once
// FailureThreshold consecutive failures accumulate, benches it for
// CooldownDuration. The cooldown is flat regardless of failure kind: a spec
// decision trading the nuance of differentiated per-error-kind cooldowns
// for a much simpler, auditable recovery rule.
func (p *Pool) ReportFailure(ctx context.Context, credentialID, reason string) {
	p.mu.Lock()
	h, ok := p.health[credentialID]
	if !ok {
		p.mu.Unlock()
		return
	}
	h.ConsecutiveFailures++
	h.TotalCalls++
	h.TotalFailures++
	h.LastUsedAt = time.Now()

	enteredCooldown := false
	if h.ConsecutiveFailures >= p.failureThreshold && !h.InCooldown(time.Now()) {
		h.CooldownUntil = time.Now().Add(p.cooldown)
		enteredCooldown = true
	}
	p.mu.Unlock()

	if enteredCooldown {
		log.Printf("credential pool: %s entered cooldown until %s (reason: %s)", credentialID, h.CooldownUntil.Format(time.RFC3339), reason)
		p.audit(ctx, credentialID, "cooldown_entered", reason)
	}
}

// RestoreExpiredCooldowns clears CooldownUntil and resets failure counts for
// any credential whose cooldown window has elapsed. Intended to be called
// periodically from a cron job rather than relied upon implicitly, since
// InCooldown already treats an elapsed CooldownUntil as healthy -- this
// exists purely to reset ConsecutiveFailures so a credential doesn't
// immediately re-enter cooldown on its very next failure.
func (p *Pool) RestoreExpiredCooldowns(ctx context.Context) {
	p.mu.Lock()
	var restored []string
	now := time.Now()
	for id, h := range p.health {
		if !h.CooldownUntil.IsZero() && !h.InCooldown(now) {
			h.CooldownUntil = time.Time{}
			h.ConsecutiveFailures = 0
			restored = append(restored, id)
		}
	}
	p.mu.Unlock()

	for _, id := range restored {
		log.Printf("credential pool: %s cooldown cleared", id)
		p.audit(ctx, id, "cooldown_cleared", "cooldown window elapsed")
	}
}

// Health returns a snapshot of one credential's health, for diagnostics.
func (p *Pool) Health(credentialID string) (model.CredentialHealth, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	h, ok := p.health[credentialID]
	if !ok {
		return model.CredentialHealth{}, false
	}
	return *h, true
}

func (p *Pool) audit(ctx context.Context, credentialID, event, reason string) {
	if p.db == nil {
		return
	}
	entry := model.CredentialAuditLog{CredentialID: credentialID, Event: event, Reason: reason}
	if err := p.db.WithContext(ctx).Create(&entry).Error; err != nil {
		log.Printf("credential pool: failed to write audit log for %s: %v", credentialID, err)
	}
}
