package secgate

import (
	"context"
	"time"

	"github.com/certlane/secgate/iplist"
)

// BlockIP places a block entry for an IP or CIDR. A zero ttl makes
// the entry permanent.
func (e *Engine) BlockIP(ctx context.Context, target, reason, createdBy string, ttl time.Duration) error {
	return e.writeIPEntry(ctx, iplist.ListBlock, target, reason, createdBy, ttl)
}

// AllowIP places a trust entry for an IP or CIDR. Trusted clients
// bypass risk scoring and rate limiting but not authentication.
func (e *Engine) AllowIP(ctx context.Context, target, reason, createdBy string, ttl time.Duration) error {
	return e.writeIPEntry(ctx, iplist.ListAllow, target, reason, createdBy, ttl)
}

func (e *Engine) writeIPEntry(ctx context.Context, list iplist.List, target, reason, createdBy string, ttl time.Duration) error {
	if err := e.iplists.Add(ctx, list, target, reason, createdBy, ttl); err != nil {
		return err
	}
	e.emit(ctx, SecurityEvent{
		EventType: EventIPListChange,
		Success:   true,
		Metadata: map[string]string{
			"list":   string(list),
			"target": target,
			"by":     createdBy,
		},
	})
	return nil
}

// RemoveIPEntry deletes an allow or block entry.
func (e *Engine) RemoveIPEntry(ctx context.Context, target string) error {
	if err := e.iplists.Remove(ctx, target); err != nil {
		return err
	}
	e.emit(ctx, SecurityEvent{
		EventType: EventIPListChange,
		Success:   true,
		Metadata:  map[string]string{"target": target, "removed": "true"},
	})
	return nil
}

// IPEntry looks up the entry recorded for an exact target.
func (e *Engine) IPEntry(ctx context.Context, target string) (*iplist.Entry, error) {
	return e.iplists.Get(ctx, target)
}
