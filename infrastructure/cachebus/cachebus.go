// Package cachebus layers the advisory cache and the cross-instance
// broadcast bus over valkey. Every operation is best-effort: with no
// valkey configured the methods are no-ops and callers fall back to the
// durable store.
package cachebus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/chafiq1992/wagateway/infrastructure/valkey"
	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

const (
	// recentCap is how many cached messages a conversation keeps.
	recentCap = 50
	// recentTrimAt is the length past which the list is trimmed back to
	// recentCap, so trims run in batches instead of on every push.
	recentTrimAt = 100
)

type CacheBus struct {
	client   *valkey.Client
	serverID string
}

// New wires the cache over an optional valkey client. client may be nil.
func New(client *valkey.Client, serverID string) *CacheBus {
	return &CacheBus{client: client, serverID: serverID}
}

func (c *CacheBus) Enabled() bool {
	return c != nil && c.client != nil
}

// PushRecent prepends a rendered message to the conversation's recent
// list.
func (c *CacheBus) PushRecent(ctx context.Context, userID string, payload any) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return
	}
	inner := c.client.Inner()
	key := c.client.Key("recent", userID)
	if err := inner.Do(ctx, inner.B().Lpush().Key(key).Element(string(raw)).Build()).Error(); err != nil {
		logrus.WithError(err).Debug("[CACHE] recent push failed")
		return
	}
	length, err := inner.Do(ctx, inner.B().Llen().Key(key).Build()).AsInt64()
	if err == nil && length > recentTrimAt {
		_ = inner.Do(ctx, inner.B().Ltrim().Key(key).Start(0).Stop(recentCap-1).Build()).Error()
	}
}

// GetRecent returns up to n cached messages in ascending order, or nil
// when the cache has nothing (caller then hits the store).
func (c *CacheBus) GetRecent(ctx context.Context, userID string, n int) []json.RawMessage {
	if !c.Enabled() {
		return nil
	}
	if n <= 0 || n > recentCap {
		n = recentCap
	}
	inner := c.client.Inner()
	key := c.client.Key("recent", userID)
	rows, err := inner.Do(ctx, inner.B().Lrange().Key(key).Start(0).Stop(int64(n-1)).Build()).AsStrSlice()
	if err != nil || len(rows) == 0 {
		return nil
	}
	out := make([]json.RawMessage, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		out = append(out, json.RawMessage(rows[i]))
	}
	return out
}

// TrySetCooldown sets the key if absent and reports whether it was set.
// A false return means the cooldown is already active. Cache failures
// report true so a dead cache never blocks the caller's action.
func (c *CacheBus) TrySetCooldown(ctx context.Context, key string, ttl time.Duration) bool {
	if !c.Enabled() {
		return true
	}
	inner := c.client.Inner()
	err := inner.Do(ctx, inner.B().Set().Key(c.client.Key(key)).Value("1").
		Nx().Ex(ttl).Build()).Error()
	if err == nil {
		return true
	}
	if valkeylib.IsValkeyNil(err) {
		return false
	}
	logrus.WithError(err).Debug("[CACHE] cooldown set failed")
	return true
}

// CooldownActive reports whether the key currently exists.
func (c *CacheBus) CooldownActive(ctx context.Context, key string) bool {
	if !c.Enabled() {
		return false
	}
	inner := c.client.Inner()
	n, err := inner.Do(ctx, inner.B().Exists().Key(c.client.Key(key)).Build()).AsInt64()
	return err == nil && n > 0
}

// SetJSON stores a JSON-serialized value with a TTL.
func (c *CacheBus) SetJSON(ctx context.Context, key string, value any, ttl time.Duration) {
	if !c.Enabled() {
		return
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}
	inner := c.client.Inner()
	if err := inner.Do(ctx, inner.B().Set().Key(c.client.Key(key)).Value(string(raw)).
		Ex(ttl).Build()).Error(); err != nil {
		logrus.WithError(err).Debug("[CACHE] json set failed")
	}
}

// GetJSON loads a JSON value into out; reports whether the key existed.
func (c *CacheBus) GetJSON(ctx context.Context, key string, out any) bool {
	if !c.Enabled() {
		return false
	}
	inner := c.client.Inner()
	res := inner.Do(ctx, inner.B().Get().Key(c.client.Key(key)).Build())
	if err := res.Error(); err != nil {
		return false
	}
	raw, err := res.AsBytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(raw, out) == nil
}

// Delete removes a cached key.
func (c *CacheBus) Delete(ctx context.Context, key string) {
	if !c.Enabled() {
		return
	}
	inner := c.client.Inner()
	_ = inner.Do(ctx, inner.B().Del().Key(c.client.Key(key)).Build()).Error()
}
