package cachebus

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sirupsen/logrus"
	valkeylib "github.com/valkey-io/valkey-go"
)

const broadcastChannel = "ws:broadcast"

// Envelope is what travels over the bus. SenderID carries the publishing
// instance's server id so subscribers can drop their own echoes.
type Envelope struct {
	SenderID    string          `json:"sender_id"`
	UserID      string          `json:"user_id,omitempty"`
	Admins      bool            `json:"admins,omitempty"`
	ExcludeUser string          `json:"exclude_user,omitempty"`
	Payload     json.RawMessage `json:"payload"`
}

// Publish fans an event out to the other instances. Local sessions are
// always served directly by the registry; the bus only reaches remote
// ones.
func (c *CacheBus) Publish(ctx context.Context, env Envelope) {
	if !c.Enabled() {
		return
	}
	env.SenderID = c.serverID
	raw, err := json.Marshal(env)
	if err != nil {
		return
	}
	inner := c.client.Inner()
	if err := inner.Do(ctx, inner.B().Publish().
		Channel(c.client.Key(broadcastChannel)).
		Message(string(raw)).Build()).Error(); err != nil {
		logrus.WithError(err).Warn("[BUS] publish failed")
	}
}

// dispatch decodes one wire message and hands it to deliver, unless it
// is malformed or this instance's own echo.
func (c *CacheBus) dispatch(raw string, deliver func(Envelope)) {
	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		logrus.WithError(err).Warn("[BUS] dropping malformed envelope")
		return
	}
	if env.SenderID == c.serverID {
		return
	}
	deliver(env)
}

// Subscribe blocks consuming bus envelopes until ctx is cancelled.
// Envelopes published by this instance are dropped; each surviving
// envelope is handed to deliver for local-session delivery only (the
// receiver never re-publishes).
func (c *CacheBus) Subscribe(ctx context.Context, deliver func(Envelope)) {
	if !c.Enabled() {
		return
	}
	inner := c.client.Inner()
	channel := c.client.Key(broadcastChannel)

	for {
		err := inner.Receive(ctx, inner.B().Subscribe().Channel(channel).Build(), func(msg valkeylib.PubSubMessage) {
			c.dispatch(msg.Message, deliver)
		})
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			logrus.WithError(err).Warn("[BUS] subscription lost, reconnecting")
		}
		time.Sleep(time.Second)
	}
}
