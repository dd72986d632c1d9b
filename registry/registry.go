// Package registry tracks live websocket sessions per user, queues
// events for offline users and fans events out across instances through
// the broadcast bus.
package registry

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/chafiq1992/wagateway/infrastructure/cachebus"
	"github.com/chafiq1992/wagateway/pkg/metrics"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const (
	// offline queues hold at most offlineCap events; overflow drops the
	// oldest half so a flood cannot grow memory unbounded.
	offlineCap  = 100
	offlineKeep = 50

	textMessage = 1
)

// Conn is the write side of a websocket connection.
type Conn interface {
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// Session is one live websocket attachment of a user. Writes are
// serialized: websocket connections do not allow concurrent writers.
type Session struct {
	ID      string
	UserID  string
	IsAdmin bool

	conn Conn
	mu   sync.Mutex
}

func NewSession(userID string, isAdmin bool, conn Conn) *Session {
	return &Session{ID: uuid.NewString(), UserID: userID, IsAdmin: isAdmin, conn: conn}
}

func (s *Session) Send(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(textMessage, data)
}

func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.Close()
}

// Registry is the per-instance session table.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]map[*Session]struct{}
	offline  map[string][][]byte

	bus *cachebus.CacheBus
}

// New builds a registry; bus may be nil for single-instance deployments.
func New(bus *cachebus.CacheBus) *Registry {
	return &Registry{
		sessions: make(map[string]map[*Session]struct{}),
		offline:  make(map[string][][]byte),
		bus:      bus,
	}
}

// Register attaches a session and drains any queued offline events into
// it, oldest first. A send failure mid-drain disconnects the session and
// puts the undelivered events back at the head of the queue.
func (r *Registry) Register(sess *Session) {
	r.mu.Lock()
	set, ok := r.sessions[sess.UserID]
	if !ok {
		set = make(map[*Session]struct{})
		r.sessions[sess.UserID] = set
	}
	set[sess] = struct{}{}
	queued := r.offline[sess.UserID]
	delete(r.offline, sess.UserID)
	r.mu.Unlock()

	metrics.WSSessions.Inc()
	for i, data := range queued {
		if err := sess.Send(data); err != nil {
			logrus.WithError(err).WithField("user_id", sess.UserID).
				Warn("[WS] offline drain failed, disconnecting session")
			r.requeueFront(sess.UserID, queued[i:])
			r.Unregister(sess)
			_ = sess.Close()
			return
		}
	}
	if len(queued) > 0 {
		logrus.WithFields(logrus.Fields{
			"user_id": sess.UserID,
			"count":   len(queued),
		}).Info("[WS] drained offline queue")
	}
}

func (r *Registry) Unregister(sess *Session) {
	r.mu.Lock()
	if set, ok := r.sessions[sess.UserID]; ok {
		if _, present := set[sess]; present {
			delete(set, sess)
			metrics.WSSessions.Dec()
		}
		if len(set) == 0 {
			delete(r.sessions, sess.UserID)
		}
	}
	r.mu.Unlock()
}

// SessionCount returns the number of live local sessions for a user.
func (r *Registry) SessionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions[userID])
}

// SendToUser delivers payload to every local session of the user, queues
// it when none exist, and publishes it on the bus for sessions attached
// to other instances.
func (r *Registry) SendToUser(ctx context.Context, userID string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("[WS] failed to marshal event")
		return
	}

	delivered := r.deliverLocal(userID, data, "")
	if !delivered {
		r.enqueueOffline(userID, data)
	}

	if r.bus != nil {
		r.bus.Publish(ctx, cachebus.Envelope{UserID: userID, Payload: data})
	}
}

// SendToUserExcept delivers payload to the user's sessions excluding the
// one named by exceptSessionID, so an event never echoes back to the
// session that originated it. Events on this path are transient and are
// never queued for offline users.
func (r *Registry) SendToUserExcept(ctx context.Context, userID string, payload any, exceptSessionID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("[WS] failed to marshal event")
		return
	}

	r.deliverLocal(userID, data, exceptSessionID)

	if r.bus != nil {
		r.bus.Publish(ctx, cachebus.Envelope{UserID: userID, Payload: data})
	}
}

// BroadcastToAdmins delivers payload to every local admin session except
// those belonging to excludeUserID, and fans it out over the bus.
func (r *Registry) BroadcastToAdmins(ctx context.Context, payload any, excludeUserID string) {
	data, err := json.Marshal(payload)
	if err != nil {
		logrus.WithError(err).Error("[WS] failed to marshal admin event")
		return
	}

	r.deliverLocalAdmins(data, excludeUserID)
	if r.bus != nil {
		r.bus.Publish(ctx, cachebus.Envelope{Admins: true, ExcludeUser: excludeUserID, Payload: data})
	}
}

// DeliverFromBus handles an envelope received from another instance.
// Delivery is strictly local: no re-publish and no offline queuing, the
// originating instance already queued for offline users.
func (r *Registry) DeliverFromBus(env cachebus.Envelope) {
	if env.Admins {
		r.deliverLocalAdmins(env.Payload, env.ExcludeUser)
		return
	}
	r.deliverLocal(env.UserID, env.Payload, "")
}

// deliverLocal writes data to the user's sessions, culling any session
// whose write fails. Reports whether at least one write succeeded.
func (r *Registry) deliverLocal(userID string, data []byte, exceptSessionID string) bool {
	r.mu.RLock()
	set := r.sessions[userID]
	targets := make([]*Session, 0, len(set))
	for sess := range set {
		if exceptSessionID != "" && sess.ID == exceptSessionID {
			continue
		}
		targets = append(targets, sess)
	}
	r.mu.RUnlock()

	delivered := 0
	for _, sess := range targets {
		if err := sess.Send(data); err != nil {
			logrus.WithError(err).WithField("user_id", userID).Debug("[WS] send failed, culling session")
			r.Unregister(sess)
			_ = sess.Close()
			continue
		}
		delivered++
	}
	return delivered > 0
}

func (r *Registry) deliverLocalAdmins(data []byte, excludeUserID string) {
	r.mu.RLock()
	var targets []*Session
	for userID, set := range r.sessions {
		if excludeUserID != "" && userID == excludeUserID {
			continue
		}
		for sess := range set {
			if sess.IsAdmin {
				targets = append(targets, sess)
			}
		}
	}
	r.mu.RUnlock()

	for _, sess := range targets {
		if err := sess.Send(data); err != nil {
			logrus.WithError(err).Debug("[WS] admin send failed, culling session")
			r.Unregister(sess)
			_ = sess.Close()
		}
	}
}

func (r *Registry) enqueueOffline(userID string, data []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := append(r.offline[userID], data)
	if len(q) > offlineCap {
		q = q[len(q)-offlineKeep:]
	}
	r.offline[userID] = q
}

// requeueFront puts undelivered drain events back ahead of anything
// queued since the drain started, preserving FIFO order.
func (r *Registry) requeueFront(userID string, events [][]byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := append(append([][]byte{}, events...), r.offline[userID]...)
	if len(q) > offlineCap {
		q = q[len(q)-offlineKeep:]
	}
	r.offline[userID] = q
}
