package valkey

import (
	"context"
	"time"

	valkeylib "github.com/valkey-io/valkey-go"
)

// FiberStorage adapts Client to fiber's Storage interface so the limiter
// middleware shares its counters across instances.
type FiberStorage struct {
	client *Client
}

func NewFiberStorage(client *Client) *FiberStorage {
	return &FiberStorage{client: client}
}

func (s *FiberStorage) key(k string) string {
	return s.client.Key("limiter", k)
}

func (s *FiberStorage) Get(key string) ([]byte, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inner := s.client.Inner()
	res := inner.Do(ctx, inner.B().Get().Key(s.key(key)).Build())
	if err := res.Error(); err != nil {
		if valkeylib.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, err
	}
	return res.AsBytes()
}

func (s *FiberStorage) Set(key string, val []byte, exp time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inner := s.client.Inner()
	if exp > 0 {
		return inner.Do(ctx, inner.B().Set().Key(s.key(key)).Value(string(val)).
			Ex(exp).Build()).Error()
	}
	return inner.Do(ctx, inner.B().Set().Key(s.key(key)).Value(string(val)).Build()).Error()
}

func (s *FiberStorage) Delete(key string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	inner := s.client.Inner()
	return inner.Do(ctx, inner.B().Del().Key(s.key(key)).Build()).Error()
}

// Reset drops every limiter key under the prefix.
func (s *FiberStorage) Reset() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	inner := s.client.Inner()
	pattern := s.client.Key("limiter", "*")
	var cursor uint64
	for {
		res := inner.Do(ctx, inner.B().Scan().Cursor(cursor).Match(pattern).Count(100).Build())
		entry, err := res.AsScanEntry()
		if err != nil {
			return err
		}
		if len(entry.Elements) > 0 {
			if err := inner.Do(ctx, inner.B().Del().Key(entry.Elements...).Build()).Error(); err != nil {
				return err
			}
		}
		cursor = entry.Cursor
		if cursor == 0 {
			return nil
		}
	}
}

func (s *FiberStorage) Close() error {
	return nil
}
