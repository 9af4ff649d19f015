package redisstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"parkgate/backend/services/gate-service/internal/models"
)

var (
	// ErrNotFound is returned when the owner has no cached booking.
	ErrNotFound = errors.New("redisstore: no cached booking")
	// ErrCorrupt is returned when the cached value is not a booking record.
	ErrCorrupt = errors.New("redisstore: cached booking is unreadable")
)

// Client is the subset of *redis.Client the store uses.
type Client interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	Set(ctx context.Context, key string, value interface{}, expiration time.Duration) *redis.StatusCmd
	Del(ctx context.Context, keys ...string) *redis.IntCmd
}

// BookingStore keeps one recoverable booking per owner. Writes are last-write-wins.
type BookingStore struct {
	client Client
	ttl    time.Duration
}

// NewBookingStore returns redis-backed store.
func NewBookingStore(client Client, ttl time.Duration) *BookingStore {
	return &BookingStore{client: client, ttl: ttl}
}

func (s *BookingStore) key(owner string) string {
	return fmt.Sprintf("bookings:recoverable:%s", owner)
}

// Save replaces the owner's cached booking.
func (s *BookingStore) Save(ctx context.Context, owner string, booking models.RecoverableBooking) error {
	data, err := json.Marshal(booking)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.key(owner), data, s.ttl).Err()
}

// Load returns the owner's cached booking exactly as stored; callers validate it.
func (s *BookingStore) Load(ctx context.Context, owner string) (models.RecoverableBooking, error) {
	raw, err := s.client.Get(ctx, s.key(owner)).Result()
	if errors.Is(err, redis.Nil) {
		return models.RecoverableBooking{}, ErrNotFound
	}
	if err != nil {
		return models.RecoverableBooking{}, err
	}
	var booking models.RecoverableBooking
	if err := json.Unmarshal([]byte(raw), &booking); err != nil {
		return models.RecoverableBooking{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return booking, nil
}

// Clear removes the owner's cached booking.
func (s *BookingStore) Clear(ctx context.Context, owner string) error {
	return s.client.Del(ctx, s.key(owner)).Err()
}
