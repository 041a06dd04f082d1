package deduplication

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"basecamp/types"
)

// BloomConfig configures the RedisBloom-backed resubmission filter.
type BloomConfig struct {
	Addr     string
	Password string
	DB       int
	// Key is the redis key holding the bloom filter.
	Key string
	// TTL is the sliding retention window; the filter expires this long
	// after the most recent insertion.
	TTL time.Duration
	// Capacity sets the initial BF.RESERVE capacity (number of items).
	Capacity int
	// ErrorRate sets the desired false positive probability (e.g. 0.001).
	ErrorRate float64
}

// RedisBloom is a probabilistic fast path for exact resubmissions: the same
// message from the same contact within the TTL window. It is advisory only.
// A hit is logged while the vector verdict still decides, and a bloom outage
// degrades silently to the vector path.
type RedisBloom struct {
	client *redis.Client
	key    string
	ttl    time.Duration
}

// NewRedisBloom connects to redis, verifies connectivity, and reserves the
// filter if it does not exist yet.
func NewRedisBloom(cfg BloomConfig) (*RedisBloom, error) {
	if cfg.Key == "" {
		cfg.Key = "leads:bloom"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 24 * time.Hour
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = 100000
	}
	if cfg.ErrorRate <= 0 {
		cfg.ErrorRate = 0.001
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}

	rb := &RedisBloom{client: client, key: cfg.Key, ttl: cfg.TTL}

	// BF.RESERVE fails if the RedisBloom module is absent; BF.ADD may still
	// auto-create the filter, so reservation failure is not fatal.
	exists, err := client.Exists(ctx, cfg.Key).Result()
	if err == nil && exists == 0 {
		_ = client.Do(ctx, "BF.RESERVE", cfg.Key, fmt.Sprintf("%f", cfg.ErrorRate), cfg.Capacity).Err()
	}

	return rb, nil
}

// Exists checks whether the hash is probably present in the filter.
func (r *RedisBloom) Exists(ctx context.Context, hash string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	res, err := r.client.Do(ctx, "BF.EXISTS", r.key, hash).Result()
	if err != nil {
		return false, err
	}

	switch v := res.(type) {
	case int64:
		return v == 1, nil
	case string:
		return v == "1", nil
	default:
		return false, fmt.Errorf("unexpected BF.EXISTS response type %T: %v", res, res)
	}
}

// Add inserts the hash and refreshes the sliding TTL on the filter key.
func (r *RedisBloom) Add(ctx context.Context, hash string) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := r.client.Do(ctx, "BF.ADD", r.key, hash).Err(); err != nil {
		return err
	}
	return r.client.Expire(ctx, r.key, r.ttl).Err()
}

// Close closes the underlying redis client.
func (r *RedisBloom) Close() error {
	return r.client.Close()
}

// ResubmissionHash fingerprints a submission for the bloom filter:
// sha256 over the normalized message, email, and phone digits. Two
// submissions hash equal only when the text and the contact identity both
// match exactly after normalization.
func ResubmissionHash(message string, contact types.ContactInfo) string {
	normMessage := strings.Join(strings.Fields(strings.ToLower(message)), " ")
	combined := normMessage + "|" + normalizeEmail(contact.Email) + "|" + lastDigits(phoneDigits(contact.Phone), 10)

	h := sha256.Sum256([]byte(combined))
	return hex.EncodeToString(h[:])
}
