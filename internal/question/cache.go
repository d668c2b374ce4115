package question

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache version markers. Bump either to invalidate every cached question set
// (promptVersion when the prompt changes, schemaVersion when Candidate does).
const (
	promptVersion = "2024-v3"
	schemaVersion = "v1"
)

const generationCacheTTL = 7 * 24 * time.Hour

// CacheKey derives the deterministic cache slot for one generation request.
// Topic is normalized so "Space" and " space " share an entry; the difficulty
// curve participates so a different ramp regenerates.
func CacheKey(topic string, count int, curve []string) string {
	normalized := strings.ToLower(strings.TrimSpace(topic))
	if len(curve) > count {
		curve = curve[:count]
	}
	sum := md5.Sum([]byte(fmt.Sprintf("%s:%d:%s", normalized, count, strings.Join(curve, "-"))))
	return fmt.Sprintf("quiz:%s:%s:%s", promptVersion, schemaVersion, hex.EncodeToString(sum[:])[:12])
}

// Cache keeps validated question sets in Redis so repeat requests for the
// same topic skip the model entirely.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

var _ GenerationCache = (*Cache)(nil)

func NewCache(client *redis.Client) *Cache {
	return &Cache{client: client, ttl: generationCacheTTL}
}

// Get returns the cached question set, or nil on a miss.
func (c *Cache) Get(ctx context.Context, topic string, count int, curve []string) ([]Candidate, error) {
	data, err := c.client.Get(ctx, CacheKey(topic, count, curve)).Bytes()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, err
	}
	var questions []Candidate
	if err := json.Unmarshal(data, &questions); err != nil {
		return nil, err
	}
	return questions, nil
}

// Set stores a validated question set for the full TTL.
func (c *Cache) Set(ctx context.Context, topic string, count int, curve []string, questions []Candidate) error {
	data, err := json.Marshal(questions)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, CacheKey(topic, count, curve), data, c.ttl).Err()
}
