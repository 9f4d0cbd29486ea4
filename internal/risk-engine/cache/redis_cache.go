package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	risk "github.com/radieske/ledger-core/internal/risk-engine"
)

// RedisCache guarda métricas de risco derivadas com TTL curto.
// Nunca é fonte de verdade: miss ou erro só custam uma recomputação.
type RedisCache struct {
	Client *redis.Client
	TTL    time.Duration
}

// NewRedisCache cria o cache de métricas com TTL configurável
func NewRedisCache(c *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{Client: c, TTL: ttl}
}

// key gera a chave Redis das métricas de risco de uma conta
func key(accountID string) string { return "risk:metrics:" + accountID }

func (r *RedisCache) Get(ctx context.Context, accountID string) (*risk.Metrics, error) {
	b, err := r.Client.Get(ctx, key(accountID)).Bytes()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var m risk.Metrics
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *RedisCache) Set(ctx context.Context, accountID string, m risk.Metrics) error {
	b, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key(accountID), b, r.TTL).Err()
}

func (r *RedisCache) Invalidate(ctx context.Context, accountID string) error {
	return r.Client.Del(ctx, key(accountID)).Err()
}
