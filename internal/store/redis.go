package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/appshare1603/VanLive/internal/config"
)

// DeviceKeyPrefix namespaces sensor-node API keys: vehicle:auth:{api_key} -> vehicle id.
const DeviceKeyPrefix = "vehicle:auth:"

type RedisStore struct {
	client  *redis.Client
	timeout time.Duration
}

func NewRedisStore(ctx context.Context, cfg *config.Config) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		PoolSize:     20,
		MinIdleConns: 5,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return NewRedisStoreFromClient(client), nil
}

func NewRedisStoreFromClient(client *redis.Client) *RedisStore {
	return &RedisStore{client: client, timeout: 250 * time.Millisecond}
}

func (r *RedisStore) Close() error {
	return r.client.Close()
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Client() *redis.Client {
	return r.client
}

// GetDeviceVehicle resolves an API key to the vehicle it may report for.
// An unknown key returns "" and no error.
func (r *RedisStore) GetDeviceVehicle(ctx context.Context, apiKey string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	val, err := r.client.Get(ctx, DeviceKeyPrefix+apiKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("redis get device key failed: %w", err)
	}
	return val, nil
}

func (r *RedisStore) SetDeviceVehicle(ctx context.Context, apiKey, vehicleID string) error {
	return r.client.Set(ctx, DeviceKeyPrefix+apiKey, vehicleID, 0).Err()
}
