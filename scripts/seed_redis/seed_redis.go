package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/appshare1603/VanLive/internal/store"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file, using system environment variables")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     redisGetEnv("REDIS_ADDR", "localhost:6379"),
		Password: redisGetEnv("REDIS_PASSWORD", ""),
		DB:       0,
	})
	rs := store.NewRedisStoreFromClient(client)
	defer rs.Close()

	ctx := context.Background()

	fmt.Println("Connecting to Redis...")
	if err := rs.Ping(ctx); err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Redis is running:\n  docker-compose up -d redis", err)
	}
	fmt.Println("✓ Connected")

	step1_device_keys(ctx, rs)
	step2_verify(ctx, client, rs)

	fmt.Println("\n✅ Redis seeded successfully")
	fmt.Println("   Start the service with REDIS_ENABLED=true AUTH_ENABLED=true")
}

// Key pattern: vehicle:auth:{api_key} → vehicle id. Each sensor node's key
// may only report for its own van.
var deviceKeys = map[string]string{
	"van_sprinter_node_key": "van-sprinter",
	"van_crafter_node_key":  "van-crafter",
	"test_key":              "test_van",
}

func step1_device_keys(ctx context.Context, rs *store.RedisStore) {
	fmt.Println("\n── Step 1: Seeding device keys ─────────────────")

	for apiKey, vehicleID := range deviceKeys {
		if err := rs.SetDeviceVehicle(ctx, apiKey, vehicleID); err != nil {
			log.Fatalf("Failed to set key %s: %v", apiKey, err)
		}
		fmt.Printf("  ✓ %-45s → %s\n", store.DeviceKeyPrefix+apiKey, vehicleID)
	}
}

func step2_verify(ctx context.Context, client *redis.Client, rs *store.RedisStore) {
	fmt.Println("\n── Step 2: Verification ────────────────────────")

	keys, err := client.Keys(ctx, store.DeviceKeyPrefix+"*").Result()
	if err != nil {
		log.Fatalf("Verification failed: %v", err)
	}
	fmt.Printf("  ✓ %d device keys found in Redis\n", len(keys))

	vehicleID, err := rs.GetDeviceVehicle(ctx, "test_key")
	if err != nil || vehicleID == "" {
		log.Fatalf("Spot check failed: %v", err)
	}
	fmt.Printf("  ✓ spot check: %stest_key → %s\n", store.DeviceKeyPrefix, vehicleID)
}

func redisGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
