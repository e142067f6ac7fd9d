package main

import (
	"context"
	"fmt"
	"log"
	"os"

	"github.com/jackc/pgx/v5"
	"github.com/joho/godotenv"

	"github.com/appshare1603/VanLive/internal/domain"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		dbGetEnv("DB_USER", "vanlive"),
		dbGetEnv("DB_PASSWORD", "vanlive"),
		dbGetEnv("DB_HOST", "localhost"),
		dbGetEnv("DB_PORT", "5432"),
		dbGetEnv("DB_NAME", "vanlive"),
		dbGetEnv("DB_SSLMODE", "disable"),
	)

	ctx := context.Background()

	fmt.Println("Connecting to Postgres...")
	conn, err := pgx.Connect(ctx, connStr)
	if err != nil {
		log.Fatalf("Connection failed: %v\n\nMake sure Postgres is running:\n  docker-compose up -d postgres", err)
	}
	defer conn.Close(ctx)
	fmt.Println("✓ Connected")

	step1_thresholds_table(ctx, conn)
	step2_seed_example(ctx, conn)
	step3_verify(ctx, conn)

	fmt.Println("\n✅ Database initialised successfully")
	fmt.Println("   Start the service with THRESHOLDS_DB_ENABLED=true")
}

// ─────────────────────────────────────────────────────────────
// Step 1: vehicle_thresholds table
// ─────────────────────────────────────────────────────────────
func step1_thresholds_table(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 1: vehicle_thresholds table ────────────")

	names := domain.ThresholdNames()
	check := ""
	for i, n := range names {
		if i > 0 {
			check += ", "
		}
		check += "'" + n + "'"
	}

	execOrFatal(ctx, conn, fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS vehicle_thresholds (
			vehicle_id  TEXT             NOT NULL,
			name        TEXT             NOT NULL,
			value       DOUBLE PRECISION NOT NULL,
			updated_at  TIMESTAMPTZ      NOT NULL DEFAULT NOW(),

			PRIMARY KEY (vehicle_id, name),

			-- Must match the threshold names the service knows
			CONSTRAINT chk_threshold_name CHECK (name IN (%s)),
			CONSTRAINT chk_threshold_value CHECK (value >= 0)
		);
	`, check), "vehicle_thresholds table created")
}

// ─────────────────────────────────────────────────────────────
// Step 2: Example override
// ─────────────────────────────────────────────────────────────
func step2_seed_example(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 2: Example override ────────────────────")

	// A van parked on a slope most of the time gets a wider level tolerance.
	_, err := conn.Exec(ctx, `
		INSERT INTO vehicle_thresholds (vehicle_id, name, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (vehicle_id, name) DO NOTHING
	`, "test_van", domain.ThresholdLevelToleranceDeg, 3.0)
	if err != nil {
		log.Fatalf("Seeding example override failed: %v", err)
	}
	fmt.Printf("  ✓ test_van %s = 3.0\n", domain.ThresholdLevelToleranceDeg)
}

// ─────────────────────────────────────────────────────────────
// Step 3: Verify
// ─────────────────────────────────────────────────────────────
func step3_verify(ctx context.Context, conn *pgx.Conn) {
	fmt.Println("\n── Step 3: Verification ────────────────────────")

	var exists bool
	err := conn.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_name = $1
		)
	`, "vehicle_thresholds").Scan(&exists)
	if err != nil || !exists {
		log.Fatalf("Table vehicle_thresholds was not created: %v", err)
	}
	fmt.Println("  ✓ table: vehicle_thresholds")

	var rows int
	if err := conn.QueryRow(ctx, `SELECT COUNT(*) FROM vehicle_thresholds`).Scan(&rows); err != nil {
		log.Fatalf("Row count failed: %v", err)
	}
	fmt.Printf("  ✓ overrides stored: %d\n", rows)
}

// ─────────────────────────────────────────────────────────────
// Helpers
// ─────────────────────────────────────────────────────────────

// execOrFatal runs a SQL statement and prints result or exits on error
func execOrFatal(ctx context.Context, conn *pgx.Conn, sql, label string) {
	_, err := conn.Exec(ctx, sql)
	if err != nil {
		log.Fatalf("FAILED: %s\nError: %v\nSQL: %s", label, err, sql)
	}
	fmt.Printf("  ✓ %s\n", label)
}

func dbGetEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
