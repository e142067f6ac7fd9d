package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/appshare1603/VanLive/internal/config"
)

// ThresholdRepository reads per-vehicle alert threshold overrides from the
// vehicle_thresholds table (vehicle_id, name, value).
type ThresholdRepository struct {
	db *sql.DB
}

func OpenPostgres(ctx context.Context, cfg *config.Config) (*sql.DB, error) {
	connStr := fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		cfg.DBUser,
		cfg.DBPassword,
		cfg.DBHost,
		cfg.DBPort,
		cfg.DBName,
		cfg.DBSSLMode,
	)

	db, err := sql.Open("pgx", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open db: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxConns)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping db: %w", err)
	}
	return db, nil
}

func NewThresholdRepository(db *sql.DB) *ThresholdRepository {
	return &ThresholdRepository{db: db}
}

func (r *ThresholdRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (r *ThresholdRepository) Close() error {
	return r.db.Close()
}

// LoadOverrides returns vehicle id -> threshold name -> value.
func (r *ThresholdRepository) LoadOverrides(ctx context.Context) (map[string]map[string]float64, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT vehicle_id, name, value
		FROM vehicle_thresholds
		ORDER BY vehicle_id, name
	`)
	if err != nil {
		return nil, fmt.Errorf("query thresholds: %w", err)
	}
	defer rows.Close()

	out := make(map[string]map[string]float64)
	for rows.Next() {
		var (
			vehicleID string
			name      string
			value     float64
		)
		if err := rows.Scan(&vehicleID, &name, &value); err != nil {
			return nil, fmt.Errorf("scan threshold row: %w", err)
		}
		if out[vehicleID] == nil {
			out[vehicleID] = make(map[string]float64)
		}
		out[vehicleID][name] = value
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate thresholds: %w", err)
	}
	return out, nil
}
