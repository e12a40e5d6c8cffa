package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"dilemma-cloud/internal/domain"
	"github.com/jackc/pgx/v4/pgxpool"
)

// Row ids of the persisted scoring tables.
const (
	binaryConfigID = "scoring"
	multiConfigID  = "scoring_multi"
)

// ConfigLoader loads the scoring tables from JSONB rows. Missing rows and
// missing fields keep their defaults.
type ConfigLoader struct {
	pool *pgxpool.Pool
}

func NewConfigLoader(pool *pgxpool.Pool) *ConfigLoader {
	return &ConfigLoader{pool: pool}
}

func (l *ConfigLoader) LoadScoringConfig(ctx context.Context) (domain.ScoringConfig, error) {
	cfg := domain.DefaultScoringConfig()
	rows, err := l.pool.Query(ctx, `SELECT id, data FROM scoring_config WHERE id = ANY($1)`, []string{binaryConfigID, multiConfigID})
	if err != nil {
		return cfg, fmt.Errorf("load scoring config: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			id  string
			raw []byte
		)
		if err := rows.Scan(&id, &raw); err != nil {
			return cfg, fmt.Errorf("scan scoring config: %w", err)
		}
		switch id {
		case binaryConfigID:
			var b domain.BinaryScoring
			if err := json.Unmarshal(raw, &b); err != nil {
				return cfg, fmt.Errorf("unmarshal %s: %w", id, err)
			}
			cfg.Binary = cfg.Binary.Merge(b)
		case multiConfigID:
			if err := json.Unmarshal(raw, &cfg.Multi); err != nil {
				return cfg, fmt.Errorf("unmarshal %s: %w", id, err)
			}
		}
	}
	return cfg, rows.Err()
}

// SaveScoringConfig upserts both tables.
func (l *ConfigLoader) SaveScoringConfig(ctx context.Context, cfg domain.ScoringConfig) error {
	for id, v := range map[string]any{binaryConfigID: cfg.Binary, multiConfigID: cfg.Multi} {
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", id, err)
		}
		_, err = l.pool.Exec(ctx, `INSERT INTO scoring_config (id, data, updated_at) VALUES ($1, $2::jsonb, now())
			ON CONFLICT (id) DO UPDATE SET data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`, id, string(raw))
		if err != nil {
			return fmt.Errorf("save %s: %w", id, err)
		}
	}
	return nil
}
