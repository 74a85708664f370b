package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
)

type aggregateRepository struct {
	db *sql.DB
}

func NewAggregateRepository(db *sql.DB) ports.AggregateRepository {
	return &aggregateRepository{
		db: db,
	}
}

func (r *aggregateRepository) Upsert(ctx context.Context, agg *domain.DistrictAggregate) error {
	votes, err := json.Marshal(agg.Votes)
	if err != nil {
		return fmt.Errorf("failed to encode votes: %w", err)
	}

	query := `
		INSERT INTO district_aggregates (district_id, sub_district_id, election_type_id, date,
		                                 total_voters, total_registered_voters, votes, tables_reported, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (district_id, sub_district_id, election_type_id, date) DO UPDATE
		SET total_voters = EXCLUDED.total_voters,
		    total_registered_voters = EXCLUDED.total_registered_voters,
		    votes = EXCLUDED.votes,
		    tables_reported = EXCLUDED.tables_reported,
		    updated_at = NOW()
		RETURNING id, updated_at
	`
	err = r.db.QueryRowContext(ctx, query,
		agg.DistrictID, agg.SubDistrictID, agg.ElectionTypeID, agg.Date.Format(domain.DateLayout),
		agg.TotalVoters, agg.TotalRegisteredVoters, string(votes), agg.TablesReported,
	).Scan(&agg.ID, &agg.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to upsert aggregate %s: %w", agg.DistrictKey, err)
	}
	return nil
}

func (r *aggregateRepository) Delete(ctx context.Context, key domain.DistrictKey) error {
	query := `
		DELETE FROM district_aggregates
		WHERE district_id = $1 AND sub_district_id = $2 AND election_type_id = $3 AND date = $4
	`
	_, err := r.db.ExecContext(ctx, query,
		key.DistrictID, key.SubDistrictID, key.ElectionTypeID, key.Date.Format(domain.DateLayout))
	if err != nil {
		return fmt.Errorf("failed to delete aggregate %s: %w", key, err)
	}
	return nil
}

func (r *aggregateRepository) Get(ctx context.Context, key domain.DistrictKey) (*domain.DistrictAggregate, error) {
	query := `
		SELECT id, district_id, sub_district_id, election_type_id, date,
		       total_voters, total_registered_voters, votes, tables_reported, updated_at
		FROM district_aggregates
		WHERE district_id = $1 AND sub_district_id = $2 AND election_type_id = $3 AND date = $4
	`
	var agg domain.DistrictAggregate
	var votes []byte
	err := r.db.QueryRowContext(ctx, query,
		key.DistrictID, key.SubDistrictID, key.ElectionTypeID, key.Date.Format(domain.DateLayout),
	).Scan(
		&agg.ID, &agg.DistrictID, &agg.SubDistrictID, &agg.ElectionTypeID, &agg.Date,
		&agg.TotalVoters, &agg.TotalRegisteredVoters, &votes, &agg.TablesReported, &agg.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrAggregateNotFound
		}
		return nil, fmt.Errorf("failed to get aggregate: %w", err)
	}
	agg.Date = domain.Day(agg.Date)
	if err := json.Unmarshal(votes, &agg.Votes); err != nil {
		return nil, fmt.Errorf("failed to decode aggregate votes: %w", err)
	}
	return &agg, nil
}

func (r *aggregateRepository) Keys(ctx context.Context) ([]domain.DistrictKey, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT district_id, sub_district_id, election_type_id, date
		FROM district_aggregates
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list aggregate keys: %w", err)
	}
	return scanKeys(rows)
}
