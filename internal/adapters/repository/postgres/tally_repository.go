package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/google/uuid"
)

const tallyTableElectionKey = "tallies_table_election_key"

const selectTally = `
	SELECT t.id, t.date, t.election_type_id, t.school_id, t.table_id,
	       t.total_voters, t.total_registered_voters, t.votes, t.created_at, t.updated_at
	FROM tallies t
`

type tallyRepository struct {
	db *sql.DB
}

func NewTallyRepository(db *sql.DB) ports.TallyRepository {
	return &tallyRepository{
		db: db,
	}
}

func (r *tallyRepository) Create(ctx context.Context, tally *domain.Tally) error {
	votes, err := json.Marshal(tally.Votes)
	if err != nil {
		return fmt.Errorf("failed to encode votes: %w", err)
	}

	query := `
		INSERT INTO tallies (id, date, election_type_id, school_id, table_id,
		                     total_voters, total_registered_voters, votes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err = r.db.ExecContext(ctx, query,
		tally.ID, tally.Date.Format(domain.DateLayout), tally.ElectionTypeID, tally.SchoolID, tally.TableID,
		tally.TotalVoters, tally.TotalRegisteredVoters, string(votes), tally.CreatedAt, tally.UpdatedAt,
	)
	if err != nil {
		return r.mapWriteError(ctx, tally, err, "insert")
	}
	return nil
}

func (r *tallyRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Tally, error) {
	tally, err := scanTally(r.db.QueryRowContext(ctx, selectTally+`WHERE t.id = $1`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTallyNotFound
		}
		return nil, fmt.Errorf("failed to get tally: %w", err)
	}
	return tally, nil
}

func (r *tallyRepository) Update(ctx context.Context, tally *domain.Tally) error {
	votes, err := json.Marshal(tally.Votes)
	if err != nil {
		return fmt.Errorf("failed to encode votes: %w", err)
	}

	query := `
		UPDATE tallies
		SET date = $2, election_type_id = $3, school_id = $4, table_id = $5,
		    total_voters = $6, total_registered_voters = $7, votes = $8, updated_at = $9
		WHERE id = $1
	`
	res, err := r.db.ExecContext(ctx, query,
		tally.ID, tally.Date.Format(domain.DateLayout), tally.ElectionTypeID, tally.SchoolID, tally.TableID,
		tally.TotalVoters, tally.TotalRegisteredVoters, string(votes), tally.UpdatedAt,
	)
	if err != nil {
		return r.mapWriteError(ctx, tally, err, "update")
	}
	return expectOne(res, domain.ErrTallyNotFound)
}

func (r *tallyRepository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM tallies WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete tally: %w", err)
	}
	return expectOne(res, domain.ErrTallyNotFound)
}

func (r *tallyRepository) FindByTableAndElection(ctx context.Context, tableID, electionTypeID int64) (*domain.Tally, error) {
	tally, err := scanTally(r.db.QueryRowContext(ctx,
		selectTally+`WHERE t.table_id = $1 AND t.election_type_id = $2`, tableID, electionTypeID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to find tally for table %d: %w", tableID, err)
	}
	return tally, nil
}

func (r *tallyRepository) ListByDistrictKey(ctx context.Context, key domain.DistrictKey) ([]domain.Tally, error) {
	query := selectTally + `
		JOIN schools s ON s.id = t.school_id
		WHERE s.district_id = $1 AND s.sub_district_id = $2
		  AND t.election_type_id = $3 AND t.date = $4
		ORDER BY t.id
	`
	rows, err := r.db.QueryContext(ctx, query,
		key.DistrictID, key.SubDistrictID, key.ElectionTypeID, key.Date.Format(domain.DateLayout))
	if err != nil {
		return nil, fmt.Errorf("failed to list tallies: %w", err)
	}
	defer rows.Close()

	var tallies []domain.Tally
	for rows.Next() {
		tally, err := scanTally(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan tally: %w", err)
		}
		tallies = append(tallies, *tally)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tallies: %w", err)
	}
	return tallies, nil
}

func (r *tallyRepository) DistinctKeys(ctx context.Context) ([]domain.DistrictKey, error) {
	query := `
		SELECT DISTINCT s.district_id, s.sub_district_id, t.election_type_id, t.date
		FROM tallies t
		JOIN schools s ON s.id = t.school_id
	`
	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list tally keys: %w", err)
	}
	return scanKeys(rows)
}

// mapWriteError turns constraint violations into domain errors. A unique
// violation means another request won the race for the same table.
func (r *tallyRepository) mapWriteError(ctx context.Context, tally *domain.Tally, err error, op string) error {
	code, constraint := pqCode(err)
	switch {
	case code == codeUniqueViolation && constraint == tallyTableElectionKey:
		existingID := uuid.Nil
		if existing, findErr := r.FindByTableAndElection(ctx, tally.TableID, tally.ElectionTypeID); findErr == nil && existing != nil {
			existingID = existing.ID
		}
		return domain.NewDuplicateTally(tally.TableID, tally.ElectionTypeID, existingID)
	case code == codeForeignKeyViolation && constraint == "tallies_school_id_fkey":
		return fmt.Errorf("failed to %s tally: %w", op, domain.ErrSchoolNotFound)
	case code == codeForeignKeyViolation:
		return fmt.Errorf("failed to %s tally: %w", op, domain.ErrTableNotFound)
	}
	return fmt.Errorf("failed to %s tally: %w", op, err)
}

func scanTally(row rowScanner) (*domain.Tally, error) {
	var t domain.Tally
	var votes []byte
	err := row.Scan(
		&t.ID, &t.Date, &t.ElectionTypeID, &t.SchoolID, &t.TableID,
		&t.TotalVoters, &t.TotalRegisteredVoters, &votes, &t.CreatedAt, &t.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	t.Date = domain.Day(t.Date)
	if err := json.Unmarshal(votes, &t.Votes); err != nil {
		return nil, fmt.Errorf("failed to decode votes of tally %s: %w", t.ID, err)
	}
	if t.Votes == nil {
		t.Votes = domain.Votes{}
	}
	return &t, nil
}

func scanKeys(rows *sql.Rows) ([]domain.DistrictKey, error) {
	defer rows.Close()

	var keys []domain.DistrictKey
	for rows.Next() {
		var k domain.DistrictKey
		if err := rows.Scan(&k.DistrictID, &k.SubDistrictID, &k.ElectionTypeID, &k.Date); err != nil {
			return nil, fmt.Errorf("failed to scan district key: %w", err)
		}
		keys = append(keys, k.Normalize())
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating district keys: %w", err)
	}
	return keys, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
