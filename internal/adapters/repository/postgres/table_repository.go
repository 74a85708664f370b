package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/domain"
	"github.com/Blint-Studio/sistema-elecciones-sub001/internal/core/ports"
	"github.com/lib/pq"
)

type tableRepository struct {
	db *sql.DB
}

func NewTableRepository(db *sql.DB) ports.TableRepository {
	return &tableRepository{
		db: db,
	}
}

func (r *tableRepository) GetTable(ctx context.Context, id int64) (*domain.Table, error) {
	var t domain.Table
	err := r.db.QueryRowContext(ctx, `SELECT id, number, school_id FROM polling_tables WHERE id = $1`, id).
		Scan(&t.ID, &t.Number, &t.SchoolID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTableNotFound
		}
		return nil, fmt.Errorf("failed to get table: %w", err)
	}
	return &t, nil
}

func (r *tableRepository) GetSchool(ctx context.Context, id int64) (*domain.School, error) {
	s, err := scanSchool(r.db.QueryRowContext(ctx, `
		SELECT id, name, district_id, sub_district_id, expected_table_count
		FROM schools
		WHERE id = $1
	`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrSchoolNotFound
		}
		return nil, fmt.Errorf("failed to get school: %w", err)
	}
	return s, nil
}

func (r *tableRepository) ListSchools(ctx context.Context) ([]domain.School, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, district_id, sub_district_id, expected_table_count
		FROM schools
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list schools: %w", err)
	}
	defer rows.Close()

	var schools []domain.School
	for rows.Next() {
		s, err := scanSchool(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan school: %w", err)
		}
		schools = append(schools, *s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating schools: %w", err)
	}
	return schools, nil
}

func (r *tableRepository) ListTablesBySchool(ctx context.Context, schoolID int64) ([]domain.Table, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, number, school_id
		FROM polling_tables
		WHERE school_id = $1
		ORDER BY number, id
	`, schoolID)
	if err != nil {
		return nil, fmt.Errorf("failed to list tables of school %d: %w", schoolID, err)
	}
	defer rows.Close()

	var tables []domain.Table
	for rows.Next() {
		var t domain.Table
		if err := rows.Scan(&t.ID, &t.Number, &t.SchoolID); err != nil {
			return nil, fmt.Errorf("failed to scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating tables: %w", err)
	}
	return tables, nil
}

func (r *tableRepository) ApplySchoolPlan(ctx context.Context, plan domain.SchoolPlan) (domain.AppliedPlan, error) {
	var applied domain.AppliedPlan
	schoolID := plan.School.ID

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return applied, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if len(plan.Delete) > 0 {
		ids := make([]int64, len(plan.Delete))
		for i, t := range plan.Delete {
			ids[i] = t.ID
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT DISTINCT s.district_id, s.sub_district_id, t.election_type_id, t.date
			FROM tallies t
			JOIN schools s ON s.id = t.school_id
			WHERE t.table_id = ANY($1)
		`, pq.Array(ids))
		if err != nil {
			return applied, fmt.Errorf("failed to collect affected keys: %w", err)
		}
		if applied.AffectedKeys, err = scanKeys(rows); err != nil {
			return applied, err
		}

		res, err := tx.ExecContext(ctx, `DELETE FROM tallies WHERE table_id = ANY($1)`, pq.Array(ids))
		if err != nil {
			return applied, fmt.Errorf("failed to delete tallies of excess tables: %w", err)
		}
		n, err := res.RowsAffected()
		if err != nil {
			return applied, fmt.Errorf("failed to read affected rows: %w", err)
		}
		applied.TalliesDeleted = int(n)

		res, err = tx.ExecContext(ctx, `DELETE FROM polling_tables WHERE id = ANY($1) AND school_id = $2`, pq.Array(ids), schoolID)
		if err != nil {
			return applied, fmt.Errorf("failed to delete excess tables: %w", err)
		}
		if n, err = res.RowsAffected(); err != nil {
			return applied, fmt.Errorf("failed to read affected rows: %w", err)
		}
		if int(n) != len(ids) {
			return applied, fmt.Errorf("deleted %d of %d tables of school %d: tables changed during repair", n, len(ids), schoolID)
		}
	}

	if len(plan.Renumber) > 0 {
		stmt, err := tx.PrepareContext(ctx, `UPDATE polling_tables SET number = $1 WHERE id = $2 AND school_id = $3`)
		if err != nil {
			return applied, fmt.Errorf("failed to prepare renumber statement: %w", err)
		}
		defer stmt.Close()

		for _, rn := range plan.Renumber {
			res, err := stmt.ExecContext(ctx, rn.To, rn.TableID, schoolID)
			if err != nil {
				return applied, fmt.Errorf("failed to renumber table %d: %w", rn.TableID, err)
			}
			if err := expectOne(res, fmt.Errorf("table %d left school %d during repair", rn.TableID, schoolID)); err != nil {
				return applied, err
			}
		}
	}

	if len(plan.Create) > 0 {
		stmt, err := tx.PrepareContext(ctx, `INSERT INTO polling_tables (school_id, number) VALUES ($1, $2)`)
		if err != nil {
			return applied, fmt.Errorf("failed to prepare table statement: %w", err)
		}
		defer stmt.Close()

		for _, number := range plan.Create {
			if _, err := stmt.ExecContext(ctx, schoolID, number); err != nil {
				return applied, fmt.Errorf("failed to create table %d: %w", number, err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return applied, fmt.Errorf("failed to commit transaction: %w", err)
	}

	return applied, nil
}

func scanSchool(row rowScanner) (*domain.School, error) {
	var s domain.School
	if err := row.Scan(&s.ID, &s.Name, &s.DistrictID, &s.SubDistrictID, &s.ExpectedTableCount); err != nil {
		return nil, err
	}
	return &s, nil
}
