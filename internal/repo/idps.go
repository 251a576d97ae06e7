package repo

import (
	"context"
	"database/sql"

	"idptrack/internal/domain"
)

const idpColumns = `id,name,target,status,start_date,end_date_plan,end_date_fact,employee_id,version,created_at,updated_at`

func scanIDP(row interface{ Scan(...any) error }) (domain.IDP, error) {
	var p domain.IDP
	var target, fact sql.NullString
	err := row.Scan(&p.ID, &p.Name, &target, &p.Status, &p.StartDate, &p.EndDatePlan, &fact, &p.EmployeeID, &p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.Target = strPtr(target)
	p.EndDateFact = strPtr(fact)
	return p, nil
}

func (r Repo) InsertIDPTx(ctx context.Context, tx *sql.Tx, p domain.IDP) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO idps(`+idpColumns+`) VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Name, nullableStringPtr(p.Target), p.Status, p.StartDate, p.EndDatePlan, nullableStringPtr(p.EndDateFact),
		p.EmployeeID, p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

// UpdateIDPTx writes p if the stored version still equals p.Version and
// bumps the stored version. It returns ErrStale when no row matched.
func (r Repo) UpdateIDPTx(ctx context.Context, tx *sql.Tx, p domain.IDP) error {
	res, err := tx.ExecContext(ctx, `UPDATE idps SET name=?, target=?, status=?, start_date=?, end_date_plan=?, end_date_fact=?, employee_id=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		p.Name, nullableStringPtr(p.Target), p.Status, p.StartDate, p.EndDatePlan, nullableStringPtr(p.EndDateFact),
		p.EmployeeID, p.UpdatedAt, p.ID, p.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetIDP(ctx context.Context, id string) (domain.IDP, error) {
	return scanIDP(r.DB.QueryRowContext(ctx, `SELECT `+idpColumns+` FROM idps WHERE id=?`, id))
}

func (r Repo) GetIDPTx(ctx context.Context, tx *sql.Tx, id string) (domain.IDP, error) {
	return scanIDP(tx.QueryRowContext(ctx, `SELECT `+idpColumns+` FROM idps WHERE id=?`, id))
}

func (r Repo) DeleteIDPTx(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM idps WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListIDPs returns plans, optionally for one employee, newest first.
func (r Repo) ListIDPs(ctx context.Context, employeeID string) ([]domain.IDP, error) {
	query := `SELECT ` + idpColumns + ` FROM idps`
	var args []any
	if employeeID != "" {
		query += ` WHERE employee_id=?`
		args = append(args, employeeID)
	}
	query += ` ORDER BY created_at DESC, id`
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.IDP
	for rows.Next() {
		p, err := scanIDP(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}
