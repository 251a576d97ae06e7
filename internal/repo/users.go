package repo

import (
	"context"
	"database/sql"

	"idptrack/internal/domain"
)

func (r Repo) InsertDepartment(ctx context.Context, d domain.Department) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO departments(id,name,company_id) VALUES (?,?,?)`,
		d.ID, d.Name, nullable(d.CompanyID))
	return err
}

func (r Repo) GetDepartment(ctx context.Context, id string) (domain.Department, error) {
	var d domain.Department
	err := r.DB.QueryRowContext(ctx, `SELECT id,name,COALESCE(company_id,'') FROM departments WHERE id=?`, id).
		Scan(&d.ID, &d.Name, &d.CompanyID)
	if err == sql.ErrNoRows {
		return d, ErrNotFound
	}
	return d, err
}

func (r Repo) InsertUser(ctx context.Context, u domain.User) error {
	_, err := r.DB.ExecContext(ctx, `INSERT INTO users(id,first_name,last_name,email,position,chief_id,department_id,created_at) VALUES (?,?,?,?,?,?,?,?)`,
		u.ID, u.FirstName, u.LastName, nullable(u.Email), nullable(u.Position),
		nullableStringPtr(u.ChiefID), nullableStringPtr(u.DepartmentID), u.CreatedAt)
	return err
}

const userColumns = `id,first_name,last_name,COALESCE(email,''),COALESCE(position,''),chief_id,department_id,created_at`

func scanUser(row interface{ Scan(...any) error }) (domain.User, error) {
	var u domain.User
	var chief, dept sql.NullString
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.Position, &chief, &dept, &u.CreatedAt)
	if err == sql.ErrNoRows {
		return u, ErrNotFound
	}
	if err != nil {
		return u, err
	}
	u.ChiefID = strPtr(chief)
	u.DepartmentID = strPtr(dept)
	return u, nil
}

func (r Repo) GetUser(ctx context.Context, id string) (domain.User, error) {
	return getUser(ctx, r.DB, id)
}

func (r Repo) GetUserTx(ctx context.Context, tx *sql.Tx, id string) (domain.User, error) {
	return getUser(ctx, tx, id)
}

func getUser(ctx context.Context, q querier, id string) (domain.User, error) {
	return scanUser(q.QueryRowContext(ctx, `SELECT `+userColumns+` FROM users WHERE id=?`, id))
}

func (r Repo) ListUsers(ctx context.Context) ([]domain.User, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+userColumns+` FROM users ORDER BY last_name, first_name, id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, u)
	}
	return res, rows.Err()
}
