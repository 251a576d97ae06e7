package repo

import (
	"context"
	"database/sql"

	"idptrack/internal/domain"
)

const taskColumns = `id,idp_id,name,description,status,start_date,end_date_plan,end_date_fact,note_employee,note_chief,note_mentor,mentor_id,version,created_at,updated_at`

func scanTask(row interface{ Scan(...any) error }) (domain.Task, error) {
	var t domain.Task
	var fact, mentor sql.NullString
	err := row.Scan(&t.ID, &t.IDPID, &t.Name, &t.Description, &t.Status, &t.StartDate, &t.EndDatePlan, &fact,
		&t.NoteEmployee, &t.NoteChief, &t.NoteMentor, &mentor, &t.Version, &t.CreatedAt, &t.UpdatedAt)
	if err == sql.ErrNoRows {
		return t, ErrNotFound
	}
	if err != nil {
		return t, err
	}
	t.EndDateFact = strPtr(fact)
	t.MentorID = strPtr(mentor)
	return t, nil
}

// InsertTaskTx stores t and returns the assigned id.
func (r Repo) InsertTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) (int64, error) {
	res, err := tx.ExecContext(ctx, `INSERT INTO tasks(idp_id,name,description,status,start_date,end_date_plan,end_date_fact,note_employee,note_chief,note_mentor,mentor_id,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		t.IDPID, t.Name, t.Description, t.Status, t.StartDate, t.EndDatePlan, nullableStringPtr(t.EndDateFact),
		t.NoteEmployee, t.NoteChief, t.NoteMentor, nullableStringPtr(t.MentorID), t.Version, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

// UpdateTaskTx writes t if the stored version still equals t.Version.
func (r Repo) UpdateTaskTx(ctx context.Context, tx *sql.Tx, t domain.Task) error {
	res, err := tx.ExecContext(ctx, `UPDATE tasks SET idp_id=?, name=?, description=?, status=?, start_date=?, end_date_plan=?, end_date_fact=?, note_employee=?, note_chief=?, note_mentor=?, mentor_id=?, version=version+1, updated_at=? WHERE id=? AND version=?`,
		t.IDPID, t.Name, t.Description, t.Status, t.StartDate, t.EndDatePlan, nullableStringPtr(t.EndDateFact),
		t.NoteEmployee, t.NoteChief, t.NoteMentor, nullableStringPtr(t.MentorID), t.UpdatedAt, t.ID, t.Version)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrStale
	}
	return nil
}

func (r Repo) GetTask(ctx context.Context, id int64) (domain.Task, error) {
	return scanTask(r.DB.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) GetTaskTx(ctx context.Context, tx *sql.Tx, id int64) (domain.Task, error) {
	return scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id=?`, id))
}

func (r Repo) ListTasks(ctx context.Context, idpID string) ([]domain.Task, error) {
	return listTasks(ctx, r.DB, idpID)
}

func (r Repo) ListTasksTx(ctx context.Context, tx *sql.Tx, idpID string) ([]domain.Task, error) {
	return listTasks(ctx, tx, idpID)
}

func listTasks(ctx context.Context, q querier, idpID string) ([]domain.Task, error) {
	rows, err := q.QueryContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE idp_id=? ORDER BY id`, idpID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, t)
	}
	return res, rows.Err()
}

// HasUnclosedTasksTx reports whether any task of the IDP is not closed.
func (r Repo) HasUnclosedTasksTx(ctx context.Context, tx *sql.Tx, idpID string) (bool, error) {
	var open bool
	err := tx.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM tasks WHERE idp_id=? AND status<>'closed')`, idpID).Scan(&open)
	return open, err
}
