package repo

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"idptrack/internal/domain"
)

const (
	KindIDP  = "idp"
	KindTask = "task"

	NotificationUnread = "Unread"
	NotificationRead   = "Read"
)

// UpsertCatalog inserts or renames catalog entries keyed by trigger.
func (r Repo) UpsertCatalog(ctx context.Context, entries []domain.Notification) error {
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	for _, n := range entries {
		if _, err := tx.ExecContext(ctx, `INSERT INTO notifications(trigger_id,name,description) VALUES (?,?,?)
ON CONFLICT(trigger_id) DO UPDATE SET name=excluded.name, description=excluded.description`,
			n.Trigger, n.Name, n.Description); err != nil {
			return fmt.Errorf("upsert notification %s: %w", n.Trigger, err)
		}
	}
	return tx.Commit()
}

func (r Repo) ListCatalog(ctx context.Context) ([]domain.Notification, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,trigger_id,name,description FROM notifications ORDER BY trigger_id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Notification
	for rows.Next() {
		var n domain.Notification
		if err := rows.Scan(&n.ID, &n.Trigger, &n.Name, &n.Description); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

func (r Repo) DeleteCatalogEntry(ctx context.Context, trigger string) error {
	res, err := r.DB.ExecContext(ctx, `DELETE FROM notifications WHERE trigger_id=?`, trigger)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) GetNotificationByTriggerTx(ctx context.Context, tx *sql.Tx, trigger string) (domain.Notification, error) {
	var n domain.Notification
	err := tx.QueryRowContext(ctx, `SELECT id,trigger_id,name,description FROM notifications WHERE trigger_id=?`, trigger).
		Scan(&n.ID, &n.Trigger, &n.Name, &n.Description)
	if err == sql.ErrNoRows {
		return n, ErrNotFound
	}
	return n, err
}

func notificationTable(kind string) (table, column string, err error) {
	switch kind {
	case KindIDP:
		return "idp_notifications", "idp_id", nil
	case KindTask:
		return "task_notifications", "task_id", nil
	}
	return "", "", fmt.Errorf("unknown entity kind %q", kind)
}

// InsertEntityNotificationTx stores one delivered notification row.
func (r Repo) InsertEntityNotificationTx(ctx context.Context, tx *sql.Tx, n domain.EntityNotification) error {
	table, column, err := notificationTable(n.EntityKind)
	if err != nil {
		return err
	}
	if n.Status == "" {
		n.Status = NotificationUnread
	}
	_, err = tx.ExecContext(ctx, fmt.Sprintf(`INSERT INTO %s(id,notification_id,%s,receiver_id,message,sent_at,status) VALUES (?,?,?,?,?,?,?)`, table, column),
		n.ID, n.NotificationID, n.EntityID, n.ReceiverID, n.Message, n.SentAt, n.Status)
	return err
}

// NotificationFilter narrows ListNotifications. Empty fields match all.
type NotificationFilter struct {
	ReceiverID string
	EntityKind string
	EntityID   string
	Trigger    string
	Status     string
	Limit      int
}

// ListNotifications returns delivered notification rows of both kinds,
// newest first.
func (r Repo) ListNotifications(ctx context.Context, f NotificationFilter) ([]domain.EntityNotification, error) {
	var parts []string
	var args []any
	for _, kind := range []string{KindIDP, KindTask} {
		if f.EntityKind != "" && f.EntityKind != kind {
			continue
		}
		table, column, _ := notificationTable(kind)
		clauses := []string{"1=1"}
		if f.ReceiverID != "" {
			clauses = append(clauses, "x.receiver_id=?")
			args = append(args, f.ReceiverID)
		}
		if f.EntityID != "" {
			clauses = append(clauses, fmt.Sprintf("CAST(x.%s AS TEXT)=?", column))
			args = append(args, f.EntityID)
		}
		if f.Trigger != "" {
			clauses = append(clauses, "n.trigger_id=?")
			args = append(args, f.Trigger)
		}
		if f.Status != "" {
			clauses = append(clauses, "x.status=?")
			args = append(args, f.Status)
		}
		parts = append(parts, fmt.Sprintf(`SELECT x.id,'%s',CAST(x.%s AS TEXT),x.notification_id,n.trigger_id,x.receiver_id,x.message,x.sent_at,x.status
FROM %s x JOIN notifications n ON n.id=x.notification_id WHERE %s`, kind, column, table, strings.Join(clauses, " AND ")))
	}
	if len(parts) == 0 {
		return nil, fmt.Errorf("unknown entity kind %q", f.EntityKind)
	}
	query := strings.Join(parts, " UNION ALL ") + ` ORDER BY 8 DESC, 1`
	if f.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.EntityNotification
	for rows.Next() {
		var n domain.EntityNotification
		if err := rows.Scan(&n.ID, &n.EntityKind, &n.EntityID, &n.NotificationID, &n.Trigger, &n.ReceiverID, &n.Message, &n.SentAt, &n.Status); err != nil {
			return nil, err
		}
		res = append(res, n)
	}
	return res, rows.Err()
}

// MarkNotificationRead flips one row to Read. receiverID, when set, must
// own the row.
func (r Repo) MarkNotificationRead(ctx context.Context, kind, id, receiverID string) error {
	table, _, err := notificationTable(kind)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`UPDATE %s SET status=? WHERE id=?`, table)
	args := []any{NotificationRead, id}
	if receiverID != "" {
		query += ` AND receiver_id=?`
		args = append(args, receiverID)
	}
	res, err := r.DB.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
