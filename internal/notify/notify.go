// Package notify resolves notification receivers and writes the per-entity
// notification rows for a trigger.
package notify

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"idptrack/internal/domain"
	"idptrack/internal/repo"
	"idptrack/internal/status"
)

// Target is the entity a notification is about, with its people resolved.
type Target struct {
	Kind       string
	IDPID      string
	TaskID     int64
	EmployeeID string
	ChiefID    *string
	MentorID   *string
}

// EntityID is the id stored on the notification row.
func (t Target) EntityID() string {
	if t.Kind == repo.KindTask {
		return strconv.FormatInt(t.TaskID, 10)
	}
	return t.IDPID
}

// ResolveReceiver maps a role to a user id. Chief and mentor may be absent;
// mentor never resolves for IDP targets.
func ResolveReceiver(t Target, role status.Role) (string, bool) {
	switch role {
	case status.RoleEmployee:
		return t.EmployeeID, t.EmployeeID != ""
	case status.RoleChief:
		if t.ChiefID == nil || *t.ChiefID == "" {
			return "", false
		}
		return *t.ChiefID, true
	case status.RoleMentor:
		if t.Kind != repo.KindTask || t.MentorID == nil || *t.MentorID == "" {
			return "", false
		}
		return *t.MentorID, true
	}
	return "", false
}

// DeepLink returns the path to the entity, prefixed by baseURL.
func DeepLink(baseURL string, t Target) string {
	base := strings.TrimRight(baseURL, "/")
	if t.Kind == repo.KindTask {
		return fmt.Sprintf("%s/idp/%s/task/%d", base, t.IDPID, t.TaskID)
	}
	return fmt.Sprintf("%s/idp/%s", base, t.IDPID)
}

type Dispatcher struct {
	Repo    repo.Repo
	BaseURL string
	Now     func() time.Time
	Log     logrus.FieldLogger
}

func (d Dispatcher) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

func (d Dispatcher) log() logrus.FieldLogger {
	if d.Log != nil {
		return d.Log
	}
	return logrus.StandardLogger()
}

// Notify writes one row per resolvable receiver of trig and returns how many
// were written. A trigger missing from the catalog writes nothing.
func (d Dispatcher) Notify(ctx context.Context, tx *sql.Tx, t Target, trig status.Trigger) (int, error) {
	entry, err := d.Repo.GetNotificationByTriggerTx(ctx, tx, trig.ID)
	if errors.Is(err, repo.ErrNotFound) {
		d.log().WithField("trigger", trig.ID).Debug("notification not in catalog, skipped")
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("load notification %s: %w", trig.ID, err)
	}
	link := DeepLink(d.BaseURL, t)
	sentAt := d.now().UTC().Format(time.RFC3339)
	written := 0
	for _, role := range trig.Receivers {
		receiver, ok := ResolveReceiver(t, role)
		if !ok {
			d.log().WithFields(logrus.Fields{"trigger": trig.ID, "role": role, "entity": t.EntityID()}).Debug("no receiver for role")
			continue
		}
		msg := strings.TrimSpace(trig.Message(role) + " " + link)
		row := domain.EntityNotification{
			ID:             uuid.NewString(),
			EntityKind:     t.Kind,
			EntityID:       t.EntityID(),
			NotificationID: entry.ID,
			Trigger:        trig.ID,
			ReceiverID:     receiver,
			Message:        msg,
			SentAt:         sentAt,
			Status:         repo.NotificationUnread,
		}
		if err := d.Repo.InsertEntityNotificationTx(ctx, tx, row); err != nil {
			return written, fmt.Errorf("insert %s notification: %w", trig.ID, err)
		}
		written++
	}
	return written, nil
}
