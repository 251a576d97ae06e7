package server

import (
	"encoding/json"

	"idptrack/internal/domain"
)

// Request payloads

type SaveTaskRequest struct {
	ID           int64   `json:"id,omitempty"`
	IDPID        string  `json:"idp_id,omitempty"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status,omitempty" enum:"draft,draft_approval,active,active_with_idp,two_weeks,overdue,cancelled,cancelled_with_idp,completed_approval,rejected,closed"`
	StartDate    string  `json:"start_date,omitempty"`
	EndDatePlan  string  `json:"end_date_plan,omitempty"`
	EndDateFact  *string `json:"end_date_fact,omitempty"`
	NoteEmployee string  `json:"note_employee,omitempty"`
	NoteChief    string  `json:"note_chief,omitempty"`
	NoteMentor   string  `json:"note_mentor,omitempty"`
	MentorID     *string `json:"mentor_id,omitempty"`
	Version      int     `json:"version,omitempty"`
}

type SaveIDPRequest struct {
	ID          string            `json:"id,omitempty"`
	Name        string            `json:"name"`
	Target      *string           `json:"target,omitempty"`
	Status      string            `json:"status,omitempty" enum:"draft,draft_approval,active,two_weeks,overdue,cancelled,completed_approval,closed"`
	StartDate   string            `json:"start_date,omitempty"`
	EndDatePlan string            `json:"end_date_plan,omitempty"`
	EndDateFact *string           `json:"end_date_fact,omitempty"`
	EmployeeID  string            `json:"employee_id"`
	Version     int               `json:"version,omitempty"`
	Tasks       []SaveTaskRequest `json:"tasks,omitempty"`
}

type TransitionRequest struct {
	Kind   string `json:"kind" enum:"idp,task"`
	ID     string `json:"id"`
	Status string `json:"status"`
}

// Response payloads

type IDPResponse struct {
	IDP   domain.IDP    `json:"idp"`
	Tasks []domain.Task `json:"tasks"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type notificationList struct {
	Items []domain.EntityNotification `json:"items"`
}

// Conversion helpers

func (r SaveTaskRequest) task() domain.Task {
	return domain.Task{
		ID:           r.ID,
		IDPID:        r.IDPID,
		Name:         r.Name,
		Description:  r.Description,
		Status:       r.Status,
		StartDate:    r.StartDate,
		EndDatePlan:  r.EndDatePlan,
		EndDateFact:  r.EndDateFact,
		NoteEmployee: r.NoteEmployee,
		NoteChief:    r.NoteChief,
		NoteMentor:   r.NoteMentor,
		MentorID:     r.MentorID,
		Version:      r.Version,
	}
}

func (r SaveIDPRequest) idp() domain.IDP {
	return domain.IDP{
		ID:          r.ID,
		Name:        r.Name,
		Target:      r.Target,
		Status:      r.Status,
		StartDate:   r.StartDate,
		EndDatePlan: r.EndDatePlan,
		EndDateFact: r.EndDateFact,
		EmployeeID:  r.EmployeeID,
		Version:     r.Version,
	}
}

func eventResponse(e domain.Event) EventResponse {
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    decodeJSONMap(e.Payload),
	}
}

func decodeJSONMap(raw string) map[string]any {
	out := map[string]any{}
	if raw == "" {
		return out
	}
	_ = json.Unmarshal([]byte(raw), &out)
	return out
}

func nonNilTasks(items []domain.Task) []domain.Task {
	if items == nil {
		return []domain.Task{}
	}
	return items
}
