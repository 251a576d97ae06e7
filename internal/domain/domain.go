package domain

type Department struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	CompanyID string `json:"company_id,omitempty"`
}

type User struct {
	ID           string  `json:"id"`
	FirstName    string  `json:"first_name"`
	LastName     string  `json:"last_name"`
	Email        string  `json:"email,omitempty"`
	Position     string  `json:"position,omitempty"`
	ChiefID      *string `json:"chief_id,omitempty"`
	DepartmentID *string `json:"department_id,omitempty"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
}

// IDP is an individual development plan owned by one employee.
type IDP struct {
	ID          string  `json:"id"`
	Name        string  `json:"name"`
	Target      *string `json:"target,omitempty"`
	Status      string  `json:"status" enum:"draft,draft_approval,active,two_weeks,overdue,cancelled,completed_approval,closed"`
	StartDate   string  `json:"start_date" format:"date"`
	EndDatePlan string  `json:"end_date_plan" format:"date"`
	EndDateFact *string `json:"end_date_fact,omitempty" format:"date"`
	EmployeeID  string  `json:"employee_id"`
	Version     int     `json:"version"`
	CreatedAt   string  `json:"created_at" format:"date-time"`
	UpdatedAt   string  `json:"updated_at" format:"date-time"`
}

// Task is a unit of work under an IDP.
type Task struct {
	ID           int64   `json:"id"`
	IDPID        string  `json:"idp_id"`
	Name         string  `json:"name"`
	Description  string  `json:"description,omitempty"`
	Status       string  `json:"status" enum:"draft,draft_approval,active,active_with_idp,two_weeks,overdue,cancelled,cancelled_with_idp,completed_approval,rejected,closed"`
	StartDate    string  `json:"start_date" format:"date"`
	EndDatePlan  string  `json:"end_date_plan" format:"date"`
	EndDateFact  *string `json:"end_date_fact,omitempty" format:"date"`
	NoteEmployee string  `json:"note_employee,omitempty"`
	NoteChief    string  `json:"note_chief,omitempty"`
	NoteMentor   string  `json:"note_mentor,omitempty"`
	MentorID     *string `json:"mentor_id,omitempty"`
	Version      int     `json:"version"`
	CreatedAt    string  `json:"created_at" format:"date-time"`
	UpdatedAt    string  `json:"updated_at" format:"date-time"`
}

// Notification is a catalog entry keyed by trigger.
type Notification struct {
	ID          int64  `json:"id"`
	Trigger     string `json:"trigger"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// EntityNotification is one delivered notification row for an IDP or a Task.
type EntityNotification struct {
	ID             string `json:"id"`
	EntityKind     string `json:"entity_kind" enum:"idp,task"`
	EntityID       string `json:"entity_id"`
	NotificationID int64  `json:"notification_id"`
	Trigger        string `json:"trigger"`
	ReceiverID     string `json:"receiver_id"`
	Message        string `json:"message"`
	SentAt         string `json:"sent_at" format:"date-time"`
	Status         string `json:"status" enum:"Unread,Read"`
}

type ScheduledJob struct {
	Key        string `json:"key"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id"`
	Status     string `json:"status"`
	FireAt     string `json:"fire_at" format:"date-time"`
	Enabled    bool   `json:"enabled"`
	Attempts   int    `json:"attempts"`
	LastError  string `json:"last_error,omitempty"`
	CreatedAt  string `json:"created_at" format:"date-time"`
	UpdatedAt  string `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
