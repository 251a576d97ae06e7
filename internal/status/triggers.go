package status

import "sort"

// Role names a notification receiver relative to the entity.
type Role string

const (
	RoleEmployee Role = "employee"
	RoleChief    Role = "chief"
	RoleMentor   Role = "mentor"
)

// Notification trigger ids. They key the notification catalog.
const (
	IDPCreatedTrigger          = "Idp_created"
	TaskCreatedTrigger         = "Task_created"
	TaskCreatedWithIDPTrigger  = "Task_created_with_idp"
	IDPUpdatedTrigger          = "Idp_updated"
	TaskCommentAddedTrigger    = "Idp_comment_added"
	TaskUpdatedTrigger         = "Idp_task_updated"
	TaskEndDateUpdatedTrigger  = "Task_enddate_plan_updated"
	MentorChangedTrigger       = "Mentor_changed"
	IDPTwoWeeksTrigger         = "Two_weeks_before_idp_overdue"
	IDPOverdueTrigger          = "Idp_overdue"
	IDPRequestCreatedTrigger   = "Idp_request_from_employee"
	IDPCancelledTrigger        = "Idp_cancelled"
	IDPCompletedApprovalTrig   = "Idp_close_request_created"
	IDPClosedTrigger           = "Idp_close_request_accepted"
	IDPCloseRejectedTrigger    = "Idp_close_request_rejected"
	IDPRequestRejectedTrigger  = "Idp_request_rejected"
	TaskTwoWeeksTrigger        = "Two_weeks_before_task_overdue"
	TaskOverdueTrigger         = "Task_overdue"
	TaskCancelledTrigger       = "Task_cancelled"
	TaskCancelledAfterIDPTrig  = "Task_cancelled_because_of_idp"
	TaskCompletedApprovalTrig  = "Task_close_request_created"
	TaskClosedTrigger          = "Task_closed"
	TaskCloseRejectedTrigger   = "Task_close_rejected"
)

// Tracked Task fields whose change alone fires a notification.
const (
	FieldDescription = "description"
	FieldMentor      = "mentor"
	FieldNoteChief   = "note_chief"
	FieldNoteMentor  = "note_mentor"
	FieldEndDatePlan = "end_date_plan"
	FieldStatus      = "status"
)

// Trigger describes one notification to emit: the catalog trigger id, the
// receiver roles in dispatch order and a message template per role.
type Trigger struct {
	ID        string
	Receivers []Role
	Messages  map[Role]string
}

// Message returns the template for role, or "" if none is defined.
func (t Trigger) Message(role Role) string {
	return t.Messages[role]
}

// ChangeKind tags a Change.
type ChangeKind int

const (
	StatusChanged ChangeKind = iota + 1
	FieldChanged
	Updated
)

// Change describes what happened to an entity on save.
type Change struct {
	Kind  ChangeKind
	Value string
}

func StatusChange(s string) Change { return Change{Kind: StatusChanged, Value: s} }
func FieldChange(f string) Change  { return Change{Kind: FieldChanged, Value: f} }
func UpdatedChange() Change        { return Change{Kind: Updated} }

var idpByStatus = map[IDP]Trigger{
	IDPDraftApproval: {
		ID:        IDPRequestCreatedTrigger,
		Receivers: []Role{RoleChief},
		Messages:  map[Role]string{RoleChief: "Your employee has submitted a development plan for approval."},
	},
	IDPActive: {
		ID:        IDPCreatedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "A development plan has been started for you."},
	},
	IDPTwoWeeks: {
		ID:        IDPTwoWeeksTrigger,
		Receivers: []Role{RoleEmployee, RoleChief},
		Messages: map[Role]string{
			RoleEmployee: "Two weeks are left until the planned end date of your development plan.",
			RoleChief:    "Two weeks are left until the planned end date of your employee's development plan.",
		},
	},
	IDPOverdue: {
		ID:        IDPOverdueTrigger,
		Receivers: []Role{RoleEmployee, RoleChief},
		Messages: map[Role]string{
			RoleEmployee: "Your development plan is overdue.",
			RoleChief:    "Your employee's development plan is overdue.",
		},
	},
	IDPCompletedApproval: {
		ID:        IDPCompletedApprovalTrig,
		Receivers: []Role{RoleChief},
		Messages:  map[Role]string{RoleChief: "All tasks of your employee's development plan are done and await your confirmation."},
	},
	IDPClosed: {
		ID:        IDPClosedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your development plan has been confirmed as completed."},
	},
	IDPCancelled: {
		ID:        IDPCancelledTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your development plan has been cancelled."},
	},
}

var idpUpdated = Trigger{
	ID:        IDPUpdatedTrigger,
	Receivers: []Role{RoleEmployee},
	Messages:  map[Role]string{RoleEmployee: "Your development plan has been updated."},
}

var taskByStatus = map[Task]Trigger{
	TaskActive: {
		ID:        TaskCreatedTrigger,
		Receivers: []Role{RoleEmployee, RoleMentor},
		Messages: map[Role]string{
			RoleEmployee: "A new task has been added to your development plan.",
			RoleMentor:   "You have been assigned as mentor of a new task.",
		},
	},
	TaskActiveWithIDP: {
		ID:        TaskCreatedWithIDPTrigger,
		Receivers: []Role{RoleMentor},
		Messages:  map[Role]string{RoleMentor: "You have been assigned as mentor of a task in a new development plan."},
	},
	TaskTwoWeeks: {
		ID:        TaskTwoWeeksTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Two weeks are left until the planned end date of your task."},
	},
	TaskOverdue: {
		ID:        TaskOverdueTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your task is overdue."},
	},
	TaskCompletedApproval: {
		ID:        TaskCompletedApprovalTrig,
		Receivers: []Role{RoleChief},
		Messages:  map[Role]string{RoleChief: "Your employee has asked to confirm a completed task."},
	},
	TaskClosed: {
		ID:        TaskClosedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your task has been confirmed as completed."},
	},
	TaskCancelled: {
		ID:        TaskCancelledTrigger,
		Receivers: []Role{RoleEmployee, RoleMentor},
		Messages: map[Role]string{
			RoleEmployee: "A task of your development plan has been cancelled.",
			RoleMentor:   "A task you mentor has been cancelled.",
		},
	},
	TaskCancelledWithIDP: {
		ID:        TaskCancelledAfterIDPTrig,
		Receivers: []Role{RoleMentor},
		Messages:  map[Role]string{RoleMentor: "A task you mentor was cancelled together with its development plan."},
	},
	TaskRejected: {
		ID:        TaskCloseRejectedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your task has been sent back for rework."},
	},
}

var taskByField = map[string]Trigger{
	FieldDescription: {
		ID:        TaskUpdatedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "The description of your task has changed."},
	},
	FieldMentor: {
		ID:        MentorChangedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "The mentor of your task has changed."},
	},
	FieldNoteChief: {
		ID:        TaskCommentAddedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your chief left a comment on your task."},
	},
	FieldNoteMentor: {
		ID:        TaskCommentAddedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "Your mentor left a comment on your task."},
	},
	FieldEndDatePlan: {
		ID:        TaskEndDateUpdatedTrigger,
		Receivers: []Role{RoleEmployee},
		Messages:  map[Role]string{RoleEmployee: "The planned end date of your task has changed."},
	},
}

// IDPTrigger looks up the notification for an IDP change. Field changes
// never map on IDPs; callers fold them into UpdatedChange.
func IDPTrigger(c Change) (Trigger, bool) {
	switch c.Kind {
	case StatusChanged:
		t, ok := idpByStatus[IDP(c.Value)]
		return t, ok
	case Updated:
		return idpUpdated, true
	}
	return Trigger{}, false
}

// TaskTrigger looks up the notification for a Task change.
func TaskTrigger(c Change) (Trigger, bool) {
	switch c.Kind {
	case StatusChanged:
		t, ok := taskByStatus[Task(c.Value)]
		return t, ok
	case FieldChanged:
		t, ok := taskByField[c.Value]
		return t, ok
	}
	return Trigger{}, false
}

// TrackedTaskFields lists the Task fields with their own trigger, sorted.
func TrackedTaskFields() []string {
	out := make([]string, 0, len(taskByField))
	for f := range taskByField {
		out = append(out, f)
	}
	sort.Strings(out)
	return out
}

// TriggerIDs returns every trigger id referenced by the lookup tables plus
// the catalog-only rejection triggers, sorted and de-duplicated.
func TriggerIDs() []string {
	seen := map[string]bool{
		idpUpdated.ID:             true,
		IDPCloseRejectedTrigger:   true,
		IDPRequestRejectedTrigger: true,
	}
	for _, t := range idpByStatus {
		seen[t.ID] = true
	}
	for _, t := range taskByStatus {
		seen[t.ID] = true
	}
	for _, t := range taskByField {
		seen[t.ID] = true
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}
