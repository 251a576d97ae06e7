// Package status holds the IDP and Task status enumerations, the
// status/field to notification trigger tables and the IDP to Task cascade map.
package status

// IDP is an IDP workflow status.
type IDP string

const (
	IDPDraft             IDP = "draft"
	IDPDraftApproval     IDP = "draft_approval"
	IDPActive            IDP = "active"
	IDPTwoWeeks          IDP = "two_weeks"
	IDPOverdue           IDP = "overdue"
	IDPCancelled         IDP = "cancelled"
	IDPCompletedApproval IDP = "completed_approval"
	IDPClosed            IDP = "closed"
)

var idpStatuses = []IDP{
	IDPDraft, IDPDraftApproval, IDPActive, IDPTwoWeeks, IDPOverdue,
	IDPCancelled, IDPCompletedApproval, IDPClosed,
}

// Valid reports whether s is a known IDP status.
func (s IDP) Valid() bool {
	for _, v := range idpStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Settled reports statuses a deferred transition must not override.
func (s IDP) Settled() bool {
	return s == IDPCancelled || s == IDPCompletedApproval || s == IDPClosed
}

// IDPStatuses returns every IDP status in workflow order.
func IDPStatuses() []IDP {
	out := make([]IDP, len(idpStatuses))
	copy(out, idpStatuses)
	return out
}

// Task is a Task workflow status. The *WithIDP variants record that the
// transition came from the parent IDP and only change notification routing.
type Task string

const (
	TaskDraft             Task = "draft"
	TaskDraftApproval     Task = "draft_approval"
	TaskActive            Task = "active"
	TaskActiveWithIDP     Task = "active_with_idp"
	TaskTwoWeeks          Task = "two_weeks"
	TaskOverdue           Task = "overdue"
	TaskCancelled         Task = "cancelled"
	TaskCancelledWithIDP  Task = "cancelled_with_idp"
	TaskCompletedApproval Task = "completed_approval"
	TaskRejected          Task = "rejected"
	TaskClosed            Task = "closed"
)

var taskStatuses = []Task{
	TaskDraft, TaskDraftApproval, TaskActive, TaskActiveWithIDP, TaskTwoWeeks,
	TaskOverdue, TaskCancelled, TaskCancelledWithIDP, TaskCompletedApproval,
	TaskRejected, TaskClosed,
}

func (s Task) Valid() bool {
	for _, v := range taskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

func (s Task) Settled() bool {
	switch s {
	case TaskCancelled, TaskCancelledWithIDP, TaskCompletedApproval, TaskClosed:
		return true
	}
	return false
}

var cascade = map[IDP]Task{
	IDPActive:        TaskActiveWithIDP,
	IDPCancelled:     TaskCancelledWithIDP,
	IDPDraftApproval: TaskDraftApproval,
}

// CascadeToTask returns the status forced on every child Task when an IDP
// enters s. ok is false when s does not cascade.
func CascadeToTask(s IDP) (Task, bool) {
	t, ok := cascade[s]
	return t, ok
}
