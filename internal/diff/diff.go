// Package diff compares persisted snapshots of IDPs and Tasks field by field.
package diff

import "idptrack/internal/domain"

// IDPSnapshot holds the caller-visible fields of an IDP.
type IDPSnapshot struct {
	Name        string
	Target      *string
	Status      string
	StartDate   string
	EndDatePlan string
	EndDateFact *string
	EmployeeID  string
}

// TaskSnapshot holds the caller-visible fields of a Task.
type TaskSnapshot struct {
	IDPID        string
	Name         string
	Description  string
	Status       string
	StartDate    string
	EndDatePlan  string
	EndDateFact  *string
	NoteEmployee string
	NoteChief    string
	NoteMentor   string
	MentorID     *string
}

func SnapshotIDP(p domain.IDP) IDPSnapshot {
	return IDPSnapshot{
		Name:        p.Name,
		Target:      p.Target,
		Status:      p.Status,
		StartDate:   p.StartDate,
		EndDatePlan: p.EndDatePlan,
		EndDateFact: p.EndDateFact,
		EmployeeID:  p.EmployeeID,
	}
}

func SnapshotTask(t domain.Task) TaskSnapshot {
	return TaskSnapshot{
		IDPID:        t.IDPID,
		Name:         t.Name,
		Description:  t.Description,
		Status:       t.Status,
		StartDate:    t.StartDate,
		EndDatePlan:  t.EndDatePlan,
		EndDateFact:  t.EndDateFact,
		NoteEmployee: t.NoteEmployee,
		NoteChief:    t.NoteChief,
		NoteMentor:   t.NoteMentor,
		MentorID:     t.MentorID,
	}
}

// Change is one differing field with its new value. Absent optional values
// are reported as "".
type Change struct {
	Field string
	Value string
}

// ChangeSet lists differing fields in declaration order.
type ChangeSet []Change

func (c ChangeSet) Empty() bool { return len(c) == 0 }

func (c ChangeSet) Has(field string) bool {
	_, ok := c.Get(field)
	return ok
}

func (c ChangeSet) Get(field string) (string, bool) {
	for _, ch := range c {
		if ch.Field == field {
			return ch.Value, true
		}
	}
	return "", false
}

// Without returns a copy of c with field removed.
func (c ChangeSet) Without(field string) ChangeSet {
	out := make(ChangeSet, 0, len(c))
	for _, ch := range c {
		if ch.Field != field {
			out = append(out, ch)
		}
	}
	return out
}

// Fields returns the changed field names.
func (c ChangeSet) Fields() []string {
	out := make([]string, len(c))
	for i, ch := range c {
		out[i] = ch.Field
	}
	return out
}

// IDP returns the fields where next differs from prev.
func IDP(prev, next IDPSnapshot) ChangeSet {
	var cs ChangeSet
	cs.str("name", prev.Name, next.Name)
	cs.opt("target", prev.Target, next.Target)
	cs.str("status", prev.Status, next.Status)
	cs.str("start_date", prev.StartDate, next.StartDate)
	cs.str("end_date_plan", prev.EndDatePlan, next.EndDatePlan)
	cs.opt("end_date_fact", prev.EndDateFact, next.EndDateFact)
	cs.str("employee", prev.EmployeeID, next.EmployeeID)
	return cs
}

// Task returns the fields where next differs from prev.
func Task(prev, next TaskSnapshot) ChangeSet {
	var cs ChangeSet
	cs.str("idp", prev.IDPID, next.IDPID)
	cs.str("name", prev.Name, next.Name)
	cs.str("description", prev.Description, next.Description)
	cs.str("status", prev.Status, next.Status)
	cs.str("start_date", prev.StartDate, next.StartDate)
	cs.str("end_date_plan", prev.EndDatePlan, next.EndDatePlan)
	cs.opt("end_date_fact", prev.EndDateFact, next.EndDateFact)
	cs.str("note_employee", prev.NoteEmployee, next.NoteEmployee)
	cs.str("note_chief", prev.NoteChief, next.NoteChief)
	cs.str("note_mentor", prev.NoteMentor, next.NoteMentor)
	cs.opt("mentor", prev.MentorID, next.MentorID)
	return cs
}

func (c *ChangeSet) str(field, a, b string) {
	if a != b {
		*c = append(*c, Change{Field: field, Value: b})
	}
}

func (c *ChangeSet) opt(field string, a, b *string) {
	switch {
	case a == nil && b == nil:
		return
	case a == nil || b == nil || *a != *b:
		v := ""
		if b != nil {
			v = *b
		}
		*c = append(*c, Change{Field: field, Value: v})
	}
}
