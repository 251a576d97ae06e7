package main

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"idptrack/internal/app"
	"idptrack/internal/domain"
	"idptrack/internal/engine"
	"idptrack/internal/repo"
	"idptrack/internal/schedule"
	"idptrack/internal/status"
)

func userCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "user", Short: "Manage the user directory"}
	var u domain.User
	var chief, department string
	add := &cobra.Command{
		Use:   "add",
		Short: "Add a user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				u.ChiefID = optionalString(chief)
				u.DepartmentID = optionalString(department)
				if chief != "" {
					if _, err := a.Engine.Repo.GetUser(ctx, chief); err != nil {
						return fmt.Errorf("chief %s: %w", chief, err)
					}
				}
				if department != "" {
					if _, err := a.Engine.Repo.GetDepartment(ctx, department); err != nil {
						return fmt.Errorf("department %s: %w", department, err)
					}
				}
				u.CreatedAt = time.Now().UTC().Format(time.RFC3339)
				if err := a.Engine.Repo.InsertUser(ctx, u); err != nil {
					return err
				}
				return printJSONOrTable(u)
			})
		},
	}
	add.Flags().StringVar(&u.ID, "id", "", "user id")
	add.Flags().StringVar(&u.FirstName, "first-name", "", "first name")
	add.Flags().StringVar(&u.LastName, "last-name", "", "last name")
	add.Flags().StringVar(&u.Email, "email", "", "email")
	add.Flags().StringVar(&u.Position, "position", "", "position")
	add.Flags().StringVar(&chief, "chief", "", "chief user id")
	add.Flags().StringVar(&department, "department", "", "department id")
	_ = add.MarkFlagRequired("id")

	list := &cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				users, err := a.Engine.Repo.ListUsers(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(users)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Position", "Chief", "Department"})
				for _, u := range users {
					tw.AppendRow(table.Row{u.ID, u.FirstName + " " + u.LastName, u.Position, deref(u.ChiefID), deref(u.DepartmentID)})
				}
				tw.Render()
				return nil
			})
		},
	}

	var d domain.Department
	dept := &cobra.Command{
		Use:   "department",
		Short: "Add a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.Repo.InsertDepartment(ctx, d); err != nil {
					return err
				}
				return printJSONOrTable(d)
			})
		},
	}
	dept.Flags().StringVar(&d.ID, "id", "", "department id")
	dept.Flags().StringVar(&d.Name, "name", "", "department name")
	dept.Flags().StringVar(&d.CompanyID, "company", "", "company id")
	_ = dept.MarkFlagRequired("id")

	cmd.AddCommand(add, list, dept)
	return cmd
}

func planCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "plan", Short: "Manage development plans"}
	cmd.AddCommand(planSaveCmd(), planShowCmd(), planListCmd(), planDeleteCmd())
	return cmd
}

// planSaveCmd creates a plan, or overlays the changed flags on the stored
// one. --version pins the expected version; by default the stored one is
// used.
func planSaveCmd() *cobra.Command {
	var p domain.IDP
	var target, endFact string
	var tasks []string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				next := p
				if p.ID != "" {
					stored, err := a.Engine.Repo.GetIDP(ctx, p.ID)
					switch {
					case err == nil:
						next = overlayIDP(cmd, stored, p)
					case !errors.Is(err, repo.ErrNotFound):
						return err
					}
				}
				if cmd.Flags().Changed("target") {
					next.Target = optionalString(target)
				}
				if cmd.Flags().Changed("end-fact") {
					next.EndDateFact = optionalString(endFact)
				}
				in := engine.IDPInput{IDP: next, ActorID: viper.GetString("actor-id")}
				for _, name := range tasks {
					in.Tasks = append(in.Tasks, domain.Task{Name: name})
				}
				saved, err := a.Engine.SaveIDP(ctx, in)
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().StringVar(&p.ID, "id", "", "plan id (new uuid when empty)")
	cmd.Flags().StringVar(&p.Name, "name", "", "plan name")
	cmd.Flags().StringVar(&p.EmployeeID, "employee", "", "employee user id")
	cmd.Flags().StringVar(&p.Status, "status", "", "status")
	cmd.Flags().StringVar(&p.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&p.EndDatePlan, "end", "", "planned end date (YYYY-MM-DD)")
	cmd.Flags().IntVar(&p.Version, "version", 0, "expected stored version")
	cmd.Flags().StringVar(&target, "target", "", "target")
	cmd.Flags().StringVar(&endFact, "end-fact", "", "actual end date (YYYY-MM-DD)")
	cmd.Flags().StringArrayVar(&tasks, "task", nil, "initial task name (new plans only, repeatable)")
	return cmd
}

func overlayIDP(cmd *cobra.Command, stored, in domain.IDP) domain.IDP {
	next := stored
	changed := cmd.Flags().Changed
	if changed("name") {
		next.Name = in.Name
	}
	if changed("employee") {
		next.EmployeeID = in.EmployeeID
	}
	if changed("status") {
		next.Status = in.Status
	}
	if changed("start") {
		next.StartDate = in.StartDate
	}
	if changed("end") {
		next.EndDatePlan = in.EndDatePlan
	}
	if changed("version") {
		next.Version = in.Version
	}
	return next
}

func planShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a plan with its tasks",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.Repo.GetIDP(ctx, args[0])
				if err != nil {
					return err
				}
				tasks, err := a.Engine.Repo.ListTasks(ctx, p.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"idp": p, "tasks": tasks})
				}
				fmt.Printf("%s  %s  [%s]  employee=%s  %s..%s  v%d\n", p.ID, p.Name, p.Status, p.EmployeeID, p.StartDate, p.EndDatePlan, p.Version)
				printTasks(tasks)
				return nil
			})
		},
	}
}

func planListCmd() *cobra.Command {
	var employee string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List plans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				plans, err := a.Engine.Repo.ListIDPs(ctx, employee)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(plans)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"ID", "Name", "Status", "Employee", "End", "Version"})
				for _, p := range plans {
					tw.AppendRow(table.Row{p.ID, p.Name, p.Status, p.EmployeeID, p.EndDatePlan, p.Version})
				}
				tw.Render()
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&employee, "employee", "", "employee filter")
	return cmd
}

func planDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a plan with its tasks and notifications",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.DeleteIDP(ctx, args[0], viper.GetString("actor-id")); err != nil {
					return err
				}
				fmt.Println("deleted", args[0])
				return nil
			})
		},
	}
}

func taskCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Manage plan tasks"}
	cmd.AddCommand(taskSaveCmd(), taskCloseCmd(), taskListCmd())
	return cmd
}

func taskSaveCmd() *cobra.Command {
	var t domain.Task
	var mentor, endFact string
	cmd := &cobra.Command{
		Use:   "save",
		Short: "Create or update a task",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				next := t
				if t.ID != 0 {
					stored, err := a.Engine.Repo.GetTask(ctx, t.ID)
					if err != nil {
						return err
					}
					next = overlayTask(cmd, stored, t)
				}
				if cmd.Flags().Changed("mentor") {
					next.MentorID = optionalString(mentor)
				}
				if cmd.Flags().Changed("end-fact") {
					next.EndDateFact = optionalString(endFact)
				}
				saved, err := a.Engine.SaveTask(ctx, next, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
	cmd.Flags().Int64Var(&t.ID, "id", 0, "task id (creates when 0)")
	cmd.Flags().StringVar(&t.IDPID, "idp", "", "plan id")
	cmd.Flags().StringVar(&t.Name, "name", "", "task name")
	cmd.Flags().StringVar(&t.Description, "description", "", "description")
	cmd.Flags().StringVar(&t.Status, "status", "", "status")
	cmd.Flags().StringVar(&t.StartDate, "start", "", "start date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.EndDatePlan, "end", "", "planned end date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&t.NoteEmployee, "note-employee", "", "employee note")
	cmd.Flags().StringVar(&t.NoteChief, "note-chief", "", "chief note")
	cmd.Flags().StringVar(&t.NoteMentor, "note-mentor", "", "mentor note")
	cmd.Flags().IntVar(&t.Version, "version", 0, "expected stored version")
	cmd.Flags().StringVar(&mentor, "mentor", "", "mentor user id")
	cmd.Flags().StringVar(&endFact, "end-fact", "", "actual end date (YYYY-MM-DD)")
	return cmd
}

func overlayTask(cmd *cobra.Command, stored, in domain.Task) domain.Task {
	next := stored
	changed := cmd.Flags().Changed
	for flag, apply := range map[string]func(){
		"idp":           func() { next.IDPID = in.IDPID },
		"name":          func() { next.Name = in.Name },
		"description":   func() { next.Description = in.Description },
		"status":        func() { next.Status = in.Status },
		"start":         func() { next.StartDate = in.StartDate },
		"end":           func() { next.EndDatePlan = in.EndDatePlan },
		"note-employee": func() { next.NoteEmployee = in.NoteEmployee },
		"note-chief":    func() { next.NoteChief = in.NoteChief },
		"note-mentor":   func() { next.NoteMentor = in.NoteMentor },
		"version":       func() { next.Version = in.Version },
	} {
		if changed(flag) {
			apply()
		}
	}
	return next
}

func taskCloseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "close <id>",
		Short: "Close a task; closing the last open task asks for plan confirmation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid task id %q", args[0])
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				t, err := a.Engine.Repo.GetTask(ctx, id)
				if err != nil {
					return err
				}
				t.Status = string(status.TaskClosed)
				saved, err := a.Engine.SaveTask(ctx, t, viper.GetString("actor-id"))
				if err != nil {
					return err
				}
				return printJSONOrTable(saved)
			})
		},
	}
}

func taskListCmd() *cobra.Command {
	var idpID string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a plan",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				tasks, err := a.Engine.Repo.ListTasks(ctx, idpID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(tasks)
				}
				printTasks(tasks)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&idpID, "idp", "", "plan id")
	_ = cmd.MarkFlagRequired("idp")
	return cmd
}

func printTasks(tasks []domain.Task) {
	tw := newTable()
	tw.AppendHeader(table.Row{"ID", "Name", "Status", "Mentor", "End", "Version"})
	for _, t := range tasks {
		tw.AppendRow(table.Row{t.ID, t.Name, t.Status, deref(t.MentorID), t.EndDatePlan, t.Version})
	}
	tw.Render()
}

func notificationsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "notifications", Short: "Delivered notifications"}
	var f repo.NotificationFilter
	list := &cobra.Command{
		Use:   "list",
		Short: "List notifications, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.Repo.ListNotifications(ctx, f)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Kind", "ID", "Entity", "Trigger", "Receiver", "Status", "Sent", "Message"})
				for _, n := range items {
					tw.AppendRow(table.Row{n.EntityKind, n.ID, n.EntityID, n.Trigger, n.ReceiverID, n.Status, n.SentAt, n.Message})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&f.ReceiverID, "receiver", "", "receiver user id")
	list.Flags().StringVar(&f.EntityKind, "kind", "", "idp or task")
	list.Flags().StringVar(&f.EntityID, "entity", "", "entity id")
	list.Flags().StringVar(&f.Trigger, "trigger", "", "trigger id")
	list.Flags().StringVar(&f.Status, "status", "", "Unread or Read")
	list.Flags().IntVar(&f.Limit, "limit", 50, "max rows")

	var receiver string
	read := &cobra.Command{
		Use:   "read <kind> <id>",
		Short: "Mark a notification as read",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				if err := a.Engine.MarkNotificationRead(ctx, args[0], args[1], receiver); err != nil {
					return err
				}
				fmt.Println("read", args[1])
				return nil
			})
		},
	}
	read.Flags().StringVar(&receiver, "receiver", "", "only if addressed to this user")

	cmd.AddCommand(list, read)
	return cmd
}

func schedulerCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "scheduler", Short: "Deferred status transitions"}
	var once bool
	run := &cobra.Command{
		Use:   "run",
		Short: "Apply due transitions until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				r := a.Runner()
				if once {
					n, err := r.Tick(ctx)
					if err != nil {
						return err
					}
					fmt.Printf("applied %d transitions\n", n)
					return nil
				}
				if err := r.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return nil
			})
		},
	}
	run.Flags().BoolVar(&once, "once", false, "run due jobs once and exit")

	var kind, id string
	var all bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List scheduled transitions",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				jobs, err := schedule.Store{Repo: a.Engine.Repo}.List(ctx, kind, id, !all)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(jobs)
				}
				tw := newTable()
				tw.AppendHeader(table.Row{"Key", "Status", "Fire at", "Enabled", "Attempts", "Last error"})
				for _, j := range jobs {
					tw.AppendRow(table.Row{j.Key, j.Status, j.FireAt, j.Enabled, j.Attempts, j.LastError})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().StringVar(&kind, "kind", "", "idp or task")
	list.Flags().StringVar(&id, "id", "", "entity id")
	list.Flags().BoolVar(&all, "all", false, "include disabled jobs")

	show := &cobra.Command{
		Use:   "show <key>",
		Short: "Show one scheduled transition",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				job, err := a.Engine.Repo.GetJob(ctx, args[0])
				if err != nil {
					return fmt.Errorf("job %s: %w", args[0], err)
				}
				return printJSONOrTable(job)
			})
		},
	}

	cmd.AddCommand(run, list, show)
	return cmd
}
