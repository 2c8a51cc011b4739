package tasks_test

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ricirt/taskdispatch/internal/analytics"
	"github.com/ricirt/taskdispatch/internal/backup"
	"github.com/ricirt/taskdispatch/internal/beat"
	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/mailer"
	"github.com/ricirt/taskdispatch/internal/repository"
	"github.com/ricirt/taskdispatch/internal/tasks"
)

var now = time.Date(2026, 4, 10, 9, 0, 0, 0, time.UTC)

type fixture struct {
	reg     *dispatch.Registry
	store   *repository.MemoryStore
	mail    *mailer.Recorder
	events  *analytics.Recorder
	backups *backup.Memory
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		reg:     dispatch.NewRegistry(zap.NewNop()),
		store:   repository.NewMemoryStore(),
		mail:    mailer.NewRecorder(),
		events:  &analytics.Recorder{},
		backups: backup.NewMemory(),
	}
	f.store.AddUser(domain.User{ID: 1, Username: "alice", Email: "alice@example.com"})
	f.store.AddUser(domain.User{ID: 2, Username: "bob", Email: "bob@example.com"})

	err := tasks.Register(f.reg, tasks.Deps{
		Store:         f.store,
		Mailer:        f.mail,
		Analytics:     f.events,
		Backups:       f.backups,
		Logger:        zap.NewNop(),
		DueSoonWindow: time.Hour,
		TeamEmails:    []string{"team@example.com", "manager@example.com"},
		BackupPrefix:  "task-backups",
		Now:           func() time.Time { return now },
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) run(t *testing.T, name string, args ...any) dispatch.Result {
	t.Helper()
	res, err := f.dispatch(name, args...)
	require.NoError(t, err)
	return res
}

func (f *fixture) dispatch(name string, args ...any) (dispatch.Result, error) {
	raw, err := dispatch.NewArgs(args...)
	if err != nil {
		return nil, err
	}
	return f.reg.Dispatch(context.Background(), &broker.Message{ID: "m", TaskName: name, Args: raw})
}

func (f *fixture) notifications(kind domain.NotifyType) []domain.Notification {
	var out []domain.Notification
	for _, n := range f.store.AllNotifications() {
		if n.NotifyType == kind {
			out = append(out, n)
		}
	}
	return out
}

func TestRegister_AllNamesAndBeatRules(t *testing.T) {
	f := newFixture(t)
	assert.ElementsMatch(t, tasks.All(), f.reg.Names())
	assert.Len(t, f.reg.Names(), 17)

	for _, rule := range beat.DefaultRules(1) {
		assert.Contains(t, f.reg.Names(), rule.TaskName)
	}
}

func TestRegister_MissingDependency(t *testing.T) {
	err := tasks.Register(dispatch.NewRegistry(zap.NewNop()), tasks.Deps{Logger: zap.NewNop()})
	require.ErrorIs(t, err, tasks.ErrMissingDependency)
	assert.Contains(t, err.Error(), "Store")
}

func TestRoutesMatchFamilies(t *testing.T) {
	r := dispatch.NewRouter(dispatch.DefaultRoutes(), "")
	for _, name := range tasks.UserTasks() {
		assert.Equal(t, "user_queue", r.Resolve(name), name)
	}
	for _, name := range tasks.TodoTasks() {
		assert.Equal(t, "task_queue", r.Resolve(name), name)
	}
	for _, name := range tasks.NotificationTasks() {
		assert.Equal(t, "notification_queue", r.Resolve(name), name)
	}
}

func TestSendWelcomeEmail_NotIdempotent(t *testing.T) {
	f := newFixture(t)

	for i := 0; i < 2; i++ {
		res := f.run(t, tasks.SendWelcomeEmail, 1)
		assert.Equal(t, dispatch.StatusSuccess, res.Status())
		assert.Equal(t, "alice@example.com", res["email"])
	}
	assert.Len(t, f.mail.SentTo("alice@example.com"), 2)
}

func TestSendWelcomeEmail_UserNotFound(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, tasks.SendWelcomeEmail, 99)
	assert.Equal(t, dispatch.StatusError, res.Status())
	assert.Equal(t, "User not found", res.Message())
	assert.Empty(t, f.mail.Sent())
}

func TestCreateDefaultTasks(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, tasks.CreateDefaultTasks, 2)
	assert.Equal(t, 3, res["tasks_created"])

	_ = f.store.WithSession(context.Background(), func(ctx context.Context, s repository.Session) error {
		todos, err := s.Todos().ListByUser(ctx, 2)
		require.NoError(t, err)
		require.Len(t, todos, 3)
		assert.Equal(t, "Welcome to TodoApp!", todos[0].Title)
		assert.Equal(t, now.Add(24*time.Hour), todos[0].DueDate)
		assert.Equal(t, now.Add(3*24*time.Hour), todos[1].DueDate)
		assert.Equal(t, now.Add(7*24*time.Hour), todos[2].DueDate)
		return nil
	})
}

func TestUpdateUserStatsAndProgress(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "a", Completed: true})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "b"})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "c"})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "d", Completed: true})

	res := f.run(t, tasks.UpdateUserStats, 1)
	assert.Equal(t, 4, res["total_tasks"])
	assert.Equal(t, 2, res["completed_tasks"])
	assert.InDelta(t, 50.0, res["completion_rate"], 0.001)

	res = f.run(t, tasks.UpdateProjectProgress, id)
	assert.InDelta(t, 50.0, res["progress_percentage"], 0.001)
}

func TestSyncToExternalService(t *testing.T) {
	f := newFixture(t)
	res := f.run(t, tasks.SyncToExternalService, 1, "user_registered", map[string]any{"username": "alice"})
	assert.Equal(t, dispatch.StatusSuccess, res.Status())

	events := f.events.Events()
	require.Len(t, events, 1)
	assert.Equal(t, "user_registered", events[0].Action)
	assert.Equal(t, "alice", events[0].Data["username"])
	assert.Equal(t, now, events[0].OccurredAt)

	f.events.Err = errors.New("503 from analytics")
	res = f.run(t, tasks.SyncToExternalService, 1, "task_created", nil)
	assert.Equal(t, dispatch.StatusError, res.Status())
}

func TestScheduleReminder(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "pay rent", DueDate: now.Add(10 * time.Hour)})

	res := f.run(t, tasks.ScheduleReminder, id, now.Add(8*time.Hour).Format(time.RFC3339))
	assert.Equal(t, "2026-04-10T17:00:00Z", res["reminder_scheduled"])
	assert.Equal(t, "alice@example.com", res["user_email"])

	_, err := f.dispatch(tasks.ScheduleReminder, id, "tomorrow")
	var herr *dispatch.HandlerError
	require.ErrorAs(t, err, &herr)
	assert.ErrorIs(t, err, dispatch.ErrInvalidArgs)
}

func TestNotifyTeamMembers(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 2, Title: "ship release"})
	f.mail.FailFor["manager@example.com"] = true

	res := f.run(t, tasks.NotifyTeamMembers, id)
	assert.Equal(t, 1, res["notifications_sent"])
	assert.Equal(t, 1, res["failed"])
	sent := f.mail.SentTo("team@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "High Priority Task: ship release", sent[0].Subject)
}

func TestGenerateTaskAnalytics(t *testing.T) {
	f := newFixture(t)
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "done", Completed: true})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "late", DueDate: now.Add(-time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "next", DueDate: now.Add(time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "someday"})

	res := f.run(t, tasks.GenerateTaskAnalytics, 1)
	a, ok := res["analytics"].(tasks.TaskAnalytics)
	require.True(t, ok)
	assert.Equal(t, tasks.TaskAnalytics{Total: 4, Completed: 1, Overdue: 1, Upcoming: 1, CompletionRate: 25}, a)
}

func TestBackupTaskData(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "report", DueDate: now.Add(time.Hour)})

	res := f.run(t, tasks.BackupTaskData, id)
	key := backup.Key("task-backups", id)
	assert.Equal(t, "mem://"+key, res["backup_location"])

	data, ok := f.backups.Get(key)
	require.True(t, ok)
	assert.Equal(t, len(data), res["backup_size"])

	var snap map[string]any
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "report", snap["title"])
	assert.Equal(t, "2026-04-10T09:00:00Z", snap["backup_timestamp"])

	res = f.run(t, tasks.BackupTaskData, 999)
	assert.Equal(t, "Task not found", res.Message())
}

func TestSendInstantNotification(t *testing.T) {
	f := newFixture(t)

	res := f.run(t, tasks.SendInstantNotification, 1, "Task Created Successfully!", "Your task was created.")
	assert.Equal(t, "info", res["notification_type"])

	recs := f.notifications(domain.NotifyInfo)
	require.Len(t, recs, 1)
	assert.Nil(t, recs[0].TaskID)
	assert.Equal(t, "Task Created Successfully!", recs[0].Title)
	assert.Len(t, f.mail.SentTo("alice@example.com"), 1)

	f.run(t, tasks.SendInstantNotification, 1, "Heads up", "custom", "marketing")
	assert.Len(t, f.notifications("marketing"), 1)
}

func TestSendInstantNotification_EmailFailureLeavesNoRecord(t *testing.T) {
	f := newFixture(t)
	f.mail.FailFor["alice@example.com"] = true

	res := f.run(t, tasks.SendInstantNotification, 1, "t", "m")
	assert.Equal(t, dispatch.StatusError, res.Status())
	assert.Empty(t, f.store.AllNotifications())
}

func TestSendTaskCompletionNotification(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 2, Title: "write docs", Completed: true})

	res := f.run(t, tasks.SendTaskCompletionNotification, id)
	assert.Equal(t, "bob@example.com", res["user_email"])

	recs := f.notifications(domain.NotifyTaskCompleted)
	require.Len(t, recs, 1)
	assert.Equal(t, id, *recs[0].TaskID)
	assert.Equal(t, "Task Completed: write docs", recs[0].Title)
}

func TestSendDailyDigest(t *testing.T) {
	f := newFixture(t)
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "standup", DueDate: now.Add(3 * time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "taxes", DueDate: now.Add(-48 * time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "next week", DueDate: now.Add(7 * 24 * time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "done", DueDate: now, Completed: true})

	res := f.run(t, tasks.SendDailyDigest, 1)
	assert.Equal(t, 1, res["due_today"])
	assert.Equal(t, 1, res["overdue"])

	sent := f.mail.SentTo("alice@example.com")
	require.Len(t, sent, 1)
	assert.Equal(t, "Daily Task Digest - April 10, 2026", sent[0].Subject)
	assert.True(t, strings.Contains(sent[0].Body, "- standup"))
	assert.True(t, strings.Contains(sent[0].Body, "- taxes"))
	assert.Empty(t, f.store.AllNotifications())
}

func TestProcessBulkNotifications(t *testing.T) {
	f := newFixture(t)
	f.mail.FailFor["bob@example.com"] = true

	batch := []tasks.BulkItem{
		{UserID: 1, Title: "Maintenance", Message: "Tonight"},
		{UserID: 2, Title: "Maintenance", Message: "Tonight"},
		{UserID: 42, Title: "Maintenance", Message: "Tonight"},
	}
	res := f.run(t, tasks.ProcessBulkNotifications, batch)
	assert.Equal(t, 1, res["processed"])
	assert.Equal(t, 2, res["failed"])
	assert.Equal(t, 3, res["total"])
	assert.Len(t, f.notifications(domain.NotifyBulk), 1)
}

func TestProcessBulkNotifications_BadItemsDoNotUndoTheBatch(t *testing.T) {
	f := newFixture(t)
	taskID := f.store.AddTodo(domain.Todo{UserID: 1, Title: "invoice", DueDate: now.Add(-time.Hour)})
	f.store.AddNotification(domain.Notification{TaskID: &taskID, UserID: 1, NotifyType: domain.NotifyOverdue})
	missing := int64(999)

	batch := []tasks.BulkItem{
		{UserID: 1, Title: "Maintenance", Message: "Tonight"},
		{UserID: 2, Title: "Broken link", Message: "x", TaskID: &missing},
		{UserID: 1, Title: "Again", Message: "x", TaskID: &taskID, Type: string(domain.NotifyOverdue)},
		{UserID: 1, Title: "Wide", Message: "x", Type: strings.Repeat("t", 40)},
		{UserID: 2, Title: "Maintenance", Message: "Tonight"},
	}
	res := f.run(t, tasks.ProcessBulkNotifications, batch)
	assert.Equal(t, dispatch.StatusSuccess, res.Status())
	assert.Equal(t, 2, res["processed"])
	assert.Equal(t, 3, res["failed"])

	assert.Len(t, f.notifications(domain.NotifyBulk), 2)
	assert.Len(t, f.notifications(domain.NotifyOverdue), 1)
	assert.Len(t, f.mail.SentTo("alice@example.com"), 1)
	assert.Len(t, f.mail.SentTo("bob@example.com"), 1)
}
