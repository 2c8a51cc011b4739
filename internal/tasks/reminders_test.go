package tasks_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/tasks"
)

func TestDueSoonReminder_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "dentist", DueDate: now.Add(30 * time.Minute)})

	first := f.run(t, tasks.SendDueSoonReminder, id)
	second := f.run(t, tasks.SendDueSoonReminder, id)

	assert.Equal(t, true, first["sent"])
	assert.Equal(t, false, second["sent"])
	assert.Equal(t, "already sent", second["reason"])
	assert.Len(t, f.notifications(domain.NotifyDueSoon), 1)
	assert.Len(t, f.mail.SentTo("alice@example.com"), 1)
}

func TestOverdueReminder_Idempotent(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 2, Title: "invoice", DueDate: now.Add(-time.Hour)})

	f.run(t, tasks.SendOverdueReminder, id)
	f.run(t, tasks.SendOverdueReminder, id)

	recs := f.notifications(domain.NotifyOverdue)
	require.Len(t, recs, 1)
	assert.Equal(t, "Overdue: 'invoice'", recs[0].Title)
	assert.Len(t, f.mail.SentTo("bob@example.com"), 1)
}

func TestDueSoonAndOverdueAreIndependent(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "x", DueDate: now.Add(-time.Minute)})

	f.run(t, tasks.SendDueSoonReminder, id)
	f.run(t, tasks.SendOverdueReminder, id)

	assert.Len(t, f.notifications(domain.NotifyDueSoon), 1)
	assert.Len(t, f.notifications(domain.NotifyOverdue), 1)
}

func TestReminder_CompletedTaskSkipped(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "x", DueDate: now.Add(-time.Hour), Completed: true})

	res := f.run(t, tasks.SendOverdueReminder, id)
	assert.Equal(t, "task completed", res["reason"])
	assert.Empty(t, f.mail.Sent())
}

func TestScheduledDueSoonCheck(t *testing.T) {
	f := newFixture(t)
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "in 30m", DueDate: now.Add(30 * time.Minute)})
	f.store.AddTodo(domain.Todo{UserID: 2, Title: "in 59m", DueDate: now.Add(59 * time.Minute)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "in 3h", DueDate: now.Add(3 * time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "past", DueDate: now.Add(-time.Minute)})
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "done", DueDate: now.Add(10 * time.Minute), Completed: true})

	res := f.run(t, tasks.ScheduledDueSoonCheck)
	assert.Equal(t, 2, res["notifications_sent"])

	res = f.run(t, tasks.ScheduledDueSoonCheck)
	assert.Equal(t, 0, res["notifications_sent"])
	assert.Len(t, f.notifications(domain.NotifyDueSoon), 2)
}

func TestScheduledOverdueCheck_RetriesAfterEmailFailure(t *testing.T) {
	f := newFixture(t)
	f.store.AddTodo(domain.Todo{UserID: 1, Title: "a", DueDate: now.Add(-time.Hour)})
	f.store.AddTodo(domain.Todo{UserID: 2, Title: "b", DueDate: now.Add(-2 * time.Hour)})
	f.mail.FailFor["bob@example.com"] = true

	res := f.run(t, tasks.ScheduledOverdueCheck)
	assert.Equal(t, 1, res["notifications_sent"])
	assert.Equal(t, 1, res["failed"])
	assert.Len(t, f.notifications(domain.NotifyOverdue), 1)

	delete(f.mail.FailFor, "bob@example.com")
	res = f.run(t, tasks.ScheduledOverdueCheck)
	assert.Equal(t, 1, res["notifications_sent"])
	assert.Equal(t, 1, res["skipped"])
	assert.Len(t, f.notifications(domain.NotifyOverdue), 2)
}

func TestReminder_ConcurrentDuplicateIsSkipped(t *testing.T) {
	f := newFixture(t)
	id := f.store.AddTodo(domain.Todo{UserID: 1, Title: "invoice", DueDate: now.Add(-time.Hour)})
	// Another worker records the same reminder between the existence check
	// and the insert.
	f.store.BeforeCreateNotification = func(*domain.Notification) {
		f.store.AddNotification(domain.Notification{TaskID: &id, UserID: 1, NotifyType: domain.NotifyOverdue})
	}

	res, err := f.dispatch(tasks.SendOverdueReminder, id)
	require.NoError(t, err)
	assert.Equal(t, false, res["sent"])
	assert.Equal(t, "already sent", res["reason"])
	assert.Len(t, f.notifications(domain.NotifyOverdue), 1)
	assert.Empty(t, f.mail.Sent())

	res = f.run(t, tasks.SendInstantNotification, 1, "still usable", "m")
	assert.Equal(t, dispatch.StatusSuccess, res.Status())
}
