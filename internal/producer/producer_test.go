package producer_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricirt/taskdispatch/internal/broker"
	"github.com/ricirt/taskdispatch/internal/dispatch"
	"github.com/ricirt/taskdispatch/internal/domain"
	"github.com/ricirt/taskdispatch/internal/producer"
	"github.com/ricirt/taskdispatch/internal/tasks"
)

var now = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

type call struct {
	name string
	args []any
}

// recorder captures enqueues; names in fail are rejected.
type recorder struct {
	calls []call
	fail  map[string]bool
}

func (r *recorder) Enqueue(_ context.Context, name string, args ...any) (string, error) {
	if r.fail[name] {
		return "", fmt.Errorf("%w: broker down", dispatch.ErrEnqueue)
	}
	r.calls = append(r.calls, call{name, args})
	return fmt.Sprintf("id-%d", len(r.calls)), nil
}

func (r *recorder) names() []string {
	out := make([]string, len(r.calls))
	for i, c := range r.calls {
		out[i] = c.name
	}
	return out
}

func newProducer(r *recorder) *producer.Producer {
	return producer.New(r, zap.NewNop(), producer.WithClock(func() time.Time { return now }))
}

func TestUserRegistered(t *testing.T) {
	r := &recorder{}
	n := newProducer(r).UserRegistered(context.Background(), 7, "alice")

	assert.Equal(t, 4, n)
	assert.Equal(t, []string{
		tasks.SendWelcomeEmail,
		tasks.CreateDefaultTasks,
		tasks.SyncToExternalService,
		tasks.GenerateTaskAnalytics,
	}, r.names())
	assert.Equal(t, []any{int64(7), "user_registered", map[string]any{"username": "alice"}}, r.calls[2].args)
}

func TestTaskCreated_DueSoonHighPriority(t *testing.T) {
	r := &recorder{}
	e := domain.TodoEvent{TaskID: 3, UserID: 7, Title: "ship", DueDate: now.Add(24 * time.Hour), Priority: domain.PriorityHigh}

	n := newProducer(r).TaskCreated(context.Background(), e)

	assert.Equal(t, 6, n)
	assert.Equal(t, []string{
		tasks.ScheduleReminder,
		tasks.NotifyTeamMembers,
		tasks.BackupTaskData,
		tasks.UpdateUserStats,
		tasks.SyncToExternalService,
		tasks.SendInstantNotification,
	}, r.names())
	assert.Equal(t, []any{int64(3), "2026-05-02T10:00:00Z"}, r.calls[0].args)
	assert.Equal(t, "Your task 'ship' has been created and is due on May 02, 2026.", r.calls[5].args[2])
}

func TestTaskCreated_FarDueNormalPriority(t *testing.T) {
	r := &recorder{}
	e := domain.TodoEvent{TaskID: 3, UserID: 7, Title: "later", DueDate: now.Add(10 * 24 * time.Hour)}

	n := newProducer(r).TaskCreated(context.Background(), e)

	assert.Equal(t, 4, n)
	assert.NotContains(t, r.names(), tasks.ScheduleReminder)
	assert.NotContains(t, r.names(), tasks.NotifyTeamMembers)
	sync := r.calls[2]
	require.Equal(t, tasks.SyncToExternalService, sync.name)
	assert.Equal(t, "normal", sync.args[2].(map[string]any)["priority"])
}

func TestTaskUpdated(t *testing.T) {
	e := domain.TodoEvent{TaskID: 3, UserID: 7, Title: "ship"}

	r := &recorder{}
	assert.Equal(t, 6, newProducer(r).TaskUpdated(context.Background(), e, true))
	assert.Equal(t, tasks.SendTaskCompletionNotification, r.names()[0])
	assert.Equal(t, tasks.BackupTaskData, r.names()[5])

	r = &recorder{}
	assert.Equal(t, 1, newProducer(r).TaskUpdated(context.Background(), e, false))
	assert.Equal(t, []string{tasks.BackupTaskData}, r.names())
}

func TestTriggers(t *testing.T) {
	r := &recorder{}
	p := newProducer(r)
	assert.Equal(t, 1, p.TriggerDueSoonCheck(context.Background()))
	assert.Equal(t, 1, p.TriggerOverdueCheck(context.Background()))
	assert.Equal(t, 1, p.TestNotification(context.Background(), 9))
	assert.Equal(t, []string{tasks.ScheduledDueSoonCheck, tasks.ScheduledOverdueCheck, tasks.SendInstantNotification}, r.names())
	assert.Equal(t, int64(9), r.calls[2].args[0])
}

func TestEnqueueErrorsAreLoggedAndSwallowed(t *testing.T) {
	core, logs := observer.New(zapcore.ErrorLevel)
	r := &recorder{fail: map[string]bool{tasks.CreateDefaultTasks: true}}
	p := producer.New(r, zap.New(core))

	n := p.UserRegistered(context.Background(), 7, "alice")

	assert.Equal(t, 3, n)
	entries := logs.FilterMessage("enqueue failed, side effect dropped").All()
	require.Len(t, entries, 1)
	assert.Equal(t, tasks.CreateDefaultTasks, entries[0].ContextMap()["task_name"])
	assert.Equal(t, int64(7), entries[0].ContextMap()["user_id"])
}

func TestTaskCreated_RoutesThroughClient(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(0)
	client, err := dispatch.Connect(ctx, b, dispatch.DefaultRoutes())
	require.NoError(t, err)

	e := domain.TodoEvent{TaskID: 3, UserID: 7, Title: "ship", DueDate: now.Add(time.Hour), Priority: domain.PriorityHigh}
	n := producer.New(client, zap.NewNop(), producer.WithClock(func() time.Time { return now })).TaskCreated(ctx, e)
	require.Equal(t, 6, n)

	depth := map[string]int64{}
	for _, q := range client.Router().Queues() {
		s, err := b.Stats(ctx, q)
		require.NoError(t, err)
		depth[q] = s.Ready
	}
	assert.Equal(t, int64(3), depth["task_queue"])
	assert.Equal(t, int64(2), depth["user_queue"])
	assert.Equal(t, int64(1), depth["notification_queue"])

	d, err := b.Receive(ctx, "reader", []string{"task_queue"})
	require.NoError(t, err)
	assert.Equal(t, tasks.ScheduleReminder, d.Message.TaskName)
	var at string
	require.NoError(t, json.Unmarshal(d.Message.Args[1], &at))
	assert.Equal(t, "2026-05-01T11:00:00Z", at)
}

func TestClosedBrokerDropsEverything(t *testing.T) {
	ctx := context.Background()
	b := broker.NewMemory(0)
	client, err := dispatch.Connect(ctx, b, dispatch.DefaultRoutes())
	require.NoError(t, err)
	require.NoError(t, b.Close())

	n := producer.New(client, zap.NewNop()).TriggerOverdueCheck(ctx)
	assert.Zero(t, n)

	_, err = client.Enqueue(ctx, tasks.ScheduledOverdueCheck)
	assert.True(t, errors.Is(err, dispatch.ErrEnqueue))
}

func TestBulkNotifications(t *testing.T) {
	r := &recorder{}
	items := []domain.BulkNotification{{UserID: 1, Title: "a"}, {UserID: 2, Title: "b"}}

	assert.Equal(t, 1, newProducer(r).BulkNotifications(context.Background(), items))
	require.Len(t, r.calls, 1)
	assert.Equal(t, tasks.ProcessBulkNotifications, r.calls[0].name)
	assert.Equal(t, items, r.calls[0].args[0])
}
