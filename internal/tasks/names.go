package tasks

// Task names. The prefix decides the queue through the routing table.
const (
	SendWelcomeEmail      = "tasks.user.send_welcome_email"
	CreateDefaultTasks    = "tasks.user.create_default_tasks"
	UpdateUserStats       = "tasks.user.update_user_stats"
	SyncToExternalService = "tasks.user.sync_to_external_service"

	ScheduleReminder      = "tasks.task.schedule_reminder"
	NotifyTeamMembers     = "tasks.task.notify_team_members"
	UpdateProjectProgress = "tasks.task.update_project_progress"
	GenerateTaskAnalytics = "tasks.task.generate_task_analytics"
	BackupTaskData        = "tasks.task.backup_task_data"

	SendInstantNotification        = "tasks.notification.send_instant_notification"
	SendTaskCompletionNotification = "tasks.notification.send_task_completion_notification"
	SendDailyDigest                = "tasks.notification.send_daily_digest"
	ProcessBulkNotifications       = "tasks.notification.process_bulk_notifications"
	SendDueSoonReminder            = "tasks.notification.send_due_soon_reminder"
	SendOverdueReminder            = "tasks.notification.send_overdue_reminder"
	ScheduledDueSoonCheck          = "tasks.notification.scheduled_due_soon_check"
	ScheduledOverdueCheck          = "tasks.notification.scheduled_overdue_check"
)

func UserTasks() []string {
	return []string{SendWelcomeEmail, CreateDefaultTasks, UpdateUserStats, SyncToExternalService}
}

func TodoTasks() []string {
	return []string{ScheduleReminder, NotifyTeamMembers, UpdateProjectProgress, GenerateTaskAnalytics, BackupTaskData}
}

func NotificationTasks() []string {
	return []string{
		SendInstantNotification, SendTaskCompletionNotification, SendDailyDigest,
		ProcessBulkNotifications, SendDueSoonReminder, SendOverdueReminder,
		ScheduledDueSoonCheck, ScheduledOverdueCheck,
	}
}

// All lists every task name a worker must be able to run.
func All() []string {
	out := append(UserTasks(), TodoTasks()...)
	return append(out, NotificationTasks()...)
}
