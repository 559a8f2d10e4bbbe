package messaging

// Очереди воркера стадий
const (
	StageTaskQueueName         = "story_stage_tasks"
	StageNotificationQueueName = "story_stage_notifications"
	StageTaskDLXName           = "story_stage_tasks_dlx"
	StageTaskDLQName           = "story_stage_tasks_dlq"
	StageTaskDLQRoutingKey     = "dlq"
)

// NotificationStatus - статус завершения задачи
type NotificationStatus string

const (
	NotificationStatusSuccess NotificationStatus = "success"
	NotificationStatusError   NotificationStatus = "error"
)
