package messaging

import (
	"novel-engine/shared/models"
)

// TaskStage - операция пайплайна, которую запрашивает задача.
type TaskStage string

const (
	TaskStageWorldSetting   TaskStage = "world_setting"
	TaskStageProtagonist    TaskStage = "protagonist"
	TaskStageFirstChapter   TaskStage = "first_chapter"
	TaskStageApplyChoice    TaskStage = "apply_choice"
	TaskStageStoryAnalysis  TaskStage = "story_analysis"
	TaskStageChoiceAnalysis TaskStage = "choice_analysis"
	TaskStageStorySummary   TaskStage = "story_summary"
	TaskStageEnding         TaskStage = "ending"
)

// IsValidTaskStage проверяет, известна ли стадия.
func IsValidTaskStage(s TaskStage) bool {
	switch s {
	case TaskStageWorldSetting, TaskStageProtagonist, TaskStageFirstChapter, TaskStageApplyChoice,
		TaskStageStoryAnalysis, TaskStageChoiceAnalysis, TaskStageStorySummary, TaskStageEnding:
		return true
	default:
		return false
	}
}

// StageTaskPayload - сообщение с задачей на выполнение стадии.
// Состояние истории передается целиком: воркер не хранит его между задачами.
type StageTaskPayload struct {
	TaskID       string             `json:"task_id"`
	StoryID      string             `json:"story_id"`
	Stage        TaskStage          `json:"stage"`
	Theme        models.Theme       `json:"theme,omitempty"`
	State        *models.StoryState `json:"state,omitempty"`
	ChoiceID     string             `json:"choice_id,omitempty"`
	CustomAction string             `json:"custom_action,omitempty"`
	EndingType   string             `json:"ending_type,omitempty"`
}

// StageNotificationPayload - результат выполнения задачи.
type StageNotificationPayload struct {
	TaskID       string              `json:"task_id"`
	StoryID      string              `json:"story_id"`
	Stage        TaskStage           `json:"stage"`
	Status       NotificationStatus  `json:"status"`
	UsedFallback bool                `json:"used_fallback"`
	Result       *models.StageResult `json:"result,omitempty"`
	State        *models.StoryState  `json:"state,omitempty"`
	ErrorKind    string              `json:"error_kind,omitempty"` // contract или internal
	ErrorDetails string              `json:"error_details,omitempty"`
}
