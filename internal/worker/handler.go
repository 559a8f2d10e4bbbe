package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"novel-engine/internal/pipeline"
	"novel-engine/internal/repository"
	"novel-engine/shared/messaging"
	"novel-engine/shared/models"
)

// ErrInvalidPayload - задача не содержит данных, нужных для стадии.
var ErrInvalidPayload = errors.New("invalid stage task payload")

// Виды ошибок в уведомлении.
const (
	ErrorKindContract = "contract"
	ErrorKindInternal = "internal"
)

// StagePipeline - операции пайплайна, которые умеет запускать воркер.
type StagePipeline interface {
	StartStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error)
	CreateProtagonist(ctx context.Context, state *models.StoryState) (*models.StageResult, error)
	OpenFirstChapter(ctx context.Context, state *models.StoryState) (*models.StageResult, error)
	ApplyChoice(ctx context.Context, state *models.StoryState, in pipeline.ChoiceInput) (*models.StageResult, error)
	GenerateEnding(ctx context.Context, state *models.StoryState, endingType string) (*models.StageResult, error)
	AnalyzeChoice(ctx context.Context, state *models.StoryState, in pipeline.ChoiceInput) (*models.StageResult, error)
	SummarizeStory(ctx context.Context, state *models.StoryState) (*models.StageResult, error)
	RunStoryAnalysis(ctx context.Context, storyID string, theme models.Theme, history []models.ChapterSummary, protagonist *models.Protagonist, chapterNumber int) (*models.StageResult, error)
}

var _ StagePipeline = (*pipeline.Orchestrator)(nil)

// TaskHandler выполняет задачу стадии, сохраняет итог и отправляет уведомление.
type TaskHandler struct {
	pipeline   StagePipeline
	resultRepo repository.StageResultRepository
	notifier   Notifier
	logger     *zap.Logger
}

// NewTaskHandler создает обработчик задач.
func NewTaskHandler(p StagePipeline, resultRepo repository.StageResultRepository, notifier Notifier, logger *zap.Logger) *TaskHandler {
	return &TaskHandler{
		pipeline:   p,
		resultRepo: resultRepo,
		notifier:   notifier,
		logger:     logger.Named("TaskHandler"),
	}
}

// IsRejected сообщает, что задачу нельзя выполнить повторно: ошибка в самой задаче.
func IsRejected(err error) bool {
	return errors.Is(err, ErrInvalidPayload) || models.IsContractError(err)
}

// Handle выполняет одну задачу.
// Возвращает ошибку обработки (контракт или внутреннюю) либо ошибку сохранения/уведомления.
func (h *TaskHandler) Handle(ctx context.Context, payload messaging.StageTaskPayload) error {
	incTasksReceived()
	startedAt := time.Now().UTC()
	log := h.logger.With(
		zap.String("task_id", payload.TaskID),
		zap.String("story_id", payload.StoryID),
		zap.String("stage", string(payload.Stage)))
	log.Info("Processing stage task")

	state, result, processingErr := h.run(ctx, payload)
	completedAt := time.Now().UTC()
	observeTaskDuration(payload.Stage, completedAt.Sub(startedAt))

	if processingErr != nil {
		reason := "internal"
		if IsRejected(processingErr) {
			reason = "contract"
		} else if ctx.Err() != nil {
			reason = "cancelled"
		}
		incTaskFailed(reason)
		log.Warn("Stage task failed", zap.String("reason", reason), zap.Error(processingErr))
		// Прерванная остановкой задача вернется в очередь: ни записи, ни уведомления об ошибке.
		if reason == "cancelled" {
			return processingErr
		}
	}

	if err := h.saveAndNotify(payload, state, result, processingErr, startedAt, completedAt); err != nil {
		if processingErr != nil {
			return processingErr
		}
		return err
	}
	if processingErr != nil {
		return processingErr
	}
	incTaskSucceeded()
	log.Info("Stage task completed",
		zap.Bool("used_fallback", result.UsedFallback),
		zap.Duration("duration", completedAt.Sub(startedAt)))
	return nil
}

// run выбирает операцию пайплайна по стадии задачи.
// Для стадий, меняющих историю, возвращается новое состояние.
func (h *TaskHandler) run(ctx context.Context, payload messaging.StageTaskPayload) (*models.StoryState, *models.StageResult, error) {
	if payload.TaskID == "" || payload.StoryID == "" {
		return nil, nil, fmt.Errorf("%w: task id and story id are required", ErrInvalidPayload)
	}
	if !messaging.IsValidTaskStage(payload.Stage) {
		return nil, nil, fmt.Errorf("%w: unknown stage '%s'", ErrInvalidPayload, payload.Stage)
	}

	if payload.Stage == messaging.TaskStageWorldSetting && payload.State == nil {
		state, err := models.NewStoryState(payload.StoryID, payload.Theme)
		if err != nil {
			if errors.Is(err, models.ErrMissingStoryID) {
				return nil, nil, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
			}
			return nil, nil, err
		}
		res, err := h.pipeline.StartStory(ctx, state)
		return state, res, err
	}

	if payload.State == nil {
		return nil, nil, fmt.Errorf("%w: stage '%s' requires story state", ErrInvalidPayload, payload.Stage)
	}
	if payload.State.StoryID != payload.StoryID {
		return nil, nil, fmt.Errorf("%w: state belongs to story '%s'", ErrInvalidPayload, payload.State.StoryID)
	}
	state := payload.State.Clone()
	choice := pipeline.ChoiceInput{ChoiceID: payload.ChoiceID, CustomAction: payload.CustomAction}

	var (
		res *models.StageResult
		err error
	)
	switch payload.Stage {
	case messaging.TaskStageWorldSetting:
		res, err = h.pipeline.StartStory(ctx, state)
	case messaging.TaskStageProtagonist:
		res, err = h.pipeline.CreateProtagonist(ctx, state)
	case messaging.TaskStageFirstChapter:
		res, err = h.pipeline.OpenFirstChapter(ctx, state)
	case messaging.TaskStageApplyChoice:
		res, err = h.pipeline.ApplyChoice(ctx, state, choice)
	case messaging.TaskStageEnding:
		res, err = h.pipeline.GenerateEnding(ctx, state, payload.EndingType)
	case messaging.TaskStageChoiceAnalysis:
		res, err = h.pipeline.AnalyzeChoice(ctx, state, choice)
	case messaging.TaskStageStorySummary:
		res, err = h.pipeline.SummarizeStory(ctx, state)
	case messaging.TaskStageStoryAnalysis:
		res, err = h.pipeline.RunStoryAnalysis(ctx, state.StoryID, state.Theme, state.Chapters, state.Protagonist, state.CurrentChapter)
	}
	if err != nil {
		return nil, nil, err
	}
	return state, res, nil
}

// saveAndNotify сохраняет запись о стадии и отправляет уведомление.
// Ошибка сохранения не отменяет уведомление, а попадает в его детали.
func (h *TaskHandler) saveAndNotify(
	payload messaging.StageTaskPayload,
	state *models.StoryState,
	result *models.StageResult,
	processingErr error,
	startedAt, completedAt time.Time,
) error {
	// Итог уже получен: сохранение и уведомление не должны прерываться остановкой воркера.
	ctx := context.Background()
	log := h.logger.With(zap.String("task_id", payload.TaskID))

	errorDetails := ""
	if processingErr != nil {
		errorDetails = processingErr.Error()
	}

	var saveErr error
	record, err := models.NewStageRecord(payload.TaskID, payload.StoryID, result, startedAt, completedAt)
	if err != nil {
		saveErr = err
	} else {
		record.Error = errorDetails
		saveErr = h.resultRepo.Save(ctx, record)
	}
	if saveErr != nil {
		log.Error("Failed to save stage record", zap.Error(saveErr))
		incTaskFailed("save_error")
		if errorDetails == "" {
			errorDetails = fmt.Sprintf("failed to save stage result: %v", saveErr)
		} else {
			errorDetails = fmt.Sprintf("%s; failed to save stage result: %v", errorDetails, saveErr)
		}
	}

	notification := messaging.StageNotificationPayload{
		TaskID:  payload.TaskID,
		StoryID: payload.StoryID,
		Stage:   payload.Stage,
		Status:  messaging.NotificationStatusSuccess,
	}
	if processingErr == nil {
		notification.Result = result
		notification.State = state
		notification.UsedFallback = result != nil && result.UsedFallback
	}
	if processingErr != nil || saveErr != nil {
		notification.Status = messaging.NotificationStatusError
		notification.ErrorDetails = errorDetails
		notification.ErrorKind = ErrorKindInternal
		if IsRejected(processingErr) {
			notification.ErrorKind = ErrorKindContract
		}
	}

	if err := h.notifier.Notify(ctx, notification); err != nil {
		log.Error("Failed to send stage notification", zap.Error(err))
		incTaskFailed("notify_error")
		if saveErr != nil {
			return fmt.Errorf("failed to save stage result (%w) and send notification (%w)", saveErr, err)
		}
		return fmt.Errorf("failed to send notification: %w", err)
	}
	log.Debug("Stage notification sent", zap.String("status", string(notification.Status)))

	if saveErr != nil {
		return fmt.Errorf("failed to save stage result: %w", saveErr)
	}
	return nil
}
