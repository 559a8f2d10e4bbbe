package worker

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"

	"novel-engine/shared/messaging"
)

const jobName = "story_stage_worker"

var (
	tasksReceived = promauto.NewCounter(prometheus.CounterOpts{
		Name: "story_worker_tasks_received_total",
		Help: "Total number of stage tasks received by the worker.",
	})
	tasksFailed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "story_worker_tasks_failed_total",
		Help: "Total number of failed stage tasks, partitioned by failure reason.",
	}, []string{"reason"})
	tasksSucceeded = promauto.NewCounter(prometheus.CounterOpts{
		Name: "story_worker_tasks_succeeded_total",
		Help: "Total number of successfully processed stage tasks.",
	})
	taskDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "story_worker_task_duration_seconds",
		Help:    "Stage task processing duration.",
		Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
	}, []string{"stage"})
)

func incTasksReceived()           { tasksReceived.Inc() }
func incTaskFailed(reason string) { tasksFailed.WithLabelValues(reason).Inc() }
func incTaskSucceeded()           { tasksSucceeded.Inc() }

func observeTaskDuration(stage messaging.TaskStage, d time.Duration) {
	taskDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
}

// MetricsPusher периодически отправляет метрики процесса в Pushgateway.
// Пушит весь стандартный реестр: метрики провайдера, памяти и пайплайна тоже.
type MetricsPusher struct {
	pusher     *push.Pusher
	instanceID string
	logger     *zap.Logger
}

// NewMetricsPusher создает pusher и проверяет соединение первой отправкой.
func NewMetricsPusher(pushgatewayURL string, logger *zap.Logger) (*MetricsPusher, error) {
	logger = logger.Named("MetricsPusher")
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
		logger.Warn("Could not get hostname", zap.Error(err))
	}
	instanceID := fmt.Sprintf("%s-%d", hostname, os.Getpid())

	p := &MetricsPusher{
		pusher:     push.New(pushgatewayURL, jobName).Gatherer(prometheus.DefaultGatherer).Grouping("instance", instanceID),
		instanceID: instanceID,
		logger:     logger,
	}
	if err := p.pusher.Push(); err != nil {
		return nil, fmt.Errorf("could not push initial metrics to Pushgateway: %w", err)
	}
	logger.Info("Pushgateway pusher initialized",
		zap.String("job", jobName),
		zap.String("instance", instanceID),
		zap.String("url", pushgatewayURL))
	return p, nil
}

// Run отправляет метрики с интервалом до отмены ctx.
func (p *MetricsPusher) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.pusher.PushContext(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("Failed to push metrics", zap.Error(err))
			}
		}
	}
}

// Cleanup удаляет метрики инстанса из Pushgateway.
func (p *MetricsPusher) Cleanup() {
	if err := p.pusher.Delete(); err != nil {
		p.logger.Warn("Failed to delete metrics from Pushgateway", zap.Error(err))
		return
	}
	p.logger.Info("Metrics deleted from Pushgateway", zap.String("instance", p.instanceID))
}
