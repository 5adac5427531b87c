package task

import (
	"context"
	"fmt"
	"time"

	"github.com/nao1215/taskplatform/pkg/httpclient"
	"github.com/nao1215/taskplatform/pkg/metrics"
	"go.uber.org/zap"
)

// Notifier は担当者への通知を送る。
type Notifier interface {
	Notify(ctx context.Context, t *Task) error
}

// notifyRequest は通知サービスのPOST /notifyに送るJSON構造。
type notifyRequest struct {
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
	TaskID  int64  `json:"task_id"`
}

// notifyResponse は通知サービスの作成レスポンス。
type notifyResponse struct {
	ID int64 `json:"id"`
}

// HTTPNotifier は通知サービスへHTTPで通知を送るNotifier。
type HTTPNotifier struct {
	client  *httpclient.Client
	metrics *metrics.Metrics
}

// NewHTTPNotifier は通知サービスのベースURLとタイムアウトからHTTPNotifierを生成する。
// mがnilの場合はメトリクスを記録しない。
func NewHTTPNotifier(baseURL string, timeout time.Duration, m *metrics.Metrics) *HTTPNotifier {
	return &HTTPNotifier{
		client:  httpclient.New(baseURL, timeout),
		metrics: m,
	}
}

// Notify はタスクの担当者宛てに割り当て通知を作成する。
func (n *HTTPNotifier) Notify(ctx context.Context, t *Task) error {
	start := time.Now()
	var resp notifyResponse
	err := n.client.PostJSON(ctx, "/notify", notifyRequest{
		UserID:  t.AssignedTo,
		Message: assignmentMessage(t.Title),
		TaskID:  t.ID,
	}, &resp)

	if n.metrics != nil {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeUnavailable
		}
		n.metrics.ObserveBackend("notification", outcome, time.Since(start))
	}
	if err != nil {
		return fmt.Errorf("通知の送信に失敗: %w", err)
	}
	return nil
}

// assignmentMessage は担当者に送る通知文を返す。
func assignmentMessage(title string) string {
	return "Nueva tarea asignada: " + title
}

// notifyAssignee は通知を送り、失敗した場合はログに残すだけにする。
func notifyAssignee(ctx context.Context, notifier Notifier, logger *zap.Logger, t *Task) {
	if err := notifier.Notify(ctx, t); err != nil {
		logger.Warn("担当者への通知に失敗しました",
			zap.Int64("task_id", t.ID),
			zap.Int64("assigned_to", t.AssignedTo),
			zap.Error(err),
		)
		return
	}
	logger.Info("担当者へ通知しました", zap.Int64("task_id", t.ID), zap.Int64("assigned_to", t.AssignedTo))
}
