package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/hibiken/asynq"

	"github.com/yourusername/paper-stream/internal/config"
	"github.com/yourusername/paper-stream/internal/pdf"
)

const (
	taskTypeLibrary = "library:process"
	queueLibrary    = "library"
)

// Manager はジョブの投入と状態管理を担います。
type Manager struct {
	cfg        *config.Config
	client     *asynq.Client
	server     *asynq.Server
	mux        *asynq.ServeMux
	store      *Store
	pdfService *pdf.Service
	logger     *log.Logger
}

// TaskPayload はライブラリ処理ジョブのペイロードです。
type TaskPayload struct {
	JobID      string            `json:"jobId"`
	DocumentID string            `json:"documentId"`
	Operation  pdf.OperationType `json:"operation"`
}

// NewManager は Manager を初期化します。
func NewManager(cfg *config.Config, pdfService *pdf.Service, store *Store, logger *log.Logger) (*Manager, error) {
	if cfg == nil {
		return nil, errors.New("config is nil")
	}
	if pdfService == nil {
		return nil, errors.New("pdfService is nil")
	}
	if store == nil {
		return nil, errors.New("store is nil")
	}
	opt, err := asynq.ParseRedisURI(cfg.QueueRedisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := asynq.NewClient(opt)
	server := asynq.NewServer(
		opt,
		asynq.Config{
			// リライトはqpdfのプロセス実行なので並列度は控えめにする
			Concurrency: 2,
			Queues: map[string]int{
				queueLibrary: 1,
			},
		},
	)

	mux := asynq.NewServeMux()
	manager := &Manager{
		cfg:        cfg,
		client:     client,
		server:     server,
		mux:        mux,
		store:      store,
		pdfService: pdfService,
		logger:     logger,
	}
	mux.HandleFunc(taskTypeLibrary, manager.handleLibraryTask)
	return manager, nil
}

// StartWorkers は Asynq サーバーをバックグラウンドで起動します。
func (m *Manager) StartWorkers() {
	go func() {
		if err := m.server.Run(m.mux); err != nil && err != asynq.ErrServerClosed {
			if m.logger != nil {
				m.logger.Printf("asynq server stopped with error: %v", err)
			} else {
				log.Printf("asynq server stopped with error: %v", err)
			}
		}
	}()
}

// Shutdown はサーバーとクライアントを閉じます。
func (m *Manager) Shutdown(ctx context.Context) error {
	m.server.Shutdown()
	m.client.Close()
	return nil
}

// Enqueue はジョブをキューに投入し、ジョブIDを返します。
func (m *Manager) Enqueue(ctx context.Context, payload *TaskPayload) (string, error) {
	if payload == nil {
		return "", fmt.Errorf("payload is nil")
	}
	if payload.DocumentID == "" {
		return "", fmt.Errorf("payload.DocumentID is required")
	}
	if payload.JobID == "" {
		payload.JobID = uuid.NewString()
	}

	record := &Record{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Operation:  string(payload.Operation),
		Status:     StatusQueued,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "queued",
		},
	}
	if err := m.store.Upsert(ctx, record); err != nil {
		return "", err
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", err
	}

	// リライト失敗は再試行可能な条件として扱うため、1回だけ再実行を許す
	task := asynq.NewTask(taskTypeLibrary, body, asynq.Queue(queueLibrary))
	if _, err := m.client.EnqueueContext(ctx, task, asynq.MaxRetry(1)); err != nil {
		return "", err
	}
	return payload.JobID, nil
}

// GetRecord はジョブ情報を取得します。
func (m *Manager) GetRecord(ctx context.Context, jobID string) (*Record, error) {
	return m.store.Get(ctx, jobID)
}

func (m *Manager) handleLibraryTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return err
	}
	if payload.JobID == "" || payload.DocumentID == "" {
		return fmt.Errorf("missing jobId or documentId in payload")
	}

	if err := m.store.Upsert(ctx, &Record{
		JobID:      payload.JobID,
		DocumentID: payload.DocumentID,
		Operation:  string(payload.Operation),
		Status:     StatusRunning,
		Progress: ProgressInfo{
			Percent: 0,
			Stage:   "scan",
		},
	}); err != nil {
		return err
	}

	report, err := m.pdfService.RunJob(ctx, payload.Operation, payload.DocumentID, func(stage string, percent int) {
		_ = m.store.UpdateProgress(ctx, payload.JobID, ProgressInfo{
			Stage:   stage,
			Percent: percent,
		})
	})
	if err != nil {
		m.failJobWithError(ctx, payload.JobID, err)
		// エラーを返して asynq の再試行に委ねる（リライト失敗は再試行可能）
		return err
	}
	return m.store.MarkDone(ctx, payload.JobID, report)
}

func (m *Manager) failJobWithError(ctx context.Context, jobID string, err error) {
	info := &ErrorInfo{Code: "INTERNAL_ERROR", Message: err.Error()}
	var apiErr *pdf.Error
	if errors.As(err, &apiErr) {
		info = &ErrorInfo{Code: apiErr.Code, Message: apiErr.Message}
	}
	if markErr := m.store.MarkFailed(ctx, jobID, info); markErr != nil && m.logger != nil {
		m.logger.Printf("failed to mark job failed job=%s: %v", jobID, markErr)
	}
}
