package main

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"

	"github.com/yourusername/paper-stream/internal/config"
	"github.com/yourusername/paper-stream/internal/jobs"
	"github.com/yourusername/paper-stream/internal/pdf"
)

// jobsEnvironment は非同期ジョブ基盤の構成要素をまとめたものです。
type jobsEnvironment struct {
	store   *jobs.Store
	manager *jobs.Manager
}

// setupJobs は Redis への接続を確認し、Asynq ワーカーを起動します。
// 接続できない場合は nil を返し、最適化APIは同期実行にフォールバックします。
func setupJobs(cfg *config.Config, pdfService *pdf.Service, logger *log.Logger) *jobsEnvironment {
	opts, err := redis.ParseURL(cfg.QueueRedisURL)
	if err != nil {
		logger.Printf("ジョブキューを無効化します（Redis URLの解析に失敗）: %v", err)
		return nil
	}

	rdb := redis.NewClient(opts)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		logger.Printf("ジョブキューを無効化します（Redisに接続できません）: %v", err)
		_ = rdb.Close()
		return nil
	}

	store := jobs.NewStore(rdb, time.Duration(cfg.JobExpireMinutes)*time.Minute)
	manager, err := jobs.NewManager(cfg, pdfService, store, logger)
	if err != nil {
		logger.Printf("ジョブキューを無効化します（マネージャー初期化失敗）: %v", err)
		_ = rdb.Close()
		return nil
	}

	manager.StartWorkers()
	logger.Printf("job queue enabled redis=%s", cfg.QueueRedisURL)
	return &jobsEnvironment{store: store, manager: manager}
}

// scheduler は最適化ハンドラーに渡すジョブスケジューラを返します。
func (e *jobsEnvironment) scheduler() pdf.JobScheduler {
	return &libraryJobScheduler{manager: e.manager}
}

type libraryJobScheduler struct {
	manager *jobs.Manager
}

func (s *libraryJobScheduler) Schedule(ctx context.Context, op pdf.OperationType, documentID string) (string, error) {
	return s.manager.Enqueue(ctx, &jobs.TaskPayload{
		DocumentID: documentID,
		Operation:  op,
	})
}

// jobStatusHandler は GET /api/jobs/:id のハンドラーを返します。
func (e *jobsEnvironment) jobStatusHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		jobID := c.Param("id")
		record, err := e.store.Get(c.Request.Context(), jobID)
		if err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{
				"code":    "INTERNAL_ERROR",
				"message": "ジョブ情報の取得に失敗しました。",
			})
			return
		}
		if record == nil {
			c.JSON(http.StatusNotFound, gin.H{
				"code":    "JOB_NOT_FOUND",
				"message": "指定されたジョブは存在しないか、期限切れです。",
			})
			return
		}
		c.JSON(http.StatusOK, record)
	}
}
