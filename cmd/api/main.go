// PDFライブラリ配信APIサーバーのエントリーポイント。
// 取り込み済みPDFの構造解析・線形化リライト・Range配信を提供します。
package main

import (
	"log"
	"net/http"
	"os"
	"strings"

	"github.com/gin-contrib/cors"
	"github.com/gin-contrib/sessions"
	"github.com/gin-contrib/sessions/cookie"
	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-stream/internal/auth"
	"github.com/yourusername/paper-stream/internal/config"
	"github.com/yourusername/paper-stream/internal/library"
	"github.com/yourusername/paper-stream/internal/pdf"
)

func main() {
	logger := log.New(os.Stdout, "[paper-stream] ", log.LstdFlags)

	// 設定を読み込む
	cfg, err := config.Load()
	if err != nil {
		logger.Fatalf("設定の読み込みに失敗しました: %v", err)
	}

	// Ginのモードを設定
	gin.SetMode(cfg.GinMode)

	// ライブラリストアとサービスを初期化
	store, err := library.NewStore(cfg.LibraryDir)
	if err != nil {
		logger.Fatalf("ライブラリディレクトリの初期化に失敗しました: %v", err)
	}
	pdfService := pdf.NewService(cfg, store, logger)

	// 非同期ジョブ基盤（Redisに接続できない構成では同期実行にフォールバック）
	jobsEnv := setupJobs(cfg, pdfService, logger)

	router := gin.Default()

	// セッションストア（クッキー）を設定
	sessionStore := cookie.NewStore([]byte(cfg.SessionSecret))
	sessionStore.Options(sessions.Options{
		Path:     "/",
		MaxAge:   auth.SessionMaxAgeSeconds(),
		HttpOnly: true,
		Secure:   cfg.GinMode == "release",
		SameSite: http.SameSiteStrictMode,
	})
	router.Use(sessions.Sessions(auth.SessionCookieName, sessionStore))

	// CORSミドルウェアを設定
	router.Use(cors.New(cors.Config{
		AllowOrigins:     splitOrigins(cfg.CORSAllowedOrigins),
		AllowMethods:     []string{"GET", "HEAD", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Range", "X-CSRF-Token"},
		ExposeHeaders:    []string{"Content-Length", "Content-Range", "Accept-Ranges", "X-CSRF-Token"},
		AllowCredentials: true,
	}))

	setupRoutes(router, cfg, pdfService, jobsEnv)

	logger.Printf("starting server on :%s (mode=%s)", cfg.Port, cfg.GinMode)
	if err := router.Run(":" + cfg.Port); err != nil {
		logger.Fatalf("サーバーの起動に失敗しました: %v", err)
	}
}

// setupRoutes はAPIのルーティングを構成します。
func setupRoutes(router *gin.Engine, cfg *config.Config, svc *pdf.Service, jobsEnv *jobsEnvironment) {
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	authManager := auth.NewManager(cfg)
	router.POST("/auth/login", authManager.Login)
	router.POST("/auth/logout", authManager.Logout)

	api := router.Group("/api")
	api.Use(authManager.RequireLogin(), authManager.VerifyCSRF())
	{
		var scheduler pdf.JobScheduler
		if jobsEnv != nil {
			scheduler = jobsEnv.scheduler()
		}

		docs := api.Group("/library/documents")
		{
			docs.POST("", pdf.ImportHandler(svc))
			docs.GET("/:id/file", pdf.FileHandler(svc))
			docs.HEAD("/:id/file", pdf.FileHandler(svc))
			docs.GET("/:id/structure", pdf.StructureHandler(svc))
			docs.POST("/:id/optimize", pdf.OptimizeHandler(svc, scheduler))
		}

		api.GET("/library/analysis", pdf.AnalysisHandler(svc))

		if jobsEnv != nil {
			api.GET("/jobs/:id", jobsEnv.jobStatusHandler())
		}
	}
}

func splitOrigins(raw string) []string {
	parts := strings.Split(raw, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			origins = append(origins, v)
		}
	}
	return origins
}
