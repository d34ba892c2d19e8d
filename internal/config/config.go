// Package config は環境変数から設定を読み込み、アプリケーション全体で使用する設定を提供します。
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"

	"github.com/joho/godotenv"
)

// Config はアプリケーションの設定を保持する構造体です。
type Config struct {
	// アプリケーション設定
	AppUsername     string // ログイン用ユーザー名
	AppPasswordHash string // bcryptでハッシュ化されたパスワード
	SessionSecret   string // セッション署名用の秘密鍵

	// サーバー設定
	Port    string // APIサーバーのポート番号
	GinMode string // Ginの実行モード (debug, release, test)

	// CORS設定
	CORSAllowedOrigins string // CORS許可オリジン（カンマ区切り）

	// ライブラリ設定
	LibraryDir  string // PDFライブラリの保存先ディレクトリ
	MaxFileSize int64  // 取り込み可能な単一ファイルの最大サイズ（バイト）

	// 構造解析設定
	HeadWindowBytes int64 // 先頭ウィンドウの読み取りサイズ
	TailWindowBytes int64 // 末尾ウィンドウの読み取りサイズ
	XrefMaxHops     int   // xref Prevチェーンをたどる最大ホップ数

	// 最適化ポリシー設定
	SmallFileThreshold int64 // これ未満のファイルは最適化しない
	LargeFileThreshold int64 // これ以上の非線形化ファイルを最適化対象とする
	RewriteEnabled     bool  // 外部ツールによるリライトを許可するか

	// リライトツール設定
	QpdfPath           string // qpdf実行ファイルのパス
	QpdfTimeoutSeconds int    // qpdf実行のタイムアウト（秒）

	// ジョブ/キュー設定
	QueueRedisURL    string // Asynq用Redis接続URL
	JobExpireMinutes int    // ジョブの有効期限（分）
}

// Load は環境変数から設定を読み込みます。
// .env.local ファイルが存在する場合はそこから読み込みます。
func Load() (*Config, error) {
	// .env.local ファイルを読み込む（存在しない場合はスキップ）
	loadEnvFile()

	config := &Config{
		// アプリケーション設定
		AppUsername:     getEnv("APP_USERNAME", ""),
		AppPasswordHash: getEnv("APP_PASSWORD_HASH", ""),
		SessionSecret:   getEnv("SESSION_SECRET", ""),

		// サーバー設定
		Port:    getEnv("PORT", "8080"),
		GinMode: getEnv("GIN_MODE", "debug"),

		// CORS設定
		CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:5173"),

		// ライブラリ設定
		LibraryDir:  getEnv("LIBRARY_DIR", "./library"),
		MaxFileSize: getEnvAsInt64("MAX_FILE_SIZE", 209715200), // 200MB

		// 構造解析設定
		HeadWindowBytes: getEnvAsInt64("HEAD_WINDOW_BYTES", 32*1024),
		TailWindowBytes: getEnvAsInt64("TAIL_WINDOW_BYTES", 16*1024),
		XrefMaxHops:     getEnvAsInt("XREF_MAX_HOPS", 64),

		// 最適化ポリシー設定
		SmallFileThreshold: getEnvAsInt64("SMALL_FILE_THRESHOLD", 1*1024*1024),  // 1MB
		LargeFileThreshold: getEnvAsInt64("LARGE_FILE_THRESHOLD", 10*1024*1024), // 10MB
		RewriteEnabled:     getEnvAsBool("REWRITE_ENABLED", true),

		// リライトツール設定
		QpdfPath:           getEnv("QPDF_PATH", "qpdf"),
		QpdfTimeoutSeconds: getEnvAsInt("QPDF_TIMEOUT_SECONDS", 300),

		// ジョブ/キュー設定
		QueueRedisURL:    getEnv("QUEUE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		JobExpireMinutes: getEnvAsInt("JOB_EXPIRE_MINUTES", 10),
	}

	// 必須設定のバリデーション
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func loadEnvFile() {
	if err := godotenv.Load(".env.local"); err == nil {
		return
	}

	cwd, err := os.Getwd()
	if err != nil {
		return
	}

	parent := filepath.Dir(cwd)
	if parent == "" || parent == cwd {
		return
	}

	_ = godotenv.Load(filepath.Join(parent, ".env.local"))
}

// Validate は設定の妥当性を検証します。
func (c *Config) Validate() error {
	// ローカル開発では認証設定は任意
	// 本番環境では厳格にチェックする想定
	if c.GinMode == "release" {
		if c.AppUsername == "" {
			return fmt.Errorf("APP_USERNAME is required in release mode")
		}
		if c.AppPasswordHash == "" {
			return fmt.Errorf("APP_PASSWORD_HASH is required in release mode")
		}
		if c.SessionSecret == "" {
			return fmt.Errorf("SESSION_SECRET is required in release mode")
		}
		if c.QueueRedisURL == "" {
			return fmt.Errorf("QUEUE_REDIS_URL is required in release mode")
		}
	}

	if c.LibraryDir == "" {
		return fmt.Errorf("LIBRARY_DIR must not be empty")
	}
	if c.HeadWindowBytes <= 0 || c.TailWindowBytes <= 0 {
		return fmt.Errorf("scan window sizes must be positive")
	}
	if c.SmallFileThreshold > c.LargeFileThreshold {
		return fmt.Errorf("SMALL_FILE_THRESHOLD must not exceed LARGE_FILE_THRESHOLD")
	}

	return nil
}

// getEnv は環境変数を取得し、存在しない場合はデフォルト値を返します。
func getEnv(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt は環境変数を整数として取得します。
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsInt64 は環境変数を64ビット整数として取得します。
func getEnvAsInt64(key string, defaultValue int64) int64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseInt(valueStr, 10, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsBool は環境変数を真偽値として取得します。
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
