package pdf

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/yourusername/paper-stream/internal/library"
)

const contentTypePDF = "application/pdf"

// FileService はドキュメントのバイト列を配信用に開けるサービスが実装します。
type FileService interface {
	OpenDocument(ctx context.Context, id string) (ReadOnlyFile, error)
}

// StructureService は構造解析と最適化判定を提供します。
type StructureService interface {
	AnalyzeDocument(ctx context.Context, id string) (*Report, error)
}

// ImportService はアップロードされたPDFのライブラリ取り込みを提供します。
type ImportService interface {
	ImportDocument(ctx context.Context, file *multipart.FileHeader) (*library.Document, error)
}

// OptimizeService は同期実行用の線形化処理を提供します。
type OptimizeService interface {
	StructureService
	LinearizeDocument(ctx context.Context, id string, reporter ProgressReporter) (*Report, error)
}

// BatchService はライブラリ全体の一括解析を提供します。
type BatchService interface {
	AnalyzeLibrary(ctx context.Context) ([]Report, error)
}

// JobScheduler は非同期キューへの投入を提供します。戻り値はジョブIDです。
type JobScheduler interface {
	Schedule(ctx context.Context, op OperationType, documentID string) (string, error)
}

// FileHandler は GET/HEAD /api/library/documents/:id/file のハンドラーを返します。
// Range ヘッダー付きGETには部分応答（206）を返し、PDFビューアが
// 必要なページ分のバイトだけを取得できるようにします。
func FileHandler(svc FileService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ドキュメントIDを指定してください。",
			})
			return
		}

		file, err := svc.OpenDocument(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		defer file.Close()

		serveRange(c, file)
	}
}

// serveRange はオープン済みドキュメントに対する1回のHTTP交換を処理します。
// 読み取りは公開済みスナップショットのディスクリプタに対して行われるため、
// 並行リライトが起きても応答途中で内容が切り替わることはありません。
func serveRange(c *gin.Context, file ReadOnlyFile) {
	size := file.Size()
	c.Header("Accept-Ranges", "bytes")

	if c.Request.Method == http.MethodHead {
		c.Header("Content-Type", contentTypePDF)
		c.Header("Content-Length", strconv.FormatInt(size, 10))
		c.Status(http.StatusOK)
		return
	}

	r, outcome := parseRangeHeader(c.GetHeader("Range"), size)
	switch outcome {
	case rangeUnsatisfiable:
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.Status(http.StatusRequestedRangeNotSatisfiable)
	case rangePartial:
		length := r.Length()
		c.Header("Content-Range", fmt.Sprintf("bytes %d-%d/%d", r.Start, r.End, size))
		c.DataFromReader(http.StatusPartialContent, length, contentTypePDF,
			io.NewSectionReader(file, r.Start, length), nil)
	default:
		c.DataFromReader(http.StatusOK, size, contentTypePDF,
			io.NewSectionReader(file, 0, size), nil)
	}
}

// StructureHandler は GET /api/library/documents/:id/structure のハンドラーを返します。
func StructureHandler(svc StructureService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ドキュメントIDを指定してください。",
			})
			return
		}

		report, err := svc.AnalyzeDocument(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, report)
	}
}

// ImportHandler は POST /api/library/documents のハンドラーを返します。
func ImportHandler(svc ImportService) gin.HandlerFunc {
	return func(c *gin.Context) {
		form, err := c.MultipartForm()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "multipart/form-data でPDFファイルを送信してください。",
			})
			return
		}
		defer form.RemoveAll()

		file, err := extractSingleFile(form)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": err.Error(),
			})
			return
		}

		doc, err := svc.ImportDocument(c.Request.Context(), file)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusCreated, doc)
	}
}

// OptimizeHandler は POST /api/library/documents/:id/optimize のハンドラーを返します。
// スケジューラがあれば非同期ジョブとして投入し、なければ同期実行します。
func OptimizeHandler(svc OptimizeService, scheduler JobScheduler) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := strings.TrimSpace(c.Param("id"))
		if id == "" {
			c.JSON(http.StatusBadRequest, gin.H{
				"code":    "INVALID_INPUT",
				"message": "ドキュメントIDを指定してください。",
			})
			return
		}

		report, err := svc.AnalyzeDocument(c.Request.Context(), id)
		if err != nil {
			respondWithError(c, err)
			return
		}
		if !report.Decision.ShouldOptimize {
			c.JSON(http.StatusOK, gin.H{"queued": false, "report": report})
			return
		}

		if scheduler != nil {
			jobID, err := scheduler.Schedule(c.Request.Context(), OperationLinearize, id)
			if err != nil {
				respondWithError(c, err)
				return
			}
			c.JSON(http.StatusAccepted, gin.H{"jobId": jobID})
			return
		}

		result, err := svc.LinearizeDocument(c.Request.Context(), id, nil)
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"queued": false, "report": result})
	}
}

// AnalysisHandler は GET /api/library/analysis のハンドラーを返します。
// ライブラリ内の全ドキュメントについて構造スナップショットと判定を返します。
func AnalysisHandler(svc BatchService) gin.HandlerFunc {
	return func(c *gin.Context) {
		reports, err := svc.AnalyzeLibrary(c.Request.Context())
		if err != nil {
			respondWithError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"documents": reports})
	}
}

func respondWithError(c *gin.Context, err error) {
	var apiErr *Error
	switch {
	case errors.As(err, &apiErr):
		status := http.StatusBadRequest
		switch apiErr.Code {
		case "LIMIT_EXCEEDED":
			status = http.StatusRequestEntityTooLarge
		case CodeRewriteToolFailed, CodeRewriteVerificationFailed:
			status = http.StatusBadGateway
		}
		c.JSON(status, gin.H{
			"code":    apiErr.Code,
			"message": apiErr.Message,
		})
	case errors.Is(err, fs.ErrNotExist):
		c.JSON(http.StatusNotFound, gin.H{
			"code":    "DOCUMENT_NOT_FOUND",
			"message": "指定されたドキュメントは存在しません。",
		})
	case errors.Is(err, context.Canceled):
		c.JSON(http.StatusRequestTimeout, gin.H{
			"code":    "REQUEST_CANCELED",
			"message": "リクエストがキャンセルされました。",
		})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{
			"code":    "INTERNAL_ERROR",
			"message": "サーバー内部でエラーが発生しました。",
		})
	}
}

func extractSingleFile(form *multipart.Form) (*multipart.FileHeader, error) {
	if form == nil {
		return nil, errors.New("PDFファイルを選択してください。")
	}
	if file := form.File["file"]; len(file) > 0 {
		return file[0], nil
	}
	if file := form.File["file[]"]; len(file) > 0 {
		return file[0], nil
	}
	if files := form.File["files"]; len(files) > 0 {
		return files[0], nil
	}
	if alt := form.File["files[]"]; len(alt) > 0 {
		return alt[0], nil
	}
	return nil, errors.New("PDFファイルを選択してください。")
}
