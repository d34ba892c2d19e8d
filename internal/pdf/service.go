package pdf

import (
	"context"
	"errors"
	"fmt"
	"log"
	"mime/multipart"
	"time"

	"github.com/yourusername/paper-stream/internal/config"
	"github.com/yourusername/paper-stream/internal/library"
)

// OperationType はライブラリ処理の種別を表します。
type OperationType string

const (
	OperationAnalyze   OperationType = "analyze"
	OperationLinearize OperationType = "linearize"
)

// Report は1ドキュメント分の解析結果です。
type Report struct {
	DocumentID string        `json:"documentId"`
	Structure  StructureInfo `json:"structure"`
	Decision   Decision      `json:"decision"`
	Rewritten  bool          `json:"rewritten,omitempty"`
}

// Service は構造解析・判定・リライト・配信オープンをまとめたサービスです。
type Service struct {
	cfg        *config.Config
	store      *library.Store
	linearizer *Linearizer
	logger     *log.Logger
}

// NewService は Service を作成します。
func NewService(cfg *config.Config, store *library.Store, logger *log.Logger) *Service {
	s := &Service{
		cfg:    cfg,
		store:  store,
		logger: logger,
	}
	s.linearizer = NewLinearizer(
		cfg.QpdfPath,
		time.Duration(cfg.QpdfTimeoutSeconds)*time.Second,
		s.scanOptions(),
		logger,
	)
	return s
}

func (s *Service) scanOptions() ScanOptions {
	return ScanOptions{
		HeadWindowBytes: s.cfg.HeadWindowBytes,
		TailWindowBytes: s.cfg.TailWindowBytes,
		XrefMaxHops:     s.cfg.XrefMaxHops,
	}
}

// Policy は設定から判定ポリシーを組み立てます。
func (s *Service) Policy() Policy {
	return Policy{
		SmallFileThreshold: s.cfg.SmallFileThreshold,
		LargeFileThreshold: s.cfg.LargeFileThreshold,
		RewriteAllowed:     s.cfg.RewriteEnabled,
	}
}

// OpenDocument は配信用にドキュメントを開きます。
func (s *Service) OpenDocument(ctx context.Context, id string) (ReadOnlyFile, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.store.Open(id)
}

// AnalyzeDocument は1ドキュメントをスキャンして判定レポートを返します。
func (s *Service) AnalyzeDocument(ctx context.Context, id string) (*Report, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	src, err := s.store.Open(id)
	if err != nil {
		return nil, err
	}
	defer src.Close()

	info := Scan(src, s.scanOptions())
	return &Report{
		DocumentID: id,
		Structure:  info,
		Decision:   Decide(info, s.Policy()),
	}, nil
}

// AnalyzeLibrary はライブラリ内の全ドキュメントを一括解析します。
// 個別ドキュメントの解析エラーで全体が止まることはありません。
func (s *Service) AnalyzeLibrary(ctx context.Context) ([]Report, error) {
	docs, err := s.store.List()
	if err != nil {
		return nil, err
	}

	sources := make([]BatchSource, len(docs))
	for i, doc := range docs {
		id := doc.ID
		sources[i] = BatchSource{
			ID: id,
			Open: func() (ReadOnlyFile, error) {
				return s.store.Open(id)
			},
		}
	}
	return AnalyzeBatch(ctx, sources, s.scanOptions(), s.Policy()), nil
}

// ImportDocument はアップロードをライブラリへ取り込みます。
func (s *Service) ImportDocument(ctx context.Context, file *multipart.FileHeader) (*library.Document, error) {
	doc, err := s.store.Import(ctx, file, s.cfg.MaxFileSize)
	switch {
	case errors.Is(err, library.ErrTooLarge):
		return nil, newError("LIMIT_EXCEEDED",
			fmt.Sprintf("ファイルサイズが上限（%dバイト）を超えています。", s.cfg.MaxFileSize), err)
	case errors.Is(err, library.ErrNotPDF):
		return nil, newError("INVALID_INPUT", "PDFとして読み取れないファイルです。", err)
	case err != nil:
		return nil, err
	}
	if s.logger != nil {
		s.logger.Printf("imported document id=%s name=%s size=%d pages=%d",
			doc.ID, doc.Name, doc.Size, doc.Pages)
	}
	return doc, nil
}

// LinearizeDocument はドキュメント単位の排他ロックの下で線形化を実行します。
// 判定がスキップの場合はリライトせずレポートだけを返します。
// 公開はリライト検証後の rename で行われるため、並行する読者は
// 常に一貫したスナップショットを読み続けます。
func (s *Service) LinearizeDocument(ctx context.Context, id string, reporter ProgressReporter) (*Report, error) {
	unlock := s.store.Lock(id)
	defer unlock()

	reportProgress(reporter, "scan", 10)
	report, err := s.AnalyzeDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	if !report.Decision.ShouldOptimize {
		reportProgress(reporter, "completed", 100)
		return report, nil
	}

	reportProgress(reporter, "rewrite", 40)
	path := s.store.Path(id)
	if err := s.linearizer.Rewrite(ctx, path, path); err != nil {
		return nil, err
	}

	reportProgress(reporter, "verify", 80)
	rewritten, err := s.AnalyzeDocument(ctx, id)
	if err != nil {
		return nil, err
	}
	rewritten.Rewritten = true

	if s.logger != nil {
		s.logger.Printf("linearized document id=%s size=%d -> %d",
			id, report.Structure.FileSize, rewritten.Structure.FileSize)
	}
	reportProgress(reporter, "completed", 100)
	return rewritten, nil
}

// RunJob はジョブ種別に応じた処理を実行します。非同期ワーカーから呼ばれます。
func (s *Service) RunJob(ctx context.Context, op OperationType, documentID string, reporter ProgressReporter) (*Report, error) {
	if documentID == "" {
		return nil, fmt.Errorf("documentID is required")
	}
	switch op {
	case OperationAnalyze:
		reportProgress(reporter, "scan", 20)
		report, err := s.AnalyzeDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		reportProgress(reporter, "completed", 100)
		return report, nil
	case OperationLinearize:
		return s.LinearizeDocument(ctx, documentID, reporter)
	default:
		return nil, fmt.Errorf("unsupported operation: %s", op)
	}
}
