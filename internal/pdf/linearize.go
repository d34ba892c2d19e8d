package pdf

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"os/exec"
	"time"
)

// qpdf の終了コード: 0=成功, 2=失敗, 3=警告付き成功
const qpdfExitWarnings = 3

// Linearizer は外部ツール（qpdf）によるPDFリライトの境界です。
// ツールの成功報告は信用せず、出力を再スキャンして線形化を検証します。
type Linearizer struct {
	toolPath string
	timeout  time.Duration
	scanOpts ScanOptions
	logger   *log.Logger
}

// NewLinearizer は Linearizer を作成します。
func NewLinearizer(toolPath string, timeout time.Duration, scanOpts ScanOptions, logger *log.Logger) *Linearizer {
	if toolPath == "" {
		toolPath = "qpdf"
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	return &Linearizer{
		toolPath: toolPath,
		timeout:  timeout,
		scanOpts: scanOpts,
		logger:   logger,
	}
}

// Rewrite は srcPath を線形化して destPath に公開します。
// 一時ファイルへ書き出し、再スキャンで検証できた場合のみ rename で
// 原子的に公開します。失敗時は srcPath を変更せず、読者が到達できる
// パスに中途半端なファイルを残しません。
func (l *Linearizer) Rewrite(ctx context.Context, srcPath, destPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	tmpPath := destPath + ".linearize.tmp"
	defer os.Remove(tmpPath)

	if err := l.runTool(ctx, srcPath, tmpPath); err != nil {
		return err
	}

	if err := l.verify(tmpPath); err != nil {
		return err
	}

	if err := os.Rename(tmpPath, destPath); err != nil {
		return newError(CodeRewriteToolFailed, "線形化結果の公開に失敗しました", err)
	}
	return nil
}

func (l *Linearizer) runTool(ctx context.Context, srcPath, tmpPath string) error {
	ctx, cancel := context.WithTimeout(ctx, l.timeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, l.toolPath, "--linearize", srcPath, tmpPath)
	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()
	if err == nil {
		return nil
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && exitErr.ExitCode() == qpdfExitWarnings {
		// 警告付き成功。出力は検証で判定するため続行する。
		if l.logger != nil {
			l.logger.Printf("qpdf completed with warnings src=%s: %s", srcPath, lastLine(output.Bytes()))
		}
		return nil
	}

	return newError(CodeRewriteToolFailed,
		fmt.Sprintf("線形化ツールの実行に失敗しました: %s", lastLine(output.Bytes())), err)
}

// verify はリライト出力を再スキャンし、線形化されていることを確認します。
// ツールが成功を報告していても、ここを通らない限り公開しません。
func (l *Linearizer) verify(tmpPath string) error {
	src, err := OpenFile(tmpPath)
	if err != nil {
		return newError(CodeRewriteVerificationFailed, "線形化結果を開けませんでした", err)
	}
	defer src.Close()

	info := Scan(src, l.scanOpts)
	if info.AnalysisError != "" {
		return newError(CodeRewriteVerificationFailed,
			fmt.Sprintf("線形化結果の解析に失敗しました: %s", info.AnalysisError), nil)
	}
	if !info.IsLinearized {
		return newError(CodeRewriteVerificationFailed, "リライト後も線形化されていません", nil)
	}
	return nil
}

func lastLine(out []byte) string {
	out = bytes.TrimSpace(out)
	if idx := bytes.LastIndexByte(out, '\n'); idx >= 0 {
		out = out[idx+1:]
	}
	const limit = 200
	if len(out) > limit {
		out = out[len(out)-limit:]
	}
	return string(out)
}
