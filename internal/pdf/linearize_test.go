package pdf

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"testing"
	"time"
)

// writeStubTool は qpdf の代わりに動くシェルスクリプトを書き出します。
func writeStubTool(t *testing.T, dir, script string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("stub tool scripts require a POSIX shell")
	}
	path := filepath.Join(dir, "qpdf-stub.sh")
	if err := os.WriteFile(path, []byte(script), 0o755); err != nil {
		t.Fatalf("failed to write stub tool: %v", err)
	}
	return path
}

func writeFixture(t *testing.T, dir, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, data, 0o640); err != nil {
		t.Fatalf("failed to write fixture: %v", err)
	}
	return path
}

func TestLinearizerRewriteSuccess(t *testing.T) {
	dir := t.TempDir()
	srcPath := writeFixture(t, dir, "src.pdf", buildClassicPDF(0, ""))
	linearizedPath := writeFixture(t, dir, "linearized.pdf", buildLinearizedPDF(4096))
	destPath := filepath.Join(dir, "dest.pdf")

	tool := writeStubTool(t, dir, fmt.Sprintf("#!/bin/sh\ncp %q \"$3\"\n", linearizedPath))
	l := NewLinearizer(tool, time.Minute, ScanOptions{}, nil)

	if err := l.Rewrite(context.Background(), srcPath, destPath); err != nil {
		t.Fatalf("rewrite failed: %v", err)
	}

	out, err := OpenFile(destPath)
	if err != nil {
		t.Fatalf("failed to open rewrite output: %v", err)
	}
	defer out.Close()
	info := Scan(out, ScanOptions{})
	if !info.IsLinearized || info.XrefLocation != XrefHeader {
		t.Fatalf("output is not linearized: %+v", info)
	}

	if _, err := os.Stat(destPath + ".linearize.tmp"); !os.IsNotExist(err) {
		t.Fatal("temp file must not remain after success")
	}
}

func TestLinearizerRewriteInPlace(t *testing.T) {
	dir := t.TempDir()
	path := writeFixture(t, dir, "doc.pdf", buildClassicPDF(0, ""))
	linearizedPath := writeFixture(t, dir, "linearized.pdf", buildLinearizedPDF(4096))

	tool := writeStubTool(t, dir, fmt.Sprintf("#!/bin/sh\ncp %q \"$3\"\n", linearizedPath))
	l := NewLinearizer(tool, time.Minute, ScanOptions{}, nil)

	if err := l.Rewrite(context.Background(), path, path); err != nil {
		t.Fatalf("in-place rewrite failed: %v", err)
	}

	out, err := OpenFile(path)
	if err != nil {
		t.Fatalf("failed to reopen document: %v", err)
	}
	defer out.Close()
	if info := Scan(out, ScanOptions{}); !info.IsLinearized {
		t.Fatalf("document was not replaced by the linearized output: %+v", info)
	}
}

func TestLinearizerRewriteWithWarnings(t *testing.T) {
	dir := t.TempDir()
	srcPath := writeFixture(t, dir, "src.pdf", buildClassicPDF(0, ""))
	linearizedPath := writeFixture(t, dir, "linearized.pdf", buildLinearizedPDF(4096))
	destPath := filepath.Join(dir, "dest.pdf")

	// 終了コード3は警告付き成功。出力が検証を通れば公開される。
	tool := writeStubTool(t, dir, fmt.Sprintf("#!/bin/sh\ncp %q \"$3\"\necho 'WARNING: something minor' >&2\nexit 3\n", linearizedPath))
	l := NewLinearizer(tool, time.Minute, ScanOptions{}, nil)

	if err := l.Rewrite(context.Background(), srcPath, destPath); err != nil {
		t.Fatalf("rewrite with warnings failed: %v", err)
	}
	if _, err := os.Stat(destPath); err != nil {
		t.Fatalf("output was not published: %v", err)
	}
}

func TestLinearizerToolFailure(t *testing.T) {
	dir := t.TempDir()
	original := buildClassicPDF(0, "")
	srcPath := writeFixture(t, dir, "src.pdf", original)
	destPath := filepath.Join(dir, "dest.pdf")

	tool := writeStubTool(t, dir, "#!/bin/sh\necho 'qpdf: unable to find /Root' >&2\nexit 2\n")
	l := NewLinearizer(tool, time.Minute, ScanOptions{}, nil)

	err := l.Rewrite(context.Background(), srcPath, destPath)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeRewriteToolFailed {
		t.Fatalf("expected %s, got %v", CodeRewriteToolFailed, err)
	}

	// 失敗時は元ファイルを変更せず、中間ファイルも残さない
	got, readErr := os.ReadFile(srcPath)
	if readErr != nil || string(got) != string(original) {
		t.Fatal("source file must stay untouched after tool failure")
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Fatal("dest must not exist after tool failure")
	}
	if _, statErr := os.Stat(destPath + ".linearize.tmp"); !os.IsNotExist(statErr) {
		t.Fatal("temp file must be cleaned up after tool failure")
	}
}

func TestLinearizerVerificationFailure(t *testing.T) {
	dir := t.TempDir()
	srcPath := writeFixture(t, dir, "src.pdf", buildClassicPDF(0, ""))
	destPath := filepath.Join(dir, "dest.pdf")

	// ツールは成功を装うが、出力は線形化されていない
	tool := writeStubTool(t, dir, "#!/bin/sh\ncp \"$2\" \"$3\"\n")
	l := NewLinearizer(tool, time.Minute, ScanOptions{}, nil)

	err := l.Rewrite(context.Background(), srcPath, destPath)
	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeRewriteVerificationFailed {
		t.Fatalf("expected %s, got %v", CodeRewriteVerificationFailed, err)
	}
	if _, statErr := os.Stat(destPath); !os.IsNotExist(statErr) {
		t.Fatal("unverified output must never be published")
	}
	if _, statErr := os.Stat(destPath + ".linearize.tmp"); !os.IsNotExist(statErr) {
		t.Fatal("temp file must be cleaned up after verification failure")
	}
}

func TestLinearizerMissingTool(t *testing.T) {
	dir := t.TempDir()
	srcPath := writeFixture(t, dir, "src.pdf", buildClassicPDF(0, ""))

	l := NewLinearizer(filepath.Join(dir, "no-such-tool"), time.Minute, ScanOptions{}, nil)
	err := l.Rewrite(context.Background(), srcPath, filepath.Join(dir, "dest.pdf"))

	var apiErr *Error
	if !errors.As(err, &apiErr) || apiErr.Code != CodeRewriteToolFailed {
		t.Fatalf("expected %s, got %v", CodeRewriteToolFailed, err)
	}
}
