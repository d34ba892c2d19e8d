// Package library はPDFライブラリのローカルストレージを提供します。
// ドキュメントはUUIDをキーにした読み取り専用ファイルとして保存され、
// 差し替えは rename による原子的な公開で行います。
package library

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	pdfapi "github.com/pdfcpu/pdfcpu/pkg/api"
)

const (
	documentSuffix = ".pdf"
	metaSuffix     = ".json"
	uploadTmpExt   = ".upload.tmp"
)

var (
	// ErrTooLarge はアップロードがサイズ上限を超えたことを表します。
	ErrTooLarge = errors.New("library: file exceeds size limit")
	// ErrNotPDF はアップロードがPDFとして検証できなかったことを表します。
	ErrNotPDF = errors.New("library: file is not a valid pdf")
)

// Document はライブラリに保存されたPDFのメタデータです。
type Document struct {
	ID         string    `json:"documentId"`
	Name       string    `json:"name"`
	Size       int64     `json:"size"`
	Pages      int       `json:"pages,omitempty"`
	ImportedAt time.Time `json:"importedAt"`
}

// Store はローカルディスク上のドキュメントストアです。
// 読み取りはロックを取らず、リライトだけがドキュメント単位の排他ロックを使います。
type Store struct {
	dir   string
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// NewStore はディレクトリを用意して Store を作成します。
func NewStore(dir string) (*Store, error) {
	if dir == "" {
		return nil, errors.New("library: dir is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("ライブラリディレクトリの作成に失敗しました: %w", err)
	}
	return &Store{
		dir:   dir,
		locks: make(map[string]*sync.Mutex),
	}, nil
}

// Path はドキュメントの公開パスを返します。
func (s *Store) Path(id string) string {
	return filepath.Join(s.dir, id+documentSuffix)
}

func (s *Store) metaPath(id string) string {
	return filepath.Join(s.dir, id+metaSuffix)
}

// File は配信用にオープンされたドキュメントです。サイズはオープン時点で固定され、
// 以後に公開ファイルが差し替えられても、このディスクリプタは元のバイト列を読み続けます。
type File struct {
	f    *os.File
	size int64
}

func (f *File) ReadAt(p []byte, off int64) (int, error) {
	return f.f.ReadAt(p, off)
}

func (f *File) Size() int64 {
	return f.size
}

func (f *File) Close() error {
	return f.f.Close()
}

// Open はドキュメントを読み取り専用で開きます。
// 不正なIDはパス探索を避けるため存在しない扱いにします。
func (s *Store) Open(id string) (*File, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, fs.ErrNotExist
	}
	f, err := os.Open(s.Path(id))
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &File{f: f, size: info.Size()}, nil
}

// Lock はドキュメント単位の排他ロックを取得し、解放関数を返します。
// リライト処理だけが使用し、読み取りパスはこのロックに関与しません。
func (s *Store) Lock(id string) func() {
	s.mu.Lock()
	m, ok := s.locks[id]
	if !ok {
		m = &sync.Mutex{}
		s.locks[id] = m
	}
	s.mu.Unlock()

	m.Lock()
	return m.Unlock
}

// Import はアップロードされたファイルを検証してライブラリに取り込みます。
// 一時ファイルへ書き出してから検証し、通過した場合のみ公開パスへ rename します。
func (s *Store) Import(ctx context.Context, file *multipart.FileHeader, maxSize int64) (_ *Document, err error) {
	if file == nil {
		return nil, ErrNotPDF
	}
	if maxSize > 0 && file.Size > maxSize {
		return nil, ErrTooLarge
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := file.Open()
	if err != nil {
		return nil, fmt.Errorf("アップロードファイルのオープンに失敗しました: %w", err)
	}
	defer src.Close()

	id := uuid.NewString()
	tmpPath := filepath.Join(s.dir, id+uploadTmpExt)
	defer func() {
		if err != nil {
			_ = os.Remove(tmpPath)
		}
	}()

	written, err := copyToFile(tmpPath, src)
	if err != nil {
		return nil, err
	}
	if maxSize > 0 && written > maxSize {
		return nil, ErrTooLarge
	}

	mime, err := mimetype.DetectFile(tmpPath)
	if err != nil || !mime.Is("application/pdf") {
		return nil, ErrNotPDF
	}

	pages, err := pdfapi.PageCountFile(tmpPath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotPDF, err)
	}

	doc := &Document{
		ID:         id,
		Name:       filepath.Base(file.Filename),
		Size:       written,
		Pages:      pages,
		ImportedAt: time.Now().UTC(),
	}
	if err := writeMeta(s.metaPath(id), doc); err != nil {
		return nil, err
	}
	if err := os.Rename(tmpPath, s.Path(id)); err != nil {
		_ = os.Remove(s.metaPath(id))
		return nil, fmt.Errorf("ドキュメントの公開に失敗しました: %w", err)
	}
	return doc, nil
}

// List はライブラリ内の全ドキュメントを列挙します。
// メタデータが欠けているファイルはファイル情報だけで補います。
func (s *Store) List() ([]Document, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("ライブラリの列挙に失敗しました: %w", err)
	}

	docs := make([]Document, 0, len(entries))
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, documentSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, documentSuffix)
		if _, err := uuid.Parse(id); err != nil {
			continue
		}

		doc := Document{ID: id, Name: name}
		if data, err := os.ReadFile(s.metaPath(id)); err == nil {
			_ = json.Unmarshal(data, &doc)
			doc.ID = id
		}
		if info, err := entry.Info(); err == nil {
			doc.Size = info.Size()
		}
		docs = append(docs, doc)
	}
	return docs, nil
}

func copyToFile(path string, src io.Reader) (int64, error) {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return 0, fmt.Errorf("一時ファイルの作成に失敗しました: %w", err)
	}
	written, err := io.Copy(out, src)
	if closeErr := out.Close(); err == nil {
		err = closeErr
	}
	if err != nil {
		return 0, fmt.Errorf("一時ファイルへの書き込みに失敗しました: %w", err)
	}
	return written, nil
}

func writeMeta(path string, doc *Document) error {
	out, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o640)
	if err != nil {
		return fmt.Errorf("メタデータの保存に失敗しました: %w", err)
	}
	defer out.Close()
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(doc)
}
