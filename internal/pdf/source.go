package pdf

import (
	"io"
	"os"
)

// ByteSource はランダムアクセス可能な読み取り専用のバイト列です。
// ストレージ側が実装し、スキャンと配信の両方がこの契約だけに依存します。
// ReadAt と Size は並行呼び出しに対して安全であることが前提です。
type ByteSource interface {
	io.ReaderAt
	Size() int64
}

// ReadOnlyFile は配信用にオープンされたドキュメントです。
// リライトで新しいファイルが公開されても、オープン済みの
// ディスクリプタは元のバイト列を読み続けます。
type ReadOnlyFile interface {
	ByteSource
	io.Closer
}

// OpenFile はローカルファイルを ReadOnlyFile として開きます。
// サイズはオープン時に確定し、以後の公開差し替えの影響を受けません。
func OpenFile(path string) (ReadOnlyFile, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	return &fileSource{File: f, size: info.Size()}, nil
}

type fileSource struct {
	*os.File
	size int64
}

func (f *fileSource) Size() int64 {
	return f.size
}

// readWindow は [offset, offset+length) のウィンドウを読み取ります。
// ソース末尾にかかる場合は読めた分だけを返します。
func readWindow(src ByteSource, offset, length int64) ([]byte, error) {
	size := src.Size()
	if offset < 0 || offset >= size {
		return nil, io.EOF
	}
	if offset+length > size {
		length = size - offset
	}
	buf := make([]byte, length)
	n, err := src.ReadAt(buf, offset)
	if err != nil && err != io.EOF {
		return nil, err
	}
	return buf[:n], nil
}
