// Package pdf はPDFの構造解析・最適化判定・レンジ配信機能を提供します。
package pdf

import (
	"bytes"
	"regexp"
	"strconv"
)

// XrefLocation はクロスリファレンスの配置分類を表します。
type XrefLocation string

const (
	// XrefHeader はxrefがファイル先頭付近にあることを表します（線形化済みの典型）。
	XrefHeader XrefLocation = "header"
	// XrefTrailer はxrefがファイル末尾側にあることを表します（一括書き出しの典型）。
	XrefTrailer XrefLocation = "trailer"
	// XrefHybrid は古典テーブルとxrefストリームが併存することを表します（増分更新の典型）。
	XrefHybrid XrefLocation = "hybrid"
	// XrefUnknown はxrefの位置を特定できなかったことを表します。
	XrefUnknown XrefLocation = "unknown"
)

const (
	// DefaultHeadWindowBytes は先頭ウィンドウの既定サイズです。
	DefaultHeadWindowBytes = 32 * 1024
	// DefaultTailWindowBytes は末尾ウィンドウの既定サイズです。
	DefaultTailWindowBytes = 16 * 1024
	// DefaultXrefMaxHops はPrevチェーンをたどる既定の上限です。
	DefaultXrefMaxHops = 64

	// xrefProbeBytes はxrefセグメント分類用プローブの読み取りサイズです。
	xrefProbeBytes = 2048

	// headerPositionRatio 未満の相対位置にあるxrefは先頭配置とみなします。
	headerPositionRatio = 0.1
)

// StructureInfo はPDF1ファイルの構造スナップショットです。
// AnalysisError が設定されている場合、FileSize 以外のフィールドは
// 参考値であり判定に使用してはいけません。
type StructureInfo struct {
	FileSize          int64        `json:"fileSize"`
	IsLinearized      bool         `json:"isLinearized"`
	XrefLocation      XrefLocation `json:"xrefLocation"`
	XrefOffset        int64        `json:"xrefOffset,omitempty"`
	XrefSizeBytes     int64        `json:"xrefSizeBytes"`
	PageCount         int          `json:"pageCount,omitempty"`
	HasOutline        bool         `json:"hasOutline"`
	OutlineCount      int          `json:"outlineCount,omitempty"`
	NeedsOptimization bool         `json:"needsOptimization"`
	AnalysisError     ErrorKind    `json:"analysisError,omitempty"`
}

// ScanOptions はスキャンのウィンドウサイズとチェーン上限を指定します。
// ゼロ値のフィールドには既定値が適用されます。
type ScanOptions struct {
	HeadWindowBytes int64
	TailWindowBytes int64
	XrefMaxHops     int
}

func (o ScanOptions) withDefaults() ScanOptions {
	if o.HeadWindowBytes <= 0 {
		o.HeadWindowBytes = DefaultHeadWindowBytes
	}
	if o.TailWindowBytes <= 0 {
		o.TailWindowBytes = DefaultTailWindowBytes
	}
	if o.XrefMaxHops <= 0 {
		o.XrefMaxHops = DefaultXrefMaxHops
	}
	return o
}

var (
	startxrefToken = []byte("startxref")
	linearizedKey  = []byte("/Linearized")
	outlinesKey    = []byte("/Outlines")

	intAfterTokenRe = regexp.MustCompile(`^[ \t\r\n]+(\d+)`)
	linearizedNRe   = regexp.MustCompile(`/N[ \t\r\n]+(\d+)`)
	prevOffsetRe    = regexp.MustCompile(`/Prev[ \t\r\n]+(\d+)`)
	xrefStmRe       = regexp.MustCompile(`/XRefStm[ \t\r\n]+(\d+)`)
	streamLengthRe  = regexp.MustCompile(`/Length[ \t\r\n]+(\d+)`)
	objHeaderRe     = regexp.MustCompile(`^(\d+)[ \t\r\n]+(\d+)[ \t\r\n]+obj\b`)
	pagesRootRe     = regexp.MustCompile(`/Type[ \t\r\n]*/Pages`)
	outlineRootRe   = regexp.MustCompile(`/Type[ \t\r\n]*/Outlines`)
	countAfterRe    = regexp.MustCompile(`/Count[ \t\r\n]+(\d+)`)
)

// Scan はPDFバイト列の先頭・末尾の有界ウィンドウだけを読み、構造を分類します。
// 読み取り量はファイルサイズに依存せず、全体をメモリへ載せることはありません。
// 解析不能なファイルでもエラーを返さず AnalysisError に記録します（一括解析を
// 1ファイルの破損で止めないため）。
func Scan(src ByteSource, opts ScanOptions) StructureInfo {
	opts = opts.withDefaults()

	info := StructureInfo{XrefLocation: XrefUnknown}
	if src == nil {
		info.AnalysisError = ErrKindNotAPdf
		return info
	}

	size := src.Size()
	info.FileSize = size
	if size < 8 {
		info.AnalysisError = ErrKindNotAPdf
		return info
	}

	head, err := readWindow(src, 0, opts.HeadWindowBytes)
	if err != nil || !hasPdfMagic(head) {
		info.AnalysisError = ErrKindNotAPdf
		return info
	}

	// 線形化判定はヘッダー直後の最初の間接オブジェクトに限定する。
	// ウィンドウ内の任意位置での部分一致はストリーム本文による誤検出があるため採用しない。
	if dict, ok := firstObjectDict(head); ok && bytes.Contains(dict, linearizedKey) {
		info.IsLinearized = true
		if m := linearizedNRe.FindSubmatch(dict); m != nil {
			info.PageCount, _ = strconv.Atoi(string(m[1]))
		}
	}

	tailOffset := size - opts.TailWindowBytes
	if tailOffset < 0 {
		tailOffset = 0
	}
	tail, err := readWindow(src, tailOffset, opts.TailWindowBytes)
	if err != nil {
		info.AnalysisError = ErrKindTruncatedWindow
		return info
	}

	scanDocMeta(&info, head, tail)

	offset, ok := findStartxref(tail)
	if !ok {
		// startxref が見つからない場合は安全と証明できないため保守的に最適化対象とする
		info.NeedsOptimization = true
		return info
	}
	if offset >= size {
		info.AnalysisError = ErrKindTruncatedWindow
		info.NeedsOptimization = true
		return info
	}
	info.XrefOffset = offset

	sawTable, sawStream := walkXrefChain(src, offset, size, opts.XrefMaxHops, &info)
	if info.AnalysisError != "" {
		info.NeedsOptimization = true
		return info
	}

	switch {
	case sawTable && sawStream:
		info.XrefLocation = XrefHybrid
	case float64(offset)/float64(size) < headerPositionRatio:
		info.XrefLocation = XrefHeader
	default:
		info.XrefLocation = XrefTrailer
	}

	// 先頭配置のxrefはそのままストリーミングに向く。それ以外は線形化済みでない限り対象。
	if info.XrefLocation == XrefHeader {
		info.NeedsOptimization = false
	} else {
		info.NeedsOptimization = !info.IsLinearized
	}

	return info
}

func hasPdfMagic(head []byte) bool {
	if len(head) < 8 || !bytes.HasPrefix(head, []byte("%PDF-")) {
		return false
	}
	return isDigit(head[5]) && head[6] == '.' && isDigit(head[7])
}

func isDigit(b byte) bool {
	return b >= '0' && b <= '9'
}

func isPdfSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\r' || b == '\n' || b == '\f' || b == 0
}

// firstObjectDict はヘッダーとコメント行を読み飛ばした直後の
// 最初の間接オブジェクト（N G obj << ... >>）の辞書部分を返します。
func firstObjectDict(head []byte) ([]byte, bool) {
	i := 0
	for i < len(head) {
		for i < len(head) && isPdfSpace(head[i]) {
			i++
		}
		if i < len(head) && head[i] == '%' {
			// ヘッダー行およびバイナリマーカーコメントを行末までスキップ
			for i < len(head) && head[i] != '\n' && head[i] != '\r' {
				i++
			}
			continue
		}
		break
	}

	rest := head[i:]
	loc := objHeaderRe.FindIndex(rest)
	if loc == nil {
		return nil, false
	}

	dictStart := bytes.Index(rest[loc[1]:], []byte("<<"))
	if dictStart < 0 {
		return nil, false
	}
	p := loc[1] + dictStart
	depth := 0
	for p < len(rest)-1 {
		switch {
		case rest[p] == '<' && rest[p+1] == '<':
			depth++
			p += 2
		case rest[p] == '>' && rest[p+1] == '>':
			depth--
			p += 2
			if depth == 0 {
				return rest[loc[1]+dictStart : p], true
			}
		default:
			p++
		}
	}
	return nil, false
}

// findStartxref は末尾ウィンドウを後方から検索し、startxref直後の整数を返します。
func findStartxref(tail []byte) (int64, bool) {
	idx := bytes.LastIndex(tail, startxrefToken)
	if idx < 0 {
		return 0, false
	}
	m := intAfterTokenRe.FindSubmatch(tail[idx+len(startxrefToken):])
	if m == nil {
		return 0, false
	}
	offset, err := strconv.ParseInt(string(m[1]), 10, 64)
	if err != nil {
		return 0, false
	}
	return offset, true
}

type xrefSegment struct {
	isTable    bool
	isStream   bool
	hasXRefStm bool
	prev       int64 // 次にたどるオフセット。-1でチェーン終端
	sizeBytes  int64
}

// classifyXrefSegment はオフセット位置のプローブから
// 古典テーブルかxrefストリームオブジェクトかを判定します。
func classifyXrefSegment(probe []byte) xrefSegment {
	seg := xrefSegment{prev: -1}

	i := 0
	for i < len(probe) && isPdfSpace(probe[i]) {
		i++
	}
	body := probe[i:]

	switch {
	case bytes.HasPrefix(body, []byte("xref")):
		seg.isTable = true
		if end := bytes.Index(probe, startxrefToken); end >= 0 {
			seg.sizeBytes = int64(end)
		} else {
			seg.sizeBytes = int64(len(probe))
		}
	case objHeaderRe.Match(body):
		seg.isStream = true
		if m := streamLengthRe.FindSubmatch(probe); m != nil {
			if n, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
				seg.sizeBytes = n
			}
		}
		if seg.sizeBytes == 0 {
			seg.sizeBytes = int64(len(probe))
		}
	default:
		return seg
	}

	if m := prevOffsetRe.FindSubmatch(probe); m != nil {
		if off, err := strconv.ParseInt(string(m[1]), 10, 64); err == nil {
			seg.prev = off
		}
	}
	if xrefStmRe.Match(probe) {
		seg.hasXRefStm = true
	}
	return seg
}

// walkXrefChain は増分更新のPrevチェーンを反復的にたどります。
// 訪問済みオフセット集合とホップ上限で循環・肥大化したチェーンを打ち切ります。
// 打ち切り時は AnalysisError を記録しますが、スキャン自体は失敗しません。
func walkXrefChain(src ByteSource, start, size int64, maxHops int, info *StructureInfo) (sawTable, sawStream bool) {
	visited := make(map[int64]struct{})
	offset := start

	for hop := 0; ; hop++ {
		if hop >= maxHops {
			info.AnalysisError = ErrKindUnresolvedXref
			return
		}
		if _, dup := visited[offset]; dup {
			info.AnalysisError = ErrKindUnresolvedXref
			return
		}
		visited[offset] = struct{}{}

		probe, err := readWindow(src, offset, xrefProbeBytes)
		if err != nil || len(probe) == 0 {
			info.AnalysisError = ErrKindTruncatedWindow
			return
		}

		seg := classifyXrefSegment(probe)
		if !seg.isTable && !seg.isStream {
			// オフセットがxrefデータを指していない
			info.AnalysisError = ErrKindUnresolvedXref
			return
		}
		if seg.isTable {
			sawTable = true
		}
		if seg.isStream || seg.hasXRefStm {
			sawStream = true
		}
		info.XrefSizeBytes += seg.sizeBytes

		if seg.prev < 0 {
			return
		}
		if seg.prev >= size {
			info.AnalysisError = ErrKindTruncatedWindow
			return
		}
		offset = seg.prev
	}
}

// scanDocMeta はスキャン済みウィンドウ内から到達できる範囲で
// ページ数とアウトラインの有無を拾います。ウィンドウ外への追加読み取りは行わず、
// 確信が持てない場合はゼロ値のままにします。
func scanDocMeta(info *StructureInfo, windows ...[]byte) {
	for _, w := range windows {
		if bytes.Contains(w, outlinesKey) {
			info.HasOutline = true
		}
		if loc := outlineRootRe.FindIndex(w); loc != nil && info.OutlineCount == 0 {
			if m := countAfterRe.FindSubmatch(near(w, loc[1])); m != nil {
				info.OutlineCount, _ = strconv.Atoi(string(m[1]))
			}
		}
		if info.PageCount == 0 {
			if loc := pagesRootRe.FindIndex(w); loc != nil {
				if m := countAfterRe.FindSubmatch(near(w, loc[1])); m != nil {
					info.PageCount, _ = strconv.Atoi(string(m[1]))
				}
			}
		}
	}
}

// near はマーカー直後の短い近傍スライスを返します。
func near(w []byte, from int) []byte {
	end := from + 256
	if end > len(w) {
		end = len(w)
	}
	return w[from:end]
}
