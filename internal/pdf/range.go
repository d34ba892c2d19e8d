package pdf

import (
	"strconv"
	"strings"
)

// ByteRange は1リクエスト分のバイト範囲です（両端含む）。
type ByteRange struct {
	Start int64
	End   int64
}

// Length は範囲のバイト数を返します。
func (r ByteRange) Length() int64 {
	return r.End - r.Start + 1
}

type rangeOutcome int

const (
	// rangeNone はヘッダーなし・解釈不能を表し、全量200で応答します。
	rangeNone rangeOutcome = iota
	// rangePartial は有効な部分範囲を表し、206で応答します。
	rangePartial
	// rangeUnsatisfiable は範囲外要求を表し、416で応答します。
	rangeUnsatisfiable
)

const bytesUnitPrefix = "bytes="

// parseRangeHeader は Range ヘッダーをサイズに対して解決します。
// 解釈できないヘッダーはエラーにせず無視して全量応答に落とします
// （曖昧な入力でのRange無視はRFC 7233が許容する互換性判断）。
// カンマ区切りの複数範囲は multipart/byteranges を生成せず、
// 最初に解釈できた1件のみを扱います。
func parseRangeHeader(header string, size int64) (ByteRange, rangeOutcome) {
	header = strings.TrimSpace(header)
	if header == "" || !strings.HasPrefix(header, bytesUnitPrefix) {
		return ByteRange{}, rangeNone
	}

	for _, spec := range strings.Split(header[len(bytesUnitPrefix):], ",") {
		r, ok := parseRangeSpec(strings.TrimSpace(spec), size)
		if !ok {
			continue
		}
		if r.Start >= size {
			return ByteRange{}, rangeUnsatisfiable
		}
		return r, rangePartial
	}
	return ByteRange{}, rangeNone
}

func parseRangeSpec(spec string, size int64) (ByteRange, bool) {
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return ByteRange{}, false
	}
	startStr, endStr := spec[:dash], spec[dash+1:]

	// サフィックス形式 bytes=-N: 末尾Nバイト。Nがサイズを超える場合は先頭へ丸める。
	if startStr == "" {
		n, err := strconv.ParseInt(endStr, 10, 64)
		if err != nil || n <= 0 {
			return ByteRange{}, false
		}
		start := size - n
		if start < 0 {
			start = 0
		}
		return ByteRange{Start: start, End: size - 1}, true
	}

	start, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil || start < 0 {
		return ByteRange{}, false
	}

	// 終端省略形式 bytes=start-: ファイル末尾まで。
	if endStr == "" {
		return ByteRange{Start: start, End: size - 1}, true
	}

	end, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil || end < start {
		return ByteRange{}, false
	}
	if end >= size {
		end = size - 1
	}
	return ByteRange{Start: start, End: end}, true
}
