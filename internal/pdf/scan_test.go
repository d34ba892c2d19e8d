package pdf

import (
	"bytes"
	"fmt"
	"reflect"
	"strconv"
	"testing"
)

// memSource はテスト用のインメモリ ByteSource です。
type memSource struct {
	data []byte
}

func (m memSource) ReadAt(p []byte, off int64) (int, error) {
	return bytes.NewReader(m.data).ReadAt(p, off)
}

func (m memSource) Size() int64 {
	return int64(len(m.data))
}

func (m memSource) Close() error {
	return nil
}

// buildClassicPDF は末尾に古典xrefテーブルを持つ一括書き出しPDFを組み立てます。
// trailerExtra は trailer 辞書に追記するエントリです。
func buildClassicPDF(pad int, trailerExtra string) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [3 0 R] /Count 1 >>\nendobj\n")
	b.WriteString("3 0 obj\n<< /Type /Page /Parent 2 0 R >>\nendobj\n")
	if pad > 0 {
		b.WriteString("4 0 obj\n<< /Length " + strconv.Itoa(pad) + " >>\nstream\n")
		b.Write(bytes.Repeat([]byte("z"), pad))
		b.WriteString("\nendstream\nendobj\n")
	}
	xrefOffset := b.Len()
	b.WriteString("xref\n0 4\n0000000000 65535 f \n")
	b.WriteString("trailer\n<< /Size 4 /Root 1 0 R " + trailerExtra + ">>\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.Bytes()
}

// buildLinearizedPDF は先頭に線形化辞書とxrefテーブルを持つPDFを組み立てます。
// pad を大きくすると先頭xrefの相対位置が小さくなります。
func buildLinearizedPDF(pad int) []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.5\n")
	b.WriteString("1 0 obj\n<< /Linearized 1 /L 9999 /N 7 /O 3 /E 1234 /T 5678 >>\nendobj\n")
	xrefOffset := b.Len()
	b.WriteString("xref\n0 2\n0000000000 65535 f \n0000000009 00000 n \n")
	b.WriteString("trailer\n<< /Size 2 /Root 3 0 R >>\n")
	b.WriteString("2 0 obj\n<< /Length " + strconv.Itoa(pad) + " >>\nstream\n")
	b.Write(bytes.Repeat([]byte("z"), pad))
	b.WriteString("\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOffset)
	return b.Bytes()
}

// buildIncrementalPDF は増分更新を1回行ったPDFを組み立てます。
// 最新セクションの /Prev が初回セクションを指します。
func buildIncrementalPDF() []byte {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 2 >>\nendobj\n")
	first := b.Len()
	fmt.Fprintf(&b, "xref\n0 3\n0000000000 65535 f \ntrailer\n<< /Size 3 /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n", first)
	// プローブ(2KiB)が次セクションの /Prev を拾わないよう十分に離す
	for i := 0; i < 120; i++ {
		b.WriteString("% incremental update padding ...................\n")
	}
	b.WriteString("3 0 obj\n<< /Note (appended) >>\nendobj\n")
	second := b.Len()
	fmt.Fprintf(&b, "xref\n3 1\n0000000500 00000 n \ntrailer\n<< /Size 4 /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", first, second)
	return b.Bytes()
}

func TestScanClassicTrailerXref(t *testing.T) {
	data := buildClassicPDF(0, "")
	info := Scan(memSource{data}, ScanOptions{})

	if info.AnalysisError != "" {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if info.IsLinearized {
		t.Fatal("classic pdf should not be linearized")
	}
	if info.XrefLocation != XrefTrailer {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if !info.NeedsOptimization {
		t.Fatal("non-linearized trailer-xref pdf should need optimization")
	}
	if info.FileSize != int64(len(data)) {
		t.Fatalf("unexpected file size: %d", info.FileSize)
	}
	if info.PageCount != 1 {
		t.Fatalf("unexpected page count: %d", info.PageCount)
	}
	if info.XrefOffset <= 0 || info.XrefSizeBytes <= 0 {
		t.Fatalf("xref offset/size not recorded: offset=%d size=%d", info.XrefOffset, info.XrefSizeBytes)
	}
}

func TestScanLinearizedHeaderXref(t *testing.T) {
	info := Scan(memSource{buildLinearizedPDF(4096)}, ScanOptions{})

	if info.AnalysisError != "" {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if !info.IsLinearized {
		t.Fatal("expected linearized pdf")
	}
	if info.XrefLocation != XrefHeader {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if info.NeedsOptimization {
		t.Fatal("linearized header-xref pdf should not need optimization")
	}
	if info.PageCount != 7 {
		t.Fatalf("page count should come from /N: got %d", info.PageCount)
	}
}

func TestScanLinearizedMarkerOutsideFirstObjectIgnored(t *testing.T) {
	// 2番目以降のオブジェクトのストリーム本文に出現する /Linearized は無視する
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Length 24 >>\nstream\n/Linearized 1 /N 99 ....\nendstream\nendobj\n")
	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 3\ntrailer\n<< /Size 3 >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	info := Scan(memSource{b.Bytes()}, ScanOptions{})
	if info.IsLinearized {
		t.Fatal("marker inside a stream body must not mark the file linearized")
	}
	if info.PageCount == 99 {
		t.Fatal("page count must not be read from a stream body")
	}
}

func TestScanIncrementalPrevChain(t *testing.T) {
	info := Scan(memSource{buildIncrementalPDF()}, ScanOptions{})

	if info.AnalysisError != "" {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if info.XrefLocation != XrefTrailer {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if !info.NeedsOptimization {
		t.Fatal("incrementally updated pdf should need optimization")
	}
	if info.PageCount != 2 {
		t.Fatalf("unexpected page count: %d", info.PageCount)
	}
}

func TestScanHybridXref(t *testing.T) {
	info := Scan(memSource{buildClassicPDF(0, "/XRefStm 18 ")}, ScanOptions{})

	if info.AnalysisError != "" {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if info.XrefLocation != XrefHybrid {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if !info.NeedsOptimization {
		t.Fatal("hybrid pdf should need optimization")
	}
}

func TestScanXrefStreamObject(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.5\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R >>\nendobj\n")
	xrefOffset := b.Len()
	b.WriteString("5 0 obj\n<< /Type /XRef /Length 16 /W [1 2 2] /Size 6 >>\nstream\n0123456789abcdef\nendstream\nendobj\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", xrefOffset)

	info := Scan(memSource{b.Bytes()}, ScanOptions{})
	if info.AnalysisError != "" {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if info.XrefLocation != XrefTrailer {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if info.XrefSizeBytes != 16 {
		t.Fatalf("xref stream size should come from /Length: got %d", info.XrefSizeBytes)
	}
}

func TestScanMissingStartxref(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n%%EOF\n")
	info := Scan(memSource{data}, ScanOptions{})

	if info.AnalysisError != "" {
		t.Fatalf("missing startxref is not an analysis error: %s", info.AnalysisError)
	}
	if info.XrefLocation != XrefUnknown {
		t.Fatalf("unexpected xref location: %s", info.XrefLocation)
	}
	if !info.NeedsOptimization {
		t.Fatal("unresolvable layout must be conservatively marked for optimization")
	}
}

func TestScanStartxrefBeyondFileSize(t *testing.T) {
	data := []byte("%PDF-1.4\n1 0 obj\n<< >>\nendobj\nstartxref\n999999\n%%EOF\n")
	info := Scan(memSource{data}, ScanOptions{})

	if info.AnalysisError != ErrKindTruncatedWindow {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
	if !info.NeedsOptimization {
		t.Fatal("truncated file must still be marked for optimization")
	}
}

func TestScanStartxrefPointsAtGarbage(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	garbage := b.Len()
	b.WriteString("not an xref segment here\n")
	fmt.Fprintf(&b, "startxref\n%d\n%%%%EOF\n", garbage)

	info := Scan(memSource{b.Bytes()}, ScanOptions{})
	if info.AnalysisError != ErrKindUnresolvedXref {
		t.Fatalf("unexpected analysis error: %s", info.AnalysisError)
	}
}

func TestScanPrevCycleTerminates(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n1 0 obj\n<< /Type /Catalog >>\nendobj\n")
	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 2\ntrailer\n<< /Size 2 /Prev %d >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset, xrefOffset)

	info := Scan(memSource{b.Bytes()}, ScanOptions{})
	if info.AnalysisError != ErrKindUnresolvedXref {
		t.Fatalf("self-referencing prev chain must be cut: got %q", info.AnalysisError)
	}
	if !info.NeedsOptimization {
		t.Fatal("unresolved chain must be conservatively marked for optimization")
	}
}

func TestScanHopLimit(t *testing.T) {
	// 長い増分チェーンの代わりにホップ上限1で打ち切りを確認する
	info := Scan(memSource{buildIncrementalPDF()}, ScanOptions{XrefMaxHops: 1})
	if info.AnalysisError != ErrKindUnresolvedXref {
		t.Fatalf("hop limit must cut the chain: got %q", info.AnalysisError)
	}
}

func TestScanNotAPdf(t *testing.T) {
	for _, data := range [][]byte{
		nil,
		[]byte("short"),
		[]byte("GIF89a headers are not pdf magic bytes"),
		[]byte("%PDF-XY broken version digits"),
	} {
		info := Scan(memSource{data}, ScanOptions{})
		if info.AnalysisError != ErrKindNotAPdf {
			t.Fatalf("data %q: unexpected analysis error %q", data, info.AnalysisError)
		}
	}
}

func TestScanDeterministic(t *testing.T) {
	data := buildClassicPDF(2048, "")
	first := Scan(memSource{data}, ScanOptions{})
	second := Scan(memSource{data}, ScanOptions{})
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("scan is not deterministic:\nfirst:  %+v\nsecond: %+v", first, second)
	}
}

func TestScanOutlineDetection(t *testing.T) {
	var b bytes.Buffer
	b.WriteString("%PDF-1.4\n")
	b.WriteString("1 0 obj\n<< /Type /Catalog /Pages 2 0 R /Outlines 4 0 R >>\nendobj\n")
	b.WriteString("2 0 obj\n<< /Type /Pages /Kids [] /Count 3 >>\nendobj\n")
	b.WriteString("4 0 obj\n<< /Type /Outlines /Count 5 >>\nendobj\n")
	xrefOffset := b.Len()
	fmt.Fprintf(&b, "xref\n0 5\ntrailer\n<< /Size 5 >>\nstartxref\n%d\n%%%%EOF\n", xrefOffset)

	info := Scan(memSource{b.Bytes()}, ScanOptions{})
	if !info.HasOutline {
		t.Fatal("expected outline to be detected")
	}
	if info.OutlineCount != 5 {
		t.Fatalf("unexpected outline count: %d", info.OutlineCount)
	}
	if info.PageCount != 3 {
		t.Fatalf("unexpected page count: %d", info.PageCount)
	}
}
