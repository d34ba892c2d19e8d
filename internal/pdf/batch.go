package pdf

import "context"

// BatchSource は一括解析の入力1件分です。Open は呼び出しごとに
// 新しい読み取りハンドルを返します。
type BatchSource struct {
	ID   string
	Open func() (ReadOnlyFile, error)
}

// AnalyzeBatch は列挙されたドキュメント群を順にスキャンし、
// 1件ごとに構造スナップショットと判定のレポートを生成します。
// 個別の破損ファイルはレポートの AnalysisError として記録され、
// 残りのドキュメントの解析は継続します。キャンセル時は
// そこまでの結果を返します。
func AnalyzeBatch(ctx context.Context, sources []BatchSource, opts ScanOptions, policy Policy) []Report {
	reports := make([]Report, 0, len(sources))

	for _, source := range sources {
		if ctx.Err() != nil {
			return reports
		}
		reports = append(reports, analyzeOne(source, opts, policy))
	}
	return reports
}

func analyzeOne(source BatchSource, opts ScanOptions, policy Policy) Report {
	var info StructureInfo

	src, err := source.Open()
	if err != nil {
		// 開けないファイルはPDFと確認できないため解析エラーとして記録する
		info = StructureInfo{XrefLocation: XrefUnknown, AnalysisError: ErrKindNotAPdf}
	} else {
		info = Scan(src, opts)
		src.Close()
	}

	return Report{
		DocumentID: source.ID,
		Structure:  info,
		Decision:   Decide(info, policy),
	}
}
