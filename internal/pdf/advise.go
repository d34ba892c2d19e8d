package pdf

// Policy は最適化判定のしきい値設定です。設定層から供給され、
// 判定ロジック側にしきい値をハードコードしません。
type Policy struct {
	// SmallFileThreshold 未満のファイルは最適化しません。
	SmallFileThreshold int64
	// LargeFileThreshold 以上の非線形化ファイルを最適化対象とします。
	LargeFileThreshold int64
	// RewriteAllowed が false の場合、判定は常にスキップになります。
	RewriteAllowed bool
}

// Decision は最適化可否の判定結果です。Reason は運用ログ向けの診断文字列です。
type Decision struct {
	ShouldOptimize bool   `json:"shouldOptimize"`
	Reason         string `json:"reason"`
}

// Decide は構造スナップショットとポリシーから最適化可否を判定します。
// 純粋関数であり、I/Oや内部状態を持ちません。判定表は上から順に評価され、
// 最初に一致した規則で確定します。
func Decide(info StructureInfo, policy Policy) Decision {
	switch {
	case info.AnalysisError != "":
		return Decision{false, "structure undetermined, rewrite not attempted automatically"}
	case info.IsLinearized && info.XrefLocation == XrefHeader:
		return Decision{false, "already optimized for incremental rendering"}
	case info.FileSize < policy.SmallFileThreshold:
		return Decision{false, "file small enough that optimization overhead outweighs benefit"}
	case !policy.RewriteAllowed:
		return Decision{false, "rewrite disabled by policy"}
	case (info.XrefLocation == XrefTrailer || info.XrefLocation == XrefUnknown) &&
		info.FileSize >= policy.LargeFileThreshold:
		return Decision{true, "non-linearized large file requires a full scan to locate the first page"}
	default:
		return Decision{false, "no measurable streaming benefit expected"}
	}
}
