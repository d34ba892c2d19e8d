package pdf

import "fmt"

// Error はAPI応答にマップ可能なコード付きエラーです。
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

func newError(code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// リライト処理のエラーコード。
const (
	CodeRewriteToolFailed         = "REWRITE_TOOL_FAILED"
	CodeRewriteVerificationFailed = "REWRITE_VERIFICATION_FAILED"
)

// ErrorKind は構造解析で記録されるエラー種別です。
// スキャンは一括解析を止めないため、エラーは返却値ではなく
// StructureInfo.AnalysisError に記録されます。
type ErrorKind string

const (
	// ErrKindNotAPdf はPDFマジックヘッダーが一致しなかったことを表します。
	ErrKindNotAPdf ErrorKind = "not_a_pdf"
	// ErrKindTruncatedWindow は宣言されたオフセットが読み取り可能範囲外であることを表します。
	ErrKindTruncatedWindow ErrorKind = "truncated_window"
	// ErrKindUnresolvedXref はPrevチェーンが循環またはホップ上限を超えたことを表します。
	ErrKindUnresolvedXref ErrorKind = "unresolved_xref"
)
