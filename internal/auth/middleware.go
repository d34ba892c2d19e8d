package auth

import (
	"crypto/subtle"
	"net/http"
	"time"

	"github.com/gin-contrib/sessions"
	"github.com/gin-gonic/gin"
)

// RequireLogin はログイン済みセッションを要求するミドルウェアです。
// セッションの有効期限（絶対・アイドル）も併せて検査します。
func (m *Manager) RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		session := sessions.Default(c)

		user, ok := session.Get(sessionKeyUser).(string)
		if !ok || user == "" {
			abortUnauthorized(c, "ログインが必要です")
			return
		}

		now := time.Now()
		issuedAt := readUnix(session.Get(sessionKeyIssuedAt))
		if issuedAt.IsZero() || now.Sub(issuedAt) > maxSessionLifetime {
			expireSession(session)
			abortUnauthorized(c, "セッションの有効期限が切れました。再度ログインしてください")
			return
		}

		lastActive := readUnix(session.Get(sessionKeyLastActive))
		if lastActive.IsZero() || now.Sub(lastActive) > idleTimeout {
			expireSession(session)
			abortUnauthorized(c, "一定時間操作がなかったためログアウトしました")
			return
		}

		session.Set(sessionKeyLastActive, now.Unix())
		_ = session.Save()

		c.Set(ContextUserKey, user)
		c.Next()
	}
}

// VerifyCSRF は更新系リクエストに CSRF トークンを要求するミドルウェアです。
// 安全なメソッド（GET/HEAD など）は検査しません。
func (m *Manager) VerifyCSRF() gin.HandlerFunc {
	return func(c *gin.Context) {
		if isSafeMethod(c.Request.Method) {
			c.Next()
			return
		}

		session := sessions.Default(c)
		expected, ok := session.Get(sessionKeyCSRF).(string)
		if !ok || expected == "" {
			abortForbidden(c, "CSRF トークンが発行されていません")
			return
		}

		got := c.GetHeader(csrfHeader)
		if got == "" || subtle.ConstantTimeCompare([]byte(expected), []byte(got)) != 1 {
			abortForbidden(c, "CSRF トークンが一致しません")
			return
		}

		c.Next()
	}
}

func expireSession(session sessions.Session) {
	session.Clear()
	_ = session.Save()
}

func abortUnauthorized(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
		"code":    "UNAUTHORIZED",
		"message": message,
	})
}

func abortForbidden(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"code":    "CSRF_VERIFICATION_FAILED",
		"message": message,
	})
}
