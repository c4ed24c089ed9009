package auth

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"StableWatch-Chain/internal/runctx"
	loggerpkg "StableWatch-Chain/pkg/logger"
)

// MiddlewareConfig 配置认证中间件的行为。
type MiddlewareConfig struct {
	// RequiredPermissions 按 HTTP 方法列出所需权限，"*" 作为兜底。
	RequiredPermissions map[string][]string
	// AuditEvent 指定审计日志的事件名称，为空时使用请求路径。
	AuditEvent string
}

// Middleware 返回处理认证与授权的 HTTP 中间件。认证通过后把主体与
// 租户归属写入请求上下文，下游的存储与大模型调用据此归集用量；
// 服务未启用时请求原样放行。
func (s *Service) Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if s == nil || s.mode == ModeDisabled {
				next.ServeHTTP(w, r)
				return
			}

			subject, err := s.AuthenticateRequest(r.Context(), r.Header.Get("Authorization"))
			if err != nil {
				s.deny(w, r, "access_denied", statusFor(err), err, nil)
				return
			}

			perms := cfg.RequiredPermissions[r.Method]
			if len(perms) == 0 {
				perms = cfg.RequiredPermissions["*"]
			}
			if len(perms) > 0 {
				if err := subject.Authorize(perms...); err != nil {
					s.deny(w, r, "permission_denied", http.StatusForbidden, err, subject)
					return
				}
			}

			start := time.Now()
			aw := &auditWriter{ResponseWriter: w, status: http.StatusOK}
			ctx := WithSubject(r.Context(), subject)
			ctx = runctx.With(ctx, runctx.Context{
				TenantID:  subject.TenantID,
				Operation: r.Method + " " + r.URL.Path,
			})
			next.ServeHTTP(aw, r.WithContext(ctx))

			event := cfg.AuditEvent
			if event == "" {
				event = r.URL.Path
			}
			s.auditLogger().Info("api_request",
				"event", event,
				"method", r.Method,
				"path", r.URL.Path,
				"status", aw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"user", subject.Username,
				"tenant_id", subject.TenantID,
			)
		})
	}
}

func (s *Service) deny(w http.ResponseWriter, r *http.Request, event string, status int, err error, subject *Subject) {
	http.Error(w, http.StatusText(status), status)
	attrs := []any{
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
	}
	if subject != nil {
		attrs = append(attrs, "user", subject.Username, "tenant_id", subject.TenantID)
	}
	s.auditLogger().Warn(event, attrs...)
}

func (s *Service) auditLogger() *slog.Logger {
	if s != nil && s.audit != nil {
		return s.audit
	}
	return loggerpkg.Audit()
}

// statusFor 把认证错误映射为 HTTP 状态码，吊销的主体返回 403。
func statusFor(err error) int {
	if errors.Is(err, ErrPermissionDenied) || errors.Is(err, ErrSubjectRevoked) {
		return http.StatusForbidden
	}
	return http.StatusUnauthorized
}

// auditWriter 捕获响应状态码供审计日志使用。
type auditWriter struct {
	http.ResponseWriter
	status int
}

func (w *auditWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}
