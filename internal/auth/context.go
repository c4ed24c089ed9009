package auth

import "context"

// subjectKey 为避免与其他包的上下文键冲突使用私有类型。
type subjectKey struct{}

// WithSubject 把认证通过的主体写入上下文，供下游处理器读取。
// subject 为 nil 时原样返回上下文。
func WithSubject(ctx context.Context, subject *Subject) context.Context {
	if subject == nil {
		return ctx
	}
	subject.normalise()
	return context.WithValue(ctx, subjectKey{}, subject)
}

// SubjectFromContext 读取上下文中的认证主体，未认证的请求返回 nil。
func SubjectFromContext(ctx context.Context) *Subject {
	if ctx == nil {
		return nil
	}
	subject, ok := ctx.Value(subjectKey{}).(*Subject)
	if !ok {
		return nil
	}
	subject.normalise()
	return subject
}
