// Package runctx 提供单次执行范围内的环境上下文传播。
//
// 每次智能体执行都会创建一份新的 Context 并挂载到 context.Context 上，
// 后续的链上查询、存储回调以及大模型调用无需逐层传参即可读取租户与
// 智能体归属信息，用于用量与成本归集。并发执行的不同智能体各自持有
// 独立副本，互不干扰。
package runctx

import "context"

// Context 描述一次智能体执行的归属信息。
type Context struct {
	TenantID  string
	AgentID   string
	Operation string
}

// runKey 是上下文中存储 Context 的键类型。
type runKey struct{}

// With 将执行上下文挂载到 ctx 上，返回新的派生 context。
func With(ctx context.Context, rc Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, runKey{}, rc)
}

// From 从 ctx 中提取执行上下文。未挂载时返回零值与 false。
func From(ctx context.Context) (Context, bool) {
	if ctx == nil {
		return Context{}, false
	}
	if rc, ok := ctx.Value(runKey{}).(Context); ok {
		return rc, true
	}
	return Context{}, false
}
