// Package migrations 内嵌监控库的 SQL 迁移脚本，由存储层按文件名顺序执行。
package migrations

import "embed"

// Files 包含 monitor_events、monitor_alerts、monitor_snapshots、
// monitor_ticks 等表的建表与变更脚本。
//
//go:embed *.sql
var Files embed.FS
