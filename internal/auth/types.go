package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// 认证子系统对外暴露的错误。
var (
	ErrDisabled           = errors.New("authentication disabled")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrUnsupportedGrant   = errors.New("unsupported grant type")
	ErrInvalidToken       = errors.New("invalid token")
	ErrMissingToken       = errors.New("missing bearer token")
	ErrPermissionDenied   = errors.New("permission denied")
	ErrSubjectRevoked     = errors.New("subject is disabled")
)

// 管理接口的权限命名。租户账号按需授予其中的子集。
const (
	PermAgentsRead      = "agents:read"
	PermAgentsRun       = "agents:run"
	PermThresholdsRead  = "thresholds:read"
	PermThresholdsWrite = "thresholds:write"
	PermAlertsRead      = "alerts:read"
	PermNetworksWrite   = "networks:write"
)

// Store 抽象账号目录，实现必须支持并发访问。
type Store interface {
	FindUserByUsername(ctx context.Context, username string) (*User, error)
	LoadSubject(ctx context.Context, userID int64) (*Subject, error)
}

// SeedWriter 由支持写入种子账号的存储实现。
type SeedWriter interface {
	ApplySeed(ctx context.Context, seed Seed) error
}

// User 是持久化的账号凭据记录。
type User struct {
	ID           int64
	Username     string
	TenantID     string
	PasswordHash string
	Disabled     bool
}

// Subject 是令牌中携带并随请求上下文传递的主体信息。TenantID 用于
// 多租户的用量与告警归集。
type Subject struct {
	ID          int64
	Username    string
	TenantID    string
	Roles       []string
	Permissions []string
	Disabled    bool

	permissionsSet map[string]struct{}
}

// normalise 构建权限查询集合，重复调用无副作用。
func (s *Subject) normalise() {
	if s == nil || s.permissionsSet != nil {
		return
	}
	s.permissionsSet = make(map[string]struct{}, len(s.Permissions))
	for _, perm := range s.Permissions {
		s.permissionsSet[strings.ToLower(strings.TrimSpace(perm))] = struct{}{}
	}
}

// HasPermission 判断主体是否持有指定权限，匹配不区分大小写。
func (s *Subject) HasPermission(permission string) bool {
	if s == nil {
		return false
	}
	s.normalise()
	_, ok := s.permissionsSet[strings.ToLower(strings.TrimSpace(permission))]
	return ok
}

// Authorize 要求主体持有全部给定权限，任一缺失即拒绝。
func (s *Subject) Authorize(perms ...string) error {
	if s == nil {
		return ErrInvalidToken
	}
	if s.Disabled {
		return ErrSubjectRevoked
	}
	for _, perm := range perms {
		if perm == "" {
			continue
		}
		if !s.HasPermission(perm) {
			return fmt.Errorf("%w: missing %s", ErrPermissionDenied, perm)
		}
	}
	return nil
}

// Clone 返回主体的浅拷贝，切片字段独立。
func (s *Subject) Clone() *Subject {
	if s == nil {
		return nil
	}
	clone := &Subject{
		ID:          s.ID,
		Username:    s.Username,
		TenantID:    s.TenantID,
		Roles:       append([]string(nil), s.Roles...),
		Permissions: append([]string(nil), s.Permissions...),
		Disabled:    s.Disabled,
	}
	clone.normalise()
	return clone
}

// TokenRequest 是令牌签发端点接受的请求体。grant_type 为空时按
// password 处理。
type TokenRequest struct {
	GrantType string `json:"grant_type"`
	Username  string `json:"username"`
	Password  string `json:"password"`
}

// TokenPair 是签发结果，Subject 仅供进程内使用，不出现在响应中。
type TokenPair struct {
	AccessToken      string   `json:"access_token"`
	ExpiresIn        int64    `json:"expires_in"`
	RefreshToken     string   `json:"refresh_token,omitempty"`
	RefreshExpiresIn int64    `json:"refresh_expires_in,omitempty"`
	TokenType        string   `json:"token_type"`
	Subject          *Subject `json:"-"`
}

// Config 是认证服务的启动配置。
type Config struct {
	Mode  Mode
	JWT   JWTOptions
	Seeds []Seed
}

// Mode 枚举认证模式。
type Mode string

const (
	ModeDisabled Mode = "disabled"
	ModeJWT      Mode = "jwt"
)

// JWTOptions 是本地 JWT 签发参数，TTL 单位为秒。
type JWTOptions struct {
	Secret     string
	Issuer     string
	Audience   []string
	AccessTTL  int64
	RefreshTTL int64
}

// Seed 描述启动时写入的账号与授权。
type Seed struct {
	Username    string
	Password    string
	TenantID    string
	Roles       []string
	Permissions []string
	Disabled    bool
}
