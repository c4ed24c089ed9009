package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	tokenTypeAccess  = "access"
	tokenTypeRefresh = "refresh"
)

// encodedJWTHeader 固定使用 HS256，预先完成编码。
var encodedJWTHeader = base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))

// jwtManager 本地签发与校验 JWT，不依赖外部身份提供方。
type jwtManager struct {
	secret     []byte
	issuer     string
	audience   []string
	accessTTL  time.Duration
	refreshTTL time.Duration
}

// jwtClaims 是令牌载荷。tenant 声明把令牌与租户绑定，校验通过后
// 由存储层回填完整的 Subject。
type jwtClaims struct {
	Username    string   `json:"username,omitempty"`
	TenantID    string   `json:"tenant,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TokenType   string   `json:"type"`
	Subject     string   `json:"sub"`
	Issuer      string   `json:"iss,omitempty"`
	Audience    []string `json:"aud,omitempty"`
	IssuedAt    int64    `json:"iat,omitempty"`
	ExpiresAt   int64    `json:"exp,omitempty"`
}

// Generate 为主体签发访问令牌与刷新令牌。刷新令牌只携带身份，不携带
// 权限列表。
func (m *jwtManager) Generate(subject *Subject) (*TokenPair, error) {
	if subject == nil {
		return nil, errors.New("subject required")
	}
	subject.normalise()
	now := time.Now().Unix()

	access := m.baseClaims(subject, now, tokenTypeAccess, m.accessTTL)
	access.Roles = append([]string(nil), subject.Roles...)
	access.Permissions = append([]string(nil), subject.Permissions...)
	refresh := m.baseClaims(subject, now, tokenTypeRefresh, m.refreshTTL)

	accessToken, err := m.sign(access)
	if err != nil {
		return nil, fmt.Errorf("sign access token: %w", err)
	}
	refreshToken, err := m.sign(refresh)
	if err != nil {
		return nil, fmt.Errorf("sign refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:      accessToken,
		ExpiresIn:        int64(m.accessTTL.Seconds()),
		RefreshToken:     refreshToken,
		RefreshExpiresIn: int64(m.refreshTTL.Seconds()),
		TokenType:        "Bearer",
	}, nil
}

func (m *jwtManager) baseClaims(subject *Subject, now int64, tokenType string, ttl time.Duration) jwtClaims {
	return jwtClaims{
		Username:  subject.Username,
		TenantID:  subject.TenantID,
		TokenType: tokenType,
		Subject:   strconv.FormatInt(subject.ID, 10),
		Issuer:    m.issuer,
		Audience:  append([]string(nil), m.audience...),
		IssuedAt:  now,
		ExpiresAt: now + int64(ttl.Seconds()),
	}
}

func (m *jwtManager) sign(claims jwtClaims) (string, error) {
	payloadBytes, err := json.Marshal(claims)
	if err != nil {
		return "", fmt.Errorf("encode claims: %w", err)
	}
	payload := base64.RawURLEncoding.EncodeToString(payloadBytes)
	signature := m.signature(encodedJWTHeader, payload)
	return encodedJWTHeader + "." + payload + "." + base64.RawURLEncoding.EncodeToString(signature), nil
}

func (m *jwtManager) signature(header, payload string) []byte {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(header))
	mac.Write([]byte("."))
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

// Verify 校验签名、有效期、签发方与受众，返回令牌声明。任何校验
// 失败统一折叠为 ErrInvalidToken，不向调用方泄露细节。
func (m *jwtManager) Verify(token string) (*jwtClaims, error) {
	parts := strings.Split(token, ".")
	if len(parts) != 3 {
		return nil, ErrInvalidToken
	}
	actual, err := base64.RawURLEncoding.DecodeString(parts[2])
	if err != nil {
		return nil, ErrInvalidToken
	}
	if subtle.ConstantTimeCompare(m.signature(parts[0], parts[1]), actual) != 1 {
		return nil, ErrInvalidToken
	}

	payload, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, ErrInvalidToken
	}
	var claims jwtClaims
	if err := json.Unmarshal(payload, &claims); err != nil {
		return nil, ErrInvalidToken
	}

	if claims.ExpiresAt != 0 && time.Now().Unix() > claims.ExpiresAt {
		return nil, ErrInvalidToken
	}
	if m.issuer != "" && claims.Issuer != "" && !strings.EqualFold(m.issuer, claims.Issuer) {
		return nil, ErrInvalidToken
	}
	if len(m.audience) > 0 && len(claims.Audience) > 0 && !audienceMatches(m.audience, claims.Audience) {
		return nil, ErrInvalidToken
	}
	return &claims, nil
}

func audienceMatches(expected, provided []string) bool {
	return slices.ContainsFunc(expected, func(want string) bool {
		return slices.ContainsFunc(provided, func(got string) bool {
			return strings.EqualFold(strings.TrimSpace(want), strings.TrimSpace(got))
		})
	})
}
