package jwt

import (
	"errors"
	"sync"
	"time"

	"ivc/pkg/config"

	"github.com/golang-jwt/jwt/v5"
)

// JWTClaims JWT声明
//
// Scopes是操作级权限（如 repositories.list、commit.create），
// 由签发方（外部的用户/权限系统）写入；"*"表示全部权限。
type JWTClaims struct {
	UserID    uint     `json:"user_id"`
	ProjectID string   `json:"project_id"`
	Username  string   `json:"username"`
	Scopes    []string `json:"scopes"`
	jwt.RegisteredClaims
}

// HasScope 检查是否拥有指定操作权限
func (c *JWTClaims) HasScope(scope string) bool {
	for _, s := range c.Scopes {
		if s == "*" || s == scope {
			return true
		}
	}
	return false
}

// JWTManager JWT管理器
type JWTManager struct {
	secretKey     string
	tokenDuration time.Duration
}

// NewJWTManager 创建JWT管理器
func NewJWTManager(secretKey string, tokenDuration time.Duration) *JWTManager {
	return &JWTManager{
		secretKey:     secretKey,
		tokenDuration: tokenDuration,
	}
}

// GenerateToken 生成JWT令牌
func (manager *JWTManager) GenerateToken(userID uint, projectID, username string, scopes []string) (string, error) {
	claims := JWTClaims{
		UserID:    userID,
		ProjectID: projectID,
		Username:  username,
		Scopes:    scopes,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(manager.tokenDuration)),
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			NotBefore: jwt.NewNumericDate(time.Now()),
			Issuer:    "IVC",
			Subject:   username,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString([]byte(manager.secretKey))
}

// VerifyToken 验证JWT令牌
func (manager *JWTManager) VerifyToken(tokenString string) (*JWTClaims, error) {
	token, err := jwt.ParseWithClaims(
		tokenString,
		&JWTClaims{},
		func(token *jwt.Token) (interface{}, error) {
			// 验证签名方法
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, errors.New("意外的签名方法")
			}
			return []byte(manager.secretKey), nil
		},
	)

	if err != nil {
		return nil, err
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok {
		return nil, errors.New("无法解析token声明")
	}

	return claims, nil
}

// 单例实现
var (
	defaultManager *JWTManager
	once           sync.Once
)

// GetJWTManager 获取全局JWT管理器实例
func GetJWTManager() *JWTManager {
	once.Do(func() {
		cfg := config.GetConfig()
		duration, err := time.ParseDuration(cfg.JWT.TokenDuration)
		if err != nil {
			duration = 24 * time.Hour
		}
		defaultManager = NewJWTManager(cfg.JWT.SecretKey, duration)
	})
	return defaultManager
}
