package services

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"ivc/pkg/logger"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyFileName = "id_ed25519"
	publicKeyFileName  = "id_ed25519.pub"
)

// SSHKeyProvider 进程级SSH密钥提供者
//
// 生成并持有整个服务实例共用的一对ed25519密钥，
// 公钥展示给用户注册到Git服务商。
type SSHKeyProvider struct {
	keyDir string

	mu         sync.Mutex
	privateKey string
	publicKey  string
}

// NewSSHKeyProvider 创建SSH密钥提供者
func NewSSHKeyProvider(keyDir string) *SSHKeyProvider {
	return &SSHKeyProvider{keyDir: keyDir}
}

// GetOrCreateKeypair 返回已有密钥对，不存在时生成。幂等。
func (p *SSHKeyProvider) GetOrCreateKeypair() (privateKey string, publicKey string, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.privateKey != "" {
		return p.privateKey, p.publicKey, nil
	}

	privatePath := filepath.Join(p.keyDir, privateKeyFileName)
	publicPath := filepath.Join(p.keyDir, publicKeyFileName)

	// 磁盘上已有密钥时直接加载
	if privateBytes, loadErr := os.ReadFile(privatePath); loadErr == nil {
		publicBytes, loadErr := os.ReadFile(publicPath)
		if loadErr != nil {
			return "", "", &KeyUnavailableError{Err: loadErr}
		}
		p.privateKey = string(privateBytes)
		p.publicKey = strings.TrimSpace(string(publicBytes))
		return p.privateKey, p.publicKey, nil
	}

	private, public, err := generateKeypair()
	if err != nil {
		return "", "", &KeyUnavailableError{Err: err}
	}

	if err := os.MkdirAll(p.keyDir, 0700); err != nil {
		return "", "", &KeyUnavailableError{Err: err}
	}
	// 私钥仅属主可读
	if err := os.WriteFile(privatePath, []byte(private), 0600); err != nil {
		return "", "", &KeyUnavailableError{Err: err}
	}
	if err := os.WriteFile(publicPath, []byte(public+"\n"), 0644); err != nil {
		return "", "", &KeyUnavailableError{Err: err}
	}

	logger.GetLogger().Infof("已生成新的SSH密钥对: %s", publicPath)

	p.privateKey = private
	p.publicKey = public
	return p.privateKey, p.publicKey, nil
}

// PublicKey 返回authorized_keys格式的公钥文本
func (p *SSHKeyProvider) PublicKey() (string, error) {
	_, public, err := p.GetOrCreateKeypair()
	if err != nil {
		return "", err
	}
	return public, nil
}

// generateKeypair 生成ed25519密钥对，返回OpenSSH格式私钥与公钥
func generateKeypair() (string, string, error) {
	public, private, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", "", fmt.Errorf("生成密钥失败: %v", err)
	}

	block, err := ssh.MarshalPrivateKey(private, "")
	if err != nil {
		return "", "", fmt.Errorf("序列化私钥失败: %v", err)
	}
	privatePEM := string(pem.EncodeToMemory(block))

	sshPublic, err := ssh.NewPublicKey(public)
	if err != nil {
		return "", "", fmt.Errorf("序列化公钥失败: %v", err)
	}
	authorizedKey := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(sshPublic)))

	return privatePEM, authorizedKey, nil
}
