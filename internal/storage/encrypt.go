package storage

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	"github.com/containerd/errdefs"
	"golang.org/x/crypto/chacha20poly1305"
)

// Encryptor 资产文件的静态加密
//
// 使用 XChaCha20-Poly1305，随机 nonce 置于密文前部。摘要始终在
// 明文上计算，加密只改变落盘字节，不影响去重语义。
type Encryptor struct {
	key []byte
}

// NewEncryptor 以 32 字节密钥构造加密器
func NewEncryptor(key []byte) (*Encryptor, error) {
	if len(key) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("encryption key must be %d bytes, got %d: %w",
			chacha20poly1305.KeySize, len(key), errdefs.ErrInvalidArgument)
	}
	return &Encryptor{key: append([]byte(nil), key...)}, nil
}

// ParseKey 解析十六进制编码的密钥
func ParseKey(hexKey string) ([]byte, error) {
	key, err := hex.DecodeString(hexKey)
	if err != nil {
		return nil, fmt.Errorf("decoding encryption key: %w", errdefs.ErrInvalidArgument)
	}
	return key, nil
}

// Seal 加密明文，返回 nonce 拼接密文
func (e *Encryptor) Seal(plain []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("generating nonce: %w", err)
	}
	return aead.Seal(nonce, nonce, plain, nil), nil
}

// Open 解密并校验完整性
func (e *Encryptor) Open(sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(e.key)
	if err != nil {
		return nil, err
	}
	if len(sealed) < aead.NonceSize() {
		return nil, fmt.Errorf("ciphertext shorter than nonce: %w", errdefs.ErrInvalidArgument)
	}
	nonce, ciphertext := sealed[:aead.NonceSize()], sealed[aead.NonceSize():]
	plain, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decrypting: %w", errdefs.ErrInvalidArgument)
	}
	return plain, nil
}
