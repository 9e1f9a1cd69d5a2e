package wechat

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha1"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrInvalidSignature  = errors.New("wechat: signature mismatch")
	ErrInvalidPadding    = errors.New("wechat: invalid pkcs7 padding")
	ErrInvalidCiphertext = errors.New("wechat: malformed ciphertext")
)

const blockSize = 32

// Crypto 企业微信回调消息的加解密与签名。
// EncodingAESKey为43位Base64（去掉了填充符），补一个'='后解码得到32字节密钥，
// IV取密钥前16字节
type Crypto struct {
	token  string
	aesKey []byte
	corpID string
}

func NewCrypto(token, encodingAESKey, corpID string) (*Crypto, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode aes key: %w", err)
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("aes key must decode to 32 bytes, got %d", len(key))
	}
	return &Crypto{token: token, aesKey: key, corpID: corpID}, nil
}

// Signature 对[token, timestamp, nonce, payload]字典序拼接后取SHA1
func (c *Crypto) Signature(timestamp, nonce, payload string) string {
	parts := []string{c.token, timestamp, nonce, payload}
	sort.Strings(parts)
	sum := sha1.Sum([]byte(strings.Join(parts, "")))
	return fmt.Sprintf("%x", sum)
}

// VerifyURL 处理回调地址校验：验签后解密echostr并返回明文
func (c *Crypto) VerifyURL(signature, timestamp, nonce, echostr string) (string, error) {
	if c.Signature(timestamp, nonce, echostr) != signature {
		return "", ErrInvalidSignature
	}
	message, _, err := c.Decrypt(echostr)
	return message, err
}

// Decrypt 解密回调密文，返回消息明文与receiveid
func (c *Crypto) Decrypt(encrypted string) (string, string, error) {
	ciphertext, err := base64.StdEncoding.DecodeString(encrypted)
	if err != nil {
		return "", "", fmt.Errorf("decode ciphertext: %w", err)
	}
	if len(ciphertext) == 0 || len(ciphertext)%aes.BlockSize != 0 {
		return "", "", ErrInvalidCiphertext
	}

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return "", "", err
	}

	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, c.aesKey[:16]).CryptBlocks(plaintext, ciphertext)

	plaintext, err = pkcs7Unpad(plaintext)
	if err != nil {
		return "", "", err
	}

	// 明文结构：16字节随机串 + 4字节网络序长度 + 消息体 + receiveid
	if len(plaintext) < 20 {
		return "", "", ErrInvalidCiphertext
	}
	msgLen := binary.BigEndian.Uint32(plaintext[16:20])
	if int(msgLen) > len(plaintext)-20 {
		return "", "", ErrInvalidCiphertext
	}
	message := string(plaintext[20 : 20+msgLen])
	receiveID := string(plaintext[20+msgLen:])

	return message, receiveID, nil
}

// EncryptedReply 加密后的回复体，直接作为回调响应的JSON
type EncryptedReply struct {
	Encrypt      string `json:"encrypt"`
	MsgSignature string `json:"msgsignature"`
	Timestamp    string `json:"timestamp"`
	Nonce        string `json:"nonce"`
}

// Encrypt 加密回复消息并生成签名
func (c *Crypto) Encrypt(message, timestamp, nonce string) (*EncryptedReply, error) {
	random := make([]byte, 16)
	if _, err := rand.Read(random); err != nil {
		return nil, err
	}

	msgBytes := []byte(message)
	msgLen := make([]byte, 4)
	binary.BigEndian.PutUint32(msgLen, uint32(len(msgBytes)))

	var plaintext []byte
	plaintext = append(plaintext, random...)
	plaintext = append(plaintext, msgLen...)
	plaintext = append(plaintext, msgBytes...)
	plaintext = append(plaintext, []byte(c.corpID)...)
	plaintext = pkcs7Pad(plaintext)

	block, err := aes.NewCipher(c.aesKey)
	if err != nil {
		return nil, err
	}

	ciphertext := make([]byte, len(plaintext))
	cipher.NewCBCEncrypter(block, c.aesKey[:16]).CryptBlocks(ciphertext, plaintext)

	encoded := base64.StdEncoding.EncodeToString(ciphertext)
	return &EncryptedReply{
		Encrypt:      encoded,
		MsgSignature: c.Signature(timestamp, nonce, encoded),
		Timestamp:    timestamp,
		Nonce:        nonce,
	}, nil
}

// pkcs7Pad 按32字节块填充；长度恰为块整数倍时补满一个完整填充块
func pkcs7Pad(data []byte) []byte {
	padLen := blockSize - len(data)%blockSize
	padding := make([]byte, padLen)
	for i := range padding {
		padding[i] = byte(padLen)
	}
	return append(data, padding...)
}

func pkcs7Unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, ErrInvalidPadding
	}
	padLen := int(data[len(data)-1])
	if padLen < 1 || padLen > blockSize || padLen > len(data) {
		return nil, ErrInvalidPadding
	}
	return data[:len(data)-padLen], nil
}
