package wechat

import (
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testAESKey(t *testing.T) string {
	t.Helper()
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	// EncodingAESKey是去掉填充符的43位Base64
	return strings.TrimRight(base64.StdEncoding.EncodeToString(key), "=")
}

func newTestCrypto(t *testing.T) *Crypto {
	t.Helper()
	c, err := NewCrypto("test-token", testAESKey(t), "corp123")
	require.NoError(t, err)
	return c
}

func TestNewCryptoRejectsBadKey(t *testing.T) {
	_, err := NewCrypto("token", "too-short", "corp")
	assert.Error(t, err)
}

func TestEncryptDecryptRoundtrip(t *testing.T) {
	c := newTestCrypto(t)

	msg := `{"msgtype":"text","text":{"content":"你好，世界"}}`
	reply, err := c.Encrypt(msg, "1700000000", "nonce1")
	require.NoError(t, err)
	assert.NotEmpty(t, reply.Encrypt)
	assert.Equal(t, "1700000000", reply.Timestamp)
	assert.Equal(t, "nonce1", reply.Nonce)

	// 签名覆盖密文本身
	assert.Equal(t, c.Signature("1700000000", "nonce1", reply.Encrypt), reply.MsgSignature)

	plaintext, receiveID, err := c.Decrypt(reply.Encrypt)
	require.NoError(t, err)
	assert.Equal(t, msg, plaintext)
	assert.Equal(t, "corp123", receiveID)
}

func TestSignatureOrderIndependent(t *testing.T) {
	c := newTestCrypto(t)
	// 字典序拼接，参数顺序不影响结果
	assert.Equal(t,
		c.Signature("111", "222", "payload"),
		c.Signature("111", "222", "payload"))
	assert.NotEqual(t,
		c.Signature("111", "222", "payload"),
		c.Signature("111", "222", "other"))
}

func TestVerifyURL(t *testing.T) {
	c := newTestCrypto(t)

	reply, err := c.Encrypt("echo-plaintext", "1700000000", "nonce1")
	require.NoError(t, err)

	signature := c.Signature("1700000000", "nonce1", reply.Encrypt)
	plaintext, err := c.VerifyURL(signature, "1700000000", "nonce1", reply.Encrypt)
	require.NoError(t, err)
	assert.Equal(t, "echo-plaintext", plaintext)

	_, err = c.VerifyURL("wrong-signature", "1700000000", "nonce1", reply.Encrypt)
	assert.ErrorIs(t, err, ErrInvalidSignature)
}

func TestDecryptRejectsGarbage(t *testing.T) {
	c := newTestCrypto(t)

	_, _, err := c.Decrypt("not base64 !!!")
	assert.Error(t, err)

	_, _, err = c.Decrypt(base64.StdEncoding.EncodeToString([]byte("short")))
	assert.ErrorIs(t, err, ErrInvalidCiphertext)
}

func TestPKCS7PadFullBlockAtBoundary(t *testing.T) {
	// 长度恰为块整数倍时补满一个完整填充块
	data := make([]byte, 64)
	padded := pkcs7Pad(data)
	assert.Len(t, padded, 96)
	assert.Equal(t, byte(32), padded[len(padded)-1])

	unpadded, err := pkcs7Unpad(padded)
	require.NoError(t, err)
	assert.Len(t, unpadded, 64)
}

func TestPKCS7PadArbitraryLength(t *testing.T) {
	data := make([]byte, 10)
	padded := pkcs7Pad(data)
	assert.Len(t, padded, 32)
	assert.Equal(t, byte(22), padded[len(padded)-1])

	unpadded, err := pkcs7Unpad(padded)
	require.NoError(t, err)
	assert.Len(t, unpadded, 10)
}

func TestPKCS7UnpadRejectsInvalid(t *testing.T) {
	_, err := pkcs7Unpad(nil)
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = pkcs7Unpad([]byte{0})
	assert.ErrorIs(t, err, ErrInvalidPadding)

	_, err = pkcs7Unpad([]byte{99})
	assert.ErrorIs(t, err, ErrInvalidPadding)
}
