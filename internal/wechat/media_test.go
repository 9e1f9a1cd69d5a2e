package wechat

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDetectImageExt(t *testing.T) {
	jpg := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, make([]byte, 16)...)
	assert.Equal(t, "jpg", detectImageExt(jpg))

	png := append([]byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}, make([]byte, 16)...)
	assert.Equal(t, "png", detectImageExt(png))

	gif := append([]byte("GIF89a"), make([]byte, 16)...)
	assert.Equal(t, "gif", detectImageExt(gif))

	webp := append([]byte("RIFF\x00\x00\x00\x00WEBP"), make([]byte, 16)...)
	assert.Equal(t, "webp", detectImageExt(webp))

	assert.Equal(t, "", detectImageExt([]byte("plain text data here")))
	assert.Equal(t, "", detectImageExt([]byte("tiny")))
}

func TestDetectFileExt(t *testing.T) {
	t.Run("Content-Disposition优先", func(t *testing.T) {
		ext := detectFileExt([]byte("whatever"), "application/pdf", "http://x/y.txt",
			`attachment; filename="报告.docx"`)
		assert.Equal(t, "docx", ext)
	})

	t.Run("PDF魔数", func(t *testing.T) {
		assert.Equal(t, "pdf", detectFileExt([]byte("%PDF-1.7 ..."), "", "", ""))
	})

	t.Run("Content-Type映射", func(t *testing.T) {
		assert.Equal(t, "xlsx", detectFileExt([]byte("some data"),
			"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet", "", ""))
	})

	t.Run("URL后缀", func(t *testing.T) {
		assert.Equal(t, "csv", detectFileExt([]byte("a,b,c"), "application/octet-stream",
			"https://host/path/data.csv?sig=x", ""))
	})

	t.Run("纯文本回退", func(t *testing.T) {
		assert.Equal(t, "txt", detectFileExt([]byte("hello world"), "application/octet-stream", "", ""))
	})

	t.Run("二进制回退", func(t *testing.T) {
		assert.Equal(t, "bin", detectFileExt([]byte{0x00, 0x01, 0x02}, "application/octet-stream", "", ""))
	})
}

func encryptWithKey(t *testing.T, key, plaintext []byte) []byte {
	t.Helper()
	padded := pkcs7Pad(plaintext)
	block, err := aes.NewCipher(key)
	require.NoError(t, err)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, key[:16]).CryptBlocks(out, padded)
	return out
}

func TestSaveFileDecryptsEncryptedPayload(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	encodingKey := strings.TrimRight(base64.StdEncoding.EncodeToString(key), "=")

	content := []byte("file body: 会议纪要")
	encrypted := encryptWithKey(t, key, content)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Disposition", `attachment; filename="notes.txt"`)
		w.Write(encrypted)
	}))
	defer srv.Close()

	d, err := NewMediaDownloader(srv.Client(), encodingKey, t.TempDir())
	require.NoError(t, err)

	localPath, err := d.SaveFile(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(localPath, ".txt"))
}

func TestSaveFileFallsBackToRawOnDecryptFailure(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	encodingKey := strings.TrimRight(base64.StdEncoding.EncodeToString(key), "=")

	// 长度不是块整数倍，解密必然失败，应退回原始内容
	raw := []byte("plain unencrypted body")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(raw)
	}))
	defer srv.Close()

	d, err := NewMediaDownloader(srv.Client(), encodingKey, t.TempDir())
	require.NoError(t, err)

	localPath, err := d.SaveFile(context.Background(), srv.URL+"/file")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(localPath, ".txt"))
}

func TestSaveImageRejectsTinyPayload(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	encodingKey := strings.TrimRight(base64.StdEncoding.EncodeToString(key), "=")

	tiny := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0}, 16)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(tiny)
	}))
	defer srv.Close()

	d, err := NewMediaDownloader(srv.Client(), encodingKey, t.TempDir())
	require.NoError(t, err)

	_, err = d.SaveImage(context.Background(), srv.URL+"/img")
	assert.Error(t, err)
}

func TestSaveImageStoresValidImage(t *testing.T) {
	key := make([]byte, 32)
	_, err := rand.Read(key)
	require.NoError(t, err)
	encodingKey := strings.TrimRight(base64.StdEncoding.EncodeToString(key), "=")

	img := append([]byte{0xFF, 0xD8, 0xFF, 0xE0}, bytes.Repeat([]byte{0x55}, 2048)...)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/jpeg")
		w.Write(img)
	}))
	defer srv.Close()

	d, err := NewMediaDownloader(srv.Client(), encodingKey, t.TempDir())
	require.NoError(t, err)

	localPath, err := d.SaveImage(context.Background(), srv.URL+"/img")
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(localPath, ".jpg"))
}
