package wechat

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"encoding/base64"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

const browserUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

var filenamePattern = regexp.MustCompile(`filename=["']?([^"';]+)["']?`)

// MediaDownloader 拉取回调附件并落盘到public目录。
// 文件素材按文档总是AES-256-CBC加密（密钥与回调加解密相同，IV取前16字节）；
// 图片链接偶尔也会返回密文，按内容探测后决定是否解密
type MediaDownloader struct {
	client    *http.Client
	aesKey    []byte
	publicDir string
}

func NewMediaDownloader(client *http.Client, encodingAESKey, publicDir string) (*MediaDownloader, error) {
	key, err := base64.StdEncoding.DecodeString(encodingAESKey + "=")
	if err != nil {
		return nil, fmt.Errorf("decode aes key: %w", err)
	}
	return &MediaDownloader{
		client:    client,
		aesKey:    key,
		publicDir: publicDir,
	}, nil
}

func (d *MediaDownloader) fetch(ctx context.Context, rawURL string, timeout time.Duration) ([]byte, http.Header, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, nil, err
	}
	// COS链接对UA/Referer敏感，模拟浏览器访问
	req.Header.Set("User-Agent", browserUserAgent)
	req.Header.Set("Referer", "https://work.weixin.qq.com/")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, nil, fmt.Errorf("download %s: HTTP %d", rawURL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil, err
	}
	return data, resp.Header, nil
}

// SaveImage 下载图片，必要时解密，保存到public/images并返回本地路径
func (d *MediaDownloader) SaveImage(ctx context.Context, imageURL string) (string, error) {
	data, header, err := d.fetch(ctx, imageURL, 20*time.Second)
	if err != nil {
		return "", fmt.Errorf("fetch image: %w", err)
	}

	contentType := strings.ToLower(header.Get("Content-Type"))
	if !strings.HasPrefix(contentType, "image/") && detectImageExt(data) == "" {
		decrypted, derr := d.decryptMedia(data)
		if derr != nil {
			return "", fmt.Errorf("decrypt image: %w", derr)
		}
		data = decrypted
	}

	ext := detectImageExt(data)
	if ext == "" {
		ext = "jpg"
	}

	localPath, err := d.save("images", ext, data)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(localPath); err != nil || info.Size() < 1000 {
		return "", fmt.Errorf("downloaded image too small or invalid")
	}
	return localPath, nil
}

// SaveFile 下载并解密文件素材，保存到public/files并返回本地路径
func (d *MediaDownloader) SaveFile(ctx context.Context, fileURL string) (string, error) {
	data, header, err := d.fetch(ctx, fileURL, 60*time.Second)
	if err != nil {
		return "", fmt.Errorf("fetch file: %w", err)
	}

	decrypted, derr := d.decryptMedia(data)
	if derr != nil {
		// 密钥不匹配或文件本身未加密时退回原始数据
		logger.Warnf("文件解密失败，按未加密内容处理: %v", derr)
		decrypted = data
	}

	ext := detectFileExt(decrypted, strings.ToLower(header.Get("Content-Type")), fileURL, header.Get("Content-Disposition"))
	localPath, err := d.save("files", ext, decrypted)
	if err != nil {
		return "", err
	}
	if info, err := os.Stat(localPath); err != nil || info.Size() == 0 {
		return "", fmt.Errorf("downloaded file is empty or invalid")
	}
	return localPath, nil
}

func (d *MediaDownloader) save(subdir, ext string, data []byte) (string, error) {
	dir := filepath.Join(d.publicDir, subdir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", err
	}
	name := fmt.Sprintf("%s.%s", uuid.NewString(), ext)
	localPath := filepath.Join(dir, name)
	if err := os.WriteFile(localPath, data, 0644); err != nil {
		return "", err
	}
	return localPath, nil
}

func (d *MediaDownloader) decryptMedia(data []byte) ([]byte, error) {
	if len(data) == 0 || len(data)%aes.BlockSize != 0 {
		return nil, ErrInvalidCiphertext
	}
	block, err := aes.NewCipher(d.aesKey)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(data))
	cipher.NewCBCDecrypter(block, d.aesKey[:16]).CryptBlocks(plaintext, data)
	return pkcs7Unpad(plaintext)
}

// detectImageExt 基于魔数识别图片格式，识别不出返回空串
func detectImageExt(buf []byte) string {
	if len(buf) < 12 {
		return ""
	}
	switch {
	case buf[0] == 0xFF && buf[1] == 0xD8 && buf[2] == 0xFF:
		return "jpg"
	case bytes.HasPrefix(buf, []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}):
		return "png"
	case bytes.HasPrefix(buf, []byte("GIF87a")) || bytes.HasPrefix(buf, []byte("GIF89a")):
		return "gif"
	case bytes.HasPrefix(buf, []byte("RIFF")) && bytes.Equal(buf[8:12], []byte("WEBP")):
		return "webp"
	}
	return ""
}

var mimeExtMap = map[string]string{
	"application/pdf":    "pdf",
	"application/msword": "doc",
	"application/vnd.openxmlformats-officedocument.wordprocessingml.document": "docx",
	"application/vnd.ms-excel": "xls",
	"application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":         "xlsx",
	"application/vnd.ms-powerpoint":                                             "ppt",
	"application/vnd.openxmlformats-officedocument.presentationml.presentation": "pptx",
	"text/plain":       "txt",
	"text/markdown":    "md",
	"text/csv":         "csv",
	"image/jpeg":       "jpg",
	"image/png":        "png",
	"image/gif":        "gif",
	"application/json": "json",
	"application/xml":  "xml",
}

// detectFileExt 依次尝试Content-Disposition文件名、内容魔数、
// Content-Type映射、URL路径后缀，最后探测是否纯文本
func detectFileExt(buf []byte, contentType, rawURL, contentDisposition string) string {
	if contentDisposition != "" {
		if match := filenamePattern.FindStringSubmatch(contentDisposition); len(match) == 2 {
			if ext := strings.TrimPrefix(path.Ext(match[1]), "."); ext != "" {
				return ext
			}
		}
	}

	if ext := detectImageExt(buf); ext != "" {
		return ext
	}
	if bytes.HasPrefix(buf, []byte("%PDF")) {
		return "pdf"
	}

	if ext, ok := mimeExtMap[contentType]; ok {
		return ext
	}

	if u, err := url.Parse(rawURL); err == nil {
		if ext := strings.TrimPrefix(path.Ext(u.Path), "."); ext != "" {
			return ext
		}
	}

	if isText(buf) {
		return "txt"
	}
	return "bin"
}

// isText 检查前1000字节内是否出现NUL
func isText(buf []byte) bool {
	checkLen := len(buf)
	if checkLen > 1000 {
		checkLen = 1000
	}
	return !bytes.ContainsRune(buf[:checkLen], 0)
}
