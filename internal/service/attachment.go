package service

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/xuyupeng07/WeChatBot/internal/model"
	"github.com/xuyupeng07/WeChatBot/internal/wechat"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// RawAttachment 回调消息中的原始附件引用，尚未下载
type RawAttachment struct {
	Type string // image / file
	Name string
	URL  string
}

// AttachmentPreparer 下载附件、转存到public目录，
// 并生成AI后端可以直接拉取的公网URL
type AttachmentPreparer struct {
	downloader *wechat.MediaDownloader
	serverHost string
}

func NewAttachmentPreparer(downloader *wechat.MediaDownloader, serverHost string) *AttachmentPreparer {
	return &AttachmentPreparer{
		downloader: downloader,
		serverHost: serverHost,
	}
}

// Prepare 处理单个附件，返回可转交给AI请求的引用
func (p *AttachmentPreparer) Prepare(ctx context.Context, raw RawAttachment) (model.Attachment, error) {
	var localPath, subdir string
	var err error

	switch raw.Type {
	case "image":
		subdir = "images"
		localPath, err = p.downloader.SaveImage(ctx, raw.URL)
	case "file":
		subdir = "files"
		localPath, err = p.downloader.SaveFile(ctx, raw.URL)
	default:
		return model.Attachment{}, fmt.Errorf("unsupported attachment type: %s", raw.Type)
	}
	if err != nil {
		return model.Attachment{}, err
	}

	fileName := filepath.Base(localPath)
	name := raw.Name
	if name == "" {
		name = fileName
	}

	return model.Attachment{
		Type: raw.Type,
		Name: name,
		URL:  fmt.Sprintf("%s/public/%s/%s", p.serverHost, subdir, fileName),
	}, nil
}

// PrepareAll 逐个处理附件；单个失败降级为文本标记，不中断整批请求
func (p *AttachmentPreparer) PrepareAll(ctx context.Context, raws []RawAttachment) ([]model.Attachment, []string) {
	var prepared []model.Attachment
	var degraded []string

	for _, raw := range raws {
		att, err := p.Prepare(ctx, raw)
		if err != nil {
			logger.Warnf("附件处理失败, 降级为文本标记: %v", err)
			name := raw.Name
			if name == "" {
				name = raw.Type
			}
			degraded = append(degraded, fmt.Sprintf("[附件处理失败: %s]", name))
			continue
		}
		prepared = append(prepared, att)
	}

	return prepared, degraded
}
