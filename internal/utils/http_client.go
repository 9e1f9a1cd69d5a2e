package utils

import (
	"net/http"
	"time"
)

// NewHTTPClient 返回带连接池调优的HTTP客户端。
// 不设置整体Timeout，流式响应的读取时长由调用方的context控制
func NewHTTPClient() *http.Client {
	return &http.Client{
		Transport: &http.Transport{
			MaxIdleConns:        100,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		},
	}
}
