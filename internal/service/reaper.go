package service

import (
	"os"
	"path/filepath"
	"time"

	"github.com/xuyupeng07/WeChatBot/internal/config"
	"github.com/xuyupeng07/WeChatBot/internal/storage"
	"github.com/xuyupeng07/WeChatBot/pkg/logger"
)

// 附件落盘目录的清理周期比内存表更密
const fileCleanupInterval = time.Minute

// Reaper 周期性回收过期的会话、缓存、在途连接记账和临时附件文件。
// 会话按绝对年龄回收，不看最近活跃时间——长挂的流最终总会被清走
type Reaper struct {
	cfg   *config.Config
	store *storage.MemoryStore
}

func NewReaper(cfg *config.Config, store *storage.MemoryStore) *Reaper {
	return &Reaper{cfg: cfg, store: store}
}

// Run 阻塞运行直至stop关闭，通常放在独立goroutine里
func (r *Reaper) Run(stop <-chan struct{}) {
	memTicker := time.NewTicker(r.cfg.Engine.CleanupInterval)
	defer memTicker.Stop()
	fileTicker := time.NewTicker(fileCleanupInterval)
	defer fileTicker.Stop()

	logger.Infof("清理任务已启动, 内存周期 %s, 文件周期 %s",
		r.cfg.Engine.CleanupInterval, fileCleanupInterval)

	for {
		select {
		case <-memTicker.C:
			r.SweepMemory(time.Now())
		case <-fileTicker.C:
			r.SweepFiles(time.Now())
		case <-stop:
			logger.Info("清理任务已停止")
			return
		}
	}
}

// SweepMemory 清理一轮内存表，返回移除的条目总数
func (r *Reaper) SweepMemory(now time.Time) int {
	sessions := r.store.SweepSessions(now.Add(-r.cfg.Engine.SessionMaxAge))
	cache := r.store.SweepCache(now.Add(-r.cfg.AI.CacheTimeout))
	tracked := r.store.SweepTracked(now.Add(-r.cfg.AI.RequestTimeout))

	total := sessions + cache + tracked
	if total > 0 {
		logger.Infof("清理过期资源: 会话 %d, 缓存 %d, 连接 %d", sessions, cache, tracked)
	}
	return total
}

// SweepFiles 删除公开目录下超龄的附件文件，返回删除数量。
// 目录不存在或单个文件删除失败只记日志，不影响其余文件
func (r *Reaper) SweepFiles(now time.Time) int {
	cutoff := now.Add(-r.cfg.Engine.MaxFileAge)
	removed := 0
	for _, sub := range []string{"images", "files"} {
		dir := filepath.Join(r.cfg.Server.PublicDir, sub)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		for _, entry := range entries {
			if entry.IsDir() {
				continue
			}
			info, err := entry.Info()
			if err != nil {
				continue
			}
			if info.ModTime().After(cutoff) {
				continue
			}
			path := filepath.Join(dir, entry.Name())
			if err := os.Remove(path); err != nil {
				logger.Warnf("删除过期文件失败 %s: %v", path, err)
				continue
			}
			removed++
		}
	}
	if removed > 0 {
		logger.Infof("清理过期附件文件: %d 个", removed)
	}
	return removed
}
