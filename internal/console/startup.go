package console

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"
)

// PlayScript 回放启动脚本：逐行执行，空行与 # 注释跳过。
// 单行失败只记日志不中断，脚本后面的链路声明仍然生效。
func (c *Console) PlayScript(path string) error {
	file, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open startup script: %w", err)
	}
	defer file.Close()

	c.playFrom(file, path)
	return nil
}

func (c *Console) playFrom(r io.Reader, origin string) {
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		cmd, err := Parse(scanner.Text())
		if err != nil {
			if errors.Is(err, ErrEmptyCommand) {
				continue
			}
			c.warn("startup_line_rejected", origin, lineNo, err)
			continue
		}
		// 脚本里不接受 quit，防止半路放倒进程。
		if cmd.Verb == VerbQuit {
			c.warn("startup_quit_ignored", origin, lineNo, nil)
			continue
		}
		c.Execute(cmd)
	}
	if err := scanner.Err(); err != nil {
		c.warn("startup_read_failed", origin, lineNo, err)
	}
}

// Follow 监视启动脚本文件，把新追加的完整行当作命令执行，
// 用于在运行期通过编辑文件注入拓扑变更。阻塞到 ctx 取消。
func (c *Console) Follow(ctx context.Context, path string) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer watcher.Close()

	if err := watcher.Add(path); err != nil {
		return fmt.Errorf("watch %s: %w", path, err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fmt.Errorf("stat %s: %w", path, err)
	}
	offset := info.Size()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Write) {
				continue
			}
			offset = c.replayAppended(path, offset)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			if c.logger != nil {
				c.logger.WithFields(logrus.Fields{
					"action": "follow_watch_error",
					"file":   path,
				}).WithError(err).Warn("脚本监视出错")
			}
		}
	}
}

// replayAppended 执行 offset 之后新追加的内容，只消费完整行，
// 返回新的偏移。文件被截断时从头重放。
func (c *Console) replayAppended(path string, offset int64) int64 {
	file, err := os.Open(path)
	if err != nil {
		c.warn("follow_open_failed", path, 0, err)
		return offset
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return offset
	}
	size := info.Size()
	if size < offset {
		offset = 0
	}
	if size == offset {
		return offset
	}

	if _, err := file.Seek(offset, io.SeekStart); err != nil {
		return offset
	}
	buf := make([]byte, size-offset)
	if _, err := io.ReadFull(file, buf); err != nil {
		return offset
	}

	cut := bytes.LastIndexByte(buf, '\n')
	if cut < 0 {
		// 行还没写完整，等下一个事件。
		return offset
	}
	c.playFrom(bytes.NewReader(buf[:cut+1]), path)
	return offset + int64(cut) + 1
}

func (c *Console) warn(action, origin string, lineNo int, err error) {
	if c.logger == nil {
		return
	}
	fields := logrus.Fields{
		"action": action,
		"file":   origin,
	}
	if lineNo > 0 {
		fields["line"] = lineNo
	}
	entry := c.logger.WithFields(fields)
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("启动脚本处理异常")
}
