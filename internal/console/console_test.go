package console

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/router"
	"github.com/udprip/udprip/internal/routing"
)

type fakeRouter struct {
	mu      sync.Mutex
	added   []string
	removed []string
	traced  []string
	failAdd error
}

func (f *fakeRouter) Address() string { return "127.0.1.1" }

func (f *fakeRouter) AddLink(address string, weight int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAdd != nil {
		return f.failAdd
	}
	f.added = append(f.added, fmt.Sprintf("%s %d", address, weight))
	return nil
}

func (f *fakeRouter) RemoveLink(address string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, address)
	return nil
}

func (f *fakeRouter) StartTrace(destination string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.traced = append(f.traced, destination)
	return nil
}

func (f *fakeRouter) Links() []routing.Link {
	return []routing.Link{{Address: "127.0.1.2", Weight: 10, LastSeen: time.Now()}}
}

func (f *fakeRouter) Routes() []routing.Route {
	return []routing.Route{
		{Destination: "127.0.1.4", Cost: 1, NextHops: []string{"127.0.1.4"}},
		{Destination: "127.0.1.1", Cost: 0, NextHops: []string{"127.0.1.1"}},
	}
}

func (f *fakeRouter) Status() router.Status {
	return router.Status{Address: "127.0.1.1", Port: 55151, Period: time.Second}
}

func (f *fakeRouter) calls() (added, removed, traced []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.added...),
		append([]string(nil), f.removed...),
		append([]string(nil), f.traced...)
}

func silentLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func newTestConsole(quit func()) (*Console, *fakeRouter, *bytes.Buffer) {
	fake := &fakeRouter{}
	out := &bytes.Buffer{}
	return New(fake, out, silentLogger(), quit), fake, out
}

func TestExecuteDelegatesToRouter(t *testing.T) {
	c, fake, out := newTestConsole(nil)

	c.ExecuteLine("add 127.0.1.2 10")
	c.ExecuteLine("del 127.0.1.4")
	c.ExecuteLine("trace 127.0.1.3")

	added, removed, traced := fake.calls()
	if len(added) != 1 || added[0] != "127.0.1.2 10" {
		t.Fatalf("AddLink 调用不符: %v", added)
	}
	if len(removed) != 1 || removed[0] != "127.0.1.4" {
		t.Fatalf("RemoveLink 调用不符: %v", removed)
	}
	if len(traced) != 1 || traced[0] != "127.0.1.3" {
		t.Fatalf("StartTrace 调用不符: %v", traced)
	}
	if out.Len() != 0 {
		t.Fatalf("成功的命令不应有输出: %q", out.String())
	}
}

func TestExecuteReportsRouterError(t *testing.T) {
	c, fake, out := newTestConsole(nil)
	fake.failAdd = errors.New("weight must be positive")

	c.ExecuteLine("add 127.0.1.2 0")

	if !strings.Contains(out.String(), "weight must be positive") {
		t.Fatalf("路由器错误应当打印给用户: %q", out.String())
	}
}

func TestExecuteReportsParseError(t *testing.T) {
	c, _, out := newTestConsole(nil)

	c.ExecuteLine("add 127.0.1.2")

	if !strings.Contains(out.String(), "usage: add") {
		t.Fatalf("解析错误应当带 usage 提示: %q", out.String())
	}
}

func TestExecuteQuitTriggersCallback(t *testing.T) {
	quitCalled := false
	c, _, _ := newTestConsole(func() { quitCalled = true })

	if done := c.ExecuteLine("quit"); !done {
		t.Fatalf("quit 应当结束会话")
	}
	if !quitCalled {
		t.Fatalf("quit 回调未触发")
	}
}

func TestShowPrintsRoutingTable(t *testing.T) {
	c, _, out := newTestConsole(nil)

	c.ExecuteLine("show")

	text := out.String()
	if !strings.Contains(text, "router 127.0.1.1 port 55151") {
		t.Fatalf("show 缺少节点标识:\n%s", text)
	}
	// 目的地按字典序排序。
	first := strings.Index(text, "127.0.1.1  ")
	second := strings.Index(text, "127.0.1.4")
	if first < 0 || second < 0 || first > second {
		t.Fatalf("路由排序不符:\n%s", text)
	}
}

func TestLinksPrintsNeighbors(t *testing.T) {
	c, _, out := newTestConsole(nil)

	c.ExecuteLine("links")

	if !strings.Contains(out.String(), "127.0.1.2") {
		t.Fatalf("links 输出缺少邻居:\n%s", out.String())
	}
}

func TestRunStopsAtQuit(t *testing.T) {
	c, fake, out := newTestConsole(nil)

	input := strings.NewReader("add 127.0.1.2 1\nquit\nadd 127.0.1.3 1\n")
	if err := c.Run(context.Background(), input); err != nil {
		t.Fatalf("Run 返回错误: %v", err)
	}

	added, _, _ := fake.calls()
	if len(added) != 1 {
		t.Fatalf("quit 之后的命令不应执行: %v", added)
	}
	if !strings.Contains(out.String(), "> ") {
		t.Fatalf("会话应当打印提示符: %q", out.String())
	}
}

func TestRunStopsAtEOF(t *testing.T) {
	c, fake, _ := newTestConsole(nil)

	if err := c.Run(context.Background(), strings.NewReader("add 127.0.1.2 1\n")); err != nil {
		t.Fatalf("Run 返回错误: %v", err)
	}
	added, _, _ := fake.calls()
	if len(added) != 1 {
		t.Fatalf("EOF 前的命令应当执行: %v", added)
	}
}

func writeTempScript(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "startup.cmds")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("写入脚本失败: %v", err)
	}
	return path
}

func TestPlayScript(t *testing.T) {
	c, fake, _ := newTestConsole(nil)
	path := writeTempScript(t, strings.Join([]string{
		"# 实验拓扑",
		"add 127.0.1.2 10",
		"",
		"bogus line",
		"quit",
		"add 127.0.1.4 1",
	}, "\n"))

	if err := c.PlayScript(path); err != nil {
		t.Fatalf("PlayScript 返回错误: %v", err)
	}

	added, _, _ := fake.calls()
	if len(added) != 2 || added[0] != "127.0.1.2 10" || added[1] != "127.0.1.4 1" {
		t.Fatalf("脚本回放结果不符: %v", added)
	}
}

func TestPlayScriptMissingFile(t *testing.T) {
	c, _, _ := newTestConsole(nil)
	if err := c.PlayScript(filepath.Join(t.TempDir(), "absent.cmds")); err == nil {
		t.Fatalf("文件不存在应当报错")
	}
}

func TestReplayAppendedConsumesOnlyCompleteLines(t *testing.T) {
	c, fake, _ := newTestConsole(nil)
	path := writeTempScript(t, "add 127.0.1.2 1\n")

	// 追加一条完整命令和一条没写完的半行。
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("打开脚本失败: %v", err)
	}
	if _, err := f.WriteString("add 127.0.1.4 2\nadd 127.0."); err != nil {
		t.Fatalf("追加失败: %v", err)
	}
	f.Close()

	offset := c.replayAppended(path, int64(len("add 127.0.1.2 1\n")))

	added, _, _ := fake.calls()
	if len(added) != 1 || added[0] != "127.0.1.4 2" {
		t.Fatalf("只应执行完整行: %v", added)
	}
	want := int64(len("add 127.0.1.2 1\nadd 127.0.1.4 2\n"))
	if offset != want {
		t.Fatalf("偏移应停在最后一个换行后: got %d want %d", offset, want)
	}
}

func TestReplayAppendedHandlesTruncation(t *testing.T) {
	c, fake, _ := newTestConsole(nil)
	path := writeTempScript(t, "add 127.0.1.9 7\n")

	// 以比旧偏移更小的内容覆写，模拟截断重写。
	offset := c.replayAppended(path, 1024)

	added, _, _ := fake.calls()
	if len(added) != 1 || added[0] != "127.0.1.9 7" {
		t.Fatalf("截断后应从头重放: %v", added)
	}
	if offset != int64(len("add 127.0.1.9 7\n")) {
		t.Fatalf("offset mismatch: %d", offset)
	}
}

func TestFollowExecutesAppendedCommands(t *testing.T) {
	c, fake, _ := newTestConsole(nil)
	path := writeTempScript(t, "# seed\n")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	followDone := make(chan error, 1)
	go func() { followDone <- c.Follow(ctx, path) }()

	// 等 watcher 就位后再追加。
	time.Sleep(100 * time.Millisecond)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("打开脚本失败: %v", err)
	}
	if _, err := f.WriteString("add 127.0.1.2 3\n"); err != nil {
		t.Fatalf("追加失败: %v", err)
	}
	f.Close()

	deadline := time.Now().Add(2 * time.Second)
	for {
		added, _, _ := fake.calls()
		if len(added) == 1 && added[0] == "127.0.1.2 3" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("追加的命令未被执行: %v", added)
		}
		time.Sleep(20 * time.Millisecond)
	}

	cancel()
	select {
	case err := <-followDone:
		if err != nil {
			t.Fatalf("Follow 返回错误: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("Follow 未随 ctx 退出")
	}
}
