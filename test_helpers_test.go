package main

import (
	"net"
	"os"
	"path/filepath"
	"runtime"
	"testing"
)

// configFixture 返回 internal/config/testdata 下的夹具路径。
func configFixture(t *testing.T, name string) string {
	t.Helper()

	_, file, _, ok := runtime.Caller(0)
	if !ok {
		t.Fatal("无法定位测试文件")
	}
	root := filepath.Dir(file)
	path := filepath.Join(root, "internal", "config", "testdata", name)
	if name != "missing.toml" {
		if _, err := os.Stat(path); err != nil {
			t.Fatalf("夹具不存在: %v", err)
		}
	}
	return path
}

// freeUDPPort 申请一个当前空闲的 UDP 端口。
func freeUDPPort(t *testing.T) int {
	t.Helper()

	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("无法申请空闲端口: %v", err)
	}
	defer conn.Close()
	return conn.LocalAddr().(*net.UDPAddr).Port
}
