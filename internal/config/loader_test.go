package config

import (
	"testing"
	"time"
)

func TestLoadFailsWithMissingFile(t *testing.T) {
	if _, err := Load(testConfigPath(t, "absent.toml")); err == nil {
		t.Fatalf("显式路径缺文件应返回错误")
	}
}

func TestLoadRejectsInvalidDuration(t *testing.T) {
	cfg := `
LogLevel = "info"
UpdatePeriod = "boom"
`
	path := writeTempConfig(t, cfg)
	if _, err := Load(path); err == nil {
		t.Fatalf("无效 Duration 应失败")
	}
}

func TestLoadRejectsOutOfRangePort(t *testing.T) {
	if _, err := Load(testConfigPath(t, "invalid.toml")); err == nil {
		t.Fatalf("越界端口应当被拒绝")
	}
}

func TestLoadOrDefaultFallsBackWhenMissing(t *testing.T) {
	cfg, err := LoadOrDefault(testConfigPath(t, "absent.toml"))
	if err != nil {
		t.Fatalf("默认路径缺文件应退回默认配置: %v", err)
	}
	if cfg.Global.Port != DefaultPort {
		t.Fatalf("default port mismatch: %d", cfg.Global.Port)
	}
	if cfg.Global.UpdatePeriod.DurationValue() != 10*time.Second {
		t.Fatalf("default period mismatch: %v", cfg.Global.UpdatePeriod.DurationValue())
	}
	if cfg.Global.AgingFactor != DefaultAgingFactor {
		t.Fatalf("default aging factor mismatch: %d", cfg.Global.AgingFactor)
	}
}

func TestLoadOrDefaultReadsExistingFile(t *testing.T) {
	path := writeTempConfig(t, "UpdatePeriod = 2\n")
	cfg, err := LoadOrDefault(path)
	if err != nil {
		t.Fatalf("LoadOrDefault 返回错误: %v", err)
	}
	if cfg.Global.UpdatePeriod.DurationValue() != 2*time.Second {
		t.Fatalf("存在的文件应当被读取: %v", cfg.Global.UpdatePeriod.DurationValue())
	}
}

func TestParseDuration(t *testing.T) {
	testCases := []struct {
		name      string
		raw       string
		want      time.Duration
		shouldErr bool
	}{
		{"go duration", "30s", 30 * time.Second, false},
		{"minutes", "5m", 5 * time.Minute, false},
		{"bare seconds", "10", 10 * time.Second, false},
		{"fractional seconds", "0.5", 500 * time.Millisecond, false},
		{"empty means zero", "", 0, false},
		{"garbage", "boom", 0, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ParseDuration(tc.raw)
			if tc.shouldErr {
				if err == nil {
					t.Fatalf("expected error for %q", tc.raw)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error for %q: %v", tc.raw, err)
			}
			if got.DurationValue() != tc.want {
				t.Fatalf("parsed duration mismatch: %v", got.DurationValue())
			}
		})
	}
}
