package lab

import (
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// Workspace 是一次实验运行的落盘根目录，所有生成物都收在它下面，
// 互不相扰也方便事后清理。
type Workspace struct {
	root string
}

// NewWorkspace 在 base 下为 runID 创建运行目录。
func NewWorkspace(base, runID string) (*Workspace, error) {
	if base == "" {
		return nil, errors.New("workspace path required")
	}
	if runID == "" {
		return nil, errors.New("run id required")
	}

	abs, err := filepath.Abs(base)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace path: %w", err)
	}

	root := filepath.Join(abs, runID)
	if err := os.MkdirAll(root, 0o755); err != nil {
		return nil, fmt.Errorf("create workspace: %w", err)
	}

	return &Workspace{root: root}, nil
}

// Root 返回运行目录的绝对路径。
func (w *Workspace) Root() string { return w.root }

// Path 把相对路径映射到运行目录内，拒绝逃逸到目录外的路径。
func (w *Workspace) Path(rel string) (string, error) {
	if rel == "" {
		return "", errors.New("relative path required")
	}

	cleaned := strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(rel)), "/")
	if cleaned == "" {
		return "", errors.New("relative path required")
	}

	full := filepath.Join(w.root, filepath.FromSlash(cleaned))
	if full != w.root && !strings.HasPrefix(full, w.root+string(filepath.Separator)) {
		return "", fmt.Errorf("path escapes workspace: %s", rel)
	}
	return full, nil
}

// WriteFile 原子地写入运行目录内的文件：先写临时文件再改名，
// 避免路由器读到半截配置。必要的父目录会一并创建。
func (w *Workspace) WriteFile(rel string, data []byte) (string, error) {
	full, err := w.Path(rel)
	if err != nil {
		return "", err
	}

	dir := filepath.Dir(full)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}

	tempFile, err := os.CreateTemp(dir, ".lab-*")
	if err != nil {
		return "", err
	}
	tempName := tempFile.Name()

	_, writeErr := tempFile.Write(data)
	closeErr := tempFile.Close()
	if writeErr == nil {
		writeErr = closeErr
	}
	if writeErr != nil {
		os.Remove(tempName)
		return "", writeErr
	}

	if err := os.Rename(tempName, full); err != nil {
		os.Remove(tempName)
		return "", err
	}
	return full, nil
}
