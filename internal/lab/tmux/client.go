// Package tmux 封装实验编排所需的 tmux 子命令。
package tmux

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
)

// CommandRunner executes tmux commands, allowing fakes in tests.
type CommandRunner interface {
	Run(args []string) ([]byte, error)
}

// Client executes tmux commands through a CommandRunner.
type Client struct {
	runner CommandRunner
}

// NewClient returns a tmux client using the real tmux binary.
func NewClient() *Client {
	return &Client{runner: execRunner{}}
}

// NewClientWithRunner returns a tmux client using a custom command runner.
func NewClientWithRunner(runner CommandRunner) *Client {
	return &Client{runner: runner}
}

// Available reports whether a tmux binary can be found on PATH.
func Available() bool {
	_, err := exec.LookPath("tmux")
	return err == nil
}

// CreateSession creates a detached session whose first pane runs command.
func (c *Client) CreateSession(name string, command []string) error {
	args := []string{"new-session", "-d", "-s", name}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(args)
}

// CreatePane splits the target and runs command in the new pane.
func (c *Client) CreatePane(target string, command []string) error {
	args := []string{"split-window", "-d", "-t", target}
	if len(command) > 0 {
		args = append(args, "--")
		args = append(args, command...)
	}
	return c.run(args)
}

// SelectLayout applies a pane layout (typically "tiled") to the target window.
func (c *Client) SelectLayout(target, layout string) error {
	return c.run([]string{"select-layout", "-t", target, layout})
}

// PipePane mirrors pane output into a shell command, typically a file append.
func (c *Client) PipePane(target, command string) error {
	return c.run([]string{"pipe-pane", "-t", target, "-o", command})
}

// KillSession terminates the named session.
func (c *Client) KillSession(name string) error {
	return c.run([]string{"kill-session", "-t", name})
}

// HasSession reports whether the named session exists. A non-zero exit
// status means "no such session" rather than a failure.
func (c *Client) HasSession(name string) (bool, error) {
	if c == nil || c.runner == nil {
		return false, errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run([]string{"has-session", "-t", name})
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return false, nil
		}
		if len(output) > 0 {
			return false, fmt.Errorf("tmux has-session failed: %s", bytes.TrimSpace(output))
		}
		return false, fmt.Errorf("tmux has-session failed: %w", err)
	}
	return true, nil
}

func (c *Client) run(args []string) error {
	if c == nil || c.runner == nil {
		return errors.New("tmux runner unavailable")
	}
	output, err := c.runner.Run(args)
	if err != nil {
		if len(output) > 0 {
			return fmt.Errorf("tmux %s failed: %s", args[0], bytes.TrimSpace(output))
		}
		return fmt.Errorf("tmux %s failed: %w", args[0], err)
	}
	return nil
}

type execRunner struct{}

func (execRunner) Run(args []string) ([]byte, error) {
	return exec.Command("tmux", args...).CombinedOutput()
}
