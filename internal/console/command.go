package console

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Verb 是 console 命令的动作类别。
type Verb string

const (
	VerbAdd   Verb = "add"
	VerbDel   Verb = "del"
	VerbTrace Verb = "trace"
	VerbShow  Verb = "show"
	VerbLinks Verb = "links"
	VerbHelp  Verb = "help"
	VerbQuit  Verb = "quit"
)

var (
	// ErrEmptyCommand 表示该行没有可执行内容（空行或 # 注释）。
	ErrEmptyCommand = errors.New("empty command")
	// ErrUnknownVerb 表示动词无法识别。
	ErrUnknownVerb = errors.New("unknown command")
)

// Command 是解析后的一条 console 命令。
type Command struct {
	Verb   Verb
	Target string
	Weight int
}

// Parse 把一行输入解析为 Command。动词大小写不敏感，
// "exit" 按 quit 处理。地址合法性留给路由器校验。
func Parse(line string) (Command, error) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || strings.HasPrefix(trimmed, "#") {
		return Command{}, ErrEmptyCommand
	}

	fields := strings.Fields(trimmed)
	verb := Verb(strings.ToLower(fields[0]))
	args := fields[1:]

	switch verb {
	case VerbAdd:
		if len(args) != 2 {
			return Command{}, errors.New("usage: add <ip> <weight>")
		}
		weight, err := strconv.Atoi(args[1])
		if err != nil {
			return Command{}, fmt.Errorf("weight must be an integer: %q", args[1])
		}
		return Command{Verb: VerbAdd, Target: args[0], Weight: weight}, nil
	case VerbDel:
		if len(args) != 1 {
			return Command{}, errors.New("usage: del <ip>")
		}
		return Command{Verb: VerbDel, Target: args[0]}, nil
	case VerbTrace:
		if len(args) != 1 {
			return Command{}, errors.New("usage: trace <ip>")
		}
		return Command{Verb: VerbTrace, Target: args[0]}, nil
	case VerbShow, VerbLinks, VerbHelp:
		if len(args) != 0 {
			return Command{}, fmt.Errorf("usage: %s", verb)
		}
		return Command{Verb: verb}, nil
	case VerbQuit, Verb("exit"):
		return Command{Verb: VerbQuit}, nil
	default:
		return Command{}, fmt.Errorf("%w: %s", ErrUnknownVerb, fields[0])
	}
}
