package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/udprip/udprip/internal/router"
	"github.com/udprip/udprip/internal/routing"
)

// RouterControl 是 console 操纵路由器所需的最小能力面。
type RouterControl interface {
	Address() string
	AddLink(address string, weight int) error
	RemoveLink(address string) error
	StartTrace(destination string) error
	Links() []routing.Link
	Routes() []routing.Route
	Status() router.Status
}

// Console 驱动一台路由器的交互会话。
type Console struct {
	node   RouterControl
	out    io.Writer
	logger *logrus.Logger

	// quit 在用户输入 quit 时触发，通常挂接进程级 cancel。
	quit func()
}

// New 构建 console。quit 允许为 nil。
func New(node RouterControl, out io.Writer, logger *logrus.Logger, quit func()) *Console {
	return &Console{node: node, out: out, logger: logger, quit: quit}
}

// Run 逐行读取 in 并执行，直到 EOF、quit 命令或 ctx 取消。
func (c *Console) Run(ctx context.Context, in io.Reader) error {
	lines := make(chan string)
	scanErr := make(chan error, 1)
	go func() {
		scanner := bufio.NewScanner(in)
		for scanner.Scan() {
			select {
			case lines <- scanner.Text():
			case <-ctx.Done():
				return
			}
		}
		scanErr <- scanner.Err()
		close(lines)
	}()

	c.prompt()
	for {
		select {
		case <-ctx.Done():
			return nil
		case line, ok := <-lines:
			if !ok {
				return <-scanErr
			}
			if c.ExecuteLine(line) {
				return nil
			}
			c.prompt()
		}
	}
}

// ExecuteLine 解析并执行一行输入，返回是否应当结束会话。
// 空行与注释静默跳过，解析失败打印错误但不中断。
func (c *Console) ExecuteLine(line string) bool {
	cmd, err := Parse(line)
	if err != nil {
		if !errors.Is(err, ErrEmptyCommand) {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
		return false
	}
	return c.Execute(cmd)
}

// Execute 执行单条命令，返回是否应当结束会话。
func (c *Console) Execute(cmd Command) bool {
	switch cmd.Verb {
	case VerbAdd:
		if err := c.node.AddLink(cmd.Target, cmd.Weight); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	case VerbDel:
		if err := c.node.RemoveLink(cmd.Target); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	case VerbTrace:
		if err := c.node.StartTrace(cmd.Target); err != nil {
			fmt.Fprintf(c.out, "error: %v\n", err)
		}
	case VerbShow:
		c.printRoutes()
	case VerbLinks:
		c.printLinks()
	case VerbHelp:
		c.printHelp()
	case VerbQuit:
		if c.quit != nil {
			c.quit()
		}
		return true
	}
	return false
}

func (c *Console) prompt() {
	fmt.Fprint(c.out, "> ")
}

func (c *Console) printRoutes() {
	status := c.node.Status()
	fmt.Fprintf(c.out, "router %s port %d period %s\n", status.Address, status.Port, status.Period)

	routes := c.node.Routes()
	sort.Slice(routes, func(i, j int) bool { return routes[i].Destination < routes[j].Destination })

	w := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "DESTINATION\tCOST\tNEXT HOPS")
	for _, route := range routes {
		fmt.Fprintf(w, "%s\t%d\t%s\n", route.Destination, route.Cost, strings.Join(route.NextHops, ","))
	}
	w.Flush()
}

func (c *Console) printLinks() {
	links := c.node.Links()
	sort.Slice(links, func(i, j int) bool { return links[i].Address < links[j].Address })

	w := tabwriter.NewWriter(c.out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NEIGHBOR\tWEIGHT\tLAST SEEN")
	for _, link := range links {
		fmt.Fprintf(w, "%s\t%d\t%s ago\n", link.Address, link.Weight, time.Since(link.LastSeen).Round(time.Second))
	}
	w.Flush()
}

func (c *Console) printHelp() {
	fmt.Fprint(c.out, ""+
		"add <ip> <weight>  建立到邻居的链路\n"+
		"del <ip>           拆除到邻居的链路\n"+
		"trace <ip>         探测到目的地的路径\n"+
		"show               打印路由表\n"+
		"links              打印链路表\n"+
		"quit               退出\n")
}
