package routing

import (
	"math/rand/v2"
	"sort"
	"sync"
)

// Route 是路由表对外的只读快照条目，NextHops 已排序。
type Route struct {
	Destination string
	Cost        int
	NextHops    []string
}

type route struct {
	cost int
	hops map[string]struct{}
}

// Table 是距离向量路由表。除自身路由外，所有条目都来自
// AddDirect（直连链路）或 Learn（邻居通告）。
type Table struct {
	mu     sync.Mutex
	self   string
	routes map[string]*route
	pick   func(n int) int
}

// NewTable 创建以 self 为本机地址的路由表，自身路由开销为 0。
func NewTable(self string) *Table {
	t := &Table{
		self:   self,
		routes: make(map[string]*route),
		pick:   rand.IntN,
	}
	t.routes[self] = &route{cost: 0, hops: map[string]struct{}{self: {}}}
	return t
}

// Self 返回本机地址。
func (t *Table) Self() string { return t.self }

// NextHop 在目的地的等价下一跳集合中随机选出一个。
func (t *Table) NextHop(destination string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.routes[destination]
	if !ok {
		return "", false
	}
	hops := sortedHops(entry.hops)
	return hops[t.pick(len(hops))], true
}

// Distance 返回到目的地的当前开销。
func (t *Table) Distance(destination string) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	entry, ok := t.routes[destination]
	if !ok {
		return 0, false
	}
	return entry.cost, true
}

// Export 构造发往 neighbor 的距离向量。水平分割：任何会经由
// neighbor 转发的目的地都不出现在向量里，自身路由始终在内。
func (t *Table) Export(neighbor string) map[string]int {
	t.mu.Lock()
	defer t.mu.Unlock()

	vector := make(map[string]int, len(t.routes))
	for destination, entry := range t.routes {
		if _, via := entry.hops[neighbor]; via {
			continue
		}
		vector[destination] = entry.cost
	}
	return vector
}

// Learn 吸收邻居 neighbor 通告的距离向量，weight 是到该邻居的链路权重。
// 先做 Bellman-Ford 松弛（更优替换、等价并入），再对向量中开销抬升的
// 目的地摘除该邻居，集合清空的条目整体删除。
func (t *Table) Learn(neighbor string, weight int, vector map[string]int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for destination, advertised := range vector {
		total := weight + advertised
		entry, ok := t.routes[destination]
		switch {
		case !ok || total < entry.cost:
			t.routes[destination] = &route{cost: total, hops: map[string]struct{}{neighbor: {}}}
		case total == entry.cost:
			entry.hops[neighbor] = struct{}{}
		}
	}

	for destination, entry := range t.routes {
		if destination == t.self {
			continue
		}
		if _, via := entry.hops[neighbor]; !via {
			continue
		}
		advertised, ok := vector[destination]
		if !ok || weight+advertised <= entry.cost {
			continue
		}
		delete(entry.hops, neighbor)
		if len(entry.hops) == 0 {
			delete(t.routes, destination)
		}
	}
}

// PurgeHop 把 ip 从所有下一跳集合中摘除，集合清空的条目整体删除。
// 用于链路被删除或邻居老化之后。
func (t *Table) PurgeHop(ip string) {
	if ip == t.self {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	for destination, entry := range t.routes {
		delete(entry.hops, ip)
		if len(entry.hops) == 0 {
			delete(t.routes, destination)
		}
	}
}

// AddDirect 无条件登记一条直连路由，覆盖任何已学到的路径。
func (t *Table) AddDirect(ip string, weight int) {
	if ip == t.self {
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.routes[ip] = &route{cost: weight, hops: map[string]struct{}{ip: {}}}
}

// Snapshot 返回按目的地排序的路由副本，供 show/诊断端输出。
func (t *Table) Snapshot() []Route {
	t.mu.Lock()
	defer t.mu.Unlock()

	result := make([]Route, 0, len(t.routes))
	for destination, entry := range t.routes {
		result = append(result, Route{
			Destination: destination,
			Cost:        entry.cost,
			NextHops:    sortedHops(entry.hops),
		})
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Destination < result[j].Destination })
	return result
}

// Len 返回路由条目数量（含自身路由）。
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.routes)
}

func sortedHops(hops map[string]struct{}) []string {
	result := make([]string, 0, len(hops))
	for hop := range hops {
		result = append(result, hop)
	}
	sort.Strings(result)
	return result
}
