package routing

import (
	"sort"
	"sync"
	"time"
)

// Link 是 LinkTable 对外的只读快照条目。
type Link struct {
	Address  string
	Weight   int
	LastSeen time.Time
}

// LinkTable 记录直连邻居及其最近活跃时间。
type LinkTable struct {
	mu    sync.RWMutex
	links map[string]Link
	now   func() time.Time
}

// NewLinkTable 创建一张空的邻居表。
func NewLinkTable() *LinkTable {
	return &LinkTable{
		links: make(map[string]Link),
		now:   time.Now,
	}
}

// Add 登记或覆盖一条直连链路，时间戳重置为当前时刻。
func (lt *LinkTable) Add(address string, weight int) {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	lt.links[address] = Link{Address: address, Weight: weight, LastSeen: lt.now()}
}

// Remove 摘除一条链路，返回它此前是否存在。
func (lt *LinkTable) Remove(address string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	_, ok := lt.links[address]
	delete(lt.links, address)
	return ok
}

// Weight 返回链路权重；未知邻居返回 ok=false。
func (lt *LinkTable) Weight(address string) (int, bool) {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	link, ok := lt.links[address]
	return link.Weight, ok
}

// Touch 刷新邻居的活跃时间戳，陌生地址不产生任何效果。
func (lt *LinkTable) Touch(address string) bool {
	lt.mu.Lock()
	defer lt.mu.Unlock()
	link, ok := lt.links[address]
	if !ok {
		return false
	}
	link.LastSeen = lt.now()
	lt.links[address] = link
	return true
}

// Expire 摘除超过 maxAge 未活跃的邻居，按地址排序返回被摘除者。
func (lt *LinkTable) Expire(maxAge time.Duration) []string {
	lt.mu.Lock()
	defer lt.mu.Unlock()

	deadline := lt.now().Add(-maxAge)
	var dead []string
	for address, link := range lt.links {
		if link.LastSeen.Before(deadline) {
			dead = append(dead, address)
		}
	}
	for _, address := range dead {
		delete(lt.links, address)
	}
	sort.Strings(dead)
	return dead
}

// Neighbors 返回按地址排序的邻居列表。
func (lt *LinkTable) Neighbors() []string {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	result := make([]string, 0, len(lt.links))
	for address := range lt.links {
		result = append(result, address)
	}
	sort.Strings(result)
	return result
}

// Snapshot 返回按地址排序的链路副本，供 show/诊断端输出。
func (lt *LinkTable) Snapshot() []Link {
	lt.mu.RLock()
	defer lt.mu.RUnlock()

	result := make([]Link, 0, len(lt.links))
	for _, link := range lt.links {
		result = append(result, link)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Address < result[j].Address })
	return result
}

// Len 返回当前邻居数量。
func (lt *LinkTable) Len() int {
	lt.mu.RLock()
	defer lt.mu.RUnlock()
	return len(lt.links)
}
