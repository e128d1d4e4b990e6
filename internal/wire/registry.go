package wire

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

var globalRegistry = newRegistry()

// KindMetadata 记录一种报文类型的静态信息，供解码分发和诊断端使用。
type KindMetadata struct {
	Key         string
	Description string
	// Forwardable 为 false 的类型只被直接邻居消费，永不中继。
	Forwardable bool
	Decode      func(raw []byte) (Message, error)
}

type registry struct {
	mu    sync.RWMutex
	kinds map[string]KindMetadata
}

func newRegistry() *registry {
	return &registry{kinds: make(map[string]KindMetadata)}
}

// Register 将报文类型加入全局注册表，重复键会返回错误。
func Register(meta KindMetadata) error {
	return globalRegistry.register(meta)
}

// MustRegister 在注册失败时 panic，适合 init() 中调用。
func MustRegister(meta KindMetadata) {
	if err := Register(meta); err != nil {
		panic(err)
	}
}

// Resolve 返回指定键的类型元数据。
func Resolve(key string) (KindMetadata, bool) {
	return globalRegistry.resolve(key)
}

// List 返回按键排序的类型元数据列表。
func List() []KindMetadata {
	return globalRegistry.list()
}

// Keys 返回所有已注册类型的键值，供调试或诊断使用。
func Keys() []string {
	items := List()
	result := make([]string, len(items))
	for i, meta := range items {
		result[i] = meta.Key
	}
	return result
}

func (r *registry) normalizeKey(key string) string {
	return strings.ToLower(strings.TrimSpace(key))
}

func (r *registry) register(meta KindMetadata) error {
	key := r.normalizeKey(meta.Key)
	if key == "" {
		return fmt.Errorf("message kind key is required")
	}
	if meta.Decode == nil {
		return fmt.Errorf("message kind %s requires a decode func", key)
	}
	meta.Key = key

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.kinds[key]; exists {
		return fmt.Errorf("message kind %s already registered", key)
	}
	r.kinds[key] = meta
	return nil
}

func (r *registry) resolve(key string) (KindMetadata, bool) {
	if key == "" {
		return KindMetadata{}, false
	}
	normalized := r.normalizeKey(key)

	r.mu.RLock()
	defer r.mu.RUnlock()

	meta, ok := r.kinds[normalized]
	return meta, ok
}

func (r *registry) list() []KindMetadata {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if len(r.kinds) == 0 {
		return nil
	}

	keys := make([]string, 0, len(r.kinds))
	for key := range r.kinds {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	result := make([]KindMetadata, 0, len(keys))
	for _, key := range keys {
		result = append(result, r.kinds[key])
	}
	return result
}
