package models

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/poqudrof/Locrits-sub000/src/cache"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// CachedLLM wraps an Agent and caches the text of Generate calls by prompt.
// With a FilePath the cache survives restarts.
type CachedLLM struct {
	Agent    Agent
	Cache    *cache.LRUCache
	FilePath string
}

// NewCachedLLM creates a new CachedLLM wrapper.
func NewCachedLLM(agent Agent, size int, ttl time.Duration, filePath string) *CachedLLM {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	c := &CachedLLM{
		Agent:    agent,
		Cache:    cache.NewLRUCache(size, ttl),
		FilePath: filePath,
	}
	if filePath != "" {
		c.load()
	}
	return c
}

func (c *CachedLLM) load() {
	raw, err := os.ReadFile(c.FilePath)
	if err != nil {
		return // missing file starts empty
	}
	var dump map[string]cache.CacheEntry
	if err := json.Unmarshal(raw, &dump); err == nil {
		c.Cache.Restore(dump)
	}
}

func (c *CachedLLM) save() {
	if c.FilePath == "" {
		return
	}
	raw, err := json.Marshal(c.Cache.Dump())
	if err != nil {
		return
	}
	if dir := filepath.Dir(c.FilePath); dir != "" {
		_ = os.MkdirAll(dir, 0o755)
	}
	// write to temp, then rename
	tmp := c.FilePath + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return
	}
	_ = os.Rename(tmp, c.FilePath)
}

// Generate checks the cache before calling the underlying agent. Only the
// text of the reply is cached so restored entries compare equal.
func (c *CachedLLM) Generate(ctx context.Context, prompt string) (any, error) {
	key := cache.HashKey(prompt)
	if val, ok := c.Cache.Get(key); ok {
		return Text(val), nil
	}

	res, err := c.Agent.Generate(ctx, prompt)
	if err != nil {
		return nil, err
	}

	text := Text(res)
	c.Cache.Set(key, text)
	c.save()
	return text, nil
}

// TryCreateCachedLLM wraps agent when LOCRIT_LLM_CACHE_SIZE is set.
func TryCreateCachedLLM(agent Agent) Agent {
	size, err := strconv.Atoi(os.Getenv("LOCRIT_LLM_CACHE_SIZE"))
	if err != nil || size <= 0 {
		return agent
	}

	ttl := 300 * time.Second
	if sec, err := strconv.Atoi(os.Getenv("LOCRIT_LLM_CACHE_TTL")); err == nil && sec > 0 {
		ttl = time.Duration(sec) * time.Second
	}

	return NewCachedLLM(agent, size, ttl, os.Getenv("LOCRIT_LLM_CACHE_PATH"))
}
