package policy

import (
	"container/list"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/open-policy-agent/opa/v1/ast"
	"github.com/open-policy-agent/opa/v1/rego"
)

// EngineOptions control OPA engine construction and runtime behaviour.
type EngineOptions struct {
	// Entrypoint is the default decision path (e.g. "moderation/disposition/decision").
	Entrypoint string
	// Modules contains the Rego modules that should be loaded into the engine.
	// Empty selects DefaultModule.
	Modules map[string]string
	// CacheMaxEntries bounds the decision cache size (LRU). Zero selects the
	// default size; negative disables caching entirely.
	CacheMaxEntries int
	Logger          *slog.Logger
}

// Engine evaluates dispositions using an embedded OPA instance.
type Engine struct {
	moduleOrder   []string
	parsedModules map[string]*ast.Module
	entrypoint    string
	cache         *decisionCache
	queries       map[string]*rego.PreparedEvalQuery
	logger        *slog.Logger
	mu            sync.RWMutex
}

const defaultCacheCapacity = 1024

// NewEngine parses the modules and prepares the default entrypoint so syntax
// errors surface at construction.
func NewEngine(ctx context.Context, opts EngineOptions) (*Engine, error) {
	entry := strings.TrimSpace(opts.Entrypoint)
	modules := opts.Modules
	if len(modules) == 0 {
		modules = map[string]string{"default.rego": DefaultModule}
		if entry == "" {
			entry = DefaultEntrypoint
		}
	}
	if entry == "" {
		return nil, errors.New("policy engine requires an entrypoint for custom modules")
	}

	maxEntries := opts.CacheMaxEntries
	switch {
	case maxEntries == 0:
		maxEntries = defaultCacheCapacity
	case maxEntries < 0:
		maxEntries = 0
	}

	var cache *decisionCache
	if maxEntries > 0 {
		cache = newDecisionCache(maxEntries)
	}

	moduleOrder := make([]string, 0, len(modules))
	for name := range modules {
		moduleOrder = append(moduleOrder, name)
	}
	sort.Strings(moduleOrder)

	parsedModules := make(map[string]*ast.Module, len(modules))
	for _, name := range moduleOrder {
		module, err := ast.ParseModuleWithOpts(name, modules[name], ast.ParserOptions{RegoVersion: ast.RegoV1})
		if err != nil {
			return nil, fmt.Errorf("parse rego module %q: %w", name, err)
		}
		parsedModules[name] = module
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	engine := &Engine{
		moduleOrder:   moduleOrder,
		parsedModules: parsedModules,
		entrypoint:    entry,
		cache:         cache,
		queries:       make(map[string]*rego.PreparedEvalQuery),
		logger:        logger,
	}

	if _, err := engine.getPreparedQuery(ctx, entry); err != nil {
		return nil, fmt.Errorf("compile rego modules: %w", err)
	}

	return engine, nil
}

// Evaluate executes the policy for the verdict and converts the result.
func (e *Engine) Evaluate(ctx context.Context, input Input) (Disposition, error) {
	entry := strings.TrimSpace(input.Entrypoint)
	if entry == "" {
		entry = e.entrypoint
	}

	cacheKey, shouldCache := e.cacheKey(entry, input)
	if shouldCache {
		if cached, ok := e.cache.Get(cacheKey); ok {
			return cloneDisposition(cached), nil
		}
	}

	prepared, err := e.getPreparedQuery(ctx, entry)
	if err != nil {
		return Disposition{}, fmt.Errorf("prepare query: %w", err)
	}

	results, err := prepared.Eval(ctx, rego.EvalInput(inputPayload(input)))
	if err != nil {
		return Disposition{}, fmt.Errorf("opa decision: %w", err)
	}

	if len(results) == 0 || len(results[0].Expressions) == 0 {
		e.logger.Debug("Policy returned no result, using default disposition", "entrypoint", entry)
		return DefaultDisposition(input.Verdict), nil
	}

	payload, ok := results[0].Expressions[0].Value.(map[string]any)
	if !ok {
		return Disposition{}, fmt.Errorf("opa decision: unexpected result type %T", results[0].Expressions[0].Value)
	}

	disposition, err := parseDisposition(payload)
	if err != nil {
		return Disposition{}, err
	}

	if shouldCache {
		e.cache.Add(cacheKey, disposition)
	}
	return cloneDisposition(disposition), nil
}

// FlushCache clears all cached decisions. Safe to call concurrently.
func (e *Engine) FlushCache() {
	if e.cache != nil {
		e.cache.Clear()
	}
}

func (e *Engine) getPreparedQuery(ctx context.Context, entry string) (*rego.PreparedEvalQuery, error) {
	e.mu.RLock()
	if prepared, ok := e.queries[entry]; ok {
		e.mu.RUnlock()
		return prepared, nil
	}
	e.mu.RUnlock()

	opts := make([]func(*rego.Rego), 0, len(e.parsedModules)+1)
	opts = append(opts, rego.Query("data."+strings.ReplaceAll(entry, "/", ".")))
	for _, name := range e.moduleOrder {
		opts = append(opts, rego.ParsedModule(e.parsedModules[name]))
	}

	prepared, err := rego.New(opts...).PrepareForEval(ctx)
	if err != nil {
		return nil, err
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	// Another goroutine may have already prepared the query; respect first entry.
	if existing, ok := e.queries[entry]; ok {
		return existing, nil
	}
	e.queries[entry] = &prepared
	return &prepared, nil
}

func inputPayload(input Input) map[string]any {
	reasons := make([]any, 0, len(input.Verdict.Reasons))
	for _, r := range input.Verdict.Reasons {
		reasons = append(reasons, map[string]any{
			"category": string(r.Category),
			"detail":   r.Detail,
		})
	}
	return map[string]any{
		"kind": input.Kind,
		"verdict": map[string]any{
			"isAllowed":    input.Verdict.IsAllowed,
			"reasons":      reasons,
			"emptyContent": input.Verdict.EmptyContent,
		},
	}
}

func parseDisposition(payload map[string]any) (Disposition, error) {
	action, err := parseAction(payload["action"])
	if err != nil {
		return Disposition{}, err
	}

	reveal, _ := payload["reveal_required"].(bool)
	reason, _ := payload["reason"].(string)

	var labels []string
	switch raw := payload["labels"].(type) {
	case nil:
	case []any:
		labels = make([]string, 0, len(raw))
		for _, item := range raw {
			text, ok := item.(string)
			if !ok {
				return Disposition{}, fmt.Errorf("opa decision: label must be string, got %T", item)
			}
			labels = append(labels, text)
		}
	default:
		return Disposition{}, fmt.Errorf("opa decision: labels must be a list, got %T", raw)
	}
	if labels == nil {
		labels = []string{}
	}

	return Disposition{Action: action, RevealRequired: reveal, Labels: labels, Reason: reason}, nil
}

func parseAction(value any) (Action, error) {
	if value == nil {
		return ActionPublish, nil
	}
	text, ok := value.(string)
	if !ok {
		return Action(""), fmt.Errorf("opa decision: action must be string, got %T", value)
	}
	switch Action(strings.ToLower(text)) {
	case ActionPublish:
		return ActionPublish, nil
	case ActionFlag:
		return ActionFlag, nil
	default:
		return Action(""), fmt.Errorf("opa decision: unknown action %q", text)
	}
}

// cacheKey hashes the entrypoint, kind and every reason so that custom
// policies keyed on details still cache correctly.
func (e *Engine) cacheKey(entry string, input Input) (string, bool) {
	if e.cache == nil || input.DisableCache {
		return "", false
	}

	h := sha256.New()
	writeCacheKeyField(h, entry)
	writeCacheKeyField(h, input.Kind)
	if input.Verdict.IsAllowed {
		writeCacheKeyField(h, "allowed")
	} else {
		writeCacheKeyField(h, "flagged")
	}
	if input.Verdict.EmptyContent {
		writeCacheKeyField(h, "empty")
	}
	for _, r := range input.Verdict.Reasons {
		writeCacheKeyField(h, string(r.Category))
		writeCacheKeyField(h, r.Detail)
	}
	return hex.EncodeToString(h.Sum(nil)), true
}

// writeCacheKeyField writes a field to the hash followed by a null delimiter.
func writeCacheKeyField(h hash.Hash, value string) {
	h.Write([]byte(value))
	h.Write([]byte{0})
}

func cloneDisposition(d Disposition) Disposition {
	d.Labels = append([]string{}, d.Labels...)
	return d
}

type decisionCache struct {
	mu      sync.Mutex
	max     int
	order   *list.List
	entries map[string]*list.Element
}

type cacheItem struct {
	key   string
	value Disposition
}

func newDecisionCache(capacity int) *decisionCache {
	return &decisionCache{
		max:     capacity,
		order:   list.New(),
		entries: make(map[string]*list.Element, capacity),
	}
}

func (c *decisionCache) Get(key string) (Disposition, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.entries[key]
	if !ok {
		return Disposition{}, false
	}
	c.order.MoveToFront(elem)
	return elem.Value.(cacheItem).value, true
}

func (c *decisionCache) Add(key string, value Disposition) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.entries[key]; ok {
		elem.Value = cacheItem{key: key, value: value}
		c.order.MoveToFront(elem)
		return
	}

	c.entries[key] = c.order.PushFront(cacheItem{key: key, value: value})
	if c.order.Len() <= c.max {
		return
	}

	if tail := c.order.Back(); tail != nil {
		c.order.Remove(tail)
		delete(c.entries, tail.Value.(cacheItem).key)
	}
}

func (c *decisionCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

func (c *decisionCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.order.Init()
	c.entries = make(map[string]*list.Element, c.max)
}

// LoadModuleFile reads a Rego module from disk, keyed by its base name.
func LoadModuleFile(path string) (map[string]string, error) {
	//nolint:gosec // Policy path is controlled by the operator
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read policy module %s: %w", path, err)
	}
	return map[string]string{filepath.Base(path): string(data)}, nil
}
