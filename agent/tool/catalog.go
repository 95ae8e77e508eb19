// Package tool holds the tools specialist agents can be configured with.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	einotool "github.com/cloudwego/eino/components/tool"
	"github.com/cloudwego/eino/schema"
	contractx "github.com/tanpawarit/agent-squad-router/agent/contract"
)

// Catalog is an ordered, name-indexed set of invokable tools.
type Catalog struct {
	order []string
	tools map[string]einotool.InvokableTool
	infos map[string]*schema.ToolInfo
}

func NewCatalog(ctx context.Context, tools ...einotool.InvokableTool) (*Catalog, error) {
	c := &Catalog{
		tools: make(map[string]einotool.InvokableTool, len(tools)),
		infos: make(map[string]*schema.ToolInfo, len(tools)),
	}
	for _, t := range tools {
		if t == nil {
			continue
		}
		info, err := t.Info(ctx)
		if err != nil {
			return nil, fmt.Errorf("%w: tool info: %v", contractx.ErrInvalidConfig, err)
		}
		name := strings.TrimSpace(info.Name)
		if name == "" {
			return nil, fmt.Errorf("%w: tool name is empty", contractx.ErrInvalidConfig)
		}
		if _, exists := c.tools[name]; exists {
			return nil, fmt.Errorf("%w: duplicate tool %q", contractx.ErrInvalidConfig, name)
		}
		c.order = append(c.order, name)
		c.tools[name] = t
		c.infos[name] = info
	}
	return c, nil
}

// Default is the catalog of built-in tools.
func Default(ctx context.Context) (*Catalog, error) {
	return NewCatalog(ctx, NewMathTool())
}

func (c *Catalog) Len() int {
	if c == nil {
		return 0
	}
	return len(c.order)
}

func (c *Catalog) Infos() []*schema.ToolInfo {
	if c == nil {
		return nil
	}
	out := make([]*schema.ToolInfo, 0, len(c.order))
	for _, name := range c.order {
		out = append(out, c.infos[name])
	}
	return out
}

func (c *Catalog) Has(name string) bool {
	if c == nil {
		return false
	}
	_, ok := c.tools[name]
	return ok
}

func (c *Catalog) Tool(name string) (einotool.InvokableTool, bool) {
	if c == nil {
		return nil, false
	}
	t, ok := c.tools[name]
	return t, ok
}

// Select builds a catalog of the named tools, in the given order. No names
// yields a nil catalog.
func (c *Catalog) Select(ctx context.Context, names ...string) (*Catalog, error) {
	if len(names) == 0 {
		return nil, nil
	}
	picked := make([]einotool.InvokableTool, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		t, ok := c.Tool(name)
		if !ok {
			return nil, fmt.Errorf("%w: unknown tool %q", contractx.ErrInvalidConfig, name)
		}
		picked = append(picked, t)
	}
	return NewCatalog(ctx, picked...)
}

// Run executes a tool. Unknown tools and tool failures come back as an error
// payload for the model rather than a Go error, so the conversation can
// continue.
func (c *Catalog) Run(ctx context.Context, name string, arguments string) (string, bool) {
	if c == nil || !c.Has(name) {
		return errorPayload(fmt.Sprintf("tool=%s is unavailable", name)), false
	}
	out, err := c.tools[name].InvokableRun(ctx, arguments)
	if err != nil {
		return errorPayload(err.Error()), false
	}
	return out, true
}

func errorPayload(msg string) string {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return string(raw)
}
