package tagvisit

import (
	"context"
	"log/slog"

	"github.com/hazyhaar/contentvis/urlmetric"
)

// Page identifies the document being optimized.
type Page struct {
	URL      string
	Slug     string
	PostID   int64 // 0 when no URL metrics have been stored yet
	Singular bool
}

// Context is handed to visitors for every element.
type Context struct {
	Ctx       context.Context
	Processor *Processor
	Groups    *urlmetric.GroupCollection
	Page      Page
	Logger    *slog.Logger
}

// Visitor inspects the current element. Returning true asks for the element
// to be tracked in future URL metrics.
type Visitor interface {
	Visit(ctx *Context) bool
}

// VisitorFunc adapts a function to Visitor.
type VisitorFunc func(ctx *Context) bool

// Visit calls f.
func (f VisitorFunc) Visit(ctx *Context) bool { return f(ctx) }

// Registry holds visitors in registration order.
type Registry struct {
	ids      []string
	visitors map[string]Visitor
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{visitors: make(map[string]Visitor)}
}

// Register adds v under id. Re-registering an id replaces the visitor and
// keeps its position.
func (r *Registry) Register(id string, v Visitor) {
	if _, ok := r.visitors[id]; !ok {
		r.ids = append(r.ids, id)
	}
	r.visitors[id] = v
}

// Unregister removes id and reports whether it was present.
func (r *Registry) Unregister(id string) bool {
	if _, ok := r.visitors[id]; !ok {
		return false
	}
	delete(r.visitors, id)
	for i, x := range r.ids {
		if x == id {
			r.ids = append(r.ids[:i], r.ids[i+1:]...)
			break
		}
	}
	return true
}

// Get returns the visitor registered under id.
func (r *Registry) Get(id string) (Visitor, bool) {
	v, ok := r.visitors[id]
	return v, ok
}

// IDs returns the registered ids in order.
func (r *Registry) IDs() []string {
	return append([]string(nil), r.ids...)
}

// Len returns the number of registered visitors.
func (r *Registry) Len() int { return len(r.ids) }

// Run walks every element of ctx.Processor and offers it to every visitor.
// Elements any visitor asks to track get data-od-xpath. It returns the number
// of tracked elements.
func Run(reg *Registry, ctx *Context) int {
	p := ctx.Processor
	if ctx.Ctx == nil {
		ctx.Ctx = context.Background()
	}
	if ctx.Logger == nil {
		ctx.Logger = slog.Default()
	}
	tracked := 0
	p.Reset()
	for p.Next() {
		track := false
		for _, id := range reg.ids {
			if reg.visitors[id].Visit(ctx) {
				track = true
			}
		}
		if track {
			p.SetMetaAttr("xpath", p.XPath())
			tracked++
		}
	}
	return tracked
}
