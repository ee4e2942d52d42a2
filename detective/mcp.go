package detective

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/contentvis/kit"
	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/tagvisit"
)

// RegisterMCP registers the service tools, then those of extensions
// implementing MCPProvider.
func (s *Service) RegisterMCP(srv *mcp.Server) {
	s.registerGroupsTool(srv)
	s.registerOptimizeTool(srv)
	for _, ext := range s.cfg.Extensions {
		if p, ok := ext.(MCPProvider); ok {
			p.RegisterMCP(srv)
		}
	}
}

// InputSchema builds an object schema for MCP tool inputs.
func InputSchema(properties map[string]any, required []string) map[string]any {
	s := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		s["required"] = required
	}
	return s
}

// logCalls logs and audits the duration and outcome of tool calls.
func (s *Service) logCalls(tool string) kit.Middleware {
	return func(next kit.Endpoint) kit.Endpoint {
		return func(ctx context.Context, req any) (any, error) {
			start := time.Now()
			resp, err := next(ctx, req)
			d := time.Since(start)
			s.cfg.Audit.Audit(ctx, observability.ComponentMCP, tool, req, nil, err, d)
			l := s.logger.With("tool", tool, "transport", kit.GetTransport(ctx), "duration", d)
			if err != nil {
				l.Warn("detective: tool failed", "error", err)
			} else {
				l.Debug("detective: tool done")
			}
			return resp, err
		}
	}
}

// --- contentvis_groups ---

type groupsRequest struct {
	URL string `json:"url"`
}

func (s *Service) registerGroupsTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "contentvis_groups",
		Description: "List the viewport groups of a page with the number of URL metrics sampled in each.",
		InputSchema: InputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Absolute page URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*groupsRequest)
		return s.PageGroups(ctx, rr.URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr groupsRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if rr.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logCalls(tool.Name))(endpoint), decode)
}

// --- contentvis_optimize ---

type optimizeRequest struct {
	URL      string `json:"url"`
	HTML     string `json:"html"`
	Singular bool   `json:"singular,omitempty"`
}

type optimizeResponse struct {
	Slug    string         `json:"slug"`
	PostID  int64          `json:"post_id"`
	Tracked int            `json:"tracked"`
	Groups  []GroupSummary `json:"groups"`
	HTML    string         `json:"html"`
}

func (s *Service) registerOptimizeTool(srv *mcp.Server) {
	tool := &mcp.Tool{
		Name:        "contentvis_optimize",
		Description: "Run the optimization visitors over an HTML document as if it were served at url. Returns the rewritten HTML.",
		InputSchema: InputSchema(map[string]any{
			"url":      map[string]any{"type": "string", "description": "Absolute page URL"},
			"html":     map[string]any{"type": "string", "description": "Rendered page HTML"},
			"singular": map[string]any{"type": "boolean", "description": "Whether the page shows a single post"},
		}, []string{"url", "html"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		rr := req.(*optimizeRequest)
		res, err := s.Optimize(ctx, tagvisit.Page{URL: rr.URL, Singular: rr.Singular}, []byte(rr.HTML))
		if err != nil {
			return nil, err
		}
		return &optimizeResponse{
			Slug:    res.Slug,
			PostID:  res.PostID,
			Tracked: res.Tracked,
			Groups:  res.Groups,
			HTML:    string(res.HTML),
		}, nil
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr optimizeRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(s.logCalls(tool.Name))(endpoint), decode)
}
