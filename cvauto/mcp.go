package cvauto

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/hazyhaar/contentvis/detective"
	"github.com/hazyhaar/contentvis/kit"
	"github.com/hazyhaar/contentvis/observability"
	"github.com/hazyhaar/contentvis/urlmetric"
)

// PageHeights is the stored visible heights of a page, keyed by the minimum
// viewport width of each group.
type PageHeights struct {
	Slug    string                        `json:"slug"`
	PostID  int64                         `json:"post_id"`
	Heights map[string]map[string]float64 `json:"heights"`
}

// Heights returns the stored visible heights of the page at pageURL. A page
// without URL metrics has none.
func (e *Extension) Heights(ctx context.Context, pageURL string) (*PageHeights, error) {
	slug, err := urlmetric.Slug(pageURL)
	if err != nil {
		return nil, err
	}
	out := &PageHeights{Slug: slug, Heights: map[string]map[string]float64{}}
	post, err := e.cfg.Store.GetPost(ctx, slug)
	if err != nil || post == nil {
		return out, err
	}
	out.PostID = post.ID

	metas, err := e.cfg.Store.ListPostMeta(ctx, post.ID, MetaKeyPrefix)
	if err != nil {
		return nil, err
	}
	for key, raw := range metas {
		if heights, ok := decodeHeights(raw); ok {
			out.Heights[strings.TrimPrefix(key, MetaKeyPrefix)] = heights
		}
	}
	return out, nil
}

// RegisterMCP implements detective.MCPProvider.
func (e *Extension) RegisterMCP(srv *mcp.Server) {
	type heightsRequest struct {
		URL string `json:"url"`
	}

	tool := &mcp.Tool{
		Name:        "contentvis_heights",
		Description: "Show the content-visibility heights stored for a page, per viewport group minimum width.",
		InputSchema: detective.InputSchema(map[string]any{
			"url": map[string]any{"type": "string", "description": "Absolute page URL"},
		}, []string{"url"}),
	}

	endpoint := func(ctx context.Context, req any) (any, error) {
		return e.Heights(ctx, req.(*heightsRequest).URL)
	}

	decode := func(req *mcp.CallToolRequest) (*kit.MCPDecodeResult, error) {
		var rr heightsRequest
		if err := json.Unmarshal(req.Params.Arguments, &rr); err != nil {
			return nil, err
		}
		if rr.URL == "" {
			return nil, errors.New("url is required")
		}
		return &kit.MCPDecodeResult{Request: &rr}, nil
	}

	kit.RegisterMCPTool(srv, tool, kit.Chain(observability.Audited(e.cfg.Audit, observability.ComponentMCP, tool.Name))(endpoint), decode)
}
