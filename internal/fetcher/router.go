// Package fetcher routes page fetches between the static and the headless
// fetcher.
package fetcher

import (
	"context"

	"github.com/JakeFAU/jobharvest/internal/crawler"
)

// Router sends Render requests to Render and everything else to Static.
type Router struct {
	Static crawler.Fetcher
	Render crawler.Fetcher
}

// Fetch dispatches request to the matching fetcher.
func (r Router) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	if request.Render && r.Render != nil {
		return r.Render.Fetch(ctx, request)
	}
	return r.Static.Fetch(ctx, request)
}
