package api

import (
	"net/http"
	"strconv"

	"github.com/juchunko/site-worker/internal/agg"
)

// parsePageParams parses page based pagination parameters from an HTTP request
// (?page=2&pageSize=10). Missing or garbled values fall back to the listing defaults.
func parsePageParams(r *http.Request) (int, int) {
	query := r.URL.Query()

	page, _ := strconv.Atoi(query.Get("page"))
	pageSize, _ := strconv.Atoi(query.Get("pageSize"))

	return agg.ClampPage(page, pageSize)
}
