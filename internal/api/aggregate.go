package api

import (
	"log/slog"
	"net/http"
	"runtime/debug"

	werrs "github.com/juchunko/site-worker/internal/errors"
	"github.com/juchunko/site-worker/internal/serverutil"
	"github.com/juchunko/site-worker/internal/site"
)

func (s *Server) getIndexCards(w http.ResponseWriter, r *http.Request) (err error) {
	ctx := r.Context()
	// Also on failures, the homepage is served from other origins
	w.Header().Set("Access-Control-Allow-Origin", "*")

	// Sections recover on their own, this catches anything in between.
	defer func() {
		if p := recover(); p != nil {
			slog.ErrorContext(ctx, "panic building index cards", "panic", p, "stack", string(debug.Stack()))
			err = werrs.E(http.StatusInternalServerError, werrs.Reason("Failed to fetch data"), "failed to build index cards")
		}
	}()

	cards := s.agg.IndexCards(ctx, site.ParseLang(r.URL.Query().Get("lang")))

	if cards.Failed() {
		w.Header().Set("Cache-Control", degradedCacheControl)
	} else {
		w.Header().Set("Cache-Control", cacheControl)
	}
	return serverutil.WriteJSON(w, http.StatusOK, cards)
}

func (s *Server) getLegislatorActivity(w http.ResponseWriter, r *http.Request) error {
	var (
		ctx            = r.Context()
		page, pageSize = parsePageParams(r)
		lang           = site.ParseLang(r.URL.Query().Get("lang"))
	)

	res, err := s.agg.LegislatorActivity(ctx, page, pageSize, lang)
	if err != nil {
		slog.ErrorContext(ctx, "error fetching legislator activity", "page", page, "page_size", pageSize, "error", err)
		return werrs.E(http.StatusInternalServerError, "failed to fetch legislator activity")
	}

	w.Header().Set("Cache-Control", cacheControl)
	return serverutil.WriteJSON(w, http.StatusOK, res)
}
