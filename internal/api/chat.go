package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/juchunko/site-worker/internal/chat"
	"github.com/juchunko/site-worker/internal/serverutil"
)

const (
	// Whole conversations are posted on every turn.
	maxChatBody = 1 << 20

	// How long one chat turn may keep streaming.
	chatWriteTimeout = 2 * time.Minute
)

func (s *Server) postChat(w http.ResponseWriter, r *http.Request) error {
	ctx := r.Context()

	req, err := serverutil.DecodeValid[chat.Request](http.MaxBytesReader(w, r.Body, maxChatBody))
	if err != nil {
		return err
	}

	// Not every writer supports deadlines, the server wide one applies then.
	if err := http.NewResponseController(w).SetWriteDeadline(time.Now().Add(chatWriteTimeout)); err != nil {
		slog.DebugContext(ctx, "could not extend chat write deadline", "error", err)
	}

	// Once streaming has started the status is out, so failures can only be logged.
	err = s.chat.Stream(ctx, req, chat.NewStreamWriter(w))
	switch {
	case errors.Is(err, context.Canceled):
		slog.InfoContext(ctx, "chat client went away")
	case err != nil:
		slog.WarnContext(ctx, "chat stream ended early", "error", err)
	}

	return nil
}
