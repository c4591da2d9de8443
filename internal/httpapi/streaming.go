package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/medsearch-ai/orchestrator/internal/streaming"
)

// StreamingHandler serves live workflow progress over SSE and WebSocket.
type StreamingHandler struct {
	mgr    *streaming.Manager
	logger *zap.Logger
}

func NewStreamingHandler(mgr *streaming.Manager, logger *zap.Logger) *StreamingHandler {
	return &StreamingHandler{mgr: mgr, logger: logger}
}

// handleSSE streams events for a workflow via Server-Sent Events.
// GET /stream/sse?workflow_id=<id>
func (h *StreamingHandler) handleSSE(w http.ResponseWriter, r *http.Request) {
	wf := r.URL.Query().Get("workflow_id")
	if wf == "" {
		writeError(w, http.StatusBadRequest, "workflow_id required")
		return
	}
	typeFilter := parseTypeFilter(r)

	// Last-Event-ID header or query param to replay from.
	var lastID uint64
	if lei := r.Header.Get("Last-Event-ID"); lei != "" {
		if n, err := strconv.ParseUint(lei, 10, 64); err == nil {
			lastID = n
		}
	}
	if q := r.URL.Query().Get("last_event_id"); q != "" && lastID == 0 {
		if n, err := strconv.ParseUint(q, 10, 64); err == nil {
			lastID = n
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming not supported", http.StatusInternalServerError)
		return
	}

	ch := h.mgr.Subscribe(wf, 256)
	defer h.mgr.Unsubscribe(wf, ch)

	fmt.Fprintf(w, ": connected to workflow %s\n\n", wf)
	flusher.Flush()

	writeEvent := func(ev streaming.Event) {
		if ev.Seq > 0 {
			fmt.Fprintf(w, "id: %d\n", ev.Seq)
		}
		if ev.Type != "" {
			fmt.Fprintf(w, "event: %s\n", ev.Type)
		}
		fmt.Fprintf(w, "data: %s\n\n", string(ev.Marshal()))
	}

	// Replay backlog since lastID (best-effort).
	if lastID > 0 {
		for _, ev := range h.mgr.ReplaySince(wf, lastID) {
			if !typeFilter.allows(ev.Type) {
				continue
			}
			writeEvent(ev)
		}
		flusher.Flush()
	}

	hb := time.NewTicker(15 * time.Second)
	defer hb.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			h.logger.Debug("SSE client disconnected", zap.String("workflow_id", wf))
			return
		case ev := <-ch:
			if !typeFilter.allows(ev.Type) {
				continue
			}
			writeEvent(ev)
			flusher.Flush()
		case <-hb.C:
			// Keep connections alive through proxies.
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		}
	}
}

type typeFilter map[string]struct{}

func parseTypeFilter(r *http.Request) typeFilter {
	f := typeFilter{}
	if s := r.URL.Query().Get("types"); s != "" {
		for _, t := range strings.Split(s, ",") {
			t = strings.TrimSpace(t)
			if t != "" {
				f[t] = struct{}{}
			}
		}
	}
	return f
}

func (f typeFilter) allows(t string) bool {
	if len(f) == 0 {
		return true
	}
	_, ok := f[t]
	return ok
}
