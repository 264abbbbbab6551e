package web

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/vadiminshakov/lendpool/internal/domain"
)

// handleEventStream streams journaled ledger events as SSE, starting after the ?after= index.
// ?op=deposit,repay limits the stream to those operations.
func (s *Server) handleEventStream(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		fmt.Fprint(w, "event journal not available")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	lastIndex := uint64(0)
	if after := r.URL.Query().Get("after"); after != "" {
		v, err := strconv.ParseUint(after, 10, 64)
		if err != nil {
			http.Error(w, "invalid after index", http.StatusBadRequest)
			return
		}
		lastIndex = v
	}

	var ops []domain.Operation
	if raw := r.URL.Query().Get("op"); raw != "" {
		for _, name := range strings.Split(raw, ",") {
			op, err := domain.ParseOperation(name)
			if err != nil {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
			ops = append(ops, op)
		}
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	// comment heartbeat so proxies keep the connection
	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	pollTicker := time.NewTicker(s.pollInterval)
	defer pollTicker.Stop()

	sendEvents := func() error {
		records, err := s.events.EventsAfter(lastIndex, ops...)
		if err != nil {
			return err
		}
		for _, record := range records {
			payload, err := json.Marshal(record.Event)
			if err != nil {
				return err
			}
			fmt.Fprintf(w, "id: %d\n", record.Index)
			fmt.Fprintf(w, "event: ledger\n")
			fmt.Fprintf(w, "data: %s\n\n", payload)
			flusher.Flush()
			lastIndex = record.Index
		}
		return nil
	}

	if err := sendEvents(); err != nil {
		http.Error(w, "failed to load ledger events", http.StatusInternalServerError)
		s.logger.Error("event stream initial load", zap.Error(err))
		return
	}
	flusher.Flush()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprintf(w, ": ping\n\n")
			flusher.Flush()
		case <-pollTicker.C:
			if err := sendEvents(); err != nil {
				s.logger.Warn("event stream poll", zap.Error(err))
			}
		}
	}
}
