package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spotty118/saturn"
)

// serveWeb exposes the agent over HTTP: POST /chat streams the run as SSE
// frames, GET /healthz reports liveness.
func serveWeb(ctx context.Context, a *app, port int, logger *slog.Logger) error {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /chat", func(w http.ResponseWriter, r *http.Request) {
		handleChat(a.agent, w, r)
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()
	logger.Info("web server listening", "port", port)

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

type chatRequest struct {
	Message string `json:"message"`
}

// sseFrame is one event on the /chat stream.
type sseFrame struct {
	Type    string `json:"type"`
	Content string `json:"content,omitempty"`
	Tool    string `json:"tool,omitempty"`
	Error   string `json:"error,omitempty"`
}

func handleChat(agent *saturn.Agent, w http.ResponseWriter, r *http.Request) {
	var req chatRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message == "" {
		http.Error(w, "body must be {\"message\": \"...\"}", http.StatusBadRequest)
		return
	}
	if err := saturn.CheckInputSize(req.Message, 0); err != nil {
		http.Error(w, err.Error(), http.StatusRequestEntityTooLarge)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.WriteHeader(http.StatusOK)

	writeFrame := func(f sseFrame) {
		raw, _ := json.Marshal(f)
		fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}

	ch := make(chan saturn.StreamEvent, 64)
	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range ch {
			switch ev.Type {
			case saturn.EventTextDelta:
				writeFrame(sseFrame{Type: "text", Content: ev.Content})
			case saturn.EventToolCallStart:
				writeFrame(sseFrame{Type: "tool_start", Tool: ev.Name})
			case saturn.EventToolCallResult:
				writeFrame(sseFrame{Type: "tool_result", Tool: ev.Name, Content: ev.Content})
			case saturn.EventComplete:
				writeFrame(sseFrame{Type: "complete"})
			}
		}
	}()

	_, err := agent.ExecuteStream(r.Context(), req.Message, ch)
	<-done
	if err != nil && !errors.Is(err, context.Canceled) {
		writeFrame(sseFrame{Type: "error", Error: err.Error()})
	}
	fmt.Fprint(w, "data: [DONE]\n\n")
	flusher.Flush()
}
