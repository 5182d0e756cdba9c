package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/nguyentantai21042004/voicebrief/internal/logger"
	"github.com/nguyentantai21042004/voicebrief/internal/processor"
	"github.com/nguyentantai21042004/voicebrief/internal/whatsapp"
)

// Server exposes the webhook verification handshake, the event intake
// endpoint, and a liveness probe.
type Server struct {
	verifyToken string
	processor   processor.Processor
	logger      logger.Logger
	// base context for background processing, detached from the
	// request lifetime so an acked batch survives the HTTP exchange
	baseCtx context.Context
}

// New creates a Server. baseCtx bounds background processing: cancel
// it on shutdown and drain with processor.Wait.
func New(baseCtx context.Context, verifyToken string, proc processor.Processor, log logger.Logger) *Server {
	return &Server{
		verifyToken: verifyToken,
		processor:   proc,
		logger:      log,
		baseCtx:     baseCtx,
	}
}

// Handler returns the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /webhook", s.handleVerify)
	mux.HandleFunc("POST /webhook", s.handleWebhook)
	mux.HandleFunc("GET /health", s.handleHealth)
	return mux
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context, port int) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", port),
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errChan <- err
		}
	}()

	s.logger.Info(ctx, "HTTP server listening on :%d", port)

	select {
	case <-ctx.Done():
	case err := <-errChan:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// handleVerify answers the platform's subscription handshake: echo the
// challenge iff mode and token match. The configured token never
// appears in any response.
func (s *Server) handleVerify(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mode := q.Get("hub.mode")
	token := q.Get("hub.verify_token")
	challenge := q.Get("hub.challenge")

	if mode == "subscribe" && s.verifyToken != "" && token == s.verifyToken {
		s.logger.Info(r.Context(), "Webhook verified")
		w.WriteHeader(http.StatusOK)
		fmt.Fprint(w, challenge)
		return
	}

	s.logger.Warn(r.Context(), "Webhook verification rejected (mode=%q)", mode)
	w.WriteHeader(http.StatusForbidden)
}

// handleWebhook acks the batch immediately so the platform does not
// retry, then processes in the background. Even malformed bodies get a
// 200: retrying them cannot help.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var payload whatsapp.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.logger.Warn(r.Context(), "Undecodable webhook body: %v", err)
		w.WriteHeader(http.StatusOK)
		return
	}

	w.WriteHeader(http.StatusOK)
	// Dispatch only spawns workers and returns; calling it inline keeps
	// every acked message registered with the dispatcher's WaitGroup
	// before shutdown could start draining
	s.processor.Dispatch(s.baseCtx, payload)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	fmt.Fprint(w, `{"status":"ok"}`)
}
