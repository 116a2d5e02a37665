package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"care-transcript-relay/internal/app"
	"care-transcript-relay/internal/models"
	"care-transcript-relay/internal/service/relay"
	"care-transcript-relay/internal/service/transcript"
	"care-transcript-relay/internal/store"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

// NewRouter constructs the HTTP router for the service. Relay sessions live
// until ctx is cancelled or the client leaves, independent of the upgrade request.
func NewRouter(ctx context.Context, application *app.Application) http.Handler {
	h := &handlers{
		ctx: ctx,
		app: application,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     originChecker(application.Cfg.Relay.AllowedOrigins),
		},
	}

	r := chi.NewRouter()

	// Basic middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowOriginFunc: allowOrigin(application.Cfg.Relay.AllowedOrigins),
		AllowedMethods:  []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders:  []string{"Accept", "Authorization", "Content-Type"},
		MaxAge:          300,
	}))

	// Health endpoints
	r.Get("/v1/liveness", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/v1/readiness", func(w http.ResponseWriter, _ *http.Request) {
		if !application.Ready() {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("not ready"))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})

	r.Get("/ws", h.relay)
	r.Post("/classify", h.classify)

	// API routes
	r.Route("/v1", func(r chi.Router) {
		r.Post("/transcripts", h.createTranscript)
		r.Get("/caregivers/{caregiverID}/transcripts", h.listTranscripts)
		r.Get("/transcripts/{transcriptID}/sentences", h.listSentences)
	})

	return r
}

type handlers struct {
	ctx      context.Context
	app      *app.Application
	upgrader websocket.Upgrader
}

func (h *handlers) relay(w http.ResponseWriter, r *http.Request) {
	if !h.app.Ready() {
		writeError(w, http.StatusServiceUnavailable, "service is not ready")
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		log.Warn().Err(err).Str("remoteAddr", r.RemoteAddr).Msg("WebSocket upgrade failed")
		return
	}

	cfg := h.app.Cfg.Relay
	// Oversized frames must reach the audio guard so the client gets an error
	// message; the read limit only stops runaway frames.
	readLimit := cfg.MaxFrameBytes * 4
	conn := relay.NewWebSocketConn(ws, cfg.WriteTimeout, readLimit)

	if _, err := h.app.Relay.Go(h.ctx, conn); err != nil {
		_ = conn.WriteJSON(models.ErrorMessage{Error: "service is shutting down"})
		_ = conn.Close()
	}
}

type classifyRequest struct {
	Transcript string `json:"transcript"`
}

type classifyResponse struct {
	Classified []models.ClassifiedSentence `json:"classified"`
}

func (h *handlers) classify(w http.ResponseWriter, r *http.Request) {
	var req classifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	out, err := h.app.Classifier.Classify(r.Context(), req.Transcript)
	if err != nil {
		log.Error().Err(err).Msg("Classification failed")
		writeError(w, http.StatusBadGateway, "classification failed")
		return
	}
	writeJSON(w, http.StatusOK, classifyResponse{Classified: out})
}

type createTranscriptRequest struct {
	CaregiverID string `json:"caregiver_id"`
	RawText     string `json:"raw_text"`
}

func (h *handlers) createTranscript(w http.ResponseWriter, r *http.Request) {
	var req createTranscriptRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	res, err := h.app.Processor.Process(r.Context(), req.CaregiverID, req.RawText)
	switch {
	case errors.Is(err, transcript.ErrMissingCaregiver):
		writeError(w, http.StatusBadRequest, err.Error())
	case err != nil:
		log.Error().Err(err).Str("caregiverId", req.CaregiverID).Msg("Transcript processing failed")
		writeError(w, http.StatusInternalServerError, "transcript processing failed")
	default:
		writeJSON(w, http.StatusCreated, res)
	}
}

func (h *handlers) listTranscripts(w http.ResponseWriter, r *http.Request) {
	if h.app.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript storage is disabled")
		return
	}
	out, err := h.app.Store.GetTranscripts(r.Context(), chi.URLParam(r, "caregiverID"))
	if err != nil {
		log.Error().Err(err).Msg("Listing transcripts failed")
		writeError(w, http.StatusInternalServerError, "listing transcripts failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"transcripts": out})
}

func (h *handlers) listSentences(w http.ResponseWriter, r *http.Request) {
	if h.app.Store == nil {
		writeError(w, http.StatusServiceUnavailable, "transcript storage is disabled")
		return
	}
	out, err := h.app.Store.GetSentences(r.Context(), chi.URLParam(r, "transcriptID"))
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, err.Error())
			return
		}
		log.Error().Err(err).Msg("Listing sentences failed")
		writeError(w, http.StatusInternalServerError, "listing sentences failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"sentences": out})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return errors.New("request body must be a JSON object")
	}
	return nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debug().Err(err).Msg("Response write failed")
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, models.ErrorMessage{Error: msg})
}

// originChecker allows every origin when the list is empty or contains "*".
// Requests without an Origin header are not from a browser and pass.
func originChecker(allowed []string) func(*http.Request) bool {
	allow := allowOrigin(allowed)
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		return allow(r, origin)
	}
}

// allowOrigin applies the same origin policy to CORS requests.
func allowOrigin(allowed []string) func(*http.Request, string) bool {
	set, allowAll := originSet(allowed)
	return func(_ *http.Request, origin string) bool {
		if allowAll {
			return true
		}
		u, err := url.Parse(origin)
		if err != nil {
			return false
		}
		return set[strings.ToLower(u.Scheme+"://"+u.Host)]
	}
}

func originSet(allowed []string) (map[string]bool, bool) {
	set := make(map[string]bool, len(allowed))
	for _, o := range allowed {
		o = strings.TrimRight(strings.ToLower(strings.TrimSpace(o)), "/")
		if o == "*" {
			return nil, true
		}
		if o != "" {
			set[o] = true
		}
	}
	return set, len(set) == 0
}
