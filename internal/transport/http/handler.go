package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"dilemma-cloud/internal/app"
	"dilemma-cloud/internal/domain"
	"dilemma-cloud/internal/logging"
	"dilemma-cloud/internal/metrics"
	"github.com/google/uuid"
)

// Identity and experiment headers set by the upstream auth layer.
const (
	HeaderUserID    = "X-User-ID"
	HeaderExpGroup  = "X-Exp-Group"
	HeaderRequestID = "X-Request-ID"
)

const maxBodyBytes = 64 << 10

// Services bundles the use cases exposed over HTTP.
type Services struct {
	Dilemmas    *app.DilemmaService
	Votes       *app.VoteService
	Resolution  *app.ResolutionService
	Ranking     *app.RankingService
	Leaderboard *app.LeaderboardService
	Standing    *app.StandingService
}

type Handler struct {
	svc     Services
	metrics *metrics.Metrics
	log     *slog.Logger
}

func NewHandler(svc Services, m *metrics.Metrics, log *slog.Logger) *Handler {
	return &Handler{svc: svc, metrics: m, log: logging.Component(log, "http")}
}

// Routes returns the full mux wrapped in request-id and access-log middleware.
func (h *Handler) Routes() http.Handler {
	mux := http.NewServeMux()
	h.handle(mux, "GET /healthz", "healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", h.metrics.Handler())

	h.handle(mux, "POST /dilemmas", "create_dilemma", h.createDilemma)
	h.handle(mux, "GET /dilemmas/{id}/stats", "dilemma_stats", h.stats)
	h.handle(mux, "POST /dilemmas/{id}/vote", "cast_vote", h.castVote)
	h.handle(mux, "POST /admin/dilemmas/{id}/resolve", "resolve", h.resolve)
	h.handle(mux, "POST /admin/dilemmas/{id}/settle", "settle", h.settle)
	h.handle(mux, "POST /admin/league/recompute", "recompute_leagues", h.recomputeLeagues)
	h.handle(mux, "POST /admin/leaderboard/snapshot", "snapshot_leaderboard", h.snapshotLeaderboard)
	h.handle(mux, "POST /admin/season/reset", "reset_season", h.resetSeason)
	h.handle(mux, "GET /leaderboard", "leaderboard", h.leaderboard)
	h.handle(mux, "GET /me/score", "my_score", h.myScore)
	h.handle(mux, "GET /me/votes", "my_votes", h.myVotes)
	h.handle(mux, "GET /me/standing", "my_standing", h.myStanding)
	h.handle(mux, "GET /me/progression", "my_progression", h.myProgression)
	h.handle(mux, "POST /admin/progress/snapshot", "snapshot_progress", h.snapshotProgress)

	return h.withRequestID(h.withAccessLog(mux))
}

func (h *Handler) handle(mux *http.ServeMux, pattern, route string, fn http.HandlerFunc) {
	mux.Handle(pattern, h.metrics.WrapHandler(route, fn))
}

type optionPayload struct {
	ID    string `json:"id"`
	Label string `json:"label"`
}

type createDilemmaRequest struct {
	Title          string          `json:"title"`
	Options        []optionPayload `json:"options"`
	Category       string          `json:"category"`
	ExpiresInHours float64         `json:"expiresInHours"`
}

func (h *Handler) createDilemma(w http.ResponseWriter, r *http.Request) {
	var req createDilemmaRequest
	if !h.decode(w, r, &req) {
		return
	}
	if math.IsNaN(req.ExpiresInHours) || req.ExpiresInHours < 0 {
		h.writeError(w, r, domain.Invalidf("expiresInHours must be positive"))
		return
	}
	in := domain.NewDilemma{
		Title:     req.Title,
		Category:  req.Category,
		ExpiresIn: time.Duration(req.ExpiresInHours * float64(time.Hour)),
	}
	for _, o := range req.Options {
		in.Options = append(in.Options, domain.Option{ID: o.ID, Label: o.Label})
	}
	d, err := h.svc.Dilemmas.Create(r.Context(), in)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": d.ID})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Dilemmas.Stats(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type voteRequest struct {
	ChoiceX    *bool    `json:"choiceX"`
	OptionID   string   `json:"optionId"`
	Confidence *float64 `json:"confidence"`
	Reason     string   `json:"reason"`
	Variant    string   `json:"variant"`
}

func (h *Handler) castVote(w http.ResponseWriter, r *http.Request) {
	var req voteRequest
	if !h.decode(w, r, &req) {
		return
	}
	variant := req.Variant
	if variant == "" {
		variant = r.Header.Get(HeaderExpGroup)
	}
	err := h.svc.Votes.CastVote(r.Context(), domain.VoteRequest{
		DilemmaID:  r.PathValue("id"),
		UserID:     r.Header.Get(HeaderUserID),
		ChoiceX:    req.ChoiceX,
		OptionID:   req.OptionID,
		Confidence: req.Confidence,
		Reason:     req.Reason,
		VariantTag: variant,
		ClientIP:   clientIP(r),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type resolveRequest struct {
	CorrectX        *bool  `json:"correctX"`
	CorrectOptionID string `json:"correctOptionId"`
	BasePoints      *int   `json:"basePoints"`
}

func (h *Handler) resolve(w http.ResponseWriter, r *http.Request) {
	var req resolveRequest
	if !h.decode(w, r, &req) {
		return
	}
	res, err := h.svc.Resolution.Resolve(r.Context(), domain.ResolveRequest{
		DilemmaID:       r.PathValue("id"),
		CorrectX:        req.CorrectX,
		CorrectOptionID: req.CorrectOptionID,
		BasePoints:      req.BasePoints,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) settle(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Resolution.Settle(r.Context(), r.PathValue("id"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) recomputeLeagues(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	dryRun, err := parseBool(q.Get("dryRun"), false)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Ranking.Recompute(r.Context(), q.Get("field"), dryRun)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) snapshotLeaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt("limit", q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	snap, err := h.svc.Leaderboard.Snapshot(r.Context(), q.Get("range"), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (h *Handler) resetSeason(w http.ResponseWriter, r *http.Request) {
	res, err := h.svc.Ranking.ResetSeason(r.Context(), r.URL.Query().Get("seasonId"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) leaderboard(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseInt("limit", q.Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	preferCache, err := parseBool(q.Get("preferCache"), true)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.svc.Leaderboard.Leaderboard(r.Context(), q.Get("range"), limit, preferCache)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) myScore(w http.ResponseWriter, r *http.Request) {
	score, err := h.svc.Standing.Score(r.Context(), r.Header.Get(HeaderUserID))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, score)
}

func (h *Handler) myVotes(w http.ResponseWriter, r *http.Request) {
	limit, err := parseInt("limit", r.URL.Query().Get("limit"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	items, err := h.svc.Standing.Votes(r.Context(), r.Header.Get(HeaderUserID), limit)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (h *Handler) myStanding(w http.ResponseWriter, r *http.Request) {
	st, err := h.svc.Standing.Standing(r.Context(), r.Header.Get(HeaderUserID), r.URL.Query().Get("range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) myProgression(w http.ResponseWriter, r *http.Request) {
	p, err := h.svc.Standing.Progression(r.Context(), r.Header.Get(HeaderUserID), r.URL.Query().Get("range"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handler) snapshotProgress(w http.ResponseWriter, r *http.Request) {
	minScore, err := parseInt("minScore", r.URL.Query().Get("minScore"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	res, err := h.svc.Standing.SnapshotProgress(r.Context(), int64(minScore))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.ContentLength == 0 {
		return true
	}
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		h.writeError(w, r, domain.Invalidf("invalid JSON body: %v", err))
		return false
	}
	return true
}

// statusFor maps error categories to response codes.
func statusFor(err error) int {
	var rl *domain.RateLimitError
	switch {
	case errors.As(err, &rl), errors.Is(err, domain.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, domain.ErrConcurrencyExhausted):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	msg := err.Error()
	switch status {
	case http.StatusTooManyRequests:
		var rl *domain.RateLimitError
		if errors.As(err, &rl) {
			w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(rl.RetryAfter.Seconds()))))
		}
	case http.StatusInternalServerError:
		h.log.Error("request_failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", w.Header().Get(HeaderRequestID)),
			slog.Any("err", err),
		)
		msg = "internal error"
	}
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func parseInt(name, raw string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, domain.Invalidf("%s must be an integer, got %q", name, raw)
	}
	return n, nil
}

func parseBool(raw string, fallback bool) (bool, error) {
	if raw == "" {
		return fallback, nil
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return false, domain.Invalidf("expected a boolean, got %q", raw)
	}
	return b, nil
}

// clientIP prefers the first X-Forwarded-For hop set by the load balancer.
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		first, _, _ := strings.Cut(fwd, ",")
		return strings.TrimSpace(first)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (h *Handler) withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(HeaderRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(HeaderRequestID, id)
		next.ServeHTTP(w, r)
	})
}

type accessRecorder struct {
	http.ResponseWriter
	status int
}

func (a *accessRecorder) WriteHeader(status int) {
	a.status = status
	a.ResponseWriter.WriteHeader(status)
}

func (h *Handler) withAccessLog(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &accessRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()
		next.ServeHTTP(rec, r)
		h.log.Debug("http_request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", rec.status),
			slog.Duration("elapsed", time.Since(start)),
			slog.String("request_id", w.Header().Get(HeaderRequestID)),
		)
	})
}
