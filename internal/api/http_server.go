package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"tablewatch/internal/config"
	"tablewatch/internal/database"
	"tablewatch/internal/domain"
	"tablewatch/internal/metrics"
	"tablewatch/internal/models"
	"tablewatch/internal/scanner"
	"tablewatch/internal/timewindow"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const dateLayout = "2006-01-02"

// ScanTrigger runs one scan cycle on demand.
type ScanTrigger interface {
	Scan(ctx context.Context, tier string, now time.Time) (scanner.Summary, error)
}

// AdminNotifier forwards operational notices to the configured admin address.
type AdminNotifier interface {
	NotifyAdminNewWatch(ctx context.Context, w *models.Watch, loc models.Location) error
	NotifyAdminFeedback(ctx context.Context, message, contact, remoteAddr string) error
}

// HTTPServer exposes the watch-management and availability API.
type HTTPServer struct {
	cfg       config.APIConfig
	db        *database.DB
	locations map[string]models.Location
	inventory domain.InventoryClient
	cache     domain.Cache
	scan      ScanTrigger
	admin     AdminNotifier
	cacheTTL  time.Duration
	auth      *HTTPAuth
	server    *http.Server
	logger    zerolog.Logger
}

func NewHTTPServer(
	cfg config.APIConfig,
	db *database.DB,
	locations []models.Location,
	inventory domain.InventoryClient,
	cache domain.Cache,
	scan ScanTrigger,
	admin AdminNotifier,
	cacheTTL time.Duration,
	logger zerolog.Logger,
) *HTTPServer {
	locs := make(map[string]models.Location, len(locations))
	for _, loc := range locations {
		locs[loc.Key] = loc
	}

	srv := &HTTPServer{
		cfg:       cfg,
		db:        db,
		locations: locs,
		inventory: inventory,
		cache:     cache,
		scan:      scan,
		admin:     admin,
		cacheTTL:  cacheTTL,
		auth:      NewHTTPAuth(cfg),
		logger:    logger.With().Str("component", "http_server").Logger(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", srv.handleHealth)
	mux.HandleFunc("/api/v1/locations", srv.handleLocations)
	mux.HandleFunc("/api/v1/watches", srv.handleWatches)
	mux.HandleFunc("/api/v1/watches/", srv.handleWatchByID)
	mux.HandleFunc("/api/v1/availability", srv.handleAvailability)
	mux.HandleFunc("/api/v1/scan", srv.handleScan)
	mux.HandleFunc("/api/v1/feedback", srv.handleFeedback)

	srv.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           srv.loggingMiddleware(srv.auth.Wrap(mux)),
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
	}

	return srv
}

// Handler exposes the full middleware chain, mainly for tests.
func (s *HTTPServer) Handler() http.Handler {
	return s.server.Handler
}

func (s *HTTPServer) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("http api listening")
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "database unreachable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleLocations(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	out := make([]models.Location, 0, len(s.locations))
	for _, loc := range s.locations {
		out = append(out, loc)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	writeJSON(w, http.StatusOK, map[string]any{"locations": out})
}

type createWatchRequest struct {
	Email     string `json:"email"`
	Name      string `json:"name"`
	Phone     string `json:"phone"`
	Location  string `json:"location"`
	PartySize int    `json:"party_size"`
	Date      string `json:"date"`
	TimeStart string `json:"time_start"`
	TimeEnd   string `json:"time_end"`
	AutoBook  bool   `json:"auto_book"`

	BookFirstName string `json:"book_first_name"`
	BookLastName  string `json:"book_last_name"`
	BookEmail     string `json:"book_email"`
	BookPhone     string `json:"book_phone"`

	TelegramChatID int64 `json:"telegram_chat_id"`
}

func (s *HTTPServer) handleWatches(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		s.createWatch(w, r)
	case http.MethodGet:
		s.listWatches(w, r)
	default:
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (s *HTTPServer) createWatch(w http.ResponseWriter, r *http.Request) {
	var req createWatchRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}

	req.Email = strings.TrimSpace(strings.ToLower(req.Email))
	if req.Email == "" {
		writeError(w, http.StatusBadRequest, "email is required")
		return
	}
	loc, ok := s.locations[req.Location]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown location %q", req.Location))
		return
	}
	if req.PartySize < 1 || req.PartySize > 20 {
		writeError(w, http.StatusBadRequest, "party_size must be between 1 and 20")
		return
	}
	targetDate, err := time.Parse(dateLayout, req.Date)
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	today := time.Now().UTC().Truncate(24 * time.Hour)
	if targetDate.Before(today) {
		writeError(w, http.StatusBadRequest, "date is in the past")
		return
	}
	if _, err := timewindow.Parse(req.TimeStart, req.TimeEnd); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	user, err := s.db.GetOrCreateUser(r.Context(), &models.User{
		Email:          req.Email,
		Name:           req.Name,
		Phone:          req.Phone,
		TelegramChatID: req.TelegramChatID,
	})
	if err != nil {
		s.logger.Error().Err(err).Msg("get or create user")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	watch := &models.Watch{
		UserID:        user.ID,
		LocationKey:   loc.Key,
		PartySize:     req.PartySize,
		TargetDate:    targetDate,
		TimeStart:     req.TimeStart,
		TimeEnd:       req.TimeEnd,
		AutoBook:      req.AutoBook,
		BookFirstName: req.BookFirstName,
		BookLastName:  req.BookLastName,
		BookEmail:     req.BookEmail,
		BookPhone:     req.BookPhone,
		ClientRef:     uuid.NewString(),
	}
	if err := s.db.CreateWatch(r.Context(), watch); err != nil {
		s.logger.Error().Err(err).Msg("create watch")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	s.logger.Info().
		Int64("watch_id", watch.ID).
		Str("location", loc.Key).
		Str("date", req.Date).
		Bool("auto_book", req.AutoBook).
		Msg("watch created")

	if s.admin != nil {
		watch.UserName = user.Name
		watch.UserEmail = user.Email
		if err := s.admin.NotifyAdminNewWatch(r.Context(), watch, loc); err != nil {
			s.logger.Warn().Err(err).Int64("watch_id", watch.ID).Msg("admin notice failed")
		}
	}

	writeJSON(w, http.StatusCreated, watch)
}

type feedbackRequest struct {
	Message string `json:"message"`
	Contact string `json:"contact"`
}

func (s *HTTPServer) handleFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req feedbackRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "message is required")
		return
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if s.admin != nil {
		if err := s.admin.NotifyAdminFeedback(r.Context(), req.Message, req.Contact, host); err != nil {
			s.logger.Error().Err(err).Msg("feedback notice failed")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "received"})
}

func (s *HTTPServer) listWatches(w http.ResponseWriter, r *http.Request) {
	email := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}

	user, err := s.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeJSON(w, http.StatusOK, map[string]any{"watches": []*models.Watch{}})
			return
		}
		s.logger.Error().Err(err).Msg("lookup user")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	watches, err := s.db.ListUserWatches(r.Context(), user.ID, r.URL.Query().Get("status"))
	if err != nil {
		s.logger.Error().Err(err).Msg("list watches")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"watches": watches})
}

func (s *HTTPServer) handleWatchByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	idStr := strings.TrimPrefix(r.URL.Path, "/api/v1/watches/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid watch id")
		return
	}

	email := strings.TrimSpace(strings.ToLower(r.URL.Query().Get("email")))
	if email == "" {
		writeError(w, http.StatusBadRequest, "email query parameter is required")
		return
	}
	user, err := s.db.GetUserByEmail(r.Context(), email)
	if err != nil {
		if errors.Is(err, database.ErrNotFound) {
			writeError(w, http.StatusNotFound, "watch not found")
			return
		}
		s.logger.Error().Err(err).Msg("lookup user")
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	switch err := s.db.CancelWatch(r.Context(), id, user.ID); {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]string{"status": "cancelled"})
	case errors.Is(err, database.ErrNotFound):
		writeError(w, http.StatusNotFound, "watch not found")
	case errors.Is(err, database.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "watch already booked or expired")
	default:
		s.logger.Error().Err(err).Int64("watch_id", id).Msg("cancel watch")
		writeError(w, http.StatusInternalServerError, "internal error")
	}
}

type availabilityResponse struct {
	Location  string        `json:"location"`
	Date      string        `json:"date"`
	PartySize int           `json:"party_size"`
	Slots     []models.Slot `json:"slots"`
	Cached    bool          `json:"cached"`
}

func (s *HTTPServer) handleAvailability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	q := r.URL.Query()
	loc, ok := s.locations[q.Get("location")]
	if !ok {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown location %q", q.Get("location")))
		return
	}
	date, err := time.Parse(dateLayout, q.Get("date"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "date must be YYYY-MM-DD")
		return
	}
	partySize := 2
	if raw := q.Get("party_size"); raw != "" {
		partySize, err = strconv.Atoi(raw)
		if err != nil || partySize < 1 || partySize > 20 {
			writeError(w, http.StatusBadRequest, "party_size must be between 1 and 20")
			return
		}
	}

	cacheKey := fmt.Sprintf("availability:%s:%s:%d", loc.Key, q.Get("date"), partySize)
	if data, age, ok := s.cache.Get(r.Context(), cacheKey); ok && age <= s.cacheTTL {
		var slots []models.Slot
		if err := json.Unmarshal(data, &slots); err == nil {
			writeJSON(w, http.StatusOK, availabilityResponse{
				Location:  loc.Key,
				Date:      q.Get("date"),
				PartySize: partySize,
				Slots:     slots,
				Cached:    true,
			})
			return
		}
		s.logger.Warn().Str("key", cacheKey).Msg("discarding undecodable cache entry")
	}

	slots, err := s.inventory.FetchSlots(r.Context(), loc, date, partySize)
	if err != nil {
		s.logger.Error().Err(err).Str("location", loc.Key).Msg("fetch availability")
		writeError(w, http.StatusBadGateway, "upstream unavailable")
		return
	}
	if slots == nil {
		slots = []models.Slot{}
	}

	if data, err := json.Marshal(slots); err == nil {
		if err := s.cache.Put(r.Context(), cacheKey, data); err != nil {
			s.logger.Warn().Err(err).Str("key", cacheKey).Msg("cache write failed")
		}
	}

	writeJSON(w, http.StatusOK, availabilityResponse{
		Location:  loc.Key,
		Date:      q.Get("date"),
		PartySize: partySize,
		Slots:     slots,
	})
}

func (s *HTTPServer) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	tier := r.URL.Query().Get("tier")
	if tier == "" {
		tier = scanner.TierAll
	}
	switch tier {
	case scanner.TierUrgent, scanner.TierNormal, scanner.TierAll:
	default:
		writeError(w, http.StatusBadRequest, fmt.Sprintf("unknown tier %q", tier))
		return
	}

	summary, err := s.scan.Scan(r.Context(), tier, time.Now().UTC())
	if err != nil {
		s.logger.Error().Err(err).Str("tier", tier).Msg("manual scan failed")
		writeError(w, http.StatusInternalServerError, "scan failed")
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *HTTPServer) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(rec, r)

		metrics.IncHTTP(r.URL.Path)
		s.logger.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", rec.status).
			Dur("duration", time.Since(start)).
			Msg("http request")
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
