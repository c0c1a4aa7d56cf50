// Package api serves the feeds over HTTP: round queries, oracle pushes, quotes and a
// WebSocket stream of round starts and quotes.
package api

import (
	"bufio"
	"context"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/cors"

	"github.com/StrathCole/flux-aggregator/pkg/feed"
	"github.com/StrathCole/flux-aggregator/pkg/flux"
	"github.com/StrathCole/flux-aggregator/pkg/logging"
	"github.com/StrathCole/flux-aggregator/pkg/metrics"
	"github.com/StrathCole/flux-aggregator/pkg/server/aggregator"
)

const maxRequestBody = 1 << 16

// Server represents the HTTP API server.
type Server struct {
	addr     string
	feeds    *feed.Registry
	tokens   map[string]string // "feed/oracle" -> bearer token
	observer *aggregator.Observer
	ws       *WebSocketServer
	origins  []string
	tlsCert  string
	tlsKey   string
	server   *http.Server
	logger   *logging.Logger
}

// Options configures optional parts of the server.
type Options struct {
	// Observer serves GET /v1/prices when set.
	Observer *aggregator.Observer
	// WebSocket serves /ws when set.
	WebSocket *WebSocketServer
	// AllowedOrigins for CORS; empty allows all.
	AllowedOrigins []string
	// TLSCert and TLSKey enable HTTPS when both are set.
	TLSCert string
	TLSKey  string
}

// NewServer creates a new HTTP API server.
func NewServer(addr string, feeds *feed.Registry, logger *logging.Logger, opts Options) *Server {
	if logger == nil {
		logger = logging.NewNoopLogger()
	}
	return &Server{
		addr:     addr,
		feeds:    feeds,
		tokens:   make(map[string]string),
		observer: opts.Observer,
		ws:       opts.WebSocket,
		origins:  opts.AllowedOrigins,
		tlsCert:  opts.TLSCert,
		tlsKey:   opts.TLSKey,
		logger:   logger,
	}
}

// SetOracleToken sets the bearer token the oracle must present to push to feedName.
func (s *Server) SetOracleToken(feedName, oracle, token string) {
	s.tokens[feedName+"/"+oracle] = token
}

// Handler returns the routed handler wrapped with CORS.
func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.metricsMiddleware)

	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/v1/feeds", s.handleFeeds).Methods(http.MethodGet)

	f := r.PathPrefix("/v1/feeds/{feed}").Subrouter()
	f.HandleFunc("/rounds/latest", s.handleLatestRound).Methods(http.MethodGet)
	f.HandleFunc("/rounds/{id:[0-9]+}", s.handleRound).Methods(http.MethodGet)
	f.HandleFunc("/rounds/{id:[0-9]+}/status", s.handleRoundStatus).Methods(http.MethodGet)
	f.HandleFunc("/oracles/{oracle}", s.handleOracleStatus).Methods(http.MethodGet)
	f.HandleFunc("/oracles/{oracle}/round-state", s.handleRoundState).Methods(http.MethodGet)
	f.HandleFunc("/oracles/{oracle}/prices", s.handlePushPrice).Methods(http.MethodPost)
	f.HandleFunc("/quote", s.handleQuote).Methods(http.MethodGet)

	if s.observer != nil {
		r.HandleFunc("/v1/prices", s.handlePrices).Methods(http.MethodGet)
	}
	if s.ws != nil {
		r.HandleFunc("/ws", s.ws.HandleWebSocket)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
	})
	return c.Handler(r)
}

// Start serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Start(ctx context.Context) error {
	s.server = &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		if s.tlsCert != "" && s.tlsKey != "" {
			s.logger.Info("Starting HTTPS server", "addr", s.addr)
			errCh <- s.server.ListenAndServeTLS(s.tlsCert, s.tlsKey)
			return
		}
		s.logger.Info("Starting HTTP server", "addr", s.addr)
		errCh <- s.server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("Stopping HTTP server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.server.Shutdown(shutdownCtx)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleFeeds(w http.ResponseWriter, _ *http.Request) {
	feeds := s.feeds.All()
	out := make([]FeedSummary, 0, len(feeds))
	for _, f := range feeds {
		summary := FeedSummary{
			Name:           f.Name(),
			ReportingRound: f.Manager().ReportingRoundID(),
			Oracles:        f.OracleCount(),
		}
		if v, ok := f.Manager().LastValueOut(); ok {
			summary.LatestAnswer = v.Dec()
		}
		out = append(out, summary)
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) handleLatestRound(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	data, err := f.LatestRoundData()
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewRoundDataResponse(data))
}

func (s *Server) handleRound(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	id, ok := s.roundID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	data, err := f.GetRoundData(id)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewRoundDataResponse(data))
}

func (s *Server) handleRoundStatus(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	id, ok := s.roundID(w, mux.Vars(r)["id"])
	if !ok {
		return
	}
	status, err := f.GetRoundStatus(id)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewRoundStatusResponse(id, status))
}

func (s *Server) handleOracleStatus(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	kit, err := f.Oracle(mux.Vars(r)["oracle"])
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewOracleStatusResponse(kit.Oracle.Status()))
}

func (s *Server) handleRoundState(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	var queried uint64
	if raw := r.URL.Query().Get("round"); raw != "" {
		if queried, ok = s.roundID(w, raw); !ok {
			return
		}
	}
	state, err := f.OracleRoundState(r.Context(), mux.Vars(r)["oracle"], queried)
	if err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewRoundStateResponse(state))
}

func (s *Server) handlePushPrice(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	oracle := mux.Vars(r)["oracle"]
	if !s.authorized(r, f.Name(), oracle) {
		s.sendJSON(w, http.StatusUnauthorized, ErrorResponse{Error: "unauthorized"})
		return
	}

	var req PushPriceRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody)).Decode(&req); err != nil {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid request body: " + err.Error()})
		return
	}
	if req.UnitPrice == "" {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "unit_price is required"})
		return
	}
	price, err := ParseNat(req.UnitPrice)
	if err != nil {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: err.Error()})
		return
	}

	kit, err := f.Oracle(oracle)
	if err != nil {
		s.sendError(w, err)
		return
	}
	if err := kit.Oracle.PushPrice(r.Context(), flux.PriceRound{RoundID: req.RoundID, UnitPrice: price}); err != nil {
		s.sendError(w, err)
		return
	}
	s.sendJSON(w, http.StatusOK, NewOracleStatusResponse(kit.Oracle.Status()))
}

func (s *Server) handleQuote(w http.ResponseWriter, r *http.Request) {
	f, ok := s.feed(w, r)
	if !ok {
		return
	}
	brandIn, brandOut := f.Manager().Brands()
	q := r.URL.Query()

	var (
		quote *flux.PriceQuote
		err   error
	)
	switch {
	case q.Get("amount_in") != "":
		v, perr := ParseNat(q.Get("amount_in"))
		if perr != nil {
			s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: perr.Error()})
			return
		}
		quote, err = f.Quote(r.Context(), flux.Amount{Brand: brandIn, Value: v})
	case q.Get("amount_out") != "":
		v, perr := ParseNat(q.Get("amount_out"))
		if perr != nil {
			s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: perr.Error()})
			return
		}
		quote, err = f.QuoteWanted(r.Context(), flux.Amount{Brand: brandOut, Value: v})
	default:
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "amount_in or amount_out is required"})
		return
	}

	if err != nil {
		s.sendError(w, err)
		return
	}
	if quote == nil {
		s.sendJSON(w, http.StatusNotFound, ErrorResponse{Error: flux.ErrNoData.Error()})
		return
	}
	s.sendJSON(w, http.StatusOK, NewQuoteResponse(quote))
}

func (s *Server) handlePrices(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	prices, err := s.observer.ObserveAll(ctx)
	if err != nil {
		s.logger.Error("Failed to aggregate prices", "error", err)
		s.sendJSON(w, http.StatusServiceUnavailable, ErrorResponse{Error: "no prices available"})
		return
	}

	symbols := make([]string, 0, len(prices))
	for symbol := range prices {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)

	out := make([]PriceData, 0, len(prices))
	for _, symbol := range symbols {
		p := prices[symbol]
		out = append(out, PriceData{
			Symbol:    symbol,
			Price:     p.Price.String(),
			Timestamp: p.Timestamp.UTC().Format(time.RFC3339),
		})
	}
	s.sendJSON(w, http.StatusOK, out)
}

func (s *Server) feed(w http.ResponseWriter, r *http.Request) (*feed.Feed, bool) {
	f, err := s.feeds.Get(mux.Vars(r)["feed"])
	if err != nil {
		s.sendError(w, err)
		return nil, false
	}
	return f, true
}

func (s *Server) roundID(w http.ResponseWriter, raw string) (uint64, bool) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		s.sendJSON(w, http.StatusBadRequest, ErrorResponse{Error: "invalid round id"})
		return 0, false
	}
	return id, true
}

func (s *Server) authorized(r *http.Request, feedName, oracle string) bool {
	want, ok := s.tokens[feedName+"/"+oracle]
	if !ok || want == "" {
		return false
	}
	got, found := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !found {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(want)) == 1
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, feed.ErrUnknownFeed),
		errors.Is(err, feed.ErrUnknownOracle),
		errors.Is(err, flux.ErrNoData),
		errors.Is(err, flux.ErrRoundStatusNotFound):
		return http.StatusNotFound
	case errors.Is(err, feed.ErrDisabledOracle):
		return http.StatusForbidden
	case flux.IsProtocolError(err),
		errors.Is(err, flux.ErrBrandMismatch),
		errors.Is(err, flux.ErrZeroDivisor),
		errors.Is(err, flux.ErrAmountOverflow):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) sendError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	msg := err.Error()
	if status == http.StatusInternalServerError {
		s.logger.Error("Request failed", "error", err)
		msg = "internal error"
	}
	s.sendJSON(w, status, ErrorResponse{Error: msg})
}

func (s *Server) sendJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Hijack lets the WebSocket upgrader take over the connection.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tmpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tmpl
			}
		}
		metrics.RecordHTTPRequest(endpoint, strconv.Itoa(rec.status), time.Since(start))
	})
}
