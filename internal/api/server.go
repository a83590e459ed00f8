package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"broker-gateway-go/infrastructure/logger"
)

// Upstream 由 *gateway.Client 实现。
type Upstream interface {
	FetchHoldings(ctx context.Context) (json.RawMessage, error)
	PlaceBuyOrder(ctx context.Context, order json.RawMessage) (json.RawMessage, error)
	PlaceSellOrder(ctx context.Context, order json.RawMessage) (json.RawMessage, error)
	FetchNews(ctx context.Context) (json.RawMessage, error)
	FetchHistoricalPrices(ctx context.Context, symbol string) (json.RawMessage, error)
}

// Recorder HTTP 层指标，*monitor.Monitor 实现该接口。
type Recorder interface {
	RecordHTTPRequest(route, code string)
	RecordPostback()
	RecordOrderRelayed(side string)
}

// Server 对外 HTTP 接口。
type Server struct {
	upstream      Upstream
	logger        *logger.Logger
	monitor       Recorder
	defaultSymbol string
	mux           *http.ServeMux
	handler       http.Handler
}

func NewServer(up Upstream, defaultSymbol string, log *logger.Logger, rec Recorder) *Server {
	if log == nil {
		log = logger.NewNop()
	}
	s := &Server{
		upstream:      up,
		logger:        log,
		monitor:       rec,
		defaultSymbol: defaultSymbol,
		mux:           http.NewServeMux(),
	}
	s.routes()
	s.handler = s.instrument(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /postback", s.handlePostback)
	s.mux.HandleFunc("GET /news", s.handleNews)
	s.mux.HandleFunc("GET /historical-prices", s.handleHistoricalPrices)
	s.mux.HandleFunc("GET /holdings", s.handleHoldings)
	s.mux.HandleFunc("POST /orders/buy", s.handleOrder(sideBuy))
	s.mux.HandleFunc("POST /orders/sell", s.handleOrder(sideSell))
	s.mux.HandleFunc("GET /healthz", s.handleHealth)
	s.mux.HandleFunc("/", s.handleNotFound)
}

// Handler 返回带日志与指标中间件的根 handler。
func (s *Server) Handler() http.Handler {
	return s.handler
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)

		route := r.Pattern
		if route == "" || route == "/" {
			route = "unmatched"
		}
		if s.monitor != nil {
			s.monitor.RecordHTTPRequest(route, strconv.Itoa(rec.status))
		}
		s.logger.Debug("http request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("route", route),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeRaw(w http.ResponseWriter, status int, raw json.RawMessage) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(raw)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
