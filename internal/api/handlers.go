package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"go.uber.org/zap"

	"broker-gateway-go/internal/store"
)

const (
	maxPostbackBytes = 1 << 20
	maxOrderBytes    = 64 << 10

	sideBuy  = "buy"
	sideSell = "sell"
)

const (
	msgPostbackReceived    = "Postback received"
	errFetchNews           = "Failed to fetch news"
	errFetchHistorical     = "Failed to fetch historical prices"
	errFetchHoldings       = "Failed to fetch holdings"
	errNotAuthenticated    = "Not authenticated"
	errInvalidOrderPayload = "Invalid order payload"
	errNotFound            = "Not found"
)

// handlePostback 无论请求体内容都返回 200。
func (s *Server) handlePostback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxPostbackBytes))
	if err != nil {
		s.logger.Warn("postback body read failed", zap.Error(err))
	}
	if s.monitor != nil {
		s.monitor.RecordPostback()
	}
	fields := []zap.Field{zap.Int("bytes", len(body)), zap.Bool("json", json.Valid(body))}
	if ce := s.logger.Check(zap.DebugLevel, "postback received"); ce != nil {
		ce.Write(append(fields, zap.ByteString("body", body))...)
	} else {
		s.logger.Info("postback received", fields...)
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": msgPostbackReceived})
}

func (s *Server) handleNews(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upstream.FetchNews(r.Context())
	if err != nil {
		s.logger.LogError(err, map[string]interface{}{"action": "fetch_news"})
		writeError(w, http.StatusInternalServerError, errFetchNews)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleHistoricalPrices(w http.ResponseWriter, r *http.Request) {
	symbol := r.URL.Query().Get("symbol")
	if symbol == "" {
		symbol = s.defaultSymbol
	}
	raw, err := s.upstream.FetchHistoricalPrices(r.Context(), symbol)
	if err != nil {
		s.logger.LogError(err, map[string]interface{}{"action": "fetch_historical_prices", "symbol": symbol})
		writeError(w, http.StatusInternalServerError, errFetchHistorical)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleHoldings(w http.ResponseWriter, r *http.Request) {
	raw, err := s.upstream.FetchHoldings(r.Context())
	if err != nil {
		if errors.Is(err, store.ErrUnauthenticated) {
			writeError(w, http.StatusUnauthorized, errNotAuthenticated)
			return
		}
		s.logger.LogError(err, map[string]interface{}{"action": "fetch_holdings"})
		writeError(w, http.StatusInternalServerError, errFetchHoldings)
		return
	}
	writeRaw(w, http.StatusOK, raw)
}

func (s *Server) handleOrder(side string) http.HandlerFunc {
	place := s.upstream.PlaceBuyOrder
	failMsg := "Failed to place buy order"
	if side == sideSell {
		place = s.upstream.PlaceSellOrder
		failMsg = "Failed to place sell order"
	}
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, maxOrderBytes))
		if err != nil || len(body) == 0 || !json.Valid(body) {
			writeError(w, http.StatusBadRequest, errInvalidOrderPayload)
			return
		}
		raw, err := place(r.Context(), json.RawMessage(body))
		if err != nil {
			if errors.Is(err, store.ErrUnauthenticated) {
				writeError(w, http.StatusUnauthorized, errNotAuthenticated)
				return
			}
			s.logger.LogError(err, map[string]interface{}{"action": "place_order", "side": side})
			writeError(w, http.StatusInternalServerError, failMsg)
			return
		}
		if s.monitor != nil {
			s.monitor.RecordOrderRelayed(side)
		}
		s.logger.LogOrder("order_relayed", side, map[string]interface{}{"bytes": len(body)})
		writeRaw(w, http.StatusOK, raw)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleNotFound(w http.ResponseWriter, _ *http.Request) {
	writeError(w, http.StatusNotFound, errNotFound)
}
