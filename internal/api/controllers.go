package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"synth-core/internal/control"
	"synth-core/internal/monitor"
	"synth-core/pkg/db"
)

type listTradesQuery struct {
	From   string `form:"from"`
	To     string `form:"to"`
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type listEventsQuery struct {
	Type   string `form:"type"`
	Symbol string `form:"symbol"`
	Limit  int    `form:"limit"`
	Offset int    `form:"offset"`
}

type rangeQuery struct {
	From string `form:"from"`
	To   string `form:"to"`
}

type killSwitchRequest struct {
	Enabled *bool  `json:"enabled" binding:"required"`
	Reason  string `json:"reason"`
}

type contractTypeRequest struct {
	ContractType string `json:"contract_type"`
}

func normalizePage(limit, offset *int, def, max int) {
	if *limit <= 0 {
		*limit = def
	}
	if *limit > max {
		*limit = max
	}
	if *offset < 0 {
		*offset = 0
	}
}

func respondError(c *gin.Context, status int, code, msg string) {
	c.AbortWithStatusJSON(status, gin.H{
		"code":  code,
		"error": msg,
	})
}

// parseTime accepts RFC3339 or a bare YYYY-MM-DD date (UTC midnight).
func parseTime(v string) (time.Time, error) {
	v = strings.TrimSpace(v)
	if v == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, v); err == nil {
		return t, nil
	}
	return time.Parse(time.DateOnly, v)
}

func parseRange(c *gin.Context, fromStr, toStr string) (from, to time.Time, ok bool) {
	from, err := parseTime(fromStr)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_FROM", "from must be RFC3339 or YYYY-MM-DD")
		return from, to, false
	}
	to, err = parseTime(toStr)
	if err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_TO", "to must be RFC3339 or YYYY-MM-DD")
		return from, to, false
	}
	if !from.IsZero() && !to.IsZero() && to.Before(from) {
		respondError(c, http.StatusBadRequest, "INVALID_RANGE", "to is before from")
		return from, to, false
	}
	return from, to, true
}

func (s *Server) getStatus(c *gin.Context) {
	c.JSON(http.StatusOK, s.Service.Status(c.Request.Context()))
}

func (s *Server) getMetrics(c *gin.Context) {
	snap, source, err := s.Service.LatestSnapshot(c.Request.Context())
	if errors.Is(err, monitor.ErrNoSnapshot) {
		respondError(c, http.StatusNotFound, "NO_SNAPSHOT", "no metrics snapshot published yet")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, gin.H{"source": source, "snapshot": snap})
}

func (s *Server) listTrades(c *gin.Context) {
	var q listTradesQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	normalizePage(&q.Limit, &q.Offset, 50, 500)
	from, to, ok := parseRange(c, q.From, q.To)
	if !ok {
		return
	}

	page, err := s.Service.ListTrades(c.Request.Context(), db.TradeFilter{
		From: from, To: to, Symbol: q.Symbol, Limit: q.Limit, Offset: q.Offset,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]tradeDTO, 0, len(page.Trades))
	for _, t := range page.Trades {
		out = append(out, toTradeDTO(t))
	}
	c.JSON(http.StatusOK, gin.H{
		"trades": out,
		"total":  page.Total,
		"limit":  page.Limit,
		"offset": page.Offset,
	})
}

func (s *Server) deleteTrade(c *gin.Context) {
	id := c.Param("id")
	err := s.Service.DeleteTrade(c.Request.Context(), id)
	if errors.Is(err, db.ErrNotFound) {
		respondError(c, http.StatusNotFound, "TRADE_NOT_FOUND", "trade not found")
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.log.Info().Str("trade_id", id).Str("operator", CurrentOperator(c)).Msg("trade deleted")
	c.JSON(http.StatusOK, gin.H{"deleted": 1})
}

func (s *Server) deleteTrades(c *gin.Context) {
	var q rangeQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	from, to, ok := parseRange(c, q.From, q.To)
	if !ok {
		return
	}
	n, err := s.Service.DeleteTrades(c.Request.Context(), from, to)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.log.Info().Int64("deleted", n).Str("operator", CurrentOperator(c)).Msg("trades cleared")
	c.JSON(http.StatusOK, gin.H{"deleted": n})
}

func (s *Server) listEvents(c *gin.Context) {
	var q listEventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_QUERY", err.Error())
		return
	}
	normalizePage(&q.Limit, &q.Offset, 100, 1000)
	evs, err := s.Service.ListEvents(c.Request.Context(), db.EventFilter{
		Type: q.Type, Symbol: q.Symbol, Limit: q.Limit, Offset: q.Offset,
	})
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	out := make([]eventDTO, 0, len(evs))
	for _, ev := range evs {
		out = append(out, toEventDTO(ev))
	}
	c.JSON(http.StatusOK, gin.H{"events": out, "limit": q.Limit, "offset": q.Offset})
}

func (s *Server) getKillSwitch(c *gin.Context) {
	ks, err := s.Service.KillSwitch(c.Request.Context())
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, toKillSwitchDTO(ks))
}

func (s *Server) putKillSwitch(c *gin.Context) {
	var req killSwitchRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "enabled is required")
		return
	}
	ks, err := s.Service.SetKillSwitch(c.Request.Context(), *req.Enabled, strings.TrimSpace(req.Reason))
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	s.log.Warn().Bool("enabled", ks.Enabled).Str("operator", CurrentOperator(c)).Msg("kill-switch set via api")
	c.JSON(http.StatusOK, toKillSwitchDTO(ks))
}

func (s *Server) getContractType(c *gin.Context) {
	c.JSON(http.StatusOK, s.Service.ContractType())
}

func (s *Server) putContractType(c *gin.Context) {
	var req contractTypeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID_PAYLOAD", "invalid request payload")
		return
	}
	info, err := s.Service.SetContractType(c.Request.Context(), strings.TrimSpace(req.ContractType))
	if errors.Is(err, control.ErrUnknownContractType) {
		respondError(c, http.StatusBadRequest, "UNKNOWN_CONTRACT_TYPE", err.Error())
		return
	}
	if err != nil {
		respondError(c, http.StatusInternalServerError, "INTERNAL_ERROR", err.Error())
		return
	}
	c.JSON(http.StatusOK, info)
}

type tradeDTO struct {
	ID                  string     `json:"id"`
	Symbol              string     `json:"symbol"`
	Side                string     `json:"side"`
	ContractType        string     `json:"contract_type"`
	Stake               float64    `json:"stake"`
	Score               float64    `json:"score"`
	Status              string     `json:"status"`
	EntryTime           time.Time  `json:"entry_time"`
	ExitTime            *time.Time `json:"exit_time,omitempty"`
	EntryPrice          *float64   `json:"entry_price,omitempty"`
	ExitPrice           *float64   `json:"exit_price,omitempty"`
	PnL                 *float64   `json:"pnl,omitempty"`
	TakeProfit          *float64   `json:"take_profit,omitempty"`
	StopLoss            *float64   `json:"stop_loss,omitempty"`
	Multiplier          *int       `json:"multiplier,omitempty"`
	RequestedMultiplier *int       `json:"requested_multiplier,omitempty"`
	ContractID          string     `json:"contract_id,omitempty"`
	Error               string     `json:"error,omitempty"`
	Reasons             []string   `json:"reasons"`
	BalanceBefore       *float64   `json:"balance_before,omitempty"`
	BalanceAfter        *float64   `json:"balance_after,omitempty"`
	UpdatedAt           time.Time  `json:"updated_at"`
}

func toTradeDTO(t db.Trade) tradeDTO {
	reasons := []string{}
	if t.ReasonsJSON != "" {
		_ = json.Unmarshal([]byte(t.ReasonsJSON), &reasons)
	}
	return tradeDTO{
		ID:                  t.ID,
		Symbol:              t.Symbol,
		Side:                t.Side,
		ContractType:        t.ContractType,
		Stake:               t.Stake,
		Score:               t.Score,
		Status:              t.Status,
		EntryTime:           t.EntryTime,
		ExitTime:            t.ExitTime,
		EntryPrice:          t.EntryPrice,
		ExitPrice:           t.ExitPrice,
		PnL:                 t.PnL,
		TakeProfit:          t.TakeProfit,
		StopLoss:            t.StopLoss,
		Multiplier:          t.Multiplier,
		RequestedMultiplier: t.RequestedMultiplier,
		ContractID:          t.ContractID,
		Error:               t.Error,
		Reasons:             reasons,
		BalanceBefore:       t.BalanceBefore,
		BalanceAfter:        t.BalanceAfter,
		UpdatedAt:           t.UpdatedAt,
	}
}

type eventDTO struct {
	ID      string         `json:"id"`
	Time    time.Time      `json:"ts"`
	Level   string         `json:"level"`
	Type    string         `json:"type"`
	Symbol  string         `json:"symbol,omitempty"`
	Message string         `json:"message,omitempty"`
	Data    map[string]any `json:"data,omitempty"`
}

func toEventDTO(ev db.Event) eventDTO {
	var data map[string]any
	if ev.DataJSON != "" {
		_ = json.Unmarshal([]byte(ev.DataJSON), &data)
	}
	return eventDTO{
		ID:      ev.ID,
		Time:    ev.Time,
		Level:   ev.Level,
		Type:    ev.Type,
		Symbol:  ev.Symbol,
		Message: ev.Message,
		Data:    data,
	}
}

type killSwitchDTO struct {
	Enabled   bool      `json:"enabled"`
	Reason    string    `json:"reason"`
	UpdatedAt time.Time `json:"updated_at"`
}

func toKillSwitchDTO(ks db.KillSwitch) killSwitchDTO {
	return killSwitchDTO{Enabled: ks.Enabled, Reason: ks.Reason, UpdatedAt: ks.UpdatedAt}
}
