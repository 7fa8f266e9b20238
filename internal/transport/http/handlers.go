package http

import (
	"context"
	"net/http"
	"time"

	"github.com/dkeye/ringcall/internal/domain"
	"github.com/dkeye/ringcall/internal/signal"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// HistoryReader is the read side of the call record store.
type HistoryReader interface {
	History(ctx context.Context, session domain.SessionID, limit int) ([]domain.CallRecord, error)
}

type HistoryRequest struct {
	Peer  string `form:"peer" binding:"required"`
	Limit int    `form:"limit" binding:"omitempty,min=1,max=500"`
}

type CallRecordResponse struct {
	Attempt string `json:"attempt"`
	Party   string `json:"party"`
	Status  string `json:"status"`
	Mode    string `json:"mode"`
	At      int64  `json:"at"`
}

type HistoryResponse struct {
	Session string               `json:"session"`
	Records []CallRecordResponse `json:"records"`
}

// HandleHistory lists the records of the caller's session with peer. The
// caller is taken from the "party" context key, so a party only ever sees
// its own pairs.
func HandleHistory(r HistoryReader) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req HistoryRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "missing or invalid peer"})
			return
		}
		self := domain.PartyID(c.GetString("party"))
		session := signal.DeriveSessionChannel(self, domain.PartyID(req.Peer))

		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		recs, err := r.History(ctx, session, req.Limit)
		if err != nil {
			log.Error().Err(err).Str("module", "transport.http").Str("session", string(session)).Msg("history")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "history unavailable"})
			return
		}

		c.JSON(http.StatusOK, HistoryResponse{
			Session: string(session),
			Records: lo.Map(recs, func(rec domain.CallRecord, _ int) CallRecordResponse {
				return CallRecordResponse{
					Attempt: rec.Attempt,
					Party:   string(rec.Party),
					Status:  string(rec.Status),
					Mode:    string(rec.Mode),
					At:      rec.At.UnixMilli(),
				}
			}),
		})
	}
}
