package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/rewired-gh/polyedge/internal/engine"
	"github.com/rewired-gh/polyedge/internal/logger"
	"github.com/rewired-gh/polyedge/internal/models"
	"github.com/rewired-gh/polyedge/internal/monitor"
)

const defaultHistoryLimit = 50

type stakeResponse struct {
	EventID string            `json:"event_id"`
	BestYes models.BestPrice  `json:"best_yes"`
	BestNo  models.BestPrice  `json:"best_no"`
	Split   models.StakeSplit `json:"split"`
	Display models.StakeSplit `json:"display"`
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":     "ok",
		"categories": s.store.Statuses(),
	})
}

func (s *Server) events(category string) []models.MarketEvent {
	if category == "" {
		return s.store.All()
	}
	return s.store.Category(category)
}

// GET /api/events?category=politics
func (s *Server) listEvents(c *gin.Context) {
	category := c.Query("category")
	resp := gin.H{"events": s.events(category)}
	if category != "" {
		if st, ok := s.store.Status(category); ok {
			resp["status"] = st
		}
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/events/:id
func (s *Server) getEvent(c *gin.Context) {
	ev, ok := s.store.Event(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	c.JSON(http.StatusOK, ev)
}

// POST /api/events/:id/resync
func (s *Server) resyncEvent(c *gin.Context) {
	id := c.Param("id")
	ev, err := s.refresher.ResyncEvent(c.Request.Context(), id)
	switch {
	case errors.Is(err, monitor.ErrUnknownEvent):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
	case err != nil:
		logger.WithFields(logger.Fields{"event": id}).Warn("Resync failed: %v", err)
		c.JSON(http.StatusBadGateway, gin.H{"error": err.Error(), "event": ev})
	default:
		c.JSON(http.StatusOK, ev)
	}
}

// POST /api/categories/:category/refresh
func (s *Server) refreshCategory(c *gin.Context) {
	category := c.Param("category")
	_, err := s.refresher.RefreshCategory(c.Request.Context(), category)

	resp := gin.H{"events": s.store.Category(category)}
	if st, ok := s.store.Status(category); ok {
		resp["status"] = st
	}
	if err != nil {
		logger.WithFields(logger.Fields{"category": category}).Warn("Refresh failed: %v", err)
		resp["error"] = err.Error()
		c.JSON(http.StatusBadGateway, resp)
		return
	}
	c.JSON(http.StatusOK, resp)
}

// GET /api/opportunities/alpha?category=
func (s *Server) alpha(c *gin.Context) {
	opps := s.engine.RankAlpha(s.events(c.Query("category")))
	if opps == nil {
		opps = []models.Opportunity{}
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}

// GET /api/opportunities/arbitrage?category=
func (s *Server) arbitrage(c *gin.Context) {
	opps := engine.RankArbitrage(s.events(c.Query("category")))
	if opps == nil {
		opps = []models.ArbOpportunity{}
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": opps})
}

// GET /api/opportunities/history?kind=alpha&limit=20
func (s *Server) opportunityHistory(c *gin.Context) {
	kind := models.OpportunityKind(c.Query("kind"))
	switch kind {
	case "", models.KindAlpha, models.KindArbitrage:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"error": "kind must be alpha or arbitrage"})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", strconv.Itoa(defaultHistoryLimit)))
	if err != nil || limit < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	recs, err := s.history.GetTopOpportunities(kind, limit)
	if err != nil {
		logger.WithError(err).Error("Failed to read opportunity history")
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if recs == nil {
		recs = []models.OpportunityRecord{}
	}
	c.JSON(http.StatusOK, gin.H{"opportunities": recs})
}

// GET /api/events/:id/stake?bankroll=1000
func (s *Server) stake(c *gin.Context) {
	ev, ok := s.store.Event(c.Param("id"))
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event not found"})
		return
	}
	pair, ok := ev.BestPair()
	if !ok {
		c.JSON(http.StatusNotFound, gin.H{"error": "event has no best YES/NO pair"})
		return
	}

	bankroll, err := strconv.ParseFloat(c.Query("bankroll"), 64)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "bankroll must be a number"})
		return
	}

	split, err := engine.AllocateForEvent(ev, bankroll)
	if err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, stakeResponse{
		EventID: ev.ID,
		BestYes: pair.Yes,
		BestNo:  pair.No,
		Split:   split,
		Display: split.Rounded(),
	})
}
