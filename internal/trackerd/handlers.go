package trackerd

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/roach88/sadhana/internal/journal"
	"github.com/roach88/sadhana/internal/remote"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

func (s *Server) listTracker(c *gin.Context) {
	page := queryInt(c, "page", 1)
	limit := queryInt(c, "limit", defaultLimit)
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = defaultLimit
	}
	if limit > maxLimit {
		limit = maxLimit
	}

	out, err := s.repo.Page(c.Request.Context(), c.GetString(ctxUserID), page, limit)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) optSadana(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	err := s.repo.Opt(c.Request.Context(), c.GetString(ctxUserID), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusCreated, gin.H{"data": gin.H{"dayKey": ev.DayKey, "itemId": ev.ItemID}})
	case errors.Is(err, ErrAlreadyOpted):
		respondError(c, http.StatusBadRequest, remote.ConflictCode, "Sadana already opted")
	case errors.Is(err, ErrUnknownSadana):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Sadana not found")
	default:
		s.internalError(c, err)
	}
}

func (s *Server) unoptSadana(c *gin.Context) {
	ev, ok := bindEvent(c)
	if !ok {
		return
	}
	err := s.repo.Unopt(c.Request.Context(), c.GetString(ctxUserID), ev)
	switch {
	case err == nil:
		c.JSON(http.StatusOK, gin.H{"data": gin.H{"dayKey": ev.DayKey, "itemId": ev.ItemID}})
	case errors.Is(err, ErrEntryNotFound):
		respondError(c, http.StatusNotFound, "NOT_FOUND", "Tracker entry not found")
	default:
		s.internalError(c, err)
	}
}

func (s *Server) listCatalog(c *gin.Context) {
	rows, err := s.repo.Catalog(c.Request.Context())
	if err != nil {
		s.internalError(c, err)
		return
	}
	if rows == nil {
		rows = []Sadana{}
	}
	c.JSON(http.StatusOK, gin.H{"data": rows})
}

func (s *Server) getUser(c *gin.Context) {
	u, err := s.repo.User(c.Request.Context(), c.GetString(ctxUserID))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			respondError(c, http.StatusNotFound, "NOT_FOUND", "User not found")
			return
		}
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": u})
}

func (s *Server) patchUser(c *gin.Context) {
	var body decayBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID", "decayPoints is required")
		return
	}
	if *body.DecayPoints < 0 {
		respondError(c, http.StatusBadRequest, "INVALID", "decayPoints must not be negative")
		return
	}
	u, err := s.repo.SetDecay(c.Request.Context(), c.GetString(ctxUserID), *body.DecayPoints)
	if err != nil {
		s.internalError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": u})
}

func bindEvent(c *gin.Context) (journal.Event, bool) {
	var body entryBody
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID", "dayKey and itemId are required")
		return journal.Event{}, false
	}
	ev := journal.Event{DayKey: body.DayKey, ItemID: body.ItemID}
	if err := ev.Validate(); err != nil {
		respondError(c, http.StatusBadRequest, "INVALID", err.Error())
		return journal.Event{}, false
	}
	return ev, true
}

func queryInt(c *gin.Context, name string, def int) int {
	v := c.Query(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
