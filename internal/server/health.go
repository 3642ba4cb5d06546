package server

import (
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/pkg/log"
	"github.com/quaver-audio/quaver/pkg/timers"
)

func (s *Server) handleHealth(c *gin.Context) {
	ctx := c.Request.Context()
	trackCount, err := s.store.TrackCount(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status": "degraded",
			"error":  err.Error(),
		})
		return
	}

	pending := -1
	_ = s.loop.Do(func(sched *timers.Scheduler) {
		pending = sched.Pending()
	})

	resp := gin.H{
		"status":         "ok",
		"uptime_seconds": int(time.Since(s.started).Seconds()),
		"tracks":         trackCount,
		"pending_timers": pending,
	}

	if s.cache != nil {
		st, err := s.cache.ScanStatus(ctx)
		switch {
		case err == nil:
			resp["last_scan"] = st
		case !errors.Is(err, cache.ErrNotCached):
			slog.Warn("Scan status cache read failed",
				log.Error(err))
		}
	}

	c.JSON(http.StatusOK, resp)
}
