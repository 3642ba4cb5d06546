package server

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quaver-audio/quaver/pkg/timers"
)

// handleListTimers snapshots the scheduler's pending records. The snapshot
// is taken on the loop goroutine; targets are rendered as strings since
// they are opaque identities
func (s *Server) handleListTimers(c *gin.Context) {
	var infos []timers.PendingInfo
	err := s.loop.Do(func(sched *timers.Scheduler) {
		infos = sched.ListPending()
	})
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	type pendingTimer struct {
		Queue    string        `json:"queue"`
		Target   string        `json:"target"`
		FireAt   string        `json:"fire_at"`
		Callback string        `json:"callback"`
		Handle   timers.Handle `json:"handle"`
	}

	out := make([]pendingTimer, len(infos))
	for i, info := range infos {
		out[i] = pendingTimer{
			Queue:    info.Queue,
			Target:   targetString(info.Target),
			FireAt:   info.FireAt.UTC().Format("2006-01-02T15:04:05.000Z"),
			Callback: info.Callback,
			Handle:   info.Handle,
		}
	}
	c.JSON(http.StatusOK, gin.H{"timers": out})
}

func targetString(target any) string {
	if target == nil {
		return ""
	}
	return fmt.Sprintf("%v", target)
}
