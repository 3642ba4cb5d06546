package server

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/quaver-audio/quaver/internal/cache"
	"github.com/quaver-audio/quaver/internal/events"
	"github.com/quaver-audio/quaver/internal/library"
	"github.com/quaver-audio/quaver/pkg/log"
)

type (
	createLibraryRequest struct {
		Name      string `json:"name" binding:"required"`
		Predicate string `json:"predicate" binding:"required"`
	}

	libraryInfo struct {
		library.VirtualLibrary
		Members int `json:"members"`
	}
)

func (s *Server) listTracks(c *gin.Context) {
	tracks, err := s.store.Tracks(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if tracks == nil {
		tracks = []library.Track{}
	}
	c.JSON(http.StatusOK, gin.H{"tracks": tracks})
}

func (s *Server) listLibraries(c *gin.Context) {
	ctx := c.Request.Context()
	libs, err := s.store.Libraries(ctx)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	infos := make([]libraryInfo, len(libs))
	for i, lib := range libs {
		count, err := s.memberCount(c, lib.ID)
		if err != nil {
			c.JSON(http.StatusInternalServerError,
				gin.H{"error": err.Error()})
			return
		}
		infos[i] = libraryInfo{VirtualLibrary: lib, Members: count}
	}
	c.JSON(http.StatusOK, gin.H{"libraries": infos})
}

// memberCount reads through the status cache when one is configured
func (s *Server) memberCount(
	c *gin.Context, id library.LibraryID,
) (int, error) {
	ctx := c.Request.Context()
	if s.cache != nil {
		if n, err := s.cache.MemberCount(ctx, id); err == nil {
			return n, nil
		} else if !errors.Is(err, cache.ErrNotCached) {
			slog.Warn("Member count cache read failed",
				log.Library(id),
				log.Error(err))
		}
	}

	members, err := s.store.Members(ctx, id)
	if err != nil {
		return 0, err
	}
	n := len(members)

	if s.cache != nil {
		if err := s.cache.SetMemberCount(ctx, id, n); err != nil {
			slog.Warn("Member count cache write failed",
				log.Library(id),
				log.Error(err))
		}
	}
	return n, nil
}

func (s *Server) createLibrary(c *gin.Context) {
	var req createLibraryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	lib, err := s.store.RegisterLibrary(
		c.Request.Context(), req.Name, req.Predicate,
	)
	switch {
	case errors.Is(err, library.ErrInvalidPredicate):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	case errors.Is(err, library.ErrLibraryExists):
		c.JSON(http.StatusConflict, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	s.hub.Publish(events.TypeLibraryRegistered, events.LibraryChange{
		LibraryID: string(lib.ID),
		Name:      lib.Name,
	})
	c.JSON(http.StatusCreated, lib)
}

func (s *Server) listMembers(c *gin.Context) {
	id := library.LibraryID(c.Param("libraryID"))
	members, err := s.store.Members(c.Request.Context(), id)
	switch {
	case errors.Is(err, library.ErrLibraryNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if members == nil {
		members = []library.Track{}
	}
	c.JSON(http.StatusOK, gin.H{"members": members})
}

func (s *Server) deleteLibrary(c *gin.Context) {
	ctx := c.Request.Context()
	id := library.LibraryID(c.Param("libraryID"))

	removed, err := s.store.RemoveLibrary(ctx, id)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if !removed {
		c.JSON(http.StatusNotFound, gin.H{"error": "library not found"})
		return
	}

	if s.cache != nil {
		if err := s.cache.InvalidateMemberCount(ctx, id); err != nil {
			slog.Warn("Member count cache invalidation failed",
				log.Library(id),
				log.Error(err))
		}
	}
	s.hub.Publish(events.TypeLibraryRemoved, events.LibraryChange{
		LibraryID: string(id),
	})
	c.Status(http.StatusNoContent)
}
