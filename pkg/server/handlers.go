package server

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/harrisonrobin/taskbell/pkg/markdown"
	"github.com/harrisonrobin/taskbell/pkg/model"
	"github.com/harrisonrobin/taskbell/pkg/scheduler"
)

const maxHistoryLimit = 500

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) handleReport(c *gin.Context) {
	report := s.engine.LastReport()
	if report == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "no tick has completed yet",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}

func (s *Server) handleTasks(c *gin.Context) {
	scan, err := s.engine.Scan(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}

	tasks := markdown.FilterTasks(scan.Tasks, c.Query("tag"))
	if c.Query("due") == "today" {
		today := model.DateOf(timeNow())
		var due []model.Task
		for _, t := range tasks {
			if t.DueOn(today) {
				due = append(due, t)
			}
		}
		tasks = due
	}
	if tasks == nil {
		tasks = []model.Task{}
	}

	c.JSON(http.StatusOK, gin.H{
		"success":   true,
		"data":      tasks,
		"count":     len(tasks),
		"documents": scan.Documents,
	})
}

func (s *Server) handleHistory(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"success": false,
			"error":   "history is disabled",
		})
		return
	}

	limit, err := strconv.Atoi(c.DefaultQuery("limit", "20"))
	if err != nil || limit < 1 || limit > maxHistoryLimit {
		c.JSON(http.StatusBadRequest, gin.H{
			"success": false,
			"error":   "limit must be between 1 and 500",
		})
		return
	}

	dispatches, err := s.history.Recent(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    dispatches,
		"count":   len(dispatches),
	})
}

func (s *Server) handleTick(c *gin.Context) {
	report, err := s.engine.Tick(c.Request.Context())
	if errors.Is(err, scheduler.ErrTickInProgress) {
		c.JSON(http.StatusConflict, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"success": true,
		"data":    report,
	})
}
