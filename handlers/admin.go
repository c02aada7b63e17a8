package handlers

import (
	"database/sql"
	"log"
	"net/http"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
	"github.com/BVStecnologia/Healt-Solution-sub001/workers"

	"github.com/gin-gonic/gin"
)

// AdminHandler exposes the internal ops surface: health, open handoff
// sessions, permanently failed deliveries, and a manual tick trigger.
type AdminHandler struct {
	PG        *sql.DB
	Handoff   *services.HandoffService
	Gateway   *services.GatewayService
	Scheduler *workers.Scheduler
}

func NewAdminHandler(pg *sql.DB, handoff *services.HandoffService, gateway *services.GatewayService, scheduler *workers.Scheduler) *AdminHandler {
	return &AdminHandler{
		PG:        pg,
		Handoff:   handoff,
		Gateway:   gateway,
		Scheduler: scheduler,
	}
}

func (h *AdminHandler) Health(c *gin.Context) {
	if err := h.PG.Ping(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error", "error": "database unreachable"})
		return
	}

	instance := h.Gateway.ResolveInstance()

	c.JSON(http.StatusOK, gin.H{
		"status":            "ok",
		"gateway_instance":  instance,
		"gateway_connected": instance != "",
	})
}

func (h *AdminHandler) ListHandoffSessions(c *gin.Context) {
	sessions, err := h.Handoff.ListOpenSessions()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"sessions": sessions,
		"total":    len(sessions),
	})
}

type resolveSessionRequest struct {
	ResolvedBy string `json:"resolved_by" binding:"required"`
}

func (h *AdminHandler) ResolveHandoffSession(c *gin.Context) {
	id := c.Param("id")

	var req resolveSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	if err := h.Handoff.ResolveByID(id, req.ResolvedBy); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	c.Status(http.StatusOK)
}

// ListFailedMessages returns entries that exhausted their retry budget.
// This is the only inspection path for permanent delivery failures.
func (h *AdminHandler) ListFailedMessages(c *gin.Context) {
	rows, err := h.PG.Query(`
		SELECT id, appointment_id, patient_id, template_name, phone, message,
		       status, retry_count, last_retry_at, error, created_at
		FROM message_logs
		WHERE status = $1 AND retry_count >= $2
		ORDER BY created_at DESC
		LIMIT 100
	`, db.MessageStatusFailed, db.MaxRetryCount)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db error"})
		return
	}
	defer rows.Close()

	var entries []db.MessageLog
	for rows.Next() {
		var entry db.MessageLog
		var lastRetryAt sql.NullTime
		var errText sql.NullString

		err := rows.Scan(&entry.ID, &entry.AppointmentID, &entry.PatientID, &entry.TemplateName,
			&entry.Phone, &entry.Message, &entry.Status, &entry.RetryCount,
			&lastRetryAt, &errText, &entry.CreatedAt)
		if err != nil {
			log.Printf("Admin: error scanning message log: %v", err)
			continue
		}

		if lastRetryAt.Valid {
			entry.LastRetryAt = &lastRetryAt.Time
		}
		if errText.Valid {
			entry.Error = &errText.String
		}

		entries = append(entries, entry)
	}

	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"total":   len(entries),
	})
}

// RunJobs triggers one full tick out of schedule.
func (h *AdminHandler) RunJobs(c *gin.Context) {
	go h.Scheduler.RunTick()
	c.JSON(http.StatusAccepted, gin.H{"status": "tick started"})
}
