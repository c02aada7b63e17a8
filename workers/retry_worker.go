package workers

import (
	"database/sql"
	"fmt"
	"log"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
)

// retryBatchSize caps how many failed entries one sweep re-attempts.
const retryBatchSize = 10

// RetryWorker re-attempts previously failed sends, oldest first, at most
// MaxRetryCount times per entry. Entries that exhaust the budget stay failed
// permanently and are never picked up again.
type RetryWorker struct {
	PG      *sql.DB
	Gateway *services.GatewayService
}

func NewRetryWorker(pg *sql.DB, gateway *services.GatewayService) *RetryWorker {
	return &RetryWorker{PG: pg, Gateway: gateway}
}

// Run executes one sweep. Without a connected gateway instance the whole
// sweep is skipped: no partial progress, no retry_count increments.
func (w *RetryWorker) Run() {
	instance := w.Gateway.ResolveInstance()
	if instance == "" {
		log.Println("Retry worker: no gateway instance available, sweep skipped")
		return
	}

	entries, err := w.fetchRetryable()
	if err != nil {
		log.Printf("Retry worker: failed to fetch failed entries: %v", err)
		return
	}

	if len(entries) == 0 {
		return
	}

	log.Printf("Retry worker: re-attempting %d failed messages", len(entries))

	for _, entry := range entries {
		w.retry(instance, entry)
	}
}

// retry re-sends one entry and records the outcome.
func (w *RetryWorker) retry(instance string, entry db.MessageLog) {
	attempt := entry.RetryCount + 1

	sendErr := w.Gateway.SendText(instance, entry.Phone, entry.Message)
	if sendErr == nil {
		_, err := w.PG.Exec(`
			UPDATE message_logs
			SET status = $1, retry_count = $2, sent_at = NOW(), last_retry_at = NOW(), error = NULL
			WHERE id = $3
		`, db.MessageStatusSent, attempt, entry.ID)
		if err != nil {
			log.Printf("Retry worker: failed to record success for entry %s: %v", entry.ID, err)
		}
		return
	}

	errText := fmt.Sprintf("retry attempt %d failed: %v", attempt, sendErr)
	_, err := w.PG.Exec(`
		UPDATE message_logs
		SET retry_count = $1, last_retry_at = NOW(), error = $2
		WHERE id = $3
	`, attempt, errText, entry.ID)
	if err != nil {
		log.Printf("Retry worker: failed to record failure for entry %s: %v", entry.ID, err)
	}
}

// fetchRetryable selects the oldest failed entries still under the bound.
func (w *RetryWorker) fetchRetryable() ([]db.MessageLog, error) {
	rows, err := w.PG.Query(`
		SELECT id, appointment_id, patient_id, template_name, phone, message, status, retry_count, created_at
		FROM message_logs
		WHERE status = $1 AND retry_count < $2
		ORDER BY created_at ASC
		LIMIT $3
	`, db.MessageStatusFailed, db.MaxRetryCount, retryBatchSize)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []db.MessageLog
	for rows.Next() {
		var entry db.MessageLog
		err := rows.Scan(&entry.ID, &entry.AppointmentID, &entry.PatientID, &entry.TemplateName,
			&entry.Phone, &entry.Message, &entry.Status, &entry.RetryCount, &entry.CreatedAt)
		if err != nil {
			log.Printf("Retry worker: error scanning entry: %v", err)
			continue
		}
		entries = append(entries, entry)
	}

	return entries, rows.Err()
}
