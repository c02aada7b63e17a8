package workers

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
)

// defaultDurationMinutes is assumed when an appointment has no duration set.
const defaultDurationMinutes = 30

// noShowTemplate names the provider alert sent after a no-show transition.
const noShowTemplate = "no_show_alert"

// NoShowWorker flips appointments past their grace deadline to the terminal
// no_show status and fires a best-effort alert to the provider. The scan
// filter excludes no_show rows, so the transition is idempotent.
type NoShowWorker struct {
	PG           *sql.DB
	Templates    *services.TemplateService
	Gateway      *services.GatewayService
	GraceMinutes int
}

func NewNoShowWorker(pg *sql.DB, templates *services.TemplateService, gateway *services.GatewayService, graceMinutes int) *NoShowWorker {
	return &NoShowWorker{
		PG:           pg,
		Templates:    templates,
		Gateway:      gateway,
		GraceMinutes: graceMinutes,
	}
}

// Run executes one detector pass.
func (w *NoShowWorker) Run() {
	w.runAt(time.Now())
}

func (w *NoShowWorker) runAt(now time.Time) {
	appointments, err := w.fetchOverdueCandidates(now)
	if err != nil {
		log.Printf("No-show worker: failed to fetch candidates: %v", err)
		return
	}

	for _, appt := range appointments {
		if now.Before(noShowDeadline(appt, w.GraceMinutes)) {
			continue
		}

		transitioned, err := w.markNoShow(appt.ID)
		if err != nil {
			log.Printf("No-show worker: failed to mark appointment %s: %v", appt.ID, err)
			continue
		}
		if !transitioned {
			// Another surface changed the status meanwhile.
			continue
		}

		log.Printf("No-show worker: appointment %s marked as no-show", appt.ID)

		// Best-effort: failure here never reverts the status change.
		w.notifyProvider(appt)
	}
}

// noShowDeadline is scheduled end plus the grace period.
func noShowDeadline(appt db.Appointment, graceMinutes int) time.Time {
	duration := defaultDurationMinutes
	if appt.DurationMinutes != nil {
		duration = *appt.DurationMinutes
	}
	return appt.ScheduledAt.Add(time.Duration(duration+graceMinutes) * time.Minute)
}

// fetchOverdueCandidates loads started appointments still in an attendable
// status. The precise deadline check happens in Go so the default duration
// applies uniformly.
func (w *NoShowWorker) fetchOverdueCandidates(now time.Time) ([]db.Appointment, error) {
	rows, err := w.PG.Query(`
		SELECT a.id, a.scheduled_at, a.duration_minutes, a.type, a.status,
		       a.patient_id, p.name, p.phone, p.language,
		       a.provider_id, pr.name, pr.phone, pr.language
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN providers pr ON pr.id = a.provider_id
		WHERE a.status IN ($1, $2) AND a.scheduled_at < $3
		ORDER BY a.scheduled_at ASC
	`, db.AppointmentStatusConfirmed, db.AppointmentStatusCheckedIn, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAppointments(rows)
}

// markNoShow transitions one appointment, guarded by the status filter.
func (w *NoShowWorker) markNoShow(appointmentID string) (bool, error) {
	result, err := w.PG.Exec(`
		UPDATE appointments
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status IN ($3, $4)
	`, db.AppointmentStatusNoShow, appointmentID,
		db.AppointmentStatusConfirmed, db.AppointmentStatusCheckedIn)
	if err != nil {
		return false, err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}

	return affected > 0, nil
}

// notifyProvider sends the no-show alert to the appointment's provider.
func (w *NoShowWorker) notifyProvider(appt db.Appointment) {
	tmpl, err := w.Templates.Load(noShowTemplate, appt.ProviderLanguage)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			log.Printf("No-show worker: no active template %s, skipping provider alert for appointment %s",
				noShowTemplate, appt.ID)
		} else {
			log.Printf("No-show worker: failed to load template %s: %v", noShowTemplate, err)
		}
		return
	}

	message := services.Render(tmpl.Content, map[string]string{
		"provider_name": appt.ProviderName,
		"patient_name":  appt.PatientName,
		"date":          appt.ScheduledAt.Format("02/01/2006"),
		"time":          appt.ScheduledAt.Format("15:04"),
		"type":          appt.Type,
	})

	instance := w.Gateway.ResolveInstance()
	if instance == "" {
		log.Printf("No-show worker: no gateway instance available, provider alert skipped for appointment %s", appt.ID)
		return
	}

	if err := w.Gateway.SendText(instance, appt.ProviderPhone, message); err != nil {
		log.Printf("No-show worker: failed to alert provider for appointment %s: %v", appt.ID, err)
	}
}
