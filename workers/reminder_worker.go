package workers

import (
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
	"github.com/google/uuid"
)

// ReminderWorker finds appointments entering a reminder window and sends the
// templated message for every applicable rule. At-most-once delivery per
// (appointment, template, phone) is enforced by checking the message log
// before each send, not by locking.
type ReminderWorker struct {
	PG           *sql.DB
	Rules        *services.RuleService
	Templates    *services.TemplateService
	Gateway      *services.GatewayService
	TickInterval time.Duration
}

func NewReminderWorker(pg *sql.DB, rules *services.RuleService, templates *services.TemplateService, gateway *services.GatewayService, tickInterval time.Duration) *ReminderWorker {
	return &ReminderWorker{
		PG:           pg,
		Rules:        rules,
		Templates:    templates,
		Gateway:      gateway,
		TickInterval: tickInterval,
	}
}

// Run executes one dispatcher pass.
func (w *ReminderWorker) Run() {
	w.runAt(time.Now())
}

func (w *ReminderWorker) runAt(now time.Time) {
	ruleSet, err := w.Rules.LoadActiveRules()
	if err != nil {
		log.Printf("Reminder worker: failed to load rules: %v", err)
		return
	}

	for _, minutesBefore := range ruleSet.LeadTimes() {
		start, end := reminderWindow(now, minutesBefore, w.TickInterval)

		appointments, err := w.fetchConfirmedInWindow(start, end)
		if err != nil {
			log.Printf("Reminder worker: failed to fetch appointments for lead time %dm: %v", minutesBefore, err)
			continue
		}

		for _, appt := range appointments {
			for _, rule := range applicableRules(ruleSet, appt, minutesBefore) {
				w.dispatch(appt, rule)
			}
		}
	}
}

// reminderWindow computes the half-open scan window for one lead time.
// Its width equals the tick interval so consecutive on-schedule ticks
// partition the timeline without gaps or overlap.
func reminderWindow(now time.Time, minutesBefore int, tick time.Duration) (time.Time, time.Time) {
	center := now.Add(time.Duration(minutesBefore) * time.Minute)
	start := center.Add(-tick / 2)
	return start, start.Add(tick)
}

// applicableRules resolves which rules fire for this appointment at this
// threshold: global patient rules plus the provider's effective rule set.
func applicableRules(ruleSet *services.RuleSet, appt db.Appointment, minutesBefore int) []db.NotificationRule {
	rules := ruleSet.PatientRulesAt(minutesBefore)

	for _, rule := range ruleSet.EffectiveForProvider(appt.ProviderID) {
		if rule.MinutesBefore == minutesBefore {
			rules = append(rules, rule)
		}
	}

	return rules
}

// dispatch sends one (appointment, rule) reminder: dedup check, template
// render, gateway resolve, send, log. Every failure is local to this item.
func (w *ReminderWorker) dispatch(appt db.Appointment, rule db.NotificationRule) {
	phone, name, language := recipient(appt, rule)

	delivered, err := w.hasSuccessfulDelivery(appt.ID, rule.TemplateName, phone)
	if err != nil {
		log.Printf("Reminder worker: dedup check failed for appointment %s: %v", appt.ID, err)
		return
	}
	if delivered {
		// Already delivered for this triple; nothing to do.
		return
	}

	tmpl, err := w.Templates.Load(rule.TemplateName, language)
	if err != nil {
		if errors.Is(err, services.ErrTemplateNotFound) {
			log.Printf("Reminder worker: no active template %s for language %s, skipping appointment %s",
				rule.TemplateName, language, appt.ID)
		} else {
			log.Printf("Reminder worker: failed to load template %s: %v", rule.TemplateName, err)
		}
		return
	}

	message := services.Render(tmpl.Content, map[string]string{
		"recipient_name": name,
		"patient_name":   appt.PatientName,
		"provider_name":  appt.ProviderName,
		"date":           appt.ScheduledAt.Format("02/01/2006"),
		"time":           appt.ScheduledAt.Format("15:04"),
		"type":           appt.Type,
	})

	instance := w.Gateway.ResolveInstance()
	if instance == "" {
		// No log row: the appointment stays in-window and is retried on
		// the next tick implicitly.
		log.Printf("Reminder worker: no gateway instance available, skipping appointment %s", appt.ID)
		return
	}

	w.Gateway.SetComposing(instance, phone)

	sendErr := w.Gateway.SendText(instance, phone, message)
	if sendErr != nil {
		log.Printf("Reminder worker: failed to send reminder for appointment %s to %s: %v", appt.ID, phone, sendErr)
	}

	if err := w.logResult(appt, rule, phone, message, sendErr); err != nil {
		log.Printf("Reminder worker: failed to log delivery for appointment %s: %v", appt.ID, err)
	}
}

// recipient picks the contact fields for the rule's target role.
func recipient(appt db.Appointment, rule db.NotificationRule) (phone, name, language string) {
	if rule.TargetRole == db.RuleTargetProvider {
		return appt.ProviderPhone, appt.ProviderName, appt.ProviderLanguage
	}
	return appt.PatientPhone, appt.PatientName, appt.PatientLanguage
}

// hasSuccessfulDelivery checks the delivery dedup key against the log.
func (w *ReminderWorker) hasSuccessfulDelivery(appointmentID, templateName, phone string) (bool, error) {
	var exists bool
	err := w.PG.QueryRow(`
		SELECT EXISTS (
			SELECT 1 FROM message_logs
			WHERE appointment_id = $1 AND template_name = $2 AND phone = $3
			AND status IN ($4, $5, $6)
		)
	`, appointmentID, templateName, phone,
		db.MessageStatusSent, db.MessageStatusDelivered, db.MessageStatusRead).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

// logResult appends the delivery outcome to the message log.
func (w *ReminderWorker) logResult(appt db.Appointment, rule db.NotificationRule, phone, message string, sendErr error) error {
	if sendErr == nil {
		_, err := w.PG.Exec(`
			INSERT INTO message_logs (id, appointment_id, patient_id, template_name, phone, message, status, retry_count, sent_at, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, 0, NOW(), NOW())
		`, uuid.New().String(), appt.ID, appt.PatientID, rule.TemplateName, phone, message, db.MessageStatusSent)
		return err
	}

	_, err := w.PG.Exec(`
		INSERT INTO message_logs (id, appointment_id, patient_id, template_name, phone, message, status, retry_count, error, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, $8, NOW())
	`, uuid.New().String(), appt.ID, appt.PatientID, rule.TemplateName, phone, message,
		db.MessageStatusFailed, sendErr.Error())
	return err
}

// fetchConfirmedInWindow loads confirmed appointments whose scheduled_at
// falls in [start, end), joined with both parties' contact fields.
func (w *ReminderWorker) fetchConfirmedInWindow(start, end time.Time) ([]db.Appointment, error) {
	rows, err := w.PG.Query(`
		SELECT a.id, a.scheduled_at, a.duration_minutes, a.type, a.status,
		       a.patient_id, p.name, p.phone, p.language,
		       a.provider_id, pr.name, pr.phone, pr.language
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN providers pr ON pr.id = a.provider_id
		WHERE a.status = $1 AND a.scheduled_at >= $2 AND a.scheduled_at < $3
		ORDER BY a.scheduled_at ASC
	`, db.AppointmentStatusConfirmed, start, end)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanAppointments(rows)
}

// scanAppointments reads joined appointment rows, skipping bad ones.
func scanAppointments(rows *sql.Rows) ([]db.Appointment, error) {
	var appointments []db.Appointment
	for rows.Next() {
		var appt db.Appointment
		var duration sql.NullInt64

		err := rows.Scan(&appt.ID, &appt.ScheduledAt, &duration, &appt.Type, &appt.Status,
			&appt.PatientID, &appt.PatientName, &appt.PatientPhone, &appt.PatientLanguage,
			&appt.ProviderID, &appt.ProviderName, &appt.ProviderPhone, &appt.ProviderLanguage)
		if err != nil {
			log.Printf("Worker: error scanning appointment: %v", err)
			continue
		}

		if duration.Valid {
			minutes := int(duration.Int64)
			appt.DurationMinutes = &minutes
		}

		appointments = append(appointments, appt)
	}

	return appointments, rows.Err()
}
