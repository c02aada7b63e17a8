package workers

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/BVStecnologia/Healt-Solution-sub001/services"
)

func intPtr(n int) *int { return &n }

func TestNoShowDeadline(t *testing.T) {
	scheduledAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		duration *int
		want     time.Time
	}{
		{
			name:     "explicit duration",
			duration: intPtr(30),
			want:     time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "default duration when unset",
			duration: nil,
			want:     time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC),
		},
		{
			name:     "longer appointment",
			duration: intPtr(60),
			want:     time.Date(2024, 1, 1, 11, 30, 0, 0, time.UTC),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			appt := db.Appointment{ScheduledAt: scheduledAt, DurationMinutes: tt.duration}
			if got := noShowDeadline(appt, 30); !got.Equal(tt.want) {
				t.Errorf("noShowDeadline() = %v, want %v", got, tt.want)
			}
		})
	}
}

func newNoShowWorker(t *testing.T) (*NoShowWorker, sqlmock.Sqlmock, func()) {
	t.Helper()

	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}

	// Gateway pointing nowhere: the provider alert degrades to a logged
	// skip, which is all these tests need.
	worker := NewNoShowWorker(pg,
		services.NewTemplateService(pg, "pt"),
		services.NewGatewayService("http://127.0.0.1:0", "test-key"),
		30)

	return worker, mock, func() { pg.Close() }
}

func TestNoShowWorker_BeforeDeadlineUntouched(t *testing.T) {
	worker, mock, cleanup := newNoShowWorker(t)
	defer cleanup()

	scheduledAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 10, 59, 59, 0, time.UTC)

	mock.ExpectQuery("FROM appointments").
		WillReturnRows(sqlmock.NewRows(appointmentColumns()).
			AddRow("appt-1", scheduledAt, 30, "consultation", "confirmed",
				"pat-1", "Maria", "5511999990000", "pt",
				"prov-1", "Dr. Silva", "5511888880000", "pt"))

	// One second before the deadline: no status update may happen.
	worker.runAt(now)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("appointment updated before its deadline: %v", err)
	}
}

func TestNoShowWorker_MarksAtDeadline(t *testing.T) {
	worker, mock, cleanup := newNoShowWorker(t)
	defer cleanup()

	scheduledAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 11, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM appointments").
		WillReturnRows(sqlmock.NewRows(appointmentColumns()).
			AddRow("appt-1", scheduledAt, 30, "consultation", "checked_in",
				"pat-1", "Maria", "5511999990000", "pt",
				"prov-1", "Dr. Silva", "5511888880000", "pt"))

	mock.ExpectExec("UPDATE appointments").
		WithArgs("no_show", "appt-1", "confirmed", "checked_in").
		WillReturnResult(sqlmock.NewResult(0, 1))

	// Best-effort provider alert: template lookup happens, alert failure
	// must not revert the transition.
	mock.ExpectQuery("FROM message_templates").
		WithArgs("no_show_alert", "pt").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "language", "content", "is_active"}).
			AddRow("t-1", "no_show_alert", "pt", "{patient_name} não compareceu.", true))

	worker.runAt(now)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestNoShowWorker_SkipsWhenConcurrentlyChanged(t *testing.T) {
	worker, mock, cleanup := newNoShowWorker(t)
	defer cleanup()

	scheduledAt := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	now := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

	mock.ExpectQuery("FROM appointments").
		WillReturnRows(sqlmock.NewRows(appointmentColumns()).
			AddRow("appt-1", scheduledAt, 30, "consultation", "confirmed",
				"pat-1", "Maria", "5511999990000", "pt",
				"prov-1", "Dr. Silva", "5511888880000", "pt"))

	// Zero rows affected: somebody else completed or cancelled it.
	// No provider alert may follow.
	mock.ExpectExec("UPDATE appointments").
		WillReturnResult(sqlmock.NewResult(0, 0))

	worker.runAt(now)

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
