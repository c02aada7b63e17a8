package services

import (
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func newHandoffMock(t *testing.T) (*HandoffService, sqlmock.Sqlmock, func()) {
	t.Helper()

	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}

	service := NewHandoffService(pg, 30)
	return service, mock, func() { pg.Close() }
}

func TestHandoffService_Load(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	mock.ExpectQuery("SELECT patient_phone").
		WillReturnRows(sqlmock.NewRows([]string{"patient_phone"}).
			AddRow("5511999990000").
			AddRow("5511888880000"))

	if err := service.Load(); err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if !service.InHandoff("5511999990000") {
		t.Error("InHandoff() = false for loaded phone")
	}
	if service.InHandoff("5511777770000") {
		t.Error("InHandoff() = true for unknown phone")
	}
}

func TestHandoffService_Create(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	mock.ExpectExec("INSERT INTO handoff_sessions").
		WithArgs(sqlmock.AnyArg(), "5511999990000", "pat-1", "Maria", "quero atendente", "waiting", "clinic-main").
		WillReturnResult(sqlmock.NewResult(1, 1))

	id, hasAttendant, err := service.Create("5511999990000", "pat-1", "Maria", "quero atendente", "clinic-main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id == "" {
		t.Error("Create() returned empty session id")
	}
	if hasAttendant {
		t.Error("Create() reported an attendant on a fresh session")
	}
	if !service.InHandoff("5511999990000") {
		t.Error("Create() did not add phone to the memory set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHandoffService_CreateIdempotent(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	// Phone already present in memory: the second create must return the
	// existing session id without inserting a duplicate row.
	service.phones["5511999990000"] = true

	mock.ExpectQuery("SELECT id, attendant_id").
		WithArgs("5511999990000", "waiting", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "attendant_id"}).AddRow("sess-1", nil))

	id, hasAttendant, err := service.Create("5511999990000", "", "", "retry", "clinic-main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "sess-1" {
		t.Errorf("Create() = %q, want existing session id sess-1", id)
	}
	if hasAttendant {
		t.Error("Create() reported an attendant on an unattended waiting session")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unexpected insert on idempotent create: %v", err)
	}
}

func TestHandoffService_CreateReportsEngagedAttendant(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	service.phones["5511999990000"] = true

	mock.ExpectQuery("SELECT id, attendant_id").
		WithArgs("5511999990000", "waiting", "active").
		WillReturnRows(sqlmock.NewRows([]string{"id", "attendant_id"}).AddRow("sess-1", "att-7"))

	id, hasAttendant, err := service.Create("5511999990000", "", "", "retry", "clinic-main")
	if err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	if id != "sess-1" {
		t.Errorf("Create() = %q, want existing session id sess-1", id)
	}
	if !hasAttendant {
		t.Error("Create() did not report the attendant already on the session")
	}
}

func TestHandoffService_Resolve(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	service.phones["5511999990000"] = true

	mock.ExpectExec("UPDATE handoff_sessions").
		WithArgs("resolved", "att-7", "5511999990000", "waiting", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := service.Resolve("5511999990000", "att-7"); err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if service.InHandoff("5511999990000") {
		t.Error("Resolve() left phone in the memory set")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestHandoffService_ResolveByID(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	service.phones["5511999990000"] = true

	mock.ExpectQuery("UPDATE handoff_sessions").
		WithArgs("resolved", "operator-console", "sess-1", "waiting", "active").
		WillReturnRows(sqlmock.NewRows([]string{"patient_phone"}).AddRow("5511999990000"))

	if err := service.ResolveByID("sess-1", "operator-console"); err != nil {
		t.Fatalf("ResolveByID() error = %v", err)
	}
	if service.InHandoff("5511999990000") {
		t.Error("ResolveByID() left phone in the memory set")
	}
}

func TestHandoffService_Touch(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	mock.ExpectExec("UPDATE handoff_sessions").
		WithArgs("5511999990000", "waiting", "active").
		WillReturnResult(sqlmock.NewResult(0, 1))

	if err := service.Touch("5511999990000"); err != nil {
		t.Fatalf("Touch() error = %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

// cutoffAround matches a timestamp argument close to now minus the given
// number of minutes.
type cutoffAround struct {
	minutes int
}

func (c cutoffAround) Match(v driver.Value) bool {
	ts, ok := v.(time.Time)
	if !ok {
		return false
	}
	want := time.Now().Add(-time.Duration(c.minutes) * time.Minute)
	diff := ts.Sub(want)
	if diff < 0 {
		diff = -diff
	}
	return diff < time.Minute
}

func TestHandoffService_SweepStale(t *testing.T) {
	service, mock, cleanup := newHandoffMock(t)
	defer cleanup()

	// Stale membership from before out-of-band resolutions.
	service.phones["5511888880000"] = true

	mock.ExpectExec("UPDATE handoff_sessions").
		WithArgs("resolved", "auto_timeout", "waiting", "active", cutoffAround{minutes: 30}).
		WillReturnResult(sqlmock.NewResult(0, 2))

	mock.ExpectQuery("SELECT patient_phone").
		WillReturnRows(sqlmock.NewRows([]string{"patient_phone"}).
			AddRow("5511999990000"))

	if err := service.SweepStale(); err != nil {
		t.Fatalf("SweepStale() error = %v", err)
	}

	// Reload is authoritative: only the store's open sessions survive.
	if !service.InHandoff("5511999990000") {
		t.Error("SweepStale() dropped a phone still open in the store")
	}
	if service.InHandoff("5511888880000") {
		t.Error("SweepStale() kept a phone no longer open in the store")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
