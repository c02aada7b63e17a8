package workers

import (
	"database/sql/driver"
	"strings"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"

	"github.com/BVStecnologia/Healt-Solution-sub001/services"
)

// retryErrorContaining matches an error-text argument by substring.
type retryErrorContaining struct {
	substr string
}

func (m retryErrorContaining) Match(v driver.Value) bool {
	s, ok := v.(string)
	return ok && strings.Contains(s, m.substr)
}

func messageLogColumns() []string {
	return []string{
		"id", "appointment_id", "patient_id", "template_name", "phone",
		"message", "status", "retry_count", "created_at",
	}
}

func TestRetryWorker_SkipsWholeSweepWithoutInstance(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	// Unreachable gateway: resolution degrades to none.
	worker := NewRetryWorker(pg, services.NewGatewayService("http://127.0.0.1:0", "test-key"))
	worker.Run()

	// No queries, no retry_count increments.
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("sweep touched the store without a gateway instance: %v", err)
	}
}

func TestRetryWorker_SuccessfulRetry(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	var sent []string
	server := gatewayStub(&sent, false)
	defer server.Close()

	worker := NewRetryWorker(pg, services.NewGatewayService(server.URL, "test-key"))

	mock.ExpectQuery("FROM message_logs").
		WithArgs("failed", 3, 10).
		WillReturnRows(sqlmock.NewRows(messageLogColumns()).
			AddRow("log-1", "appt-1", "pat-1", "reminder_24h", "5511999990000",
				"Olá Maria", "failed", 1, time.Now()))

	mock.ExpectExec("UPDATE message_logs").
		WithArgs("sent", 2, "log-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.Run()

	if len(sent) != 1 {
		t.Errorf("gateway received %d sends, want 1", len(sent))
	}
	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}

func TestRetryWorker_FailedRetryIncrementsCount(t *testing.T) {
	pg, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("failed to create mock: %v", err)
	}
	defer pg.Close()

	var sent []string
	server := gatewayStub(&sent, true)
	defer server.Close()

	worker := NewRetryWorker(pg, services.NewGatewayService(server.URL, "test-key"))

	mock.ExpectQuery("FROM message_logs").
		WithArgs("failed", 3, 10).
		WillReturnRows(sqlmock.NewRows(messageLogColumns()).
			AddRow("log-1", "appt-1", "pat-1", "reminder_24h", "5511999990000",
				"Olá Maria", "failed", 2, time.Now()))

	// Third and final attempt: the entry reaches the retry bound and stays
	// failed, with a descriptive error naming the attempt number.
	mock.ExpectExec("UPDATE message_logs").
		WithArgs(3, retryErrorContaining{"retry attempt 3 failed"}, "log-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	worker.Run()

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Errorf("unfulfilled expectations: %v", err)
	}
}
