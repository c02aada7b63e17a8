package services

import (
	"database/sql"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/BVStecnologia/Healt-Solution-sub001/db"
	"github.com/google/uuid"
)

// HandoffService mirrors "is this conversation escalated to a human" state
// in memory so the inbound-message hot path never hits the store. The store
// stays the source of truth: the memory set is rebuilt wholesale at every
// reconciliation pass, absorbing resolutions made by other surfaces.
type HandoffService struct {
	PG             *sql.DB
	TimeoutMinutes int

	mu     sync.RWMutex
	phones map[string]bool
}

func NewHandoffService(pg *sql.DB, timeoutMinutes int) *HandoffService {
	return &HandoffService{
		PG:             pg,
		TimeoutMinutes: timeoutMinutes,
		phones:         make(map[string]bool),
	}
}

// Load populates the memory set from persisted open sessions. Must run
// before the registry serves hot-path checks.
func (s *HandoffService) Load() error {
	phones, err := s.fetchOpenPhones()
	if err != nil {
		return fmt.Errorf("failed to load handoff sessions: %w", err)
	}

	s.mu.Lock()
	s.phones = phones
	s.mu.Unlock()

	log.Printf("Handoff: loaded %d open sessions", len(phones))
	return nil
}

// InHandoff reports whether the phone currently has an open session.
// O(1), no store round-trip; called on every inbound message.
func (s *HandoffService) InHandoff(phone string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.phones[phone]
}

// Create opens a waiting session for the phone and reports whether an
// attendant is already engaged on it. When the memory set already contains
// the phone, the existing open session id is returned instead of inserting a
// duplicate row; a fresh session always starts unattended. The guard is
// advisory only: a true race between two concurrent creates can still
// produce two rows, which the next sweep tolerates.
func (s *HandoffService) Create(phone, patientID, patientName, reason, instanceName string) (string, bool, error) {
	if s.InHandoff(phone) {
		id, hasAttendant, err := s.openSession(phone)
		if err == nil && id != "" {
			return id, hasAttendant, nil
		}
		if err != nil {
			log.Printf("Handoff: failed to look up existing session for %s: %v", phone, err)
		}
		// Memory was stale; fall through and insert.
	}

	session := db.HandoffSession{
		ID:           uuid.New().String(),
		PatientPhone: phone,
		Reason:       reason,
		Status:       db.HandoffStatusWaiting,
		InstanceName: instanceName,
	}

	var patientIDParam, patientNameParam interface{}
	if patientID != "" {
		patientIDParam = patientID
	}
	if patientName != "" {
		patientNameParam = patientName
	}

	_, err := s.PG.Exec(`
		INSERT INTO handoff_sessions (id, patient_phone, patient_id, patient_name, reason, status, instance_name, created_at, last_message_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
	`, session.ID, session.PatientPhone, patientIDParam, patientNameParam,
		session.Reason, session.Status, session.InstanceName)
	if err != nil {
		return "", false, fmt.Errorf("failed to insert handoff session: %w", err)
	}

	s.mu.Lock()
	s.phones[phone] = true
	s.mu.Unlock()

	return session.ID, false, nil
}

// Resolve closes every open session for the phone and drops it from memory.
func (s *HandoffService) Resolve(phone, resolvedBy string) error {
	_, err := s.PG.Exec(`
		UPDATE handoff_sessions
		SET status = $1, resolved_at = NOW(), resolved_by = $2
		WHERE patient_phone = $3 AND status IN ($4, $5)
	`, db.HandoffStatusResolved, resolvedBy, phone,
		db.HandoffStatusWaiting, db.HandoffStatusActive)
	if err != nil {
		return fmt.Errorf("failed to resolve handoff session for %s: %w", phone, err)
	}

	s.mu.Lock()
	delete(s.phones, phone)
	s.mu.Unlock()

	return nil
}

// ResolveByID closes one open session by id (operator console path) and
// drops its phone from memory.
func (s *HandoffService) ResolveByID(id, resolvedBy string) error {
	var phone string
	err := s.PG.QueryRow(`
		UPDATE handoff_sessions
		SET status = $1, resolved_at = NOW(), resolved_by = $2
		WHERE id = $3 AND status IN ($4, $5)
		RETURNING patient_phone
	`, db.HandoffStatusResolved, resolvedBy, id,
		db.HandoffStatusWaiting, db.HandoffStatusActive).Scan(&phone)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("no open handoff session with id %s", id)
		}
		return fmt.Errorf("failed to resolve handoff session %s: %w", id, err)
	}

	s.mu.Lock()
	delete(s.phones, phone)
	s.mu.Unlock()

	return nil
}

// Touch stamps last_message_at on the open session for the phone. Used for
// staleness tracking; no memory-set effect.
func (s *HandoffService) Touch(phone string) error {
	_, err := s.PG.Exec(`
		UPDATE handoff_sessions
		SET last_message_at = NOW()
		WHERE patient_phone = $1 AND status IN ($2, $3)
	`, phone, db.HandoffStatusWaiting, db.HandoffStatusActive)
	if err != nil {
		return fmt.Errorf("failed to touch handoff session for %s: %w", phone, err)
	}
	return nil
}

// SweepStale force-resolves every open session idle past the timeout and
// then rebuilds the memory set from the store. The reload runs even when the
// sweep update fails so out-of-band resolutions are still absorbed.
func (s *HandoffService) SweepStale() error {
	cutoff := time.Now().Add(-time.Duration(s.TimeoutMinutes) * time.Minute)

	result, err := s.PG.Exec(`
		UPDATE handoff_sessions
		SET status = $1, resolved_at = NOW(), resolved_by = $2
		WHERE status IN ($3, $4) AND last_message_at < $5
	`, db.HandoffStatusResolved, db.HandoffResolvedByTimeout,
		db.HandoffStatusWaiting, db.HandoffStatusActive, cutoff)
	if err != nil {
		log.Printf("Handoff: stale sweep failed: %v", err)
	} else if n, err := result.RowsAffected(); err == nil && n > 0 {
		log.Printf("Handoff: auto-resolved %d stale sessions", n)
	}

	// Authoritative reconciliation point: rebuild, do not incrementally trust.
	phones, err := s.fetchOpenPhones()
	if err != nil {
		return fmt.Errorf("failed to reload handoff sessions: %w", err)
	}

	s.mu.Lock()
	s.phones = phones
	s.mu.Unlock()

	return nil
}

// ListOpenSessions returns the waiting/active sessions for the admin surface.
func (s *HandoffService) ListOpenSessions() ([]db.HandoffSession, error) {
	rows, err := s.PG.Query(`
		SELECT id, patient_phone, patient_id, patient_name, attendant_id, reason,
		       status, instance_name, created_at, resolved_at, resolved_by, last_message_at
		FROM handoff_sessions
		WHERE status IN ($1, $2)
		ORDER BY created_at ASC
	`, db.HandoffStatusWaiting, db.HandoffStatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to query handoff sessions: %w", err)
	}
	defer rows.Close()

	var sessions []db.HandoffSession
	for rows.Next() {
		var session db.HandoffSession
		var patientID, patientName, attendantID, resolvedBy sql.NullString
		var resolvedAt sql.NullTime

		err := rows.Scan(&session.ID, &session.PatientPhone, &patientID, &patientName,
			&attendantID, &session.Reason, &session.Status, &session.InstanceName,
			&session.CreatedAt, &resolvedAt, &resolvedBy, &session.LastMessageAt)
		if err != nil {
			log.Printf("Handoff: error scanning session: %v", err)
			continue
		}

		if patientID.Valid {
			session.PatientID = &patientID.String
		}
		if patientName.Valid {
			session.PatientName = &patientName.String
		}
		if attendantID.Valid {
			session.AttendantID = &attendantID.String
		}
		if resolvedBy.Valid {
			session.ResolvedBy = &resolvedBy.String
		}
		if resolvedAt.Valid {
			session.ResolvedAt = &resolvedAt.Time
		}

		sessions = append(sessions, session)
	}

	return sessions, nil
}

// openSession finds the open session for a phone, oldest first, and whether
// an attendant has picked it up.
func (s *HandoffService) openSession(phone string) (string, bool, error) {
	var id string
	var attendantID sql.NullString
	err := s.PG.QueryRow(`
		SELECT id, attendant_id
		FROM handoff_sessions
		WHERE patient_phone = $1 AND status IN ($2, $3)
		ORDER BY created_at ASC
		LIMIT 1
	`, phone, db.HandoffStatusWaiting, db.HandoffStatusActive).Scan(&id, &attendantID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", false, nil
		}
		return "", false, err
	}
	return id, attendantID.Valid, nil
}

// fetchOpenPhones reads the current open-session phone set from the store.
func (s *HandoffService) fetchOpenPhones() (map[string]bool, error) {
	rows, err := s.PG.Query(`
		SELECT patient_phone
		FROM handoff_sessions
		WHERE status IN ($1, $2)
	`, db.HandoffStatusWaiting, db.HandoffStatusActive)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	phones := make(map[string]bool)
	for rows.Next() {
		var phone string
		if err := rows.Scan(&phone); err != nil {
			log.Printf("Handoff: error scanning phone: %v", err)
			continue
		}
		phones[phone] = true
	}

	return phones, nil
}
