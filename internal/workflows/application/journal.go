package application

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"microloan-client/internal/common/database"
	"microloan-client/internal/common/logger"
)

// JournalEntry is one phase transition of a fee payment.
type JournalEntry struct {
	ID              string    `json:"id"`
	SagaID          string    `json:"sagaId"`
	ApplicationID   string    `json:"applicationId"`
	Phase           Phase     `json:"phase"`
	PaymentIntentID string    `json:"paymentIntentId,omitempty"`
	Error           string    `json:"error,omitempty"`
	RecordedAt      time.Time `json:"recordedAt"`
}

// Journal records payment phases so a payment taken by the processor but not
// confirmed by the backend can be traced.
type Journal interface {
	Record(ctx context.Context, e JournalEntry) error
}

type NopJournal struct{}

func (NopJournal) Record(context.Context, JournalEntry) error { return nil }

const journalSchema = `
CREATE TABLE IF NOT EXISTS payment_journal (
	id                TEXT PRIMARY KEY,
	saga_id           TEXT NOT NULL,
	application_id    TEXT NOT NULL,
	phase             TEXT NOT NULL,
	payment_intent_id TEXT,
	error             TEXT,
	recorded_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS payment_journal_application_idx ON payment_journal (application_id, recorded_at)`

// PostgresJournal writes entries to the payment_journal table.
type PostgresJournal struct {
	db     *database.PostgresClient
	logger logger.Logger
}

func NewPostgresJournal(db *database.PostgresClient, log logger.Logger) *PostgresJournal {
	if log == nil {
		log = logger.NewNoOpLogger()
	}
	return &PostgresJournal{
		db:     db,
		logger: log.WithFields(map[string]interface{}{"component": "payment-journal"}),
	}
}

// EnsureSchema creates the journal table if it does not exist.
func (j *PostgresJournal) EnsureSchema(ctx context.Context) error {
	if _, err := j.db.Exec(ctx, journalSchema); err != nil {
		return fmt.Errorf("create payment_journal: %w", err)
	}
	return nil
}

func (j *PostgresJournal) Record(ctx context.Context, e JournalEntry) error {
	_, err := j.db.Exec(ctx, `
		INSERT INTO payment_journal (
			id, saga_id, application_id, phase, payment_intent_id, error, recorded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		e.ID,
		e.SagaID,
		e.ApplicationID,
		string(e.Phase),
		nullString(e.PaymentIntentID),
		nullString(e.Error),
		e.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert payment_journal: %w", err)
	}

	j.logger.Debug("payment phase recorded", map[string]interface{}{
		"sagaId":        e.SagaID,
		"applicationId": e.ApplicationID,
		"phase":         string(e.Phase),
	})
	return nil
}

// History returns the entries of one application, oldest first.
func (j *PostgresJournal) History(ctx context.Context, applicationID string) ([]JournalEntry, error) {
	rows, err := j.db.Query(ctx, `
		SELECT id, saga_id, application_id, phase, payment_intent_id, error, recorded_at
		FROM payment_journal
		WHERE application_id = $1
		ORDER BY recorded_at`, applicationID)
	if err != nil {
		return nil, fmt.Errorf("query payment_journal: %w", err)
	}
	defer rows.Close()

	var out []JournalEntry
	for rows.Next() {
		var (
			e        JournalEntry
			phase    string
			intentID sql.NullString
			errText  sql.NullString
		)
		if err := rows.Scan(&e.ID, &e.SagaID, &e.ApplicationID, &phase, &intentID, &errText, &e.RecordedAt); err != nil {
			return nil, fmt.Errorf("scan payment_journal: %w", err)
		}
		e.Phase = Phase(phase)
		e.PaymentIntentID = intentID.String
		e.Error = errText.String
		out = append(out, e)
	}
	return out, rows.Err()
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
