// Package sqlite persiste eventos de anomalia em um arquivo SQLite append-only.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"

	"github.com/2witstudios/pagespace-security/internal/core/domain"
	"github.com/2witstudios/pagespace-security/internal/core/ports"
)

const defaultRecentLimit = 50

// Store é uma trilha de anomalias append-only.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

var _ ports.AuditSink = (*Store)(nil)

// Open cria o arquivo do banco e seu diretório quando necessário. ":memory:" é aceito em testes.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("create audit directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open audit database: %w", err)
	}
	// uma segunda conexão com ":memory:" enxergaria um banco vazio
	db.SetMaxOpenConns(1)

	store := &Store{db: db, now: time.Now}
	if err := store.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS anomaly_events (
			id TEXT PRIMARY KEY,
			user_id TEXT NOT NULL,
			ip_address TEXT NOT NULL,
			risk_score REAL NOT NULL,
			flags TEXT NOT NULL,
			detected_at DATETIME NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_anomaly_events_user ON anomaly_events(user_id, detected_at);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("migrate audit database: %w", err)
	}
	return nil
}

func (s *Store) LogAnomalyDetected(ctx context.Context, userID, ip string, riskScore float64, flags []domain.AnomalyFlag) error {
	if flags == nil {
		flags = []domain.AnomalyFlag{}
	}
	encoded, err := json.Marshal(flags)
	if err != nil {
		return fmt.Errorf("encode flags: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO anomaly_events (id, user_id, ip_address, risk_score, flags, detected_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), userID, ip, riskScore, string(encoded), s.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("insert anomaly event: %w", err)
	}
	return nil
}

// Recent retorna os eventos mais recentes primeiro. Um userID vazio lista todos os usuários.
func (s *Store) Recent(ctx context.Context, userID string, limit int) ([]domain.AnomalyEvent, error) {
	if limit <= 0 {
		limit = defaultRecentLimit
	}

	query := `SELECT id, user_id, ip_address, risk_score, flags, detected_at FROM anomaly_events`
	args := []any{}
	if userID != "" {
		query += ` WHERE user_id = ?`
		args = append(args, userID)
	}
	query += ` ORDER BY detected_at DESC, rowid DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query anomaly events: %w", err)
	}
	defer rows.Close()

	var events []domain.AnomalyEvent
	for rows.Next() {
		var (
			event domain.AnomalyEvent
			flags string
		)
		if err := rows.Scan(&event.ID, &event.UserID, &event.IPAddress, &event.RiskScore, &flags, &event.DetectedAt); err != nil {
			return nil, fmt.Errorf("scan anomaly event: %w", err)
		}
		if err := json.Unmarshal([]byte(flags), &event.Flags); err != nil {
			return nil, fmt.Errorf("decode flags for %s: %w", event.ID, err)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func (s *Store) Close() error {
	return s.db.Close()
}
