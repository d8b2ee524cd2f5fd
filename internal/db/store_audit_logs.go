package db

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/MacJediWizard/seatkeeper/internal/models"
)

// AuditLogFilter defines filters for querying audit logs.
type AuditLogFilter struct {
	Action   string
	EntityID string
	Since    *time.Time
	Limit    int
}

// CreateAuditLog inserts a new audit log entry.
func (db *DB) CreateAuditLog(ctx context.Context, log *models.AuditLog) error {
	var payload []byte
	if len(log.Payload) > 0 {
		var err error
		payload, err = json.Marshal(log.Payload)
		if err != nil {
			return fmt.Errorf("encode audit payload: %w", err)
		}
	}
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO audit_log (id, action, entity_type, entity_id, payload, client_ip, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, log.ID, string(log.Action), nullIfEmpty(log.EntityType), nullIfEmpty(log.EntityID),
		payload, nullIfEmpty(log.ClientIP), log.CreatedAt)
	if err != nil {
		return fmt.Errorf("create audit log: %w", err)
	}
	return nil
}

// ListAuditLogs returns audit log entries, newest first.
func (db *DB) ListAuditLogs(ctx context.Context, filter AuditLogFilter) ([]*models.AuditLog, error) {
	query := `
		SELECT id, action, entity_type, entity_id, payload, client_ip, created_at
		FROM audit_log
		WHERE 1=1
	`
	var args []any
	argIdx := 1

	if filter.Action != "" {
		query += fmt.Sprintf(" AND action = $%d", argIdx)
		args = append(args, filter.Action)
		argIdx++
	}
	if filter.EntityID != "" {
		query += fmt.Sprintf(" AND entity_id = $%d", argIdx)
		args = append(args, filter.EntityID)
		argIdx++
	}
	if filter.Since != nil {
		query += fmt.Sprintf(" AND created_at >= $%d", argIdx)
		args = append(args, *filter.Since)
		argIdx++
	}

	query += " ORDER BY created_at DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT $%d", argIdx)
		args = append(args, filter.Limit)
	}

	rows, err := db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.AuditLog
	for rows.Next() {
		var l models.AuditLog
		var action string
		var entityType, entityID, clientIP *string
		var payload []byte
		if err := rows.Scan(&l.ID, &action, &entityType, &entityID, &payload, &clientIP, &l.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		l.Action = models.AuditAction(action)
		l.EntityType = deref(entityType)
		l.EntityID = deref(entityID)
		l.ClientIP = deref(clientIP)
		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &l.Payload); err != nil {
				return nil, fmt.Errorf("decode audit payload: %w", err)
			}
		}
		logs = append(logs, &l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit logs: %w", err)
	}
	return logs, nil
}
