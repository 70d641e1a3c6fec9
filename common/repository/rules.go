package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vstore/vstore/common/db"
	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/models"
)

// RuleRepository handles database operations for decision rules
type RuleRepository struct {
	db *db.DB
}

// NewRuleRepository creates a new rule repository
func NewRuleRepository(database *db.DB) *RuleRepository {
	return &RuleRepository{db: database}
}

const ruleColumns = `uuid, name, created_at, context_json, min_file_size,
	sharing_domain, is_global, store_multiple, replication_factor, weekdays,
	start_hour, start_minute, end_hour, end_minute, context_scores, detail_score`

// Create inserts a rule with its mime types and decision layers
func (r *RuleRepository) Create(ctx context.Context, rule *models.DecisionRule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRule(ctx, tx, rule); err != nil {
		return err
	}
	if err := insertChildren(ctx, tx, rule); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}

	return nil
}

// Update replaces a rule and its child rows
func (r *RuleRepository) Update(ctx context.Context, rule *models.DecisionRule) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	contextJSON, scoresJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		UPDATE rules
		SET name = $2, context_json = $3, min_file_size = $4, sharing_domain = $5,
		    is_global = $6, store_multiple = $7, replication_factor = $8,
		    weekdays = $9, start_hour = $10, start_minute = $11, end_hour = $12,
		    end_minute = $13, context_scores = $14, detail_score = $15
		WHERE uuid = $1
	`

	tag, err := tx.Exec(
		ctx,
		query,
		rule.ID,
		rule.Name,
		contextJSON,
		rule.MinFileSize,
		rule.SharingDomain,
		rule.IsGlobal,
		rule.StoreMultiple,
		rule.ReplicationFactor,
		weekdaysToDB(rule.Weekdays),
		rule.StartHour,
		rule.StartMinute,
		rule.EndHour,
		rule.EndMinute,
		scoresJSON,
		rule.DetailScore,
	)
	if err != nil {
		return fmt.Errorf("failed to update rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	if _, err := tx.Exec(ctx, `DELETE FROM rule_mimetypes WHERE rule_uuid = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule mimetypes: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM rule_decision_layers WHERE rule_uuid = $1`, rule.ID); err != nil {
		return fmt.Errorf("failed to clear rule layers: %w", err)
	}
	if err := insertChildren(ctx, tx, rule); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rule: %w", err)
	}

	return nil
}

// Delete removes a rule; child rows cascade
func (r *RuleRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM rules WHERE uuid = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete rule: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return errs.ErrNotFound
	}

	return nil
}

// GetByID retrieves one rule with mime types and layers
func (r *RuleRepository) GetByID(ctx context.Context, id string) (*models.DecisionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules WHERE uuid = $1`

	rule, err := scanRule(r.db.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get rule: %w", err)
	}

	if err := r.loadChildren(ctx, []*models.DecisionRule{rule}); err != nil {
		return nil, err
	}

	return rule, nil
}

// ListAll retrieves every rule
func (r *RuleRepository) ListAll(ctx context.Context) ([]*models.DecisionRule, error) {
	query := `SELECT ` + ruleColumns + ` FROM rules ORDER BY created_at`
	return r.list(ctx, query)
}

// ListMatchingMimeType retrieves rules whose mime type set is empty or
// contains the given type
func (r *RuleRepository) ListMatchingMimeType(ctx context.Context, mimeType string) ([]*models.DecisionRule, error) {
	query := `
		SELECT ` + ruleColumns + `
		FROM rules r
		WHERE NOT EXISTS (SELECT 1 FROM rule_mimetypes m WHERE m.rule_uuid = r.uuid)
		   OR EXISTS (SELECT 1 FROM rule_mimetypes m WHERE m.rule_uuid = r.uuid AND m.mime_type = $1)
		ORDER BY created_at
	`
	return r.list(ctx, query, mimeType)
}

func (r *RuleRepository) list(ctx context.Context, query string, args ...any) ([]*models.DecisionRule, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list rules: %w", err)
	}
	defer rows.Close()

	var rules []*models.DecisionRule
	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if err := r.loadChildren(ctx, rules); err != nil {
		return nil, err
	}

	return rules, nil
}

func (r *RuleRepository) loadChildren(ctx context.Context, rules []*models.DecisionRule) error {
	if len(rules) == 0 {
		return nil
	}

	byID := make(map[string]*models.DecisionRule, len(rules))
	ids := make([]string, 0, len(rules))
	for _, rule := range rules {
		byID[rule.ID] = rule
		ids = append(ids, rule.ID)
	}

	mimeRows, err := r.db.Query(ctx,
		`SELECT rule_uuid, mime_type FROM rule_mimetypes WHERE rule_uuid = ANY($1)`, ids)
	if err != nil {
		return fmt.Errorf("failed to load rule mimetypes: %w", err)
	}
	defer mimeRows.Close()
	for mimeRows.Next() {
		var ruleID, mime string
		if err := mimeRows.Scan(&ruleID, &mime); err != nil {
			return fmt.Errorf("failed to scan rule mimetype: %w", err)
		}
		byID[ruleID].MimeTypes = append(byID[ruleID].MimeTypes, mime)
	}
	if err := mimeRows.Err(); err != nil {
		return err
	}

	layerRows, err := r.db.Query(ctx, `
		SELECT rule_uuid, is_specific, specific_node_id, target_type,
		       min_radius, max_radius, min_bw_up, min_bw_down
		FROM rule_decision_layers
		WHERE rule_uuid = ANY($1)
		ORDER BY rule_uuid, position
	`, ids)
	if err != nil {
		return fmt.Errorf("failed to load rule layers: %w", err)
	}
	defer layerRows.Close()
	for layerRows.Next() {
		var ruleID, targetType string
		layer := models.DecisionLayer{}
		err := layerRows.Scan(
			&ruleID,
			&layer.IsSpecific,
			&layer.SpecificNodeID,
			&targetType,
			&layer.MinRadius,
			&layer.MaxRadius,
			&layer.MinBwUp,
			&layer.MinBwDown,
		)
		if err != nil {
			return fmt.Errorf("failed to scan rule layer: %w", err)
		}
		layer.TargetType = models.ParseNodeType(targetType)
		byID[ruleID].DecisionLayers = append(byID[ruleID].DecisionLayers, layer)
	}

	return layerRows.Err()
}

func insertRule(ctx context.Context, tx pgx.Tx, rule *models.DecisionRule) error {
	contextJSON, scoresJSON, err := marshalRuleJSON(rule)
	if err != nil {
		return err
	}

	query := `
		INSERT INTO rules (` + ruleColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)
	`

	_, err = tx.Exec(
		ctx,
		query,
		rule.ID,
		rule.Name,
		rule.CreatedAt.Unix(),
		contextJSON,
		rule.MinFileSize,
		rule.SharingDomain,
		rule.IsGlobal,
		rule.StoreMultiple,
		rule.ReplicationFactor,
		weekdaysToDB(rule.Weekdays),
		rule.StartHour,
		rule.StartMinute,
		rule.EndHour,
		rule.EndMinute,
		scoresJSON,
		rule.DetailScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert rule: %w", err)
	}

	return nil
}

func insertChildren(ctx context.Context, tx pgx.Tx, rule *models.DecisionRule) error {
	for _, mime := range rule.MimeTypes {
		_, err := tx.Exec(ctx,
			`INSERT INTO rule_mimetypes (rule_uuid, mime_type) VALUES ($1, $2)`,
			rule.ID, mime)
		if err != nil {
			return fmt.Errorf("failed to insert rule mimetype: %w", err)
		}
	}

	for i, layer := range rule.DecisionLayers {
		_, err := tx.Exec(ctx, `
			INSERT INTO rule_decision_layers
				(rule_uuid, position, is_specific, specific_node_id, target_type,
				 min_radius, max_radius, min_bw_up, min_bw_down)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`,
			rule.ID,
			i,
			layer.IsSpecific,
			layer.SpecificNodeID,
			string(layer.TargetType),
			layer.MinRadius,
			layer.MaxRadius,
			layer.MinBwUp,
			layer.MinBwDown,
		)
		if err != nil {
			return fmt.Errorf("failed to insert rule layer: %w", err)
		}
	}

	return nil
}

func scanRule(row pgx.Row) (*models.DecisionRule, error) {
	rule := &models.DecisionRule{}
	var createdAt int64
	var contextJSON, scoresJSON []byte
	var weekdays []int32

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&createdAt,
		&contextJSON,
		&rule.MinFileSize,
		&rule.SharingDomain,
		&rule.IsGlobal,
		&rule.StoreMultiple,
		&rule.ReplicationFactor,
		&weekdays,
		&rule.StartHour,
		&rule.StartMinute,
		&rule.EndHour,
		&rule.EndMinute,
		&scoresJSON,
		&rule.DetailScore,
	)
	if err != nil {
		return nil, err
	}

	rule.CreatedAt = time.Unix(createdAt, 0)
	for _, d := range weekdays {
		rule.Weekdays = append(rule.Weekdays, int(d))
	}
	if len(contextJSON) > 0 && string(contextJSON) != "{}" {
		rule.Context = &models.RuleContext{}
		if err := json.Unmarshal(contextJSON, rule.Context); err != nil {
			return nil, fmt.Errorf("failed to parse rule context: %w", err)
		}
	}
	if len(scoresJSON) > 0 && string(scoresJSON) != "{}" {
		if err := json.Unmarshal(scoresJSON, &rule.ContextScores); err != nil {
			return nil, fmt.Errorf("failed to parse rule scoring: %w", err)
		}
	}

	return rule, nil
}

func marshalRuleJSON(rule *models.DecisionRule) ([]byte, []byte, error) {
	contextJSON := []byte("{}")
	if rule.Context != nil {
		data, err := json.Marshal(rule.Context)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to serialize rule context: %w", err)
		}
		contextJSON = data
	}

	scoresJSON := []byte("{}")
	if len(rule.ContextScores) > 0 {
		data, err := json.Marshal(rule.ContextScores)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to serialize rule scoring: %w", err)
		}
		scoresJSON = data
	}

	return contextJSON, scoresJSON, nil
}

func weekdaysToDB(days []int) []int32 {
	out := make([]int32, 0, len(days))
	for _, d := range days {
		out = append(out, int32(d))
	}
	return out
}
