package rules

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lunaform/switchboard/internal/core/db"
	"github.com/lunaform/switchboard/internal/types"
)

// SQLRuleStore persists a tenant's rules in the rules table, preserving the
// whole-document semantics of the store contract: Save replaces the
// tenant's rows inside one transaction, Load reads them all back.
// Condition and action trees are stored as JSON columns; the engine, not
// the database, interprets them.
type SQLRuleStore struct {
	q      *db.Queries
	tenant string
}

// NewSQLRuleStore creates a database-backed store for one tenant.
func NewSQLRuleStore(q *db.Queries, tenant string) *SQLRuleStore {
	return &SQLRuleStore{q: q, tenant: tenant}
}

type ruleRow struct {
	RuleID    string `db:"rule_id"`
	Name      string `db:"name"`
	Enabled   bool   `db:"enabled"`
	Condition string `db:"condition"`
	Action    string `db:"action"`
	CreatedAt string `db:"created_at"`
	UpdatedAt string `db:"updated_at"`
}

// Load reads the tenant's full rule set. Zero rows means zero rules.
func (s *SQLRuleStore) Load(ctx context.Context) ([]types.Rule, error) {
	var rows []ruleRow
	if err := s.q.SelectContext(ctx, "select-rules-by-tenant", &rows, s.tenant); err != nil {
		return nil, fmt.Errorf("select rules: %w", err)
	}

	rules := make([]types.Rule, 0, len(rows))
	for _, row := range rows {
		r := types.Rule{
			ID:      types.RuleID(row.RuleID),
			Name:    row.Name,
			Enabled: row.Enabled,
		}
		if err := json.Unmarshal([]byte(row.Condition), &r.Condition); err != nil {
			return nil, fmt.Errorf("parse condition for rule %s: %w", row.RuleID, err)
		}
		if row.Action != "" && row.Action != "null" {
			r.Action = &types.Action{}
			if err := json.Unmarshal([]byte(row.Action), r.Action); err != nil {
				return nil, fmt.Errorf("parse action for rule %s: %w", row.RuleID, err)
			}
		}
		r.CreatedAt, _ = time.Parse(time.RFC3339, row.CreatedAt)
		r.UpdatedAt, _ = time.Parse(time.RFC3339, row.UpdatedAt)
		rules = append(rules, r)
	}
	return rules, nil
}

// Save replaces the tenant's rule rows in a single transaction.
func (s *SQLRuleStore) Save(ctx context.Context, rules []types.Rule) error {
	deleteQ, err := s.q.Raw("delete-rules-by-tenant")
	if err != nil {
		return err
	}
	insertQ, err := s.q.Raw("insert-rule")
	if err != nil {
		return err
	}

	sqldb := s.q.DB()
	tx, err := sqldb.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, sqldb.Rebind(deleteQ), s.tenant); err != nil {
		return fmt.Errorf("delete rules: %w", err)
	}

	for _, r := range rules {
		condition, err := json.Marshal(r.Condition)
		if err != nil {
			return fmt.Errorf("marshal condition for rule %s: %w", r.ID, err)
		}
		action := []byte("null")
		if r.Action != nil {
			if action, err = json.Marshal(r.Action); err != nil {
				return fmt.Errorf("marshal action for rule %s: %w", r.ID, err)
			}
		}

		_, err = tx.ExecContext(ctx, sqldb.Rebind(insertQ),
			string(r.ID),
			s.tenant,
			r.Name,
			r.Enabled,
			string(condition),
			string(action),
			r.CreatedAt.UTC().Format(time.RFC3339),
			r.UpdatedAt.UTC().Format(time.RFC3339),
		)
		if err != nil {
			return fmt.Errorf("insert rule %s: %w", r.ID, err)
		}
	}

	return tx.Commit()
}
