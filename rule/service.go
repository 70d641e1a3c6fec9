package rule

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	jsonpatch "github.com/evanphx/json-patch/v5"
	"github.com/google/uuid"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

// Repository is the persistence contract the service works against.
type Repository interface {
	Create(ctx context.Context, rule *models.DecisionRule) error
	Update(ctx context.Context, rule *models.DecisionRule) error
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*models.DecisionRule, error)
	ListAll(ctx context.Context) ([]*models.DecisionRule, error)
	ListMatchingMimeType(ctx context.Context, mimeType string) ([]*models.DecisionRule, error)
}

// Service manages decision rules. Every mutation recomputes the rule's
// detail score before persisting, so stored scores are always consistent
// with the rule's configured context.
type Service struct {
	repo Repository
	log  *logger.Logger
}

func NewService(repo Repository, log *logger.Logger) *Service {
	return &Service{repo: repo, log: log}
}

// Create stores a new rule, assigning an id when none is set.
func (s *Service) Create(ctx context.Context, rule *models.DecisionRule) error {
	if rule == nil {
		return errs.Validation("rule is nil")
	}
	if len(rule.DecisionLayers) == 0 {
		return errs.Validation("rule %q has no decision layers", rule.Name)
	}
	if rule.ID == "" {
		rule.ID = uuid.NewString()
	}
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = time.Now()
	}
	rule.RefreshDetailScore()

	if err := s.repo.Create(ctx, rule); err != nil {
		return fmt.Errorf("create rule %s: %w", rule.ID, err)
	}
	s.log.Info("rule created", "rule_id", rule.ID, "name", rule.Name, "score", rule.DetailScore)
	return nil
}

// Update replaces a stored rule wholesale.
func (s *Service) Update(ctx context.Context, rule *models.DecisionRule) error {
	if rule == nil || rule.ID == "" {
		return errs.Validation("rule id is empty")
	}
	if len(rule.DecisionLayers) == 0 {
		return errs.Validation("rule %q has no decision layers", rule.Name)
	}
	rule.RefreshDetailScore()

	if err := s.repo.Update(ctx, rule); err != nil {
		return fmt.Errorf("update rule %s: %w", rule.ID, err)
	}
	s.log.Info("rule updated", "rule_id", rule.ID, "score", rule.DetailScore)
	return nil
}

// ApplyPatch applies an RFC 6902 JSON patch to a stored rule and persists
// the result. The rule's id cannot be changed by a patch.
func (s *Service) ApplyPatch(ctx context.Context, id string, patch []byte) (*models.DecisionRule, error) {
	rule, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}

	p, err := jsonpatch.DecodePatch(patch)
	if err != nil {
		return nil, errs.Validation("invalid patch: %v", err)
	}

	doc, err := json.Marshal(rule)
	if err != nil {
		return nil, fmt.Errorf("marshal rule %s: %w", id, err)
	}
	patched, err := p.Apply(doc)
	if err != nil {
		return nil, errs.Validation("patch does not apply: %v", err)
	}

	var updated models.DecisionRule
	if err := json.Unmarshal(patched, &updated); err != nil {
		return nil, errs.Validation("patched rule is malformed: %v", err)
	}
	updated.ID = id
	updated.CreatedAt = rule.CreatedAt

	if err := s.Update(ctx, &updated); err != nil {
		return nil, err
	}
	return &updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) error {
	if err := s.repo.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete rule %s: %w", id, err)
	}
	s.log.Info("rule deleted", "rule_id", id)
	return nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.DecisionRule, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *Service) List(ctx context.Context) ([]*models.DecisionRule, error) {
	return s.repo.ListAll(ctx)
}

// ListMatchingMimeType returns the rules applicable to the mime type,
// satisfying the matching engine's rule source contract.
func (s *Service) ListMatchingMimeType(ctx context.Context, mimeType string) ([]*models.DecisionRule, error) {
	return s.repo.ListMatchingMimeType(ctx, mimeType)
}

// ReplaceAll swaps the whole rule set for the one fetched from the master,
// used when applying a downloaded configuration.
func (s *Service) ReplaceAll(ctx context.Context, rules []*models.DecisionRule) error {
	existing, err := s.repo.ListAll(ctx)
	if err != nil {
		return err
	}
	for _, r := range existing {
		if err := s.repo.Delete(ctx, r.ID); err != nil {
			return fmt.Errorf("clear rule %s: %w", r.ID, err)
		}
	}
	for _, r := range rules {
		if err := s.Create(ctx, r); err != nil {
			return err
		}
	}
	return nil
}
