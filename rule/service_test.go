package rule

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vstore/vstore/common/errs"
	"github.com/vstore/vstore/common/logger"
	"github.com/vstore/vstore/common/models"
)

type fakeRepo struct {
	rules map[string]*models.DecisionRule
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{rules: make(map[string]*models.DecisionRule)}
}

func (r *fakeRepo) Create(_ context.Context, rule *models.DecisionRule) error {
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *fakeRepo) Update(_ context.Context, rule *models.DecisionRule) error {
	if _, ok := r.rules[rule.ID]; !ok {
		return errs.ErrNotFound
	}
	cp := *rule
	r.rules[rule.ID] = &cp
	return nil
}

func (r *fakeRepo) Delete(_ context.Context, id string) error {
	if _, ok := r.rules[id]; !ok {
		return errs.ErrNotFound
	}
	delete(r.rules, id)
	return nil
}

func (r *fakeRepo) GetByID(_ context.Context, id string) (*models.DecisionRule, error) {
	rule, ok := r.rules[id]
	if !ok {
		return nil, errs.ErrNotFound
	}
	cp := *rule
	return &cp, nil
}

func (r *fakeRepo) ListAll(_ context.Context) ([]*models.DecisionRule, error) {
	out := make([]*models.DecisionRule, 0, len(r.rules))
	for _, rule := range r.rules {
		cp := *rule
		out = append(out, &cp)
	}
	return out, nil
}

func (r *fakeRepo) ListMatchingMimeType(ctx context.Context, mimeType string) ([]*models.DecisionRule, error) {
	all, _ := r.ListAll(ctx)
	var out []*models.DecisionRule
	for _, rule := range all {
		if rule.MatchesMimeType(mimeType) {
			out = append(out, rule)
		}
	}
	return out, nil
}

func serviceFixture() (*Service, *fakeRepo) {
	repo := newFakeRepo()
	return NewService(repo, logger.Discard()), repo
}

func cloudRule(name string) *models.DecisionRule {
	return &models.DecisionRule{
		Name:           name,
		SharingDomain:  models.SharingAny,
		DecisionLayers: []models.DecisionLayer{{TargetType: models.NodeTypeCloud}},
	}
}

func TestCreateAssignsIDAndScore(t *testing.T) {
	svc, repo := serviceFixture()
	r := cloudRule("media to cloud")
	r.Weekdays = []int{6, 7}

	require.NoError(t, svc.Create(context.Background(), r))

	assert.NotEmpty(t, r.ID)
	assert.False(t, r.CreatedAt.IsZero())
	assert.Greater(t, r.DetailScore, 0.0)

	stored, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Equal(t, r.DetailScore, stored.DetailScore)
}

func TestCreateRejectsRuleWithoutLayers(t *testing.T) {
	svc, repo := serviceFixture()
	err := svc.Create(context.Background(), &models.DecisionRule{Name: "empty"})
	assert.Error(t, err)
	assert.Empty(t, repo.rules)

	assert.Error(t, svc.Create(context.Background(), nil))
}

func TestCreateKeepsProvidedID(t *testing.T) {
	svc, _ := serviceFixture()
	r := cloudRule("fixed id")
	r.ID = "rule-1"
	require.NoError(t, svc.Create(context.Background(), r))
	assert.Equal(t, "rule-1", r.ID)
}

func TestUpdateRefreshesScore(t *testing.T) {
	svc, repo := serviceFixture()
	r := cloudRule("score check")
	require.NoError(t, svc.Create(context.Background(), r))
	before := r.DetailScore

	r.Weekdays = []int{1, 2, 3}
	require.NoError(t, svc.Update(context.Background(), r))

	stored, err := repo.GetByID(context.Background(), r.ID)
	require.NoError(t, err)
	assert.Greater(t, stored.DetailScore, before)
}

func TestUpdateValidation(t *testing.T) {
	svc, _ := serviceFixture()
	assert.Error(t, svc.Update(context.Background(), &models.DecisionRule{Name: "no id"}))

	r := cloudRule("no layers")
	r.ID = "rule-1"
	r.DecisionLayers = nil
	assert.Error(t, svc.Update(context.Background(), r))
}

func TestApplyPatch(t *testing.T) {
	svc, repo := serviceFixture()
	r := cloudRule("patch me")
	require.NoError(t, svc.Create(context.Background(), r))
	id, createdAt := r.ID, r.CreatedAt

	patch := []byte(`[
		{"op": "replace", "path": "/name", "value": "patched"},
		{"op": "add", "path": "/mimetypes", "value": ["video"]}
	]`)
	updated, err := svc.ApplyPatch(context.Background(), id, patch)
	require.NoError(t, err)

	assert.Equal(t, "patched", updated.Name)
	assert.Equal(t, []string{"video"}, updated.MimeTypes)
	assert.Equal(t, id, updated.ID)
	assert.Equal(t, createdAt, updated.CreatedAt)

	stored, err := repo.GetByID(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "patched", stored.Name)
}

func TestApplyPatchCannotChangeID(t *testing.T) {
	svc, repo := serviceFixture()
	r := cloudRule("immutable id")
	require.NoError(t, svc.Create(context.Background(), r))

	patch := []byte(`[{"op": "replace", "path": "/uuid", "value": "hijacked"}]`)
	updated, err := svc.ApplyPatch(context.Background(), r.ID, patch)
	require.NoError(t, err)
	assert.Equal(t, r.ID, updated.ID)

	_, err = repo.GetByID(context.Background(), r.ID)
	assert.NoError(t, err)
}

func TestApplyPatchInvalid(t *testing.T) {
	svc, _ := serviceFixture()
	r := cloudRule("bad patch")
	require.NoError(t, svc.Create(context.Background(), r))

	_, err := svc.ApplyPatch(context.Background(), r.ID, []byte(`not json`))
	assert.Error(t, err)

	_, err = svc.ApplyPatch(context.Background(), r.ID, []byte(`[{"op": "test", "path": "/name", "value": "other"}]`))
	assert.Error(t, err)

	_, err = svc.ApplyPatch(context.Background(), "ghost", []byte(`[]`))
	assert.Error(t, err)
}

func TestReplaceAll(t *testing.T) {
	svc, repo := serviceFixture()
	old := cloudRule("old")
	require.NoError(t, svc.Create(context.Background(), old))

	next := []*models.DecisionRule{cloudRule("new a"), cloudRule("new b")}
	require.NoError(t, svc.ReplaceAll(context.Background(), next))

	all, err := svc.List(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 2)
	for _, r := range all {
		assert.NotEqual(t, "old", r.Name)
	}

	_, err = repo.GetByID(context.Background(), old.ID)
	assert.Error(t, err)
}

func TestListMatchingMimeType(t *testing.T) {
	svc, _ := serviceFixture()
	img := cloudRule("images")
	img.MimeTypes = []string{"image/jpeg"}
	catchAll := cloudRule("catch all")
	require.NoError(t, svc.Create(context.Background(), img))
	require.NoError(t, svc.Create(context.Background(), catchAll))

	got, err := svc.ListMatchingMimeType(context.Background(), "image/jpeg")
	require.NoError(t, err)
	assert.Len(t, got, 2)

	got, err = svc.ListMatchingMimeType(context.Background(), "video/mp4")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "catch all", got[0].Name)
}
