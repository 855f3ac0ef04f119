package analysis

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/ortelius/pdvd-rollup/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type call struct {
	org, key string
	scope    model.AnalysisScope
}

type recorder struct {
	calls []call
	err   error
}

func (r *recorder) PublishAnalysisChanged(_ context.Context, org string, scope model.AnalysisScope, key string) error {
	r.calls = append(r.calls, call{org, key, scope})
	return r.err
}

func (r *recorder) ReevaluateScope(_ context.Context, org string, scope model.AnalysisScope, key string) (int, error) {
	r.calls = append(r.calls, call{org, key, scope})
	return 2, r.err
}

func post(t *testing.T, h fiber.Handler, body string) int {
	t.Helper()
	app := fiber.New()
	app.Post("/", h)
	req := httptest.NewRequest("POST", "/", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	return resp.StatusCode
}

func TestPostAnalysisChangedPublishes(t *testing.T) {
	pub, inline := &recorder{}, &recorder{}
	status := post(t, PostAnalysisChanged(pub, inline), `{"org":"acme","scope":"BRANCH","scope_key":"b1"}`)
	assert.Equal(t, fiber.StatusAccepted, status)
	assert.Equal(t, []call{{"acme", "b1", model.ScopeBranch}}, pub.calls)
	assert.Empty(t, inline.calls)
}

func TestPostAnalysisChangedRunsInline(t *testing.T) {
	inline := &recorder{}
	status := post(t, PostAnalysisChanged(nil, inline), `{"org":"acme"}`)
	assert.Equal(t, fiber.StatusOK, status)
	assert.Equal(t, []call{{"acme", "acme", model.ScopeOrg}}, inline.calls)
}

func TestPostAnalysisChangedRejects(t *testing.T) {
	inline := &recorder{}
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "missing org", body: `{"scope":"ORG"}`, want: fiber.StatusUnprocessableEntity},
		{name: "unknown scope", body: `{"org":"acme","scope":"TEAM"}`, want: fiber.StatusBadRequest},
		{name: "bad body", body: `{`, want: fiber.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, post(t, PostAnalysisChanged(nil, inline), tt.body))
		})
	}
	assert.Empty(t, inline.calls)
}

func TestPostAnalysisChangedFailure(t *testing.T) {
	pub := &recorder{err: errors.New("broker down")}
	assert.Equal(t, fiber.StatusInternalServerError, post(t, PostAnalysisChanged(pub, nil), `{"org":"acme"}`))
}
