package policyrule

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixedEntity struct {
	tags    map[string]struct{}
	expires time.Time
}

func (e fixedEntity) Tags() map[string]struct{} { return e.tags }
func (e fixedEntity) ExpiresAt() time.Time       { return e.expires }

// memPermissions is a trivial in-test TagPermissions implementation.
type memPermissions struct {
	mu    sync.RWMutex
	roles map[string]map[string]struct{}
}

func newMemPermissions() *memPermissions {
	return &memPermissions{roles: make(map[string]map[string]struct{})}
}

func (m *memPermissions) grant(tag string, roles ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	set := make(map[string]struct{}, len(roles))
	for _, r := range roles {
		set[r] = struct{}{}
	}
	m.roles[tag] = set
}

func (m *memPermissions) RolesFor(tag string) (map[string]struct{}, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[tag]
	return r, ok
}

func TestTTLRule_ExpiredEntityFailsWithDelete(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	rule := NewTTLRule(func() time.Time { return now })

	expired := fixedEntity{expires: now.Add(-time.Hour)}
	res := rule.Evaluate(expired, nil)
	assert.False(t, res.Passed)
	assert.Contains(t, res.Actions, "DELETE")

	fresh := fixedEntity{expires: now.Add(time.Hour)}
	res = rule.Evaluate(fresh, nil)
	assert.True(t, res.Passed)
}

func TestTTLRule_NonExpirableEntityPasses(t *testing.T) {
	rule := NewTTLRule(nil)
	res := rule.Evaluate("not expirable", nil)
	assert.True(t, res.Passed)
}

func TestTagAccessRule_NoRoleInContextPasses(t *testing.T) {
	perms := newMemPermissions()
	rule := NewTagAccessRule(perms, false)
	res := rule.Evaluate(fixedEntity{tags: map[string]struct{}{"secret": {}}}, nil)
	assert.True(t, res.Passed)
}

func TestTagAccessDecision_P9(t *testing.T) {
	perms := newMemPermissions()
	perms.grant("secret", "admin")
	perms.grant("public", "*")

	// Tagged, matching role.
	assert.True(t, TagAccessDecision(fixedEntity{tags: set("secret")}, perms, "admin", false))
	// Tagged, non-matching role.
	assert.False(t, TagAccessDecision(fixedEntity{tags: set("secret")}, perms, "guest", false))
	// Wildcard tag.
	assert.True(t, TagAccessDecision(fixedEntity{tags: set("public")}, perms, "anyone", false))
	// No tags -> default.
	assert.Equal(t, true, TagAccessDecision(fixedEntity{tags: set()}, perms, "admin", true))
	assert.Equal(t, false, TagAccessDecision(fixedEntity{tags: set()}, perms, "admin", false))
	// Not Taggable at all -> default.
	assert.Equal(t, true, TagAccessDecision("plain string", perms, "admin", true))
}

func set(tags ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(tags))
	for _, t := range tags {
		s[t] = struct{}{}
	}
	return s
}

func TestCELRule_EvaluatesEntityAndContext(t *testing.T) {
	rule, err := NewCELRule("cel-1", "require admin role", 50, `context.role == "admin" && entity.owner == "alice"`)
	require.NoError(t, err)

	type entity struct {
		Owner string `json:"owner"`
	}

	res := rule.Evaluate(entity{Owner: "alice"}, map[string]any{"role": "admin"})
	assert.True(t, res.Passed)

	res = rule.Evaluate(entity{Owner: "bob"}, map[string]any{"role": "admin"})
	assert.False(t, res.Passed)
	assert.Contains(t, res.Actions, "DENY")
}

func TestCELRule_CompileErrorSurfacesImmediately(t *testing.T) {
	_, err := NewCELRule("bad", "", 0, `this is not valid cel (`)
	assert.Error(t, err)
}

func TestRegistry_RoundTripsBuiltinRules(t *testing.T) {
	perms := newMemPermissions()
	clock := func() time.Time { return time.Unix(0, 0) }
	reg := DefaultRegistry(perms, clock)

	ttl := NewTTLRule(clock)
	env, err := Encode(ttl)
	require.NoError(t, err)
	assert.Equal(t, TypeTTLRule, env.Type)

	decoded, err := reg.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, ttl.Name(), decoded.Name())

	tag := NewTagAccessRule(perms, true)
	env, err = Encode(tag)
	require.NoError(t, err)
	decoded, err = reg.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, tag.Name(), decoded.Name())

	cel, err := NewCELRule("custom", "desc", 5, `entity.owner == "alice"`)
	require.NoError(t, err)
	env, err = Encode(cel)
	require.NoError(t, err)
	decoded, err = reg.Decode(env)
	require.NoError(t, err)
	assert.Equal(t, cel.Name(), decoded.Name())
}

func TestRegistry_UnknownTypeErrors(t *testing.T) {
	reg := NewRegistry()
	_, err := reg.Decode(Envelope{Type: "nonexistent"})
	assert.Error(t, err)
}
