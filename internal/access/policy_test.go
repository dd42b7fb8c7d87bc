package access

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/roleguard/internal/model"
)

func newTestChecker(src Source) *Checker {
	policy := NewSitePolicy(
		[]string{"static"},           // not secured
		[]string{"blog"},             // public
		[]string{"accounts"},         // secured
		[]string{"legacy", "static"}, // disabled; static is already not secured
	)
	return NewChecker(NewEngine(src, nil), policy)
}

func TestSitePolicy_Classify(t *testing.T) {
	c := newTestChecker(newMemSource())
	p := c.Policy()
	assert.Equal(t, ClassNotSecured, p.Classify("static"))
	assert.Equal(t, ClassPublic, p.Classify("blog"))
	assert.Equal(t, ClassSecured, p.Classify("accounts"))
	assert.Equal(t, ClassDisabled, p.Classify("legacy"))
	assert.Equal(t, ClassNone, p.Classify("shop"))

	assert.Equal(t, []string{"accounts", "blog", "legacy", "static"}, p.Apps())

	var nilPolicy *SitePolicy
	assert.Equal(t, ClassNone, nilPolicy.Classify("blog"))
	assert.Empty(t, nilPolicy.Apps())
}

func TestCheckView_PolicyOrder(t *testing.T) {
	src := newMemSource(
		&model.RoleAssignment{Resource: "static:file", Kind: model.KindView, Roles: []string{"x"}, Enabled: true},
		&model.RoleAssignment{Resource: "legacy:index", Kind: model.KindView, Roles: []string{"staff"}, Enabled: true},
		&model.RoleAssignment{Resource: "blog:post-edit", Kind: model.KindView, Roles: []string{"editor"}, Enabled: true},
		&model.RoleAssignment{Resource: "accounts:profile", Kind: model.KindView, Roles: []string{"staff"}, Enabled: false},
	)
	c := newTestChecker(src)
	ctx := context.Background()
	anon := model.Anonymous()
	staff := principal("staff")
	editor := principal("editor")

	tests := []struct {
		name   string
		p      *model.Principal
		app    string
		view   string
		want   bool
		reason Reason
	}{
		{"not secured ignores assignment", anon, "static", "static:file", true, ReasonAppNotSecured},
		{"disabled denies even matching role", staff, "legacy", "legacy:index", false, ReasonAppDisabled},
		{"assignment beats public, deny", staff, "blog", "blog:post-edit", false, ReasonNoMatchingRole},
		{"assignment beats public, allow", editor, "blog", "blog:post-edit", true, ReasonRoleMatched},
		{"public without assignment", anon, "blog", "blog:index", true, ReasonAppPublic},
		{"secured anonymous", anon, "accounts", "accounts:profile", false, ReasonNotAuthenticated},
		{"secured authenticated", staff, "accounts", "accounts:profile", true, ReasonAppSecured},
		{"secured nil principal", nil, "accounts", "accounts:login", false, ReasonNotAuthenticated},
		{"unclassified without assignment", anon, "shop", "shop:cart", true, ReasonNoAssignment},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.CheckView(ctx, tt.p, tt.app, tt.view)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
			assert.Equal(t, tt.view, d.Resource)
		})
	}
}

func TestCheckView_AccessTypes(t *testing.T) {
	src := newMemSource(
		&model.RoleAssignment{Resource: "accounts:login", Kind: model.KindView, Access: model.AccessPublic, Enabled: true},
		&model.RoleAssignment{Resource: "shop:orders", Kind: model.KindView, Access: model.AccessAuthenticated, Enabled: true},
		&model.RoleAssignment{Resource: "blog:drafts", Kind: model.KindView, Access: model.AccessAuthenticated, Enabled: true},
		&model.RoleAssignment{Resource: "accounts:signup", Kind: model.KindView, Access: model.AccessPublic, Enabled: false},
		&model.RoleAssignment{Resource: "legacy:welcome", Kind: model.KindView, Access: model.AccessPublic, Enabled: true},
	)
	c := newTestChecker(src)
	ctx := context.Background()
	anon := model.Anonymous()
	member := principal()

	tests := []struct {
		name   string
		p      *model.Principal
		app    string
		view   string
		want   bool
		reason Reason
	}{
		{"public view in secured app", anon, "accounts", "accounts:login", true, ReasonAccessPublic},
		{"public view with nil principal", nil, "accounts", "accounts:login", true, ReasonAccessPublic},
		{"login-only view in unclassified app, anonymous", anon, "shop", "shop:orders", false, ReasonAccessAnonymous},
		{"login-only view in unclassified app, authenticated", member, "shop", "shop:orders", true, ReasonAccessAuthenticated},
		{"login-only view in public app", anon, "blog", "blog:drafts", false, ReasonAccessAnonymous},
		{"disabled public assignment falls through", anon, "accounts", "accounts:signup", false, ReasonNotAuthenticated},
		{"disabled app ignores access type", member, "legacy", "legacy:welcome", false, ReasonAppDisabled},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := c.CheckView(ctx, tt.p, tt.app, tt.view)
			require.NoError(t, err)
			assert.Equal(t, tt.want, d.Allowed)
			assert.Equal(t, tt.reason, d.Reason)
		})
	}
}

func TestCheckView_NotSecuredSkipsLookup(t *testing.T) {
	src := newMemSource()
	src.err = errors.New("db down")
	c := newTestChecker(src)

	d, err := c.CheckView(context.Background(), nil, "static", "static:file")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, src.lookups)

	_, err = c.CheckView(context.Background(), nil, "shop", "shop:cart")
	assert.True(t, IsLookupError(err))
}

func TestCheckTemplate_SuperuserBypass(t *testing.T) {
	src := newMemSource(&model.RoleAssignment{
		Resource: "admin-links", Kind: model.KindTemplate, Roles: []string{"ops"}, Enabled: true,
	})
	c := newTestChecker(src)
	ctx := context.Background()

	root := &model.Principal{Subject: "root", Authenticated: true, Superuser: true}
	d, err := c.CheckTemplate(ctx, root, "admin-links")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, ReasonSuperuser, d.Reason)

	d, err = c.CheckTemplate(ctx, principal("guest"), "admin-links")
	require.NoError(t, err)
	assert.False(t, d.Allowed)

	// Views never bypass.
	src.byKey[cacheKey{resource: "ops:panel", kind: model.KindView}] = &model.RoleAssignment{
		Resource: "ops:panel", Kind: model.KindView, Roles: []string{"ops"}, Enabled: true,
	}
	d, err = c.Check(ctx, root, "ops", "ops:panel", model.KindView)
	require.NoError(t, err)
	assert.False(t, d.Allowed)
}
