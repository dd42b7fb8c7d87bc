package report

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/faucetdb/roleguard/internal/access"
	"github.com/faucetdb/roleguard/internal/model"
)

type mapSource map[string]*model.RoleAssignment

func (m mapSource) LookupAssignment(_ context.Context, resource string, kind model.ResourceKind) (*model.RoleAssignment, error) {
	if kind != model.KindView {
		return nil, nil
	}
	return m[resource], nil
}

type failingSource struct{}

func (failingSource) LookupAssignment(context.Context, string, model.ResourceKind) (*model.RoleAssignment, error) {
	return nil, errors.New("connection refused")
}

func assignment(roles ...string) *model.RoleAssignment {
	return &model.RoleAssignment{Kind: model.KindView, Roles: roles, Enabled: true}
}

func TestAnalyze(t *testing.T) {
	disabled := assignment("staff")
	disabled.Enabled = false
	public := assignment()
	public.Access = model.AccessPublic
	loginOnly := assignment()
	loginOnly.Access = model.AccessAuthenticated

	tests := []struct {
		name       string
		class      access.Classification
		a          *model.RoleAssignment
		middleware bool
		decorated  bool
		wantStatus Status
		wantText   string
	}{
		{"not secured", access.ClassNotSecured, assignment("staff"), true, false, StatusWarning, NotSecuredText},
		{"disabled app", access.ClassDisabled, nil, false, false, StatusWarning, DisabledText},
		{"middleware with roles", access.ClassNone, assignment("ops", "staff"), true, false, StatusNormal, "Roles with access: ops, staff"},
		{"decorated with roles", access.ClassPublic, assignment("staff"), false, true, StatusNormal, "Roles with access: staff"},
		{"enforced without roles", access.ClassSecured, assignment(), true, false, StatusError, NoRolesText},
		{"public access in secured app", access.ClassSecured, public, true, false, StatusNormal, PublicAccessText},
		{"authenticated access in public app", access.ClassPublic, loginOnly, false, true, StatusNormal, AuthenticatedAccessText},
		{"secured default", access.ClassSecured, nil, true, false, StatusNormal, SecuredText},
		{"public default", access.ClassPublic, nil, false, true, StatusNormal, PublicText},
		{"no type default", access.ClassNone, nil, true, false, StatusError, NoTypeText},
		{"disabled assignment is none", access.ClassPublic, disabled, true, false, StatusNormal, PublicText},
		{"assignment without guard", access.ClassSecured, assignment("staff"), false, false, StatusError, NoGuardText},
		{"no guard no assignment", access.ClassSecured, nil, false, false, StatusNormal, UnguardedText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, text := Analyze(tt.class, tt.a, tt.middleware, tt.decorated)
			assert.Equal(t, tt.wantStatus, status)
			assert.Equal(t, tt.wantText, text)
		})
	}
}

func testRules() []model.RouteRule {
	return []model.RouteRule{
		{App: "blog", View: "blog:index", Pattern: "/blog"},
		{App: "blog", View: "blog:edit", Pattern: "/blog/{id}/edit", Decorated: true},
		{App: "legacy", View: "legacy:index", Pattern: "/legacy/*"},
		{View: "healthz", Pattern: "/healthz"},
	}
}

func TestBuild(t *testing.T) {
	src := mapSource{"blog:edit": assignment("editor")}
	policy := access.NewSitePolicy(nil, []string{"blog"}, []string{"accounts"}, []string{"legacy"})

	rep, err := Build(context.Background(), src, policy, testRules(), Options{})
	require.NoError(t, err)

	names := make([]string, len(rep.Apps))
	for i, a := range rep.Apps {
		names[i] = a.Name
	}
	assert.Equal(t, []string{"Undefined app", "accounts", "blog", "legacy"}, names)

	accounts := rep.Apps[1]
	assert.Equal(t, access.ClassSecured, accounts.Classification)
	assert.Empty(t, accounts.Views)

	blog := rep.Apps[2]
	require.Len(t, blog.Views, 2)
	assert.Equal(t, UnguardedText, blog.Views[0].Description)
	assert.Equal(t, "Roles with access: editor", blog.Views[1].Description)
	assert.True(t, blog.Views[1].Decorated)
	assert.True(t, blog.Views[1].Enforced)

	assert.Equal(t, StatusWarning, rep.Apps[3].Views[0].Status)
	assert.Equal(t, 1, rep.Warnings)
	assert.Equal(t, 0, rep.Errors)
}

func TestBuild_MiddlewareAndDecoratedFunc(t *testing.T) {
	src := mapSource{"blog:index": assignment()}
	policy := access.NewSitePolicy(nil, []string{"blog"}, nil, nil)
	rules := []model.RouteRule{
		{App: "blog", View: "blog:index", Pattern: "/blog"},
		{App: "shop", View: "shop:cart", Pattern: "/cart"},
	}

	rep, err := Build(context.Background(), src, policy, rules, Options{
		Decorated: func(view string) bool { return view == "shop:cart" },
	})
	require.NoError(t, err)
	require.Len(t, rep.Apps, 2)
	assert.Equal(t, NoGuardText, rep.Apps[0].Views[0].Description)
	assert.Equal(t, NoTypeText, rep.Apps[1].Views[0].Description)
	assert.Equal(t, 2, rep.Errors)
}

func TestBuild_LookupError(t *testing.T) {
	_, err := Build(context.Background(), failingSource{}, nil, testRules(), Options{MiddlewareActive: true})
	require.Error(t, err)
	assert.True(t, access.IsLookupError(err))
}

func TestWriteCSV(t *testing.T) {
	src := mapSource{"blog:edit": assignment("editor", "staff")}
	policy := access.NewSitePolicy(nil, []string{"blog"}, []string{"accounts"}, []string{"legacy"})
	rep, err := Build(context.Background(), src, policy, testRules(), Options{MiddlewareActive: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rep, FormatCSV))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 6)
	assert.Equal(t, "App Name,Type,View Name,Url,Status,Status description", strings.Join(rows[0], ","))
	assert.Equal(t, []string{"Undefined app", "no type", "healthz", "/healthz", "Error", NoTypeText[len("ERROR: "):]}, rows[1])
	assert.Equal(t, []string{"accounts", "SECURED", "", "", "", ""}, rows[2])
	assert.Equal(t, []string{"blog", "PUBLIC", "blog:index", "/blog", "Normal", PublicText}, rows[3])
	assert.Equal(t, []string{"blog", "PUBLIC", "blog:edit", "/blog/{id}/edit", "Normal", "Roles with access: editor, staff"}, rows[4])
	assert.Equal(t, "Warning", rows[5][4])
	assert.False(t, strings.HasPrefix(rows[5][5], "WARNING"))
}

func TestWriteConsole(t *testing.T) {
	policy := access.NewSitePolicy(nil, nil, []string{"accounts"}, nil)
	rep, err := Build(context.Background(), mapSource{}, policy, []model.RouteRule{
		{App: "accounts", View: "accounts:profile", Pattern: "/profile"},
	}, Options{MiddlewareActive: true})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, Write(&buf, rep, FormatConsole))
	out := buf.String()

	for _, want := range []string{
		"Guard middleware is active: true.",
		"\tAnalyzing: accounts\n",
		"accounts is SECURED type.",
		"Analysis for view: accounts:profile",
		"View url: /profile",
		SecuredText,
		"Finish analyzing accounts.",
		"1 apps, 1 views, 0 errors, 0 warnings",
	} {
		assert.Contains(t, out, want)
	}
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, &Report{}, Format("xml"))
	assert.Error(t, err)
}
