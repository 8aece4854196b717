package api

import (
	"context"
	"net/http"
	"testing"

	"github.com/google/uuid"

	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/clientsettings"
	"github.com/nerrad567/gray-logic-identity/internal/session"
)

// ─── Permission Strategies ─────────────────────────────────────────

func TestPermissions_LiveAndSnapshotDiverge(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	ctx := context.Background()

	if w := h.call(t, http.MethodGet, "/api/v1/admin/users", nil, bearer(admin.AccessToken)...); w.Code != http.StatusOK {
		t.Fatalf("admin users before revocation = %d", w.Code)
	}

	// Strip admin:users:read and stats:read from every role the admin holds.
	if err := h.roles.SetPermissions(ctx, "role-admin", []string{auth.PermAdminUsersWrite}); err != nil {
		t.Fatalf("SetPermissions(admin): %v", err)
	}
	if err := h.roles.SetPermissions(ctx, "role-user", []string{auth.PermSyncUpload}); err != nil {
		t.Fatalf("SetPermissions(user): %v", err)
	}

	if w := h.call(t, http.MethodGet, "/api/v1/admin/users", nil, bearer(admin.AccessToken)...); w.Code != http.StatusForbidden {
		t.Errorf("live route after revocation = %d, want 403", w.Code)
	}
	if w := h.call(t, http.MethodGet, "/api/v1/users/me/stats", nil, bearer(admin.AccessToken)...); w.Code != http.StatusOK {
		t.Errorf("snapshot route with old token = %d, want 200", w.Code)
	}

	// A fresh token carries the new grants.
	fresh := h.login(t, adminEmail)
	if w := h.call(t, http.MethodGet, "/api/v1/users/me/stats", nil, bearer(fresh.AccessToken)...); w.Code != http.StatusForbidden {
		t.Errorf("snapshot route with new token = %d, want 403", w.Code)
	}
}

func TestAdmin_ForbiddenForUsers(t *testing.T) {
	h := newHarness(t)
	user := h.signUp(t, "user@example.com")

	for _, path := range []string{"/api/v1/admin/users", "/api/v1/admin/roles", "/api/v1/admin/api-logs", "/api/v1/admin/stats"} {
		if w := h.call(t, http.MethodGet, path, nil, bearer(user.AccessToken)...); w.Code != http.StatusForbidden {
			t.Errorf("%s = %d, want 403", path, w.Code)
		}
	}
}

// ─── Admin Users ───────────────────────────────────────────────────

func TestAdmin_ListAndGetUsers(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	h.signUp(t, "web@example.com", "X-Client-Type", "web-dashboard")
	mac := h.signUp(t, "mac@example.com", "X-Client-Type", "macos-app")
	hdr := bearer(admin.AccessToken)

	w := h.call(t, http.MethodGet, "/api/v1/admin/users?limit=2&page=1", nil, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("list = %d", w.Code)
	}
	page := decode[struct {
		Users   []map[string]any `json:"users"`
		Total   int              `json:"total"`
		PerPage int              `json:"per_page"`
	}](t, w)
	if page.Total != 3 || len(page.Users) != 2 || page.PerPage != 2 {
		t.Errorf("page = total %d, users %d, per_page %d", page.Total, len(page.Users), page.PerPage)
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/users?source=macos-app", nil, hdr...)
	filtered := decode[struct {
		Total int `json:"total"`
	}](t, w)
	if filtered.Total != 1 {
		t.Errorf("source filter total = %d, want 1", filtered.Total)
	}

	for _, q := range []string{"limit=0", "limit=101", "page=0", "limit=abc"} {
		if w := h.call(t, http.MethodGet, "/api/v1/admin/users?"+q, nil, hdr...); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", q, w.Code)
		}
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/users/"+mac.User.ID, nil, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("get user = %d", w.Code)
	}
	detail := decode[struct {
		Roles          []string          `json:"roles"`
		RecentSessions []session.Session `json:"recent_sessions"`
	}](t, w)
	if len(detail.RecentSessions) != 1 || detail.RecentSessions[0].ClientSource != "macos-app" {
		t.Errorf("recent sessions = %+v", detail.RecentSessions)
	}

	if w := h.call(t, http.MethodGet, "/api/v1/admin/users/"+uuid.NewString(), nil, hdr...); w.Code != http.StatusNotFound {
		t.Errorf("unknown user = %d, want 404", w.Code)
	}
	for _, path := range []string{"/api/v1/admin/users/" + mac.User.ID + "/sessions", "/api/v1/admin/sessions/users/" + mac.User.ID} {
		w := h.call(t, http.MethodGet, path, nil, hdr...)
		if w.Code != http.StatusOK || decode[map[string]any](t, w)["count"] != float64(1) {
			t.Errorf("%s = %d %s", path, w.Code, w.Body.String())
		}
	}
}

func TestAdmin_SetUserRoles(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	target := h.signUp(t, "target@example.com")
	path := "/api/v1/admin/users/" + target.User.ID + "/roles"

	w := h.call(t, http.MethodPut, path, setRolesRequest{Roles: []string{auth.RoleAdmin, auth.RoleUser}}, bearer(admin.AccessToken)...)
	if w.Code != http.StatusOK {
		t.Fatalf("set roles = %d, body = %s", w.Code, w.Body.String())
	}

	w = h.call(t, http.MethodPut, path, setRolesRequest{Roles: []string{auth.RoleOwner}}, bearer(admin.AccessToken)...)
	if w.Code != http.StatusForbidden {
		t.Errorf("granting owner = %d, want 403", w.Code)
	}
	w = h.call(t, http.MethodPut, path, setRolesRequest{Roles: []string{"no-such-role"}}, bearer(admin.AccessToken)...)
	if w.Code != http.StatusNotFound {
		t.Errorf("unknown role = %d, want 404", w.Code)
	}

	// The promotion is visible to live checks immediately.
	if w := h.call(t, http.MethodGet, "/api/v1/admin/users", nil, bearer(target.AccessToken)...); w.Code != http.StatusOK {
		t.Errorf("promoted user on admin route = %d, want 200", w.Code)
	}
}

// ─── Admin Roles ───────────────────────────────────────────────────

func TestAdmin_RoleLifecycle(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	hdr := bearer(admin.AccessToken)

	w := h.call(t, http.MethodPost, "/api/v1/admin/roles", createRoleRequest{
		Name:        "support",
		Permissions: []string{"admin:users:read"},
	}, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create role = %d, body = %s", w.Code, w.Body.String())
	}
	role := decode[struct {
		ID          string   `json:"id"`
		Permissions []string `json:"permissions"`
	}](t, w)
	if len(role.Permissions) != 1 {
		t.Errorf("permissions = %v", role.Permissions)
	}

	if w := h.call(t, http.MethodPost, "/api/v1/admin/roles", createRoleRequest{Name: "support"}, hdr...); w.Code != http.StatusConflict {
		t.Errorf("duplicate role = %d, want 409", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/admin/roles", createRoleRequest{Name: "ghost", Permissions: []string{"nope"}}, hdr...); w.Code != http.StatusBadRequest {
		t.Errorf("unknown permission = %d, want 400", w.Code)
	}
	if w := h.call(t, http.MethodGet, "/api/v1/admin/roles", nil, hdr...); decode[map[string]any](t, w)["count"] != float64(4) {
		t.Errorf("role count after rejected create: %s", w.Body.String())
	}

	w = h.call(t, http.MethodPut, "/api/v1/admin/roles/"+role.ID+"/permissions",
		setPermissionsRequest{Permissions: []string{"stats:read", "stats:write"}}, hdr...)
	if w.Code != http.StatusOK {
		t.Errorf("set permissions = %d", w.Code)
	}
	if w := h.call(t, http.MethodPut, "/api/v1/admin/roles/role-owner/permissions",
		setPermissionsRequest{Permissions: []string{}}, hdr...); w.Code != http.StatusForbidden {
		t.Errorf("editing owner = %d, want 403", w.Code)
	}

	if w := h.call(t, http.MethodGet, "/api/v1/admin/roles/role-admin/users", nil, hdr...); decode[map[string]any](t, w)["count"] != float64(1) {
		t.Errorf("admin members: %s", w.Body.String())
	}
	if w := h.call(t, http.MethodGet, "/api/v1/admin/permissions", nil, hdr...); w.Code != http.StatusOK {
		t.Errorf("permissions = %d", w.Code)
	}

	if w := h.call(t, http.MethodDelete, "/api/v1/admin/roles/role-user", nil, hdr...); w.Code != http.StatusForbidden {
		t.Errorf("deleting built-in = %d, want 403", w.Code)
	}
	if w := h.call(t, http.MethodDelete, "/api/v1/admin/roles/"+role.ID, nil, hdr...); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := h.call(t, http.MethodDelete, "/api/v1/admin/roles/"+role.ID, nil, hdr...); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/audit?target_type=role&target_id="+role.ID, nil, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("audit = %d", w.Code)
	}
	trail := decode[struct {
		Entries []struct {
			Action  string `json:"action"`
			ActorID string `json:"actor_id"`
		} `json:"entries"`
		Total int `json:"total"`
	}](t, w)
	if trail.Total != 3 || len(trail.Entries) != 3 {
		t.Fatalf("audit entries = %+v", trail)
	}
	if trail.Entries[0].Action != "role.delete" || trail.Entries[0].ActorID != admin.User.ID {
		t.Errorf("latest audit entry = %+v", trail.Entries[0])
	}
	if w := h.call(t, http.MethodGet, "/api/v1/admin/audit?limit=abc", nil, hdr...); w.Code != http.StatusBadRequest {
		t.Errorf("bad limit = %d, want 400", w.Code)
	}
}

func TestAdmin_RoleWritesNeedRolePermission(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	if err := h.roles.SetPermissions(context.Background(), "role-admin",
		[]string{auth.PermAdminUsersRead, auth.PermAdminUsersWrite}); err != nil {
		t.Fatalf("SetPermissions: %v", err)
	}

	w := h.call(t, http.MethodPost, "/api/v1/admin/roles", createRoleRequest{Name: "support"}, bearer(admin.AccessToken)...)
	if w.Code != http.StatusForbidden {
		t.Errorf("create role without admin:roles:write = %d, want 403", w.Code)
	}
}

func TestAdmin_UpdateRole(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	hdr := bearer(admin.AccessToken)

	w := h.call(t, http.MethodPost, "/api/v1/admin/roles", createRoleRequest{Name: "support"}, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create role = %d", w.Code)
	}
	id := decode[auth.Role](t, w).ID

	w = h.call(t, http.MethodPut, "/api/v1/admin/roles/"+id,
		updateRoleRequest{Name: "helpdesk", Description: "Front desk"}, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("update role = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[auth.Role](t, w); got.Name != "helpdesk" || got.Description != "Front desk" {
		t.Errorf("updated role = %+v", got)
	}

	tests := []struct {
		name string
		id   string
		req  updateRoleRequest
		want int
	}{
		{"owner is immutable", "role-owner", updateRoleRequest{Name: "owner", Description: "x"}, http.StatusForbidden},
		{"built-in keeps its name", "role-user", updateRoleRequest{Name: "members"}, http.StatusForbidden},
		{"name clash", id, updateRoleRequest{Name: "admin"}, http.StatusConflict},
		{"unknown role", "missing", updateRoleRequest{Name: "valid-name"}, http.StatusNotFound},
		{"invalid name", id, updateRoleRequest{Name: "x"}, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := h.call(t, http.MethodPut, "/api/v1/admin/roles/"+tt.id, tt.req, hdr...); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/audit?action=role.update", nil, hdr...)
	if got := decode[map[string]any](t, w)["total"]; got != float64(1) {
		t.Errorf("role.update audit entries = %v, want 1", got)
	}
}

func TestAdmin_PermissionCatalogue(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	user := h.signUp(t, "user@example.com")
	hdr := bearer(admin.AccessToken)

	w := h.call(t, http.MethodPost, "/api/v1/admin/permissions",
		permissionRequest{Code: "reports:export", Description: "Export reports"}, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create permission = %d, body = %s", w.Code, w.Body.String())
	}
	perm := decode[auth.PermissionDef](t, w)

	if w := h.call(t, http.MethodPost, "/api/v1/admin/permissions", permissionRequest{Code: "reports:export"}, hdr...); w.Code != http.StatusConflict {
		t.Errorf("duplicate code = %d, want 409", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/admin/permissions", permissionRequest{Code: "Bad Code"}, hdr...); w.Code != http.StatusBadRequest {
		t.Errorf("invalid code = %d, want 400", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/admin/permissions", permissionRequest{Code: "x:y"}, bearer(user.AccessToken)...); w.Code != http.StatusForbidden {
		t.Errorf("regular user create = %d, want 403", w.Code)
	}

	w = h.call(t, http.MethodPost, "/api/v1/admin/roles",
		createRoleRequest{Name: "analyst", Permissions: []string{"reports:export"}}, hdr...)
	if w.Code != http.StatusCreated {
		t.Fatalf("create role = %d, body = %s", w.Code, w.Body.String())
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/permissions/"+perm.ID+"/roles", nil, hdr...)
	holders := decode[struct {
		Roles []auth.Role `json:"roles"`
		Count int         `json:"count"`
	}](t, w)
	if holders.Count != 1 || holders.Roles[0].Name != "analyst" {
		t.Errorf("roles with permission = %+v", holders)
	}

	w = h.call(t, http.MethodPut, "/api/v1/admin/permissions/"+perm.ID, permissionRequest{Code: "reports:download"}, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("update permission = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[auth.PermissionDef](t, w); got.Code != "reports:download" {
		t.Errorf("updated code = %q", got.Code)
	}
	if w := h.call(t, http.MethodPut, "/api/v1/admin/permissions/perm-stats-write", permissionRequest{Code: "stats:put"}, hdr...); w.Code != http.StatusForbidden {
		t.Errorf("renaming a built-in code = %d, want 403", w.Code)
	}
	if w := h.call(t, http.MethodDelete, "/api/v1/admin/permissions/perm-sync-upload", nil, hdr...); w.Code != http.StatusForbidden {
		t.Errorf("deleting a built-in code = %d, want 403", w.Code)
	}

	if w := h.call(t, http.MethodDelete, "/api/v1/admin/permissions/"+perm.ID, nil, hdr...); w.Code != http.StatusNoContent {
		t.Errorf("delete = %d, want 204", w.Code)
	}
	if w := h.call(t, http.MethodDelete, "/api/v1/admin/permissions/"+perm.ID, nil, hdr...); w.Code != http.StatusNotFound {
		t.Errorf("second delete = %d, want 404", w.Code)
	}
	if w := h.call(t, http.MethodGet, "/api/v1/admin/permissions/"+perm.ID+"/roles", nil, hdr...); w.Code != http.StatusNotFound {
		t.Errorf("roles of deleted permission = %d, want 404", w.Code)
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/audit?target_type=permission", nil, hdr...)
	if got := decode[map[string]any](t, w)["total"]; got != float64(3) {
		t.Errorf("permission audit entries = %v, want 3", got)
	}
}

// ─── Access Logs and Stats ─────────────────────────────────────────

func TestAdmin_AccessLogsAndStats(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail, "X-Client-Type", "web-dashboard")
	h.signUp(t, "mac@example.com", "X-Client-Type", "macos-app")
	hdr := bearer(admin.AccessToken)

	// Flush queued entries before reading them back.
	if err := h.recorder.Close(context.Background()); err != nil {
		t.Fatalf("recorder Close: %v", err)
	}

	w := h.call(t, http.MethodGet, "/api/v1/admin/api-logs?client_source=macos-app&status_code=201", nil, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("api-logs = %d, body = %s", w.Code, w.Body.String())
	}
	logs := decode[struct {
		Logs []struct {
			Path string `json:"path"`
		} `json:"logs"`
		Total int `json:"total"`
	}](t, w)
	if logs.Total != 1 || logs.Logs[0].Path != "/api/v1/auth/register" {
		t.Errorf("filtered logs = %+v", logs)
	}

	bad := []string{"from=yesterday", "status_code=abc", "from=2026-03-02T00:00:00Z&to=2026-03-01T00:00:00Z"}
	for _, q := range bad {
		if w := h.call(t, http.MethodGet, "/api/v1/admin/api-logs?"+q, nil, hdr...); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", q, w.Code)
		}
	}

	w = h.call(t, http.MethodGet, "/api/v1/admin/stats", nil, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	stats := decode[struct {
		TotalUsers     int            `json:"total_users"`
		OnlineUsers    int            `json:"online_users"`
		OnlineBySource map[string]int `json:"online_by_source"`
	}](t, w)
	if stats.TotalUsers != 2 || stats.OnlineUsers != 2 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.OnlineBySource["macos-app"] != 1 || stats.OnlineBySource["web-dashboard"] != 1 {
		t.Errorf("online by source = %v", stats.OnlineBySource)
	}
}

// ─── Sessions ──────────────────────────────────────────────────────

func TestSessions_HeartbeatAndClose(t *testing.T) {
	h := newHarness(t)
	alice := h.signUp(t, "alice@example.com")
	bob := h.signUp(t, "bob@example.com")

	if w := h.call(t, http.MethodPost, "/api/v1/sessions/heartbeat", heartbeatRequest{SessionID: alice.SessionID}, bearer(alice.AccessToken)...); w.Code != http.StatusOK {
		t.Errorf("heartbeat = %d", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/sessions/heartbeat", heartbeatRequest{SessionID: "not-a-uuid"}, bearer(alice.AccessToken)...); w.Code != http.StatusBadRequest {
		t.Errorf("bad id = %d, want 400", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/sessions/heartbeat", heartbeatRequest{SessionID: alice.SessionID}, bearer(bob.AccessToken)...); w.Code != http.StatusNotFound {
		t.Errorf("someone else's session = %d, want 404", w.Code)
	}
	if w := h.call(t, http.MethodPost, "/api/v1/sessions/heartbeat", heartbeatRequest{SessionID: uuid.NewString()}, bearer(alice.AccessToken)...); w.Code != http.StatusNotFound {
		t.Errorf("unknown session = %d, want 404", w.Code)
	}

	w := h.call(t, http.MethodGet, "/api/v1/sessions", nil, bearer(alice.AccessToken)...)
	if decode[map[string]any](t, w)["count"] != float64(1) {
		t.Errorf("sessions = %s", w.Body.String())
	}

	w = h.call(t, http.MethodDelete, "/api/v1/sessions/"+alice.SessionID, nil, bearer(alice.AccessToken)...)
	if w.Code != http.StatusOK {
		t.Fatalf("close = %d", w.Code)
	}
	closed := decode[session.Session](t, w)
	if closed.LogoutAt == nil || closed.Duration == nil {
		t.Errorf("closed session = %+v", closed)
	}
	if w := h.call(t, http.MethodDelete, "/api/v1/sessions/"+alice.SessionID, nil, bearer(alice.AccessToken)...); w.Code != http.StatusBadRequest {
		t.Errorf("second close = %d, want 400", w.Code)
	}

	w = h.call(t, http.MethodGet, "/api/v1/users/me/stats", nil, bearer(alice.AccessToken)...)
	if w.Code != http.StatusOK {
		t.Fatalf("stats = %d", w.Code)
	}
	if got := decode[session.Stats](t, w); got.SessionCount != 1 || got.OnlineCount != 0 {
		t.Errorf("stats = %+v", got)
	}
}

func TestStats_ClientReportedOnlineTime(t *testing.T) {
	h := newHarness(t)
	alice := h.signUp(t, "alice@example.com")
	hdr := bearer(alice.AccessToken)

	w := h.call(t, http.MethodPost, "/api/v1/users/me/stats", reportStatsRequest{OnlineTime: ptr(int64(120))}, hdr...)
	if w.Code != http.StatusOK {
		t.Fatalf("report = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[session.Stats](t, w); got.TotalOnlineTime != 120 {
		t.Errorf("total_online_time = %d, want 120", got.TotalOnlineTime)
	}

	for name, body := range map[string]any{
		"negative": reportStatsRequest{OnlineTime: ptr(int64(-1))},
		"too long": reportStatsRequest{OnlineTime: ptr(int64(maxReportedOnlineTime + 1))},
		"missing":  map[string]any{},
	} {
		if w := h.call(t, http.MethodPost, "/api/v1/users/me/stats", body, hdr...); w.Code != http.StatusBadRequest {
			t.Errorf("%s = %d, want 400", name, w.Code)
		}
	}

	// stats:write is checked against the token snapshot.
	if err := h.roles.SetPermissions(context.Background(), "role-user", []string{auth.PermStatsRead}); err != nil {
		t.Fatal(err)
	}
	fresh := h.login(t, "alice@example.com")
	w = h.call(t, http.MethodPost, "/api/v1/users/me/stats", reportStatsRequest{OnlineTime: ptr(int64(5))}, bearer(fresh.AccessToken)...)
	if w.Code != http.StatusForbidden {
		t.Errorf("report without stats:write = %d, want 403", w.Code)
	}
}

func ptr[T any](v T) *T { return &v }

// ─── Client Settings ───────────────────────────────────────────────

func TestClientSettings_CompanionGate(t *testing.T) {
	h := newHarness(t)
	admin := h.signUp(t, adminEmail)
	mac := h.signUp(t, "mac@example.com", "X-Client-Type", "macos-app")
	companion := append(bearer(mac.AccessToken), "X-Client-Type", "macos-app")

	if w := h.call(t, http.MethodGet, "/api/v1/client/settings", nil, bearer(mac.AccessToken)...); w.Code != http.StatusForbidden {
		t.Errorf("without companion header = %d, want 403", w.Code)
	}
	if w := h.call(t, http.MethodGet, "/api/v1/client/settings", nil, companion...); w.Code != http.StatusOK {
		t.Fatalf("companion = %d", w.Code)
	}

	w := h.call(t, http.MethodPatch, "/api/v1/admin/users/"+mac.User.ID+"/client-access",
		map[string]bool{"client_login_enabled": false}, bearer(admin.AccessToken)...)
	if w.Code != http.StatusOK {
		t.Fatalf("client-access = %d, body = %s", w.Code, w.Body.String())
	}

	// The existing token is still valid, but the gate is closed.
	if w := h.call(t, http.MethodGet, "/api/v1/client/settings", nil, companion...); w.Code != http.StatusForbidden {
		t.Errorf("after disabling = %d, want 403", w.Code)
	}
	w = h.call(t, http.MethodPost, "/api/v1/auth/login", map[string]any{
		"email": "mac@example.com", "password": h.encrypt(t, testPassword),
	}, "X-Client-Type", "macos-app")
	if w.Code != http.StatusForbidden {
		t.Errorf("companion login after disabling = %d, want 403", w.Code)
	}
}

func TestClientSettings_VersionedPatch(t *testing.T) {
	h := newHarness(t)
	mac := h.signUp(t, "mac@example.com", "X-Client-Type", "macos-app")
	companion := append(bearer(mac.AccessToken), "X-Client-Type", "macos-app")

	w := h.call(t, http.MethodGet, "/api/v1/client/settings", nil, companion...)
	if got := decode[clientsettings.Settings](t, w); got.Version != 0 || string(got.Data) != "{}" {
		t.Errorf("initial settings = %+v", got)
	}

	w = h.call(t, http.MethodPatch, "/api/v1/client/settings",
		map[string]any{"version": 0, "settings": map[string]any{"theme": "dark"}}, companion...)
	if w.Code != http.StatusOK {
		t.Fatalf("patch = %d, body = %s", w.Code, w.Body.String())
	}
	if got := decode[clientsettings.Settings](t, w); got.Version != 1 {
		t.Errorf("version = %d, want 1", got.Version)
	}

	w = h.call(t, http.MethodPatch, "/api/v1/client/settings",
		map[string]any{"version": 0, "settings": map[string]any{"theme": "light"}}, companion...)
	if w.Code != http.StatusConflict || errorCode(t, w) != ErrCodeVersionConflict {
		t.Errorf("stale patch = %d %s, want 409 version_conflict", w.Code, w.Body.String())
	}

	w = h.call(t, http.MethodPatch, "/api/v1/client/settings",
		map[string]any{"version": 1, "settings": []int{1}}, companion...)
	if w.Code != http.StatusBadRequest {
		t.Errorf("non-object patch = %d, want 400", w.Code)
	}
	w = h.call(t, http.MethodPatch, "/api/v1/client/settings",
		map[string]any{"settings": map[string]any{}}, companion...)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing version = %d, want 400", w.Code)
	}
}

func TestClientSettings_SyncPermissions(t *testing.T) {
	h := newHarness(t)
	h.signUp(t, "mac@example.com", "X-Client-Type", "macos-app")

	if err := h.roles.SetPermissions(context.Background(), "role-user", []string{auth.PermSyncUpload}); err != nil {
		t.Fatal(err)
	}
	fresh := h.login(t, "mac@example.com", "X-Client-Type", "macos-app")
	companion := append(bearer(fresh.AccessToken), "X-Client-Type", "macos-app")

	if w := h.call(t, http.MethodGet, "/api/v1/client/settings", nil, companion...); w.Code != http.StatusForbidden {
		t.Errorf("read without sync:download = %d, want 403", w.Code)
	}
	w := h.call(t, http.MethodPatch, "/api/v1/client/settings",
		map[string]any{"version": 0, "settings": map[string]any{"theme": "dark"}}, companion...)
	if w.Code != http.StatusOK {
		t.Errorf("write with sync:upload = %d, body = %s", w.Code, w.Body.String())
	}
}
