package api

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/gray-logic-identity/internal/accesslog"
	"github.com/nerrad567/gray-logic-identity/internal/audit"
	"github.com/nerrad567/gray-logic-identity/internal/auth"
	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/logging"
	"github.com/nerrad567/gray-logic-identity/internal/session"
)

// Admin listing limits.
const (
	defaultPageSize    = 20
	maxPageSize        = 100
	recentSessionLimit = 10
	statsWindowDays    = 7
)

// listParams are the optional query parameters shared by admin listings.
type listParams struct {
	Page   *int
	Limit  *int
	Source *string
	Search *string
}

func bindListParams(q url.Values) (listParams, error) {
	var p listParams
	for name, dest := range map[string]any{
		"page":   &p.Page,
		"limit":  &p.Limit,
		"source": &p.Source,
		"search": &p.Search,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dest); err != nil {
			return p, fmt.Errorf("invalid %s parameter", name)
		}
	}
	return p, nil
}

func (p listParams) pagination() (page, perPage int, err error) {
	page, perPage = 1, defaultPageSize
	if p.Page != nil {
		if *p.Page < 1 {
			return 0, 0, fmt.Errorf("page must be at least 1")
		}
		page = *p.Page
	}
	if p.Limit != nil {
		if *p.Limit < 1 || *p.Limit > maxPageSize {
			return 0, 0, fmt.Errorf("limit must be between 1 and %d", maxPageSize)
		}
		perPage = *p.Limit
	}
	return page, perPage, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(*s)
}

// handleAdminListUsers pages through accounts, newest first.
func (s *Server) handleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	params, err := bindListParams(r.URL.Query())
	if err != nil {
		writeValidation(w, err.Error())
		return
	}
	page, perPage, err := params.pagination()
	if err != nil {
		writeValidation(w, err.Error())
		return
	}

	users, total, err := s.users.List(r.Context(), auth.UserFilter{
		Search:  deref(params.Search),
		Source:  deref(params.Source),
		Page:    page,
		PerPage: perPage,
	})
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"users":    users,
		"total":    total,
		"page":     page,
		"per_page": perPage,
	})
}

// handleAdminGetUser returns an account with its roles, live permissions and
// most recent sessions.
func (s *Server) handleAdminGetUser(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	ctx := r.Context()

	user, err := s.users.GetByID(ctx, id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	var (
		roles    []string
		perms    []string
		sessions []session.Session
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		roles, err = s.roles.RoleNamesForUser(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		perms, err = s.roles.PermissionsForUser(gctx, id)
		return err
	})
	g.Go(func() (err error) {
		sessions, err = s.sessions.ListRecent(gctx, id, recentSessionLimit)
		return err
	})
	if err := g.Wait(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"user":            user,
		"roles":           roles,
		"permissions":     perms,
		"recent_sessions": sessions,
	})
}

func (s *Server) handleAdminUserSessions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := s.users.GetByID(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	list, err := s.sessions.List(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"sessions": list,
		"count":    len(list),
	})
}

type setRolesRequest struct {
	Roles []string `json:"roles"`
}

// handleAdminSetUserRoles replaces an account's role memberships. The owner
// role can be neither granted nor removed here.
func (s *Server) handleAdminSetUserRoles(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setRolesRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Roles == nil {
		writeValidation(w, "roles is required")
		return
	}

	if err := s.roles.SetUserRoles(r.Context(), id, req.Roles); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	roles, err := s.roles.RoleNamesForUser(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	p, _ := principalFromContext(r.Context())
	logging.FromContext(r.Context(), s.logger).Info("user roles changed",
		"target_user_id", id, "roles", roles, "by", p.UserID)
	s.recordAudit(r, audit.ActionUserRolesSet, audit.TargetUser, id, map[string]any{"roles": roles})
	writeJSON(w, http.StatusOK, map[string]any{"user_id": id, "roles": roles})
}

type clientAccessRequest struct {
	Enabled *bool `json:"client_login_enabled"`
}

// handleAdminSetClientAccess opens or closes the companion gate for an
// account. It takes effect on the next request, whatever tokens are out.
func (s *Server) handleAdminSetClientAccess(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req clientAccessRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Enabled == nil {
		writeValidation(w, "client_login_enabled is required")
		return
	}

	if err := s.users.SetClientLoginEnabled(r.Context(), id, *req.Enabled); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionUserClientAccess, audit.TargetUser, id,
		map[string]any{"client_login_enabled": *req.Enabled})

	user, err := s.users.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

func (s *Server) handleAdminListRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.List(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

type createRoleRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
}

// handleAdminCreateRole creates a custom role, optionally with grants.
func (s *Server) handleAdminCreateRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !auth.IsValidUsername(req.Name) {
		writeValidation(w, "name must be 3-100 letters, digits, hyphens or underscores")
		return
	}
	if tooLong(req.Description) {
		writeValidation(w, "description is too long")
		return
	}

	role := &auth.Role{Name: req.Name, Description: req.Description}
	if err := s.roles.Create(r.Context(), role); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if len(req.Permissions) > 0 {
		if err := s.roles.SetPermissions(r.Context(), role.ID, req.Permissions); err != nil {
			// Leave no half-made role behind.
			if delErr := s.roles.Delete(r.Context(), role.ID); delErr != nil {
				logging.FromContext(r.Context(), s.logger).Warn("removing role after failed grant",
					"role_id", role.ID, "error", delErr)
			}
			s.writeServiceError(w, r, err)
			return
		}
	}

	created, err := s.roles.GetByID(r.Context(), role.ID)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionRoleCreated, audit.TargetRole, created.ID,
		map[string]any{"name": created.Name, "permissions": created.Permissions})
	writeJSON(w, http.StatusCreated, created)
}

type updateRoleRequest struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
}

// handleAdminUpdateRole renames a role or replaces its description.
func (s *Server) handleAdminUpdateRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateRoleRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if !auth.IsValidUsername(req.Name) {
		writeValidation(w, "name must be 3-100 letters, digits, hyphens or underscores")
		return
	}
	if tooLong(req.Description) {
		writeValidation(w, "description is too long")
		return
	}

	if err := s.roles.Update(r.Context(), &auth.Role{ID: id, Name: req.Name, Description: req.Description}); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	role, err := s.roles.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionRoleUpdated, audit.TargetRole, role.ID,
		map[string]any{"name": role.Name, "description": role.Description})
	writeJSON(w, http.StatusOK, role)
}

type setPermissionsRequest struct {
	Permissions []string `json:"permissions"`
}

func (s *Server) handleAdminSetRolePermissions(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req setPermissionsRequest
	if err := decodeJSON(r, &req, false); err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if req.Permissions == nil {
		writeValidation(w, "permissions is required")
		return
	}

	if err := s.roles.SetPermissions(r.Context(), id, req.Permissions); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	role, err := s.roles.GetByID(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.FromContext(r.Context(), s.logger).Info("role permissions changed",
		"role", role.Name, "permissions", role.Permissions)
	s.recordAudit(r, audit.ActionRolePermissionSet, audit.TargetRole, role.ID,
		map[string]any{"name": role.Name, "permissions": role.Permissions})
	writeJSON(w, http.StatusOK, role)
}

func (s *Server) handleAdminDeleteRole(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.roles.Delete(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionRoleDeleted, audit.TargetRole, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminRoleUsers(w http.ResponseWriter, r *http.Request) {
	users, err := s.roles.UsersInRole(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"users": users, "count": len(users)})
}

func (s *Server) handleAdminListPermissions(w http.ResponseWriter, r *http.Request) {
	perms, err := s.roles.ListPermissions(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"permissions": perms})
}

type permissionRequest struct {
	Code        string `json:"code"`
	Description string `json:"description,omitempty"`
}

func decodePermission(r *http.Request) (*auth.PermissionDef, string, error) {
	var req permissionRequest
	if err := decodeJSON(r, &req, false); err != nil {
		return nil, "", err
	}
	code := strings.TrimSpace(req.Code)
	switch {
	case !auth.IsValidPermissionCode(code):
		return nil, "code must be lowercase segments joined by ':', '.', '_' or '-'", nil
	case tooLong(req.Description):
		return nil, "description is too long", nil
	}
	return &auth.PermissionDef{Code: code, Description: strings.TrimSpace(req.Description)}, "", nil
}

// handleAdminCreatePermission adds a code to the catalogue.
func (s *Server) handleAdminCreatePermission(w http.ResponseWriter, r *http.Request) {
	perm, problem, err := decodePermission(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if problem != "" {
		writeValidation(w, problem)
		return
	}

	if err := s.roles.CreatePermission(r.Context(), perm); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionPermissionCreated, audit.TargetPermission, perm.ID,
		map[string]any{"code": perm.Code})
	writeJSON(w, http.StatusCreated, perm)
}

// handleAdminUpdatePermission renames a custom code or redescribes any code.
func (s *Server) handleAdminUpdatePermission(w http.ResponseWriter, r *http.Request) {
	perm, problem, err := decodePermission(r)
	if err != nil {
		writeBadRequest(w, err.Error())
		return
	}
	if problem != "" {
		writeValidation(w, problem)
		return
	}
	perm.ID = chi.URLParam(r, "id")

	if err := s.roles.UpdatePermission(r.Context(), perm); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	logging.FromContext(r.Context(), s.logger).Info("permission changed", "id", perm.ID, "code", perm.Code)
	s.recordAudit(r, audit.ActionPermissionUpdated, audit.TargetPermission, perm.ID,
		map[string]any{"code": perm.Code, "description": perm.Description})
	writeJSON(w, http.StatusOK, perm)
}

func (s *Server) handleAdminDeletePermission(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.roles.DeletePermission(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	s.recordAudit(r, audit.ActionPermissionDeleted, audit.TargetPermission, id, nil)
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleAdminPermissionRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := s.roles.RolesWithPermission(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"roles": roles, "count": len(roles)})
}

// logParams are the query parameters of the access log listing.
type logParams struct {
	Page         *int
	Limit        *int
	ClientSource *string
	StatusCode   *int
	UserID       *string
	From         *time.Time
	To           *time.Time
}

func bindLogParams(q url.Values) (accesslog.Filter, error) {
	var p logParams
	for name, dest := range map[string]any{
		"page":          &p.Page,
		"limit":         &p.Limit,
		"client_source": &p.ClientSource,
		"status_code":   &p.StatusCode,
		"user_id":       &p.UserID,
		"from":          &p.From,
		"to":            &p.To,
	} {
		if err := runtime.BindQueryParameter("form", true, false, name, q, dest); err != nil {
			return accesslog.Filter{}, fmt.Errorf("invalid %s parameter", name)
		}
	}

	page, perPage, err := listParams{Page: p.Page, Limit: p.Limit}.pagination()
	if err != nil {
		return accesslog.Filter{}, err
	}
	f := accesslog.Filter{
		ClientSource: deref(p.ClientSource),
		UserID:       deref(p.UserID),
		Page:         page,
		PerPage:      perPage,
	}
	if p.StatusCode != nil {
		f.StatusCode = *p.StatusCode
	}
	if p.From != nil {
		f.From = p.From.UTC()
	}
	if p.To != nil {
		f.To = p.To.UTC()
	}
	if !f.From.IsZero() && !f.To.IsZero() && !f.From.Before(f.To) {
		return accesslog.Filter{}, fmt.Errorf("from must be before to")
	}
	return f, nil
}

func (s *Server) handleAdminAccessLogs(w http.ResponseWriter, r *http.Request) {
	if s.accessLogs == nil {
		writeJSON(w, http.StatusOK, accesslog.ListResult{Logs: []accesslog.Entry{}, Page: 1, PerPage: defaultPageSize})
		return
	}
	f, err := bindLogParams(r.URL.Query())
	if err != nil {
		writeValidation(w, err.Error())
		return
	}
	res, err := s.accessLogs.List(r.Context(), f)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// handleAdminStats reports account totals, who is online by client source
// and a week of daily request counts.
func (s *Server) handleAdminStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	since := time.Now().UTC().Truncate(24*time.Hour).AddDate(0, 0, -(statsWindowDays - 1))

	var (
		users  int
		online map[string]int
		daily  = []accesslog.DailyCount{}
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() (err error) {
		users, err = s.users.Count(gctx)
		return err
	})
	g.Go(func() (err error) {
		online, err = s.sessions.OnlineBySource(gctx)
		return err
	})
	if s.accessLogs != nil {
		g.Go(func() (err error) {
			daily, err = s.accessLogs.DailyCounts(gctx, since)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		s.writeServiceError(w, r, err)
		return
	}

	total := 0
	for _, n := range online {
		total += n
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total_users":      users,
		"online_users":     total,
		"online_by_source": online,
		"daily_requests":   daily,
		"since":            since,
	})
}
