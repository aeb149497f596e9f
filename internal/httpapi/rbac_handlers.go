package httpapi

import (
	"net/http"
	"sort"

	"fleetdesk.org/internal/auth"
)

type replaceGrantsRequest struct {
	RoleID        string   `json:"roleId" validate:"required"`
	PermissionIDs []string `json:"permissionIds" validate:"dive,required"`
}

type createPermissionRequest struct {
	Code        string `json:"code" validate:"required,max=64"`
	Name        string `json:"name" validate:"required,max=200"`
	Module      string `json:"module" validate:"max=64"`
	Description string `json:"description" validate:"max=1000"`
}

type createRoleRequest struct {
	OrganizationID string `json:"organizationId"`
	Name           string `json:"name" validate:"required,max=200"`
	Code           string `json:"code" validate:"required,max=64"`
	Description    string `json:"description" validate:"max=1000"`
}

type updateRoleRequest struct {
	Name        *string `json:"name" validate:"omitempty,min=1,max=200"`
	Description *string `json:"description" validate:"omitempty,max=1000"`
}

type assignRoleRequest struct {
	RoleID string `json:"roleId" validate:"required"`
}

func (a *API) getMatrix(w http.ResponseWriter, r *http.Request) {
	m, err := a.perms.GetPermissionMatrix(r.Context())
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, m)
}

func (a *API) putMatrix(w http.ResponseWriter, r *http.Request) {
	var req replaceGrantsRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	if err := a.perms.ReplaceRoleGrants(r.Context(), req.RoleID, req.PermissionIDs); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	granted := dedupeSorted(req.PermissionIDs)
	writeData(w, http.StatusOK, map[string]any{"id": req.RoleID, "permissionIds": granted})
}

func (a *API) createPermission(w http.ResponseWriter, r *http.Request) {
	var req createPermissionRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	p, err := a.perms.CreatePermission(r.Context(), req.Code, req.Name, req.Module, req.Description)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/permissions/"+p.ID)
	writeData(w, http.StatusCreated, p)
}

func (a *API) listRoles(w http.ResponseWriter, r *http.Request) {
	roles, err := a.perms.ListRoles(r.Context())
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, roles)
}

func (a *API) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	role, err := a.perms.CreateRole(r.Context(), req.OrganizationID, req.Name, req.Code, req.Description)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/roles/"+role.ID)
	writeData(w, http.StatusCreated, role)
}

func (a *API) updateRole(w http.ResponseWriter, r *http.Request) {
	var req updateRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	role, err := a.perms.UpdateRole(r.Context(), r.PathValue("id"), auth.RoleUpdate{Name: req.Name, Description: req.Description})
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, role)
}

func (a *API) deleteRole(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.perms.DeleteRole(r.Context(), id); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (a *API) assignRole(w http.ResponseWriter, r *http.Request) {
	var req assignRoleRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	assignment, err := a.perms.AssignRole(r.Context(), r.PathValue("userId"), req.RoleID)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusCreated, assignment)
}

func (a *API) removeRole(w http.ResponseWriter, r *http.Request) {
	userID, roleID := r.PathValue("userId"), r.PathValue("roleId")
	if err := a.perms.RemoveRole(r.Context(), userID, roleID); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"userId": userID, "roleId": roleID, "removed": true})
}

func dedupeSorted(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
