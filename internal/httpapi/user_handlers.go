package httpapi

import (
	"net/http"

	"fleetdesk.org/internal/auth"
)

type createUserRequest struct {
	OrganizationID string `json:"organizationId"`
	BusinessUnitID string `json:"businessUnitId"`
	DepartmentID   string `json:"departmentId"`
	Email          string `json:"email" validate:"required,email,max=254"`
	Password       string `json:"password" validate:"required,min=8,max=72"`
	FirstName      string `json:"firstName" validate:"required,max=100"`
	LastName       string `json:"lastName" validate:"max=100"`
	Phone          string `json:"phone" validate:"max=32"`
	Status         string `json:"status" validate:"omitempty,oneof=active inactive suspended pending"`
}

type updateStatusRequest struct {
	Status string `json:"status" validate:"required,oneof=active inactive suspended pending"`
}

func (a *API) createUser(w http.ResponseWriter, r *http.Request) {
	var req createUserRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	user, err := a.users.CreateUser(r.Context(), auth.NewUser{
		OrganizationID: req.OrganizationID,
		BusinessUnitID: req.BusinessUnitID,
		DepartmentID:   req.DepartmentID,
		Email:          req.Email,
		Password:       req.Password,
		FirstName:      req.FirstName,
		LastName:       req.LastName,
		Phone:          req.Phone,
		Status:         req.Status,
	})
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	w.Header().Set("Location", APIPrefix+"/users/"+user.ID)
	writeData(w, http.StatusCreated, user)
}

func (a *API) updateUserStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	user, err := a.users.UpdateStatus(r.Context(), r.PathValue("id"), req.Status)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, user)
}

func (a *API) deleteUser(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := a.users.DeleteUser(r.Context(), id); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"id": id, "deleted": true})
}

func (a *API) userPermissions(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := a.users.GetUser(r.Context(), id); err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	codes, err := a.perms.GetEffectivePermissions(r.Context(), id)
	if err != nil {
		a.errors.writeError(w, r, err)
		return
	}
	writeData(w, http.StatusOK, map[string]any{"userId": id, "permissions": codes})
}
