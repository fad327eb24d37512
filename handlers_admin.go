package main

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
)

// HandleAdminRegister creates an administrator account
// POST /api/admin/register
func (a *App) HandleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var in struct{ Username, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Username == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Username and password required")
		return
	}

	hashed, err := hashPassword(in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	_, err = a.DB.CreateAdmin(in.Username, hashed)
	if errors.Is(err, ErrDuplicate) {
		writeError(w, http.StatusBadRequest, "ADMIN_EXISTS", "Username already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create admin")
		return
	}
	writeMessage(w, http.StatusCreated, "Admin registered successfully")
}

// HandleAdminLogin authenticates an administrator by username
// POST /api/admin/login
func (a *App) HandleAdminLogin(w http.ResponseWriter, r *http.Request) {
	var in struct{ Username, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	admin, err := a.DB.GetAdminByUsername(in.Username)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up admin")
		return
	}
	if admin == nil {
		writeError(w, http.StatusNotFound, "ADMIN_NOT_FOUND", "Admin not found")
		return
	}
	if !comparePassword(admin.Password, in.Password) {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid credentials")
		return
	}

	token, err := createAdminToken(admin)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"admin": map[string]interface{}{
			"id":       admin.ID,
			"username": admin.Username,
		},
	})
}

// HandleAdminListUsers lists all user accounts
// GET /api/admin/users
func (a *App) HandleAdminListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := a.DB.ListUsers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list users")
		return
	}
	out := make([]map[string]interface{}, 0, len(users))
	for _, u := range users {
		out = append(out, map[string]interface{}{
			"id":       u.ID,
			"username": u.Username,
			"email":    u.Email,
		})
	}
	writeJSON(w, http.StatusOK, out)
}

// HandleAdminUpdateUser updates a user's details by id
// PATCH /api/admin/users/{id}
func (a *App) HandleAdminUpdateUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user ID")
		return
	}
	var in struct{ Username, Email string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Username == "" && in.Email == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "No fields to update")
		return
	}
	err = a.DB.UpdateUserDetails(id, in.Username, in.Email)
	if errors.Is(err, ErrDuplicate) {
		writeError(w, http.StatusBadRequest, "USER_EXISTS", "Username or email already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update user details")
		return
	}
	writeMessage(w, http.StatusOK, "User details updated successfully")
}

// HandleAdminDeleteUser removes a user row entirely, unlike self-service
// deactivation which only clears is_active
// DELETE /api/admin/users/{id}
func (a *App) HandleAdminDeleteUser(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user ID")
		return
	}
	if err := a.DB.DeleteUser(id); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to delete user")
		return
	}
	writeMessage(w, http.StatusOK, "User deleted successfully")
}
