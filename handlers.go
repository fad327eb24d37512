package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"
)

func (a *App) HandleRegister(w http.ResponseWriter, r *http.Request) {
	var in struct{ Username, Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.Username == "" || in.Email == "" || in.Password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "All fields are required")
		return
	}

	hashed, err := hashPassword(in.Password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	_, err = a.DB.CreateUser(in.Username, in.Email, hashed)
	if errors.Is(err, ErrDuplicate) {
		writeError(w, http.StatusBadRequest, "USER_EXISTS", "Username or email already exists")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create user")
		return
	}
	writeMessage(w, http.StatusCreated, "User registered successfully")
}

func (a *App) HandleLogin(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email, Password string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	user, err := a.DB.GetUserByEmail(in.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if !comparePassword(user.Password, in.Password) {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Invalid credentials")
		return
	}

	token, err := createUserToken(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to issue token")
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"token": token,
		"user": map[string]interface{}{
			"id":       user.ID,
			"email":    user.Email,
			"username": user.Username,
		},
	})
}

func (a *App) HandleForgotPassword(w http.ResponseWriter, r *http.Request) {
	var in struct{ Email string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	user, err := a.DB.GetUserByEmail(in.Email)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if user == nil {
		if a.RevealUnknownEmail {
			writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User with this email does not exist")
			return
		}
		// hide account existence: answer as if a mail went out
		writeMessage(w, http.StatusOK, "Password reset link sent to your email")
		return
	}

	secret, err := a.startPasswordReset(user)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to start password reset")
		return
	}
	go a.sendResetEmail(user, secret)

	writeMessage(w, http.StatusOK, "Password reset link sent to your email")
}

var resetFormTmpl = template.Must(template.New("reset").Parse(
	`<form action="/api/users/reset-password" method="POST">
  <input type="hidden" name="id" value="{{.ID}}">
  <input type="hidden" name="token" value="{{.Token}}">
  New Password: <input type="password" name="password" required>
  <button type="submit">Reset Password</button>
</form>
`))

func (a *App) HandleResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	token := r.URL.Query().Get("token")
	idStr := r.URL.Query().Get("id")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user ID")
		return
	}
	user, err := a.verifyResetSecret(id, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to verify reset token")
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired reset token")
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	resetFormTmpl.Execute(w, map[string]string{"ID": idStr, "Token": token})
}

func (a *App) HandleResetPassword(w http.ResponseWriter, r *http.Request) {
	var idStr, token, password string
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var in struct {
			ID       interface{} // clients send the id as number or string
			Token    string
			Password string
		}
		dec := json.NewDecoder(r.Body)
		dec.UseNumber()
		if err := dec.Decode(&in); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
		idStr, token, password = fmt.Sprint(in.ID), in.Token, in.Password
	} else {
		// the HTML form posts urlencoded
		if err := r.ParseForm(); err != nil {
			writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
			return
		}
		idStr = r.PostFormValue("id")
		token = r.PostFormValue("token")
		password = r.PostFormValue("password")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid user ID")
		return
	}
	if password == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Password is required")
		return
	}

	user, err := a.verifyResetSecret(id, token)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to verify reset token")
		return
	}
	if user == nil {
		writeError(w, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired reset token")
		return
	}

	hashed, err := hashPassword(password)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	// conditional write: only succeeds while the verified hash is still the
	// stored one, so a racing second consumer loses
	ok, err := a.DB.ConsumePasswordReset(id, *user.ResetToken, hashed)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to reset password")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "INVALID_RESET_TOKEN", "Invalid or expired reset token")
		return
	}
	writeMessage(w, http.StatusOK, "Password reset successfully")
}

func (a *App) HandleDeactivate(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Token required")
		return
	}
	if err := a.DB.DeactivateUser(ident.ID); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to deactivate account")
		return
	}
	writeMessage(w, http.StatusOK, "User account deactivated successfully")
}

func (a *App) HandleUpdateDetails(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Token required")
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
	err := a.DB.UpdateUserDetails(ident.ID, in.Username, in.Email)
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

func (a *App) HandleUpdatePassword(w http.ResponseWriter, r *http.Request) {
	ident, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "MISSING_TOKEN", "Token required")
		return
	}
	var in struct{ OldPassword, NewPassword string }
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid request body")
		return
	}
	if in.OldPassword == "" || in.NewPassword == "" {
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "Old and new passwords are required")
		return
	}

	user, err := a.DB.GetUserByID(ident.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to look up user")
		return
	}
	if user == nil {
		writeError(w, http.StatusNotFound, "USER_NOT_FOUND", "User not found")
		return
	}
	if !comparePassword(user.Password, in.OldPassword) {
		writeError(w, http.StatusBadRequest, "INVALID_CREDENTIALS", "Old password is incorrect")
		return
	}

	hashed, err := hashPassword(in.NewPassword)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to process password")
		return
	}
	if err := a.DB.UpdateUserPassword(ident.ID, hashed); err != nil {
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to update password")
		return
	}
	writeMessage(w, http.StatusOK, "Password updated successfully")
}
