// Package admins serves the operator HTTP API: authentication, the chore
// catalog, manual scheduling actions and the scoring views.
package admins

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/sardorbek21324/Home/database"
	"github.com/sardorbek21324/Home/middleware"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/utils"
)

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// POST /admin/login
func Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		utils.WriteJSON(w, http.StatusBadRequest, utils.APIResponse{
			Success: false,
			Message: "Invalid JSON body",
		})
		return
	}

	var admin models.Admin
	if err := database.DB.Where("username = ?", req.Username).First(&admin).Error; err != nil {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Wrong username or password",
		})
		return
	}

	if locked, ttl := middleware.IsAccountLocked(uint(admin.ID)); locked {
		utils.WriteJSON(w, http.StatusTooManyRequests, utils.APIResponse{
			Success: false,
			Message: "Account temporarily locked",
			Data:    map[string]interface{}{"retry_after_seconds": int(ttl.Seconds())},
		})
		return
	}

	if !admin.ValidatePassword(req.Password) || !admin.IsActive {
		middleware.RecordFailedLogin(uint(admin.ID))
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
			Success: false,
			Message: "Wrong username or password",
		})
		return
	}
	middleware.ResetFailedLogin(uint(admin.ID))

	token, err := utils.GenerateAdminToken(uint(admin.ID), admin.Username)
	if err != nil {
		utils.WriteJSON(w, http.StatusInternalServerError, utils.APIResponse{
			Success: false,
			Message: "Failed to issue token",
		})
		return
	}

	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{
		Success: true,
		Message: "Logged in",
		Data: map[string]interface{}{
			"token": token,
			"admin": admin,
		},
	})
}

// POST /admin/logout revokes the current token's jti until its natural expiry.
func Logout(w http.ResponseWriter, r *http.Request) {
	tokenString, err := utils.BearerToken(r)
	if err != nil {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	claims, err := utils.ValidateAdminToken(tokenString)
	if err != nil {
		utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{Success: false, Message: "Unauthorized"})
		return
	}
	jti, _ := claims["jti"].(string)
	ttl := time.Hour
	if exp, err := claims.GetExpirationTime(); err == nil && exp != nil {
		if rem := time.Until(exp.Time); rem > 0 {
			ttl = rem
		}
	}
	if err := utils.RevokeJTI(jti, ttl); err != nil {
		// Without a revocation store the token simply runs out its expiry.
		utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Logged out (token expires naturally)"})
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.APIResponse{Success: true, Message: "Logged out"})
}
