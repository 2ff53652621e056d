package middleware

import (
	"context"
	"net/http"

	"github.com/sardorbek21324/Home/database"
	"github.com/sardorbek21324/Home/models"
	"github.com/sardorbek21324/Home/utils"
)

// AdminAuthMiddleware verifies that the request carries a valid admin token
// and that the admin is still active.
func AdminAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		tokenString, err := utils.BearerToken(r)
		if err != nil {
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
				Success: false,
				Message: "Unauthorized: No token provided",
			})
			return
		}

		claims, err := utils.ValidateAdminToken(tokenString)
		if err != nil {
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
				Success: false,
				Message: "Unauthorized: Invalid token",
			})
			return
		}

		var adminID uint
		if rawID, ok := claims["id"].(float64); ok {
			adminID = uint(rawID)
		}

		var admin models.Admin
		if err := database.DB.First(&admin, adminID).Error; err != nil {
			utils.WriteJSON(w, http.StatusUnauthorized, utils.APIResponse{
				Success: false,
				Message: "Unauthorized: Admin not found",
			})
			return
		}
		if !admin.IsActive {
			utils.WriteJSON(w, http.StatusForbidden, utils.APIResponse{
				Success: false,
				Message: "Forbidden",
			})
			return
		}

		ctx := context.WithValue(r.Context(), utils.AdminIDKey, uint(admin.ID))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
