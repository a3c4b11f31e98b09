package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
	log "github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"

	"fleet-tracker/internal/database"
	"fleet-tracker/internal/models"
)

// tokenTTL is how long a login stays valid
const tokenTTL = 7 * 24 * time.Hour

// UserStore looks up accounts
type UserStore interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type LoginResponse struct {
	OK    bool                 `json:"ok"`
	Token string               `json:"token,omitempty"`
	User  *models.UserResponse `json:"user,omitempty"`
	Error string               `json:"error,omitempty"`
}

func writeLogin(w http.ResponseWriter, status int, resp LoginResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(resp)
}

// Login exchanges email and password for a signed token
func Login(users UserStore, jwtSecret string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req LoginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
			writeLogin(w, http.StatusBadRequest, LoginResponse{Error: "Invalid request body"})
			return
		}

		user, err := users.GetByEmail(r.Context(), req.Email)
		if err != nil {
			if !errors.Is(err, database.ErrUserNotFound) {
				log.Printf("❌ Error loading user %s: %v", req.Email, err)
				writeLogin(w, http.StatusInternalServerError, LoginResponse{Error: "Database error"})
				return
			}
			log.Printf("❌ User not found: %s", req.Email)
			writeLogin(w, http.StatusUnauthorized, LoginResponse{Error: "Invalid credentials"})
			return
		}

		if err := bcrypt.CompareHashAndPassword([]byte(user.Password), []byte(req.Password)); err != nil {
			log.Printf("❌ Invalid password for: %s", req.Email)
			writeLogin(w, http.StatusUnauthorized, LoginResponse{Error: "Invalid credentials"})
			return
		}

		now := time.Now()
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
			"user_id": user.ID,
			"email":   user.Email,
			"role":    user.Role,
			"iat":     now.Unix(),
			"exp":     now.Add(tokenTTL).Unix(),
		})

		tokenString, err := token.SignedString([]byte(jwtSecret))
		if err != nil {
			log.Printf("❌ Failed to create token: %v", err)
			writeLogin(w, http.StatusInternalServerError, LoginResponse{Error: "Failed to create token"})
			return
		}

		userResponse := user.ToUserResponse()
		log.Printf("✅ Login successful: %s (%s)", user.Email, user.Role)
		writeLogin(w, http.StatusOK, LoginResponse{
			OK:    true,
			Token: tokenString,
			User:  &userResponse,
		})
	}
}
