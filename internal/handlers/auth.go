package handlers

import (
	"context"
	"errors"
	"net"
	"net/http"
	"time"
	"unicode"

	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/handlers/render"
	"github.com/nkiryanov/identity/internal/handlers/userctx"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/service/auth"
	"github.com/nkiryanov/identity/internal/service/auth/tokenmanager"
)

// Auth service the handlers need
type AuthService interface {
	// Register user with the default role
	// Has to return apperrors.ErrEmailAlreadyRegistered if the email is taken
	Register(ctx context.Context, p auth.RegisterParams) (models.User, error)

	// Login user with email and password
	// Has to return apperrors.ErrInvalidCredentials for unknown email and wrong
	// password alike, apperrors.ErrAccountInactive for blocked accounts
	Login(ctx context.Context, email string, password string, device tokenmanager.DeviceContext) (models.User, models.TokenPair, error)

	// Rotate refresh token
	// Rejections: apperrors.ErrRefreshTokenNotFound, ErrRefreshTokenRevoked,
	// ErrRefreshTokenExpired, ErrAccountInactive
	Refresh(ctx context.Context, refresh string, device tokenmanager.DeviceContext) (models.User, models.TokenPair, error)

	// Revoke the presented refresh token of the requesting user
	Logout(ctx context.Context, refresh string, userID uuid.UUID) error

	// Lifetime of issued access tokens, reported as expiresIn
	AccessTokenTTL() time.Duration
}

type AuthHandler struct {
	auth AuthService
}

func NewAuth(auth AuthService) *AuthHandler {
	return &AuthHandler{auth: auth}
}

type tokensResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int64  `json:"expiresIn"` // seconds until access token expires
}

type authResponse struct {
	User   models.PublicUser `json:"user"`
	Tokens tokensResponse    `json:"tokens"`
}

func (h *AuthHandler) authResponse(user models.User, pair models.TokenPair) authResponse {
	return authResponse{
		User: user.Public(),
		Tokens: tokensResponse{
			AccessToken:  pair.Access.Value,
			RefreshToken: pair.Refresh.Value,
			ExpiresIn:    int64(h.auth.AccessTokenTTL().Seconds()),
		},
	}
}

// deviceContext extracts client ip and device string passed along with login and refresh
func deviceContext(r *http.Request) tokenmanager.DeviceContext {
	ip := r.RemoteAddr
	if host, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		ip = host
	}

	return tokenmanager.DeviceContext{
		IPAddress:  ip,
		DeviceInfo: r.UserAgent(),
	}
}

// validPassword checks the complexity rule struct tags can not express:
// at least one lowercase letter, one uppercase letter and one digit
func validPassword(password string) bool {
	var hasLower, hasUpper, hasDigit bool
	for _, r := range password {
		switch {
		case unicode.IsLower(r):
			hasLower = true
		case unicode.IsUpper(r):
			hasUpper = true
		case unicode.IsDigit(r):
			hasDigit = true
		}
	}
	return hasLower && hasUpper && hasDigit
}

const passwordComplexityMessage = "Password must contain at least one uppercase letter, one lowercase letter, and one number"

func (h *AuthHandler) register(w http.ResponseWriter, r *http.Request) {
	type RegisterRequest struct {
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=8,max=72"`
		FirstName   string `json:"firstName" validate:"omitempty,max=100"`
		LastName    string `json:"lastName" validate:"omitempty,max=100"`
		PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	}

	data, err := render.BindAndValidate[RegisterRequest](w, r)
	if err != nil {
		return
	}

	if !validPassword(data.Password) {
		render.FieldError(w, "password", passwordComplexityMessage)
		return
	}

	user, err := h.auth.Register(r.Context(), auth.RegisterParams{
		Email:       data.Email,
		Password:    data.Password,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		PhoneNumber: data.PhoneNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrEmailAlreadyRegistered):
			render.ServiceError(w, "Email already registered", http.StatusConflict)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSONWithStatus(w, user.Public(), http.StatusCreated)
}

func (h *AuthHandler) login(w http.ResponseWriter, r *http.Request) {
	type LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	data, err := render.BindAndValidate[LoginRequest](w, r)
	if err != nil {
		return
	}

	user, pair, err := h.auth.Login(r.Context(), data.Email, data.Password, deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrInvalidCredentials):
			render.ServiceError(w, "Invalid email or password", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "Account is deactivated", http.StatusUnauthorized)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, h.authResponse(user, pair))
}

func (h *AuthHandler) refresh(w http.ResponseWriter, r *http.Request) {
	type RefreshRequest struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}

	data, err := render.BindAndValidate[RefreshRequest](w, r)
	if err != nil {
		return
	}

	user, pair, err := h.auth.Refresh(r.Context(), data.RefreshToken, deviceContext(r))
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrRefreshTokenNotFound):
			render.ServiceError(w, "Invalid refresh token", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrRefreshTokenRevoked):
			render.ServiceError(w, "Refresh token has been revoked", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrRefreshTokenExpired):
			render.ServiceError(w, "Refresh token has expired", http.StatusUnauthorized)
		case errors.Is(err, apperrors.ErrAccountInactive):
			render.ServiceError(w, "User account is not active", http.StatusUnauthorized)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, h.authResponse(user, pair))
}

func (h *AuthHandler) logout(w http.ResponseWriter, r *http.Request) {
	type LogoutRequest struct {
		RefreshToken string `json:"refreshToken" validate:"required"`
	}
	type LogoutSuccessResponse struct {
		Message string `json:"message"`
	}

	data, err := render.BindAndValidate[LogoutRequest](w, r)
	if err != nil {
		return
	}

	user, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	err = h.auth.Logout(r.Context(), data.RefreshToken, user.ID)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrTokenOwnerMismatch):
			render.ServiceError(w, "Token does not belong to user", http.StatusUnauthorized)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, LogoutSuccessResponse{Message: "Successfully logged out"})
}
