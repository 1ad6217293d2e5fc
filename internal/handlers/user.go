package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"github.com/google/uuid"
	"github.com/nkiryanov/identity/internal/apperrors"
	"github.com/nkiryanov/identity/internal/handlers/render"
	"github.com/nkiryanov/identity/internal/handlers/userctx"
	"github.com/nkiryanov/identity/internal/models"
	"github.com/nkiryanov/identity/internal/repository"
	"github.com/nkiryanov/identity/internal/service/user"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// User management service the handlers need
type UserService interface {
	GetUser(ctx context.Context, userID uuid.UUID) (models.User, error)
	ListUsers(ctx context.Context, filter repository.ListUsersFilter) ([]models.User, int64, error)
	CreateUser(ctx context.Context, p user.CreateUserParams) (models.User, error)
	UpdateProfile(ctx context.Context, current models.User, p user.UpdateProfileParams) (models.User, error)
	AdminUpdateUser(ctx context.Context, userID uuid.UUID, p user.AdminUpdateParams) (models.User, error)
	SoftDeleteUser(ctx context.Context, userID uuid.UUID) error
}

type UserHandler struct {
	users UserService
}

func NewUser(users UserService) *UserHandler {
	return &UserHandler{users: users}
}

// userID parses the path parameter, renders the error response itself
func userID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		render.FieldError(w, "id", "Must be a valid UUID")
		return uuid.Nil, false
	}
	return id, true
}

func (h *UserHandler) me(w http.ResponseWriter, r *http.Request) {
	u, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	render.JSON(w, u.Public())
}

func (h *UserHandler) updateProfile(w http.ResponseWriter, r *http.Request) {
	type UpdateProfileRequest struct {
		Email       *string `json:"email" validate:"omitempty,email"`
		Password    *string `json:"password" validate:"omitempty,min=8,max=72"`
		FirstName   *string `json:"firstName" validate:"omitempty,max=100"`
		LastName    *string `json:"lastName" validate:"omitempty,max=100"`
		PhoneNumber *string `json:"phoneNumber" validate:"omitempty,e164"`
	}

	current, ok := userctx.FromContext(r.Context())
	if !ok {
		render.ServiceError(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	data, err := render.BindAndValidate[UpdateProfileRequest](w, r)
	if err != nil {
		return
	}

	if data.Password != nil && !validPassword(*data.Password) {
		render.FieldError(w, "password", passwordComplexityMessage)
		return
	}

	updated, err := h.users.UpdateProfile(r.Context(), current, user.UpdateProfileParams{
		Email:       data.Email,
		Password:    data.Password,
		FirstName:   data.FirstName,
		LastName:    data.LastName,
		PhoneNumber: data.PhoneNumber,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrEmailAlreadyRegistered):
			render.ServiceError(w, "Email already in use", http.StatusConflict)
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, updated.Public())
}

func (h *UserHandler) list(w http.ResponseWriter, r *http.Request) {
	type ListUsersResponse struct {
		Users []models.PublicUser `json:"users"`
		Total int64               `json:"total"`
		Page  int                 `json:"page"`
		Limit int                 `json:"limit"`
	}

	query := r.URL.Query()
	filter := repository.ListUsersFilter{Limit: defaultPageSize}
	page := 1

	if v := query.Get("role"); v != "" {
		role := models.Role(v)
		if !role.Valid() {
			render.FieldError(w, "role", "Role must be APPLICANT, REVIEWER, or ADMIN")
			return
		}
		filter.Role = &role
	}

	if v := query.Get("isActive"); v != "" {
		isActive := v == "true"
		filter.IsActive = &isActive
	}

	filter.IncludeDeleted = query.Get("includeDeleted") == "true"

	if v := query.Get("page"); v != "" {
		p, err := strconv.Atoi(v)
		if err != nil || p < 1 {
			render.FieldError(w, "page", "Must be a positive integer")
			return
		}
		page = p
	}

	if v := query.Get("limit"); v != "" {
		l, err := strconv.Atoi(v)
		if err != nil || l < 1 || l > maxPageSize {
			render.FieldError(w, "limit", "Must be an integer between 1 and 100")
			return
		}
		filter.Limit = l
	}

	filter.Offset = (page - 1) * filter.Limit

	users, total, err := h.users.ListUsers(r.Context(), filter)
	if err != nil {
		render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	response := ListUsersResponse{
		Users: make([]models.PublicUser, 0, len(users)),
		Total: total,
		Page:  page,
		Limit: filter.Limit,
	}
	for _, u := range users {
		response.Users = append(response.Users, u.Public())
	}

	render.JSON(w, response)
}

func (h *UserHandler) create(w http.ResponseWriter, r *http.Request) {
	type CreateUserRequest struct {
		Email       string `json:"email" validate:"required,email"`
		Password    string `json:"password" validate:"required,min=8,max=72"`
		Role        string `json:"role" validate:"required,oneof=ADMIN REVIEWER APPLICANT"`
		FirstName   string `json:"firstName" validate:"omitempty,max=100"`
		LastName    string `json:"lastName" validate:"omitempty,max=100"`
		PhoneNumber string `json:"phoneNumber" validate:"omitempty,e164"`
	}

	data, err := render.BindAndValidate[CreateUserRequest](w, r)
	if err != nil {
		return
	}

	if !validPassword(data.Password) {
		render.FieldError(w, "password", passwordComplexityMessage)
		return
	}

	created, err := h.users.CreateUser(r.Context(), user.CreateUserParams{
		Email:       data.Email,
		Password:    data.Password,
		Role:        models.Role(data.Role),
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

	render.JSONWithStatus(w, created.Public(), http.StatusCreated)
}

func (h *UserHandler) get(w http.ResponseWriter, r *http.Request) {
	id, ok := userID(w, r)
	if !ok {
		return
	}

	u, err := h.users.GetUser(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, u.Public())
}

func (h *UserHandler) update(w http.ResponseWriter, r *http.Request) {
	type AdminUpdateUserRequest struct {
		Role            *string `json:"role" validate:"omitempty,oneof=ADMIN REVIEWER APPLICANT"`
		IsActive        *bool   `json:"isActive"`
		IsEmailVerified *bool   `json:"isEmailVerified"`
	}

	id, ok := userID(w, r)
	if !ok {
		return
	}

	data, err := render.BindAndValidate[AdminUpdateUserRequest](w, r)
	if err != nil {
		return
	}

	updated, err := h.users.AdminUpdateUser(r.Context(), id, user.AdminUpdateParams{
		Role:            (*models.Role)(data.Role),
		IsActive:        data.IsActive,
		IsEmailVerified: data.IsEmailVerified,
	})
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, updated.Public())
}

func (h *UserHandler) delete(w http.ResponseWriter, r *http.Request) {
	type DeleteSuccessResponse struct {
		Message string `json:"message"`
	}

	id, ok := userID(w, r)
	if !ok {
		return
	}

	err := h.users.SoftDeleteUser(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, apperrors.ErrUserNotFound):
			render.ServiceError(w, "User not found", http.StatusNotFound)
		default:
			render.ServiceError(w, "Internal server error", http.StatusInternalServerError)
		}
		return
	}

	render.JSON(w, DeleteSuccessResponse{Message: "User deleted successfully"})
}
