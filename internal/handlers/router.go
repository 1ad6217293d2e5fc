package handlers

import (
	"net/http"

	"github.com/nkiryanov/identity/internal/handlers/middleware"
)

// chain applies middlewares in the given order: m1(m2(...(h)))
func chain(h http.Handler, mds ...func(next http.Handler) http.Handler) http.Handler {
	for i := len(mds) - 1; i >= 0; i-- {
		h = mds[i](h)
	}
	return h
}

func NewRouter(
	auth *AuthHandler,
	users *UserHandler,
	authMiddleware func(next http.Handler) http.Handler,
	mds ...func(next http.Handler) http.Handler,
) http.Handler {
	requireManager := middleware.RequireUserManager()

	withAuth := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(h)
	}
	withAdmin := func(h http.HandlerFunc) http.Handler {
		return authMiddleware(requireManager(h))
	}

	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/auth/register", auth.register)
	mux.HandleFunc("POST /api/auth/login", auth.login)
	mux.HandleFunc("POST /api/auth/refresh", auth.refresh)
	mux.Handle("POST /api/auth/logout", withAuth(auth.logout))

	// Literal 'me' patterns win over the '{id}' wildcard ones
	mux.Handle("GET /api/users/me", withAuth(users.me))
	mux.Handle("PATCH /api/users/me", withAuth(users.updateProfile))

	mux.Handle("GET /api/users", withAdmin(users.list))
	mux.Handle("POST /api/users", withAdmin(users.create))
	mux.Handle("GET /api/users/{id}", withAdmin(users.get))
	mux.Handle("PATCH /api/users/{id}", withAdmin(users.update))
	mux.Handle("DELETE /api/users/{id}", withAdmin(users.delete))

	return chain(mux, mds...)
}
