// Package httpapi exposes the application services over a JSON REST API.
// Handlers are thin: they decode, delegate and translate error kinds to
// status codes. All business rules live in the services.
package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	app "github.com/openshelf/library-service/internal/app"
	"github.com/openshelf/library-service/internal/app/core"
	"github.com/openshelf/library-service/internal/app/domain/user"
	"github.com/openshelf/library-service/internal/app/metrics"
	"github.com/openshelf/library-service/internal/app/services/catalog"
	userssvc "github.com/openshelf/library-service/internal/app/services/users"
	"github.com/openshelf/library-service/internal/middleware"
	"github.com/openshelf/library-service/pkg/logger"
)

// SkipAuthPaths are served without a token.
var SkipAuthPaths = []string{"/health", "/metrics", "/api/v1/auth/login"}

// Options tunes router construction.
type Options struct {
	// RateLimit is requests per second per caller; zero disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *logger.Logger
}

type handler struct {
	app *app.Application
	log *logger.Logger
}

// NewRouter builds the full REST API with its middleware chain.
func NewRouter(application *app.Application, opts Options) *mux.Router {
	log := opts.Logger
	if log == nil {
		log = logger.NewDefault("httpapi")
	}
	h := &handler{app: application, log: log}

	r := mux.NewRouter()
	r.Use(middleware.Logging(log))
	r.Use(middleware.Metrics())
	r.Use(middleware.NewAuthMiddleware(application.Auth, log, SkipAuthPaths).Handler)
	if opts.RateLimit > 0 {
		r.Use(middleware.NewRateLimiter(opts.RateLimit, opts.RateBurst, log).Handler)
	}

	r.HandleFunc("/health", h.health).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/auth/login", h.login).Methods(http.MethodPost)

	api := r.PathPrefix("/api/v1").Subrouter()

	api.Handle("/books", requireRole(user.PermManageBooks, h.addBook)).Methods(http.MethodPost)
	api.HandleFunc("/books", h.listBooks).Methods(http.MethodGet)
	api.HandleFunc("/books/{id}", h.getBook).Methods(http.MethodGet)

	api.Handle("/users", requireRole(user.PermManageUsers, h.registerUser)).Methods(http.MethodPost)
	api.Handle("/users", requireRole(user.PermManageUsers, h.listUsers)).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.getUser).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}", h.updateUser).Methods(http.MethodPatch)
	api.HandleFunc("/users/{id}/fine", h.getFine).Methods(http.MethodGet)
	api.HandleFunc("/users/{id}/fine", h.clearFine).Methods(http.MethodDelete)

	// Fixed loan paths must be registered before the {id} routes.
	api.HandleFunc("/loans/active", h.listActiveLoans).Methods(http.MethodGet)
	api.HandleFunc("/loans/overdue", h.listOverdueLoans).Methods(http.MethodGet)
	api.Handle("/loans/sweep", requireRole(user.PermManageLoans, h.runSweep)).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.createLoan).Methods(http.MethodPost)
	api.HandleFunc("/loans", h.listLoans).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}", h.getLoan).Methods(http.MethodGet)
	api.HandleFunc("/loans/{id}/return", h.endLoan).Methods(http.MethodPost)

	api.Handle("/admin/loan-limits", requireRole(user.PermModifyLimits, h.updateLoanLimit)).Methods(http.MethodPut)

	return r
}

func requireRole(permission string, fn http.HandlerFunc) http.Handler {
	return middleware.RequireRole(permission)(fn)
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) login(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	token, u, err := h.app.Auth.Login(r.Context(), payload.Email, payload.Password)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"token": token,
		"user":  userView(u),
	})
}

func (h *handler) addBook(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Title  string `json:"title"`
		Author string `json:"author"`
		ISBN   string `json:"isbn"`
		Copies int    `json:"copies"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	b, err := h.app.Catalog.AddBook(r.Context(), catalog.AddBookInput{
		Title:  payload.Title,
		Author: payload.Author,
		ISBN:   payload.ISBN,
		Copies: payload.Copies,
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, b)
}

func (h *handler) listBooks(w http.ResponseWriter, r *http.Request) {
	query := strings.TrimSpace(r.URL.Query().Get("q"))
	books, err := h.app.Catalog.SearchBooks(r.Context(), query)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, books)
}

func (h *handler) getBook(w http.ResponseWriter, r *http.Request) {
	b, err := h.app.Catalog.GetBook(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, b)
}

func (h *handler) registerUser(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Name     string `json:"name"`
		Surname  string `json:"surname"`
		Email    string `json:"email"`
		Password string `json:"password"`
		Role     string `json:"role"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.Register(r.Context(), middleware.Role(r.Context()), userssvc.RegisterInput{
		Name:     payload.Name,
		Surname:  payload.Surname,
		Email:    payload.Email,
		Password: payload.Password,
		Role:     user.Role(payload.Role),
	})
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, userView(u))
}

func (h *handler) listUsers(w http.ResponseWriter, r *http.Request) {
	role := user.Role(strings.TrimSpace(r.URL.Query().Get("role")))
	all, err := h.app.Users.List(r.Context(), role)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	views := make([]map[string]any, 0, len(all))
	for _, u := range all {
		views = append(views, userView(u))
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *handler) getUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.canAccessUser(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	u, err := h.app.Users.Get(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}

func (h *handler) updateUser(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.canAccessUser(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	var payload struct {
		Name    string `json:"name"`
		Surname string `json:"surname"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	u, err := h.app.Users.UpdateProfile(r.Context(), id, payload.Name, payload.Surname)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}

func (h *handler) getFine(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if !h.canAccessUser(r, id) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	fined, err := h.app.Users.HasPendingFine(r.Context(), id)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"hasPendingFine": fined})
}

func (h *handler) clearFine(w http.ResponseWriter, r *http.Request) {
	u, err := h.app.Users.ClearFine(r.Context(), middleware.Role(r.Context()), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, userView(u))
}

func (h *handler) createLoan(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		UserID string `json:"userId"`
		BookID string `json:"bookId"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if payload.UserID == "" {
		payload.UserID = middleware.UserID(r.Context())
	}
	// Borrowers may only open loans for themselves.
	if !middleware.Role(r.Context()).HasPermission(user.PermManageLoans) && payload.UserID != middleware.UserID(r.Context()) {
		writeError(w, http.StatusForbidden, errForbidden)
		return
	}
	l, err := h.app.Lending.CreateLoan(r.Context(), payload.UserID, payload.BookID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, l)
}

func (h *handler) endLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Lending.EndLoan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) getLoan(w http.ResponseWriter, r *http.Request) {
	l, err := h.app.Lending.GetLoan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, l)
}

func (h *handler) listLoans(w http.ResponseWriter, r *http.Request) {
	userID := strings.TrimSpace(r.URL.Query().Get("userId"))
	if !middleware.Role(r.Context()).HasPermission(user.PermManageLoans) {
		// Borrowers only see their own loans.
		userID = middleware.UserID(r.Context())
	}
	loans, err := h.app.Lending.ListLoans(r.Context(), userID)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *handler) listActiveLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.app.Lending.ListActiveLoans(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *handler) listOverdueLoans(w http.ResponseWriter, r *http.Request) {
	loans, err := h.app.Lending.ListOverdueLoans(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loans)
}

func (h *handler) runSweep(w http.ResponseWriter, r *http.Request) {
	transitioned, err := h.app.Sweeper.Run(r.Context())
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"transitioned": transitioned})
}

func (h *handler) updateLoanLimit(w http.ResponseWriter, r *http.Request) {
	var payload struct {
		Role     string `json:"role"`
		MaxLoans int    `json:"maxLoans"`
	}
	if err := decodeJSON(r.Body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	err := h.app.Users.UpdateLoanLimit(r.Context(), middleware.Role(r.Context()), user.Role(payload.Role), payload.MaxLoans)
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// canAccessUser allows staff everywhere and members only on their own record.
func (h *handler) canAccessUser(r *http.Request, id string) bool {
	if middleware.Role(r.Context()).HasPermission(user.PermManageUsers) ||
		middleware.Role(r.Context()).HasPermission(user.PermViewAllFines) {
		return true
	}
	return middleware.UserID(r.Context()) == id
}

var errForbidden = core.NewAccessDeniedError("resource access", "", "insufficient permissions")

func (h *handler) writeServiceError(w http.ResponseWriter, err error) {
	writeError(w, statusForError(err), err)
}

// statusForError maps the error taxonomy onto HTTP status codes.
func statusForError(err error) int {
	switch {
	case core.IsValidationError(err):
		return http.StatusBadRequest
	case core.IsNotFound(err):
		return http.StatusNotFound
	case core.IsConflict(err):
		return http.StatusConflict
	case core.IsForbidden(err):
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

// userView strips the password hash from API responses.
func userView(u user.User) map[string]any {
	return map[string]any{
		"id":             u.ID,
		"name":           u.Name,
		"surname":        u.Surname,
		"email":          u.Email,
		"role":           u.Role,
		"hasPendingFine": u.HasPendingFine,
		"createdAt":      u.CreatedAt,
		"updatedAt":      u.UpdatedAt,
	}
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
