package handler

import (
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
	"github.com/xeipuuv/gojsonschema"

	"github.com/Dan9191/card-service/internal/apperrors"
	"github.com/Dan9191/card-service/internal/clock"
	"github.com/Dan9191/card-service/internal/middleware"
	"github.com/Dan9191/card-service/internal/models"
	"github.com/Dan9191/card-service/internal/service"
	"github.com/Dan9191/card-service/internal/statement"
)

const maxBodyBytes = 1 << 20

//go:embed schemas/*.json
var schemaFS embed.FS

const (
	schemaRegister   = "register"
	schemaLogin      = "login"
	schemaCreateCard = "create_card"
	schemaTransfer   = "transfer"
)

type Handler struct {
	cards      *service.CardService
	transfers  *service.TransferService
	users      *service.UserService
	statements *statement.Renderer
	clock      clock.Clock
	log        *logrus.Logger
	schemas    map[string]*gojsonschema.Schema
}

func NewHandler(cards *service.CardService, transfers *service.TransferService, users *service.UserService,
	statements *statement.Renderer, clk clock.Clock, log *logrus.Logger) (*Handler, error) {
	schemas := make(map[string]*gojsonschema.Schema)
	for _, name := range []string{schemaRegister, schemaLogin, schemaCreateCard, schemaTransfer} {
		raw, err := schemaFS.ReadFile("schemas/" + name + ".schema.json")
		if err != nil {
			return nil, fmt.Errorf("failed to read schema %s: %w", name, err)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, fmt.Errorf("failed to compile schema %s: %w", name, err)
		}
		schemas[name] = schema
	}

	return &Handler{
		cards:      cards,
		transfers:  transfers,
		users:      users,
		statements: statements,
		clock:      clk,
		log:        log,
		schemas:    schemas,
	}, nil
}

// Router mounts every route of the service
func (h *Handler) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(middleware.LoggingMiddleware(h.log))
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Public routes
	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/auth/register", h.Register).Methods(http.MethodPost)
	v1.HandleFunc("/auth/login", h.Login).Methods(http.MethodPost)

	// Protected routes
	authRouter := v1.NewRoute().Subrouter()
	authRouter.Use(middleware.AuthMiddleware(h.users, h.log))
	authRouter.HandleFunc("/users/me", h.Me).Methods(http.MethodGet)
	authRouter.HandleFunc("/cards", h.ListMyCards).Methods(http.MethodGet)
	authRouter.HandleFunc("/cards/{cardId:[0-9]+}", h.GetMyCard).Methods(http.MethodGet)
	authRouter.HandleFunc("/cards/{cardId:[0-9]+}/request-block", h.RequestBlock).Methods(http.MethodPost)
	authRouter.HandleFunc("/cards/{cardId:[0-9]+}/statement", h.Statement).Methods(http.MethodGet)
	authRouter.HandleFunc("/transfers", h.Transfer).Methods(http.MethodPost)

	// Admin routes
	admin := authRouter.PathPrefix("/admin").Subrouter()
	admin.Use(middleware.RequireRole(models.RoleAdmin))
	admin.HandleFunc("/cards", h.CreateCard).Methods(http.MethodPost)
	admin.HandleFunc("/cards", h.ListCards).Methods(http.MethodGet)
	admin.HandleFunc("/cards/{cardId:[0-9]+}", h.GetCard).Methods(http.MethodGet)
	admin.HandleFunc("/cards/{cardId:[0-9]+}", h.DeleteCard).Methods(http.MethodDelete)
	admin.HandleFunc("/cards/{cardId:[0-9]+}/status", h.SetCardStatus).Methods(http.MethodPatch)
	admin.HandleFunc("/users", h.ListUsers).Methods(http.MethodGet)
	admin.HandleFunc("/users/{userId:[0-9]+}", h.GetUser).Methods(http.MethodGet)
	admin.HandleFunc("/users/{userId:[0-9]+}", h.DeleteUser).Methods(http.MethodDelete)
	admin.HandleFunc("/users/{userId:[0-9]+}/enable", h.SetUserEnabled).Methods(http.MethodPatch)

	return r
}

// Health reports liveness
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "UP"})
}

// decode validates the body against the named schema and unmarshals it into dst
func (h *Handler) decode(r *http.Request, schema string, dst interface{}) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.Validation("body", "failed to read request body")
	}

	res, err := h.schemas[schema].Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperrors.Validation("body", "request body must be a JSON object")
	}
	if !res.Valid() {
		fieldErrors := make(map[string]string)
		for _, e := range res.Errors() {
			field := e.Field()
			if p, ok := e.Details()["property"].(string); ok && e.Type() == "required" {
				field = p
			}
			if _, seen := fieldErrors[field]; !seen {
				fieldErrors[field] = e.Description()
			}
		}
		return &requestError{fields: fieldErrors}
	}

	if err := json.Unmarshal(body, dst); err != nil {
		return apperrors.Validation("body", "request body has invalid values")
	}
	return nil
}

// requestError carries every schema violation of a request body
type requestError struct {
	fields map[string]string
}

func (e *requestError) Error() string { return "request body failed validation" }

func pathID(r *http.Request, name string) (int64, error) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil || id <= 0 {
		return 0, apperrors.Validation(name, name+" must be a positive integer")
	}
	return id, nil
}

func queryInt(r *http.Request, name string, def int) (int, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apperrors.Validation(name, name+" must be an integer")
	}
	return n, nil
}

func principal(r *http.Request) models.User {
	user, _ := middleware.Principal(r.Context())
	return user
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.log.WithError(err).Warn("Failed to write response")
	}
}

// writeError maps err to its HTTP status and writes the error body.
// Internal failures are logged and reported without detail.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	message := "internal server error"
	var fields map[string]string

	var (
		reqErr       *requestError
		validation   *apperrors.ValidationError
		ownerMissing *apperrors.OwnerNotFoundError
		userMissing  *apperrors.UserNotFoundError
		cardMissing  *apperrors.CardNotFoundError
		transition   *apperrors.InvalidTransitionError
		sameCard     *apperrors.SameCardError
		notActive    *apperrors.CardNotActiveError
		funds        *apperrors.InsufficientFundsError
		contention   *apperrors.ContentionTimeoutError
		conflict     *apperrors.ConflictError
		unauthorized *apperrors.UnauthorizedError
	)
	switch {
	case errors.As(err, &reqErr):
		status, message, fields = http.StatusBadRequest, "validation failed", reqErr.fields
	case errors.As(err, &validation):
		status, message = http.StatusBadRequest, validation.Message
		fields = map[string]string{validation.Field: validation.Message}
	case errors.As(err, &transition), errors.As(err, &sameCard), errors.As(err, &notActive):
		status, message = http.StatusBadRequest, err.Error()
	case errors.As(err, &ownerMissing), errors.As(err, &userMissing), errors.As(err, &cardMissing):
		status, message = http.StatusNotFound, err.Error()
	case errors.As(err, &funds):
		status, message = http.StatusUnprocessableEntity, err.Error()
	case errors.As(err, &conflict):
		status, message = http.StatusConflict, conflict.Message
	case errors.As(err, &contention):
		status, message = http.StatusConflict, "card is busy, please retry"
	case errors.As(err, &unauthorized):
		status, message = http.StatusUnauthorized, unauthorized.Message
	default:
		h.log.WithError(err).WithFields(logrus.Fields{
			"method": r.Method,
			"path":   r.URL.Path,
		}).Error("Request failed")
	}

	body := models.NewErrorResponse(status, message, h.clock.Now().UTC())
	body.FieldErrors = fields
	h.writeJSON(w, status, body)
}
