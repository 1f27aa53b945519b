package handlers

import (
	"encoding/json"
	"net/http"

	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/api/middleware"
	"github.com/ryde/accounts/internal/api/types"
	"github.com/ryde/accounts/internal/services"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

const maxBodyBytes = 1 << 20

type UsersHandler struct {
	users services.UserService
}

func NewUsersHandler(users services.UserService) *UsersHandler {
	return &UsersHandler{users: users}
}

// Create provisions the local record for a verified identity.
// 201 on creation, 409 with the stored record when it already exists.
func (h *UsersHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req types.CreateUserRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		writeErrorStr(w, http.StatusBadRequest, "Invalid JSON body")
		return
	}

	res, err := h.users.Provision(r.Context(), services.CreateUserInput{
		Name:               req.Name,
		Email:              req.Email,
		ExternalIdentityID: req.IdentityID(),
		ProfileImageURL:    req.ProfileImageURL,
	})
	if err != nil {
		h.fail(w, r, err, "Failed to create user")
		return
	}

	if res.Outcome == services.OutcomeExisting {
		writeJSON(w, http.StatusConflict, types.ErrorResponse{Error: services.MsgUserExists, User: res.User})
		return
	}
	writeJSON(w, http.StatusCreated, types.UserResponse{
		Success: true,
		Message: "User created successfully",
		User:    res.User,
	})
}

// Get looks a user up by ?clerkId= or ?email=. clerkId wins when both are set.
func (h *UsersHandler) Get(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	u, err := h.users.Lookup(r.Context(), services.LookupInput{
		ExternalIdentityID: q.Get("clerkId"),
		Email:              q.Get("email"),
	})
	if err != nil {
		h.fail(w, r, err, "Failed to fetch user")
		return
	}
	writeJSON(w, http.StatusOK, types.UserResponse{Success: true, User: u})
}

// fail writes client errors verbatim and hides everything else behind
// summary plus the public message of the application error.
func (h *UsersHandler) fail(w http.ResponseWriter, r *http.Request, err error, summary string) {
	status := types.StatusFor(err)
	if status < http.StatusInternalServerError {
		writeErrorStr(w, status, appErr.MessageOf(err, http.StatusText(status)))
		return
	}
	logger.L().Error(summary,
		zap.String("request_id", middleware.GetRequestID(r.Context())),
		zap.String("code", string(appErr.CodeOf(err))),
		zap.Error(err),
	)
	writeJSON(w, http.StatusInternalServerError, types.ErrorResponse{
		Error:   summary,
		Details: appErr.MessageOf(err, "internal error"),
	})
}
