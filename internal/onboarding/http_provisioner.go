package onboarding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ryde/accounts/internal/api/types"
	"github.com/ryde/accounts/internal/services"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

// HTTPProvisioner calls POST /user on the accounts API.
type HTTPProvisioner struct {
	baseURL string
	client  *http.Client
}

// NewHTTPProvisioner targets baseURL. A nil client gets a 10s timeout.
func NewHTTPProvisioner(baseURL string, client *http.Client) *HTTPProvisioner {
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &HTTPProvisioner{baseURL: strings.TrimRight(baseURL, "/"), client: client}
}

var _ Provisioner = (*HTTPProvisioner)(nil)

// CreateUser maps 201 to created and 409 to existing. Everything else is an error.
func (p *HTTPProvisioner) CreateUser(ctx context.Context, in services.CreateUserInput) (services.Outcome, error) {
	body, err := json.Marshal(types.CreateUserRequest{
		Name:               in.Name,
		Email:              in.Email,
		ExternalIdentityID: in.ExternalIdentityID,
		ProfileImageURL:    in.ProfileImageURL,
	})
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "encode provisioning request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/user", bytes.NewReader(body))
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeInternal, "build provisioning request")
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return "", appErr.Wrap(err, appErr.CodeUnavailable, "provisioning service unreachable")
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		return services.OutcomeCreated, nil
	case http.StatusConflict:
		return services.OutcomeExisting, nil
	}

	var er types.ErrorResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&er); err != nil {
		logger.L().Debug("undecodable provisioning error body",
			zap.Int("status", resp.StatusCode),
			zap.Error(err),
		)
	}
	msg := er.Error
	if er.Details != "" {
		msg = fmt.Sprintf("%s: %s", er.Error, er.Details)
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}

	code := appErr.CodeInternal
	if resp.StatusCode == http.StatusBadRequest {
		code = appErr.CodeInvalid
	}
	return "", appErr.New(code, msg).WithMeta("status", resp.StatusCode)
}
