package onboarding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ryde/accounts/internal/services"
	appErr "github.com/ryde/accounts/pkg/errors"
	"github.com/ryde/accounts/pkg/logger"
)

func TestHTTPProvisionerCreateUser(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		outcome services.Outcome
		code    appErr.Code
	}{
		{"created", http.StatusCreated, `{"success":true}`, services.OutcomeCreated, ""},
		{"existing", http.StatusConflict, `{"error":"User already exists"}`, services.OutcomeExisting, ""},
		{"invalid", http.StatusBadRequest, `{"error":"Missing required fields: name, email, externalIdentityId"}`, "", appErr.CodeInvalid},
		{"internal", http.StatusInternalServerError, `{"error":"Failed to create user","details":"database operation failed"}`, "", appErr.CodeInternal},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got map[string]any
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, http.MethodPost, r.Method)
				assert.Equal(t, "/user", r.URL.Path)
				assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
				_ = json.NewDecoder(r.Body).Decode(&got)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			p := NewHTTPProvisioner(srv.URL+"/", nil)
			outcome, err := p.CreateUser(context.Background(), services.CreateUserInput{
				Name: "Ann", Email: "ann@x.com", ExternalIdentityID: "sess_1",
			})

			assert.Equal(t, map[string]any{"name": "Ann", "email": "ann@x.com", "externalIdentityId": "sess_1"}, got)
			assert.Equal(t, tt.outcome, outcome)
			if tt.code == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.True(t, appErr.IsCode(err, tt.code))
		})
	}
}

func TestHTTPProvisionerUnreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	url := srv.URL
	srv.Close()

	_, err := NewHTTPProvisioner(url, nil).CreateUser(context.Background(), services.CreateUserInput{Name: "Ann"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeUnavailable))
}

func TestHTTPProvisionerUndecodableErrorBody(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	t.Cleanup(logger.Replace(zap.New(core)))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		_, _ = w.Write([]byte("<html>upstream down</html>"))
	}))
	defer srv.Close()

	_, err := NewHTTPProvisioner(srv.URL, nil).CreateUser(context.Background(), services.CreateUserInput{Name: "Ann"})
	require.Error(t, err)
	assert.True(t, appErr.IsCode(err, appErr.CodeInternal))
	assert.Equal(t, http.StatusText(http.StatusBadGateway), appErr.MessageOf(err, ""))

	entries := logs.FilterMessage("undecodable provisioning error body").All()
	require.Len(t, entries, 1)
	assert.Equal(t, int64(http.StatusBadGateway), entries[0].ContextMap()["status"])
}
