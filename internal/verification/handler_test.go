package verification

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bissquit/mention-relay/internal/domain"
	"github.com/bissquit/mention-relay/internal/testutil"
	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(svc *Service) http.Handler {
	r := chi.NewRouter()
	r.Route("/api/v1", func(r chi.Router) {
		NewHandler(svc).RegisterRoutes(r)
	})
	return r
}

func TestHandler_Confirm(t *testing.T) {
	validator := testutil.NewOpenAPIValidator(t)

	svc, _, _ := newTestService(t)
	validToken, err := svc.IssueToken(unverifiedBob())
	require.NoError(t, err)

	tests := []struct {
		name       string
		records    []domain.Subscription
		body       string
		wantStatus int
		wantError  string
	}{
		{
			name:       "verified",
			records:    []domain.Subscription{unverifiedBob()},
			body:       `{"state":"` + validToken + `","source_user_id":"900"}`,
			wantStatus: http.StatusOK,
		},
		{
			name:       "invalid json",
			body:       `{`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid json",
		},
		{
			name:       "missing state",
			body:       `{"source_user_id":"900"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "validation error",
		},
		{
			name:       "bad token",
			body:       `{"state":"nope","source_user_id":"900"}`,
			wantStatus: http.StatusBadRequest,
			wantError:  "invalid state token",
		},
		{
			name:       "unknown recipient",
			body:       `{"state":"` + validToken + `","source_user_id":"900"}`,
			wantStatus: http.StatusNotFound,
			wantError:  ErrRecipientNotFound.Error(),
		},
		{
			name:       "account mismatch",
			records:    []domain.Subscription{unverifiedBob()},
			body:       `{"state":"` + validToken + `","source_user_id":"901"}`,
			wantStatus: http.StatusConflict,
			wantError:  ErrUserMismatch.Error(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _ := newTestService(t, tt.records...)
			router := newTestRouter(svc)

			req := httptest.NewRequest(http.MethodPost, "/api/v1/verifications", bytes.NewBufferString(tt.body))
			req.Header.Set("Content-Type", "application/json")
			if tt.wantStatus != http.StatusBadRequest {
				validator.ValidateRequest(t, req)
			}

			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			validator.ValidateResponse(t, req, rec)

			if tt.wantError != "" {
				var resp struct {
					Error struct {
						Message string `json:"message"`
					} `json:"error"`
				}
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.Equal(t, tt.wantError, resp.Error.Message)
				return
			}

			var resp struct {
				Data ConfirmResponse `json:"data"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, ConfirmResponse{RecipientID: "7", Handle: "bob", Verified: true}, resp.Data)
		})
	}
}
