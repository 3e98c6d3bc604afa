package response

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/replyloop/service-codepool/pkg/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestError_MapsDomainKinds(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"validation", domain.NewValidationError("codes", "duplicate code"), http.StatusBadRequest, "invalid_input"},
		{"not found", domain.NewNotFoundError("Pool", "p1"), http.StatusNotFound, "not_found"},
		{"access denied", domain.NewAccessDeniedError("not your pool"), http.StatusForbidden, "access_denied"},
		{"constraint", fmt.Errorf("delete: %w", domain.NewConstraintError("pool has already issued codes")), http.StatusConflict, "constraint_violation"},
		{"unavailable", domain.NewUnavailableError("db", errors.New("conn refused")), http.StatusServiceUnavailable, "unavailable"},
		{"plain error", errors.New("boom"), http.StatusInternalServerError, "internal"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			c, _ := gin.CreateTestContext(w)

			Error(c, tt.err)

			assert.Equal(t, tt.status, w.Code)
			var body APIResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Success)
			require.NotNil(t, body.Error)
			assert.Equal(t, tt.code, body.Error.Code)
		})
	}
}

func TestError_HidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)

	Error(c, domain.NewInternalError("claim code", errors.New("pq: relation does not exist")))

	assert.NotContains(t, w.Body.String(), "relation")
}
