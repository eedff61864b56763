package remove

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	"github.com/magabrotheeeer/terabox-bot/internal/services/subscription"
)

type MockService struct {
	mock.Mock
}

func (m *MockService) DeleteKey(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

func TestRemoveHandler(t *testing.T) {
	tests := []struct {
		name           string
		token          string
		setupMock      func(*MockService)
		expectedStatus int
		expectedBody   string
	}{
		{
			name:  "успешное удаление",
			token: "free1",
			setupMock: func(m *MockService) {
				m.On("DeleteKey", mock.Anything, "FREE1").Return(nil)
			},
			expectedStatus: http.StatusOK,
			expectedBody:   `{"status":"OK","data":{"deleted":"FREE1"}}`,
		},
		{
			name:  "ключ не найден",
			token: "NOPE",
			setupMock: func(m *MockService) {
				m.On("DeleteKey", mock.Anything, "NOPE").
					Return(fmt.Errorf("services.subscription.DeleteKey: %w", subscription.ErrKeyNotFound))
			},
			expectedStatus: http.StatusNotFound,
			expectedBody:   `{"status":"Error","error":"key not found"}`,
		},
		{
			name:  "ключ уже активирован",
			token: "ABC123",
			setupMock: func(m *MockService) {
				m.On("DeleteKey", mock.Anything, "ABC123").Return(subscription.ErrKeyRedeemed)
			},
			expectedStatus: http.StatusConflict,
			expectedBody:   `{"status":"Error","error":"redeemed key cannot be deleted"}`,
		},
		{
			name:  "ошибка хранилища",
			token: "FREE1",
			setupMock: func(m *MockService) {
				m.On("DeleteKey", mock.Anything, "FREE1").Return(errors.New("storage error"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not delete key"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mockService := new(MockService)
			tt.setupMock(mockService)

			req := httptest.NewRequest(http.MethodDelete, "/api/v1/keys/"+tt.token, nil)
			rctx := chi.NewRouteContext()
			rctx.URLParams.Add("token", tt.token)
			req = req.WithContext(context.WithValue(req.Context(), chi.RouteCtxKey, rctx))
			rec := httptest.NewRecorder()

			New(sl.Discard(), mockService).ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			mockService.AssertExpectations(t)
		})
	}
}
