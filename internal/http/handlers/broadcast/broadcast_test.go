package broadcast

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/magabrotheeeer/terabox-bot/internal/lib/sl"
	svcbroadcast "github.com/magabrotheeeer/terabox-bot/internal/services/broadcast"
)

type MockDispatcher struct {
	mock.Mock
}

func (m *MockDispatcher) Dispatch(ctx context.Context, job svcbroadcast.Job) error {
	args := m.Called(ctx, job)
	return args.Error(0)
}

func TestBroadcastHandler(t *testing.T) {
	now := time.Date(2026, 10, 15, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name           string
		body           string
		setupMock      func(*MockDispatcher)
		expectedStatus int
		expectedBody   string
	}{
		{
			name: "рассылка принята",
			body: `{"text":"Maintenance tonight"}`,
			setupMock: func(m *MockDispatcher) {
				m.On("Dispatch", mock.Anything, svcbroadcast.Job{Text: "Maintenance tonight", RequestedAt: now}).Return(nil)
			},
			expectedStatus: http.StatusAccepted,
			expectedBody:   `{"status":"OK","data":{"accepted":true}}`,
		},
		{
			name:           "нет текста",
			body:           `{}`,
			setupMock:      func(_ *MockDispatcher) {},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"field Text is a required field"}`,
		},
		{
			name: "текст из пробелов",
			body: `{"text":"   "}`,
			setupMock: func(m *MockDispatcher) {
				m.On("Dispatch", mock.Anything, mock.Anything).Return(svcbroadcast.ErrEmptyMessage)
			},
			expectedStatus: http.StatusUnprocessableEntity,
			expectedBody:   `{"status":"Error","error":"text must not be blank"}`,
		},
		{
			name: "брокер недоступен",
			body: `{"text":"hi"}`,
			setupMock: func(m *MockDispatcher) {
				m.On("Dispatch", mock.Anything, mock.Anything).Return(errors.New("channel closed"))
			},
			expectedStatus: http.StatusInternalServerError,
			expectedBody:   `{"status":"Error","error":"could not start broadcast"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dispatcher := new(MockDispatcher)
			tt.setupMock(dispatcher)
			handler := New(sl.Discard(), dispatcher)
			handler.now = func() time.Time { return now }

			req := httptest.NewRequest(http.MethodPost, "/api/v1/broadcast", bytes.NewBufferString(tt.body))
			rec := httptest.NewRecorder()

			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.expectedStatus, rec.Code)
			assert.JSONEq(t, tt.expectedBody, rec.Body.String())
			dispatcher.AssertExpectations(t)
		})
	}
}
