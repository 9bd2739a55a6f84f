package http

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "bonzai/pkg/errors"
)

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		wantMsg    string
	}{
		{
			name:       "app error keeps its status",
			err:        apperrors.ConflictWithCode("ALREADY_CANCELLED", "booking is already cancelled", nil),
			wantStatus: http.StatusConflict,
			wantCode:   "ALREADY_CANCELLED",
			wantMsg:    "booking is already cancelled",
		},
		{
			name:       "plain error hides its cause",
			err:        errors.New("connection reset by peer"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   apperrors.CodeInternal,
			wantMsg:    "An unexpected error occurred",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			if err := WriteError(rec, tt.err); err != nil {
				t.Fatalf("WriteError returned %v", err)
			}
			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}
			var body ErrorResponse
			if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
				t.Fatalf("failed to decode body: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("expected code %s, got %s", tt.wantCode, body.Code)
			}
			if body.Error != tt.wantMsg {
				t.Errorf("expected message %q, got %q", tt.wantMsg, body.Error)
			}
		})
	}
}

func TestParsePage(t *testing.T) {
	tests := []struct {
		name     string
		query    string
		want     Page
		wantCode string
	}{
		{name: "defaults", query: "", want: Page{Limit: 10}},
		{name: "explicit", query: "?limit=25&offset=50", want: Page{Limit: 25, Offset: 50}},
		{name: "limit clamped", query: "?limit=100000", want: Page{Limit: 100}},
		{name: "zero limit takes default", query: "?limit=0&offset=3", want: Page{Limit: 10, Offset: 3}},
		{name: "negative offset clamped", query: "?offset=-4", want: Page{Limit: 10}},
		{name: "limit not a number", query: "?limit=abc", wantCode: apperrors.CodeInvalidInput},
		{name: "offset not an integer", query: "?offset=1.5", wantCode: apperrors.CodeInvalidInput},
		{name: "offset overflows", query: "?offset=99999999999999999999", wantCode: apperrors.CodeInvalidInput},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/v1/bookings"+tt.query, nil)
			page, err := ParsePage(r)
			if tt.wantCode != "" {
				var appErr *apperrors.AppError
				if !errors.As(err, &appErr) {
					t.Fatalf("expected an AppError, got %v", err)
				}
				if appErr.Code != tt.wantCode {
					t.Errorf("expected code %s, got %s", tt.wantCode, appErr.Code)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if page != tt.want {
				t.Errorf("expected %+v, got %+v", tt.want, page)
			}
		})
	}
}

func TestWritePaginated(t *testing.T) {
	rec := httptest.NewRecorder()
	if err := WritePaginated(rec, []string{"a"}, 7, Page{Limit: 5, Offset: 5}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var body struct {
		TotalCount int64 `json:"total_count"`
		Limit      int   `json:"limit"`
		Offset     int64 `json:"offset"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("failed to decode body: %v", err)
	}
	if body.TotalCount != 7 || body.Limit != 5 || body.Offset != 5 {
		t.Errorf("unexpected pagination envelope: %+v", body)
	}
}
