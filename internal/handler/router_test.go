package handler

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"kitaabse-pipeline/internal/domain"
)

func newTestRouter(auth *mockAuthService) http.Handler {
	docs := &fakeDocuments{docs: map[string]*domain.Document{
		"b1": {ID: "b1", UploaderID: "user-123"},
	}}
	bookHandler := newTestBookHandler(&fakeUploader{}, &fakeRunner{}, docs, true)
	middleware := NewAuthMiddleware(auth, NewMockHandlerLogger())
	return NewRouter(NewAuthHandler(), bookHandler, middleware.Middleware, nil)
}

func TestNewRouter_Health(t *testing.T) {
	router := newTestRouter(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
	if !strings.Contains(rr.Body.String(), `"status":"ok"`) {
		t.Fatalf("unexpected response body: %s", rr.Body.String())
	}
}

func TestNewRouter_BooksRequireAuth(t *testing.T) {
	router := newTestRouter(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/b1", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status %d, got %d", http.StatusUnauthorized, rr.Code)
	}
}

func TestNewRouter_AuthenticatedBook(t *testing.T) {
	router := newTestRouter(&mockAuthService{user: &domain.User{ID: "user-123"}})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/books/b1", nil)
	req.Header.Set("Authorization", "Bearer good")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d: %s", http.StatusOK, rr.Code, rr.Body.String())
	}
	if !strings.Contains(rr.Body.String(), `"id":"b1"`) {
		t.Fatalf("unexpected response body: %s", rr.Body.String())
	}
}

func TestNewRouter_VoicesArePublic(t *testing.T) {
	router := newTestRouter(&mockAuthService{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/voices", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status %d, got %d", http.StatusOK, rr.Code)
	}
}
