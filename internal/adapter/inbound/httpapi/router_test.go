package httpapi

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rhymu8354/alfred/internal/domain/access"
	"github.com/rhymu8354/alfred/internal/domain/document"
)

type fakeStore struct {
	tree        document.Value
	unavailable bool
}

func (f *fakeStore) Get(path []string, held access.RoleSet) document.Value {
	return access.Get(f.tree, path, held)
}

func (f *fakeStore) Unavailable() bool { return f.unavailable }

func treeFromJSON(t *testing.T, raw string) document.Value {
	t.Helper()
	v, err := document.Parse([]byte(raw))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	return v
}

// TestRouter_GetData_AnonymousRead exercises Scenario 1.
func TestRouter_GetData_AnonymousRead(t *testing.T) {
	fs := &fakeStore{tree: treeFromJSON(t, `{"data":{"Public":"hello","Secret":{"meta":{"require":{"read_data":["admin"]}},"data":42}}}`)}
	rt := New(fs)
	RegisterDataResource(rt, fs)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if len(body) != 1 || body["Public"] != "hello" {
		t.Errorf("body = %v, want {Public: hello}", body)
	}
	if rec.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing Access-Control-Allow-Origin on 200 response")
	}
}

// TestRouter_GetDataSubpath_ProjectsNestedValue exercises the "Subspace
// {"data"}" prefix match for paths below /data, per spec §6: the full
// request path becomes the Store.Get key sequence.
func TestRouter_GetDataSubpath_ProjectsNestedValue(t *testing.T) {
	fs := &fakeStore{tree: treeFromJSON(t, `{"data":{"Public":"hello","Secret":{"meta":{"require":{"read_data":["admin"]}},"data":42}}}`)}
	rt := New(fs)
	RegisterDataResource(rt, fs)

	req := httptest.NewRequest(http.MethodGet, "/data/Public", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("Unmarshal() error = %v", err)
	}
	if body != "hello" {
		t.Errorf("body = %q, want %q", body, "hello")
	}
}

func TestRegisterDataResource_WithProjectionObserver_ReportsDuration(t *testing.T) {
	fs := &fakeStore{tree: treeFromJSON(t, `{"data":{"Public":"hello"}}`)}
	rt := New(fs)
	var reported time.Duration
	var calls int
	RegisterDataResource(rt, fs, WithProjectionObserver(func(d time.Duration) {
		calls++
		reported = d
	}))

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if calls != 1 {
		t.Fatalf("observer called %d times, want 1", calls)
	}
	if reported < 0 {
		t.Errorf("reported duration = %v, want >= 0", reported)
	}
}

func TestRouter_UnknownPath_Returns404(t *testing.T) {
	fs := &fakeStore{tree: document.Value{Kind: document.KindObject, Object: map[string]document.Value{}}}
	rt := New(fs)
	RegisterDataResource(rt, fs)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestRouter_WrongMethod_Returns405(t *testing.T) {
	fs := &fakeStore{tree: document.Value{Kind: document.KindObject, Object: map[string]document.Value{}}}
	rt := New(fs)
	RegisterDataResource(rt, fs)

	req := httptest.NewRequest(http.MethodPost, "/data", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", rec.Code)
	}
}

func TestRouter_StoreUnavailable_Returns503(t *testing.T) {
	fs := &fakeStore{tree: document.Value{Kind: document.KindObject, Object: map[string]document.Value{}}, unavailable: true}
	rt := New(fs)
	RegisterDataResource(rt, fs)

	req := httptest.NewRequest(http.MethodGet, "/data", nil)
	rec := httptest.NewRecorder()
	rt.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
