package httpapi

import (
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/Mikhaerys/Weather-Drone/internal/store"
)

func setupMux(t *testing.T) (*http.ServeMux, store.ReadingRepository) {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	repo := store.NewRepository(db)
	if err := repo.EnsureSchema(); err != nil {
		t.Fatalf("ensure schema: %v", err)
	}
	return NewMux(db, repo, 25), repo
}

func insertReadings(t *testing.T, repo store.ReadingRepository, n int) []int64 {
	t.Helper()
	base := time.Date(2024, 3, 7, 9, 0, 0, 0, time.UTC)
	lat := 4.602
	var ids []int64
	for i := 0; i < n; i++ {
		id, err := repo.InsertReading(store.Reading{
			CreatedAt:   base.Add(time.Duration(i) * time.Minute),
			Temperature: 20 + float64(i),
			Humidity:    40,
			Pressure:    1012.3,
			Latitude:    &lat,
		})
		if err != nil {
			t.Fatalf("insert reading %d: %v", i, err)
		}
		ids = append(ids, id)
	}
	return ids
}

func TestHealthz(t *testing.T) {
	mux, _ := setupMux(t)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestListReadings(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 3)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	var body listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 3 {
		t.Errorf("total = %d, want 3", body.Total)
	}
	if len(body.Readings) != 3 {
		t.Fatalf("readings = %d, want 3", len(body.Readings))
	}
	// newest first
	if body.Readings[0].Temperature != 22 {
		t.Errorf("first temperature = %v, want 22", body.Readings[0].Temperature)
	}
	if body.Readings[0].Latitude == nil {
		t.Error("latitude = nil, want value")
	}
	if body.Readings[0].Satellites != nil {
		t.Error("satellites set, want null")
	}
}

func TestListReadings_Paging(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 5)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings?page=2&page_size=2", nil))

	var body listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Page != 2 || body.PageSize != 2 {
		t.Errorf("page/size = %d/%d, want 2/2", body.Page, body.PageSize)
	}
	if body.TotalPages != 3 {
		t.Errorf("total_pages = %d, want 3", body.TotalPages)
	}
	if len(body.Readings) != 2 {
		t.Fatalf("readings = %d, want 2", len(body.Readings))
	}
	if body.Readings[0].Temperature != 22 {
		t.Errorf("page 2 first temperature = %v, want 22", body.Readings[0].Temperature)
	}
}

func TestListReadings_UnlabeledFilter(t *testing.T) {
	mux, repo := setupMux(t)
	ids := insertReadings(t, repo, 3)

	one := int64(1)
	if err := repo.SetRainLabel(ids[0], &one, time.Now()); err != nil {
		t.Fatalf("SetRainLabel: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/readings?filter=unlabeled", nil))

	var body listResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body.Total != 2 {
		t.Errorf("total = %d, want 2", body.Total)
	}
}

func TestLabelReading(t *testing.T) {
	mux, repo := setupMux(t)
	ids := insertReadings(t, repo, 1)

	form := strings.NewReader("rained=1")
	req := httptest.NewRequest(http.MethodPost, "/api/readings/1/label", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200: %s", rec.Code, rec.Body.String())
	}

	latest, err := repo.LatestReading()
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest.ID != ids[0] || latest.Rained == nil || *latest.Rained != 1 {
		t.Errorf("reading after label = %+v, want rained=1", latest)
	}

	// clearing with an empty value marks it unlabeled again
	req = httptest.NewRequest(http.MethodPost, "/api/readings/1/label", strings.NewReader("rained="))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("clear status = %d, want 200", rec.Code)
	}
	latest, err = repo.LatestReading()
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest.Rained != nil {
		t.Errorf("rained = %v after clear, want nil", latest.Rained)
	}
}

func TestLabelReading_Invalid(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 1)

	req := httptest.NewRequest(http.MethodPost, "/api/readings/1/label", strings.NewReader("rained=2"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}

	req = httptest.NewRequest(http.MethodPost, "/api/readings/99/label", strings.NewReader("rained=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec = httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Errorf("missing id status = %d, want 404", rec.Code)
	}
}

func TestIndexPage(t *testing.T) {
	mux, repo := setupMux(t)
	ids := insertReadings(t, repo, 2)

	one := int64(1)
	if err := repo.SetRainLabel(ids[0], &one, time.Now()); err != nil {
		t.Fatalf("SetRainLabel: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Content-Type = %q, want text/html", ct)
	}

	body := rec.Body.String()
	if !strings.Contains(body, "<table>") {
		t.Error("page has no readings table")
	}
	if !strings.Contains(body, "<td>21</td>") {
		t.Error("page does not show the newest temperature")
	}
	// each row carries a label form posting to the label endpoint
	if !strings.Contains(body, `action="/api/readings/1/label"`) {
		t.Error("page has no label form for reading 1")
	}
	if !strings.Contains(body, `name="rained"`) {
		t.Error("page has no rained select")
	}
	if !strings.Contains(body, `href="/export.csv"`) {
		t.Error("page has no CSV export link")
	}
}

func TestIndexPage_UnlabeledFilter(t *testing.T) {
	mux, repo := setupMux(t)
	ids := insertReadings(t, repo, 3)

	one := int64(1)
	if err := repo.SetRainLabel(ids[2], &one, time.Now()); err != nil {
		t.Fatalf("SetRainLabel: %v", err)
	}

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?filter=unlabeled", nil))

	body := rec.Body.String()
	if strings.Contains(body, "<td>22</td>") {
		t.Error("labeled reading shown with unlabeled filter")
	}
	if !strings.Contains(body, "(2 readings)") {
		t.Errorf("total = %q, want 2 unlabeled readings", body)
	}
}

func TestLabelReading_RedirectsBackToPage(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 1)

	form := strings.NewReader("rained=1&redirect=%2F%3Fpage%3D1")
	req := httptest.NewRequest(http.MethodPost, "/api/readings/1/label", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, want 303", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "/?page=1" {
		t.Errorf("Location = %q, want /?page=1", loc)
	}

	latest, err := repo.LatestReading()
	if err != nil {
		t.Fatalf("LatestReading: %v", err)
	}
	if latest.Rained == nil || *latest.Rained != 1 {
		t.Errorf("rained = %v after redirect, want 1", latest.Rained)
	}
}

func TestLabelReading_ExternalRedirectIgnored(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 1)

	form := strings.NewReader("rained=1&redirect=" + "%2F%2Fevil.example%2F")
	req := httptest.NewRequest(http.MethodPost, "/api/readings/1/label", form)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200 JSON response instead of redirect", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "" {
		t.Errorf("Location = %q, want none", loc)
	}
}

// failingRepo forces storage errors for one method while the rest of the
// interface stays unused.
type failingRepo struct {
	store.ReadingRepository
}

func (failingRepo) SetRainLabel(int64, *int64, time.Time) error {
	return errors.New("disk I/O error")
}

func TestLabelReading_StorageErrorIsNot404(t *testing.T) {
	db, err := sql.Open("sqlite3", ":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() {
		if closeErr := db.Close(); closeErr != nil {
			t.Fatalf("close db: %v", closeErr)
		}
	})
	mux := NewMux(db, failingRepo{}, 25)

	req := httptest.NewRequest(http.MethodPost, "/api/readings/1/label", strings.NewReader("rained=1"))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500 for a storage failure", rec.Code)
	}
}

func TestExportCSV(t *testing.T) {
	mux, repo := setupMux(t)
	insertReadings(t, repo, 2)

	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/export.csv", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/csv") {
		t.Errorf("Content-Type = %q, want text/csv", ct)
	}

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("csv lines = %d, want header + 2 rows", len(lines))
	}
	if !strings.HasPrefix(lines[0], "id,created_at,temperature") {
		t.Errorf("header = %q", lines[0])
	}
	// oldest first in the export
	if !strings.Contains(lines[1], ",20,") {
		t.Errorf("first row = %q, want temperature 20", lines[1])
	}
}
