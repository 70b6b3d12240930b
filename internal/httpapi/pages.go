package httpapi

import (
	"bytes"
	_ "embed"
	"html/template"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/Mikhaerys/Weather-Drone/internal/store"
)

//go:embed templates/index.html
var indexHTML string

var indexTmpl = template.Must(template.New("index").Parse(indexHTML))

// pageReading is a Reading pre-rendered to strings; nil fields become
// empty cells, the rained label becomes the select's current value.
type pageReading struct {
	ID          int64
	CreatedAt   string
	Temperature string
	Humidity    string
	Pressure    string
	Latitude    string
	Longitude   string
	Altitude    string
	Speed       string
	HDOP        string
	Satellites  string
	TimeUTC     string
	Rained      string
}

type pageData struct {
	Readings      []pageReading
	Page          int
	PageSize      int
	Total         int
	TotalPages    int
	OnlyUnlabeled bool

	SelfURL string
	PrevURL string
	NextURL string
	HasPrev bool
	HasNext bool
}

type pagesHandler struct {
	repo            store.ReadingRepository
	defaultPageSize int
}

func registerPages(mux *http.ServeMux, repo store.ReadingRepository, defaultPageSize int) {
	h := &pagesHandler{repo: repo, defaultPageSize: defaultPageSize}
	mux.HandleFunc("GET /{$}", h.handleIndex)
}

// handleIndex renders the annotator table: the same page/page_size/filter
// parameters as the JSON listing, plus a per-row rained form posting to
// the label endpoint.
func (h *pagesHandler) handleIndex(w http.ResponseWriter, r *http.Request) {
	page := intQueryParam(r, "page", 1)
	if page < 1 {
		page = 1
	}
	pageSize := intQueryParam(r, "page_size", h.defaultPageSize)
	if pageSize < 1 || pageSize > 500 {
		pageSize = h.defaultPageSize
	}
	onlyUnlabeled := r.URL.Query().Get("filter") == "unlabeled"

	readings, err := h.repo.ListReadings(pageSize, (page-1)*pageSize, onlyUnlabeled)
	if err != nil {
		slog.Error("list readings for page", "error", err)
		http.Error(w, "failed to list readings", http.StatusInternalServerError)
		return
	}
	total, err := h.repo.CountReadings(onlyUnlabeled)
	if err != nil {
		slog.Error("count readings for page", "error", err)
		http.Error(w, "failed to count readings", http.StatusInternalServerError)
		return
	}

	data := pageData{
		Readings:      make([]pageReading, 0, len(readings)),
		Page:          page,
		PageSize:      pageSize,
		Total:         total,
		TotalPages:    (total + pageSize - 1) / pageSize,
		OnlyUnlabeled: onlyUnlabeled,
		SelfURL:       pageURL(page, pageSize, onlyUnlabeled),
		HasPrev:       page > 1,
		HasNext:       page*pageSize < total,
	}
	if data.HasPrev {
		data.PrevURL = pageURL(page-1, pageSize, onlyUnlabeled)
	}
	if data.HasNext {
		data.NextURL = pageURL(page+1, pageSize, onlyUnlabeled)
	}
	for _, rec := range readings {
		data.Readings = append(data.Readings, toPageReading(rec))
	}

	// Render into a buffer first so template failures stay a clean 500.
	var buf bytes.Buffer
	if err := indexTmpl.Execute(&buf, data); err != nil {
		slog.Error("render index page", "error", err)
		http.Error(w, "failed to render page", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	if _, err := buf.WriteTo(w); err != nil {
		slog.Error("write index page", "error", err)
	}
}

func pageURL(page, pageSize int, onlyUnlabeled bool) string {
	q := url.Values{}
	q.Set("page", strconv.Itoa(page))
	q.Set("page_size", strconv.Itoa(pageSize))
	if onlyUnlabeled {
		q.Set("filter", "unlabeled")
	}
	return "/?" + q.Encode()
}

func toPageReading(rec store.Reading) pageReading {
	return pageReading{
		ID:          rec.ID,
		CreatedAt:   rec.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		Temperature: formatFloat(rec.Temperature),
		Humidity:    formatFloat(rec.Humidity),
		Pressure:    formatFloat(rec.Pressure),
		Latitude:    formatFloatPtr(rec.Latitude),
		Longitude:   formatFloatPtr(rec.Longitude),
		Altitude:    formatFloatPtr(rec.Altitude),
		Speed:       formatFloatPtr(rec.Speed),
		HDOP:        formatFloatPtr(rec.HDOP),
		Satellites:  formatIntPtr(rec.Satellites),
		TimeUTC:     formatStrPtr(rec.TimeUTC),
		Rained:      formatIntPtr(rec.Rained),
	}
}
