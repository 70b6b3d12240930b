package httpapi

import (
	"encoding/csv"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/Mikhaerys/Weather-Drone/internal/store"
	"github.com/Mikhaerys/Weather-Drone/internal/utils"
)

type readingsHandler struct {
	repo            store.ReadingRepository
	defaultPageSize int
}

func registerReadings(mux *http.ServeMux, repo store.ReadingRepository, defaultPageSize int) {
	h := &readingsHandler{repo: repo, defaultPageSize: defaultPageSize}
	mux.HandleFunc("GET /api/readings", h.handleList)
	mux.HandleFunc("POST /api/readings/{id}/label", h.handleLabel)
	mux.HandleFunc("GET /export.csv", h.handleExportCSV)
}

// apiReading is the wire form of a stored reading; navigation and label
// fields are null when absent.
type apiReading struct {
	ID            int64      `json:"id"`
	CreatedAt     time.Time  `json:"created_at"`
	Temperature   float64    `json:"temperature"`
	Humidity      float64    `json:"humidity"`
	Pressure      float64    `json:"pressure"`
	Latitude      *float64   `json:"latitude"`
	Longitude     *float64   `json:"longitude"`
	Altitude      *float64   `json:"altitude"`
	Speed         *float64   `json:"speed"`
	HDOP          *float64   `json:"hdop"`
	Satellites    *int64     `json:"satellites"`
	TimeUTC       *string    `json:"time_utc"`
	Rained        *int64     `json:"rained"`
	RainCheckedAt *time.Time `json:"rain_checked_at"`
}

type listResponse struct {
	Readings   []apiReading `json:"readings"`
	Total      int          `json:"total"`
	Page       int          `json:"page"`
	PageSize   int          `json:"page_size"`
	TotalPages int          `json:"total_pages"`
}

func (h *readingsHandler) handleList(w http.ResponseWriter, r *http.Request) {
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
		slog.Error("list readings", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to list readings")
		return
	}
	total, err := h.repo.CountReadings(onlyUnlabeled)
	if err != nil {
		slog.Error("count readings", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to count readings")
		return
	}

	out := listResponse{
		Readings:   make([]apiReading, 0, len(readings)),
		Total:      total,
		Page:       page,
		PageSize:   pageSize,
		TotalPages: (total + pageSize - 1) / pageSize,
	}
	for _, rec := range readings {
		out.Readings = append(out.Readings, toAPIReading(rec))
	}
	utils.WriteJSON(w, http.StatusOK, out)
}

// handleLabel sets or clears the rained label for one reading:
// rained=1, rained=0, or rained= (empty) to mark it unlabeled again.
func (h *readingsHandler) handleLabel(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid reading id")
		return
	}

	if err := r.ParseForm(); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "invalid form")
		return
	}

	var rained *int64
	switch v := r.PostForm.Get("rained"); v {
	case "":
	case "0", "1":
		n, _ := strconv.ParseInt(v, 10, 64)
		rained = &n
	default:
		utils.WriteError(w, http.StatusBadRequest, `rained must be "0", "1" or empty`)
		return
	}

	if err := h.repo.SetRainLabel(id, rained, time.Now()); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			utils.WriteError(w, http.StatusNotFound, "reading not found")
			return
		}
		slog.Error("set rain label", "id", id, "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to update label")
		return
	}

	// The annotator page submits a redirect target so the browser lands
	// back on the table; only local paths are honored.
	if target := r.PostForm.Get("redirect"); target != "" &&
		strings.HasPrefix(target, "/") && !strings.HasPrefix(target, "//") {
		http.Redirect(w, r, target, http.StatusSeeOther)
		return
	}
	utils.WriteJSON(w, http.StatusOK, map[string]any{"id": id, "rained": rained})
}

var csvHeader = []string{
	"id", "created_at", "temperature", "humidity", "pressure",
	"latitude", "longitude", "altitude", "speed", "hdop", "satellites",
	"time_utc", "rained", "rain_checked_at",
}

func (h *readingsHandler) handleExportCSV(w http.ResponseWriter, r *http.Request) {
	readings, err := h.repo.AllReadings()
	if err != nil {
		slog.Error("export readings", "error", err)
		utils.WriteError(w, http.StatusInternalServerError, "failed to export readings")
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="weather_readings.csv"`)

	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		slog.Error("write csv header", "error", err)
		return
	}
	for _, rec := range readings {
		if err := cw.Write(csvRow(rec)); err != nil {
			slog.Error("write csv row", "id", rec.ID, "error", err)
			return
		}
	}
	cw.Flush()
	if err := cw.Error(); err != nil {
		slog.Error("flush csv", "error", err)
	}
}

func csvRow(rec store.Reading) []string {
	return []string{
		strconv.FormatInt(rec.ID, 10),
		rec.CreatedAt.UTC().Format(time.RFC3339),
		formatFloat(rec.Temperature),
		formatFloat(rec.Humidity),
		formatFloat(rec.Pressure),
		formatFloatPtr(rec.Latitude),
		formatFloatPtr(rec.Longitude),
		formatFloatPtr(rec.Altitude),
		formatFloatPtr(rec.Speed),
		formatFloatPtr(rec.HDOP),
		formatIntPtr(rec.Satellites),
		formatStrPtr(rec.TimeUTC),
		formatIntPtr(rec.Rained),
		formatTimePtr(rec.RainCheckedAt),
	}
}

func toAPIReading(rec store.Reading) apiReading {
	return apiReading{
		ID:            rec.ID,
		CreatedAt:     rec.CreatedAt,
		Temperature:   rec.Temperature,
		Humidity:      rec.Humidity,
		Pressure:      rec.Pressure,
		Latitude:      rec.Latitude,
		Longitude:     rec.Longitude,
		Altitude:      rec.Altitude,
		Speed:         rec.Speed,
		HDOP:          rec.HDOP,
		Satellites:    rec.Satellites,
		TimeUTC:       rec.TimeUTC,
		Rained:        rec.Rained,
		RainCheckedAt: rec.RainCheckedAt,
	}
}

func intQueryParam(r *http.Request, name string, fallback int) int {
	s := r.URL.Query().Get(name)
	if s == "" {
		return fallback
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return n
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func formatFloatPtr(v *float64) string {
	if v == nil {
		return ""
	}
	return formatFloat(*v)
}

func formatIntPtr(v *int64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatInt(*v, 10)
}

func formatStrPtr(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}

func formatTimePtr(v *time.Time) string {
	if v == nil {
		return ""
	}
	return v.UTC().Format(time.RFC3339)
}
