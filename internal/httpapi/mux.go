package httpapi

import (
	"database/sql"
	"net/http"

	"github.com/Mikhaerys/Weather-Drone/internal/store"
)

func NewMux(db *sql.DB, repo store.ReadingRepository, defaultPageSize int) *http.ServeMux {
	mux := http.NewServeMux()
	registerHealthcheck(mux, db)
	registerPages(mux, repo, defaultPageSize)
	registerReadings(mux, repo, defaultPageSize)
	return mux
}
