package web

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter sets up the routes for the monitor pages. If auth is not nil every request must be
// authenticated.
func NewRouter(run *Run, t *Templates, auth *AuthMiddleware) *mux.Router {
	trainPage := NewTrainPage(t.Clone(), run)
	cmcPage := NewCMCPage(t.Clone(), run)
	configPage := NewConfigPage(t.Clone(), run)

	r := mux.NewRouter()
	r.Handle("/", http.RedirectHandler("/train", http.StatusFound))
	r.HandleFunc("/train", trainPage.Base())
	r.HandleFunc("/train/stats", trainPage.Stats())
	r.HandleFunc("/ws", trainPage.Websocket())
	r.HandleFunc("/cmc", cmcPage.Base())
	r.HandleFunc("/cmc/plot.svg", cmcPage.Image())
	r.HandleFunc("/config", configPage.Base())
	r.Handle("/metrics", promhttp.HandlerFor(run.Registry(), promhttp.HandlerOpts{}))
	if auth != nil {
		r.Use(auth.Middleware)
	}
	return r
}
