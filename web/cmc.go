package web

import (
	"html/template"
	"net/http"

	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
)

// ranks shown in the results table
var tableRanks = []int{1, 5, 10, 20}

type CMCPage struct {
	*Templates
	run *Run
}

type CMCRow struct {
	Name   string
	Values []float64
}

// Base data for handler functions to display evaluation results
func NewCMCPage(t *Templates, run *Run) *CMCPage {
	p := &CMCPage{run: run}
	p.Templates = t.Select("/cmc")
	return p
}

// Handler function for the cmc template
func (p *CMCPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		p.Exec(w, "cmc", p)
	}
}

// Handler function to download the chart as an svg file
func (p *CMCPage) Image() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		if len(p.run.Curves) == 0 {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-type", "image/svg+xml")
		w.Write([]byte(p.Plot(600, 400)))
	}
}

func (p *CMCPage) Heading() template.HTML {
	return template.HTML(template.HTMLEscapeString(p.run.Model) + ": evaluation")
}

func (p *CMCPage) Names() []string {
	return p.run.CurveNames()
}

func (p *CMCPage) Ranks() []int {
	return tableRanks
}

func (p *CMCPage) Rows() []CMCRow {
	var rows []CMCRow
	for _, name := range p.run.CurveNames() {
		row := CMCRow{Name: name}
		for _, k := range tableRanks {
			row.Values = append(row.Values, reid.Rank(p.run.Curves[name], k))
		}
		rows = append(rows, row)
	}
	return rows
}

func (p *CMCPage) Plot(width, height int) template.HTML {
	plt, err := reid.NewCMCPlot(p.run.Curves)
	if err != nil {
		log.WithError(err).Error("cmc plot")
		return ""
	}
	return writePlot(plt, width, height)
}
