package web

import (
	"bytes"
	"fmt"
	"html/template"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/reid"
	log "github.com/sirupsen/logrus"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// default number of rows in the stats table
const statsRows = 20

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

type TrainPage struct {
	*Templates
	run  *Run
	rows int
}

// Base data for handler functions to display the training stats
func NewTrainPage(t *Templates, run *Run) *TrainPage {
	p := &TrainPage{run: run, rows: statsRows}
	p.Templates = t.Select("/train")
	return p
}

// Handler function for the train template
func (p *TrainPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		rows := p.sessionInt(w, r, "rows", statsRows)
		p.run.Lock()
		defer p.run.Unlock()
		p.rows = rows
		p.Exec(w, "train", p)
	}
}

// Handler function for the stats frame
func (p *TrainPage) Stats() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		rows := p.sessionInt(w, r, "rows", statsRows)
		p.run.Lock()
		defer p.run.Unlock()
		p.rows = rows
		p.Exec(w, "stats", p)
	}
}

// Handler function for websocket connection, a message is sent each time the run is updated
func (p *TrainPage) Websocket() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.WithError(err).Warn("websocket upgrade")
			return
		}
		p.run.addConn(conn)
	}
}

func (p *TrainPage) Heading() template.HTML {
	iter := 0
	if n := len(p.run.Stats); n > 0 {
		iter = p.run.Stats[n-1].Iter
	}
	maxIter := 0
	if p.run.Conf != nil {
		maxIter = p.run.Conf.MaxIter
	}
	return template.HTML(fmt.Sprintf(`%s: iteration <span id="iter">%d</span> of %d`,
		template.HTMLEscapeString(p.run.Model), iter, maxIter))
}

func (p *TrainPage) Headers() []string {
	return reid.StatsHeaders
}

func (p *TrainPage) LatestStats() []nnet.Stats {
	last := len(p.run.Stats) - 1
	res := []nnet.Stats{}
	for i := last; i >= 0 && i > last-p.rows; i-- {
		res = append(res, p.run.Stats[i])
	}
	return res
}

func (p *TrainPage) RunTime() string {
	if len(p.run.Stats) == 0 {
		return ""
	}
	elapsed := p.run.Stats[len(p.run.Stats)-1].Elapsed
	return fmt.Sprintf("run time: %s", elapsed.Round(time.Second))
}

func (p *TrainPage) LossPlot(width, height int) template.HTML {
	plt := newPlot()
	if line := newLinePlot(p.run.Stats, 0, 1); len(line.XYs) > 0 {
		plt.Add(line)
		plt.Legend.Add("training loss ", line)
	}
	return writePlot(plt, width, height)
}

func (p *TrainPage) RankPlot(width, height int) template.HTML {
	plt := newPlot()
	for i, name := range reid.StatsHeaders[1:] {
		if line := newLinePlot(p.run.Stats, i+1, 100); len(line.XYs) > 0 {
			plt.Add(line)
			plt.Legend.Add(name+" % ", line)
		}
	}
	return writePlot(plt, width, height)
}

func newPlot() *plot.Plot {
	p := plot.New()
	p.X.Padding, p.Y.Padding = 0, 0
	p.X.Tick.Label.Font.Size = vg.Points(10)
	p.Y.Tick.Label.Font.Size = vg.Points(10)
	p.Legend.Top = true
	p.Legend.TextStyle.Font.Size = vg.Points(12)
	p.Add(plotter.NewGrid())
	return p
}

func writePlot(p *plot.Plot, w, h int) template.HTML {
	var buf bytes.Buffer
	writer, err := p.WriterTo(vg.Length(w)*vg.Inch/96, vg.Length(h)*vg.Inch/96, "svg")
	if err != nil {
		log.WithError(err).Error("error writing plot")
		return ""
	}
	if _, err = writer.WriteTo(&buf); err != nil {
		log.WithError(err).Error("error writing plot")
		return ""
	}
	return template.HTML(buf.String())
}

func newLinePlot(stats []nnet.Stats, ix int, scale float64) linePlot {
	var pts plotter.XYs
	xmax, ymax := 1.0, 0.0
	for _, s := range stats {
		if ix >= len(s.Values) {
			continue
		}
		pt := plotter.XY{X: float64(s.Iter), Y: s.Values[ix] * scale}
		pts = append(pts, pt)
		if pt.X > xmax {
			xmax = pt.X
		}
		if pt.Y > ymax {
			ymax = pt.Y
		}
	}
	l := &plotter.Line{XYs: pts}
	l.LineStyle = plotter.DefaultLineStyle
	l.Width = vg.Points(2)
	l.Color = plotutil.Color(ix)
	return linePlot{Line: l, xmin: 0, xmax: xmax, ymin: 0, ymax: ymax}
}

// modified plotter.Line with a fixed scale
type linePlot struct {
	*plotter.Line
	xmin, xmax, ymin, ymax float64
}

func (l linePlot) DataRange() (xmin, xmax, ymin, ymax float64) {
	return l.xmin, l.xmax, l.ymin, l.ymax
}
