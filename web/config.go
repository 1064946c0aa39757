package web

import (
	"fmt"
	"html/template"
	"net/http"

	"github.com/ptran/idla-person-reid/nnet"
)

type ConfigPage struct {
	*Templates
	Fields []Field
	Layers []Layer
	run    *Run
}

type Field struct {
	Name  string
	Value string
}

type Layer struct {
	Index int
	Desc  string
}

// Base data for handler functions to view the network config of the run
func NewConfigPage(t *Templates, run *Run) *ConfigPage {
	p := &ConfigPage{run: run}
	p.Templates = t.Select("/config")
	return p
}

// Handler function for the config template
func (p *ConfigPage) Base() func(w http.ResponseWriter, r *http.Request) {
	return func(w http.ResponseWriter, r *http.Request) {
		p.run.Lock()
		defer p.run.Unlock()
		p.Fields, p.Layers = nil, nil
		if conf := p.run.Conf; conf != nil {
			p.Fields = getFields(conf)
			p.Layers = getLayers(conf)
		}
		p.Exec(w, "config", p)
	}
}

func (p *ConfigPage) Heading() template.HTML {
	return template.HTML(template.HTMLEscapeString(p.run.ConfigFile()))
}

func getFields(conf *nnet.Config) []Field {
	var flds []Field
	for _, key := range conf.Fields() {
		flds = append(flds, Field{Name: key, Value: fmt.Sprint(conf.Get(key))})
	}
	return flds
}

func getLayers(conf *nnet.Config) []Layer {
	layers := make([]Layer, len(conf.Layers))
	for i, l := range conf.Layers {
		layers[i].Index = i
		layers[i].Desc = l.String()
	}
	return layers
}
