package web

import (
	"embed"
	"fmt"
	"html/template"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/securecookie"
	"github.com/gorilla/sessions"
	log "github.com/sirupsen/logrus"
)

//go:embed assets/*.html
var assets embed.FS

const sessionName = "idla-monitor"

// Template and main menu definition
type Templates struct {
	*template.Template
	Menu    []Link
	Options []Link
	store   sessions.Store
}

type Link struct {
	Url      string
	Name     string
	Selected bool
}

// Parse the embedded templates and initialise main menu. If sessionKey is nil a random key is used.
func NewTemplates(sessionKey []byte) (*Templates, error) {
	tmpl, err := template.New("").Funcs(template.FuncMap{
		"percent": func(v float64) string { return fmt.Sprintf("%.2f%%", 100*v) },
	}).ParseFS(assets, "assets/*.html")
	if err != nil {
		return nil, err
	}
	if sessionKey == nil {
		sessionKey = securecookie.GenerateRandomKey(32)
	}
	t := &Templates{Template: tmpl, store: sessions.NewCookieStore(sessionKey)}
	t.AddMenuItem(Link{Name: "train", Url: "/train"})
	t.AddMenuItem(Link{Name: "cmc", Url: "/cmc"})
	t.AddMenuItem(Link{Name: "config", Url: "/config"})
	return t, nil
}

func (t *Templates) Clone() *Templates {
	return &Templates{
		Template: t.Template,
		Menu:     append([]Link{}, t.Menu...),
		Options:  append([]Link{}, t.Options...),
		store:    t.store,
	}
}

func (t *Templates) Select(url string) *Templates {
	for i, key := range t.Menu {
		t.Menu[i].Selected = strings.HasPrefix(key.Url, url)
	}
	return t
}

func (t *Templates) AddMenuItem(l Link) *Templates {
	t.Menu = append(t.Menu, l)
	return t
}

func (t *Templates) AddOption(l Link) *Templates {
	t.Options = append(t.Options, l)
	return t
}

// Exec executes the named template writing any error to the response.
func (t *Templates) Exec(w http.ResponseWriter, name string, data interface{}) {
	if err := t.ExecuteTemplate(w, name, data); err != nil {
		logError(w, err)
	}
}

// sessionInt gets an integer setting from the request form if present and saves it in the session,
// otherwise it returns the last saved value or def.
func (t *Templates) sessionInt(w http.ResponseWriter, r *http.Request, key string, def int) int {
	session, err := t.store.Get(r, sessionName)
	if err != nil {
		log.WithError(err).Debug("new session")
	}
	if s := r.FormValue(key); s != "" {
		if val, err := strconv.Atoi(s); err == nil && val > 0 {
			session.Values[key] = val
			if err = session.Save(r, w); err != nil {
				log.WithError(err).Warn("save session")
			}
			return val
		}
	}
	if val, ok := session.Values[key].(int); ok {
		return val
	}
	return def
}

func logError(w http.ResponseWriter, err error) {
	log.WithError(err).Error("web")
	http.Error(w, fmt.Sprint(err), http.StatusInternalServerError)
}
