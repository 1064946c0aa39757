package web

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/ptran/idla-person-reid/nnet"
	"github.com/ptran/idla-person-reid/reid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testModel = "cuhk03_labeled_modified_idla"

func testStats(n int) []nnet.Stats {
	var stats []nnet.Stats
	for i := 1; i <= n; i++ {
		stats = append(stats, nnet.Stats{
			Iter:      i * 1000,
			LearnRate: 0.01,
			Values:    []float64{1 / float64(i), 0.1 * float64(i), 0.15 * float64(i)},
			Elapsed:   time.Duration(i) * time.Minute,
		})
	}
	return stats
}

func writeCMC(t *testing.T, path string, cmc []float64) {
	f, err := os.Create(path)
	require.NoError(t, err)
	require.NoError(t, reid.WriteCMC(f, cmc))
	require.NoError(t, f.Close())
}

func testRun(t *testing.T) *Run {
	dir := t.TempDir()
	require.NoError(t, reid.ModifiedIDLA().Save(filepath.Join(dir, testModel+".json")))
	require.NoError(t, reid.SaveStats(filepath.Join(dir, testModel+"_stats.json"), testStats(3)))
	writeCMC(t, filepath.Join(dir, "cmc_protocol_0.csv"), []float64{0.5, 0.75, 0.9, 1})
	run, err := NewRun(dir, testModel)
	require.NoError(t, err)
	return run
}

func get(t *testing.T, client *http.Client, url string) (int, string) {
	resp, err := client.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp.StatusCode, string(body)
}

func TestNewRun(t *testing.T) {
	run := testRun(t)
	require.NotNil(t, run.Conf)
	assert.Len(t, run.Stats, 3)
	assert.Equal(t, []string{"protocol_0"}, run.CurveNames())
	assert.Equal(t, []float64{0.5, 0.75, 0.9, 1}, run.Curves["protocol_0"])

	_, err := NewRun(filepath.Join(t.TempDir(), "missing"), testModel)
	assert.Error(t, err)

	empty, err := NewRun(t.TempDir(), testModel)
	require.NoError(t, err)
	assert.Nil(t, empty.Conf)
	assert.Empty(t, empty.Stats)
}

func TestTracked(t *testing.T) {
	run := &Run{Dir: "/runs/a", Model: testModel}
	tests := []struct {
		file string
		ok   bool
	}{
		{"/runs/a/" + testModel + ".json", true},
		{"/runs/a/" + testModel + "_stats.json", true},
		{"/runs/a/." + testModel + "_stats.json", false},
		{"/runs/a/cmc_all.csv", true},
		{"/runs/a/other.json", false},
		{"/runs/a/" + testModel + ".net", false},
	}
	for _, test := range tests {
		assert.Equal(t, test.ok, run.tracked(test.file), test.file)
	}
}

func TestPages(t *testing.T) {
	run := testRun(t)
	tmpl, err := NewTemplates(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(run, tmpl, nil))
	defer srv.Close()
	client := srv.Client()

	tests := []struct {
		path     string
		contains []string
	}{
		{"/", []string{"training loss", "rank1", "3000"}},
		{"/train/stats?rows=2", []string{"<svg", "run time: 3m0s"}},
		{"/cmc", []string{"protocol_0", "50.00%", "100.00%"}},
		{"/cmc/plot.svg", []string{"<svg"}},
		{"/config", []string{"xnbhdDiff", "MaxIter"}},
		{"/metrics", []string{"idla_validation_rank1", "idla_eval_cmc", `rank="1"`}},
	}
	for _, test := range tests {
		t.Run(test.path, func(t *testing.T) {
			status, body := get(t, client, srv.URL+test.path)
			assert.Equal(t, http.StatusOK, status)
			for _, s := range test.contains {
				assert.Contains(t, body, s)
			}
		})
	}
	status, _ := get(t, client, srv.URL+"/unknown")
	assert.Equal(t, http.StatusNotFound, status)
}

// plot size is given in pixels at 96 per inch
func TestPlotSize(t *testing.T) {
	page := &TrainPage{run: testRun(t)}
	svg := string(page.LossPlot(960, 480))
	assert.Contains(t, svg, "<svg")
	assert.Contains(t, svg, `width="720pt"`)
	assert.Contains(t, svg, `height="360pt"`)
	assert.Contains(t, svg, "</svg>")
}

func TestAuth(t *testing.T) {
	run := testRun(t)
	tmpl, err := NewTemplates(nil)
	require.NoError(t, err)
	auth := NewAuthMiddleware("user", "secret")
	srv := httptest.NewServer(NewRouter(run, tmpl, &auth))
	defer srv.Close()
	client := srv.Client()

	status, _ := get(t, client, srv.URL+"/cmc")
	assert.Equal(t, http.StatusUnauthorized, status)

	req, err := http.NewRequest("GET", srv.URL+"/cmc", nil)
	require.NoError(t, err)
	req.SetBasicAuth("user", "wrong")
	resp, err := client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req.SetBasicAuth("user", "secret")
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	cookies := resp.Cookies()
	require.NotEmpty(t, cookies)

	req, err = http.NewRequest("GET", srv.URL+"/cmc", nil)
	require.NoError(t, err)
	for _, c := range cookies {
		req.AddCookie(c)
	}
	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestWatch(t *testing.T) {
	run := testRun(t)
	tmpl, err := NewTemplates(nil)
	require.NoError(t, err)
	srv := httptest.NewServer(NewRouter(run, tmpl, nil))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error)
	go func() { done <- run.Watch(ctx) }()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws", nil)
	require.NoError(t, err)
	defer conn.Close()
	messages := make(chan string, 10)
	go func() {
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				close(messages)
				return
			}
			messages <- string(msg)
		}
	}()

	// keep updating until the watcher and websocket are both ready
	var msg string
	timeout := time.After(10 * time.Second)
wait:
	for {
		require.NoError(t, reid.SaveStats(run.StatsFile(), testStats(5)))
		select {
		case msg = <-messages:
			break wait
		case <-time.After(200 * time.Millisecond):
		case <-timeout:
			t.Fatal("timeout waiting for update")
		}
	}
	assert.Equal(t, "5000", msg)
	run.Lock()
	assert.Len(t, run.Stats, 5)
	run.Unlock()

	cancel()
	assert.NoError(t, <-done)
}
