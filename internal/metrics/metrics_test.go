package metrics

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestServer_ServesMetricsAndHealth(t *testing.T) {
	server := NewServer("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, server.Start())
	defer func() { _ = server.Stop(context.Background()) }()

	FetchTotal.WithLabelValues(ResultSuccess).Inc()

	base := "http://" + server.Addr()

	resp, err := http.Get(base + "/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "OK", string(body))

	resp, err = http.Get(base + "/metrics")
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	assert.Contains(t, string(body), `mcledger_fetch_total{result="success"}`)
}

func TestServer_StartReportsBindError(t *testing.T) {
	first := NewServer("127.0.0.1:0", zerolog.Nop())
	require.NoError(t, first.Start())
	defer func() { _ = first.Stop(context.Background()) }()

	second := NewServer(first.Addr(), zerolog.Nop())
	assert.Error(t, second.Start())
}

func TestResult(t *testing.T) {
	assert.Equal(t, ResultSuccess, Result(nil))
	assert.Equal(t, ResultFailure, Result(errors.New("boom")))
}

func TestPush(t *testing.T) {
	type pushed struct {
		path string
		body []byte
	}
	got := make(chan pushed, 1)
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		got <- pushed{path: r.URL.Path, body: b}
		w.WriteHeader(http.StatusOK)
	}))
	defer gateway.Close()

	PlaySeconds.Add(60)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, Push(ctx, gateway.URL, "mcledger"))

	p := <-got
	assert.Equal(t, "/metrics/job/mcledger", p.path)
	assert.NotEmpty(t, p.body)
}

func TestPush_GatewayError(t *testing.T) {
	gateway := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer gateway.Close()

	err := Push(context.Background(), gateway.URL, "mcledger")
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), gateway.URL))
}

func TestCollectorsRegistered(t *testing.T) {
	before := testutil.ToFloat64(PlayersDiscovered)
	PlayersDiscovered.Inc()
	assert.Equal(t, before+1, testutil.ToFloat64(PlayersDiscovered))
}
