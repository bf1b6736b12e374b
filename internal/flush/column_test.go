package flush

import (
	"bufio"
	"context"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vyrodovalexey/apiguard/internal/telemetry"
)

func columnTestEntries(n int) []telemetry.Entry {
	at := time.UnixMilli(1700000000000)
	entries := make([]telemetry.Entry, 0, n)
	for i := 0; i < n; i++ {
		entries = append(entries, telemetry.NewEntry(
			map[string]string{"env": "prod", "server": "eu-1", "event": "request"},
			"line",
			at.Add(time.Duration(i)*time.Millisecond),
		))
	}
	return entries
}

func readRows(t *testing.T, r *http.Request) []columnRow {
	t.Helper()

	var rows []columnRow
	scanner := bufio.NewScanner(r.Body)
	for scanner.Scan() {
		var row columnRow
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		rows = append(rows, row)
	}
	require.NoError(t, scanner.Err())
	return rows
}

func TestColumnSink_DeliverRowsAndQuery(t *testing.T) {
	t.Parallel()

	var (
		mu    sync.Mutex
		query string
		auth  string
		rows  []columnRow
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		query = r.URL.Query().Get("query")
		user, pass, _ := r.BasicAuth()
		auth = user + ":" + pass
		rows = append(rows, readRows(t, r)...)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewColumnSink(ColumnSinkConfig{
		Endpoint: srv.URL,
		User:     "writer",
		Password: "secret",
		Table:    "request_log",
		Retries:  1,
	}, srv.Client(), nil, nil)

	require.NoError(t, sink.Deliver(context.Background(), columnTestEntries(3)))

	assert.Equal(t, "INSERT INTO request_log (ts_ms, env, server, event, line) FORMAT JSONEachRow", query)
	assert.Equal(t, "writer:secret", auth)

	require.Len(t, rows, 3)
	assert.Equal(t, int64(1700000000000), rows[0].TsMs)
	assert.Equal(t, "prod", rows[0].Env)
	assert.Equal(t, "eu-1", rows[0].Server)
	assert.Equal(t, "request", rows[0].Event)
	assert.Equal(t, "line", rows[0].Line)
}

func TestColumnSink_Chunking(t *testing.T) {
	t.Parallel()

	var (
		mu         sync.Mutex
		chunkSizes []int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := readRows(t, r)
		mu.Lock()
		chunkSizes = append(chunkSizes, len(rows))
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewColumnSink(ColumnSinkConfig{
		Endpoint:  srv.URL,
		Table:     "request_log",
		ChunkSize: 4,
		Retries:   1,
	}, srv.Client(), nil, nil)

	require.NoError(t, sink.Deliver(context.Background(), columnTestEntries(10)))
	assert.Equal(t, []int{4, 4, 2}, chunkSizes)
}

func TestColumnSink_IndependentChunkFailure(t *testing.T) {
	t.Parallel()

	// The second chunk always fails; the first and third commit anyway.
	var (
		mu        sync.Mutex
		committed []int
		calls     int
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rows := readRows(t, r)
		mu.Lock()
		defer mu.Unlock()
		calls++
		if calls == 2 || calls == 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		committed = append(committed, len(rows))
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	sink := NewColumnSink(ColumnSinkConfig{
		Endpoint:  srv.URL,
		Table:     "request_log",
		ChunkSize: 2,
		Retries:   2,
		RetryBase: time.Millisecond,
	}, srv.Client(), nil, nil)

	err := sink.Deliver(context.Background(), columnTestEntries(6))
	require.Error(t, err)
	assert.ErrorContains(t, err, "dropped 1 of 3 column chunks")
	assert.Equal(t, []int{2, 2}, committed)
}

func TestColumnSink_EmptyBatchIsNoOp(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
	}))
	defer srv.Close()

	sink := NewColumnSink(ColumnSinkConfig{Endpoint: srv.URL, Table: "t", Retries: 1}, srv.Client(), nil, nil)
	require.NoError(t, sink.Deliver(context.Background(), nil))
	assert.Equal(t, int32(0), calls.Load())
}

func TestChunkLines(t *testing.T) {
	t.Parallel()

	rows := [][]byte{{'a'}, {'b'}, {'c'}, {'d'}, {'e'}}

	chunks := chunkLines(rows, 2)
	require.Len(t, chunks, 3)
	assert.Len(t, chunks[0], 2)
	assert.Len(t, chunks[1], 2)
	assert.Len(t, chunks[2], 1)

	assert.Len(t, chunkLines(rows, 10), 1)
	assert.Empty(t, chunkLines(nil, 2))
}
