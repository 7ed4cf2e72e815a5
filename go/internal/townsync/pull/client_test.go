package pull

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenttown/townsync/go/internal/models"
)

func newServer(t *testing.T, routes map[string]func(http.ResponseWriter, *http.Request)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	for path, h := range routes {
		mux.HandleFunc(path, h)
	}
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func writeJSON(body string) func(http.ResponseWriter, *http.Request) {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(body))
	}
}

func TestFetchGameState_WrappedBody(t *testing.T) {
	var auth string
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			writeJSON(`{"success":true,"data":{"state":{"town":{"name":"Harbor","xp":120,"gold":40}}}}`)(w, r)
		},
	})

	client := NewHTTPClient(srv.URL+"/", "tok", nil)
	patch, err := client.FetchGameState(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok", auth)
	require.NotNil(t, patch.Town)
	assert.Equal(t, "Harbor", *patch.Town.Name)
	assert.Equal(t, 120.0, *patch.Town.XP)
}

func TestFetchGameState_NoTokenNoHeader(t *testing.T) {
	var auth string
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: func(w http.ResponseWriter, r *http.Request) {
			auth = r.Header.Get("Authorization")
			writeJSON(`{"town":{"gold":5}}`)(w, r)
		},
	})

	patch, err := NewHTTPClient(srv.URL, "", nil).FetchGameState(context.Background())
	require.NoError(t, err)
	assert.Empty(t, auth)
	assert.Equal(t, 5.0, *patch.Town.Gold)
}

func TestFetchGameState_StatusError(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
			_, _ = w.Write([]byte(`{"message":"upstream down"}`))
		},
	})

	_, err := NewHTTPClient(srv.URL, "", nil).FetchGameState(context.Background())
	var httpErr *HTTPError
	require.True(t, errors.As(err, &httpErr))
	assert.Equal(t, http.StatusBadGateway, httpErr.StatusCode)
	assert.Equal(t, "upstream down", httpErr.Message)
	assert.Contains(t, err.Error(), GameStatePath)
}

func TestFetchGameState_Malformed(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: writeJSON(`not json`),
	})
	_, err := NewHTTPClient(srv.URL, "", nil).FetchGameState(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)

	srv = newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: writeJSON(`{"success":false,"error":"nope"}`),
	})
	_, err = NewHTTPClient(srv.URL, "", nil).FetchGameState(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}

func TestFetchGameState_ContextCancelled(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		GameStatePath: writeJSON(`{}`),
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewHTTPClient(srv.URL, "", nil).FetchGameState(ctx)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFetchTasksAndReports(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		TasksPath: writeJSON(`{"success":true,"data":[
			{"taskId":"t1","assigneeId":"a1","status":"assigned","updatedAt":"2026-01-01T00:00:00Z"},
			{"taskId":"broken"}
		]}`),
		ReportsPath: writeJSON(`[
			{"reportId":"r1","taskId":"t1","workerId":"a1","status":"done","createdAt":"2026-01-01T00:00:01Z"}
		]`),
	})
	client := NewHTTPClient(srv.URL, "", nil)

	tasks, err := client.FetchTasks(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t1", tasks[0].TaskID)

	reports, err := client.FetchReports(context.Background())
	require.NoError(t, err)
	require.Len(t, reports, 1)
	assert.Equal(t, models.TaskStatusDone, reports[0].Status)
}

func TestFetchTasks_Malformed(t *testing.T) {
	srv := newServer(t, map[string]func(http.ResponseWriter, *http.Request){
		TasksPath: writeJSON(`{"success":true,"data":{"unexpected":1}}`),
	})
	_, err := NewHTTPClient(srv.URL, "", nil).FetchTasks(context.Background())
	assert.ErrorIs(t, err, ErrMalformed)
}
