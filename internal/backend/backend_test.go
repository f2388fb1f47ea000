package backend

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"
)

type recorded struct {
	method, path, auth string
	query              url.Values
	body               map[string]any
}

func newBackend(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*httptest.Server, chan recorded) {
	t.Helper()
	calls := make(chan recorded, 8)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recorded{method: r.Method, path: r.URL.Path, auth: r.Header.Get("Authorization"), query: r.URL.Query()}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.body)
		}
		calls <- rec
		handler(w, r)
	}))
	t.Cleanup(srv.Close)
	return srv, calls
}

func TestStartAndEnd(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	c := New(Options{BaseURL: srv.URL + "/api", Token: "tok"})

	if err := c.Start(context.Background(), "abc", "7"); err != nil {
		t.Fatal(err)
	}
	if err := c.End(context.Background(), "abc", "7"); err != nil {
		t.Fatal(err)
	}

	testCases := []struct{ path string }{
		{"/api/video-call/abc/start"},
		{"/api/video-call/abc/end"},
	}
	for _, tc := range testCases {
		got := <-calls
		if got.method != http.MethodPost || got.path != tc.path {
			t.Errorf("got %s %s, want POST %s", got.method, got.path, tc.path)
		}
		if got.auth != "Bearer tok" {
			t.Errorf("Authorization = %q", got.auth)
		}
		if got.body["userId"] != "7" {
			t.Errorf("body = %v", got.body)
		}
	}
}

func TestStatus(t *testing.T) {
	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	testCases := []struct {
		name string
		body string
		want *time.Time
	}{
		{"started", `{"call":{"started_at":"2026-03-01T10:00:00Z"}}`, &started},
		{"not started", `{"call":{"started_at":null}}`, nil},
		{"missing call", `{}`, nil},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				_, _ = w.Write([]byte(tc.body))
			})

			st, err := New(Options{BaseURL: srv.URL}).Status(context.Background(), "abc")
			if err != nil {
				t.Fatal(err)
			}
			switch {
			case tc.want == nil && st.StartedAt != nil:
				t.Errorf("StartedAt = %v, want nil", st.StartedAt)
			case tc.want != nil && (st.StartedAt == nil || !st.StartedAt.Equal(*tc.want)):
				t.Errorf("StartedAt = %v, want %v", st.StartedAt, tc.want)
			}
		})
	}
}

func TestStatusError(t *testing.T) {
	srv, _ := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such call", http.StatusNotFound)
	})
	c := New(Options{BaseURL: srv.URL})

	_, err := c.Status(context.Background(), "missing")
	var se *StatusError
	if !errors.As(err, &se) || se.Code != http.StatusNotFound {
		t.Fatalf("err = %v, want StatusError 404", err)
	}

	if err := c.End(context.Background(), "missing", "7"); !errors.As(err, &se) {
		t.Errorf("End err = %v, want StatusError", err)
	}
}

func TestICECredentials(t *testing.T) {
	srv, calls := newBackend(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"iceServers":[{"urls":["turn:t.example:3478"],"username":"1:7","credential":"x"}],"ttl":600}`))
	})

	c := New(Options{BaseURL: "http://unused.invalid", CredentialsURL: srv.URL + "/turn-credentials", Token: "tok"})
	creds, err := c.ICECredentials(context.Background(), "abc", "7")
	if err != nil {
		t.Fatal(err)
	}
	if creds.TTL != 600 || len(creds.ICEServers) != 1 || creds.ICEServers[0].Username != "1:7" {
		t.Errorf("creds = %+v", creds)
	}
	if got := <-calls; got.path != "/turn-credentials" || got.auth != "Bearer tok" {
		t.Errorf("request = %+v", got)
	} else if got.query.Get("callId") != "abc" || got.query.Get("userId") != "7" {
		t.Errorf("query = %v, want callId=abc userId=7", got.query)
	}

	if _, err := New(Options{BaseURL: srv.URL}).ICECredentials(context.Background(), "abc", "7"); err == nil {
		t.Error("expected error without credential endpoint")
	}
}
