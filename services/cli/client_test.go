package cli

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestNewClientValidation(t *testing.T) {
	if _, err := NewClient(""); err == nil {
		t.Fatal("NewClient(\"\") succeeded")
	}
	if _, err := NewClient("not a url"); err == nil {
		t.Fatal("NewClient() with invalid url succeeded")
	}
	client, err := NewClient("http://127.0.0.1:8080/")
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if strings.HasSuffix(client.base, "/") {
		t.Fatalf("base = %q, trailing slash not trimmed", client.base)
	}
}

func TestStartExecution(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost || r.URL.Path != "/v1/executions" {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"execution_id":"exec-1"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	id, err := client.StartExecution(context.Background(), "plan-web", "drill")
	if err != nil {
		t.Fatalf("StartExecution() error = %v", err)
	}
	if id != "exec-1" {
		t.Fatalf("id = %q, want exec-1", id)
	}
}

func TestServerErrorsSurfaceBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusConflict)
		w.Write([]byte(`{"error":"execution already terminal"}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	err = client.Cancel(context.Background(), "exec-1")
	if err == nil {
		t.Fatal("Cancel() succeeded, want error")
	}
	if !strings.Contains(err.Error(), "execution already terminal") {
		t.Fatalf("error = %v, want server-provided message", err)
	}
}

func TestPathEscaping(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.EscapedPath()
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	client, err := NewClient(srv.URL)
	if err != nil {
		t.Fatalf("NewClient() error = %v", err)
	}
	if _, err := client.Execution(context.Background(), "exec/../1"); err != nil {
		t.Fatalf("Execution() error = %v", err)
	}
	if strings.Contains(gotPath, "..") && !strings.Contains(gotPath, "%2F") {
		t.Fatalf("path = %q, id was not escaped", gotPath)
	}
}
