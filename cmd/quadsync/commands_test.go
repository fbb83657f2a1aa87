package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

type recordedRequest struct {
	Method string
	Path   string
	Body   string
}

type testServer struct {
	server   *httptest.Server
	requests []recordedRequest
}

func newTestServer(t *testing.T, responses map[string]string) *testServer {
	t.Helper()
	ts := &testServer{}

	ts.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body bytes.Buffer
		body.ReadFrom(r.Body)

		ts.requests = append(ts.requests, recordedRequest{
			Method: r.Method,
			Path:   r.URL.RequestURI(),
			Body:   body.String(),
		})

		key := r.Method + " " + r.URL.Path
		if resp, ok := responses[key]; ok {
			w.Header().Set("Content-Type", "application/json")
			w.Write([]byte(resp))
			return
		}

		w.WriteHeader(404)
		w.Write([]byte(`{"error":"not found"}`))
	}))

	t.Cleanup(ts.server.Close)
	return ts
}

func (ts *testServer) client() *apiClient {
	return &apiClient{
		baseURL:    ts.server.URL,
		httpClient: ts.server.Client(),
	}
}

var ctx = context.Background()

func TestStoreCommand_PostsDocument(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"POST /documents": `{"success":true,"doc_id":"doc-1","system_status":"healthy","affected_stores":["relational","vector","graph","cache"]}`,
	})

	client := ts.client()

	req := map[string]any{
		"id":      "doc-1",
		"content": "hello world",
		"tags":    []string{"notes"},
	}
	resp, err := client.post(ctx, "/documents", req)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var result syncResultView
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if !result.Success || result.SystemStatus != "healthy" {
		t.Errorf("result = %+v, want healthy success", result)
	}
	if len(result.AffectedStores) != 4 {
		t.Errorf("affected stores = %v, want all four", result.AffectedStores)
	}

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	var body map[string]any
	if err := json.Unmarshal([]byte(ts.requests[0].Body), &body); err != nil {
		t.Fatalf("body parse error: %v", err)
	}
	if body["content"] != "hello world" {
		t.Errorf("body.content = %v, want hello world", body["content"])
	}
}

func TestStoreCommand_MissingArgs(t *testing.T) {
	defer rootCmd.SetArgs(nil)

	rootCmd.SetArgs([]string{"store"})
	err := rootCmd.Execute()
	if err == nil {
		t.Fatal("expected error for missing args")
	}
	if !strings.Contains(err.Error(), "required") {
		t.Errorf("error = %q, want it to mention 'required'", err.Error())
	}
}

func TestDeleteCommand_AtomicFailureBodyIsDecodable(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte(`{"success":false,"doc_id":"doc-1","system_status":"critical_failure","error":"critical database failure"}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	resp, err := client.delete(ctx, "/documents/doc-1")
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result syncResultView
	if err := decodeJSON(resp, &result); err != nil {
		t.Fatalf("502 body must decode as a sync result: %v", err)
	}
	if result.Success || result.SystemStatus != "critical_failure" {
		t.Errorf("result = %+v, want critical_failure", result)
	}
}

func TestCheckCommand_ReportsInconsistency(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /documents/doc-1/consistency": `{"doc_id":"doc-1","per_store":{"relational":true,"vector":false},"overall_consistent":false,"inconsistencies":["vector disagrees with relational for doc-1"]}`,
	})

	client := ts.client()
	resp, err := client.get(ctx, "/documents/doc-1/consistency")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	var report struct {
		PerStore          map[string]bool `json:"per_store"`
		OverallConsistent bool            `json:"overall_consistent"`
		Inconsistencies   []string        `json:"inconsistencies"`
	}
	if err := decodeJSON(resp, &report); err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if report.OverallConsistent {
		t.Error("expected inconsistent report")
	}
	if len(report.Inconsistencies) != 1 {
		t.Errorf("inconsistencies = %v, want 1 entry", report.Inconsistencies)
	}
}

func TestSearchCommand_URLEncoding(t *testing.T) {
	ts := newTestServer(t, map[string]string{
		"GET /search": `{"matches":[]}`,
	})

	client := ts.client()
	query := "go & python preferences"
	path := fmt.Sprintf("/search?q=%s&k=5", url.QueryEscape(query))
	resp, err := client.get(ctx, path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	defer resp.Body.Close()

	if len(ts.requests) != 1 {
		t.Fatalf("expected 1 request, got %d", len(ts.requests))
	}
	reqPath := ts.requests[0].Path
	if strings.Contains(reqPath, "& python") {
		t.Errorf("query not URL-encoded: %q", reqPath)
	}
	if !strings.Contains(reqPath, "q=go+%26+python+preferences") {
		t.Errorf("unexpected encoded path: %q", reqPath)
	}
}

func TestStatusCommand_Stopped(t *testing.T) {
	ts := newTestServer(t, map[string]string{})
	ts.server.Close()

	client := ts.client()
	_, err := client.get(ctx, "/health")
	if err == nil {
		t.Fatal("expected error for stopped server")
	}
	if !strings.Contains(err.Error(), "not reachable") {
		t.Errorf("error = %q, want it to mention 'not reachable'", err.Error())
	}
}

func TestNoColorFlag(t *testing.T) {
	old := noColor
	defer func() { noColor = old }()

	noColor = true
	result := colorize(colorGreen, "test message")
	if strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=true should not contain ANSI codes, got %q", result)
	}
	if result != "test message" {
		t.Errorf("result = %q, want %q", result, "test message")
	}

	noColor = false
	result = colorize(colorGreen, "test message")
	if !strings.Contains(result, "\033[") {
		t.Errorf("colorize with noColor=false should contain ANSI codes, got %q", result)
	}
}

func TestDecodeJSON_ErrorResponse(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(400)
		w.Write([]byte(`{"error":"id is required"}`))
	}))
	defer ts.Close()

	client := &apiClient{baseURL: ts.URL, httpClient: ts.Client()}

	resp, err := client.post(ctx, "/documents", map[string]any{"content": "no id"})
	if err != nil {
		t.Fatalf("unexpected transport error: %v", err)
	}

	var result any
	err = decodeJSON(resp, &result)
	if err == nil {
		t.Fatal("expected error for 400 response")
	}
	if !strings.Contains(err.Error(), "400") {
		t.Errorf("error = %q, want it to contain '400'", err.Error())
	}
}
