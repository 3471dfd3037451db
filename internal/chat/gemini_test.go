package chat_test

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/MrWong99/telecaller/internal/chat"
)

type geminiRequest struct {
	Contents []struct {
		Role  string `json:"role"`
		Parts []struct {
			Text       string `json:"text"`
			InlineData *struct {
				MIMEType string `json:"mimeType"`
				Data     string `json:"data"`
			} `json:"inlineData"`
		} `json:"parts"`
	} `json:"contents"`
	SystemInstruction *struct {
		Parts []struct {
			Text string `json:"text"`
		} `json:"parts"`
	} `json:"systemInstruction"`
}

func newGeminiServer(t *testing.T, status int, body string, got *geminiRequest, path *string) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		*path = r.URL.Path
		if err := json.NewDecoder(r.Body).Decode(got); err != nil {
			t.Errorf("decode request: %v", err)
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestGemini_Generate(t *testing.T) {
	t.Parallel()

	var (
		req  geminiRequest
		path string
	)
	srv := newGeminiServer(t, http.StatusOK,
		`{"candidates":[{"content":{"role":"model","parts":[{"text":"Namaste!"}]},"finishReason":"STOP"}]}`,
		&req, &path)

	g, err := chat.NewGemini(context.Background(), "test-key", chat.WithGeminiBaseURL(srv.URL+"/"))
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	if g.Model() != chat.DefaultGeminiModel {
		t.Errorf("Model = %q", g.Model())
	}

	img := &chat.Attachment{MIMEType: "image/png", Data: []byte{1, 2, 3}}
	history := []chat.Turn{
		{Role: chat.RoleUser, Text: "hello"},
		{Role: chat.RoleModel, Text: "hi"},
		{Role: chat.RoleUser, Text: "look", Image: img},
	}
	text, err := g.Generate(context.Background(), history, "be an agent")
	if err != nil {
		t.Fatalf("Generate: %v", err)
	}
	if text != "Namaste!" {
		t.Errorf("text = %q", text)
	}

	if !strings.HasSuffix(path, "models/gemini-2.5-flash:generateContent") {
		t.Errorf("path = %q", path)
	}
	if len(req.Contents) != 3 {
		t.Fatalf("contents = %d; want 3", len(req.Contents))
	}
	if req.Contents[1].Role != "model" {
		t.Errorf("contents[1].role = %q", req.Contents[1].Role)
	}
	last := req.Contents[2]
	if last.Role != "user" || len(last.Parts) != 2 {
		t.Fatalf("last content = %+v", last)
	}
	if last.Parts[0].InlineData == nil || last.Parts[0].InlineData.MIMEType != "image/png" {
		t.Fatalf("first part is not the image: %+v", last.Parts[0])
	}
	if last.Parts[0].InlineData.Data != base64.StdEncoding.EncodeToString(img.Data) {
		t.Errorf("image data = %q", last.Parts[0].InlineData.Data)
	}
	if last.Parts[1].Text != "look" {
		t.Errorf("text part = %q", last.Parts[1].Text)
	}
	if req.SystemInstruction == nil || req.SystemInstruction.Parts[0].Text != "be an agent" {
		t.Errorf("systemInstruction = %+v", req.SystemInstruction)
	}
}

func TestGemini_GenerateError(t *testing.T) {
	t.Parallel()

	var (
		req  geminiRequest
		path string
	)
	srv := newGeminiServer(t, http.StatusBadRequest,
		`{"error":{"code":400,"message":"bad request","status":"INVALID_ARGUMENT"}}`, &req, &path)

	g, err := chat.NewGemini(context.Background(), "test-key",
		chat.WithGeminiBaseURL(srv.URL+"/"), chat.WithGeminiModel("gemini-x"))
	if err != nil {
		t.Fatalf("NewGemini: %v", err)
	}
	_, err = g.Generate(context.Background(), []chat.Turn{{Role: chat.RoleUser, Text: "hi"}}, "")
	var rre *chat.RemoteRequestError
	if !errors.As(err, &rre) {
		t.Fatalf("err = %v; want *RemoteRequestError", err)
	}
	if rre.Backend != "gemini" {
		t.Errorf("Backend = %q", rre.Backend)
	}
	if !strings.Contains(path, "gemini-x") {
		t.Errorf("path = %q; want the configured model", path)
	}
}

func TestNewGemini_MissingKey(t *testing.T) {
	t.Parallel()

	if _, err := chat.NewGemini(context.Background(), ""); err == nil {
		t.Fatal("expected error for empty API key")
	}
}
