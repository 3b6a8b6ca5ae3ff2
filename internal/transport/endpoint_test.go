package transport

import (
	"context"
	"net/url"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/credentials"
)

func TestStaticEndpoint(t *testing.T) {
	ep := NewStaticEndpoint("ws://localhost:9000/stream", "secret")

	u, header, err := ep.Endpoint(context.Background())
	if err != nil {
		t.Fatalf("Endpoint failed: %v", err)
	}
	if u != "ws://localhost:9000/stream" {
		t.Errorf("Unexpected url %s", u)
	}
	if header.Get("Authorization") != "Bearer secret" {
		t.Errorf("Expected bearer header, got %v", header)
	}

	// callers may mutate the returned header
	header.Set("X-Test", "1")
	_, again, _ := ep.Endpoint(context.Background())
	if again.Get("X-Test") != "" {
		t.Error("Expected a fresh header per call")
	}

	if _, _, err := (StaticEndpoint{}).Endpoint(context.Background()); err == nil {
		t.Error("Expected error for empty url")
	}
}

func TestAWSPresignerURL(t *testing.T) {
	provider := credentials.NewStaticCredentialsProvider("AKIDEXAMPLE", "wJalrXUtnFEMI/K7MDENG+bPxRfiCYEXAMPLEKEY", "")
	p := newAWSPresigner(TranscribeParams{
		Region:       "us-west-2",
		LanguageCode: "zh-CN",
		SampleRate:   16000,
		Expires:      time.Minute,
	}, provider)
	p.now = func() time.Time { return time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC) }

	raw, _, err := p.Endpoint(context.Background())
	if err != nil {
		t.Fatalf("Endpoint failed: %v", err)
	}

	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("Invalid url %q: %v", raw, err)
	}
	if u.Scheme != "wss" {
		t.Errorf("Expected wss scheme, got %s", u.Scheme)
	}
	if u.Host != "transcribestreaming.us-west-2.amazonaws.com:8443" {
		t.Errorf("Unexpected host %s", u.Host)
	}
	if u.Path != "/stream-transcription-websocket" {
		t.Errorf("Unexpected path %s", u.Path)
	}

	q := u.Query()
	checks := map[string]string{
		"language-code":  "zh-CN",
		"media-encoding": "pcm",
		"sample-rate":    "16000",
		"X-Amz-Expires":  "60",
		"X-Amz-Date":     "20250102T030405Z",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("Query %s = %q, want %q", key, got, want)
		}
	}
	if q.Get("X-Amz-Signature") == "" {
		t.Error("Expected a signature")
	}
	if q.Get("X-Amz-Credential") == "" {
		t.Error("Expected a credential scope")
	}
}

func TestAWSPresignerRequiresRegion(t *testing.T) {
	if _, err := NewAWSPresigner(context.Background(), TranscribeParams{}, "a", "b"); err == nil {
		t.Error("Expected error without region")
	}
}
