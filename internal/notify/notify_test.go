package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestResolveTemplate(t *testing.T) {
	cases := []struct {
		locale string
		want   string
	}{
		{"en", "Credits refunded for task %s"},
		{"en-US", "Credits refunded for task %s"},
		{"ja", "タスク %s のクレジット返金"},
		{"ja-JP", "タスク %s のクレジット返金"},
		{"fr", "Credits refunded for task %s"},
		{"", "Credits refunded for task %s"},
	}
	for _, tc := range cases {
		if got := resolveTemplate(tc.locale).subject; got != tc.want {
			t.Errorf("resolveTemplate(%q).subject = %q, want %q", tc.locale, got, tc.want)
		}
	}
}

func TestSendGridSenderPayload(t *testing.T) {
	var captured sendGridMail
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer sg-key" {
			t.Errorf("Authorization = %q", got)
		}
		if r.URL.Path != "/v3/mail/send" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&captured); err != nil {
			t.Errorf("decode payload: %v", err)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sender, err := NewSendGridSender(SendGridOptions{
		APIKey:     "sg-key",
		From:       "billing@example.com",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}

	notice := RefundNotice{
		Email:   "user@example.com",
		Locale:  "ja",
		TaskID:  "task-42",
		Credits: 300,
		Reason:  "vendor timeout",
	}
	if err := sender.SendRefundNotice(context.Background(), notice); err != nil {
		t.Fatalf("SendRefundNotice: %v", err)
	}

	if captured.From.Email != "billing@example.com" {
		t.Errorf("from = %q", captured.From.Email)
	}
	if len(captured.Personalizations) != 1 || captured.Personalizations[0].To[0].Email != "user@example.com" {
		t.Errorf("personalizations = %+v", captured.Personalizations)
	}
	if !strings.Contains(captured.Subject, "task-42") {
		t.Errorf("subject = %q", captured.Subject)
	}
	if len(captured.Content) != 1 || !strings.Contains(captured.Content[0].Value, "300") {
		t.Errorf("content = %+v", captured.Content)
	}
	if !strings.Contains(captured.Content[0].Value, "vendor timeout") {
		t.Errorf("body missing reason: %q", captured.Content[0].Value)
	}
}

func TestSendGridSenderRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"message":"bad address"}]}`, http.StatusBadRequest)
	}))
	defer srv.Close()

	sender, err := NewSendGridSender(SendGridOptions{
		APIKey:     "sg-key",
		From:       "billing@example.com",
		BaseURL:    srv.URL,
		HTTPClient: srv.Client(),
	})
	if err != nil {
		t.Fatalf("NewSendGridSender: %v", err)
	}

	if err := sender.SendRefundNotice(context.Background(), RefundNotice{Email: "nope"}); err == nil {
		t.Fatal("expected error for rejected send")
	}
}
