package notify

import (
	"context"
	"errors"
	"net/smtp"
	"strings"
	"testing"
	"time"
)

func TestSMTPSender_Send(t *testing.T) {
	var (
		gotAddr string
		gotTo   []string
		gotMsg  string
		gotAuth smtp.Auth
	)
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 2525, Username: "bot", Password: "pw", From: "docflow@local"})
	s.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotAuth, gotTo, gotMsg = addr, a, to, string(msg)
		return nil
	}

	err := s.Send(context.Background(), Message{To: "author@local", Subject: "Document expiring", Body: "line1\nline2"})
	if err != nil {
		t.Fatalf("Send failed: %v", err)
	}
	if gotAddr != "mail.local:2525" {
		t.Errorf("addr = %q", gotAddr)
	}
	if gotAuth == nil {
		t.Error("expected PLAIN auth when username is set")
	}
	if len(gotTo) != 1 || gotTo[0] != "author@local" {
		t.Errorf("to = %v", gotTo)
	}
	if !strings.Contains(gotMsg, "Subject: Document expiring\r\n") {
		t.Errorf("missing subject header in %q", gotMsg)
	}
	if !strings.Contains(gotMsg, "line1\r\nline2") {
		t.Errorf("body line endings not normalized: %q", gotMsg)
	}
}

func TestSMTPSender_Errors(t *testing.T) {
	s := NewSMTPSender(SMTPConfig{Host: "mail.local", Port: 25, From: "docflow@local", Timeout: 20 * time.Millisecond})

	if err := s.Send(context.Background(), Message{Subject: "x"}); err == nil {
		t.Error("expected error for empty recipient")
	}

	s.send = func(string, smtp.Auth, string, []string, []byte) error { return errors.New("relay denied") }
	if err := s.Send(context.Background(), Message{To: "a@local"}); err == nil || !strings.Contains(err.Error(), "relay denied") {
		t.Errorf("got %v, want relay error", err)
	}

	block := make(chan struct{})
	defer close(block)
	s.send = func(string, smtp.Auth, string, []string, []byte) error { <-block; return nil }
	if err := s.Send(context.Background(), Message{To: "a@local"}); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("got %v, want deadline exceeded", err)
	}
}

func TestLogSender(t *testing.T) {
	if err := (LogSender{}).Send(context.Background(), Message{To: "a@local", Subject: "s"}); err != nil {
		t.Errorf("LogSender returned %v", err)
	}
}
