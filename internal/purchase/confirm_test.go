package purchase

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/stockflow/storefront/internal/notification"
)

type failingNotifier struct{}

func (failingNotifier) Send(context.Context, notification.Message) error {
	return errors.New("broker down")
}

func TestCountdownConfirmerLogsUndeliveredNotice(t *testing.T) {
	var logs bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&logs, nil))
	c := NewCountdownConfirmer(time.Second, failingNotifier{}, logger)
	elapsed := make(chan time.Time, 1)
	elapsed <- time.Now()
	c.after = func(time.Duration) <-chan time.Time { return elapsed }

	ok, err := c.Confirm(context.Background(), Prompt{ID: "p-1", Email: "a@x.com", Intent: Intent{VideoID: "x", Title: "X", Price: 100}})
	if err != nil || !ok {
		t.Fatalf("expected proceed despite delivery failure, got %v %v", ok, err)
	}
	out := logs.String()
	if !strings.Contains(out, "notification delivery failed") || !strings.Contains(out, "broker down") || !strings.Contains(out, "p-1") {
		t.Fatalf("expected delivery failure logged, got %q", out)
	}
}
