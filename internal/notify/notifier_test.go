package notify

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeSender struct {
	name string
	sent []string
	err  error
}

func (f *fakeSender) Send(_ context.Context, title, _ string) error {
	f.sent = append(f.sent, title)
	return f.err
}

func (f *fakeSender) Name() string { return f.name }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNotifyFiltersByEvent(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventOrderFailed}, testLogger())
	ctx := context.Background()

	require.NoError(t, n.OrderPlaced(ctx, "t1", "buy", 2.0, 0.57))
	require.NoError(t, n.OrderFailed(ctx, "t2", "rejected", 3))

	require.Equal(t, []string{"Order failed"}, s.sent)
}

func TestNotifyEmptyEventListAllowsAll(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, nil, testLogger())
	ctx := context.Background()

	require.NoError(t, n.OrderPlaced(ctx, "t1", "buy", 2.0, 0.57))
	require.NoError(t, n.Notify(ctx, EventStartup, "started", "up"))

	require.Equal(t, []string{"Order placed", "started"}, s.sent)
}

func TestNotifyAllBypassesFilter(t *testing.T) {
	s := &fakeSender{name: "fake"}
	n := NewNotifier([]Sender{s}, []string{EventOrderFailed}, testLogger())

	require.NoError(t, n.NotifyAll(context.Background(), "urgent", "msg"))
	require.Equal(t, []string{"urgent"}, s.sent)
}

func TestDispatchCollectsSenderErrors(t *testing.T) {
	bad := &fakeSender{name: "bad", err: errors.New("boom")}
	good := &fakeSender{name: "good"}
	n := NewNotifier([]Sender{bad, good}, nil, testLogger())

	err := n.NotifyAll(context.Background(), "title", "msg")
	require.ErrorContains(t, err, "bad: boom")
	require.Equal(t, []string{"title"}, good.sent, "one failing sender must not block the others")
}

func TestNotifierWithoutSenders(t *testing.T) {
	n := NewNotifier(nil, nil, testLogger())
	require.NoError(t, n.NotifyAll(context.Background(), "title", "msg"))
}
