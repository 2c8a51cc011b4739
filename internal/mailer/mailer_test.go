package mailer_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/ricirt/taskdispatch/internal/mailer"
)

func TestMessage_Validate(t *testing.T) {
	assert.NoError(t, mailer.Message{To: "a@example.com", Subject: "hi"}.Validate())
	assert.ErrorIs(t, mailer.Message{To: "not an address", Subject: "hi"}.Validate(), mailer.ErrInvalidMessage)
	assert.ErrorIs(t, mailer.Message{To: "a@example.com"}.Validate(), mailer.ErrInvalidMessage)
}

func TestNewPostmark_InvalidConfig(t *testing.T) {
	_, err := mailer.NewPostmark("", "acct", "from@example.com")
	assert.ErrorIs(t, err, mailer.ErrInvalidConfig)

	_, err = mailer.NewPostmark("server", "acct", "")
	assert.ErrorIs(t, err, mailer.ErrInvalidConfig)
}

func TestPostmark_Send(t *testing.T) {
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/email", r.URL.Path)
		assert.Equal(t, "server-token", r.Header.Get("X-Postmark-Server-Token"))
		_ = json.NewDecoder(r.Body).Decode(&got)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"To":"u@example.com","MessageID":"abc","ErrorCode":0,"Message":"OK"}`))
	}))
	defer srv.Close()

	p, err := mailer.NewPostmark("server-token", "", "noreply@todoapp.local", mailer.WithPostmarkBaseURL(srv.URL))
	require.NoError(t, err)

	err = p.Send(context.Background(), mailer.Message{
		To: "u@example.com", Subject: "Welcome to TodoApp!", Body: "Hello", Tag: "welcome",
	})
	require.NoError(t, err)
	assert.Equal(t, "u@example.com", got["To"])
	assert.Equal(t, "Welcome to TodoApp!", got["Subject"])
	assert.Equal(t, "Hello", got["TextBody"])
}

func TestPostmark_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"ErrorCode":300,"Message":"Invalid email request"}`))
	}))
	defer srv.Close()

	p, err := mailer.NewPostmark("server-token", "", "noreply@todoapp.local", mailer.WithPostmarkBaseURL(srv.URL))
	require.NoError(t, err)

	err = p.Send(context.Background(), mailer.Message{To: "u@example.com", Subject: "s"})
	assert.ErrorIs(t, err, mailer.ErrSendFailed)
}

func TestLogSender(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	s := mailer.NewLogSender(zap.New(core))

	require.NoError(t, s.Send(context.Background(), mailer.Message{To: "u@example.com", Subject: "Daily digest"}))
	entries := logs.FilterMessage("email").All()
	require.Len(t, entries, 1)
	assert.Equal(t, "Daily digest", entries[0].ContextMap()["subject"])
}

func TestRateLimited_Throttles(t *testing.T) {
	rec := mailer.NewRecorder()
	s := mailer.NewRateLimited(rec, 10)
	msg := mailer.Message{To: "u@example.com", Subject: "s"}

	start := time.Now()
	for i := 0; i < 15; i++ {
		require.NoError(t, s.Send(context.Background(), msg))
	}
	// 10 from the burst, 5 more at 10/s.
	assert.GreaterOrEqual(t, time.Since(start), 400*time.Millisecond)
	assert.Len(t, rec.Sent(), 15)
}

func TestRateLimited_ContextCancelled(t *testing.T) {
	rec := mailer.NewRecorder()
	s := mailer.NewRateLimited(rec, 1)
	msg := mailer.Message{To: "u@example.com", Subject: "s"}
	require.NoError(t, s.Send(context.Background(), msg))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.Error(t, s.Send(ctx, msg))
	assert.Len(t, rec.Sent(), 1)
}

func TestRecorder_FailFor(t *testing.T) {
	rec := mailer.NewRecorder()
	rec.FailFor["bad@example.com"] = true

	assert.ErrorIs(t, rec.Send(context.Background(), mailer.Message{To: "bad@example.com", Subject: "s"}), mailer.ErrSendFailed)
	assert.NoError(t, rec.Send(context.Background(), mailer.Message{To: "ok@example.com", Subject: "s"}))
	assert.Len(t, rec.SentTo("ok@example.com"), 1)
	assert.Empty(t, rec.SentTo("bad@example.com"))
}
