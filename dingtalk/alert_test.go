package dingtalk

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/signal"
)

func TestNewAlertSinkReturnsNilWithoutAccessToken(t *testing.T) {
	require.Nil(t, NewAlertSink("", "", nil))
}

func TestNewAlertSinkBuildsClientWithAccessToken(t *testing.T) {
	sink := NewAlertSink("tok", "shh", nil)
	require.NotNil(t, sink)
	require.NotNil(t, sink.client)
}

func TestAttachFiresMarkdownAlertOnSpiderError(t *testing.T) {
	received := make(chan Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		json.NewEncoder(w).Encode(Response{ErrCode: 0})
	}))
	t.Cleanup(srv.Close)

	sink := NewAlertSink("tok", "", nil)
	sink.client.webhookURL = srv.URL

	disp := signal.New(nil, "test", nil)
	sink.Attach(disp)

	err := disp.Fire(context.Background(), signal.Event{Name: signal.SpiderError, Source: "spider-a", Data: "boom"})
	require.NoError(t, err, "alert delivery failures must never fail the crawl")

	select {
	case msg := <-received:
		require.Equal(t, MsgTypeMarkdown, msg.MsgType)
		require.Contains(t, msg.Markdown.Text, "spider-a")
	default:
		t.Fatal("expected the spider_error alert to reach the webhook")
	}
}

func TestAttachFiresMarkdownAlertOnEngineStopped(t *testing.T) {
	received := make(chan Message, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var msg Message
		require.NoError(t, json.NewDecoder(r.Body).Decode(&msg))
		received <- msg
		json.NewEncoder(w).Encode(Response{ErrCode: 0})
	}))
	t.Cleanup(srv.Close)

	sink := NewAlertSink("tok", "", nil)
	sink.client.webhookURL = srv.URL

	disp := signal.New(nil, "test", nil)
	sink.Attach(disp)

	err := disp.Fire(context.Background(), signal.Event{Name: signal.EngineStopped, Source: "spider-a", Data: "finished"})
	require.NoError(t, err)

	select {
	case msg := <-received:
		require.Equal(t, MsgTypeMarkdown, msg.MsgType)
		require.Contains(t, msg.Markdown.Text, "finished")
	default:
		t.Fatal("expected the engine_stopped alert to reach the webhook")
	}
}

func TestAttachDoesNotReactToUnrelatedSignals(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		json.NewEncoder(w).Encode(Response{ErrCode: 0})
	}))
	t.Cleanup(srv.Close)

	sink := NewAlertSink("tok", "", nil)
	sink.client.webhookURL = srv.URL

	disp := signal.New(nil, "test", nil)
	sink.Attach(disp)

	require.NoError(t, disp.Fire(context.Background(), signal.Event{Name: signal.SpiderOpened, Source: "spider-a"}))
	require.False(t, called, "AlertSink only subscribes to spider_error and engine_stopped")
}
