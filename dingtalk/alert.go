package dingtalk

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/nyxcrawl/scrapyengine/signal"
)

// AlertSink forwards a crawl's SpiderError and EngineStopped signals to a
// DingTalk group chat, the operational alerting channel the deployments
// this engine runs inside already use for other internal services.
type AlertSink struct {
	client *Client
	logger *slog.Logger
}

// NewAlertSink builds an AlertSink against the group robot identified by
// accessToken/secret. Attach it to a run with Attach; a zero-value
// accessToken disables alerting entirely (NewAlertSink returns nil).
func NewAlertSink(accessToken, secret string, logger *slog.Logger) *AlertSink {
	if accessToken == "" {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &AlertSink{
		client: NewClient(ClientOption{AccessToken: accessToken, Secret: secret}),
		logger: logger,
	}
}

// Attach registers the sink's handlers on disp. Send failures are logged
// and swallowed — a broken alert channel must never fail the crawl it is
// reporting on.
func (a *AlertSink) Attach(disp *signal.Dispatcher) {
	disp.On(signal.SpiderError, a.onSpiderError)
	disp.On(signal.EngineStopped, a.onEngineStopped)
}

func (a *AlertSink) onSpiderError(ctx context.Context, ev signal.Event) error {
	text := fmt.Sprintf("**Spider error**\n\n- spider: %s\n- detail: %v", ev.Source, ev.Data)
	if err := a.client.SendMarkdown("spider error", text, nil); err != nil {
		a.logger.Error("dingtalk: send spider_error alert", "spider", ev.Source, "error", err)
	}
	return nil
}

func (a *AlertSink) onEngineStopped(ctx context.Context, ev signal.Event) error {
	text := fmt.Sprintf("**Spider finished**\n\n- spider: %s\n- reason: %v", ev.Source, ev.Data)
	if err := a.client.SendMarkdown("spider finished", text, nil); err != nil {
		a.logger.Error("dingtalk: send engine_stopped alert", "spider", ev.Source, "error", err)
	}
	return nil
}
