package spider

import (
	"context"

	"github.com/nyxcrawl/scrapyengine/engine"
	"github.com/nyxcrawl/scrapyengine/pipeline"
	"github.com/nyxcrawl/scrapyengine/request"
	"github.com/nyxcrawl/scrapyengine/scraper"
)

// quickstart is the reference single-page spider used by `scrapyctl
// crawl quickstart`: one
// start URL, a parse callback that yields a single Item from the
// response body's length, no filtering, no follow-up requests.
func init() {
	Register(&Definition{
		Name: "quickstart",
		StartRequests: func(args map[string]string) []*request.Request {
			url := args["url"]
			if url == "" {
				url = "https://example.org/"
			}
			return []*request.Request{request.NewRequest(url)}
		},
		Callbacks: engine.Callbacks{
			Parsers: map[string]scraper.Parser{
				"parse": quickstartParse,
			},
			Errbacks: map[string]scraper.Errback{
				"parse": quickstartErrback,
			},
		},
		ItemProcessors: []pipeline.Processor{
			pipeline.NewCleanerProcessor(pipeline.CleanerConfig{TrimSpace: true}),
			pipeline.NewConditionalProcessor(
				pipeline.NewValidatorProcessor([]pipeline.ValidationRule{
					{Field: "url", Required: true, Type: "url"},
				}),
				func(data interface{}) bool {
					_, ok := data.(map[string]interface{})
					return ok
				},
			),
			pipeline.NewDeduplicatorProcessor("url"),
		},
	})
}

func quickstartParse(ctx context.Context, resp *request.Response) (<-chan request.Output, error) {
	out := make(chan request.Output, 1)
	go func() {
		defer close(out)
		out <- request.Item{
			Fields: map[string]any{
				"url":         resp.URL,
				"status_code": resp.StatusCode,
				"body_length": len(resp.Body),
			},
		}
	}()
	return out, nil
}

func quickstartErrback(ctx context.Context, r *request.Request, err error) {
	// Reference spider: nothing beyond the engine's own error-count
	// stats and spider_error signal is needed here.
}
