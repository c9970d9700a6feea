package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nyxcrawl/scrapyengine/enginerr"
)

// upperProcessor upper-cases the "name" field of a map[string]interface{}.
type upperProcessor struct{ BaseProcessor }

func newUpperProcessor() *upperProcessor {
	return &upperProcessor{BaseProcessor: *NewBaseProcessor("upper")}
}

func (p *upperProcessor) Process(ctx context.Context, data interface{}) (interface{}, error) {
	m, ok := data.(map[string]interface{})
	if !ok {
		return data, nil
	}
	if name, ok := m["name"].(string); ok {
		out := make(map[string]interface{}, len(m))
		for k, v := range m {
			out[k] = v
		}
		out["name"] = name + "!"
		return out, nil
	}
	return data, nil
}

type failingProcessor struct {
	BaseProcessor
	err error
}

func (p *failingProcessor) Process(ctx context.Context, data interface{}) (interface{}, error) {
	return nil, p.err
}

func TestPipelineProcessChainsProcessors(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	p.AddProcessor(newUpperProcessor())

	out, err := p.Process(context.Background(), map[string]interface{}{"name": "item"})
	require.NoError(t, err)
	require.Equal(t, "item!", out.(map[string]interface{})["name"])
}

func TestPipelineProcessSkipsProcessorThatCannotHandleData(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	cond := NewConditionalProcessor(newUpperProcessor(), func(data interface{}) bool { return false })
	p.AddProcessor(cond)

	out, err := p.Process(context.Background(), map[string]interface{}{"name": "item"})
	require.NoError(t, err)
	require.Equal(t, "item", out.(map[string]interface{})["name"], "condition false should leave data untouched")
}

func TestPipelineProcessContinuesPastRetryableFailure(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	p.AddProcessor(&failingProcessor{
		BaseProcessor: *NewBaseProcessor("flaky"),
		err:           enginerr.New(enginerr.Transient, "flaky", "temporary glitch"),
	})
	p.AddProcessor(newUpperProcessor())

	out, err := p.Process(context.Background(), map[string]interface{}{"name": "item"})
	require.NoError(t, err)
	require.Equal(t, "item!", out.(map[string]interface{})["name"], "a transient failure should not abort the chain")
}

func TestPipelineProcessAbortsOnFatalFailure(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	fatalErr := enginerr.New(enginerr.EngineFatal, "broken", "cannot continue")
	p.AddProcessor(&failingProcessor{BaseProcessor: *NewBaseProcessor("broken"), err: fatalErr})
	p.AddProcessor(newUpperProcessor())

	_, err := p.Process(context.Background(), map[string]interface{}{"name": "item"})
	require.Error(t, err)
}

func TestPipelineProcessEmptyChainReturnsInputUnchanged(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	in := map[string]interface{}{"name": "item"}
	out, err := p.Process(context.Background(), in)
	require.NoError(t, err)
	require.Equal(t, in, out)
}

func TestPipelineClearRemovesAllProcessors(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	p.AddProcessor(newUpperProcessor())
	p.Clear()

	stats := p.GetStats()
	require.Equal(t, 0, stats["processors"])
}

func TestPipelineGetStatsTracksProcessedAndFailed(t *testing.T) {
	p := NewPipeline(&PipelineConfig{Name: "test"})
	p.AddProcessor(newUpperProcessor())

	_, err := p.Process(context.Background(), map[string]interface{}{"name": "a"})
	require.NoError(t, err)

	stats := p.GetStats()
	require.EqualValues(t, 1, stats["processed"])
	require.EqualValues(t, 0, stats["failed"])
}

func TestBuilderBuildsAddsAndConditionalAdds(t *testing.T) {
	p := NewBuilder("test", nil).
		Add(newUpperProcessor()).
		AddConditional(newUpperProcessor(), func(data interface{}) bool { return false }).
		Build()

	stats := p.GetStats()
	require.Equal(t, 2, stats["processors"])
}

