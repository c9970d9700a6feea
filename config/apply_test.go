package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestApplySetsStringField(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply("DUPEFILTER_CLASS=redis"))
	require.Equal(t, "redis", s.DupefilterClass)
}

func TestApplySetsIntField(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply("CONCURRENT_REQUESTS=32"))
	require.Equal(t, 32, s.ConcurrentRequests)
}

func TestApplySetsBoolField(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply("RETRY_ENABLED=false"))
	require.False(t, s.RetryEnabled)
}

func TestApplySetsDurationField(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply("DOWNLOAD_DELAY=250ms"))
	require.Equal(t, 250*time.Millisecond, s.DownloadDelay)
}

func TestApplySetsIntSliceField(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply("RETRY_HTTP_CODES=500, 502, 503"))
	require.Equal(t, []int{500, 502, 503}, s.RetryHTTPCodes)
}

func TestApplyTrimsWhitespaceAroundKeyAndValue(t *testing.T) {
	s := Default()
	require.NoError(t, s.Apply(" CONCURRENT_REQUESTS = 4 "))
	require.Equal(t, 4, s.ConcurrentRequests)
}

func TestApplyRejectsMalformedOverride(t *testing.T) {
	s := Default()
	require.Error(t, s.Apply("NOTKEYVALUE"))
}

func TestApplyRejectsUnknownKey(t *testing.T) {
	s := Default()
	require.Error(t, s.Apply("NOT_A_REAL_SETTING=1"))
}

func TestApplyRejectsBadDuration(t *testing.T) {
	s := Default()
	require.Error(t, s.Apply("DOWNLOAD_DELAY=notaduration"))
}

func TestApplyRejectsBadBool(t *testing.T) {
	s := Default()
	require.Error(t, s.Apply("RETRY_ENABLED=notabool"))
}

func TestDefaultPopulatesBaselineValues(t *testing.T) {
	s := Default()
	require.Equal(t, 16, s.ConcurrentRequests)
	require.Equal(t, "memory", s.SchedulerQueueClass)
	require.Equal(t, "memory", s.DupefilterClass)
	require.True(t, s.RetryEnabled)
}
