package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordHubCall(t *testing.T) {
	before := testutil.ToFloat64(HubCalls.WithLabelValues("ping", "timeout"))
	RecordHubCall("ping", "timeout", 5*time.Second)
	after := testutil.ToFloat64(HubCalls.WithLabelValues("ping", "timeout"))
	assert.Equal(t, before+1, after)
}

func TestSetRunning(t *testing.T) {
	SetRunning(true)
	assert.Equal(t, float64(1), testutil.ToFloat64(ProcessRunning))
	SetRunning(false)
	assert.Equal(t, float64(0), testutil.ToFloat64(ProcessRunning))
}

func TestRecordHandshake(t *testing.T) {
	RecordHandshake(true, time.Second)
	RecordHandshake(false, 3*time.Second)
	assert.Equal(t, 2, testutil.CollectAndCount(HandshakeDuration))
}
