package clickhouse

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSchemaDeclaresOrderingKey(t *testing.T) {
	assert.Contains(t, schema, "system_metrics")
	assert.Contains(t, schema, "ORDER BY (metric_name, timestamp)")
}

func TestRecordBuffersBelowBatchSize(t *testing.T) {
	s := &Sink{batchSize: 10}
	err := s.Record(nil, "cpu_percent", 42.5, map[string]string{"host": "edge-1"})
	assert.NoError(t, err)
	assert.Len(t, s.buf, 1)
	assert.Equal(t, "cpu_percent", s.buf[0].MetricName)
}

func TestFlushNoopWhenBufferEmpty(t *testing.T) {
	s := &Sink{batchSize: 10}
	assert.NoError(t, s.Flush(nil))
}
