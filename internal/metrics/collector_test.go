package metrics

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.runsTotal)
	assert.NotNil(t, collector.episodesTotal)
	assert.NotNil(t, collector.episodeDuration)
	assert.NotNil(t, collector.defensesTotal)
	assert.NotNil(t, collector.attackSuccessTotal)
}

func TestCollector_RecordEpisode(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordEpisode("benign_preference_recall", "no_fault", 2, 10*time.Millisecond)

	count := testutil.CollectAndCount(collector.episodesTotal)
	assert.Greater(t, count, 0)
	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.turnsTotal.WithLabelValues("benign_preference_recall")))

	collector.RecordEpisode("benign_preference_recall", "no_fault", 1, 5*time.Millisecond)
	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.episodesTotal.WithLabelValues("benign_preference_recall", "no_fault")))
}

func TestCollector_RecordMemoryTraffic(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordMemoryTraffic("r1_knowledge_corruption", 3, 1, 2)

	assert.Equal(t, 3.0, testutil.ToFloat64(
		collector.memoryWritesTotal.WithLabelValues("r1_knowledge_corruption")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.rejectedWritesTotal.WithLabelValues("r1_knowledge_corruption")))
	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.filteredReadsTotal.WithLabelValues("r1_knowledge_corruption")))
}

func TestCollector_RecordDefenseAndAttack(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordDefense("storeworthiness")
	collector.RecordDefense("storeworthiness")
	collector.RecordDefense("instruction_strip")
	collector.RecordAttackSuccess("r2_persistent_poisoning")

	assert.Equal(t, 2.0, testutil.ToFloat64(
		collector.defensesTotal.WithLabelValues("storeworthiness")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.defensesTotal.WithLabelValues("instruction_strip")))
	assert.Equal(t, 1.0, testutil.ToFloat64(
		collector.attackSuccessTotal.WithLabelValues("r2_persistent_poisoning")))
}

func TestCollector_RecordRun(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	collector.RecordRun(100 * time.Millisecond)
	collector.RecordRun(200 * time.Millisecond)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.runsTotal))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), zap.NewNop())

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			collector.RecordEpisode("benign_tool_reuse", "no_fault", 1, time.Millisecond)
			collector.RecordDefense("trust_floor")
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}

	assert.Equal(t, 10.0, testutil.ToFloat64(
		collector.episodesTotal.WithLabelValues("benign_tool_reuse", "no_fault")))
	assert.Equal(t, 10.0, testutil.ToFloat64(
		collector.defensesTotal.WithLabelValues("trust_floor")))
}
