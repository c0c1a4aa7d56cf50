package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordSubmission(t *testing.T) {
	before := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("metrics-test", "accepted"))
	RecordSubmission("metrics-test", "accepted")
	RecordSubmission("metrics-test", "accepted")
	after := testutil.ToFloat64(SubmissionsTotal.WithLabelValues("metrics-test", "accepted"))
	assert.Equal(t, before+2, after)
}

func TestRecordAnswerOnlyTracksQuorumAnswers(t *testing.T) {
	RecordAnswer("metrics-answer", "quorum", 250)
	RecordAnswer("metrics-answer", "timeout", 100)

	assert.Equal(t, 250.0, testutil.ToFloat64(LatestAnswer.WithLabelValues("metrics-answer")))
	assert.Equal(t, 1.0, testutil.ToFloat64(AnswersTotal.WithLabelValues("metrics-answer", "timeout")))
}

func TestRecordRoundStarted(t *testing.T) {
	RecordRoundStarted("metrics-round", 7)
	assert.Equal(t, 7.0, testutil.ToFloat64(ReportingRound.WithLabelValues("metrics-round")))
}
