package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestRecordPosting(t *testing.T) {
	before := testutil.ToFloat64(ledgerPostingsTotal.WithLabelValues("debit", "bbps", "replayed"))
	RecordPosting("debit", "bbps", "replayed", 0.01)
	after := testutil.ToFloat64(ledgerPostingsTotal.WithLabelValues("debit", "bbps", "replayed"))
	assert.Equal(t, before+1, after)
}

func TestRecordBatchRun(t *testing.T) {
	before := testutil.ToFloat64(batchTransactionsTotal.WithLabelValues("processed"))
	RecordBatchRun("success", 3, 1, 0)
	assert.Equal(t, before+3, testutil.ToFloat64(batchTransactionsTotal.WithLabelValues("processed")))
}

func TestRecordSchemeResolution(t *testing.T) {
	RecordSchemeResolution("mdr", "custom", true)
	assert.GreaterOrEqual(t, testutil.ToFloat64(schemeResolutionsTotal.WithLabelValues("mdr", "custom", "true")), 1.0)
}
