package summary_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/unitcache/pkg/restore"
	"github.com/kraklabs/unitcache/pkg/summary"
	"github.com/kraklabs/unitcache/pkg/unit"
)

func TestRestoreReport_CountsByOutcome(t *testing.T) {
	r := summary.NewRestoreReport()
	r.OnUnit(restore.UnitResult{Hash: "a", Outcome: restore.Restored})
	r.OnUnit(restore.UnitResult{Hash: "b", Outcome: restore.Restored})
	r.OnUnit(restore.UnitResult{Hash: "c", Outcome: restore.Miss})
	r.OnUnit(restore.UnitResult{Hash: "d", Outcome: restore.Failed, Err: errors.New("boom")})

	assert.Equal(t, 2, r.Counts[restore.Restored])
	assert.Equal(t, 1, r.Counts[restore.Miss])
	assert.Equal(t, 1, r.Counts[restore.Failed])
	assert.Len(t, r.Failed, 1)
	assert.Equal(t, unit.Hash("d"), r.Failed[0].Hash)
}

func TestRestoreReport_WriteTo_IncludesCountsAndFailureDetail(t *testing.T) {
	r := summary.NewRestoreReport()
	r.OnUnit(restore.UnitResult{Hash: "ok-unit", Outcome: restore.Restored})
	r.OnUnit(restore.UnitResult{Hash: "bad-unit", Outcome: restore.Failed, Err: errors.New("disk full")})

	var buf bytes.Buffer
	r.WriteTo(&buf)
	out := buf.String()

	assert.Contains(t, out, "1 restored")
	assert.Contains(t, out, "1 failed")
	assert.Contains(t, out, "bad-unit")
	assert.Contains(t, out, "disk full")
}

func TestRestoreReport_WriteTo_EmptyReportPrintsBlankLine(t *testing.T) {
	r := summary.NewRestoreReport()
	var buf bytes.Buffer
	r.WriteTo(&buf)
	assert.Equal(t, "\n", buf.String())
}

func TestSaveReport_WriteTo(t *testing.T) {
	r := summary.SaveReport{UnitsSaved: 3, BlobsUploaded: 5, BlobsSkipped: 2}
	var buf bytes.Buffer
	r.WriteTo(&buf)
	out := buf.String()

	assert.Contains(t, out, "saved 3 units")
	assert.Contains(t, out, "uploaded 5 blobs")
	assert.Contains(t, out, "2 already cached")
}

func TestHitRateGraph_EmptyHistory(t *testing.T) {
	assert.Equal(t, "no restore history yet", summary.HitRateGraph(nil, 40, 10))
}

func TestHitRateGraph_RendersCaptionWithLatestRate(t *testing.T) {
	out := summary.HitRateGraph([]float64{0.5, 0.75, 1.0}, 20, 5)
	assert.True(t, strings.Contains(out, "hit rate: 100%"))
}
