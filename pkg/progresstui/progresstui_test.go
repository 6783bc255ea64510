package progresstui_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/kraklabs/unitcache/pkg/progresstui"
	"github.com/kraklabs/unitcache/pkg/restore"
)

func TestOnUnit_AccumulatesIntoSummary(t *testing.T) {
	v := progresstui.New(3)

	v.OnUnit(restore.UnitResult{Hash: "a", Outcome: restore.Restored})
	v.OnUnit(restore.UnitResult{Hash: "b", Outcome: restore.Miss})

	out := v.Summary()
	assert.Contains(t, out, "2/3 units processed")
	assert.Contains(t, out, "restored: 1")
	assert.Contains(t, out, "miss: 1")
}

func TestOnUnit_RecordsLastFailureDetail(t *testing.T) {
	v := progresstui.New(1)
	v.OnUnit(restore.UnitResult{Hash: "bad", Outcome: restore.Failed, Err: errors.New("corrupt blob")})

	out := v.Summary()
	assert.Contains(t, out, "failed: 1")
	assert.Contains(t, out, "last failure: bad: corrupt blob")
}

func TestSummary_NoFailuresOmitsFailureLine(t *testing.T) {
	v := progresstui.New(1)
	v.OnUnit(restore.UnitResult{Hash: "ok", Outcome: restore.Restored})

	assert.NotContains(t, v.Summary(), "last failure")
}
