package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetryDelayCapsAtMax(t *testing.T) {
	assert.Equal(t, 2*time.Second, RetryDelay(1))
	assert.Equal(t, 4*time.Second, RetryDelay(2))
	assert.Equal(t, MaxRetryDelay, RetryDelay(10))
}

func TestHandleFailureRetriesUnderMax(t *testing.T) {
	d := HandleFailure(0, 3, false)
	assert.Equal(t, ActionRetry, d.Action)
	assert.Equal(t, RetryDelay(0), d.Delay)
}

func TestHandleFailureReassignsWithBackup(t *testing.T) {
	d := HandleFailure(3, 3, true)
	assert.Equal(t, ActionReassign, d.Action)
}

func TestHandleFailureAbortsWithoutBackup(t *testing.T) {
	d := HandleFailure(3, 3, false)
	assert.Equal(t, ActionAbort, d.Action)
}

func TestRecordCheckpointsAreOrderedAndLatestWins(t *testing.T) {
	r := NewRecord()
	c1 := NewCheckpoint("start", "initial", true, Snapshot{CurrentStep: 0})
	time.Sleep(time.Millisecond)
	c2 := NewCheckpoint("step-1", "after step 1", true, Snapshot{CurrentStep: 1})
	r.AddCheckpoint(c1)
	r.AddCheckpoint(c2)

	latest, ok := r.LatestCheckpoint()
	require.True(t, ok)
	assert.Equal(t, c2.ID, latest.ID)
	assert.True(t, c2.Timestamp.After(c1.Timestamp) || c2.Timestamp.Equal(c1.Timestamp))
}

func TestRollbackRestoresSnapshotFromNamedCheckpoint(t *testing.T) {
	r := NewRecord()
	c1 := NewCheckpoint("start", "initial", true, Snapshot{CurrentStep: 0, ProgressPercentage: 0})
	c2 := NewCheckpoint("step-1", "after step 1", true, Snapshot{CurrentStep: 1, ProgressPercentage: 50})
	r.AddCheckpoint(c1)
	r.AddCheckpoint(c2)

	snap, ok := r.Rollback(c1.ID)
	require.True(t, ok)
	assert.Equal(t, 0, snap.CurrentStep)
	assert.Equal(t, 0.0, snap.ProgressPercentage)
	require.NotNil(t, r.RollbackInfo)
	assert.Equal(t, c1.ID, r.RollbackInfo.CheckpointID)
}

func TestRollbackWithNoCheckpointIDUsesLatest(t *testing.T) {
	r := NewRecord()
	r.AddCheckpoint(NewCheckpoint("start", "initial", true, Snapshot{CurrentStep: 0}))
	r.AddCheckpoint(NewCheckpoint("step-1", "after step 1", true, Snapshot{CurrentStep: 1}))

	snap, ok := r.Rollback("")
	require.True(t, ok)
	assert.Equal(t, 1, snap.CurrentStep)
}

func TestRollbackWithNoCheckpointsFails(t *testing.T) {
	r := NewRecord()
	_, ok := r.Rollback("")
	assert.False(t, ok)
}

func TestPreservePartialResultAndRecordCriticalFailure(t *testing.T) {
	r := NewRecord()
	r.PreservePartialResult("t1", nil, "timeout")
	r.RecordCriticalFailure("t1", assert.AnError)

	assert.Len(t, r.PartialResults, 1)
	assert.Len(t, r.CriticalFailures, 1)
	assert.Equal(t, DefaultRemediationOptions, r.CriticalFailures[0].RemediationOptions)
}
