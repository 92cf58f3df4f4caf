package async

import (
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewIndexingStatus(t *testing.T) {
	// Given/When: creating a status for five identities
	st := NewIndexingStatus(StatusConfig{HookType: "eca", Total: 5, BufSize: 2})

	// Then: counters start at zero
	snap := st.Snapshot()
	assert.Equal(t, "eca", snap.HookType)
	assert.Equal(t, 5, snap.Total)
	assert.Zero(t, snap.NumDocs)
	assert.False(t, snap.Aborted)
	assert.False(t, snap.HasFailures())
}

func TestIndexingStatus_UpdateStartEndIndex(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		bufSize   int
		consumed  []int
		wantStart int
		wantEnd   int
		wantStr   string
	}{
		{"first batch", 5, 2, []int{0}, 0, 2, "1-2/5"},
		{"second batch", 5, 2, []int{0, 2}, 2, 4, "3-4/5"},
		{"last batch clamps", 5, 2, []int{0, 2, 2}, 4, 5, "5-5/5"},
		{"unbounded", 5, 0, []int{0}, 0, 5, "1-5/5"},
		{"unknown total", TotalUnknown, 3, []int{0, 3}, 3, 6, "4-6"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := NewIndexingStatus(StatusConfig{Total: tt.total, BufSize: tt.bufSize})
			for _, c := range tt.consumed {
				st.UpdateStartEndIndex(c)
			}
			assert.Equal(t, tt.wantStart, st.StartIndex())
			assert.Equal(t, tt.wantEnd, st.EndIndex())
			assert.Equal(t, tt.wantStr, st.ProgressString())
		})
	}
}

func TestIndexingStatus_Failures(t *testing.T) {
	st := NewIndexingStatus(StatusConfig{Total: 3})

	st.RegisterGeneralFailure("P3", "Error reading product 'P3'", nil)
	st.RegisterHookFailure("P1", errors.New("boom"), "topics", "processDocAdd")

	assert.Equal(t, 1, st.GeneralFailures())
	assert.Equal(t, 1, st.HookFailures())

	failures := st.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, FailureGeneral, failures[0].Kind)
	assert.Equal(t, "P3", failures[0].ID)
	assert.Equal(t, FailureHook, failures[1].Kind)
	assert.Equal(t, "topics", failures[1].Hook)
	assert.Equal(t, "processDocAdd", failures[1].Phase)
}

func TestIndexingStatus_FailureLogIsBounded(t *testing.T) {
	st := NewIndexingStatus(StatusConfig{MaxFailureRecords: 2})

	st.RegisterGeneralFailure("a", "fail a", nil)
	st.RegisterGeneralFailure("b", "fail b", nil)
	st.RegisterGeneralFailure("c", "fail c", nil)

	assert.Equal(t, 3, st.GeneralFailures())
	failures := st.Failures()
	require.Len(t, failures, 2)
	assert.Equal(t, "b", failures[0].ID)
	assert.Equal(t, "c", failures[1].ID)
}

func TestIndexingStatus_FinishFreezes(t *testing.T) {
	// Given: a finished status
	st := NewIndexingStatus(StatusConfig{Total: 1})
	st.IncreaseNumDocs(1)
	st.Finish()

	// When: something tries to mutate it
	st.IncreaseNumDocs(5)
	st.IncreaseNumFiltered(1)
	st.SetAborted(true)

	// Then: nothing changes
	snap := st.Snapshot()
	assert.Equal(t, 1, snap.NumDocs)
	assert.Zero(t, snap.NumFiltered)
	assert.False(t, snap.Aborted)
	assert.True(t, snap.Finished)
}

func TestIndexingStatus_ConcurrentReads(t *testing.T) {
	st := NewIndexingStatus(StatusConfig{Total: 1000})

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			st.IncreaseNumDocs(1)
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 1000; i++ {
			_ = st.Snapshot()
		}
	}()
	wg.Wait()

	assert.Equal(t, 1000, st.NumDocs())
}
