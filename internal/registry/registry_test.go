package registry

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kennethnrk/echo/internal/common/constants"
	"github.com/kennethnrk/echo/internal/model"
)

func TestAdoptReplacesActiveInstance(t *testing.T) {
	r := New()
	_, ok := r.Instance()
	assert.False(t, ok)

	first := &model.Instance{Modality: constants.ModalityText}
	second := &model.Instance{Modality: constants.ModalityImage}

	r.Adopt("p1", "/tmp/p1/output", first)
	inst, ok := r.Instance()
	require.True(t, ok)
	assert.Same(t, first, inst)

	r.Adopt("p2", "/tmp/p2/output", second)
	cur, ok := r.Current()
	require.True(t, ok)
	assert.Same(t, second, cur.Instance)
	assert.Equal(t, "p2", cur.ProjectID)
	assert.False(t, cur.LoadedAt.IsZero())

	r.Clear()
	_, ok = r.Instance()
	assert.False(t, ok)
}

func TestTrainingIsExclusive(t *testing.T) {
	r := New()
	require.NoError(t, r.TryBeginTraining("p1"))
	require.ErrorIs(t, r.TryBeginTraining("p2"), ErrTrainingInProgress)

	project, busy := r.Training()
	assert.True(t, busy)
	assert.Equal(t, "p1", project)

	r.EndTraining()
	_, busy = r.Training()
	assert.False(t, busy)
	require.NoError(t, r.TryBeginTraining("p2"))
}

func TestConcurrentTrainingAdmitsOne(t *testing.T) {
	r := New()
	var admitted atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if r.TryBeginTraining("p") == nil {
				admitted.Add(1)
			}
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), admitted.Load())
}
