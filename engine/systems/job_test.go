package systems_test

import (
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/spaghettifunk/lumen/engine/systems"
)

func TestJobSystemValidation(t *testing.T) {
	_, err := systems.NewJobSystem(0, 1)
	assert.ErrorIs(t, err, systems.ErrNoWorkers)
	_, err = systems.NewJobSystem(1, -1)
	assert.ErrorIs(t, err, systems.ErrNegativeChannelSize)
}

func TestJobCallbacksRunOnUpdate(t *testing.T) {
	js, err := systems.NewJobSystem(2, 4)
	require.NoError(t, err)

	var completed []int
	var failed []error
	for i := 0; i < 3; i++ {
		i := i
		js.Submit(systems.Job{
			Name: "square",
			Run:  func() (interface{}, error) { return i * i, nil },
			OnComplete: func(result interface{}) error {
				completed = append(completed, result.(int))
				return nil
			},
		})
	}
	js.Submit(systems.Job{
		Name:      "broken",
		Run:       func() (interface{}, error) { return nil, errors.New("no such file") },
		OnFailure: func(err error) { failed = append(failed, err) },
	})

	// callbacks only run on Update, never on the workers
	assert.Empty(t, completed)
	deadline := time.Now().Add(time.Second)
	for js.Pending() > 0 && time.Now().Before(deadline) {
		require.NoError(t, js.Update())
		time.Sleep(time.Millisecond)
	}
	require.Equal(t, 0, js.Pending())

	assert.ElementsMatch(t, []int{0, 1, 4}, completed)
	assert.Len(t, failed, 1)
	require.NoError(t, js.Shutdown())
}
