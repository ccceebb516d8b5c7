package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/corestash/corestash/internal/event"
)

func TestRunDemoCompletesAllSteps(t *testing.T) {
	var stepCount int
	b := event.New(nil)
	b.Connect(event.ClassProgressStep, "count", func(e event.Event) {
		stepCount++
	})

	steps, err := runDemo(b, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, steps)
	assert.Equal(t, 3, stepCount)
}
