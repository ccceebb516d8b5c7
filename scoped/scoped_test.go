package scoped

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithRunsFnBetweenAcquireAndRelease(t *testing.T) {
	var order []string
	err := With(
		func() (string, error) { order = append(order, "acquire"); return "handle", nil },
		func(string) error { order = append(order, "release"); return nil },
		func(v string) error { order = append(order, "fn:"+v); return nil },
	)
	require.NoError(t, err)
	assert.Equal(t, []string{"acquire", "fn:handle", "release"}, order)
}

func TestWithSkipsFnAndReleaseWhenAcquireFails(t *testing.T) {
	acquireErr := errors.New("boom")
	released := false
	err := With(
		func() (int, error) { return 0, acquireErr },
		func(int) error { released = true; return nil },
		func(int) error { t.Fatal("fn should not run"); return nil },
	)
	assert.Equal(t, acquireErr, err)
	assert.False(t, released)
}

func TestWithStillReleasesWhenFnFails(t *testing.T) {
	released := false
	fnErr := errors.New("nope")
	err := With(
		func() (int, error) { return 1, nil },
		func(int) error { released = true; return nil },
		func(int) error { return fnErr },
	)
	assert.Equal(t, fnErr, err)
	assert.True(t, released)
}

func TestWithStillReleasesWhenFnPanics(t *testing.T) {
	released := false
	assert.Panics(t, func() {
		_ = With(
			func() (int, error) { return 1, nil },
			func(int) error { released = true; return nil },
			func(int) error { panic("kaboom") },
		)
	})
	assert.True(t, released)
}

func TestWithSurfacesReleaseErrorWhenFnSucceeds(t *testing.T) {
	relErr := errors.New("release failed")
	err := With(
		func() (int, error) { return 1, nil },
		func(int) error { return relErr },
		func(int) error { return nil },
	)
	assert.Equal(t, relErr, err)
}
