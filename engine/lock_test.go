package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionLocks_SameSessionSerializes(t *testing.T) {
	locks := newSessionLocks(time.Second)

	release1, err := locks.acquire(context.Background(), "s1")
	require.NoError(t, err)

	_, err = locks.acquire(context.Background(), "s1")
	assert.Error(t, err, "a second acquire for the same session must block until released")

	release1()
}

func TestSessionLocks_DistinctSessionsDoNotBlock(t *testing.T) {
	locks := newSessionLocks(time.Second)

	release1, err := locks.acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release1()

	release2, err := locks.acquire(context.Background(), "s2")
	require.NoError(t, err)
	defer release2()
}

func TestSessionLocks_TimesOutOnContention(t *testing.T) {
	locks := newSessionLocks(20 * time.Millisecond)

	release, err := locks.acquire(context.Background(), "s1")
	require.NoError(t, err)
	defer release()

	start := time.Now()
	_, err = locks.acquire(context.Background(), "s1")
	assert.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)
}
