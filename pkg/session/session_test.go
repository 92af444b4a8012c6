package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeState struct {
	calls int
}

func TestGetOrCreateCreatesOnce(t *testing.T) {
	tbl := NewTable[*fakeState](0, nil)

	v1, created1 := tbl.GetOrCreate(1, func() *fakeState { return &fakeState{} })
	require.True(t, created1)

	v2, created2 := tbl.GetOrCreate(1, func() *fakeState { return &fakeState{} })
	require.False(t, created2)
	require.Same(t, v1, v2)
}

func TestGetMissingReturnsFalse(t *testing.T) {
	tbl := NewTable[*fakeState](0, nil)
	_, ok := tbl.Get(5)
	require.False(t, ok)
}

func TestDeleteRemovesSession(t *testing.T) {
	tbl := NewTable[*fakeState](0, nil)
	tbl.GetOrCreate(1, func() *fakeState { return &fakeState{} })
	tbl.Delete(1)
	_, ok := tbl.Get(1)
	require.False(t, ok)
}

func TestReapOnceEvictsIdleSessions(t *testing.T) {
	var expired []int
	tbl := NewTable[*fakeState](10*time.Millisecond, func(callID int, v *fakeState) {
		expired = append(expired, callID)
	})
	tbl.GetOrCreate(1, func() *fakeState { return &fakeState{} })

	time.Sleep(30 * time.Millisecond)
	ids := tbl.ReapOnce()

	require.Equal(t, []int{1}, ids)
	require.Equal(t, []int{1}, expired)
	require.Equal(t, 0, tbl.Len())
}

func TestTouchExtendsIdleDeadline(t *testing.T) {
	tbl := NewTable[*fakeState](30*time.Millisecond, nil)
	tbl.GetOrCreate(1, func() *fakeState { return &fakeState{} })

	time.Sleep(20 * time.Millisecond)
	tbl.Touch(1)
	time.Sleep(20 * time.Millisecond)

	ids := tbl.ReapOnce()
	require.Empty(t, ids)
	_, ok := tbl.Get(1)
	require.True(t, ok)
}
