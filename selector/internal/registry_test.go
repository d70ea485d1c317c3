package internal_test

import (
	"testing"

	"github.com/joeycumines/open-coroutine-go/selector/internal"
	"github.com/stretchr/testify/require"
)

func TestAddAssignsDistinctTokensPerDirection(t *testing.T) {
	r := internal.NewRegistry()
	readTok := r.Add(5, false)
	writeTok := r.Add(5, true)
	require.NotEqual(t, readTok, writeTok)

	read, write := r.Tokens(5)
	require.Equal(t, readTok, read)
	require.Equal(t, writeTok, write)
}

func TestRemoveOneDirectionLeavesOtherArmed(t *testing.T) {
	r := internal.NewRegistry()
	readTok := r.Add(5, false)
	writeTok := r.Add(5, true)

	it, stillArmed, ok := r.Remove(writeTok)
	require.True(t, ok)
	require.True(t, stillArmed)
	require.Equal(t, 5, it.FD)
	require.True(t, it.Write)

	read, write := r.Tokens(5)
	require.Equal(t, readTok, read)
	require.Zero(t, write)
}

func TestRemoveLastDirectionReportsNotStillArmed(t *testing.T) {
	r := internal.NewRegistry()
	tok := r.Add(7, false)

	_, stillArmed, ok := r.Remove(tok)
	require.True(t, ok)
	require.False(t, stillArmed)

	read, write := r.Tokens(7)
	require.Zero(t, read)
	require.Zero(t, write)
}

func TestAddSameDirectionReusesLiveToken(t *testing.T) {
	r := internal.NewRegistry()
	tok1 := r.Add(4, false)
	tok2 := r.Add(4, false)
	require.Equal(t, tok1, tok2, "re-adding an armed direction must not orphan the prior token")

	// One Remove fully retires the direction; nothing is left behind.
	_, stillArmed, ok := r.Remove(tok1)
	require.True(t, ok)
	require.False(t, stillArmed)
	_, _, ok = r.Remove(tok1)
	require.False(t, ok)

	read, write := r.Tokens(4)
	require.Zero(t, read)
	require.Zero(t, write)
}

func TestRemoveUnknownTokenReturnsNotOK(t *testing.T) {
	r := internal.NewRegistry()
	_, _, ok := r.Remove(999)
	require.False(t, ok)
}

func TestTokensForUnregisteredFDAreZero(t *testing.T) {
	r := internal.NewRegistry()
	read, write := r.Tokens(42)
	require.Zero(t, read)
	require.Zero(t, write)
}
