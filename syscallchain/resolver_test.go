package syscallchain_test

import (
	"testing"

	"github.com/joeycumines/open-coroutine-go/syscallchain"
	"github.com/stretchr/testify/require"
)

func TestStaticResolverResolvesEveryFDToTheSameRaw(t *testing.T) {
	raw := syscallchain.Raw{}
	r := syscallchain.NewStaticResolver(raw)

	got, ok := r.Resolve(3)
	require.True(t, ok)
	require.Equal(t, raw, got)

	got, ok = r.Resolve(99)
	require.True(t, ok)
	require.Equal(t, raw, got)
}

func TestMapResolverResolvesOnlyRegisteredFDs(t *testing.T) {
	r := syscallchain.NewMapResolver()
	fileRaw := syscallchain.Raw{}
	sockRaw := syscallchain.Raw{SetNonblock: func(int, bool) error { return nil }}

	r.Register(3, fileRaw)
	r.Register(4, sockRaw)

	got, ok := r.Resolve(4)
	require.True(t, ok)
	require.NotNil(t, got.SetNonblock)

	_, ok = r.Resolve(5)
	require.False(t, ok)
}

func TestMapResolverUnregisterRemovesEntry(t *testing.T) {
	r := syscallchain.NewMapResolver()
	r.Register(3, syscallchain.Raw{})
	r.Unregister(3)

	_, ok := r.Resolve(3)
	require.False(t, ok)
}
