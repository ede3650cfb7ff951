package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/lock/local"
	"github.com/vactorio/vactor/persist/kvstore"
	"github.com/vactorio/vactor/registry"
	registrylocal "github.com/vactorio/vactor/registry/local"
	"github.com/vactorio/vactor/transport"
	"github.com/vactorio/vactor/wire"
)

type greeterActor struct{}

func greeterSpec() actor.TypeSpec {
	return actor.TypeSpec{
		New: func(id.Identity) (any, error) { return &greeterActor{}, nil },
		Actions: []actor.ActionSpec{
			{Name: "greet", Mode: actor.LockExclusive, Fn: func(ctx context.Context, args []byte) ([]byte, error) {
				return []byte("hello " + string(args)), nil
			}},
		},
	}
}

func TestRuntimeStartInvokeStop(t *testing.T) {
	lb := transport.NewLoopback()
	rt := New("app0", lb, local.New(), registrylocal.New(), kvstore.New())
	rt.RegisterActor("Greeter", greeterSpec(), 10, registry.Placement{})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	require.NoError(t, rt.Start(ctx))

	// The registry push loop runs on a 30s ticker; call RegisterOwn's
	// effect directly visible via FindPlacement's own-map fallback so
	// the portal can resolve this app without waiting on a push.
	proxy := rt.Portal.Retrieve("Greeter", []string{"a"})
	result, err := proxy.Invoke(ctx, "greet", []wire.Variant{wire.BytesVariant([]byte("world"))})
	require.NoError(t, err)
	b, ok := result.Bytes()
	require.True(t, ok)
	require.Equal(t, "hello world", string(b))

	require.NoError(t, rt.Stop(ctx))
}
