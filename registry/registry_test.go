package registry_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	. "github.com/vactorio/vactor/registry"
	"github.com/vactorio/vactor/registry/local"
)

func TestFindPlacementFallsBackToOwnOnMiss(t *testing.T) {
	svc := local.New()
	c := New(svc, "app0")

	_, ok := c.FindPlacement("NoSuchType")
	require.False(t, ok)

	c.RegisterOwn("EchoActor", Placement{Version: 1, Sticky: true})
	e, ok := c.FindPlacement("EchoActor")
	require.True(t, ok)
	require.True(t, e.Placement.Sticky)
}

func TestPullLoopLearnsPushedEntries(t *testing.T) {
	svc := local.New()

	host := New(svc, "app-host")
	host.RegisterOwn("EchoActor", Placement{Version: 1})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	host.Start(ctx)
	defer host.Stop()

	_, err := svc.Obtain(context.Background(), ObtainRequest{})
	require.NoError(t, err)
	err = svc.Push(context.Background(), PushRequest{
		Application: "app-host",
		ActorInfo:   map[string]Entry{"EchoActor": {Placement: Placement{Version: 1}}},
	})
	require.NoError(t, err)

	client := New(svc, "app-caller")
	cctx, ccancel := context.WithCancel(context.Background())
	defer ccancel()
	client.Start(cctx)
	defer client.Stop()

	// First FindPlacement triggers a "requested" mark; give the pull loop
	// a moment to pick it up from the registry.
	_, _ = client.FindPlacement("EchoActor")
	require.Eventually(t, func() bool {
		e, ok := client.FindPlacement("EchoActor")
		return ok && len(e.Destinations) == 1 && e.Destinations[0].App == "app-host"
	}, time.Second, 5*time.Millisecond)
}
