package remote

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/transport"
	"github.com/vactorio/vactor/wire"
)

type echoActor struct {
	last string
}

func echoSpec() actor.TypeSpec {
	return actor.TypeSpec{
		New: func(id.Identity) (any, error) { return &echoActor{}, nil },
		Actions: []actor.ActionSpec{
			{Name: "echo", Mode: actor.LockExclusive, Fn: func(ctx context.Context, args []byte) ([]byte, error) {
				return args, nil
			}},
		},
	}
}

func setupApp(t *testing.T, appID string) (*Remote, *actor.Container) {
	t.Helper()
	lb := transport.NewLoopback()
	container := actor.NewContainer("echoactor", 10, echoSpec(), nil)
	var r *Remote
	sess, err := lb.Connect(context.Background(), appID, func(env wire.Envelope) {
		r.HandleEnvelope(env)
	})
	require.NoError(t, err)
	r = New(appID, sess, func(actorType string) (*actor.Container, bool) {
		if actorType == "echoactor" {
			return container, true
		}
		return nil, false
	})
	return r, container
}

func TestInvokeAcrossApps(t *testing.T) {
	app0, _ := setupApp(t, "app0")
	_, _ = setupApp(t, "app1")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := app0.Invoke(ctx, "app1", ActorCallRequest{
		ActorType: "EchoActor",
		ID:        []string{"x"},
		Action:    "echo",
		Args:      []wire.Variant{wire.BytesVariant([]byte("Hello"))},
	}, nil)
	require.NoError(t, err)
	require.Nil(t, resp.Error)
	require.NotNil(t, resp.Result)
	b, ok := resp.Result.Bytes()
	require.True(t, ok)
	require.Equal(t, "Hello", string(b))
}

func TestInvokeUnknownActorType(t *testing.T) {
	app0, _ := setupApp(t, "app2")
	_, _ = setupApp(t, "app3")

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	resp, err := app0.Invoke(ctx, "app3", ActorCallRequest{
		ActorType: "NoSuchActor",
		ID:        []string{"x"},
		Action:    "echo",
	}, nil)
	require.NoError(t, err)
	require.NotNil(t, resp.Error)
	require.Equal(t, actor.CodeUnknownActorType, resp.Error.Framework.Code)
}
