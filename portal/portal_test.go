package portal

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/registry"
	"github.com/vactorio/vactor/remote"
	"github.com/vactorio/vactor/wire"
)

type fakeRegistry struct {
	entry registry.Entry
}

func (f *fakeRegistry) FindPlacement(actorType string) (registry.Entry, bool) {
	return f.entry, true
}

type invokeCall struct {
	dest string
	req  remote.ActorCallRequest
}

type fakeRemote struct {
	mu    sync.Mutex
	calls []invokeCall
	fn    func(ctx context.Context, dest string, req remote.ActorCallRequest, sub remote.Aborter) (remote.ActorCallResponse, error)
}

func (f *fakeRemote) Invoke(ctx context.Context, dest string, req remote.ActorCallRequest, sub remote.Aborter) (remote.ActorCallResponse, error) {
	f.mu.Lock()
	f.calls = append(f.calls, invokeCall{dest: dest, req: req})
	f.mu.Unlock()
	return f.fn(ctx, dest, req, sub)
}

func TestInvokeRedirectsOnLockConflict(t *testing.T) {
	reg := &fakeRegistry{entry: registry.Entry{Destinations: []registry.Destination{{App: "appB"}}}}
	fr := &fakeRemote{}
	var reachedA int
	fr.fn = func(ctx context.Context, dest string, req remote.ActorCallRequest, sub remote.Aborter) (remote.ActorCallResponse, error) {
		switch dest {
		case "appB":
			return remote.ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeActorLockFailed, "locked elsewhere", map[string]string{
				actor.ParamRedirectDestination: "appA",
			})}, nil
		case "appA":
			reachedA++
			v := wire.StringVariant("ok")
			return remote.ActorCallResponse{Result: &v}, nil
		default:
			t.Fatalf("unexpected destination %q", dest)
			return remote.ActorCallResponse{}, nil
		}
	}

	p, err := New(fr, reg)
	require.NoError(t, err)
	proxy := p.Retrieve("Counter", []string{"k"})

	result, err := proxy.Invoke(context.Background(), "increment", nil)
	require.NoError(t, err)
	s, ok := result.String()
	require.True(t, ok)
	require.Equal(t, "ok", s)
	require.Equal(t, 1, reachedA)
}

func TestInvokeAbortPropagatesCallInterrupted(t *testing.T) {
	reg := &fakeRegistry{entry: registry.Entry{Destinations: []registry.Destination{{App: "appX"}}}}
	fr := &fakeRemote{}
	fr.fn = func(ctx context.Context, dest string, req remote.ActorCallRequest, sub remote.Aborter) (remote.ActorCallResponse, error) {
		var abortCh <-chan struct{}
		if sub != nil {
			abortCh = sub.Done()
		}
		select {
		case <-time.After(10 * time.Second):
			return remote.ActorCallResponse{Result: &wire.Variant{}}, nil
		case <-abortCh:
			return remote.ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeCallInterrupted, "aborted", nil)}, nil
		}
	}

	p, err := New(fr, reg)
	require.NoError(t, err)
	aborter := NewAborter()
	proxy := p.Retrieve("SlowActor", []string{"k"})

	time.AfterFunc(100*time.Millisecond, aborter.Signal)

	start := time.Now()
	_, err = proxy.Invoke(context.Background(), "slow", nil, WithAborter(aborter))
	elapsed := time.Since(start)

	require.Error(t, err)
	require.Less(t, elapsed, 2*time.Second)

	ae, ok := actor.FromErr(err)
	require.True(t, ok)
	require.NotNil(t, ae.Framework)
	require.Equal(t, actor.CodeInvokeError, ae.Framework.Code)
	require.NotEmpty(t, ae.Framework.Nested)
	last := ae.Framework.Nested[len(ae.Framework.Nested)-1]
	require.NotNil(t, last.Framework)
	require.Equal(t, actor.CodeCallInterrupted, last.Framework.Code)
}
