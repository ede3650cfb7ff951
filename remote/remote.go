// Package remote implements the transport-remote call correlator: it
// assigns call-ids, tracks pending calls with timers, and dispatches
// inbound calls to the local actor containers (spec §4.4).
package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/vactorio/vactor/actor"
	"github.com/vactorio/vactor/id"
	"github.com/vactorio/vactor/transport"
	"github.com/vactorio/vactor/wire"
)

// Timeout is the hard per-call transport timeout (spec §3, §5).
const Timeout = 60 * time.Second

// ActorCallRequest is the logical request carried inside a call
// envelope (spec §3).
type ActorCallRequest struct {
	ActorType string
	ID        []string
	Action    string
	Args      []wire.Variant
	Lazy      bool
}

// ActorCallResponse is the logical result of one invocation.
type ActorCallResponse struct {
	Result *wire.Variant
	Error  *actor.ActionError
}

// ContainerLookup resolves the Container hosting a given normalized
// actor type, used to dispatch inbound calls.
type ContainerLookup func(actorType string) (*actor.Container, bool)

// Aborter lets a caller cancel an in-flight invocation (spec §4.3, §5).
type Aborter interface {
	Done() <-chan struct{}
}

type pendingCall struct {
	resultCh chan ActorCallResponse
	timer    *time.Timer
	once     sync.Once
}

// Remote is the call/return correlator for one app process.
type Remote struct {
	appID   string
	session transport.Session
	lookup  ContainerLookup

	mu      sync.Mutex
	pending map[string]*pendingCall
}

// New creates a Remote bound to an already-connected Session.
func New(appID string, session transport.Session, lookup ContainerLookup) *Remote {
	return &Remote{
		appID:   appID,
		session: session,
		lookup:  lookup,
		pending: make(map[string]*pendingCall),
	}
}

// Invoke performs one logical RPC to destAppID and waits for its
// resolution, the caller's context deadline, or abort signal — whichever
// comes first.
func (r *Remote) Invoke(ctx context.Context, destAppID string, req ActorCallRequest, sub Aborter) (ActorCallResponse, error) {
	if r.session == nil {
		return ActorCallResponse{}, fmt.Errorf("remote: Invoke: %s", actor.CodeTransportError)
	}

	callID := uuid.NewString()
	pc := &pendingCall{resultCh: make(chan ActorCallResponse, 1)}

	r.mu.Lock()
	r.pending[callID] = pc
	r.mu.Unlock()

	pc.timer = time.AfterFunc(Timeout, func() {
		r.resolve(callID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportCallTimeout, "call timed out", nil),
		})
	})

	env := wire.Envelope{
		Receiver:      destAppID,
		ReturnAddress: r.appID,
		CallID:        callID,
		Kind:          wire.KindCall,
		Call: &wire.CallBody{
			Lazy:      req.Lazy,
			ActorType: req.ActorType,
			Action:    req.Action,
			IDParts:   req.ID,
			Args:      req.Args,
		},
	}

	if err := r.session.Send(ctx, env); err != nil {
		r.resolve(callID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportError, err.Error(), nil),
		})
	}

	var abortCh <-chan struct{}
	if sub != nil {
		abortCh = sub.Done()
	}

	select {
	case resp := <-pc.resultCh:
		return resp, nil
	case <-abortCh:
		r.resolve(callID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportCallInterrupted, "aborted", nil),
		})
		return <-pc.resultCh, nil
	case <-ctx.Done():
		r.resolve(callID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportCallInterrupted, ctx.Err().Error(), nil),
		})
		return <-pc.resultCh, nil
	}
}

func (r *Remote) resolve(callID string, resp ActorCallResponse) {
	r.mu.Lock()
	pc, ok := r.pending[callID]
	if ok {
		delete(r.pending, callID)
	}
	r.mu.Unlock()
	if !ok {
		return
	}
	pc.once.Do(func() {
		if pc.timer != nil {
			pc.timer.Stop()
		}
		pc.resultCh <- resp
	})
}

// HandleEnvelope processes one inbound envelope: a return resolves a
// pending call, a call dispatches to the local container and replies.
func (r *Remote) HandleEnvelope(env wire.Envelope) {
	switch env.Kind {
	case wire.KindReturn:
		r.handleReturn(env)
	case wire.KindCall:
		r.handleCall(env)
	}
}

func (r *Remote) handleReturn(env wire.Envelope) {
	if env.FailureCode != "" {
		r.resolve(env.CallID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportError, env.FailureMessage, map[string]string{
				"Message": env.FailureMessage,
			}),
		})
		return
	}
	if env.Return == nil {
		r.resolve(env.CallID, ActorCallResponse{
			Error: actor.NewFrameworkError(actor.CodeTransportError, "empty return body", nil),
		})
		return
	}
	resp := ActorCallResponse{}
	if env.Return.HasResult {
		resp.Result = &env.Return.Result
	}
	if env.Return.ErrorJSON != nil {
		var ae actor.ActionError
		if err := json.Unmarshal(env.Return.ErrorJSON, &ae); err == nil {
			resp.Error = &ae
		}
	}
	r.resolve(env.CallID, resp)
}

func (r *Remote) handleCall(env wire.Envelope) {
	resp := r.dispatch(env)

	retEnv := wire.Envelope{
		Receiver: env.ReturnAddress,
		CallID:   env.CallID,
		Kind:     wire.KindReturn,
		Return:   &wire.ReturnBody{},
	}
	if resp.Error != nil {
		b, _ := json.Marshal(resp.Error)
		retEnv.Return.ErrorJSON = b
	} else if resp.Result != nil {
		retEnv.Return.HasResult = true
		retEnv.Return.Result = *resp.Result
	}

	if r.session != nil && env.ReturnAddress != "" {
		_ = r.session.Send(context.Background(), retEnv)
	}
}

func (r *Remote) dispatch(env wire.Envelope) ActorCallResponse {
	if env.Call == nil {
		return ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeUnknownReceiver, "missing call body", nil)}
	}
	normType := id.Normalize(env.Call.ActorType)
	container, ok := r.lookup(normType)
	if !ok {
		return ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeUnknownActorType, fmt.Sprintf("unknown actor type %q", env.Call.ActorType), nil)}
	}

	identity := id.New(env.Call.ActorType, env.Call.IDParts...)

	var w *actor.Wrapper
	if env.Call.Lazy {
		// A lazy call trusts the sender's sticky cache to already point at
		// the live instance; if none is live here, fail over to the
		// registry instead of silently activating a second instance
		// (spec §4.3 "Lazy call").
		live, ok := container.Peek(identity)
		if !ok {
			return ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeIncorrectState, "no live instance for lazy call", nil)}
		}
		w = live
	} else {
		created, err := container.WrapperFor(identity)
		if err != nil {
			return ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeFinalizing, err.Error(), nil)}
		}
		w = created
	}

	args, err := encodeArgs(env.Call.Args)
	if err != nil {
		return ActorCallResponse{Error: actor.NewFrameworkError(actor.CodeUnknownAction, err.Error(), nil)}
	}

	result, aerr := w.Invoke(context.Background(), env.CallID, env.Call.Action, args)
	if aerr != nil {
		annotateStack(aerr, env.Call.ActorType, env.Call.Action, env.Receiver)
		return ActorCallResponse{Error: aerr}
	}
	v := wire.BytesVariant(result)
	return ActorCallResponse{Result: &v}
}

func annotateStack(ae *actor.ActionError, actorType, action, appID string) {
	note := fmt.Sprintf("actor=%s action=%s app=%s", actorType, action, appID)
	if ae.Application != nil {
		if ae.Application.Stack == "" {
			ae.Application.Stack = note
		} else {
			ae.Application.Stack = ae.Application.Stack + "\n" + note
		}
	}
}

func encodeArgs(args []wire.Variant) ([]byte, error) {
	if len(args) == 0 {
		return nil, nil
	}
	if b, ok := args[0].Bytes(); ok && len(args) == 1 {
		return b, nil
	}
	return json.Marshal(args)
}
