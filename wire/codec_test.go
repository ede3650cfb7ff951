package wire

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCodecRoundTripCall(t *testing.T) {
	e := Envelope{
		Receiver:       "app1",
		ReturnAddress:  "app0",
		CorrelationIDs: []string{"trace-1", "trace-2"},
		ParentUID:      "span-9",
		CallID:         "call-123",
		Kind:           KindCall,
		Call: &CallBody{
			Lazy:      true,
			ActorType: "EchoActor",
			Action:    "echo",
			IDParts:   []string{"x"},
			Args: []Variant{
				BytesVariant([]byte("Foo")),
				MapVariant(map[string]Variant{
					"foo": BytesVariant([]byte("Bar")),
				}),
				StringVariant("hello"),
				IntVariant(42),
				FloatVariant(3.25),
				NullVariant,
				ArrayVariant([]Variant{IntVariant(1), IntVariant(2)}),
			},
		},
	}

	b, err := Encode(e)
	require.NoError(t, err)

	got, err := Decode(b)
	require.NoError(t, err)

	require.Equal(t, e.Receiver, got.Receiver)
	require.Equal(t, e.ReturnAddress, got.ReturnAddress)
	require.Equal(t, e.CorrelationIDs, got.CorrelationIDs)
	require.Equal(t, e.ParentUID, got.ParentUID)
	require.Equal(t, e.CallID, got.CallID)
	require.Equal(t, e.Kind, got.Kind)
	require.Equal(t, e.Call.Lazy, got.Call.Lazy)
	require.Equal(t, e.Call.ActorType, got.Call.ActorType)
	require.Equal(t, e.Call.Action, got.Call.Action)
	require.Equal(t, e.Call.IDParts, got.Call.IDParts)
	require.Len(t, got.Call.Args, len(e.Call.Args))
	for i := range e.Call.Args {
		require.True(t, e.Call.Args[i].Equal(got.Call.Args[i]), "arg %d mismatch", i)
	}

	first, ok := got.Call.Args[0].Bytes()
	require.True(t, ok)
	require.Equal(t, "Foo", string(first))

	nested, ok := got.Call.Args[1].Map()
	require.True(t, ok)
	nestedBytes, ok := nested["foo"].Bytes()
	require.True(t, ok)
	require.Equal(t, "Bar", string(nestedBytes))
}

func TestCodecRoundTripReturn(t *testing.T) {
	e := Envelope{
		Receiver: "app0",
		CallID:   "call-1",
		Kind:     KindReturn,
		Return: &ReturnBody{
			HasResult: true,
			Result:    BytesVariant([]byte("result-bytes")),
		},
	}
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.True(t, got.Return.HasResult)
	rb, ok := got.Return.Result.Bytes()
	require.True(t, ok)
	require.Equal(t, "result-bytes", string(rb))
	require.Nil(t, got.Return.ErrorJSON)
}

func TestCodecReturnWithError(t *testing.T) {
	e := Envelope{
		Receiver: "app0",
		CallID:   "call-2",
		Kind:     KindReturn,
		Return: &ReturnBody{
			ErrorJSON: []byte(`{"kind":"application","code":"BOOM"}`),
		},
	}
	b, err := Encode(e)
	require.NoError(t, err)
	got, err := Decode(b)
	require.NoError(t, err)
	require.False(t, got.Return.HasResult)
	require.Equal(t, e.Return.ErrorJSON, got.Return.ErrorJSON)
}

func TestCodecRejectsBadMajorVersion(t *testing.T) {
	e := Envelope{Receiver: "a", CallID: "c", Kind: KindReturn, Return: &ReturnBody{}}
	b, err := Encode(e)
	require.NoError(t, err)
	b[0] = '9'
	_, err = Decode(b)
	require.Error(t, err)
}

func TestCodecRejectsTrailingBytes(t *testing.T) {
	e := Envelope{Receiver: "a", CallID: "c", Kind: KindReturn, Return: &ReturnBody{}}
	b, err := Encode(e)
	require.NoError(t, err)
	b = append(b, 0xFF)
	_, err = Decode(b)
	require.Error(t, err)
}
