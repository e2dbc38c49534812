package eventstream_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
	streamopts "goa.design/pulse/streaming/options"

	"github.com/choreoflow/choreoctl/eventstream"
)

type fakeStream struct {
	added []addedEvent
}

type addedEvent struct {
	Name    string
	Payload []byte
}

func (s *fakeStream) Add(ctx context.Context, event string, payload []byte) (string, error) {
	s.added = append(s.added, addedEvent{Name: event, Payload: payload})
	return "1-0", nil
}

func (s *fakeStream) NewSink(ctx context.Context, name string, opts ...streamopts.Sink) (eventstream.Sink, error) {
	return nil, nil
}

func (s *fakeStream) Destroy(ctx context.Context) error { return nil }

type fakeClient struct {
	streams map[string]*fakeStream
}

func newFakeClient() *fakeClient {
	return &fakeClient{streams: map[string]*fakeStream{}}
}

func (c *fakeClient) Stream(name string, opts ...streamopts.Stream) (eventstream.Stream, error) {
	s, ok := c.streams[name]
	if !ok {
		s = &fakeStream{}
		c.streams[name] = s
	}
	return s, nil
}

func (c *fakeClient) Close(ctx context.Context) error { return nil }

var _ eventstream.Client = (*fakeClient)(nil)
var _ eventstream.Stream = (*fakeStream)(nil)

func TestNotifierPublishAppendsEnvelopeToWorkflowStream(t *testing.T) {
	client := newFakeClient()
	n := eventstream.NewNotifier(client)

	src := "A"
	env := eventstream.NewEnvelope("wf-1", "B", &src, eventstream.ReasonUpstreamDone, map[string]any{"x": 1})

	err := n.Publish(context.Background(), env)
	require.NoError(t, err)

	stream := client.streams["wf:wf-1:events"]
	require.NotNil(t, stream)
	require.Len(t, stream.added, 1)
	require.Equal(t, eventstream.ReasonUpstreamDone, stream.added[0].Name)

	var decoded eventstream.Envelope
	require.NoError(t, json.Unmarshal(stream.added[0].Payload, &decoded))
	require.Equal(t, "wf-1", decoded.WorkflowID)
	require.Equal(t, "B", decoded.TargetState)
	require.Equal(t, "A", *decoded.SourceState)
	require.Equal(t, "cp:wf:wf-1:meta", decoded.ControlPlane.MetaKey)
}

func TestNotifierPublishNilNotifierIsNoop(t *testing.T) {
	var n *eventstream.Notifier
	err := n.Publish(context.Background(), eventstream.NewEnvelope("wf-1", "A", nil, eventstream.ReasonInitial, nil))
	require.NoError(t, err)
}
