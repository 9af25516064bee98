package events

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockSink struct {
	mock.Mock
	name string
}

func (m *mockSink) Name() string { return m.name }

func (m *mockSink) Publish(ctx context.Context, batch []Envelope) error {
	return m.Called(ctx, batch).Error(0)
}

type mockJetStream struct {
	mock.Mock
}

func (m *mockJetStream) Publish(subj string, data []byte, opts ...nats.PubOpt) (*nats.PubAck, error) {
	args := m.Called(subj, data, len(opts))
	ack, _ := args.Get(0).(*nats.PubAck)
	return ack, args.Error(1)
}

func (m *mockJetStream) StreamInfo(stream string, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	args := m.Called(stream)
	info, _ := args.Get(0).(*nats.StreamInfo)
	return info, args.Error(1)
}

func (m *mockJetStream) AddStream(cfg *nats.StreamConfig, _ ...nats.JSOpt) (*nats.StreamInfo, error) {
	args := m.Called(cfg)
	info, _ := args.Get(0).(*nats.StreamInfo)
	return info, args.Error(1)
}

func quietLog() *logrus.Entry {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return logrus.NewEntry(l)
}

func batch() []Envelope {
	return []Envelope{
		{Height: 4, TxHash: "AB", Index: 0, Name: "SendToLiquidityEvent", Data: json.RawMessage(`{"amount":5}`)},
		{Height: 4, TxHash: "AB", Index: 1, Name: "PauseEvent", Data: json.RawMessage(`{}`)},
	}
}

func TestEnvelopeID(t *testing.T) {
	assert.Equal(t, "AB:1", batch()[1].ID())
}

func TestFanoutContinuesPastFailure(t *testing.T) {
	ctx := context.Background()
	b := batch()

	failing := &mockSink{name: "failing"}
	failing.On("Publish", ctx, b).Return(errors.New("down"))
	ok := &mockSink{name: "ok"}
	ok.On("Publish", ctx, b).Return(nil)

	err := Fanout{failing, ok, Nop{}}.Publish(ctx, b)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failing: down")

	failing.AssertExpectations(t)
	ok.AssertExpectations(t)
}

func TestFanoutSkipsEmptyBatch(t *testing.T) {
	s := &mockSink{name: "s"}
	require.NoError(t, Fanout{s}.Publish(context.Background(), nil))
	s.AssertNotCalled(t, "Publish", mock.Anything, mock.Anything)
}

func TestNATSPublisherSubjectsAndPayload(t *testing.T) {
	js := &mockJetStream{}
	p := newNATSPublisher(js, NATSOptions{Stream: "VB", SubjectPrefix: "bridge."}, quietLog())

	b := batch()
	js.On("Publish", "bridge.SendToLiquidityEvent", mock.MatchedBy(func(data []byte) bool {
		var env Envelope
		return json.Unmarshal(data, &env) == nil && env.ID() == "AB:0" && string(env.Data) == `{"amount":5}`
	}), 2).Return(&nats.PubAck{Stream: "VB", Sequence: 1}, nil).Once()
	js.On("Publish", "bridge.PauseEvent", mock.Anything, 2).Return(&nats.PubAck{Stream: "VB", Sequence: 2}, nil).Once()

	require.NoError(t, p.Publish(context.Background(), b))
	js.AssertExpectations(t)
}

func TestNATSPublisherStopsAtFirstError(t *testing.T) {
	js := &mockJetStream{}
	p := newNATSPublisher(js, NATSOptions{Stream: "VB"}, quietLog())
	js.On("Publish", "vaultbridge.SendToLiquidityEvent", mock.Anything, 2).Return(nil, errors.New("no responders"))

	err := p.Publish(context.Background(), batch())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AB:0")
	js.AssertNumberOfCalls(t, "Publish", 1)
}

func TestEnsureStream(t *testing.T) {
	js := &mockJetStream{}
	p := newNATSPublisher(js, NATSOptions{Stream: "VB", SubjectPrefix: "vb"}, quietLog())
	js.On("StreamInfo", "VB").Return(nil, nats.ErrStreamNotFound)
	js.On("AddStream", mock.MatchedBy(func(cfg *nats.StreamConfig) bool {
		return cfg.Name == "VB" && len(cfg.Subjects) == 1 && cfg.Subjects[0] == "vb.>"
	})).Return(&nats.StreamInfo{}, nil)

	require.NoError(t, p.ensureStream())
	js.AssertExpectations(t)

	existing := &mockJetStream{}
	p = newNATSPublisher(existing, NATSOptions{Stream: "VB"}, quietLog())
	existing.On("StreamInfo", "VB").Return(&nats.StreamInfo{}, nil)
	require.NoError(t, p.ensureStream())
	existing.AssertNotCalled(t, "AddStream", mock.Anything)
}
