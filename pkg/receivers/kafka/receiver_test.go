package kafka_test

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/IBM/sarama"
	"github.com/novotx/elsa-core/pkg/receivers/kafka"
	"github.com/novotx/elsa-core/pkg/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type published struct {
	name string
	opts runtime.PublishEventOptions
}

type fakeSink struct {
	mu     sync.Mutex
	events []published
	err    error
}

func (s *fakeSink) Publish(_ context.Context, eventName string, opts runtime.PublishEventOptions) ([]runtime.WorkflowExecutionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.events = append(s.events, published{name: eventName, opts: opts})

	return nil, s.err
}

func (s *fakeSink) Events() []published {
	s.mu.Lock()
	defer s.mu.Unlock()

	return append([]published(nil), s.events...)
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestDecode(t *testing.T) {
	tests := []struct {
		name    string
		msg     *sarama.ConsumerMessage
		want    kafka.Message
		wantErr error
	}{
		{
			name: "body",
			msg: &sarama.ConsumerMessage{
				Value: []byte(`{"event":"approved","correlation_id":"c-1","instance_id":"i-1","payload":{"by":"ann"}}`),
			},
			want: kafka.Message{Event: "approved", CorrelationID: "c-1", InstanceID: "i-1", Payload: map[string]any{"by": "ann"}},
		},
		{
			name: "headers fill missing fields",
			msg: &sarama.ConsumerMessage{
				Value: []byte(`{"payload":{"n":1}}`),
				Headers: []*sarama.RecordHeader{
					{Key: []byte(kafka.EventHeader), Value: []byte("paid")},
					{Key: []byte(kafka.InstanceHeader), Value: []byte("i-2")},
					nil,
				},
			},
			want: kafka.Message{Event: "paid", InstanceID: "i-2", Payload: map[string]any{"n": float64(1)}},
		},
		{
			name: "body wins over headers",
			msg: &sarama.ConsumerMessage{
				Value:   []byte(`{"event":"approved","correlation_id":"c-1"}`),
				Headers: []*sarama.RecordHeader{{Key: []byte(kafka.CorrelationHeader), Value: []byte("c-2")}},
			},
			want: kafka.Message{Event: "approved", CorrelationID: "c-1"},
		},
		{
			name: "key is the fallback correlation id",
			msg: &sarama.ConsumerMessage{
				Key:     []byte("order-7"),
				Headers: []*sarama.RecordHeader{{Key: []byte(kafka.EventHeader), Value: []byte("shipped")}},
			},
			want: kafka.Message{Event: "shipped", CorrelationID: "order-7"},
		},
		{
			name:    "no event name",
			msg:     &sarama.ConsumerMessage{Value: []byte(`{"payload":{}}`)},
			wantErr: kafka.ErrMissingEventName,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := kafka.Decode(tt.msg)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := kafka.Decode(&sarama.ConsumerMessage{Value: []byte("not json")})
	assert.Error(t, err)
}

func TestReceiver_Handle(t *testing.T) {
	ctx := context.Background()
	sink := &fakeSink{}
	r := kafka.NewReceiver(kafka.Config{}, sink, discardLogger())

	err := r.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"event":"approved","activity_instance_id":"a-1","instance_id":"i-1"}`)})
	require.NoError(t, err)

	// Undecodable messages are dropped, not retried.
	require.NoError(t, r.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{}`)}))

	assert.Equal(t, []published{{name: "approved", opts: runtime.PublishEventOptions{InstanceID: "i-1", ActivityInstanceID: "a-1"}}}, sink.Events())

	sink.err = errors.New("cluster stopped")
	assert.Error(t, r.Handle(ctx, &sarama.ConsumerMessage{Value: []byte(`{"event":"approved"}`)}))
}

func TestReceiver_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  kafka.Config
		wantErr bool
	}{
		{name: "valid", config: kafka.Config{Brokers: []string{"localhost:9092"}, Topics: []string{"events"}}},
		{name: "no brokers", config: kafka.Config{Topics: []string{"events"}}, wantErr: true},
		{name: "no topics", config: kafka.Config{Brokers: []string{"localhost:9092"}}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := kafka.NewReceiver(tt.config, &fakeSink{}, discardLogger()).Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestReceiver_StopBeforeStart(t *testing.T) {
	r := kafka.NewReceiver(kafka.Config{}, &fakeSink{}, discardLogger())
	assert.NoError(t, r.Stop(context.Background()))
}
