package webhookbus

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/require"
)

type recordingHandler struct {
	events []*DeliveryEvent
	fail   int
}

func (h *recordingHandler) HandleDeliveryEvent(ctx context.Context, event *DeliveryEvent) error {
	h.events = append(h.events, event)
	return nil
}

func TestDeliveryEventRoundTripsThroughJSON(t *testing.T) {
	event := DeliveryEvent{JobID: "job-1", Event: EventCompleted, TraceID: "trace-1"}
	data, err := json.Marshal(event)
	require.NoError(t, err)

	var decoded DeliveryEvent
	require.NoError(t, json.Unmarshal(data, &decoded))
	require.Equal(t, event, decoded)
}

func TestConsumerProcessDispatchesToHandler(t *testing.T) {
	handler := &recordingHandler{}
	c := &Consumer{handler: handler}

	data, err := json.Marshal(DeliveryEvent{JobID: "job-2", Event: EventFailed})
	require.NoError(t, err)

	require.NoError(t, c.process(context.Background(), kafka.Message{Value: data}))
	require.Len(t, handler.events, 1)
	require.Equal(t, "job-2", handler.events[0].JobID)
	require.Equal(t, EventFailed, handler.events[0].Event)
}

func TestConsumerProcessRejectsMalformedPayload(t *testing.T) {
	c := &Consumer{handler: &recordingHandler{}}
	err := c.process(context.Background(), kafka.Message{Value: []byte("not-json")})
	require.Error(t, err)
}
