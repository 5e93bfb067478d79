package eventbus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/closewise/closewise/pkg/events"
	"github.com/closewise/closewise/pkg/otelhelper"
)

type WatermillEventBus struct {
	publisher     message.Publisher
	subscriber    message.Subscriber
	subscriptions map[events.EventType]EventHandler
	tracer        trace.Tracer
}

func NewWatermillEventBus(pub message.Publisher, sub message.Subscriber) EventBus {
	return &WatermillEventBus{
		publisher:     pub,
		subscriber:    sub,
		subscriptions: make(map[events.EventType]EventHandler),
		tracer:        otel.Tracer("closewise.eventbus"),
	}
}

func (eb *WatermillEventBus) GenerateID() string {
	return watermill.NewULID()
}

func (eb *WatermillEventBus) Publish(ctx context.Context, key string, event Event) error {
	payload, err := json.Marshal(event)
	if err != nil {
		return err
	}

	msg := message.NewMessage("msg-"+eb.GenerateID(), payload)
	msg.Metadata.Set(events.EventMetadataKey, key)
	msg.Metadata.Set(events.EventTypeMetadataKey, string(event.GetType()))

	return eb.publisher.Publish(events.Topic, msg)
}

func (eb *WatermillEventBus) Subscribe(ctx context.Context) error {
	messages, err := eb.subscriber.Subscribe(ctx, events.Topic)
	if err != nil {
		return err
	}

	go func() {
		for msg := range messages {
			eventType := events.EventType(msg.Metadata.Get(events.EventTypeMetadataKey))

			handler, exists := eb.subscriptions[eventType]
			if !exists {
				msg.Ack()

				continue
			}

			spanCtx, span := otelhelper.StartSpan(ctx, eb.tracer, "eventbus consume",
				attribute.String("event.type", string(eventType)),
				attribute.String(otelhelper.TransactionIDKey, msg.Metadata.Get(events.EventMetadataKey)),
			)

			event := newEvent(eventType)
			if event == nil {
				otelhelper.SetError(span, errors.New("unknown event type"))
				span.End()
				msg.Nack()

				continue
			}

			err := json.Unmarshal(msg.Payload, event)
			if err != nil {
				otelhelper.SetError(span, err)
				span.End()
				msg.Nack()

				continue
			}

			err = handler(spanCtx, event)
			if err != nil {
				otelhelper.SetError(span, err)
				span.End()
				msg.Nack()

				continue
			}

			span.End()
			msg.Ack()
		}
	}()

	return nil
}

func newEvent(eventType events.EventType) any {
	switch eventType {
	case events.TransactionCreatedEvent:
		return &events.TransactionCreated{}
	case events.StepEnteredEvent:
		return &events.StepEntered{}
	case events.StepCompletedEvent:
		return &events.StepCompleted{}
	case events.StepSkippedEvent:
		return &events.StepSkipped{}
	case events.ConditionCreatedEvent:
		return &events.ConditionCreated{}
	case events.ConditionCompletedEvent:
		return &events.ConditionCompleted{}
	case events.ConditionDeadlineApproachingEvent:
		return &events.ConditionDeadlineApproaching{}
	case events.ConditionOverdueEvent:
		return &events.ConditionOverdue{}
	case events.PartyAddedEvent:
		return &events.PartyAdded{}
	case events.PartyRemovedEvent:
		return &events.PartyRemoved{}
	case events.OfferReceivedEvent:
		return &events.OfferReceived{}
	case events.OfferAcceptedEvent:
		return &events.OfferAccepted{}
	case events.OfferRejectedEvent:
		return &events.OfferRejected{}
	default:
		return nil
	}
}

func (eb *WatermillEventBus) Handle(eventType events.EventType, handler EventHandler) error {
	eb.subscriptions[eventType] = handler

	return nil
}

func (eb *WatermillEventBus) Close() error {
	err := eb.publisher.Close()
	if err != nil {
		return err
	}

	return eb.subscriber.Close()
}
