package kinesis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/example/marketplace-orders/internal/infrastructure/store"
)

var errMissingFields = errors.New("missing required fields")

// ConvertFromKinesisRecord decodes a record that DynamoDB's Kinesis integration
// wrote for the events table. Only inserts carry new events; anything else
// yields nil.
func ConvertFromKinesisRecord(record events.KinesisEventRecord) (*store.Event, error) {
	var change events.DynamoDBEventRecord
	if err := json.Unmarshal(record.Kinesis.Data, &change); err != nil {
		return nil, fmt.Errorf("failed to unmarshal DynamoDB record: %w", err)
	}
	return ConvertFromDynamoDBStreamRecord(change)
}

// ConvertFromDynamoDBStreamRecord decodes a DynamoDB Streams record directly.
func ConvertFromDynamoDBStreamRecord(record events.DynamoDBEventRecord) (*store.Event, error) {
	if record.EventName != string(events.DynamoDBOperationTypeInsert) {
		return nil, nil
	}
	return eventFromImage(record.Change.NewImage)
}

// eventFromImage mirrors the attribute names the Dynamo event store writes.
func eventFromImage(image map[string]events.DynamoDBAttributeValue) (*store.Event, error) {
	if image == nil {
		return nil, errors.New("DynamoDB image is nil")
	}

	str := func(name string) string {
		if v, ok := image[name]; ok && v.DataType() == events.DataTypeString {
			return v.String()
		}
		return ""
	}

	event := &store.Event{
		ID:            str("id"),
		AggregateID:   str("aggregate_id"),
		AggregateType: str("aggregate_type"),
		EventType:     str("event_type"),
	}
	if event.ID == "" || event.AggregateID == "" || event.EventType == "" {
		return nil, fmt.Errorf("%w: id=%q aggregate_id=%q event_type=%q",
			errMissingFields, event.ID, event.AggregateID, event.EventType)
	}

	if data := str("data"); data != "" {
		if !json.Valid([]byte(data)) {
			return nil, fmt.Errorf("event %s: data is not valid JSON", event.ID)
		}
		event.Data = json.RawMessage(data)
	}
	if created := str("created_at"); created != "" {
		t, err := time.Parse(time.RFC3339Nano, created)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}
		event.Timestamp = t
	}
	if v, ok := image["version"]; ok {
		version, err := v.Integer()
		if err != nil {
			return nil, fmt.Errorf("failed to parse version: %w", err)
		}
		event.Version = int(version)
	}
	return event, nil
}

// EventHandler projects one decoded event
type EventHandler func(ctx context.Context, event store.Event) error

// Process decodes and handles every record in order. Records that fail are
// reported back by sequence number so Lambda retries only those; undecodable
// records are reported too rather than silently dropped.
func Process(ctx context.Context, batch events.KinesisEvent, handle EventHandler) (events.KinesisEventResponse, []error) {
	var resp events.KinesisEventResponse
	var errs []error
	for _, record := range batch.Records {
		event, err := ConvertFromKinesisRecord(record)
		if err == nil && event != nil {
			err = handle(ctx, *event)
		}
		if err != nil {
			errs = append(errs, fmt.Errorf("record %s: %w", record.EventID, err))
			resp.BatchItemFailures = append(resp.BatchItemFailures, events.KinesisBatchItemFailure{
				ItemIdentifier: record.Kinesis.SequenceNumber,
			})
		}
	}
	return resp, errs
}
