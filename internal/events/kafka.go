// Package events publishes successful current-conditions fetches to Kafka so
// other services can follow the dashboard's observations.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"

	"github.com/i474232898/weather-dashboard/internal/query"
	"github.com/i474232898/weather-dashboard/internal/weather"
)

// ObservationEvent is the JSON value of every published record.
type ObservationEvent struct {
	Query     string           `json:"query"`
	Location  weather.Location `json:"location"`
	FetchID   string           `json:"fetchId"`
	FetchedAt time.Time        `json:"fetchedAt"`
	Data      weather.Data     `json:"data"`
}

type producer interface {
	Produce(ctx context.Context, r *kgo.Record, promise func(*kgo.Record, error))
}

// Publisher produces ObservationEvents to a single topic.
type Publisher struct {
	topic    string
	producer producer
	client   *kgo.Client
}

// NewPublisher connects to brokers. Records are produced asynchronously.
func NewPublisher(brokers []string, topic string) (*Publisher, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(brokers...),
		kgo.DefaultProduceTopic(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka client: %w", err)
	}

	log.Printf("INFO: kafka publisher initialized for topic %s", topic)
	return &Publisher{topic: topic, producer: client, client: client}, nil
}

// Listener returns a query listener that publishes every success transition.
func (p *Publisher) Listener() query.Listener[weather.Query, weather.Data] {
	return func(q weather.Query, st query.State[weather.Data]) {
		rec, ok, err := p.record(q, st)
		if err != nil {
			log.Printf("ERROR: events: encoding %s failed: %v", q, err)
			return
		}
		if !ok {
			return
		}

		p.producer.Produce(context.Background(), rec, func(r *kgo.Record, err error) {
			if err != nil {
				log.Printf("ERROR: events: publishing %s failed: %v", r.Key, err)
				return
			}
			log.Printf("DEBUG: events: published %s to %s", r.Key, r.Topic)
		})
	}
}

// record builds the Kafka record for a transition. ok is false for
// transitions that are not published.
func (p *Publisher) record(q weather.Query, st query.State[weather.Data]) (*kgo.Record, bool, error) {
	if !st.IsSuccess() {
		return nil, false, nil
	}

	value, err := json.Marshal(ObservationEvent{
		Query:     q.String(),
		Location:  q.Location,
		FetchID:   st.FetchID,
		FetchedAt: st.FetchedAt,
		Data:      st.Data,
	})
	if err != nil {
		return nil, false, err
	}

	return &kgo.Record{
		Topic: p.topic,
		Key:   []byte(q.Location.Key()),
		Value: value,
	}, true, nil
}

// Close flushes buffered records and closes the client.
func (p *Publisher) Close(ctx context.Context) {
	if p.client == nil {
		return
	}
	if err := p.client.Flush(ctx); err != nil {
		log.Printf("ERROR: events: flush failed: %v", err)
	}
	p.client.Close()
}
