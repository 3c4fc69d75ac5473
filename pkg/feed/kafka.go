// Package feed publishes market events to Kafka for downstream consumers
// (analytics, external bots). It is optional; the node runs without it when
// no brokers are configured.
package feed

import (
	"encoding/json"
	"fmt"

	"github.com/IBM/sarama"
	"go.uber.org/zap"

	"github.com/tradepost/tradepost/pkg/market"
)

// Publisher forwards dispatcher events to a Kafka topic. Events are keyed by
// item so per-item ordering survives partitioning. Delivery happens on a
// background goroutine; the matching path only pays for an enqueue.
type Publisher struct {
	producer sarama.SyncProducer
	topic    string
	queue    chan market.Event
	done     chan struct{}
	log      *zap.SugaredLogger
}

func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) (*Publisher, error) {
	cfg := sarama.NewConfig()
	cfg.Producer.Return.Successes = true
	cfg.Producer.RequiredAcks = sarama.WaitForAll
	cfg.Producer.Retry.Max = 5

	producer, err := sarama.NewSyncProducer(brokers, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect kafka producer: %w", err)
	}

	p := &Publisher{
		producer: producer,
		topic:    topic,
		queue:    make(chan market.Event, 1024),
		done:     make(chan struct{}),
		log:      log,
	}
	go p.run()
	return p, nil
}

// HandleEvent implements market.Consumer.
func (p *Publisher) HandleEvent(ev market.Event) {
	select {
	case p.queue <- ev:
	default:
		p.log.Warnw("feed queue full, dropping event", "kind", ev.Kind, "item", ev.Item)
	}
}

func (p *Publisher) run() {
	defer close(p.done)
	for ev := range p.queue {
		payload, err := json.Marshal(ev)
		if err != nil {
			p.log.Errorw("encode feed event", "kind", ev.Kind, "err", err)
			continue
		}
		msg := &sarama.ProducerMessage{
			Topic: p.topic,
			Key:   sarama.StringEncoder(ev.Item),
			Value: sarama.ByteEncoder(payload),
		}
		if _, _, err := p.producer.SendMessage(msg); err != nil {
			p.log.Errorw("publish feed event", "kind", ev.Kind, "item", ev.Item, "err", err)
		}
	}
}

// Close drains the queue and releases the producer.
func (p *Publisher) Close() error {
	close(p.queue)
	<-p.done
	return p.producer.Close()
}

var _ market.Consumer = (*Publisher)(nil)
