package eventlog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/twmb/franz-go/pkg/kadm"
	"github.com/twmb/franz-go/pkg/kerr"
	"github.com/twmb/franz-go/pkg/kgo"

	"gatekeeper/internal/events"
	"gatekeeper/internal/platform/config"
)

// Kafka is the broker-backed log. One topic holds every approval event; the
// record key is the approval item id.
type Kafka struct {
	cfg    config.KafkaConfig
	client *kgo.Client
	admin  *kadm.Client
	logger *slog.Logger
}

// NewKafka connects a producer and makes sure the topic exists with the
// configured partition count and retention.
func NewKafka(ctx context.Context, cfg config.KafkaConfig, logger *slog.Logger) (*Kafka, error) {
	if len(cfg.Brokers) == 0 {
		return nil, fmt.Errorf("eventlog: no kafka brokers configured")
	}
	if logger == nil {
		logger = slog.Default()
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ClientID(cfg.ClientID),
		kgo.DefaultProduceTopic(cfg.Topic),
		kgo.RequiredAcks(kgo.AllISRAcks()),
		kgo.ProducerLinger(5*time.Millisecond),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka client: %w", err)
	}
	k := &Kafka{cfg: cfg, client: client, admin: kadm.NewClient(client), logger: logger}
	if err := k.EnsureTopic(ctx); err != nil {
		client.Close()
		return nil, err
	}
	return k, nil
}

// EnsureTopic creates the topic or, when it exists, re-applies the retention.
func (k *Kafka) EnsureTopic(ctx context.Context) error {
	retention := strconv.FormatInt(k.cfg.Retention.Milliseconds(), 10)
	configs := map[string]*string{"retention.ms": &retention}

	resp, err := k.admin.CreateTopic(ctx, k.cfg.Partitions, k.cfg.ReplicationFactor, configs, k.cfg.Topic)
	if err == nil {
		err = resp.Err
	}
	switch {
	case err == nil:
		k.logger.InfoContext(ctx, "created event log topic",
			"topic", k.cfg.Topic,
			"partitions", k.cfg.Partitions,
			"retention", k.cfg.Retention,
		)
		return nil
	case errors.Is(err, kerr.TopicAlreadyExists):
		alter := []kadm.AlterConfig{{Op: kadm.SetConfig, Name: "retention.ms", Value: &retention}}
		if _, err := k.admin.AlterTopicConfigs(ctx, alter, k.cfg.Topic); err != nil {
			return fmt.Errorf("set retention on %s: %w", k.cfg.Topic, err)
		}
		return nil
	}
	return fmt.Errorf("create topic %s: %w", k.cfg.Topic, err)
}

func (k *Kafka) Append(ctx context.Context, evs ...events.Event) error {
	recs := make([]*kgo.Record, 0, len(evs))
	for _, e := range evs {
		value, err := events.Marshal(e)
		if err != nil {
			return fmt.Errorf("encode event %s: %w", e.ID, err)
		}
		rec := &kgo.Record{
			Topic: k.cfg.Topic,
			Key:   e.PartitionKey(),
			Value: value,
			Headers: []kgo.RecordHeader{
				{Key: "event-type", Value: []byte(e.Type)},
			},
		}
		if e.Replay {
			rec.Headers = append(rec.Headers,
				kgo.RecordHeader{Key: headerReplay, Value: []byte("true")},
				kgo.RecordHeader{Key: headerReplayGroup, Value: []byte(e.ReplayGroup)},
			)
		}
		recs = append(recs, rec)
	}
	if err := k.client.ProduceSync(ctx, recs...).FirstErr(); err != nil {
		return fmt.Errorf("produce to %s: %w", k.cfg.Topic, err)
	}
	return nil
}

func (k *Kafka) Consumer(group string) (Consumer, error) {
	client, err := kgo.NewClient(
		kgo.SeedBrokers(k.cfg.Brokers...),
		kgo.ClientID(k.cfg.ClientID+"-"+group),
		kgo.ConsumerGroup(group),
		kgo.ConsumeTopics(k.cfg.Topic),
		kgo.DisableAutoCommit(),
		// A rebalance waits until the polled batch is committed, so a commit
		// never lands on a partition this member has already lost.
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
		kgo.FetchMaxWait(time.Second),
	)
	if err != nil {
		return nil, fmt.Errorf("create consumer for group %s: %w", group, err)
	}
	return &kafkaConsumer{client: client}, nil
}

// ReadRange reads every partition from the first offset at or after from up
// to the end offsets observed when the call starts.
func (k *Kafka) ReadRange(ctx context.Context, from, to time.Time, fn func(Record) error) error {
	starts, err := k.admin.ListOffsetsAfterMilli(ctx, from.UnixMilli(), k.cfg.Topic)
	if err != nil {
		return fmt.Errorf("list offsets after %s: %w", from, err)
	}
	ends, err := k.admin.ListEndOffsets(ctx, k.cfg.Topic)
	if err != nil {
		return fmt.Errorf("list end offsets: %w", err)
	}

	pending := make(map[int32]int64)
	assign := make(map[int32]kgo.Offset)
	var listErr error
	starts.Each(func(o kadm.ListedOffset) {
		if o.Err != nil {
			listErr = o.Err
			return
		}
		end, ok := ends.Lookup(k.cfg.Topic, o.Partition)
		if !ok || end.Err != nil || o.Offset < 0 || o.Offset >= end.Offset {
			return
		}
		pending[o.Partition] = end.Offset
		assign[o.Partition] = kgo.NewOffset().At(o.Offset)
	})
	if listErr != nil {
		return fmt.Errorf("list offsets: %w", listErr)
	}
	if len(pending) == 0 {
		return nil
	}

	reader, err := kgo.NewClient(
		kgo.SeedBrokers(k.cfg.Brokers...),
		kgo.ClientID(k.cfg.ClientID+"-replay"),
		kgo.ConsumePartitions(map[string]map[int32]kgo.Offset{k.cfg.Topic: assign}),
	)
	if err != nil {
		return fmt.Errorf("create range reader: %w", err)
	}
	defer reader.Close()

	for len(pending) > 0 {
		fetches := reader.PollFetches(ctx)
		if err := ctx.Err(); err != nil {
			return err
		}
		var fetchErr error
		fetches.EachError(func(_ string, _ int32, err error) {
			fetchErr = err
		})
		if fetchErr != nil {
			return fmt.Errorf("read range: %w", fetchErr)
		}

		var cbErr error
		fetches.EachRecord(func(r *kgo.Record) {
			end, open := pending[r.Partition]
			if cbErr != nil || !open {
				return
			}
			if r.Offset+1 >= end {
				delete(pending, r.Partition)
			}
			if r.Timestamp.Before(from) || !r.Timestamp.Before(to) {
				if !r.Timestamp.Before(to) {
					delete(pending, r.Partition)
				}
				return
			}
			cbErr = fn(decodeKafka(r))
		})
		if cbErr != nil {
			return cbErr
		}
	}
	return nil
}

func (k *Kafka) Close() {
	k.client.Close()
}

// Health pings the brokers.
func (k *Kafka) Health(ctx context.Context) error {
	return k.client.Ping(ctx)
}

func decodeKafka(r *kgo.Record) Record {
	rec := Record{Partition: r.Partition, Offset: r.Offset, Timestamp: r.Timestamp, raw: r}
	e, err := events.Unmarshal(r.Value)
	if err != nil {
		rec.Err = err
		return rec
	}
	for _, h := range r.Headers {
		switch h.Key {
		case headerReplay:
			e.Replay = string(h.Value) == "true"
		case headerReplayGroup:
			e.ReplayGroup = string(h.Value)
		}
	}
	rec.Event = e
	return rec
}

type kafkaConsumer struct {
	client *kgo.Client
}

func (c *kafkaConsumer) Poll(ctx context.Context) ([]Record, error) {
	for {
		c.client.AllowRebalance()
		fetches := c.client.PollRecords(ctx, defaultPollBatch)
		if fetches.IsClientClosed() {
			return nil, ErrClosed
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var fetchErr error
		fetches.EachError(func(_ string, _ int32, err error) {
			fetchErr = err
		})
		if fetchErr != nil {
			return nil, fmt.Errorf("poll: %w", fetchErr)
		}
		var out []Record
		fetches.EachRecord(func(r *kgo.Record) {
			out = append(out, decodeKafka(r))
		})
		if len(out) > 0 {
			return out, nil
		}
	}
}

func (c *kafkaConsumer) Commit(ctx context.Context, recs ...Record) error {
	defer c.client.AllowRebalance()
	raw := make([]*kgo.Record, 0, len(recs))
	for _, r := range recs {
		if kr, ok := r.raw.(*kgo.Record); ok {
			raw = append(raw, kr)
		}
	}
	if len(raw) == 0 {
		return nil
	}
	return c.client.CommitRecords(ctx, raw...)
}

func (c *kafkaConsumer) Close() {
	c.client.Close()
}
