package state

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"alertresolver/internal/config"

	"github.com/nats-io/nats.go"
)

// NATSStore persists run history and active alerts in JetStream KV buckets.
// Params: NATS connection, JetStream context, and KV bucket handles.
// Returns: KV-backed state store implementation.
type NATSStore struct {
	nc                  *nats.Conn
	js                  nats.JetStreamContext
	runKV               nats.KeyValue
	activeKV            nats.KeyValue
	runTTL              time.Duration
	runSubjectPrefix    string
	activeSubjectPrefix string
}

type timestampPayload struct {
	UnixMS int64 `json:"unix_ms"`
}

// NewNATSStore opens (or creates) KV buckets and returns NATS state backend.
// Params: NATS/JetStream settings from config.
// Returns: initialized NATS store or setup error.
func NewNATSStore(settings config.NATSStoreConfig) (*NATSStore, error) {
	nc, err := nats.Connect(strings.Join(settings.URL, ","), nats.Name("alertresolver-state"))
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	runKV, err := openBucket(js, settings.RunBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}
	runTTL := time.Duration(settings.RunHistoryTTLSec) * time.Second
	if runTTL > 0 {
		if err := enableBucketPerMessageTTL(js, settings.RunBucket); err != nil {
			nc.Close()
			return nil, fmt.Errorf("enable per-message ttl on run bucket: %w", err)
		}
	}

	activeKV, err := openBucket(js, settings.ActiveBucket, settings.AllowCreateBuckets)
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &NATSStore{
		nc:                  nc,
		js:                  js,
		runKV:               runKV,
		activeKV:            activeKV,
		runTTL:              runTTL,
		runSubjectPrefix:    "$KV." + settings.RunBucket + ".",
		activeSubjectPrefix: "$KV." + settings.ActiveBucket + ".",
	}, nil
}

// openBucket binds an existing KV bucket or creates it when allowed.
func openBucket(js nats.JetStreamContext, bucket string, allowCreate bool) (nats.KeyValue, error) {
	kv, err := js.KeyValue(bucket)
	if err == nil {
		return kv, nil
	}
	if !allowCreate {
		return nil, fmt.Errorf("open bucket %q: %w", bucket, err)
	}
	kv, err = js.CreateKeyValue(&nats.KeyValueConfig{Bucket: bucket})
	if err != nil {
		return nil, fmt.Errorf("create bucket %q: %w", bucket, err)
	}
	return kv, nil
}

// enableBucketPerMessageTTL ensures underlying KV stream allows Nats-TTL header.
// Params: JetStream context and KV bucket name.
// Returns: stream update error when config cannot be applied.
func enableBucketPerMessageTTL(js nats.JetStreamContext, bucket string) error {
	info, err := js.StreamInfo("KV_" + bucket)
	if err != nil {
		return err
	}
	if info.Config.AllowMsgTTL {
		return nil
	}
	cfg := info.Config
	cfg.AllowMsgTTL = true
	_, err = js.UpdateStream(&cfg)
	return err
}

// encodeKey maps ledger keys (which contain ':') onto the KV key alphabet.
func encodeKey(key string) string {
	return base64.RawURLEncoding.EncodeToString([]byte(key))
}

func encodeTimestamp(at time.Time) []byte {
	payload, _ := json.Marshal(timestampPayload{UnixMS: at.UnixMilli()})
	return payload
}

func decodeTimestamp(body []byte) (time.Time, error) {
	var payload timestampPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		return time.Time{}, fmt.Errorf("decode timestamp: %w", err)
	}
	return time.UnixMilli(payload.UnixMS).UTC(), nil
}

// GetLastAlertRun reads the run record of one alert/connector pair.
func (s *NATSStore) GetLastAlertRun(_ context.Context, alertType, siteID, connectorID string) (time.Time, bool, error) {
	entry, err := s.runKV.Get(encodeKey(runKey(alertType, siteID, connectorID)))
	if err != nil {
		if errors.Is(err, nats.ErrKeyNotFound) {
			return time.Time{}, false, nil
		}
		return time.Time{}, false, fmt.Errorf("get run: %w", err)
	}
	at, err := decodeTimestamp(entry.Value())
	if err != nil {
		return time.Time{}, false, err
	}
	return at, true, nil
}

// SaveAlertRun writes the run record, expiring it after the configured TTL when set.
func (s *NATSStore) SaveAlertRun(ctx context.Context, alertType, siteID, connectorID string, at time.Time) error {
	msg := nats.NewMsg(s.runSubjectPrefix + encodeKey(runKey(alertType, siteID, connectorID)))
	msg.Data = encodeTimestamp(at)
	if s.runTTL > 0 {
		msg.Header = nats.Header{
			"Nats-TTL": []string{strconv.FormatInt(s.runTTL.Milliseconds(), 10) + "ms"},
		}
	}
	if _, err := s.js.PublishMsg(msg, nats.Context(ctx)); err != nil {
		return fmt.Errorf("publish run: %w", err)
	}
	return nil
}

// AlertLastOccurrence reads the requested keys from one bucket snapshot.
// A single watcher replays the latest value per key, so the lookup costs one consumer regardless of batch size.
func (s *NATSStore) AlertLastOccurrence(ctx context.Context, keys []string) (map[string]time.Time, error) {
	out := make(map[string]time.Time, len(keys))
	wanted := make(map[string]string, len(keys))
	for _, key := range uniqueKeys(keys) {
		wanted[encodeKey(key)] = key
	}
	if len(wanted) == 0 {
		return out, nil
	}

	watcher, err := s.activeKV.WatchAll(nats.IgnoreDeletes())
	if err != nil {
		return nil, fmt.Errorf("watch active alerts: %w", err)
	}
	defer func() { _ = watcher.Stop() }()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case entry, ok := <-watcher.Updates():
			if !ok || entry == nil {
				return out, nil
			}
			original, tracked := wanted[entry.Key()]
			if !tracked {
				continue
			}
			at, err := decodeTimestamp(entry.Value())
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", original, err)
			}
			out[original] = at
		}
	}
}

// IsAlertActive reports record presence for requested keys.
func (s *NATSStore) IsAlertActive(ctx context.Context, keys []string) (map[string]bool, error) {
	occurrences, err := s.AlertLastOccurrence(ctx, keys)
	if err != nil {
		return nil, err
	}
	return activeFromOccurrences(keys, occurrences), nil
}

// LogAlert pipelines one put per key and waits for all acks.
func (s *NATSStore) LogAlert(ctx context.Context, keys []string, at time.Time) error {
	payload := encodeTimestamp(at)
	return s.publishBatch(ctx, uniqueKeys(keys), func(msg *nats.Msg) {
		msg.Data = payload
	})
}

// DeleteAlert pipelines one delete marker per key and waits for all acks.
func (s *NATSStore) DeleteAlert(ctx context.Context, keys []string) error {
	return s.publishBatch(ctx, uniqueKeys(keys), func(msg *nats.Msg) {
		msg.Header = nats.Header{"KV-Operation": []string{"DEL"}}
	})
}

// publishBatch sends async publishes to the active bucket and collects acks.
// Params: context, keys, and message decorator.
// Returns: first publish or ack error.
func (s *NATSStore) publishBatch(ctx context.Context, keys []string, decorate func(*nats.Msg)) error {
	if len(keys) == 0 {
		return nil
	}
	futures := make([]nats.PubAckFuture, 0, len(keys))
	for _, key := range keys {
		msg := nats.NewMsg(s.activeSubjectPrefix + encodeKey(key))
		decorate(msg)
		future, err := s.js.PublishMsgAsync(msg)
		if err != nil {
			return fmt.Errorf("publish %q: %w", key, err)
		}
		futures = append(futures, future)
	}
	for i, future := range futures {
		select {
		case <-future.Ok():
		case err := <-future.Err():
			return fmt.Errorf("ack %q: %w", keys[i], err)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close closes underlying NATS connection.
func (s *NATSStore) Close() error {
	s.nc.Close()
	return nil
}
