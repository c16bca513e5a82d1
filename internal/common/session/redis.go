package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"rfq-workers/internal/models"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "rfq:session:"

// setBidScript returns -1 when the placeholder is missing, 0 when a payload is already
// present and 1 after writing the payload.
var setBidScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then
  return -1
end
if redis.call('HEXISTS', KEYS[1], 'payload') == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'payload', ARGV[1], 'bid_at', ARGV[2])
return 1
`)

// RedisStore keeps each session as a JSON string, each category record as a hash and the
// dispatched category names in a set. Every key expires after ttl.
type RedisStore struct {
	client redis.UniversalClient
	ttl    time.Duration
	now    func() time.Time
}

func NewRedisStore(client redis.UniversalClient, ttl time.Duration) *RedisStore {
	return &RedisStore{client: client, ttl: ttl, now: time.Now}
}

func sessionKey(sessionID string) string {
	return keyPrefix + sessionID
}

func categoryKey(sessionID string, category models.Category) string {
	return keyPrefix + sessionID + ":category:" + string(category)
}

func categoriesKey(sessionID string) string {
	return keyPrefix + sessionID + ":categories"
}

func (s *RedisStore) CreateSession(ctx context.Context, sessionID, dispatchToken string) error {
	data, err := json.Marshal(models.Session{
		ID:            sessionID,
		DispatchToken: dispatchToken,
		CreatedAt:     s.now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("failed to marshal session: %w", err)
	}

	ok, err := s.client.SetNX(ctx, sessionKey(sessionID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to claim session: %w", err)
	}
	if !ok {
		return ErrAlreadyExists
	}
	return nil
}

func (s *RedisStore) GetSession(ctx context.Context, sessionID string) (*models.Session, error) {
	data, err := s.client.Get(ctx, sessionKey(sessionID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}

	var sess models.Session
	if err := json.Unmarshal(data, &sess); err != nil {
		return nil, fmt.Errorf("failed to decode session: %w", err)
	}
	return &sess, nil
}

func (s *RedisStore) PutCategory(ctx context.Context, record models.CategoryRecord) error {
	key := categoryKey(record.SessionID, record.Category)
	fields := []interface{}{
		"session_id", record.SessionID,
		"category", string(record.Category),
		"bid_token", record.BidToken,
		"contract_value", strconv.FormatFloat(record.ContractValue, 'f', -1, 64),
	}
	if record.HasBid() {
		fields = append(fields, "payload", string(record.Payload))
		if record.BidAt != nil {
			fields = append(fields, "bid_at", record.BidAt.UTC().Format(time.RFC3339Nano))
		}
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, key)
		pipe.HSet(ctx, key, fields...)
		pipe.SAdd(ctx, categoriesKey(record.SessionID), string(record.Category))
		if s.ttl > 0 {
			pipe.Expire(ctx, key, s.ttl)
			pipe.Expire(ctx, categoriesKey(record.SessionID), s.ttl)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to store category record: %w", err)
	}
	return nil
}

func (s *RedisStore) GetCategory(ctx context.Context, sessionID string, category models.Category) (*models.CategoryRecord, error) {
	fields, err := s.client.HGetAll(ctx, categoryKey(sessionID, category)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read category record: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return decodeCategory(sessionID, category, fields)
}

func (s *RedisStore) SetBid(ctx context.Context, sessionID string, category models.Category, payload json.RawMessage) error {
	res, err := setBidScript.Run(ctx, s.client,
		[]string{categoryKey(sessionID, category)},
		string(payload), s.now().UTC().Format(time.RFC3339Nano),
	).Int()
	if err != nil {
		return fmt.Errorf("failed to record bid: %w", err)
	}

	switch res {
	case -1:
		return ErrNotFound
	case 0:
		return ErrAlreadyBid
	default:
		return nil
	}
}

func (s *RedisStore) ListCategories(ctx context.Context, sessionID string) ([]models.CategoryRecord, error) {
	names, err := s.client.SMembers(ctx, categoriesKey(sessionID)).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list categories: %w", err)
	}
	if len(names) == 0 {
		return []models.CategoryRecord{}, nil
	}

	cmds := make([]*redis.MapStringStringCmd, len(names))
	_, err = s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, name := range names {
			cmds[i] = pipe.HGetAll(ctx, categoryKey(sessionID, models.Category(name)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read category records: %w", err)
	}

	out := make([]models.CategoryRecord, 0, len(names))
	for i, cmd := range cmds {
		fields := cmd.Val()
		if len(fields) == 0 {
			continue
		}
		rec, err := decodeCategory(sessionID, models.Category(names[i]), fields)
		if err != nil {
			return nil, err
		}
		out = append(out, *rec)
	}
	sortRecords(out)
	return out, nil
}

func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

func decodeCategory(sessionID string, category models.Category, fields map[string]string) (*models.CategoryRecord, error) {
	rec := &models.CategoryRecord{
		SessionID: sessionID,
		Category:  category,
		BidToken:  fields["bid_token"],
	}

	if v, ok := fields["contract_value"]; ok && v != "" {
		value, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, fmt.Errorf("corrupt contract_value for %s/%s: %w", sessionID, category, err)
		}
		rec.ContractValue = value
	}
	if p, ok := fields["payload"]; ok {
		rec.Payload = json.RawMessage(p)
	}
	if v, ok := fields["bid_at"]; ok && v != "" {
		at, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return nil, fmt.Errorf("corrupt bid_at for %s/%s: %w", sessionID, category, err)
		}
		rec.BidAt = &at
	}
	return rec, nil
}
