package acs

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/invreserve/engine/internal/rerr"
)

// scriptReply is the shape every script returns (cjson.encode of a Lua
// table), decoded field-by-field per op since the field set differs.
type scriptReply struct {
	OK             bool   `json:"ok"`
	Err            string `json:"err"`
	Idempotent     bool   `json:"idempotent"`
	HoldID         string `json:"hold_id"`
	ExpiresAt      int64  `json:"expires_at"`
	AvailableAfter int64  `json:"available_after"`
	NewExpiresAt   int64  `json:"new_expires_at"`
	ConsumedQty    int64  `json:"consumed_qty"`
	ReleasedQty    int64  `json:"released_qty"`
	Absent         bool   `json:"absent"`
	Available      int64  `json:"available"`
	ExistingQty    int64  `json:"existing_qty"`
}

func (s *RedisStore) runScript(ctx context.Context, name string, keys []string, args ...interface{}) (scriptReply, error) {
	raw, err := s.script[name].Run(ctx, s.rdb, keys, args...).Text()
	if err != nil {
		return scriptReply{}, rerr.Unavailable(fmt.Errorf("acs: %s: %w", name, err))
	}
	var reply scriptReply
	if err := json.Unmarshal([]byte(raw), &reply); err != nil {
		return scriptReply{}, rerr.Internal("acs: %s: decode reply: %v", name, err)
	}
	return reply, nil
}

func (s *RedisStore) Reserve(ctx context.Context, sku, cartID string, qty, ttlMS, nowMS int64) (ReserveResult, error) {
	member := holdID(cartID, sku)
	reply, err := s.runScript(ctx, "reserve",
		[]string{invKey(sku), holdKey(cartID, sku), expIndexKey, s.eventsKey()},
		sku, cartID, strconv.FormatInt(qty, 10), strconv.FormatInt(ttlMS, 10),
		strconv.FormatInt(nowMS, 10), member, s.eventsArg(),
	)
	if err != nil {
		return ReserveResult{}, err
	}
	if !reply.OK {
		switch reply.Err {
		case "conflict":
			return ReserveResult{}, &rerr.ConflictError{Reason: "qty_mismatch", ExistingQty: reply.ExistingQty}
		case "insufficient":
			return ReserveResult{}, &rerr.InsufficientError{Available: reply.Available}
		default:
			return ReserveResult{}, rerr.Internal("acs: reserve: unrecognized error %q", reply.Err)
		}
	}
	return ReserveResult{
		HoldID:         reply.HoldID,
		Idempotent:     reply.Idempotent,
		ExpiresAtMS:    reply.ExpiresAt,
		AvailableAfter: reply.AvailableAfter,
	}, nil
}

func (s *RedisStore) Extend(ctx context.Context, sku, cartID string, addMS, nowMS int64) (ExtendResult, error) {
	member := holdID(cartID, sku)
	reply, err := s.runScript(ctx, "extend",
		[]string{holdKey(cartID, sku), expIndexKey, s.eventsKey()},
		sku, cartID, strconv.FormatInt(addMS, 10), strconv.FormatInt(nowMS, 10), member, s.eventsArg(),
	)
	if err != nil {
		return ExtendResult{}, err
	}
	if !reply.OK {
		return ExtendResult{}, &rerr.NotFoundError{CartID: cartID, SKU: sku}
	}
	return ExtendResult{NewExpiresAtMS: reply.NewExpiresAt}, nil
}

func (s *RedisStore) CommitLocal(ctx context.Context, sku, cartID string) (CommitResult, error) {
	member := holdID(cartID, sku)
	reply, err := s.runScript(ctx, "commit_local",
		[]string{invKey(sku), holdKey(cartID, sku), expIndexKey, s.eventsKey()},
		sku, cartID, strconv.FormatInt(time.Now().UnixMilli(), 10), member, s.eventsArg(),
	)
	if err != nil {
		return CommitResult{}, err
	}
	if !reply.OK {
		return CommitResult{}, &rerr.NotFoundError{CartID: cartID, SKU: sku}
	}
	return CommitResult{ConsumedQty: reply.ConsumedQty}, nil
}

func (s *RedisStore) Release(ctx context.Context, sku, cartID, reason string) (ReleaseResult, error) {
	member := holdID(cartID, sku)
	reply, err := s.runScript(ctx, "release",
		[]string{invKey(sku), holdKey(cartID, sku), expIndexKey, s.eventsKey()},
		sku, cartID, strconv.FormatInt(time.Now().UnixMilli(), 10), member, s.eventsArg(), reason,
	)
	if err != nil {
		return ReleaseResult{}, err
	}
	if reply.Absent {
		return ReleaseResult{Absent: true}, nil
	}
	return ReleaseResult{ReleasedQty: reply.ReleasedQty}, nil
}

func (s *RedisStore) Snapshot(ctx context.Context, sku string) (Snapshot, error) {
	vals, err := s.rdb.HMGet(ctx, invKey(sku), "total", "reserved").Result()
	if err != nil {
		return Snapshot{}, rerr.Unavailable(fmt.Errorf("acs: snapshot: %w", err))
	}
	total := parseInt64(vals[0])
	reserved := parseInt64(vals[1])
	return Snapshot{Total: total, Reserved: reserved, Available: total - reserved}, nil
}

func parseInt64(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

func (s *RedisStore) Events(ctx context.Context, limit int, ascending bool) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	msgs, err := s.rdb.XRevRangeN(ctx, s.eventsKey(), "+", "-", int64(limit)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, rerr.Unavailable(fmt.Errorf("acs: events: %w", err))
	}
	if ascending {
		for i, j := 0, len(msgs)-1; i < j; i, j = i+1, j-1 {
			msgs[i], msgs[j] = msgs[j], msgs[i]
		}
	}

	out := make([]Event, 0, len(msgs))
	for _, m := range msgs {
		ev := Event{ID: m.ID}
		if v, ok := m.Values["kind"].(string); ok {
			ev.Kind = v
		}
		if v, ok := m.Values["sku"].(string); ok {
			ev.SKU = v
		}
		if v, ok := m.Values["cart_id"].(string); ok {
			ev.CartID = v
		}
		if v, ok := m.Values["reason"].(string); ok {
			ev.Reason = v
		}
		if v, ok := m.Values["qty"].(string); ok {
			ev.Qty, _ = strconv.ParseInt(v, 10, 64)
		}
		if v, ok := m.Values["ts"].(string); ok {
			ev.TSms, _ = strconv.ParseInt(v, 10, 64)
		}
		out = append(out, ev)
	}
	return out, nil
}

func (s *RedisStore) ExpiredBefore(ctx context.Context, nowMS int64, batch int) ([]ExpiredHold, error) {
	if batch <= 0 {
		batch = 128
	}
	members, err := s.rdb.ZRangeByScore(ctx, expIndexKey, &redis.ZRangeBy{
		Min:    "-inf",
		Max:    strconv.FormatInt(nowMS, 10),
		Offset: 0,
		Count:  int64(batch),
	}).Result()
	if err != nil {
		return nil, rerr.Unavailable(fmt.Errorf("acs: expired_before: %w", err))
	}

	out := make([]ExpiredHold, 0, len(members))
	for _, member := range members {
		cartID, sku, ok := splitHoldID(member)
		if !ok {
			continue
		}
		score, err := s.rdb.ZScore(ctx, expIndexKey, member).Result()
		if err != nil {
			continue
		}
		out = append(out, ExpiredHold{CartID: cartID, SKU: sku, ExpiresAtMS: int64(score)})
	}
	return out, nil
}

func (s *RedisStore) SeedTotal(ctx context.Context, sku string, total int64) error {
	if err := s.rdb.HSet(ctx, invKey(sku), "total", total).Err(); err != nil {
		return rerr.Unavailable(fmt.Errorf("acs: seed_total: %w", err))
	}
	return s.rdb.HSetNX(ctx, invKey(sku), "reserved", 0).Err()
}

// splitHoldID reverses holdID's "{cart_id}:{sku}" encoding. The engine
// rejects ids containing ':' at the API boundary when strict id
// validation is enabled (the default), so the first colon is unambiguous
// for any hold this store was asked to create.
func splitHoldID(member string) (cartID, sku string, ok bool) {
	for i := 0; i < len(member); i++ {
		if member[i] == ':' {
			return member[:i], member[i+1:], true
		}
	}
	return "", "", false
}
