package store

import (
	"context"
	"strconv"
	"time"

	json "github.com/goccy/go-json"
	"github.com/redis/go-redis/v9"
	"github.com/rotisserie/eris"

	"github.com/arenastack/matchcore/types"
)

// RedisTicketStore is a Redis-backed TicketStore. Ticket blobs live under
// ticket:<id>; four sorted sets index states so sweeps never scan blobs:
//
//	pending   scored by creation time (FIFO queries)
//	expiry    scored by ticket expiry (pending tickets only)
//	reserved  scored by reservation deadline
//	assigned  scored by assignment time
//
// TryReserve, Release and Assign run as WATCH transactions over the ticket
// keys, so a concurrent writer aborts the whole claim and nothing changes.
type RedisTicketStore struct {
	client *redis.Client
	prefix string
}

var _ TicketStore = (*RedisTicketStore)(nil)

// NewRedisTicketStore creates a ticket store on the given client. All keys
// are namespaced under prefix.
func NewRedisTicketStore(client *redis.Client, prefix string) *RedisTicketStore {
	if prefix == "" {
		prefix = "matchcore:"
	}
	return &RedisTicketStore{client: client, prefix: prefix}
}

func (s *RedisTicketStore) ticketKey(id string) string { return s.prefix + "ticket:" + id }
func (s *RedisTicketStore) pendingKey() string         { return s.prefix + "pending" }
func (s *RedisTicketStore) expiryKey() string          { return s.prefix + "expiry" }
func (s *RedisTicketStore) reservedKey() string        { return s.prefix + "reserved" }
func (s *RedisTicketStore) assignedKey() string        { return s.prefix + "assigned" }

// scoreOf returns a zset score with millisecond granularity. Milliseconds
// stay inside float64 integer precision; equal scores fall back to member
// (ticket id) order, matching the in-memory store's tie-break.
func scoreOf(t time.Time) float64 {
	return float64(t.UnixMilli())
}

func marshalTicket(t *types.Ticket) (string, error) {
	raw, err := json.Marshal(t)
	if err != nil {
		return "", eris.Wrap(err, "failed to marshal ticket")
	}
	return string(raw), nil
}

func unmarshalTicket(raw string) (*types.Ticket, error) {
	var t types.Ticket
	if err := json.Unmarshal([]byte(raw), &t); err != nil {
		return nil, eris.Wrap(err, "failed to unmarshal ticket")
	}
	return &t, nil
}

// Create stores a new pending ticket.
func (s *RedisTicketStore) Create(ctx context.Context, ticket *types.Ticket) error {
	if ticket.ID == "" {
		return eris.New("ticket id is required")
	}

	t := cloneTicket(ticket)
	t.State = types.TicketStatePending
	raw, err := marshalTicket(t)
	if err != nil {
		return err
	}

	key := s.ticketKey(t.ID)
	err = s.client.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return eris.Wrap(err, "")
		}
		if n > 0 {
			return eris.Wrapf(ErrTicketExists, "ticket %q", t.ID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, raw, 0)
			pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: scoreOf(t.CreatedAt), Member: t.ID})
			pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: scoreOf(t.ExpiresAt), Member: t.ID})
			return nil
		})
		return eris.Wrap(err, "")
	}, key)
	if eris.Is(eris.Cause(err), redis.TxFailedErr) {
		return eris.Wrapf(ErrTicketExists, "ticket %q", t.ID)
	}
	return err
}

// Get retrieves a ticket by id.
func (s *RedisTicketStore) Get(ctx context.Context, id string) (*types.Ticket, error) {
	raw, err := s.client.Get(ctx, s.ticketKey(id)).Result()
	if err == redis.Nil {
		return nil, eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return unmarshalTicket(raw)
}

// Pending returns pending tickets ordered by creation time, oldest first.
func (s *RedisTicketStore) Pending(ctx context.Context) ([]*types.Ticket, error) {
	ids, err := s.client.ZRange(ctx, s.pendingKey(), 0, -1).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.ticketKey(id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}

	tickets := make([]*types.Ticket, 0, len(vals))
	for _, v := range vals {
		raw, ok := v.(string)
		if !ok {
			// Blob vanished between index read and fetch; the index catches
			// up on the next sweep.
			continue
		}
		t, err := unmarshalTicket(raw)
		if err != nil {
			return nil, err
		}
		if t.State == types.TicketStatePending {
			tickets = append(tickets, t)
		}
	}
	return tickets, nil
}

// TryReserve atomically flips every listed ticket from pending to reserved
// under owner, or changes nothing.
func (s *RedisTicketStore) TryReserve(ctx context.Context, ids []string, owner string, deadline time.Time) error {
	if len(ids) == 0 {
		return eris.New("no ticket ids to reserve")
	}
	if owner == "" {
		return eris.New("reservation owner is required")
	}

	seen := make(map[string]struct{}, len(ids))
	keys := make([]string, len(ids))
	for i, id := range ids {
		if _, dup := seen[id]; dup {
			return eris.Errorf("duplicate ticket id %q in claim", id)
		}
		seen[id] = struct{}{}
		keys[i] = s.ticketKey(id)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		tickets, err := s.fetchAll(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if t.State != types.TicketStatePending {
				return eris.Wrapf(ErrContention, "ticket %q is %s", t.ID, t.State)
			}
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, t := range tickets {
				t.State = types.TicketStateReserved
				t.ReservedBy = owner
				t.ReservationDeadline = deadline
				raw, err := marshalTicket(t)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.ticketKey(t.ID), raw, 0)
				pipe.ZRem(ctx, s.pendingKey(), t.ID)
				pipe.ZRem(ctx, s.expiryKey(), t.ID)
				pipe.ZAdd(ctx, s.reservedKey(), redis.Z{Score: scoreOf(deadline), Member: t.ID})
			}
			return nil
		})
		return eris.Wrap(err, "")
	}, keys...)
	if eris.Is(eris.Cause(err), redis.TxFailedErr) {
		return eris.Wrap(ErrContention, "claim lost a concurrent write")
	}
	return err
}

// Release returns owner's reserved tickets to the pending set.
func (s *RedisTicketStore) Release(ctx context.Context, ids []string, owner string) error {
	for _, id := range ids {
		key := s.ticketKey(id)
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			t, err := s.fetch(ctx, tx, id)
			if err != nil {
				if eris.Is(eris.Cause(err), ErrTicketNotFound) {
					return nil
				}
				return err
			}
			if t.State != types.TicketStateReserved || t.ReservedBy != owner {
				return nil
			}
			return s.revertToPendingTx(ctx, tx, t)
		}, key)
		if err != nil && !eris.Is(eris.Cause(err), redis.TxFailedErr) {
			return err
		}
	}
	return nil
}

// Assign flips every listed ticket from reserved-by-owner to assigned.
func (s *RedisTicketStore) Assign(ctx context.Context, ids []string, owner string) error {
	if len(ids) == 0 {
		return eris.New("no ticket ids to assign")
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.ticketKey(id)
	}

	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		tickets, err := s.fetchAll(ctx, tx, ids)
		if err != nil {
			return err
		}
		for _, t := range tickets {
			if t.State != types.TicketStateReserved || t.ReservedBy != owner {
				return eris.Wrapf(ErrOwnerMismatch, "ticket %q is %s (held by %q)", t.ID, t.State, t.ReservedBy)
			}
		}

		now := time.Now()
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, t := range tickets {
				t.State = types.TicketStateAssigned
				t.AssignedAt = now
				raw, err := marshalTicket(t)
				if err != nil {
					return err
				}
				pipe.Set(ctx, s.ticketKey(t.ID), raw, 0)
				pipe.ZRem(ctx, s.reservedKey(), t.ID)
				pipe.ZAdd(ctx, s.assignedKey(), redis.Z{Score: scoreOf(now), Member: t.ID})
			}
			return nil
		})
		return eris.Wrap(err, "")
	}, keys...)
	if eris.Is(eris.Cause(err), redis.TxFailedErr) {
		return eris.Wrap(ErrOwnerMismatch, "assignment lost a concurrent write")
	}
	return err
}

// Delete removes a ticket unless a live proposal holds it.
func (s *RedisTicketStore) Delete(ctx context.Context, id string) error {
	key := s.ticketKey(id)
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		t, err := s.fetch(ctx, tx, id)
		if err != nil {
			return err
		}
		if t.State == types.TicketStateReserved {
			return eris.Wrapf(ErrTicketReserved, "ticket %q is held by %q", id, t.ReservedBy)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeFromIndexes(ctx, pipe, t)
			pipe.Del(ctx, key)
			return nil
		})
		return eris.Wrap(err, "")
	}, key)
	if eris.Is(eris.Cause(err), redis.TxFailedErr) {
		return eris.Wrapf(ErrTicketReserved, "ticket %q changed mid-delete", id)
	}
	return err
}

// ExpireReservations reverts reservations whose deadline passed.
func (s *RedisTicketStore) ExpireReservations(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rangeByScoreBefore(ctx, s.reservedKey(), now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			t, err := s.fetch(ctx, tx, id)
			if err != nil {
				if eris.Is(eris.Cause(err), ErrTicketNotFound) {
					return nil
				}
				return err
			}
			if t.State != types.TicketStateReserved || now.Before(t.ReservationDeadline) {
				return nil
			}
			if err := s.revertToPendingTx(ctx, tx, t); err != nil {
				return err
			}
			count++
			return nil
		}, s.ticketKey(id))
		if err != nil && !eris.Is(eris.Cause(err), redis.TxFailedErr) {
			return count, err
		}
	}
	return count, nil
}

// ExpireTickets marks pending tickets past their expiry as expired.
func (s *RedisTicketStore) ExpireTickets(ctx context.Context, now time.Time) (int, error) {
	ids, err := s.rangeByScoreBefore(ctx, s.expiryKey(), now)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, id := range ids {
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			t, err := s.fetch(ctx, tx, id)
			if err != nil {
				if eris.Is(eris.Cause(err), ErrTicketNotFound) {
					return nil
				}
				return err
			}
			if t.State != types.TicketStatePending || !t.IsExpired(now) {
				return nil
			}
			t.State = types.TicketStateExpired
			raw, err := marshalTicket(t)
			if err != nil {
				return err
			}
			_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Set(ctx, s.ticketKey(id), raw, 0)
				pipe.ZRem(ctx, s.pendingKey(), id)
				pipe.ZRem(ctx, s.expiryKey(), id)
				pipe.ZAdd(ctx, s.expiredIndexKey(), redis.Z{Score: scoreOf(t.ExpiresAt), Member: id})
				return nil
			})
			if err != nil {
				return eris.Wrap(err, "")
			}
			count++
			return nil
		}, s.ticketKey(id))
		if err != nil && !eris.Is(eris.Cause(err), redis.TxFailedErr) {
			return count, err
		}
	}
	return count, nil
}

// Purge deletes expired tickets and assigned tickets older than grace.
func (s *RedisTicketStore) Purge(ctx context.Context, now time.Time, grace time.Duration) ([]string, error) {
	cutoff := now.Add(-grace)

	assigned, err := s.rangeByScoreBefore(ctx, s.assignedKey(), cutoff)
	if err != nil {
		return nil, err
	}

	var removed []string
	for _, id := range assigned {
		ok, err := s.purgeOne(ctx, id, types.TicketStateAssigned)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}

	expired, err := s.expiredBefore(ctx, cutoff)
	if err != nil {
		return removed, err
	}
	for _, id := range expired {
		ok, err := s.purgeOne(ctx, id, types.TicketStateExpired)
		if err != nil {
			return removed, err
		}
		if ok {
			removed = append(removed, id)
		}
	}
	return removed, nil
}

// Counts reports how many tickets are in each state.
func (s *RedisTicketStore) Counts(ctx context.Context) (map[types.TicketState]int, error) {
	counts := make(map[types.TicketState]int, 4)
	for state, key := range map[types.TicketState]string{
		types.TicketStatePending:  s.pendingKey(),
		types.TicketStateReserved: s.reservedKey(),
		types.TicketStateAssigned: s.assignedKey(),
	} {
		n, err := s.client.ZCard(ctx, key).Result()
		if err != nil {
			return nil, eris.Wrap(err, "")
		}
		counts[state] = int(n)
	}
	n, err := s.client.ZCard(ctx, s.expiredIndexKey()).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	counts[types.TicketStateExpired] = int(n)
	return counts, nil
}

func (s *RedisTicketStore) expiredIndexKey() string { return s.prefix + "expired" }

func (s *RedisTicketStore) expiredBefore(ctx context.Context, cutoff time.Time) ([]string, error) {
	return s.rangeByScoreBefore(ctx, s.expiredIndexKey(), cutoff)
}

func (s *RedisTicketStore) purgeOne(ctx context.Context, id string, want types.TicketState) (bool, error) {
	purged := false
	err := s.client.Watch(ctx, func(tx *redis.Tx) error {
		t, err := s.fetch(ctx, tx, id)
		if err != nil {
			if eris.Is(eris.Cause(err), ErrTicketNotFound) {
				return nil
			}
			return err
		}
		if t.State != want {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			s.removeFromIndexes(ctx, pipe, t)
			pipe.Del(ctx, s.ticketKey(id))
			return nil
		})
		if err != nil {
			return eris.Wrap(err, "")
		}
		purged = true
		return nil
	}, s.ticketKey(id))
	if err != nil && !eris.Is(eris.Cause(err), redis.TxFailedErr) {
		return purged, err
	}
	return purged, nil
}

func (s *RedisTicketStore) removeFromIndexes(ctx context.Context, pipe redis.Pipeliner, t *types.Ticket) {
	pipe.ZRem(ctx, s.pendingKey(), t.ID)
	pipe.ZRem(ctx, s.expiryKey(), t.ID)
	pipe.ZRem(ctx, s.reservedKey(), t.ID)
	pipe.ZRem(ctx, s.assignedKey(), t.ID)
	pipe.ZRem(ctx, s.expiredIndexKey(), t.ID)
}

func (s *RedisTicketStore) revertToPendingTx(ctx context.Context, tx *redis.Tx, t *types.Ticket) error {
	t.State = types.TicketStatePending
	t.ReservedBy = ""
	t.ReservationDeadline = time.Time{}
	raw, err := marshalTicket(t)
	if err != nil {
		return err
	}
	_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, s.ticketKey(t.ID), raw, 0)
		pipe.ZRem(ctx, s.reservedKey(), t.ID)
		pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: scoreOf(t.CreatedAt), Member: t.ID})
		pipe.ZAdd(ctx, s.expiryKey(), redis.Z{Score: scoreOf(t.ExpiresAt), Member: t.ID})
		return nil
	})
	return eris.Wrap(err, "")
}

func (s *RedisTicketStore) rangeByScoreBefore(ctx context.Context, key string, t time.Time) ([]string, error) {
	ids, err := s.client.ZRangeByScore(ctx, key, &redis.ZRangeBy{
		Min: "-inf",
		Max: formatScore(scoreOf(t)),
	}).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return ids, nil
}

func formatScore(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func (s *RedisTicketStore) fetch(ctx context.Context, tx *redis.Tx, id string) (*types.Ticket, error) {
	raw, err := tx.Get(ctx, s.ticketKey(id)).Result()
	if err == redis.Nil {
		return nil, eris.Wrapf(ErrTicketNotFound, "ticket %q", id)
	}
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	return unmarshalTicket(raw)
}

func (s *RedisTicketStore) fetchAll(ctx context.Context, tx *redis.Tx, ids []string) ([]*types.Ticket, error) {
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = s.ticketKey(id)
	}
	vals, err := tx.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, eris.Wrap(err, "")
	}
	tickets := make([]*types.Ticket, len(vals))
	for i, v := range vals {
		raw, ok := v.(string)
		if !ok {
			return nil, eris.Wrapf(ErrTicketNotFound, "ticket %q", ids[i])
		}
		t, err := unmarshalTicket(raw)
		if err != nil {
			return nil, err
		}
		tickets[i] = t
	}
	return tickets, nil
}
