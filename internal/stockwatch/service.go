// Package stockwatch tracks products whose stock fell to or below a
// threshold. It consumes OrderPlaced events and can be refreshed directly
// after admin edits.
package stockwatch

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"time"

	"github.com/ariefcatur/go-storefront/internal/catalog"
	kafkax "github.com/ariefcatur/go-storefront/internal/kafka"
	"github.com/ariefcatur/go-storefront/internal/orders"
	"github.com/ariefcatur/go-storefront/internal/redisx"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	kafkago "github.com/segmentio/kafka-go"
)

type StockReader interface {
	LookupForCheckout(ctx context.Context, ids []int64) ([]catalog.StockInfo, error)
}

type Publisher interface {
	Publish(key, value []byte, headers ...kafkago.Header) error
}

type Service struct {
	Stock       StockReader
	Redis       redis.Cmdable
	Publisher   Publisher // optional
	Threshold   int
	ServiceName string
	Log         *slog.Logger
}

type Entry struct {
	ProductID int64  `json:"product_id"`
	Name      string `json:"name"`
	Stock     int    `json:"stock"`
}

// HandleOrderPlaced is the consumer handler. Each event id is processed at
// most once within redisx.TTLDedup.
func (s *Service) HandleOrderPlaced(ctx context.Context, m kafkago.Message) error {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(m.Value, &env); err != nil {
		s.log().Warn("dropping undecodable message", "offset", m.Offset, "error", err)
		return nil
	}
	if env.EventType != orders.EventOrderPlaced {
		return nil
	}
	p, err := kafkax.UnwrapPayload[orders.OrderPlacedPayload](env.Payload)
	if err != nil {
		s.log().Warn("dropping bad payload", "event_id", env.EventID, "error", err)
		return nil
	}

	dkey := fmt.Sprintf(redisx.KeyDedup, "stockwatch", env.EventID)
	fresh, err := s.Redis.SetNX(ctx, dkey, "1", redisx.TTLDedup).Result()
	if err != nil {
		return fmt.Errorf("dedup: %w", err)
	}
	if !fresh {
		return nil
	}

	ids := make([]int64, 0, len(p.Items))
	for _, it := range p.Items {
		ids = append(ids, it.ProductID)
	}
	if err := s.Refresh(ctx, env.TraceID, ids...); err != nil {
		// the consumer retries this message before committing it
		_ = s.Redis.Del(ctx, dkey).Err()
		return err
	}
	return nil
}

// Refresh re-reads stock for ids and updates the low-stock board. Products
// newly at or below the threshold are announced with a LowStock event.
func (s *Service) Refresh(ctx context.Context, traceID string, ids ...int64) error {
	if len(ids) == 0 {
		return nil
	}
	infos, err := s.Stock.LookupForCheckout(ctx, ids)
	if err != nil {
		return fmt.Errorf("lookup stock: %w", err)
	}
	seen := make(map[int64]bool, len(infos))
	for _, p := range infos {
		seen[p.ID] = true
		member := strconv.FormatInt(p.ID, 10)
		if p.Stock > s.Threshold {
			if err := s.remove(ctx, member); err != nil {
				return err
			}
			continue
		}
		added, err := s.Redis.ZAdd(ctx, redisx.KeyLowStock, redis.Z{Score: float64(p.Stock), Member: member}).Result()
		if err != nil {
			return fmt.Errorf("record low stock: %w", err)
		}
		if err := s.Redis.HSet(ctx, redisx.KeyLowStockNames, member, p.Name).Err(); err != nil {
			return fmt.Errorf("record low stock: %w", err)
		}
		if added == 1 {
			s.log().Info("product low on stock", "product_id", p.ID, "stock", p.Stock, "threshold", s.Threshold)
			s.announce(traceID, p)
		}
	}
	// deleted products leave the board
	for _, id := range ids {
		if !seen[id] {
			if err := s.remove(ctx, strconv.FormatInt(id, 10)); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Service) remove(ctx context.Context, member string) error {
	if err := s.Redis.ZRem(ctx, redisx.KeyLowStock, member).Err(); err != nil {
		return fmt.Errorf("clear low stock: %w", err)
	}
	return s.Redis.HDel(ctx, redisx.KeyLowStockNames, member).Err()
}

func (s *Service) announce(traceID string, p catalog.StockInfo) {
	if s.Publisher == nil {
		return
	}
	ev := orders.Envelope{
		EventID:       uuid.NewString(),
		EventType:     orders.EventLowStock,
		EventVersion:  1,
		OccurredAt:    time.Now().UTC(),
		Producer:      s.ServiceName,
		TraceID:       traceID,
		CorrelationID: strconv.FormatInt(p.ID, 10),
		Payload: kafkax.MustMarshal(orders.LowStockPayload{
			ProductID: p.ID, Name: p.Name, Stock: p.Stock, Threshold: s.Threshold,
		}),
	}
	if err := s.Publisher.Publish(orders.ProductKey(p.ID), kafkax.MustMarshal(ev),
		kafkax.EventHeaders(orders.EventLowStock, 1)...); err != nil {
		s.log().Warn("low stock event dropped", "product_id", p.ID, "error", err)
	}
}

// List returns the board, lowest stock first.
func (s *Service) List(ctx context.Context) ([]Entry, error) {
	zs, err := s.Redis.ZRangeWithScores(ctx, redisx.KeyLowStock, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(zs) == 0 {
		return []Entry{}, nil
	}
	members := make([]string, 0, len(zs))
	for _, z := range zs {
		members = append(members, fmt.Sprint(z.Member))
	}
	names, err := s.Redis.HMGet(ctx, redisx.KeyLowStockNames, members...).Result()
	if err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(zs))
	for i, z := range zs {
		id, _ := strconv.ParseInt(members[i], 10, 64)
		e := Entry{ProductID: id, Stock: int(z.Score)}
		if n, ok := names[i].(string); ok {
			e.Name = n
		}
		out = append(out, e)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Stock != out[j].Stock {
			return out[i].Stock < out[j].Stock
		}
		return out[i].ProductID < out[j].ProductID
	})
	return out, nil
}

func (s *Service) log() *slog.Logger {
	if s.Log != nil {
		return s.Log
	}
	return slog.Default()
}
