package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/mbd888/midpay/internal/money"
	"github.com/mbd888/midpay/internal/tx"
)

// VolumePoint aggregates transaction activity for one period bucket.
type VolumePoint struct {
	Period   string         `json:"period"`
	Count    int            `json:"count"`
	Volume   string         `json:"volume"` // sum of created amounts in the bucket
	ByStatus map[string]int `json:"byStatus"`
}

// Volume groups the chain's records into day/week/month/year buckets,
// oldest first. Volume sums the amounts of records entering CREATED in the
// bucket; ByStatus counts every record written in the bucket.
func (s *Service) Volume(ctx context.Context, period string) ([]*VolumePoint, error) {
	layout, err := periodLayout(period)
	if err != nil {
		return nil, err
	}

	buckets := make(map[string]*VolumePoint)
	volumes := make(map[string]*big.Int)

	for _, b := range s.chain.Blocks() {
		if b.Index == 0 {
			continue
		}
		var rec tx.Record
		if err := json.Unmarshal(b.Data, &rec); err != nil || rec.ID == "" {
			continue
		}

		key := bucketKey(rec.UpdatedAt, period, layout)
		point, ok := buckets[key]
		if !ok {
			point = &VolumePoint{Period: key, ByStatus: make(map[string]int)}
			buckets[key] = point
			volumes[key] = new(big.Int)
		}

		point.Count++
		point.ByStatus[string(rec.Status)]++
		if rec.Status == tx.StatusCreated {
			if amount, ok := money.Parse(rec.Amount); ok {
				volumes[key].Add(volumes[key], amount)
			}
		}
	}

	out := make([]*VolumePoint, 0, len(buckets))
	for key, point := range buckets {
		point.Volume = money.Format(volumes[key])
		out = append(out, point)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Period < out[j].Period })
	return out, nil
}

func periodLayout(period string) (string, error) {
	switch period {
	case "day":
		return "2006-01-02", nil
	case "week":
		return "", nil // ISO week, formatted separately
	case "month":
		return "2006-01", nil
	case "year":
		return "2006", nil
	}
	return "", fmt.Errorf("unknown period %q: must be day, week, month, or year", period)
}

func bucketKey(t time.Time, period, layout string) string {
	if period == "week" {
		year, week := t.ISOWeek()
		return fmt.Sprintf("%04d-W%02d", year, week)
	}
	return t.Format(layout)
}
