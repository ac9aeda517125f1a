package analyzers

import (
	"math"

	"github.com/aurictrade/auric/internal/db"
)

// profileRows is the fixed histogram resolution
const profileRows = 24

// valueAreaPct is the share of total volume inside the value area
const valueAreaPct = 0.70

// VolumeProfile is a fixed-row volume histogram over the window's price
// range with the point of control and the 70% value area.
type VolumeProfile struct {
	Rows         []ProfileRow `json:"rows"`
	POC          float64      `json:"poc"` // point of control price
	ValueAreaLow float64      `json:"value_area_low"`
	ValueAreaHigh float64     `json:"value_area_high"`
	TotalVolume  float64      `json:"total_volume"`
}

// ProfileRow is one histogram bin
type ProfileRow struct {
	PriceLow  float64 `json:"price_low"`
	PriceHigh float64 `json:"price_high"`
	Volume    float64 `json:"volume"`
}

// PricePosition describes where a price sits relative to the value area
type PricePosition string

const (
	AboveValueArea  PricePosition = "above_value_area"
	InsideValueArea PricePosition = "inside_value_area"
	BelowValueArea  PricePosition = "below_value_area"
)

// BuildVolumeProfile bins each candle's volume across the rows its
// high-low range overlaps, proportionally to the overlap.
func BuildVolumeProfile(candles []db.Candle) *VolumeProfile {
	if len(candles) == 0 {
		return nil
	}

	lo, hi := math.Inf(1), math.Inf(-1)
	for _, c := range candles {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
	}
	if hi <= lo {
		return nil
	}

	rowSize := (hi - lo) / profileRows
	rows := make([]ProfileRow, profileRows)
	for i := range rows {
		rows[i].PriceLow = lo + float64(i)*rowSize
		rows[i].PriceHigh = rows[i].PriceLow + rowSize
	}

	total := 0.0
	for _, c := range candles {
		span := c.High - c.Low
		total += c.Volume
		if span == 0 {
			idx := binIndex(c.Close, lo, rowSize)
			rows[idx].Volume += c.Volume
			continue
		}
		for i := range rows {
			overlap := math.Min(c.High, rows[i].PriceHigh) - math.Max(c.Low, rows[i].PriceLow)
			if overlap > 0 {
				rows[i].Volume += c.Volume * overlap / span
			}
		}
	}

	pocIdx := 0
	for i := range rows {
		if rows[i].Volume > rows[pocIdx].Volume {
			pocIdx = i
		}
	}

	vaLow, vaHigh := valueArea(rows, pocIdx, total)

	return &VolumeProfile{
		Rows:          rows,
		POC:           (rows[pocIdx].PriceLow + rows[pocIdx].PriceHigh) / 2,
		ValueAreaLow:  vaLow,
		ValueAreaHigh: vaHigh,
		TotalVolume:   total,
	}
}

func binIndex(price, lo, rowSize float64) int {
	idx := int((price - lo) / rowSize)
	if idx < 0 {
		idx = 0
	}
	if idx >= profileRows {
		idx = profileRows - 1
	}
	return idx
}

// valueArea expands outward from the POC, always taking the larger of the
// two neighboring rows, until 70% of total volume is covered.
func valueArea(rows []ProfileRow, pocIdx int, total float64) (low, high float64) {
	covered := rows[pocIdx].Volume
	loIdx, hiIdx := pocIdx, pocIdx

	for covered < valueAreaPct*total {
		below, above := -1.0, -1.0
		if loIdx > 0 {
			below = rows[loIdx-1].Volume
		}
		if hiIdx < len(rows)-1 {
			above = rows[hiIdx+1].Volume
		}
		if below < 0 && above < 0 {
			break
		}
		if above >= below {
			hiIdx++
			covered += above
		} else {
			loIdx--
			covered += below
		}
	}
	return rows[loIdx].PriceLow, rows[hiIdx].PriceHigh
}

// Position classifies a price against the value area
func (vp *VolumeProfile) Position(price float64) PricePosition {
	switch {
	case price > vp.ValueAreaHigh:
		return AboveValueArea
	case price < vp.ValueAreaLow:
		return BelowValueArea
	default:
		return InsideValueArea
	}
}
