package backtest

import (
	"encoding/csv"
	"io"
	"time"

	"tradecore/pkg/coreerr"
	"tradecore/pkg/decimal"
	"tradecore/pkg/types"
)

// LoadCSV parses OHLCV bars from CSV with the columns
//
//	open_time, open, high, low, close, volume[, close_time]
//
// where times are ISO-8601 UTC. A header row is detected and skipped.
// When close_time is absent it is derived from the following row's
// open_time (and the final bar reuses the previous bar's span).
func LoadCSV(r io.Reader, symbol types.Symbol, timeframe string) ([]types.Kline, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.TrimLeadingSpace = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, coreerr.Wrap(coreerr.ClassData, "csv", err)
	}
	if len(records) == 0 {
		return nil, coreerr.New(coreerr.ClassData, "csv: empty input")
	}
	if isHeaderRow(records[0]) {
		records = records[1:]
	}

	klines := make([]types.Kline, 0, len(records))
	for i, rec := range records {
		if len(rec) < 6 {
			return nil, coreerr.Newf(coreerr.ClassData, "csv row %d: want at least 6 columns, got %d", i+1, len(rec))
		}
		openTime, err := time.Parse(time.RFC3339, rec[0])
		if err != nil {
			return nil, coreerr.Newf(coreerr.ClassData, "csv row %d: bad open_time %q: %v", i+1, rec[0], err)
		}
		k := types.Kline{
			Symbol:    symbol,
			Timeframe: timeframe,
			OpenTime:  openTime.UTC(),
		}
		for j, dst := range []*decimal.Decimal{&k.Open, &k.High, &k.Low, &k.Close, &k.Volume} {
			v, err := decimal.NewFromString(rec[j+1])
			if err != nil {
				return nil, coreerr.Newf(coreerr.ClassData, "csv row %d col %d: %v", i+1, j+2, err)
			}
			*dst = v
		}
		if len(rec) >= 7 && rec[6] != "" {
			closeTime, err := time.Parse(time.RFC3339, rec[6])
			if err != nil {
				return nil, coreerr.Newf(coreerr.ClassData, "csv row %d: bad close_time %q: %v", i+1, rec[6], err)
			}
			k.CloseTime = closeTime.UTC()
		}
		klines = append(klines, k)
	}

	fillCloseTimes(klines)

	for i, k := range klines {
		if err := k.Validate(); err != nil {
			return nil, coreerr.Newf(coreerr.ClassData, "csv row %d: %v", i+1, err)
		}
	}
	return klines, nil
}

// isHeaderRow treats a first column that does not parse as a timestamp as
// a header.
func isHeaderRow(rec []string) bool {
	if len(rec) == 0 {
		return false
	}
	_, err := time.Parse(time.RFC3339, rec[0])
	return err != nil
}

func fillCloseTimes(klines []types.Kline) {
	for i := range klines {
		if !klines[i].CloseTime.IsZero() {
			continue
		}
		if i+1 < len(klines) {
			klines[i].CloseTime = klines[i+1].OpenTime
		} else if i > 0 {
			span := klines[i-1].CloseTime.Sub(klines[i-1].OpenTime)
			klines[i].CloseTime = klines[i].OpenTime.Add(span)
		} else {
			klines[i].CloseTime = klines[i].OpenTime.Add(time.Minute)
		}
	}
}
