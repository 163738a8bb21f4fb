package export

import (
	"fmt"
	"io"

	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"github.com/lox/gridweather/internal/models"
)

type parquetRecord struct {
	Timestamp       int64    `parquet:"name=timestamp,type=INT64,convertedtype=TIMESTAMP_MILLIS"`
	ZoneID          string   `parquet:"name=zone_id,type=BYTE_ARRAY,convertedtype=UTF8"`
	Price           *float64 `parquet:"name=price,type=DOUBLE,repetitiontype=OPTIONAL"`
	Temperature     *float64 `parquet:"name=temperature,type=DOUBLE,repetitiontype=OPTIONAL"`
	WindSpeed       *float64 `parquet:"name=windspeed,type=DOUBLE,repetitiontype=OPTIONAL"`
	SolarIrradiance *float64 `parquet:"name=solar_irradiance,type=DOUBLE,repetitiontype=OPTIONAL"`
	Interpolated    int32    `parquet:"name=interpolated,type=INT32"`
}

// WriteCleanedParquet writes the repaired grid as Snappy-compressed Parquet.
// interpolated is the bit set of filled fields in price, temperature,
// windspeed, solar_irradiance order.
func (e *Exporter) WriteCleanedParquet(grid []models.GridRecord) error {
	return e.write(CleanedParquet, func(w io.Writer) (err error) {
		pw, err := writer.NewParquetWriterFromWriter(w, new(parquetRecord), 1)
		if err != nil {
			return fmt.Errorf("create parquet writer: %w", err)
		}
		pw.CompressionType = parquet.CompressionCodec_SNAPPY

		for _, r := range grid {
			rec := parquetRecord{
				Timestamp:       r.Timestamp.UnixMilli(),
				ZoneID:          r.ZoneID,
				Price:           nullPtr(r.Price),
				Temperature:     nullPtr(r.Temperature),
				WindSpeed:       nullPtr(r.WindSpeed),
				SolarIrradiance: nullPtr(r.SolarIrradiance),
				Interpolated:    int32(r.Interpolated),
			}
			if err := pw.Write(rec); err != nil {
				return fmt.Errorf("write parquet record: %w", err)
			}
		}

		// WriteStop can panic on internal writer errors.
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("stop parquet writer: %v", r)
			}
		}()
		if err := pw.WriteStop(); err != nil {
			return fmt.Errorf("stop parquet writer: %w", err)
		}
		return nil
	})
}
