package archive

import (
	"bytes"
	"testing"
	"time"

	appconfig "fundingflow/config"
)

func TestEncodeParquetProducesValidFile(t *testing.T) {
	records := []Record{
		{
			Exchange:    "binance",
			Symbol:      "BTC",
			Timestamp:   time.Date(2026, 8, 1, 8, 0, 0, 0, time.UTC),
			Rate:        "0.0001",
			PeriodHours: 8,
			APR:         "10.95",
		},
		{
			Exchange:    "binance",
			Symbol:      "BTC",
			Timestamp:   time.Date(2026, 8, 1, 16, 0, 0, 0, time.UTC),
			Rate:        "0.0002",
			PeriodHours: 8,
			APR:         "21.9",
		},
	}

	data, err := encodeParquet(records)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty parquet output")
	}
	// Parquet files open and close with the PAR1 magic.
	magic := []byte("PAR1")
	if !bytes.HasPrefix(data, magic) || !bytes.HasSuffix(data, magic) {
		t.Fatal("output missing parquet magic bytes")
	}
}

func TestEncodeParquetEmptyBatch(t *testing.T) {
	data, err := encodeParquet(nil)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("even an empty batch must produce a well-formed file")
	}
}

func TestArchiverRequiresEnabledStorage(t *testing.T) {
	cfg := appconfig.S3Config{Bucket: "fundingflow-archive", Region: "us-east-1"}
	if _, err := NewArchiver(cfg); err == nil {
		t.Fatal("expected an error when S3 storage is disabled")
	}
}
