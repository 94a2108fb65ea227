package archive

import (
	"bytes"
	"context"
	"fmt"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/source"
	"github.com/xitongsys/parquet-go/writer"

	appconfig "fundingflow/config"
	"fundingflow/logger"
)

// Record is one archived funding observation. Rates are carried as strings
// to keep the decimal values exact in the parquet output.
type Record struct {
	Exchange    string
	Symbol      string
	Timestamp   time.Time
	Rate        string
	PeriodHours int
	APR         string
}

type fundingParquetRecord struct {
	Exchange    string `parquet:"name=exchange, type=BYTE_ARRAY, convertedtype=UTF8"`
	Symbol      string `parquet:"name=symbol, type=BYTE_ARRAY, convertedtype=UTF8"`
	Timestamp   int64  `parquet:"name=timestamp, type=INT64, convertedtype=TIMESTAMP_MILLIS"`
	Rate        string `parquet:"name=rate, type=BYTE_ARRAY, convertedtype=UTF8"`
	PeriodHours int32  `parquet:"name=period_hours, type=INT32"`
	APR         string `parquet:"name=apr, type=BYTE_ARRAY, convertedtype=UTF8"`
}

type memFile struct {
	buffer *bytes.Buffer
}

func newMemFile() *memFile {
	return &memFile{buffer: &bytes.Buffer{}}
}

func (m *memFile) Create(string) (source.ParquetFile, error) { return m, nil }
func (m *memFile) Open(string) (source.ParquetFile, error)   { return m, nil }
func (m *memFile) Seek(int64, int) (int64, error)            { return int64(m.buffer.Len()), nil }
func (m *memFile) Read([]byte) (int, error)                  { return 0, fmt.Errorf("read not supported") }
func (m *memFile) Write(b []byte) (int, error)               { return m.buffer.Write(b) }
func (m *memFile) Close() error                              { return nil }
func (m *memFile) Bytes() []byte                             { return m.buffer.Bytes() }

// Archiver uploads funding-rate batches to S3 as parquet files, one object
// per exchange per flush, keyed by exchange and date.
type Archiver struct {
	cfg      appconfig.S3Config
	s3Client *s3.Client
	log      *logger.Log
}

func NewArchiver(cfg appconfig.S3Config) (*Archiver, error) {
	if !cfg.Enabled {
		return nil, fmt.Errorf("s3 storage disabled")
	}

	ctx := context.Background()
	loadOpts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(cfg.Region)}
	if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
		loadOpts = append(loadOpts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKeyID, cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.PathStyle
	})

	return &Archiver{cfg: cfg, s3Client: client, log: logger.GetLogger()}, nil
}

// Archive encodes one batch and uploads it. Empty batches are a no-op.
func (a *Archiver) Archive(ctx context.Context, exchange string, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	data, err := encodeParquet(records)
	if err != nil {
		return fmt.Errorf("encode funding parquet: %w", err)
	}

	key := a.objectKey(exchange, records[len(records)-1].Timestamp)
	_, err = a.s3Client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return fmt.Errorf("upload funding parquet: %w", err)
	}

	a.log.WithComponent("archiver").WithFields(logger.Fields{
		"exchange":  exchange,
		"s3_key":    key,
		"records":   len(records),
		"file_size": len(data),
	}).Info("funding batch archived")
	return nil
}

func (a *Archiver) objectKey(exchange string, ts time.Time) string {
	name := fmt.Sprintf("funding-%d-%s.parquet", ts.UTC().UnixMilli(), uuid.NewString())
	return path.Join(a.cfg.Prefix, "funding_rates", exchange, ts.UTC().Format("2006-01-02"), name)
}

// encodeParquet writes the records into an in-memory parquet file with
// snappy compression.
func encodeParquet(records []Record) ([]byte, error) {
	mem := newMemFile()
	pw, err := writer.NewParquetWriter(mem, new(fundingParquetRecord), 1)
	if err != nil {
		return nil, fmt.Errorf("new parquet writer: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	for _, rec := range records {
		row := fundingParquetRecord{
			Exchange:    rec.Exchange,
			Symbol:      rec.Symbol,
			Timestamp:   rec.Timestamp.UTC().UnixMilli(),
			Rate:        rec.Rate,
			PeriodHours: int32(rec.PeriodHours),
			APR:         rec.APR,
		}
		if err := pw.Write(row); err != nil {
			pw.WriteStop()
			return nil, fmt.Errorf("write funding record: %w", err)
		}
	}
	if err := pw.WriteStop(); err != nil {
		return nil, fmt.Errorf("finalize parquet file: %w", err)
	}
	return mem.Bytes(), nil
}
