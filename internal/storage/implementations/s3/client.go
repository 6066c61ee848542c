package s3

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/pkg/errors"
)

// S3Config holds configuration for S3 storage
type S3Config struct {
	Region          string        `json:"region" mapstructure:"region"`
	Bucket          string        `json:"bucket" mapstructure:"bucket"`
	AccessKeyID     string        `json:"access_key_id" mapstructure:"access_key_id"`
	SecretAccessKey string        `json:"secret_access_key" mapstructure:"secret_access_key"`
	SessionToken    string        `json:"session_token,omitempty" mapstructure:"session_token"`
	Endpoint        string        `json:"endpoint,omitempty" mapstructure:"endpoint"`
	ForcePathStyle  bool          `json:"force_path_style" mapstructure:"force_path_style"`
	DisableSSL      bool          `json:"disable_ssl" mapstructure:"disable_ssl"`
	Prefix          string        `json:"prefix" mapstructure:"prefix"`
	Timeout         time.Duration `json:"timeout" mapstructure:"timeout"`
	MaxRetries      int           `json:"max_retries" mapstructure:"max_retries"`
	StorageClass    string        `json:"storage_class" mapstructure:"storage_class"`
}

// S3Storage reads and writes whole objects in one bucket.
type S3Storage struct {
	config   *S3Config
	s3Client s3iface.S3API
	logger   *logrus.Logger
	mu       sync.RWMutex
	metrics  *storageMetrics
	closed   bool
}

type storageMetrics struct {
	readOps      int64
	writeOps     int64
	errorCount   int64
	bytesRead    int64
	bytesWritten int64
	startTime    time.Time
	mu           sync.RWMutex
}

// Stats is a snapshot of the client's operation counters.
type Stats struct {
	ReadOps      int64 `json:"read_ops"`
	WriteOps     int64 `json:"write_ops"`
	ErrorCount   int64 `json:"error_count"`
	BytesRead    int64 `json:"bytes_read"`
	BytesWritten int64 `json:"bytes_written"`
}

// NewS3Storage creates a new S3 storage instance
func NewS3Storage(config *S3Config, logger *logrus.Logger) (*S3Storage, error) {
	if config == nil {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 config cannot be nil")
	}

	if config.Bucket == "" {
		return nil, errors.NewStorageError(errors.CodeInvalidConfig, "S3 bucket is required")
	}

	if logger == nil {
		logger = logrus.New()
	}

	return &S3Storage{
		config: config,
		logger: logger,
		metrics: &storageMetrics{
			startTime: time.Now(),
		},
	}, nil
}

// Connect creates the AWS session. Retries are off unless configured.
func (s *S3Storage) Connect(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.s3Client != nil {
		return nil // Already connected
	}

	awsConfig := &aws.Config{
		Region:     aws.String(s.config.Region),
		MaxRetries: aws.Int(s.config.MaxRetries),
	}

	if s.config.AccessKeyID != "" && s.config.SecretAccessKey != "" {
		awsConfig.Credentials = credentials.NewStaticCredentials(
			s.config.AccessKeyID,
			s.config.SecretAccessKey,
			s.config.SessionToken,
		)
	}

	// S3-compatible services such as MinIO
	if s.config.Endpoint != "" {
		awsConfig.Endpoint = aws.String(s.config.Endpoint)
		awsConfig.S3ForcePathStyle = aws.Bool(s.config.ForcePathStyle)
	}

	if s.config.DisableSSL {
		awsConfig.DisableSSL = aws.Bool(true)
	}

	sess, err := session.NewSession(awsConfig)
	if err != nil {
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed, "Failed to create AWS session")
	}

	s.s3Client = s3.New(sess)

	s.logger.WithFields(logrus.Fields{
		"region": s.config.Region,
		"bucket": s.config.Bucket,
	}).Debug("Connected to S3")

	return nil
}

// Close releases the client and logs the operation counters.
func (s *S3Storage) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil
	}

	s.s3Client = nil
	s.closed = true

	stats := s.stats()
	s.logger.WithFields(logrus.Fields{
		"bucket":        s.config.Bucket,
		"read_ops":      stats.ReadOps,
		"write_ops":     stats.WriteOps,
		"bytes_read":    stats.BytesRead,
		"bytes_written": stats.BytesWritten,
		"errors":        stats.ErrorCount,
	}).Debug("S3 connection closed")
	return nil
}

// Get downloads the object stored under key.
func (s *S3Storage) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	client, err := s.client(ctx)
	if err != nil {
		return nil, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	objectKey := s.objectKey(key)
	out, err := client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(objectKey),
	})
	if err != nil {
		s.incrementErrorCount()
		if isNotFound(err) {
			return nil, errors.NewFileNotFoundError(s.uri(objectKey))
		}
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to read %s", s.uri(objectKey)))
	}
	defer out.Body.Close()

	// the body is drained here so the request timeout cannot cut a read short
	data, err := io.ReadAll(out.Body)
	if err != nil {
		s.incrementErrorCount()
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed,
			fmt.Sprintf("Failed to read %s", s.uri(objectKey)))
	}

	s.incrementReadOps()
	s.incrementBytesRead(int64(len(data)))

	s.logger.WithFields(logrus.Fields{
		"bucket": s.config.Bucket,
		"key":    objectKey,
		"size":   len(data),
	}).Debug("Downloaded object")

	return io.NopCloser(bytes.NewReader(data)), nil
}

// Put uploads data under key. size is informational; -1 means unknown.
func (s *S3Storage) Put(ctx context.Context, key string, data io.Reader, size int64, metadata map[string]string) error {
	client, err := s.client(ctx)
	if err != nil {
		return err
	}

	body, ok := data.(io.ReadSeeker)
	if !ok {
		buf, err := io.ReadAll(data)
		if err != nil {
			return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to buffer upload")
		}
		body = bytes.NewReader(buf)
		size = int64(len(buf))
	} else if size < 0 {
		if end, err := body.Seek(0, io.SeekEnd); err == nil {
			size = end
			if _, err := body.Seek(0, io.SeekStart); err != nil {
				return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed, "Failed to rewind upload")
			}
		}
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	objectKey := s.objectKey(key)
	input := &s3.PutObjectInput{
		Bucket:      aws.String(s.config.Bucket),
		Key:         aws.String(objectKey),
		Body:        body,
		ContentType: aws.String(contentType(objectKey)),
	}
	if len(metadata) > 0 {
		input.Metadata = aws.StringMap(metadata)
	}
	if s.config.StorageClass != "" {
		input.StorageClass = aws.String(s.config.StorageClass)
	}

	if _, err := client.PutObjectWithContext(ctx, input); err != nil {
		s.incrementErrorCount()
		return errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeWriteFailed,
			fmt.Sprintf("Failed to write %s", s.uri(objectKey)))
	}

	s.incrementWriteOps()
	if size > 0 {
		s.incrementBytesWritten(size)
	}

	s.logger.WithFields(logrus.Fields{
		"bucket": s.config.Bucket,
		"key":    objectKey,
		"size":   size,
	}).Debug("Uploaded object")

	return nil
}

// Exists checks whether an object is stored under key.
func (s *S3Storage) Exists(ctx context.Context, key string) (bool, error) {
	client, err := s.client(ctx)
	if err != nil {
		return false, err
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	_, err = client.HeadObjectWithContext(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(s.config.Bucket),
		Key:    aws.String(s.objectKey(key)),
	})
	if err != nil {
		if isNotFound(err) {
			return false, nil
		}
		s.incrementErrorCount()
		return false, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeReadFailed, "Failed to check object")
	}
	return true, nil
}

// Stats returns a snapshot of the operation counters.
func (s *S3Storage) Stats() Stats {
	return s.stats()
}

func (s *S3Storage) stats() Stats {
	s.metrics.mu.RLock()
	defer s.metrics.mu.RUnlock()
	return Stats{
		ReadOps:      s.metrics.readOps,
		WriteOps:     s.metrics.writeOps,
		ErrorCount:   s.metrics.errorCount,
		BytesRead:    s.metrics.bytesRead,
		BytesWritten: s.metrics.bytesWritten,
	}
}

func (s *S3Storage) client(ctx context.Context) (s3iface.S3API, error) {
	s.mu.RLock()
	client, closed := s.s3Client, s.closed
	s.mu.RUnlock()

	if closed {
		return nil, errors.NewStorageError(errors.CodeConnectionFailed, "S3 storage is closed")
	}
	if client != nil {
		return client, nil
	}
	if err := s.Connect(ctx); err != nil {
		return nil, err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.s3Client, nil
}

func (s *S3Storage) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.Timeout > 0 {
		return context.WithTimeout(ctx, s.config.Timeout)
	}
	return context.WithCancel(ctx)
}

func (s *S3Storage) objectKey(key string) string {
	key = strings.TrimPrefix(key, "/")
	if s.config.Prefix != "" {
		return path.Join(s.config.Prefix, key)
	}
	return key
}

func (s *S3Storage) uri(objectKey string) string {
	return fmt.Sprintf("s3://%s/%s", s.config.Bucket, objectKey)
}

func isNotFound(err error) bool {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchKey, s3.ErrCodeNoSuchBucket, "NotFound":
			return true
		}
	}
	return false
}

func contentType(key string) string {
	lower := strings.ToLower(key)
	name := strings.TrimSuffix(lower, ".gz")
	switch {
	case name != lower:
		return "application/gzip"
	case strings.HasSuffix(name, ".csv"):
		return "text/csv"
	case strings.HasSuffix(name, ".tsv"):
		return "text/tab-separated-values"
	case strings.HasSuffix(name, ".json"):
		return "application/json"
	case strings.HasSuffix(name, ".xlsx"):
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	default:
		return "application/octet-stream"
	}
}

// Helper methods for metrics

func (s *S3Storage) incrementReadOps() {
	s.metrics.mu.Lock()
	s.metrics.readOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementWriteOps() {
	s.metrics.mu.Lock()
	s.metrics.writeOps++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementErrorCount() {
	s.metrics.mu.Lock()
	s.metrics.errorCount++
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesRead(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesRead += n
	s.metrics.mu.Unlock()
}

func (s *S3Storage) incrementBytesWritten(n int64) {
	s.metrics.mu.Lock()
	s.metrics.bytesWritten += n
	s.metrics.mu.Unlock()
}
