package storage

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/inferloop/studentprep/internal/storage/implementations/postgres"
	"github.com/inferloop/studentprep/internal/storage/implementations/s3"
	"github.com/inferloop/studentprep/internal/storage/interfaces"
	"github.com/inferloop/studentprep/pkg/errors"
)

// Config carries the backend settings shared by every location.
type Config struct {
	S3       s3.S3Config             `json:"s3" mapstructure:"s3"`
	Postgres postgres.PostgresConfig `json:"postgres" mapstructure:"postgres"`
}

// Factory creates blob stores and table sinks for parsed locations.
type Factory struct {
	config       Config
	blobCreators map[Scheme]interfaces.BlobCreateFunc
	sinkCreators map[Scheme]interfaces.SinkCreateFunc
	mu           sync.RWMutex
	logger       *logrus.Logger
}

// NewFactory creates a new storage factory
func NewFactory(config *Config, logger *logrus.Logger) *Factory {
	if config == nil {
		config = &Config{}
	}

	if logger == nil {
		logger = logrus.New()
	}

	factory := &Factory{
		config:       *config,
		blobCreators: make(map[Scheme]interfaces.BlobCreateFunc),
		sinkCreators: make(map[Scheme]interfaces.SinkCreateFunc),
		logger:       logger,
	}

	factory.registerDefaults()

	return factory
}

// OpenBlob creates the blob store serving loc's bucket.
func (f *Factory) OpenBlob(loc Location) (interfaces.BlobStorage, error) {
	f.mu.RLock()
	createFunc, exists := f.blobCreators[loc.Scheme]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError(errors.CodeUnsupportedType,
			fmt.Sprintf("Blob storage for scheme '%s' is not supported", loc.Scheme))
	}

	blob, err := createFunc(loc.Bucket)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			fmt.Sprintf("Failed to create %s storage", loc.Scheme))
	}

	f.logger.WithFields(logrus.Fields{
		"scheme": loc.Scheme,
		"bucket": loc.Bucket,
	}).Debug("Created blob storage")

	return blob, nil
}

// OpenSink creates the table sink for loc's connection string.
func (f *Factory) OpenSink(loc Location) (interfaces.TableSink, error) {
	f.mu.RLock()
	createFunc, exists := f.sinkCreators[loc.Scheme]
	f.mu.RUnlock()

	if !exists {
		return nil, errors.NewStorageError(errors.CodeUnsupportedType,
			fmt.Sprintf("Table sink for scheme '%s' is not supported", loc.Scheme))
	}

	sink, err := createFunc(loc.DSN)
	if err != nil {
		return nil, errors.WrapError(err, errors.ErrorTypeStorage, errors.CodeConnectionFailed,
			fmt.Sprintf("Failed to create %s sink", loc.Scheme))
	}

	f.logger.WithFields(logrus.Fields{
		"scheme": loc.Scheme,
		"table":  loc.Table,
	}).Debug("Created table sink")

	return sink, nil
}

// RegisterBlobStorage registers a blob store constructor for a scheme
func (f *Factory) RegisterBlobStorage(scheme Scheme, createFunc interfaces.BlobCreateFunc) error {
	if scheme == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "Storage scheme cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "Storage create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.blobCreators[scheme] = createFunc
	return nil
}

// RegisterTableSink registers a table sink constructor for a scheme
func (f *Factory) RegisterTableSink(scheme Scheme, createFunc interfaces.SinkCreateFunc) error {
	if scheme == "" {
		return errors.NewValidationError(errors.CodeInvalidInput, "Storage scheme cannot be empty")
	}

	if createFunc == nil {
		return errors.NewValidationError(errors.CodeInvalidInput, "Sink create function cannot be nil")
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.sinkCreators[scheme] = createFunc
	return nil
}

// IsSupported checks if a scheme has a blob store or a table sink
func (f *Factory) IsSupported(scheme Scheme) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()

	_, blob := f.blobCreators[scheme]
	_, sink := f.sinkCreators[scheme]
	return blob || sink
}

// registerDefaults registers the default storage implementations
func (f *Factory) registerDefaults() {
	f.RegisterBlobStorage(SchemeS3, func(bucket string) (interfaces.BlobStorage, error) {
		config := f.config.S3
		config.Bucket = bucket
		return s3.NewS3Storage(&config, f.logger)
	})

	f.RegisterTableSink(SchemePostgres, func(dsn string) (interfaces.TableSink, error) {
		config := f.config.Postgres
		config.DSN = dsn
		return postgres.NewPostgresSink(&config, f.logger)
	})
}
