package archive

import (
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/rs/zerolog"

	"github.com/gradeflow/eval-service/internal/config"
)

// Storage archives raw submission sources out of band. Losing an archive
// write never fails an enqueue; the database keeps the authoritative copy.
type Storage interface {
	Archive(ctx context.Context, assignmentID, submissionID, source string) error
	Fetch(ctx context.Context, assignmentID, submissionID string) (string, error)
}

type minioStorage struct {
	client *minio.Client
	bucket string
	logger zerolog.Logger

	ensureMu      sync.Mutex
	bucketEnsured bool
}

func NewMinIOStorage(cfg config.StorageConfig, logger zerolog.Logger) (Storage, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create MinIO client: %w", err)
	}

	s := &minioStorage{
		client: client,
		bucket: cfg.Bucket,
		logger: logger,
	}

	// Best-effort bootstrap; if MinIO is not up yet the bucket check
	// retries on first use.
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := s.ensureBucket(ctx); err != nil {
		logger.Warn().Err(err).
			Str("endpoint", cfg.Endpoint).
			Str("bucket", cfg.Bucket).
			Msg("MinIO not ready during startup, archiving will retry on demand")
	} else {
		logger.Info().
			Str("endpoint", cfg.Endpoint).
			Str("bucket", cfg.Bucket).
			Msg("Connected to MinIO")
	}

	return s, nil
}

func (s *minioStorage) ensureBucket(ctx context.Context) error {
	s.ensureMu.Lock()
	defer s.ensureMu.Unlock()
	if s.bucketEnsured {
		return nil
	}

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("failed to check bucket: %w", err)
	}
	if !exists {
		if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{}); err != nil {
			return fmt.Errorf("failed to create bucket: %w", err)
		}
		s.logger.Info().Str("bucket", s.bucket).Msg("Created new bucket")
	}

	s.bucketEnsured = true
	return nil
}

func (s *minioStorage) Archive(ctx context.Context, assignmentID, submissionID, source string) error {
	if err := s.ensureBucket(ctx); err != nil {
		return err
	}

	reader := strings.NewReader(source)
	_, err := s.client.PutObject(ctx, s.bucket, objectName(assignmentID, submissionID), reader, int64(reader.Len()), minio.PutObjectOptions{
		ContentType: "text/plain",
	})
	if err != nil {
		return fmt.Errorf("failed to archive source: %w", err)
	}
	return nil
}

func (s *minioStorage) Fetch(ctx context.Context, assignmentID, submissionID string) (string, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, objectName(assignmentID, submissionID), minio.GetObjectOptions{})
	if err != nil {
		return "", fmt.Errorf("failed to fetch archived source: %w", err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		return "", fmt.Errorf("failed to read archived source: %w", err)
	}
	return string(data), nil
}

func objectName(assignmentID, submissionID string) string {
	return path.Join(assignmentID, submissionID+".src")
}

// noopStorage is wired when storage.enabled is false.
type noopStorage struct{}

func NewNoopStorage() Storage {
	return noopStorage{}
}

func (noopStorage) Archive(ctx context.Context, assignmentID, submissionID, source string) error {
	return nil
}

func (noopStorage) Fetch(ctx context.Context, assignmentID, submissionID string) (string, error) {
	return "", fmt.Errorf("source archiving disabled")
}
