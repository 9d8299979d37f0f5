// Package blob retains raw repository archives in S3-compatible storage,
// keyed by commit surrogate. Retention is best-effort and entirely optional;
// the mapping pipeline works without it.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ErrNotFound is returned when no archive exists for a commit surrogate.
var ErrNotFound = errors.New("blob: archive not found")

type Config struct {
	Endpoint  string
	Region    string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

// ArchiveStore stores zip archives under <commit>.zip in a single bucket.
type ArchiveStore struct {
	client     *minio.Client
	bucketName string
	region     string
	initOnce   sync.Once
	initErr    error
}

func NewArchiveStore(cfg Config) (*ArchiveStore, error) {
	endpoint := strings.TrimSpace(cfg.Endpoint)
	if endpoint == "" {
		return nil, fmt.Errorf("blob endpoint is required")
	}
	access := strings.TrimSpace(cfg.AccessKey)
	secret := strings.TrimSpace(cfg.SecretKey)
	if access == "" || secret == "" {
		return nil, fmt.Errorf("blob access key and secret key are required")
	}
	bucket := strings.TrimSpace(cfg.Bucket)
	if bucket == "" {
		return nil, fmt.Errorf("blob bucket is required")
	}
	region := strings.TrimSpace(cfg.Region)
	if region == "" {
		region = "us-east-1"
	}

	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(access, secret, ""),
		Secure: cfg.UseSSL,
		Region: region,
	})
	if err != nil {
		return nil, fmt.Errorf("init blob client: %w", err)
	}

	return &ArchiveStore{
		client:     client,
		bucketName: bucket,
		region:     region,
	}, nil
}

func (s *ArchiveStore) ensureBucket(ctx context.Context) error {
	if s == nil || s.client == nil {
		return fmt.Errorf("store is nil")
	}
	s.initOnce.Do(func() {
		exists, err := s.client.BucketExists(ctx, s.bucketName)
		if err != nil {
			s.initErr = err
			return
		}
		if exists {
			return
		}
		s.initErr = s.client.MakeBucket(ctx, s.bucketName, minio.MakeBucketOptions{Region: s.region})
	})
	return s.initErr
}

// Put stores the archive for a commit surrogate. Implements the ingest
// retention sink.
func (s *ArchiveStore) Put(ctx context.Context, commit string, content []byte) error {
	if s == nil {
		return fmt.Errorf("store is nil")
	}
	commit = strings.TrimSpace(commit)
	if commit == "" {
		return fmt.Errorf("commit is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return fmt.Errorf("ensure bucket: %w", err)
	}
	if content == nil {
		content = []byte{}
	}

	_, err := s.client.PutObject(ctx, s.bucketName, objectKey(commit), bytes.NewReader(content), int64(len(content)), minio.PutObjectOptions{
		ContentType: "application/zip",
	})
	return err
}

// Get retrieves the archive for a commit surrogate.
func (s *ArchiveStore) Get(ctx context.Context, commit string) ([]byte, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	commit = strings.TrimSpace(commit)
	if commit == "" {
		return nil, fmt.Errorf("commit is required")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	obj, err := s.client.GetObject(ctx, s.bucketName, objectKey(commit), minio.GetObjectOptions{})
	if err != nil {
		return nil, err
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		errResp := minio.ToErrorResponse(err)
		if errResp.Code == "NoSuchKey" || errResp.Code == "NoSuchBucket" {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// List returns all retained commit surrogates, sorted.
func (s *ArchiveStore) List(ctx context.Context) ([]string, error) {
	if s == nil {
		return nil, fmt.Errorf("store is nil")
	}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}

	commits := make([]string, 0, 32)
	for obj := range s.client.ListObjects(ctx, s.bucketName, minio.ListObjectsOptions{Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		if obj.Key == "" {
			continue
		}
		commits = append(commits, strings.TrimSuffix(obj.Key, ".zip"))
	}
	sort.Strings(commits)
	return commits, nil
}

// GetURL returns a presigned download link for a retained archive.
func (s *ArchiveStore) GetURL(ctx context.Context, commit string) (string, error) {
	if s == nil || s.client == nil {
		return "", fmt.Errorf("store is nil")
	}
	// Expiry: 1 hour
	u, err := s.client.PresignedGetObject(ctx, s.bucketName, objectKey(commit), time.Hour, nil)
	if err != nil {
		return "", err
	}
	return u.String(), nil
}

func objectKey(commit string) string {
	return strings.TrimSpace(commit) + ".zip"
}
