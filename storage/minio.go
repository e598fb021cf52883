package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"time"

	"ChunkFM/config"
	"ChunkFM/logger"
	"ChunkFM/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// MinioChunkStore keeps chunk data in a MinIO bucket so several server
// instances can share one segment store. Object layout mirrors the local
// store: tracks/<trackID>/chunk_<i> in pre-split mode, tracks/<trackID>/track.dat
// in offset mode.
type MinioChunkStore struct {
	client    *minio.Client
	bucket    string
	mode      string
	chunkSize int64
}

// NewMinioChunkStore 初始化 MinIO 客户端并确保存储桶存在
func NewMinioChunkStore(cfg *config.Config) (*MinioChunkStore, error) {
	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	exists, err := client.BucketExists(ctx, cfg.MinioBucket)
	if err != nil {
		return nil, fmt.Errorf("检查存储桶失败: %w", err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.MinioBucket, minio.MakeBucketOptions{Region: cfg.MinioRegion}); err != nil {
			return nil, fmt.Errorf("创建存储桶失败: %w", err)
		}
		logger.Info("created bucket", logger.String("bucket", cfg.MinioBucket))
	}

	return &MinioChunkStore{
		client:    client,
		bucket:    cfg.MinioBucket,
		mode:      cfg.ChunkMode,
		chunkSize: cfg.ChunkSize,
	}, nil
}

func (s *MinioChunkStore) chunkObject(trackID int64, index int) string {
	return fmt.Sprintf("tracks/%d/chunk_%d", trackID, index)
}

func (s *MinioChunkStore) trackObject(trackID int64) string {
	return fmt.Sprintf("tracks/%d/track.dat", trackID)
}

func (s *MinioChunkStore) put(ctx context.Context, object string, r io.Reader) (int64, error) {
	// Buffer so the exact size is known; chunk payloads are bounded by the
	// upload coordinator before they reach the store.
	data, err := io.ReadAll(r)
	if err != nil {
		return 0, fmt.Errorf("failed to read payload for %s: %w", object, err)
	}

	opts := minio.PutObjectOptions{ContentType: "application/octet-stream", DisableMultipart: true}
	if _, err := s.client.PutObject(ctx, s.bucket, object, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return 0, fmt.Errorf("failed to put object %s: %w", object, err)
	}
	return int64(len(data)), nil
}

func (s *MinioChunkStore) SaveChunk(ctx context.Context, trackID int64, index int, r io.Reader) (int64, error) {
	if s.mode != config.ChunkModePresplit {
		return 0, fmt.Errorf("per-chunk upload requires presplit mode, store is in %s mode", s.mode)
	}
	return s.put(ctx, s.chunkObject(trackID, index), r)
}

func (s *MinioChunkStore) SaveTrack(ctx context.Context, trackID int64, r io.Reader) (int64, error) {
	if s.mode != config.ChunkModeOffset {
		return 0, fmt.Errorf("whole-file upload requires offset mode, store is in %s mode", s.mode)
	}
	// Whole files may exceed the single-part limit, stream without buffering.
	opts := minio.PutObjectOptions{ContentType: "application/octet-stream"}
	info, err := s.client.PutObject(ctx, s.bucket, s.trackObject(trackID), r, -1, opts)
	if err != nil {
		return 0, fmt.Errorf("failed to put track %d file: %w", trackID, err)
	}
	return info.Size, nil
}

func (s *MinioChunkStore) ReadChunk(ctx context.Context, trackID int64, index int) ([]byte, error) {
	opts := minio.GetObjectOptions{}
	object := s.chunkObject(trackID, index)

	if s.mode == config.ChunkModeOffset {
		object = s.trackObject(trackID)
		start := int64(index) * s.chunkSize
		if err := opts.SetRange(start, start+s.chunkSize-1); err != nil {
			return nil, fmt.Errorf("failed to set range for track %d chunk %d: %w", trackID, index, err)
		}
	}

	obj, err := s.client.GetObject(ctx, s.bucket, object, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to get object %s: %w", object, err)
	}
	defer obj.Close()

	data, err := io.ReadAll(obj)
	if err != nil {
		resp := minio.ToErrorResponse(err)
		if resp.Code == "NoSuchKey" || resp.Code == "InvalidRange" {
			return nil, fmt.Errorf("track %d chunk %d: %w", trackID, index, model.ErrChunkNotFound)
		}
		return nil, fmt.Errorf("failed to read object %s: %w", object, err)
	}
	if len(data) == 0 {
		return nil, fmt.Errorf("track %d chunk %d is empty: %w", trackID, index, model.ErrChunkNotFound)
	}
	return data, nil
}

func (s *MinioChunkStore) ChunkSize(ctx context.Context, trackID int64, index int) (int64, error) {
	object := s.chunkObject(trackID, index)
	if s.mode == config.ChunkModeOffset {
		object = s.trackObject(trackID)
	}

	info, err := s.client.StatObject(ctx, s.bucket, object, minio.StatObjectOptions{})
	if err != nil {
		if minio.ToErrorResponse(err).Code == "NoSuchKey" {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to stat object %s: %w", object, err)
	}

	if s.mode == config.ChunkModeOffset {
		remaining := info.Size - int64(index)*s.chunkSize
		if remaining <= 0 {
			return 0, nil
		}
		if remaining > s.chunkSize {
			return s.chunkSize, nil
		}
		return remaining, nil
	}
	return info.Size, nil
}

func (s *MinioChunkStore) ChunkCount(ctx context.Context, trackID int64) (int, error) {
	if s.mode == config.ChunkModeOffset {
		info, err := s.client.StatObject(ctx, s.bucket, s.trackObject(trackID), minio.StatObjectOptions{})
		if err != nil {
			if minio.ToErrorResponse(err).Code == "NoSuchKey" {
				return 0, nil
			}
			return 0, fmt.Errorf("failed to stat track %d file: %w", trackID, err)
		}
		return int(info.Size / s.chunkSize), nil
	}

	count := 0
	prefix := fmt.Sprintf("tracks/%d/chunk_", trackID)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return 0, fmt.Errorf("failed to list chunks of track %d: %w", trackID, obj.Err)
		}
		count++
	}
	return count, nil
}

func (s *MinioChunkStore) RemoveTrack(ctx context.Context, trackID int64) error {
	prefix := fmt.Sprintf("tracks/%d/", trackID)
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix}) {
		if obj.Err != nil {
			return fmt.Errorf("failed to list objects of track %d: %w", trackID, obj.Err)
		}
		if err := s.client.RemoveObject(ctx, s.bucket, obj.Key, minio.RemoveObjectOptions{}); err != nil {
			return fmt.Errorf("failed to remove object %s: %w", obj.Key, err)
		}
	}
	return nil
}
