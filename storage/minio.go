package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"Pixmux/config"
	"Pixmux/core/engine"
	"Pixmux/core/pixelmap"
	"Pixmux/logger"
	"Pixmux/model"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	pixelMapPrefix  = "pixelmaps/"
	recordingPrefix = "recordings/"
)

// MinioStore 像素映射和录制文件的对象存储
type MinioStore struct {
	client *minio.Client
	bucket string
	region string
}

// ObjectInfo 对象摘要
type ObjectInfo struct {
	Key          string
	Size         int64
	LastModified time.Time
}

// NewMinioStore 创建客户端并确保存储桶存在
func NewMinioStore(ctx context.Context, cfg *config.Config) (*MinioStore, error) {
	logger.Info("正在连接 MinIO 服务器",
		logger.String("endpoint", cfg.MinioEndpoint),
		logger.String("bucket", cfg.MinioBucket))

	client, err := minio.New(cfg.MinioEndpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.MinioAccessKey, cfg.MinioSecretKey, ""),
		Secure: cfg.MinioUseSSL,
		Region: cfg.MinioRegion,
	})
	if err != nil {
		return nil, fmt.Errorf("创建 MinIO 客户端失败: %w", err)
	}

	s := &MinioStore{client: client, bucket: cfg.MinioBucket, region: cfg.MinioRegion}
	if err := s.ensureBucket(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *MinioStore) ensureBucket(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	exists, err := s.client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("检查存储桶失败: %w", err)
	}
	if exists {
		return nil
	}
	if err := s.client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("创建存储桶失败: %w", err)
	}
	logger.Info("已创建存储桶", logger.String("bucket", s.bucket))
	return nil
}

// PixelMapKey 像素映射的对象键
func PixelMapKey(name string) string {
	name = strings.TrimSuffix(path.Base(name), ".json")
	return pixelMapPrefix + name + ".json"
}

// RecordingKey 录制文件的对象键
func RecordingKey(engineName string, at time.Time) string {
	return fmt.Sprintf("%s%s/%s.jsonl", recordingPrefix, engineName, at.UTC().Format("20060102T150405.000Z"))
}

// ========== 像素映射 ==========

// PutPixelMap 校验后上传像素映射
func (s *MinioStore) PutPixelMap(ctx context.Context, name string, pm *model.PixelMap) (string, error) {
	data, err := pixelmap.Marshal(pm)
	if err != nil {
		return "", err
	}
	key := PixelMapKey(name)
	_, err = s.client.PutObject(ctx, s.bucket, key, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return "", fmt.Errorf("上传像素映射失败: %w", err)
	}
	return key, nil
}

// GetPixelMap 下载并解析像素映射
func (s *MinioStore) GetPixelMap(ctx context.Context, name string) (*model.PixelMap, error) {
	object, err := s.client.GetObject(ctx, s.bucket, PixelMapKey(name), minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("读取像素映射失败: %w", err)
	}
	defer object.Close()

	data, err := io.ReadAll(object)
	if err != nil {
		return nil, fmt.Errorf("读取像素映射失败: %w", err)
	}
	return pixelmap.Parse(data)
}

// ========== 录制 ==========

// UploadRecording 上传录制缓冲中的帧，返回对象键
func (s *MinioStore) UploadRecording(ctx context.Context, engineName string, frames []engine.RecordedFrame) (string, error) {
	if len(frames) == 0 {
		return "", fmt.Errorf("引擎 %s 没有录制帧", engineName)
	}
	var buf bytes.Buffer
	if err := EncodeRecording(&buf, frames); err != nil {
		return "", err
	}

	key := RecordingKey(engineName, time.Now())
	_, err := s.client.PutObject(ctx, s.bucket, key, &buf, int64(buf.Len()), minio.PutObjectOptions{
		ContentType: "application/x-ndjson",
	})
	if err != nil {
		return "", fmt.Errorf("上传录制失败: %w", err)
	}
	logger.Info("录制已上传",
		logger.Engine(engineName),
		logger.String("key", key),
		logger.Int("frames", len(frames)),
		logger.String("size", FormatSize(int64(buf.Len()))))
	return key, nil
}

// ========== 对象管理 ==========

// List 列出前缀下的对象
func (s *MinioStore) List(ctx context.Context, prefix string) ([]ObjectInfo, error) {
	var out []ObjectInfo
	for object := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if object.Err != nil {
			return nil, fmt.Errorf("列出对象失败: %w", object.Err)
		}
		out = append(out, ObjectInfo{Key: object.Key, Size: object.Size, LastModified: object.LastModified})
	}
	return out, nil
}

// DeletePrefix 删除前缀下的全部对象，返回删除数量
func (s *MinioStore) DeletePrefix(ctx context.Context, prefix string) (int, error) {
	if prefix == "" {
		return 0, fmt.Errorf("删除操作需要指定前缀")
	}
	objects, err := s.List(ctx, prefix)
	if err != nil {
		return 0, err
	}

	objectsCh := make(chan minio.ObjectInfo, len(objects))
	for _, obj := range objects {
		objectsCh <- minio.ObjectInfo{Key: obj.Key}
	}
	close(objectsCh)

	for rerr := range s.client.RemoveObjects(ctx, s.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if rerr.Err != nil {
			return 0, fmt.Errorf("删除对象 %s 失败: %w", rerr.ObjectName, rerr.Err)
		}
	}
	return len(objects), nil
}

// FormatSize 格式化文件大小
func FormatSize(size int64) string {
	const unit = 1024
	if size < unit {
		return fmt.Sprintf("%d B", size)
	}
	div, exp := int64(unit), 0
	for n := size / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(size)/float64(div), "KMGTPE"[exp])
}
