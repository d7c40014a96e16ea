package storage

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"context-capture/internal/config"
	"context-capture/pkg/logging"
)

// 单次镜像上传的时限
const mirrorUploadTimeout = 30 * time.Second

// Mirror 资产文件的对象存储镜像
//
// 上传异步且尽力而为，失败只记日志，绝不阻塞或失败本地保存。
type Mirror struct {
	client *minio.Client
	bucket string
	logger *logging.Logger
}

// NewMirror 连接对象存储并确保桶存在
func NewMirror(ctx context.Context, cfg config.MinIOConfig, logger *logging.Logger) (*Mirror, error) {
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: cfg.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("connecting to object store %q: %w", cfg.Endpoint, err)
	}

	exists, err := client.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("checking bucket %q: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("creating bucket %q: %w", cfg.Bucket, err)
		}
	}
	return &Mirror{client: client, bucket: cfg.Bucket, logger: logger}, nil
}

// UploadAsync 异步上传一份落盘内容
func (m *Mirror) UploadAsync(relPath string, payload []byte) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), mirrorUploadTimeout)
		defer cancel()
		_, err := m.client.PutObject(ctx, m.bucket, relPath,
			bytes.NewReader(payload), int64(len(payload)),
			minio.PutObjectOptions{ContentType: "application/octet-stream"})
		if err != nil {
			m.logger.WithError(err).Warn("对象存储镜像上传失败", "object", relPath)
			return
		}
		m.logger.Debug("对象存储镜像上传完成", "object", relPath, "size", len(payload))
	}()
}

// Fetch 从镜像读回一份内容，本地文件缺失时的恢复路径
func (m *Mirror) Fetch(ctx context.Context, relPath string) ([]byte, error) {
	obj, err := m.client.GetObject(ctx, m.bucket, relPath, minio.GetObjectOptions{})
	if err != nil {
		return nil, fmt.Errorf("fetching object %q: %w", relPath, err)
	}
	defer obj.Close()

	var buf bytes.Buffer
	if _, err := buf.ReadFrom(obj); err != nil {
		return nil, fmt.Errorf("reading object %q: %w", relPath, err)
	}
	return buf.Bytes(), nil
}
