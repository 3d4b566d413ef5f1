package storage

import (
	"context"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/aws/aws-sdk-go/service/s3/s3manager"
	"github.com/aws/aws-sdk-go/service/s3/s3manager/s3manageriface"
)

// S3BlobStore はAmazon S3を使用したBlobStore。
// オブジェクトはpublic-readで保存され、Locationをそのまま公開URLとする。
type S3BlobStore struct {
	bucket   string
	client   s3iface.S3API
	uploader s3manageriface.UploaderAPI
}

// NewS3BlobStore は指定リージョン・バケットのS3BlobStoreを生成する。
// 認証情報はSDKの標準チェーン（環境変数、共有設定ファイル、IAMロール）から解決される。
func NewS3BlobStore(region, bucket string) (*S3BlobStore, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3バケット名が指定されていません")
	}

	sess, err := session.NewSession(&aws.Config{
		Region: aws.String(region),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create AWS session: %w", err)
	}

	client := s3.New(sess)
	return &S3BlobStore{
		bucket:   bucket,
		client:   client,
		uploader: s3manager.NewUploaderWithClient(client),
	}, nil
}

// Upload はオブジェクトをpublic-readでアップロードする。
func (s *S3BlobStore) Upload(ctx context.Context, key, contentType string, body io.Reader) (Object, error) {
	out, err := s.uploader.UploadWithContext(ctx, &s3manager.UploadInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        body,
		ContentType: aws.String(contentType),
		ACL:         aws.String(s3.ObjectCannedACLPublicRead),
	})
	if err != nil {
		return Object{}, fmt.Errorf("failed to upload object %s: %w", key, err)
	}
	return Object{Key: key, URL: out.Location}, nil
}

// Delete はオブジェクトを削除する。S3は存在しないキーの削除も成功として扱う。
func (s *S3BlobStore) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("failed to delete object %s: %w", key, err)
	}
	return nil
}

var _ BlobStore = (*S3BlobStore)(nil)
