package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"os"
	"path"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// getR2Config returns AWS config for Cloudflare R2 (S3-compatible).
func getR2Config() (aws.Config, error) {
	accountID := os.Getenv("R2_ACCOUNT_ID")
	accessKey := os.Getenv("R2_ACCESS_KEY_ID")
	secretKey := os.Getenv("R2_SECRET_ACCESS_KEY")

	if accountID == "" || accessKey == "" || secretKey == "" {
		return aws.Config{}, fmt.Errorf("R2_ACCOUNT_ID, R2_ACCESS_KEY_ID or R2_SECRET_ACCESS_KEY not set")
	}

	cfg, err := config.LoadDefaultConfig(context.TODO(),
		config.WithRegion("auto"), // Required by SDK, R2 ignores this
		config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(accessKey, secretKey, ""),
		),
	)
	if err != nil {
		return aws.Config{}, fmt.Errorf("failed to load R2 config: %w", err)
	}
	return cfg, nil
}

func getR2Client() (*s3.Client, error) {
	accountID := os.Getenv("R2_ACCOUNT_ID")
	if accountID == "" {
		return nil, fmt.Errorf("R2_ACCOUNT_ID not set")
	}
	cfg, err := getR2Config()
	if err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("https://%s.r2.cloudflarestorage.com", accountID)
	return s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.BaseEndpoint = aws.String(endpoint)
	}), nil
}

func getR2Bucket() (string, error) {
	bucket := os.Getenv("R2_BUCKET_NAME")
	if bucket == "" {
		return "", fmt.Errorf("R2_BUCKET_NAME not set")
	}
	return bucket, nil
}

// UploadToS3 uploads an object to Cloudflare R2.
func UploadToS3(objectName string, file io.Reader) error {
	bucket, err := getR2Bucket()
	if err != nil {
		return err
	}
	client, err := getR2Client()
	if err != nil {
		return err
	}
	contentType := mime.TypeByExtension(path.Ext(objectName))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	_, err = client.PutObject(context.TODO(), &s3.PutObjectInput{
		Bucket:      aws.String(bucket),
		Key:         aws.String(objectName),
		Body:        file,
		ContentType: aws.String(contentType),
	})
	if err != nil {
		return fmt.Errorf("R2 upload failed: %w", err)
	}
	return nil
}

// GenerateSignedURL returns a presigned GET URL for the given object.
func GenerateSignedURL(objectName string, expirySeconds int64) (string, error) {
	bucket, err := getR2Bucket()
	if err != nil {
		return "", err
	}
	client, err := getR2Client()
	if err != nil {
		return "", err
	}
	presigner := s3.NewPresignClient(client)
	presigned, err := presigner.PresignGetObject(context.TODO(),
		&s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(objectName),
		},
		func(po *s3.PresignOptions) {
			po.Expires = time.Duration(expirySeconds) * time.Second
		},
	)
	if err != nil {
		return "", fmt.Errorf("failed to presign R2 URL: %w", err)
	}
	return presigned.URL, nil
}

// ProofArchive persists a JSON record per approved report to object storage.
// Records are never modified after upload, so the archive doubles as an
// audit trail.
type ProofArchive struct{}

// NewProofArchive returns an archive, or nil when R2 is not configured.
func NewProofArchive() *ProofArchive {
	if os.Getenv("R2_ACCOUNT_ID") == "" || os.Getenv("R2_BUCKET_NAME") == "" {
		return nil
	}
	return &ProofArchive{}
}

type proofRecord struct {
	InstanceID  uint      `json:"instance_id"`
	PhotoFileID string    `json:"photo_file_id"`
	Caption     string    `json:"caption"`
	ArchivedAt  time.Time `json:"archived_at"`
}

// proofKey is deterministic: an instance is approved at most once.
func proofKey(instanceID uint) string {
	return fmt.Sprintf("proofs/task-%d.json", instanceID)
}

func (p *ProofArchive) ArchiveProof(instanceID uint, photoFileID, caption string) error {
	rec := proofRecord{
		InstanceID:  instanceID,
		PhotoFileID: photoFileID,
		Caption:     caption,
		ArchivedAt:  time.Now().UTC(),
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return UploadToS3(proofKey(instanceID), bytes.NewReader(data))
}

// ProofURL returns a short-lived download link for an archived record.
func (p *ProofArchive) ProofURL(instanceID uint) (string, error) {
	return GenerateSignedURL(proofKey(instanceID), 900)
}
