package storage

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dmitrijs2005/filerelay/internal/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	mu      sync.Mutex
	objects map[string][]byte
	err     error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	data, ok := f.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	delete(f.objects, aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key))
	return &s3.DeleteObjectOutput{}, nil
}

func TestS3Backend_RoundTrip(t *testing.T) {
	fake := newFakeS3()
	b := newS3Backend(fake, "relay")
	ctx := context.Background()

	require.NoError(t, b.Put(ctx, testHandle, []byte("sealed")))
	_, ok := fake.objects["relay/blobs/3f/"+testHandle]
	assert.True(t, ok)

	rc, err := b.Get(ctx, testHandle)
	require.NoError(t, err)
	data, _ := io.ReadAll(rc)
	assert.Equal(t, "sealed", string(data))

	require.NoError(t, b.Delete(ctx, testHandle))
	require.NoError(t, b.Delete(ctx, testHandle))

	_, err = b.Get(ctx, testHandle)
	assert.ErrorIs(t, err, common.ErrorNotFound)
}

func TestS3Backend_Errors(t *testing.T) {
	fake := newFakeS3()
	fake.err = errors.New("connection refused")
	b := newS3Backend(fake, "relay")
	ctx := context.Background()

	assert.ErrorContains(t, b.Put(ctx, testHandle, []byte("x")), "connection refused")

	_, err := b.Get(ctx, testHandle)
	assert.Error(t, err)
	assert.NotErrorIs(t, err, common.ErrorNotFound)

	assert.Error(t, b.Delete(ctx, testHandle))
}

func TestNewS3Backend_ConfigError(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		return aws.Config{}, errors.New("no config")
	}

	_, err := NewS3Backend(context.Background(), S3Config{Bucket: "relay", Region: "us-east-1"})
	assert.ErrorContains(t, err, "no config")
}

func TestNewS3Backend_BuildsClient(t *testing.T) {
	orig := loadDefaultAWSConfig
	t.Cleanup(func() { loadDefaultAWSConfig = orig })

	var got awsconfig.LoadOptions
	loadDefaultAWSConfig = func(ctx context.Context, optFns ...func(*awsconfig.LoadOptions) error) (aws.Config, error) {
		for _, fn := range optFns {
			require.NoError(t, fn(&got))
		}
		return aws.Config{Region: got.Region, Credentials: got.Credentials}, nil
	}

	b, err := NewS3Backend(context.Background(), S3Config{
		User: "minioadmin", Password: "minioadmin", Bucket: "relay",
		Region: "us-east-1", BaseEndpoint: "http://127.0.0.1:9000",
	})
	require.NoError(t, err)
	assert.Equal(t, "relay", b.bucket)
	assert.Equal(t, "us-east-1", got.Region)

	creds, err := got.Credentials.Retrieve(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "minioadmin", creds.AccessKeyID)
}
