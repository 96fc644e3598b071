package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/paygate/server/internal/model"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutter struct {
	input *s3.PutObjectInput
	body  string
	err   error
}

func (f *fakePutter) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.input = params
	raw, _ := io.ReadAll(params.Body)
	f.body = string(raw)
	if f.err != nil {
		return nil, f.err
	}
	return &s3.PutObjectOutput{}, nil
}

func TestCallbackArchive_Archive(t *testing.T) {
	putter := &fakePutter{}
	archive := newCallbackArchive(putter, "callbacks-bucket", "callbacks")

	receivedAt := time.Date(2026, 3, 14, 9, 26, 53, 0, time.FixedZone("MSK", 3*3600))
	key, err := archive.Archive(context.Background(), model.ProviderFreekassa, receivedAt, []byte("MERCHANT_ID=1"))
	require.NoError(t, err)

	assert.True(t, strings.HasPrefix(key, "callbacks/freekassa/2026/03/14/"), key)
	assert.Equal(t, "callbacks-bucket", aws.ToString(putter.input.Bucket))
	assert.Equal(t, key, aws.ToString(putter.input.Key))
	assert.Equal(t, int64(13), aws.ToInt64(putter.input.ContentLength))
	assert.Equal(t, "MERCHANT_ID=1", putter.body)
	assert.Equal(t, "freekassa", putter.input.Metadata["provider"])
}

func TestCallbackArchive_ArchiveError(t *testing.T) {
	archive := newCallbackArchive(&fakePutter{err: errors.New("access denied")}, "b", "")

	_, err := archive.Archive(context.Background(), model.ProviderRobokassa, time.Now(), []byte("x"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
}

func TestNewCallbackArchive_RequiresBucket(t *testing.T) {
	_, err := NewCallbackArchive(context.Background(), ArchiveConfig{})
	assert.Error(t, err)
}
