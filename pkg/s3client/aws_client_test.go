package s3client

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeUploader struct {
	errs   []error
	calls  int
	inputs []*s3.PutObjectInput
	bodies [][]byte
}

func (f *fakeUploader) Upload(_ context.Context, input *s3.PutObjectInput, _ ...func(*manager.Uploader)) (*manager.UploadOutput, error) {
	f.calls++
	f.inputs = append(f.inputs, input)
	body, _ := io.ReadAll(input.Body)
	f.bodies = append(f.bodies, body)
	if len(f.errs) > 0 {
		err := f.errs[0]
		f.errs = f.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &manager.UploadOutput{}, nil
}

func testClient(u uploader) *AWSClient {
	c := newAWSClient(u)
	c.baseDelay = time.Millisecond
	c.maxDelay = 5 * time.Millisecond
	return c
}

func TestParseURI(t *testing.T) {
	tests := []struct {
		uri        string
		wantBucket string
		wantKey    string
		wantErr    bool
	}{
		{uri: "s3://reports/lansync/result.json", wantBucket: "reports", wantKey: "lansync/result.json"},
		{uri: "s3://reports/plan.json", wantBucket: "reports", wantKey: "plan.json"},
		{uri: "s3://reports", wantErr: true},
		{uri: "s3://reports/", wantErr: true},
		{uri: "s3://reports/dir/", wantErr: true},
		{uri: "s3:///key", wantErr: true},
		{uri: "/tmp/result.json", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.uri, func(t *testing.T) {
			bucket, key, err := ParseURI(tt.uri)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.wantBucket, bucket)
			assert.Equal(t, tt.wantKey, key)
		})
	}
}

func TestIsURI(t *testing.T) {
	assert.True(t, IsURI("s3://bucket/key"))
	assert.False(t, IsURI("result.json"))
	assert.False(t, IsURI(""))
}

func TestPutObject(t *testing.T) {
	u := &fakeUploader{}
	c := testClient(u)

	err := c.PutObject(context.Background(), &PutObjectRequest{
		Bucket:      "reports",
		Key:         "plan.json",
		Body:        []byte(`{"files":[]}`),
		ContentType: "application/json",
	})
	require.NoError(t, err)

	require.Equal(t, 1, u.calls)
	assert.Equal(t, "reports", *u.inputs[0].Bucket)
	assert.Equal(t, "plan.json", *u.inputs[0].Key)
	assert.Equal(t, "application/json", *u.inputs[0].ContentType)
	assert.Equal(t, `{"files":[]}`, string(u.bodies[0]))
}

func TestPutObjectRetries(t *testing.T) {
	slow := &smithy.GenericAPIError{Code: "SlowDown", Message: "reduce your request rate"}
	u := &fakeUploader{errs: []error{slow, slow, nil}}
	c := testClient(u)

	err := c.PutObject(context.Background(), &PutObjectRequest{Bucket: "b", Key: "k", Body: []byte("x")})
	require.NoError(t, err)
	assert.Equal(t, 3, u.calls)
	// every attempt gets a fresh body
	assert.Equal(t, []byte("x"), u.bodies[2])
}

func TestPutObjectGivesUp(t *testing.T) {
	slow := &smithy.GenericAPIError{Code: "ServiceUnavailable"}
	u := &fakeUploader{errs: []error{slow, slow, slow, slow, slow, slow, slow}}
	c := testClient(u)

	err := c.PutObject(context.Background(), &PutObjectRequest{Bucket: "b", Key: "k"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "max retries exceeded")
	assert.Equal(t, defaultMaxRetries+1, u.calls)
}

func TestPutObjectPermanentError(t *testing.T) {
	denied := &smithy.GenericAPIError{Code: "AccessDenied"}
	u := &fakeUploader{errs: []error{denied}}
	c := testClient(u)

	err := c.PutObject(context.Background(), &PutObjectRequest{Bucket: "b", Key: "k"})
	require.Error(t, err)
	assert.ErrorIs(t, err, denied)
	assert.Equal(t, 1, u.calls)
}

func TestIsRetryableError(t *testing.T) {
	c := testClient(&fakeUploader{})

	tests := []struct {
		name string
		err  error
		want bool
	}{
		{name: "slow down", err: &smithy.GenericAPIError{Code: "SlowDown"}, want: true},
		{name: "request timeout", err: &smithy.GenericAPIError{Code: "RequestTimeout"}, want: true},
		{name: "access denied", err: &smithy.GenericAPIError{Code: "AccessDenied"}, want: false},
		{name: "deadline", err: context.DeadlineExceeded, want: true},
		{name: "unexpected eof", err: io.ErrUnexpectedEOF, want: true},
		{name: "plain", err: errors.New("boom"), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, c.isRetryableError(tt.err))
		})
	}
}

func TestCalculateDelay(t *testing.T) {
	c := newAWSClient(&fakeUploader{})

	first := c.calculateDelay(0)
	assert.GreaterOrEqual(t, first, 75*time.Millisecond)
	assert.LessOrEqual(t, first, 125*time.Millisecond)

	assert.Equal(t, defaultMaxDelay, c.calculateDelay(20))
}
