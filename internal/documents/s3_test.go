package documents_test

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tournevent/carrierbridge/internal/booking"
	"github.com/tournevent/carrierbridge/internal/documents"
	"github.com/tournevent/carrierbridge/pkg/shipper"
	"github.com/uptrace/opentelemetry-go-extra/otelzap"
	"go.uber.org/zap"
)

type fakePutter struct {
	mu     sync.Mutex
	failOn string
	inputs []*s3.PutObjectInput
	bodies map[string][]byte
}

func (f *fakePutter) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failOn != "" && strings.Contains(aws.ToString(in.Key), f.failOn) {
		return nil, errors.New("access denied")
	}
	body, _ := io.ReadAll(in.Body)
	if f.bodies == nil {
		f.bodies = make(map[string][]byte)
	}
	f.bodies[aws.ToString(in.Key)] = body
	f.inputs = append(f.inputs, in)
	return &s3.PutObjectOutput{}, nil
}

func bookedBooking() *booking.Booking {
	return &booking.Booking{
		ID:        "b-1",
		Reference: "ORD-1001",
		Carrier:   shipper.CarrierFedEx,
		Result: &shipper.BookingResult{
			Carrier:        shipper.CarrierFedEx,
			TrackingNumber: "794600000001",
			Documents: []shipper.Document{
				{Format: "PDF", Content: []byte("%PDF label"), Type: shipper.DocumentLabel},
				{Format: "PDF", Type: shipper.DocumentInvoice},
				{Format: "ZPL", Content: []byte("^XA^XZ"), Type: shipper.DocumentWaybill},
			},
		},
	}
}

func TestS3Archive_Archive(t *testing.T) {
	putter := &fakePutter{}
	archive := documents.NewS3ArchiveWithClient(putter, "labels", "prod/", otelzap.New(zap.NewNop()))

	require.NoError(t, archive.Archive(context.Background(), bookedBooking()))

	require.Len(t, putter.inputs, 2, "documents without content are skipped")
	first := putter.inputs[0]
	assert.Equal(t, "labels", aws.ToString(first.Bucket))
	assert.Equal(t, "prod/fedex/ORD-1001/b-1/01-label.pdf", aws.ToString(first.Key))
	assert.Equal(t, "application/pdf", aws.ToString(first.ContentType))
	assert.Equal(t, "794600000001", first.Metadata["tracking-number"])
	assert.Equal(t, []byte("%PDF label"), putter.bodies["prod/fedex/ORD-1001/b-1/01-label.pdf"])

	second := putter.inputs[1]
	assert.Equal(t, "prod/fedex/ORD-1001/b-1/03-waybill.zpl", aws.ToString(second.Key))
	assert.Equal(t, "text/plain", aws.ToString(second.ContentType))
}

func TestS3Archive_ContinuesAfterFailure(t *testing.T) {
	putter := &fakePutter{failOn: "01-label"}
	archive := documents.NewS3ArchiveWithClient(putter, "labels", "", otelzap.New(zap.NewNop()))

	err := archive.Archive(context.Background(), bookedBooking())

	require.Error(t, err)
	assert.Contains(t, err.Error(), "access denied")
	require.Len(t, putter.inputs, 1)
	assert.Equal(t, "fedex/ORD-1001/b-1/03-waybill.zpl", aws.ToString(putter.inputs[0].Key))
}

func TestS3Archive_NoResult(t *testing.T) {
	putter := &fakePutter{}
	archive := documents.NewS3ArchiveWithClient(putter, "labels", "", otelzap.New(zap.NewNop()))

	require.NoError(t, archive.Archive(context.Background(), &booking.Booking{ID: "b-2"}))
	assert.Empty(t, putter.inputs)
}

func TestS3Archive_Key(t *testing.T) {
	archive := documents.NewS3ArchiveWithClient(&fakePutter{}, "labels", "", otelzap.New(zap.NewNop()))
	b := bookedBooking()

	assert.Equal(t, "fedex/ORD-1001/b-1/02-document.bin", archive.Key(b, 1, shipper.Document{}))
}

func TestNewS3Archive_RequiresBucket(t *testing.T) {
	_, err := documents.NewS3Archive(context.Background(), documents.Config{}, otelzap.New(zap.NewNop()))

	assert.Error(t, err)
}

func TestNewS3Archive_AgainstEndpoint(t *testing.T) {
	var (
		mu   sync.Mutex
		keys []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPut {
			_, _ = io.Copy(io.Discard, r.Body)
			mu.Lock()
			keys = append(keys, r.URL.Path)
			mu.Unlock()
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	archive, err := documents.NewS3Archive(context.Background(), documents.Config{
		Bucket:          "labels",
		Region:          "eu-west-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "test",
		SecretAccessKey: "test",
		ForcePathStyle:  true,
	}, otelzap.New(zap.NewNop()))
	require.NoError(t, err)

	require.NoError(t, archive.Archive(context.Background(), bookedBooking()))

	mu.Lock()
	defer mu.Unlock()
	assert.Contains(t, keys, "/labels/fedex/ORD-1001/b-1/01-label.pdf")
}
