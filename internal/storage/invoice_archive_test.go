package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"testing"
	"time"

	"session-service/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

type fakeBucket struct {
	objects map[string][]byte
	err     error
	expires time.Duration
}

func (b *fakeBucket) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if b.err != nil {
		return nil, b.err
	}
	body, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	b.objects[aws.ToString(in.Bucket)+"/"+aws.ToString(in.Key)] = body
	return &s3.PutObjectOutput{}, nil
}

func (b *fakeBucket) PresignGetObject(_ context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	o := &s3.PresignOptions{}
	for _, fn := range opts {
		fn(o)
	}
	b.expires = o.Expires
	return &v4.PresignedHTTPRequest{URL: "https://s3.local/" + aws.ToString(in.Bucket) + "/" + aws.ToString(in.Key) + "?X-Amz-Signature=x"}, nil
}

func testInvoice() (*model.Invoice, *model.Payment) {
	payment := &model.Payment{
		ID: uuid.New(), SessionID: uuid.New(), StaffID: "staff-1",
		SessionAmount: 90000, OrderAmount: 20000, Discount: 10000, TotalAmount: 100000,
		Method: model.PaymentCard, Status: model.PaymentCompleted,
	}
	invoice := &model.Invoice{
		ID: uuid.New(), PaymentID: payment.ID, InvoiceNumber: "INV-20260301-0042",
		SessionAmount: 90000, OrderAmount: 20000, Subtotal: 110000, Discount: 10000, Total: 100000,
		CreatedAt: time.Date(2026, 3, 1, 21, 15, 0, 0, time.UTC),
	}
	return invoice, payment
}

func TestInvoiceArchive_Archive(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	archive := &InvoiceArchive{putter: bucket, presigner: bucket, bucket: "club-invoices"}
	invoice, payment := testInvoice()

	key, err := archive.Archive(context.Background(), invoice, payment)
	require.NoError(t, err)
	require.Equal(t, "invoices/2026/03/INV-20260301-0042.json", key)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(bucket.objects["club-invoices/"+key], &doc))
	require.Equal(t, "INV-20260301-0042", doc["invoice_number"])
	require.Equal(t, "CARD", doc["method"])
	require.EqualValues(t, 100000, doc["total"])
}

func TestInvoiceArchive_ArchiveError(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}, err: errors.New("AccessDenied")}
	archive := &InvoiceArchive{putter: bucket, presigner: bucket, bucket: "club-invoices"}
	invoice, payment := testInvoice()

	_, err := archive.Archive(context.Background(), invoice, payment)
	require.ErrorContains(t, err, "AccessDenied")
}

func TestInvoiceArchive_PresignURL(t *testing.T) {
	bucket := &fakeBucket{objects: map[string][]byte{}}
	archive := &InvoiceArchive{putter: bucket, presigner: bucket, bucket: "club-invoices"}

	url, err := archive.PresignURL(context.Background(), "invoices/2026/03/INV-20260301-0042.json")
	require.NoError(t, err)
	require.Contains(t, url, "club-invoices/invoices/2026/03/INV-20260301-0042.json")
	require.Equal(t, 15*time.Minute, bucket.expires)
}
