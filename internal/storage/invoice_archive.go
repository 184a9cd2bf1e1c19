package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"session-service/internal/model"

	"github.com/aws/aws-sdk-go-v2/aws"
	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

const downloadURLExpiry = 15 * time.Minute

type S3Config struct {
	Endpoint     string
	Region       string
	Bucket       string
	AccessKey    string
	SecretKey    string
	UsePathStyle bool
}

type objectPutter interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

type objectPresigner interface {
	PresignGetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error)
}

// InvoiceArchive keeps a JSON copy of each issued invoice in an S3 bucket.
type InvoiceArchive struct {
	putter    objectPutter
	presigner objectPresigner
	bucket    string
}

func NewInvoiceArchive(ctx context.Context, cfg S3Config) (*InvoiceArchive, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.Region),
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, "")),
	)
	if err != nil {
		return nil, err
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
		o.UsePathStyle = cfg.UsePathStyle
	})

	return &InvoiceArchive{
		putter:    client,
		presigner: s3.NewPresignClient(client),
		bucket:    cfg.Bucket,
	}, nil
}

type invoiceDocument struct {
	InvoiceNumber string              `json:"invoice_number"`
	IssuedAt      time.Time           `json:"issued_at"`
	PaymentID     string              `json:"payment_id"`
	SessionID     string              `json:"session_id"`
	StaffID       string              `json:"staff_id"`
	CustomerID    *string             `json:"customer_id,omitempty"`
	Method        model.PaymentMethod `json:"method"`
	SessionAmount int64               `json:"session_amount"`
	OrderAmount   int64               `json:"order_amount"`
	Subtotal      int64               `json:"subtotal"`
	Discount      int64               `json:"discount"`
	Total         int64               `json:"total"`
}

// ObjectKey places invoices under their issue month, e.g.
// invoices/2026/03/INV-20260301-0042.json.
func ObjectKey(invoice *model.Invoice) string {
	return fmt.Sprintf("invoices/%s/%s.json", invoice.CreatedAt.UTC().Format("2006/01"), invoice.InvoiceNumber)
}

func (a *InvoiceArchive) Archive(ctx context.Context, invoice *model.Invoice, payment *model.Payment) (string, error) {
	body, err := json.Marshal(invoiceDocument{
		InvoiceNumber: invoice.InvoiceNumber,
		IssuedAt:      invoice.CreatedAt,
		PaymentID:     payment.ID.String(),
		SessionID:     payment.SessionID.String(),
		StaffID:       payment.StaffID,
		CustomerID:    payment.CustomerID,
		Method:        payment.Method,
		SessionAmount: invoice.SessionAmount,
		OrderAmount:   invoice.OrderAmount,
		Subtotal:      invoice.Subtotal,
		Discount:      invoice.Discount,
		Total:         invoice.Total,
	})
	if err != nil {
		return "", err
	}

	key := ObjectKey(invoice)
	_, err = a.putter.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(a.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(body),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("put %s: %w", key, err)
	}

	return key, nil
}

func (a *InvoiceArchive) PresignURL(ctx context.Context, key string) (string, error) {
	request, err := a.presigner.PresignGetObject(ctx,
		&s3.GetObjectInput{
			Bucket: aws.String(a.bucket),
			Key:    aws.String(key),
		},
		func(opts *s3.PresignOptions) {
			opts.Expires = downloadURLExpiry
		},
	)
	if err != nil {
		return "", err
	}

	return request.URL, nil
}
