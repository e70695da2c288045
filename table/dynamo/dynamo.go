// Package dynamo stores documents in a DynamoDB table whose partition key is
// the document key field. Queries by key use GetItem; everything else scans
// and filters client-side.
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/unkn0wn-root/datacache/codec"
	"github.com/unkn0wn-root/datacache/doc"
	"github.com/unkn0wn-root/datacache/query"
	"github.com/unkn0wn-root/datacache/table"
)

// Client is the subset of *dynamodb.Client the table uses.
type Client interface {
	GetItem(ctx context.Context, in *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, in *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, in *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, in *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

type Config struct {
	Region    string
	Endpoint  string // optional, e.g. DynamoDB Local
	AccessKey string // empty => default credential chain
	SecretKey string
}

// NewClient builds a DynamoDB client from static or default credentials.
func NewClient(ctx context.Context, cfg Config) (*dynamodb.Client, error) {
	opts := []func(*config.LoadOptions) error{config.WithRegion(cfg.Region)}
	if cfg.AccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AccessKey, cfg.SecretKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("dynamo: load aws config: %w", err)
	}
	return dynamodb.NewFromConfig(awsCfg, func(o *dynamodb.Options) {
		if cfg.Endpoint != "" {
			o.BaseEndpoint = aws.String(cfg.Endpoint)
		}
	}), nil
}

type Table struct {
	client  Client
	name    string
	keyAttr string
	closed  atomic.Bool
}

var _ table.DataTable = (*Table)(nil)

// New binds the DynamoDB table name whose partition key attribute is keyAttr.
func New(client Client, name, keyAttr string) (*Table, error) {
	if client == nil || name == "" || keyAttr == "" {
		return nil, errors.New("dynamo: client, table name and key attribute are required")
	}
	return &Table{client: client, name: name, keyAttr: keyAttr}, nil
}

func (t *Table) Name() string         { return t.name }
func (t *Table) Format() codec.Format { return doc.Format{} }

func (t *Table) check(op string) error {
	if t.closed.Load() {
		return table.Wrap(t.name, op, table.ErrClosed)
	}
	return nil
}

func (t *Table) keyOf(v any) (map[string]types.AttributeValue, error) {
	av, err := toAttr(v)
	if err != nil {
		return nil, err
	}
	return map[string]types.AttributeValue{t.keyAttr: av}, nil
}

func (t *Table) FindOne(ctx context.Context, q *query.Query) (table.Result, error) {
	if err := t.check("find_one"); err != nil {
		return table.Result{}, err
	}
	if k, ok := q.Key(); ok && q.KeyField() == t.keyAttr {
		key, err := t.keyOf(k)
		if err != nil {
			return table.Result{}, table.Wrap(t.name, "find_one", err)
		}
		out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
			TableName:      aws.String(t.name),
			Key:            key,
			ConsistentRead: aws.Bool(true),
		})
		if err != nil {
			return table.Result{}, table.Wrap(t.name, "find_one", err)
		}
		if len(out.Item) == 0 {
			return table.Result{}, nil
		}
		d := t.document(out.Item)
		ok, err := table.Match(q, d)
		if err != nil || !ok {
			return table.Result{}, table.Wrap(t.name, "find_one", err)
		}
		return table.Result{Found: true, Input: d}, nil
	}

	var res table.Result
	errStop := errors.New("stop")
	err := t.scan(ctx, func(d *doc.Document) error {
		ok, err := table.Match(q, d)
		if err != nil {
			return err
		}
		if ok {
			res = table.Result{Found: true, Input: d}
			return errStop
		}
		return nil
	})
	if err != nil && !errors.Is(err, errStop) {
		return table.Result{}, table.Wrap(t.name, "find_one", err)
	}
	return res, nil
}

func (t *Table) document(item map[string]types.AttributeValue) *doc.Document {
	d := fromItem(item)
	d.SetKeyName(t.keyAttr)
	return d
}

// scan pages through the whole table.
func (t *Table) scan(ctx context.Context, fn func(*doc.Document) error) error {
	var start map[string]types.AttributeValue
	for {
		out, err := t.client.Scan(ctx, &dynamodb.ScanInput{
			TableName:         aws.String(t.name),
			ExclusiveStartKey: start,
		})
		if err != nil {
			return err
		}
		for _, item := range out.Items {
			if err := fn(t.document(item)); err != nil {
				return err
			}
		}
		if len(out.LastEvaluatedKey) == 0 {
			return nil
		}
		start = out.LastEvaluatedKey
	}
}

func (t *Table) UpsertOne(ctx context.Context, out codec.EncodeOutput) error {
	if err := t.check("upsert"); err != nil {
		return err
	}
	d, err := table.Document(out)
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	if d.KeyName() != t.keyAttr {
		return table.Wrap(t.name, "upsert",
			fmt.Errorf("key field %q does not match partition key %q", d.KeyName(), t.keyAttr))
	}
	item, err := toItem(d)
	if err != nil {
		return table.Wrap(t.name, "upsert", err)
	}
	_, err = t.client.PutItem(ctx, &dynamodb.PutItemInput{TableName: aws.String(t.name), Item: item})
	return table.Wrap(t.name, "upsert", err)
}

func (t *Table) Find(ctx context.Context, q *query.Query, opts table.FindOptions) (table.Cursor, error) {
	if err := t.check("find"); err != nil {
		return nil, err
	}
	var docs []*doc.Document
	err := t.scan(ctx, func(d *doc.Document) error {
		ok, err := table.Match(q, d)
		if ok {
			docs = append(docs, d)
		}
		return err
	})
	if err != nil {
		return nil, table.Wrap(t.name, "find", err)
	}
	if opts.KeyField == "" {
		opts.KeyField = t.keyAttr
	}
	res, err := table.Apply(docs, nil, opts)
	if err != nil {
		return nil, table.Wrap(t.name, "find", err)
	}
	return table.NewSliceCursor(res), nil
}

func (t *Table) DeleteMany(ctx context.Context, q *query.Query) (int64, error) {
	if err := t.check("delete_many"); err != nil {
		return 0, err
	}
	var keys []any
	err := t.scan(ctx, func(d *doc.Document) error {
		ok, err := table.Match(q, d)
		if ok {
			k, _ := d.Key()
			keys = append(keys, k)
		}
		return err
	})
	if err != nil {
		return 0, table.Wrap(t.name, "delete_many", err)
	}
	var n int64
	for _, k := range keys {
		key, err := t.keyOf(k)
		if err == nil {
			_, err = t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{TableName: aws.String(t.name), Key: key})
		}
		if err != nil {
			return n, table.Wrap(t.name, "delete_many", err)
		}
		n++
	}
	return n, nil
}

// Close marks the table closed. The SDK client holds no resources to release.
func (t *Table) Close(context.Context) error {
	t.closed.Store(true)
	return nil
}
