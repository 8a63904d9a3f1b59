package promotion

import (
	"bytes"
	"context"
	"fmt"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"

	"github.com/reviewlake/reviewlake/pkg/review"
)

// Schema is the column layout of a bronze review artifact.
var Schema = arrow.NewSchema([]arrow.Field{
	{Name: "review_id", Type: arrow.BinaryTypes.String},
	{Name: "title", Type: arrow.BinaryTypes.String},
	{Name: "content", Type: arrow.BinaryTypes.String},
	{Name: "rating", Type: arrow.PrimitiveTypes.Float64, Nullable: true},
	{Name: "created_at", Type: arrow.BinaryTypes.String},
	{Name: "fetched_at", Type: arrow.BinaryTypes.String},
	{Name: "app_id", Type: arrow.BinaryTypes.String},
	{Name: "lang", Type: arrow.BinaryTypes.String},
	{Name: "country", Type: arrow.BinaryTypes.String},
	{Name: "platform", Type: arrow.BinaryTypes.String},
	{Name: "provider", Type: arrow.BinaryTypes.String},
	{Name: "peer_group", Type: arrow.BinaryTypes.String},
}, nil)

// stringColumns maps every string column index to its field accessor.
var stringColumns = []struct {
	index int
	get   func(*review.Review) *string
}{
	{0, func(r *review.Review) *string { return &r.ReviewID }},
	{1, func(r *review.Review) *string { return &r.Title }},
	{2, func(r *review.Review) *string { return &r.Content }},
	{4, func(r *review.Review) *string { return &r.CreatedAt }},
	{5, func(r *review.Review) *string { return &r.FetchedAt }},
	{6, func(r *review.Review) *string { return &r.AppID }},
	{7, func(r *review.Review) *string { return &r.Lang }},
	{8, func(r *review.Review) *string { return &r.Country }},
	{9, func(r *review.Review) *string { return &r.Platform }},
	{10, func(r *review.Review) *string { return &r.Provider }},
	{11, func(r *review.Review) *string { return &r.PeerGroup }},
}

const ratingColumn = 3

// NewRecord builds one record batch holding reviews. The caller releases it.
func NewRecord(mem memory.Allocator, reviews []review.Review) arrow.Record {
	b := array.NewRecordBuilder(mem, Schema)
	defer b.Release()

	for i := range reviews {
		r := &reviews[i]
		for _, col := range stringColumns {
			b.Field(col.index).(*array.StringBuilder).Append(*col.get(r))
		}
		rating := b.Field(ratingColumn).(*array.Float64Builder)
		if r.Rating != nil {
			rating.Append(*r.Rating)
		} else {
			rating.AppendNull()
		}
	}
	return b.NewRecord()
}

// EncodeParquet writes reviews as a Snappy-compressed Parquet file.
func EncodeParquet(reviews []review.Review) ([]byte, error) {
	rec := NewRecord(memory.DefaultAllocator, reviews)
	defer rec.Release()

	var buf bytes.Buffer
	props := parquet.NewWriterProperties(parquet.WithCompression(compress.Codecs.Snappy))
	w, err := pqarrow.NewFileWriter(Schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, fmt.Errorf("create parquet writer: %w", err)
	}
	if err := w.Write(rec); err != nil {
		w.Close()
		return nil, fmt.Errorf("write record batch: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("close parquet writer: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeParquet reads a bronze artifact back into reviews.
func DecodeParquet(ctx context.Context, data []byte) ([]review.Review, error) {
	pf, err := file.NewParquetReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("open parquet: %w", err)
	}
	defer pf.Close()

	mem := memory.DefaultAllocator
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{BatchSize: 1024}, mem)
	if err != nil {
		return nil, fmt.Errorf("create arrow reader: %w", err)
	}
	tbl, err := fr.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("read table: %w", err)
	}
	defer tbl.Release()

	if err := checkSchema(tbl.Schema()); err != nil {
		return nil, err
	}

	out := make([]review.Review, 0, tbl.NumRows())
	tr := array.NewTableReader(tbl, 1024)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		base := len(out)
		out = append(out, make([]review.Review, rec.NumRows())...)
		for _, col := range stringColumns {
			values := rec.Column(col.index).(*array.String)
			for i := 0; i < values.Len(); i++ {
				*col.get(&out[base+i]) = values.Value(i)
			}
		}
		ratings := rec.Column(ratingColumn).(*array.Float64)
		for i := 0; i < ratings.Len(); i++ {
			if ratings.IsValid(i) {
				v := ratings.Value(i)
				out[base+i].Rating = &v
			}
		}
	}
	return out, nil
}

func checkSchema(got *arrow.Schema) error {
	if got.NumFields() != Schema.NumFields() {
		return fmt.Errorf("unexpected schema: %d columns, want %d", got.NumFields(), Schema.NumFields())
	}
	for i, want := range Schema.Fields() {
		f := got.Field(i)
		if f.Name != want.Name || !arrow.TypeEqual(f.Type, want.Type) {
			return fmt.Errorf("unexpected column %d: %s %s, want %s %s", i, f.Name, f.Type, want.Name, want.Type)
		}
	}
	return nil
}
