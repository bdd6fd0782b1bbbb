package columnar

import (
	"bytes"
	"io"

	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/models"
)

// Encode serializes the stocks, in the order given, into a single Arrow
// IPC file image. The file is written uncompressed so it stays readable by
// the other SDKs sharing this layout.
func Encode(stocks []models.Stock) ([]byte, error) {
	var buf bytes.Buffer
	if err := EncodeTo(&buf, stocks); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// EncodeTo writes the stocks as one Arrow record batch to w.
func EncodeTo(w io.Writer, stocks []models.Stock) error {
	mem := memory.NewGoAllocator()
	schema := Schema()

	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()

	exchangeB := bldr.Field(0).(*array.StringBuilder)
	symbolB := bldr.Field(1).(*array.StringBuilder)
	nameB := bldr.Field(2).(*array.StringBuilder)
	dailyB := bldr.Field(3).(*array.ListBuilder)

	recordB := dailyB.ValueBuilder().(*array.StructBuilder)
	dateB := recordB.FieldBuilder(0).(*array.Int32Builder)
	openB := recordB.FieldBuilder(1).(*array.Float32Builder)
	highB := recordB.FieldBuilder(2).(*array.Float32Builder)
	lowB := recordB.FieldBuilder(3).(*array.Float32Builder)
	closeB := recordB.FieldBuilder(4).(*array.Float32Builder)
	volumeB := recordB.FieldBuilder(5).(*array.Int64Builder)
	amountB := recordB.FieldBuilder(6).(*array.Int64Builder)

	for i := range stocks {
		s := &stocks[i]
		exchangeB.Append(s.Exchange)
		symbolB.Append(s.Symbol)
		nameB.Append(s.Name)

		// Always a valid list entry, even when the history is empty.
		dailyB.Append(true)
		for _, d := range s.Daily {
			recordB.Append(true)
			dateB.Append(d.Date)
			openB.Append(d.Open)
			highB.Append(d.High)
			lowB.Append(d.Low)
			closeB.Append(d.Close)
			volumeB.Append(d.Volume)
			amountB.Append(d.Amount)
		}
	}

	rec := bldr.NewRecord()
	defer rec.Release()

	fw, err := ipc.NewFileWriter(w, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to create arrow file writer")
	}

	if err := fw.Write(rec); err != nil {
		fw.Close()
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to write arrow record batch")
	}

	if err := fw.Close(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFormat, "failed to finalize arrow file")
	}
	return nil
}
