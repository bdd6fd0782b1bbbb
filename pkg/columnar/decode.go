package columnar

import (
	"bytes"
	stderrors "errors"
	"io"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"

	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/models"
)

// datasetColumns holds the statically bound columns of one record batch.
// Every column and nested field is resolved by name and type-checked
// exactly once per batch; after binding, the read path is free of dynamic
// casts.
type datasetColumns struct {
	exchange *array.String
	symbol   *array.String
	name     *array.String
	daily    *array.List

	date   *array.Int32
	open   *array.Float32
	high   *array.Float32
	low    *array.Float32
	close  *array.Float32
	volume *array.Int64
	amount *array.Int64
}

// Decode deserializes an Arrow IPC file image back into stocks, in on-disk
// order. It fails with a format error when a column or nested field is
// missing or mis-typed, or when the daily list offsets are inconsistent.
func Decode(data []byte) ([]models.Stock, error) {
	return decodeReader(bytes.NewReader(data))
}

func decodeReader(r *bytes.Reader) ([]models.Stock, error) {
	mem := memory.NewGoAllocator()

	rdr, err := ipc.NewFileReader(r, ipc.WithAllocator(mem))
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to open arrow file")
	}
	defer rdr.Close()

	stocks := make([]models.Stock, 0)
	for {
		rec, err := rdr.Read()
		if stderrors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeFormat, "failed to read arrow record batch")
		}

		cols, err := bindColumns(rec)
		if err != nil {
			return nil, err
		}
		stocks, err = cols.appendStocks(stocks, int(rec.NumRows()))
		if err != nil {
			return nil, err
		}
	}

	return stocks, nil
}

// bindColumns resolves the four top-level columns and the seven daily
// record fields by name, verifying their physical types.
func bindColumns(rec arrow.Record) (*datasetColumns, error) {
	var cols datasetColumns
	var err error

	if cols.exchange, err = stringColumn(rec, ColExchange); err != nil {
		return nil, err
	}
	if cols.symbol, err = stringColumn(rec, ColSymbol); err != nil {
		return nil, err
	}
	if cols.name, err = stringColumn(rec, ColName); err != nil {
		return nil, err
	}

	idx := rec.Schema().FieldIndices(ColDaily)
	if len(idx) != 1 {
		return nil, errors.New(errors.ErrorTypeFormat, "missing column").
			WithDetail("column", ColDaily)
	}
	daily, ok := rec.Column(idx[0]).(*array.List)
	if !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "column is not a list").
			WithDetail("column", ColDaily).
			WithDetail("type", rec.Column(idx[0]).DataType().String())
	}
	cols.daily = daily

	records, ok := daily.ListValues().(*array.Struct)
	if !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "daily column element is not a struct").
			WithDetail("type", daily.ListValues().DataType().String())
	}

	structType, ok := records.DataType().(*arrow.StructType)
	if !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "daily column element has no struct type")
	}

	if cols.date, err = structField[*array.Int32](records, structType, FieldDate); err != nil {
		return nil, err
	}
	if cols.open, err = structField[*array.Float32](records, structType, FieldOpen); err != nil {
		return nil, err
	}
	if cols.high, err = structField[*array.Float32](records, structType, FieldHigh); err != nil {
		return nil, err
	}
	if cols.low, err = structField[*array.Float32](records, structType, FieldLow); err != nil {
		return nil, err
	}
	if cols.close, err = structField[*array.Float32](records, structType, FieldClose); err != nil {
		return nil, err
	}
	if cols.volume, err = structField[*array.Int64](records, structType, FieldVolume); err != nil {
		return nil, err
	}
	if cols.amount, err = structField[*array.Int64](records, structType, FieldAmount); err != nil {
		return nil, err
	}

	if err := cols.validateOffsets(records.Len()); err != nil {
		return nil, err
	}
	return &cols, nil
}

// stringColumn resolves a top-level utf8 column by name.
func stringColumn(rec arrow.Record, name string) (*array.String, error) {
	idx := rec.Schema().FieldIndices(name)
	if len(idx) != 1 {
		return nil, errors.New(errors.ErrorTypeFormat, "missing column").
			WithDetail("column", name)
	}
	col, ok := rec.Column(idx[0]).(*array.String)
	if !ok {
		return nil, errors.New(errors.ErrorTypeFormat, "column is not utf8").
			WithDetail("column", name).
			WithDetail("type", rec.Column(idx[0]).DataType().String())
	}
	return col, nil
}

// structField resolves one field of the daily record struct by name.
func structField[A arrow.Array](records *array.Struct, structType *arrow.StructType, name string) (A, error) {
	var zero A
	idx, ok := structType.FieldIdx(name)
	if !ok {
		return zero, errors.New(errors.ErrorTypeFormat, "missing daily record field").
			WithDetail("field", name)
	}
	arr, ok := records.Field(idx).(A)
	if !ok {
		return zero, errors.New(errors.ErrorTypeFormat, "daily record field has wrong type").
			WithDetail("field", name).
			WithDetail("type", records.Field(idx).DataType().String())
	}
	return arr, nil
}

// validateOffsets checks that the daily list offsets are non-decreasing
// and stay within the flat record array.
func (c *datasetColumns) validateOffsets(flatLen int) error {
	for i := 0; i < c.daily.Len(); i++ {
		start, end := c.daily.ValueOffsets(i)
		if start < 0 || start > end {
			return errors.Newf(errors.ErrorTypeFormat, "daily offsets not monotonic at row %d", i).
				WithDetail("start", start).
				WithDetail("end", end)
		}
		if end > int64(flatLen) {
			return errors.Newf(errors.ErrorTypeFormat, "daily offsets exceed record array length at row %d", i).
				WithDetail("end", end).
				WithDetail("records", flatLen)
		}
	}
	return nil
}

// appendStocks decodes every row of the bound batch onto dst.
func (c *datasetColumns) appendStocks(dst []models.Stock, rows int) ([]models.Stock, error) {
	for i := 0; i < rows; i++ {
		stock := models.Stock{
			Exchange: c.exchange.Value(i),
			Symbol:   c.symbol.Value(i),
			Name:     c.name.Value(i),
		}

		// A null list entry decodes as an empty history, the same way the
		// legacy reader treated it.
		if !c.daily.IsNull(i) {
			start, end := c.daily.ValueOffsets(i)
			if end > start {
				stock.Daily = make([]models.DailyRecord, 0, end-start)
				for j := start; j < end; j++ {
					stock.Daily = append(stock.Daily, models.DailyRecord{
						Date:   c.date.Value(int(j)),
						Open:   c.open.Value(int(j)),
						High:   c.high.Value(int(j)),
						Low:    c.low.Value(int(j)),
						Close:  c.close.Value(int(j)),
						Volume: c.volume.Value(int(j)),
						Amount: c.amount.Value(int(j)),
					})
				}
			}
		}

		dst = append(dst, stock)
	}
	return dst, nil
}
