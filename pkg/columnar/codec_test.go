package columnar

import (
	"bytes"
	"math"
	"testing"

	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/ipc"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/egostrategy/datahub/pkg/errors"
	"github.com/egostrategy/datahub/pkg/models"
)

func sampleStocks() []models.Stock {
	return []models.Stock{
		{
			Exchange: "SSE",
			Symbol:   "600000",
			Name:     "浦发银行",
			Daily: []models.DailyRecord{
				{Date: 20240103, Open: 7.1, High: 7.3, Low: 7.0, Close: 7.2, Volume: 1000000, Amount: 7150000},
				{Date: 20240102, Open: float32(math.Pi), High: 7.2, Low: 6.9, Close: 7.05, Volume: 900000, Amount: 6345000},
			},
		},
		{
			// valid but empty history, not null
			Exchange: "SZSE",
			Symbol:   "000001",
			Name:     "平安银行",
		},
		{
			Exchange: "SSE",
			Symbol:   "688981",
			Name:     "中芯国际",
			Daily: []models.DailyRecord{
				{Date: 20240103, Open: 52.5, High: 53.1, Low: 51.8, Close: 52.9, Volume: 5000000, Amount: 262500000},
			},
		},
	}
}

func TestRoundTrip(t *testing.T) {
	stocks := sampleStocks()

	data, err := Encode(stocks)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, stocks, decoded)
}

func TestRoundTripEmptyDataset(t *testing.T) {
	data, err := Encode(nil)
	require.NoError(t, err)

	decoded, err := Decode(data)
	require.NoError(t, err)
	assert.Empty(t, decoded)
}

func TestRoundTripPreservesFloatBits(t *testing.T) {
	// values chosen to be unrepresentable exactly; the bit pattern, not a
	// rounded value, must survive
	open := float32(0.1)
	closeP := math.Float32frombits(0x3f9d70a4)
	stocks := []models.Stock{{
		Exchange: "SSE",
		Symbol:   "600519",
		Name:     "貴州茅台",
		Daily:    []models.DailyRecord{{Date: 20240102, Open: open, Close: closeP, High: 1.5, Low: 0.5, Volume: 1, Amount: 2}},
	}}

	data, err := Encode(stocks)
	require.NoError(t, err)
	decoded, err := Decode(data)
	require.NoError(t, err)

	require.Len(t, decoded, 1)
	require.Len(t, decoded[0].Daily, 1)
	assert.Equal(t, math.Float32bits(open), math.Float32bits(decoded[0].Daily[0].Open))
	assert.Equal(t, math.Float32bits(closeP), math.Float32bits(decoded[0].Daily[0].Close))
}

func TestEncodeOffsetsAndValidity(t *testing.T) {
	stocks := sampleStocks()
	data, err := Encode(stocks)
	require.NoError(t, err)

	rdr, err := ipc.NewFileReader(bytes.NewReader(data))
	require.NoError(t, err)
	defer rdr.Close()

	rec, err := rdr.Read()
	require.NoError(t, err)

	idx := rec.Schema().FieldIndices(ColDaily)
	require.Len(t, idx, 1)
	daily, ok := rec.Column(idx[0]).(*array.List)
	require.True(t, ok)

	// one validity bit per stock, always set
	assert.Zero(t, daily.NullN())

	offsets := daily.Offsets()
	require.Len(t, offsets, len(stocks)+1)
	assert.Equal(t, int32(0), offsets[0])
	total := 0
	for i, s := range stocks {
		assert.LessOrEqual(t, offsets[i], offsets[i+1])
		assert.Equal(t, int32(len(s.Daily)), offsets[i+1]-offsets[i])
		total += len(s.Daily)
	}
	assert.Equal(t, int32(total), offsets[len(stocks)])
}

// writeCustomFile builds an arrow file with an arbitrary schema so decode
// failures can be provoked.
func writeCustomFile(t *testing.T, schema *arrow.Schema, fill func(*array.RecordBuilder)) []byte {
	t.Helper()

	mem := memory.NewGoAllocator()
	bldr := array.NewRecordBuilder(mem, schema)
	defer bldr.Release()
	if fill != nil {
		fill(bldr)
	}
	rec := bldr.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	fw, err := ipc.NewFileWriter(&buf, ipc.WithSchema(schema), ipc.WithAllocator(mem))
	require.NoError(t, err)
	require.NoError(t, fw.Write(rec))
	require.NoError(t, fw.Close())
	return buf.Bytes()
}

func TestDecodeMissingDailyField(t *testing.T) {
	// daily struct without the amount field
	truncated := arrow.StructOf(
		arrow.Field{Name: FieldDate, Type: arrow.PrimitiveTypes.Int32},
		arrow.Field{Name: FieldOpen, Type: arrow.PrimitiveTypes.Float32},
		arrow.Field{Name: FieldHigh, Type: arrow.PrimitiveTypes.Float32},
		arrow.Field{Name: FieldLow, Type: arrow.PrimitiveTypes.Float32},
		arrow.Field{Name: FieldClose, Type: arrow.PrimitiveTypes.Float32},
		arrow.Field{Name: FieldVolume, Type: arrow.PrimitiveTypes.Int64},
	)
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColExchange, Type: arrow.BinaryTypes.String},
		{Name: ColSymbol, Type: arrow.BinaryTypes.String},
		{Name: ColName, Type: arrow.BinaryTypes.String},
		{Name: ColDaily, Type: arrow.ListOfField(arrow.Field{Name: "item", Type: truncated}), Nullable: true},
	}, nil)

	data := writeCustomFile(t, schema, func(b *array.RecordBuilder) {
		b.Field(0).(*array.StringBuilder).Append("SSE")
		b.Field(1).(*array.StringBuilder).Append("600000")
		b.Field(2).(*array.StringBuilder).Append("X")
		b.Field(3).(*array.ListBuilder).Append(true)
	})

	_, err := Decode(data)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
	assert.Contains(t, err.Error(), "missing daily record field")
}

func TestDecodeMissingColumn(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColExchange, Type: arrow.BinaryTypes.String},
		{Name: ColName, Type: arrow.BinaryTypes.String},
	}, nil)
	data := writeCustomFile(t, schema, nil)

	_, err := Decode(data)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestDecodeWrongColumnType(t *testing.T) {
	schema := arrow.NewSchema([]arrow.Field{
		{Name: ColExchange, Type: arrow.BinaryTypes.String},
		{Name: ColSymbol, Type: arrow.PrimitiveTypes.Int32},
		{Name: ColName, Type: arrow.BinaryTypes.String},
		{Name: ColDaily, Type: arrow.ListOfField(arrow.Field{Name: "item", Type: arrow.StructOf(dailyFields()...)}), Nullable: true},
	}, nil)
	data := writeCustomFile(t, schema, nil)

	_, err := Decode(data)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
	assert.Contains(t, err.Error(), "not utf8")
}

func TestDecodeGarbage(t *testing.T) {
	_, err := Decode([]byte("not an arrow file at all"))
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeFormat))
}

func TestDecodeNullDailyRowBecomesEmptyHistory(t *testing.T) {
	data := writeCustomFile(t, Schema(), func(b *array.RecordBuilder) {
		b.Field(0).(*array.StringBuilder).Append("SSE")
		b.Field(1).(*array.StringBuilder).Append("600000")
		b.Field(2).(*array.StringBuilder).Append("X")
		b.Field(3).(*array.ListBuilder).AppendNull()
	})

	decoded, err := Decode(data)
	require.NoError(t, err)
	require.Len(t, decoded, 1)
	assert.Empty(t, decoded[0].Daily)
}
