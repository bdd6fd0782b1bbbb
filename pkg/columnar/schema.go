// Package columnar maps the stock dataset to and from its persisted
// columnar form: a single Arrow IPC file with three string columns and one
// offset-addressed list-of-struct column holding the daily histories.
//
// The schema below is a compatibility contract. Column names, field names,
// and physical types must not change: files written here are read by other
// SDKs against the same layout, and files written by prior implementations
// must decode losslessly.
package columnar

import (
	"github.com/apache/arrow-go/v18/arrow"
)

// Column names of the persisted schema.
const (
	ColExchange = "exchange"
	ColSymbol   = "symbol"
	ColName     = "name"
	ColDaily    = "daily"
)

// Field names of the nested daily record struct.
const (
	FieldDate   = "date"
	FieldOpen   = "open"
	FieldHigh   = "high"
	FieldLow    = "low"
	FieldClose  = "close"
	FieldVolume = "volume"
	FieldAmount = "amount"
)

// dailyFields returns the seven fixed fields of one daily record, in
// persisted order.
func dailyFields() []arrow.Field {
	return []arrow.Field{
		{Name: FieldDate, Type: arrow.PrimitiveTypes.Int32},
		{Name: FieldOpen, Type: arrow.PrimitiveTypes.Float32},
		{Name: FieldHigh, Type: arrow.PrimitiveTypes.Float32},
		{Name: FieldLow, Type: arrow.PrimitiveTypes.Float32},
		{Name: FieldClose, Type: arrow.PrimitiveTypes.Float32},
		{Name: FieldVolume, Type: arrow.PrimitiveTypes.Int64},
		{Name: FieldAmount, Type: arrow.PrimitiveTypes.Int64},
	}
}

// Schema returns the persisted dataset schema. The daily column is
// declared nullable to match the legacy layout, but every row written by
// Encode carries a valid (possibly empty) list; an empty history is a
// present zero-length list, never a null.
func Schema() *arrow.Schema {
	structType := arrow.StructOf(dailyFields()...)
	listType := arrow.ListOfField(arrow.Field{Name: "item", Type: structType})

	return arrow.NewSchema([]arrow.Field{
		{Name: ColExchange, Type: arrow.BinaryTypes.String},
		{Name: ColSymbol, Type: arrow.BinaryTypes.String},
		{Name: ColName, Type: arrow.BinaryTypes.String},
		{Name: ColDaily, Type: listType, Nullable: true},
	}, nil)
}
