// Package schema implements the dynamic, config-driven schema model
// described in spec.md §3–§4.2: FieldDef/TypeDef, the closed dataType
// enum, per-dataType validators, and the `when`/`extends` resolution
// rules a Type needs for mandatory-field and default-value resolution.
package schema

// DataType is one of the closed set of recognised field data types
// (spec.md §3, "Recognised dataType values").
type DataType string

// The closed set of recognised data types.
const (
	DataTypeSeqID     DataType = "seqId"
	DataTypeUID       DataType = "uid"
	DataTypeRelation  DataType = "relation"
	DataTypeBoolean   DataType = "boolean"
	DataTypeInteger   DataType = "integer"
	DataTypeDecimal   DataType = "decimal"
	DataTypePlaintext DataType = "plaintext"
	DataTypeRichtext  DataType = "richtext"
	DataTypeDate      DataType = "date"
	DataTypeDatetime  DataType = "datetime"
	DataTypePeriod    DataType = "period"
	DataTypeOption    DataType = "option"
	DataTypeOptionSet DataType = "optionSet"
	DataTypeObject    DataType = "object"
	DataTypeJSON      DataType = "json"
	DataTypeQuery     DataType = "query"
	DataTypeFileHash  DataType = "fileHash"
	DataTypeInterval  DataType = "interval"
	DataTypeDuration  DataType = "duration"
	DataTypeURI       DataType = "uri"
	DataTypeImage     DataType = "image"
)

var validDataTypes = map[DataType]bool{ //nolint:gochecknoglobals
	DataTypeSeqID:     true,
	DataTypeUID:       true,
	DataTypeRelation:  true,
	DataTypeBoolean:   true,
	DataTypeInteger:   true,
	DataTypeDecimal:   true,
	DataTypePlaintext: true,
	DataTypeRichtext:  true,
	DataTypeDate:      true,
	DataTypeDatetime:  true,
	DataTypePeriod:    true,
	DataTypeOption:    true,
	DataTypeOptionSet: true,
	DataTypeObject:    true,
	DataTypeJSON:      true,
	DataTypeQuery:     true,
	DataTypeFileHash:  true,
	DataTypeInterval:  true,
	DataTypeDuration:  true,
	DataTypeURI:       true,
	DataTypeImage:     true,
}

// Valid reports whether d is one of the recognised data types.
func (d DataType) Valid() bool {
	return validDataTypes[d]
}

// IdentityFields are the core identity fields present on every entity
// regardless of its type, always part of the effective schema
// (spec.md §3, "The record schema is derived from rows in config ...
// plus a core identity field set always present").
var IdentityFields = []string{"id", "uid", "key", "type", "txIds"} //nolint:gochecknoglobals
