package kgcore

import "gitlab.com/peerdb/kgstore/schema"

// BootstrapConfigSchema is the fixed meta-schema that validates config
// entities themselves (spec.md §4.3's "Field"/"Type" config entity
// shapes, the same shape changesetproc.buildFieldDef/buildTypeDef
// decode). It never changes at runtime, unlike the record schema that
// config entities describe.
func BootstrapConfigSchema() schema.Schema {
	s := schema.New()

	s.Fields["dataType"] = schema.FieldDef{Key: "dataType", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["allowMultiple"] = schema.FieldDef{Key: "allowMultiple", DataType: schema.DataTypeBoolean} //nolint:exhaustruct
	s.Fields["unique"] = schema.FieldDef{Key: "unique", DataType: schema.DataTypeBoolean} //nolint:exhaustruct
	s.Fields["immutable"] = schema.FieldDef{Key: "immutable", DataType: schema.DataTypeBoolean} //nolint:exhaustruct
	s.Fields["inverseOf"] = schema.FieldDef{Key: "inverseOf", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["format"] = schema.FieldDef{Key: "format", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["options"] = schema.FieldDef{Key: "options", DataType: schema.DataTypeJSON, AllowMultiple: true} //nolint:exhaustruct
	s.Fields["default"] = schema.FieldDef{Key: "default", DataType: schema.DataTypeJSON} //nolint:exhaustruct
	s.Fields["when"] = schema.FieldDef{Key: "when", DataType: schema.DataTypeJSON} //nolint:exhaustruct
	s.Fields["name"] = schema.FieldDef{Key: "name", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["extends"] = schema.FieldDef{Key: "extends", DataType: schema.DataTypePlaintext} //nolint:exhaustruct
	s.Fields["fields"] = schema.FieldDef{Key: "fields", DataType: schema.DataTypeJSON, AllowMultiple: true} //nolint:exhaustruct

	s.Types["Field"] = schema.TypeDef{
		Key:  "Field",
		Name: "Field",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "key", Attrs: requiredAttr()},
			{FieldKey: "dataType", Attrs: requiredAttr()},
			{FieldKey: "allowMultiple", Attrs: nil},
			{FieldKey: "unique", Attrs: nil},
			{FieldKey: "immutable", Attrs: nil},
			{FieldKey: "inverseOf", Attrs: nil},
			{FieldKey: "format", Attrs: nil},
			{FieldKey: "options", Attrs: nil},
			{FieldKey: "default", Attrs: nil},
			{FieldKey: "when", Attrs: nil},
		},
	}
	s.Types["Type"] = schema.TypeDef{
		Key:  "Type",
		Name: "Type",
		Fields: []schema.TypeFieldRef{
			{FieldKey: "key", Attrs: requiredAttr()},
			{FieldKey: "name", Attrs: requiredAttr()},
			{FieldKey: "extends", Attrs: nil},
			{FieldKey: "fields", Attrs: nil},
		},
	}

	return s
}

func requiredAttr() *schema.FieldAttrs {
	return &schema.FieldAttrs{HasRequired: true, Required: true} //nolint:exhaustruct
}
