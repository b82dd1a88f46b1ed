package changesetproc

import (
	"gitlab.com/tozd/go/errors"

	"gitlab.com/peerdb/kgstore/changeset"
	"gitlab.com/peerdb/kgstore/schema"
)

// ApplyConfigChangesetToSchema is the pure function spec.md §4.3 names:
// it applies only the creating entries of configChangeset (entities whose
// `id` field was just set from nothing) to base, assembling each new
// `Field` or `Type` config entity into the schema used to validate the
// record side of the same transaction.
func ApplyConfigChangesetToSchema(base schema.Schema, configChangeset changeset.EntitiesChangeset) (schema.Schema, errors.E) {
	out := base.Clone()

	for _, fc := range configChangeset {
		idOp, ok := fc[identityID].(changeset.SetOp)
		if !ok || !idOp.HasValue || idOp.HasPrevious {
			continue
		}

		fieldset, errE := changeset.Apply(changeset.Fieldset{}, fc)
		if errE != nil {
			return schema.Schema{}, errE //nolint:exhaustruct
		}

		typeKey, _ := fieldset[identityType].(string) //nolint:errcheck
		switch typeKey {
		case "Field":
			def, errE := buildFieldDef(fieldset)
			if errE != nil {
				return schema.Schema{}, errE //nolint:exhaustruct
			}
			out.Fields[def.Key] = def
		case "Type":
			def := buildTypeDef(fieldset)
			out.Types[def.Key] = def
		default:
			return schema.Schema{}, errors.Errorf(`config entity has unknown type "%s"`, typeKey) //nolint:exhaustruct
		}
	}

	return out, nil
}

func buildFieldDef(fs changeset.Fieldset) (schema.FieldDef, errors.E) { //nolint:cyclop
	key, _ := fs[identityKey].(string) //nolint:errcheck
	dataTypeRaw, _ := fs["dataType"].(string) //nolint:errcheck
	dt := schema.DataType(dataTypeRaw)

	def := schema.FieldDef{Key: key, DataType: dt} //nolint:exhaustruct
	if v, ok := fs["allowMultiple"].(bool); ok {
		def.AllowMultiple = v
	}
	if v, ok := fs["unique"].(bool); ok {
		def.Unique = v
	}
	if v, ok := fs["immutable"].(bool); ok {
		def.Immutable = v
	}
	if v, ok := fs["inverseOf"].(string); ok {
		def.InverseOf = v
	}
	if v, ok := fs["format"].(string); ok {
		def.Format = v
	}
	if list, ok := fs["options"].([]any); ok {
		for _, o := range list {
			obj, ok := o.(map[string]any)
			if !ok {
				continue
			}
			okey, _ := obj["key"].(string)   //nolint:errcheck
			oname, _ := obj["name"].(string) //nolint:errcheck
			def.Options = append(def.Options, schema.OptionDef{Key: okey, Name: oname})
		}
	}
	if v, present := fs["default"]; present {
		def.HasDefault = true
		def.Default = v
	}
	if w, ok := fs["when"].(map[string]any); ok {
		def.When = buildWhen(w)
	}

	if errE := def.Validate(); errE != nil {
		return schema.FieldDef{}, errE //nolint:exhaustruct
	}
	return def, nil
}

func buildTypeDef(fs changeset.Fieldset) schema.TypeDef {
	key, _ := fs[identityKey].(string) //nolint:errcheck
	name, _ := fs["name"].(string)     //nolint:errcheck
	extends, _ := fs["extends"].(string) //nolint:errcheck

	var refs []schema.TypeFieldRef
	list, _ := fs["fields"].([]any) //nolint:errcheck
	for _, item := range list {
		switch v := item.(type) {
		case string:
			refs = append(refs, schema.TypeFieldRef{FieldKey: v, Attrs: nil})
		case map[string]any:
			refs = append(refs, buildTypeFieldRef(v))
		}
	}

	return schema.TypeDef{Key: key, Name: name, Extends: extends, Fields: refs}
}

func buildTypeFieldRef(v map[string]any) schema.TypeFieldRef {
	fieldKey, _ := v["fieldKey"].(string) //nolint:errcheck
	attrs := &schema.FieldAttrs{}          //nolint:exhaustruct
	if req, ok := v["required"].(bool); ok {
		attrs.HasRequired = true
		attrs.Required = req
	}
	if def, present := v["default"]; present {
		attrs.HasDefault = true
		attrs.Default = def
	}
	if val, present := v["value"]; present {
		attrs.HasValue = true
		attrs.Value = val
	}
	if w, ok := v["when"].(map[string]any); ok {
		attrs.When = buildWhen(w)
	}
	return schema.TypeFieldRef{FieldKey: fieldKey, Attrs: attrs}
}

func buildWhen(w map[string]any) *schema.When {
	field, _ := w["field"].(string) //nolint:errcheck
	op, _ := w["op"].(string)       //nolint:errcheck
	when := &schema.When{Field: field, Op: schema.PredicateOp(op), Value: w["value"], Values: nil}
	if values, ok := w["values"].([]any); ok {
		when.Values = values
	}
	return when
}
