package state

import (
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/fentz26/lookout/internal/intern"
	"github.com/fentz26/lookout/internal/wire"
	"go.uber.org/zap"
)

// Well-known span field names.
const (
	fieldTaskName          = "task.name"
	fieldTaskID            = "task.id"
	fieldKind              = "kind"
	fieldSizeBytes         = "size.bytes"
	fieldOriginalSizeBytes = "original_size.bytes"
)

const unknownLocation = "<unknown location>"

// notApplicable is rendered for optional ids that are absent.
const notApplicable = "n/a"

// Metadata is a registered callsite description.
type Metadata struct {
	id         uint64
	name       intern.Str
	target     intern.Str
	location   intern.Str
	fieldNames []intern.Str
}

func metadataFromProto(id uint64, pb *wire.Metadata, strs *intern.Strings) *Metadata {
	meta := &Metadata{
		id:       id,
		name:     strs.Intern(pb.Name),
		target:   strs.Intern(pb.Target),
		location: strs.Intern(formatLocation(pb.Location)),
	}
	for _, name := range pb.FieldNames {
		meta.fieldNames = append(meta.fieldNames, strs.Intern(name))
	}
	return meta
}

// ID returns the metadata id.
func (m *Metadata) ID() uint64 { return m.id }

// Name returns the callsite name.
func (m *Metadata) Name() string { return m.name.String() }

// Target returns the callsite target.
func (m *Metadata) Target() string { return m.target.String() }

// Location returns the callsite's formatted source location.
func (m *Metadata) Location() string { return m.location.String() }

// FieldNames returns the callsite's declared field names.
func (m *Metadata) FieldNames() []string {
	names := make([]string, len(m.fieldNames))
	for i, name := range m.fieldNames {
		names[i] = name.String()
	}
	return names
}

// FieldValueKind tags the variant held by a FieldValue.
type FieldValueKind int

const (
	FieldDebug FieldValueKind = iota
	FieldStr
	FieldU64
	FieldI64
	FieldBool
)

// FieldValue is one recorded span field value.
type FieldValue struct {
	kind FieldValueKind
	str  intern.Str
	u64  uint64
	i64  int64
	b    bool
}

// Kind returns the variant.
func (v FieldValue) Kind() FieldValueKind { return v.kind }

// U64 returns the value as an unsigned integer when it holds one.
func (v FieldValue) U64() (uint64, bool) {
	switch v.kind {
	case FieldU64:
		return v.u64, true
	case FieldI64:
		if v.i64 >= 0 {
			return uint64(v.i64), true
		}
	}
	return 0, false
}

func (v FieldValue) String() string {
	switch v.kind {
	case FieldU64:
		return strconv.FormatUint(v.u64, 10)
	case FieldI64:
		return strconv.FormatInt(v.i64, 10)
	case FieldBool:
		return strconv.FormatBool(v.b)
	default:
		return v.str.String()
	}
}

// Field is a named span field.
type Field struct {
	name  intern.Str
	value FieldValue
}

// Name returns the field name.
func (f Field) Name() string { return f.name.String() }

// Value returns the field value.
func (f Field) Value() FieldValue { return f.value }

func (f Field) String() string {
	return f.Name() + "=" + f.value.String()
}

// fieldFromProto resolves a wire field against its callsite metadata.
func fieldFromProto(pb wire.Field, meta *Metadata, strs *intern.Strings, logger *zap.Logger) (Field, bool) {
	var name intern.Str
	switch {
	case pb.Name != nil:
		name = strs.Intern(*pb.Name)
	case pb.NameIdx != nil:
		if pb.MetadataID == nil || pb.MetadataID.ID != meta.id {
			logger.Debug("field metadata id mismatch, skipping field",
				zap.Uint64("meta_id", meta.id))
			return Field{}, false
		}
		idx := *pb.NameIdx
		if idx >= uint64(len(meta.fieldNames)) {
			logger.Debug("field name index out of range, skipping field",
				zap.Uint64("meta_id", meta.id), zap.Uint64("name_idx", idx))
			return Field{}, false
		}
		name = meta.fieldNames[idx]
	default:
		logger.Debug("field has no name, skipping field", zap.Uint64("meta_id", meta.id))
		return Field{}, false
	}

	var value FieldValue
	switch {
	case pb.DebugVal != nil:
		value = FieldValue{kind: FieldDebug, str: strs.Intern(*pb.DebugVal)}
	case pb.StrVal != nil:
		value = FieldValue{kind: FieldStr, str: strs.Intern(*pb.StrVal)}
	case pb.U64Val != nil:
		value = FieldValue{kind: FieldU64, u64: *pb.U64Val}
	case pb.I64Val != nil:
		value = FieldValue{kind: FieldI64, i64: *pb.I64Val}
	case pb.BoolVal != nil:
		value = FieldValue{kind: FieldBool, b: *pb.BoolVal}
	default:
		logger.Debug("field has no value, skipping field", zap.String("field", name.String()))
		return Field{}, false
	}
	return Field{name: name, value: value}, true
}

// Attribute is a field annotated with a unit.
type Attribute struct {
	field Field
	unit  string
}

func attributesFromProto(pbs []wire.Attribute, meta *Metadata, strs *intern.Strings, logger *zap.Logger) []Attribute {
	attrs := make([]Attribute, 0, len(pbs))
	for _, pb := range pbs {
		if pb.Field == nil {
			continue
		}
		field, ok := fieldFromProto(*pb.Field, meta, strs, logger)
		if !ok {
			continue
		}
		attr := Attribute{field: field}
		if pb.Unit != nil {
			attr.unit = *pb.Unit
		}
		attrs = append(attrs, attr)
	}
	return attrs
}

// formatAttributes renders attributes as "name=value<unit>", ordered by name.
func formatAttributes(attrs []Attribute) []string {
	slices.SortStableFunc(attrs, func(a, b Attribute) int {
		return intern.Compare(a.field.name, b.field.name)
	})
	out := make([]string, 0, len(attrs))
	for _, attr := range attrs {
		out = append(out, attr.field.String()+attr.unit)
	}
	return out
}

// formatLocation renders a location as file:line:column.
func formatLocation(loc *wire.Location) string {
	if loc == nil {
		return unknownLocation
	}
	var b strings.Builder
	switch {
	case loc.File != nil:
		b.WriteString(truncateRegistryPath(*loc.File))
	case loc.ModulePath != nil:
		b.WriteString(*loc.ModulePath)
	default:
		return unknownLocation
	}
	if loc.Line != nil {
		fmt.Fprintf(&b, ":%d", *loc.Line)
		if loc.Column != nil {
			fmt.Fprintf(&b, ":%d", *loc.Column)
		}
	}
	return b.String()
}

// truncateRegistryPath shortens paths into a package registry or module cache
// to the part after the cache root.
func truncateRegistryPath(path string) string {
	for _, marker := range []string{"/.cargo/registry/src/", "/go/pkg/mod/"} {
		if i := strings.Index(path, marker); i >= 0 {
			rest := path[i+len(marker):]
			if marker == "/.cargo/registry/src/" {
				// Skip the registry index directory.
				if j := strings.IndexByte(rest, '/'); j >= 0 {
					rest = rest[j+1:]
				}
				return "<cargo>/" + rest
			}
			return "<mod>/" + rest
		}
	}
	return path
}
