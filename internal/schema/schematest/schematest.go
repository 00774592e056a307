// Package schematest provides a small device schema for tests. It mirrors
// the shape of the real device protos (announcement, info, per-family
// telemetry and command request/response messages) without needing protoc.
package schematest

import (
	"sync"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"

	"github.com/nerrad567/poolfleet/internal/infrastructure/config"
)

// Package is the proto package of every test message.
const Package = "pool.v1"

type fieldType = descriptorpb.FieldDescriptorProto_Type

const (
	tInt32   = descriptorpb.FieldDescriptorProto_TYPE_INT32
	tSint32  = descriptorpb.FieldDescriptorProto_TYPE_SINT32
	tInt64   = descriptorpb.FieldDescriptorProto_TYPE_INT64
	tUint32  = descriptorpb.FieldDescriptorProto_TYPE_UINT32
	tUint64  = descriptorpb.FieldDescriptorProto_TYPE_UINT64
	tFloat   = descriptorpb.FieldDescriptorProto_TYPE_FLOAT
	tDouble  = descriptorpb.FieldDescriptorProto_TYPE_DOUBLE
	tBool    = descriptorpb.FieldDescriptorProto_TYPE_BOOL
	tString  = descriptorpb.FieldDescriptorProto_TYPE_STRING
	tBytes   = descriptorpb.FieldDescriptorProto_TYPE_BYTES
	tMessage = descriptorpb.FieldDescriptorProto_TYPE_MESSAGE
	tEnum    = descriptorpb.FieldDescriptorProto_TYPE_ENUM
)

func field(name string, num int32, typ fieldType, typeName string) *descriptorpb.FieldDescriptorProto {
	f := &descriptorpb.FieldDescriptorProto{
		Name:   proto.String(name),
		Number: proto.Int32(num),
		Type:   typ.Enum(),
		Label:  descriptorpb.FieldDescriptorProto_LABEL_OPTIONAL.Enum(),
	}
	if typeName != "" {
		f.TypeName = proto.String("." + Package + "." + typeName)
	}
	return f
}

func repeated(f *descriptorpb.FieldDescriptorProto) *descriptorpb.FieldDescriptorProto {
	f.Label = descriptorpb.FieldDescriptorProto_LABEL_REPEATED.Enum()
	return f
}

func message(name string, fields ...*descriptorpb.FieldDescriptorProto) *descriptorpb.DescriptorProto {
	return &descriptorpb.DescriptorProto{Name: proto.String(name), Field: fields}
}

// FileProto returns the raw descriptor of pool/v1/devices.proto.
func FileProto() *descriptorpb.FileDescriptorProto {
	return &descriptorpb.FileDescriptorProto{
		Name:    proto.String("pool/v1/devices.proto"),
		Package: proto.String(Package),
		Syntax:  proto.String("proto3"),
		EnumType: []*descriptorpb.EnumDescriptorProto{{
			Name: proto.String("Mode"),
			Value: []*descriptorpb.EnumValueDescriptorProto{
				{Name: proto.String("MODE_UNSPECIFIED"), Number: proto.Int32(0)},
				{Name: proto.String("MODE_SOLID"), Number: proto.Int32(1)},
				{Name: proto.String("MODE_CYCLE"), Number: proto.Int32(2)},
			},
		}},
		MessageType: []*descriptorpb.DescriptorProto{
			// Common
			message("DeviceInformation",
				field("serial_number", 1, tString, ""),
				field("category", 2, tString, ""),
				field("product_name", 3, tString, ""),
				field("firmware_version", 4, tString, ""),
				field("uptime_seconds", 5, tUint32, ""),
			),
			message("Setting",
				field("key", 1, tString, ""),
				field("value", 2, tString, ""),
			),
			message("DeviceConfiguration",
				field("serial_number", 1, tString, ""),
				field("telemetry_interval", 2, tUint32, ""),
				repeated(field("settings", 3, tMessage, "Setting")),
			),
			message("DeviceError",
				field("code", 1, tInt32, ""),
				field("message", 2, tString, ""),
			),
			message("GetDeviceInformation"),
			message("SetTelemetryInterval",
				field("interval_seconds", 1, tUint32, ""),
			),
			message("CommonRequests",
				field("get_device_information", 1, tMessage, "GetDeviceInformation"),
				field("set_telemetry_interval", 2, tMessage, "SetTelemetryInterval"),
			),
			message("CommonCommandRequest",
				field("command_uuid", 1, tString, ""),
				field("common", 2, tMessage, "CommonRequests"),
			),

			// Sanitizer
			message("Accelerometer",
				field("x", 1, tInt32, ""),
				field("y", 2, tInt32, ""),
				field("z", 3, tInt32, ""),
			),
			message("SanitizerTelemetry",
				field("rssi", 1, tInt32, ""),
				field("ppm_salt", 2, tInt32, ""),
				field("percentage_output", 3, tInt32, ""),
				field("is_cell_flow_reversed", 4, tBool, ""),
				field("cell_temperature", 5, tFloat, ""),
				field("accelerometer", 6, tMessage, "Accelerometer"),
				repeated(field("fault_codes", 7, tUint32, "")),
			),
			message("SetOutputPercentage",
				field("target_percentage", 1, tInt32, ""),
			),
			message("GetStatus"),
			message("SanitizerRequests",
				field("set_sanitizer_output_percentage", 1, tMessage, "SetOutputPercentage"),
				field("get_status", 2, tMessage, "GetStatus"),
			),
			message("SanitizerCommandRequest",
				field("command_uuid", 1, tString, ""),
				field("sanitizer", 2, tMessage, "SanitizerRequests"),
			),
			message("SetOutputPercentageResponse",
				field("percentage", 1, tInt32, ""),
				field("status", 2, tString, ""),
			),
			message("SanitizerResponses",
				field("set_sanitizer_output_percentage", 1, tMessage, "SetOutputPercentageResponse"),
			),
			message("SanitizerCommandResponse",
				field("command_uuid", 1, tString, ""),
				field("sanitizer", 2, tMessage, "SanitizerResponses"),
			),

			// ICL lighting
			message("LightZone",
				field("address", 1, tUint32, ""),
				repeated(field("levels", 2, tInt32, "")),
			),
			message("LightTelemetry",
				field("brightness", 1, tInt32, ""),
				repeated(field("zones", 2, tMessage, "LightZone")),
				field("mode", 3, tEnum, "Mode"),
			),
			message("SetDeviceName",
				field("name", 1, tString, ""),
			),
			message("ConfigureChannels",
				repeated(field("channels", 1, tUint32, "")),
				repeated(field("enabled", 2, tBool, "")),
				field("gain", 3, tDouble, ""),
				field("offset", 4, tInt64, ""),
				field("token", 5, tBytes, ""),
				repeated(field("labels", 6, tString, "")),
				field("trim", 7, tSint32, ""),
				field("ratio", 8, tFloat, ""),
				field("counter", 9, tUint64, ""),
				field("mode", 10, tEnum, "Mode"),
				field("extra", 11, tMessage, "Setting"),
				repeated(field("extras", 12, tMessage, "Setting")),
				field("invert", 13, tBool, ""),
			),
			message("Identify"),
			message("LightRequests",
				field("set_device_name", 1, tMessage, "SetDeviceName"),
				field("configure_channels", 2, tMessage, "ConfigureChannels"),
				field("identify", 3, tMessage, "Identify"),
			),
			message("LightCommandRequest",
				field("command_uuid", 1, tString, ""),
				field("icl", 2, tMessage, "LightRequests"),
			),

			// Self-referential, for depth bounds.
			message("Node",
				field("name", 1, tString, ""),
				field("child", 2, tMessage, "Node"),
			),
		},
	}
}

var (
	filesOnce sync.Once
	files     *protoregistry.Files
)

// Files returns a registry holding the test file. The registry is built
// once so descriptors from every call are identical.
func Files() *protoregistry.Files {
	filesOnce.Do(func() {
		fd, err := protodesc.NewFile(FileProto(), nil)
		if err != nil {
			panic("schematest: " + err.Error())
		}
		files = new(protoregistry.Files)
		if err := files.RegisterFile(fd); err != nil {
			panic("schematest: " + err.Error())
		}
	})
	return files
}

// DescriptorSet returns the test file as a serialized FileDescriptorSet,
// the format produced by protoc --descriptor_set_out.
func DescriptorSet() []byte {
	set := &descriptorpb.FileDescriptorSet{File: []*descriptorpb.FileDescriptorProto{FileProto()}}
	data, err := proto.Marshal(set)
	if err != nil {
		panic("schematest: " + err.Error())
	}
	return data
}

// Message returns the descriptor of a message in the test package.
func Message(name string) protoreflect.MessageDescriptor {
	d, err := Files().FindDescriptorByName(protoreflect.FullName(Package + "." + name))
	if err != nil {
		panic("schematest: " + err.Error())
	}
	return d.(protoreflect.MessageDescriptor)
}

// Config returns a schema config wired to the test messages. ICL has no
// command response schema, so that path is exercised as "no schema".
func Config() config.SchemaConfig {
	return config.SchemaConfig{
		DescriptorSet:    "testdata/devices.binpb",
		TransactionField: "command_uuid",
		Announcement:     Package + ".DeviceInformation",
		Info:             Package + ".DeviceConfiguration",
		DeviceError:      Package + ".DeviceError",
		Identity: config.IdentityFieldsConfig{
			Serial:      "serial_number",
			Category:    "category",
			ProductName: "product_name",
		},
		Families: []config.FamilyConfig{
			{
				Name:      "icl",
				Keywords:  []string{"dct", "digitalcontroller", "icl", "infinite color"},
				Telemetry: Package + ".LightTelemetry",
				Commands: []config.CommandSourceConfig{
					{Request: Package + ".CommonCommandRequest", Group: "common"},
					{Request: Package + ".LightCommandRequest", Group: "icl"},
				},
			},
			{
				Name:            "sanitizer",
				Keywords:        []string{"sanitizer"},
				Telemetry:       Package + ".SanitizerTelemetry",
				CommandResponse: Package + ".SanitizerCommandResponse",
				Commands: []config.CommandSourceConfig{
					{Request: Package + ".CommonCommandRequest", Group: "common"},
					{Request: Package + ".SanitizerCommandRequest", Group: "sanitizer"},
				},
			},
		},
	}
}
