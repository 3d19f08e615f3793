package grpc

import (
	"fmt"

	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/reflect/protodesc"
	"google.golang.org/protobuf/reflect/protoreflect"
	"google.golang.org/protobuf/reflect/protoregistry"
	"google.golang.org/protobuf/types/descriptorpb"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// ProtoFile is the path of the Lookup service definition, as registered with
// the global protobuf registry and served by reflection.
const ProtoFile = "geolookup/v1/lookup.proto"

// LookupFileDescriptor mirrors proto/geolookup/v1/lookup.proto.
var LookupFileDescriptor protoreflect.FileDescriptor

func init() {
	fd, err := buildFileDescriptor()
	if err != nil {
		panic(fmt.Sprintf("geolookup: %s: %v", ProtoFile, err))
	}
	if err := protoregistry.GlobalFiles.RegisterFile(fd); err != nil {
		panic(fmt.Sprintf("geolookup: register %s: %v", ProtoFile, err))
	}
	LookupFileDescriptor = fd
}

func buildFileDescriptor() (protoreflect.FileDescriptor, error) {
	deps := []protoreflect.FileDescriptor{
		emptypb.File_google_protobuf_empty_proto,
		structpb.File_google_protobuf_struct_proto,
		wrapperspb.File_google_protobuf_wrappers_proto,
	}
	paths := make([]string, len(deps))
	for i, d := range deps {
		paths[i] = d.Path()
	}

	file := &descriptorpb.FileDescriptorProto{
		Name:       proto.String(ProtoFile),
		Package:    proto.String("geolookup.v1"),
		Dependency: paths,
		Syntax:     proto.String("proto3"),
		Options: &descriptorpb.FileOptions{
			GoPackage: proto.String("github.com/TomasB/geolookup/internal/handler/grpc"),
		},
		Service: []*descriptorpb.ServiceDescriptorProto{{
			Name: proto.String("Lookup"),
			Method: []*descriptorpb.MethodDescriptorProto{
				{
					Name:       proto.String("Lookup"),
					InputType:  proto.String(".google.protobuf.StringValue"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
				{
					Name:       proto.String("LookupSelf"),
					InputType:  proto.String(".google.protobuf.Empty"),
					OutputType: proto.String(".google.protobuf.Struct"),
				},
			},
		}},
	}

	return protodesc.NewFile(file, protoregistry.GlobalFiles)
}
