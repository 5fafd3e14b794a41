// Package rpc builds gRPC service descriptors for services whose messages are google.protobuf.Struct and
// google.protobuf.Empty, so no generated code is needed.
package rpc

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"
)

// FullMethod returns the "/service/method" name used by interceptors and clients.
func FullMethod(service, method string) string {
	return "/" + service + "/" + method
}

// Unary describes one unary method. S is the server interface registered with the ServiceDesc.
func Unary[S any, Req proto.Message](service, method string, newReq func() Req, call func(S, context.Context, Req) (proto.Message, error)) grpc.MethodDesc {
	fullMethod := FullMethod(service, method)
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
			in := newReq()
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(S), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			handler := func(ctx context.Context, req interface{}) (interface{}, error) {
				return call(srv.(S), ctx, req.(Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// NewStruct returns an empty request or response body.
func NewStruct() *structpb.Struct { return &structpb.Struct{Fields: map[string]*structpb.Value{}} }

// NewEmpty returns an empty message.
func NewEmpty() *emptypb.Empty { return &emptypb.Empty{} }

// String returns the string field key of s, or "" when absent or not a string.
func String(s *structpb.Struct, key string) string {
	return s.GetFields()[key].GetStringValue()
}

// Fields builds a response body. Supported values are string, bool, time.Time (RFC 3339, omitted when
// zero), *time.Time (null when nil), []*structpb.Value and *structpb.Struct.
func Fields(kv map[string]interface{}) *structpb.Struct {
	out := NewStruct()
	for k, v := range kv {
		switch v := v.(type) {
		case string:
			out.Fields[k] = structpb.NewStringValue(v)
		case bool:
			out.Fields[k] = structpb.NewBoolValue(v)
		case time.Time:
			if !v.IsZero() {
				out.Fields[k] = structpb.NewStringValue(v.UTC().Format(time.RFC3339))
			}
		case *time.Time:
			if v == nil {
				out.Fields[k] = structpb.NewNullValue()
			} else {
				out.Fields[k] = structpb.NewStringValue(v.UTC().Format(time.RFC3339))
			}
		case []*structpb.Value:
			out.Fields[k] = structpb.NewListValue(&structpb.ListValue{Values: v})
		case *structpb.Struct:
			out.Fields[k] = structpb.NewStructValue(v)
		}
	}
	return out
}
