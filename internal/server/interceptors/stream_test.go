package interceptors

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// fakeStream records headers set through grpc.SetHeader.
type fakeStream struct {
	method string
	header metadata.MD
}

func (s *fakeStream) Method() string { return s.method }

func (s *fakeStream) SetHeader(md metadata.MD) error {
	s.header = metadata.Join(s.header, md)
	return nil
}

func (s *fakeStream) SendHeader(md metadata.MD) error { return s.SetHeader(md) }

func (s *fakeStream) SetTrailer(md metadata.MD) error { return nil }

func newStreamContext(ctx context.Context, method string) (context.Context, *fakeStream) {
	s := &fakeStream{method: method, header: metadata.MD{}}
	return grpc.NewContextWithServerTransportStream(ctx, s), s
}
