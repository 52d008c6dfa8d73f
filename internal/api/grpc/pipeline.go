// Package grpc provides the gRPC API of the vibewatch service, as declared in
// api/proto/vibewatch/v1/pipeline.proto. Messages are google.protobuf.Struct
// values carrying the same JSON views as the HTTP API.
package grpc

import (
	"context"
	"errors"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/vibewatch/vibewatch/internal/api"
	vwerrors "github.com/vibewatch/vibewatch/internal/errors"
	"github.com/vibewatch/vibewatch/internal/logging"
	"github.com/vibewatch/vibewatch/internal/pipeline"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "vibewatch.v1.Pipeline"

// Full method names.
const (
	RunMethod    = "/" + ServiceName + "/Run"
	LatestMethod = "/" + ServiceName + "/Latest"
)

// PipelineServer is the server API of the pipeline service.
type PipelineServer interface {
	// Run starts a run over {"dataset_id": string, "force": bool}.
	Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	// Latest returns the latest successful run, or {"run_id": string}.
	Latest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

func unaryHandler(call func(PipelineServer, context.Context, *structpb.Struct) (*structpb.Struct, error), method string) func(interface{}, context.Context, func(interface{}) error, grpc.UnaryServerInterceptor) (interface{}, error) {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PipelineServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: method}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PipelineServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// ServiceDesc describes the pipeline service for grpc.Server registration.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PipelineServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Run", Handler: unaryHandler(PipelineServer.Run, RunMethod)},
		{MethodName: "Latest", Handler: unaryHandler(PipelineServer.Latest, LatestMethod)},
	},
	Metadata: "api/proto/vibewatch/v1/pipeline.proto",
}

// UnimplementedPipelineServer answers every method with codes.Unimplemented.
// Embed it so servers keep compiling when methods are added.
type UnimplementedPipelineServer struct{}

// Run implements PipelineServer.
func (UnimplementedPipelineServer) Run(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Run not implemented")
}

// Latest implements PipelineServer.
func (UnimplementedPipelineServer) Latest(context.Context, *structpb.Struct) (*structpb.Struct, error) {
	return nil, status.Error(codes.Unimplemented, "method Latest not implemented")
}

// RegisterPipelineServer registers srv on s.
func RegisterPipelineServer(s grpc.ServiceRegistrar, srv PipelineServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Server implements PipelineServer on a pipeline runner.
type Server struct {
	UnimplementedPipelineServer
	runner *pipeline.Runner
	logger *zap.Logger
}

// NewServer creates a pipeline server.
func NewServer(runner *pipeline.Runner, logger *zap.Logger) *Server {
	return &Server{runner: runner, logger: logging.OrNop(logger).With(zap.String("component", "grpc"))}
}

// Run handles vibewatch.v1.Pipeline/Run.
func (s *Server) Run(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)
	fields := req.GetFields()

	datasetID := fields["dataset_id"].GetStringValue()
	if datasetID == "" {
		return nil, status.Error(codes.InvalidArgument, "dataset_id is required")
	}
	force := fields["force"].GetBoolValue()

	res, err := s.runner.Run(ctx, pipeline.RunRequest{DatasetID: datasetID, Force: force})
	if err != nil {
		s.logger.Warn("run failed", zap.String("request_id", requestID), zap.Error(err))
		return nil, toStatus(err)
	}
	return respond(api.NewRunResponse(res), requestID)
}

// Latest handles vibewatch.v1.Pipeline/Latest.
func (s *Server) Latest(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	requestID := extractRequestID(ctx)

	var (
		res *pipeline.RunResult
		err error
	)
	if runID := req.GetFields()["run_id"].GetStringValue(); runID != "" {
		res, err = s.runner.Get(ctx, runID)
	} else {
		res, err = s.runner.Latest(ctx)
	}
	if err != nil {
		return nil, toStatus(err)
	}
	return respond(api.NewRunResponse(res), requestID)
}

func respond(resp api.RunResponse, requestID string) (*structpb.Struct, error) {
	m, err := api.AsMap(resp)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "render response: %v", err)
	}
	m["request_id"] = requestID
	out, err := structpb.NewStruct(m)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "render response: %v", err)
	}
	return out, nil
}

// toStatus maps a pipeline error to a gRPC status.
func toStatus(err error) error {
	switch vwerrors.GetCode(err) {
	case vwerrors.CodeRunNotFound, vwerrors.CodeObjectNotFound:
		return status.Error(codes.NotFound, err.Error())
	case vwerrors.CodeWriteConflict:
		return status.Error(codes.Aborted, err.Error())
	}
	switch vwerrors.GetCategory(err) {
	case vwerrors.ErrCategoryInput, vwerrors.ErrCategoryDataQuality:
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return status.Error(codes.DeadlineExceeded, err.Error())
	}
	if vwerrors.IsRetryable(err) {
		return status.Error(codes.Unavailable, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// extractRequestID extracts or generates a request ID from the gRPC context.
func extractRequestID(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if ids := md.Get("x-request-id"); len(ids) > 0 {
			return ids[0]
		}
	}
	return uuid.New().String()
}

// Client calls the pipeline service.
type Client struct {
	conn grpc.ClientConnInterface
}

// NewClient wraps a client connection.
func NewClient(conn grpc.ClientConnInterface) *Client {
	return &Client{conn: conn}
}

// Run starts a run over an uploaded dataset.
func (c *Client) Run(ctx context.Context, datasetID string, force bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in, err := structpb.NewStruct(map[string]interface{}{"dataset_id": datasetID, "force": force})
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, RunMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// Latest fetches the latest successful run, or runID when it is set.
func (c *Client) Latest(ctx context.Context, runID string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	fields := map[string]interface{}{}
	if runID != "" {
		fields["run_id"] = runID
	}
	in, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, err
	}
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, LatestMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
