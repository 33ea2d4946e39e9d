package transportgrpc

import (
	"context"

	"google.golang.org/grpc"
)

// serviceDesc binds each RPC name to a handler that decodes its request
// with the server's negotiated codec and calls straight through to the
// matching *Server method. This is the hand-rolled substitute for what
// protoc-gen-go-grpc would otherwise generate from a .proto file.
var serviceDesc = grpc.ServiceDesc{
	ServiceName: "modelrouter.ModelRouter",
	HandlerType: (*any)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Generate", Handler: generateHandler},
		{MethodName: "LoadModel", Handler: loadModelHandler},
		{MethodName: "UnloadModel", Handler: unloadModelHandler},
		{MethodName: "ListModels", Handler: listModelsHandler},
		{MethodName: "HealthCheck", Handler: healthCheckHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "modelrouter.proto",
}

func generateHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(GenerateRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).Generate(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/modelrouter.ModelRouter/Generate"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).Generate(ctx, req.(*GenerateRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func loadModelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ModelRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).LoadModel(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/modelrouter.ModelRouter/LoadModel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).LoadModel(ctx, req.(*ModelRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func unloadModelHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ModelRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).UnloadModel(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/modelrouter.ModelRouter/UnloadModel"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).UnloadModel(ctx, req.(*ModelRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func listModelsHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(ListModelsRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).ListModels(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/modelrouter.ModelRouter/ListModels"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).ListModels(ctx, req.(*ListModelsRequest))
	}
	return interceptor(ctx, req, info, handler)
}

func healthCheckHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	req := new(HealthCheckRequest)
	if err := dec(req); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(*Server).HealthCheck(ctx, req)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/modelrouter.ModelRouter/HealthCheck"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(*Server).HealthCheck(ctx, req.(*HealthCheckRequest))
	}
	return interceptor(ctx, req, info, handler)
}
