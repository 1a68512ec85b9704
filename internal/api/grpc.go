package api

import (
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name.
const ServiceName = "filekv"

// GRPCServer exposes the standard grpc.health.v1 service so orchestrators
// can probe the node. The key-value protocol itself stays on TCP.
type GRPCServer struct {
	srv    *grpc.Server
	health *health.Server
}

// NewGRPCServer creates a gRPC server reporting NOT_SERVING until
// SetServing(true) is called.
func NewGRPCServer() *GRPCServer {
	srv := grpc.NewServer()
	h := health.NewServer()
	healthpb.RegisterHealthServer(srv, h)
	reflection.Register(srv)

	g := &GRPCServer{srv: srv, health: h}
	g.SetServing(false)
	return g
}

// SetServing updates the status of both the overall server and ServiceName.
func (g *GRPCServer) SetServing(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus("", status)
	g.health.SetServingStatus(ServiceName, status)
}

// Serve blocks serving gRPC on ln.
func (g *GRPCServer) Serve(ln net.Listener) error {
	return g.srv.Serve(ln)
}

// Stop marks the node NOT_SERVING and drains in-flight RPCs.
func (g *GRPCServer) Stop() {
	g.health.Shutdown()
	g.srv.GracefulStop()
}
