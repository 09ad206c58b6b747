package probe

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCProbe calls the standard gRPC health service.
type GRPCProbe struct {
	service string
	conn    *grpc.ClientConn
	client  healthpb.HealthClient
}

// NewGRPCProbe creates a probe for endpoint. An empty service checks the whole server.
func NewGRPCProbe(endpoint, service string) (*GRPCProbe, error) {
	target := endpoint
	var opts []grpc.DialOption

	if strings.HasPrefix(endpoint, "https://") || strings.HasSuffix(endpoint, ":443") {
		creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
		opts = append(opts, grpc.WithTransportCredentials(creds))
		target = strings.TrimPrefix(target, "https://")
	} else {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
		target = strings.TrimPrefix(target, "http://")
	}

	// The connection is established lazily on the first Check
	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create grpc client for %s: %w", target, err)
	}

	return &GRPCProbe{
		service: service,
		conn:    conn,
		client:  healthpb.NewHealthClient(conn),
	}, nil
}

func (p *GRPCProbe) Check(ctx context.Context) (bool, error) {
	resp, err := p.client.Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		return false, fmt.Errorf("grpc health check failed: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return false, fmt.Errorf("grpc service %q is %s", p.service, resp.GetStatus())
	}
	return true, nil
}

// Close cleans up resources.
func (p *GRPCProbe) Close() error {
	return p.conn.Close()
}
