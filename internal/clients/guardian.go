package clients

import (
	"context"
	"crypto/tls"
	"fmt"

	publicrpcv1 "github.com/certusone/wormhole/node/pkg/proto/publicrpc/v1"
	"github.com/wormhole-demo/portal-transfer/internal"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
)

// GuardianClient fetches signed VAAs from a guardian public RPC endpoint.
type GuardianClient struct {
	conn   *grpc.ClientConn
	client publicrpcv1.PublicRPCServiceClient
	logger *zap.Logger
}

// NewGuardianClient dials a guardian gRPC endpoint. Plaintext is only meant
// for local devnets.
func NewGuardianClient(logger *zap.Logger, endpoint string, plaintext bool) (*GuardianClient, error) {
	client := &GuardianClient{
		logger: logger.With(zap.String("component", "GuardianClient")),
	}

	creds := credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	if plaintext {
		creds = insecure.NewCredentials()
	}

	client.logger.Info("Connecting to guardian RPC", zap.String("endpoint", endpoint), zap.Bool("plaintext", plaintext))
	conn, err := grpc.NewClient(endpoint, grpc.WithTransportCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to guardian RPC: %v", err)
	}

	client.conn = conn
	client.client = publicrpcv1.NewPublicRPCServiceClient(conn)
	return client, nil
}

// NewGuardianClientFrom wraps an existing public RPC client.
func NewGuardianClientFrom(logger *zap.Logger, rpc publicrpcv1.PublicRPCServiceClient) *GuardianClient {
	return &GuardianClient{
		client: rpc,
		logger: logger.With(zap.String("component", "GuardianClient")),
	}
}

// Close closes the connection to the guardian.
func (c *GuardianClient) Close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

// GetSignedVAA implements internal.AttestationService. Every call is a single
// request; retries belong to the caller.
func (c *GuardianClient) GetSignedVAA(ctx context.Context, key internal.MessageKey) (internal.Attestation, error) {
	c.logger.Debug("Requesting signed VAA", zap.Stringer("messageKey", key))

	resp, err := c.client.GetSignedVAA(ctx, &publicrpcv1.GetSignedVAARequest{
		MessageId: &publicrpcv1.MessageID{
			EmitterChain:   publicrpcv1.ChainID(key.EmitterChain),
			EmitterAddress: key.EmitterHex(),
			Sequence:       key.Sequence,
		},
	})
	if err != nil {
		return nil, classifyGRPCError(key, err)
	}
	if len(resp.VaaBytes) == 0 {
		return nil, fmt.Errorf("%w: empty VAA for %s", internal.ErrAttestationNotReady, key)
	}
	return internal.Attestation(resp.VaaBytes), nil
}

func classifyGRPCError(key internal.MessageKey, err error) error {
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("guardian RPC for %s: %w", key, err)
	}
	switch st.Code() {
	case codes.NotFound:
		return fmt.Errorf("%w: %s", internal.ErrAttestationNotReady, st.Message())
	case codes.InvalidArgument, codes.PermissionDenied, codes.Unimplemented:
		return fmt.Errorf("%w: %s: %s", internal.ErrAttestationRejected, st.Code(), st.Message())
	}
	// Unavailable, DeadlineExceeded, ResourceExhausted and the rest are transient.
	return fmt.Errorf("guardian RPC for %s: %s: %s", key, st.Code(), st.Message())
}
