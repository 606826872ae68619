// Package codec serves and consumes the descriptor collaborator over gRPC.
// Messages are google.protobuf.Struct, so no generated stubs are needed.
package codec

import (
	"context"
	"fmt"
	"math"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
	"github.com/danielpatrickdp/photophys-triage/internal/fingerprint"
)

// #region client-struct
// Client implements descriptor.Store, MetadataSource and LabelSource against
// a remote descriptor store.
type Client struct {
	conn   *grpc.ClientConn
	client DescriptorStoreClient
}

var (
	_ descriptor.Store          = (*Client)(nil)
	_ descriptor.MetadataSource = (*Client)(nil)
	_ descriptor.LabelSource    = (*Client)(nil)
)

// #endregion client-struct

// #region constructor
// NewClient connects to a descriptor store at addr.
func NewClient(addr string, opts ...grpc.DialOption) (*Client, error) {
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}, opts...)
	conn, err := grpc.NewClient(addr, opts...)
	if err != nil {
		return nil, fmt.Errorf("grpc dial %s: %w", addr, err)
	}
	return &Client{
		conn:   conn,
		client: NewDescriptorStoreClient(conn),
	}, nil
}

// NewClientWithService creates a Client with an injected service implementation.
// Used for testing without a real gRPC connection.
func NewClientWithService(svc DescriptorStoreClient) *Client {
	return &Client{client: svc}
}

// #endregion constructor

// #region close
// Close shuts down the gRPC connection.
func (c *Client) Close() error {
	if c.conn == nil {
		return nil
	}
	return c.conn.Close()
}

// #endregion close

// #region fingerprint
// Fingerprint fetches the fingerprint for key.
func (c *Client) Fingerprint(ctx context.Context, key string) (*fingerprint.Fingerprint, error) {
	resp, err := c.client.GetFingerprint(ctx, keyRequest(key))
	if err != nil {
		return nil, fromStatus(err, key, "fingerprint")
	}
	fields := resp.GetFields()
	n := fields["length"].GetNumberValue()
	if n < 1 || n > math.MaxUint32 || n != math.Trunc(n) {
		return nil, fmt.Errorf("decode fingerprint %s: invalid length %v", key, n)
	}
	fp, err := fingerprint.FromHex(fields["hex"].GetStringValue(), uint(n))
	if err != nil {
		return nil, fmt.Errorf("decode fingerprint %s: %w", key, err)
	}
	return fp, nil
}

// #endregion fingerprint

// #region descriptors
// Descriptors fetches the physical descriptors for key. Fields the server
// sends as null are treated as missing.
func (c *Client) Descriptors(ctx context.Context, key string) (descriptor.Values, error) {
	resp, err := c.client.GetDescriptors(ctx, keyRequest(key))
	if err != nil {
		return nil, fromStatus(err, key, "descriptors")
	}
	raw := resp.GetFields()["values"].GetStructValue().GetFields()
	vals := make(descriptor.Values, len(raw))
	for f, v := range raw {
		if n, ok := v.GetKind().(*structpb.Value_NumberValue); ok {
			vals[f] = n.NumberValue
		}
	}
	return vals, nil
}

// #endregion descriptors

// #region metadata
// Completeness fetches which critical experimental fields are missing for key.
func (c *Client) Completeness(ctx context.Context, key string) (map[string]bool, error) {
	resp, err := c.client.GetMetadata(ctx, keyRequest(key))
	if err != nil {
		return nil, fromStatus(err, key, "metadata")
	}
	fields := resp.GetFields()
	if !fields["has_metadata"].GetBoolValue() {
		return nil, nil
	}
	raw := fields["missing"].GetStructValue().GetFields()
	out := make(map[string]bool, len(raw))
	for f, v := range raw {
		out[f] = v.GetBoolValue()
	}
	return out, nil
}

// Label fetches the mechanism label for key.
func (c *Client) Label(ctx context.Context, key string) (string, error) {
	resp, err := c.client.GetMetadata(ctx, keyRequest(key))
	if err != nil {
		return "", fromStatus(err, key, "label")
	}
	return resp.GetFields()["label"].GetStringValue(), nil
}

// #endregion metadata

// #region helpers
func keyRequest(key string) *structpb.Struct {
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key": structpb.NewStringValue(key),
	}}
}

func fromStatus(err error, key, what string) error {
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%s %s: %w", key, what, descriptor.ErrNotFound)
	}
	return fmt.Errorf("get %s rpc: %w", what, err)
}

// #endregion helpers
