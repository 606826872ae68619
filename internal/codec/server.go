package codec

import (
	"context"
	"errors"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/danielpatrickdp/photophys-triage/internal/descriptor"
)

// #region server
// storeServer exposes a descriptor.Store. Metadata and labels are served when
// the store also implements MetadataSource / LabelSource.
type storeServer struct {
	store  descriptor.Store
	meta   descriptor.MetadataSource
	labels descriptor.LabelSource
}

// Register serves store on s.
func Register(s grpc.ServiceRegistrar, store descriptor.Store) {
	srv := &storeServer{store: store}
	srv.meta, _ = store.(descriptor.MetadataSource)
	srv.labels, _ = store.(descriptor.LabelSource)
	RegisterDescriptorStoreServer(s, srv)
}

func (s *storeServer) GetFingerprint(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := requestKey(in)
	if err != nil {
		return nil, err
	}
	fp, err := s.store.Fingerprint(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":    structpb.NewStringValue(key),
		"length": structpb.NewNumberValue(float64(fp.Len())),
		"hex":    structpb.NewStringValue(fp.Hex()),
	}}, nil
}

func (s *storeServer) GetDescriptors(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := requestKey(in)
	if err != nil {
		return nil, err
	}
	vals, err := s.store.Descriptors(ctx, key)
	if err != nil {
		return nil, toStatus(err)
	}
	values := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(vals))}
	for f, v := range vals {
		values.Fields[f] = structpb.NewNumberValue(v)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":    structpb.NewStringValue(key),
		"values": structpb.NewStructValue(values),
	}}, nil
}

func (s *storeServer) GetMetadata(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	key, err := requestKey(in)
	if err != nil {
		return nil, err
	}
	out := &structpb.Struct{Fields: map[string]*structpb.Value{
		"key":          structpb.NewStringValue(key),
		"has_metadata": structpb.NewBoolValue(false),
	}}
	if s.meta != nil {
		missing, err := s.meta.Completeness(ctx, key)
		if err != nil {
			return nil, toStatus(err)
		}
		if missing != nil {
			m := &structpb.Struct{Fields: make(map[string]*structpb.Value, len(missing))}
			for f, v := range missing {
				m.Fields[f] = structpb.NewBoolValue(v)
			}
			out.Fields["has_metadata"] = structpb.NewBoolValue(true)
			out.Fields["missing"] = structpb.NewStructValue(m)
		}
	}
	if s.labels != nil {
		label, err := s.labels.Label(ctx, key)
		if err != nil {
			return nil, toStatus(err)
		}
		out.Fields["label"] = structpb.NewStringValue(label)
	}
	return out, nil
}

// #endregion server

// #region helpers
func requestKey(in *structpb.Struct) (string, error) {
	key := in.GetFields()["key"].GetStringValue()
	if key == "" {
		return "", status.Error(codes.InvalidArgument, "key is required")
	}
	return key, nil
}

func toStatus(err error) error {
	if errors.Is(err, descriptor.ErrNotFound) {
		return status.Error(codes.NotFound, err.Error())
	}
	return status.Error(codes.Internal, err.Error())
}

// #endregion helpers
