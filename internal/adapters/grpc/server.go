package grpc

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/application"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/contracts"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/domain"
	"github.com/viralforge/mesh/services/trust-compliance/M91-license-service/internal/ports"
)

const serviceName = "viralforge.license.v1.LicenseRegistryInternal"

type LicenseRegistryInternal interface {
	CreateLicense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RevokeLicense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetLicense(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetGuard(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// LicenseRegistryServer exposes the registry to other mesh services. Payloads
// are structpb documents shaped like the HTTP JSON bodies.
type LicenseRegistryServer struct {
	service  *application.Service
	verifier ports.IdentityVerifier
}

func NewLicenseRegistryServer(service *application.Service, verifier ports.IdentityVerifier) *LicenseRegistryServer {
	return &LicenseRegistryServer{service: service, verifier: verifier}
}

func Register(server grpc.ServiceRegistrar, svc LicenseRegistryInternal) {
	server.RegisterService(&grpc.ServiceDesc{
		ServiceName: serviceName,
		HandlerType: (*LicenseRegistryInternal)(nil),
		Methods: []grpc.MethodDesc{
			{MethodName: "CreateLicense", Handler: unaryHandler("CreateLicense", svc.CreateLicense)},
			{MethodName: "RevokeLicense", Handler: unaryHandler("RevokeLicense", svc.RevokeLicense)},
			{MethodName: "GetLicense", Handler: unaryHandler("GetLicense", svc.GetLicense)},
			{MethodName: "GetGuard", Handler: unaryHandler("GetGuard", svc.GetGuard)},
		},
		Streams:  []grpc.StreamDesc{},
		Metadata: "mesh/contracts/proto/license/v1/license_internal.proto",
	}, svc)
}

func (s *LicenseRegistryServer) CreateLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	var body contracts.CreateLicenseRequest
	if err := decodeStruct(req, &body); err != nil {
		return nil, err
	}
	in, err := body.Input()
	if err != nil {
		return nil, toStatus(err)
	}
	license, err := s.service.CreateLicense(ctx, actor, in)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(contracts.NewLicenseResponse(license))
}

func (s *LicenseRegistryServer) RevokeLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	actor, err := s.actor(ctx)
	if err != nil {
		return nil, err
	}
	licenseID, err := licenseIDField(req)
	if err != nil {
		return nil, err
	}
	license, err := s.service.RevokeLicense(ctx, actor, licenseID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(contracts.NewLicenseResponse(license))
}

func (s *LicenseRegistryServer) GetLicense(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	licenseID, err := licenseIDField(req)
	if err != nil {
		return nil, err
	}
	license, err := s.service.GetLicense(ctx, licenseID)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(contracts.NewLicenseResponse(license))
}

func (s *LicenseRegistryServer) GetGuard(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	asset, err := domain.ParseAssetHash(req.GetFields()["asset_hash"].GetStringValue())
	if err != nil {
		return nil, toStatus(err)
	}
	guard, err := s.service.GetGuard(ctx, asset)
	if err != nil {
		return nil, toStatus(err)
	}
	return encodeStruct(contracts.NewGuardResponse(guard))
}

// actor resolves the caller from the authorization metadata entry.
func (s *LicenseRegistryServer) actor(ctx context.Context) (application.Actor, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	var raw string
	if values := md.Get("authorization"); len(values) > 0 {
		raw = strings.TrimSpace(strings.TrimPrefix(values[0], "Bearer "))
	}
	if raw == "" || s.verifier == nil {
		return application.Actor{}, status.Error(codes.Unauthenticated, "missing bearer token")
	}
	claims, err := s.verifier.Verify(ctx, raw)
	if err != nil {
		return application.Actor{}, status.Error(codes.Unauthenticated, "invalid token")
	}
	actor := application.Actor{Wallet: claims.Wallet}
	if ids := md.Get("x-request-id"); len(ids) > 0 {
		actor.RequestID = ids[0]
	}
	return actor, nil
}

func licenseIDField(req *structpb.Struct) (domain.RecordID, error) {
	raw := req.GetFields()["license_id"].GetStringValue()
	if raw == "" {
		return domain.RecordID{}, status.Error(codes.InvalidArgument, "missing license_id")
	}
	id, err := domain.ParseRecordID(raw)
	if err != nil {
		return domain.RecordID{}, toStatus(err)
	}
	return id, nil
}

// decodeStruct maps a structpb document onto a JSON-tagged request type.
func decodeStruct(req *structpb.Struct, dst any) error {
	raw, err := json.Marshal(req.AsMap())
	if err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return status.Errorf(codes.InvalidArgument, "decode request: %v", err)
	}
	return nil
}

func encodeStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	var fields map[string]any
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	resp, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "build response: %v", err)
	}
	return resp, nil
}

func toStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrFieldTooLong), errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrUnauthorized):
		return status.Error(codes.Unauthenticated, "invalid or missing credentials")
	case errors.Is(err, domain.ErrUnauthorizedRevoker), errors.Is(err, domain.ErrForbidden):
		return status.Error(codes.PermissionDenied, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		return status.Error(codes.NotFound, "resource not found")
	case errors.Is(err, domain.ErrExclusiveLicenseExists), errors.Is(err, domain.ErrLicenseExists):
		return status.Error(codes.AlreadyExists, err.Error())
	case errors.Is(err, domain.ErrAlreadyRevoked), errors.Is(err, domain.ErrGuardMismatch):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrConflict):
		return status.Error(codes.Aborted, "concurrent update, retry the request")
	case errors.Is(err, domain.ErrRateLimited):
		return status.Error(codes.ResourceExhausted, "too many requests")
	default:
		return status.Error(codes.Internal, "internal error")
	}
}

func unaryHandler(method string, call func(context.Context, *structpb.Struct) (*structpb.Struct, error)) func(any, context.Context, func(any) error, grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		req := &structpb.Struct{}
		if err := dec(req); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(ctx, req)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + serviceName + "/" + method,
		}
		handler := func(ctx context.Context, req any) (any, error) {
			typed, ok := req.(*structpb.Struct)
			if !ok {
				return nil, status.Error(codes.InvalidArgument, "invalid request type")
			}
			return call(ctx, typed)
		}
		return interceptor(ctx, req, info, handler)
	}
}
