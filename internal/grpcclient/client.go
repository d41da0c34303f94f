package grpcclient

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/example/liveness-check/internal/logging"
	"github.com/example/liveness-check/internal/scorer"
)

// ScoreMethod is the full gRPC method name served by the scorer.
const ScoreMethod = "/liveness.v1.Scorer/ScoreFaceScan"

// DialScorer returns a ready-to-use gRPC client for the liveness scorer.
func DialScorer(ctx context.Context, addr string, logger *zap.Logger) (scorer.Client, *grpc.ClientConn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	conn, err := grpc.DialContext(
		dialCtx,
		addr,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithBlock(),
	)
	if err != nil {
		wrapped := logging.NewOperationError("grpcclient.dial_scorer", "", err)
		logger.Error("failed to dial liveness scorer", zap.Error(wrapped), zap.String("addr", addr))
		return nil, nil, wrapped
	}
	return NewScorer(conn, logger), conn, nil
}

// NewScorer wraps an existing connection.
func NewScorer(conn grpc.ClientConnInterface, logger *zap.Logger) scorer.Client {
	return &grpcScorer{conn: conn, logger: logger.Named("scorer_client")}
}

type grpcScorer struct {
	conn   grpc.ClientConnInterface
	logger *zap.Logger
}

func (g *grpcScorer) Score(ctx context.Context, req scorer.Request) (*scorer.Result, error) {
	in, err := structpb.NewStruct(map[string]any{
		"sessionId":                 req.SessionID,
		"deviceKey":                 req.DeviceKey,
		"faceScan":                  req.FaceScan,
		"auditTrailImage":           req.AuditTrailImage,
		"lowQualityAuditTrailImage": req.LowQualityAuditTrailImage,
	})
	if err != nil {
		return nil, logging.NewOperationError("grpcclient.score_face_scan", req.SessionID, err)
	}

	out := &structpb.Struct{}
	if err := g.conn.Invoke(ctx, ScoreMethod, in, out); err != nil {
		wrapped := logging.NewOperationError("grpcclient.score_face_scan", req.SessionID, err)
		g.logger.Error("liveness scorer call failed", zap.Error(wrapped), zap.String("session_id", req.SessionID))
		return nil, wrapped
	}
	return decodeResult(out)
}

func decodeResult(out *structpb.Struct) (*scorer.Result, error) {
	fields := out.GetFields()
	processed, ok := fields["processed"]
	if !ok {
		return nil, fmt.Errorf("scorer response missing processed field")
	}
	return &scorer.Result{
		Processed: processed.GetBoolValue(),
		Score:     float32(fields["score"].GetNumberValue()),
		Message:   fields["message"].GetStringValue(),
	}, nil
}
