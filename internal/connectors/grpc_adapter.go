// Package connectors talks to services outside the process.
package connectors

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/shopspring/decimal"
	"github.com/xela07ax/agentspend/internal/domain"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const (
	oracleService = "pricing.v1.PriceOracle"
	quoteMethod   = "/" + oracleService + "/Quote"

	defaultRetryAfter = time.Second
)

type QuoteRequest struct {
	AgentID        string
	Tier           domain.Tier
	Description    string
	MerchantIDs    []string
	HistoryAverage decimal.Decimal
}

type Quote struct {
	MerchantID string
	Price      decimal.Decimal
}

// GRPCPricer asks a remote price oracle for the best merchant and price.
// Messages travel as google.protobuf.Struct, so no generated stubs are needed.
type GRPCPricer struct {
	conn    grpc.ClientConnInterface
	timeout time.Duration
}

func NewGRPCPricer(conn grpc.ClientConnInterface, timeout time.Duration) *GRPCPricer {
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &GRPCPricer{conn: conn, timeout: timeout}
}

// DialOracle opens a plaintext client connection; the oracle is expected on a private network.
func DialOracle(addr string) (*grpc.ClientConn, error) {
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, fmt.Errorf("connectors: dial oracle %s: %w", addr, err)
	}
	return conn, nil
}

func (p *GRPCPricer) Quote(ctx context.Context, req QuoteRequest) (Quote, error) {
	ids := make([]any, len(req.MerchantIDs))
	for i, id := range req.MerchantIDs {
		ids[i] = id
	}
	in, err := structpb.NewStruct(map[string]any{
		"agent_id":        req.AgentID,
		"tier":            string(req.Tier),
		"description":     req.Description,
		"merchant_ids":    ids,
		"history_average": req.HistoryAverage.InexactFloat64(),
	})
	if err != nil {
		return Quote{}, fmt.Errorf("connectors: failed to create proto struct: %w", err)
	}

	// The adapter keeps its own ceiling even when the caller set a deadline.
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	out := &structpb.Struct{}
	var header, trailer metadata.MD
	if err := p.conn.Invoke(ctx, quoteMethod, in, out, grpc.Header(&header), grpc.Trailer(&trailer)); err != nil {
		return Quote{}, classify(err, metadata.Join(header, trailer))
	}

	return decodeQuote(out)
}

func decodeQuote(out *structpb.Struct) (Quote, error) {
	fields := out.GetFields()
	merchantID := fields["merchant_id"].GetStringValue()
	if merchantID == "" {
		return Quote{}, fmt.Errorf("connectors: oracle returned no merchant: %w", domain.ErrNoEligibleMerchant)
	}

	var price decimal.Decimal
	switch v := fields["price"].GetKind().(type) {
	case *structpb.Value_NumberValue:
		price = decimal.NewFromFloat(v.NumberValue)
	case *structpb.Value_StringValue:
		d, err := decimal.NewFromString(v.StringValue)
		if err != nil {
			return Quote{}, fmt.Errorf("connectors: bad price %q: %w", v.StringValue, domain.ErrDependency)
		}
		price = d
	default:
		return Quote{}, fmt.Errorf("connectors: oracle returned no price: %w", domain.ErrDependency)
	}
	if !price.IsPositive() {
		return Quote{}, fmt.Errorf("connectors: non-positive price %s: %w", price, domain.ErrDependency)
	}
	return Quote{MerchantID: merchantID, Price: price.Round(2)}, nil
}

// classify maps gRPC status codes onto retry and domain semantics.
// md carries response headers and trailers; retry-after may sit in either.
func classify(err error, md metadata.MD) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("connectors: oracle call: %w: %w", domain.ErrDependency, err)
	}
	st, ok := status.FromError(err)
	if !ok {
		return fmt.Errorf("connectors: oracle call failed: %w: %w", domain.ErrDependency, err)
	}
	switch st.Code() {
	case codes.ResourceExhausted:
		return &ThrottleError{RetryAfter: retryAfter(md), Cause: fmt.Errorf("%w: %s", domain.ErrDependency, st.Message())}
	case codes.NotFound, codes.FailedPrecondition:
		return fmt.Errorf("connectors: %s: %w", st.Message(), domain.ErrNoEligibleMerchant)
	}
	return fmt.Errorf("connectors: oracle returned %s (%s): %w", st.Code(), st.Message(), domain.ErrDependency)
}

func retryAfter(md metadata.MD) time.Duration {
	vals := md.Get("retry-after")
	if len(vals) == 0 {
		return defaultRetryAfter
	}
	if secs, err := strconv.Atoi(vals[0]); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if d, err := time.ParseDuration(vals[0]); err == nil {
		return d
	}
	return defaultRetryAfter
}
