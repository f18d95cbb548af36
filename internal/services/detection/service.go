// Package detection adapts external object detectors to typed detections.
package detection

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/connectivity"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/protobuf/types/known/structpb"

	"ppe-safety-worker/internal/models"
)

// FrameEncoder turns a raw frame into the compressed bytes sent to a
// remote detector
type FrameEncoder interface {
	Encode(frame *models.RawFrame) ([]byte, error)
}

// GRPCOptions configures a remote detector
type GRPCOptions struct {
	Name        string
	Endpoint    string
	Method      string
	Timeout     time.Duration
	Labels      []string
	DialOptions []grpc.DialOption
}

// GRPCDetector calls a unary gRPC method that takes and returns a
// google.protobuf.Struct. The request carries the JPEG frame as base64 and
// the response lists detections under "detections".
type GRPCDetector struct {
	opts    GRPCOptions
	encoder FrameEncoder

	mu       sync.RWMutex
	conn     *grpc.ClientConn
	endpoint string

	// Retry management
	lastFailTime     time.Time
	consecutiveFails int
	maxRetryBackoff  time.Duration
}

func NewGRPCDetector(opts GRPCOptions, encoder FrameEncoder) *GRPCDetector {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Second
	}
	if opts.Method == "" {
		opts.Method = "/detection.Detector/Detect"
	}
	return &GRPCDetector{
		opts:            opts,
		encoder:         encoder,
		maxRetryBackoff: 30 * time.Second,
	}
}

func (g *GRPCDetector) Name() string { return g.opts.Name }

// Connect establishes the client connection. The health check runs in the
// background so a detector that comes up late does not block startup.
func (g *GRPCDetector) Connect() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.conn != nil {
		return nil
	}

	target, creds, err := parseGRPCEndpoint(g.opts.Endpoint)
	if err != nil {
		return fmt.Errorf("%w: %s endpoint %q: %v", models.ErrConfiguration, g.opts.Name, g.opts.Endpoint, err)
	}

	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, g.opts.DialOptions...)
	conn, err := grpc.NewClient(target, dialOpts...)
	if err != nil {
		return fmt.Errorf("failed to create client for %s: %w", target, err)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := healthCheck(ctx, conn); err != nil {
			log.Warn().Err(err).Str("detector", g.opts.Name).Str("endpoint", target).
				Msg("Initial detector health check failed - will retry on next frame")
			return
		}
		log.Info().Str("detector", g.opts.Name).Str("endpoint", target).Msg("Detector health check passed")
	}()

	g.conn = conn
	g.endpoint = target
	g.consecutiveFails = 0

	log.Info().
		Str("detector", g.opts.Name).
		Str("endpoint", target).
		Str("method", g.opts.Method).
		Msg("Detector gRPC connection initialized")
	return nil
}

// Detect sends one frame to the remote model
func (g *GRPCDetector) Detect(ctx context.Context, frame *models.RawFrame) ([]models.Detection, error) {
	conn, err := g.ensureConnected()
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", models.ErrDetectorFailure, g.opts.Name, err)
	}

	img, err := g.encoder.Encode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: encode frame: %v", models.ErrDetectorFailure, g.opts.Name, err)
	}

	req, err := structpb.NewStruct(map[string]interface{}{
		"image":    base64.StdEncoding.EncodeToString(img),
		"format":   "jpeg",
		"width":    frame.Width,
		"height":   frame.Height,
		"frame_id": frame.FrameID,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %s: build request: %v", models.ErrDetectorFailure, g.opts.Name, err)
	}

	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	resp := &structpb.Struct{}
	if err := conn.Invoke(ctx, g.opts.Method, req, resp); err != nil {
		g.recordFailure()
		return nil, fmt.Errorf("%w: %s: %v", models.ErrDetectorFailure, g.opts.Name, err)
	}
	g.resetFailures()

	raw, ok := resp.GetFields()["detections"]
	if !ok {
		return []models.Detection{}, nil
	}
	list := raw.GetListValue()
	if list == nil {
		if _, isNull := raw.GetKind().(*structpb.Value_NullValue); isNull {
			return []models.Detection{}, nil
		}
		return nil, fmt.Errorf("%w: %s: detections is not a list", models.ErrInvalidDetectionFormat, g.opts.Name)
	}
	return ParseDetections(list.AsSlice(), g.opts.Labels)
}

// HealthCheck runs the standard grpc health protocol against the endpoint
func (g *GRPCDetector) HealthCheck(ctx context.Context) error {
	conn, err := g.ensureConnected()
	if err != nil {
		return err
	}
	if err := healthCheck(ctx, conn); err != nil {
		g.recordFailure()
		return err
	}
	return nil
}

func healthCheck(ctx context.Context, conn *grpc.ClientConn) error {
	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{})
	if err != nil {
		return err
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("detector reports %s", resp.GetStatus())
	}
	return nil
}

// ensureConnected reconnects after transient failures, honouring an
// exponential backoff between attempts
func (g *GRPCDetector) ensureConnected() (*grpc.ClientConn, error) {
	g.mu.RLock()
	conn := g.conn
	g.mu.RUnlock()

	if conn != nil {
		state := conn.GetState()
		if state != connectivity.Shutdown {
			return conn, nil
		}
	}

	if !g.shouldRetry() {
		return nil, fmt.Errorf("in backoff period after consecutive failures")
	}

	g.mu.Lock()
	if g.conn != nil {
		g.conn.Close()
		g.conn = nil
	}
	g.mu.Unlock()

	if err := g.Connect(); err != nil {
		g.recordFailure()
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.conn, nil
}

// shouldRetry determines if we should attempt a connection based on exponential backoff
func (g *GRPCDetector) shouldRetry() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if g.consecutiveFails == 0 {
		return true
	}

	// Exponential backoff: 1s, 2s, 4s, 8s, 16s, 30s (max)
	backoff := time.Duration(1<<uint(min(g.consecutiveFails-1, 5))) * time.Second
	if backoff > g.maxRetryBackoff {
		backoff = g.maxRetryBackoff
	}
	return time.Since(g.lastFailTime) >= backoff
}

func (g *GRPCDetector) recordFailure() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.consecutiveFails++
	g.lastFailTime = time.Now()

	if g.consecutiveFails <= 5 {
		log.Warn().
			Str("detector", g.opts.Name).
			Int("consecutive_fails", g.consecutiveFails).
			Msg("Detector failure recorded")
	}
}

func (g *GRPCDetector) resetFailures() {
	g.mu.Lock()
	g.consecutiveFails = 0
	g.mu.Unlock()
}

// Close releases the client connection
func (g *GRPCDetector) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.conn == nil {
		return nil
	}
	err := g.conn.Close()
	g.conn = nil
	return err
}

// parseGRPCEndpoint normalises host:port or URL style endpoints and picks
// transport credentials. Resolver targets such as passthrough:/// or dns:///
// are passed through with insecure credentials.
func parseGRPCEndpoint(endpoint string) (string, credentials.TransportCredentials, error) {
	if endpoint == "" {
		return "", nil, fmt.Errorf("empty endpoint")
	}
	for _, scheme := range []string{"passthrough:", "dns:", "unix:"} {
		if strings.HasPrefix(endpoint, scheme) {
			return endpoint, insecure.NewCredentials(), nil
		}
	}

	// Add scheme if missing
	if !strings.Contains(endpoint, "://") {
		scheme := "http"
		if _, port, ok := strings.Cut(endpoint, ":"); ok {
			if p, err := strconv.Atoi(port); err == nil && (p == 443 || p == 8443 || p == 9443) {
				scheme = "https"
			}
		} else if strings.Contains(endpoint, ".") {
			scheme = "https"
		}
		endpoint = scheme + "://" + endpoint
	}

	u, err := url.Parse(endpoint)
	if err != nil {
		return "", nil, fmt.Errorf("invalid endpoint URL: %w", err)
	}

	host := u.Host
	if u.Port() == "" {
		switch u.Scheme {
		case "https":
			host = u.Hostname() + ":443"
		case "http":
			host = u.Hostname() + ":80"
		}
	}

	switch u.Scheme {
	case "https":
		return host, credentials.NewTLS(&tls.Config{ServerName: u.Hostname()}), nil
	case "http":
		return host, insecure.NewCredentials(), nil
	default:
		return "", nil, fmt.Errorf("unsupported scheme: %s", u.Scheme)
	}
}
