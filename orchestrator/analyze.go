package orchestrator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/BaSui01/aigate/llm"
	"github.com/BaSui01/aigate/types"
)

// MaxImageBytes bounds the accepted image payload.
const MaxImageBytes = 10 << 20

// validateImageRequest checks req and fills in a sniffed MIME type.
func validateImageRequest(req *llm.ImageRequest) error {
	if req == nil {
		return types.NewInvalidRequestError("request is required")
	}
	if strings.TrimSpace(string(req.Feature)) == "" {
		return types.NewInvalidRequestError("feature is required")
	}
	if strings.TrimSpace(req.UserID) == "" {
		return types.NewInvalidRequestError("user_id is required")
	}
	if strings.TrimSpace(req.Prompt) == "" {
		return types.NewInvalidRequestError("prompt is required")
	}
	if len(req.Image) == 0 {
		return types.NewInvalidRequestError("image is required")
	}
	if len(req.Image) > MaxImageBytes {
		return types.NewInvalidRequestError(fmt.Sprintf("image exceeds %d bytes", MaxImageBytes))
	}
	if req.MIMEType == "" {
		req.MIMEType = http.DetectContentType(req.Image)
	}
	if !strings.HasPrefix(req.MIMEType, "image/") {
		return types.NewInvalidRequestError("unsupported image type " + req.MIMEType)
	}
	return nil
}

func imageHash(req *llm.ImageRequest) string {
	h := sha256.New()
	h.Write([]byte(req.Feature))
	h.Write([]byte{0})
	h.Write([]byte(req.Prompt))
	h.Write([]byte{0})
	h.Write(req.Image)
	return hex.EncodeToString(h.Sum(nil))
}

// AnalyzeImage routes an image request with the same primary and single
// fallback rule as Process. Image answers are neither cached nor batched.
func (o *Orchestrator) AnalyzeImage(ctx context.Context, req *llm.ImageRequest) (*llm.Response, error) {
	if err := validateImageRequest(req); err != nil {
		return nil, err
	}
	start := o.now()

	ctx, span := tracer.Start(ctx, "orchestrator.AnalyzeImage")
	defer span.End()
	span.SetAttributes(attribute.String("feature", string(req.Feature)), attribute.Int("image.bytes", len(req.Image)))

	rt := o.policy.Load().route(req.Feature, o.cfg.ProviderTimeout)
	feature := string(req.Feature)

	served, outcome := rt.primary, OutcomeSuccess
	resp, primaryErr := o.analyze(ctx, rt.primary, req, rt)
	if primaryErr != nil {
		o.logger.Warn("primary provider failed image analysis",
			zap.String("feature", feature),
			zap.String("provider", rt.primary),
			zap.Error(primaryErr))
		if rt.fallback == "" {
			return nil, o.imageFailed(span, req, rt, start, types.NewOrchestrationFailed(feature, primaryErr, nil))
		}
		o.deps.Recorder.RecordFallback(feature, rt.primary, rt.fallback)
		var fallbackErr error
		resp, fallbackErr = o.analyze(ctx, rt.fallback, req, rt)
		if fallbackErr != nil {
			return nil, o.imageFailed(span, req, rt, start, types.NewOrchestrationFailed(feature, primaryErr, fallbackErr))
		}
		served, outcome = rt.fallback, OutcomeFallbackSuccess
	}

	resp.ProviderName = served
	resp.Cached = false
	resp.LatencyMs = o.now().Sub(start).Milliseconds()
	o.deps.Recorder.RecordRequest(feature, served, outcome, o.now().Sub(start))

	stored := resp.Clone()
	fields := []zap.Field{zap.String("user_id", req.UserID), zap.String("feature", feature)}
	if o.deps.Tracker != nil {
		o.background(ctx, "track_cost", fields, func(ctx context.Context) error {
			o.deps.Tracker.Track(ctx, req.UserID, req.Feature, stored.Usage)
			return nil
		})
	}
	o.logInteraction(ctx, &llm.Request{UserID: req.UserID, Feature: req.Feature}, imageHash(req), stored, start)
	return resp, nil
}

func (o *Orchestrator) imageFailed(span trace.Span, req *llm.ImageRequest, rt route, start time.Time, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, "image analysis failed")
	o.deps.Recorder.RecordRequest(string(req.Feature), rt.primary, OutcomeFailed, o.now().Sub(start))
	return err
}

func (o *Orchestrator) analyze(ctx context.Context, name string, req *llm.ImageRequest, rt route) (*llm.Response, error) {
	analyzer, err := o.deps.Registry.ResolveImageAnalyzer(name)
	if err != nil {
		return nil, err
	}

	cctx, cancel := context.WithTimeout(ctx, rt.timeout)
	defer cancel()
	resp, err := analyzer.AnalyzeImage(cctx, req)
	switch {
	case err != nil && errors.Is(cctx.Err(), context.DeadlineExceeded) && !isTyped(err):
		err = types.NewUpstreamTimeout(name, err)
	case err == nil && resp == nil:
		err = types.NewProviderInvalidResponse(name, "empty response")
	}
	if err != nil {
		return nil, err
	}
	return resp.Clone(), nil
}
