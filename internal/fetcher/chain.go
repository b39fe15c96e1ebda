// Package fetcher composes the probe and headless fetchers.
package fetcher

import (
	"context"

	"go.uber.org/zap"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Chain tries the cheap probe fetch first and promotes to a headless
// session when the detector finds no extractable markup in the static body.
// With no probe configured every fetch goes straight to headless.
type Chain struct {
	probe    staffing.Fetcher
	headless staffing.Fetcher
	detector staffing.PromotionDetector
	logger   *zap.Logger
}

// NewChain builds a Chain. probe and detector may be nil.
func NewChain(probe, headless staffing.Fetcher, detector staffing.PromotionDetector, logger *zap.Logger) *Chain {
	return &Chain{
		probe:    probe,
		headless: headless,
		detector: detector,
		logger:   logger,
	}
}

// Fetch implements staffing.Fetcher.
func (c *Chain) Fetch(ctx context.Context, request staffing.FetchRequest) (staffing.FetchResponse, error) {
	if request.UseHeadless || c.probe == nil || c.detector == nil {
		return c.headless.Fetch(ctx, request)
	}

	resp, err := c.probe.Fetch(ctx, request)
	if err != nil {
		// A dead host fails the same way for a browser; only fall through
		// to headless when the probe produced a page we cannot use.
		return staffing.FetchResponse{}, err
	}
	if !c.detector.ShouldPromote(resp) {
		return resp, nil
	}

	c.logger.Debug("promoting fetch to headless", zap.String("url", request.URL))
	headlessResp, err := c.headless.Fetch(ctx, request)
	if err != nil {
		return staffing.FetchResponse{}, err
	}
	return headlessResp, nil
}
