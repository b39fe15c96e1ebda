package headless

import (
	"context"

	"github.com/ytakeda/staffwatch/internal/staffing"
)

// Noop is a stand-in fetcher that returns a canned body. Used in tests and
// when running the API without a browser installed.
type Noop struct {
	Body       []byte
	StatusCode int
}

// Fetch returns the configured body without touching the network.
func (n *Noop) Fetch(_ context.Context, request staffing.FetchRequest) (staffing.FetchResponse, error) {
	status := n.StatusCode
	if status == 0 {
		status = 200
	}
	return staffing.FetchResponse{
		URL:          request.URL,
		StatusCode:   status,
		Body:         n.Body,
		UsedHeadless: true,
	}, nil
}
