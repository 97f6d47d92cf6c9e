package viewer

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"

	"github.com/makeasinger/panelcast/internal/model"
	"github.com/makeasinger/panelcast/pkg/response"
)

const submitTimeout = 30 * time.Second

// Submit posts a story request and returns the accepted job.
func Submit(server, token string, req model.StoryRequest) (*model.StoryAcceptedResponse, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal story request: %w", err)
	}

	httpReq := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(httpReq)
	httpResp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(httpResp)

	httpReq.SetRequestURI(strings.TrimRight(server, "/") + "/api/stories")
	httpReq.Header.SetMethod(fasthttp.MethodPost)
	httpReq.Header.SetContentType("application/json")
	if token != "" {
		httpReq.Header.Set(fasthttp.HeaderAuthorization, "Bearer "+token)
	}
	httpReq.SetBody(body)

	if err := fasthttp.DoTimeout(httpReq, httpResp, submitTimeout); err != nil {
		return nil, fmt.Errorf("submit story: %w", err)
	}

	if httpResp.StatusCode() != fasthttp.StatusAccepted {
		var e response.ErrorResponse
		if err := json.Unmarshal(httpResp.Body(), &e); err == nil && e.Error.Code != "" {
			return nil, fmt.Errorf("submit story: %d %s: %s", httpResp.StatusCode(), e.Error.Code, e.Error.Message)
		}
		return nil, fmt.Errorf("submit story: unexpected status %d", httpResp.StatusCode())
	}

	var accepted model.StoryAcceptedResponse
	if err := json.Unmarshal(httpResp.Body(), &accepted); err != nil {
		return nil, fmt.Errorf("decode accepted response: %w", err)
	}
	return &accepted, nil
}
