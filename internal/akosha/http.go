package akosha

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// probeTimeout bounds the HTTP availability check.
const probeTimeout = time.Second

// HTTPMethod ships memories to a local MCP endpoint with a
// tools/call batch_store_memories request.
type HTTPMethod struct {
	cfg    Config
	client *http.Client
}

// NewHTTPMethod wires the HTTP transport.
func NewHTTPMethod(cfg Config) *HTTPMethod {
	return &HTTPMethod{
		cfg:    cfg,
		client: &http.Client{Timeout: 30 * time.Second},
	}
}

func (h *HTTPMethod) Name() string { return MethodHTTP }

// Available probes the endpoint; any HTTP response counts, only transport
// errors do not.
func (h *HTTPMethod) Available(ctx context.Context) bool {
	probeCtx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(probeCtx, http.MethodGet, h.cfg.HTTPURL, nil)
	if err != nil {
		return false
	}
	resp, err := h.client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return true
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	ID      int       `json:"id"`
	Method  string    `json:"method"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcResponse struct {
	Error *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// Sync posts the batch's memory records. Files are a cloud-only concern and
// are ignored here.
func (h *HTTPMethod) Sync(ctx context.Context, batch Batch) (*Result, error) {
	started := time.Now()
	result := &Result{Method: MethodHTTP}

	memories := make([]map[string]any, 0, len(batch.Memories))
	for _, m := range batch.Memories {
		record := map[string]any{"content": m.Content, "type": m.Type}
		if len(m.Metadata) > 0 {
			record["metadata"] = m.Metadata
		}
		memories = append(memories, record)
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      1,
		Method:  "tools/call",
		Params: rpcParams{
			Name:      "batch_store_memories",
			Arguments: map[string]any{"memories": memories, "source": h.cfg.SystemID},
		},
	})
	if err != nil {
		return h.fail(result, started, &HTTPSyncError{URL: h.cfg.HTTPURL, Err: err})
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.cfg.HTTPURL, bytes.NewReader(payload))
	if err != nil {
		return h.fail(result, started, &HTTPSyncError{URL: h.cfg.HTTPURL, Err: err})
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := h.client.Do(req)
	if err != nil {
		return h.fail(result, started, &HTTPSyncError{URL: h.cfg.HTTPURL, Err: err})
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return h.fail(result, started, &HTTPSyncError{
			URL:        h.cfg.HTTPURL,
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("unexpected response: %s", truncate(string(body), 200)),
		})
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(body, &rpcResp); err == nil && rpcResp.Error != nil {
		return h.fail(result, started, &HTTPSyncError{
			URL: h.cfg.HTTPURL,
			Err: fmt.Errorf("rpc error %d: %s", rpcResp.Error.Code, rpcResp.Error.Message),
		})
	}

	result.Success = true
	result.MemoriesStored = len(memories)
	result.BytesTransferred = int64(len(payload))
	result.DurationSeconds = time.Since(started).Seconds()
	log.Info().Int("memories", len(memories)).Str("url", h.cfg.HTTPURL).Msg("HTTP sync complete")
	return result, nil
}

func (h *HTTPMethod) fail(result *Result, started time.Time, err error) (*Result, error) {
	result.DurationSeconds = time.Since(started).Seconds()
	result.Error = err.Error()
	return result, err
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
