package router

import (
	"context"
	"encoding/json"
	"io"
	"strings"

	"github.com/solarhq/solar/internal/protocol"
)

// RunOnce reads a single JSON request from in, routes it, and writes the
// one-line JSON envelope to out. The return value is the process exit code:
// 0 on success, 1 on any failure. The envelope, not the exit code, is the
// authoritative outcome.
func RunOnce(ctx context.Context, r *Router, in io.Reader, out io.Writer) int {
	raw, err := io.ReadAll(in)
	if err != nil {
		return emit(out, protocol.Failure("unknown", protocol.ErrMissingInput, "failed to read stdin: "+err.Error()))
	}
	payload := strings.TrimSpace(string(raw))
	if payload == "" {
		return emit(out, protocol.Failure("unknown", protocol.ErrMissingInput, "missing stdin payload"))
	}

	var req protocol.RouterRequest
	if err := json.Unmarshal([]byte(payload), &req); err != nil {
		return emit(out, protocol.Failure("unknown", protocol.ErrInvalidJSON, "invalid JSON input: "+err.Error()))
	}

	return emit(out, r.Handle(ctx, req))
}

func emit(out io.Writer, resp protocol.RouterResponse) int {
	enc := json.NewEncoder(out)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(resp)
	if resp.Status != "success" {
		return 1
	}
	return 0
}
