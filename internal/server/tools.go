package server

import (
	"encoding/json"
	"net/http"

	"github.com/openquill/dmforge/pkg/provider/llm"
)

// toolParameter mirrors tool.Parameter with JSON tags for the API.
type toolParameter struct {
	Name        string `json:"name"`
	Type        string `json:"type"`
	Description string `json:"description"`
	Required    bool   `json:"required"`
}

type toolDefinition struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  []toolParameter `json:"parameters,omitempty"`
}

// handleListTools exposes the registry contents, mostly for the browser's
// debug panel and for curl-driven inspection.
func (s *Server) handleListTools(w http.ResponseWriter, r *http.Request) {
	all := s.registry.All()
	defs := make([]toolDefinition, 0, len(all))
	for _, t := range all {
		d := toolDefinition{
			Name:        t.Definition.Name,
			Description: t.Definition.Description,
		}
		for _, p := range t.Definition.Parameters {
			d.Parameters = append(d.Parameters, toolParameter{
				Name:        p.Name,
				Type:        p.Type,
				Description: p.Description,
				Required:    p.Required,
			})
		}
		defs = append(defs, d)
	}
	writeJSON(w, http.StatusOK, defs)
}

type executeToolRequest struct {
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

type executeToolResponse struct {
	Tool   string `json:"tool"`
	Output string `json:"output,omitempty"`
	Error  string `json:"error,omitempty"`
}

// handleExecuteTool runs a single tool directly, bypassing the LLM. Tool
// failures come back as 200 with an error field so the debug panel can show
// them alongside successes.
func (s *Server) handleExecuteTool(w http.ResponseWriter, r *http.Request) {
	var req executeToolRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Tool == "" {
		writeError(w, http.StatusBadRequest, "tool must not be empty")
		return
	}

	args := "{}"
	if len(req.Args) > 0 {
		args = string(req.Args)
	}

	resp := executeToolResponse{Tool: req.Tool}
	out, err := s.registry.Execute(r.Context(), req.Tool, args)
	if err != nil {
		resp.Error = err.Error()
	} else {
		resp.Output = out
	}
	writeJSON(w, http.StatusOK, resp)
}

type decideRequest struct {
	Message   string `json:"message"`
	Narration string `json:"narration"`
}

// handleDecide runs the reference-tool dispatch step in isolation so prompt
// changes can be exercised without burning a whole turn.
func (s *Server) handleDecide(w http.ResponseWriter, r *http.Request) {
	var req decideRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}
	if req.Message == "" {
		writeError(w, http.StatusBadRequest, "message must not be empty")
		return
	}

	decision, err := s.executor.Decide(r.Context(), req.Message, req.Narration)
	if err != nil {
		writeError(w, http.StatusBadGateway, "decide: %v", err)
		return
	}
	if decision == nil {
		writeJSON(w, http.StatusOK, map[string]any{"tool": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tool": decision.Tool,
		"args": decision.Args,
	})
}

type extractRequest struct {
	Messages []struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"messages"`
}

// handleExtract runs the state-change extractor over a caller-supplied
// conversation window.
func (s *Server) handleExtract(w http.ResponseWriter, r *http.Request) {
	var req extractRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "%v", err)
		return
	}

	messages := make([]llm.Message, 0, len(req.Messages))
	for _, m := range req.Messages {
		messages = append(messages, llm.Message{Role: m.Role, Content: m.Content})
	}

	calls, err := s.extractor.Extract(r.Context(), messages)
	if err != nil {
		writeError(w, http.StatusBadGateway, "extract: %v", err)
		return
	}

	type call struct {
		Tool   string          `json:"tool"`
		Params json.RawMessage `json:"params"`
	}
	out := make([]call, 0, len(calls))
	for _, c := range calls {
		out = append(out, call{Tool: c.Tool, Params: c.Params})
	}
	writeJSON(w, http.StatusOK, map[string]any{"toolCalls": out})
}
