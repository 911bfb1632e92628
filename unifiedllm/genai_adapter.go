package unifiedllm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/google/uuid"
	"google.golang.org/genai"
)

// GenAIAdapter implements ProviderAdapter on the Gemini API with native
// function calling.
type GenAIAdapter struct {
	models      genaiModels
	model       string
	temperature float64
	maxTokens   int32
}

// genaiModels is the subset of *genai.Models the adapter calls.
type genaiModels interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GenAIAdapterOption configures a GenAIAdapter.
type GenAIAdapterOption func(*GenAIAdapter)

// WithGenAIModel sets the default Gemini model. Empty keeps the catalog default.
func WithGenAIModel(model string) GenAIAdapterOption {
	return func(a *GenAIAdapter) {
		if model != "" {
			a.model = ResolveModel(model)
		}
	}
}

// WithGenAITemperature sets the default sampling temperature.
func WithGenAITemperature(t float64) GenAIAdapterOption {
	return func(a *GenAIAdapter) {
		a.temperature = t
	}
}

// NewGenAIAdapter creates a Gemini adapter authenticated with apiKey.
func NewGenAIAdapter(ctx context.Context, apiKey string, opts ...GenAIAdapterOption) (*GenAIAdapter, error) {
	if apiKey == "" {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "no API key configured for provider gemini"}}
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, &ConfigurationError{SDKError: SDKError{Message: "creating gemini client", Cause: err}}
	}
	return newGenAIAdapter(client.Models, opts...), nil
}

func newGenAIAdapter(models genaiModels, opts ...GenAIAdapterOption) *GenAIAdapter {
	a := &GenAIAdapter{
		models:      models,
		model:       DefaultModel("gemini"),
		temperature: 0.1,
		maxTokens:   8192,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Name returns the provider identifier.
func (a *GenAIAdapter) Name() string {
	return "gemini"
}

// Complete sends the conversation to Gemini and maps the reply back.
func (a *GenAIAdapter) Complete(ctx context.Context, req Request) (*Response, error) {
	model := a.model
	if req.Model != "" {
		model = ResolveModel(req.Model)
	}

	contents, system := toGenAIContents(req.Messages)
	cfg := a.buildConfig(req, system)

	res, err := a.models.GenerateContent(ctx, model, contents, cfg)
	if err != nil {
		return nil, translateGenAIError(err)
	}
	return fromGenAIResponse(res, model)
}

func (a *GenAIAdapter) buildConfig(req Request, system string) *genai.GenerateContentConfig {
	temp := float32(a.temperature)
	if req.Temperature != nil {
		temp = float32(*req.Temperature)
	}
	maxTokens := a.maxTokens
	if req.MaxTokens != nil {
		maxTokens = int32(*req.MaxTokens)
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:     &temp,
		MaxOutputTokens: maxTokens,
	}
	if system != "" {
		cfg.SystemInstruction = genai.NewContentFromText(system, genai.RoleUser)
	}
	if len(req.ToolDefs) > 0 {
		decls := make([]*genai.FunctionDeclaration, 0, len(req.ToolDefs))
		for _, def := range req.ToolDefs {
			decls = append(decls, &genai.FunctionDeclaration{
				Name:        def.Name,
				Description: def.Description,
				Parameters:  schemaFromJSON(def.Parameters),
			})
		}
		cfg.Tools = []*genai.Tool{{FunctionDeclarations: decls}}

		mode := genai.FunctionCallingConfigModeAuto
		if req.ToolChoice != nil {
			switch req.ToolChoice.Mode {
			case "none":
				mode = genai.FunctionCallingConfigModeNone
			case "required":
				mode = genai.FunctionCallingConfigModeAny
			}
		}
		cfg.ToolConfig = &genai.ToolConfig{
			FunctionCallingConfig: &genai.FunctionCallingConfig{Mode: mode},
		}
	}
	return cfg
}

// toGenAIContents converts unified messages to Gemini contents. System text
// is returned separately. Consecutive messages mapping to the same Gemini
// role are merged because the API expects alternating turns.
func toGenAIContents(messages []Message) ([]*genai.Content, string) {
	var system []string
	var contents []*genai.Content

	appendParts := func(role genai.Role, parts []*genai.Part) {
		if len(parts) == 0 {
			return
		}
		if n := len(contents); n > 0 && contents[n-1].Role == string(role) {
			contents[n-1].Parts = append(contents[n-1].Parts, parts...)
			return
		}
		contents = append(contents, genai.NewContentFromParts(parts, role))
	}

	for _, msg := range messages {
		switch msg.Role {
		case RoleSystem:
			system = append(system, msg.TextContent())
		case RoleUser:
			appendParts(genai.RoleUser, []*genai.Part{genai.NewPartFromText(msg.TextContent())})
		case RoleAssistant:
			var parts []*genai.Part
			if text := msg.TextContent(); text != "" {
				parts = append(parts, genai.NewPartFromText(text))
			}
			for _, call := range msg.ToolCalls() {
				args := map[string]any{}
				if len(call.Arguments) > 0 {
					_ = json.Unmarshal(call.Arguments, &args)
				}
				parts = append(parts, &genai.Part{FunctionCall: &genai.FunctionCall{
					ID:   call.ID,
					Name: call.Name,
					Args: args,
				}})
			}
			appendParts(genai.RoleModel, parts)
		case RoleTool:
			var parts []*genai.Part
			for _, part := range msg.Content {
				if part.Kind != ContentToolResult || part.ToolResult == nil {
					continue
				}
				key := "output"
				if part.ToolResult.IsError {
					key = "error"
				}
				parts = append(parts, &genai.Part{FunctionResponse: &genai.FunctionResponse{
					ID:       part.ToolResult.ToolCallID,
					Name:     part.ToolResult.Name,
					Response: map[string]any{key: part.ToolResult.Content},
				}})
			}
			appendParts(genai.RoleUser, parts)
		}
	}
	return contents, strings.Join(system, "\n")
}

func fromGenAIResponse(res *genai.GenerateContentResponse, model string) (*Response, error) {
	if res == nil || len(res.Candidates) == 0 || res.Candidates[0] == nil {
		return nil, &ProviderError{
			SDKError: SDKError{Message: "gemini returned no candidates"},
			Provider: "gemini",
		}
	}
	cand := res.Candidates[0]

	var text strings.Builder
	var calls []ContentPart
	if cand.Content != nil {
		for _, part := range cand.Content.Parts {
			if part == nil {
				continue
			}
			if part.Thought {
				continue
			}
			if part.FunctionCall != nil {
				args, err := json.Marshal(part.FunctionCall.Args)
				if err != nil {
					return nil, &InvalidToolCallError{SDKError: SDKError{Message: "encoding function call arguments", Cause: err}}
				}
				id := part.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.New().String()[:8]
				}
				calls = append(calls, ToolCallPart(id, part.FunctionCall.Name, args))
				continue
			}
			text.WriteString(part.Text)
		}
	}

	var content []ContentPart
	if text.Len() > 0 {
		content = append(content, TextPart(text.String()))
	}
	content = append(content, calls...)

	finish := FinishReason{Reason: "stop", Raw: string(cand.FinishReason)}
	switch {
	case len(calls) > 0:
		finish.Reason = "tool_calls"
	case cand.FinishReason == genai.FinishReasonMaxTokens:
		finish.Reason = "length"
	case cand.FinishReason == genai.FinishReasonSafety:
		finish.Reason = "content_filter"
	}

	resp := &Response{
		ID:           res.ResponseID,
		Model:        model,
		Provider:     "gemini",
		Message:      Message{Role: RoleAssistant, Content: content},
		FinishReason: finish,
	}
	if resp.ID == "" {
		resp.ID = "resp_" + uuid.New().String()[:8]
	}
	if u := res.UsageMetadata; u != nil {
		resp.Usage = Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
			TotalTokens:  int(u.TotalTokenCount),
		}
	}
	return resp, nil
}

// schemaFromJSON converts a JSON Schema map into a genai.Schema. Only the
// subset used by tool parameters is supported.
func schemaFromJSON(m map[string]interface{}) *genai.Schema {
	if m == nil {
		return nil
	}
	s := &genai.Schema{}
	if t, ok := m["type"].(string); ok {
		s.Type = genai.Type(strings.ToUpper(t))
	}
	if d, ok := m["description"].(string); ok {
		s.Description = d
	}
	if props, ok := m["properties"].(map[string]interface{}); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := raw.(map[string]interface{}); ok {
				s.Properties[name] = schemaFromJSON(sub)
			}
		}
	}
	if items, ok := m["items"].(map[string]interface{}); ok {
		s.Items = schemaFromJSON(items)
	}
	switch req := m["required"].(type) {
	case []string:
		s.Required = req
	case []interface{}:
		for _, r := range req {
			if name, ok := r.(string); ok {
				s.Required = append(s.Required, name)
			}
		}
	}
	return s
}

// translateGenAIError maps Gemini API errors into the unified hierarchy.
func translateGenAIError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return &AbortError{SDKError: SDKError{Message: "gemini request cancelled", Cause: err}}
	}

	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		apiErr = *apiErrPtr
	default:
		var netErr net.Error
		if errors.As(err, &netErr) {
			return &NetworkError{SDKError: SDKError{Message: "gemini transport error", Cause: err}}
		}
		return &ProviderError{
			SDKError:  SDKError{Message: err.Error(), Cause: err},
			Provider:  "gemini",
			Retryable: true,
		}
	}

	msg := apiErr.Message
	if msg == "" {
		msg = fmt.Sprintf("gemini API error %d", apiErr.Code)
	}
	translated := ErrorFromStatusCode(apiErr.Code, msg, "gemini", apiErr.Status, nil)
	// API keys rejected by Gemini come back as 400 INVALID_ARGUMENT.
	if apiErr.Code == 400 && strings.Contains(strings.ToLower(msg), "api key") {
		translated = &AuthenticationError{ProviderError: ProviderError{
			SDKError: SDKError{Message: msg}, Provider: "gemini", StatusCode: 400, ErrorCode: apiErr.Status,
		}}
	}
	return translated
}
