// Package translate converts provider-native results and streams into the
// canonical response object and canonical SSE event sequence.
package translate

import (
	"github.com/google/uuid"

	"github.com/nulpointcorp/provider-gateway/internal/canonical"
	"github.com/nulpointcorp/provider-gateway/internal/providers"
)

// charsPerToken is the approximate character-to-token ratio used when a
// backend reports no usage counts. The estimate is deliberately rough.
const charsPerToken = 4

// imageTokenSurcharge is the fixed per-image-block input cost added by the
// estimator.
const imageTokenSurcharge = 1568

// StopReason maps a provider finish reason onto the canonical stop reasons.
// Canonical reasons pass through unchanged so native-bearer results survive
// translation; unrecognised values map to end_turn.
func StopReason(finish string) string {
	switch finish {
	case canonical.StopEndTurn, canonical.StopMaxTokens, canonical.StopStopSequence:
		return finish
	case "stop":
		return canonical.StopEndTurn
	case "length":
		return canonical.StopMaxTokens
	case "content_filter", "function_call", "tool_calls", "tool_use":
		return canonical.StopStopSequence
	default:
		return canonical.StopEndTurn
	}
}

// EstimateTokens approximates the token count of text (≈1 token per 4
// characters). Approximate, not exact.
func EstimateTokens(text string) int {
	if text == "" {
		return 0
	}
	n := len(text) / charsPerToken
	if n == 0 {
		n = 1
	}
	return n
}

// EstimateInputTokens approximates the input cost of a canonical request:
// text length across system and messages plus a fixed surcharge per image
// block.
func EstimateInputTokens(req *canonical.Request) int {
	var chars, images int
	if req.System != nil {
		chars += len(req.System.Text())
		images += req.System.ImageBlocks()
	}
	for _, m := range req.Messages {
		chars += len(m.Content.Text())
		images += m.Content.ImageBlocks()
	}
	n := chars / charsPerToken
	if n == 0 && chars > 0 {
		n = 1
	}
	return n + images*imageTokenSurcharge
}

// ToCanonical converts a complete provider result into a canonical
// response. Provider-reported usage counts are used when present; absent
// counts are estimated from text length.
func ToCanonical(res *providers.Result, req *canonical.Request) *canonical.Response {
	id := res.ID
	if id == "" {
		id = "msg_" + uuid.NewString()
	}
	model := res.Model
	if model == "" {
		model = req.Model
	}

	out := canonical.NewResponse(id, model)
	out.Content = []canonical.TextBlock{{Type: "text", Text: res.Text}}
	out.StopReason = StopReason(res.FinishReason)
	out.StopSequence = res.StopSequence

	out.Usage = canonical.Usage{
		InputTokens:  res.Usage.InputTokens,
		OutputTokens: res.Usage.OutputTokens,
	}
	if out.Usage.InputTokens == 0 {
		out.Usage.InputTokens = EstimateInputTokens(req)
	}
	if out.Usage.OutputTokens == 0 {
		out.Usage.OutputTokens = EstimateTokens(res.Text)
	}

	return out
}
