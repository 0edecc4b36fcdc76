package handlers

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/generative-ai-go/genai"
)

// ChatbotHandler proxies conversational messages to the Gemini
// generative-text service. It performs a stateless request/response
// translation; no conversation history is kept server-side.
type ChatbotHandler struct {
	client    *genai.Client
	modelName string
}

// NewChatbotHandler constructs a handler around a Gemini client. A nil
// client leaves the endpoint responding with a configuration error.
func NewChatbotHandler(client *genai.Client, modelName string) *ChatbotHandler {
	return &ChatbotHandler{client: client, modelName: modelName}
}

type ChatbotRequest struct {
	Message  string `json:"message"`
	Language string `json:"language"`
}

type ChatbotResponse struct {
	Reply    string `json:"reply"`
	Language string `json:"language"`
}

// Usage answers GET requests with a usage hint.
func (h *ChatbotHandler) Usage(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Message: "Chatbot endpoint working. Send POST with 'message'."})
}

// Post forwards the message to the generative-text service and returns
// its reply.
func (h *ChatbotHandler) Post(w http.ResponseWriter, r *http.Request) {
	if h.client == nil {
		writeError(w, http.StatusServiceUnavailable, "Chatbot is not configured")
		return
	}

	var req ChatbotRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request")
		return
	}
	if strings.TrimSpace(req.Message) == "" {
		writeError(w, http.StatusBadRequest, "Message is required")
		return
	}

	model := h.client.GenerativeModel(h.modelName)
	resp, err := model.GenerateContent(r.Context(), genai.Text(req.Message))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to generate reply")
		return
	}

	language := req.Language
	if language == "" {
		language = "en"
	}
	writeJSON(w, http.StatusOK, ChatbotResponse{
		Reply:    extractReply(resp),
		Language: language,
	})
}

func extractReply(resp *genai.GenerateContentResponse) string {
	var b strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				b.WriteString(string(text))
			}
		}
		break
	}
	return b.String()
}
