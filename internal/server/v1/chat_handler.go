package v1

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/modelrelay/relay/internal/gateway"
	"github.com/modelrelay/relay/internal/server/middleware"
	"github.com/modelrelay/relay/internal/server/validator"
	"github.com/modelrelay/relay/pkg/api"
)

type ChatHandler struct {
	service *gateway.Service
}

func NewChatHandler(service *gateway.Service) *ChatHandler {
	return &ChatHandler{service: service}
}

func (h *ChatHandler) CreateCompletion(c *gin.Context) {
	var req api.ChatRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		// returns RFC compliant error
		_ = c.Error(api.ValidationError(validator.ParseValidationError(err)))
		return
	}

	accountID := middleware.AccountID(c)

	// if we want to stream the response, roll down into streaming
	if req.Stream {
		h.handleStream(c, accountID, &req)
		return
	}

	resp, problem := h.service.Chat(c.Request.Context(), accountID, &req)
	if problem != nil {
		_ = c.Error(problem)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (h *ChatHandler) handleStream(c *gin.Context, accountID string, req *api.ChatRequest) {
	events, problem := h.service.StreamChat(c.Request.Context(), accountID, req)
	if problem != nil {
		// pre-flight failures are still RFC problems, not stream events
		c.JSON(problem.Status, problem)
		return
	}

	// set headers for sse
	c.Writer.Header().Set("Content-Type", "text/event-stream")
	c.Writer.Header().Set("Cache-Control", "no-cache")
	c.Writer.Header().Set("Connection", "keep-alive")
	c.Writer.Header().Set("Transfer-Encoding", "chunked")
	c.Writer.Header().Set("X-Accel-Buffering", "no")

	c.Writer.WriteHeader(http.StatusOK)
	c.Writer.Flush()

	// consume the channel and flush to http
	c.Stream(func(w io.Writer) bool {
		event, ok := <-events
		if !ok {
			// channel is closed
			_, _ = io.WriteString(w, "data: [DONE]\n\n")
			return false
		}

		if event.Err != nil {
			payload := map[string]string{"error": event.Err.Error()}
			data, _ := json.Marshal(payload)
			_, _ = fmt.Fprintf(w, "event: error\ndata: %s\n\n", data)
			// if there's an error we will stop streaming
			return false
		}

		if event.Heartbeat {
			_, err := io.WriteString(w, ": keep-alive\n\n")
			return err == nil
		}

		data, err := json.Marshal(event)
		if err != nil {
			return true
		}
		_, err = fmt.Fprintf(w, "data: %s\n\n", data)
		return err == nil
	})
}
