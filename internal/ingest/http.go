package ingest

import (
	"io"
	"net/http"

	"monitoring/internal/permanent"
)

// HTTPHandler decodes JSON results and forwards them to the processor.
// Params: processor receives validated results, max body limits payload size.
// Returns: HTTP handler for result injection endpoint.
type HTTPHandler struct {
	processor   Processor
	maxBodySize int64
}

// NewHTTPHandler creates result injection handler.
// Params: processor and max request body size in bytes.
// Returns: configured handler.
func NewHTTPHandler(processor Processor, maxBodySize int64) *HTTPHandler {
	return &HTTPHandler{processor: processor, maxBodySize: maxBodySize}
}

// ServeHTTP handles one result or result batch.
// Params: HTTP request/response writer pair.
// Returns: writes status code according to decode/process result.
func (h *HTTPHandler) ServeHTTP(writer http.ResponseWriter, request *http.Request) {
	if request.Method != http.MethodPost {
		writer.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	request.Body = http.MaxBytesReader(writer, request.Body, h.maxBodySize)
	defer request.Body.Close()
	body, err := io.ReadAll(request.Body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	results, err := decodeResultPayload(body)
	if err != nil {
		writer.WriteHeader(http.StatusBadRequest)
		return
	}

	if err := processResults(request.Context(), h.processor, results); err != nil {
		if permanent.Is(err) {
			writer.WriteHeader(http.StatusUnprocessableEntity)
			return
		}
		writer.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	writer.WriteHeader(http.StatusAccepted)
}
