package ingest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"monitoring/internal/domain"
	"monitoring/internal/permanent"
)

// decodeSingleResult decodes one result and rejects trailing JSON tokens.
// Params: json decoder for a single result object.
// Returns: validated result or decode error.
func decodeSingleResult(decoder *json.Decoder) (domain.Result, error) {
	var result domain.Result
	if err := decoder.Decode(&result); err != nil {
		return domain.Result{}, fmt.Errorf("decode result: %w", err)
	}
	if err := result.Validate(); err != nil {
		return domain.Result{}, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return domain.Result{}, err
	}
	return result, nil
}

// decodeBatchResults decodes one batch and rejects trailing JSON tokens.
// Params: json decoder for a single array payload.
// Returns: validated results or decode error.
func decodeBatchResults(decoder *json.Decoder) ([]domain.Result, error) {
	results, err := domain.DecodeResultsReader(decoder)
	if err != nil {
		return nil, err
	}
	if err := ensureJSONEOF(decoder); err != nil {
		return nil, err
	}
	return results, nil
}

// decodeResultPayload auto-detects batch vs single payload.
// Params: raw JSON bytes with one object or array.
// Returns: validated results; decode failures are tagged permanent.
func decodeResultPayload(raw []byte) ([]domain.Result, error) {
	payload := bytes.TrimSpace(raw)
	if len(payload) == 0 {
		return nil, permanent.Mark("decode", errors.New("empty payload"))
	}
	decoder := json.NewDecoder(bytes.NewReader(payload))
	if payload[0] == '[' {
		results, err := decodeBatchResults(decoder)
		if err != nil {
			return nil, permanent.Mark("decode", err)
		}
		return results, nil
	}
	result, err := decodeSingleResult(decoder)
	if err != nil {
		return nil, permanent.Mark("decode", err)
	}
	return []domain.Result{result}, nil
}

// decodeKeepalive decodes one client keepalive.
// Params: raw JSON bytes.
// Returns: client; decode failures are tagged permanent.
func decodeKeepalive(raw []byte) (domain.Client, error) {
	client, err := domain.DecodeClient(bytes.TrimSpace(raw))
	if err != nil {
		return nil, permanent.Mark("decode", err)
	}
	return client, nil
}

// ensureJSONEOF rejects trailing tokens after a decoded JSON payload.
// Params: decoder positioned after primary decode.
// Returns: nil on EOF or error on trailing tokens.
func ensureJSONEOF(decoder *json.Decoder) error {
	var extra json.RawMessage
	err := decoder.Decode(&extra)
	if err == io.EOF {
		return nil
	}
	if err != nil {
		return fmt.Errorf("decode trailing json: %w", err)
	}
	return errors.New("unexpected trailing json tokens")
}

// processResults feeds results to processor in order.
// Params: context, processor, and decoded results.
// Returns: first processing error.
func processResults(ctx context.Context, processor Processor, results []domain.Result) error {
	for _, result := range results {
		if err := processor.ProcessResult(ctx, result); err != nil {
			return err
		}
	}
	return nil
}
