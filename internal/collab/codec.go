package collab

import (
	"bytes"
	"compress/gzip"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"

	syncerrors "github.com/alexjbarnes/deck-sync/internal/errors"
	"github.com/tidwall/gjson"
)

const (
	// maxDecompressedBytes caps gzip expansion of a pull response so a
	// malicious or corrupt payload cannot consume unbounded memory.
	maxDecompressedBytes = 256 * 1024 * 1024
)

// requestEntry is the per-subscription state sent to the server on a
// pull. The server uses the timestamp to decide which updates to send
// and the tag/field maps to shape the change set.
type requestEntry struct {
	DeckID          int64               `json:"deckId"`
	Timestamp       string              `json:"timestamp"`
	OptionalTags    map[string]bool     `json:"optional_tags"`
	ProtectedFields map[string][]string `json:"protected_fields,omitempty"`
}

// EncodeRequest encodes subscription state as a pull request payload.
// With a focusHash, the payload contains only that subscription (used
// when refreshing a single, typically just-added, deck); otherwise all
// known subscriptions are included.
func EncodeRequest(subs map[string]Subscription, focusHash string) ([]byte, error) {
	payload := make(map[string]requestEntry, len(subs))

	if focusHash != "" {
		sub, ok := subs[focusHash]
		if !ok {
			return nil, fmt.Errorf("%w: %s", syncerrors.ErrUnknownSubscription, focusHash)
		}

		payload[focusHash] = toEntry(sub)
	} else {
		for hash, sub := range subs {
			payload[hash] = toEntry(sub)
		}
	}

	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshalling pull request: %w", err)
	}

	return data, nil
}

func toEntry(sub Subscription) requestEntry {
	tags := sub.OptionalTags
	if tags == nil {
		tags = map[string]bool{}
	}

	return requestEntry{
		DeckID:          sub.DeckID,
		Timestamp:       sub.Timestamp,
		OptionalTags:    tags,
		ProtectedFields: sub.ProtectedFields,
	}
}

// DecodeResponse decodes a pull response body through the strict
// base64 -> gzip -> JSON-array pipeline. Any stage failing yields a
// DecodeError and the whole pull is abandoned; no partial batch is ever
// surfaced. An empty update list decodes to an empty non-nil slice,
// which is a valid "already up to date" result, distinct from an error.
func DecodeResponse(body []byte) ([]UpdateDescriptor, error) {
	compressed, err := base64.StdEncoding.DecodeString(string(bytes.TrimSpace(body)))
	if err != nil {
		return nil, &syncerrors.DecodeError{Stage: "base64", Err: err}
	}

	zr, err := gzip.NewReader(bytes.NewReader(compressed))
	if err != nil {
		return nil, &syncerrors.DecodeError{Stage: "gzip", Err: err}
	}
	defer zr.Close()

	data, err := io.ReadAll(io.LimitReader(zr, maxDecompressedBytes+1))
	if err != nil {
		return nil, &syncerrors.DecodeError{Stage: "gzip", Err: err}
	}

	if len(data) > maxDecompressedBytes {
		return nil, &syncerrors.DecodeError{Stage: "gzip", Err: fmt.Errorf("decompressed payload exceeds %d bytes", maxDecompressedBytes)}
	}

	if !gjson.ValidBytes(data) {
		return nil, &syncerrors.DecodeError{Stage: "parse", Err: fmt.Errorf("payload is not valid JSON")}
	}

	parsed := gjson.ParseBytes(data)
	if !parsed.IsArray() {
		return nil, &syncerrors.DecodeError{Stage: "parse", Err: fmt.Errorf("payload is not a JSON array")}
	}

	var descriptors []UpdateDescriptor
	if err := json.Unmarshal(data, &descriptors); err != nil {
		return nil, &syncerrors.DecodeError{Stage: "parse", Err: err}
	}

	for i := range descriptors {
		if err := validateDescriptor(&descriptors[i]); err != nil {
			return nil, &syncerrors.DecodeError{Stage: "schema", Err: fmt.Errorf("descriptor %d: %w", i, err)}
		}
	}

	if descriptors == nil {
		descriptors = []UpdateDescriptor{}
	}

	return descriptors, nil
}

// validateDescriptor enforces the descriptor schema and parses the deck
// subtree into its tagged form.
func validateDescriptor(d *UpdateDescriptor) error {
	if d.DeckHash == "" {
		return fmt.Errorf("missing deck_hash")
	}

	if len(d.RawDeck) == 0 {
		return fmt.Errorf("missing deck for %s", d.DeckHash)
	}

	deck, err := parseDeck(d.RawDeck)
	if err != nil {
		return fmt.Errorf("deck for %s: %w", d.DeckHash, err)
	}

	d.Deck = deck

	if d.OptionalTags == nil {
		d.OptionalTags = map[string]bool{}
	}

	return nil
}
