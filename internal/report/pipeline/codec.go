package pipeline

import (
	"errors"

	"github.com/dejavuplus/engine/internal/report/upstream"
)

var errBadEncoding = errors.New("undecodable raw payload entry")

// Raw cache entries are a single kind byte followed by the payload content.
// The cache stores flat byte slices; this keeps the shape information without
// a serialization dependency for what is a three-case tag.
func encodePayload(p *upstream.Payload) []byte {
	var content []byte
	switch p.Kind {
	case upstream.KindDocument:
		content = p.Document
	case upstream.KindMarkup:
		content = []byte(p.Markup)
	case upstream.KindURL:
		content = []byte(p.URL)
	}

	encoded := make([]byte, 0, len(content)+1)
	encoded = append(encoded, byte(p.Kind))
	return append(encoded, content...)
}

func decodePayload(encoded []byte) (*upstream.Payload, error) {
	if len(encoded) < 2 {
		return nil, errBadEncoding
	}

	kind := upstream.PayloadKind(encoded[0])
	content := encoded[1:]

	switch kind {
	case upstream.KindDocument:
		return &upstream.Payload{Kind: kind, Document: content}, nil
	case upstream.KindMarkup:
		return &upstream.Payload{Kind: kind, Markup: string(content)}, nil
	case upstream.KindURL:
		return &upstream.Payload{Kind: kind, URL: string(content)}, nil
	default:
		return nil, errBadEncoding
	}
}
