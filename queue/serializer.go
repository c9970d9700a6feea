package queue

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/nyxcrawl/scrapyengine/request"
)

// Serializer turns a Request into bytes for a backend that only stores
// byte payloads (Redis, disk, AMQP) and back. Callback/Errback are
// carried as string names, resolved against the owning spider's
// registered callback table on Pop — the serializer only needs to
// round-trip the string.
type Serializer interface {
	Marshal(r *request.Request) ([]byte, error)
	Unmarshal(data []byte) (*request.Request, error)
}

// JSONSerializer is the default: human-inspectable, works everywhere
// encoding/json does.
type JSONSerializer struct{}

func (JSONSerializer) Marshal(r *request.Request) ([]byte, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("queue: json marshal: %w", err)
	}
	return data, nil
}

func (JSONSerializer) Unmarshal(data []byte) (*request.Request, error) {
	var r request.Request
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("queue: json unmarshal: %w", err)
	}
	return &r, nil
}

// MsgpackSerializer is the compact binary form, used when queue
// throughput or Redis memory footprint matters more than
// human-readability.
type MsgpackSerializer struct{}

func (MsgpackSerializer) Marshal(r *request.Request) ([]byte, error) {
	data, err := msgpack.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("queue: msgpack marshal: %w", err)
	}
	return data, nil
}

func (MsgpackSerializer) Unmarshal(data []byte) (*request.Request, error) {
	var r request.Request
	if err := msgpack.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("queue: msgpack unmarshal: %w", err)
	}
	return &r, nil
}

// NewSerializer resolves the SCHEDULER_SERIALIZER setting ("json" or
// "msgpack") to a concrete Serializer.
func NewSerializer(name string) (Serializer, error) {
	switch name {
	case "", "json":
		return JSONSerializer{}, nil
	case "msgpack":
		return MsgpackSerializer{}, nil
	default:
		return nil, fmt.Errorf("queue: unknown SCHEDULER_SERIALIZER %q", name)
	}
}
