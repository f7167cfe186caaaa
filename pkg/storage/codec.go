package storage

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
	"github.com/vmihailenco/msgpack/v5"
)

// Codec serializes logical records into adapter values.
type Codec interface {
	Name() string
	Marshal(v interface{}) ([]byte, error)
	Unmarshal(data []byte, v interface{}) error
}

var (
	// JSON encodes records as JSON.
	JSON Codec = jsonCodec{api: jsoniter.ConfigCompatibleWithStandardLibrary}
	// Msgpack encodes records as MessagePack, which is more compact for large tables.
	Msgpack Codec = msgpackCodec{}
)

// CodecByName returns the codec with the given name.
func CodecByName(name string) (Codec, error) {
	switch name {
	case "", JSON.Name():
		return JSON, nil
	case Msgpack.Name():
		return Msgpack, nil
	default:
		return nil, fmt.Errorf("unknown codec %q", name)
	}
}

type jsonCodec struct {
	api jsoniter.API
}

func (jsonCodec) Name() string { return "json" }

func (c jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return c.api.Marshal(v)
}

func (c jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return c.api.Unmarshal(data, v)
}

type msgpackCodec struct{}

func (msgpackCodec) Name() string { return "msgpack" }

func (msgpackCodec) Marshal(v interface{}) ([]byte, error) {
	return msgpack.Marshal(v)
}

func (msgpackCodec) Unmarshal(data []byte, v interface{}) error {
	return msgpack.Unmarshal(data, v)
}
