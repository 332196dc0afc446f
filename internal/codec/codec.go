// Package codec is the wire format shared by the transports: JSON bodies plus a small set of headers.
package codec

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"

	"github.com/tidwall/gjson"

	cbus "github.com/next-trace/scg-autorespond/contract/bus"
	berr "github.com/next-trace/scg-autorespond/contract/errors"
)

// Header names carried by every request and reply.
const (
	HeaderCorrelationID = "correlation-id"
	HeaderReplyTo       = "reply-to"
	HeaderRequestType   = "x-request-type"
	HeaderFaulted       = "x-faulted"
	HeaderError         = "x-error-message"

	ContentType = "application/json"
)

// Encode marshals v to JSON.
func Encode(v any) ([]byte, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, errors.Join(berr.ErrSerializationFailed, err)
	}

	return b, nil
}

// Decode unmarshals body into a new value of type t.
func Decode(body []byte, t reflect.Type) (any, error) {
	if t == nil {
		return nil, fmt.Errorf("decode: nil type: %w", berr.ErrSerializationFailed)
	}

	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("decode %s: invalid JSON: %w", t.String(), berr.ErrSerializationFailed)
	}

	v := reflect.New(t)
	if err := json.Unmarshal(body, v.Interface()); err != nil {
		return nil, errors.Join(berr.ErrSerializationFailed, err)
	}

	return v.Elem().Interface(), nil
}

// DecodeAs unmarshals body into a T.
func DecodeAs[T any](body []byte) (T, error) {
	var zero T

	v, err := Decode(body, reflect.TypeFor[T]())
	if err != nil {
		return zero, err
	}

	return v.(T), nil //nolint:forcetypeassert // Decode builds a T
}

// Fault returns the reply body and headers describing err.
func Fault(err error) ([]byte, map[string]string) {
	msg := err.Error()
	body, _ := json.Marshal(map[string]string{"error": msg})

	return body, map[string]string{HeaderFaulted: "true", HeaderError: msg}
}

// CheckFault returns an error wrapping ErrRemoteFault when the reply headers mark a fault.
func CheckFault(headers map[string]string, body []byte) error {
	if headers[HeaderFaulted] != "true" {
		return nil
	}

	msg := headers[HeaderError]
	if msg == "" && gjson.ValidBytes(body) {
		msg = gjson.GetBytes(body, "error").String()
	}

	return fmt.Errorf("%s: %w", msg, berr.ErrRemoteFault)
}

// Reply decodes body as the endpoint's request, runs its handler and encodes the result.
// Failures at any step are turned into a faulted reply; Reply itself never fails.
func Reply(ctx context.Context, ep cbus.Endpoint, body []byte) ([]byte, map[string]string) {
	req, err := Decode(body, ep.RequestType)
	if err != nil {
		return Fault(err)
	}

	res, err := ep.Handle(ctx, req)
	if err != nil {
		return Fault(err)
	}

	out, err := Encode(res)
	if err != nil {
		return Fault(err)
	}

	return out, map[string]string{}
}
