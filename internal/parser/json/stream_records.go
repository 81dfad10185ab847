// Package json streams ingest records out of arbitrary JSON payloads without
// buffering the whole document.
package json

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
)

// StreamRecords parses JSON from r and streams each record into out.
//
// Accepted shapes:
//   - A root array: each object element is one record.
//   - A root object containing an array-of-objects field: the first such
//     field's elements are the records and the remaining envelope fields are
//     skipped (envelope pattern).
//   - A root object with no array-of-objects field: one record.
//   - Trailing JSONL objects after the root value are also streamed.
//
// Non-object array elements are skipped via onSkip; they are noise, not
// errors.
func StreamRecords(
	ctx context.Context,
	r io.Reader,
	out chan<- map[string]any,
	onSkip func(index int, reason string),
) error {
	dec := json.NewDecoder(r)

	index := 0
	emit := func(obj map[string]any) error {
		index++
		select {
		case out <- obj:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	skip := func(reason string) {
		index++
		if onSkip != nil {
			onSkip(index, reason)
		}
	}

	tok, err := dec.Token()
	if err != nil {
		if err == io.EOF {
			return nil
		}
		return fmt.Errorf("json: read first token: %w", err)
	}

	d, ok := tok.(json.Delim)
	if !ok {
		return fmt.Errorf("json: unsupported root token %T (want object or array)", tok)
	}

	switch d {
	case '[':
		if err := streamArrayOfObjects(ctx, dec, emit, skip); err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read array end: %w", err)
		} else if end != json.Delim(']') {
			return fmt.Errorf("json: expected array end ']', got %v", end)
		}
		return streamTrailingObjects(ctx, dec, emit)

	case '{':
		streamed, single, err := streamEnvelopeOrSingle(ctx, dec, emit, skip)
		if err != nil {
			return err
		}
		if end, err := dec.Token(); err != nil {
			return fmt.Errorf("json: read object end: %w", err)
		} else if end != json.Delim('}') {
			return fmt.Errorf("json: expected object end '}', got %v", end)
		}
		if !streamed && single != nil {
			if err := emit(single); err != nil {
				return err
			}
		}
		return streamTrailingObjects(ctx, dec, emit)

	default:
		return fmt.Errorf("json: unsupported root delimiter %q", d)
	}
}

// CollectRecords drains StreamRecords into a slice. Convenient for callers
// that need the full record set anyway (profiling samples the head but every
// record is stored).
func CollectRecords(ctx context.Context, r io.Reader, onSkip func(index int, reason string)) ([]map[string]any, error) {
	out := make(chan map[string]any, 64)
	errCh := make(chan error, 1)

	go func() {
		errCh <- StreamRecords(ctx, r, out, onSkip)
		close(out)
	}()

	records := []map[string]any{}
	for rec := range out {
		records = append(records, rec)
	}
	return records, <-errCh
}

func streamTrailingObjects(ctx context.Context, dec *json.Decoder, emit func(map[string]any) error) error {
	for {
		var obj map[string]any
		if err := dec.Decode(&obj); err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("json: decode trailing object: %w", err)
		}
		if err := emit(obj); err != nil {
			return err
		}
	}
}

// streamArrayOfObjects streams elements of the current array (after '[' has
// been consumed). Non-object elements are skipped, not fatal.
func streamArrayOfObjects(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	skip func(reason string),
) error {
	for dec.More() {
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("json: decode array element: %w", err)
		}

		obj, ok := raw.(map[string]any)
		if !ok {
			skip(fmt.Sprintf("element is %T, not an object", raw))
			continue
		}
		if err := emit(obj); err != nil {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// streamEnvelopeOrSingle walks a root object (after '{' has been consumed).
//
// The first field holding an array of objects is streamed as the record list
// and the remaining fields are skipped without materializing them. Arrays of
// scalars are plain field values, so an object like {"id":1,"tags":["x"]} is
// a single record, not an empty envelope. If no array-of-objects field
// appears, the whole object is returned as a single record.
func streamEnvelopeOrSingle(
	ctx context.Context,
	dec *json.Decoder,
	emit func(map[string]any) error,
	skip func(reason string),
) (streamed bool, single map[string]any, _ error) {
	single = make(map[string]any)

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object key: %w", err)
		}
		key, ok := keyTok.(string)
		if !ok {
			return false, nil, fmt.Errorf("json: object key not a string (got %T)", keyTok)
		}

		valTok, err := dec.Token()
		if err != nil {
			return false, nil, fmt.Errorf("json: read object value token: %w", err)
		}

		if delim, ok := valTok.(json.Delim); ok && delim == '[' {
			if !dec.More() {
				if err := consumeArrayEnd(dec); err != nil {
					return false, nil, err
				}
				single[key] = []any{}
				continue
			}

			// Peek the first element to decide whether this array holds the
			// record list or is just a field value.
			var first any
			if err := dec.Decode(&first); err != nil {
				return false, nil, fmt.Errorf("json: decode array element: %w", err)
			}

			if obj, ok := first.(map[string]any); ok {
				if err := emit(obj); err != nil {
					return false, nil, err
				}
				if err := streamArrayOfObjects(ctx, dec, emit, skip); err != nil {
					return false, nil, err
				}
				if err := consumeArrayEnd(dec); err != nil {
					return false, nil, err
				}

				// Skip the rest of the envelope without materializing it.
				for dec.More() {
					if _, err := dec.Token(); err != nil {
						return true, nil, fmt.Errorf("json: skip envelope key: %w", err)
					}
					if err := skipNextValue(dec); err != nil {
						return true, nil, err
					}
				}
				return true, nil, nil
			}

			arr := []any{first}
			for dec.More() {
				var elem any
				if err := dec.Decode(&elem); err != nil {
					return false, nil, fmt.Errorf("json: decode array element: %w", err)
				}
				arr = append(arr, elem)
			}
			if err := consumeArrayEnd(dec); err != nil {
				return false, nil, err
			}
			single[key] = arr
			continue
		}

		val, err := materializeValueFromFirstToken(dec, valTok)
		if err != nil {
			return false, nil, err
		}
		single[key] = val
	}

	return false, single, nil
}

// consumeArrayEnd reads the closing ']' of the current array.
func consumeArrayEnd(dec *json.Decoder) error {
	end, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: read array end: %w", err)
	}
	if end != json.Delim(']') {
		return fmt.Errorf("json: expected ']', got %v", end)
	}
	return nil
}

// skipNextValue skips the next JSON value without materializing it.
func skipNextValue(dec *json.Decoder) error {
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("json: skip value token: %w", err)
	}
	return skipValueFromFirstToken(dec, tok)
}

func skipValueFromFirstToken(dec *json.Decoder, tok any) error {
	d, ok := tok.(json.Delim)
	if !ok {
		return nil
	}

	switch d {
	case '{':
		for dec.More() {
			if _, err := dec.Token(); err != nil {
				return fmt.Errorf("json: skip object key: %w", err)
			}
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip object end: %w", err)
		}
		if end != json.Delim('}') {
			return fmt.Errorf("json: expected '}', got %v", end)
		}
		return nil

	case '[':
		for dec.More() {
			if err := skipNextValue(dec); err != nil {
				return err
			}
		}
		end, err := dec.Token()
		if err != nil {
			return fmt.Errorf("json: skip array end: %w", err)
		}
		if end != json.Delim(']') {
			return fmt.Errorf("json: expected ']', got %v", end)
		}
		return nil

	default:
		return fmt.Errorf("json: unexpected delimiter %q", d)
	}
}

// materializeValueFromFirstToken builds a Go value for the current JSON
// value, given its first token has already been read. Only used for the
// single-record case, which is small by definition.
func materializeValueFromFirstToken(dec *json.Decoder, tok any) (any, error) {
	if d, ok := tok.(json.Delim); ok {
		switch d {
		case '{':
			m := make(map[string]any)
			for dec.More() {
				kt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested object key: %w", err)
				}
				k, ok := kt.(string)
				if !ok {
					return nil, fmt.Errorf("json: nested object key not string (got %T)", kt)
				}
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested object value token: %w", err)
				}
				v, err := materializeValueFromFirstToken(dec, vt)
				if err != nil {
					return nil, err
				}
				m[k] = v
			}
			end, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested object end: %w", err)
			}
			if end != json.Delim('}') {
				return nil, fmt.Errorf("json: expected '}', got %v", end)
			}
			return m, nil

		case '[':
			var arr []any
			for dec.More() {
				vt, err := dec.Token()
				if err != nil {
					return nil, fmt.Errorf("json: read nested array value token: %w", err)
				}
				v, err := materializeValueFromFirstToken(dec, vt)
				if err != nil {
					return nil, err
				}
				arr = append(arr, v)
			}
			end, err := dec.Token()
			if err != nil {
				return nil, fmt.Errorf("json: read nested array end: %w", err)
			}
			if end != json.Delim(']') {
				return nil, fmt.Errorf("json: expected ']', got %v", end)
			}
			return arr, nil

		default:
			return nil, fmt.Errorf("json: unexpected delimiter %q", d)
		}
	}

	return tok, nil
}
