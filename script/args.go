package script

import (
	"encoding/json"
	"errors"
	"io"
)

// DecodeArgs reads a JSON object of execution args. Numbers are kept as
// json.Number so FromInterface converts them to exact decimals. An empty
// input or null yields empty args.
func DecodeArgs(r io.Reader) (map[string]any, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()
	var args map[string]any
	if err := dec.Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		return nil, err
	}
	if args == nil {
		args = map[string]any{}
	}
	return args, nil
}
