package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/brojonat/orand/service/config"
	"github.com/itchyny/gojq"
	"github.com/urfave/cli/v2"
)

// output writes v as JSON when --json or --jq is set and calls pretty
// otherwise.
func output(c *cli.Context, v interface{}, pretty func(w io.Writer)) error {
	if filter := c.String("jq"); filter != "" {
		return outputJQ(c.App.Writer, filter, v)
	}
	if c.Bool("json") {
		return outputJSON(c.App.Writer, v)
	}
	pretty(c.App.Writer)
	return nil
}

func outputJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// outputJQ runs filter over the JSON form of v and prints every result.
func outputJQ(w io.Writer, filter string, v interface{}) error {
	code, err := compileJQ(filter)
	if err != nil {
		return err
	}
	input, err := toJQInput(v)
	if err != nil {
		return err
	}

	iter := code.Run(input)
	for {
		result, ok := iter.Next()
		if !ok {
			return nil
		}
		if err, isErr := result.(error); isErr {
			return fmt.Errorf("jq filter %q: %w", filter, err)
		}
		if s, isStr := result.(string); isStr {
			fmt.Fprintln(w, s)
			continue
		}
		if err := outputJSON(w, result); err != nil {
			return err
		}
	}
}

func compileJQ(filter string) (*gojq.Code, error) {
	query, err := gojq.Parse(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to parse jq filter %q: %w", filter, err)
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, fmt.Errorf("failed to compile jq filter %q: %w", filter, err)
	}
	return code, nil
}

// toJQInput converts v to the generic maps and slices gojq operates on.
func toJQInput(v interface{}) (interface{}, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal output: %w", err)
	}
	var out interface{}
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to unmarshal output: %w", err)
	}
	return out, nil
}

// matchesJQ reports whether filter's first result over v is truthy.
func matchesJQ(code *gojq.Code, v interface{}) bool {
	input, err := toJQInput(v)
	if err != nil {
		return false
	}
	result, ok := code.Run(input).Next()
	if !ok {
		return false
	}
	if _, isErr := result.(error); isErr {
		return false
	}
	return isTruthy(result)
}

// isTruthy checks if a jq result value is truthy.
func isTruthy(v interface{}) bool {
	if v == nil {
		return false
	}
	if b, ok := v.(bool); ok {
		return b
	}
	// Everything else (numbers, strings, objects, arrays) is truthy
	return true
}

func newLogger(c *cli.Context) *slog.Logger {
	return slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: config.ParseLogLevel(c.String("log-level")),
	}))
}

func optional(s *string) string {
	if s != nil && *s != "" {
		return *s
	}
	return "-"
}
