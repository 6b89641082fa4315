package tools

import "fmt"

// StringArg returns a required string argument.
func StringArg(args map[string]any, name string) (string, error) {
	v, ok := args[name]
	if !ok {
		return "", fmt.Errorf("%w: %w: %s", ErrInvalidArguments, ErrMissingRequiredArg, name)
	}
	s, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("%w: %w: %s must be a string, got %T", ErrInvalidArguments, ErrInvalidArgType, name, v)
	}
	return s, nil
}

// OptionalStringArg returns a string argument or def when absent.
func OptionalStringArg(args map[string]any, name, def string) (string, error) {
	if _, ok := args[name]; !ok {
		return def, nil
	}
	return StringArg(args, name)
}

// StringSliceArg returns a required array-of-strings argument.
func StringSliceArg(args map[string]any, name string) ([]string, error) {
	v, ok := args[name]
	if !ok {
		return nil, fmt.Errorf("%w: %w: %s", ErrInvalidArguments, ErrMissingRequiredArg, name)
	}
	switch list := v.(type) {
	case []string:
		return list, nil
	case []any:
		out := make([]string, 0, len(list))
		for i, item := range list {
			s, ok := item.(string)
			if !ok {
				return nil, fmt.Errorf("%w: %w: %s[%d] must be a string, got %T", ErrInvalidArguments, ErrInvalidArgType, name, i, item)
			}
			out = append(out, s)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %w: %s must be an array, got %T", ErrInvalidArguments, ErrInvalidArgType, name, v)
	}
}
